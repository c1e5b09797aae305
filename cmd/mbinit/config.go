package main

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/knadh/koanf"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/spf13/pflag"

	"github.com/flovouin/metabase-provisioner/internal/provisioner"
)

// The prefix for all environment variables to consider when loading the configuration.
const environmentVariablesPrefix = "MBINIT_"

// The default location of the configuration file.
const defaultConfigFilePath = "mbinit.yml"

// Returned when a `--statistics-user` value cannot be parsed.
var errInvalidStatisticsUser = errors.New("a statistics user should be an email address, a password, a first and a last name, separated by whitespace")

// The configuration used to call the Metabase API.
type metabaseConfig struct {
	Scheme   string `koanf:"scheme" validate:"oneof=http https"`
	Host     string `koanf:"host" validate:"required"`                      // The host the Metabase instance is running on.
	Port     int    `koanf:"port" validate:"min=1,max=65535"`               // The port the Metabase instance is listening on.
	User     string `koanf:"user" validate:"required_without=ApiKey"`       // The username (email address) to use to log in.
	Password string `koanf:"password" validate:"required_with=User"`        // The password to use to log in.
	ApiKey   string `koanf:"apikey" validate:"excluded_with=User Password"` // An API key, used instead of the username and password.
}

// Returns the URL of the Metabase instance.
func (c metabaseConfig) Endpoint() string {
	return fmt.Sprintf("%s://%s:%d", c.Scheme, c.Host, c.Port)
}

// The configuration of the command itself.
type commandConfig struct {
	Metabase metabaseConfig `koanf:"metabase"` // The configuration used to call the Metabase API.
	LogLevel string         `koanf:"loglevel" validate:"oneof=debug info warn error DEBUG INFO WARN ERROR"`
}

// The entire configuration when initializing a Metabase instance.
type initializerConfig struct {
	Command     commandConfig
	Provisioner provisioner.Config
}

// The configuration keys set by command line flags.
var flagKeys = map[string]string{
	"metabase-scheme":             "metabase.scheme",
	"metabase-host":               "metabase.host",
	"metabase-port":               "metabase.port",
	"metabase-user":               "metabase.user",
	"metabase-password":           "metabase.password",
	"metabase-api-key":            "metabase.apikey",
	"log-level":                   "loglevel",
	"database-host":               "warehouse.host",
	"database-port":               "warehouse.port",
	"database-user":               "warehouse.user",
	"database-password":           "warehouse.password",
	"database-pattern-statistics": "warehouse.pattern",
	"database-sslmode":            "warehouse.sslmode",
	"database-preflight":          "warehouse.preflight",
	"countries":                   "countries",
	"global-statistics":           "global",
	"global-group":                "globalgroup",
	"sectors":                     "sectors",
	"seed-dashboards":             "seeds",
	"baseline-database":           "baseline",
	"sync-strategy":               "sync.strategy",
	"sync-interval":               "sync.interval",
	"sync-timeout":                "sync.timeout",
	"ldap-host":                   "ldap.host",
	"ldap-port":                   "ldap.port",
	"ldap-bind-dn":                "ldap.binddn",
	"ldap-password":               "ldap.password",
	"ldap-user-base":              "ldap.userbase",
	"ldap-user-filter":            "ldap.userfilter",
	"ldap-attribute-firstname":    "ldap.attributefirstname",
	"ldap-group-base":             "ldap.groupbase",
	"ldap-country-group-dn":       "ldap.countrygroupdn",
	"ldap-admin-group-dn":         "ldap.admingroupdn",
	"statistics-user":             "users",
}

// Declares the flags of the command. Only flags explicitly passed override the configuration file and the
// environment.
func addFlags(flags *pflag.FlagSet) {
	flags.String("config", defaultConfigFilePath, "Path to the configuration file")

	flags.String("metabase-scheme", "http", "Scheme of the Metabase URL")
	flags.String("metabase-host", "localhost", "Host that the metabase instance is running on")
	flags.Int("metabase-port", 3000, "Port that the metabase instance is running on")
	flags.String("metabase-user", "", "User name for connecting to the metabase instance")
	flags.String("metabase-password", "", "Password for connecting to the metabase instance")
	flags.String("metabase-api-key", "", "API key for connecting to the metabase instance, instead of a user name and password")
	flags.String("log-level", "info", "Minimum level of the logs (debug, info, warn, error)")

	flags.String("database-host", "localhost", "Host that the postgresql server is running on")
	flags.Int("database-port", 5432, "Port that the postgresql server is running on")
	flags.String("database-user", "", "User name for connecting to the postgresql server")
	flags.String("database-password", "", "Password for connecting to the postgresql server")
	flags.String("database-pattern-statistics", "statistics_"+provisioner.CountryPlaceholder, "Pattern for constructing the name of the postgresql statistics databases. "+provisioner.CountryPlaceholder+" is replaced by the two-letter country code")
	flags.String("database-sslmode", "disable", "SSL mode used to connect to the postgresql server")
	flags.Bool("database-preflight", false, "Check that the statistics databases accept connections before adding them to metabase")

	flags.StringSlice("countries", nil, "Comma separated list of country codes for which database, collection, dashboards and cards will be set up")
	flags.Bool("global-statistics", false, "Set up the global statistics instead of statistics per country")
	flags.String("global-group", "global", "Name of the group with access to all statistics")
	flags.StringSlice("sectors", nil, "Comma separated list of sectors with dedicated dashboards, in global mode")
	flags.StringArray("seed-dashboards", nil, "Name of a dashboard copied to each country. Can be repeated")
	flags.String("baseline-database", "", "Name of the postgresql database queried by the seed dashboards")

	flags.String("sync-strategy", "poll", "How to wait for database synchronisations (poll, delay)")
	flags.Duration("sync-interval", 0, "Time between two polls of the metabase logs")
	flags.Duration("sync-timeout", 0, "Maximum time to wait for a database synchronisation (0 waits indefinitely)")

	flags.String("ldap-host", "", "LDAP host name or IP-address")
	flags.String("ldap-port", "", "LDAP port")
	flags.String("ldap-bind-dn", "", "LDAP bind DN")
	flags.String("ldap-password", "", "LDAP password")
	flags.String("ldap-user-base", "", "LDAP user base DN")
	flags.String("ldap-user-filter", "", "LDAP user filter")
	flags.String("ldap-attribute-firstname", "", "LDAP attribute to use as first name")
	flags.String("ldap-group-base", "", "LDAP group base DN")
	flags.String("ldap-country-group-dn", "", "DN of the LDAP group of a country. "+provisioner.CountryPlaceholder+" is replaced by the country code")
	flags.String("ldap-admin-group-dn", "", "DN of the LDAP group with access to all statistics")

	flags.StringArray("statistics-user", nil, "Email address, password, first and last name, separated by whitespace, for a non-superuser account to create for viewing the statistics. Can be repeated")
}

// Parses a `--statistics-user` value.
func parseStatisticsUser(value string) (map[string]any, error) {
	parts := strings.Fields(value)
	if len(parts) != 4 {
		return nil, fmt.Errorf("%w: '%s'", errInvalidStatisticsUser, value)
	}

	return map[string]any{
		"email":     parts[0],
		"password":  parts[1],
		"firstname": parts[2],
		"lastname":  parts[3],
	}, nil
}

// Returns the configuration values of the flags that were explicitly passed.
func flagValues(flags *pflag.FlagSet) (map[string]any, error) {
	values := make(map[string]any)

	var err error
	flags.Visit(func(f *pflag.Flag) {
		key, ok := flagKeys[f.Name]
		if !ok || err != nil {
			return
		}

		switch f.Name {
		case "statistics-user":
			users, _ := flags.GetStringArray(f.Name)
			parsed := make([]map[string]any, 0, len(users))
			for _, u := range users {
				user, parseErr := parseStatisticsUser(u)
				if parseErr != nil {
					err = parseErr
					return
				}
				parsed = append(parsed, user)
			}
			values[key] = parsed
			return
		}

		switch f.Value.Type() {
		case "stringSlice":
			values[key], _ = flags.GetStringSlice(f.Name)
		case "stringArray":
			values[key], _ = flags.GetStringArray(f.Name)
		default:
			values[key] = f.Value.String()
		}
	})

	return values, err
}

// Loads the `initializerConfig` from the defaults, the config file, the environment and the command line flags, in
// increasing order of precedence.
func loadConfig(flags *pflag.FlagSet) (*initializerConfig, error) {
	var k = koanf.New(".")

	err := k.Load(structs.Provider(provisioner.DefaultConfig(), "koanf"), nil)
	if err != nil {
		return nil, err
	}

	err = k.Load(structs.Provider(commandConfig{
		Metabase: metabaseConfig{
			Scheme: "http",
			Host:   "localhost",
			Port:   3000,
		},
		LogLevel: "info",
	}, "koanf"), nil)
	if err != nil {
		return nil, err
	}

	configFilePath, err := flags.GetString("config")
	if err != nil {
		return nil, err
	}

	err = k.Load(file.Provider(configFilePath), yaml.Parser())
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, err
	}

	err = k.Load(env.Provider(environmentVariablesPrefix, ".", func(s string) string {
		return strings.Replace(strings.ToLower(
			strings.TrimPrefix(s, environmentVariablesPrefix)), "_", ".", -1)
	}), nil)
	if err != nil {
		return nil, err
	}

	values, err := flagValues(flags)
	if err != nil {
		return nil, err
	}

	err = k.Load(confmap.Provider(values, "."), nil)
	if err != nil {
		return nil, err
	}

	var conf initializerConfig
	err = k.Unmarshal("", &conf.Command)
	if err != nil {
		return nil, err
	}

	err = k.Unmarshal("", &conf.Provisioner)
	if err != nil {
		return nil, err
	}

	validate := validator.New(validator.WithRequiredStructEnabled())
	if err := validate.Struct(conf.Command); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	if err := validate.Struct(conf.Provisioner); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &conf, nil
}
