package provisioner

import (
	"strings"

	"github.com/flovouin/metabase-provisioner/internal/schemasync"
	"github.com/flovouin/metabase-provisioner/internal/warehouse"
)

// The placeholder replaced by the country code in LDAP group DNs.
const CountryPlaceholder = "{country}"

// A statistics viewer account.
type User struct {
	Email     string `koanf:"email" validate:"required,email"`
	Password  string `koanf:"password" validate:"required"`
	FirstName string `koanf:"firstname"`
	LastName  string `koanf:"lastname"`
}

// The settings of the LDAP directory users log in with.
// LDAP is only configured if the host is set.
type Ldap struct {
	Host               string `koanf:"host"`
	Port               string `koanf:"port"`
	BindDn             string `koanf:"binddn"`
	Password           string `koanf:"password"`
	UserBase           string `koanf:"userbase" validate:"required_with=Host"`
	UserFilter         string `koanf:"userfilter"`
	AttributeFirstname string `koanf:"attributefirstname"`
	GroupBase          string `koanf:"groupbase"`
	CountryGroupDn     string `koanf:"countrygroupdn"` // The DN of the directory group of a country, mapped to the country group.
	AdminGroupDn       string `koanf:"admingroupdn"`   // The DN of the directory group mapped to the global group.
}

// Returns whether LDAP should be configured.
func (l Ldap) Enabled() bool {
	return len(l.Host) > 0
}

// Returns the DN of the directory group of a country.
func (l Ldap) CountryDn(country string) string {
	return strings.ReplaceAll(l.CountryGroupDn, CountryPlaceholder, country)
}

// What the provisioner sets up.
type Config struct {
	Countries   []string          `koanf:"countries" validate:"dive,alpha,len=2"`
	Global      bool              `koanf:"global"`      // Whether global statistics are set up, instead of statistics per country.
	GlobalGroup string            `koanf:"globalgroup" validate:"required"`
	Sectors     []string          `koanf:"sectors" validate:"dive,required"` // The sectors with dedicated dashboards, in global mode.
	Seeds       []string          `koanf:"seeds" validate:"dive,required"`   // The names of dashboards copied to each country.
	Baseline    string            `koanf:"baseline"`                         // The database seed dashboards query. Defaults to the first provisioned database.
	Warehouse   warehouse.Config  `koanf:"warehouse"`
	Sync        schemasync.Config `koanf:"sync"`
	Ldap        Ldap              `koanf:"ldap"`
	Users       []User            `koanf:"users" validate:"dive"`
}

// Returns the default configuration, which sets up no country.
func DefaultConfig() Config {
	return Config{
		GlobalGroup: "global",
		Warehouse:   warehouse.DefaultConfig(),
		Sync:        schemasync.DefaultConfig(),
		Ldap: Ldap{
			Port:               "389",
			AttributeFirstname: "givenName",
			GroupBase:          "ou=OiRA_CMS,ou=Sites,dc=osha,dc=europa,dc=eu",
			CountryGroupDn:     "cn=" + CountryPlaceholder + ",ou=Countries,ou=OiRA_CMS,ou=Sites,dc=osha,dc=europa,dc=eu",
			AdminGroupDn:       "cn=ADMIN,ou=OiRA_CMS,ou=Sites,dc=osha,dc=europa,dc=eu",
		},
	}
}

// Returns the country codes in lowercase, without blanks and duplicates.
func (c Config) CountryCodes() []string {
	codes := make([]string, 0, len(c.Countries))
	seen := make(map[string]bool, len(c.Countries))
	for _, country := range c.Countries {
		code := strings.ToLower(strings.TrimSpace(country))
		if len(code) == 0 || seen[code] {
			continue
		}

		seen[code] = true
		codes = append(codes, code)
	}
	return codes
}

// Returns the name of the database seed dashboards query.
func (c Config) BaselineName() string {
	if len(c.Baseline) > 0 {
		return c.Baseline
	}

	codes := c.CountryCodes()
	if c.Global || len(codes) == 0 {
		return c.Warehouse.Name("")
	}
	return c.Warehouse.Name(codes[0])
}
