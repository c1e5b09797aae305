// Package warehouse describes the PostgreSQL databases containing the statistics, and how Metabase connects to them.
package warehouse

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	_ "github.com/lib/pq"

	"github.com/flovouin/metabase-provisioner/metabase"
)

// The placeholder replaced by the country code in the database name pattern.
const CountryPlaceholder = "{country}"

// The name of the database containing the statistics of all countries.
const GlobalDatabaseName = "statistics_global"

// The Metabase engine used to connect to statistics databases.
const Engine = "postgres"

// The connection settings shared by all statistics databases.
type Config struct {
	Host           string        `koanf:"host" validate:"required"`
	Port           int           `koanf:"port" validate:"min=1,max=65535"`
	User           string        `koanf:"user" validate:"required"`
	Password       string        `koanf:"password"`
	Pattern        string        `koanf:"pattern" validate:"required,contains={country}"`
	SSLMode        string        `koanf:"sslmode" validate:"omitempty,oneof=disable allow prefer require verify-ca verify-full"`
	Preflight      bool          `koanf:"preflight"`
	ConnectTimeout time.Duration `koanf:"connecttimeout"`
}

// Returns the default connection settings.
func DefaultConfig() Config {
	return Config{
		Host:           "localhost",
		Port:           5432,
		Pattern:        "statistics_" + CountryPlaceholder,
		SSLMode:        "disable",
		ConnectTimeout: 5 * time.Second,
	}
}

// Returns the name of the statistics database of a country, or of the global database if the country is empty.
func (c Config) Name(country string) string {
	if len(country) == 0 {
		return GlobalDatabaseName
	}
	return strings.ReplaceAll(c.Pattern, CountryPlaceholder, strings.ToLower(country))
}

// Returns the details Metabase uses to connect to a statistics database.
func (c Config) Details(name string) metabase.DatabaseDetails {
	return metabase.DatabaseDetails{
		DbName:   name,
		Host:     c.Host,
		Port:     c.Port,
		User:     c.User,
		Password: c.Password,
	}
}

// Returns the attributes of the Metabase database connecting to a statistics database, excluding its name.
func (c Config) Attributes(name string) map[string]any {
	return map[string]any{
		"engine":  Engine,
		"details": c.Details(name),
	}
}

// Quotes a value in a connection string.
func quoteDSNValue(v string) string {
	v = strings.ReplaceAll(v, `\`, `\\`)
	v = strings.ReplaceAll(v, `'`, `\'`)
	return "'" + v + "'"
}

// Returns the connection string for a statistics database.
func (c Config) DSN(name string) string {
	parts := []string{
		"host=" + quoteDSNValue(c.Host),
		fmt.Sprintf("port=%d", c.Port),
		"dbname=" + quoteDSNValue(name),
		"user=" + quoteDSNValue(c.User),
		"password=" + quoteDSNValue(c.Password),
	}

	if len(c.SSLMode) > 0 {
		parts = append(parts, "sslmode="+c.SSLMode)
	}

	if c.ConnectTimeout > 0 {
		parts = append(parts, fmt.Sprintf("connect_timeout=%d", max(1, int(c.ConnectTimeout.Seconds()))))
	}

	return strings.Join(parts, " ")
}

// Checks that a statistics database accepts connections.
func (c Config) ping(ctx context.Context, name string) error {
	db, err := sql.Open("postgres", c.DSN(name))
	if err != nil {
		return fmt.Errorf("failed to open database '%s': %w", name, err)
	}
	defer db.Close()

	if c.ConnectTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.ConnectTimeout)
		defer cancel()
	}

	if err := db.PingContext(ctx); err != nil {
		return fmt.Errorf("failed to connect to database '%s': %w", name, err)
	}

	return nil
}

// Checks that all the given statistics databases accept connections, before they are added to Metabase.
// All databases are checked, and the errors are returned together.
func (c Config) Ping(ctx context.Context, names ...string) error {
	var errs []error
	for _, name := range names {
		if err := c.ping(ctx, name); err != nil {
			errs = append(errs, err)
			continue
		}

		slog.DebugContext(ctx, "Statistics database is reachable", slog.String("database", name))
	}

	return errors.Join(errs...)
}
