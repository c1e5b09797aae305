package main

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flovouin/metabase-provisioner/internal/provisioner"
	"github.com/flovouin/metabase-provisioner/internal/schemasync"
)

const testConfigFile = `
metabase:
  user: admin@example.com
  password: from-file
countries: [de, fr]
warehouse:
  user: metabase
  connecttimeout: 10s
sync:
  strategy: delay
ldap:
  host: ldap.example.com
  userbase: ou=Users
`

func writeConfigFile(t *testing.T, content string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "mbinit.yml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func parseFlags(t *testing.T, args ...string) *initializerConfig {
	t.Helper()

	cmd := newRootCommand()
	require.NoError(t, cmd.ParseFlags(args))

	config, err := loadConfig(cmd.Flags())
	require.NoError(t, err)
	return config
}

func TestLoadConfigFromFile(t *testing.T) {
	path := writeConfigFile(t, testConfigFile)

	config := parseFlags(t, "--config", path)

	assert.Equal(t, "http://localhost:3000", config.Command.Metabase.Endpoint())
	assert.Equal(t, "admin@example.com", config.Command.Metabase.User)
	assert.Equal(t, "info", config.Command.LogLevel)

	assert.Equal(t, []string{"de", "fr"}, config.Provisioner.Countries)
	assert.Equal(t, "metabase", config.Provisioner.Warehouse.User)
	assert.Equal(t, 5432, config.Provisioner.Warehouse.Port)
	assert.Equal(t, "statistics_{country}", config.Provisioner.Warehouse.Pattern)
	assert.Equal(t, 10*time.Second, config.Provisioner.Warehouse.ConnectTimeout)
	assert.Equal(t, schemasync.Delay, config.Provisioner.Sync.Strategy)
	assert.Equal(t, time.Second, config.Provisioner.Sync.Interval)
	assert.Equal(t, "global", config.Provisioner.GlobalGroup)
	assert.True(t, config.Provisioner.Ldap.Enabled())
	assert.Equal(t, "givenName", config.Provisioner.Ldap.AttributeFirstname)
}

func TestEnvironmentOverridesFile(t *testing.T) {
	path := writeConfigFile(t, testConfigFile)
	t.Setenv("MBINIT_METABASE_PASSWORD", "from-env")
	t.Setenv("MBINIT_GLOBAL", "true")

	config := parseFlags(t, "--config", path)

	assert.Equal(t, "from-env", config.Command.Metabase.Password)
	assert.True(t, config.Provisioner.Global)
}

func TestFlagsOverrideEnvironment(t *testing.T) {
	path := writeConfigFile(t, testConfigFile)
	t.Setenv("MBINIT_METABASE_PASSWORD", "from-env")

	config := parseFlags(t,
		"--config", path,
		"--metabase-password", "from-flag",
		"--metabase-port", "8080",
		"--countries", "be,nl",
		"--global-statistics",
		"--sectors", "Retail,Construction",
		"--sync-timeout", "2m",
		"--statistics-user", "viewer@example.com secret View Er",
		"--statistics-user", "other@example.com pass Other User",
	)

	assert.Equal(t, "from-flag", config.Command.Metabase.Password)
	assert.Equal(t, "http://localhost:8080", config.Command.Metabase.Endpoint())
	assert.Equal(t, []string{"be", "nl"}, config.Provisioner.Countries)
	assert.True(t, config.Provisioner.Global)
	assert.Equal(t, []string{"Retail", "Construction"}, config.Provisioner.Sectors)
	assert.Equal(t, 2*time.Minute, config.Provisioner.Sync.Timeout)
	assert.Equal(t, []provisioner.User{
		{Email: "viewer@example.com", Password: "secret", FirstName: "View", LastName: "Er"},
		{Email: "other@example.com", Password: "pass", FirstName: "Other", LastName: "User"},
	}, config.Provisioner.Users)
}

func TestDefaultFlagValuesDoNotOverrideFile(t *testing.T) {
	path := writeConfigFile(t, testConfigFile+"globalgroup: viewers\n")

	config := parseFlags(t, "--config", path)

	assert.Equal(t, "viewers", config.Provisioner.GlobalGroup)
}

func TestLoadConfigRejectsInvalidValues(t *testing.T) {
	path := writeConfigFile(t, testConfigFile)

	for name, args := range map[string][]string{
		"country code":    {"--countries", "deu"},
		"statistics user": {"--statistics-user", "viewer@example.com secret"},
		"user email":      {"--statistics-user", "viewer secret View Er"},
		"sync strategy":   {"--sync-strategy", "wait"},
		"log level":       {"--log-level", "verbose"},
	} {
		t.Run(name, func(t *testing.T) {
			cmd := newRootCommand()
			require.NoError(t, cmd.ParseFlags(append([]string{"--config", path}, args...)))

			_, err := loadConfig(cmd.Flags())
			assert.Error(t, err)
		})
	}
}

func TestLoadConfigRequiresCredentials(t *testing.T) {
	path := writeConfigFile(t, "warehouse:\n  user: metabase\n")

	cmd := newRootCommand()
	require.NoError(t, cmd.ParseFlags([]string{"--config", path}))
	_, err := loadConfig(cmd.Flags())
	assert.Error(t, err)

	cmd = newRootCommand()
	require.NoError(t, cmd.ParseFlags([]string{"--config", path, "--metabase-api-key", "mb_key"}))
	config, err := loadConfig(cmd.Flags())
	require.NoError(t, err)
	assert.Equal(t, "mb_key", config.Command.Metabase.ApiKey)
}

func TestParseStatisticsUser(t *testing.T) {
	user, err := parseStatisticsUser("  a@b.eu   pw  First Last ")
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"email": "a@b.eu", "password": "pw", "firstname": "First", "lastname": "Last"}, user)

	_, err = parseStatisticsUser("a@b.eu pw First")
	assert.ErrorIs(t, err, errInvalidStatisticsUser)
}
