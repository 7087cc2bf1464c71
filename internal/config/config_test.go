package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func chdirTemp(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	origDir, _ := os.Getwd()
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { os.Chdir(origDir) }) //nolint:errcheck
	return dir
}

func TestLoadDefaults(t *testing.T) {
	// Change to temp dir so no config.yaml is found
	chdirTemp(t)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "sqlite", cfg.Store.Driver)
	assert.Equal(t, "data/processed/callbatch.db", cfg.Store.DatabaseURL)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, []string{"*"}, cfg.Server.AllowedOrigins)
	assert.Equal(t, 120, cfg.Fetch.TimeoutSecs)
	assert.Equal(t, "data/raw/reportes", cfg.Ingest.ReportsDir)
	assert.Equal(t, "*.txt", cfg.Ingest.StatusGlob)
	assert.Equal(t, "data/processed/Iris-consolidado.parquet", cfg.Ingest.StatusStore)
	assert.Equal(t, "010206.csv", cfg.Selection.ContactedLayout)
	assert.True(t, cfg.Selection.ContactedRequired)
	require.Len(t, cfg.Selection.Exclusions, 2)
	assert.Equal(t, "no-llame", cfg.Selection.Exclusions[1].Name)
	assert.Equal(t, "linea", cfg.Selection.Exclusions[1].Column)
	assert.Equal(t, 2, cfg.Export.MaxPerPerson)
	assert.Equal(t, "Mza_MIXTA", cfg.Export.LabelPrefix)
	assert.Equal(t, "CUIT", cfg.Export.Lookup.Value)
	assert.Equal(t, 50, cfg.Notify.Telegram.MaxUploadMB)
	assert.Empty(t, cfg.Notify.Telegram.Token)

	assert.NoError(t, cfg.Validate("run"))
}

func TestLoadFromYAML(t *testing.T) {
	dir := chdirTemp(t)

	yaml := `
store:
  driver: postgres
  database_url: postgres://localhost/callbatch
log:
  level: debug
  format: console
server:
  port: 9090
selection:
  exclusions:
    - name: no-llame
      location: /data/no_llame.xlsx
      column: linea
      sheet: Hoja1
export:
  seed: 42
notify:
  telegram:
    token: abc
    chat_id: -100123
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0o644))

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "postgres", cfg.Store.Driver)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "console", cfg.Log.Format)
	assert.Equal(t, 9090, cfg.Server.Port)
	require.Len(t, cfg.Selection.Exclusions, 1)
	assert.Equal(t, "Hoja1", cfg.Selection.Exclusions[0].Sheet)
	assert.Equal(t, uint64(42), cfg.Export.Seed)
	assert.Equal(t, int64(-100123), cfg.Notify.Telegram.ChatID)
	// Defaults still apply for unset values
	assert.Equal(t, "data/output", cfg.Export.OutputDir)
}

func TestLoadEnvOverridesFile(t *testing.T) {
	dir := chdirTemp(t)

	yaml := `
store:
  driver: sqlite
log:
  level: debug
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0o644))

	t.Setenv("CALLBATCH_STORE_DRIVER", "postgres")
	t.Setenv("CALLBATCH_LOG_LEVEL", "warn")
	t.Setenv("CALLBATCH_NOTIFY_TELEGRAM_TOKEN", "from-env")

	cfg, err := Load()
	require.NoError(t, err)

	// Env overrides file
	assert.Equal(t, "postgres", cfg.Store.Driver)
	assert.Equal(t, "warn", cfg.Log.Level)
	assert.Equal(t, "from-env", cfg.Notify.Telegram.Token)
}

func TestLoadEnvOverridesDefaults(t *testing.T) {
	chdirTemp(t)

	t.Setenv("CALLBATCH_SERVER_PORT", "3000")
	t.Setenv("CALLBATCH_SELECTION_CONTACTED_REQUIRED", "false")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 3000, cfg.Server.Port)
	assert.False(t, cfg.Selection.ContactedRequired)
}

func TestLoadInvalidYAML(t *testing.T) {
	dir := chdirTemp(t)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte("store: [unclosed"), 0o644))

	_, err := Load()
	assert.Error(t, err)
}

func TestInitLoggerConsole(t *testing.T) {
	err := InitLogger(LogConfig{Level: "debug", Format: "console"})
	require.NoError(t, err)
	assert.NotNil(t, zap.L())
}

func TestInitLoggerJSON(t *testing.T) {
	err := InitLogger(LogConfig{Level: "info", Format: "json"})
	require.NoError(t, err)
	assert.NotNil(t, zap.L())
}

func TestInitLoggerInvalidLevel(t *testing.T) {
	err := InitLogger(LogConfig{Level: "invalid", Format: "json"})
	assert.Error(t, err)
}

// validDefaults returns a Config with the settings every mode needs.
func validDefaults() *Config {
	cfg := &Config{}
	cfg.Store.Driver = "sqlite"
	cfg.Ingest.ReportStore = "r.parquet"
	cfg.Ingest.StatusStore = "s.parquet"
	cfg.Selection.Registry.Location = "base.parquet"
	cfg.Selection.Output = "base.csv"
	cfg.Export.OutputDir = "out"
	cfg.Server.Port = 8080
	return cfg
}

func TestValidate_AllModes(t *testing.T) {
	cfg := validDefaults()
	for _, mode := range []string{"ingest", "select", "export", "run", "serve", "ledger"} {
		assert.NoError(t, cfg.Validate(mode), mode)
	}
}

func TestValidate_PostgresNeedsURL(t *testing.T) {
	cfg := validDefaults()
	cfg.Store.Driver = "postgres"

	err := cfg.Validate("ledger")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "store.database_url is required")

	cfg.Store.DatabaseURL = "postgres://localhost/callbatch"
	assert.NoError(t, cfg.Validate("ledger"))
}

func TestValidate_UnknownDriver(t *testing.T) {
	cfg := validDefaults()
	cfg.Store.Driver = "mysql"

	err := cfg.Validate("ingest")
	require.Error(t, err)
	assert.Contains(t, err.Error(), `unknown store.driver "mysql"`)
}

func TestValidate_TelegramNeedsChat(t *testing.T) {
	cfg := validDefaults()
	cfg.Notify.Telegram.Token = "abc"

	err := cfg.Validate("run")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "notify.telegram.chat_id is required")
}

func TestValidate_SelectMissingFields(t *testing.T) {
	cfg := validDefaults()
	cfg.Selection.Registry.Location = ""
	cfg.Selection.Exclusions = []TableSource{{Name: "no-llame"}}

	err := cfg.Validate("select")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "selection.registry.location is required")
	assert.Contains(t, err.Error(), "selection.exclusions[0].location is required")
}

func TestValidate_ServeInvalidPort(t *testing.T) {
	cfg := validDefaults()
	cfg.Server.Port = 0

	err := cfg.Validate("serve")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "server.port must be > 0")
}

func TestValidate_UnknownMode(t *testing.T) {
	err := validDefaults().Validate("unknown")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown mode")
}
