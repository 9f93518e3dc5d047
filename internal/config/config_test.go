package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestLoadDefaults(t *testing.T) {
	// Change to temp dir so no config.yaml is found
	dir := t.TempDir()
	origDir, _ := os.Getwd()
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { os.Chdir(origDir) })

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)
	assert.Equal(t, "claude-sonnet-4-5-20250929", cfg.Provider.Model)
	assert.InDelta(t, 5.0, cfg.Provider.RequestsPerSecond, 0.001)
	assert.Equal(t, int64(8192), cfg.Provider.MaxOutputTokens)
	assert.False(t, cfg.Provider.Stub)
	assert.Equal(t, []string{"./profiles", "~/.docflow/profiles"}, cfg.Catalog.Paths)
	assert.Equal(t, 300, cfg.Catalog.TTLSecs)
	assert.Equal(t, "fs", cfg.Store.Backend)
	assert.Equal(t, "./data", cfg.Store.Dir)
	assert.Equal(t, 4, cfg.Extract.DefaultWorkers)
	assert.Equal(t, 16, cfg.Extract.MaxWorkers)
	assert.Equal(t, 200, cfg.Extract.MaxFiles)
	assert.Equal(t, 2, cfg.Extract.RepairAttempts)
	assert.Equal(t, 600, cfg.Extract.RequestTimeoutSecs)
	assert.True(t, cfg.Extract.ConformanceRepair)
	assert.Equal(t, "extractions.request", cfg.Events.Event)
	assert.Equal(t, "results/", cfg.Events.ResultPrefix)
	assert.Equal(t, "dlq/", cfg.Events.DLQPrefix)
	assert.Equal(t, int64(64<<20), cfg.Fetch.MaxFileBytes)
	assert.Equal(t, "docflow/1.0", cfg.Fetch.UserAgent)
}

func TestLoadFromYAML(t *testing.T) {
	dir := t.TempDir()
	origDir, _ := os.Getwd()
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { os.Chdir(origDir) })

	yaml := `
store:
  backend: sqlite
  database_url: file:docflow.db
log:
  level: debug
  format: console
server:
  port: 9090
extract:
  default_workers: 8
catalog:
  paths:
    - ./profiles
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0644))

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "sqlite", cfg.Store.Backend)
	assert.Equal(t, "file:docflow.db", cfg.Store.DatabaseURL)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "console", cfg.Log.Format)
	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, 8, cfg.Extract.DefaultWorkers)
	assert.Equal(t, []string{"./profiles"}, cfg.Catalog.Paths)
	// Defaults still apply for unset values
	assert.Equal(t, 16, cfg.Extract.MaxWorkers)
}

func TestLoadEnvOverridesFile(t *testing.T) {
	dir := t.TempDir()
	origDir, _ := os.Getwd()
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { os.Chdir(origDir) })

	yaml := `
store:
  backend: sqlite
log:
  level: debug
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0644))

	t.Setenv("DOCFLOW_STORE_BACKEND", "postgres")
	t.Setenv("DOCFLOW_LOG_LEVEL", "warn")

	cfg, err := Load()
	require.NoError(t, err)

	// Env overrides file
	assert.Equal(t, "postgres", cfg.Store.Backend)
	assert.Equal(t, "warn", cfg.Log.Level)
}

func TestLoadEnvOverridesDefaults(t *testing.T) {
	dir := t.TempDir()
	origDir, _ := os.Getwd()
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { os.Chdir(origDir) })

	t.Setenv("DOCFLOW_SERVER_PORT", "3000")
	t.Setenv("DOCFLOW_PROVIDER_KEY", "sk-ant-test")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 3000, cfg.Server.Port)
	assert.Equal(t, "sk-ant-test", cfg.Provider.Key)
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

// validDefaults returns a Config that passes validation in every mode.
func validDefaults() *Config {
	return &Config{
		Server: ServerConfig{Port: 8080},
		Provider: ProviderConfig{
			Key:   "sk-ant-key",
			Model: "claude-sonnet-4-5-20250929",
		},
		Store: StoreConfig{Backend: "fs", Dir: "./data"},
		Extract: ExtractConfig{
			DefaultWorkers: 4,
			MaxWorkers:     16,
			RepairAttempts: 2,
		},
	}
}

func TestValidateServe_OK(t *testing.T) {
	assert.NoError(t, validDefaults().Validate("serve"))
}

func TestValidateServe_InvalidPort(t *testing.T) {
	cfg := validDefaults()
	cfg.Server.Port = 0

	err := cfg.Validate("serve")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "server.port must be > 0")
}

func TestValidateRun_IgnoresPort(t *testing.T) {
	cfg := validDefaults()
	cfg.Server.Port = 0

	assert.NoError(t, cfg.Validate("run"))
}

func TestValidateUnknownMode(t *testing.T) {
	err := validDefaults().Validate("unknown")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "unknown mode")
}

func TestValidateProviderKey(t *testing.T) {
	cfg := validDefaults()
	cfg.Provider.Key = ""

	err := cfg.Validate("run")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "provider.key is required")

	cfg.Provider.Stub = true
	assert.NoError(t, cfg.Validate("run"))
}

func TestValidateStoreBackend(t *testing.T) {
	cfg := validDefaults()
	cfg.Store.Backend = "s3"

	err := cfg.Validate("run")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "store.backend must be one of")

	cfg.Store.Backend = "postgres"
	err = cfg.Validate("run")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "store.database_url is required")

	cfg.Store.DatabaseURL = "postgres://localhost/docflow"
	assert.NoError(t, cfg.Validate("run"))
}

func TestValidateWorkerBounds(t *testing.T) {
	cfg := validDefaults()

	cfg.Extract.DefaultWorkers = 0
	err := cfg.Validate("run")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "extract.default_workers must be >= 1")

	cfg.Extract.DefaultWorkers = 8
	cfg.Extract.MaxWorkers = 4
	err = cfg.Validate("run")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "extract.max_workers must be >= extract.default_workers")

	cfg.Extract.MaxWorkers = 8
	assert.NoError(t, cfg.Validate("run"))
}
