package config

import (
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Server   ServerConfig   `yaml:"server" mapstructure:"server"`
	Log      LogConfig      `yaml:"log" mapstructure:"log"`
	Provider ProviderConfig `yaml:"provider" mapstructure:"provider"`
	Catalog  CatalogConfig  `yaml:"catalog" mapstructure:"catalog"`
	Store    StoreConfig    `yaml:"store" mapstructure:"store"`
	Extract  ExtractConfig  `yaml:"extract" mapstructure:"extract"`
	Events   EventsConfig   `yaml:"events" mapstructure:"events"`
	Fetch    FetchConfig    `yaml:"fetch" mapstructure:"fetch"`
}

// ServerConfig configures the HTTP server.
type ServerConfig struct {
	Port             int `yaml:"port" mapstructure:"port"`
	ReadTimeoutSecs  int `yaml:"read_timeout_secs" mapstructure:"read_timeout_secs"`
	WriteTimeoutSecs int `yaml:"write_timeout_secs" mapstructure:"write_timeout_secs"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// ProviderConfig holds model provider settings.
type ProviderConfig struct {
	Key               string  `yaml:"key" mapstructure:"key"`
	Model             string  `yaml:"model" mapstructure:"model"`
	RequestsPerSecond float64 `yaml:"requests_per_second" mapstructure:"requests_per_second"`
	MaxOutputTokens   int64   `yaml:"max_output_tokens" mapstructure:"max_output_tokens"`
	Stub              bool    `yaml:"stub" mapstructure:"stub"`

	RetryMaxAttempts        int `yaml:"retry_max_attempts" mapstructure:"retry_max_attempts"`
	RetryInitialBackoffMs   int `yaml:"retry_initial_backoff_ms" mapstructure:"retry_initial_backoff_ms"`
	RetryMaxBackoffMs       int `yaml:"retry_max_backoff_ms" mapstructure:"retry_max_backoff_ms"`
	BreakerFailureThreshold int `yaml:"breaker_failure_threshold" mapstructure:"breaker_failure_threshold"`
	BreakerResetTimeoutSecs int `yaml:"breaker_reset_timeout_secs" mapstructure:"breaker_reset_timeout_secs"`
}

// CatalogConfig configures profile resolution sources.
type CatalogConfig struct {
	Paths        []string `yaml:"paths" mapstructure:"paths"`
	ObjectPrefix string   `yaml:"object_prefix" mapstructure:"object_prefix"`
	TTLSecs      int      `yaml:"ttl_secs" mapstructure:"ttl_secs"`
}

// StoreConfig configures the object store backend.
type StoreConfig struct {
	Backend     string `yaml:"backend" mapstructure:"backend"`
	Dir         string `yaml:"dir" mapstructure:"dir"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
}

// ExtractConfig configures extraction behavior.
type ExtractConfig struct {
	DefaultWorkers     int  `yaml:"default_workers" mapstructure:"default_workers"`
	MaxWorkers         int  `yaml:"max_workers" mapstructure:"max_workers"`
	MaxFiles           int  `yaml:"max_files" mapstructure:"max_files"`
	RepairAttempts     int  `yaml:"repair_attempts" mapstructure:"repair_attempts"`
	RequestTimeoutSecs int  `yaml:"request_timeout_secs" mapstructure:"request_timeout_secs"`
	ConformanceRepair  bool `yaml:"conformance_repair" mapstructure:"conformance_repair"`
}

// EventsConfig configures the push subscription handler.
type EventsConfig struct {
	Event             string `yaml:"event" mapstructure:"event"`
	OutputDestination string `yaml:"output_destination" mapstructure:"output_destination"`
	ResultPrefix      string `yaml:"result_prefix" mapstructure:"result_prefix"`
	ResultBaseURI     string `yaml:"result_base_uri" mapstructure:"result_base_uri"`
	DLQPrefix         string `yaml:"dlq_prefix" mapstructure:"dlq_prefix"`
}

// FetchConfig configures file retrieval.
type FetchConfig struct {
	MaxFileBytes int64  `yaml:"max_file_bytes" mapstructure:"max_file_bytes"`
	TimeoutSecs  int    `yaml:"timeout_secs" mapstructure:"timeout_secs"`
	UserAgent    string `yaml:"user_agent" mapstructure:"user_agent"`
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("DOCFLOW")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout_secs", 30)
	v.SetDefault("server.write_timeout_secs", 300)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("provider.model", "claude-sonnet-4-5-20250929")
	v.SetDefault("provider.requests_per_second", 5.0)
	v.SetDefault("provider.max_output_tokens", 8192)
	v.SetDefault("catalog.paths", []string{"./profiles", "~/.docflow/profiles"})
	v.SetDefault("catalog.ttl_secs", 300)
	v.SetDefault("store.backend", "fs")
	v.SetDefault("store.dir", "./data")
	v.SetDefault("extract.default_workers", 4)
	v.SetDefault("extract.max_workers", 16)
	v.SetDefault("extract.max_files", 200)
	v.SetDefault("extract.repair_attempts", 2)
	v.SetDefault("extract.request_timeout_secs", 600)
	v.SetDefault("extract.conformance_repair", true)
	v.SetDefault("events.event", "extractions.request")
	v.SetDefault("events.result_prefix", "results/")
	v.SetDefault("events.dlq_prefix", "dlq/")
	v.SetDefault("fetch.max_file_bytes", int64(64<<20))
	v.SetDefault("fetch.timeout_secs", 120)
	v.SetDefault("fetch.user_agent", "docflow/1.0")

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	return &cfg, nil
}

// Validate checks the configuration for the given run mode. Mode is
// one of "serve", "run", or "profiles".
func (c *Config) Validate(mode string) error {
	var problems []string

	if c.Extract.DefaultWorkers < 1 {
		problems = append(problems, "extract.default_workers must be >= 1")
	}
	if c.Extract.MaxWorkers < c.Extract.DefaultWorkers {
		problems = append(problems, "extract.max_workers must be >= extract.default_workers")
	}
	if c.Extract.RepairAttempts < 0 {
		problems = append(problems, "extract.repair_attempts must be >= 0")
	}
	switch c.Store.Backend {
	case "fs", "sqlite", "postgres":
	default:
		problems = append(problems, "store.backend must be one of fs, sqlite, postgres")
	}
	if c.Store.Backend == "postgres" && c.Store.DatabaseURL == "" {
		problems = append(problems, "store.database_url is required for the postgres backend")
	}
	switch mode {
	case "serve":
		if c.Server.Port <= 0 {
			problems = append(problems, "server.port must be > 0")
		}
		fallthrough
	case "run":
		if !c.Provider.Stub && c.Provider.Key == "" {
			problems = append(problems, "provider.key is required unless provider.stub is set")
		}
	case "profiles":
	default:
		return eris.Errorf("config: unknown mode %q", mode)
	}

	if len(problems) > 0 {
		return eris.New("config: " + strings.Join(problems, "; "))
	}
	return nil
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
