package config

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Log       LogConfig       `yaml:"log" mapstructure:"log"`
	Store     StoreConfig     `yaml:"store" mapstructure:"store"`
	Fetch     FetchConfig     `yaml:"fetch" mapstructure:"fetch"`
	Ingest    IngestConfig    `yaml:"ingest" mapstructure:"ingest"`
	Selection SelectionConfig `yaml:"selection" mapstructure:"selection"`
	Export    ExportConfig    `yaml:"export" mapstructure:"export"`
	Notify    NotifyConfig    `yaml:"notify" mapstructure:"notify"`
	Server    ServerConfig    `yaml:"server" mapstructure:"server"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// StoreConfig configures the ledger backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
}

// FetchConfig configures downloads of remote inputs.
type FetchConfig struct {
	TempDir           string  `yaml:"temp_dir" mapstructure:"temp_dir"`
	TimeoutSecs       int     `yaml:"timeout_secs" mapstructure:"timeout_secs"`
	MaxRetries        int     `yaml:"max_retries" mapstructure:"max_retries"`
	RequestsPerSecond float64 `yaml:"requests_per_second" mapstructure:"requests_per_second"`
	FTPUser           string  `yaml:"ftp_user" mapstructure:"ftp_user"`
	FTPPassword       string  `yaml:"ftp_password" mapstructure:"ftp_password"`
}

// IngestConfig locates the raw feeds and their consolidated stores.
type IngestConfig struct {
	ReportsDir     string   `yaml:"reports_dir" mapstructure:"reports_dir"`
	ReportsGlob    string   `yaml:"reports_glob" mapstructure:"reports_glob"`
	ReportStore    string   `yaml:"report_store" mapstructure:"report_store"`
	ReportEncoding string   `yaml:"report_encoding" mapstructure:"report_encoding"`
	Outcomes       []string `yaml:"outcomes" mapstructure:"outcomes"`
	Causes         []string `yaml:"causes" mapstructure:"causes"`
	StatusDir      string   `yaml:"status_dir" mapstructure:"status_dir"`
	StatusGlob     string   `yaml:"status_glob" mapstructure:"status_glob"`
	StatusStore    string   `yaml:"status_store" mapstructure:"status_store"`
	StatusEncoding string   `yaml:"status_encoding" mapstructure:"status_encoding"`
}

// TableSource locates one tabular input.
type TableSource struct {
	Name      string `yaml:"name" mapstructure:"name"`
	Location  string `yaml:"location" mapstructure:"location"`
	Column    string `yaml:"column" mapstructure:"column"`
	Delimiter string `yaml:"delimiter" mapstructure:"delimiter"`
	Sheet     string `yaml:"sheet" mapstructure:"sheet"`
	Encoding  string `yaml:"encoding" mapstructure:"encoding"`
}

// SelectionConfig configures the select step.
type SelectionConfig struct {
	Registry          TableSource   `yaml:"registry" mapstructure:"registry"`
	Exclusions        []TableSource `yaml:"exclusions" mapstructure:"exclusions"`
	ContactedDir      string        `yaml:"contacted_dir" mapstructure:"contacted_dir"`
	ContactedLayout   string        `yaml:"contacted_layout" mapstructure:"contacted_layout"`
	ContactedRequired bool          `yaml:"contacted_required" mapstructure:"contacted_required"`
	ContactedEncoding string        `yaml:"contacted_encoding" mapstructure:"contacted_encoding"`
	RulesFile         string        `yaml:"rules_file" mapstructure:"rules_file"`
	Output            string        `yaml:"output" mapstructure:"output"`
}

// LookupConfig locates the reference table joined during export.
type LookupConfig struct {
	Location  string `yaml:"location" mapstructure:"location"`
	Delimiter string `yaml:"delimiter" mapstructure:"delimiter"`
	Key       string `yaml:"key" mapstructure:"key"`
	Value     string `yaml:"value" mapstructure:"value"`
	Sheet     string `yaml:"sheet" mapstructure:"sheet"`
	Required  bool   `yaml:"required" mapstructure:"required"`
}

// ExportConfig configures the export step.
type ExportConfig struct {
	OutputDir    string       `yaml:"output_dir" mapstructure:"output_dir"`
	Lookup       LookupConfig `yaml:"lookup" mapstructure:"lookup"`
	MaxPerPerson int          `yaml:"max_per_person" mapstructure:"max_per_person"`
	LabelPrefix  string       `yaml:"label_prefix" mapstructure:"label_prefix"`
	Marker       string       `yaml:"marker" mapstructure:"marker"`
	Seed         uint64       `yaml:"seed" mapstructure:"seed"`
}

// TelegramConfig configures the Telegram notifier. An empty token disables it.
type TelegramConfig struct {
	Token       string  `yaml:"token" mapstructure:"token"`
	ChatID      int64   `yaml:"chat_id" mapstructure:"chat_id"`
	MaxUploadMB int     `yaml:"max_upload_mb" mapstructure:"max_upload_mb"`
	PerSecond   float64 `yaml:"per_second" mapstructure:"per_second"`
}

// WebhookConfig configures the webhook notifier. An empty URL disables it.
type WebhookConfig struct {
	URL         string `yaml:"url" mapstructure:"url"`
	TimeoutSecs int    `yaml:"timeout_secs" mapstructure:"timeout_secs"`
}

// NotifyConfig configures progress and delivery notifications.
type NotifyConfig struct {
	Telegram TelegramConfig `yaml:"telegram" mapstructure:"telegram"`
	Webhook  WebhookConfig  `yaml:"webhook" mapstructure:"webhook"`
}

// ServerConfig configures the trigger server.
type ServerConfig struct {
	Port           int      `yaml:"port" mapstructure:"port"`
	AllowedOrigins []string `yaml:"allowed_origins" mapstructure:"allowed_origins"`
}

// Validate checks the settings a command mode needs. Modes are "ingest",
// "select", "export", "run", "serve" and "ledger".
func (c *Config) Validate(mode string) error {
	var errs []string
	need := func(ok bool, msg string) {
		if !ok {
			errs = append(errs, msg)
		}
	}

	switch c.Store.Driver {
	case "", "sqlite":
	case "postgres":
		need(c.Store.DatabaseURL != "", "store.database_url is required for postgres")
	default:
		errs = append(errs, "unknown store.driver "+strconv.Quote(c.Store.Driver))
	}
	need(c.Notify.Telegram.Token == "" || c.Notify.Telegram.ChatID != 0,
		"notify.telegram.chat_id is required with a token")

	ingest := func() {
		need(c.Ingest.ReportStore != "", "ingest.report_store is required")
		need(c.Ingest.StatusStore != "", "ingest.status_store is required")
	}
	sel := func() {
		need(c.Selection.Registry.Location != "", "selection.registry.location is required")
		need(c.Selection.Output != "", "selection.output is required")
		for i, ex := range c.Selection.Exclusions {
			need(ex.Location != "", fmt.Sprintf("selection.exclusions[%d].location is required", i))
		}
	}
	exp := func() {
		need(c.Export.OutputDir != "", "export.output_dir is required")
		need(c.Export.MaxPerPerson >= 0, "export.max_per_person must be >= 0")
	}

	switch mode {
	case "ingest":
		ingest()
	case "select":
		sel()
	case "export":
		need(c.Selection.Output != "", "selection.output is required")
		exp()
	case "run":
		ingest()
		sel()
		exp()
	case "serve":
		ingest()
		sel()
		exp()
		need(c.Server.Port > 0, "server.port must be > 0")
	case "ledger":
	default:
		return eris.Errorf("config: unknown mode %q", mode)
	}

	if len(errs) > 0 {
		return eris.Errorf("config: %s", strings.Join(errs, "; "))
	}
	return nil
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("CALLBATCH")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.database_url", "data/processed/callbatch.db")
	v.SetDefault("fetch.temp_dir", "/tmp/callbatch")
	v.SetDefault("fetch.timeout_secs", 120)
	v.SetDefault("fetch.max_retries", 3)
	v.SetDefault("fetch.requests_per_second", 5)
	v.SetDefault("ingest.reports_dir", "data/raw/reportes")
	v.SetDefault("ingest.reports_glob", "*.csv")
	v.SetDefault("ingest.report_store", "data/processed/Tipificaciones-consolidadas.parquet")
	v.SetDefault("ingest.report_encoding", "utf-8")
	v.SetDefault("ingest.status_dir", "data/raw/extraerEstado")
	v.SetDefault("ingest.status_glob", "*.txt")
	v.SetDefault("ingest.status_store", "data/processed/Iris-consolidado.parquet")
	v.SetDefault("ingest.status_encoding", "utf-8")
	v.SetDefault("selection.registry.location", "data/base_2024_2025_actualizada.parquet")
	v.SetDefault("selection.registry.delimiter", ";")
	v.SetDefault("selection.exclusions", []map[string]any{
		{"name": "lineas-filtradas", "location": "data/lineas_filtradas_150.parquet", "column": "linea"},
		{"name": "no-llame", "location": "data/Registro_No_Llame.parquet", "column": "linea"},
	})
	v.SetDefault("selection.contacted_dir", "data/raw/reportes")
	v.SetDefault("selection.contacted_layout", "010206.csv")
	v.SetDefault("selection.contacted_required", true)
	v.SetDefault("selection.output", "data/bases/base.csv")
	v.SetDefault("export.output_dir", "data/output")
	v.SetDefault("export.lookup.location", "data/base_cuit.csv")
	v.SetDefault("export.lookup.delimiter", ",")
	v.SetDefault("export.lookup.key", "DNI")
	v.SetDefault("export.lookup.value", "CUIT")
	v.SetDefault("export.max_per_person", 2)
	v.SetDefault("export.label_prefix", "Mza_MIXTA")
	v.SetDefault("export.marker", "BASE CUIT")
	v.SetDefault("notify.telegram.max_upload_mb", 50)
	v.SetDefault("notify.telegram.per_second", 1)
	v.SetDefault("notify.webhook.timeout_secs", 10)
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.allowed_origins", []string{"*"})

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
