package config

import (
	"fmt"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Store        StoreConfig        `yaml:"store" mapstructure:"store"`
	Prices       PricesConfig       `yaml:"prices" mapstructure:"prices"`
	Provider     ProviderConfig     `yaml:"provider" mapstructure:"provider"`
	Backfill     BackfillConfig     `yaml:"backfill" mapstructure:"backfill"`
	Outcome      OutcomeConfig      `yaml:"outcome" mapstructure:"outcome"`
	Orchestrator OrchestratorConfig `yaml:"orchestrator" mapstructure:"orchestrator"`
	Report       ReportConfig       `yaml:"report" mapstructure:"report"`
	Server       ServerConfig       `yaml:"server" mapstructure:"server"`
	Log          LogConfig          `yaml:"log" mapstructure:"log"`
}

// StoreConfig configures the database backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
	MaxConns    int32  `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns    int32  `yaml:"min_conns" mapstructure:"min_conns"`
}

// PricesConfig configures price lookups.
type PricesConfig struct {
	// LookbackDays bounds the nearest-prior-trading-day search.
	LookbackDays int `yaml:"lookback_days" mapstructure:"lookback_days"`
}

// ProviderConfig selects and tunes the market-data provider.
type ProviderConfig struct {
	Name             string            `yaml:"name" mapstructure:"name"`
	BaseURL          string            `yaml:"base_url" mapstructure:"base_url"`
	APIKey           string            `yaml:"api_key" mapstructure:"api_key"`
	TimeoutSecs      int               `yaml:"timeout_secs" mapstructure:"timeout_secs"`
	MaxRetries       int               `yaml:"max_retries" mapstructure:"max_retries"`
	RequestsPerSec   float64           `yaml:"requests_per_sec" mapstructure:"requests_per_sec"`
	FailureThreshold int               `yaml:"failure_threshold" mapstructure:"failure_threshold"`
	ResetTimeoutSecs int               `yaml:"reset_timeout_secs" mapstructure:"reset_timeout_secs"`
	SymbolAliases    map[string]string `yaml:"symbol_aliases" mapstructure:"symbol_aliases"`
}

// BackfillConfig configures the price backfill service.
type BackfillConfig struct {
	Concurrency       int `yaml:"concurrency" mapstructure:"concurrency"`
	SymbolTimeoutSecs int `yaml:"symbol_timeout_secs" mapstructure:"symbol_timeout_secs"`
	MaxNoDataAttempts int `yaml:"max_no_data_attempts" mapstructure:"max_no_data_attempts"`
	IncrementalDays   int `yaml:"incremental_days" mapstructure:"incremental_days"`
	MaxSymbolLength   int `yaml:"max_symbol_length" mapstructure:"max_symbol_length"`
}

// OutcomeConfig configures outcome calculation.
type OutcomeConfig struct {
	Notional            float64 `yaml:"notional" mapstructure:"notional"`
	DeadZonePct         float64 `yaml:"dead_zone_pct" mapstructure:"dead_zone_pct"`
	CompletionGraceDays int     `yaml:"completion_grace_days" mapstructure:"completion_grace_days"`
	WindowDays          int     `yaml:"window_days" mapstructure:"window_days"`
}

// OrchestratorConfig configures the periodic pipeline.
type OrchestratorConfig struct {
	Schedule   string `yaml:"schedule" mapstructure:"schedule"`
	WindowDays int    `yaml:"window_days" mapstructure:"window_days"`
}

// ReportConfig configures reporting aggregates.
type ReportConfig struct {
	Horizon         int       `yaml:"horizon" mapstructure:"horizon"`
	MinOutcomes     int       `yaml:"min_outcomes" mapstructure:"min_outcomes"`
	ConfidenceEdges []float64 `yaml:"confidence_edges" mapstructure:"confidence_edges"`
}

// ServerConfig configures the reporting API server.
type ServerConfig struct {
	Port int `yaml:"port" mapstructure:"port"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("OUTCOMES")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("store.driver", "postgres")
	v.SetDefault("store.database_url", "")
	v.SetDefault("store.max_conns", 10)
	v.SetDefault("store.min_conns", 2)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("server.port", 8080)
	v.SetDefault("prices.lookback_days", 7)
	v.SetDefault("provider.name", "yahoo")
	v.SetDefault("provider.base_url", "")
	v.SetDefault("provider.api_key", "")
	v.SetDefault("provider.timeout_secs", 20)
	v.SetDefault("provider.max_retries", 3)
	v.SetDefault("provider.requests_per_sec", 2.0)
	v.SetDefault("provider.failure_threshold", 5)
	v.SetDefault("provider.reset_timeout_secs", 60)
	v.SetDefault("provider.symbol_aliases", map[string]string{
		"SPX":   "^GSPC",
		"SP500": "^GSPC",
		"NDX":   "^NDX",
		"VIX":   "^VIX",
		"BTC":   "BTC-USD",
		"ETH":   "ETH-USD",
	})
	v.SetDefault("backfill.concurrency", 2)
	v.SetDefault("backfill.symbol_timeout_secs", 90)
	v.SetDefault("backfill.max_no_data_attempts", 3)
	v.SetDefault("backfill.incremental_days", 45)
	v.SetDefault("backfill.max_symbol_length", 10)
	v.SetDefault("outcome.notional", 1000.0)
	v.SetDefault("outcome.dead_zone_pct", 0.5)
	v.SetDefault("outcome.completion_grace_days", 7)
	v.SetDefault("outcome.window_days", 45)
	v.SetDefault("orchestrator.schedule", "0 30 22 * * 1-5")
	v.SetDefault("orchestrator.window_days", 45)
	v.SetDefault("report.horizon", 7)
	v.SetDefault("report.min_outcomes", 10)
	v.SetDefault("report.confidence_edges", []float64{0.5, 0.7, 0.9})

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

// Validate checks the settings required by a command mode. Every problem is
// reported at once so operators can fix a config file in a single pass.
// Modes: backfill, calculate, pipeline, report, serve.
func (c *Config) Validate(mode string) error {
	var problems []string

	switch mode {
	case "backfill", "calculate", "pipeline", "report", "serve":
	default:
		return eris.Errorf("config: unknown mode %q", mode)
	}

	switch c.Store.Driver {
	case "postgres":
		if c.Store.DatabaseURL == "" {
			problems = append(problems, "store.database_url is required for the postgres driver")
		}
	case "sqlite":
	default:
		problems = append(problems, fmt.Sprintf("store.driver must be postgres or sqlite, got %q", c.Store.Driver))
	}

	if c.Prices.LookbackDays < 0 {
		problems = append(problems, "prices.lookback_days must be >= 0")
	}

	if mode == "backfill" || mode == "pipeline" {
		switch c.Provider.Name {
		case "yahoo":
		case "twelvedata":
			if c.Provider.APIKey == "" {
				problems = append(problems, "provider.api_key is required for twelvedata")
			}
		default:
			problems = append(problems, fmt.Sprintf("provider.name must be yahoo or twelvedata, got %q", c.Provider.Name))
		}
		if c.Backfill.Concurrency < 1 || c.Backfill.Concurrency > 16 {
			problems = append(problems, "backfill.concurrency must be between 1 and 16")
		}
		if c.Backfill.MaxSymbolLength < 1 {
			problems = append(problems, "backfill.max_symbol_length must be > 0")
		}
	}

	if mode == "calculate" || mode == "pipeline" {
		if c.Outcome.Notional <= 0 {
			problems = append(problems, "outcome.notional must be > 0")
		}
		if c.Outcome.DeadZonePct < 0 {
			problems = append(problems, "outcome.dead_zone_pct must be >= 0")
		}
		if c.Outcome.CompletionGraceDays < 0 {
			problems = append(problems, "outcome.completion_grace_days must be >= 0")
		}
	}

	if mode == "report" || mode == "serve" {
		for i := 1; i < len(c.Report.ConfidenceEdges); i++ {
			if c.Report.ConfidenceEdges[i] <= c.Report.ConfidenceEdges[i-1] {
				problems = append(problems, "report.confidence_edges must be strictly increasing")
				break
			}
		}
	}

	if mode == "serve" && c.Server.Port <= 0 {
		problems = append(problems, "server.port must be > 0")
	}

	if len(problems) > 0 {
		return eris.Errorf("config: invalid for %s: %s", mode, strings.Join(problems, "; "))
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
