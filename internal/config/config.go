package config

import (
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/dealscope/pricetrack-cli/internal/classifier"
	"github.com/dealscope/pricetrack-cli/internal/cost"
)

// Config holds the full application configuration.
type Config struct {
	Store      StoreConfig       `yaml:"store" mapstructure:"store"`
	Extractor  ExtractorConfig   `yaml:"extractor" mapstructure:"extractor"`
	Batch      BatchConfig       `yaml:"batch" mapstructure:"batch"`
	Classifier classifier.Config `yaml:"classifier" mapstructure:"classifier"`
	Review     ReviewConfig      `yaml:"review" mapstructure:"review"`
	Pricing    cost.Rates        `yaml:"pricing" mapstructure:"pricing"`
	Feed       FeedConfig        `yaml:"feed" mapstructure:"feed"`
	Server     ServerConfig      `yaml:"server" mapstructure:"server"`
	Log        LogConfig         `yaml:"log" mapstructure:"log"`
}

// StoreConfig configures the database backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
	MaxConns    int32  `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns    int32  `yaml:"min_conns" mapstructure:"min_conns"`
}

// ExtractorConfig holds extraction-service client settings.
type ExtractorConfig struct {
	BaseURL        string  `yaml:"base_url" mapstructure:"base_url"`
	Key            string  `yaml:"key" mapstructure:"key"`
	RequestsPerSec float64 `yaml:"requests_per_sec" mapstructure:"requests_per_sec"`
	TimeoutSecs    int     `yaml:"timeout_secs" mapstructure:"timeout_secs"`
	MaxRetries     int     `yaml:"max_retries" mapstructure:"max_retries"`
}

// Timeout returns the per-call extraction timeout.
func (c ExtractorConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSecs) * time.Second
}

// BatchConfig configures batch orchestration.
type BatchConfig struct {
	Concurrency     int `yaml:"concurrency" mapstructure:"concurrency"`
	DaysThreshold   int `yaml:"days_threshold" mapstructure:"days_threshold"`
	ItemTimeoutSecs int `yaml:"item_timeout_secs" mapstructure:"item_timeout_secs"`
}

// ItemTimeout returns the per-product extraction deadline within a batch.
func (c BatchConfig) ItemTimeout() time.Duration {
	return time.Duration(c.ItemTimeoutSecs) * time.Second
}

// ReviewConfig configures the approval workflow.
type ReviewConfig struct {
	// MaxBatchSize caps the number of record ids per approve/delete call.
	MaxBatchSize int `yaml:"max_batch_size" mapstructure:"max_batch_size"`
}

// FeedConfig configures product catalog imports.
type FeedConfig struct {
	Charset     string `yaml:"charset" mapstructure:"charset"`
	TimeoutSecs int    `yaml:"timeout_secs" mapstructure:"timeout_secs"`
}

// ServerConfig configures the HTTP API server.
type ServerConfig struct {
	Port           int      `yaml:"port" mapstructure:"port"`
	AllowedOrigins []string `yaml:"allowed_origins" mapstructure:"allowed_origins"`
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
	v.SetEnvPrefix("PRICETRACK")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("store.driver", "postgres")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("server.port", 8080)
	v.SetDefault("batch.concurrency", 8)
	v.SetDefault("batch.days_threshold", 7)
	v.SetDefault("batch.item_timeout_secs", 45)
	v.SetDefault("review.max_batch_size", 100)
	v.SetDefault("extractor.base_url", "http://localhost:9090")
	v.SetDefault("extractor.requests_per_sec", 4)
	v.SetDefault("extractor.timeout_secs", 30)
	v.SetDefault("extractor.max_retries", 2)
	v.SetDefault("feed.timeout_secs", 60)
	v.SetDefault("classifier.deviation_tolerance", 0.15)
	v.SetDefault("classifier.high_confidence", 0.85)
	v.SetDefault("classifier.auto_apply_confidence", 0.5)
	v.SetDefault("classifier.validation_mismatch", 0.35)
	v.SetDefault("pricing.bandwidth_per_gb", 0.09)
	v.SetDefault("pricing.methods", map[string]map[string]float64{
		"dom_heuristic": {"per_call": 0},
		"llm":           {"per_call": 0.004},
		"headless":      {"per_call": 0.002},
	})

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
