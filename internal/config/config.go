package config

import (
	"time"

	"github.com/spf13/viper"
)

// Config stores all configuration for the application.
type Config struct {
	PostgresURL     string `mapstructure:"POSTGRES_URL"`
	RedisAddr       string `mapstructure:"REDIS_ADDR"`
	ServerPort      string `mapstructure:"SERVER_PORT"`
	PipelineWorkers int    `mapstructure:"PIPELINE_WORKERS"`
	RenderTimeout   int    `mapstructure:"RENDER_TIMEOUT"`  // seconds, page load
	TLSTimeout      int    `mapstructure:"TLS_TIMEOUT"`     // seconds, SAN lookup
	DuplicateWait   int    `mapstructure:"DUPLICATE_WAIT"`  // seconds, bounded wait on in-flight duplicate
	VerdictTTLDays  int    `mapstructure:"VERDICT_TTL_DAYS"`
	ScreenshotDir   string `mapstructure:"SCREENSHOT_DIR"`
	ClassifierURL   string `mapstructure:"CLASSIFIER_URL"`
}

// Load reads configuration from file or environment variables.
func Load() (*Config, error) {
	viper.SetConfigFile(".env")
	viper.SetConfigType("env")
	viper.AutomaticEnv()

	// Attempt to read the .env file, but don't fail if it's not present
	// This allows configuration purely through environment variables in production
	_ = viper.ReadInConfig()

	// Set default values
	viper.SetDefault("SERVER_PORT", "8080")
	viper.SetDefault("PIPELINE_WORKERS", 8)
	viper.SetDefault("RENDER_TIMEOUT", 5)
	viper.SetDefault("TLS_TIMEOUT", 2)
	viper.SetDefault("DUPLICATE_WAIT", 4)
	viper.SetDefault("VERDICT_TTL_DAYS", 2)
	viper.SetDefault("SCREENSHOT_DIR", "files")
	viper.SetDefault("CLASSIFIER_URL", "")

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// RenderTimeoutDuration is the per-candidate page load budget.
func (c *Config) RenderTimeoutDuration() time.Duration {
	return time.Duration(c.RenderTimeout) * time.Second
}

// TLSTimeoutDuration bounds a single SAN handshake.
func (c *Config) TLSTimeoutDuration() time.Duration {
	return time.Duration(c.TLSTimeout) * time.Second
}

// DuplicateWaitDuration bounds how long a duplicate request waits on the
// in-flight original before returning the current cached state.
func (c *Config) DuplicateWaitDuration() time.Duration {
	return time.Duration(c.DuplicateWait) * time.Second
}
