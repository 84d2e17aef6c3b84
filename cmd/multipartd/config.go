package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// Config is the root configuration for multipartd.
type Config struct {
	Env    string       `mapstructure:"env" validate:"omitempty,oneof=dev development prod production"`
	Server ServerConfig `mapstructure:"server"`
	Limits LimitsConfig `mapstructure:"limits"`
	Spool  SpoolConfig  `mapstructure:"spool"`
	CORS   CORSConfig   `mapstructure:"cors"`
	Log    LogConfig    `mapstructure:"log"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Port            int           `mapstructure:"port" validate:"required,min=1,max=65535"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" validate:"min=0"`
}

// LimitsConfig bounds what a single request may cost.
type LimitsConfig struct {
	MaxBodyBytes   int64   `mapstructure:"max_body_bytes" validate:"min=0"`
	MaxHeaderBytes int     `mapstructure:"max_header_bytes" validate:"min=1"`
	MaxPartBytes   int64   `mapstructure:"max_part_bytes" validate:"min=0"`
	ReadRate       float64 `mapstructure:"read_rate" validate:"min=0"`
	ReadBurst      int     `mapstructure:"read_burst" validate:"min=0"`
}

// SpoolConfig holds file upload spooling configuration.
type SpoolConfig struct {
	Dir string `mapstructure:"dir"`
}

// CORSConfig holds cross-origin settings.
type CORSConfig struct {
	Enabled        bool     `mapstructure:"enabled"`
	AllowedOrigins []string `mapstructure:"allowed_origins" validate:"required_if=Enabled true"`
	MaxAge         int      `mapstructure:"max_age" validate:"min=0"`
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level  string `mapstructure:"level" validate:"omitempty,oneof=debug info warn error"`
	Format string `mapstructure:"format" validate:"omitempty,oneof=text json"`
}

func (c *Config) production() bool {
	return c.Env == "prod" || c.Env == "production"
}

// flagToViperKey maps CLI flag names to viper configuration keys.
var flagToViperKey = map[string]string{
	"port":           "server.port",
	"max-body-bytes": "limits.max_body_bytes",
	"max-part-bytes": "limits.max_part_bytes",
	"read-rate":      "limits.read_rate",
	"spool-dir":      "spool.dir",
	"log-level":      "log.level",
	"log-format":     "log.format",
}

// bindFlags binds explicitly set CLI flags to viper keys.
func bindFlags(v *viper.Viper, flags *pflag.FlagSet) {
	flags.VisitAll(func(f *pflag.Flag) {
		key := f.Name
		if mapped, ok := flagToViperKey[key]; ok {
			key = mapped
		}
		if f.Changed {
			_ = v.BindPFlag(key, f)
		}
	})
}

// setDefaults configures default values on the viper instance.
func setDefaults(v *viper.Viper) {
	v.SetDefault("env", "dev")

	v.SetDefault("server.port", 8080)
	v.SetDefault("server.shutdown_timeout", 30*time.Second)

	v.SetDefault("limits.max_body_bytes", 64<<20)
	v.SetDefault("limits.max_header_bytes", 16<<10)
	v.SetDefault("limits.max_part_bytes", 0) // 0 means no limit
	v.SetDefault("limits.read_rate", 0)      // bytes per second, 0 means unthrottled
	v.SetDefault("limits.read_burst", 32<<10)

	v.SetDefault("cors.enabled", false)
	v.SetDefault("cors.max_age", 300)
}

// Load reads configuration and returns a validated Config.
// Order of precedence (highest to lowest): flags > env > config file > defaults.
func Load(configFile string, flags *pflag.FlagSet) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	if configFile != "" {
		v.SetConfigFile(configFile)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}
	if err := v.ReadInConfig(); err != nil {
		var configNotFound viper.ConfigFileNotFoundError
		if configFile != "" || !errors.As(err, &configNotFound) {
			slog.Warn("error reading config file", "err", err)
		}
	}

	v.SetEnvPrefix("MULTIPARTD")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if flags != nil {
		bindFlags(v, flags)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	validate := validator.New()
	if err := validate.Struct(&cfg); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return &cfg, nil
}

// configKey is the context key for storing the loaded configuration.
type configKey struct{}

// withConfig returns a new context with the config stored.
func withConfig(ctx context.Context, cfg *Config) context.Context {
	return context.WithValue(ctx, configKey{}, cfg)
}

// configFromContext retrieves the config from context.
func configFromContext(ctx context.Context) (*Config, error) {
	cfg, ok := ctx.Value(configKey{}).(*Config)
	if !ok || cfg == nil {
		return nil, errors.New("config not found in context")
	}
	return cfg, nil
}
