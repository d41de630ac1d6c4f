package config

import (
	"log/slog"
	"net"
	"net/url"
	"strings"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/go-ozzo/ozzo-validation/v4/is"
	"github.com/spf13/viper"
)

const (
	EnvDev     = "dev"
	EnvStaging = "staging"
	EnvProd    = "prod"
)

const (
	LogLevelDebug = "debug"
	LogLevelInfo  = "info"
	LogLevelWarn  = "warn"
	LogLevelError = "error"
)

type ServerConfig struct {
	Environment string `mapstructure:"environment"`
}

type ServingConfig struct {
	Address           string  `mapstructure:"address"`
	CascadePath       string  `mapstructure:"cascade_path"`
	MockPredictions   bool    `mapstructure:"mock_predictions"`
	FallbackThreshold float64 `mapstructure:"fallback_threshold"`
}

type VisionConfig struct {
	APIKey  string `mapstructure:"api_key"`
	BaseURL string `mapstructure:"base_url"`
	Model   string `mapstructure:"model"`
}

type GatewayConfig struct {
	Address string `mapstructure:"address"`
}

type MLConfig struct {
	URL        string `mapstructure:"url"`
	Timeout    string `mapstructure:"timeout"`
	MaxRetries int    `mapstructure:"max_retries"`
	BaseDelay  string `mapstructure:"base_delay"`
}

type BreakerConfig struct {
	FailureThreshold int    `mapstructure:"failure_threshold"`
	Cooldown         string `mapstructure:"cooldown"`
}

type HealthCheckConfig struct {
	Interval string `mapstructure:"interval"`
}

type LoggingConfig struct {
	Level      string `mapstructure:"level"`
	File       string `mapstructure:"file"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
}

type Config struct {
	Server      ServerConfig      `mapstructure:"server"`
	Serving     ServingConfig     `mapstructure:"serving"`
	Vision      VisionConfig      `mapstructure:"vision"`
	Gateway     GatewayConfig     `mapstructure:"gateway"`
	ML          MLConfig          `mapstructure:"ml"`
	Breaker     BreakerConfig     `mapstructure:"breaker"`
	HealthCheck HealthCheckConfig `mapstructure:"health_check"`
	Logging     LoggingConfig     `mapstructure:"logging"`
}

func Load() (*Config, error) {
	viper.SetDefault("server.environment", EnvDev)
	viper.SetDefault("serving.address", ":8000")
	viper.SetDefault("serving.cascade_path", "cascade/facefinder")
	viper.SetDefault("serving.mock_predictions", false)
	viper.SetDefault("serving.fallback_threshold", 0.4)
	viper.SetDefault("vision.api_key", "")
	viper.SetDefault("vision.base_url", "https://api.openai.com/v1")
	viper.SetDefault("vision.model", "gpt-4o-mini")
	viper.SetDefault("gateway.address", ":8080")
	viper.SetDefault("ml.url", "http://localhost:8000")
	viper.SetDefault("ml.timeout", "10s")
	viper.SetDefault("ml.max_retries", 3)
	viper.SetDefault("ml.base_delay", "250ms")
	viper.SetDefault("breaker.failure_threshold", 3)
	viper.SetDefault("breaker.cooldown", "30s")
	viper.SetDefault("health_check.interval", "2s")
	viper.SetDefault("logging.level", LogLevelInfo)
	viper.SetDefault("logging.file", "")
	viper.SetDefault("logging.max_size_mb", 50)
	viper.SetDefault("logging.max_backups", 5)
	viper.SetDefault("logging.max_age_days", 14)

	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath("./config")
	viper.AddConfigPath(".")

	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			slog.Error("failed to read config file", slog.String("error", err.Error()))
			return nil, err
		}
		slog.Error("config file not found, using defaults and environment variables")
	} else {
		slog.Info("loaded config file", slog.String("file", viper.ConfigFileUsed()))
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		slog.Error("failed to unmarshal config", slog.String("error", err.Error()))
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		slog.Error("invalid configuration", slog.String("error", err.Error()))
		return nil, err
	}

	return &cfg, nil
}

func (c *Config) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Server,
			validation.Required,
			validation.By(func(value interface{}) error {
				sc, ok := value.(ServerConfig)
				if !ok {
					return validation.NewError("validation_invalid_type", "must be a ServerConfig")
				}
				return validation.ValidateStruct(&sc,
					validation.Field(&sc.Environment,
						validation.Required,
						validation.In(EnvDev, EnvStaging, EnvProd),
					),
				)
			}),
		),
		validation.Field(&c.Serving,
			validation.Required,
			validation.By(func(value interface{}) error {
				sc, ok := value.(ServingConfig)
				if !ok {
					return validation.NewError("validation_invalid_type", "must be a ServingConfig")
				}
				return validation.ValidateStruct(&sc,
					validation.Field(&sc.Address,
						validation.Required,
						validation.By(validateHostPort),
					),
					validation.Field(&sc.FallbackThreshold,
						validation.Min(0.0),
						validation.Max(1.0),
					),
				)
			}),
		),
		validation.Field(&c.Vision,
			validation.By(func(value interface{}) error {
				vc, ok := value.(VisionConfig)
				if !ok {
					return validation.NewError("validation_invalid_type", "must be a VisionConfig")
				}
				// The vision fallback is opt-in: without an API key the
				// remaining fields are never used.
				if vc.APIKey == "" {
					return nil
				}
				return validation.ValidateStruct(&vc,
					validation.Field(&vc.BaseURL,
						validation.Required,
						validation.By(validateServerURL),
					),
					validation.Field(&vc.Model,
						validation.Required,
					),
				)
			}),
		),
		validation.Field(&c.Gateway,
			validation.Required,
			validation.By(func(value interface{}) error {
				gc, ok := value.(GatewayConfig)
				if !ok {
					return validation.NewError("validation_invalid_type", "must be a GatewayConfig")
				}
				return validation.ValidateStruct(&gc,
					validation.Field(&gc.Address,
						validation.Required,
						validation.By(validateHostPort),
					),
				)
			}),
		),
		validation.Field(&c.ML,
			validation.Required,
			validation.By(func(value interface{}) error {
				mc, ok := value.(MLConfig)
				if !ok {
					return validation.NewError("validation_invalid_type", "must be a MLConfig")
				}
				return validation.ValidateStruct(&mc,
					validation.Field(&mc.URL,
						validation.Required,
						validation.By(validateServerURL),
					),
					validation.Field(&mc.Timeout,
						validation.Required,
						validation.By(validateDuration),
					),
					validation.Field(&mc.MaxRetries,
						validation.Required,
						validation.Min(1),
					),
					validation.Field(&mc.BaseDelay,
						validation.Required,
						validation.By(validateDuration),
					),
				)
			}),
		),
		validation.Field(&c.Breaker,
			validation.Required,
			validation.By(func(value interface{}) error {
				bc, ok := value.(BreakerConfig)
				if !ok {
					return validation.NewError("validation_invalid_type", "must be a BreakerConfig")
				}
				return validation.ValidateStruct(&bc,
					validation.Field(&bc.FailureThreshold,
						validation.Required,
						validation.Min(1),
					),
					validation.Field(&bc.Cooldown,
						validation.Required,
						validation.By(validateDuration),
					),
				)
			}),
		),
		validation.Field(&c.HealthCheck,
			validation.Required,
			validation.By(func(value interface{}) error {
				hc, ok := value.(HealthCheckConfig)
				if !ok {
					return validation.NewError("validation_invalid_type", "must be a HealthCheckConfig")
				}
				return validation.ValidateStruct(&hc,
					validation.Field(&hc.Interval,
						validation.Required,
						validation.By(validateDuration),
					),
				)
			}),
		),
		validation.Field(&c.Logging,
			validation.Required,
			validation.By(func(value interface{}) error {
				lc, ok := value.(LoggingConfig)
				if !ok {
					return validation.NewError("validation_invalid_type", "must be a LoggingConfig")
				}
				fields := []*validation.FieldRules{
					validation.Field(&lc.Level,
						validation.Required,
						validation.In(LogLevelDebug, LogLevelInfo, LogLevelWarn, LogLevelError),
					),
				}
				if lc.File != "" {
					fields = append(fields,
						validation.Field(&lc.MaxSizeMB,
							validation.Required,
							validation.Min(1),
						),
						validation.Field(&lc.MaxBackups,
							validation.Min(0),
						),
						validation.Field(&lc.MaxAgeDays,
							validation.Min(0),
						),
					)
				}
				return validation.ValidateStruct(&lc, fields...)
			}),
		),
	)
}

func validateHostPort(value interface{}) error {
	addr, ok := value.(string)
	if !ok {
		return validation.NewError("validation_invalid_type", "must be a string")
	}

	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		return validation.NewError("validation_invalid_hostport", "must be in host:port format")
	}

	if port == "" {
		return validation.NewError("validation_invalid_port", "port cannot be empty")
	}

	if host != "" {
		if err := is.Host.Validate(host); err != nil {
			return validation.NewError("validation_invalid_host", "invalid host")
		}
	}

	return nil
}

func validateDuration(value interface{}) error {
	durationStr, ok := value.(string)
	if !ok {
		return validation.NewError("validation_invalid_type", "must be a string")
	}

	if _, err := time.ParseDuration(durationStr); err != nil {
		return validation.NewError("validation_invalid_duration", "must be a valid duration (e.g., 2s, 5m, 1h)")
	}

	return nil
}

func validateServerURL(value interface{}) error {
	serverURL, ok := value.(string)
	if !ok {
		return validation.NewError("validation_invalid_type", "must be a string")
	}

	if serverURL == "" {
		return validation.NewError("validation_empty_url", "server URL cannot be empty")
	}

	parsedURL, err := url.Parse(serverURL)
	if err != nil {
		return validation.NewError("validation_invalid_url", "must be a valid URL")
	}

	if parsedURL.Scheme != "http" && parsedURL.Scheme != "https" {
		return validation.NewError("validation_invalid_scheme", "URL must use http or https scheme")
	}

	if parsedURL.Host == "" {
		return validation.NewError("validation_missing_host", "URL must have a host")
	}

	return nil
}
