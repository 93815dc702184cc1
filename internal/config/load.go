package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

// EnvPrefix is the prefix of every environment variable read by Load.
const EnvPrefix = "ZRA"

// setDefaults registers the default value of every optional setting.
func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.log_level", "info")
	v.SetDefault("database.url", "")
	v.SetDefault("auth.token_lifetime_minutes", 60)
	v.SetDefault("portal.request_timeout", "30s")
	v.SetDefault("queues.tabs.max_concurrent", 2)
	v.SetDefault("queues.tabs.min_delay", "1s")
	v.SetDefault("queues.requests.max_concurrent", 10)
	v.SetDefault("queues.requests.min_delay", "0s")
	v.SetDefault("queues.downloads.max_concurrent", 3)
	v.SetDefault("queues.downloads.min_delay", "500ms")
	v.SetDefault("downloads.dir", "downloads")
}

// bindEnvs binds every known key to its environment variable so that
// Unmarshal sees values that only exist in the environment.
func bindEnvs(v *viper.Viper) error {
	keys := []string{
		"server.port",
		"server.log_level",
		"database.url",
		"auth.jwt_secret",
		"auth.token_lifetime_minutes",
		"portal.base_url",
		"portal.request_timeout",
		"queues.tabs.max_concurrent",
		"queues.tabs.min_delay",
		"queues.requests.max_concurrent",
		"queues.requests.min_delay",
		"queues.downloads.max_concurrent",
		"queues.downloads.min_delay",
		"downloads.dir",
	}
	for _, key := range keys {
		envVar := EnvPrefix + "_" + strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
		if err := v.BindEnv(key, envVar); err != nil {
			return fmt.Errorf("error binding environment variable %s: %w", envVar, err)
		}
	}
	return nil
}

// NewViper returns a viper instance configured with defaults, the ZRA_
// environment and, when configPath is not empty, that config file.
// Without a path, config.yaml in the working directory is used if present.
func NewViper(configPath string) (*viper.Viper, error) {
	v := viper.New()
	setDefaults(v)

	v.SetConfigType("yaml")
	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.AddConfigPath(".")
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if configPath != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	if err := bindEnvs(v); err != nil {
		return nil, err
	}
	return v, nil
}

// Decode unmarshals and validates the configuration held by v.
func Decode(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal configuration: %w", err)
	}

	validate := validator.New()
	if err := validate.Struct(&cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return &cfg, nil
}

// Load configuration from environment variables and optionally a config file.
// Environment variables take precedence over values from the file.
// Returns a populated Config struct or an error if loading/validation fails.
func Load() (*Config, error) {
	return LoadFile("")
}

// LoadFile is Load with an explicit config file path.
func LoadFile(configPath string) (*Config, error) {
	v, err := NewViper(configPath)
	if err != nil {
		return nil, err
	}
	return Decode(v)
}
