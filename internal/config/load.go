package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

// EnvPrefix is prepended to every environment variable read by Load,
// e.g. SIFT_STORE_PATH overrides store.path.
const EnvPrefix = "SIFT"

// setDefaults registers a default for every key so that AutomaticEnv can
// resolve environment overrides during Unmarshal.
func setDefaults(v *viper.Viper) {
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	v.SetDefault("sort.base_dir", "")
	v.SetDefault("sort.max_lines", 100000)
	v.SetDefault("sort.max_workers", 4)
	v.SetDefault("sort.order", "bytewise")
	v.SetDefault("sort.max_open_chunks", 128)
	v.SetDefault("sort.temp_dir", "")
	v.SetDefault("sort.banner", []string{"# Generated by sift"})
	v.SetDefault("sort.excluded_dirs", []string{"logs", ".git"})
	v.SetDefault("sort.excluded_files", []string{".lock", "README.md"})

	v.SetDefault("store.path", "sift.db")
	v.SetDefault("store.busy_timeout", 5*time.Second)
	v.SetDefault("store.stale_after", 30*time.Minute)

	v.SetDefault("dispatch.workers_count", 0)
	v.SetDefault("dispatch.files_per_pool", 16)
	v.SetDefault("dispatch.queue_size", 256)

	v.SetDefault("server.port", 8080)
}

// Load reads configuration from defaults, an optional config file and
// environment variables. Environment variables take precedence over values
// from the config file. If path is empty, a file named sift.{yaml,json,toml}
// in the working directory is used when present.
// Returns a populated Config struct or an error if loading/validation fails.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("sift")
		v.AddConfigPath(".")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := Validate(&cfg); err != nil {
		return nil, err
	}
	cfg.ConfigFile = v.ConfigFileUsed()

	return &cfg, nil
}

// Validate checks the struct tags of cfg.
func Validate(cfg *Config) error {
	if err := validator.New().Struct(cfg); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	return nil
}
