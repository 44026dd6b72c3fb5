// Package config loads service settings from a YAML file with PHI_
// environment overrides and watches the file for changes.
package config

import (
	"errors"
	"fmt"
	"reflect"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

var (
	mu      sync.Mutex
	current *viper.Viper
)

// Load loads configuration from file and environment variables
func Load(configPath string) (*Config, error) {
	config := GetDefaults()

	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./configs")
	v.AddConfigPath("/etc/phi-sentinel/")
	v.AddConfigPath("$HOME/.phi-sentinel/")

	// Environment variable overrides, e.g. PHI_NER_URL
	v.SetEnvPrefix("PHI")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	registerDefaults(v, "", reflect.ValueOf(config).Elem())

	if configPath != "" {
		v.SetConfigFile(configPath)
	}

	if err := v.ReadInConfig(); err != nil {
		// Config file not found is not an error - we'll use defaults
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	if err := v.Unmarshal(config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := Validate(config); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	mu.Lock()
	current = v
	mu.Unlock()
	return config, nil
}

// registerDefaults makes every key known to viper so that environment
// overrides apply even when the file omits the key
func registerDefaults(v *viper.Viper, prefix string, val reflect.Value) {
	t := val.Type()
	for i := 0; i < t.NumField(); i++ {
		field := t.Field(i)
		if !field.IsExported() {
			continue
		}
		tag := field.Tag.Get("mapstructure")
		name, opts, _ := strings.Cut(tag, ",")
		fv := val.Field(i)

		if opts == "squash" && fv.Kind() == reflect.Struct {
			registerDefaults(v, prefix, fv)
			continue
		}
		if name == "" || name == "-" {
			continue
		}
		key := name
		if prefix != "" {
			key = prefix + "." + name
		}
		if fv.Kind() == reflect.Struct && fv.Type().String() != "time.Time" {
			registerDefaults(v, key, fv)
			continue
		}
		v.SetDefault(key, fv.Interface())
	}
}

// Validate checks the loaded configuration
func Validate(config *Config) error {
	if config.Server.Port <= 0 || config.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", config.Server.Port)
	}
	if config.Server.MaxBodyBytes <= 0 {
		return fmt.Errorf("invalid max body size: %d", config.Server.MaxBodyBytes)
	}

	switch config.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid log level: %s (must be debug, info, warn, or error)", config.Logging.Level)
	}
	if config.Logging.Format != "json" && config.Logging.Format != "console" {
		return fmt.Errorf("invalid log format: %s (must be json or console)", config.Logging.Format)
	}

	if err := config.NER.Validate(); err != nil {
		return err
	}
	if err := config.Resolver.Validate(); err != nil {
		return fmt.Errorf("invalid resolver policy: %w", err)
	}

	switch config.Storage.Metadata.Driver {
	case "", "sqlite", "postgres":
	default:
		return fmt.Errorf("invalid metadata driver: %s (must be sqlite or postgres)", config.Storage.Metadata.Driver)
	}
	if config.Storage.Metadata.Driver != "" && config.Storage.Metadata.DSN == "" {
		return fmt.Errorf("metadata dsn is required for driver %s", config.Storage.Metadata.Driver)
	}

	switch config.Storage.ReidMap.Backend {
	case "file":
		if config.Storage.ReidMap.Dir == "" {
			return fmt.Errorf("reid map dir is required for the file backend")
		}
	case "redis":
		if !config.Redis.Enabled {
			return fmt.Errorf("redis must be enabled for the redis reid map backend")
		}
	default:
		return fmt.Errorf("invalid reid map backend: %s (must be file or redis)", config.Storage.ReidMap.Backend)
	}

	if config.Redis.Enabled && config.Redis.RedisURL == "" {
		return fmt.Errorf("redis url is required when redis is enabled")
	}
	if config.Redis.CandidateCache && !config.Redis.Enabled {
		return fmt.Errorf("candidate cache requires redis")
	}

	if config.Batch.Workers < 1 || config.Batch.PageWorkers < 1 {
		return fmt.Errorf("batch workers must be at least 1")
	}
	return nil
}

// Watch reloads the configuration file on change and hands every valid
// version to callback. Invalid versions are logged and skipped.
func Watch(callback func(*Config), log *zap.Logger) error {
	mu.Lock()
	v := current
	mu.Unlock()
	if v == nil {
		return fmt.Errorf("configuration not loaded")
	}
	if v.ConfigFileUsed() == "" {
		return fmt.Errorf("no configuration file to watch")
	}
	if log == nil {
		log = zap.NewNop()
	}

	v.OnConfigChange(func(e fsnotify.Event) {
		newConfig := GetDefaults()
		if err := v.Unmarshal(newConfig); err != nil {
			log.Error("Failed to reload configuration", zap.String("file", e.Name), zap.Error(err))
			return
		}
		if err := Validate(newConfig); err != nil {
			log.Error("Reloaded configuration is invalid", zap.String("file", e.Name), zap.Error(err))
			return
		}
		log.Info("Configuration reloaded", zap.String("file", e.Name))
		callback(newConfig)
	})
	v.WatchConfig()
	return nil
}
