// Package config loads the configuration of the operations framework from a YAML file and
// environment variables.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"slices"

	"github.com/spf13/viper"

	"github.com/smartcontractkit/vcs-operations-framework/operations"
	"github.com/smartcontractkit/vcs-operations-framework/pkg/logger"
	"github.com/smartcontractkit/vcs-operations-framework/pkg/messages"
)

// LogConfig is the configuration of the structured logger.
type LogConfig struct {
	Level    string `mapstructure:"level" yaml:"level"`       // One of debug, info, warn, error
	Encoding string `mapstructure:"encoding" yaml:"encoding"` // json or console
}

// SchedulerConfig is the configuration of composite operations.
type SchedulerConfig struct {
	CheckWarnings bool `mapstructure:"check_warnings" yaml:"check_warnings"` // Skip dependents of steps that finished with warnings
}

// LogStoreConfig is the configuration of the persistent log failed runs are written to.
//
// WARNING: This data type contains sensitive fields and should not be logged or set in file
// configuration.
type LogStoreConfig struct {
	Driver        string `mapstructure:"driver" yaml:"driver"`                 // postgres, ramsql or empty to keep the log in memory
	DSN           string `mapstructure:"dsn" yaml:"dsn"`                       // Secret: The data source name of the database
	Table         string `mapstructure:"table" yaml:"table"`                   // The table entries are written to
	WriteAttempts uint   `mapstructure:"write_attempts" yaml:"write_attempts"` // How many times a failed write is attempted
}

// MessagesConfig is the configuration of the message catalog.
type MessagesConfig struct {
	CatalogPath string `mapstructure:"catalog_path" yaml:"catalog_path"` // A TOML file overriding the default messages
}

// Config wraps the entire configuration of the framework.
type Config struct {
	PluginID  string          `mapstructure:"plugin_id" yaml:"plugin_id"`
	Log       LogConfig       `mapstructure:"log" yaml:"log"`
	Scheduler SchedulerConfig `mapstructure:"scheduler" yaml:"scheduler"`
	LogStore  LogStoreConfig  `mapstructure:"log_store" yaml:"log_store"`
	Messages  MessagesConfig  `mapstructure:"messages" yaml:"messages"`
}

// Load loads the config from the file path, falling back to env vars if the file does not exist.
// If the file exists, any env vars that are set will override the values loaded from the file.
func Load(filePath string) (*Config, error) {
	v := newViper()
	v.SetConfigFile(filePath)

	if err := bindEnvs(v); err != nil {
		return nil, err
	}

	if _, err := os.Stat(filePath); !errors.Is(err, fs.ErrNotExist) {
		if err := v.ReadInConfig(); err != nil {
			return nil, err
		}
	}

	return unmarshal(v)
}

// LoadEnv loads the config from the environment variables.
func LoadEnv() (*Config, error) {
	v := newViper()

	if err := bindEnvs(v); err != nil {
		return nil, err
	}

	return unmarshal(v)
}

// LoadFile loads the config from a file.
func LoadFile(filePath string) (*Config, error) {
	v := newViper()
	v.SetConfigFile(filePath)

	if err := v.ReadInConfig(); err != nil {
		return nil, err
	}

	return unmarshal(v)
}

// Validate checks the values that cannot be checked by the type system.
func (c *Config) Validate() error {
	var errs []error
	if _, err := logger.ParseConfig(c.Log.Level, c.Log.Encoding); err != nil {
		errs = append(errs, err)
	}
	switch c.LogStore.Driver {
	case "":
	case "postgres", "ramsql":
		if c.LogStore.DSN == "" {
			errs = append(errs, fmt.Errorf("log_store.dsn is required for driver %q", c.LogStore.Driver))
		}
	default:
		errs = append(errs, fmt.Errorf("unsupported log_store.driver %q", c.LogStore.Driver))
	}

	return errors.Join(errs...)
}

// Logger builds the logger described by the log configuration.
func (c LogConfig) Logger() (logger.Logger, error) {
	cfg, err := logger.ParseConfig(c.Level, c.Encoding)
	if err != nil {
		return nil, err
	}

	return cfg.New()
}

// Resolver returns the default message catalog, overlaid with the configured catalog file.
func (c MessagesConfig) Resolver() (messages.Resolver, error) {
	if c.CatalogPath == "" {
		return messages.Default(), nil
	}

	catalog, err := messages.LoadFile(c.CatalogPath)
	if err != nil {
		return nil, err
	}

	return catalog, nil
}

func newViper() *viper.Viper {
	v := viper.New()
	v.SetDefault("plugin_id", operations.DefaultPluginID)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.encoding", "console")
	v.SetDefault("log_store.table", "operation_log")
	v.SetDefault("log_store.write_attempts", 3)

	return v
}

func unmarshal(v *viper.Viper) (*Config, error) {
	cfg := &Config{}
	err := v.Unmarshal(cfg)

	return cfg, err
}

var (
	// envBindings defines how environment variables map to configuration keys used by Viper.
	// The first name of each list is preferred, the others are accepted for compatibility with
	// common deployment conventions.
	envBindings = map[string][]string{
		"plugin_id":                {"OPS_PLUGIN_ID"},
		"log.level":                {"OPS_LOG_LEVEL", "LOG_LEVEL"},
		"log.encoding":             {"OPS_LOG_ENCODING"},
		"scheduler.check_warnings": {"OPS_SCHEDULER_CHECK_WARNINGS"},
		"log_store.driver":         {"OPS_LOG_STORE_DRIVER"},
		"log_store.dsn":            {"OPS_LOG_STORE_DSN", "DATABASE_URL"},
		"log_store.table":          {"OPS_LOG_STORE_TABLE"},
		"log_store.write_attempts": {"OPS_LOG_STORE_WRITE_ATTEMPTS"},
		"messages.catalog_path":    {"OPS_MESSAGES_CATALOG_PATH"},
	}
)

// bindEnvs binds the environment variables to the viper instance.
func bindEnvs(v *viper.Viper) error {
	for key, envs := range envBindings {
		inputs := slices.Insert(slices.Clone(envs), 0, key)

		if err := v.BindEnv(inputs...); err != nil {
			return err
		}
	}

	return nil
}
