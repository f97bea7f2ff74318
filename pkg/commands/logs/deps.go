// Package logs provides CLI commands to inspect and prune the persisted log of failed runs.
package logs

import (
	"context"
	"errors"
	"time"

	"github.com/smartcontractkit/vcs-operations-framework/logstore"
	"github.com/smartcontractkit/vcs-operations-framework/operations"
	"github.com/smartcontractkit/vcs-operations-framework/pkg/config"
	"github.com/smartcontractkit/vcs-operations-framework/pkg/logger"
)

// ErrNoLogStore is returned when the configuration does not name a log store driver.
var ErrNoLogStore = errors.New("no log store configured, set log_store.driver")

// Store is the part of the log store the commands use.
type Store interface {
	operations.LogStore
	Prune(ctx context.Context, before time.Time) (int64, error)
	Close() error
}

var _ Store = (*logstore.Store)(nil)

// ConfigLoaderFunc loads the framework configuration from a file, falling back to env vars.
type ConfigLoaderFunc func(path string) (*config.Config, error)

// StoreOpenerFunc opens the configured log store.
type StoreOpenerFunc func(ctx context.Context, cfg config.LogStoreConfig, lggr logger.Logger) (Store, error)

// defaultStoreOpener opens the configured log store.
func defaultStoreOpener(ctx context.Context, cfg config.LogStoreConfig, lggr logger.Logger) (Store, error) {
	if cfg.Driver == "" {
		return nil, ErrNoLogStore
	}

	store, err := logstore.Open(ctx, cfg.Driver, cfg.DSN,
		logstore.WithTable(cfg.Table),
		logstore.WithLogger(lggr),
		logstore.WithWriteAttempts(cfg.WriteAttempts),
	)
	if err != nil {
		return nil, err
	}

	return store, nil
}

// Deps holds the injectable dependencies for the logs commands.
// All fields are optional; nil values will use production defaults.
type Deps struct {
	// ConfigLoader loads the framework configuration.
	// Default: config.Load
	ConfigLoader ConfigLoaderFunc

	// StoreOpener opens the log store.
	// Default: logstore.Open
	StoreOpener StoreOpenerFunc

	// Now returns the current time, used to resolve --older-than.
	// Default: time.Now
	Now func() time.Time
}

// applyDefaults fills in nil dependencies with production defaults.
func (d *Deps) applyDefaults() {
	if d.ConfigLoader == nil {
		d.ConfigLoader = config.Load
	}
	if d.StoreOpener == nil {
		d.StoreOpener = defaultStoreOpener
	}
	if d.Now == nil {
		d.Now = time.Now
	}
}
