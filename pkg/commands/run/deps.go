// Package run provides the CLI command that runs pipeline files.
package run

import (
	"context"

	"github.com/smartcontractkit/vcs-operations-framework/logstore"
	"github.com/smartcontractkit/vcs-operations-framework/operations"
	"github.com/smartcontractkit/vcs-operations-framework/pipeline"
	"github.com/smartcontractkit/vcs-operations-framework/pkg/config"
	"github.com/smartcontractkit/vcs-operations-framework/pkg/logger"
)

// ConfigLoaderFunc loads the framework configuration from a file, falling back to env vars.
type ConfigLoaderFunc func(path string) (*config.Config, error)

// PipelineLoaderFunc loads a pipeline file.
type PipelineLoaderFunc func(path string) (*pipeline.Pipeline, error)

// LogSinkOpenerFunc opens the log sink failures are persisted to. The returned close function
// is called once the pipeline finished.
type LogSinkOpenerFunc func(
	ctx context.Context,
	cfg config.LogStoreConfig,
	lggr logger.Logger,
) (operations.LogSink, func() error, error)

// defaultLogSinkOpener opens the configured log store, or an in-memory sink when no driver is
// configured.
func defaultLogSinkOpener(
	ctx context.Context,
	cfg config.LogStoreConfig,
	lggr logger.Logger,
) (operations.LogSink, func() error, error) {
	if cfg.Driver == "" {
		return operations.NewMemoryLogSink(), func() error { return nil }, nil
	}

	store, err := logstore.Open(ctx, cfg.Driver, cfg.DSN,
		logstore.WithTable(cfg.Table),
		logstore.WithLogger(lggr),
		logstore.WithWriteAttempts(cfg.WriteAttempts),
	)
	if err != nil {
		return nil, nil, err
	}

	return store, store.Close, nil
}

// Deps holds the injectable dependencies for the run command.
// All fields are optional; nil values will use production defaults.
type Deps struct {
	// ConfigLoader loads the framework configuration.
	// Default: config.Load
	ConfigLoader ConfigLoaderFunc

	// PipelineLoader loads the pipeline file.
	// Default: pipeline.Load
	PipelineLoader PipelineLoaderFunc

	// LogSinkOpener opens the sink failures are persisted to.
	// Default: logstore.Open, or an in-memory sink when no driver is configured
	LogSinkOpener LogSinkOpenerFunc

	// Runner runs the commands of pipeline steps.
	// Default: pipeline.ExecRunner
	Runner pipeline.Runner

	// Registry resolves the handlers referenced by 'uses' steps.
	// Default: an empty registry
	Registry *operations.HandlerRegistry
}

// applyDefaults fills in nil dependencies with production defaults.
func (d *Deps) applyDefaults() {
	if d.ConfigLoader == nil {
		d.ConfigLoader = config.Load
	}
	if d.PipelineLoader == nil {
		d.PipelineLoader = pipeline.Load
	}
	if d.LogSinkOpener == nil {
		d.LogSinkOpener = defaultLogSinkOpener
	}
	if d.Runner == nil {
		d.Runner = pipeline.ExecRunner{}
	}
	if d.Registry == nil {
		d.Registry = operations.NewHandlerRegistry()
	}
}
