// Package commands provides modular CLI command packages for hosts of the operations framework.
//
// There are two ways to use commands from this package:
//
// 1. Via the Commands factory (recommended for most use cases):
//
//	cmds := commands.New(lggr)
//	app.AddCommand(
//	    cmds.Run(commands.RunConfig{Registry: registry}),
//	    cmds.Logs(),
//	)
//
// 2. Via direct package imports (for advanced DI/testing):
//
//	import "github.com/smartcontractkit/vcs-operations-framework/pkg/commands/run"
//
//	app.AddCommand(run.NewCommand(run.Config{
//	    Logger: lggr,
//	    Deps:   &run.Deps{...},  // inject fakes for testing
//	}))
package commands

import (
	"github.com/spf13/cobra"

	"github.com/smartcontractkit/vcs-operations-framework/operations"
	"github.com/smartcontractkit/vcs-operations-framework/pkg/commands/logs"
	"github.com/smartcontractkit/vcs-operations-framework/pkg/commands/run"
	"github.com/smartcontractkit/vcs-operations-framework/pkg/logger"
)

// Commands provides a factory for creating CLI commands with shared configuration.
// This allows setting the logger once and reusing it across all commands.
type Commands struct {
	lggr logger.Logger
}

// New creates a new Commands factory with the given logger.
// A nil logger makes the run command build its logger from the log configuration.
func New(lggr logger.Logger) *Commands {
	return &Commands{lggr: lggr}
}

// RunConfig holds configuration for the run command.
type RunConfig struct {
	// Registry resolves the handlers referenced by 'uses' steps of pipeline files.
	// Hosts register their operations here.
	Registry *operations.HandlerRegistry
}

// Run creates the command running pipeline files.
//
// Usage:
//
//	cmds := commands.New(lggr)
//	rootCmd.AddCommand(cmds.Run(commands.RunConfig{Registry: registry}))
func (c *Commands) Run(cfg RunConfig) *cobra.Command {
	return run.NewCommand(run.Config{
		Logger: c.lggr,
		Deps:   &run.Deps{Registry: cfg.Registry},
	})
}

// Logs creates the command group inspecting the persisted log of failed runs.
func (c *Commands) Logs() *cobra.Command {
	return logs.NewCommand(logs.Config{Logger: c.lggr})
}
