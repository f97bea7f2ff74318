package run

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/smartcontractkit/vcs-operations-framework/operations"
	"github.com/smartcontractkit/vcs-operations-framework/pipeline"
	"github.com/smartcontractkit/vcs-operations-framework/pkg/logger"
	"github.com/smartcontractkit/vcs-operations-framework/progress"
)

// ErrPipelineFailed is returned when the pipeline finished with an ERROR status.
var ErrPipelineFailed = errors.New("pipeline failed")

// Config holds the configuration of the run command.
type Config struct {
	// Logger overrides the logger built from the log configuration.
	Logger logger.Logger

	// Deps overrides the production dependencies, e.g. to inject fakes in tests.
	Deps *Deps
}

// deps applies defaults to the optional dependencies.
func (c *Config) deps() {
	if c.Deps == nil {
		c.Deps = &Deps{}
	}
	c.Deps.applyDefaults()
}

type flags struct {
	file          string
	configPath    string
	checkWarnings bool
	noLog         bool
	quiet         bool
}

// NewCommand creates the run command.
//
// Usage:
//
//	rootCmd.AddCommand(run.NewCommand(run.Config{}))
func NewCommand(cfg Config) *cobra.Command {
	cfg.deps()

	var f flags
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run a pipeline",
		Long: `Runs the steps of a pipeline file in order and prints their progress.

Steps whose dependencies failed are skipped. Failures are persisted to the configured log store.
The command exits with an error when the pipeline finished with an ERROR status.`,
		Example: `  oprun run -f nightly.yml
  oprun run -f nightly.yml --config oprun.yml --check-warnings`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cmd.SilenceUsage = true

			return runPipeline(cmd, cfg, f)
		},
	}

	cmd.Flags().StringVarP(&f.file, "file", "f", "", "Pipeline file (required)")
	cmd.Flags().StringVarP(&f.configPath, "config", "c", "oprun.yml", "Configuration file, env vars are used when it does not exist")
	cmd.Flags().BoolVar(&f.checkWarnings, "check-warnings", false, "Skip dependents of steps that finished with warnings")
	cmd.Flags().BoolVar(&f.noLog, "no-log", false, "Do not persist failures to the log store")
	cmd.Flags().BoolVarP(&f.quiet, "quiet", "q", false, "Only print warnings and errors")
	_ = cmd.MarkFlagRequired("file")

	return cmd
}

func runPipeline(cmd *cobra.Command, cfg Config, f flags) (err error) {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	appCfg, err := cfg.Deps.ConfigLoader(f.configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if err = appCfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	lggr := cfg.Logger
	if lggr == nil {
		if lggr, err = appCfg.Log.Logger(); err != nil {
			return err
		}
	}

	resolver, err := appCfg.Messages.Resolver()
	if err != nil {
		return err
	}

	p, err := cfg.Deps.PipelineLoader(f.file)
	if err != nil {
		return err
	}
	p.CheckWarnings = p.CheckWarnings || f.checkWarnings || appCfg.Scheduler.CheckWarnings

	sink, closeSink, err := cfg.Deps.LogSinkOpener(ctx, appCfg.LogStore, lggr)
	if err != nil {
		return fmt.Errorf("failed to open log store: %w", err)
	}
	defer func() {
		err = errors.Join(err, closeSink())
	}()

	b := operations.NewBundle(lggr,
		operations.WithMessages(resolver),
		operations.WithLogSink(sink),
		operations.WithPluginID(appCfg.PluginID),
		operations.WithHandlerRegistry(cfg.Deps.Registry),
	)
	root, err := pipeline.Build(b, p, pipeline.WithRunner(cfg.Deps.Runner))
	if err != nil {
		return err
	}

	consoleOpts := []progress.ConsoleOption{progress.WithConsoleMessages(resolver)}
	if f.quiet {
		consoleOpts = append(consoleOpts, progress.WithMinSeverity(operations.SeverityWarning))
	}
	console := progress.NewConsole(cmd.OutOrStdout(), consoleOpts...)
	monitor := progress.NewMonitor(ctx, lggr)

	var execOpts []operations.ExecuteOption
	execOpts = append(execOpts, operations.WithExecuteSink(console))
	if f.noLog {
		execOpts = append(execOpts, operations.WithoutLogging())
	}

	st, execErr := operations.Execute(b, root, monitor, execOpts...)
	if cerr := console.Err(); cerr != nil {
		lggr.Warnw("Failed to write progress", "error", cerr)
	}
	lggr.Infow("Pipeline finished", "pipeline", p.Name, "severity", st.Severity().String())

	if execErr != nil {
		return fmt.Errorf("%w: %s: %w", ErrPipelineFailed, p.Name, execErr)
	}

	return nil
}
