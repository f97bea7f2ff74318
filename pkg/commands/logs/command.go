package logs

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/smartcontractkit/vcs-operations-framework/operations"
	"github.com/smartcontractkit/vcs-operations-framework/pkg/logger"
)

// Config holds the configuration of the logs commands.
type Config struct {
	Logger logger.Logger
	Deps   *Deps
}

// deps applies defaults to the optional dependencies.
func (c *Config) deps() {
	if c.Logger == nil {
		c.Logger = logger.Nop()
	}
	if c.Deps == nil {
		c.Deps = &Deps{}
	}
	c.Deps.applyDefaults()
}

// NewCommand creates the logs command group.
//
// Usage:
//
//	rootCmd.AddCommand(logs.NewCommand(logs.Config{Logger: lggr}))
func NewCommand(cfg Config) *cobra.Command {
	cfg.deps()

	cmd := &cobra.Command{
		Use:   "logs",
		Short: "Log store commands",
	}

	cmd.AddCommand(
		newListCmd(cfg),
		newShowCmd(cfg),
		newPruneCmd(cfg),
	)

	cmd.PersistentFlags().
		StringP("config", "c", "oprun.yml", "Configuration file, env vars are used when it does not exist")

	return cmd
}

func newListCmd(cfg Config) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List the logged failures, oldest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withStore(cmd, cfg, func(_ context.Context, store Store) error {
				entries, err := store.GetEntries()
				if err != nil {
					return err
				}
				for _, e := range entries {
					fmt.Fprintf(cmd.OutOrStdout(), "%s  %s  %-7s  %s\n", e.ID, formatTime(e.Timestamp), e.Severity, e.Message)
				}

				return nil
			})
		},
	}
}

func newShowCmd(cfg Config) *cobra.Command {
	return &cobra.Command{
		Use:   "show <id>",
		Short: "Show a logged failure",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(cmd, cfg, func(_ context.Context, store Store) error {
				entry, err := store.GetEntry(args[0])
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s  %s  %s\n", entry.ID, formatTime(entry.Timestamp), entry.PluginID)
				printEntry(cmd.OutOrStdout(), entry, 0)

				return nil
			})
		},
	}
}

func newPruneCmd(cfg Config) *cobra.Command {
	var olderThan time.Duration

	cmd := &cobra.Command{
		Use:   "prune",
		Short: "Delete old logged failures",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if olderThan <= 0 {
				return errors.New("--older-than must be positive")
			}

			return withStore(cmd, cfg, func(ctx context.Context, store Store) error {
				removed, err := store.Prune(ctx, cfg.Deps.Now().Add(-olderThan))
				if err != nil {
					return err
				}
				cfg.Logger.Infow("Pruned log store", "removed", removed, "olderThan", olderThan.String())
				fmt.Fprintf(cmd.OutOrStdout(), "Removed %d log entries.\n", removed)

				return nil
			})
		},
	}
	cmd.Flags().DurationVar(&olderThan, "older-than", 30*24*time.Hour, "Delete entries older than this duration")

	return cmd
}

// withStore loads the configuration, opens the store, runs fn and closes the store.
func withStore(cmd *cobra.Command, cfg Config, fn func(ctx context.Context, store Store) error) (err error) {
	cmd.SilenceUsage = true
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	path, _ := cmd.Flags().GetString("config")
	appCfg, err := cfg.Deps.ConfigLoader(path)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	store, err := cfg.Deps.StoreOpener(ctx, appCfg.LogStore, cfg.Logger)
	if err != nil {
		return fmt.Errorf("failed to open log store: %w", err)
	}
	defer func() {
		err = errors.Join(err, store.Close())
	}()

	return fn(ctx, store)
}

func printEntry(w io.Writer, e operations.LogEntry, depth int) {
	line := fmt.Sprintf("%s%s %s", strings.Repeat("  ", depth), e.Severity, e.Message)
	if e.Err != nil {
		line += ": " + e.Err.Message
	}
	fmt.Fprintln(w, line)
	for _, c := range e.Children {
		printEntry(w, c, depth+1)
	}
}

func formatTime(t *time.Time) string {
	if t == nil {
		return "-"
	}

	return t.UTC().Format(time.RFC3339)
}
