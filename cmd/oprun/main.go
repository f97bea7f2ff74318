// Command oprun runs pipeline files with the operations framework and inspects the log of failed
// runs.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/smartcontractkit/vcs-operations-framework/pkg/commands"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)

	err := newRootCmd().ExecuteContext(ctx)
	stop()
	if err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:     "oprun",
		Short:   "Run operation pipelines",
		Version: version,
	}

	// nil: the run command builds its logger from the configuration file
	cmds := commands.New(nil)
	root.AddCommand(
		cmds.Run(commands.RunConfig{}),
		cmds.Logs(),
	)

	return root
}
