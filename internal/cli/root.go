// Package cli is the sysmoni command line: flag parsing, config loading and
// dispatch to the dashboard or one of the export modes.
package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/Dicklesworthstone/sysmoni/internal/config"
)

// runFunc executes the monitor with a loaded config. Tests swap it out.
type runFunc func(ctx context.Context, cfg config.Config, out io.Writer) error

// NewRootCommand builds the sysmoni command with its own viper instance.
func NewRootCommand() *cobra.Command {
	return newRootCommand(run)
}

func newRootCommand(fn runFunc) *cobra.Command {
	v := viper.New()
	config.SetDefaults(v)

	cmd := &cobra.Command{
		Use:   "sysmoni",
		Short: "Terminal system monitor",
		Long: `Sample CPU, memory, disk, network, temperature, GPU, battery and
process metrics on a fixed interval and show them as a live dashboard.

Settings resolve in this order: flags, SRPS_SYSMONI_* environment
variables, the config file, built-in defaults.

Examples:
  sysmoni
  sysmoni --interval 500ms --sort mem --tree
  sysmoni --filter '^post' --filter-regex
  sysmoni --json | jq .cpu
  sysmoni --json-stream --interval 5s >> metrics.ndjson`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(v)
			if err != nil {
				return err
			}
			return fn(cmd.Context(), cfg, cmd.OutOrStdout())
		},
	}
	bindFlags(cmd, v)
	cmd.AddCommand(newVersionCommand())
	return cmd
}

// Execute runs the root command and exits non-zero on error.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := NewRootCommand().ExecuteContext(ctx)
	stop()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
