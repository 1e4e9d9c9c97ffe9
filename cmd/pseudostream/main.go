// Package main provides the entry point for the pseudostream CLI tool.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/Sumatoshi-tech/pseudostream/cmd/pseudostream/commands"
	"github.com/Sumatoshi-tech/pseudostream/pkg/version"
)

func main() {
	version.InitBinaryVersion()

	rootCmd := &cobra.Command{
		Use:   "pseudostream",
		Short: "Pseudostream - streaming pseudocode translator",
		Long: `Pseudostream translates pseudocode to Go-like code chunk by chunk,
adapting chunk size to observed latency and offloading work to a worker pool.

Commands:
  run       Translate a pseudocode file or stdin
  config    Print the resolved configuration`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.AddCommand(commands.NewRunCommand())
	rootCmd.AddCommand(commands.NewConfigCommand())
	rootCmd.AddCommand(commands.NewWorkerCommand())
	rootCmd.AddCommand(versionCmd())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)

	err := rootCmd.ExecuteContext(ctx)

	stop()

	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(_ *cobra.Command, _ []string) {
			fmt.Fprintf(os.Stdout, "pseudostream %s (commit: %s, built: %s)\n", version.Version, version.Commit, version.Date)
		},
	}
}
