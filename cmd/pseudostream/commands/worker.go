package commands

import (
	"github.com/spf13/cobra"

	"github.com/Sumatoshi-tech/pseudostream/internal/config"
	"github.com/Sumatoshi-tech/pseudostream/internal/observability"
	"github.com/Sumatoshi-tech/pseudostream/internal/offload"
	"github.com/Sumatoshi-tech/pseudostream/internal/translate"
)

// NewWorkerCommand creates the hidden worker command. The exec start method
// launches it as a child process that answers framed jobs on stdin/stdout.
func NewWorkerCommand() *cobra.Command {
	return newWorkerCommandWithDeps(func() translate.Engine { return translate.NewRuleEngine() })
}

func newWorkerCommandWithDeps(engineFn engineProvider) *cobra.Command {
	return &cobra.Command{
		Use:    offload.WorkerCommandName,
		Short:  "Serve offloaded jobs over stdin/stdout",
		Hidden: true,
		Args:   cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			// The parent's PSEUDOSTREAM_* environment reaches the worker,
			// so the logging section matches the parent's.
			cfg := config.Default()

			loaded, err := config.LoadConfig("")
			if err == nil {
				cfg = *loaded
			}

			obsCfg, err := observabilityConfig(&cfg, observability.ModeWorker)
			if err != nil {
				obsCfg = observability.DefaultConfig()
				obsCfg.Mode = observability.ModeWorker
			}

			logger := observability.NewLogger(cmd.ErrOrStderr(), obsCfg)
			logger.Debug("worker: serving")

			err = offload.ServeWorker(cmd.Context(), cmd.InOrStdin(), cmd.OutOrStdout(),
				translate.Handlers(translate.NewCachedEngine(engineFn(), cfg.ParseCacheBytes)))
			if err != nil {
				logger.Error("worker: stopped", "error", err)

				return err
			}

			return nil
		},
	}
}
