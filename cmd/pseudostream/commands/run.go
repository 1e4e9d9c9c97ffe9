package commands

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/Sumatoshi-tech/pseudostream/internal/config"
	"github.com/Sumatoshi-tech/pseudostream/internal/events"
	"github.com/Sumatoshi-tech/pseudostream/internal/observability"
	"github.com/Sumatoshi-tech/pseudostream/internal/pipeline"
	"github.com/Sumatoshi-tech/pseudostream/internal/translate"
)

// stdinPath selects standard input as the source.
const stdinPath = "-"

// outputFileMode is the permission of files written with --output.
const outputFileMode = 0o644

// ErrIncomplete is returned when a run finished with failed chunks or an
// output that did not validate. The partial output is still written.
var ErrIncomplete = errors.New("translation incomplete")

type engineProvider func() translate.Engine

// RunCommand holds configuration and dependencies for the run command.
type RunCommand struct {
	configPath  string
	outputPath  string
	workers     int
	startMethod string
	target      string
	logLevel    string
	noColor     bool
	quiet       bool

	engineFn engineProvider
}

// NewRunCommand creates the run command.
func NewRunCommand() *cobra.Command {
	return newRunCommandWithDeps(func() translate.Engine { return translate.NewRuleEngine() })
}

func newRunCommandWithDeps(engineFn engineProvider) *cobra.Command {
	rc := &RunCommand{engineFn: engineFn}

	cmd := &cobra.Command{
		Use:   "run [file]",
		Short: "Translate pseudocode in streaming chunks",
		Long: `Translate a pseudocode file (or stdin when omitted or "-") chunk by chunk.
Translated code goes to stdout or --output; the run summary goes to stderr.`,
		Args: cobra.MaximumNArgs(1),
		RunE: rc.run,
	}

	cmd.Flags().StringVarP(&rc.configPath, "config", "c", "", "Config file path (default: ./.pseudostream.yaml, then $HOME)")
	cmd.Flags().StringVarP(&rc.outputPath, "output", "o", "", "Write translated code to this file instead of stdout")
	cmd.Flags().IntVar(&rc.workers, "workers", 0, "Worker pool size (0 = config value)")
	cmd.Flags().StringVar(&rc.startMethod, "start-method", "", "Worker start method: inprocess, exec")
	cmd.Flags().StringVar(&rc.target, "target", "", "Offload target: parse_validate, parse_only, validate_only")
	cmd.Flags().StringVar(&rc.logLevel, "log-level", "", "Log level: debug, info, warn, error")
	cmd.Flags().BoolVar(&rc.noColor, "no-color", false, "Disable colored summary")
	cmd.Flags().BoolVarP(&rc.quiet, "quiet", "q", false, "Suppress the run summary")

	cmd.Flags().Bool("adaptive", false, "Enable adaptive chunk sizing")
	cmd.Flags().Bool("offload", false, "Enable the worker pool")
	cmd.Flags().Bool("strict", false, "Fail on invalid configuration instead of substituting defaults")

	return cmd
}

func (rc *RunCommand) run(cmd *cobra.Command, args []string) error {
	input, err := readInput(cmd, args)
	if err != nil {
		return err
	}

	cfg, err := config.LoadConfigWithOverrides(rc.configPath, rc.overrides(cmd))
	if err != nil {
		return err
	}

	obsCfg, err := observabilityConfig(cfg, observability.ModeCLI)
	if err != nil {
		return err
	}

	providers, err := observability.Init(obsCfg, cmd.ErrOrStderr())
	if err != nil {
		return fmt.Errorf("init observability: %w", err)
	}

	logger := providers.Logger

	defer func() {
		shutdownErr := providers.Shutdown(context.Background())
		if shutdownErr != nil {
			logger.Warn("observability shutdown failed", "error", shutdownErr)
		}
	}()

	for _, problem := range cfg.Problems {
		logger.Warn("config: invalid value replaced by default", "error", problem)
	}

	metrics, err := observability.NewStreamMetrics(providers.Meter)
	if err != nil {
		return fmt.Errorf("create metrics: %w", err)
	}

	recorder := events.NewRecorder()
	bus := events.NewBus(logger)
	bus.SubscribeAll(events.LogDispatcher{Logger: logger}.Dispatch)
	bus.SubscribeAll(recorder.Dispatch)

	engine := translate.NewCachedEngine(rc.engineFn(), cfg.ParseCacheBytes)

	pl, err := pipeline.New(*cfg, engine, pipeline.Deps{
		Logger:     logger,
		Dispatcher: bus,
		Telemetry:  metrics,
		Tracer:     providers.Tracer,
	})
	if err != nil {
		return err
	}

	defer func() {
		closeErr := pl.Close()
		if closeErr != nil {
			logger.Warn("pipeline close failed", "error", closeErr)
		}
	}()

	if addr := cfg.Telemetry.DiagnosticsAddr; addr != "" {
		diag, diagErr := observability.NewDiagnosticsServer(addr, providers.MetricsHandler, logger, pl.Ready)
		if diagErr != nil {
			return fmt.Errorf("start diagnostics: %w", diagErr)
		}

		defer diag.Close()
	}

	report, runErr := pl.Run(cmd.Context(), input)
	if report == nil {
		return runErr
	}

	err = rc.writeOutput(cmd, report.Output)
	if err != nil {
		return err
	}

	if !rc.quiet {
		sum := summary{
			input:    input,
			report:   report,
			recorder: recorder,
			noColor:  rc.noColor,
		}

		if info, offloading := pl.PoolInfo(); offloading {
			sum.pool = &info
		}

		if cached, ok := engine.(*translate.CachedEngine); ok {
			stats := cached.Stats()
			sum.cache = &stats
		}

		writeSummary(cmd.ErrOrStderr(), sum)
	}

	if runErr != nil {
		return runErr
	}

	if len(report.Failed) > 0 {
		return fmt.Errorf("%w: %d of %d chunks failed", ErrIncomplete, len(report.Failed), len(report.Chunks))
	}

	if report.ValidationErr != nil {
		return fmt.Errorf("%w: %w", ErrIncomplete, report.ValidationErr)
	}

	return nil
}

// overrides collects the flags the user actually set.
func (rc *RunCommand) overrides(cmd *cobra.Command) config.Overrides {
	return config.Overrides{
		Adaptive:    changedBool(cmd, "adaptive"),
		Offload:     changedBool(cmd, "offload"),
		Strict:      changedBool(cmd, "strict"),
		Workers:     rc.workers,
		StartMethod: rc.startMethod,
		Target:      rc.target,
		LogLevel:    rc.logLevel,
	}
}

// changedBool returns the flag value only when it was given on the command line.
func changedBool(cmd *cobra.Command, name string) *bool {
	if !cmd.Flags().Changed(name) {
		return nil
	}

	v, err := cmd.Flags().GetBool(name)
	if err != nil {
		return nil // flag is registered; GetBool should not fail.
	}

	return &v
}

func readInput(cmd *cobra.Command, args []string) (string, error) {
	if len(args) == 0 || args[0] == stdinPath {
		data, err := io.ReadAll(cmd.InOrStdin())
		if err != nil {
			return "", fmt.Errorf("read stdin: %w", err)
		}

		return string(data), nil
	}

	data, err := os.ReadFile(args[0])
	if err != nil {
		return "", fmt.Errorf("read input: %w", err)
	}

	return string(data), nil
}

func (rc *RunCommand) writeOutput(cmd *cobra.Command, output string) error {
	if rc.outputPath == "" {
		_, err := io.WriteString(cmd.OutOrStdout(), output)
		if err != nil {
			return fmt.Errorf("write output: %w", err)
		}

		return nil
	}

	err := os.WriteFile(rc.outputPath, []byte(output), outputFileMode)
	if err != nil {
		return fmt.Errorf("write output: %w", err)
	}

	return nil
}
