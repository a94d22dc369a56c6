package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/msageha/gatecheck/internal/events"
	"github.com/msageha/gatecheck/internal/logging"
	"github.com/msageha/gatecheck/internal/model"
	"github.com/msageha/gatecheck/internal/notify"
	"github.com/msageha/gatecheck/internal/pipeline"
	"github.com/msageha/gatecheck/internal/policy"
	"github.com/msageha/gatecheck/internal/report"
	"github.com/msageha/gatecheck/internal/setup"
	"github.com/msageha/gatecheck/internal/watch"
)

const version = "1.0.0"

// Exit codes: 0 approved, 1 blocked, 2 policy or internal error.
const (
	exitApproved = 0
	exitBlocked  = 1
	exitError    = 2
)

// errBlocked marks a finished run whose verdict is blocked, so main can
// distinguish it from operational failures.
var errBlocked = errors.New("gate blocked")

var (
	policyFile  string
	rootDir     string
	format      string
	concurrency int
	timeout     time.Duration
	outputFile  string
	notifyFlag  bool
	logLevel    string
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "gatecheck",
		Short: "Quality gate orchestrator for commit hooks and CI",
		Long: `gatecheck runs a declarative pipeline of quality checks and a
forbidden-pattern scan over a directory, aggregates the results into a
scored report, and enforces a veto-based gate verdict.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().StringVar(&policyFile, "policy", "gatecheck.yaml", "path to the gate policy file")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "log level (debug|info|warn|error)")

	rootCmd.AddCommand(runCmd())
	rootCmd.AddCommand(validateCmd())
	rootCmd.AddCommand(watchCmd())
	rootCmd.AddCommand(initCmd())
	rootCmd.AddCommand(versionCmd())

	if err := rootCmd.Execute(); err != nil {
		if errors.Is(err, errBlocked) {
			os.Exit(exitBlocked)
		}
		fmt.Fprintf(os.Stderr, "gatecheck: %v\n", err)
		os.Exit(exitError)
	}
	os.Exit(exitApproved)
}

func addRunFlags(cmd *cobra.Command) {
	cmd.Flags().StringVar(&rootDir, "root", ".", "directory the checks and scan run against")
	cmd.Flags().StringVar(&format, "format", "text", "report format (text|json)")
	cmd.Flags().IntVar(&concurrency, "concurrency", 0, "worker pool size (0 = policy setting or CPU count)")
	cmd.Flags().DurationVar(&timeout, "timeout", 0, "overall run timeout (0 = policy setting)")
	cmd.Flags().StringVar(&outputFile, "output", "", "also write the JSON report to this file")
	cmd.Flags().BoolVar(&notifyFlag, "notify", false, "raise a desktop notification with the verdict")
}

func runCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the pipeline once and exit with the verdict",
		RunE: func(cmd *cobra.Command, args []string) error {
			logger, err := buildLogger()
			if err != nil {
				return err
			}
			defer func() { _ = logger.Sync() }()

			ctx, stop := signalContext()
			defer stop()

			coord, bus, err := buildCoordinator(logger)
			if err != nil {
				return err
			}
			defer bus.Close()
			defer logProgress(bus, logger)()
			return executeRun(ctx, coord, logger)
		},
	}
	addRunFlags(cmd)
	return cmd
}

func validateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Validate the policy file and report every violation",
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := policy.Load(policyFile)
			if err != nil {
				var verrs *policy.ValidationErrors
				if errors.As(err, &verrs) {
					fmt.Fprint(os.Stderr, verrs.FormatStderr())
				}
				return fmt.Errorf("policy %s: %w", policyFile, err)
			}
			fmt.Printf("policy %s valid: %d checks, %d pattern rules\n",
				policyFile, len(p.Checks), len(p.PatternRules))
			return nil
		},
	}
}

func watchCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Rerun the pipeline on every file change until interrupted",
		RunE: func(cmd *cobra.Command, args []string) error {
			logger, err := buildLogger()
			if err != nil {
				return err
			}
			defer func() { _ = logger.Sync() }()

			ctx, stop := signalContext()
			defer stop()

			coord, bus, err := buildCoordinator(logger)
			if err != nil {
				return err
			}
			defer bus.Close()
			defer logProgress(bus, logger)()

			err = watch.Run(ctx, rootDir, watch.DefaultDebounce, logger, func(runCtx context.Context) {
				if runErr := executeRun(runCtx, coord, logger); runErr != nil && !errors.Is(runErr, errBlocked) {
					logger.Warnf("watch_run error=%v", runErr)
				}
			})
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		},
	}
	addRunFlags(cmd)
	return cmd
}

func initCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init [dir]",
		Short: "Write a starter policy file",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			dir := "."
			if len(args) == 1 {
				dir = args[0]
			}
			path, err := setup.Run(dir)
			if err != nil {
				return err
			}
			fmt.Printf("wrote %s\n", path)
			return nil
		},
	}
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the gatecheck version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("gatecheck %s\n", version)
		},
	}
}

func buildLogger() (*zap.SugaredLogger, error) {
	level, err := logging.ParseLevel(logLevel)
	if err != nil {
		return nil, err
	}
	return logging.New(level)
}

func buildCoordinator(logger *zap.SugaredLogger) (*pipeline.Coordinator, *events.Bus, error) {
	p, err := policy.Load(policyFile)
	if err != nil {
		var verrs *policy.ValidationErrors
		if errors.As(err, &verrs) {
			fmt.Fprint(os.Stderr, verrs.FormatStderr())
		}
		return nil, nil, fmt.Errorf("policy %s: %w", policyFile, err)
	}

	bus := events.NewBus(0)
	coord := pipeline.New(p, logger, bus)
	if concurrency > 0 {
		coord.SetConcurrency(concurrency)
	}
	return coord, bus, nil
}

// logProgress mirrors pipeline events into the run log so long checks
// show liveness while they run. Returns the unsubscribe function.
func logProgress(bus *events.Bus, logger *zap.SugaredLogger) func() {
	unsubStarted := bus.Subscribe(events.EventCheckStarted, func(e events.Event) {
		logger.Infof("check_start id=%v", e.Data["check_id"])
	})
	unsubFinished := bus.Subscribe(events.EventCheckFinished, func(e events.Event) {
		logger.Infof("check_finish id=%v status=%v duration=%v",
			e.Data["check_id"], e.Data["status"], e.Data["duration"])
	})
	return func() {
		unsubStarted()
		unsubFinished()
	}
}

// executeRun runs the pipeline once, renders the report, and returns
// errBlocked when the gate denied the run.
func executeRun(ctx context.Context, coord *pipeline.Coordinator, logger *zap.SugaredLogger) error {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	rep, decision, err := coord.Run(ctx, rootDir)
	if err != nil {
		return err
	}

	if err := emitReport(rep, decision); err != nil {
		return err
	}

	if notifyFlag {
		message := fmt.Sprintf("%s (score %.2f)", rep.Verdict, rep.Score)
		if notifyErr := notify.Send("gatecheck", message); notifyErr != nil {
			logger.Warnf("notify_failed error=%v", notifyErr)
		}
	}

	if rep.Verdict == model.VerdictBlocked {
		return errBlocked
	}
	return nil
}

func emitReport(rep *model.QualityReport, decision model.GateDecision) error {
	switch format {
	case "json":
		out, err := report.RenderJSON(rep, decision)
		if err != nil {
			return err
		}
		os.Stdout.Write(out)
	case "text":
		fmt.Print(report.RenderText(rep, decision))
	default:
		return fmt.Errorf("unknown format %q (text|json)", format)
	}

	if outputFile != "" {
		out, err := report.RenderJSON(rep, decision)
		if err != nil {
			return err
		}
		if err := report.WriteAtomic(outputFile, out); err != nil {
			return fmt.Errorf("write report: %w", err)
		}
	}
	return nil
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}
