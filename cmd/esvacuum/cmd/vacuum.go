package cmd

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	vacerrors "github.com/Aman-CERP/esvacuum/internal/errors"
	"github.com/Aman-CERP/esvacuum/internal/logging"
	"github.com/Aman-CERP/esvacuum/internal/ui"
	"github.com/Aman-CERP/esvacuum/internal/vacuum"
)

func newVacuumCmd() *cobra.Command {
	var (
		continuous bool
		sleep      time.Duration
		check      string
		containers []string
		plain      bool
		resume     bool
	)

	cmd := &cobra.Command{
		Use:   "vacuum",
		Short: "Reconcile the catalog with the database",
		Long: `Reconcile every container's catalog indexes with the content database.

Two checks run concurrently:
  missing  index objects the catalog lacks, holds an older tid for,
           or files under the wrong parent
  orphans  delete catalog documents whose object no longer exists

After each container, sub-indexes whose owner is gone are removed.
With --continuous the checks repeat until interrupted, resuming the
missing check at the last transaction seen per container. The first
pass scans every object unless --resume starts it at the transaction
saved by an earlier run.`,
		Example: `  # Single pass over every container
  esvacuum vacuum

  # Keep running, pausing 5 minutes between passes
  esvacuum vacuum --continuous --sleep 5m

  # Restart a continuous vacuum where the last one stopped
  esvacuum vacuum --continuous --resume

  # Only delete orphans of one container
  esvacuum vacuum --check orphans --container guillotina`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			checks, err := parseChecks(check)
			if err != nil {
				return err
			}
			return runVacuum(cmd, vacuumFlags{
				continuous: continuous,
				sleep:      sleep,
				checks:     checks,
				containers: containers,
				plain:      plain,
				resume:     resume,
			})
		},
	}

	cmd.Flags().BoolVar(&continuous, "continuous", false, "Repeat the checks until interrupted")
	cmd.Flags().DurationVar(&sleep, "sleep", 0, "Pause between continuous passes (default from config)")
	cmd.Flags().StringVar(&check, "check", "all", "Checks to run: missing, orphans, all")
	cmd.Flags().StringSliceVar(&containers, "container", nil, "Only check these container ids")
	cmd.Flags().BoolVar(&plain, "plain", false, "Plain text output")
	cmd.Flags().BoolVar(&resume, "resume", false, "Start at the transaction saved by the last run")

	return cmd
}

type vacuumFlags struct {
	continuous bool
	sleep      time.Duration
	checks     []vacuum.Check
	containers []string
	plain      bool
	resume     bool
}

func parseChecks(v string) ([]vacuum.Check, error) {
	switch v {
	case "", "all":
		return []vacuum.Check{vacuum.CheckMissing, vacuum.CheckOrphans}, nil
	case string(vacuum.CheckMissing):
		return []vacuum.Check{vacuum.CheckMissing}, nil
	case string(vacuum.CheckOrphans):
		return []vacuum.Check{vacuum.CheckOrphans}, nil
	default:
		return nil, vacerrors.ValidationError(
			fmt.Sprintf("--check must be missing, orphans or all, got %q", v), nil)
	}
}

func runVacuum(cmd *cobra.Command, flags vacuumFlags) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := openApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	state, err := vacuum.OpenState(a.cfg.Vacuum.StateDir)
	if err != nil {
		return err
	}

	sleep := flags.sleep
	if sleep <= 0 {
		sleep = a.cfg.SleepDuration()
	}

	renderer := ui.NewRenderer(ui.NewConfig(cmd.OutOrStdout(),
		ui.WithForcePlain(flags.plain),
		ui.WithNoColor(ui.DetectNoColor())))

	runner, err := vacuum.NewRunner(vacuum.RunnerDependencies{
		Deps:  a.deps(),
		State: state,
	}, vacuum.RunnerConfig{
		Checks:     flags.checks,
		Continuous: flags.continuous || a.cfg.Vacuum.Continuous,
		Sleep:      sleep,
		Containers: flags.containers,
		Resume:     flags.resume,
		OnReport:   renderer.Report,
		Vacuum:     a.vacuumOptions(),
	})
	if err != nil {
		return err
	}

	reports, err := runner.Run(ctx)
	if err != nil {
		return err
	}
	renderer.Summary(reports)

	if failed := ui.Sum(reports).Failed; failed > 0 {
		return vacerrors.New(vacerrors.ErrCodeIndexFailed,
			fmt.Sprintf("%d container checks failed", failed), nil).
			WithDetail("log", logFile(a)).
			WithSuggestion("see the log for the per-container errors")
	}
	return nil
}

func logFile(a *app) string {
	if a.cfg.Logging.File != "" {
		return a.cfg.Logging.File
	}
	return logging.DefaultLogPath()
}
