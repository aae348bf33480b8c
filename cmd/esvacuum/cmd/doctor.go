package cmd

import (
	"github.com/spf13/cobra"

	"github.com/Aman-CERP/esvacuum/internal/catalog"
	vacerrors "github.com/Aman-CERP/esvacuum/internal/errors"
	"github.com/Aman-CERP/esvacuum/internal/preflight"
	"github.com/Aman-CERP/esvacuum/internal/store"
)

func newDoctorCmd() *cobra.Command {
	var verbose bool

	cmd := &cobra.Command{
		Use:   "doctor",
		Short: "Check the database, catalog and state directory",
		Long: `Run the system checks a vacuum depends on.

The database and catalog are opened without creating anything, so a
missing objects table is reported instead of created.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDoctor(cmd, verbose)
		},
	}

	cmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "Show remediation hints")
	return cmd
}

func runDoctor(cmd *cobra.Command, verbose bool) error {
	ctx := cmd.Context()
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	a := &app{cfg: cfg}
	defer a.Close()
	if err := a.setupLogging(); err != nil {
		return err
	}

	checker := preflight.New(preflight.WithOutput(cmd.OutOrStdout()), preflight.WithVerbose(verbose))
	targets := preflight.Targets{StateDir: cfg.Vacuum.StateDir}
	var results []preflight.CheckResult

	s, err := store.Open(ctx, store.Config{
		Driver: cfg.Database.Driver,
		DSN:    cfg.Database.DSN,
		Table:  cfg.Database.ObjectsTable,
	})
	if err != nil {
		results = append(results, openFailure("database", err))
	} else {
		a.closers = append(a.closers, func() { _ = s.Close() })
		targets.Store = s
	}

	cat, err := catalog.New(a.catalogOptions())
	if err != nil {
		results = append(results, openFailure("catalog", err))
	} else {
		a.closers = append(a.closers, func() { _ = cat.Close() })
		targets.Catalog = cat
	}

	results = append(results, checker.RunAll(ctx, targets)...)
	checker.PrintResults(results)

	if checker.HasCriticalFailures(results) {
		return vacerrors.New(vacerrors.ErrCodeInternal, "system check failed", nil).
			WithSuggestion("Run 'esvacuum doctor --verbose' for hints")
	}
	return nil
}

func openFailure(name string, err error) preflight.CheckResult {
	return preflight.CheckResult{
		Name:     name,
		Status:   preflight.StatusFail,
		Message:  err.Error(),
		Required: true,
	}
}
