package cmd

import (
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	vacerrors "github.com/Aman-CERP/esvacuum/internal/errors"
	"github.com/Aman-CERP/esvacuum/internal/output"
	"github.com/Aman-CERP/esvacuum/internal/ui"
	"github.com/Aman-CERP/esvacuum/internal/vacuum"
)

func newReindexCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "reindex [container...]",
		Short: "Index every object of the given containers",
		Long: `Index every object below the given containers, or below all containers
when none is named. Missing indexes and sub-indexes are created first.`,
		Example: `  # Rebuild one container
  esvacuum reindex guillotina`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runReindex(cmd, args)
		},
	}
}

func runReindex(cmd *cobra.Command, ids []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := openApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	out := output.NewWithColor(cmd.OutOrStdout(), ui.IsTTY(cmd.OutOrStdout()) && !ui.DetectNoColor())

	containers, err := vacuum.Containers(ctx, a.deps(), ids)
	if err != nil {
		return err
	}
	if len(containers) == 0 {
		return vacerrors.New(vacerrors.ErrCodeObjectNotFound, "no matching containers", nil).
			WithSuggestion("list the container ids with 'esvacuum indexes'")
	}

	start := time.Now()
	n, err := vacuum.Reindex(ctx, a.deps(), a.vacuumOptions(), containers)
	if err != nil {
		return err
	}
	out.Successf("Indexed %d objects in %d containers (%s)", n, len(containers), time.Since(start).Round(time.Millisecond))
	return nil
}
