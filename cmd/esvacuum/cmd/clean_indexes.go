package cmd

import (
	"github.com/spf13/cobra"

	"github.com/Aman-CERP/esvacuum/internal/output"
	"github.com/Aman-CERP/esvacuum/internal/ui"
	"github.com/Aman-CERP/esvacuum/internal/vacuum"
)

func newCleanIndexesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "clean-indexes [container...]",
		Short: "Remove sub-indexes whose owner is gone",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCleanIndexes(cmd, args)
		},
	}
}

func runCleanIndexes(cmd *cobra.Command, ids []string) error {
	ctx := cmd.Context()
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

	total := 0
	for _, c := range containers {
		removed, err := a.manager.CleanOrphanIndexes(ctx, c)
		for _, alias := range removed {
			out.Statusf("-", "%s: removed %s", c.ID, alias)
		}
		total += len(removed)
		if err != nil {
			out.Errorf("%s: %v", c.ID, err)
			return err
		}
	}
	out.Successf("Removed %d orphaned sub-indexes", total)
	return nil
}
