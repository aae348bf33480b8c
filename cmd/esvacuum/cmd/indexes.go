package cmd

import (
	"sort"

	"github.com/spf13/cobra"

	"github.com/Aman-CERP/esvacuum/internal/index"
	"github.com/Aman-CERP/esvacuum/internal/output"
	"github.com/Aman-CERP/esvacuum/internal/ui"
	"github.com/Aman-CERP/esvacuum/internal/vacuum"
)

// Sub-index states shown by the indexes command.
const (
	subIndexOK       = "ok"
	subIndexOrphaned = "orphaned"
	subIndexMissing  = "missing"
)

func newIndexesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "indexes [container...]",
		Short: "List catalog indexes per container",
		Long: `List the main index of each container and its sub-indexes.

A sub-index is "orphaned" when it is installed but no content references it,
and "missing" when content references it but it is not installed.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runIndexes(cmd, args)
		},
	}
}

func runIndexes(cmd *cobra.Command, ids []string) error {
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

	var rows [][]string
	for _, c := range containers {
		main := a.manager.IndexName(c)
		state := subIndexOK
		if ok, err := a.catalog.AliasExists(ctx, main); err != nil {
			return err
		} else if !ok {
			state = subIndexMissing
		}
		rows = append(rows, []string{c.ID, main, "main", state})

		installed, err := a.manager.InstalledSubIndexes(ctx, c)
		if err != nil {
			return err
		}
		owned, err := a.manager.ContentSubIndexes(ctx, c)
		if err != nil {
			return err
		}
		rows = append(rows, subIndexRows(c.ID, installed, owned)...)
	}

	if len(rows) == 0 {
		out.Warning("No containers found")
		return nil
	}
	out.Table([]string{"CONTAINER", "INDEX", "KIND", "STATE"}, rows)
	return nil
}

// subIndexRows compares installed sub-indexes with the ones content points at.
func subIndexRows(container string, installed []index.SubIndex, owned []index.ContentSubIndex) [][]string {
	referenced := make(map[string]bool, len(owned))
	for _, o := range owned {
		referenced[o.Index] = true
	}
	present := make(map[string]bool, len(installed))

	var rows [][]string
	for _, sub := range installed {
		present[sub.Alias] = true
		state := subIndexOK
		if !referenced[sub.Alias] {
			state = subIndexOrphaned
		}
		rows = append(rows, []string{container, sub.Alias, "sub", state})
	}

	var missing []string
	for name := range referenced {
		if !present[name] {
			missing = append(missing, name)
		}
	}
	sort.Strings(missing)
	for _, name := range missing {
		rows = append(rows, []string{container, name, "sub", subIndexMissing})
	}
	return rows
}
