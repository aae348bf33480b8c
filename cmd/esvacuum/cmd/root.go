// Package cmd provides the CLI commands for esvacuum.
package cmd

import (
	"github.com/spf13/cobra"

	"github.com/Aman-CERP/esvacuum/pkg/version"
)

// Persistent flags shared by every subcommand.
var (
	configPath string
	debugMode  bool
)

// NewRootCmd creates the root command for the esvacuum CLI.
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "esvacuum",
		Short: "Keep a search catalog consistent with the content database",
		Long: `esvacuum reconciles the search catalog of a hierarchical content database.

It deletes catalog documents whose object is gone, indexes objects the
catalog is missing or holds an older copy of, re-indexes moved subtrees,
and drops sub-indexes whose owner no longer exists.

Run 'esvacuum vacuum' for a single pass or 'esvacuum vacuum --continuous'
to keep reconciling with a pause between passes.`,
		Version:       version.Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.SetVersionTemplate("esvacuum version {{.Version}}\n")

	cmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Config file (default: .esvacuum.yaml in the working directory)")
	cmd.PersistentFlags().BoolVar(&debugMode, "debug", false, "Enable debug logging")

	cmd.AddCommand(newVacuumCmd())
	cmd.AddCommand(newReindexCmd())
	cmd.AddCommand(newIndexesCmd())
	cmd.AddCommand(newCleanIndexesCmd())
	cmd.AddCommand(newDoctorCmd())
	cmd.AddCommand(newConfigCmd())
	cmd.AddCommand(newVersionCmd())

	return cmd
}

// Execute runs the root command.
func Execute() error {
	return NewRootCmd().Execute()
}
