package cmd

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/Aman-CERP/esvacuum/internal/catalog"
	"github.com/Aman-CERP/esvacuum/internal/store"
	"github.com/Aman-CERP/esvacuum/pkg/version"
)

// versionInfo is the build info plus the backends compiled in.
type versionInfo struct {
	version.BuildInfo
	Drivers  []string `json:"database_drivers"`
	Catalogs []string `json:"catalog_backends"`
}

func newVersionInfo() versionInfo {
	info := versionInfo{BuildInfo: version.GetInfo(), Drivers: store.Drivers()}
	for _, b := range catalog.Backends() {
		info.Catalogs = append(info.Catalogs, string(b))
	}
	return info
}

func newVersionCmd() *cobra.Command {
	var jsonOutput, shortOutput bool

	cmd := &cobra.Command{
		Use:   "version",
		Short: "Print version and supported backends",
		Long: `Print the esvacuum version with its build details, and the database
drivers and catalog backends this binary can talk to.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			out := cmd.OutOrStdout()
			switch {
			case shortOutput:
				_, err := fmt.Fprintln(out, version.Short())
				return err
			case jsonOutput:
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(newVersionInfo())
			}

			info := newVersionInfo()
			_, err := fmt.Fprintf(out, "%s\ndatabase: %s\ncatalog:  %s\n",
				version.String(),
				strings.Join(info.Drivers, ", "),
				strings.Join(info.Catalogs, ", "))
			return err
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output version info as JSON")
	cmd.Flags().BoolVar(&shortOutput, "short", false, "Output only the version number")

	return cmd
}
