package cmd

import (
	"github.com/spf13/cobra"

	"github.com/fluxbase-eu/fnpack/cli/output"
)

type versionInfo struct {
	Version   string `json:"version"`
	Commit    string `json:"commit"`
	BuildDate string `json:"build_date"`
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Show fnpack version information",
	Long:  `Display the version, commit hash, and build date of fnpack.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		info := versionInfo{Version: Version, Commit: Commit, BuildDate: BuildDate}
		return GetFormatter().PrintReport(output.TableData{
			Rows: [][]string{
				{"Version:", info.Version},
				{"Commit:", info.Commit},
				{"Build Date:", info.BuildDate},
			},
		}, info)
	},
}
