package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/fluxbase-eu/fnpack/cli/output"
	"github.com/fluxbase-eu/fnpack/internal/pipeline"
)

var buildCmd = &cobra.Command{
	Use:   "build",
	Short: "Compile the functions without packaging",
	Long: `Compile every function entry into the build directory. Nothing is installed
or archived, and the bundles are left in place for inspection.

Examples:
  fnpack build
  fnpack build -o json`,
	RunE: runBuild,
}

func runBuild(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	proj, err := loadProject(ctx)
	if err != nil {
		return err
	}
	defer proj.close()

	p, err := proj.pipeline()
	if err != nil {
		return err
	}

	report, err := p.Build(ctx)
	if err != nil {
		return err
	}

	if err := GetFormatter().PrintReport(bundleTable(report.Bundles), report); err != nil {
		return err
	}

	GetFormatter().PrintSuccess(fmt.Sprintf("Compiled %d bundle(s) into %s", len(report.Bundles), report.BuildDir))
	return nil
}

func bundleTable(bundles []pipeline.Bundle) output.TableData {
	data := output.TableData{
		Headers: []string{"ENTRY", "BUNDLE", "FUNCTIONS", "EXTERNALS"},
	}
	for _, b := range bundles {
		data.Rows = append(data.Rows, []string{
			b.Entry,
			b.BundlePath,
			strings.Join(b.Functions, ", "),
			strings.Join(b.Externals, ", "),
		})
	}
	return data
}
