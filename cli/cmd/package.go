package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/fluxbase-eu/fnpack/cli/output"
	"github.com/fluxbase-eu/fnpack/internal/pack"
)

// shutdownTimeout bounds flushing spans on exit
const shutdownTimeout = 5 * time.Second

var packageCmd = &cobra.Command{
	Use:     "package",
	Aliases: []string{"pkg"},
	Short:   "Compile and package the service",
	Long: `Compile every function of the service, install external packages and write
the deployable zip archives.

Examples:
  fnpack package
  fnpack package --config ./fnpack.yaml
  fnpack package --concurrency 4 --keep-output -o json`,
	RunE: runPackage,
}

func init() {
	packageCmd.Flags().Int("concurrency", 0, "compiles running at once (0 = unlimited)")
	packageCmd.Flags().Int("zip-concurrency", 0, "archives written at once (0 = unlimited)")
	packageCmd.Flags().Bool("keep-output", false, "keep the build directory after packaging")
	packageCmd.Flags().Bool("native-zip", false, "write archives with the zip binary")

	_ = viper.BindPFlag("concurrency", packageCmd.Flags().Lookup("concurrency"))
	_ = viper.BindPFlag("zip_concurrency", packageCmd.Flags().Lookup("zip-concurrency"))
	_ = viper.BindPFlag("keep_output_directory", packageCmd.Flags().Lookup("keep-output"))
	_ = viper.BindPFlag("native_zip", packageCmd.Flags().Lookup("native-zip"))
}

func runPackage(cmd *cobra.Command, args []string) error {
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

	report, runErr := p.Run(ctx)
	if report == nil {
		return runErr
	}

	formatter := GetFormatter()
	if err := formatter.PrintReport(artifactTable(report.Artifacts), report); err != nil {
		return err
	}
	for _, w := range report.Warnings {
		formatter.PrintWarning(w)
	}
	if runErr != nil {
		if len(report.Artifacts) > 0 {
			formatter.PrintWarning(fmt.Sprintf("packaging failed for some functions, %d archive(s) were written", len(report.Artifacts)))
		}
		return runErr
	}

	formatter.PrintSuccess(fmt.Sprintf("Packaged %s: %d archive(s) in %s",
		report.Service, len(report.Artifacts), report.Duration.Round(time.Millisecond)))
	return nil
}

func artifactTable(artifacts []pack.Artifact) output.TableData {
	data := output.TableData{
		Headers: []string{"FUNCTION", "ARTIFACT", "SIZE", "FILES", "SOURCE"},
	}
	for _, a := range artifacts {
		name := a.Alias
		if name == "" {
			name = "(service)"
		}
		source := "built"
		files := fmt.Sprintf("%d", a.Files)
		if a.PreBuilt {
			source = "pre-built"
			files = "-"
		}
		data.Rows = append(data.Rows, []string{name, a.Artifact, formatSize(a.Size), files, source})
	}
	return data
}

// formatSize formats bytes in human-readable format
func formatSize(bytes int64) string {
	const (
		KB = 1024
		MB = 1024 * KB
	)
	switch {
	case bytes >= MB:
		return fmt.Sprintf("%.2f MB", float64(bytes)/float64(MB))
	case bytes >= KB:
		return fmt.Sprintf("%.2f KB", float64(bytes)/float64(KB))
	default:
		return fmt.Sprintf("%d B", bytes)
	}
}
