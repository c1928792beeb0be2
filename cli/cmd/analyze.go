package cmd

import (
	"os"
	"slices"
	"strings"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/fluxbase-eu/fnpack/cli/bundler"
	"github.com/fluxbase-eu/fnpack/cli/output"
)

var (
	analyzeDetails  bool
	analyzeFunction string
)

var analyzeCmd = &cobra.Command{
	Use:   "analyze",
	Short: "Show what makes up each bundle",
	Long: `Compile the functions and break every bundle down by input file and package,
using the esbuild metafile.

Examples:
  fnpack analyze
  fnpack analyze --function hello --details
  fnpack analyze -o json`,
	RunE: runAnalyze,
}

func init() {
	analyzeCmd.Flags().BoolVar(&analyzeDetails, "details", false, "list every input file")
	analyzeCmd.Flags().StringVar(&analyzeFunction, "function", "", "only analyze the bundle of this function")
}

func runAnalyze(cmd *cobra.Command, args []string) error {
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
	if !proj.cfg.KeepOutputDirectory {
		defer func() {
			if err := os.RemoveAll(report.BuildDir); err != nil {
				log.Warn().Err(err).Msg("Failed to remove build directory")
			}
		}()
	}

	var results []*bundler.AnalysisResult
	for _, b := range report.Bundles {
		if analyzeFunction != "" && !slices.Contains(b.Functions, analyzeFunction) {
			continue
		}

		name := strings.Join(b.Functions, ", ")
		if name == "" {
			name = b.Entry
		}

		result, err := bundler.AnalyzeMetafile(b.Metafile, name, b.BundlePath)
		if err != nil {
			return err
		}
		results = append(results, result)
	}

	f := GetFormatter()
	if f.Quiet {
		return nil
	}
	if f.Format != output.FormatTable {
		return f.Print(results)
	}

	for _, r := range results {
		bundler.DisplayAnalysis(f.Writer, r, analyzeDetails)
	}
	if len(results) > 1 {
		bundler.DisplaySummary(f.Writer, results)
	}
	return nil
}
