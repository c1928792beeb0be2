package bundler

import (
	"fmt"
	"io"
	"sort"

	"github.com/olekukonko/tablewriter"
)

// maxListedFiles caps the breakdown unless details are requested
const maxListedFiles = 10

// DisplayAnalysis prints the breakdown of one bundle
func DisplayAnalysis(w io.Writer, result *AnalysisResult, showDetails bool) {
	_, _ = fmt.Fprintf(w, "\n=== %s (%s) ===\n", result.Name, result.Bundle)
	_, _ = fmt.Fprintf(w, "Total bundle size: %s\n", formatBytesHuman(result.TotalBytes))

	if len(result.ExternalImports) > 0 {
		_, _ = fmt.Fprintln(w, "\nLeft to the runtime:")
		for _, imp := range result.ExternalImports {
			_, _ = fmt.Fprintf(w, "  - %s\n", imp)
		}
	}

	files := result.InputFiles
	if !showDetails {
		if packages := result.PackageSizes(); len(packages) > 0 {
			_, _ = fmt.Fprintln(w, "\nBundled packages:")
			renderSizes(w, packages, maxListedFiles)
		}
	}

	if len(files) > 0 {
		_, _ = fmt.Fprintln(w, "\nBundle breakdown:")
		limit := maxListedFiles
		if showDetails {
			limit = len(files)
		}
		renderSizes(w, files, limit)
	}

	if len(result.Warnings) > 0 {
		_, _ = fmt.Fprintln(w, "\nWarnings:")
		for _, warn := range result.Warnings {
			_, _ = fmt.Fprintf(w, "  - %s\n", warn)
		}
	}

	_, _ = fmt.Fprintln(w)
}

// DisplaySummary prints one row per bundle, largest first, and a total
func DisplaySummary(w io.Writer, results []*AnalysisResult) {
	if len(results) == 0 {
		return
	}

	sorted := append([]*AnalysisResult(nil), results...)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].TotalBytes > sorted[j].TotalBytes
	})

	table := newTable(w)
	table.SetHeader([]string{"Function", "Bundle", "Size", "Files", "Externals"})

	var total int
	for _, r := range sorted {
		total += r.TotalBytes
		table.Append([]string{
			r.Name,
			r.Bundle,
			formatBytesHuman(r.TotalBytes),
			fmt.Sprintf("%d", len(r.InputFiles)),
			fmt.Sprintf("%d", len(r.ExternalPackages)),
		})
	}
	table.SetFooter([]string{"Total", "", formatBytesHuman(total), "", ""})

	_, _ = fmt.Fprintln(w)
	table.Render()
	_, _ = fmt.Fprintln(w)
}

func renderSizes(w io.Writer, files []FileAnalysis, limit int) {
	table := newTable(w)
	for i, file := range files {
		if i >= limit {
			table.Append([]string{fmt.Sprintf("... and %d more", len(files)-limit), "", ""})
			break
		}
		table.Append([]string{
			truncatePath(file.Path, 60),
			formatBytesHuman(file.BytesInOutput),
			fmt.Sprintf("%5.1f%%", file.Percentage),
		})
	}
	table.Render()
}

func newTable(w io.Writer) *tablewriter.Table {
	table := tablewriter.NewWriter(w)
	table.SetBorder(false)
	table.SetAutoWrapText(false)
	table.SetAutoFormatHeaders(true)
	table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	table.SetCenterSeparator("")
	table.SetColumnSeparator("")
	table.SetRowSeparator("")
	table.SetHeaderLine(false)
	table.SetTablePadding("  ")
	table.SetNoWhiteSpace(true)
	return table
}

// formatBytesHuman formats bytes in human-readable format
func formatBytesHuman(bytes int) string {
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

// truncatePath shortens a path if it's too long
func truncatePath(path string, maxLen int) string {
	if len(path) <= maxLen {
		return path
	}
	return "..." + path[len(path)-maxLen+3:]
}
