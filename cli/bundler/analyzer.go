// Package bundler reports what ended up inside compiled function bundles.
package bundler

import (
	"fmt"
	"path"
	"sort"
	"strings"

	"github.com/fluxbase-eu/fnpack/internal/compiler"
	"github.com/fluxbase-eu/fnpack/internal/packager"
)

// dominantInputShare flags inputs that make up most of a bundle
const dominantInputShare = 50.0

// AnalysisResult contains the analyzed bundle information
type AnalysisResult struct {
	Name            string         `json:"name"`
	Bundle          string         `json:"bundle"`
	TotalBytes      int            `json:"total_bytes"`
	InputFiles      []FileAnalysis `json:"input_files"`
	ExternalImports []string       `json:"external_imports,omitempty"`
	// ExternalPackages are the package names behind ExternalImports
	ExternalPackages []string `json:"external_packages,omitempty"`
	Warnings         []string `json:"warnings,omitempty"`
}

// FileAnalysis contains analysis for a single input file
type FileAnalysis struct {
	Path          string  `json:"path"`
	Bytes         int     `json:"bytes"`
	BytesInOutput int     `json:"bytes_in_output"`
	Percentage    float64 `json:"percentage"`
	ImportCount   int     `json:"import_count"`
	// Package is set for inputs resolved from node_modules
	Package string `json:"package,omitempty"`
}

// AnalyzeMetafile decodes an esbuild metafile and analyzes it
func AnalyzeMetafile(data, name, bundle string) (*AnalysisResult, error) {
	if data == "" {
		return nil, fmt.Errorf("no metafile recorded for %s", bundle)
	}
	meta, err := compiler.ParseMetafile(data)
	if err != nil {
		return nil, err
	}
	return Analyze(meta, name, bundle), nil
}

// Analyze breaks the outputs of a metafile down by input. Source maps are
// skipped; every JavaScript output counts toward the bundle.
func Analyze(meta *compiler.Metafile, name, bundle string) *AnalysisResult {
	result := &AnalysisResult{
		Name:            name,
		Bundle:          bundle,
		ExternalImports: meta.ExternalImports(),
	}
	result.ExternalPackages = packager.PackageNames(result.ExternalImports)

	contributions := make(map[string]int)
	for outPath, output := range meta.Outputs {
		if strings.HasSuffix(outPath, ".map") {
			continue
		}
		result.TotalBytes += output.Bytes
		for inputPath, contrib := range output.Inputs {
			contributions[inputPath] += contrib.BytesInOutput
		}
	}

	for inputPath, bytesInOutput := range contributions {
		input := meta.Inputs[inputPath]

		percentage := 0.0
		if result.TotalBytes > 0 {
			percentage = float64(bytesInOutput) / float64(result.TotalBytes) * 100
		}

		result.InputFiles = append(result.InputFiles, FileAnalysis{
			Path:          inputPath,
			Bytes:         input.Bytes,
			BytesInOutput: bytesInOutput,
			Percentage:    percentage,
			ImportCount:   len(input.Imports),
			Package:       nodeModulesPackage(inputPath),
		})
	}

	// Largest first; ties by path so the listing is stable
	sort.Slice(result.InputFiles, func(i, j int) bool {
		a, b := result.InputFiles[i], result.InputFiles[j]
		if a.BytesInOutput != b.BytesInOutput {
			return a.BytesInOutput > b.BytesInOutput
		}
		return a.Path < b.Path
	})

	for _, f := range result.InputFiles {
		if f.Package != "" && f.Percentage >= dominantInputShare {
			result.Warnings = append(result.Warnings,
				fmt.Sprintf("%s makes up %.1f%% of the bundle; consider listing %s in external", f.Path, f.Percentage, f.Package))
		}
	}

	return result
}

// PackageSizes sums the bundled bytes per node_modules package, largest first
func (r *AnalysisResult) PackageSizes() []FileAnalysis {
	sizes := make(map[string]*FileAnalysis)
	var order []string
	for _, f := range r.InputFiles {
		if f.Package == "" {
			continue
		}
		s, ok := sizes[f.Package]
		if !ok {
			s = &FileAnalysis{Path: f.Package, Package: f.Package}
			sizes[f.Package] = s
			order = append(order, f.Package)
		}
		s.Bytes += f.Bytes
		s.BytesInOutput += f.BytesInOutput
		s.Percentage += f.Percentage
	}

	out := make([]FileAnalysis, 0, len(order))
	for _, name := range order {
		out = append(out, *sizes[name])
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].BytesInOutput > out[j].BytesInOutput
	})
	return out
}

// nodeModulesPackage returns the package an input path was resolved from
func nodeModulesPackage(inputPath string) string {
	const marker = "node_modules/"
	idx := strings.LastIndex(inputPath, marker)
	if idx < 0 {
		return ""
	}
	return packager.PackageName(path.Clean(inputPath[idx+len(marker):]))
}
