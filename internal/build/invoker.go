package build

import (
	"context"
	"encoding/base64"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/fluxbase-eu/fnpack/internal/compiler"
	"github.com/fluxbase-eu/fnpack/internal/observability"
	"github.com/fluxbase-eu/fnpack/internal/packager"
	"github.com/fluxbase-eu/fnpack/internal/pool"
)

// Options configures the compile phase
type Options struct {
	// BuildDir receives the bundles, mirroring the entry layout
	BuildDir string
	// OutputExtension is one of .js, .cjs or .mjs
	OutputExtension  string
	Format           compiler.Format
	Platform         compiler.Platform
	Target           string
	SourceMap        compiler.SourceMapMode
	Minify           bool
	External         []string
	ExternalPackages bool
	// Concurrency bounds the compiles in flight; pool.Unlimited or <= 0 for no limit
	Concurrency int
	// StripExtensions are multi-part extensions removed from bundle names
	StripExtensions []string
}

// ValidateOutput rejects format and extension combinations that would emit a
// module the runtime loads with the wrong loader
func ValidateOutput(format compiler.Format, platform compiler.Platform, ext string) error {
	switch ext {
	case ".js", ".cjs", ".mjs":
	default:
		return &ConfigurationError{Message: fmt.Sprintf("output file extension must be .js, .cjs or .mjs, got %q", ext)}
	}

	esm := compiler.IsESM(format, platform)
	if esm && ext == ".cjs" {
		return &ConfigurationError{Message: MsgESMWithCJS}
	}
	if !esm && ext == ".mjs" {
		return &ConfigurationError{Message: MsgCJSWithMJS}
	}
	return nil
}

// Invoker runs the compiler once per unique entry
type Invoker struct {
	compiler compiler.Compiler
	opts     Options
	metrics  *observability.Metrics
}

// NewInvoker creates an invoker. metrics may be nil.
func NewInvoker(c compiler.Compiler, opts Options, metrics *observability.Metrics) *Invoker {
	return &Invoker{compiler: c, opts: opts, metrics: metrics}
}

// CompileAll compiles every unique entry and returns the cache of results in
// first-appearance order. Any failure aborts the batch and no cache is returned.
func (inv *Invoker) CompileAll(ctx context.Context, entries []FunctionEntry) (*Cache, error) {
	if err := ValidateOutput(inv.opts.Format, inv.opts.Platform, inv.opts.OutputExtension); err != nil {
		return nil, err
	}

	// Files can hold handlers for several functions; compile each once
	unique := uniqueEntries(entries)

	log.Info().
		Int("entries", len(unique)).
		Int("concurrency", inv.opts.Concurrency).
		Str("format", string(inv.opts.Format)).
		Msg("Compiling bundles")

	results, err := pool.Map(ctx, unique, inv.opts.Concurrency, inv.compileEntry)
	if err != nil {
		return nil, err
	}

	log.Info().Int("bundles", len(results)).Msg("Compiling completed")

	return newCache(results), nil
}

func (inv *Invoker) compileEntry(ctx context.Context, entry string) (BuildResult, error) {
	start := time.Now()
	result, err := inv.compile(ctx, entry)
	inv.metrics.ObserveCompile(time.Since(start), err)
	return result, err
}

func (inv *Invoker) compile(ctx context.Context, entry string) (BuildResult, error) {
	bundlePath := BundlePath(entry, inv.opts.OutputExtension, inv.opts.StripExtensions)
	outDir := filepath.Join(inv.opts.BuildDir, filepath.FromSlash(path.Dir(entry)))
	outName := path.Base(bundlePath)

	opts := compiler.Options{
		Entry:            entry,
		OutDir:           outDir,
		OutName:          outName,
		External:         inv.opts.External,
		ExternalPackages: inv.opts.ExternalPackages,
		Format:           inv.opts.Format,
		Platform:         inv.opts.Platform,
		Target:           inv.opts.Target,
		SourceMap:        inv.opts.SourceMap,
		Minify:           inv.opts.Minify,
	}

	log.Debug().Str("entry", entry).Str("bundle", bundlePath).Msg("Compiling entry")

	outputs, err := inv.compiler.Compile(ctx, opts)
	if err != nil {
		return BuildResult{}, &CompileError{Entry: entry, Err: err}
	}

	output, ok := outputs[path.Base(entry)]
	if !ok {
		return BuildResult{}, &CompileError{Entry: entry, Err: ErrNoOutput}
	}

	// The externals decide which packages the archive ships, so a metafile
	// that cannot be read fails the entry
	externals, err := externalPackages(output.Metafile)
	if err != nil {
		return BuildResult{}, &CompileError{Entry: entry, Err: err}
	}

	if err := os.MkdirAll(outDir, 0755); err != nil {
		return BuildResult{}, &CompileError{Entry: entry, Err: fmt.Errorf("failed to create output directory: %w", err)}
	}

	outFile := filepath.Join(outDir, outName)
	code := output.Code

	switch {
	case output.Map == "" || inv.opts.SourceMap == compiler.SourceMapNone || inv.opts.SourceMap == "":
		// Map discarded
	case inv.opts.SourceMap == compiler.SourceMapInline:
		encoded := base64.StdEncoding.EncodeToString([]byte(output.Map))
		code += "\n//# sourceMappingURL=data:application/json;charset=utf-8;base64," + encoded
	default:
		if err := os.WriteFile(outFile+".map", []byte(output.Map), 0644); err != nil {
			return BuildResult{}, &CompileError{Entry: entry, Err: fmt.Errorf("failed to write source map: %w", err)}
		}
		code += "\n//# sourceMappingURL=" + outName + ".map"
	}

	if err := os.WriteFile(outFile, []byte(code), 0644); err != nil {
		return BuildResult{}, &CompileError{Entry: entry, Err: fmt.Errorf("failed to write bundle: %w", err)}
	}

	return BuildResult{
		BundlePath: bundlePath,
		Entry:      entry,
		Output:     output,
		Externals:  externals,
	}, nil
}

// externalPackages lists the package names the bundle imports at runtime. A
// compiler that emits no metafile reports none.
func externalPackages(metafile string) ([]string, error) {
	if metafile == "" {
		return nil, nil
	}

	meta, err := compiler.ParseMetafile(metafile)
	if err != nil {
		return nil, err
	}

	return packager.PackageNames(meta.ExternalImports()), nil
}

func uniqueEntries(entries []FunctionEntry) []string {
	seen := make(map[string]struct{}, len(entries))
	var unique []string
	for _, e := range entries {
		if _, ok := seen[e.Entry]; ok {
			continue
		}
		seen[e.Entry] = struct{}{}
		unique = append(unique, e.Entry)
	}
	return unique
}
