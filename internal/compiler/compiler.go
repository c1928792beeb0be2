// Package compiler defines the boundary to the source-to-bundle compiler and
// provides an implementation on top of esbuild's Go API.
package compiler

import (
	"context"
	"fmt"
	"strings"
)

// Format is the module format of the emitted bundle
type Format string

const (
	FormatDefault  Format = ""
	FormatCommonJS Format = "cjs"
	FormatESM      Format = "esm"
)

// Platform is the runtime the bundle targets
type Platform string

const (
	PlatformNode    Platform = "node"
	PlatformNeutral Platform = "neutral"
	PlatformBrowser Platform = "browser"
)

// SourceMapMode controls what happens to an emitted source map
type SourceMapMode string

const (
	// SourceMapNone discards the map
	SourceMapNone SourceMapMode = "none"
	// SourceMapExternal writes a sibling .map file referenced from the bundle
	SourceMapExternal SourceMapMode = "external"
	// SourceMapInline embeds the map as a base64 data URL
	SourceMapInline SourceMapMode = "inline"
)

// ParseSourceMapMode maps a configured value onto a mode. Any truthy value
// other than "inline" selects an external map.
func ParseSourceMapMode(value string) (SourceMapMode, error) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "", "false", "none", "0", "off":
		return SourceMapNone, nil
	case "inline":
		return SourceMapInline, nil
	case "true", "external", "linked", "both", "1", "on":
		return SourceMapExternal, nil
	default:
		return "", fmt.Errorf("invalid source map mode: %s (valid: true, false, inline, external)", value)
	}
}

// IsESM reports whether the combination emits ES modules. A neutral platform
// defaults to ESM unless another format is requested explicitly.
func IsESM(format Format, platform Platform) bool {
	return format == FormatESM || (format == FormatDefault && platform == PlatformNeutral)
}

// Options is the complete set of settings passed to a compiler for one entry.
// Unknown settings have no place here; callers cannot pass options through.
type Options struct {
	// Entry is the source file, relative to the compiler working directory
	Entry string
	// OutDir is the directory the bundle will be written to
	OutDir string
	// OutName is the file name of the bundle inside OutDir
	OutName string
	// External lists module names left as runtime imports
	External []string
	// ExternalPackages marks every package import as external
	ExternalPackages bool
	Format           Format
	Platform         Platform
	// Target is an esbuild target such as "node18" or "es2020"
	Target    string
	SourceMap SourceMapMode
	Minify    bool
}

// Output is what the compiler emitted for one entry
type Output struct {
	Code string
	// Map is empty when no source map was produced
	Map string
	// Metafile is the esbuild metafile JSON, empty if unavailable
	Metafile string
}

// Compiler turns one entry into a bundle. The returned map is keyed by the
// base name of the entry file.
type Compiler interface {
	Compile(ctx context.Context, opts Options) (map[string]Output, error)
}

// CompilerFunc adapts a function to the Compiler interface
type CompilerFunc func(ctx context.Context, opts Options) (map[string]Output, error)

// Compile calls f
func (f CompilerFunc) Compile(ctx context.Context, opts Options) (map[string]Output, error) {
	return f(ctx, opts)
}
