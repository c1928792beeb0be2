package compiler

import (
	"context"
	"fmt"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/evanw/esbuild/pkg/api"
	"github.com/rs/zerolog/log"
)

// Esbuild compiles entries with esbuild's Go API
type Esbuild struct {
	workingDir string
}

// NewEsbuild creates a compiler resolving entries relative to workingDir
func NewEsbuild(workingDir string) (*Esbuild, error) {
	abs, err := filepath.Abs(workingDir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve working directory: %w", err)
	}
	return &Esbuild{workingDir: abs}, nil
}

// Compile bundles a single entry in memory. Nothing is written to disk.
func (e *Esbuild) Compile(ctx context.Context, opts Options) (map[string]Output, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	buildOpts, err := e.buildOptions(opts)
	if err != nil {
		return nil, err
	}

	result := api.Build(buildOpts)

	if len(result.Errors) > 0 {
		var errMsgs []string
		for _, msg := range result.Errors {
			errMsgs = append(errMsgs, formatMessage(msg))
		}
		return nil, fmt.Errorf("esbuild failed: %s", strings.Join(errMsgs, "; "))
	}

	for _, warn := range result.Warnings {
		log.Debug().Str("entry", opts.Entry).Msg(formatMessage(warn))
	}

	out := Output{Metafile: result.Metafile}
	for _, file := range result.OutputFiles {
		if strings.HasSuffix(file.Path, ".map") {
			out.Map = string(file.Contents)
			continue
		}
		out.Code = string(file.Contents)
	}

	return map[string]Output{filepath.Base(opts.Entry): out}, nil
}

func (e *Esbuild) buildOptions(opts Options) (api.BuildOptions, error) {
	buildOpts := api.BuildOptions{
		EntryPoints:       []string{opts.Entry},
		Bundle:            true,
		Write:             false,
		Metafile:          true,
		Outfile:           filepath.Join(opts.OutDir, opts.OutName),
		External:          opts.External,
		AbsWorkingDir:     e.workingDir,
		LogLevel:          api.LogLevelSilent,
		MinifyWhitespace:  opts.Minify,
		MinifyIdentifiers: opts.Minify,
		MinifySyntax:      opts.Minify,
	}

	if opts.ExternalPackages {
		buildOpts.Packages = api.PackagesExternal
	}

	switch opts.Format {
	case FormatCommonJS:
		buildOpts.Format = api.FormatCommonJS
	case FormatESM:
		buildOpts.Format = api.FormatESModule
	case FormatDefault:
		buildOpts.Format = api.FormatDefault
	default:
		return buildOpts, fmt.Errorf("unsupported format: %s", opts.Format)
	}

	switch opts.Platform {
	case PlatformNode, "":
		buildOpts.Platform = api.PlatformNode
	case PlatformNeutral:
		buildOpts.Platform = api.PlatformNeutral
	case PlatformBrowser:
		buildOpts.Platform = api.PlatformBrowser
	default:
		return buildOpts, fmt.Errorf("unsupported platform: %s", opts.Platform)
	}

	// The map is always produced separately; embedding is decided by the caller
	if opts.SourceMap != SourceMapNone && opts.SourceMap != "" {
		buildOpts.Sourcemap = api.SourceMapExternal
	}

	if err := applyTarget(&buildOpts, opts.Target); err != nil {
		return buildOpts, err
	}

	return buildOpts, nil
}

var esTargets = map[string]api.Target{
	"esnext": api.ESNext,
	"es2015": api.ES2015,
	"es2016": api.ES2016,
	"es2017": api.ES2017,
	"es2018": api.ES2018,
	"es2019": api.ES2019,
	"es2020": api.ES2020,
	"es2021": api.ES2021,
	"es2022": api.ES2022,
}

// applyTarget accepts either an ECMAScript version ("es2020") or a node
// version ("node18", "node18.17")
func applyTarget(buildOpts *api.BuildOptions, target string) error {
	target = strings.ToLower(strings.TrimSpace(target))
	if target == "" {
		return nil
	}

	if t, ok := esTargets[target]; ok {
		buildOpts.Target = t
		return nil
	}

	if version, ok := strings.CutPrefix(target, "node"); ok {
		major, _, _ := strings.Cut(version, ".")
		if _, err := strconv.Atoi(major); err != nil {
			return fmt.Errorf("invalid node target: %s", target)
		}
		buildOpts.Engines = []api.Engine{{Name: api.EngineNode, Version: version}}
		return nil
	}

	return fmt.Errorf("unsupported target: %s", target)
}

func formatMessage(msg api.Message) string {
	if msg.Location == nil {
		return msg.Text
	}
	return fmt.Sprintf("%s:%d:%d: %s", msg.Location.File, msg.Location.Line, msg.Location.Column, msg.Text)
}
