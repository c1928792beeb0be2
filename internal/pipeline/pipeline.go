// Package pipeline runs the build-and-pack phases of a service in order:
// compile the entries, install external packages, archive the bundles and copy
// pre-built artifacts.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/attribute"

	"github.com/fluxbase-eu/fnpack/internal/archive"
	"github.com/fluxbase-eu/fnpack/internal/build"
	"github.com/fluxbase-eu/fnpack/internal/compiler"
	"github.com/fluxbase-eu/fnpack/internal/config"
	"github.com/fluxbase-eu/fnpack/internal/observability"
	"github.com/fluxbase-eu/fnpack/internal/pack"
	"github.com/fluxbase-eu/fnpack/internal/packager"
	"github.com/fluxbase-eu/fnpack/internal/selector"
	"github.com/fluxbase-eu/fnpack/internal/service"
)

// dependencyDepth bounds the installed tree read back from the packager
const dependencyDepth = 32

// Phase names, used for spans, metrics and the report
const (
	PhaseCompile = "compile"
	PhaseInstall = "install"
	PhasePack    = "pack"
	PhaseCopy    = "copy"
)

// Dependencies are the collaborators of a pipeline. Nil fields get the
// production implementation.
type Dependencies struct {
	Compiler compiler.Compiler
	Packager packager.Packager
	Writer   archive.Writer
	Metrics  *observability.Metrics
	Tracer   *observability.Tracer
}

// Pipeline packages one service
type Pipeline struct {
	cfg      *config.Config
	svc      *service.Service
	compiler compiler.Compiler
	packager packager.Packager
	writer   archive.Writer
	metrics  *observability.Metrics
	tracer   *observability.Tracer

	workDir  string
	buildDir string
}

// Bundle is one compiled entry
type Bundle struct {
	Entry string `json:"entry"`
	// Functions are the aliases compiled from Entry, empty for additional entries
	Functions  []string `json:"functions,omitempty"`
	BundlePath string   `json:"bundle_path"`
	Externals  []string `json:"externals,omitempty"`
	Metafile   string   `json:"-"`
}

// PhaseTiming records how long a phase ran
type PhaseTiming struct {
	Phase    string        `json:"phase"`
	Duration time.Duration `json:"duration"`
}

// Report summarizes a run
type Report struct {
	Service   string          `json:"service"`
	BuildDir  string          `json:"build_dir"`
	Bundles   []Bundle        `json:"bundles"`
	Artifacts []pack.Artifact `json:"artifacts"`
	Phases    []PhaseTiming   `json:"phases"`
	Duration  time.Duration   `json:"duration"`
	// Warnings are conditions that did not fail the run
	Warnings []string `json:"warnings,omitempty"`
}

// New creates a pipeline for svc
func New(cfg *config.Config, svc *service.Service, deps Dependencies) (*Pipeline, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	p := &Pipeline{
		cfg:      cfg,
		svc:      svc,
		compiler: deps.Compiler,
		packager: deps.Packager,
		writer:   deps.Writer,
		metrics:  deps.Metrics,
		tracer:   deps.Tracer,
		workDir:  filepath.Join(svc.Dir, cfg.OutputWorkFolder),
	}
	p.buildDir = filepath.Join(p.workDir, cfg.OutputBuildFolder)

	if p.compiler == nil {
		esbuild, err := compiler.NewEsbuild(svc.Dir)
		if err != nil {
			return nil, err
		}
		p.compiler = esbuild
	}
	if p.packager == nil {
		pkgr, err := packager.Get(packager.ID(cfg.Packager), nil)
		if err != nil {
			return nil, err
		}
		p.packager = pkgr
	}
	if p.writer == nil {
		p.writer = archive.NewZipWriter()
	}

	return p, nil
}

// WorkDir is where archives are written, below .serverless
func (p *Pipeline) WorkDir() string {
	return p.workDir
}

// Build runs the compile phase only and leaves the bundles in the build directory
func (p *Pipeline) Build(ctx context.Context) (*Report, error) {
	start := time.Now()
	report := &Report{Service: p.svc.Name, BuildDir: p.buildDir}

	if err := os.RemoveAll(p.buildDir); err != nil {
		return nil, fmt.Errorf("failed to clean build directory: %w", err)
	}

	if _, err := p.compile(ctx, report); err != nil {
		return nil, err
	}

	report.Duration = time.Since(start)
	return report, nil
}

// Run compiles, installs, archives and copies. Archive failures of single
// functions are returned joined after every other archive was attempted; the
// report then lists the archives that were written.
func (p *Pipeline) Run(ctx context.Context) (report *Report, err error) {
	start := time.Now()
	report = &Report{Service: p.svc.Name, BuildDir: p.buildDir}

	defer func() {
		if p.cfg.MetricsFile == "" {
			return
		}
		if werr := p.metrics.WriteTextfile(p.cfg.MetricsFile); werr != nil {
			log.Warn().Err(werr).Str("file", p.cfg.MetricsFile).Msg("Failed to write metrics file")
		}
	}()

	if err := os.RemoveAll(p.buildDir); err != nil {
		return nil, fmt.Errorf("failed to clean build directory: %w", err)
	}

	results, err := p.compile(ctx, report)
	if err != nil {
		return nil, err
	}

	deps, err := p.install(ctx, report)
	if err != nil {
		return nil, err
	}

	artifacts, packErr := p.pack(ctx, report, results, deps)
	report.Artifacts = append(report.Artifacts, artifacts...)

	copied, copyErr := p.copy(ctx, report, len(artifacts) > 0)
	report.Artifacts = append(report.Artifacts, copied...)

	if !p.cfg.KeepOutputDirectory {
		if err := os.RemoveAll(p.buildDir); err != nil {
			log.Warn().Err(err).Str("dir", p.buildDir).Msg("Failed to remove build directory")
		}
	}

	report.Duration = time.Since(start)

	if err := errors.Join(packErr, copyErr); err != nil {
		return report, err
	}

	log.Info().
		Str("service", p.svc.Name).
		Int("artifacts", len(report.Artifacts)).
		Dur("duration", report.Duration).
		Msg("Service packaged")

	return report, nil
}

// phase wraps fn in a span and records its duration
func (p *Pipeline) phase(ctx context.Context, report *Report, name string, fn func(context.Context) error, attrs ...attribute.KeyValue) error {
	ctx, span := p.tracer.StartPhaseSpan(ctx, name, p.svc.Name, attrs...)
	start := time.Now()

	err := fn(ctx)

	d := time.Since(start)
	observability.EndSpan(span, err)
	p.metrics.ObservePhase(name, d)
	report.Phases = append(report.Phases, PhaseTiming{Phase: name, Duration: d})
	return err
}

func (p *Pipeline) compile(ctx context.Context, report *Report) ([]build.FunctionBuildResult, error) {
	var results []build.FunctionBuildResult

	err := p.phase(ctx, report, PhaseCompile, func(ctx context.Context) error {
		entries, err := build.ExtractEntries(p.svc, build.EntryOptions{
			ResolveExtensions: p.cfg.ResolveExtensions,
			AdditionalEntries: p.cfg.AdditionalEntries,
			IsPreBuilt:        p.cfg.IsPreBuilt,
		})
		if err != nil {
			return err
		}
		if len(entries) == 0 {
			log.Info().Str("service", p.svc.Name).Msg("No entries to compile")
			return nil
		}

		var strip []string
		if p.cfg.StripEntryResolveExtensions {
			strip = p.cfg.ResolveExtensions
		}

		invoker := build.NewInvoker(p.compiler, build.Options{
			BuildDir:         p.buildDir,
			OutputExtension:  p.cfg.OutputFileExtension,
			Format:           compiler.Format(p.cfg.Format),
			Platform:         compiler.Platform(p.cfg.Platform),
			Target:           p.cfg.Target,
			SourceMap:        p.cfg.SourceMapMode(),
			Minify:           p.cfg.Minify,
			External:         p.cfg.CompilerExternals(),
			ExternalPackages: p.cfg.ExternalPackages(),
			Concurrency:      p.cfg.Concurrency,
			StripExtensions:  strip,
		}, p.metrics)

		cache, err := invoker.CompileAll(ctx, entries)
		if err != nil {
			return err
		}

		aliases := make(map[string][]string)
		for _, e := range entries {
			if e.FunctionAlias != "" {
				aliases[e.Entry] = append(aliases[e.Entry], e.FunctionAlias)
			}
		}

		for _, r := range cache.Results() {
			report.Bundles = append(report.Bundles, Bundle{
				Entry:      r.Entry,
				Functions:  aliases[r.Entry],
				BundlePath: r.BundlePath,
				Externals:  r.Externals,
				Metafile:   r.Output.Metafile,
			})
		}
		results = build.Join(entries, cache)
		return nil
	})

	return results, err
}

// install writes the trimmed package.json into the build directory, installs
// the external packages and returns the installed production tree. Nothing
// happens without externals or with no_install.
func (p *Pipeline) install(ctx context.Context, report *Report) (packager.DependencyMap, error) {
	if !p.cfg.HasExternals() || p.cfg.PackagerOptions.NoInstall {
		return nil, nil
	}

	var deps packager.DependencyMap
	err := p.phase(ctx, report, PhaseInstall, func(ctx context.Context) error {
		if err := os.MkdirAll(p.buildDir, 0755); err != nil {
			return fmt.Errorf("failed to create build directory: %w", err)
		}

		packageJSON := p.servicePath(p.cfg.PackagePath)

		written, err := packager.PreparePackageJSON(packageJSON, p.buildDir, p.cfg.External, p.packager.CopyPackageSectionNames())
		if err != nil {
			return err
		}

		useLockfile := false
		if !p.cfg.PackagerOptions.IgnoreLockfile {
			lockfile := filepath.Join(filepath.Dir(packageJSON), p.packager.LockfileName())
			if _, err := os.Stat(lockfile); err == nil {
				if err := archive.CopyFile(lockfile, filepath.Join(p.buildDir, p.packager.LockfileName())); err != nil {
					return fmt.Errorf("failed to copy lockfile: %w", err)
				}
				useLockfile = true
			}
		}

		log.Info().
			Str("packager", string(p.packager.Name())).
			Int("packages", len(written)).
			Bool("lockfile", useLockfile).
			Msg("Installing external packages")

		if err := p.packager.Install(ctx, p.buildDir, p.cfg.InstallExtraArgs, useLockfile); err != nil {
			return err
		}

		if len(p.cfg.PackagerOptions.Scripts) > 0 {
			if err := p.packager.RunScripts(ctx, p.buildDir, p.cfg.PackagerOptions.Scripts); err != nil {
				return err
			}
		}

		deps, err = p.packager.GetProdDependencies(ctx, p.buildDir, dependencyDepth)
		return err
	})

	return deps, err
}

func (p *Pipeline) pack(ctx context.Context, report *Report, results []build.FunctionBuildResult, deps packager.DependencyMap) ([]pack.Artifact, error) {
	var artifacts []pack.Artifact

	err := p.phase(ctx, report, PhasePack, func(ctx context.Context) error {
		if len(results) == 0 {
			return nil
		}

		candidates, err := selector.ListCandidates(p.buildDir)
		if err != nil {
			return err
		}

		provider := selector.ProviderGeneric
		if p.svc.IsGoogle() {
			provider = selector.ProviderGoogle
		}

		archiver := pack.NewArchiver(p.writer, p.metrics)
		artifacts, err = archiver.PackAll(ctx, p.svc, results, pack.Options{
			WorkDir:      p.workDir,
			BuildDir:     p.buildDir,
			Candidates:   candidates,
			Provider:     provider,
			HasExternals: p.cfg.HasExternals(),
			Dependencies: deps,
			Concurrency:  p.cfg.ZipConcurrency,
			NativeZip:    p.cfg.NativeZip,
		})
		return err
	}, attribute.Int("fnpack.bundles", len(results)))

	return artifacts, err
}

// copy copies pre-built artifacts. A service archive built in this run already
// holds the service, so the service-wide copy is skipped then.
func (p *Pipeline) copy(ctx context.Context, report *Report, packed bool) ([]pack.Artifact, error) {
	if !p.svc.Package.Individually && packed {
		for _, fn := range p.svc.Functions() {
			if p.cfg.IsPreBuilt(fn) {
				msg := "service archive was built in this run, pre-built artifacts are not copied"
				log.Warn().Str("service", p.svc.Name).Msg(msg)
				report.Warnings = append(report.Warnings, msg)
				break
			}
		}
		return nil, nil
	}

	var copied []pack.Artifact
	err := p.phase(ctx, report, PhaseCopy, func(ctx context.Context) error {
		var err error
		copied, err = pack.CopyPreBuiltResources(ctx, p.svc, pack.CopyOptions{
			WorkDir:           p.workDir,
			PackageOutputPath: p.servicePath(p.cfg.PackageOutputPath),
			IsPreBuilt:        p.cfg.IsPreBuilt,
			Metrics:           p.metrics,
		})
		return err
	})

	return copied, err
}

// servicePath resolves a configured path against the service directory
func (p *Pipeline) servicePath(path string) string {
	if filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(p.svc.Dir, path)
}
