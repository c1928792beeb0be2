// Package pack assembles the deployable archives of a service and copies the
// artifacts of functions that skip the build.
package pack

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/attribute"

	"github.com/fluxbase-eu/fnpack/internal/archive"
	"github.com/fluxbase-eu/fnpack/internal/build"
	"github.com/fluxbase-eu/fnpack/internal/observability"
	"github.com/fluxbase-eu/fnpack/internal/packager"
	"github.com/fluxbase-eu/fnpack/internal/pool"
	"github.com/fluxbase-eu/fnpack/internal/selector"
	"github.com/fluxbase-eu/fnpack/internal/service"
)

// ServerlessFolder holds the archives, below the work directory
const ServerlessFolder = ".serverless"

var errEmptyFile = errors.New("file is empty")

// Artifact is an archive produced for a function or for the whole service
type Artifact struct {
	// Alias is empty for the service archive
	Alias string `json:"alias,omitempty"`
	Name  string `json:"name"`
	// Path is the absolute archive path
	Path string `json:"path"`
	// Artifact is the pointer written to the service model, relative to the
	// service directory
	Artifact string `json:"artifact"`
	Size     int64  `json:"size"`
	Files    int    `json:"files"`
	// PreBuilt marks artifacts copied instead of built
	PreBuilt bool `json:"pre_built,omitempty"`
}

// Options configures the archiving phase
type Options struct {
	WorkDir  string
	BuildDir string
	// Candidates is the listing of BuildDir
	Candidates   []selector.CandidateFile
	Provider     selector.Provider
	HasExternals bool
	// Dependencies is the installed production tree; nil when nothing was installed
	Dependencies packager.DependencyMap
	// Concurrency bounds the archives written at once
	Concurrency int
	NativeZip   bool
}

// Archiver writes archives through an archive.Writer
type Archiver struct {
	writer  archive.Writer
	metrics *observability.Metrics
}

// NewArchiver creates an archiver. metrics may be nil.
func NewArchiver(writer archive.Writer, metrics *observability.Metrics) *Archiver {
	return &Archiver{writer: writer, metrics: metrics}
}

// unit is one archive to write
type unit struct {
	alias   string
	name    string
	results []build.FunctionBuildResult
	fn      *service.Function
}

// PackAll writes one archive per distinct function alias when the service is
// packaged individually, otherwise a single service archive. Artifact pointers
// are updated for every archive written. A failed archive does not stop the
// others; their errors are joined.
func (a *Archiver) PackAll(ctx context.Context, svc *service.Service, results []build.FunctionBuildResult, opts Options) ([]Artifact, error) {
	if len(results) == 0 {
		log.Info().Msg("No bundles to package")
		return nil, nil
	}

	units := planUnits(svc, results)

	allBundles := make([]string, 0, len(results))
	for _, r := range results {
		allBundles = append(allBundles, r.BundlePath)
	}

	log.Info().
		Int("archives", len(units)).
		Int("concurrency", opts.Concurrency).
		Bool("individually", svc.Package.Individually).
		Msg("Packaging archives")

	start := time.Now()
	artifacts := make([]*Artifact, len(units))

	err := pool.Each(ctx, indexes(len(units)), opts.Concurrency, func(ctx context.Context, i int) error {
		artifact, err := a.packUnit(ctx, svc, units[i], allBundles, opts)
		if err != nil {
			return err
		}
		artifacts[i] = artifact
		return nil
	})

	// Pointers are written from the single control path, in unit order
	var out []Artifact
	for i, artifact := range artifacts {
		if artifact == nil {
			continue
		}
		if units[i].fn != nil {
			units[i].fn.SetArtifact(artifact.Artifact)
		} else {
			svc.SetArtifact(artifact.Artifact)
		}
		out = append(out, *artifact)
	}

	log.Info().
		Int("archives", len(out)).
		Dur("duration", time.Since(start)).
		Msg("Packaging completed")

	return out, err
}

// planUnits groups results by alias in first-appearance order
func planUnits(svc *service.Service, results []build.FunctionBuildResult) []unit {
	if !svc.Package.Individually {
		return []unit{{name: svc.Name, results: results}}
	}

	var units []unit
	index := make(map[string]int)
	for _, r := range results {
		if i, ok := index[r.FunctionAlias]; ok {
			units[i].results = append(units[i].results, r)
			continue
		}
		index[r.FunctionAlias] = len(units)
		units = append(units, unit{
			alias:   r.FunctionAlias,
			name:    r.FunctionAlias,
			results: []build.FunctionBuildResult{r},
			fn:      r.Func,
		})
	}
	return units
}

func (a *Archiver) packUnit(ctx context.Context, svc *service.Service, u unit, allBundles []string, opts Options) (_ *Artifact, err error) {
	start := time.Now()
	label := u.alias
	if label == "" {
		label = svc.Name
	}

	dest := filepath.Join(opts.WorkDir, ServerlessFolder, u.name+".zip")

	ctx, span := observability.StartArchiveSpan(ctx, label, dest)
	var size int64
	var count int
	defer func() {
		observability.EndSpan(span, err)
		a.metrics.ObserveArchive(time.Since(start), size, count, err)
	}()

	files := a.selectFiles(svc, u, allBundles, opts)

	if path, err := checkFiles(files); err != nil {
		return nil, &PackagingError{Alias: label, Path: path, Err: err}
	}

	if err := a.writer.WriteArchive(ctx, dest, files, opts.NativeZip); err != nil {
		return nil, &PackagingError{Alias: label, Path: dest, Err: err}
	}

	info, err := os.Stat(dest)
	if err != nil {
		return nil, &PackagingError{Alias: label, Path: dest, Err: err}
	}
	size, count = info.Size(), len(files)

	observability.SetSpanAttributes(ctx,
		attribute.Int("fnpack.files", count),
		attribute.Int64("fnpack.size", size),
	)

	log.Debug().
		Str("archive", dest).
		Int("files", count).
		Int64("size", size).
		Dur("duration", time.Since(start)).
		Msgf("Zip created: %s", label)

	return &Artifact{
		Alias:    u.alias,
		Name:     u.name,
		Path:     dest,
		Artifact: artifactPointer(svc.Dir, dest),
		Size:     size,
		Files:    count,
	}, nil
}

// selectFiles returns the archive content: the unit's bundles first, then the
// selected files of the build directory. Private staging prefixes of the
// unit's own files are stripped.
func (a *Archiver) selectFiles(svc *service.Service, u unit, allBundles []string, opts Options) []selector.CandidateFile {
	include := svc.Package.Include()
	exclude := svc.Package.Exclude()
	if u.fn != nil {
		include = append(append([]string{}, include...), u.fn.Package.Include()...)
		exclude = append(append([]string{}, exclude...), u.fn.Package.Exclude()...)
	}

	var externals []string
	for _, r := range u.results {
		externals = append(externals, r.Externals...)
	}
	whitelist := depWhiteList(opts.Dependencies, externals)

	var files []selector.CandidateFile
	seen := make(map[string]struct{})
	add := func(f selector.CandidateFile) {
		if _, ok := seen[f.LocalPath]; ok {
			return
		}
		seen[f.LocalPath] = struct{}{}
		files = append(files, f)
	}

	for _, r := range u.results {
		add(selector.CandidateFile{
			LocalPath: r.BundlePath,
			RootPath:  filepath.Join(opts.BuildDir, filepath.FromSlash(r.BundlePath)),
		})
	}

	// Service archives carry every bundle, so there are no other bundles to drop
	var others []string
	bundle := ""
	if u.fn != nil {
		others = allBundles
		bundle = u.results[0].BundlePath
	}

	selected := selector.FilterFilesForZipPackage(selector.Params{
		Files:         opts.Candidates,
		FunctionAlias: u.alias,
		Provider:      opts.Provider,
		HasExternals:  opts.HasExternals,
		DepWhiteList:  whitelist,
		IncludedFiles: include,
		ExcludedFiles: exclude,
		Bundle:        bundle,
		OtherBundles:  others,
	})

	for _, f := range selected {
		if u.alias != "" {
			f.LocalPath = selector.StripOnlyPrefix(f.LocalPath, u.alias)
		}
		add(f)
	}
	return files
}

// depWhiteList flattens the externals of a bundle through the installed tree.
// Bundles without known externals get an empty list, which allows every
// installed package.
func depWhiteList(deps packager.DependencyMap, externals []string) []string {
	names := packager.PackageNames(externals)
	if len(names) == 0 || deps == nil {
		return names
	}
	return packager.FlattenDependencies(deps, names)
}

// checkFiles rejects missing and empty files before anything is written. It
// returns the offending path.
func checkFiles(files []selector.CandidateFile) (string, error) {
	for _, f := range files {
		info, err := os.Stat(f.RootPath)
		if err != nil {
			return f.RootPath, err
		}
		if info.IsDir() {
			return f.RootPath, errors.New("is a directory")
		}
		if info.Size() == 0 {
			return f.RootPath, errEmptyFile
		}
	}
	return "", nil
}

// artifactPointer is dest relative to the service directory, or dest itself
// when it lies elsewhere
func artifactPointer(serviceDir, dest string) string {
	rel, err := filepath.Rel(serviceDir, dest)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return dest
	}
	return filepath.ToSlash(rel)
}

func indexes(n int) []int {
	out := make([]int, n)
	for i := range out {
		out[i] = i
	}
	return out
}
