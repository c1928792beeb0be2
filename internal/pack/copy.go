package pack

import (
	"context"
	"errors"
	"os"
	"path/filepath"

	"github.com/rs/zerolog/log"

	"github.com/fluxbase-eu/fnpack/internal/archive"
	"github.com/fluxbase-eu/fnpack/internal/observability"
	"github.com/fluxbase-eu/fnpack/internal/service"
)

var errNoArtifact = errors.New("no artifact declared")

// CopyOptions configures CopyPreBuiltResources
type CopyOptions struct {
	WorkDir string
	// PackageOutputPath holds the service archive of a previous packaging,
	// used when the service package declares no artifact
	PackageOutputPath string
	// IsPreBuilt reports whether a function skips the build step
	IsPreBuilt func(fn *service.Function) bool
	Metrics    *observability.Metrics
}

// CopyPreBuiltResources copies the declared artifacts of functions that skip
// the build into the canonical archive slots and rewrites their pointers.
// Without individual packaging a single service archive is copied. Functions
// that do build are left untouched.
func CopyPreBuiltResources(ctx context.Context, svc *service.Service, opts CopyOptions) ([]Artifact, error) {
	var preBuilt []*service.Function
	for _, fn := range svc.Functions() {
		if opts.IsPreBuilt != nil && opts.IsPreBuilt(fn) {
			preBuilt = append(preBuilt, fn)
		}
	}
	if len(preBuilt) == 0 {
		return nil, nil
	}

	log.Info().Int("functions", len(preBuilt)).Msg("Copying pre-built resources")

	if !svc.Package.Individually {
		src := svc.Package.Artifact
		if src == "" {
			src = filepath.Join(opts.PackageOutputPath, svc.Name+".zip")
		}
		artifact, err := copyArtifact(ctx, svc, svc.Name, "", src, opts)
		if err != nil {
			return nil, err
		}
		svc.SetArtifact(artifact.Artifact)
		return []Artifact{*artifact}, nil
	}

	var out []Artifact
	var errs []error
	for _, fn := range preBuilt {
		artifact, err := copyArtifact(ctx, svc, fn.Alias, fn.Alias, fn.Package.Artifact, opts)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		fn.SetArtifact(artifact.Artifact)
		out = append(out, *artifact)
	}
	return out, errors.Join(errs...)
}

func copyArtifact(ctx context.Context, svc *service.Service, name, alias, src string, opts CopyOptions) (*Artifact, error) {
	label := alias
	if label == "" {
		label = svc.Name
	}

	if err := ctx.Err(); err != nil {
		return nil, &CopyError{Alias: label, Path: src, Err: err}
	}
	if src == "" {
		opts.Metrics.ObserveCopy(errNoArtifact)
		return nil, &CopyError{Alias: label, Err: errNoArtifact}
	}
	if !filepath.IsAbs(src) {
		src = filepath.Join(svc.Dir, src)
	}

	dest := filepath.Join(opts.WorkDir, ServerlessFolder, name+".zip")

	var err error
	if !samePath(src, dest) {
		err = archive.CopyFile(src, dest)
	}
	opts.Metrics.ObserveCopy(err)
	if err != nil {
		return nil, &CopyError{Alias: label, Path: src, Err: err}
	}

	info, err := os.Stat(dest)
	if err != nil {
		return nil, &CopyError{Alias: label, Path: dest, Err: err}
	}

	log.Debug().Str("from", src).Str("to", dest).Msgf("Pre-built artifact copied: %s", label)

	return &Artifact{
		Alias:    alias,
		Name:     name,
		Path:     dest,
		Artifact: artifactPointer(svc.Dir, dest),
		Size:     info.Size(),
		PreBuilt: true,
	}, nil
}

// samePath reports whether a and b name the same file, which happens when an
// artifact pointer was already rewritten by an earlier run
func samePath(a, b string) bool {
	absA, errA := filepath.Abs(a)
	absB, errB := filepath.Abs(b)
	return errA == nil && errB == nil && absA == absB
}
