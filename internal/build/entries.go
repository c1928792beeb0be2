// Package build compiles function entries into bundles and maps the results
// back onto the functions that reference them.
package build

import (
	"encoding/json"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/fluxbase-eu/fnpack/internal/service"
)

// FunctionEntry ties a logical function to its source entry file. Several
// entries may share the same Entry. Func is nil for placeholder entries that
// are compiled but belong to no function.
type FunctionEntry struct {
	Entry         string
	Func          *service.Function
	FunctionAlias string
}

// EntryOptions controls how handlers are resolved to source files
type EntryOptions struct {
	// ResolveExtensions are tried in order when looking for a handler file
	ResolveExtensions []string
	// AdditionalEntries are compiled without being attached to a function
	AdditionalEntries []string
	// IsPreBuilt reports whether a function skips the build step
	IsPreBuilt func(fn *service.Function) bool
}

// ExtractEntries resolves the entry file of every buildable function, in
// declaration order, followed by the additional entries. Functions that are
// pre-built or do not run on Node.js are left out.
func ExtractEntries(svc *service.Service, opts EntryOptions) ([]FunctionEntry, error) {
	var entries []FunctionEntry

	for _, fn := range svc.Functions() {
		if opts.IsPreBuilt != nil && opts.IsPreBuilt(fn) {
			continue
		}
		if !svc.IsNodeFunction(fn) {
			continue
		}

		entry, err := resolveEntry(svc, fn, opts.ResolveExtensions)
		if err != nil {
			return nil, err
		}

		entries = append(entries, FunctionEntry{
			Entry:         entry,
			Func:          fn,
			FunctionAlias: fn.Alias,
		})
	}

	for _, extra := range opts.AdditionalEntries {
		entries = append(entries, FunctionEntry{Entry: path.Clean(filepath.ToSlash(extra))})
	}

	return entries, nil
}

func resolveEntry(svc *service.Service, fn *service.Function, extensions []string) (string, error) {
	if fn.Entrypoint != "" {
		return path.Clean(filepath.ToSlash(fn.Entrypoint)), nil
	}

	if svc.IsGoogle() {
		return googleEntry(svc.Dir)
	}

	if fn.Handler == "" {
		return "", fmt.Errorf("function %q has no handler", fn.Alias)
	}

	// "src/hello.handler" exports handler from src/hello.<ext>
	idx := strings.LastIndex(fn.Handler, ".")
	if idx <= 0 {
		return "", fmt.Errorf("function %q: handler %q must be of the form <file>.<export>", fn.Alias, fn.Handler)
	}
	base := path.Clean(filepath.ToSlash(fn.Handler[:idx]))

	for _, ext := range extensions {
		for _, candidate := range []string{base + ext, path.Join(base, "index"+ext)} {
			if isFile(filepath.Join(svc.Dir, filepath.FromSlash(candidate))) {
				return candidate, nil
			}
		}
	}

	return "", fmt.Errorf("no entry file found for function %q: looked for %s with extensions %s",
		fn.Alias, base, strings.Join(extensions, ", "))
}

// googleEntry returns the "main" file of package.json, where Cloud Functions
// look up exported handlers
func googleEntry(dir string) (string, error) {
	data, err := os.ReadFile(filepath.Join(dir, "package.json"))
	if err != nil {
		return "", fmt.Errorf("failed to read package.json for google entry: %w", err)
	}

	var pkg struct {
		Main string `json:"main"`
	}
	if err := json.Unmarshal(data, &pkg); err != nil {
		return "", fmt.Errorf("failed to parse package.json: %w", err)
	}
	if pkg.Main == "" {
		return "index.js", nil
	}
	return path.Clean(filepath.ToSlash(pkg.Main)), nil
}

func isFile(p string) bool {
	info, err := os.Stat(p)
	return err == nil && !info.IsDir()
}

// BundlePath returns the output path of an entry: the same relative path with
// its extension swapped. With stripExtensions, a matching multi-part extension
// such as ".aws.ts" is removed whole.
func BundlePath(entry, outputExtension string, stripExtensions []string) string {
	for _, ext := range stripExtensions {
		if strings.Count(ext, ".") > 1 && strings.HasSuffix(entry, ext) {
			return strings.TrimSuffix(entry, ext) + outputExtension
		}
	}

	if idx := strings.LastIndex(entry, "."); idx > strings.LastIndex(entry, "/") {
		return entry[:idx] + outputExtension
	}
	return entry + outputExtension
}
