// Package selector decides which files of the build directory go into a
// function's archive.
package selector

import (
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"slices"
	"sort"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
)

// OnlyPrefix marks files staged privately for one function:
// __only_<alias>/...
const OnlyPrefix = "__only_"

// Wildcard in a whitelist allows every package
const Wildcard = "*"

const nodeModules = "node_modules"

// CandidateFile is a file of the build directory. LocalPath is slash separated
// and relative to the build directory; RootPath is absolute.
type CandidateFile struct {
	LocalPath string `json:"localPath"`
	RootPath  string `json:"rootPath"`
}

// Provider selects the provider-specific path conventions
type Provider int

const (
	ProviderGeneric Provider = iota
	// ProviderGoogle installs dependencies on deploy, so node_modules never
	// ships in the archive
	ProviderGoogle
)

func (p Provider) String() string {
	if p == ProviderGoogle {
		return "google"
	}
	return "generic"
}

// normalize shapes a local path into a Google archive entry name: slash
// separated and clean ("./src//a.js" becomes "src/a.js"). Params.Files may
// come from callers that built paths with filepath.Rel on Windows. Other
// providers keep the path untouched.
func (p Provider) normalize(localPath string) string {
	if p != ProviderGoogle {
		return localPath
	}
	cleaned := path.Clean(strings.ReplaceAll(localPath, `\`, "/"))
	return strings.TrimPrefix(cleaned, "/")
}

func (p Provider) shipsNodeModules() bool {
	return p != ProviderGoogle
}

// Params is the input of FilterFilesForZipPackage
type Params struct {
	Files []CandidateFile
	// FunctionAlias scopes __only_ files; empty selects for the whole service
	FunctionAlias string
	Provider      Provider
	HasExternals  bool
	// DepWhiteList holds the package names allowed from node_modules. Empty
	// or containing Wildcard allows them all.
	DepWhiteList []string
	// IncludedFiles globs force files in; ExcludedFiles globs win over them
	IncludedFiles []string
	ExcludedFiles []string
	// Bundle is the function's own bundle path
	Bundle string
	// OtherBundles are bundle paths of other functions. They and their
	// derived files (foo.js.map) are left out.
	OtherBundles []string
}

// FilterFilesForZipPackage returns the files that belong to an archive, in
// input order
func FilterFilesForZipPackage(p Params) []CandidateFile {
	otherPrefixes := make([]string, 0, len(p.OtherBundles))
	for _, b := range p.OtherBundles {
		if b == p.Bundle {
			continue
		}
		otherPrefixes = append(otherPrefixes, trimExtension(b)+".")
	}
	ownPrefix := ""
	if p.Bundle != "" {
		ownPrefix = trimExtension(p.Bundle) + "."
	}

	allowAll := len(p.DepWhiteList) == 0 || slices.Contains(p.DepWhiteList, Wildcard)

	var out []CandidateFile
	for _, f := range p.Files {
		localPath := p.Provider.normalize(f.LocalPath)
		if selected(p, localPath, otherPrefixes, ownPrefix, allowAll) {
			out = append(out, CandidateFile{LocalPath: localPath, RootPath: f.RootPath})
		}
	}
	return out
}

func selected(p Params, localPath string, otherPrefixes []string, ownPrefix string, allowAll bool) bool {
	names := matchNames(localPath, p.FunctionAlias)

	if matchAny(p.ExcludedFiles, names) {
		return false
	}
	if matchAny(p.IncludedFiles, names) {
		return true
	}

	if ownPrefix == "" || !strings.HasPrefix(localPath, ownPrefix) {
		for _, prefix := range otherPrefixes {
			if strings.HasPrefix(localPath, prefix) {
				return false
			}
		}
	}

	if alias, ok := onlyAlias(localPath); ok && p.FunctionAlias != "" && alias != p.FunctionAlias {
		return false
	}

	if localPath == nodeModules || strings.HasPrefix(localPath, nodeModules+"/") {
		if !p.HasExternals || !p.Provider.shipsNodeModules() {
			return false
		}
		if allowAll {
			return true
		}
		for _, dep := range p.DepWhiteList {
			if sharesPath(localPath, nodeModules+"/"+dep) {
				return true
			}
		}
		return false
	}

	return true
}

// onlyAlias returns the alias of a privately staged file
func onlyAlias(localPath string) (string, bool) {
	rest, ok := strings.CutPrefix(localPath, OnlyPrefix)
	if !ok {
		return "", false
	}
	alias, _, _ := strings.Cut(rest, "/")
	return alias, true
}

// StripOnlyPrefix removes the __only_<alias>/ prefix of the alias' own files
func StripOnlyPrefix(localPath, alias string) string {
	return strings.TrimPrefix(localPath, OnlyPrefix+alias+"/")
}

// matchNames are the paths patterns are tested against: the local path and,
// for the function's own private files, the path below the staging root
func matchNames(localPath, alias string) []string {
	if alias == "" {
		return []string{localPath}
	}
	if stripped := StripOnlyPrefix(localPath, alias); stripped != localPath {
		return []string{localPath, stripped}
	}
	return []string{localPath}
}

func matchAny(patterns, names []string) bool {
	for _, pattern := range patterns {
		for _, name := range names {
			if matched, err := doublestar.Match(pattern, name); err == nil && matched {
				return true
			}
		}
	}
	return false
}

func sharesPath(localPath, prefix string) bool {
	return localPath == prefix || strings.HasPrefix(localPath, prefix+"/")
}

func trimExtension(p string) string {
	return strings.TrimSuffix(p, path.Ext(p))
}

// ValidatePatterns reports the first malformed glob
func ValidatePatterns(patterns []string) error {
	for _, pattern := range patterns {
		if !doublestar.ValidatePattern(pattern) {
			return fmt.Errorf("invalid glob pattern %q", pattern)
		}
	}
	return nil
}

// ListCandidates lists every file below root, sorted by local path
func ListCandidates(root string) ([]CandidateFile, error) {
	absRoot, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve %s: %w", root, err)
	}

	var files []CandidateFile
	err = doublestar.GlobWalk(os.DirFS(absRoot), "**", func(p string, d fs.DirEntry) error {
		if d.IsDir() {
			return nil
		}
		rootPath := filepath.Join(absRoot, filepath.FromSlash(p))
		if d.Type()&fs.ModeSymlink != 0 {
			info, err := os.Stat(rootPath)
			if err == nil && info.IsDir() {
				return nil
			}
		}
		files = append(files, CandidateFile{LocalPath: p, RootPath: rootPath})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list files in %s: %w", root, err)
	}

	sort.Slice(files, func(i, j int) bool { return files[i].LocalPath < files[j].LocalPath })
	return files, nil
}
