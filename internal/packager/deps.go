package packager

import (
	"slices"
	"sort"
	"strings"
)

// Wildcard in a whitelist allows every installed package
const Wildcard = "*"

const nodeModules = "node_modules"

// PackageName returns the package an import path resolves to, or "" when the
// path is relative, absolute or a node: builtin.
//
//	"lodash/get"              -> "lodash"
//	"@aws-sdk/client-s3/dist" -> "@aws-sdk/client-s3"
func PackageName(importPath string) string {
	if importPath == "" ||
		strings.HasPrefix(importPath, ".") ||
		strings.HasPrefix(importPath, "/") ||
		strings.Contains(importPath, ":") {
		return ""
	}

	parts := strings.Split(importPath, "/")
	if strings.HasPrefix(importPath, "@") {
		if len(parts) < 2 || parts[1] == "" {
			return ""
		}
		return parts[0] + "/" + parts[1]
	}
	return parts[0]
}

// PackageNames maps import paths to sorted, unique package names
func PackageNames(importPaths []string) []string {
	seen := make(map[string]struct{})
	var out []string
	for _, p := range importPaths {
		name := PackageName(p)
		if name == "" {
			continue
		}
		if _, ok := seen[name]; ok {
			continue
		}
		seen[name] = struct{}{}
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// FlattenDependencies returns the sorted list of packages that must be present
// at the root of node_modules for the named packages to load: the packages
// themselves plus every hoisted dependency reachable from them. Dependencies
// nested under a package directory travel with it and are not listed.
func FlattenDependencies(root DependencyMap, names []string) []string {
	if slices.Contains(names, Wildcard) {
		return []string{Wildcard}
	}

	seen := make(map[string]struct{})

	var visit func(name string, dep *DependencyTree)
	var walk func(deps DependencyMap)

	walk = func(deps DependencyMap) {
		for _, name := range sortedKeys(deps) {
			dep := deps[name]
			if dep.IsRootDep {
				visit(name, dep)
				continue
			}
			walk(dep.Dependencies)
		}
	}

	// A hoisted package missing from the root map still carries its own
	// dependencies in the nested node
	visit = func(name string, dep *DependencyTree) {
		if _, ok := seen[name]; ok {
			return
		}
		seen[name] = struct{}{}
		if top, ok := root[name]; ok {
			dep = top
		}
		if dep != nil {
			walk(dep.Dependencies)
		}
	}

	for _, name := range names {
		visit(name, nil)
	}

	out := make([]string, 0, len(seen))
	for name := range seen {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

func sortedKeys(deps DependencyMap) []string {
	keys := make([]string, 0, len(deps))
	for k := range deps {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
