package packager

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog/log"
)

// PreparePackageJSON writes dst/package.json declaring only the given external
// packages, with the versions the service's package.json asks for. Sections that
// affect resolution (overrides, resolutions...) are copied as-is. Returns the
// dependencies written.
func PreparePackageJSON(src, dst string, externals, sectionNames []string) (map[string]string, error) {
	data, err := os.ReadFile(src)
	if err != nil {
		return nil, fmt.Errorf("failed to read package.json: %w", err)
	}

	var pkg map[string]json.RawMessage
	if err := json.Unmarshal(data, &pkg); err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", src, err)
	}

	declared := make(map[string]string)
	for _, section := range []string{"dependencies", "optionalDependencies", "peerDependencies"} {
		raw, ok := pkg[section]
		if !ok {
			continue
		}
		var deps map[string]string
		if err := json.Unmarshal(raw, &deps); err != nil {
			return nil, fmt.Errorf("failed to parse %s in %s: %w", section, src, err)
		}
		for name, version := range deps {
			if _, ok := declared[name]; !ok {
				declared[name] = version
			}
		}
	}

	dependencies := make(map[string]string, len(externals))
	for _, name := range externals {
		if name == Wildcard {
			continue
		}
		version, ok := declared[name]
		if !ok {
			log.Warn().Str("package", name).Msg("External package is not declared in package.json, skipping install")
			continue
		}
		dependencies[name] = resolveFileVersion(version, filepath.Dir(src), dst)
	}

	out := map[string]any{
		"name":         "fnpack-externals",
		"version":      "1.0.0",
		"private":      true,
		"dependencies": dependencies,
	}
	for _, section := range sectionNames {
		if raw, ok := pkg[section]; ok {
			out[section] = raw
		}
	}

	encoded, err := json.MarshalIndent(out, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to encode package.json: %w", err)
	}

	if err := os.MkdirAll(dst, 0755); err != nil {
		return nil, fmt.Errorf("failed to create %s: %w", dst, err)
	}
	if err := os.WriteFile(filepath.Join(dst, "package.json"), append(encoded, '\n'), 0644); err != nil {
		return nil, fmt.Errorf("failed to write package.json: %w", err)
	}

	log.Debug().Int("dependencies", len(dependencies)).Str("dir", dst).Msg("Prepared package.json")

	return dependencies, nil
}

// resolveFileVersion rewrites relative file: specifiers so they still point at
// the same directory from dst
func resolveFileVersion(version, srcDir, dst string) string {
	rel, ok := strings.CutPrefix(version, "file:")
	if !ok || filepath.IsAbs(rel) {
		return version
	}

	target, err := filepath.Abs(filepath.Join(srcDir, rel))
	if err != nil {
		return version
	}
	absDst, err := filepath.Abs(dst)
	if err != nil {
		return version
	}
	fromDst, err := filepath.Rel(absDst, target)
	if err != nil {
		return version
	}
	return "file:" + filepath.ToSlash(fromDst)
}
