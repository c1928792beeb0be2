// Package packager abstracts the Node.js package managers (npm, pnpm, yarn)
// the pipeline uses to install external dependencies and to inspect the
// production dependency tree.
package packager

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog/log"
)

// ID identifies a package manager
type ID string

const (
	NPM  ID = "npm"
	PNPM ID = "pnpm"
	Yarn ID = "yarn"
)

// DependencyMap maps package names to their installed tree
type DependencyMap map[string]*DependencyTree

// DependencyTree is one installed package and what it depends on
type DependencyTree struct {
	Version      string        `json:"version"`
	Dependencies DependencyMap `json:"dependencies,omitempty"`
	// IsRootDep marks a dependency hoisted to the root node_modules
	IsRootDep bool `json:"isRootDep,omitempty"`
}

// Packager is the interface the pipeline needs from a package manager
type Packager interface {
	// Name returns the package manager id
	Name() ID
	// LockfileName is the lockfile copied next to package.json before install
	LockfileName() string
	// CopyPackageSectionNames lists package.json sections that affect resolution
	CopyPackageSectionNames() []string
	// GetProdDependencies returns the production dependencies installed in cwd
	GetProdDependencies(ctx context.Context, cwd string, depth int) (DependencyMap, error)
	// Install installs the dependencies declared in cwd/package.json
	Install(ctx context.Context, cwd string, extraArgs []string, useLockfile bool) error
	// RunScripts runs shell scripts in cwd after install
	RunScripts(ctx context.Context, cwd string, scripts []string) error
}

// CommandRunner runs an external command and returns its standard output
type CommandRunner interface {
	Run(ctx context.Context, dir, name string, args ...string) ([]byte, error)
}

// ExecRunner runs commands with os/exec
type ExecRunner struct{}

// Run executes name with args in dir. On failure the output is still returned
// together with an error carrying stderr.
func (ExecRunner) Run(ctx context.Context, dir, name string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Dir = dir

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	log.Debug().Str("dir", dir).Str("command", name+" "+strings.Join(args, " ")).Msg("Running packager command")

	if err := cmd.Run(); err != nil {
		msg := strings.TrimSpace(stderr.String())
		if msg == "" {
			msg = err.Error()
		}
		return stdout.Bytes(), fmt.Errorf("%s %s failed: %s", name, strings.Join(args, " "), msg)
	}
	return stdout.Bytes(), nil
}

// Get returns the packager for id. A nil runner uses ExecRunner.
func Get(id ID, runner CommandRunner) (Packager, error) {
	if runner == nil {
		runner = ExecRunner{}
	}

	log.Debug().Str("packager", string(id)).Msg("Using packager")

	switch id {
	case NPM:
		return &npm{runner: runner}, nil
	case PNPM:
		return &pnpm{runner: runner}, nil
	case Yarn:
		return &yarn{runner: runner}, nil
	default:
		return nil, fmt.Errorf("unsupported packager: %s (valid: npm, pnpm, yarn)", id)
	}
}

// markHoisted flags nested dependencies that resolve to the same version as a
// root dependency, i.e. the ones installed at the top of node_modules
func markHoisted(root DependencyMap) {
	var walk func(deps DependencyMap)
	walk = func(deps DependencyMap) {
		for name, dep := range deps {
			if top, ok := root[name]; ok && top != dep && top.Version == dep.Version {
				dep.IsRootDep = true
			}
			walk(dep.Dependencies)
		}
	}
	for _, dep := range root {
		walk(dep.Dependencies)
	}
}

// markInstalled flags nested dependencies that node resolves to the top of
// cwd/node_modules. The logical tree printed by npm ls nests a hoisted
// transitive dependency under its dependent, so the location on disk decides.
func markInstalled(cwd string, root DependencyMap) {
	var walk func(parent string, deps DependencyMap)
	walk = func(parent string, deps DependencyMap) {
		for name, dep := range deps {
			loc := resolveInstalled(cwd, parent, name)
			if loc == path.Join(nodeModules, name) {
				dep.IsRootDep = true
			}
			if loc == "" {
				loc = path.Join(parent, nodeModules, name)
			}
			walk(loc, dep.Dependencies)
		}
	}
	for name, dep := range root {
		walk(path.Join(nodeModules, name), dep.Dependencies)
	}
}

// resolveInstalled returns the slash path, relative to cwd, of the directory
// node loads name from when required inside parent, or "" if none exists
func resolveInstalled(cwd, parent, name string) string {
	dir := parent
	for {
		candidate := path.Join(dir, nodeModules, name)
		if info, err := os.Stat(filepath.Join(cwd, filepath.FromSlash(candidate))); err == nil && info.IsDir() {
			return candidate
		}
		if dir == "" {
			return ""
		}
		if idx := strings.LastIndex(dir, nodeModules+"/"); idx > 0 {
			dir = strings.TrimSuffix(dir[:idx], "/")
		} else {
			dir = ""
		}
	}
}
