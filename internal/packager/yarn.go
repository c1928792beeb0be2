package packager

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// yarn supports the classic (v1) CLI output
type yarn struct {
	runner CommandRunner
}

func (y *yarn) Name() ID { return Yarn }

func (y *yarn) LockfileName() string { return "yarn.lock" }

func (y *yarn) CopyPackageSectionNames() []string { return []string{"resolutions"} }

type yarnTree struct {
	Name     string     `json:"name"`
	Children []yarnTree `json:"children"`
	// Shadow children point at a package hoisted to the top level
	Shadow bool `json:"shadow"`
}

type yarnList struct {
	Type string `json:"type"`
	Data struct {
		Trees []yarnTree `json:"trees"`
	} `json:"data"`
}

func (y *yarn) GetProdDependencies(ctx context.Context, cwd string, depth int) (DependencyMap, error) {
	out, err := y.runner.Run(ctx, cwd, "yarn", "list", "--depth="+strconv.Itoa(depth), "--json", "--production")
	if err != nil {
		return nil, fmt.Errorf("failed to list yarn dependencies: %w", err)
	}

	// Output is a stream of JSON lines; only the "tree" line matters
	var list yarnList
	found := false
	for _, line := range strings.Split(string(out), "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		var candidate yarnList
		if err := json.Unmarshal([]byte(line), &candidate); err != nil {
			continue
		}
		if candidate.Type == "tree" {
			list = candidate
			found = true
			break
		}
	}
	if !found {
		return nil, fmt.Errorf("failed to parse yarn dependency tree: no tree in output")
	}

	return convertYarn(list.Data.Trees), nil
}

func convertYarn(trees []yarnTree) DependencyMap {
	if len(trees) == 0 {
		return nil
	}
	deps := make(DependencyMap, len(trees))
	for _, tree := range trees {
		name, version := splitNameVersion(tree.Name)
		deps[name] = &DependencyTree{
			Version:      version,
			Dependencies: convertYarn(tree.Children),
			IsRootDep:    tree.Shadow,
		}
	}
	return deps
}

// splitNameVersion splits "name@version", keeping the scope of "@scope/name@1.0.0"
func splitNameVersion(s string) (string, string) {
	idx := strings.LastIndex(s, "@")
	if idx <= 0 {
		return s, ""
	}
	return s[:idx], s[idx+1:]
}

func (y *yarn) Install(ctx context.Context, cwd string, extraArgs []string, useLockfile bool) error {
	args := []string{"install", "--non-interactive"}
	if useLockfile {
		args = append(args, "--frozen-lockfile")
	}
	args = append(args, extraArgs...)

	if _, err := y.runner.Run(ctx, cwd, "yarn", args...); err != nil {
		return fmt.Errorf("yarn install failed: %w", err)
	}
	return nil
}

func (y *yarn) RunScripts(ctx context.Context, cwd string, scripts []string) error {
	return runScripts(ctx, cwd, scripts)
}
