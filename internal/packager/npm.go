package packager

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/rs/zerolog/log"
)

type npm struct {
	runner CommandRunner
}

func (n *npm) Name() ID { return NPM }

func (n *npm) LockfileName() string { return "package-lock.json" }

func (n *npm) CopyPackageSectionNames() []string { return []string{"overrides"} }

type npmNode struct {
	Version      string             `json:"version"`
	Dependencies map[string]npmNode `json:"dependencies"`
}

func (n *npm) GetProdDependencies(ctx context.Context, cwd string, depth int) (DependencyMap, error) {
	out, runErr := n.runner.Run(ctx, cwd, "npm", "ls", "--json", "--omit=dev", "--depth="+strconv.Itoa(depth))

	// npm ls exits non-zero on peer dependency problems but still prints the tree
	var root npmNode
	if err := json.Unmarshal(out, &root); err != nil {
		if runErr != nil {
			return nil, fmt.Errorf("failed to list npm dependencies: %w", runErr)
		}
		return nil, fmt.Errorf("failed to parse npm dependency tree: %w", err)
	}
	if runErr != nil {
		log.Warn().Err(runErr).Msg("npm ls reported problems, using the printed tree")
	}

	deps := convertNpm(root.Dependencies)
	markHoisted(deps)
	markInstalled(cwd, deps)
	return deps, nil
}

func convertNpm(nodes map[string]npmNode) DependencyMap {
	if len(nodes) == 0 {
		return nil
	}
	deps := make(DependencyMap, len(nodes))
	for name, node := range nodes {
		deps[name] = &DependencyTree{
			Version:      node.Version,
			Dependencies: convertNpm(node.Dependencies),
		}
	}
	return deps
}

func (n *npm) Install(ctx context.Context, cwd string, extraArgs []string, useLockfile bool) error {
	args := []string{"install"}
	if useLockfile {
		args = []string{"ci"}
	}
	args = append(args, extraArgs...)

	if _, err := n.runner.Run(ctx, cwd, "npm", args...); err != nil {
		return fmt.Errorf("npm install failed: %w", err)
	}
	return nil
}

func (n *npm) RunScripts(ctx context.Context, cwd string, scripts []string) error {
	return runScripts(ctx, cwd, scripts)
}
