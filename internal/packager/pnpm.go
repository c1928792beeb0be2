package packager

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
)

type pnpm struct {
	runner CommandRunner
}

func (p *pnpm) Name() ID { return PNPM }

func (p *pnpm) LockfileName() string { return "pnpm-lock.yaml" }

func (p *pnpm) CopyPackageSectionNames() []string { return []string{"pnpm"} }

type pnpmNode struct {
	Version      string              `json:"version"`
	Dependencies map[string]pnpmNode `json:"dependencies"`
}

func (p *pnpm) GetProdDependencies(ctx context.Context, cwd string, depth int) (DependencyMap, error) {
	out, err := p.runner.Run(ctx, cwd, "pnpm", "ls", "--prod", "--json", "--depth="+strconv.Itoa(depth))
	if err != nil {
		return nil, fmt.Errorf("failed to list pnpm dependencies: %w", err)
	}

	// pnpm prints one element per project
	var projects []pnpmNode
	if err := json.Unmarshal(out, &projects); err != nil {
		return nil, fmt.Errorf("failed to parse pnpm dependency tree: %w", err)
	}
	if len(projects) == 0 {
		return DependencyMap{}, nil
	}

	deps := convertPnpm(projects[0].Dependencies)
	markHoisted(deps)
	return deps, nil
}

func convertPnpm(nodes map[string]pnpmNode) DependencyMap {
	if len(nodes) == 0 {
		return nil
	}
	deps := make(DependencyMap, len(nodes))
	for name, node := range nodes {
		deps[name] = &DependencyTree{
			Version:      node.Version,
			Dependencies: convertPnpm(node.Dependencies),
		}
	}
	return deps
}

func (p *pnpm) Install(ctx context.Context, cwd string, extraArgs []string, useLockfile bool) error {
	args := []string{"install"}
	if useLockfile {
		args = append(args, "--frozen-lockfile")
	}
	args = append(args, extraArgs...)

	if _, err := p.runner.Run(ctx, cwd, "pnpm", args...); err != nil {
		return fmt.Errorf("pnpm install failed: %w", err)
	}
	return nil
}

func (p *pnpm) RunScripts(ctx context.Context, cwd string, scripts []string) error {
	return runScripts(ctx, cwd, scripts)
}
