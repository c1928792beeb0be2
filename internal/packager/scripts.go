package packager

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog/log"
	"mvdan.cc/sh/v3/expand"
	"mvdan.cc/sh/v3/interp"
	"mvdan.cc/sh/v3/syntax"
)

// runScripts runs each script with a POSIX shell interpreter in cwd. The
// local node_modules/.bin is put first on PATH.
func runScripts(ctx context.Context, cwd string, scripts []string) error {
	if len(scripts) == 0 {
		return nil
	}

	env := scriptEnv(cwd)
	parser := syntax.NewParser()

	for _, script := range scripts {
		file, err := parser.Parse(strings.NewReader(script), "")
		if err != nil {
			return fmt.Errorf("failed to parse script %q: %w", script, err)
		}

		var output strings.Builder
		runner, err := interp.New(
			interp.Dir(cwd),
			interp.Env(expand.ListEnviron(env...)),
			interp.StdIO(nil, &output, &output),
		)
		if err != nil {
			return fmt.Errorf("failed to create script runner: %w", err)
		}

		log.Debug().Str("script", script).Msg("Running packager script")

		if err := runner.Run(ctx, file); err != nil {
			return fmt.Errorf("script %q failed: %w: %s", script, err, strings.TrimSpace(output.String()))
		}
	}
	return nil
}

func scriptEnv(cwd string) []string {
	bin := filepath.Join(cwd, "node_modules", ".bin")
	env := make([]string, 0, len(os.Environ())+1)
	pathSet := false
	for _, kv := range os.Environ() {
		if value, ok := strings.CutPrefix(kv, "PATH="); ok {
			env = append(env, "PATH="+bin+string(os.PathListSeparator)+value)
			pathSet = true
			continue
		}
		env = append(env, kv)
	}
	if !pathSet {
		env = append(env, "PATH="+bin)
	}
	return env
}
