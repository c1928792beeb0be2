package pack

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fluxbase-eu/fnpack/internal/archive"
	"github.com/fluxbase-eu/fnpack/internal/build"
	"github.com/fluxbase-eu/fnpack/internal/packager"
	"github.com/fluxbase-eu/fnpack/internal/selector"
	"github.com/fluxbase-eu/fnpack/internal/service"
)

type writeCall struct {
	dest   string
	files  []selector.CandidateFile
	native bool
}

// recordingWriter records archive requests and writes a placeholder file
type recordingWriter struct {
	mu    sync.Mutex
	calls []writeCall
	fail  map[string]error
}

func (w *recordingWriter) WriteArchive(_ context.Context, dest string, files []selector.CandidateFile, native bool) error {
	w.mu.Lock()
	w.calls = append(w.calls, writeCall{dest: dest, files: files, native: native})
	w.mu.Unlock()

	if err := w.fail[filepath.Base(dest)]; err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(dest), 0755); err != nil {
		return err
	}
	return os.WriteFile(dest, []byte("zip"), 0644)
}

func (w *recordingWriter) call(t *testing.T, name string) writeCall {
	t.Helper()
	for _, c := range w.calls {
		if filepath.Base(c.dest) == name {
			return c
		}
	}
	t.Fatalf("no archive %s written", name)
	return writeCall{}
}

func localPaths(files []selector.CandidateFile) []string {
	out := make([]string, len(files))
	for i, f := range files {
		out[i] = f.LocalPath
	}
	return out
}

type fixture struct {
	svc      *service.Service
	workDir  string
	buildDir string
	results  []build.FunctionBuildResult
}

func newFixture(t *testing.T, individually bool, buildFiles map[string]string) *fixture {
	t.Helper()
	dir := t.TempDir()
	workDir := filepath.Join(dir, ".fnpack")
	buildDir := filepath.Join(workDir, ".build")

	for p, content := range buildFiles {
		full := filepath.Join(buildDir, filepath.FromSlash(p))
		require.NoError(t, os.MkdirAll(filepath.Dir(full), 0755))
		require.NoError(t, os.WriteFile(full, []byte(content), 0644))
	}

	hello1 := &service.Function{Alias: "hello1", Handler: "hello1.handler", Name: "serverless-example-dev-hello1"}
	hello2 := &service.Function{Alias: "hello2", Handler: "hello2.handler", Name: "serverless-example-dev-hello2"}
	svc := service.New("serverless-example", dir, service.Provider{Name: "aws"},
		service.PackageConfig{Individually: individually}, hello1, hello2)

	return &fixture{
		svc:      svc,
		workDir:  workDir,
		buildDir: buildDir,
		results: []build.FunctionBuildResult{
			{BundlePath: "hello1.js", Entry: "hello1.ts", Func: hello1, FunctionAlias: "hello1"},
			{BundlePath: "hello2.js", Entry: "hello2.ts", Func: hello2, FunctionAlias: "hello2"},
		},
	}
}

func (f *fixture) options(t *testing.T) Options {
	t.Helper()
	candidates, err := selector.ListCandidates(f.buildDir)
	require.NoError(t, err)
	return Options{
		WorkDir:     f.workDir,
		BuildDir:    f.buildDir,
		Candidates:  candidates,
		Concurrency: 0,
	}
}

func TestPackAll_Individually(t *testing.T) {
	f := newFixture(t, true, map[string]string{
		"hello1.js":     "one",
		"hello1.js.map": "{}",
		"hello2.js":     "two",
		"hello2.js.map": "{}",
		"shared.json":   "{}",
	})
	writer := &recordingWriter{}

	artifacts, err := NewArchiver(writer, nil).PackAll(context.Background(), f.svc, f.results, f.options(t))
	require.NoError(t, err)

	require.Len(t, writer.calls, 2)
	assert.Equal(t, filepath.Join(f.workDir, ".serverless", "hello1.zip"), writer.call(t, "hello1.zip").dest)
	assert.Equal(t, filepath.Join(f.workDir, ".serverless", "hello2.zip"), writer.call(t, "hello2.zip").dest)

	assert.Equal(t, []string{"hello1.js", "hello1.js.map", "shared.json"}, localPaths(writer.call(t, "hello1.zip").files))
	assert.Equal(t, []string{"hello2.js", "hello2.js.map", "shared.json"}, localPaths(writer.call(t, "hello2.zip").files))

	require.Len(t, artifacts, 2)
	assert.Equal(t, "hello1", artifacts[0].Alias)
	assert.Equal(t, "hello2", artifacts[1].Alias)

	hello1, _ := f.svc.Function("hello1")
	hello2, _ := f.svc.Function("hello2")
	assert.Equal(t, ".fnpack/.serverless/hello1.zip", hello1.Package.Artifact)
	assert.Equal(t, ".fnpack/.serverless/hello2.zip", hello2.Package.Artifact)
	assert.Empty(t, f.svc.Package.Artifact)
}

func TestPackAll_ServiceWide(t *testing.T) {
	f := newFixture(t, false, map[string]string{
		"hello1.js":          "one",
		"hello2.js":          "two",
		"__only_hello1/a.sh": "a",
		"__only_hello2/b.sh": "b",
	})
	writer := &recordingWriter{}

	artifacts, err := NewArchiver(writer, nil).PackAll(context.Background(), f.svc, f.results, f.options(t))
	require.NoError(t, err)

	require.Len(t, writer.calls, 1)
	call := writer.call(t, "serverless-example.zip")
	assert.Equal(t, []string{"hello1.js", "hello2.js", "__only_hello1/a.sh", "__only_hello2/b.sh"}, localPaths(call.files))

	require.Len(t, artifacts, 1)
	assert.Empty(t, artifacts[0].Alias)
	assert.Equal(t, ".fnpack/.serverless/serverless-example.zip", f.svc.Package.Artifact)

	for _, fn := range f.svc.Functions() {
		assert.Empty(t, fn.Package.Artifact)
	}
}

func TestPackAll_PrivateFiles(t *testing.T) {
	f := newFixture(t, true, map[string]string{
		"hello1.js":                        "one",
		"hello2.js":                        "two",
		"__only_hello1/bin/imagemagick":    "bin",
		"__only_hello2/bin/ffmpeg":         "bin",
		"__only_hello10/bin/not-for-hello": "bin",
	})
	writer := &recordingWriter{}

	_, err := NewArchiver(writer, nil).PackAll(context.Background(), f.svc, f.results, f.options(t))
	require.NoError(t, err)

	assert.Equal(t, []string{"hello1.js", "bin/imagemagick"}, localPaths(writer.call(t, "hello1.zip").files))
	assert.Equal(t, []string{"hello2.js", "bin/ffmpeg"}, localPaths(writer.call(t, "hello2.zip").files))
}

func TestPackAll_ExternalsWhitelist(t *testing.T) {
	f := newFixture(t, true, map[string]string{
		"hello1.js":                           "one",
		"hello2.js":                           "two",
		"node_modules/express/index.js":       "e",
		"node_modules/body-parser/index.js":   "b",
		"node_modules/lodash/index.js":        "l",
		"node_modules/@aws-sdk/client/i.js":   "a",
		"node_modules/express/package.json":   "{}",
		"node_modules/lodash/package.json":    "{}",
		"node_modules/@aws-sdk/client/p.json": "{}",
	})
	f.results[0].Externals = []string{"express"}
	f.results[1].Externals = []string{"lodash", "@aws-sdk/client"}

	opts := f.options(t)
	opts.HasExternals = true
	opts.Dependencies = packager.DependencyMap{
		"express": {Version: "4.18.2", Dependencies: packager.DependencyMap{
			"body-parser": {Version: "1.20.1", IsRootDep: true},
		}},
		"body-parser":     {Version: "1.20.1"},
		"lodash":          {Version: "4.17.21"},
		"@aws-sdk/client": {Version: "3.0.0"},
	}
	writer := &recordingWriter{}

	_, err := NewArchiver(writer, nil).PackAll(context.Background(), f.svc, f.results, opts)
	require.NoError(t, err)

	assert.Equal(t, []string{
		"hello1.js",
		"node_modules/body-parser/index.js",
		"node_modules/express/index.js",
		"node_modules/express/package.json",
	}, localPaths(writer.call(t, "hello1.zip").files))

	assert.Equal(t, []string{
		"hello2.js",
		"node_modules/@aws-sdk/client/i.js",
		"node_modules/@aws-sdk/client/p.json",
		"node_modules/lodash/index.js",
		"node_modules/lodash/package.json",
	}, localPaths(writer.call(t, "hello2.zip").files))
}

func TestPackAll_Patterns(t *testing.T) {
	f := newFixture(t, true, map[string]string{
		"hello1.js":         "one",
		"hello2.js":         "two",
		"assets/logo.png":   "png",
		"assets/secret.key": "key",
	})
	f.svc.Package.Patterns = []string{"!**/*.key"}
	hello2, _ := f.svc.Function("hello2")
	hello2.Package.Patterns = []string{"!assets/**"}

	writer := &recordingWriter{}
	_, err := NewArchiver(writer, nil).PackAll(context.Background(), f.svc, f.results, f.options(t))
	require.NoError(t, err)

	assert.Equal(t, []string{"hello1.js", "assets/logo.png"}, localPaths(writer.call(t, "hello1.zip").files))
	assert.Equal(t, []string{"hello2.js"}, localPaths(writer.call(t, "hello2.zip").files))
}

func TestPackAll_EmptyFileFailsOnlyThatFunction(t *testing.T) {
	f := newFixture(t, true, map[string]string{
		"hello1.js":           "one",
		"hello2.js":           "two",
		"__only_hello1/empty": "",
	})
	writer := &recordingWriter{}

	artifacts, err := NewArchiver(writer, nil).PackAll(context.Background(), f.svc, f.results, f.options(t))
	require.Error(t, err)

	var pkgErr *PackagingError
	require.ErrorAs(t, err, &pkgErr)
	assert.Equal(t, "hello1", pkgErr.Alias)
	assert.Equal(t, filepath.Join(f.buildDir, "__only_hello1", "empty"), pkgErr.Path)
	assert.ErrorIs(t, err, errEmptyFile)
	assert.Contains(t, err.Error(), "packaging failed for hello1")

	require.Len(t, artifacts, 1)
	assert.Equal(t, "hello2", artifacts[0].Alias)

	hello1, _ := f.svc.Function("hello1")
	hello2, _ := f.svc.Function("hello2")
	assert.Empty(t, hello1.Package.Artifact)
	assert.Equal(t, ".fnpack/.serverless/hello2.zip", hello2.Package.Artifact)
}

func TestPackAll_MissingBundle(t *testing.T) {
	f := newFixture(t, true, map[string]string{"hello1.js": "one"})
	writer := &recordingWriter{}

	_, err := NewArchiver(writer, nil).PackAll(context.Background(), f.svc, f.results, f.options(t))

	var pkgErr *PackagingError
	require.ErrorAs(t, err, &pkgErr)
	assert.Equal(t, "hello2", pkgErr.Alias)
	assert.Equal(t, filepath.Join(f.buildDir, "hello2.js"), pkgErr.Path)
	assert.ErrorIs(t, err, os.ErrNotExist)
	require.Len(t, writer.calls, 1, "the failing archive is never written")
}

func TestPackAll_WriterFailure(t *testing.T) {
	f := newFixture(t, true, map[string]string{"hello1.js": "one", "hello2.js": "two"})
	boom := errors.New("disk full")
	writer := &recordingWriter{fail: map[string]error{"hello2.zip": boom}}

	artifacts, err := NewArchiver(writer, nil).PackAll(context.Background(), f.svc, f.results, f.options(t))
	require.ErrorIs(t, err, boom)

	var pkgErr *PackagingError
	require.ErrorAs(t, err, &pkgErr)
	assert.Equal(t, filepath.Join(f.workDir, ".serverless", "hello2.zip"), pkgErr.Path)
	assert.Len(t, artifacts, 1)
}

func TestPackAll_NativeFlagPassedThrough(t *testing.T) {
	f := newFixture(t, false, map[string]string{"hello1.js": "one", "hello2.js": "two"})
	opts := f.options(t)
	opts.NativeZip = true
	writer := &recordingWriter{}

	_, err := NewArchiver(writer, nil).PackAll(context.Background(), f.svc, f.results, opts)
	require.NoError(t, err)
	assert.True(t, writer.calls[0].native)
}

func TestPackAll_SharedAliasProducesOneArchive(t *testing.T) {
	f := newFixture(t, true, map[string]string{"hello1.js": "one", "hello1-extra.js": "x", "hello2.js": "two"})
	hello1, _ := f.svc.Function("hello1")
	f.results = append(f.results, build.FunctionBuildResult{
		BundlePath: "hello1-extra.js", Entry: "hello1-extra.ts", Func: hello1, FunctionAlias: "hello1",
	})
	writer := &recordingWriter{}

	artifacts, err := NewArchiver(writer, nil).PackAll(context.Background(), f.svc, f.results, f.options(t))
	require.NoError(t, err)
	assert.Len(t, artifacts, 2)
	assert.Len(t, writer.calls, 2)
	assert.Equal(t, []string{"hello1.js", "hello1-extra.js"}, localPaths(writer.call(t, "hello1.zip").files))
}

func TestPackAll_NoResults(t *testing.T) {
	f := newFixture(t, true, nil)
	writer := &recordingWriter{}

	artifacts, err := NewArchiver(writer, nil).PackAll(context.Background(), f.svc, nil, f.options(t))
	require.NoError(t, err)
	assert.Empty(t, artifacts)
	assert.Empty(t, writer.calls)
}

func TestPackAll_Idempotent(t *testing.T) {
	f := newFixture(t, true, map[string]string{
		"hello1.js":                    "one",
		"hello2.js":                    "two",
		"node_modules/lodash/index.js": "l",
	})
	f.results[0].Externals = []string{"lodash"}
	opts := f.options(t)
	opts.HasExternals = true
	archiver := NewArchiver(archive.NewZipWriter(), nil)

	first, err := archiver.PackAll(context.Background(), f.svc, f.results, opts)
	require.NoError(t, err)
	firstBytes, err := os.ReadFile(first[0].Path)
	require.NoError(t, err)

	second, err := archiver.PackAll(context.Background(), f.svc, f.results, opts)
	require.NoError(t, err)
	secondBytes, err := os.ReadFile(second[0].Path)
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, firstBytes, secondBytes)
}

// gatedWriter holds every archive write until release is closed
type gatedWriter struct {
	mu      sync.Mutex
	active  int
	peak    int
	writes  int
	started chan struct{}
	release chan struct{}
}

func (w *gatedWriter) WriteArchive(_ context.Context, dest string, _ []selector.CandidateFile, _ bool) error {
	w.mu.Lock()
	w.active++
	w.writes++
	w.peak = max(w.peak, w.active)
	w.mu.Unlock()
	w.started <- struct{}{}

	<-w.release

	w.mu.Lock()
	w.active--
	w.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(dest), 0755); err != nil {
		return err
	}
	return os.WriteFile(dest, []byte("zip"), 0644)
}

func TestPackAll_HonorsZipConcurrency(t *testing.T) {
	const limit = 2
	names := []string{"a", "b", "c", "d", "e"}

	dir := t.TempDir()
	workDir := filepath.Join(dir, ".fnpack")
	buildDir := filepath.Join(workDir, ".build")
	require.NoError(t, os.MkdirAll(buildDir, 0755))

	var fns []*service.Function
	var results []build.FunctionBuildResult
	for _, name := range names {
		require.NoError(t, os.WriteFile(filepath.Join(buildDir, name+".js"), []byte("code"), 0644))
		fn := &service.Function{Alias: name, Handler: name + ".handler"}
		fns = append(fns, fn)
		results = append(results, build.FunctionBuildResult{
			BundlePath: name + ".js", Entry: name + ".ts", Func: fn, FunctionAlias: name,
		})
	}
	svc := service.New("svc", dir, service.Provider{Name: "aws"}, service.PackageConfig{Individually: true}, fns...)

	candidates, err := selector.ListCandidates(buildDir)
	require.NoError(t, err)

	writer := &gatedWriter{started: make(chan struct{}, len(names)), release: make(chan struct{})}

	type outcome struct {
		artifacts []Artifact
		err       error
	}
	done := make(chan outcome, 1)
	go func() {
		artifacts, err := NewArchiver(writer, nil).PackAll(context.Background(), svc, results, Options{
			WorkDir:     workDir,
			BuildDir:    buildDir,
			Candidates:  candidates,
			Concurrency: limit,
		})
		done <- outcome{artifacts, err}
	}()

	for i := 0; i < limit; i++ {
		select {
		case <-writer.started:
		case <-time.After(5 * time.Second):
			t.Fatalf("only %d archives started", i)
		}
	}
	select {
	case <-writer.started:
		t.Fatal("an archive started beyond zip_concurrency")
	case <-time.After(50 * time.Millisecond):
	}

	writer.mu.Lock()
	assert.Equal(t, limit, writer.active)
	writer.mu.Unlock()

	close(writer.release)
	res := <-done
	require.NoError(t, res.err)
	require.Len(t, res.artifacts, len(names))
	for i, name := range names {
		assert.Equal(t, name, res.artifacts[i].Alias)
	}
	assert.Equal(t, limit, writer.peak)
	assert.Equal(t, len(names), writer.writes)
}

func TestArtifactPointer(t *testing.T) {
	svcDir := filepath.Join(string(filepath.Separator), "srv", "app")
	assert.Equal(t, ".fnpack/.serverless/a.zip", artifactPointer(svcDir, filepath.Join(svcDir, ".fnpack", ".serverless", "a.zip")))

	outside := filepath.Join(string(filepath.Separator), "tmp", "out", "a.zip")
	assert.Equal(t, outside, artifactPointer(svcDir, outside))
}
