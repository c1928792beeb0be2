package service

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testManifest = `
service: example
provider:
  name: aws
  runtime: nodejs20.x
package:
  individually: true
  patterns:
    - "assets/**"
    - "!assets/*.psd"
functions:
  zeta:
    handler: src/zeta.handler
    events:
      - http:
          path: zeta
          method: get
  alpha:
    handler: src/alpha.handler
    package:
      patterns:
        - "templates/**"
  prebuilt:
    handler: dist/prebuilt.handler
    skipBuild: true
    package:
      artifact: dist/prebuilt.zip
  worker:
    handler: worker.main
    runtime: python3.12
`

func TestParse_PreservesDeclarationOrder(t *testing.T) {
	svc, err := Parse([]byte(testManifest), "/srv/example")
	require.NoError(t, err)

	var aliases []string
	for _, fn := range svc.Functions() {
		aliases = append(aliases, fn.Alias)
	}

	assert.Equal(t, []string{"zeta", "alpha", "prebuilt", "worker"}, aliases)
	assert.Equal(t, "example", svc.Name)
	assert.Equal(t, "/srv/example", svc.Dir)
	assert.True(t, svc.Package.Individually)
}

func TestParse_FunctionFields(t *testing.T) {
	svc, err := Parse([]byte(testManifest), "/srv/example")
	require.NoError(t, err)

	prebuilt, ok := svc.Function("prebuilt")
	require.True(t, ok)
	assert.True(t, prebuilt.SkipBuild)
	assert.Equal(t, "dist/prebuilt.zip", prebuilt.Package.Artifact)

	alpha, ok := svc.Function("alpha")
	require.True(t, ok)
	assert.Equal(t, []string{"templates/**"}, alpha.Package.Include())

	_, ok = svc.Function("missing")
	assert.False(t, ok)
}

func TestParse_Errors(t *testing.T) {
	tests := []struct {
		name   string
		data   string
		errMsg string
	}{
		{
			name:   "missing service name",
			data:   "functions: {}\n",
			errMsg: "service name is required",
		},
		{
			name:   "functions is a list",
			data:   "service: x\nfunctions:\n  - a\n",
			errMsg: "functions must be a mapping",
		},
		{
			name:   "invalid yaml",
			data:   "service: [",
			errMsg: "failed to parse service manifest",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.data), "/tmp")
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.errMsg)
		})
	}
}

func TestPackageConfig_IncludeExclude(t *testing.T) {
	pkg := PackageConfig{Patterns: []string{"a/**", "!a/secret.txt", "", "!", "b.json"}}

	assert.Equal(t, []string{"a/**", "b.json"}, pkg.Include())
	assert.Equal(t, []string{"a/secret.txt"}, pkg.Exclude())
}

func TestService_IsNodeFunction(t *testing.T) {
	svc, err := Parse([]byte(testManifest), "/srv/example")
	require.NoError(t, err)

	zeta, _ := svc.Function("zeta")
	worker, _ := svc.Function("worker")

	assert.True(t, svc.IsNodeFunction(zeta))
	assert.False(t, svc.IsNodeFunction(worker))

	svc.Provider.Runtime = ""
	assert.True(t, svc.IsNodeFunction(zeta))
}

func TestService_SetArtifact(t *testing.T) {
	fn := &Function{Alias: "hello"}
	svc := New("app", "/srv/app", Provider{Name: ProviderGoogle}, PackageConfig{}, fn)

	fn.SetArtifact(".fnpack/.serverless/hello.zip")
	svc.SetArtifact(".fnpack/.serverless/app.zip")

	got, _ := svc.Function("hello")
	assert.Equal(t, ".fnpack/.serverless/hello.zip", got.Package.Artifact)
	assert.Equal(t, ".fnpack/.serverless/app.zip", svc.Package.Artifact)
	assert.True(t, svc.IsGoogle())
}

func TestLoad(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "serverless.yml")
	require.NoError(t, os.WriteFile(path, []byte(testManifest), 0644))

	svc, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, dir, svc.Dir)
	assert.Len(t, svc.Functions(), 4)

	_, err = Load(filepath.Join(dir, "missing.yml"))
	assert.Error(t, err)
}
