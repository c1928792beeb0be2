package cmd

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fluxbase-eu/fnpack/internal/pack"
	"github.com/fluxbase-eu/fnpack/internal/storage"
)

func TestListArchives(t *testing.T) {
	workDir := t.TempDir()
	dir := filepath.Join(workDir, pack.ServerlessFolder)
	require.NoError(t, os.MkdirAll(dir, 0755))
	for _, name := range []string{"b.zip", "a.zip", "notes.txt"} {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte("data"), 0644))
	}

	artifacts, err := listArchives(workDir)
	require.NoError(t, err)
	require.Len(t, artifacts, 2)
	assert.Equal(t, "a", artifacts[0].Name)
	assert.Equal(t, "b", artifacts[1].Name)
	assert.Equal(t, int64(4), artifacts[0].Size)
	assert.Equal(t, filepath.Join(dir, "a.zip"), artifacts[0].Path)
}

func TestListArchives_NoPackaging(t *testing.T) {
	artifacts, err := listArchives(t.TempDir())
	require.NoError(t, err)
	assert.Empty(t, artifacts)
}

func TestArtifactTable(t *testing.T) {
	data := artifactTable([]pack.Artifact{
		{Alias: "hello", Artifact: ".fnpack/.serverless/hello.zip", Size: 2048, Files: 3},
		{Artifact: ".fnpack/.serverless/svc.zip", Size: 10},
		{Alias: "legacy", Artifact: ".fnpack/.serverless/legacy.zip", Size: 5, PreBuilt: true},
	})

	require.Len(t, data.Rows, 3)
	assert.Equal(t, []string{"hello", ".fnpack/.serverless/hello.zip", "2.00 KB", "3", "built"}, data.Rows[0])
	assert.Equal(t, "(service)", data.Rows[1][0])
	assert.Equal(t, []string{"legacy", ".fnpack/.serverless/legacy.zip", "5 B", "-", "pre-built"}, data.Rows[2])
}

func TestPublishedTable(t *testing.T) {
	data := publishedTable([]storage.Published{
		{Name: "hello", Bucket: "fnpack", Key: "v1/hello.zip", Size: 1, Skipped: true},
	})
	assert.Equal(t, []string{"hello", "fnpack", "v1/hello.zip", "1 B", "unchanged"}, data.Rows[0])
}

func TestFormatSize(t *testing.T) {
	assert.Equal(t, "512 B", formatSize(512))
	assert.Equal(t, "1.50 KB", formatSize(1536))
	assert.Equal(t, "2.00 MB", formatSize(2*1024*1024))
}

func TestRootCommand_RegistersSubcommands(t *testing.T) {
	var names []string
	for _, c := range rootCmd.Commands() {
		names = append(names, c.Name())
	}
	for _, want := range []string{"package", "build", "analyze", "publish", "version"} {
		assert.Contains(t, names, want)
	}
}
