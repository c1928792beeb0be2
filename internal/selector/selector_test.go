package selector

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func files(paths ...string) []CandidateFile {
	out := make([]CandidateFile, len(paths))
	for i, p := range paths {
		out[i] = CandidateFile{LocalPath: p, RootPath: "/build/" + p}
	}
	return out
}

func localPaths(files []CandidateFile) []string {
	out := make([]string, len(files))
	for i, f := range files {
		out[i] = f.LocalPath
	}
	return out
}

func TestFilterFilesForZipPackage_OtherFunctionFiles(t *testing.T) {
	got := FilterFilesForZipPackage(Params{
		Files: []CandidateFile{
			{
				LocalPath: "__only_service-otherFnName/bin/imagemagick/include/ImageMagick/magick/method-attribute.h",
				RootPath:  "/home/capaj/repos/google/search/.swc/.build/__only_service-otherFnName/bin/imagemagick/include/ImageMagick/magick/method-attribute.h",
			},
			{
				LocalPath: "__only_fnAlias/bin/imagemagick/include/ImageMagick/magick/method-attribute.h",
				RootPath:  "/home/capaj/repos/google/search/.swc/.build/__only_fnAlias/bin/imagemagick/include/ImageMagick/magick/method-attribute.h",
			},
		},
		FunctionAlias: "fnAlias",
	})

	assert.Equal(t, []CandidateFile{{
		LocalPath: "__only_fnAlias/bin/imagemagick/include/ImageMagick/magick/method-attribute.h",
		RootPath:  "/home/capaj/repos/google/search/.swc/.build/__only_fnAlias/bin/imagemagick/include/ImageMagick/magick/method-attribute.h",
	}}, got)
}

func TestFilterFilesForZipPackage_AliasIsNotAPrefixMatch(t *testing.T) {
	got := FilterFilesForZipPackage(Params{
		Files:         files("__only_fn/a.txt", "__only_fn2/b.txt"),
		FunctionAlias: "fn",
	})
	assert.Equal(t, []string{"__only_fn/a.txt"}, localPaths(got))
}

func TestFilterFilesForZipPackage_ServiceWide(t *testing.T) {
	got := FilterFilesForZipPackage(Params{
		Files: files("__only_a/x", "__only_b/y", "shared.txt"),
	})
	assert.Equal(t, []string{"__only_a/x", "__only_b/y", "shared.txt"}, localPaths(got))
}

func TestFilterFilesForZipPackage_NodeModules(t *testing.T) {
	all := files(
		"hello.js",
		"node_modules/lodash/index.js",
		"node_modules/lodash-es/index.js",
		"node_modules/@aws-sdk/client-s3/package.json",
		"node_modules/@aws-sdk/client-sts/package.json",
		"node_modules/axios/index.js",
	)

	tests := []struct {
		name      string
		params    Params
		wantPaths []string
	}{
		{
			name:      "no externals drops node_modules",
			params:    Params{Files: all, DepWhiteList: []string{"lodash"}},
			wantPaths: []string{"hello.js"},
		},
		{
			name:   "whitelist restricts packages",
			params: Params{Files: all, HasExternals: true, DepWhiteList: []string{"lodash", "@aws-sdk/client-s3"}},
			wantPaths: []string{
				"hello.js",
				"node_modules/lodash/index.js",
				"node_modules/@aws-sdk/client-s3/package.json",
			},
		},
		{
			name:   "empty whitelist allows everything",
			params: Params{Files: all, HasExternals: true},
			wantPaths: []string{
				"hello.js",
				"node_modules/lodash/index.js",
				"node_modules/lodash-es/index.js",
				"node_modules/@aws-sdk/client-s3/package.json",
				"node_modules/@aws-sdk/client-sts/package.json",
				"node_modules/axios/index.js",
			},
		},
		{
			name:      "wildcard allows everything",
			params:    Params{Files: all, HasExternals: true, DepWhiteList: []string{"lodash", Wildcard}},
			wantPaths: localPaths(all),
		},
		{
			name:      "google never ships node_modules",
			params:    Params{Files: all, HasExternals: true, Provider: ProviderGoogle},
			wantPaths: []string{"hello.js"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.wantPaths, localPaths(FilterFilesForZipPackage(tt.params)))
		})
	}
}

func TestFilterFilesForZipPackage_Globs(t *testing.T) {
	all := files(
		"hello.js",
		"assets/logo.png",
		"assets/secret.key",
		"node_modules/sharp/build/sharp.node",
		"__only_fn/templates/mail.html",
	)

	t.Run("include forces excluded files in", func(t *testing.T) {
		got := FilterFilesForZipPackage(Params{
			Files:         all,
			FunctionAlias: "fn",
			IncludedFiles: []string{"node_modules/sharp/**"},
		})
		assert.Contains(t, localPaths(got), "node_modules/sharp/build/sharp.node")
	})

	t.Run("exclude wins over include", func(t *testing.T) {
		got := FilterFilesForZipPackage(Params{
			Files:         all,
			FunctionAlias: "fn",
			IncludedFiles: []string{"assets/**"},
			ExcludedFiles: []string{"**/*.key"},
		})
		assert.Equal(t, []string{"hello.js", "assets/logo.png", "__only_fn/templates/mail.html"}, localPaths(got))
	})

	t.Run("patterns match private files below their staging root", func(t *testing.T) {
		got := FilterFilesForZipPackage(Params{
			Files:         all,
			FunctionAlias: "fn",
			ExcludedFiles: []string{"templates/*.html"},
		})
		assert.NotContains(t, localPaths(got), "__only_fn/templates/mail.html")
	})
}

func TestFilterFilesForZipPackage_OtherBundles(t *testing.T) {
	got := FilterFilesForZipPackage(Params{
		Files: files(
			"hello1.js",
			"hello1.js.map",
			"hello2.js",
			"hello2.js.map",
			"hello.js",
			"hello.test.js",
		),
		Bundle:       "hello.test.js",
		OtherBundles: []string{"hello1.js", "hello2.js", "hello.js", "hello.test.js"},
	})
	assert.Equal(t, []string{"hello.test.js"}, localPaths(got))
}

func TestFilterFilesForZipPackage_GoogleNormalizesSeparators(t *testing.T) {
	got := FilterFilesForZipPackage(Params{
		Files:    []CandidateFile{{LocalPath: `lib\util.js`, RootPath: "/build/lib/util.js"}},
		Provider: ProviderGoogle,
	})
	assert.Equal(t, []CandidateFile{{LocalPath: "lib/util.js", RootPath: "/build/lib/util.js"}}, got)
}

func TestFilterFilesForZipPackage_GoogleCleansEntryNames(t *testing.T) {
	input := []CandidateFile{
		{LocalPath: "./src//handler.js", RootPath: "/build/src/handler.js"},
		{LocalPath: `node_modules\lodash\index.js`, RootPath: "/build/node_modules/lodash/index.js"},
		{LocalPath: "lib/./a.js", RootPath: "/build/lib/a.js"},
	}

	google := FilterFilesForZipPackage(Params{Files: input, Provider: ProviderGoogle, HasExternals: true})
	assert.Equal(t, []string{"src/handler.js", "lib/a.js"}, localPaths(google),
		"clean slash paths, node_modules recognised after normalising and dropped")

	generic := FilterFilesForZipPackage(Params{Files: input, Provider: ProviderGeneric, HasExternals: true})
	assert.Equal(t, []string{"./src//handler.js", `node_modules\lodash\index.js`, "lib/./a.js"}, localPaths(generic))
}

func TestFilterFilesForZipPackage_Deterministic(t *testing.T) {
	params := Params{
		Files:         files("c.js", "a.js", "node_modules/x/i.js", "b.js"),
		HasExternals:  true,
		DepWhiteList:  []string{"x"},
		IncludedFiles: []string{"*.js"},
	}
	first := FilterFilesForZipPackage(params)
	for i := 0; i < 10; i++ {
		assert.Equal(t, first, FilterFilesForZipPackage(params))
	}
	assert.Equal(t, []string{"c.js", "a.js", "node_modules/x/i.js", "b.js"}, localPaths(first))
}

func TestStripOnlyPrefix(t *testing.T) {
	assert.Equal(t, "bin/tool", StripOnlyPrefix("__only_fn/bin/tool", "fn"))
	assert.Equal(t, "__only_other/bin/tool", StripOnlyPrefix("__only_other/bin/tool", "fn"))
	assert.Equal(t, "hello.js", StripOnlyPrefix("hello.js", "fn"))
}

func TestValidatePatterns(t *testing.T) {
	require.NoError(t, ValidatePatterns([]string{"**/*.js", "assets/{a,b}/*"}))

	err := ValidatePatterns([]string{"ok/*", "broken/[a"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), `"broken/[a"`)
}

func TestListCandidates(t *testing.T) {
	root := t.TempDir()
	for _, p := range []string{"b.js", "a.js", "node_modules/lodash/index.js", "__only_fn/bin/tool", ".hidden"} {
		full := filepath.Join(root, filepath.FromSlash(p))
		require.NoError(t, os.MkdirAll(filepath.Dir(full), 0755))
		require.NoError(t, os.WriteFile(full, []byte("x"), 0644))
	}
	require.NoError(t, os.MkdirAll(filepath.Join(root, "empty"), 0755))

	got, err := ListCandidates(root)
	require.NoError(t, err)

	assert.Equal(t, []string{".hidden", "__only_fn/bin/tool", "a.js", "b.js", "node_modules/lodash/index.js"}, localPaths(got))
	assert.Equal(t, filepath.Join(root, "node_modules", "lodash", "index.js"), got[4].RootPath)
}
