package build

import (
	"github.com/fluxbase-eu/fnpack/internal/compiler"
	"github.com/fluxbase-eu/fnpack/internal/service"
)

// BuildResult is the outcome of compiling one unique entry
type BuildResult struct {
	// BundlePath is relative to the build directory
	BundlePath string
	Entry      string
	Output     compiler.Output
	// Externals are the package names the bundle leaves to the runtime
	Externals []string
}

// FunctionBuildResult joins a function with the bundle of its entry
type FunctionBuildResult struct {
	BundlePath    string
	Entry         string
	Func          *service.Function
	FunctionAlias string
	Externals     []string
}

// Cache holds one result per unique entry for a single pipeline run. Results
// keep their insertion order; the index only serves lookups.
type Cache struct {
	results []BuildResult
	index   map[string]int
}

func newCache(results []BuildResult) *Cache {
	c := &Cache{
		results: results,
		index:   make(map[string]int, len(results)),
	}
	for i, r := range results {
		c.index[r.Entry] = i
	}
	return c
}

// Get returns the result of an entry
func (c *Cache) Get(entry string) (BuildResult, bool) {
	if c == nil {
		return BuildResult{}, false
	}
	i, ok := c.index[entry]
	if !ok {
		return BuildResult{}, false
	}
	return c.results[i], true
}

// Len returns the number of cached entries
func (c *Cache) Len() int {
	if c == nil {
		return 0
	}
	return len(c.results)
}

// Results returns the cached results in insertion order
func (c *Cache) Results() []BuildResult {
	if c == nil {
		return nil
	}
	out := make([]BuildResult, len(c.results))
	copy(out, c.results)
	return out
}

// Join maps cached bundles back onto function entries, preserving entry order.
// Placeholder entries and entries without a usable result are dropped.
func Join(entries []FunctionEntry, cache *Cache) []FunctionBuildResult {
	var out []FunctionBuildResult
	for _, e := range entries {
		if e.Func == nil {
			continue
		}
		result, ok := cache.Get(e.Entry)
		if !ok || result.BundlePath == "" {
			continue
		}

		alias := e.FunctionAlias
		if alias == "" {
			alias = e.Func.Alias
		}

		out = append(out, FunctionBuildResult{
			BundlePath:    result.BundlePath,
			Entry:         e.Entry,
			Func:          e.Func,
			FunctionAlias: alias,
			Externals:     result.Externals,
		})
	}
	return out
}
