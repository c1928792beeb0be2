// Package service models the deployable service: its functions, their
// packaging policy and the artifact pointers the pipeline writes back.
package service

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// ProviderGoogle is the provider name of Google Cloud Functions
const ProviderGoogle = "google"

// PackageConfig is the packaging policy of a service or function
type PackageConfig struct {
	Individually bool     `yaml:"individually" json:"individually,omitempty"`
	Patterns     []string `yaml:"patterns" json:"patterns,omitempty"`
	Artifact     string   `yaml:"artifact" json:"artifact,omitempty"`
}

// Include returns the patterns that add files to the archive
func (p PackageConfig) Include() []string {
	var out []string
	for _, pattern := range p.Patterns {
		if pattern != "" && !strings.HasPrefix(pattern, "!") {
			out = append(out, pattern)
		}
	}
	return out
}

// Exclude returns the patterns prefixed with "!", without the prefix
func (p PackageConfig) Exclude() []string {
	var out []string
	for _, pattern := range p.Patterns {
		if trimmed, ok := strings.CutPrefix(pattern, "!"); ok && trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

// Function is one logical function of the service
type Function struct {
	// Alias is the key of the function in the manifest
	Alias      string        `yaml:"-" json:"alias"`
	Name       string        `yaml:"name" json:"name,omitempty"`
	Handler    string        `yaml:"handler" json:"handler"`
	Runtime    string        `yaml:"runtime" json:"runtime,omitempty"`
	Entrypoint string        `yaml:"entrypoint" json:"entrypoint,omitempty"`
	SkipBuild  bool          `yaml:"skipBuild" json:"skip_build,omitempty"`
	Package    PackageConfig `yaml:"package" json:"package"`
}

// SetArtifact points the function at a packaged archive
func (f *Function) SetArtifact(path string) {
	f.Package.Artifact = path
}

// Provider describes the cloud target
type Provider struct {
	Name    string `yaml:"name"`
	Runtime string `yaml:"runtime"`
}

// Service is a set of functions packaged and deployed together
type Service struct {
	Name     string
	Dir      string
	Provider Provider
	Package  PackageConfig

	functions []*Function
	index     map[string]int
}

// New creates a service from an ordered list of functions
func New(name, dir string, provider Provider, pkg PackageConfig, functions ...*Function) *Service {
	s := &Service{
		Name:     name,
		Dir:      dir,
		Provider: provider,
		Package:  pkg,
		index:    make(map[string]int),
	}
	for _, fn := range functions {
		s.Add(fn)
	}
	return s
}

// Add appends a function, replacing any function with the same alias in place
func (s *Service) Add(fn *Function) {
	if s.index == nil {
		s.index = make(map[string]int)
	}
	if i, ok := s.index[fn.Alias]; ok {
		s.functions[i] = fn
		return
	}
	s.index[fn.Alias] = len(s.functions)
	s.functions = append(s.functions, fn)
}

// Functions returns the functions in declaration order
func (s *Service) Functions() []*Function {
	out := make([]*Function, len(s.functions))
	copy(out, s.functions)
	return out
}

// Function looks up a function by alias
func (s *Service) Function(alias string) (*Function, bool) {
	i, ok := s.index[alias]
	if !ok {
		return nil, false
	}
	return s.functions[i], true
}

// SetArtifact points the whole service at a packaged archive
func (s *Service) SetArtifact(path string) {
	s.Package.Artifact = path
}

// IsGoogle reports whether the service deploys to Google Cloud Functions
func (s *Service) IsGoogle() bool {
	return s.Provider.Name == ProviderGoogle
}

// RuntimeOf returns the runtime of a function, falling back to the provider runtime
func (s *Service) RuntimeOf(fn *Function) string {
	if fn.Runtime != "" {
		return fn.Runtime
	}
	return s.Provider.Runtime
}

// IsNodeFunction reports whether the function runs on a Node.js runtime.
// An unset runtime counts as Node.js.
func (s *Service) IsNodeFunction(fn *Function) bool {
	runtime := s.RuntimeOf(fn)
	return runtime == "" || strings.HasPrefix(runtime, "nodejs")
}

// manifest is the on-disk layout of serverless.yml
type manifest struct {
	Service  string        `yaml:"service"`
	Provider Provider      `yaml:"provider"`
	Package  PackageConfig `yaml:"package"`
	// Functions is decoded by hand to keep declaration order
	Functions yaml.Node `yaml:"functions"`
}

// Load reads a serverless-style manifest. Keys the pipeline does not use
// (events, environment, ...) are ignored.
func Load(path string) (*Service, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read service manifest: %w", err)
	}

	dir, err := filepath.Abs(filepath.Dir(path))
	if err != nil {
		return nil, fmt.Errorf("failed to resolve service directory: %w", err)
	}

	return Parse(data, dir)
}

// Parse decodes manifest bytes for a service rooted at dir
func Parse(data []byte, dir string) (*Service, error) {
	var m manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("failed to parse service manifest: %w", err)
	}

	if m.Service == "" {
		return nil, fmt.Errorf("service name is required")
	}

	svc := New(m.Service, dir, m.Provider, m.Package)

	node := &m.Functions
	if node.Kind == 0 {
		return svc, nil
	}
	if node.Kind != yaml.MappingNode {
		return nil, fmt.Errorf("functions must be a mapping (line %d)", node.Line)
	}

	// Mapping content alternates key and value nodes
	for i := 0; i+1 < len(node.Content); i += 2 {
		key, value := node.Content[i], node.Content[i+1]

		fn := &Function{}
		if err := value.Decode(fn); err != nil {
			return nil, fmt.Errorf("failed to decode function %q: %w", key.Value, err)
		}
		fn.Alias = key.Value

		if _, exists := svc.Function(fn.Alias); exists {
			return nil, fmt.Errorf("function %q is declared twice", fn.Alias)
		}
		svc.Add(fn)
	}

	return svc, nil
}
