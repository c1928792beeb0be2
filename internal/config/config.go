package config

import (
	"fmt"
	"os"
	"slices"
	"strings"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"

	"github.com/fluxbase-eu/fnpack/internal/build"
	"github.com/fluxbase-eu/fnpack/internal/compiler"
	"github.com/fluxbase-eu/fnpack/internal/observability"
	"github.com/fluxbase-eu/fnpack/internal/packager"
	"github.com/fluxbase-eu/fnpack/internal/service"
)

// ExcludeAll as the only exclude entry leaves every package import to the runtime
const ExcludeAll = "*"

// Config represents the fnpack configuration
type Config struct {
	// ServiceFile is the serverless-style manifest of the service
	ServiceFile string `mapstructure:"service_file"`

	Concurrency    int `mapstructure:"concurrency"`     // 0 = unlimited
	ZipConcurrency int `mapstructure:"zip_concurrency"` // 0 = unlimited

	Packager         string          `mapstructure:"packager"` // npm, pnpm or yarn
	PackagerOptions  PackagerOptions `mapstructure:"packager_options"`
	PackagePath      string          `mapstructure:"package_path"`
	InstallExtraArgs []string        `mapstructure:"install_extra_args"`

	// External packages are left out of the bundles and installed next to them
	External []string `mapstructure:"external"`
	// Exclude packages are left out of the bundles and not installed
	Exclude []string `mapstructure:"exclude"`

	NativeZip           bool   `mapstructure:"native_zip"`
	KeepOutputDirectory bool   `mapstructure:"keep_output_directory"`
	OutputWorkFolder    string `mapstructure:"output_work_folder"`
	OutputBuildFolder   string `mapstructure:"output_build_folder"`
	// PackageOutputPath holds archives of an earlier packaging, relative to the service
	PackageOutputPath string `mapstructure:"package_output_path"`

	OutputFileExtension string `mapstructure:"output_file_extension"` // .js, .cjs or .mjs
	Format              string `mapstructure:"format"`                // cjs or esm
	Platform            string `mapstructure:"platform"`              // node, neutral or browser
	Target              string `mapstructure:"target"`
	SourceMaps          string `mapstructure:"source_maps"` // true, false, inline or external
	Minify              bool   `mapstructure:"minify"`

	ResolveExtensions           []string `mapstructure:"resolve_extensions"`
	StripEntryResolveExtensions bool     `mapstructure:"strip_entry_resolve_extensions"`
	AdditionalEntries           []string `mapstructure:"additional_entries"`

	SkipBuild           bool     `mapstructure:"skip_build"`
	SkipBuildExcludeFns []string `mapstructure:"skip_build_exclude_fns"`

	MetricsFile string                     `mapstructure:"metrics_file"`
	Tracing     observability.TracerConfig `mapstructure:"tracing"`
	Storage     StorageConfig              `mapstructure:"storage"`
	Debug       bool                       `mapstructure:"debug"`
}

// PackagerOptions tunes the dependency install
type PackagerOptions struct {
	// Scripts run in the build directory after install
	Scripts        []string `mapstructure:"scripts"`
	NoInstall      bool     `mapstructure:"no_install"`
	IgnoreLockfile bool     `mapstructure:"ignore_lockfile"`
}

// StorageConfig contains artifact storage settings
type StorageConfig struct {
	Provider    string `mapstructure:"provider"` // local or s3
	LocalPath   string `mapstructure:"local_path"`
	S3Endpoint  string `mapstructure:"s3_endpoint"`
	S3AccessKey string `mapstructure:"s3_access_key"`
	S3SecretKey string `mapstructure:"s3_secret_key"`
	S3Bucket    string `mapstructure:"s3_bucket"`
	S3Region    string `mapstructure:"s3_region"`
	S3UseSSL    bool   `mapstructure:"s3_use_ssl"`
	Prefix      string `mapstructure:"prefix"`
}

// Load loads configuration from file and environment variables. An empty
// configFile searches fnpack.yaml in the usual locations.
func Load(configFile string) (*Config, error) {
	// Load .env file if it exists (for local development)
	if err := loadEnvFile(); err != nil {
		log.Debug().Err(err).Msg("No .env file loaded")
	}

	if configFile != "" {
		viper.SetConfigFile(configFile)
	} else {
		viper.SetConfigName("fnpack")
		viper.SetConfigType("yaml")
		viper.AddConfigPath(".")
		viper.AddConfigPath("./config")
	}

	setDefaults()

	viper.AutomaticEnv()
	viper.SetEnvPrefix("FNPACK")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
		log.Debug().Msg("No config file found, using environment variables and defaults")
	} else {
		log.Debug().Str("file", viper.ConfigFileUsed()).Msg("Config file loaded")
	}

	// Unknown keys are a configuration error, not silently ignored
	var config Config
	if err := viper.UnmarshalExact(&config); err != nil {
		return nil, fmt.Errorf("unable to decode config: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &config, nil
}

// loadEnvFile loads environment variables from .env file
func loadEnvFile() error {
	locations := []string{
		".env",
		".env.local",
	}

	for _, location := range locations {
		if _, err := os.Stat(location); err == nil {
			if err := godotenv.Load(location); err != nil {
				return fmt.Errorf("error loading .env file from %s: %w", location, err)
			}
			log.Debug().Str("file", location).Msg(".env file loaded")
			return nil
		}
	}

	return fmt.Errorf("no .env file found")
}

// setDefaults sets default configuration values
func setDefaults() {
	viper.SetDefault("service_file", "serverless.yml")
	viper.SetDefault("concurrency", 0)
	viper.SetDefault("zip_concurrency", 0)

	// Packager defaults
	viper.SetDefault("packager", string(packager.NPM))
	viper.SetDefault("packager_options.scripts", []string{})
	viper.SetDefault("packager_options.no_install", false)
	viper.SetDefault("packager_options.ignore_lockfile", false)
	viper.SetDefault("package_path", "./package.json")
	viper.SetDefault("install_extra_args", []string{})

	viper.SetDefault("external", []string{})
	viper.SetDefault("exclude", []string{"aws-sdk"})

	// Output defaults
	viper.SetDefault("native_zip", false)
	viper.SetDefault("keep_output_directory", false)
	viper.SetDefault("output_work_folder", ".fnpack")
	viper.SetDefault("output_build_folder", ".build")
	viper.SetDefault("package_output_path", ".serverless")

	// Compiler defaults
	viper.SetDefault("output_file_extension", ".js")
	viper.SetDefault("format", string(compiler.FormatCommonJS))
	viper.SetDefault("platform", string(compiler.PlatformNode))
	viper.SetDefault("target", "node18")
	viper.SetDefault("source_maps", "true")
	viper.SetDefault("minify", false)
	viper.SetDefault("resolve_extensions", []string{".ts", ".js", ".mjs", ".cjs", ".tsx", ".jsx"})
	viper.SetDefault("strip_entry_resolve_extensions", false)
	viper.SetDefault("additional_entries", []string{})

	viper.SetDefault("skip_build", false)
	viper.SetDefault("skip_build_exclude_fns", []string{})

	viper.SetDefault("metrics_file", "")

	// Tracing defaults
	tracing := observability.DefaultTracerConfig()
	viper.SetDefault("tracing.enabled", tracing.Enabled)
	viper.SetDefault("tracing.endpoint", tracing.Endpoint)
	viper.SetDefault("tracing.service_name", tracing.ServiceName)
	viper.SetDefault("tracing.sample_rate", tracing.SampleRate)
	viper.SetDefault("tracing.insecure", tracing.Insecure)

	// Storage defaults
	viper.SetDefault("storage.provider", "local")
	viper.SetDefault("storage.local_path", "./artifacts")
	viper.SetDefault("storage.s3_endpoint", "")
	viper.SetDefault("storage.s3_access_key", "")
	viper.SetDefault("storage.s3_secret_key", "")
	viper.SetDefault("storage.s3_bucket", "")
	viper.SetDefault("storage.s3_region", "us-east-1")
	viper.SetDefault("storage.s3_use_ssl", true)
	viper.SetDefault("storage.prefix", "")

	viper.SetDefault("debug", false)
}

// Validate checks enumerations and option combinations
func (c *Config) Validate() error {
	if c.Concurrency < 0 {
		return fmt.Errorf("concurrency must be 0 (unlimited) or positive")
	}
	if c.ZipConcurrency < 0 {
		return fmt.Errorf("zip_concurrency must be 0 (unlimited) or positive")
	}

	switch packager.ID(c.Packager) {
	case packager.NPM, packager.PNPM, packager.Yarn:
	default:
		return fmt.Errorf("invalid packager: %s (must be one of: npm, pnpm, yarn)", c.Packager)
	}

	switch compiler.Format(c.Format) {
	case compiler.FormatDefault, compiler.FormatCommonJS, compiler.FormatESM:
	default:
		return fmt.Errorf("invalid format: %s (must be one of: cjs, esm)", c.Format)
	}

	switch compiler.Platform(c.Platform) {
	case compiler.PlatformNode, compiler.PlatformNeutral, compiler.PlatformBrowser:
	default:
		return fmt.Errorf("invalid platform: %s (must be one of: node, neutral, browser)", c.Platform)
	}

	if _, err := compiler.ParseSourceMapMode(c.SourceMaps); err != nil {
		return err
	}

	if err := build.ValidateOutput(compiler.Format(c.Format), compiler.Platform(c.Platform), c.OutputFileExtension); err != nil {
		return err
	}

	if slices.Contains(c.Exclude, ExcludeAll) && len(c.Exclude) > 1 {
		return fmt.Errorf("exclude: %q cannot be combined with other packages", ExcludeAll)
	}

	if c.OutputWorkFolder == "" || c.OutputBuildFolder == "" {
		return fmt.Errorf("output_work_folder and output_build_folder cannot be empty")
	}

	if err := c.Storage.Validate(); err != nil {
		return fmt.Errorf("storage configuration error: %w", err)
	}

	return nil
}

// Validate validates storage configuration
func (sc *StorageConfig) Validate() error {
	if sc.Provider != "local" && sc.Provider != "s3" {
		return fmt.Errorf("storage provider must be 'local' or 's3'")
	}

	// An empty endpoint means AWS S3 and an empty bucket the default one
	if sc.Provider == "s3" && (sc.S3AccessKey == "" || sc.S3SecretKey == "") {
		return fmt.Errorf("S3 configuration is incomplete: s3_access_key and s3_secret_key are required")
	}

	return nil
}

// SourceMapMode returns the parsed source_maps setting
func (c *Config) SourceMapMode() compiler.SourceMapMode {
	mode, err := compiler.ParseSourceMapMode(c.SourceMaps)
	if err != nil {
		return compiler.SourceMapNone
	}
	return mode
}

// ExternalPackages reports whether every package import stays external
func (c *Config) ExternalPackages() bool {
	return slices.Contains(c.Exclude, ExcludeAll)
}

// CompilerExternals are the module names the compiler leaves as imports:
// the external packages plus the excluded ones
func (c *Config) CompilerExternals() []string {
	var out []string
	for _, name := range append(append([]string{}, c.External...), c.Exclude...) {
		if name == ExcludeAll || slices.Contains(out, name) {
			continue
		}
		out = append(out, name)
	}
	return out
}

// HasExternals reports whether packages are installed next to the bundles
func (c *Config) HasExternals() bool {
	return len(c.External) > 0
}

// IsPreBuilt reports whether a function skips the build step
func (c *Config) IsPreBuilt(fn *service.Function) bool {
	if fn.SkipBuild {
		return true
	}
	return c.SkipBuild && !slices.Contains(c.SkipBuildExcludeFns, fn.Alias)
}
