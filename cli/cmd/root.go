// Package cmd provides the Cobra commands for the fnpack CLI.
package cmd

import (
	"context"
	"os"
	"path/filepath"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/fluxbase-eu/fnpack/cli/output"
	"github.com/fluxbase-eu/fnpack/internal/config"
	"github.com/fluxbase-eu/fnpack/internal/observability"
	"github.com/fluxbase-eu/fnpack/internal/pipeline"
	"github.com/fluxbase-eu/fnpack/internal/service"
)

var (
	// Version information (set via ldflags during build)
	Version   = "dev"
	Commit    = "unknown"
	BuildDate = "unknown"

	// Global flags
	cfgFile   string
	outputFmt string
	quiet     bool
	debug     bool

	// Shared across commands
	formatter *output.Formatter
)

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "fnpack",
	Short: "fnpack - Build and package serverless functions",
	Long: `fnpack compiles the Node.js functions of a serverless service with esbuild
and packages them into deployable zip archives.

Features:
  - Package: compile, install external packages and write one archive per function
  - Build: compile the bundles only
  - Analyze: show what ended up inside each bundle
  - Publish: upload the archives to a local directory or S3

Get started:
  fnpack package          Package the service in the current directory
  fnpack --help           Show available commands`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		// Silence errors only when --quiet is used
		cmd.SilenceErrors = quiet

		setupLogging(viper.GetBool("debug"))

		format, err := output.ParseFormat(outputFmt)
		if err != nil {
			return err
		}
		formatter = output.NewFormatter(format, quiet)
		return nil
	},
}

// Execute runs the CLI
func Execute(ctx context.Context) error {
	return rootCmd.ExecuteContext(ctx)
}

func init() {
	// Global persistent flags
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "",
		"config file (default is ./fnpack.yaml or ./config/fnpack.yaml)")
	rootCmd.PersistentFlags().StringVarP(&outputFmt, "output", "o", "table",
		"output format: table, json, yaml")
	rootCmd.PersistentFlags().BoolVarP(&quiet, "quiet", "q", false,
		"minimal output")
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false,
		"enable debug output")

	// FNPACK_DEBUG or debug: true in the config file enable it as well
	_ = viper.BindPFlag("debug", rootCmd.PersistentFlags().Lookup("debug"))

	// Add subcommands
	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(packageCmd)
	rootCmd.AddCommand(buildCmd)
	rootCmd.AddCommand(analyzeCmd)
	rootCmd.AddCommand(publishCmd)
}

// setupLogging writes human readable logs to stderr
func setupLogging(debug bool) {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	switch {
	case debug:
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	case quiet:
		zerolog.SetGlobalLevel(zerolog.WarnLevel)
	default:
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}
}

// project is the loaded configuration and service of a command
type project struct {
	cfg     *config.Config
	svc     *service.Service
	metrics *observability.Metrics
	tracer  *observability.Tracer
}

// loadProject loads the configuration and the service manifest it points at
func loadProject(ctx context.Context) (*project, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, err
	}

	// The config file may turn debug on after the flags were read
	if cfg.Debug {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	}

	manifest := cfg.ServiceFile
	if !filepath.IsAbs(manifest) {
		wd, err := os.Getwd()
		if err != nil {
			return nil, err
		}
		manifest = filepath.Join(wd, manifest)
	}

	svc, err := service.Load(manifest)
	if err != nil {
		return nil, err
	}

	tracer, err := observability.NewTracer(ctx, cfg.Tracing, Version)
	if err != nil {
		return nil, err
	}

	log.Debug().
		Str("service", svc.Name).
		Str("dir", svc.Dir).
		Int("functions", len(svc.Functions())).
		Msg("Service loaded")

	return &project{
		cfg:     cfg,
		svc:     svc,
		metrics: observability.NewMetrics(),
		tracer:  tracer,
	}, nil
}

func (p *project) pipeline() (*pipeline.Pipeline, error) {
	return pipeline.New(p.cfg, p.svc, pipeline.Dependencies{
		Metrics: p.metrics,
		Tracer:  p.tracer,
	})
}

// close flushes pending spans
func (p *project) close() {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := p.tracer.Shutdown(ctx); err != nil {
		log.Warn().Err(err).Msg("Failed to shut down tracer")
	}
}

// GetFormatter returns the output formatter (for use by subcommands)
func GetFormatter() *output.Formatter {
	if formatter == nil {
		format, _ := output.ParseFormat(outputFmt)
		formatter = output.NewFormatter(format, quiet)
	}
	return formatter
}
