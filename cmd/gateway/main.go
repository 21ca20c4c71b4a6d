// Package main is the entry point for the Bifrost API gateway.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/bnbong/bifrost/internal/config"
	"github.com/bnbong/bifrost/internal/observability"
)

// Version information (set at build time).
var (
	version   = "dev"
	buildTime = "unknown"
	gitCommit = "unknown"
)

// defaultConfigPath is used when neither -config nor GATEWAY_CONFIG_PATH is set.
const defaultConfigPath = "configs/gateway.yaml"

// cliFlags holds command line flags.
type cliFlags struct {
	configPath  string
	logLevel    string
	logFormat   string
	showVersion bool
}

func main() {
	flags, err := parseFlags(os.Args[1:])
	if err != nil {
		os.Exit(2)
	}

	if flags.showVersion {
		printVersion(os.Stdout)
		return
	}

	cfg, loaded, err := loadAndValidateConfig(flags, os.LookupEnv)
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid configuration: %v\n", err)
		os.Exit(1)
	}

	logger, err := initLogger(cfg.Logging)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	logger.Info("starting bifrost",
		observability.String("version", version),
		observability.String("config", flags.configPath),
		observability.Bool("config_file_loaded", loaded),
		observability.String("settings", cfg.String()),
	)

	app, err := newApplication(context.Background(), cfg, logger)
	if err != nil {
		fatalWithSync(logger, "failed to initialize gateway", observability.Error(err))
		return
	}

	if err := runGateway(app, logger); err != nil {
		fatalWithSync(logger, "gateway terminated", observability.Error(err))
	}
}

// parseFlags parses command line flags.
func parseFlags(args []string) (cliFlags, error) {
	fs := flag.NewFlagSet("gateway", flag.ContinueOnError)

	var flags cliFlags
	fs.StringVar(&flags.configPath, "config", getEnvOrDefault("GATEWAY_CONFIG_PATH", defaultConfigPath),
		"Path to configuration file")
	fs.StringVar(&flags.logLevel, "log-level", "",
		"Log level (debug, info, warn, error); overrides the config file")
	fs.StringVar(&flags.logFormat, "log-format", "",
		"Log format (json, console); overrides the config file")
	fs.BoolVar(&flags.showVersion, "version", false, "Show version information")

	if err := fs.Parse(args); err != nil {
		return cliFlags{}, err
	}
	return flags, nil
}

// printVersion prints version information.
func printVersion(w io.Writer) {
	_, _ = fmt.Fprintf(w, "bifrost version %s\n", version)
	_, _ = fmt.Fprintf(w, "  Build time: %s\n", buildTime)
	_, _ = fmt.Fprintf(w, "  Git commit: %s\n", gitCommit)
}

// loadAndValidateConfig loads the config file, applies environment and
// flag overrides, and validates the result. A missing file yields the
// defaults; loaded reports whether a file was read.
func loadAndValidateConfig(flags cliFlags, lookup config.LookupFunc) (*config.GatewayConfig, bool, error) {
	cfg, loaded, err := config.LoadConfigOrDefault(flags.configPath)
	if err != nil {
		return nil, false, err
	}

	if err := config.ApplyEnv(cfg, lookup); err != nil {
		return nil, loaded, err
	}

	if flags.logLevel != "" {
		cfg.Logging.Level = flags.logLevel
	}
	if flags.logFormat != "" {
		cfg.Logging.Format = flags.logFormat
	}

	if err := config.ValidateConfig(cfg); err != nil {
		return nil, loaded, err
	}
	return cfg, loaded, nil
}

// initLogger initializes the logger.
func initLogger(cfg config.LoggingConfig) (observability.Logger, error) {
	return observability.NewLogger(observability.LogConfig{
		Level:  cfg.Level,
		Format: cfg.Format,
		Output: cfg.Output,
	})
}

// fatalWithSync flushes the logger before exiting.
func fatalWithSync(logger observability.Logger, msg string, fields ...observability.Field) {
	_ = logger.Sync()
	logger.Fatal(msg, fields...)
}
