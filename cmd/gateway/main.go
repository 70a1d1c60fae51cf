// Package main is the entry point for the alo17 security gateway.
package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/alo17/secgateway/internal/config"
	"github.com/alo17/secgateway/internal/observability"
)

// Version information (set at build time).
var (
	version   = "dev"
	buildTime = "unknown"
	gitCommit = "unknown"
)

// cliFlags holds command line flags.
type cliFlags struct {
	configPath  string
	logLevel    string
	logFormat   string
	listenAddr  string
	demoRoutes  bool
	showVersion bool
}

func main() {
	flags := parseFlags()

	if flags.showVersion {
		printVersion()
		return
	}

	cfg, configPath := loadConfig(flags)
	logger := initLogger(cfg)
	defer func() { _ = logger.Sync() }()

	logger.Info("starting secgateway",
		observability.String("version", version),
		observability.String("config", configPath),
		observability.String("listen_addr", cfg.Server.ListenAddr),
	)

	app, err := newApplication(cfg, logger, flags.demoRoutes)
	if err != nil {
		logger.Fatal("failed to initialize gateway", observability.Error(err))
	}

	if err := run(app, configPath); err != nil {
		logger.Error("gateway exited with error", observability.Error(err))
		_ = logger.Sync()
		os.Exit(1)
	}
}

// parseFlags parses command line flags.
func parseFlags() cliFlags {
	configPath := flag.String("config", getEnvOrDefault(envConfigPath, ""),
		"Path to configuration file (defaults are used when empty)")
	logLevel := flag.String("log-level", getEnvOrDefault(envLogLevel, ""),
		"Log level override (debug, info, warn, error)")
	logFormat := flag.String("log-format", getEnvOrDefault(envLogFormat, ""),
		"Log format override (json, console)")
	listenAddr := flag.String("listen", getEnvOrDefault(envListenAddr, ""),
		"Listen address override")
	demoRoutes := flag.Bool("demo-routes", getEnvBool(envDemoRoutes, true),
		"Serve the demo /api routes")
	showVersion := flag.Bool("version", false, "Show version information")
	flag.Parse()

	return cliFlags{
		configPath:  *configPath,
		logLevel:    *logLevel,
		logFormat:   *logFormat,
		listenAddr:  *listenAddr,
		demoRoutes:  *demoRoutes,
		showVersion: *showVersion,
	}
}

// printVersion prints version information.
func printVersion() {
	fmt.Printf("secgateway version %s\n", version)
	fmt.Printf("  Build time: %s\n", buildTime)
	fmt.Printf("  Git commit: %s\n", gitCommit)
}

// loadConfig loads, overrides and validates the configuration. It exits on
// failure since no logger exists yet.
func loadConfig(flags cliFlags) (*config.Config, string) {
	cfg, path, err := resolveConfig(flags)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}
	return cfg, path
}

// resolveConfig returns the validated configuration and the path it was read
// from, which is empty when running on defaults.
func resolveConfig(flags cliFlags) (*config.Config, string, error) {
	cfg := config.DefaultConfig()
	path := ""

	if flags.configPath != "" {
		resolved, err := config.ResolveConfigPath(flags.configPath)
		if err != nil {
			return nil, "", err
		}
		if cfg, err = config.LoadConfig(resolved); err != nil {
			return nil, "", err
		}
		path = resolved
	}

	applyOverrides(cfg, flags)

	if err := config.ValidateConfig(cfg); err != nil {
		return nil, "", err
	}
	return cfg, path, nil
}

// applyOverrides applies command line and environment overrides.
func applyOverrides(cfg *config.Config, flags cliFlags) {
	if flags.logLevel != "" {
		cfg.Logging.Level = flags.logLevel
	}
	if flags.logFormat != "" {
		cfg.Logging.Format = flags.logFormat
	}
	if flags.listenAddr != "" {
		cfg.Server.ListenAddr = flags.listenAddr
	}
}

// initLogger initializes the logger.
func initLogger(cfg *config.Config) observability.Logger {
	logger, err := observability.NewLogger(cfg.LogConfig())
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	return logger
}
