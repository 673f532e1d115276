package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/uuid"
	"github.com/spf13/pflag"

	"github.com/shardorch/shardorch/internal/config"
	"github.com/shardorch/shardorch/internal/logging"
)

var (
	version   = "dev"
	buildTime = "unknown"
	gitCommit = "unknown"
)

func main() {
	if len(os.Args) > 1 && (os.Args[1] == "--version" || os.Args[1] == "-version") {
		fmt.Printf("shardorchd version %s (built %s)\n", version, buildTime)
		os.Exit(0)
	}

	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	switch subcommand := os.Args[1]; subcommand {
	case "run":
		runDaemon(os.Args[2:])
	case "config":
		runConfig(os.Args[2:])
	case "instances":
		runInstances(os.Args[2:])
	case "version":
		fmt.Printf("shardorchd version %s (built %s, commit %s)\n", version, buildTime, gitCommit)
	case "help", "-h", "--help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n\n", subcommand)
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println(`Usage: shardorchd <command> [options]

Commands:
  run         Open the data sources and join the orchestration cluster
  config      Show or push the stored routing configuration
  instances   List the instances registered under a name
  version     Print version information

Run 'shardorchd <command> --help' for more information on a command.`)
}

// loadConfig loads the config file named by --config, SHARDORCH_CONFIG or
// the defaults, in that order.
func loadConfig(path string) (*config.Config, error) {
	if path != "" {
		return config.LoadFromPath(path)
	}
	return config.Load()
}

func configSource(path string) string {
	if path != "" {
		return path
	}
	if env := os.Getenv(config.EnvConfigPath); env != "" {
		return env
	}
	return "defaults"
}

func runDaemon(args []string) {
	fs := pflag.NewFlagSet("run", pflag.ExitOnError)
	configPath := fs.StringP("config", "c", "", "Path to configuration file")
	name := fs.String("name", "", "Override the orchestration name")
	overwrite := fs.Bool("overwrite", false, "Replace the stored configuration with the local one")
	instanceID := fs.String("instance-id", "", "Override instance ID (default: auto-generated UUID)")
	healthAddr := fs.String("health-addr", "", "Override health endpoint address (e.g., :9091)")
	metricsAddr := fs.String("metrics-addr", "", "Override metrics endpoint address (e.g., :9090)")

	fs.Usage = func() {
		fmt.Println(`Usage: shardorchd run [options]

Open the configured data sources, publish or adopt the routing
configuration and keep it in sync with the cluster until SIGINT/SIGTERM.

Options:`)
		fs.PrintDefaults()
	}
	if err := fs.Parse(args); err != nil {
		os.Exit(1)
	}

	logging.Infof("loading configuration", map[string]any{"path": configSource(*configPath)})
	cfg, err := loadConfig(*configPath)
	if err != nil {
		logging.Errorf("failed to load config", map[string]any{"error": err.Error()})
		os.Exit(1)
	}
	if *name != "" {
		cfg.Orchestration.Name = *name
	}
	if fs.Changed("overwrite") {
		cfg.Orchestration.Overwrite = *overwrite
	}
	if cfg.Orchestration.Overwrite {
		logging.Warnf("overwrite enabled, the stored configuration will be replaced", map[string]any{
			"name": cfg.Orchestration.Name,
		})
	}
	if *instanceID != "" {
		cfg.Orchestration.InstanceID = *instanceID
	}
	if cfg.Orchestration.InstanceID == "" {
		cfg.Orchestration.InstanceID = uuid.NewString()
	}
	if *healthAddr != "" {
		cfg.Observability.HealthAddr = *healthAddr
	}
	if *metricsAddr != "" {
		cfg.Observability.MetricsAddr = *metricsAddr
	}
	if err := cfg.Validate(); err != nil {
		logging.Errorf("invalid configuration", map[string]any{"error": err.Error()})
		os.Exit(1)
	}

	logger := logging.Configure(cfg.Observability.LogLevel, cfg.Observability.LogFormat).
		WithConfigName(cfg.Orchestration.Name).
		WithInstanceID(cfg.Orchestration.InstanceID)

	d, err := NewDaemon(DaemonOptions{
		Config:    cfg,
		Logger:    logger,
		Version:   version,
		GitCommit: gitCommit,
		BuildTime: buildTime,
	})
	if err != nil {
		logger.Errorf("failed to create daemon", map[string]any{"error": err.Error()})
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := d.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Errorf("failed to start", map[string]any{"error": err.Error()})
		shutdown(d, cfg, logger)
		os.Exit(1)
	}

	<-ctx.Done()
	logger.Info("initiating graceful shutdown")
	if err := shutdown(d, cfg, logger); err != nil {
		os.Exit(1)
	}
	logger.Info("shutdown complete")
}

func shutdown(d *Daemon, cfg *config.Config, logger *logging.Logger) error {
	ctx, cancel := context.WithTimeout(context.Background(), cfg.Orchestration.ShutdownTimeout())
	defer cancel()
	if err := d.Shutdown(ctx); err != nil {
		logger.Errorf("shutdown error", map[string]any{"error": err.Error()})
		return err
	}
	return nil
}
