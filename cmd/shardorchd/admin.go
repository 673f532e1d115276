package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/pflag"

	"github.com/shardorch/shardorch/internal/archive"
	"github.com/shardorch/shardorch/internal/config"
	"github.com/shardorch/shardorch/internal/logging"
	"github.com/shardorch/shardorch/internal/metadata"
	"github.com/shardorch/shardorch/internal/metadata/oxia"
	"github.com/shardorch/shardorch/internal/objectstore/s3"
	"github.com/shardorch/shardorch/internal/orchestration"
)

// AdminOptions contains what the admin commands operate on.
type AdminOptions struct {
	Config   *config.Config
	Logger   *logging.Logger
	Store    metadata.MetadataStore
	Archive  *archive.Archiver
	Out      io.Writer
	Name     string
	Timeout  time.Duration
	JSONMode bool
}

func (o *AdminOptions) context() (context.Context, context.CancelFunc) {
	timeout := o.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return context.WithTimeout(context.Background(), timeout)
}

func (o *AdminOptions) configService() (*orchestration.ConfigService, error) {
	return orchestration.NewConfigService(orchestration.ConfigServiceConfig{
		Store:       o.Store,
		Name:        o.Name,
		Compression: orchestration.Compression(o.Config.Metadata.Compression),
		Logger:      o.Logger,
	})
}

func runConfig(args []string) {
	if len(args) < 1 {
		printConfigUsage()
		os.Exit(1)
	}

	switch subcommand := args[0]; subcommand {
	case "show":
		runConfigShow(args[1:])
	case "push":
		runConfigPush(args[1:])
	case "history":
		runConfigHistory(args[1:])
	case "help", "-h", "--help":
		printConfigUsage()
	default:
		fmt.Fprintf(os.Stderr, "unknown config command: %s\n\n", subcommand)
		printConfigUsage()
		os.Exit(1)
	}
}

func printConfigUsage() {
	fmt.Println(`Usage: shardorchd config <command> [options]

Commands:
  show      Print the stored configuration as YAML
  push      Replace the stored configuration with a YAML file
  history   List or print archived configuration versions`)
}

// adminFlags registers the flags every admin command shares.
func adminFlags(fs *pflag.FlagSet) (configPath, name *string, timeout *time.Duration) {
	configPath = fs.StringP("config", "c", "", "Path to configuration file")
	name = fs.String("name", "", "Orchestration name (default: from config)")
	timeout = fs.Duration("timeout", 30*time.Second, "Operation timeout")
	return
}

func runConfigShow(args []string) {
	fs := pflag.NewFlagSet("config show", pflag.ExitOnError)
	configPath, name, timeout := adminFlags(fs)
	if err := fs.Parse(args); err != nil {
		os.Exit(1)
	}
	runAdminCommand(*configPath, *name, *timeout, false, false, cmdConfigShow)
}

func runConfigPush(args []string) {
	fs := pflag.NewFlagSet("config push", pflag.ExitOnError)
	configPath, name, timeout := adminFlags(fs)
	file := fs.StringP("file", "f", "", "YAML configuration to store (required)")
	if err := fs.Parse(args); err != nil {
		os.Exit(1)
	}
	if *file == "" {
		fmt.Fprintln(os.Stderr, "--file is required")
		os.Exit(1)
	}
	data, err := os.ReadFile(*file)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to read %s: %v\n", *file, err)
		os.Exit(1)
	}
	runAdminCommand(*configPath, *name, *timeout, false, false, func(opts *AdminOptions) error {
		return cmdConfigPush(opts, data)
	})
}

func runConfigHistory(args []string) {
	fs := pflag.NewFlagSet("config history", pflag.ExitOnError)
	configPath, name, timeout := adminFlags(fs)
	version := fs.Int64("version", 0, "Print this archived version instead of listing")
	if err := fs.Parse(args); err != nil {
		os.Exit(1)
	}
	runAdminCommand(*configPath, *name, *timeout, false, true, func(opts *AdminOptions) error {
		if *version > 0 {
			return cmdConfigHistoryGet(opts, *version)
		}
		return cmdConfigHistoryList(opts)
	})
}

func runInstances(args []string) {
	fs := pflag.NewFlagSet("instances", pflag.ExitOnError)
	configPath, name, timeout := adminFlags(fs)
	asJSON := fs.Bool("json", false, "Print JSON instead of a table")
	if err := fs.Parse(args); err != nil {
		os.Exit(1)
	}
	runAdminCommand(*configPath, *name, *timeout, *asJSON, false, cmdInstances)
}

func runAdminCommand(configPath, name string, timeout time.Duration, asJSON, needArchive bool, run func(*AdminOptions) error) {
	opts, cleanup, err := newAdminOptions(configPath, name, timeout, needArchive)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}
	defer cleanup()
	opts.JSONMode = asJSON

	if err := run(opts); err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		cleanup()
		os.Exit(1)
	}
}

func newAdminOptions(configPath, name string, timeout time.Duration, needArchive bool) (*AdminOptions, func(), error) {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load config: %w", err)
	}
	if name == "" {
		name = cfg.Orchestration.Name
	}
	logger := logging.Configure(cfg.Observability.LogLevel, "text")

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	store, err := oxia.New(ctx, oxia.Config{
		ServiceAddress: cfg.Metadata.OxiaEndpoint,
		Namespace:      cfg.Metadata.Namespace,
		RequestTimeout: cfg.Metadata.RequestTimeout(),
		SessionTimeout: cfg.Metadata.SessionTimeout(),
	})
	if err != nil {
		return nil, nil, fmt.Errorf("failed to connect to Oxia at %s: %w", cfg.Metadata.OxiaEndpoint, err)
	}

	opts := &AdminOptions{
		Config:  cfg,
		Logger:  logger,
		Store:   store,
		Out:     os.Stdout,
		Name:    name,
		Timeout: timeout,
	}

	if needArchive {
		a := cfg.Archive
		if !a.Enabled {
			store.Close()
			return nil, nil, errors.New("config history requires archive.enabled")
		}
		objects, err := s3.New(ctx, s3.Config{
			Bucket:          a.Bucket,
			Region:          a.Region,
			Endpoint:        a.Endpoint,
			AccessKeyID:     a.AccessKey,
			SecretAccessKey: a.SecretKey,
			UsePathStyle:    a.UsePathStyle,
		})
		if err != nil {
			store.Close()
			return nil, nil, fmt.Errorf("failed to open archive: %w", err)
		}
		opts.Archive = archive.New(objects, a.Prefix, logger)
	}

	var once bool
	cleanup := func() {
		if once {
			return
		}
		once = true
		if opts.Archive != nil {
			opts.Archive.Close()
		}
		store.Close()
	}
	return opts, cleanup, nil
}

func cmdConfigShow(opts *AdminOptions) error {
	ctx, cancel := opts.context()
	defer cancel()

	svc, err := opts.configService()
	if err != nil {
		return err
	}
	cfg, version, err := svc.Load(ctx)
	if err != nil {
		return err
	}
	data, err := orchestration.Encode(cfg, orchestration.CompressionNone)
	if err != nil {
		return err
	}
	fmt.Fprintf(opts.Out, "# %s version %d\n", svc.Key(), version)
	_, err = opts.Out.Write(data)
	return err
}

// cmdConfigPush validates data and stores it unconditionally. Running
// instances pick it up through their subscriptions and reject it themselves
// if it names data sources they do not hold.
func cmdConfigPush(opts *AdminOptions, data []byte) error {
	ctx, cancel := opts.context()
	defer cancel()

	cfg, err := orchestration.Decode(data)
	if err != nil {
		return err
	}
	if cfg.Name == "" {
		cfg.Name = opts.Name
	}
	if cfg.Name != opts.Name {
		return fmt.Errorf("%w: file is for %q, not %q", orchestration.ErrInvalidConfig, cfg.Name, opts.Name)
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	svc, err := opts.configService()
	if err != nil {
		return err
	}
	res, err := svc.Persist(ctx, cfg, true)
	if err != nil {
		return err
	}
	fmt.Fprintf(opts.Out, "Configuration %q stored at version %d\n", cfg.Name, res.Version)
	return nil
}

func cmdConfigHistoryList(opts *AdminOptions) error {
	ctx, cancel := opts.context()
	defer cancel()

	entries, err := opts.Archive.List(ctx, opts.Name)
	if err != nil {
		return err
	}
	if len(entries) == 0 {
		fmt.Fprintln(opts.Out, "No archived versions found.")
		return nil
	}

	w := tabwriter.NewWriter(opts.Out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "VERSION\tSIZE\tARCHIVED\tKEY")
	for _, e := range entries {
		archived := "-"
		if e.LastModified > 0 {
			archived = time.UnixMilli(e.LastModified).UTC().Format(time.RFC3339)
		}
		fmt.Fprintf(w, "%d\t%d\t%s\t%s\n", e.Version, e.Size, archived, e.Key)
	}
	return w.Flush()
}

func cmdConfigHistoryGet(opts *AdminOptions, version int64) error {
	ctx, cancel := opts.context()
	defer cancel()

	data, err := opts.Archive.Get(ctx, opts.Name, version)
	if err != nil {
		return err
	}
	_, err = opts.Out.Write(data)
	return err
}

func cmdInstances(opts *AdminOptions) error {
	ctx, cancel := opts.context()
	defer cancel()

	instances, err := orchestration.ListInstances(ctx, opts.Store, opts.Name, opts.Logger)
	if err != nil {
		return err
	}

	if opts.JSONMode {
		enc := json.NewEncoder(opts.Out)
		enc.SetIndent("", "  ")
		if instances == nil {
			instances = []orchestration.InstanceInfo{}
		}
		return enc.Encode(instances)
	}

	if len(instances) == 0 {
		fmt.Fprintf(opts.Out, "No instances registered for %q.\n", opts.Name)
		return nil
	}
	w := tabwriter.NewWriter(opts.Out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "INSTANCE\tHOST\tPID\tSTARTED\tVERSION")
	for _, inst := range instances {
		fmt.Fprintf(w, "%s\t%s\t%d\t%s\t%s\n",
			inst.InstanceID,
			inst.Host,
			inst.PID,
			inst.Started().UTC().Format(time.RFC3339),
			inst.BuildInfo.Version,
		)
	}
	return w.Flush()
}
