package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/marmos91/siafuse/internal/logger"
	"github.com/marmos91/siafuse/pkg/config"
	"github.com/marmos91/siafuse/pkg/content"
	"github.com/marmos91/siafuse/pkg/gc"
	"github.com/marmos91/siafuse/pkg/server"
)

// version is overridden at build time with -ldflags "-X main.version=...".
var version = "dev"

const usage = `siafuse - in-memory namespace over a pluggable content store, mounted with FUSE

Usage:
  siafuse mount [flags]    Mount the filesystem and serve until interrupted
  siafuse init [flags]     Write a default configuration file
  siafuse version          Print the version

Run 'siafuse <command> -h' for command flags.
`

func main() {
	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}

	var err error
	switch os.Args[1] {
	case "mount":
		err = runMount(os.Args[2:])
	case "init":
		err = runInit(os.Args[2:])
	case "version":
		fmt.Printf("siafuse %s\n", version)
	case "help", "-h", "--help":
		fmt.Print(usage)
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n\n%s", os.Args[1], usage)
		os.Exit(2)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func runInit(args []string) error {
	fs := flag.NewFlagSet("init", flag.ExitOnError)
	configPath := fs.String("config", "", "Path of the file to write (default: $XDG_CONFIG_HOME/siafuse/config.yaml)")
	force := fs.Bool("force", false, "Overwrite an existing file")
	if err := fs.Parse(args); err != nil {
		return err
	}

	path := *configPath
	if path == "" {
		written, err := config.InitConfig(*force)
		if err != nil {
			return err
		}
		path = written
	} else if err := config.InitConfigToPath(path, *force); err != nil {
		return err
	}

	fmt.Printf("Configuration written to %s\n", path)
	return nil
}

func runMount(args []string) error {
	fs := flag.NewFlagSet("mount", flag.ExitOnError)
	configPath := fs.String("config", "", "Path to config file (default: $XDG_CONFIG_HOME/siafuse/config.yaml)")
	mountpoint := fs.String("mountpoint", "", "Override adapters.fuse.mountpoint")
	logLevel := fs.String("log-level", "", "Override logging.level (DEBUG, INFO, WARN, ERROR)")
	debug := fs.Bool("debug", false, "Log every FUSE request")
	allowOther := fs.Bool("allow-other", false, "Allow other users to access the mount")
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		return err
	}

	// CLI flags take precedence over file and environment
	if *mountpoint != "" {
		cfg.Adapters.FUSE.Mountpoint = *mountpoint
	}
	if *logLevel != "" {
		cfg.Logging.Level = *logLevel
	}
	if *debug {
		cfg.Adapters.FUSE.Debug = true
	}
	if *allowOther {
		cfg.Adapters.FUSE.AllowOther = true
	}
	config.ApplyDefaults(cfg)
	if err := config.Validate(cfg); err != nil {
		return fmt.Errorf("configuration validation failed: %w", err)
	}

	if err := logger.Configure(logger.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Output: cfg.Logging.Output,
	}); err != nil {
		return fmt.Errorf("failed to configure logger: %w", err)
	}

	logger.Info("siafuse %s starting", version)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	m := config.InitializeMetrics(cfg)

	// ========================================================================
	// Content store and engine
	// ========================================================================

	backend, err := config.CreateContentStore(ctx, &cfg.Content)
	if err != nil {
		return err
	}
	store := content.Instrument(backend, m.ContentMetrics)
	defer func() {
		if closer, ok := store.(io.Closer); ok {
			if err := closer.Close(); err != nil {
				logger.Error("Failed to close content store: %v", err)
			}
		}
	}()

	dispatcher, err := config.CreateDispatcher(cfg, store, m.VFSMetrics)
	if err != nil {
		return err
	}

	// The memory store cannot outlive the process, so it never holds orphans
	if cfg.GC.Enabled && cfg.Content.Type != "memory" {
		collector, err := gc.NewCollector(dispatcher, store, gc.Config{
			Interval: cfg.GC.Interval,
			DryRun:   cfg.GC.DryRun,
		})
		if err != nil {
			logger.Warn("Garbage collection unavailable: %v", err)
		} else {
			collector.Start()
			defer func() {
				stopCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
				defer cancel()
				_ = collector.Stop(stopCtx)
			}()
		}
	}

	// ========================================================================
	// Adapters
	// ========================================================================

	srv := server.New(dispatcher, cfg.Server.ShutdownTimeout)

	adapters, err := config.CreateAdapters(cfg, m.FUSEMetrics)
	if err != nil {
		return err
	}
	for _, a := range adapters {
		if err := srv.AddAdapter(a); err != nil {
			return err
		}
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		// An external unmount ends Serve without a signal; take the
		// metrics server down with it.
		defer stop()
		return srv.Serve(gctx)
	})

	if m.Server != nil {
		g.Go(func() error {
			return m.Server.Start(gctx)
		})
	}

	logger.Info("Mounted at %s. Press Ctrl+C to unmount.", cfg.Adapters.FUSE.Mountpoint)

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}

	logger.Info("siafuse stopped")
	return nil
}
