package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/kardianos/service"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/kabilan/claude-bar/internal/config"
	"github.com/kabilan/claude-bar/internal/cost"
	"github.com/kabilan/claude-bar/internal/metrics"
	"github.com/kabilan/claude-bar/internal/model"
	"github.com/kabilan/claude-bar/internal/poller"
	"github.com/kabilan/claude-bar/internal/pricing"
	"github.com/kabilan/claude-bar/internal/provider"
	"github.com/kabilan/claude-bar/internal/scanner"
	"github.com/kabilan/claude-bar/internal/store"
	"github.com/kabilan/claude-bar/internal/watcher"
)

const version = "0.1.0"

func main() {
	var svcCommand string
	args := os.Args[1:]
	if len(args) > 0 {
		switch args[0] {
		case "run", "install", "start", "stop", "uninstall", "status", "version":
			svcCommand = args[0]
			args = args[1:]
		}
	}

	fs := flag.NewFlagSet("claude-bar", flag.ExitOnError)
	var (
		configPath string
		showVer    bool
	)
	fs.StringVar(&configPath, "config", "", "Path to settings file (default: user config dir)")
	fs.BoolVar(&showVer, "version", false, "Show version")
	fs.BoolVar(&showVer, "v", false, "Show version")

	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, `claude-bar - usage and spend monitor for Claude Code and Codex

Usage: claude-bar [command] [options]

Commands:
  run         Run the monitor in the foreground (default)
  install     Install as a background service
  start       Start the background service
  stop        Stop the background service
  uninstall   Remove the background service
  status      Show service status
  version     Show version

Options:
`)
		fs.PrintDefaults()
		fmt.Fprintf(os.Stderr, `
Examples:
  claude-bar                       Run in the foreground
  claude-bar run --config ~/alt-settings.yaml
  claude-bar install               Install and start the service
  claude-bar status
`)
	}

	fs.Parse(args)

	if showVer || svcCommand == "version" {
		fmt.Printf("claude-bar version %s\n", version)
		return
	}

	svcConfig := &service.Config{
		Name:        "claude-bar",
		DisplayName: "claude-bar Monitor",
		Description: "Monitors Claude Code and Codex usage and local spend",
		Arguments:   []string{"run"},
	}
	if configPath != "" {
		svcConfig.Arguments = append(svcConfig.Arguments, "--config="+configPath)
	}

	d := &daemon{configPath: configPath}
	s, err := service.New(d, svcConfig)
	if err != nil {
		log.Fatalf("Failed to create service: %v", err)
	}

	switch svcCommand {
	case "install":
		if err := s.Install(); err != nil {
			log.Fatalf("Failed to install service: %v", err)
		}
		if err := s.Start(); err != nil {
			log.Fatalf("Service installed but failed to start: %v", err)
		}
		fmt.Println("Service installed and started.")

	case "start":
		if err := s.Start(); err != nil {
			log.Fatalf("Failed to start service: %v", err)
		}
		fmt.Println("Service started.")

	case "stop":
		if err := s.Stop(); err != nil {
			log.Fatalf("Failed to stop service: %v", err)
		}
		fmt.Println("Service stopped.")

	case "uninstall":
		s.Stop() // ignore error
		if err := s.Uninstall(); err != nil {
			log.Fatalf("Failed to uninstall service: %v", err)
		}
		fmt.Println("Service uninstalled.")

	case "status":
		status, err := s.Status()
		if err != nil {
			fmt.Printf("Service status: not installed or error (%v)\n", err)
			return
		}
		switch status {
		case service.StatusRunning:
			fmt.Println("Service status: running")
		case service.StatusStopped:
			fmt.Println("Service status: stopped")
		default:
			fmt.Println("Service status: unknown")
		}

	default: // "run" or no command
		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		if err := run(ctx, configPath); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
	}
}

// daemon adapts the monitor to service.Interface for background runs.
type daemon struct {
	configPath string
	cancel     context.CancelFunc
	done       chan struct{}
}

func (d *daemon) Start(svc service.Service) error {
	ctx, cancel := context.WithCancel(context.Background())
	d.cancel = cancel
	d.done = make(chan struct{})
	go func() {
		defer close(d.done)
		if err := run(ctx, d.configPath); err != nil {
			log.Printf("monitor exited: %v", err)
		}
	}()
	return nil
}

func (d *daemon) Stop(svc service.Service) error {
	d.cancel()
	select {
	case <-d.done:
	case <-time.After(10 * time.Second):
	}
	return nil
}

// run wires the engine together and blocks until ctx is cancelled.
func run(ctx context.Context, configPath string) error {
	if configPath == "" {
		p, err := config.Path()
		if err != nil {
			return fmt.Errorf("resolve config path: %w", err)
		}
		configPath = p
	}
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	logLevel, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		logLevel = zerolog.InfoLevel
	}
	logger := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen}).
		Level(logLevel).
		With().Timestamp().Logger()

	var m *metrics.Metrics
	reg := prometheus.NewRegistry()
	if cfg.MetricsAddr != "" {
		m = metrics.New(reg)
	}

	registry := provider.NewRegistry(cfg, logger)
	if len(registry.Enabled()) == 0 {
		return fmt.Errorf("no providers enabled in %s", configPath)
	}
	st := store.New(m.EventDropped)

	var scanners []scanner.Scanner
	if cfg.Providers.Claude.Enabled {
		scanners = append(scanners, scanner.NewClaude(logger))
	}
	if cfg.Providers.Codex.Enabled {
		scanners = append(scanners, scanner.NewCodex(logger))
	}

	cachePath, err := pricing.DefaultCachePath()
	if err != nil {
		return fmt.Errorf("resolve pricing cache path: %w", err)
	}
	accountant := cost.New(logger, m, cachePath, scanners...)

	var credEvents <-chan model.Provider
	w, err := watcher.Start(logger, registry.CredentialPaths())
	if err != nil {
		logger.Warn().Err(err).Msg("credential watcher unavailable, relying on polling")
	} else {
		defer w.Close()
		credEvents = w.Events()
	}

	p := poller.New(logger, m, registry.Enabled(), st, accountant, poller.Options{
		PollInterval:     time.Duration(cfg.PollInterval),
		CostScanInterval: time.Duration(cfg.CostScanInterval),
		NotifyThreshold:  cfg.NotifyThreshold,
		CredentialEvents: credEvents,
	})

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return p.Run(ctx) })

	if cfg.MetricsAddr != "" {
		srv := &http.Server{Addr: cfg.MetricsAddr, Handler: promhttp.HandlerFor(reg, promhttp.HandlerOpts{})}
		g.Go(func() error {
			logger.Info().Str("addr", cfg.MetricsAddr).Msg("serving metrics")
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				return err
			}
			return nil
		})
		g.Go(func() error {
			<-ctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		})
	}

	logger.Info().
		Int("providers", len(registry.Enabled())).
		Str("config", configPath).
		Msg("monitor started")

	return g.Wait()
}
