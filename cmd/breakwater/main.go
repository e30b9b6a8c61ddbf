// Package main implements the entry point for the breakwater pixelflut
// server: a TCP canvas thousands of clients paint on concurrently, with a
// Prometheus exporter and a frame streaming bridge for viewers.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/sbernauer/breakwater-rewrite-2/canvas"
	"github.com/sbernauer/breakwater-rewrite-2/component"
	"github.com/sbernauer/breakwater-rewrite-2/config"
	"github.com/sbernauer/breakwater-rewrite-2/framestream"
	"github.com/sbernauer/breakwater-rewrite-2/health"
	"github.com/sbernauer/breakwater-rewrite-2/metric"
	"github.com/sbernauer/breakwater-rewrite-2/server"
	"github.com/sbernauer/breakwater-rewrite-2/stats"
)

// Build information constants
const (
	Version   = "2.0.0"
	BuildTime = "dev"
	appName   = "breakwater"
)

// healthCheckInterval is how often component health is polled into the
// monitor backing the /health endpoint.
const healthCheckInterval = 5 * time.Second

func main() {
	// Add panic recovery
	defer func() {
		if r := recover(); r != nil {
			buf := make([]byte, 4096)
			n := runtime.Stack(buf, false)
			_, _ = fmt.Fprintf(os.Stderr, "PANIC: %v\nStack trace:\n%s\n", r, string(buf[:n]))
			os.Exit(2)
		}
	}()

	if err := run(); err != nil {
		slog.Error("Application failed", "error", err, "exit_code", 1)
		os.Exit(1)
	}
}

func run() error {
	cliCfg, logger, shouldExit, err := initializeCLI()
	if shouldExit || err != nil {
		return err
	}

	cfg, err := initializeConfiguration(cliCfg)
	if err != nil {
		return err
	}

	if cliCfg.Validate {
		slog.Info("Configuration is valid")
		return nil
	}

	ctx := context.Background()

	cv, err := canvas.New(cfg.Canvas.Width, cfg.Canvas.Height)
	if err != nil {
		return fmt.Errorf("create canvas: %w", err)
	}

	aggregator := stats.NewAggregator()
	metricsRegistry := metric.NewMetricsRegistry()
	monitor := health.NewMonitor()

	pixelServer := server.New(server.Deps{
		Name:            "pixel-server",
		Config:          cfg.Server,
		Canvas:          cv,
		Stats:           aggregator,
		MetricsRegistry: metricsRegistry,
		Logger:          logger.With("component", "pixel-server"),
	})

	bridge := framestream.New(framestream.Deps{
		Name:            "frame-bridge",
		Config:          cfg.Frames,
		Canvas:          cv,
		MetricsRegistry: metricsRegistry,
		Logger:          logger.With("component", "frame-bridge"),
	})

	components := []component.LifecycleComponent{pixelServer, bridge}
	for _, comp := range components {
		if ierr := comp.Initialize(); ierr != nil {
			return fmt.Errorf("initialize %s: %w", comp.Meta().Name, ierr)
		}
	}

	metricsServer := metric.NewServer(cfg.Metrics.Port, cfg.Metrics.Path,
		metricsRegistry, monitor, aggregator)

	return runWithSignalHandling(ctx, components, metricsServer, monitor, cliCfg.ShutdownTimeout)
}

// initializeCLI parses flags and sets up logging
func initializeCLI() (*CLIConfig, *slog.Logger, bool, error) {
	cliCfg := parseFlags()
	if err := validateFlags(cliCfg); err != nil {
		return nil, nil, false, fmt.Errorf("invalid flags: %w", err)
	}

	if cliCfg.ShowVersion {
		fmt.Printf("%s version %s\n", appName, Version)
		return nil, nil, true, nil
	}

	if cliCfg.ShowHelp {
		printDetailedHelp()
		return nil, nil, true, nil
	}

	logger := setupLogger(cliCfg.LogLevel, cliCfg.LogFormat)
	slog.SetDefault(logger)

	slog.Info("Starting breakwater pixelflut server",
		"version", Version,
		"build_time", BuildTime,
		"config_path", cliCfg.ConfigPath)

	return cliCfg, logger, false, nil
}

// initializeConfiguration loads and validates configuration. An empty config
// path means built-in defaults.
func initializeConfiguration(cliCfg *CLIConfig) (*config.Config, error) {
	cfg := config.Default()
	if cliCfg.ConfigPath != "" {
		loader := config.NewLoader()
		loaded, err := loader.LoadFile(cliCfg.ConfigPath)
		if err != nil {
			return nil, fmt.Errorf("load config: %w", err)
		}
		cfg = loaded
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// runWithSignalHandling starts all components and blocks until a shutdown
// signal arrives, then stops everything in reverse order.
func runWithSignalHandling(
	ctx context.Context,
	components []component.LifecycleComponent,
	metricsServer *metric.Server,
	monitor *health.Monitor,
	shutdownTimeout time.Duration,
) error {
	signalCtx, signalCancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer signalCancel()

	for _, comp := range components {
		if err := comp.Start(signalCtx); err != nil {
			stopAll(components, shutdownTimeout)
			return fmt.Errorf("start %s: %w", comp.Meta().Name, err)
		}
	}

	// The metrics server blocks in its own goroutine; a listen failure is
	// logged but does not take the ingestion path down.
	go func() {
		if err := metricsServer.Start(); err != nil {
			slog.Error("metrics server failed", "error", err)
			monitor.UpdateUnhealthy("metrics-server", err.Error())
		}
	}()
	monitor.UpdateHealthy("metrics-server", "serving")

	healthDone := make(chan struct{})
	go pollComponentHealth(signalCtx, components, monitor, healthDone)

	slog.Info("breakwater started", "metrics", metricsServer.Address())

	<-signalCtx.Done()
	slog.Info("Received shutdown signal")

	<-healthDone
	stopAll(components, shutdownTimeout)

	if err := metricsServer.Stop(); err != nil {
		slog.Error("Error stopping metrics server", "error", err)
	}

	slog.Info("breakwater shutdown complete")
	return nil
}

// pollComponentHealth feeds component health into the monitor until ctx ends.
func pollComponentHealth(
	ctx context.Context,
	components []component.LifecycleComponent,
	monitor *health.Monitor,
	done chan<- struct{},
) {
	defer close(done)

	ticker := time.NewTicker(healthCheckInterval)
	defer ticker.Stop()

	update := func() {
		for _, comp := range components {
			monitor.Update(comp.Meta().Name,
				health.FromComponentHealth(comp.Meta().Name, comp.Health()))
		}
	}
	update()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			update()
		}
	}
}

// stopAll stops components in reverse start order.
func stopAll(components []component.LifecycleComponent, timeout time.Duration) {
	for i := len(components) - 1; i >= 0; i-- {
		comp := components[i]
		if err := comp.Stop(timeout); err != nil {
			slog.Error("Error stopping component",
				"component", comp.Meta().Name, "error", err)
		}
	}
}
