// Package main implements the traffic light daemon: a Raspberry Pi signal
// controller that adapts its program to train departures, weather, road
// congestion, and geomagnetic conditions.
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

	"golang.org/x/sync/errgroup"

	"github.com/tiagofranzen/pi-traffic-light/config"
	"github.com/tiagofranzen/pi-traffic-light/controller"
	"github.com/tiagofranzen/pi-traffic-light/events"
	"github.com/tiagofranzen/pi-traffic-light/hardware"
	"github.com/tiagofranzen/pi-traffic-light/health"
	"github.com/tiagofranzen/pi-traffic-light/metric"
	"github.com/tiagofranzen/pi-traffic-light/mode"
	"github.com/tiagofranzen/pi-traffic-light/monitor"
	"github.com/tiagofranzen/pi-traffic-light/monitor/spaceweather"
	"github.com/tiagofranzen/pi-traffic-light/monitor/traffic"
	"github.com/tiagofranzen/pi-traffic-light/monitor/transit"
	"github.com/tiagofranzen/pi-traffic-light/monitor/weather"
	"github.com/tiagofranzen/pi-traffic-light/pkg/retry"
	"github.com/tiagofranzen/pi-traffic-light/web"
)

// Build information constants
const (
	Version = "0.1.0"
	appName = "trafficlightd"
)

// stoppable is the shared component shutdown shape
type stoppable interface {
	Stop(timeout time.Duration) error
}

func main() {
	defer func() {
		if r := recover(); r != nil {
			buf := make([]byte, 4096)
			n := runtime.Stack(buf, false)
			_, _ = fmt.Fprintf(os.Stderr, "PANIC: %v\nStack trace:\n%s\n", r, string(buf[:n]))
			os.Exit(2)
		}
	}()

	if err := run(); err != nil {
		slog.Error("daemon failed", "error", err)
		os.Exit(1)
	}
}

func run() error {
	cliCfg := parseFlags()

	if cliCfg.ShowVersion {
		fmt.Printf("%s version %s\n", appName, Version)
		return nil
	}

	cfg, err := config.Load(cliCfg.ConfigPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if cliCfg.LogLevel != "" {
		cfg.Log.Level = cliCfg.LogLevel
	}
	if cliCfg.LogFormat != "" {
		cfg.Log.Format = cliCfg.LogFormat
	}
	if cliCfg.LampTest && cfg.Controller.LampTestPause == 0 {
		cfg.Controller.LampTestPause = 300 * time.Millisecond
	}

	logger := setupLogger(cfg.Log.Level, cfg.Log.Format)
	slog.SetDefault(logger)

	if cliCfg.Validate {
		logger.Info("configuration is valid", "config_path", cliCfg.ConfigPath)
		return nil
	}

	logger.Info("starting traffic light daemon",
		"version", Version, "config_path", cliCfg.ConfigPath,
		"mock_hardware", cliCfg.MockHardware)

	creds := config.CredentialsFromEnv()
	if cfg.NATS.URL == "" {
		cfg.NATS.URL = creds.NATSURL
	}

	ctx, stop := signal.NotifyContext(context.Background(),
		os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Shared infrastructure.
	metrics := metric.NewRegistry()
	healthM := health.NewMonitor()
	bus := events.NewBus()
	store := monitor.NewStore()

	driver, err := buildDriver(cliCfg, cfg, logger)
	if err != nil {
		return err
	}
	defer func() { _ = driver.Close() }()

	runners, err := buildRunners(cfg, creds, store, logger, metrics, healthM)
	if err != nil {
		return err
	}

	modes, err := mode.NewBuiltinRegistry(cfg.Timing.Timing())
	if err != nil {
		return fmt.Errorf("build mode registry: %w", err)
	}

	ctrl, err := controller.New(cfg.Controller, controller.Deps{
		Timing:  cfg.Timing.Timing(),
		Modes:   modes,
		Store:   store,
		Driver:  driver,
		Bus:     bus,
		Logger:  logger,
		Metrics: metrics,
		Health:  healthM,
	})
	if err != nil {
		return fmt.Errorf("build controller: %w", err)
	}

	webSrv, err := web.NewServer(cfg.Web, web.Deps{
		Controller: ctrl,
		Bus:        bus,
		Health:     healthM,
		Metrics:    metrics,
		Logger:     logger,
	})
	if err != nil {
		return fmt.Errorf("build web server: %w", err)
	}

	var publisher *events.NATSPublisher
	if cfg.NATS.URL != "" {
		publisher, err = events.NewNATSPublisher(cfg.NATS, bus, logger)
		if err != nil {
			return fmt.Errorf("build nats publisher: %w", err)
		}
	}

	// Startup: monitors first so the first mode evaluation sees data, then
	// the signal loop, then the outward surfaces. Track what started for
	// the reverse-order shutdown.
	var started []stoppable
	defer func() {
		for i := len(started) - 1; i >= 0; i-- {
			if err := started[i].Stop(cliCfg.ShutdownTimeout); err != nil {
				logger.Error("component stop failed", "error", err)
			}
		}
	}()

	var g errgroup.Group
	for _, r := range runners {
		g.Go(func() error { return r.Start(ctx) })
	}
	if err := g.Wait(); err != nil {
		return fmt.Errorf("start monitors: %w", err)
	}
	for _, r := range runners {
		started = append(started, r)
	}

	if err := ctrl.Start(ctx); err != nil {
		return fmt.Errorf("start controller: %w", err)
	}
	started = append(started, ctrl)

	if err := webSrv.Start(ctx); err != nil {
		return fmt.Errorf("start web server: %w", err)
	}
	started = append(started, webSrv)

	if publisher != nil {
		if err := publisher.Start(ctx); err != nil {
			// Event publishing is best effort; the signal must run
			// even when the broker is down.
			logger.Warn("nats publisher not started", "error", err)
		} else {
			started = append(started, publisher)
		}
	}

	logger.Info("daemon running", "web_addr", webSrv.Addr(), "monitors", len(runners))

	<-ctx.Done()
	logger.Info("shutdown signal received")
	return nil
}

// buildDriver picks GPIO or the in-memory head
func buildDriver(cliCfg *CLIConfig, cfg config.Config, logger *slog.Logger) (hardware.Driver, error) {
	if cliCfg.MockHardware {
		logger.Info("using mock signal head")
		return hardware.NewMock(), nil
	}
	driver, err := hardware.NewGPIO(cfg.Hardware)
	if err != nil {
		return nil, fmt.Errorf("init gpio (use -mock-hardware on hosts without one): %w", err)
	}
	return driver, nil
}

// buildRunners wires the four condition monitors
func buildRunners(
	cfg config.Config,
	creds config.Credentials,
	store *monitor.Store,
	logger *slog.Logger,
	metrics *metric.Registry,
	healthM *health.Monitor,
) ([]*monitor.Runner, error) {
	sources := []struct {
		source   monitor.Source
		schedule config.Schedule
	}{
		{
			source: transit.NewSource(transit.Config{
				ClientID:             creds.DBClientID,
				ClientSecret:         creds.DBClientSecret,
				StationEVA:           cfg.Monitors.Transit.StationEVA,
				OutboundDestinations: cfg.Monitors.Transit.OutboundDestinations,
			}, logger),
			schedule: cfg.Monitors.Transit.Schedule,
		},
		{
			source: weather.NewSource(weather.Config{
				APIKey:    creds.OWMAPIKey,
				Latitude:  cfg.Monitors.Weather.Latitude,
				Longitude: cfg.Monitors.Weather.Longitude,
			}, logger),
			schedule: cfg.Monitors.Weather.Schedule,
		},
		{
			source: traffic.NewSource(traffic.Config{
				APIKey: creds.GoogleMapsAPIKey,
				Routes: cfg.Monitors.Traffic.Routes,
			}, logger),
			schedule: cfg.Monitors.Traffic.Schedule,
		},
		{
			source: spaceweather.NewSource(spaceweather.Config{
				URL: cfg.Monitors.SpaceWeather.URL,
			}, logger),
			schedule: cfg.Monitors.SpaceWeather.Schedule,
		},
	}

	runners := make([]*monitor.Runner, 0, len(sources))
	for _, s := range sources {
		runner, err := monitor.NewRunner(monitor.RunnerConfig{
			Interval: s.schedule.Interval,
			Timeout:  s.schedule.Timeout,
			MaxAge:   s.schedule.MaxAge,
			Retry:    retry.Monitor(),
		}, monitor.RunnerDeps{
			Source:  s.source,
			Store:   store,
			Logger:  logger,
			Metrics: metrics,
			Health:  healthM,
		})
		if err != nil {
			return nil, fmt.Errorf("build %s monitor: %w", s.source.Name(), err)
		}
		runners = append(runners, runner)
	}
	return runners, nil
}
