// Package daemon wires the transport stack into a runnable process:
// loopback-backed adapter ports, the network-device layer, management
// interfaces, telemetry and the polling dispatcher.
package daemon

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/anubani/ibnet/internal/config"
	"github.com/anubani/ibnet/internal/ib"
	"github.com/anubani/ibnet/internal/loopback"
	"github.com/anubani/ibnet/internal/mgmt"
	"github.com/anubani/ibnet/internal/netdev"
	"github.com/anubani/ibnet/internal/telemetry"
)

// Daemon is the assembled transport stack.
type Daemon struct {
	ctx        context.Context
	cancel     context.CancelFunc
	config     *config.DaemonConfig
	registry   *ib.Registry
	netdrv     *netdev.Driver
	devices    []*ib.Device
	dispatcher *ib.Dispatcher
	selfTest   *selfTest
	metrics    *telemetry.OTelMetrics
	httpServer *http.Server
	wg         sync.WaitGroup
}

// New assembles a daemon from its configuration: one loopback driver
// backing the configured number of adapter ports, all on the same
// physical unit.
func New(cfg *config.DaemonConfig) (*Daemon, error) {
	initLogging(cfg.LogLevel)

	log.Debug().Msg("Creating new daemon instance")

	ctx, cancel := context.WithCancel(context.Background())

	d := &Daemon{
		ctx:    ctx,
		cancel: cancel,
		config: cfg,
		netdrv: netdev.New(),
	}
	d.registry = ib.NewRegistry(d.netdrv)

	hook, err := d.setupTelemetry(ctx, cfg)
	if err != nil {
		cancel()
		return nil, err
	}

	drv := loopback.New()
	provider := mgmt.NewProvider()
	for i := 0; i < cfg.NumDevices; i++ {
		dev := ib.NewDevice(fmt.Sprintf("ibloop%d", i), "loop_hca0", drv)
		dev.SetPool(ib.NewBufferPool(cfg.PoolBuffers, ib.MaxPayloadSize))
		dev.SetManagement(provider)
		if hook != nil {
			dev.SetMetrics(hook)
		}
		if err := d.registry.Register(dev); err != nil {
			cancel()
			return nil, fmt.Errorf("registering %s: %w", dev.Name, err)
		}
		d.devices = append(d.devices, dev)
	}

	d.dispatcher = ib.NewDispatcher(d.registry, cfg.PollRate)
	return d, nil
}

func (d *Daemon) setupTelemetry(ctx context.Context, cfg *config.DaemonConfig) (ib.MetricHook, error) {
	var hooks []ib.MetricHook

	if cfg.MetricsAddr != "" {
		prom, err := telemetry.NewPrometheusMetrics(telemetry.PrometheusMetricsOptions{})
		if err != nil {
			return nil, fmt.Errorf("setting up prometheus metrics: %w", err)
		}
		hooks = append(hooks, prom)

		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		d.httpServer = &http.Server{Addr: cfg.MetricsAddr, Handler: mux}
	}

	if cfg.OTelCollectorAddr != "" {
		otel, err := telemetry.NewOTelMetrics(ctx, cfg.NodeID, cfg.OTelCollectorAddr)
		if err != nil {
			return nil, fmt.Errorf("setting up otel metrics: %w", err)
		}
		d.metrics = otel
		hooks = append(hooks, otel)
	}

	switch len(hooks) {
	case 0:
		return nil, nil
	case 1:
		return hooks[0], nil
	default:
		return telemetry.Fanout(hooks...), nil
	}
}

// Start opens every port, brings up the self-test queues and launches
// the dispatcher loop.
func (d *Daemon) Start() error {
	for _, dev := range d.devices {
		if err := dev.Open(); err != nil {
			return fmt.Errorf("opening %s: %w", dev.Name, err)
		}
		guid, ports := d.registry.HCAInfo(dev)
		log.Info().
			Str("device", dev.Name).
			Uint16("lid", dev.LID).
			Str("gid", dev.GID.String()).
			Str("node_guid", fmt.Sprintf("%x", guid)).
			Int("hca_ports", ports).
			Msg("Port up")
	}

	st, err := newSelfTest(d.devices, d.config.PollRate*d.config.SelfTestIntervalS)
	if err != nil {
		return fmt.Errorf("setting up self test: %w", err)
	}
	d.selfTest = st
	d.dispatcher.AfterStep = st.step

	if d.httpServer != nil {
		d.wg.Add(1)
		go func() {
			defer d.wg.Done()
			log.Info().Str("addr", d.httpServer.Addr).Msg("Metrics endpoint listening")
			if err := d.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Error().Err(err).Msg("Metrics endpoint failed")
			}
		}()
	}

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		d.dispatcher.Run(d.ctx)
	}()

	return nil
}

// Stop tears the daemon down: dispatcher first, then the queues, ports
// and registrations, then the telemetry pipeline.
func (d *Daemon) Stop() {
	log.Info().Msg("Stopping daemon")
	d.cancel()

	if d.httpServer != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		if err := d.httpServer.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("Failed to shutdown metrics endpoint")
		}
		cancel()
	}

	d.wg.Wait()

	// The dispatcher goroutine is gone; the core is single-threaded
	// again and safe to tear down from here.
	if d.selfTest != nil {
		d.selfTest.close()
		d.selfTest = nil
	}
	for _, dev := range d.devices {
		dev.Close()
		d.registry.Unregister(dev)
	}
	d.devices = nil

	if d.metrics != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		if err := d.metrics.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("Failed to shutdown metrics properly")
		}
		cancel()
	}

	log.Info().Msg("Daemon stopped")
}

// Run starts the daemon and blocks until SIGINT or SIGTERM, shutting
// down gracefully. A second signal forces immediate exit.
func (d *Daemon) Run() error {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	if err := d.Start(); err != nil {
		return err
	}

	sig := <-sigCh
	log.Info().Str("signal", sig.String()).Msg("Received signal, shutting down gracefully...")

	forceQuitCh := make(chan os.Signal, 1)
	signal.Notify(forceQuitCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-forceQuitCh
		log.Warn().Msg("Received second signal, forcing immediate exit...")
		os.Exit(1)
	}()

	d.Stop()
	return nil
}

// Registry exposes the device registry.
func (d *Daemon) Registry() *ib.Registry {
	return d.registry
}

// initLogging initializes the logging configuration
func initLogging(level string) {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	switch level {
	case "debug":
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	case "info":
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	case "warn":
		zerolog.SetGlobalLevel(zerolog.WarnLevel)
	case "error":
		zerolog.SetGlobalLevel(zerolog.ErrorLevel)
	default:
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}

	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
}
