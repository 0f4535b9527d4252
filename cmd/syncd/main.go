package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"offlinesync/internal/api"
	"offlinesync/internal/config"
	"offlinesync/internal/events"
	"offlinesync/internal/logging"
	"offlinesync/internal/metrics"
	"offlinesync/internal/network"
	"offlinesync/internal/queue"
	"offlinesync/internal/remote"
	"offlinesync/internal/syncer"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

func main() {
	if err := run(); err != nil {
		log.Fatalf("Fatal error: %v", err)
	}
}

func run() error {
	cfg, base, closer, err := loadConfigAndLogger()
	if err != nil {
		return err
	}
	if closer != nil {
		defer (func() { _ = closer.Close() })()
	}
	logger := base.With().Str("component", "syncd-main").Logger()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	startMetrics(ctx, cfg, &logger)

	backend, err := queue.Open(ctx, cfg, logging.Component(base, "queue"))
	if err != nil {
		logger.Error().Err(err).Str("backend", cfg.Queue.Backend).Msg("open queue store")
		return err
	}
	defer backend.Close()
	logger.Info().Str("backend", cfg.Queue.Backend).Bool("failover", cfg.Queue.Failover).Msg("queue store ready")

	bus := events.NewEventBus()
	logEvents(bus, logging.Component(base, "events"))

	observer := network.NewObserver(network.Status{
		IsConnected:   cfg.Network.StartOnline,
		TransportType: cfg.Network.TransportType,
	}, logging.Component(base, "network"))

	engine := syncer.NewEngine(backend.Store, remote.NewHTTPExecutor(cfg.Remote, logging.Component(base, "remote")), observer, syncer.Options{
		Retry:      syncer.RetryPolicyFromConfig(cfg.Sync),
		AutoRetry:  cfg.Sync.AutoRetry,
		Bus:        bus,
		DeadLetter: deadLetter(backend, cfg),
		Logger:     logging.Component(base, "syncer"),
	})
	engine.Start(ctx)
	defer engine.Stop()

	if cfg.Network.ProbeURL != "" {
		prober := network.NewProber(observer, cfg.Network.ProbeURL, cfg.Network.TransportType,
			cfg.Network.ProbeIntervalDuration(), cfg.Network.ProbeTimeoutDuration(), logging.Component(base, "probe"))
		prober.Start(ctx)
		defer prober.Stop()
	}

	if cfg.Sync.Schedule != "" {
		scheduler, err := syncer.NewScheduler(engine, cfg.Sync.Schedule, logging.Component(base, "scheduler"))
		if err != nil {
			return err
		}
		scheduler.Start()
		defer scheduler.Stop()
	}

	var httpServer *api.HTTPServer
	if cfg.API.Enabled {
		httpServer = api.NewHTTPServer(cfg.API, engine, observer, logging.Component(base, "api"))
		go func() {
			if err := httpServer.Start(); err != nil {
				logger.Error().Err(err).Msg("http server stopped")
			}
		}()
	}

	logger.Info().
		Bool("online", observer.Current().Online()).
		Bool("api", cfg.API.Enabled).
		Int("http_port", cfg.API.Port).
		Msg("sync daemon started")

	<-ctx.Done()
	logger.Info().Msg("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if httpServer != nil {
		_ = httpServer.Shutdown(shutdownCtx)
	}

	logger.Info().Msg("sync daemon stopped")
	return nil
}

func loadConfigAndLogger() (*config.Config, *zerolog.Logger, io.Closer, error) {
	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "configs/config.yaml"
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("load config: %w", err)
	}

	baseLogger, closer, err := logging.New(cfg.Logging, cfg.App)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("init logger: %w", err)
	}
	return cfg, baseLogger, closer, nil
}

func deadLetter(backend *queue.Backend, cfg *config.Config) syncer.DeadLetterSink {
	if dl := backend.DeadLetter(cfg.Redis.DeadLetterKey); dl != nil {
		return dl
	}
	return nil
}

// logEvents mirrors queue events to the debug log.
func logEvents(bus *events.EventBus, logger *zerolog.Logger) {
	bus.SubscribeAll(func(ev *events.Event) error {
		logger.Debug().Str("event", ev.Type).RawJSON("payload", ev.Payload).Msg("queue event")
		return nil
	})
}

func startMetrics(ctx context.Context, cfg *config.Config, logger *zerolog.Logger) {
	if !cfg.Monitoring.PrometheusEnabled {
		return
	}

	metrics.Register()
	port := cfg.Monitoring.PrometheusPort
	if port == 0 {
		port = 9090
	}
	go startMetricsServer(ctx, port, logger)
}

func startMetricsServer(ctx context.Context, port int, logger *zerolog.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	srv := &http.Server{Addr: fmt.Sprintf(":%d", port), Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		<-ctx.Done()
		ctxShutdown, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctxShutdown)
	}()
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error().Err(err).Msg("metrics server error")
	}
}
