package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/zoff-tech/event-gateway/pkg/broker"
	"github.com/zoff-tech/event-gateway/pkg/config"
	"github.com/zoff-tech/event-gateway/pkg/telemetry"
)

const shutdownTimeout = 10 * time.Second

func main() {
	// Load configuration from file or environment
	cfg, err := config.LoadFromFile("./cmd/event-gateway")
	if err != nil {
		fmt.Fprintln(os.Stderr, "Error loading configuration:", err)
		os.Exit(1)
	}

	logger, err := telemetry.NewLogger(cfg.Logging)
	if err != nil {
		fmt.Fprintln(os.Stderr, "Failed to initialize logger:", err)
		os.Exit(1)
	}

	if err := run(cfg, logger); err != nil {
		logger.Error("event gateway stopped with error", zap.Error(err))
		_ = logger.Sync()
		os.Exit(1)
	}
	_ = logger.Sync()
}

func run(cfg *config.Settings, logger *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Tracing is optional; without an endpoint spans go to the no-op provider.
	if cfg.Observability.TracingEndpoint != "" {
		shutdownTelemetry, err := telemetry.Init(cfg.Observability, logger)
		if err != nil {
			return fmt.Errorf("failed to initialize telemetry: %w", err)
		}
		defer shutdownTelemetry()
	}

	metrics := broker.NewMetrics(prometheus.DefaultRegisterer)
	gateway := broker.NewGateway(
		broker.NewDialer(&cfg.Broker, logger),
		broker.WithExchange(cfg.Broker.Exchange),
		broker.WithLogger(logger),
		broker.WithMetrics(metrics),
	)

	if err := gateway.Start(ctx, cfg.Broker.URL); err != nil {
		return err
	}
	defer gateway.Stop()

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	server := &http.Server{
		Addr:              cfg.Observability.MetricsAddr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("serving metrics", zap.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutting down")
	case err := <-serveErr:
		if err != nil {
			return fmt.Errorf("metrics server: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn("metrics server shutdown", zap.Error(err))
	}
	return nil
}
