// Package server provides the shared service lifecycle runner: config
// loading, observability init, signal-triggered graceful shutdown, and a
// Setup hook for service-specific wiring. There is no transport layer here
// — no HTTP or gRPC server is started; a service that wants to serve
// requests mounts its own listener inside its Setup callback.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"os/signal"
	"syscall"

	"github.com/ridewise/authcore/internal/config"
	"github.com/ridewise/authcore/internal/domain"
	"github.com/ridewise/authcore/internal/observability"
)

// Params configures a service's lifecycle runner.
type Params struct {
	// Name identifies the service for logging and OTEL resource attributes.
	Name string

	// Setup is called after config, logging, and observability are
	// initialized. Use it to construct adapters and the domain service,
	// and to start any background loops (e.g. audit cleanup). The returned
	// cleanup function, if non-nil, runs during graceful shutdown.
	//
	// When Setup is nil, Run blocks until signaled and then exits cleanly.
	Setup func(ctx context.Context, deps SetupDeps) (cleanup func(context.Context) error, err error)
}

// SetupDeps holds the dependencies available to a service's Setup callback.
type SetupDeps struct {
	Config *config.Config
	Logger *slog.Logger
}

// Run loads configuration, initializes logging and OTEL, invokes Setup, and
// blocks until SIGTERM/SIGINT, then runs graceful shutdown: Setup's cleanup
// hook first, then OTEL flush, each bounded by domain.ShutdownTimeout.
func Run(ctx context.Context, p Params) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	cfg, err := config.Load(ctx)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger := observability.InitLogger(observability.LogConfig{
		Level:       cfg.LogLevel,
		Format:      cfg.LogFormat,
		ServiceName: p.Name,
		Environment: cfg.Environment,
	})

	tp, mp, err := initOTEL(ctx, p.Name, cfg)
	if err != nil {
		return err
	}

	var cleanupFn func(context.Context) error
	if p.Setup != nil {
		cleanupFn, err = p.Setup(ctx, SetupDeps{Config: cfg, Logger: logger})
		if err != nil {
			return fmt.Errorf("setup: %w", err)
		}
	}

	logger.InfoContext(ctx, "service started", slog.String("service", p.Name), slog.String("environment", cfg.Environment))

	<-ctx.Done()
	logger.InfoContext(ctx, "received shutdown signal, starting graceful shutdown")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), domain.ShutdownTimeout)
	defer cancel()

	if cleanupFn != nil {
		if cleanupErr := cleanupFn(shutdownCtx); cleanupErr != nil {
			logger.Error("service cleanup error", slog.String("error", cleanupErr.Error()))
		}
	}

	if shutdownErr := mp.Shutdown(shutdownCtx); shutdownErr != nil {
		logger.Error("failed to shutdown metrics", slog.String("error", shutdownErr.Error()))
	}
	if shutdownErr := tp.Shutdown(shutdownCtx); shutdownErr != nil {
		logger.Error("failed to shutdown tracer", slog.String("error", shutdownErr.Error()))
	}

	logger.Info("shutdown complete")
	return nil
}

// initOTEL initializes tracer and metrics providers.
func initOTEL(ctx context.Context, name string, cfg *config.Config) (
	*observability.TracerProvider, *observability.MetricsProvider, error,
) {
	tp, err := observability.InitTracer(ctx, observability.TracerConfig{
		ServiceName:    name,
		ServiceVersion: "0.1.0",
		Environment:    cfg.Environment,
		OTLPEndpoint:   cfg.OTEL.Endpoint,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("initialize tracer: %w", err)
	}

	mp, err := observability.InitMetrics(ctx, observability.MetricsConfig{
		ServiceName:    name,
		ServiceVersion: "0.1.0",
		Environment:    cfg.Environment,
		OTLPEndpoint:   cfg.OTEL.Endpoint,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("initialize metrics: %w", err)
	}

	return tp, mp, nil
}
