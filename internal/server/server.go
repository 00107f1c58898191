// Package server provides the service lifecycle runner.
// cmd/otpauth delegates to server.Run for signal handling, config loading,
// observability init, health checks, and graceful shutdown.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/aelexs/otp-auth/internal/config"
	"github.com/aelexs/otp-auth/internal/domain"
	"github.com/aelexs/otp-auth/internal/observability"
)

// serviceVersion is reported on every span and metric resource.
const serviceVersion = "0.1.0"

// SetupDeps is what the composition root receives from Run.
type SetupDeps struct {
	Config     *config.Config
	Logger     *slog.Logger
	Router     chi.Router
	GRPCServer *grpc.Server
}

// SetupFunc wires the service onto the shared router and gRPC server. The
// returned cleanup runs after both servers have drained.
type SetupFunc func(ctx context.Context, deps SetupDeps) (cleanup func(context.Context) error, err error)

// Params configures a service's lifecycle runner.
type Params struct {
	// Name identifies the service in logs and telemetry.
	Name string

	// Setup is the composition root. Nil serves health checks only.
	Setup SetupFunc
}

// Listeners optionally injects pre-bound listeners (enables port-0
// testing). A nil HTTP listener is bound from config. A nil GRPC listener
// is bound from config unless grpc.port is 0.
type Listeners struct {
	HTTP net.Listener
	GRPC net.Listener
}

// Run executes the full service lifecycle: signal handling, config loading,
// observability initialization, HTTP and gRPC servers with health checks,
// and graceful shutdown in reverse startup order.
func Run(ctx context.Context, p Params, ls Listeners) error {
	// Signal-based cancellation: ctx.Done() closes on SIGTERM/SIGINT.
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	cfg, err := config.Load(ctx)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	// Structured logging with secret redaction
	logger := observability.NewLogger(observability.LogConfig{
		Level:       cfg.Log.Level,
		Format:      cfg.Log.Format,
		ServiceName: p.Name,
		Environment: cfg.Environment,
	})

	// --- Startup order: telemetry -> setup -> gRPC -> HTTP ---

	telemetry, err := observability.InitTelemetry(ctx, observability.TelemetryConfig{
		ServiceName:    p.Name,
		ServiceVersion: serviceVersion,
		Environment:    cfg.Environment,
		OTLPEndpoint:   cfg.OTEL.Endpoint,
		Insecure:       cfg.OTEL.Insecure,
	})
	if err != nil {
		return fmt.Errorf("initialize telemetry: %w", err)
	}

	// Health check shutdown coordination via atomic flag.
	var shuttingDown atomic.Bool

	router := chi.NewRouter()
	router.Use(chimw.RequestID)
	router.Use(chimw.Recoverer)
	router.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if shuttingDown.Load() {
			w.WriteHeader(http.StatusServiceUnavailable)
			fmt.Fprintf(w, `{"status":"shutting_down","service":%q}`, p.Name)
			return
		}
		w.WriteHeader(http.StatusOK)
		fmt.Fprintf(w, `{"status":"healthy","service":%q}`, p.Name)
	})

	grpcServer := grpc.NewServer(grpc.StatsHandler(otelgrpc.NewServerHandler()))
	healthServer := health.NewServer()
	healthpb.RegisterHealthServer(grpcServer, healthServer)

	cleanup := func(context.Context) error { return nil }
	if p.Setup != nil {
		c, setupErr := p.Setup(ctx, SetupDeps{
			Config:     cfg,
			Logger:     logger,
			Router:     router,
			GRPCServer: grpcServer,
		})
		if setupErr != nil {
			shutdownTelemetry(telemetry, logger)
			return fmt.Errorf("setup %s: %w", p.Name, setupErr)
		}
		if c != nil {
			cleanup = c
		}
	}

	httpLn, grpcLn, err := bind(ctx, cfg, ls)
	if err != nil {
		runCleanup(cleanup, logger)
		shutdownTelemetry(telemetry, logger)
		return err
	}

	httpServer := newHTTPServer(cfg, router)

	healthServer.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)

	// --- Structured concurrency via errgroup ---
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info("starting HTTP server",
			slog.String("addr", httpLn.Addr().String()),
			slog.String("environment", cfg.Environment),
		)
		if serveErr := httpServer.Serve(httpLn); serveErr != nil && !errors.Is(serveErr, http.ErrServerClosed) {
			return fmt.Errorf("serve http: %w", serveErr)
		}
		return nil
	})

	if grpcLn != nil {
		g.Go(func() error {
			logger.Info("starting gRPC server", slog.String("addr", grpcLn.Addr().String()))
			if serveErr := grpcServer.Serve(grpcLn); serveErr != nil && !errors.Is(serveErr, grpc.ErrServerStopped) {
				return fmt.Errorf("serve grpc: %w", serveErr)
			}
			return nil
		})
	}

	// Shutdown trigger: waits for context cancellation, then drains.
	g.Go(func() error {
		<-ctx.Done()
		logger.Info("received shutdown signal, starting graceful shutdown")

		// 1. Mark shutting down: /healthz and grpc.health report not serving
		shuttingDown.Store(true)
		healthServer.Shutdown()

		// 2. Drain delay: let load balancer propagate endpoint removal
		time.Sleep(domain.ShutdownDrainDelay)

		// 3. Drain HTTP, then gRPC (reverse of startup)
		httpCtx, httpCancel := context.WithTimeout(context.Background(), domain.ShutdownHTTPTimeout)
		defer httpCancel()
		if shutdownErr := httpServer.Shutdown(httpCtx); shutdownErr != nil {
			logger.Error("HTTP server shutdown error", slog.String("error", shutdownErr.Error()))
		}
		stopGRPC(grpcServer, domain.ShutdownHTTPTimeout)

		// 4. Release service resources
		runCleanup(cleanup, logger)

		// 5. Flush OTEL
		shutdownTelemetry(telemetry, logger)

		logger.Info("shutdown complete")
		return nil
	})

	return g.Wait()
}

// newHTTPServer leaves room in the write deadline for the configured SMS
// delivery timeout, so a slow send still gets its response written.
func newHTTPServer(cfg *config.Config, handler http.Handler) *http.Server {
	return &http.Server{
		Handler:      handler,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: cfg.OTP.DeliveryTimeout + 5*time.Second,
		IdleTimeout:  60 * time.Second,
	}
}

// bind returns the HTTP listener and, when enabled, the gRPC listener.
func bind(ctx context.Context, cfg *config.Config, ls Listeners) (net.Listener, net.Listener, error) {
	lc := &net.ListenConfig{}

	httpLn := ls.HTTP
	if httpLn == nil {
		var err error
		httpLn, err = lc.Listen(ctx, "tcp", fmt.Sprintf(":%d", cfg.HTTP.Port))
		if err != nil {
			return nil, nil, fmt.Errorf("listen http: %w", err)
		}
	}

	grpcLn := ls.GRPC
	if grpcLn == nil && cfg.GRPC.Port > 0 {
		var err error
		grpcLn, err = lc.Listen(ctx, "tcp", fmt.Sprintf(":%d", cfg.GRPC.Port))
		if err != nil {
			_ = httpLn.Close()
			return nil, nil, fmt.Errorf("listen grpc: %w", err)
		}
	}
	return httpLn, grpcLn, nil
}

// stopGRPC drains in-flight RPCs, forcing a stop after timeout.
func stopGRPC(s *grpc.Server, timeout time.Duration) {
	done := make(chan struct{})
	go func() {
		s.GracefulStop()
		close(done)
	}()

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-done:
	case <-timer.C:
		s.Stop()
		<-done
	}
}

func runCleanup(cleanup func(context.Context) error, logger *slog.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), domain.ShutdownHTTPTimeout)
	defer cancel()
	if err := cleanup(ctx); err != nil {
		logger.Error("service cleanup error", slog.String("error", err.Error()))
	}
}

func shutdownTelemetry(t *observability.Telemetry, logger *slog.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), domain.ShutdownOTELTimeout)
	defer cancel()
	if err := t.Shutdown(ctx); err != nil {
		logger.Error("failed to shutdown telemetry", slog.String("error", err.Error()))
	}
}
