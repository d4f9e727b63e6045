// Command server launches the marketplace API.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/sourcegraph/conc"

	"github.com/MarchenkoRuslan/faberge-egg/config"
	"github.com/MarchenkoRuslan/faberge-egg/internal/auth"
	"github.com/MarchenkoRuslan/faberge-egg/internal/gateway"
	"github.com/MarchenkoRuslan/faberge-egg/internal/infra/persistence"
	"github.com/MarchenkoRuslan/faberge-egg/internal/infra/persistence/migrations"
	"github.com/MarchenkoRuslan/faberge-egg/internal/infra/persistence/postgres"
	httpserver "github.com/MarchenkoRuslan/faberge-egg/internal/infra/server/http"
	"github.com/MarchenkoRuslan/faberge-egg/internal/intake"
	"github.com/MarchenkoRuslan/faberge-egg/internal/mail"
	"github.com/MarchenkoRuslan/faberge-egg/internal/observability"
	"github.com/MarchenkoRuslan/faberge-egg/internal/outbox"
	"github.com/MarchenkoRuslan/faberge-egg/internal/settlement"
	"github.com/MarchenkoRuslan/faberge-egg/internal/telemetry"
	"github.com/MarchenkoRuslan/faberge-egg/internal/webhook"
)

const (
	defaultConfigPath        = "config/app.yaml"
	serverLoggerPrefix       = "marketplace "
	shutdownTimeout          = 30 * time.Second
	apiServerShutdownTimeout = 5 * time.Second
	lifecycleShutdownTimeout = 10 * time.Second
	telemetryShutdownTimeout = 5 * time.Second
	outboxPollInterval       = 5 * time.Second
	outboxBatchSize          = 64
)

func main() {
	cfgPathFlag := parseFlags()
	ctx, cancel := newSignalContext()
	defer cancel()

	logger := newServerLogger()
	observability.SetLogger(observability.NewStdLogger(logger))

	configPath := resolveConfigPath(cfgPathFlag)
	cfg, loadedFromFile, err := config.LoadOrDefault(configPath)
	if err != nil {
		logger.Fatalf("load config: %v", err)
	}
	if !loadedFromFile {
		logger.Printf("configuration file not found, using defaults and environment")
	}
	logger.Printf("configuration initialised: env=%s addr=%s", cfg.Environment, cfg.Server.Addr)

	telemetryProvider, err := initTelemetry(ctx, logger, cfg)
	if err != nil {
		logger.Fatalf("initialize telemetry: %v", err)
	}

	pool, err := persistence.Connect(ctx, cfg.Database.URL, cfg.Database.ConnectRetries, cfg.Database.RetryDelay)
	if err != nil {
		logger.Fatalf("connect database: %v", err)
	}
	defer pool.Close()
	postgres.ObservePoolMetrics(pool, string(cfg.Environment))

	if err := migrations.Apply(ctx, cfg.Database.URL, logger); err != nil {
		logger.Fatalf("apply migrations: %v", err)
	}

	store := postgres.New(pool)
	metrics, err := telemetry.NewMetrics(telemetryProvider.Meter("marketplace"))
	if err != nil {
		logger.Fatalf("initialise metrics: %v", err)
	}
	appLogger := observability.Log()

	registry := gateway.NewRegistry(cfg.Gateways, appLogger)
	authSvc := auth.New(store.Users, mail.NewLogMailer(appLogger), cfg.Auth.TokenTTL,
		cfg.Auth.LoginRate, cfg.Auth.LoginBurst, cfg.Server.BaseURL, appLogger)
	intakeSvc := intake.New(store.Lots, store.Orders, registry, cfg.Orders.MinFractions, metrics, appLogger)
	engine := settlement.New(store.Orders, store.Outbox, metrics, appLogger)
	ingress := webhook.NewIngress(cfg.Gateways, engine, metrics, appLogger)
	relay := outbox.NewRelay(store.Outbox, outbox.NewLogPublisher(appLogger), outboxPollInterval, outboxBatchSize, appLogger)

	var lifecycle conc.WaitGroup
	lifecycle.Go(func() { relay.Run(ctx) })

	apiServer := buildAPIServer(cfg.Server, authSvc, store, intakeSvc, ingress, registry, pool, appLogger)
	startAPIServer(&lifecycle, logger, apiServer)
	logger.Printf("API listening on %s", apiServer.Addr)

	logger.Print("marketplace started; awaiting shutdown signal")
	<-ctx.Done()
	logger.Print("shutdown signal received, initiating graceful shutdown")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()

	shutdownStart := time.Now()
	performGracefulShutdown(shutdownCtx, logger, gracefulShutdownConfig{
		server:     apiServer,
		mainCancel: cancel,
		lifecycle:  &lifecycle,
		telemetry:  telemetryProvider,
	})

	logger.Printf("shutdown completed in %v", time.Since(shutdownStart))
}

func parseFlags() string {
	cfgPath := flag.String("config", "", fmt.Sprintf("Path to application configuration file (default: %s)", defaultConfigPath))
	flag.Parse()
	return *cfgPath
}

func newSignalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
}

func newServerLogger() *log.Logger {
	return log.New(os.Stdout, serverLoggerPrefix, log.LstdFlags|log.Lmicroseconds)
}

func initTelemetry(ctx context.Context, logger *log.Logger, cfg config.Settings) (*telemetry.Provider, error) {
	telemetryCfg := telemetry.Config{
		OTLPEndpoint:  cfg.Telemetry.OTLPEndpoint,
		OTLPInsecure:  cfg.Telemetry.OTLPInsecure,
		EnableMetrics: cfg.Telemetry.EnableMetrics,
		ServiceName:   cfg.Telemetry.ServiceName,
		Environment:   string(cfg.Environment),
	}
	provider, err := telemetry.NewProvider(ctx, telemetryCfg)
	if err != nil {
		return nil, fmt.Errorf("initialize telemetry provider: %w", err)
	}
	if telemetryCfg.OTLPEndpoint != "" && telemetryCfg.EnableMetrics {
		logger.Printf("telemetry initialized: endpoint=%s, service=%s", telemetryCfg.OTLPEndpoint, telemetryCfg.ServiceName)
	} else {
		logger.Printf("telemetry disabled")
	}
	return provider, nil
}

func buildAPIServer(cfg config.ServerConfig, authSvc *auth.Service, store *postgres.Store, intakeSvc *intake.Service, ingress *webhook.Ingress, registry *gateway.Registry, pool *pgxpool.Pool, logger observability.Logger) *http.Server {
	handler := httpserver.NewHandler(authSvc, store.Lots, store.Orders, intakeSvc, ingress, registry, pool, cfg.CORSOrigins, logger)
	return &http.Server{
		Addr:              cfg.Addr,
		Handler:           handler,
		ReadHeaderTimeout: cfg.ReadHeader,
	}
}

func startAPIServer(lifecycle *conc.WaitGroup, logger *log.Logger, server *http.Server) {
	lifecycle.Go(func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Printf("api server: %v", err)
		}
	})
}

type gracefulShutdownConfig struct {
	server     *http.Server
	mainCancel context.CancelFunc
	lifecycle  *conc.WaitGroup
	telemetry  *telemetry.Provider
}

func performGracefulShutdown(ctx context.Context, logger *log.Logger, cfg gracefulShutdownConfig) {
	shutdownStep := func(name string, timeout time.Duration, fn func(context.Context) error) {
		stepCtx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()
		logger.Printf("shutdown: %s...", name)
		if err := fn(stepCtx); err != nil {
			logger.Printf("shutdown: %s failed: %v", name, err)
		} else {
			logger.Printf("shutdown: %s completed", name)
		}
	}

	if cfg.server != nil {
		shutdownStep("stopping api server", apiServerShutdownTimeout, func(stepCtx context.Context) error {
			return cfg.server.Shutdown(stepCtx)
		})
	}

	logger.Print("shutdown: cancelling main context")
	if cfg.mainCancel != nil {
		cfg.mainCancel()
	}

	if cfg.lifecycle != nil {
		shutdownStep("waiting for lifecycle goroutines", lifecycleShutdownTimeout, func(stepCtx context.Context) error {
			done := make(chan struct{})
			go func() {
				cfg.lifecycle.Wait()
				close(done)
			}()
			select {
			case <-done:
				return nil
			case <-stepCtx.Done():
				return fmt.Errorf("timeout waiting for goroutines: %w", stepCtx.Err())
			}
		})
	}

	if cfg.telemetry != nil {
		shutdownStep("shutting down telemetry", telemetryShutdownTimeout, func(stepCtx context.Context) error {
			return cfg.telemetry.Shutdown(stepCtx)
		})
	}
}

func resolveConfigPath(flagValue string) string {
	if flagValue != "" {
		return flagValue
	}
	return filepath.Clean(defaultConfigPath)
}
