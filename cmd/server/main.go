// @title           RiskMate Ledger API
// @version         1.0.0
// @description     Append-only compliance ledger, audit readiness and verifiable proof-pack exports
// @contact.name    Support
// @contact.email   support@riskmate.dev
// @license.name    Apache-2.0
// @basePath        /
// @schemes         http https
// @securityDefinitions.apiKey  Bearer
// @in                          header
// @name                         Authorization
// @description                  "JWT session token or API key: 'Bearer {token}'"
//
// @tag.name         System
// @tag.description  Health, readiness and version probes.
//
// @tag.name         Observability
// @tag.description  Prometheus metrics are served on a dedicated side port (default 9090), configured with RISKMATE_TELEMETRY_METRICS_PROMETHEUS_PORT. The path is always GET /metrics and is not part of the OpenAPI document.

// Package main is the entry point for the RiskMate ledger server. It
// dispatches three subcommands (serve, migrate and version) from os.Args.
// The serve command migrates on startup.
package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/riskmate/riskmate/internal/api"
	"github.com/riskmate/riskmate/internal/audit"
	"github.com/riskmate/riskmate/internal/auth"
	"github.com/riskmate/riskmate/internal/cache"
	"github.com/riskmate/riskmate/internal/config"
	"github.com/riskmate/riskmate/internal/db"
	"github.com/riskmate/riskmate/internal/export"
	"github.com/riskmate/riskmate/internal/safego"
	"github.com/riskmate/riskmate/internal/storage"
	"github.com/riskmate/riskmate/internal/telemetry"

	_ "github.com/riskmate/riskmate/internal/storage/azure"
	_ "github.com/riskmate/riskmate/internal/storage/gcs"
	_ "github.com/riskmate/riskmate/internal/storage/local"
	_ "github.com/riskmate/riskmate/internal/storage/s3"
)

const (
	version = "0.1.0"
)

func main() {
	if err := run(); err != nil {
		log.Fatalf("Error: %v\n", err)
	}
}

func run() error {
	command := "serve"
	if len(os.Args) > 1 {
		command = os.Args[1]
	}

	if command == "version" {
		fmt.Printf("RiskMate ledger v%s (manifest %s)\n", version, export.ManifestVersion)
		return nil
	}

	cfg, err := config.Load(os.Getenv("CONFIG_PATH"))
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	telemetry.SetupLogger(cfg.Logging.Format, cfg.Logging.Level, cfg.Telemetry.ServiceName)

	switch command {
	case "serve":
		return serve(cfg)
	case "migrate":
		if len(os.Args) < 3 {
			return fmt.Errorf("usage: %s migrate <up|down>", os.Args[0])
		}
		return runMigrations(cfg, os.Args[2])
	default:
		return fmt.Errorf("unknown command: %s\nAvailable commands: serve, migrate, version", command)
	}
}

func serve(cfg *config.Config) error {
	if cfg.Logging.Level == "debug" {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	if err := auth.ValidateJWTSecret(); err != nil {
		return fmt.Errorf("security configuration error: %w", err)
	}
	if cfg.Auth.JWTIssuer != "" {
		auth.SetIssuer(cfg.Auth.JWTIssuer)
	}

	slog.Info("connecting to database",
		"host", cfg.Database.Host,
		"port", cfg.Database.Port,
		"name", cfg.Database.Name,
		"user", cfg.Database.User,
		"ssl_mode", cfg.Database.SSLMode,
	)
	database, err := db.Connect(cfg.Database.GetDSN(), cfg.Database.MaxConnections, cfg.Database.MinIdleConnections)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer database.Close()

	telemetry.StartDBStatsCollector(database)

	if err := db.RunMigrations(database, "up"); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}
	if v, dirty, err := db.GetMigrationVersion(database); err != nil {
		slog.Warn("failed to read migration version", "error", err)
	} else {
		slog.Info("database schema ready", "version", v, "dirty", dirty)
	}

	store, err := storage.NewStorage(cfg)
	if err != nil {
		return fmt.Errorf("failed to initialize storage: %w", err)
	}

	svc := api.Services{
		DB:      database,
		Storage: store,
		Version: version,
	}

	if cfg.Redis.Enabled() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		client, err := cache.NewRedisClient(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
		cancel()
		if err != nil {
			return fmt.Errorf("failed to connect to redis: %w", err)
		}
		defer closeRedis(client)
		svc.Redis = client
		svc.Cache = cache.NewRedis(client)
	} else {
		slog.Info("redis not configured, using in-process readiness cache and rate limiter")
		svc.Cache = cache.NewMemory()
	}

	if cfg.Export.SigningKey != "" {
		signer, err := export.NewSigner(cfg.Export.SigningKey)
		if err != nil {
			return fmt.Errorf("invalid export signing key: %w", err)
		}
		svc.Signer = signer
	}

	shipper, err := audit.NewMultiShipper(cfg.Ledger.Shippers)
	if err != nil {
		return fmt.Errorf("failed to configure ledger shippers: %w", err)
	}
	defer shipper.Close()
	if shipper.Len() > 0 {
		svc.Shipper = shipper
	}

	if cfg.Telemetry.Metrics.Enabled {
		startMetricsServer(cfg.Telemetry.Metrics.PrometheusPort)
	}

	router, bg := api.NewRouter(cfg, svc)

	server := &http.Server{
		Addr:         cfg.Server.GetAddress(),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	serverErr := make(chan error, 1)
	safego.GoNamed("http-server", func() {
		slog.Info("starting server",
			"addr", cfg.Server.GetAddress(),
			"storage", store.Name(),
			"tls", cfg.Security.TLS.Enabled,
			"signed_manifests", svc.Signer != nil,
			"shippers", shipper.Len(),
		)
		var err error
		if cfg.Security.TLS.Enabled {
			err = server.ListenAndServeTLS(cfg.Security.TLS.CertFile, cfg.Security.TLS.KeyFile)
		} else {
			err = server.ListenAndServe()
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	})

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-quit:
	case err := <-serverErr:
		bg.Shutdown()
		return fmt.Errorf("server failed: %w", err)
	}

	slog.Info("shutting down server")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}

	// in-flight async ledger writes drain here
	bg.Shutdown()

	slog.Info("server stopped gracefully")
	return nil
}

// startMetricsServer serves /metrics on its own port, away from the public API
func startMetricsServer(port int) {
	addr := fmt.Sprintf(":%d", port)
	safego.GoNamed("metrics-server", func() {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		srv := &http.Server{
			Addr:         addr,
			Handler:      mux,
			ReadTimeout:  10 * time.Second,
			WriteTimeout: 10 * time.Second,
		}
		slog.Info("starting Prometheus metrics server", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("metrics server error", "error", err)
		}
	})
}

func closeRedis(client *redis.Client) {
	if err := client.Close(); err != nil {
		slog.Warn("failed to close redis client", "error", err)
	}
}

func runMigrations(cfg *config.Config, direction string) error {
	database, err := db.Connect(cfg.Database.GetDSN(), cfg.Database.MaxConnections, cfg.Database.MinIdleConnections)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer database.Close()

	slog.Info("running migrations", "direction", direction)
	if err := db.RunMigrations(database, direction); err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}

	v, dirty, err := db.GetMigrationVersion(database)
	if err != nil {
		return fmt.Errorf("failed to get migration version: %w", err)
	}
	slog.Info("migration completed", "version", v, "dirty", dirty)
	return nil
}
