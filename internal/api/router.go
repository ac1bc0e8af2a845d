// Package api wires together all HTTP routes for the RiskMate ledger service.
//
// Route grouping:
//   - /health, /ready and /version are unauthenticated probes.
//   - Everything under /api requires a bearer credential. The organization,
//     user and role come from the verified session only; handlers never read
//     them from the request body or query.
//   - Read-only roles are blocked on the mutating groups (/api/jobs,
//     /api/team). Proof-pack requests and manifest verification are ledger
//     reads even though they use POST, so they are gated by role and scope
//     instead.
package api

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/riskmate/riskmate/internal/api/audit"
	"github.com/riskmate/riskmate/internal/api/exports"
	"github.com/riskmate/riskmate/internal/api/operations"
	shipping "github.com/riskmate/riskmate/internal/audit"
	"github.com/riskmate/riskmate/internal/auth"
	"github.com/riskmate/riskmate/internal/cache"
	"github.com/riskmate/riskmate/internal/config"
	"github.com/riskmate/riskmate/internal/db"
	"github.com/riskmate/riskmate/internal/db/repositories"
	"github.com/riskmate/riskmate/internal/export"
	"github.com/riskmate/riskmate/internal/jobs"
	"github.com/riskmate/riskmate/internal/ledger"
	"github.com/riskmate/riskmate/internal/middleware"
	"github.com/riskmate/riskmate/internal/readiness"
	"github.com/riskmate/riskmate/internal/safego"
	"github.com/riskmate/riskmate/internal/storage"
)

// readinessProbeKey is a known-absent object; Stat on it exercises storage
// credentials and connectivity without creating state
const readinessProbeKey = ".readiness-probe"

// Services are the process-wide resources the router composes. Cache, Redis,
// Signer and Shipper are optional.
type Services struct {
	DB      *sql.DB
	Storage storage.Storage
	Cache   cache.Cache
	Redis   *redis.Client
	Signer  *export.Signer
	Shipper shipping.Shipper
	Version string
}

// BackgroundServices holds references to background jobs and resources that must
// be stopped during graceful shutdown. The caller (cmd/server) is responsible for
// calling Shutdown() when the process receives a termination signal.
type BackgroundServices struct {
	exportWorker  *jobs.ExportWorker
	expiryWatcher *jobs.APIKeyExpiryWatcher
	rateLimiter   *middleware.RateLimiter
	writer        *ledger.Writer
	cancel        context.CancelFunc
}

// Shutdown stops all background goroutines and waits for asynchronous ledger
// writes. Call it after the HTTP server has drained.
func (bg *BackgroundServices) Shutdown() {
	slog.Info("stopping background services")
	if bg.exportWorker != nil {
		bg.exportWorker.Stop()
	}
	if bg.expiryWatcher != nil {
		bg.expiryWatcher.Stop()
	}
	if bg.rateLimiter != nil {
		bg.rateLimiter.Stop()
	}
	if bg.cancel != nil {
		bg.cancel()
	}
	if bg.writer != nil {
		bg.writer.Wait()
	}
	slog.Info("all background services stopped")
}

// routeDeps are the handlers and gate dependencies registerRoutes mounts
type routeDeps struct {
	audit    *audit.Handlers
	exports  *exports.Handlers
	jobs     *operations.JobHandlers
	team     *operations.TeamHandlers
	recorder middleware.ViolationRecorder
	authn    gin.HandlerFunc
	limiter  middleware.Limiter
	health   gin.HandlerFunc
	ready    gin.HandlerFunc
	version  string
}

// NewRouter creates and configures the Gin router and starts the background
// jobs that serve it
func NewRouter(cfg *config.Config, svc Services) (*gin.Engine, *BackgroundServices) {
	c := svc.Cache
	if c == nil {
		c = cache.Nop{}
	}

	sqlxDB := db.Wrap(svc.DB)
	eventRepo := repositories.NewAuditEventRepository(svc.DB)
	userRepo := repositories.NewUserRepository(svc.DB)
	apiKeyRepo := repositories.NewAPIKeyRepository(svc.DB)
	orgRepo := repositories.NewOrganizationRepository(svc.DB)
	opsRepo := repositories.NewOperationalRepository(sqlxDB)
	exportRepo := repositories.NewExportJobRepository(sqlxDB)

	writerOpts := []ledger.Option{
		ledger.WithActorLookup(userRepo),
		ledger.WithInvalidator(c),
		ledger.WithMetadataLimit(cfg.Ledger.MetadataMaxBytes),
	}
	if svc.Shipper != nil {
		writerOpts = append(writerOpts, ledger.WithShipper(svc.Shipper))
	}
	writer := ledger.NewWriter(eventRepo, writerOpts...)

	aggregator := readiness.NewAggregator(opsRepo,
		readiness.WithCache(c, cfg.Readiness.CacheTTL),
		readiness.WithHourWeights(cfg.Readiness.HourWeights),
	)

	bgCtx, cancel := context.WithCancel(context.Background())
	bg := &BackgroundServices{writer: writer, cancel: cancel}

	bg.exportWorker = jobs.NewExportWorker(exportRepo, eventRepo, opsRepo, writer, svc.Storage, svc.Signer, &cfg.Export)
	safego.GoNamed("export-worker", func() { bg.exportWorker.Start(bgCtx) })

	if cfg.Auth.APIKeys.Enabled && cfg.Auth.APIKeys.ExpiryWarningDays > 0 {
		bg.expiryWatcher = jobs.NewAPIKeyExpiryWatcher(apiKeyRepo, writer, &cfg.Auth.APIKeys)
		safego.GoNamed("api-key-expiry-watcher", func() { bg.expiryWatcher.Start(bgCtx) })
	}

	var limiter middleware.Limiter
	if cfg.Security.RateLimiting.Enabled {
		rlCfg := middleware.RateLimitConfigFrom(cfg.Security.RateLimiting)
		if svc.Redis != nil {
			limiter = middleware.NewRedisLimiter(svc.Redis, rlCfg)
			slog.Info("rate limiting backed by redis")
		} else {
			bg.rateLimiter = middleware.NewRateLimiter(rlCfg)
			limiter = bg.rateLimiter
		}
	}

	router := gin.New()
	registerRoutes(router, cfg, routeDeps{
		audit:    audit.NewHandlers(aggregator, eventRepo),
		exports:  exports.NewHandlers(exportRepo, eventRepo, writer, svc.Storage, &cfg.Export),
		jobs:     operations.NewJobHandlers(opsRepo, writer),
		team:     operations.NewTeamHandlers(orgRepo, writer),
		recorder: writer,
		authn:    middleware.AuthMiddleware(&cfg.Auth, apiKeyRepo, orgRepo),
		limiter:  limiter,
		health:   healthCheckHandler(svc.DB),
		ready:    readinessHandler(svc.DB, svc.Storage),
		version:  svc.Version,
	})

	slog.Info("router initialized", "storage", svc.Storage.Name(), "rate_limiting", limiter != nil)
	return router, bg
}

func registerRoutes(router *gin.Engine, cfg *config.Config, d routeDeps) {
	router.Use(gin.Recovery())
	router.Use(middleware.RequestIDMiddleware())
	router.Use(middleware.MetricsMiddleware())
	router.Use(LoggerMiddleware(cfg))
	router.Use(CORSMiddleware(cfg))
	router.Use(middleware.SecurityHeadersMiddleware(middleware.DefaultSecurityHeadersConfig(cfg.Security.TLS.Enabled)))

	router.GET("/health", d.health)
	router.GET("/ready", d.ready)
	router.GET("/version", versionHandler(d.version))

	apiGroup := router.Group("/api")
	if d.limiter != nil {
		apiGroup.Use(middleware.RateLimitMiddleware(d.limiter))
	}
	apiGroup.Use(d.authn, middleware.RequireAuthContext())
	{
		auditGroup := apiGroup.Group("/audit")
		{
			auditGroup.GET("/readiness", d.audit.GetReadiness())
			auditGroup.GET("/events",
				middleware.RequireRole(auth.RoleSafetyLead, d.recorder),
				middleware.RequireAuditScope(),
				d.audit.ListEvents())
			auditGroup.GET("/events/:id",
				middleware.RequireRole(auth.RoleSafetyLead, d.recorder),
				d.audit.GetEvent())
			auditGroup.POST("/export/proof-pack",
				middleware.RequireRole(auth.RoleSafetyLead, d.recorder),
				middleware.RequireAuditScope(),
				d.exports.CreateProofPack())
		}

		exportGroup := apiGroup.Group("/exports")
		{
			exportGroup.GET("/:id", d.exports.GetStatus())
			exportGroup.GET("/:id/download", d.exports.Download())
		}

		apiGroup.POST("/verify/manifest",
			middleware.RequireRole(auth.RoleSafetyLead, d.recorder),
			d.exports.VerifyManifest())

		jobGroup := apiGroup.Group("/jobs")
		jobGroup.Use(middleware.ReadOnlyGuard(d.recorder))
		{
			jobGroup.POST("", d.jobs.CreateJob())
			jobGroup.POST("/:id/flag", d.jobs.FlagJob())
			jobGroup.POST("/:id/unflag", d.jobs.UnflagJob())
		}

		teamGroup := apiGroup.Group("/team")
		teamGroup.Use(middleware.ReadOnlyGuard(d.recorder))
		{
			teamGroup.POST("/invites", d.team.Invite())
		}
	}
}

// @Summary      Health check
// @Description  Returns the health status of the service, including database connectivity.
// @Tags         System
// @Produce      json
// @Success      200  {object}  map[string]interface{}  "status: healthy, time: RFC3339 timestamp"
// @Failure      503  {object}  map[string]interface{}  "status: unhealthy, error: database connection failed"
// @Router       /health [get]
// healthCheckHandler returns the health status of the service
func healthCheckHandler(db *sql.DB) gin.HandlerFunc {
	return func(c *gin.Context) {
		if err := db.PingContext(c.Request.Context()); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{
				"status": "unhealthy",
				"error":  "database connection failed",
			})
			return
		}

		c.JSON(http.StatusOK, gin.H{
			"status": "healthy",
			"time":   time.Now().UTC().Format(time.RFC3339),
		})
	}
}

// @Summary      Readiness check
// @Description  Returns whether the service is ready to accept traffic. Checks the database and the proof-pack storage backend.
// @Tags         System
// @Produce      json
// @Success      200  {object}  map[string]interface{}  "ready: true, checks, time"
// @Failure      503  {object}  map[string]interface{}  "ready: false, checks, error"
// @Router       /ready [get]
// readinessHandler returns the readiness status of the service.
// Unlike the liveness probe (/health), this also checks the storage backend so
// that a readiness gate fails when proof-pack uploads or downloads would error.
func readinessHandler(db *sql.DB, store storage.Storage) gin.HandlerFunc {
	return func(c *gin.Context) {
		checks := gin.H{}

		if err := db.PingContext(c.Request.Context()); err != nil {
			checks["database"] = "unhealthy"
			c.JSON(http.StatusServiceUnavailable, gin.H{
				"ready":  false,
				"checks": checks,
				"error":  "database not ready",
			})
			return
		}
		checks["database"] = "healthy"

		if _, err := store.Stat(c.Request.Context(), readinessProbeKey); err != nil && !errors.Is(err, storage.ErrNotFound) {
			slog.Warn("storage readiness probe failed", "storage", store.Name(), "error", err)
			checks["storage"] = "unhealthy"
			c.JSON(http.StatusServiceUnavailable, gin.H{
				"ready":  false,
				"checks": checks,
				"error":  "storage backend not ready",
			})
			return
		}
		checks["storage"] = "healthy"

		c.JSON(http.StatusOK, gin.H{
			"ready":  true,
			"checks": checks,
			"time":   time.Now().UTC().Format(time.RFC3339),
		})
	}
}

// @Summary      API version
// @Description  Returns the service version and the proof-pack manifest version it writes.
// @Tags         System
// @Produce      json
// @Success      200  {object}  map[string]interface{}  "version, api_version, manifest_version"
// @Router       /version [get]
// versionHandler returns the API version
func versionHandler(version string) gin.HandlerFunc {
	if version == "" {
		version = "dev"
	}
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"version":          version,
			"api_version":      "v1",
			"manifest_version": export.ManifestVersion,
		})
	}
}

// LoggerMiddleware provides structured logging. The handler installed by
// telemetry.SetupLogger decides between JSON and text output.
func LoggerMiddleware(_ *config.Config) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		query := c.Request.URL.RawQuery

		c.Next()

		latency := time.Since(start)
		level := slog.LevelInfo
		if c.Writer.Status() >= http.StatusInternalServerError {
			level = slog.LevelError
		}

		attrs := []slog.Attr{
			slog.String("method", c.Request.Method),
			slog.String("path", path),
			slog.String("query", query),
			slog.Int("status", c.Writer.Status()),
			slog.Int("size", c.Writer.Size()),
			slog.Duration("latency", latency),
			slog.String("ip", c.ClientIP()),
			slog.String("request_id", middleware.GetRequestID(c)),
			slog.String("user_agent", c.Request.UserAgent()),
		}
		if orgID := c.GetString(middleware.ContextKeyOrganizationID); orgID != "" {
			attrs = append(attrs, slog.String("org_id", orgID))
		}
		if len(c.Errors) > 0 {
			attrs = append(attrs, slog.String("errors", c.Errors.String()))
		}
		slog.LogAttrs(c.Request.Context(), level, "http request", attrs...)
	}
}

// CORSMiddleware handles CORS
func CORSMiddleware(cfg *config.Config) gin.HandlerFunc {
	methods := "GET, POST, PUT, PATCH, DELETE, OPTIONS"
	if len(cfg.Security.CORS.AllowedMethods) > 0 {
		methods = strings.Join(cfg.Security.CORS.AllowedMethods, ", ")
	}

	return func(c *gin.Context) {
		origin := c.Request.Header.Get("Origin")

		allowed := false
		for _, allowedOrigin := range cfg.Security.CORS.AllowedOrigins {
			if allowedOrigin == "*" || allowedOrigin == origin {
				allowed = true
				break
			}
		}

		if allowed {
			if origin == "" {
				c.Header("Access-Control-Allow-Origin", "*")
			} else {
				c.Header("Access-Control-Allow-Origin", origin)
			}
			c.Header("Access-Control-Allow-Credentials", "true")
			c.Header("Access-Control-Allow-Methods", methods)
			c.Header("Access-Control-Allow-Headers", "Origin, Content-Type, Accept, Authorization, Idempotency-Key, X-Request-ID")
			c.Header("Access-Control-Expose-Headers", "X-Request-ID, X-Checksum-SHA256")
			c.Header("Access-Control-Max-Age", "3600")
		}

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}

