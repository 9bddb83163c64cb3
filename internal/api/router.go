// Package api wires the HTTP surface of the membership backend: the public
// health and auth endpoints, the member-facing transfer and organization routes,
// and the admin console API.
package api

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jmoiron/sqlx"

	"github.com/consortium-members/membership-backend/internal/api/admin"
	"github.com/consortium-members/membership-backend/internal/api/transfers"
	"github.com/consortium-members/membership-backend/internal/audit"
	"github.com/consortium-members/membership-backend/internal/auth"
	"github.com/consortium-members/membership-backend/internal/config"
	"github.com/consortium-members/membership-backend/internal/crypto"
	"github.com/consortium-members/membership-backend/internal/db/repositories"
	"github.com/consortium-members/membership-backend/internal/jobs"
	"github.com/consortium-members/membership-backend/internal/middleware"
	"github.com/consortium-members/membership-backend/internal/notify"
	"github.com/consortium-members/membership-backend/internal/services"
	"github.com/consortium-members/membership-backend/internal/storage"
)

// Version is reported by GET /version and the version subcommand.
const Version = "0.1.0"

// Dependencies are the long-lived collaborators NewRouter wires into handlers
// and background jobs. Archive and Identity may be nil.
type Dependencies struct {
	DB       *sqlx.DB
	Cipher   *crypto.PayloadCipher
	Mailer   notify.Mailer
	Archive  storage.Archive
	Identity admin.IdentityProvider
}

// BackgroundServices holds the jobs and limiters started alongside the router
// so the caller can start them once and stop them on shutdown.
type BackgroundServices struct {
	Dispatcher *jobs.OutboxDispatcher
	Sweeper    *jobs.TransferExpirySweeper
	Refresher  *jobs.AnalyticsRefresher

	limiters []middleware.Limiter
	shipper  *audit.Fanout
}

// Start launches the outbox dispatcher, the expiry sweeper and, when enabled,
// the analytics refresher.
func (b *BackgroundServices) Start(ctx context.Context) error {
	b.Dispatcher.Start(ctx)
	b.Sweeper.Start(ctx)
	if b.Refresher != nil {
		if err := b.Refresher.Start(ctx); err != nil {
			return fmt.Errorf("failed to start analytics refresher: %w", err)
		}
	}
	return nil
}

// Shutdown stops background jobs and releases limiter and shipper resources.
func (b *BackgroundServices) Shutdown() {
	if b.Refresher != nil {
		b.Refresher.Stop()
	}
	b.Sweeper.Stop()
	b.Dispatcher.Stop()

	for _, l := range b.limiters {
		switch v := l.(type) {
		case *middleware.MemoryLimiter:
			v.Stop()
		case *middleware.RedisLimiter:
			if err := v.Close(); err != nil {
				slog.Warn("failed to close rate limiter", "error", err)
			}
		}
	}
	if b.shipper != nil {
		if err := b.shipper.Close(); err != nil {
			slog.Warn("failed to close audit shippers", "error", err)
		}
	}
}

// NewRouter creates and configures the Gin router. The returned background
// services are not running yet; call Start once the server is listening.
func NewRouter(cfg *config.Config, deps Dependencies) (*gin.Engine, *BackgroundServices, error) {
	router := gin.New()

	router.Use(gin.Recovery())
	router.Use(middleware.RequestIDMiddleware())
	router.Use(middleware.SecurityHeadersMiddleware(middleware.APISecurityHeadersConfig(cfg.Security.TLS)))
	router.Use(middleware.CORSMiddleware(cfg.Security.CORS))
	router.Use(middleware.MetricsMiddleware("/health", "/ready"))
	router.Use(middleware.RequestLogger())

	// Repositories
	profileRepo := repositories.NewProfileRepository(deps.DB)
	apiKeyRepo := repositories.NewAPIKeyRepository(deps.DB)
	auditRepo := repositories.NewAuditRepository(deps.DB)
	analyticsRepo := repositories.NewAnalyticsRepository(deps.DB)

	// Background jobs. The dispatcher doubles as the services' Kicker so a
	// committed notification is sent without waiting for the next poll.
	dispatcher := jobs.NewOutboxDispatcher(deps.DB, deps.Cipher, deps.Mailer, deps.Archive, cfg.Archive.Prefix, &cfg.Notifications)

	transferSvc := services.NewTransferService(deps.DB, deps.Cipher, dispatcher, services.TransferOptions{
		SiteURL:      cfg.Server.GetSiteURL(),
		AdminAddress: cfg.Notifications.AdminAddress,
		Expiry:       cfg.Transfers.Expiry,
	})
	orgSvc := services.NewOrganizationService(deps.DB, deps.Cipher, dispatcher, cfg.Notifications.AdminAddress)
	notificationSvc := services.NewNotificationService(deps.DB, deps.Cipher, dispatcher)

	bg := &BackgroundServices{
		Dispatcher: dispatcher,
		Sweeper:    jobs.NewTransferExpirySweeper(transferSvc, cfg.Transfers.SweepInterval),
	}

	// A nil *AnalyticsRefresher must reach the handler as a nil interface.
	var refresher admin.CubeRefresher
	if cfg.Analytics.Enabled {
		bg.Refresher = jobs.NewAnalyticsRefresher(deps.DB, &cfg.Analytics)
		refresher = bg.Refresher
	}

	shipper, err := audit.NewFanout(cfg.Audit.Shippers, deps.Archive)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to configure audit shippers: %w", err)
	}
	bg.shipper = shipper

	// Rate limiters: a tight tier for the login flow and a general API tier.
	var apiLimit, authLimit gin.HandlerFunc = passThrough, passThrough
	if cfg.Security.RateLimiting.Enabled {
		general, err := middleware.NewLimiterFromConfig(cfg.Security.RateLimiting, "api", middleware.RateLimitConfigFrom(cfg.Security.RateLimiting))
		if err != nil {
			return nil, nil, fmt.Errorf("failed to configure rate limiter: %w", err)
		}
		login, err := middleware.NewLimiterFromConfig(cfg.Security.RateLimiting, "auth", middleware.AuthRateLimitConfig())
		if err != nil {
			return nil, nil, fmt.Errorf("failed to configure auth rate limiter: %w", err)
		}
		bg.limiters = append(bg.limiters, general, login)
		apiLimit = middleware.RateLimitMiddleware(general)
		authLimit = middleware.RateLimitMiddleware(login)
	}

	authn := middleware.NewAuthenticator(profileRepo, apiKeyRepo)
	auditLog := middleware.AuditMiddleware(auditRepo, shipper, &cfg.Audit)

	// Handlers
	authHandlers := admin.NewAuthHandlers(cfg, profileRepo, deps.Identity)
	devHandlers := admin.NewDevHandlers(profileRepo)
	apiKeyHandlers := admin.NewAPIKeyHandlers(cfg, apiKeyRepo)
	orgHandlers := admin.NewOrganizationHandlers(orgSvc)
	reviewHandlers := admin.NewTransferHandlers(transferSvc)
	auditHandlers := admin.NewAuditHandlers(auditRepo)
	analyticsHandlers := admin.NewAnalyticsHandlers(analyticsRepo, refresher)
	notificationHandlers := admin.NewNotificationHandlers(notificationSvc)
	transferHandlers := transfers.NewHandlers(transferSvc)

	// System endpoints
	router.GET("/health", healthCheckHandler(deps.DB))
	router.GET("/ready", readinessHandler(deps.DB, deps.Archive))
	router.GET("/version", versionHandler())

	// Emailed acceptance link. Works signed in or not.
	router.GET("/auth", authLimit, authn.Optional(), transferHandlers.AcceptLinkHandler())

	v1 := router.Group("/api/v1")
	{
		authGroup := v1.Group("/auth")
		{
			authGroup.GET("/login", authLimit, authHandlers.LoginHandler())
			authGroup.GET("/callback", authLimit, authHandlers.CallbackHandler())
			authGroup.POST("/refresh", authn.Required(), authHandlers.RefreshHandler())
			authGroup.GET("/me", authn.Required(), authHandlers.MeHandler())
		}

		dev := v1.Group("/dev", admin.DevModeMiddleware())
		{
			dev.POST("/login", authLimit, devHandlers.DevLoginHandler())
		}

		member := v1.Group("", apiLimit, authn.Required(), auditLog)
		{
			member.POST("/organizations", middleware.RequireScope(auth.ScopeOrganizationsWrite), orgHandlers.RegisterHandler())
			member.GET("/organizations/:id", middleware.RequireScope(auth.ScopeOrganizationsRead), orgHandlers.GetHandler())

			tr := member.Group("/transfers", middleware.RequireScope(auth.ScopeTransfersWrite))
			{
				tr.POST("", transferHandlers.CreateHandler())
				tr.POST("/accept", transferHandlers.AcceptHandler())
				tr.POST("/:id/cancel", transferHandlers.CancelHandler())
				tr.GET("/:id", transferHandlers.GetHandler())
			}
		}

		adm := v1.Group("/admin", apiLimit, authn.Required(), auditLog)
		{
			at := adm.Group("/transfers", middleware.RequireScope(auth.ScopeTransfersAdmin))
			{
				at.GET("", reviewHandlers.ListHandler())
				at.POST("/:id/approve", reviewHandlers.ApproveHandler())
				at.POST("/:id/reject", reviewHandlers.RejectHandler())
			}

			ao := adm.Group("/organizations", middleware.RequireScope(auth.ScopeOrganizationsAdmin))
			{
				ao.GET("", orgHandlers.ListHandler())
				ao.POST("/:id/approve", orgHandlers.ApproveHandler())
				ao.POST("/:id/reject", orgHandlers.RejectHandler())
			}

			al := adm.Group("/audit-logs", middleware.RequireScope(auth.ScopeAuditRead))
			{
				al.GET("", auditHandlers.ListHandler())
				al.GET("/:id", auditHandlers.GetHandler())
			}

			an := adm.Group("/analytics", middleware.RequireScope(auth.ScopeAnalyticsRead))
			{
				an.GET("/usage", analyticsHandlers.UsageHandler())
				an.POST("/refresh", analyticsHandlers.RefreshHandler())
			}

			nt := adm.Group("/notifications", middleware.RequireScope(auth.ScopeNotificationsSend))
			{
				nt.POST("/bulk", notificationHandlers.BulkHandler())
				nt.GET("", notificationHandlers.ListHandler())
				nt.POST("/:id/retry", notificationHandlers.RetryHandler())
			}

			ak := adm.Group("/apikeys", middleware.RequireScope(auth.ScopeAPIKeysManage))
			{
				ak.GET("", apiKeyHandlers.ListAPIKeysHandler())
				ak.POST("", apiKeyHandlers.CreateAPIKeyHandler())
				ak.DELETE("/:id", apiKeyHandlers.DeleteAPIKeyHandler())
			}
		}
	}

	return router, bg, nil
}

func passThrough(c *gin.Context) { c.Next() }

// pinger is the slice of *sqlx.DB the health checks need.
type pinger interface {
	PingContext(ctx context.Context) error
}

// @Summary      Health check
// @Description  Liveness check. Returns 200 while the database answers a ping.
// @Tags         System
// @Produce      json
// @Success      200  {object}  map[string]interface{}
// @Failure      503  {object}  map[string]interface{}
// @Router       /health [get]
func healthCheckHandler(db pinger) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
		defer cancel()

		if err := db.PingContext(ctx); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{
				"status": "unhealthy",
				"error":  "database unreachable",
				"time":   time.Now().UTC().Format(time.RFC3339),
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
// @Description  Readiness check covering the database and, when configured, the message archive.
// @Tags         System
// @Produce      json
// @Success      200  {object}  map[string]interface{}
// @Failure      503  {object}  map[string]interface{}
// @Router       /ready [get]
func readinessHandler(db pinger, archive storage.Archive) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
		defer cancel()

		checks := gin.H{}
		ready := true

		if err := db.PingContext(ctx); err != nil {
			checks["database"] = "unavailable"
			ready = false
		} else {
			checks["database"] = "ok"
		}

		switch {
		case archive == nil:
			checks["archive"] = "disabled"
		default:
			// Only a transport error matters; the sentinel object never exists.
			if _, err := archive.Exists(ctx, ".readiness-check"); err != nil {
				checks["archive"] = "unavailable"
				ready = false
			} else {
				checks["archive"] = "ok"
			}
		}

		status := http.StatusOK
		if !ready {
			status = http.StatusServiceUnavailable
		}
		c.JSON(status, gin.H{
			"ready":  ready,
			"checks": checks,
			"time":   time.Now().UTC().Format(time.RFC3339),
		})
	}
}

func versionHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"version":     Version,
			"api_version": "v1",
		})
	}
}
