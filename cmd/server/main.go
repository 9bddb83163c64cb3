// @title           Consortium Membership API
// @version         1.0.0
// @description     Organization registration and contact-transfer workflow for consortium members.
// @basePath        /
// @schemes         http https
// @securityDefinitions.apiKey  Bearer
// @in                          header
// @name                         Authorization
// @description                  "JWT token or API key. For JWT: 'Bearer {token}'. For API Key: 'Bearer {api_key}'"
//
// @tag.name         System
// @tag.description  Health, readiness, and version endpoints.

// Package main is the entry point for the membership backend server binary.
// It dispatches three subcommands (serve, migrate, version) via a switch on
// os.Args. The serve command runs migrations on startup.
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
	"github.com/jmoiron/sqlx"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/consortium-members/membership-backend/internal/api"
	"github.com/consortium-members/membership-backend/internal/auth"
	"github.com/consortium-members/membership-backend/internal/auth/oidc"
	"github.com/consortium-members/membership-backend/internal/config"
	"github.com/consortium-members/membership-backend/internal/crypto"
	"github.com/consortium-members/membership-backend/internal/db"
	"github.com/consortium-members/membership-backend/internal/notify"
	"github.com/consortium-members/membership-backend/internal/storage"
	"github.com/consortium-members/membership-backend/internal/telemetry"

	// Archive backends register themselves with the storage factory.
	_ "github.com/consortium-members/membership-backend/internal/storage/azure"
	_ "github.com/consortium-members/membership-backend/internal/storage/gcs"
	_ "github.com/consortium-members/membership-backend/internal/storage/local"
	_ "github.com/consortium-members/membership-backend/internal/storage/s3"
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
		fmt.Printf("Membership Backend v%s\n", api.Version)
		return nil
	}

	cfg, err := config.Load(os.Getenv("CONFIG_PATH"))
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

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
	telemetry.SetupLogger(cfg.Logging.Format, cfg.Logging.Level)

	if cfg.Logging.Level == "debug" {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	if err := auth.InitSessionSecret(); err != nil {
		return fmt.Errorf("security configuration error: %w", err)
	}

	cipher, err := loadCipher()
	if err != nil {
		return err
	}

	database, err := db.Open(context.Background(), &cfg.Database)
	if err != nil {
		return err
	}
	defer database.Close()
	slog.Info("connected to database", "host", cfg.Database.Host, "name", cfg.Database.Name)

	statsCtx, stopStats := context.WithCancel(context.Background())
	defer stopStats()
	telemetry.StartDBStatsCollector(statsCtx, database, telemetry.DefaultDBStatsInterval)

	if err := db.Migrate(database, db.Up); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}
	if version, dirty, err := db.SchemaVersion(database); err != nil {
		slog.Warn("failed to get migration version", "error", err)
	} else {
		slog.Info("database schema ready", "version", version, "dirty", dirty)
	}

	archive, err := storage.NewArchive(&cfg.Archive)
	if err != nil {
		return fmt.Errorf("failed to initialize message archive: %w", err)
	}

	var mailer notify.Mailer = notify.LogMailer{}
	if cfg.Notifications.Enabled {
		mailer = notify.NewMailer(&cfg.Notifications.SMTP)
	} else {
		slog.Warn("notification delivery disabled; emails are logged instead of sent")
	}

	deps := api.Dependencies{
		DB:      sqlx.NewDb(database, "postgres"),
		Cipher:  cipher,
		Mailer:  mailer,
		Archive: archive,
	}

	if cfg.Auth.OIDC.Enabled {
		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		provider, err := oidc.New(ctx, &cfg.Auth.OIDC)
		cancel()
		if err != nil {
			return fmt.Errorf("failed to initialize OIDC provider: %w", err)
		}
		deps.Identity = provider
	}

	router, bg, err := api.NewRouter(cfg, deps)
	if err != nil {
		return fmt.Errorf("failed to build router: %w", err)
	}

	// Metrics live on a dedicated port so the scrape path stays off the public ingress.
	var metricsServer *http.Server
	if cfg.Telemetry.Metrics.Enabled {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		metricsServer = &http.Server{
			Addr:         fmt.Sprintf(":%d", cfg.Telemetry.Metrics.PrometheusPort),
			Handler:      mux,
			ReadTimeout:  10 * time.Second,
			WriteTimeout: 10 * time.Second,
		}
		go func() {
			slog.Info("starting Prometheus metrics server", "addr", metricsServer.Addr)
			if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				slog.Error("metrics server error", "error", err)
			}
		}()
	}

	server := &http.Server{
		Addr:         cfg.Server.GetAddress(),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	jobsCtx, stopJobs := context.WithCancel(context.Background())
	defer stopJobs()
	if err := bg.Start(jobsCtx); err != nil {
		return err
	}

	serverErr := make(chan error, 1)
	go func() {
		slog.Info("starting server",
			"addr", server.Addr,
			"base_url", cfg.Server.BaseURL,
			"archive", cfg.Archive.Backend,
			"oidc", cfg.Auth.OIDC.Enabled,
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
	}()

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
	if metricsServer != nil {
		_ = metricsServer.Shutdown(ctx)
	}

	stopJobs()
	bg.Shutdown()

	slog.Info("server stopped gracefully")
	return nil
}

// loadCipher builds the cipher that seals notification payloads in the outbox.
// A 32-byte ENCRYPTION_KEY is used as-is; anything else is treated as a
// passphrase and needs ENCRYPTION_SALT. Without a key, payloads are stored as
// plain JSON, which is only allowed in dev mode.
func loadCipher() (*crypto.PayloadCipher, error) {
	key := os.Getenv("ENCRYPTION_KEY")
	if key == "" {
		if !auth.IsDevMode() {
			return nil, errors.New("ENCRYPTION_KEY must be set in production")
		}
		slog.Warn("ENCRYPTION_KEY not set; outbox payloads are stored unencrypted (dev mode)")
		return nil, nil
	}

	if len(key) == 32 {
		c, err := crypto.NewPayloadCipher([]byte(key))
		if err != nil {
			return nil, fmt.Errorf("failed to initialize payload cipher: %w", err)
		}
		return c, nil
	}

	c, err := crypto.DerivePayloadCipher(key, []byte(os.Getenv("ENCRYPTION_SALT")), 0)
	if err != nil {
		return nil, fmt.Errorf("failed to derive payload cipher: %w", err)
	}
	return c, nil
}

func runMigrations(cfg *config.Config, arg string) error {
	telemetry.SetupLogger(cfg.Logging.Format, cfg.Logging.Level)

	dir, err := db.ParseDirection(arg)
	if err != nil {
		return err
	}

	database, err := db.Open(context.Background(), &cfg.Database)
	if err != nil {
		return err
	}
	defer database.Close()

	slog.Info("running migrations", "direction", dir)
	if err := db.Migrate(database, dir); err != nil {
		return err
	}

	version, dirty, err := db.SchemaVersion(database)
	if err != nil {
		return err
	}
	slog.Info("migration completed", "version", version, "dirty", dirty)
	return nil
}
