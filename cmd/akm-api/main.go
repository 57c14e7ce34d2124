// Package main is the entry point for the akm-api server.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/akmhq/akm-api/internal/config"
	"github.com/akmhq/akm-api/internal/database"
	"github.com/akmhq/akm-api/internal/database/migrations"
	"github.com/akmhq/akm-api/internal/events"
	"github.com/akmhq/akm-api/internal/http/mw"
	"github.com/akmhq/akm-api/internal/http/routes"
	"github.com/akmhq/akm-api/internal/logging"
	"github.com/akmhq/akm-api/internal/metrics"
	"github.com/akmhq/akm-api/internal/repository"
	"github.com/akmhq/akm-api/internal/service"
	"github.com/akmhq/akm-api/internal/version"
	"github.com/akmhq/akm-api/internal/worker"
)

const (
	// expiryNotifyWindow is how far ahead key.expiring events fire.
	expiryNotifyWindow   = 72 * time.Hour
	expiryNotifyInterval = time.Hour
)

func main() {
	// Initialize logger with TTY detection, source paths, and format control
	logger := logging.SetDefault()

	// Log version info first thing
	v := version.Get()
	logger.Info("starting akm-api",
		"version", v.Version,
		"commit", v.Commit,
		"built", v.Date,
		"go_version", v.GoVersion,
	)

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		logger.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	// Initialize database
	db, err := database.New(cfg.DatabaseURL)
	if err != nil {
		logger.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer func() { _ = db.Close() }()

	// Run migrations (with logging for each migration applied)
	if err := database.MigrateWithLogger(db, logger); err != nil {
		logger.Error("failed to run migrations", "error", err)
		os.Exit(1)
	}

	// Log current schema version
	schemaVersion, err := migrations.GetLatestVersion(db)
	if err != nil {
		logger.Warn("failed to get schema version", "error", err)
	} else if schemaVersion != "" {
		migrationCount, _ := migrations.GetMigrationCount(db)
		logger.Info("database schema ready", "schema_version", schemaVersion, "migrations_applied", migrationCount)
	}

	// Initialize repositories
	repos := repository.NewRepositories(db)

	// Event bus and Prometheus metrics shared by services and the worker
	bus := events.NewBus(events.DefaultBufferSize, logger)
	m := metrics.New(prometheus.DefaultRegisterer)

	// Initialize services
	services, err := service.NewServices(cfg, repos, bus, m, logger)
	if err != nil {
		logger.Error("failed to initialize services", "error", err)
		os.Exit(1)
	}

	// Start background worker pool for webhook delivery
	pool := worker.New(
		repos.Webhook,
		repos.WebhookDelivery,
		services.Encryptor,
		bus,
		m,
		worker.Config{
			Concurrency:    cfg.DeliveryConcurrency,
			QueueSize:      cfg.DeliveryQueueSize,
			DefaultTimeout: cfg.WebhookTimeout,
			MaxTimeout:     cfg.WebhookMaxTimeout,
		},
		logger,
	)
	services.Webhook.SetQueue(pool)

	ctx, cancel := context.WithCancel(context.Background())
	pool.Start(ctx)

	// Attach bus subscribers (webhook dispatcher, audit writer)
	services.Start()

	// Start cleanup service if enabled
	if cfg.CleanupEnabled {
		go services.Cleanup.RunScheduled(ctx, cfg.CleanupMaxAge, cfg.CleanupInterval)
		logger.Info("cleanup service started",
			"max_age", cfg.CleanupMaxAge.String(),
			"interval", cfg.CleanupInterval.String(),
		)
	}

	// Periodic key expiry notifications
	go func() {
		ticker := time.NewTicker(expiryNotifyInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if _, err := services.APIKey.NotifyExpiring(ctx, expiryNotifyWindow); err != nil {
					logger.Warn("expiry notification sweep failed", "error", err)
				}
			}
		}
	}()

	// Create router
	router := chi.NewRouter()

	// Global middleware
	router.Use(middleware.RequestID)
	router.Use(middleware.RealIP)
	router.Use(middleware.Logger)
	router.Use(middleware.Recoverer)
	router.Use(mw.APIVersion())
	router.Use(mw.Timeout(30 * time.Second))

	// CORS configuration
	router.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.CORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-ID"},
		ExposedHeaders:   []string{"Link", "X-Request-ID", "X-RateLimit-Limit", "X-RateLimit-Remaining", "X-RateLimit-Reset", "Retry-After"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	// Request size limit (1MB) - prevent large payload attacks
	router.Use(middleware.RequestSize(1 * 1024 * 1024))

	// Global rate limit by IP (fallback for unauthenticated requests)
	router.Use(httprate.LimitByIP(100, time.Minute))

	// Global concurrency throttle - prevent system overload
	router.Use(middleware.Throttle(100))

	// Prometheus scrape endpoint
	router.Handle("/metrics", promhttp.Handler())

	// Huma API config for the public surface with OpenAPI docs
	humaConfig := huma.DefaultConfig("AKM API", v.Version)
	humaConfig.Info.Description = "API key lifecycle, quota enforcement and webhook delivery for multi-tenant projects."
	humaConfig.Servers = []*huma.Server{
		{URL: cfg.BaseURL, Description: "API Server"},
	}
	humaConfig.Components.SecuritySchemes = map[string]*huma.SecurityScheme{
		mw.SecurityScheme: {
			Type:        "http",
			Scheme:      "bearer",
			Description: "API key authentication. Include your API key in the Authorization header as `Bearer akm_your_key`.",
		},
	}

	// Main API with OpenAPI docs
	api := humachi.New(router, humaConfig)
	routes.RegisterPublic(api, db)

	// Config for protected routes (docs are served by the main API)
	protectedConfig := huma.DefaultConfig("AKM API", v.Version)
	protectedConfig.Info.Description = humaConfig.Info.Description
	protectedConfig.Servers = humaConfig.Servers
	protectedConfig.Components.SecuritySchemes = humaConfig.Components.SecuritySchemes
	protectedConfig.DocsPath = ""
	protectedConfig.OpenAPIPath = ""
	protectedConfig.SchemasPath = ""

	// Protected routes: authentication, access restrictions, per-key
	// flood guard, quota
	router.Group(func(r chi.Router) {
		r.Use(mw.Auth(services.Auth, logger))
		r.Use(mw.Access(services.Resolver, logger))
		r.Use(mw.RateLimitByKey(300))
		r.Use(mw.Quota(services.Quota, services.Usage, services.Alert, logger))

		protectedAPI := humachi.New(r, protectedConfig)
		protectedAPI.UseMiddleware(mw.HumaScopes(protectedAPI))
		routes.RegisterProtected(protectedAPI, routes.NewHandlers(services))
	})

	// Create server
	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	// Graceful shutdown
	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGTERM, syscall.SIGINT)
		<-sigChan

		logger.Info("shutting down server")

		// Stop the worker and bus subscribers first
		cancel()
		pool.Stop()
		services.Stop()

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer shutdownCancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Error("server shutdown error", "error", err)
		}
	}()

	// Start server
	logger.Info("starting server", "port", cfg.Port, "base_url", cfg.BaseURL)
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Error("server error", "error", err)
		os.Exit(1)
	}

	logger.Info("server stopped")
}
