// @title           Parkbeat Backend API
// @version         1.0.0
// @description     Backend API for community park improvement projects. It validates uploaded site photos, asks a vision model for improvement suggestions with cost estimates, renders each suggestion onto the photo, and pushes live updates to subscribers over WebSocket.

// @contact.name   API Support
// @contact.email  support@example.com

// @license.name  MIT
// @license.url   https://opensource.org/licenses/MIT

// @host      localhost:8080
// @BasePath  /api/v1

// @securityDefinitions.apikey Bearer
// @in header
// @name Authorization
// @description Type "Bearer" followed by a space and JWT token.

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

	"github.com/getsentry/sentry-go"
	"github.com/gin-gonic/gin"
	"github.com/nats-io/nats.go"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"parkbeat-backend/internal/config"
	"parkbeat-backend/internal/database"
	"parkbeat-backend/internal/dedup"
	"parkbeat-backend/internal/geocode"
	"parkbeat-backend/internal/handlers"
	"parkbeat-backend/internal/kvstore"
	"parkbeat-backend/internal/leonardo"
	"parkbeat-backend/internal/lock"
	"parkbeat-backend/internal/logger"
	"parkbeat-backend/internal/metrics"
	"parkbeat-backend/internal/middleware"
	"parkbeat-backend/internal/notify"
	"parkbeat-backend/internal/services"
	"parkbeat-backend/internal/supabase"
	"parkbeat-backend/internal/vision"
)

const (
	appName         = "parkbeat-backend"
	shutdownTimeout = 30 * time.Second
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   appName,
		Short: "Parkbeat project suggestion backend",
		Long: `Parkbeat backend validates park photos, generates improvement
suggestions with cost estimates, and renders suggestion images.

Running without a subcommand starts the HTTP server.`,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return serve(cmd.Context())
		},
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "serve",
		Short: "Run migrations and start the HTTP server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return serve(cmd.Context())
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "migrate",
		Short: "Apply pending database migrations and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			return migrate(cmd.Context())
		},
	})

	return cmd
}

func setup() (*config.Config, *zap.Logger, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	log, err := logger.Init(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to initialize logger: %w", err)
	}
	return cfg, log, nil
}

func migrate(ctx context.Context) error {
	cfg, log, err := setup()
	if err != nil {
		return err
	}
	defer func() { _ = log.Sync() }()

	migrator, err := database.NewMigrator(cfg.DatabaseURL, log)
	if err != nil {
		return err
	}
	defer migrator.Close()

	if err := migrator.Run(ctx); err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}
	log.Info("migrations completed successfully")
	return nil
}

func serve(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, log, err := setup()
	if err != nil {
		return err
	}
	defer func() { _ = log.Sync() }()

	if cfg.SentryDSN != "" {
		if err := sentry.Init(sentry.ClientOptions{
			Dsn:              cfg.SentryDSN,
			Environment:      cfg.Environment,
			EnableTracing:    true,
			TracesSampleRate: 0.2,
		}); err != nil {
			log.Warn("sentry init failed", zap.Error(err))
		}
		defer sentry.Flush(2 * time.Second)
	}

	if cfg.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	// Key-value store for locks and dedup. Without REDIS_ADDR they stay in this process.
	store, closeStore, err := kvstore.Open(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB, "parkbeat:")
	if err != nil {
		sentry.CaptureException(err)
		return fmt.Errorf("failed to connect to redis: %w", err)
	}
	defer closeStore()
	if cfg.RedisAddr == "" {
		log.Info("REDIS_ADDR not set, using in-process locks for a single instance")
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(registry)

	locks := lock.NewManager(store, log, m, cfg.SuggestionLockTTL, cfg.ExecutionMarkerTTL)
	dedupe := dedup.NewService(store, cfg.DedupWindow, log, m)

	var completer vision.Completer
	switch cfg.VisionProvider {
	case "anthropic":
		completer = vision.NewAnthropicCompleter(cfg.AnthropicAPIKey, cfg.AnthropicModel)
	default:
		completer = vision.NewOpenAICompleter(cfg.OpenAIAPIKey, cfg.OpenAIBaseURL, cfg.OpenAIModel)
	}
	visionAgent := vision.NewService(completer, log, m)

	leonardoClient := leonardo.NewClient(cfg.LeonardoBaseURL, cfg.LeonardoAPIKey, leonardo.Options{
		ModelID:         cfg.LeonardoModelID,
		PollInterval:    cfg.LeonardoPollInterval,
		MaxPollAttempts: cfg.LeonardoMaxPollAttempts,
		RatePerSecond:   cfg.LeonardoRatePerSecond,
	})
	geocoder := geocode.NewClient(cfg.GeocoderBaseURL, cfg.GeocoderUserAgent)

	dbClient, err := supabase.NewDatabaseClient(cfg.DatabaseURL)
	if err != nil {
		sentry.CaptureException(err)
		return fmt.Errorf("failed to initialize database client: %w", err)
	}
	defer dbClient.Close()

	if err := database.NewMigratorWithDB(dbClient.DB(), log).Run(ctx); err != nil {
		sentry.CaptureException(err)
		return fmt.Errorf("migration failed: %w", err)
	}
	log.Info("migrations completed successfully")

	supabaseClient, err := supabase.NewClient(cfg)
	if err != nil {
		return fmt.Errorf("failed to initialize supabase client: %w", err)
	}
	storageClient := supabaseClient.Storage()

	hub := notify.NewHub(log)
	var nc *nats.Conn
	if cfg.NATSURL != "" {
		nc, err = nats.Connect(cfg.NATSURL, nats.Name(appName), nats.MaxReconnects(-1))
		if err != nil {
			log.Warn("nats unavailable, notifications stay on this instance", zap.Error(err))
			nc = nil
		} else {
			defer nc.Drain()
		}
	}
	broadcaster, err := notify.NewBroadcaster(hub, nc, log)
	if err != nil {
		return fmt.Errorf("failed to initialize broadcaster: %w", err)
	}
	defer broadcaster.Close()

	orchestrator := services.NewOrchestrator(services.Deps{
		Store:     dbClient,
		Vision:    visionAgent,
		Images:    leonardoClient,
		Geocoder:  geocoder,
		Publisher: broadcaster,
		Rehoster:  services.NewStorageService(leonardoClient, storageClient, log),
		Locks:     locks,
		Dedup:     dedupe,
		Tasks:     services.NewTaskRunner(log),
		Pool:      services.NewWorkerPool(cfg.WorkerConcurrency, log),
		Metrics:   m,
		Logger:    log,
	}, services.Options{
		MaxSuggestions:      cfg.MaxSuggestions,
		MinUpscaleDimension: cfg.MinUpscaleDimension,
		StaleAfter:          cfg.SuggestionLockTTL,
	})

	healthHandler := handlers.NewHealthHandler(map[string]handlers.Pinger{
		"database": dbClient,
		"kvstore":  store,
	})
	imagesHandler := handlers.NewImagesHandler(orchestrator, storageClient)
	projectsHandler := handlers.NewProjectsHandler(dbClient)
	processHandler := handlers.NewProcessHandler(orchestrator)
	statusHandler := handlers.NewStatusHandler(orchestrator)
	wsHandler := handlers.NewWSHandler(orchestrator, hub, cfg.WSMessagesPerSecond, cfg.WSBurst, log)

	router := gin.New()
	router.Use(gin.Logger())
	router.Use(gin.Recovery())

	// Health and metrics (no auth)
	router.GET("/health", healthHandler.Health)
	router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(registry, promhttp.HandlerOpts{})))

	auth := middleware.AuthMiddleware(cfg)
	router.GET("/ws", auth, wsHandler.Handle)

	api := router.Group("/api/v1")
	api.Use(auth)

	// Images
	api.POST("/images/validate", imagesHandler.Validate)
	api.POST("/images/upload", imagesHandler.Upload)

	// Projects
	api.GET("/projects/:project_id", projectsHandler.GetProject)
	api.GET("/projects/:project_id/images", projectsHandler.ListImages)
	api.GET("/projects/:project_id/suggestions", projectsHandler.ListSuggestions)
	api.GET("/projects/:project_id/status", statusHandler.GetStatus)

	// Suggestion processing
	api.POST("/projects/:project_id/suggestions/images", processHandler.GenerateImages)
	api.POST("/projects/:project_id/suggestions/regenerate", processHandler.Regenerate)
	api.POST("/projects/:project_id/suggestions/:suggestion_id/reimagine", processHandler.Reimagine)

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("server starting", zap.String("port", cfg.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			sentry.CaptureException(err)
			return fmt.Errorf("failed to start server: %w", err)
		}
	case <-ctx.Done():
	}

	log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("http shutdown failed", zap.Error(err))
	}
	if err := orchestrator.Tasks().Wait(shutdownCtx); err != nil {
		log.Warn("background tasks still running at shutdown", zap.Error(err))
	}
	return nil
}
