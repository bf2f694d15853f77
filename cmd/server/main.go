package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/fanzplatform/go-mfa-service/internal/api"
	"github.com/fanzplatform/go-mfa-service/internal/backend"
	"github.com/fanzplatform/go-mfa-service/internal/events"
	"github.com/fanzplatform/go-mfa-service/internal/service"
	"github.com/fanzplatform/go-mfa-service/internal/sms"
	"github.com/fanzplatform/go-mfa-service/pkg/config"
	"github.com/fanzplatform/go-mfa-service/pkg/logging"
	"github.com/fanzplatform/go-mfa-service/pkg/middleware"
)

var (
	configFile = flag.String("config", "configs/config.yaml", "Path to configuration file")
	version    = "dev"
	buildTime  = "unknown"
)

func main() {
	flag.Parse()

	// Load configuration
	cfg, err := config.Load(*configFile)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	// Initialize logger
	logger, err := logging.NewLogger(cfg.Logging.Level, cfg.Logging.Format)
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	logger.Info("Starting MFA Service",
		zap.String("version", version),
		zap.String("build_time", buildTime),
	)

	// Initialize storage backend
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	store, err := backend.New(ctx, cfg)
	cancel()
	if err != nil {
		logger.Fatal("Failed to initialize storage backend", zap.Error(err))
	}
	defer func() { _ = store.Close() }()

	logger.Info("Storage backend initialized", zap.String("type", cfg.Storage.Type))

	// Ping storage to verify connection
	ctx, cancel = context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := store.Ping(ctx); err != nil {
		logger.Fatal("Failed to ping storage", zap.Error(err))
	}

	// SMS transport
	sender, err := sms.NewSender(cfg.MFA.SMSProvider, logger)
	if err != nil {
		logger.Fatal("Failed to initialize SMS sender", zap.Error(err))
	}

	// Event hub feeds the admin websocket stream
	hub := events.NewHub(logger)
	defer hub.Close()

	notifier := service.MultiNotifier{service.NewZapNotifier(logger), hub}

	// Initialize services
	services, err := service.NewServices(store, cfg, logger, sender, notifier)
	if err != nil {
		logger.Fatal("Failed to initialize services", zap.Error(err))
	}
	services.Start()
	defer services.Stop()

	// Generate admin token if not provided
	if cfg.Server.AdminToken == "" {
		token, err := middleware.GenerateAdminToken()
		if err != nil {
			logger.Fatal("Failed to generate admin token", zap.Error(err))
		}
		cfg.Server.AdminToken = token
		logger.Info("Generated admin API token (set MFA_SERVER_ADMIN_TOKEN to use a fixed token)",
			zap.String("token", token))
	}

	handlers := api.NewHandlers(services, cfg, logger)
	adminHandlers := api.NewAdminHandlers(services, hub, logger)
	router := api.NewRouter(handlers, adminHandlers, cfg, logger)

	srv := &http.Server{
		Addr:         cfg.Server.Address(),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info("Server listening", zap.String("address", cfg.Server.Address()))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("Failed to start server", zap.Error(err))
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down server...")

	// Graceful shutdown
	ctx, cancelShutdown := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancelShutdown()

	if err := srv.Shutdown(ctx); err != nil {
		logger.Error("Server forced to shutdown", zap.Error(err))
	}

	logger.Info("Server exited")
}
