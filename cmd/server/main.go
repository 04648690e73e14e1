package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/megayours/pfp-inventory/internal/api"
	"github.com/megayours/pfp-inventory/internal/config"
	"github.com/megayours/pfp-inventory/internal/logging"
	"github.com/megayours/pfp-inventory/internal/metrics"
	"github.com/megayours/pfp-inventory/internal/repository/postgres"
	"github.com/megayours/pfp-inventory/internal/service"
	"github.com/megayours/pfp-inventory/internal/upload"
	"github.com/megayours/pfp-inventory/internal/websocket"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

const reapInterval = 10 * time.Minute

func main() {
	logger := logging.NewLoggerWithService("pfp-inventory")

	config.LoadEnv(logger)
	cfg, err := config.Load()
	if err != nil {
		logger.WithError(err).Fatal("Failed to load config")
	}
	if cfg.JWTSecretGenerated {
		logger.Warn("JWT_SECRET not set; tab tokens will not survive a restart")
	}

	// Initialize database
	db, err := postgres.NewConnection(cfg.DatabaseURL)
	if err != nil {
		logger.WithError(err).Fatal("Failed to connect to database")
	}

	// Initialize repositories
	repos := postgres.NewRepositories(db)

	m := metrics.New(version)

	// Initialize WebSocket hub
	hub := websocket.NewHub(logger, m)
	go hub.Run()

	var store upload.FileStore
	switch cfg.StorageBackend {
	case "ipfs":
		store = upload.NewIPFS(cfg.IPFSAPIURL)
	default:
		store = upload.NewFilehub(cfg.GatewayURL, 0)
	}

	// Initialize services
	services := service.NewServices(service.Options{
		Config:  cfg,
		Repos:   repos,
		Hub:     hub,
		Metrics: m,
		Logger:  logger,
		Store:   store,
	})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	go services.Tabs.RunReaper(ctx, reapInterval, cfg.TabIdleTimeout)

	// Initialize router
	router := api.NewRouter(services, hub, m, logger)

	// Chain connects wait on the wallet, so writes may take as long as a signature.
	srv := &http.Server{
		Addr:         "0.0.0.0:" + cfg.Port,
		Handler:      router,
		ReadTimeout:  60 * time.Second,
		WriteTimeout: cfg.SignTimeout + time.Minute,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in goroutine
	go func() {
		logger.WithFields(logging.Fields{
			"port":    cfg.Port,
			"env":     cfg.Environment,
			"storage": cfg.StorageBackend,
			"version": version,
		}).Info("Server starting")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.WithError(err).Fatal("Failed to start server")
		}
	}()

	<-ctx.Done()
	logger.Info("Shutting down server...")

	// Graceful shutdown with timeout
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Error("Server forced to shutdown")
		os.Exit(1)
	}
	hub.Stop()

	logger.Info("Server stopped")
}
