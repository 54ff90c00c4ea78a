package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"receiptly/internal/api"
	"receiptly/internal/api/handlers"
	"receiptly/internal/repository"
	"receiptly/internal/schema"
	"receiptly/internal/service"
	"receiptly/pkg/auth"
	"receiptly/pkg/config"
	"receiptly/pkg/logger"
	"receiptly/pkg/postgres"
	"receiptly/pkg/storage"

	"go.uber.org/zap"
)

// @title Receiptly API
// @version 1.0
// @description Receipt capture backend: photo upload, AI extraction, human verification and spending charts

// @license.name MIT
// @license.url https://opensource.org/licenses/MIT

// @host localhost:8080
// @BasePath /api/v1

// @securityDefinitions.apikey Bearer
// @in header
// @name Authorization
// @description Type "Bearer" followed by a space and JWT token.

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		os.Exit(1)
	}

	// Initialize global logger
	if err := logger.Init(cfg.Logger.Level); err != nil {
		fmt.Printf("Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	appLogger := logger.Get()
	appLogger.Info("Starting receiptly service")

	// Initialize database
	ctx := context.Background()
	db, err := postgres.NewPool(ctx, &cfg.Database, appLogger)
	if err != nil {
		appLogger.Fatal("Failed to connect to database", zap.Error(err))
	}
	defer db.Close()

	if err := repository.Migrate(ctx, db); err != nil {
		appLogger.Fatal("Failed to migrate database schema", zap.Error(err))
	}

	// Initialize repositories
	userRepo := repository.NewUserRepository(db, appLogger)
	receiptRepo := repository.NewReceiptRepository(db, appLogger)

	// Initialize JWT manager
	jwtManager := auth.NewJWTManager(cfg.JWT.SecretKey, cfg.JWT.Expiration, cfg.JWT.RefreshExp)

	// Initialize object storage
	objectStore, err := storage.NewGateway(ctx, &cfg.Storage, appLogger)
	if err != nil {
		appLogger.Fatal("Failed to initialize object storage", zap.Error(err))
	}

	// Initialize services
	authService := service.NewAuthService(userRepo, jwtManager, appLogger)
	extractor := service.NewVisionExtractor(&cfg.OpenAI, appLogger)
	receiptService := service.NewReceiptService(
		receiptRepo,
		objectStore,
		extractor,
		schema.NewValidator(),
		cfg.Storage.Bucket,
		cfg.Storage.AllowWebP,
		appLogger,
	)

	// Initialize handlers
	authHandler := handlers.NewAuthHandler(authService, appLogger)
	receiptHandler := handlers.NewReceiptHandler(receiptService, appLogger)

	// Setup router
	app := api.SetupRouter(authHandler, receiptHandler, jwtManager, appLogger)

	// Start server
	go func() {
		addr := ":" + cfg.Server.Port
		appLogger.Info("Server starting", zap.String("address", addr))
		if err := app.Listen(addr); err != nil {
			appLogger.Fatal("Server failed", zap.Error(err))
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	appLogger.Info("Shutting down server")
	if err := app.Shutdown(); err != nil {
		appLogger.Error("Server shutdown error", zap.Error(err))
	}
}
