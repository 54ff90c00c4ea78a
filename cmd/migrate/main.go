package main

import (
	"context"
	"errors"
	"log"
	"os"
	"time"

	"receiptly/internal/models"
	"receiptly/internal/repository"
	"receiptly/pkg/auth"
	"receiptly/pkg/config"
	"receiptly/pkg/logger"
	"receiptly/pkg/postgres"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Standalone schema bootstrap. The server also migrates on start; this
// tool exists for CI databases and local setup, and can seed a demo
// account with SEED_DEMO_USER=true.
func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	if err := logger.Init(cfg.Logger.Level); err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer logger.Sync()
	appLogger := logger.Get()

	ctx := context.Background()
	db, err := postgres.NewPool(ctx, &cfg.Database, appLogger)
	if err != nil {
		appLogger.Fatal("Failed to connect to database", zap.Error(err))
	}
	defer db.Close()

	if err := repository.Migrate(ctx, db); err != nil {
		appLogger.Fatal("Migration failed", zap.Error(err))
	}
	appLogger.Info("Database schema is up to date")

	if os.Getenv("SEED_DEMO_USER") == "true" {
		userRepo := repository.NewUserRepository(db, appLogger)
		if err := seedDemoUser(ctx, userRepo, appLogger); err != nil {
			appLogger.Fatal("Failed to seed demo user", zap.Error(err))
		}
	}
}

func seedDemoUser(ctx context.Context, userRepo *repository.UserRepository, appLogger *zap.Logger) error {
	const email = "demo@receiptly.local"

	_, err := userRepo.GetByEmail(ctx, email)
	if err == nil {
		appLogger.Info("Demo user already exists", zap.String("email", email))
		return nil
	}
	if !errors.Is(err, repository.ErrUserNotFound) {
		return err
	}

	password := os.Getenv("SEED_DEMO_PASSWORD")
	if password == "" {
		password = "demo-password"
	}
	hashed, err := auth.HashPassword(password)
	if err != nil {
		return err
	}

	now := time.Now()
	user := &models.User{
		ID:        uuid.New(),
		Username:  "demo",
		Email:     email,
		Password:  hashed,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := userRepo.Create(ctx, user); err != nil {
		return err
	}

	appLogger.Info("Demo user created", zap.String("email", email))
	return nil
}
