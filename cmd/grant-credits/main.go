// Command grant-credits tops up a user's ledger outside the payment webhook,
// for support refunds and promotional grants.
package main

import (
	"context"
	"flag"
	"time"

	"photorestore/internal/config"
	"photorestore/internal/database"
	"photorestore/internal/logger"
	"photorestore/internal/model"
	"photorestore/internal/repository"
	"photorestore/internal/service"

	"github.com/joho/godotenv"
)

func main() {
	userID := flag.String("user", "", "Supabase user id to credit")
	amount := flag.Int("amount", 1, "Number of restorations to add")
	pkg := flag.String("package", string(model.PackageFree), "Package to record: free keeps the watermark, any paid pack removes it")
	flag.Parse()

	logger := logger.New()
	if err := godotenv.Load(); err != nil {
		logger.Warn().Msg("No .env file found, relying on system environment variables")
	}
	if *userID == "" {
		logger.Fatal().Msg("-user is required")
	}

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal().Msgf("Failed to load config: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	db, err := database.Open(ctx, cfg.DBConnectionString, cfg.Environment, logger)
	if err != nil {
		logger.Fatal().Msgf("Failed to connect to database: %v", err)
	}
	defer func() { _ = db.Close() }()

	credits := service.NewCreditService(repository.NewCreditRepo(db, logger), logger)
	acct, err := credits.Credit(ctx, *userID, *amount, model.PackageType(*pkg))
	if err != nil {
		logger.Fatal().Err(err).Str("user_id", *userID).Msg("Grant failed")
	}
	logger.Info().
		Str("user_id", acct.UserID).
		Int("remaining", acct.RemainingRestorations).
		Bool("free_user", acct.IsFreeUser).
		Msg("Credits granted")
}
