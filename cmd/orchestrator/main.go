package main

import (
	"context"
	"flag"
	"os/signal"
	"syscall"

	"photorestore/internal/config"
	"photorestore/internal/database"
	"photorestore/internal/inference"
	"photorestore/internal/logger"
	"photorestore/internal/orchestrator/restoration"
	"photorestore/internal/pgmq"
	"photorestore/internal/repository"
	"photorestore/internal/secrets"
	"photorestore/internal/service"
	"photorestore/internal/storage"

	"github.com/joho/godotenv"
)

func main() {
	// Parse mode flag
	mode := flag.String("mode", "", "Orchestrator mode: restoration")
	flag.Parse()

	logger := logger.New()

	if err := godotenv.Load(); err != nil {
		logger.Warn().Msg("Warning: no .env file found")
	}

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal().Msgf("Error loading config: %v", err)
	}

	// Set up context with graceful shutdown
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if cfg.SecretManagerProjectID != "" {
		acc, err := secrets.NewManagerAccessor(ctx)
		if err != nil {
			logger.Fatal().Msgf("Failed to create Secret Manager client: %v", err)
		}
		if err := secrets.Hydrate(ctx, cfg, acc, logger); err != nil {
			logger.Fatal().Msgf("Failed to load secrets: %v", err)
		}
		_ = acc.Close()
	}

	db, err := database.Open(ctx, cfg.DBConnectionString, cfg.Environment, logger)
	if err != nil {
		logger.Fatal().Msgf("Failed to open DB connection: %v", err)
	}
	defer db.Close()

	pgmqClient := pgmq.New(db)
	logger.Info().Msg("PGMQ client initialized")

	var runErr error
	switch *mode {
	case "restoration":
		store, err := storage.New(ctx, cfg)
		if err != nil {
			logger.Fatal().Msgf("Failed to init storage: %v", err)
		}
		records := repository.NewRestorationRepo(db, logger)
		restorations := service.NewRestorationService(
			service.NewCreditService(repository.NewCreditRepo(db, logger), logger),
			records,
			inference.NewClient(inference.Options{
				APIToken:       cfg.ReplicateAPIToken,
				BaseURL:        cfg.ReplicateBaseURL,
				Model:          cfg.ReplicateModel,
				Version:        cfg.ReplicateModelVersion,
				PollInterval:   cfg.ReplicatePollInterval,
				RequestTimeout: cfg.ReplicateRequestTimeout,
				Logger:         &logger,
			}),
			service.NewArchiver(store, nil, logger),
			pgmqClient,
			service.RestorationOptions{
				Async:          true,
				QueueName:      cfg.RestorationQueueName,
				RefundOnFailed: cfg.RefundOnInferenceFailure,
			},
			logger,
		)
		runErr = restoration.Run(ctx, logger, pgmqClient, restorations, records, cfg)
	default:
		logger.Fatal().Msgf("Invalid mode: %s", *mode)
	}

	if runErr != nil {
		logger.Fatal().Msgf("%s orchestrator failed: %v", *mode, runErr)
	}

	logger.Info().Msgf("%s orchestrator stopped gracefully", *mode)
}
