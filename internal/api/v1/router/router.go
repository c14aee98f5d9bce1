package router

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"photorestore/internal/api/v1/handler"
	"photorestore/internal/config"
	"photorestore/internal/database"
	"photorestore/internal/inference"
	"photorestore/internal/middleware"
	"photorestore/internal/notify"
	"photorestore/internal/pgmq"
	"photorestore/internal/pubsub"
	"photorestore/internal/repository"
	"photorestore/internal/service"
	"photorestore/internal/storage"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-playground/validator/v10"
	"github.com/rs/cors"
	"github.com/rs/zerolog"
)

// New wires every dependency and returns the HTTP handler plus a cleanup
// function that drains background work and closes connections.
func New(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (http.Handler, func(), error) {
	logger.Info().Str("environment", cfg.Environment).Msg("App environment loaded")

	// 1. Database
	db, err := database.Open(ctx, cfg.DBConnectionString, cfg.Environment, logger)
	if err != nil {
		return nil, nil, err
	}
	if cfg.DBAutoMigrate {
		if err := database.Migrate(ctx, db); err != nil {
			_ = db.Close()
			return nil, nil, err
		}
		logger.Info().Msg("Database migrations applied")
	}

	// 2. Object storage
	store, err := storage.New(ctx, cfg)
	if err != nil {
		_ = db.Close()
		return nil, nil, fmt.Errorf("init storage: %w", err)
	}

	// 3. Pub/Sub publisher, only when notifications go through a topic
	var publisher *pubsub.PubSubPublisher
	if cfg.PubSubNotificationsTopic != "" {
		publisher, err = pubsub.NewPublisher(ctx, cfg)
		if err != nil {
			_ = db.Close()
			return nil, nil, err
		}
	}

	// 4. Repositories & services
	creditRepo := repository.NewCreditRepo(db, logger)
	restorationRepo := repository.NewRestorationRepo(db, logger)
	dlqRepo := repository.NewDLQRepository(db)

	restorer := inference.NewClient(inference.Options{
		APIToken:       cfg.ReplicateAPIToken,
		BaseURL:        cfg.ReplicateBaseURL,
		Model:          cfg.ReplicateModel,
		Version:        cfg.ReplicateModelVersion,
		PollInterval:   cfg.ReplicatePollInterval,
		RequestTimeout: cfg.ReplicateRequestTimeout,
		Logger:         &logger,
	})

	creditSvc := service.NewCreditService(creditRepo, logger)
	restorationSvc := service.NewRestorationService(
		creditSvc,
		restorationRepo,
		restorer,
		service.NewArchiver(store, nil, logger),
		pgmq.New(db),
		service.RestorationOptions{
			Async:          cfg.InferenceMode == config.InferenceModeAsync,
			QueueName:      cfg.RestorationQueueName,
			RefundOnFailed: cfg.RefundOnInferenceFailure,
		},
		logger,
	)
	uploadSvc := service.NewUploadService(store, service.UploadOptions{
		SigningKey: cfg.UploadSigningKey(),
		TTL:        cfg.UploadTokenTTL,
		MaxBytes:   cfg.UploadMaxBytes,
	}, logger)
	stripeSvc := service.NewStripeService(cfg, creditRepo, logger)
	dlqSvc := service.NewDLQService(dlqRepo, logger)

	var jobPublisher pubsub.Publisher
	if publisher != nil {
		jobPublisher = publisher
	}
	dispatcher := notify.NewDispatcher(
		notify.NewBrevoSender(cfg.BrevoAPIKey, cfg.BrevoBaseURL, nil, logger),
		jobPublisher,
		notify.DispatcherOptions{
			From:  notify.Contact{Name: cfg.BrevoSenderName, Email: cfg.BrevoSenderEmail},
			Topic: cfg.PubSubNotificationsTopic,
		},
		logger,
	)

	// 5. Handlers
	validate := validator.New(validator.WithRequiredStructEnabled())
	handlers := Handlers{
		Credit:           handler.NewCreditHandler(creditSvc, stripeSvc, validate, logger),
		Restoration:      handler.NewRestorationHandler(restorationSvc, uploadSvc, validate, logger),
		Notification:     handler.NewNotificationHandler(dispatcher, validate, logger),
		DLQ:              handler.NewDLQHandler(dlqSvc, logger),
		Upload:           handler.NewUploadHandler(uploadSvc, cfg.UploadMaxBytes, logger),
		StripeWebhook:    stripeSvc.HandleWebhook,
		NotificationPush: dispatcher.HandlePush,
	}

	cleanup := func() {
		dispatcher.Wait()
		if publisher != nil {
			if err := publisher.Close(); err != nil {
				logger.Warn().Err(err).Msg("Failed to close Pub/Sub publisher")
			}
		}
		if err := db.Close(); err != nil {
			logger.Warn().Err(err).Msg("Failed to close database")
		}
	}
	return NewHandler(cfg, handlers, logger), cleanup, nil
}

// NewHandler mounts the API under /v1 behind the shared middleware chain.
func NewHandler(cfg *config.Config, h Handlers, logger zerolog.Logger) http.Handler {
	mw := Middlewares{
		Auth:         middleware.AuthMiddleware(cfg.JWTSecret, logger),
		OptionalAuth: middleware.OptionalAuthMiddleware(cfg.JWTSecret, logger),
		PubSubAuth: middleware.PubSubAuthMiddleware(
			cfg.IsLocalPubSub(),
			cfg.PubSubPushAudience,
			cfg.PubSubPushServiceAccountEmail,
			logger,
		),
		UploadLimit: middleware.RateLimit(cfg.UploadRatePerMin),
	}
	apiRouter, api := SetupHumaAPI(cfg, mw, h, logger)
	RegisterRoutes(api, h, logger)

	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(middleware.LoggerMiddleware(logger))
	r.Use(chimw.Recoverer)

	r.Mount("/v1", http.StripPrefix("/v1", apiRouter))

	// Redirect root-level requests to /v1/{path}
	r.NotFound(func(w http.ResponseWriter, req *http.Request) {
		if strings.HasPrefix(req.URL.Path, "/v1/") || req.URL.Path == "/" {
			http.NotFound(w, req)
			return
		}
		http.Redirect(w, req, "/v1"+req.URL.Path, http.StatusMovedPermanently)
	})

	c := cors.New(cors.Options{
		AllowedOrigins:   allowedOrigins(cfg),
		AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Authorization", "Content-Type"},
		AllowCredentials: true,
	})
	return c.Handler(r)
}

func allowedOrigins(cfg *config.Config) []string {
	if cfg.Environment == "development" {
		return []string{"*"}
	}
	return []string{strings.TrimRight(cfg.AppBaseURL, "/")}
}
