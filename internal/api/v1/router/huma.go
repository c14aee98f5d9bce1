package router

import (
	"net/http"
	"os"
	"strings"

	"photorestore/internal/api/v1/handler"
	"photorestore/internal/config"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
)

// Middlewares are the per-path guards applied inside /v1.
type Middlewares struct {
	Auth         func(http.Handler) http.Handler
	OptionalAuth func(http.Handler) http.Handler
	PubSubAuth   func(http.Handler) http.Handler
	UploadLimit  func(http.Handler) http.Handler
}

type Handlers struct {
	Credit       *handler.CreditHandler
	Restoration  *handler.RestorationHandler
	Notification *handler.NotificationHandler
	DLQ          *handler.DLQHandler
	Upload       *handler.UploadHandler
	// Raw routes that need the request body untouched.
	StripeWebhook    http.HandlerFunc
	NotificationPush http.HandlerFunc
}

var publicPaths = map[string]bool{
	"/openapi.json":     true,
	"/openapi.yaml":     true,
	"/openapi-3.0.json": true,
	"/openapi-3.0.yaml": true,
	"/docs":             true,
	"/healthz":          true,
	"/packages":         true,
	"/webhooks/stripe":  true, // verified by Stripe-Signature
}

// SetupHumaAPI creates a Huma API instance
func SetupHumaAPI(cfg *config.Config, mw Middlewares, h Handlers, logger zerolog.Logger) (*chi.Mux, huma.API) {
	chiRouter := chi.NewRouter()

	// Apply middleware based on path
	chiRouter.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			path := r.URL.Path
			switch {
			case publicPaths[path], strings.HasPrefix(path, "/schemas/"):
				next.ServeHTTP(w, r)
			case path == "/uploads":
				mw.UploadLimit(mw.OptionalAuth(next)).ServeHTTP(w, r)
			case path == "/notifications/push", path == "/dlq/record":
				mw.PubSubAuth(next).ServeHTTP(w, r)
			default:
				mw.Auth(next).ServeHTTP(w, r)
			}
		})
	})

	version := os.Getenv("GIT_COMMIT_SHA")
	if version == "" {
		version = "development"
	}

	humaConfig := huma.DefaultConfig("Photo Restore API v1", version)
	humaConfig.Info.Description = "Credit ledger and photo restoration API"
	humaConfig.Servers = []*huma.Server{{URL: cfg.APIBaseURL}}

	api := humachi.New(chiRouter, humaConfig)

	chiRouter.Post("/uploads", h.Upload.Upload)
	chiRouter.Post("/webhooks/stripe", h.StripeWebhook)
	chiRouter.Post("/notifications/push", h.NotificationPush)

	logger.Info().Str("version", version).Msg("Huma API initialized for /v1")
	return chiRouter, api
}

// RegisterRoutes registers all Huma operations
func RegisterRoutes(api huma.API, h Handlers, logger zerolog.Logger) {
	huma.Register(api, huma.Operation{
		OperationID: "healthz",
		Method:      http.MethodGet,
		Path:        "/healthz",
		Summary:     "Liveness probe",
		Tags:        []string{"health"},
	}, h.Notification.Health)

	// ========== CREDIT OPERATIONS ==========
	huma.Register(api, huma.Operation{
		OperationID: "getCredits",
		Method:      http.MethodGet,
		Path:        "/credits",
		Summary:     "Get credit balance",
		Description: "Returns the authenticated user's credit account, creating it with one free restoration on first use",
		Tags:        []string{"credits"},
	}, h.Credit.GetCredits)

	huma.Register(api, huma.Operation{
		OperationID: "listPackages",
		Method:      http.MethodGet,
		Path:        "/packages",
		Summary:     "List credit packs",
		Tags:        []string{"credits"},
	}, h.Credit.ListPackages)

	huma.Register(api, huma.Operation{
		OperationID: "createCheckout",
		Method:      http.MethodPost,
		Path:        "/checkout",
		Summary:     "Start a checkout",
		Description: "Creates a Stripe Checkout session for a credit pack and returns its URL",
		Tags:        []string{"credits"},
	}, h.Credit.CreateCheckout)

	// ========== RESTORATION OPERATIONS ==========
	huma.Register(api, huma.Operation{
		OperationID: "createRestoration",
		Method:      http.MethodPost,
		Path:        "/restorations",
		Summary:     "Restore a photo",
		Description: "Debits one credit and restores the photo. Returns 402 when no credits remain and 502 when the provider fails",
		Tags:        []string{"restorations"},
	}, h.Restoration.CreateRestoration)

	huma.Register(api, huma.Operation{
		OperationID: "listRestorations",
		Method:      http.MethodGet,
		Path:        "/restorations",
		Summary:     "List restorations",
		Description: "Returns the authenticated user's restorations, newest first",
		Tags:        []string{"restorations"},
	}, h.Restoration.ListRestorations)

	huma.Register(api, huma.Operation{
		OperationID: "getRestoration",
		Method:      http.MethodGet,
		Path:        "/restorations/{restorationId}",
		Summary:     "Get a restoration",
		Tags:        []string{"restorations"},
	}, h.Restoration.GetRestoration)

	huma.Register(api, huma.Operation{
		OperationID: "downloadRestoration",
		Method:      http.MethodGet,
		Path:        "/restorations/{restorationId}/download",
		Summary:     "Download a restored photo",
		Description: "Returns the unwatermarked file URL. Free accounts get 402",
		Tags:        []string{"restorations"},
	}, h.Restoration.DownloadRestoration)

	huma.Register(api, huma.Operation{
		OperationID: "getPrediction",
		Method:      http.MethodGet,
		Path:        "/predictions/{predictionId}",
		Summary:     "Get prediction status",
		Tags:        []string{"restorations"},
	}, h.Restoration.GetPrediction)

	// ========== NOTIFICATION OPERATIONS ==========
	huma.Register(api, huma.Operation{
		OperationID:   "sendWelcome",
		Method:        http.MethodPost,
		Path:          "/notifications/welcome",
		Summary:       "Send the welcome email",
		Tags:          []string{"notifications"},
		DefaultStatus: http.StatusAccepted,
	}, h.Notification.SendWelcome)

	// ========== DLQ OPERATIONS ==========
	huma.Register(api, huma.Operation{
		OperationID:   "recordDLQ",
		Method:        http.MethodPost,
		Path:          "/dlq/record",
		Summary:       "Record DLQ message",
		Description:   "Records a notification job that Pub/Sub dead-lettered",
		Tags:          []string{"dlq"},
		DefaultStatus: http.StatusOK,
	}, h.DLQ.RecordDLQ)

	logger.Info().Msg("All operations registered successfully")
}
