package router

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"photorestore/internal/api/v1/handler"
	"photorestore/internal/config"
	"photorestore/internal/logger"
	"photorestore/internal/model"
	"photorestore/internal/pubsub"
	"photorestore/internal/service"

	"github.com/go-playground/validator/v10"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "router-test-secret"

type stubCredits struct{}

func (stubCredits) GetOrCreate(ctx context.Context, userID string) (*model.CreditAccount, error) {
	return &model.CreditAccount{UserID: userID, RemainingRestorations: 1, IsFreeUser: true, PackageType: model.PackageFree}, nil
}

func (stubCredits) Debit(ctx context.Context, userID string, amount int) (*model.CreditAccount, error) {
	return nil, service.ErrInsufficientCredits
}

func (stubCredits) Credit(ctx context.Context, userID string, amount int, pkg model.PackageType) (*model.CreditAccount, error) {
	return nil, nil
}

func (stubCredits) Refund(ctx context.Context, userID string, amount int) (*model.CreditAccount, error) {
	return nil, nil
}

type stubRestorations struct{ service.RestorationService }

func (stubRestorations) Restore(ctx context.Context, req service.RestoreRequest) (*service.RestoreResult, error) {
	return nil, service.ErrInsufficientCredits
}

type stubUploads struct{}

func (stubUploads) Stage(ctx context.Context, req service.UploadRequest) (*model.UploadIntent, error) {
	return &model.UploadIntent{Token: "tok", Filename: req.Filename}, nil
}

func (stubUploads) Resolve(ctx context.Context, token string) (*model.UploadIntent, error) {
	return nil, service.ErrUploadExpired
}

type stubCheckout struct{}

func (stubCheckout) CreateCheckoutSession(ctx context.Context, userID, email string, pkg model.PackageType) (string, error) {
	return "https://checkout.stripe.com/c/pay/cs_test", nil
}

type stubWelcome struct{}

func (stubWelcome) SendWelcome(ctx context.Context, email, name string) {}

type stubDLQ struct{}

func (stubDLQ) Record(ctx context.Context, req *pubsub.PushRequest) (*model.DeadLetterMessage, error) {
	return &model.DeadLetterMessage{}, nil
}

func newTestHandler(t *testing.T) (http.Handler, *bool) {
	t.Helper()
	cfg := &config.Config{
		Environment:                   "test",
		APIBaseURL:                    "http://localhost:8080/v1",
		AppBaseURL:                    "http://localhost:5173",
		JWTSecret:                     testSecret,
		UploadRatePerMin:              100,
		PubSubPushAudience:            "https://api.example.com/v1/notifications/push",
		PubSubPushServiceAccountEmail: "push@project.iam.gserviceaccount.com",
	}
	lg := logger.Nop()
	v := validator.New(validator.WithRequiredStructEnabled())

	webhookHit := false
	h := Handlers{
		Credit:       handler.NewCreditHandler(stubCredits{}, stubCheckout{}, v, lg),
		Restoration:  handler.NewRestorationHandler(stubRestorations{}, stubUploads{}, v, lg),
		Notification: handler.NewNotificationHandler(stubWelcome{}, v, lg),
		DLQ:          handler.NewDLQHandler(stubDLQ{}, lg),
		Upload:       handler.NewUploadHandler(stubUploads{}, 0, lg),
		StripeWebhook: func(w http.ResponseWriter, r *http.Request) {
			webhookHit = true
			w.WriteHeader(http.StatusOK)
		},
		NotificationPush: func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusNoContent)
		},
	}
	return NewHandler(cfg, h, lg), &webhookHit
}

func sessionToken(t *testing.T, userID string) string {
	t.Helper()
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub":   userID,
		"email": "ada@example.com",
		"exp":   time.Now().Add(time.Hour).Unix(),
	}).SignedString([]byte(testSecret))
	require.NoError(t, err)
	return token
}

func TestRouter_Auth(t *testing.T) {
	srv, _ := newTestHandler(t)

	tests := []struct {
		name       string
		method     string
		path       string
		token      bool
		body       string
		wantStatus int
	}{
		{name: "health is public", method: http.MethodGet, path: "/v1/healthz", wantStatus: http.StatusOK},
		{name: "packages are public", method: http.MethodGet, path: "/v1/packages", wantStatus: http.StatusOK},
		{name: "openapi is public", method: http.MethodGet, path: "/v1/openapi.json", wantStatus: http.StatusOK},
		{name: "credits need a session", method: http.MethodGet, path: "/v1/credits", wantStatus: http.StatusUnauthorized},
		{name: "credits with a session", method: http.MethodGet, path: "/v1/credits", token: true, wantStatus: http.StatusOK},
		{
			name:       "restore without credits is a paywall",
			method:     http.MethodPost,
			path:       "/v1/restorations",
			token:      true,
			body:       `{"image_url":"https://cdn.example.com/a.jpg"}`,
			wantStatus: http.StatusPaymentRequired,
		},
		{name: "push needs an OIDC token", method: http.MethodPost, path: "/v1/notifications/push", body: `{}`, wantStatus: http.StatusUnauthorized},
		{name: "dlq needs an OIDC token", method: http.MethodPost, path: "/v1/dlq/record", body: `{}`, wantStatus: http.StatusUnauthorized},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(tt.method, tt.path, strings.NewReader(tt.body))
			if tt.body != "" {
				req.Header.Set("Content-Type", "application/json")
			}
			if tt.token {
				req.Header.Set("Authorization", "Bearer "+sessionToken(t, "user-1"))
			}
			rec := httptest.NewRecorder()
			srv.ServeHTTP(rec, req)
			assert.Equal(t, tt.wantStatus, rec.Code, rec.Body.String())
		})
	}
}

func TestRouter_StripeWebhookSkipsSessionAuth(t *testing.T) {
	srv, hit := newTestHandler(t)

	req := httptest.NewRequest(http.MethodPost, "/v1/webhooks/stripe", strings.NewReader(`{}`))
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, *hit)
}

func TestRouter_RedirectsToV1(t *testing.T) {
	srv, _ := newTestHandler(t)

	req := httptest.NewRequest(http.MethodGet, "/credits", nil)
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusMovedPermanently, rec.Code)
	assert.Equal(t, "/v1/credits", rec.Header().Get("Location"))
}
