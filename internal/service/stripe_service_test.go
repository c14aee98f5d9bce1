package service

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"photorestore/internal/config"
	"photorestore/internal/logger"
	"photorestore/internal/model"
	"photorestore/internal/repository"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/webhook"
)

const testWebhookSecret = "whsec_test"

func newTestStripeService(repo *MockCreditRepo) *StripeService {
	cfg := &config.Config{
		StripeSecretKey:     "sk_test_x",
		StripeWebhookSecret: testWebhookSecret,
		StripeCurrency:      "usd",
		AppBaseURL:          "https://app.example.com/",
	}
	return NewStripeService(cfg, repo, logger.Nop())
}

func checkoutEvent(eventID, paymentStatus string, metadata string) []byte {
	return []byte(fmt.Sprintf(`{
		"id": %q,
		"object": "event",
		"type": "checkout.session.completed",
		"api_version": "2020-08-27",
		"data": {"object": {
			"id": "cs_test_1",
			"object": "checkout.session",
			"payment_status": %q,
			"metadata": %s
		}}
	}`, eventID, paymentStatus, metadata))
}

func sign(payload []byte) string {
	return webhook.GenerateTestSignedPayload(&webhook.UnsignedPayload{Payload: payload, Secret: testWebhookSecret}).Header
}

func TestProcessEvent_CreditsOnce(t *testing.T) {
	repo := &MockCreditRepo{}
	svc := newTestStripeService(repo)
	payload := checkoutEvent("evt_1", "paid", `{"user_id":"u1","credits":"10","package":"creator"}`)

	in := repository.CreditInput{UserID: "u1", Amount: 10, Package: model.PackageCreator, Paid: true}
	repo.On("CreditForEvent", mock.Anything, "evt_1", "checkout.session.completed", in).
		Return(&model.CreditAccount{UserID: "u1", RemainingRestorations: 10}, true, nil).Once()
	repo.On("CreditForEvent", mock.Anything, "evt_1", "checkout.session.completed", in).
		Return(nil, false, nil).Once()

	require.NoError(t, svc.ProcessEvent(context.Background(), payload, sign(payload)))
	require.NoError(t, svc.ProcessEvent(context.Background(), payload, sign(payload)))
	repo.AssertNumberOfCalls(t, "CreditForEvent", 2)
}

func TestProcessEvent_Rejections(t *testing.T) {
	tests := []struct {
		name       string
		payload    []byte
		signature  func([]byte) string
		wantStatus int
	}{
		{
			name:       "missing signature",
			payload:    checkoutEvent("evt_2", "paid", `{"user_id":"u1","credits":"1"}`),
			signature:  func([]byte) string { return "" },
			wantStatus: http.StatusBadRequest,
		},
		{
			name:       "forged signature",
			payload:    checkoutEvent("evt_2", "paid", `{"user_id":"u1","credits":"1"}`),
			signature:  func([]byte) string { return "t=1,v1=deadbeef" },
			wantStatus: http.StatusBadRequest,
		},
		{
			name:       "missing user id",
			payload:    checkoutEvent("evt_3", "paid", `{"credits":"1"}`),
			signature:  sign,
			wantStatus: http.StatusBadRequest,
		},
		{
			name:       "non numeric credits",
			payload:    checkoutEvent("evt_4", "paid", `{"user_id":"u1","credits":"ten"}`),
			signature:  sign,
			wantStatus: http.StatusBadRequest,
		},
		{
			name:       "zero credits",
			payload:    checkoutEvent("evt_5", "paid", `{"user_id":"u1","credits":"0"}`),
			signature:  sign,
			wantStatus: http.StatusBadRequest,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			repo := &MockCreditRepo{}
			svc := newTestStripeService(repo)

			err := svc.ProcessEvent(context.Background(), tt.payload, tt.signature(tt.payload))
			var whErr *WebhookError
			require.ErrorAs(t, err, &whErr)
			assert.Equal(t, tt.wantStatus, whErr.Status)
			repo.AssertNotCalled(t, "CreditForEvent", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
		})
	}
}

func TestProcessEvent_AcknowledgedWithoutCredit(t *testing.T) {
	repo := &MockCreditRepo{}
	svc := newTestStripeService(repo)

	unpaid := checkoutEvent("evt_6", "unpaid", `{"user_id":"u1","credits":"1"}`)
	require.NoError(t, svc.ProcessEvent(context.Background(), unpaid, sign(unpaid)))

	other := []byte(`{"id":"evt_7","object":"event","type":"invoice.paid","api_version":"2020-08-27","data":{"object":{"id":"in_1","object":"invoice"}}}`)
	require.NoError(t, svc.ProcessEvent(context.Background(), other, sign(other)))

	repo.AssertNotCalled(t, "CreditForEvent", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestHandleWebhook_DatabaseFailureIs500(t *testing.T) {
	repo := &MockCreditRepo{}
	svc := newTestStripeService(repo)
	repo.On("CreditForEvent", mock.Anything, "evt_8", mock.Anything, mock.Anything).Return(nil, false, errors.New("conn reset"))

	payload := checkoutEvent("evt_8", "paid", `{"user_id":"u1","credits":"50"}`)
	req := httptest.NewRequest(http.MethodPost, "/webhooks/stripe", strings.NewReader(string(payload)))
	req.Header.Set("Stripe-Signature", sign(payload))
	rec := httptest.NewRecorder()

	svc.HandleWebhook(rec, req)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)

	in := repo.Calls[0].Arguments.Get(3).(repository.CreditInput)
	assert.Equal(t, model.PackageArchive, in.Package)
}

func TestPackageFor(t *testing.T) {
	assert.Equal(t, model.PackageStarter, packageFor("starter", 99))
	assert.Equal(t, model.PackageCreator, packageFor("", 10))
	assert.Equal(t, model.PackageCreator, packageFor("free", 10))
	assert.Equal(t, model.PackageType(""), packageFor("gold", 7))
}

func TestCreateCheckoutSession(t *testing.T) {
	var got *stripe.CheckoutSessionParams
	svc := newTestStripeService(&MockCreditRepo{}).WithSessionCreator(func(p *stripe.CheckoutSessionParams) (*stripe.CheckoutSession, error) {
		got = p
		return &stripe.CheckoutSession{ID: "cs_1", URL: "https://checkout.stripe.com/c/cs_1"}, nil
	})

	url, err := svc.CreateCheckoutSession(context.Background(), "u1", "a@example.com", model.PackageCreator)
	require.NoError(t, err)
	assert.Equal(t, "https://checkout.stripe.com/c/cs_1", url)
	assert.Equal(t, "payment", *got.Mode)
	assert.Equal(t, "u1", *got.ClientReferenceID)
	assert.Equal(t, map[string]string{"user_id": "u1", "credits": "10", "package": "creator"}, got.Metadata)
	assert.Equal(t, int64(5000), *got.LineItems[0].PriceData.UnitAmount)
	assert.Equal(t, "https://app.example.com/dashboard?payment=success", *got.SuccessURL)

	_, err = svc.CreateCheckoutSession(context.Background(), "u1", "", model.PackageFree)
	assert.ErrorIs(t, err, ErrUnknownPackage)
}
