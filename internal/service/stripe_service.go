package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"photorestore/internal/config"
	"photorestore/internal/model"
	"photorestore/internal/repository"

	"github.com/rs/zerolog"
	"github.com/stripe/stripe-go/v82"
	checkoutsession "github.com/stripe/stripe-go/v82/checkout/session"
	"github.com/stripe/stripe-go/v82/webhook"
)

const maxWebhookBytes = 65536

// ErrUnknownPackage is returned when checkout is requested for a pack that is not on sale.
var ErrUnknownPackage = errors.New("unknown credit package")

// WebhookError carries the HTTP status Stripe should see for a rejected event.
type WebhookError struct {
	Status int
	Msg    string
	Err    error
}

func (e *WebhookError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Msg, e.Err)
	}
	return e.Msg
}

func (e *WebhookError) Unwrap() error { return e.Err }

// SessionCreator creates a Checkout session. checkoutsession.New in production.
type SessionCreator func(params *stripe.CheckoutSessionParams) (*stripe.CheckoutSession, error)

// StripeService sells credit packs and applies completed payments to the ledger.
type StripeService struct {
	cfg        *config.Config
	credits    repository.CreditRepository
	newSession SessionCreator
	logger     zerolog.Logger
}

func NewStripeService(cfg *config.Config, credits repository.CreditRepository, logger zerolog.Logger) *StripeService {
	stripe.Key = cfg.StripeSecretKey
	return &StripeService{
		cfg:        cfg,
		credits:    credits,
		newSession: checkoutsession.New,
		logger:     logger.With().Str("service", "StripeService").Logger(),
	}
}

// WithSessionCreator swaps the Checkout client, for tests.
func (s *StripeService) WithSessionCreator(fn SessionCreator) *StripeService {
	s.newSession = fn
	return s
}

// CreateCheckoutSession starts a one-off payment for pkg and returns the hosted page URL.
func (s *StripeService) CreateCheckoutSession(ctx context.Context, userID, email string, pkg model.PackageType) (string, error) {
	if strings.TrimSpace(userID) == "" {
		return "", ErrAuthRequired
	}
	pack, ok := model.FindCreditPack(pkg)
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrUnknownPackage, pkg)
	}

	params := &stripe.CheckoutSessionParams{
		Mode:              stripe.String(string(stripe.CheckoutSessionModePayment)),
		ClientReferenceID: stripe.String(userID),
		LineItems: []*stripe.CheckoutSessionLineItemParams{{
			PriceData: &stripe.CheckoutSessionLineItemPriceDataParams{
				Currency:   stripe.String(s.cfg.StripeCurrency),
				UnitAmount: stripe.Int64(pack.AmountCents),
				ProductData: &stripe.CheckoutSessionLineItemPriceDataProductDataParams{
					Name: stripe.String(fmt.Sprintf("%s pack (%d restorations)", pack.Name, pack.Credits)),
				},
			},
			Quantity: stripe.Int64(1),
		}},
		SuccessURL: stripe.String(strings.TrimRight(s.cfg.AppBaseURL, "/") + "/dashboard?payment=success"),
		CancelURL:  stripe.String(strings.TrimRight(s.cfg.AppBaseURL, "/") + "/pricing?payment=cancelled"),
		Metadata: map[string]string{
			"user_id": userID,
			"credits": strconv.Itoa(pack.Credits),
			"package": string(pack.Package),
		},
	}
	if email != "" {
		params.CustomerEmail = stripe.String(email)
	}
	params.Context = ctx

	sess, err := s.newSession(params)
	if err != nil {
		s.logger.Error().Err(err).Str("user_id", userID).Str("package", string(pkg)).Msg("Failed to create Stripe checkout session")
		return "", fmt.Errorf("create checkout session: %w", err)
	}
	s.logger.Info().Str("user_id", userID).Str("package", string(pkg)).Str("session_id", sess.ID).Msg("Checkout session created")
	return sess.URL, nil
}

// HandleWebhook is the raw http.HandlerFunc for POST /webhooks/stripe.
func (s *StripeService) HandleWebhook(w http.ResponseWriter, r *http.Request) {
	payload, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxWebhookBytes))
	if err != nil {
		s.logger.Error().Err(err).Msg("Failed to read Stripe webhook payload")
		http.Error(w, "failed to read payload", http.StatusBadRequest)
		return
	}
	if err := s.ProcessEvent(r.Context(), payload, r.Header.Get("Stripe-Signature")); err != nil {
		var whErr *WebhookError
		if errors.As(err, &whErr) {
			http.Error(w, whErr.Msg, whErr.Status)
			return
		}
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusOK)
}

// ProcessEvent verifies and applies one webhook delivery. A nil error means
// the event should be acknowledged, including ignored and duplicate events.
func (s *StripeService) ProcessEvent(ctx context.Context, payload []byte, signature string) error {
	if signature == "" {
		s.logger.Warn().Msg("Stripe webhook without signature")
		return &WebhookError{Status: http.StatusBadRequest, Msg: "missing signature"}
	}
	event, err := webhook.ConstructEventWithOptions(payload, signature, s.cfg.StripeWebhookSecret,
		webhook.ConstructEventOptions{IgnoreAPIVersionMismatch: true})
	if err != nil {
		s.logger.Error().Err(err).Msg("Signature verification failed for Stripe webhook")
		return &WebhookError{Status: http.StatusBadRequest, Msg: "signature verification failed", Err: err}
	}

	log := s.logger.With().Str("event_id", event.ID).Str("event_type", string(event.Type)).Logger()
	log.Info().Msg("Stripe webhook received")

	if event.Type != stripe.EventTypeCheckoutSessionCompleted {
		log.Debug().Msg("Ignoring Stripe event")
		return nil
	}

	var cs stripe.CheckoutSession
	if err := json.Unmarshal(event.Data.Raw, &cs); err != nil {
		log.Error().Err(err).Msg("Invalid checkout.session data")
		return &WebhookError{Status: http.StatusBadRequest, Msg: "invalid checkout.session data", Err: err}
	}

	userID := strings.TrimSpace(cs.Metadata["user_id"])
	if userID == "" {
		log.Error().Str("session_id", cs.ID).Msg("Missing user_id in checkout session metadata")
		return &WebhookError{Status: http.StatusBadRequest, Msg: "missing user_id in metadata"}
	}
	credits, err := strconv.Atoi(strings.TrimSpace(cs.Metadata["credits"]))
	if err != nil || credits <= 0 {
		log.Error().Str("session_id", cs.ID).Str("credits", cs.Metadata["credits"]).Msg("Invalid credits in checkout session metadata")
		return &WebhookError{Status: http.StatusBadRequest, Msg: "invalid credits in metadata"}
	}

	if cs.PaymentStatus == stripe.CheckoutSessionPaymentStatusUnpaid {
		log.Info().Str("session_id", cs.ID).Str("user_id", userID).Msg("Checkout completed without payment, not crediting")
		return nil
	}

	pkg := packageFor(cs.Metadata["package"], credits)
	acct, applied, err := s.credits.CreditForEvent(ctx, event.ID, string(event.Type), repository.CreditInput{
		UserID:  userID,
		Amount:  credits,
		Package: pkg,
		Paid:    true,
	})
	if err != nil {
		log.Error().Err(err).Str("user_id", userID).Msg("Failed to credit account")
		return &WebhookError{Status: http.StatusInternalServerError, Msg: "failed to credit account", Err: err}
	}
	if !applied {
		log.Info().Str("user_id", userID).Msg("Duplicate Stripe event, already credited")
		return nil
	}
	log.Info().
		Str("user_id", userID).
		Int("credits", credits).
		Int("remaining", acct.RemainingRestorations).
		Msg("Credits added")
	return nil
}

// packageFor trusts the package named in metadata when it is a paid pack and
// otherwise infers it from the credit count. Empty leaves package_type as is.
func packageFor(raw string, credits int) model.PackageType {
	if p := model.PackageType(strings.TrimSpace(raw)); p.Paid() {
		return p
	}
	for _, pack := range model.CreditPacks {
		if pack.Credits == credits {
			return pack.Package
		}
	}
	return ""
}
