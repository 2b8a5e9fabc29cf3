package payments

import (
	"context"
	"fmt"
	"log/slog"

	stripe "github.com/stripe/stripe-go/v74"
	"github.com/stripe/stripe-go/v74/paymentintent"
)

// StripeClient is a thin wrapper around stripe-go for PaymentIntent hold/capture/cancel flows.
type StripeClient struct{}

// NewStripeClient initializes the stripe client with the given secret key.
func NewStripeClient(apiKey string) *StripeClient {
	stripe.Key = apiKey
	return &StripeClient{}
}

// Hold creates a PaymentIntent with capture_method=manual to hold funds.
// The idempotency key makes retries for the same request return the same intent.
func (s *StripeClient) Hold(ctx context.Context, amount int64, currency, paymentMethod, idempotencyKey string) (string, error) {
	params := &stripe.PaymentIntentParams{
		Amount:        stripe.Int64(amount),
		Currency:      stripe.String(currency),
		CaptureMethod: stripe.String(string(stripe.PaymentIntentCaptureMethodManual)),
		Confirm:       stripe.Bool(true),
	}
	if paymentMethod != "" {
		params.PaymentMethod = stripe.String(paymentMethod)
	}
	params.Context = ctx
	params.SetIdempotencyKey(idempotencyKey)
	pi, err := paymentintent.New(params)
	if err != nil {
		return "", err
	}
	return pi.ID, nil
}

// Capture finalizes a previously-held PaymentIntent.
func (s *StripeClient) Capture(ctx context.Context, paymentIntentID string) (stripe.PaymentIntentStatus, error) {
	params := &stripe.PaymentIntentCaptureParams{}
	params.Context = ctx
	pi, err := paymentintent.Capture(paymentIntentID, params)
	if err != nil {
		return "", err
	}
	return pi.Status, nil
}

// Status reads the current state of a PaymentIntent. Idempotent replays of Hold return the
// response saved at creation, so callers check here before acting on an intent.
func (s *StripeClient) Status(ctx context.Context, paymentIntentID string) (stripe.PaymentIntentStatus, error) {
	params := &stripe.PaymentIntentParams{}
	params.Context = ctx
	pi, err := paymentintent.Get(paymentIntentID, params)
	if err != nil {
		return "", err
	}
	return pi.Status, nil
}

// Cancel releases the hold on a PaymentIntent.
func (s *StripeClient) Cancel(ctx context.Context, paymentIntentID string) error {
	params := &stripe.PaymentIntentCancelParams{}
	params.Context = ctx
	_, err := paymentintent.Cancel(paymentIntentID, params)
	return err
}

// intents is the subset of StripeClient the settler needs.
type intents interface {
	Hold(ctx context.Context, amount int64, currency, paymentMethod, idempotencyKey string) (string, error)
	Status(ctx context.Context, paymentIntentID string) (stripe.PaymentIntentStatus, error)
	Capture(ctx context.Context, paymentIntentID string) (stripe.PaymentIntentStatus, error)
	Cancel(ctx context.Context, paymentIntentID string) error
}

// maxHolds bounds how many cancelled intents a single settlement walks past.
const maxHolds = 3

// StripeSettler settles a fare by holding and capturing a PaymentIntent keyed by request.
// A failed capture leaves the hold in place so the next attempt resumes it; an intent that
// was cancelled is replaced under a key derived from its id.
type StripeSettler struct {
	client        intents
	currency      string
	paymentMethod string
	logger        *slog.Logger
}

func NewStripeSettler(client *StripeClient, currency, paymentMethod string, logger *slog.Logger) *StripeSettler {
	if logger == nil {
		logger = slog.Default()
	}
	return &StripeSettler{client: client, currency: currency, paymentMethod: paymentMethod, logger: logger}
}

func (s *StripeSettler) ConfirmSettlement(ctx context.Context, requestID string, amount int64) error {
	if amount <= 0 {
		return fmt.Errorf("settle %s: amount must be positive", requestID)
	}
	key := "settle-" + requestID
	for range maxHolds {
		id, err := s.client.Hold(ctx, amount, s.currency, s.paymentMethod, key)
		if err != nil {
			return fmt.Errorf("hold %s: %w", requestID, err)
		}
		status, err := s.client.Status(ctx, id)
		if err != nil {
			return fmt.Errorf("read intent %s for %s: %w", id, requestID, err)
		}
		switch status {
		case stripe.PaymentIntentStatusSucceeded:
			return nil
		case stripe.PaymentIntentStatusRequiresCapture:
			return s.capture(ctx, requestID, id)
		case stripe.PaymentIntentStatusCanceled:
			key = "settle-" + requestID + "-" + id
			continue
		}
		s.cancel(ctx, requestID, id)
		return fmt.Errorf("hold %s: payment intent %s is %s", requestID, id, status)
	}
	return fmt.Errorf("settle %s: gave up after %d cancelled payment intents", requestID, maxHolds)
}

func (s *StripeSettler) capture(ctx context.Context, requestID, id string) error {
	status, err := s.client.Capture(ctx, id)
	if err != nil {
		return fmt.Errorf("capture %s: %w", requestID, err)
	}
	if status != stripe.PaymentIntentStatusSucceeded {
		return fmt.Errorf("capture %s: payment intent %s is %s", requestID, id, status)
	}
	return nil
}

func (s *StripeSettler) cancel(ctx context.Context, requestID, id string) {
	if err := s.client.Cancel(context.WithoutCancel(ctx), id); err != nil {
		logger := s.logger
		if logger == nil {
			logger = slog.Default()
		}
		logger.Warn("cancel payment intent failed", "request_id", requestID, "payment_intent", id, "err", err)
	}
}
