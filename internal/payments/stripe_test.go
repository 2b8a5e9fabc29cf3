package payments

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"testing"

	stripe "github.com/stripe/stripe-go/v74"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeIntents replays intents by idempotency key the way Stripe does.
type fakeIntents struct {
	holdErr     error
	captureErrs []error
	statusAfter stripe.PaymentIntentStatus // status a new hold lands in
	cancelErr   error

	byKey    map[string]string
	status   map[string]stripe.PaymentIntentStatus
	keys     []string
	captured []string
	canceled []string
}

func newFakeIntents() *fakeIntents {
	return &fakeIntents{
		statusAfter: stripe.PaymentIntentStatusRequiresCapture,
		byKey:       map[string]string{},
		status:      map[string]stripe.PaymentIntentStatus{},
	}
}

func (f *fakeIntents) Hold(_ context.Context, _ int64, _, _, key string) (string, error) {
	f.keys = append(f.keys, key)
	if f.holdErr != nil {
		return "", f.holdErr
	}
	if id, ok := f.byKey[key]; ok {
		return id, nil
	}
	id := fmt.Sprintf("pi_%d", len(f.byKey)+1)
	f.byKey[key] = id
	f.status[id] = f.statusAfter
	return id, nil
}

func (f *fakeIntents) Status(_ context.Context, id string) (stripe.PaymentIntentStatus, error) {
	return f.status[id], nil
}

func (f *fakeIntents) Capture(_ context.Context, id string) (stripe.PaymentIntentStatus, error) {
	if len(f.captureErrs) > 0 {
		err := f.captureErrs[0]
		f.captureErrs = f.captureErrs[1:]
		return "", err
	}
	if f.status[id] != stripe.PaymentIntentStatusRequiresCapture {
		return "", fmt.Errorf("intent is %s", f.status[id])
	}
	f.status[id] = stripe.PaymentIntentStatusSucceeded
	f.captured = append(f.captured, id)
	return f.status[id], nil
}

func (f *fakeIntents) Cancel(_ context.Context, id string) error {
	f.canceled = append(f.canceled, id)
	if f.cancelErr != nil {
		return f.cancelErr
	}
	f.status[id] = stripe.PaymentIntentStatusCanceled
	return nil
}

func TestStripeSettlerCaptures(t *testing.T) {
	f := newFakeIntents()
	s := &StripeSettler{client: f, currency: "inr"}
	require.NoError(t, s.ConfirmSettlement(context.Background(), "req-1", 500))
	assert.Equal(t, []string{"settle-req-1"}, f.keys)
	assert.Equal(t, []string{"pi_1"}, f.captured)

	require.NoError(t, s.ConfirmSettlement(context.Background(), "req-1", 500), "a settled request stays settled")
	assert.Equal(t, []string{"pi_1"}, f.captured, "no second capture")
}

func TestStripeSettlerResumesAfterFailedCapture(t *testing.T) {
	f := newFakeIntents()
	f.captureErrs = []error{errors.New("transient timeout")}
	s := &StripeSettler{client: f, currency: "inr"}
	ctx := context.Background()

	assert.ErrorContains(t, s.ConfirmSettlement(ctx, "req-1", 500), "transient timeout")
	assert.Empty(t, f.canceled, "the hold survives a failed capture")

	require.NoError(t, s.ConfirmSettlement(ctx, "req-1", 500))
	assert.Equal(t, []string{"pi_1"}, f.captured)
	assert.Len(t, f.byKey, 1, "the retry reuses the held intent")
}

func TestStripeSettlerReplacesCancelledIntent(t *testing.T) {
	f := newFakeIntents()
	s := &StripeSettler{client: f, currency: "inr"}
	ctx := context.Background()

	id, err := f.Hold(ctx, 500, "inr", "", "settle-req-1")
	require.NoError(t, err)
	require.NoError(t, f.Cancel(ctx, id))

	require.NoError(t, s.ConfirmSettlement(ctx, "req-1", 500))
	assert.Equal(t, []string{"pi_2"}, f.captured)
	assert.Equal(t, "settle-req-1-pi_1", f.keys[len(f.keys)-1])
}

func TestStripeSettlerFailures(t *testing.T) {
	ctx := context.Background()

	f := newFakeIntents()
	f.holdErr = errors.New("card declined")
	s := &StripeSettler{client: f}
	assert.ErrorContains(t, s.ConfirmSettlement(ctx, "r", 500), "card declined")

	var logs bytes.Buffer
	f = newFakeIntents()
	f.statusAfter = stripe.PaymentIntentStatusRequiresAction
	f.cancelErr = errors.New("stripe unavailable")
	s = &StripeSettler{client: f, logger: slog.New(slog.NewJSONHandler(&logs, nil))}
	assert.ErrorContains(t, s.ConfirmSettlement(ctx, "r", 500), "requires_action")
	assert.Equal(t, []string{"pi_1"}, f.canceled, "an unusable hold is released")
	assert.Contains(t, logs.String(), "cancel payment intent failed")
	assert.Contains(t, logs.String(), "stripe unavailable")

	assert.Error(t, s.ConfirmSettlement(ctx, "r", 0))
}

func TestTrustedSettler(t *testing.T) {
	assert.NoError(t, TrustedSettler{}.ConfirmSettlement(context.Background(), "r", 1))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, TrustedSettler{}.ConfirmSettlement(ctx, "r", 1), context.Canceled)
}
