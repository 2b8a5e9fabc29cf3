// Package payments confirms that a completed transport has been paid for.
package payments

import "context"

// Settler is the settlement port. A nil error means the amount is captured.
type Settler interface {
	ConfirmSettlement(ctx context.Context, requestID string, amount int64) error
}

// TrustedSettler accepts the amount reported by the caller. It backs deployments where fares
// are collected outside the platform (cash, insurer billing).
type TrustedSettler struct{}

func (TrustedSettler) ConfirmSettlement(ctx context.Context, _ string, _ int64) error {
	return ctx.Err()
}
