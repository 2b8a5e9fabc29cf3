package coordinator

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/example/emergency-dispatch/internal/apperr"
	"github.com/example/emergency-dispatch/internal/geo"
	"github.com/example/emergency-dispatch/internal/models"
	"github.com/example/emergency-dispatch/internal/notify"
	"github.com/example/emergency-dispatch/internal/observability"
)

type AcceptCommand struct {
	RequestID  string
	ResourceID string
}

// Accept assigns the request to the first offered resource that reaches it. The request lock is
// held across the fleet claim so the request transition and the resource flip commit together.
func (s *Service) Accept(ctx context.Context, cmd AcceptCommand) (*models.TransportRequest, error) {
	if strings.TrimSpace(cmd.ResourceID) == "" {
		return nil, apperr.Validation("resource id is required")
	}
	e, err := s.lookup(cmd.RequestID)
	if err != nil {
		return nil, err
	}

	e.mu.Lock()
	r := e.req
	if r.AssignedResourceID != "" {
		e.mu.Unlock()
		observability.AcceptConflicts.Inc()
		return nil, apperr.Conflict("request %s already assigned", r.ID)
	}
	if r.State != models.StateBroadcasting {
		e.mu.Unlock()
		observability.AcceptConflicts.Inc()
		return nil, apperr.Conflict("request %s is %s", r.ID, r.State)
	}
	if !slices.Contains(r.OfferedTo, cmd.ResourceID) {
		e.mu.Unlock()
		return nil, apperr.Conflict("request %s was not offered to resource %s", r.ID, cmd.ResourceID)
	}

	// The claim outlives the caller: a cancelled caller must not abandon a claim that landed.
	cctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.opts.OfferTimeout)
	err = s.opts.Fleet.Claim(cctx, cmd.ResourceID, r.ID)
	cancel()
	if err != nil {
		switch {
		case errors.Is(err, geo.ErrUnavailable):
			e.mu.Unlock()
			observability.AcceptConflicts.Inc()
			return nil, apperr.Conflict("resource %s is committed elsewhere", cmd.ResourceID)
		case errors.Is(err, geo.ErrUnknownResource):
			e.mu.Unlock()
			return nil, apperr.NotFound("resource %s", cmd.ResourceID)
		}
		// Outcome unknown: the claim may have been applied before the reply was lost.
		if !s.release(ctx, cmd.ResourceID, r.ID) && !slices.Contains(e.orphans, cmd.ResourceID) {
			e.orphans = append(e.orphans, cmd.ResourceID)
		}
		e.mu.Unlock()
		return nil, fmt.Errorf("claim resource %s: %w", cmd.ResourceID, err)
	}

	now := s.now()
	if err := advance(r, models.StateAccepted, now); err != nil {
		s.release(ctx, cmd.ResourceID, r.ID)
		e.mu.Unlock()
		return nil, err
	}
	r.AssignedResourceID = cmd.ResourceID
	r.AcceptedAt = &now
	e.orphans = slices.DeleteFunc(e.orphans, func(id string) bool { return id == cmd.ResourceID })
	s.releaseOrphans(ctx, e)
	snap := snapshot(r)
	e.mu.Unlock()

	observability.AcceptLatency.Observe(now.Sub(snap.CreatedAt).Seconds())
	s.logger.Info("request accepted", "request_id", snap.ID, "resource_id", snap.AssignedResourceID)
	s.notify(ctx, requesterParty(snap), notify.TemplateRequestAccepted, map[string]string{
		"request_id":  snap.ID,
		"resource_id": snap.AssignedResourceID,
	})
	s.publish(ctx, "request.accepted", snap)
	return snap, nil
}

// IssueCode generates a fresh one-time code and sends it to the requester only. Issuing again
// replaces the previous code and restarts the window.
func (s *Service) IssueCode(ctx context.Context, requestID string) (time.Time, error) {
	e, err := s.lookup(requestID)
	if err != nil {
		return time.Time{}, err
	}
	code, err := newCode()
	if err != nil {
		return time.Time{}, err
	}

	e.mu.Lock()
	r := e.req
	if r.State != models.StateAccepted && r.State != models.StateCodeIssued {
		e.mu.Unlock()
		return time.Time{}, apperr.Conflict("request %s is %s, no code can be issued", r.ID, r.State)
	}
	now := s.now()
	if err := advance(r, models.StateCodeIssued, now); err != nil {
		e.mu.Unlock()
		return time.Time{}, err
	}
	expiresAt := now.Add(s.opts.CodeTTL)
	r.OneTimeCode = code
	r.CodeExpiresAt = &expiresAt
	r.CodeAttempts = 0
	snap := snapshot(r)
	e.mu.Unlock()

	s.logger.Info("code issued", "request_id", snap.ID, "expires_at", expiresAt)
	s.notify(ctx, requesterParty(snap), notify.TemplateRideCode, map[string]string{
		"request_id": snap.ID,
		"code":       code,
		"expires_at": expiresAt.Format(time.RFC3339),
	})
	s.publish(ctx, "request.code_issued", snap)
	return expiresAt, nil
}

type VerifyCommand struct {
	RequestID  string
	ResourceID string
	Code       string
}

// VerifyCode starts the trip when the assigned resource presents the requester's code in time.
// A mismatch only bumps the attempt counter. An expired code is cleared.
func (s *Service) VerifyCode(ctx context.Context, cmd VerifyCommand) (*models.TransportRequest, error) {
	e, err := s.lookup(cmd.RequestID)
	if err != nil {
		return nil, err
	}

	e.mu.Lock()
	r := e.req
	if r.AssignedResourceID == "" || r.AssignedResourceID != cmd.ResourceID {
		e.mu.Unlock()
		return nil, apperr.Conflict("resource %s is not assigned to request %s", cmd.ResourceID, r.ID)
	}
	if r.State != models.StateCodeIssued {
		e.mu.Unlock()
		return nil, apperr.Conflict("request %s is %s, no code pending", r.ID, r.State)
	}
	now := s.now()
	if r.OneTimeCode == "" || r.CodeExpiresAt == nil || !now.Before(*r.CodeExpiresAt) {
		clearCode(r, now)
		e.mu.Unlock()
		observability.CodeChecks.WithLabelValues("expired").Inc()
		return nil, apperr.Expired("code for request %s expired, request a new one", cmd.RequestID)
	}
	if !codesMatch(r.OneTimeCode, strings.TrimSpace(cmd.Code)) {
		r.CodeAttempts++
		r.UpdatedAt = now
		attempts := r.CodeAttempts
		e.mu.Unlock()
		observability.CodeChecks.WithLabelValues("mismatch").Inc()
		s.logger.Info("code mismatch", "request_id", cmd.RequestID, "attempts", attempts)
		return nil, fmt.Errorf("%w: request %s", apperr.ErrInvalidCode, cmd.RequestID)
	}
	if err := advance(r, models.StateInProgress, now); err != nil {
		e.mu.Unlock()
		return nil, err
	}
	r.OneTimeCode = ""
	r.CodeExpiresAt = nil
	r.StartedAt = &now
	snap := snapshot(r)
	e.mu.Unlock()

	observability.CodeChecks.WithLabelValues("ok").Inc()
	s.logger.Info("trip started", "request_id", snap.ID, "resource_id", snap.AssignedResourceID)
	s.publish(ctx, "request.in_progress", snap)
	return snap, nil
}

type CompleteCommand struct {
	RequestID string
	FarePaid  int64
}

// Complete settles the fare and frees the resource. Settlement failure blocks the transition.
// Completing an already completed request returns it unchanged.
func (s *Service) Complete(ctx context.Context, cmd CompleteCommand) (*models.TransportRequest, error) {
	if cmd.FarePaid < 0 {
		return nil, apperr.Validation("fare paid must not be negative")
	}
	e, err := s.lookup(cmd.RequestID)
	if err != nil {
		return nil, err
	}

	e.mu.Lock()
	r := e.req
	if r.State == models.StateCompleted {
		snap := snapshot(r)
		e.mu.Unlock()
		return snap, nil
	}
	if r.State != models.StateInProgress {
		e.mu.Unlock()
		return nil, apperr.Conflict("request %s is %s, cannot complete", r.ID, r.State)
	}

	sctx, cancel := context.WithTimeout(ctx, s.opts.SettlementTimeout)
	err = s.opts.Settler.ConfirmSettlement(sctx, r.ID, cmd.FarePaid)
	cancel()
	if err != nil {
		e.mu.Unlock()
		observability.Settlements.WithLabelValues("failed").Inc()
		s.logger.Warn("settlement failed", "request_id", cmd.RequestID, "amount", cmd.FarePaid, "err", err)
		return nil, fmt.Errorf("%w: request %s: %v", apperr.ErrSettlement, cmd.RequestID, err)
	}
	observability.Settlements.WithLabelValues("confirmed").Inc()

	now := s.now()
	if err := advance(r, models.StateCompleted, now); err != nil {
		e.mu.Unlock()
		return nil, err
	}
	r.FarePaid = cmd.FarePaid
	r.CompletedAt = &now
	s.release(ctx, r.AssignedResourceID, r.ID)
	s.releaseOrphans(ctx, e)
	snap := snapshot(r)
	e.mu.Unlock()

	s.logger.Info("request completed", "request_id", snap.ID, "resource_id", snap.AssignedResourceID, "fare_paid", snap.FarePaid)
	s.notify(ctx, requesterParty(snap), notify.TemplateRequestCompleted, map[string]string{
		"request_id": snap.ID,
		"fare_paid":  strconv.FormatInt(snap.FarePaid, 10),
	})
	s.publish(ctx, "request.completed", snap)
	return snap, nil
}

type CancelCommand struct {
	RequestID string
	Reason    string
}

// Cancel ends any non-terminal request and returns its resource to the pool.
func (s *Service) Cancel(ctx context.Context, cmd CancelCommand) (*models.TransportRequest, error) {
	reason := strings.TrimSpace(cmd.Reason)
	if reason == "" {
		return nil, apperr.Validation("cancel reason is required")
	}
	e, err := s.lookup(cmd.RequestID)
	if err != nil {
		return nil, err
	}

	e.mu.Lock()
	r := e.req
	if r.State.Terminal() {
		e.mu.Unlock()
		return nil, apperr.Conflict("request %s is already %s", r.ID, r.State)
	}
	now := s.now()
	if err := advance(r, models.StateCancelled, now); err != nil {
		e.mu.Unlock()
		return nil, err
	}
	r.CancelReason = reason
	r.CancelledAt = &now
	r.OneTimeCode = ""
	r.CodeExpiresAt = nil
	if r.AssignedResourceID != "" {
		s.release(ctx, r.AssignedResourceID, r.ID)
	}
	s.releaseOrphans(ctx, e)
	snap := snapshot(r)
	e.mu.Unlock()

	s.logger.Info("request cancelled", "request_id", snap.ID, "reason", reason)
	vars := map[string]string{"request_id": snap.ID, "reason": reason}
	s.notify(ctx, requesterParty(snap), notify.TemplateRequestCancelled, vars)
	if snap.AssignedResourceID != "" {
		s.notify(ctx, resourceParty(snap.AssignedResourceID), notify.TemplateRequestCancelled, vars)
	}
	s.publish(ctx, "request.cancelled", snap)
	return snap, nil
}

func clearCode(r *models.TransportRequest, now time.Time) {
	r.OneTimeCode = ""
	r.CodeExpiresAt = nil
	r.UpdatedAt = now
}

// release frees a resource held by the request. The transition is not rolled back if the
// fleet is unreachable; the failure is logged for the operator.
func (s *Service) release(ctx context.Context, resourceID, requestID string) bool {
	rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.opts.OfferTimeout)
	defer cancel()
	if err := s.opts.Fleet.Release(rctx, resourceID, requestID); err != nil {
		s.logger.Error("release resource failed", "resource_id", resourceID, "request_id", requestID, "err", err)
		return false
	}
	return true
}

// releaseOrphans retries the compensating release for claims whose outcome was lost.
// Caller holds e.mu.
func (s *Service) releaseOrphans(ctx context.Context, e *entry) {
	e.orphans = slices.DeleteFunc(e.orphans, func(id string) bool {
		return s.release(ctx, id, e.req.ID)
	})
}
