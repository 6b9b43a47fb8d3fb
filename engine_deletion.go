package authcore

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/MrEthical07/authcore/deletion"
)

// RequestAccountDeletion starts deletion of userID and returns the
// single-use confirmation token. Requesting again replaces the token.
func (e *Engine) RequestAccountDeletion(ctx context.Context, userID string) (*DeletionTicket, error) {
	if e == nil {
		return nil, ErrEngineNotReady
	}
	ticket, err := e.deletion.Request(ctx, userID)
	if err != nil {
		err = e.fail(deletionError(err))
		e.emitAudit(ctx, auditEventDeletionRequested, false, userID, "", err, nil)
		return nil, err
	}
	e.metricInc(MetricDeletionRequested)
	e.emitAudit(ctx, auditEventDeletionRequested, true, userID, "", nil, nil)
	return &DeletionTicket{Token: ticket.Token, ExpiresAt: ticket.ExpiresAt}, nil
}

// ConfirmAccountDeletion consumes token and schedules the deletion after
// the grace period.
func (e *Engine) ConfirmAccountDeletion(ctx context.Context, token string) (*DeletionStatus, error) {
	if e == nil {
		return nil, ErrEngineNotReady
	}
	u, err := e.deletion.Confirm(ctx, token)
	if err != nil {
		err = e.fail(deletionError(err))
		e.emitAudit(ctx, auditEventDeletionConfirmed, false, "", "", err, nil)
		return nil, err
	}
	e.invalidateUser(ctx, u.ID)
	e.metricInc(MetricDeletionConfirmed)
	e.emitAudit(ctx, auditEventDeletionConfirmed, true, u.ID, "", nil, func() map[string]string {
		return map[string]string{"scheduled_for": u.DeletionScheduledFor.UTC().Format(time.RFC3339)}
	})
	return &DeletionStatus{
		UserID:       u.ID,
		State:        deletion.StateConfirmed,
		RequestedAt:  u.DeletionRequestedAt,
		ConfirmedAt:  u.DeletionConfirmedAt,
		ScheduledFor: u.DeletionScheduledFor,
	}, nil
}

// CancelAccountDeletion returns userID to active while that is still allowed.
func (e *Engine) CancelAccountDeletion(ctx context.Context, userID string) error {
	if e == nil {
		return ErrEngineNotReady
	}
	if err := e.deletion.Cancel(ctx, userID); err != nil {
		err = e.fail(deletionError(err))
		e.emitAudit(ctx, auditEventDeletionCancelled, false, userID, "", err, nil)
		return err
	}
	e.invalidateUser(ctx, userID)
	e.metricInc(MetricDeletionCancelled)
	e.emitAudit(ctx, auditEventDeletionCancelled, true, userID, "", nil, nil)
	return nil
}

// AccountDeletionStatus reports the deletion state of userID.
func (e *Engine) AccountDeletionStatus(ctx context.Context, userID string) (*DeletionStatus, error) {
	if e == nil {
		return nil, ErrEngineNotReady
	}
	st, err := e.deletion.Status(ctx, userID)
	if err != nil {
		return nil, e.fail(deletionError(err))
	}
	return &DeletionStatus{
		UserID:       userID,
		State:        st.State,
		RequestedAt:  st.RequestedAt,
		ConfirmedAt:  st.ConfirmedAt,
		ScheduledFor: st.ScheduledFor,
	}, nil
}

// ExecuteScheduledDeletions deletes every account whose grace period ended.
// Per-account failures are reported in the result.
func (e *Engine) ExecuteScheduledDeletions(ctx context.Context) (*SweepResult, error) {
	if e == nil {
		return nil, ErrEngineNotReady
	}
	res, err := e.deletion.ExecuteScheduled(ctx)
	out := &SweepResult{Deleted: res.Deleted, Failed: map[string]string{}}
	for _, userID := range res.Deleted {
		e.invalidateUser(ctx, userID)
		e.metricInc(MetricAccountDeleted)
		e.emitAudit(ctx, auditEventAccountDeleted, true, userID, "", nil, nil)
	}
	for userID, failure := range res.Failed {
		mapped := deletionError(failure)
		out.Failed[userID] = mapped.Error()
		e.metricInc(MetricDeletionSweepFailure)
		e.emitAudit(ctx, auditEventDeletionFailed, false, userID, "", mapped, nil)
	}
	if err != nil {
		e.logger.Error("account deletion sweep aborted", zap.Error(err))
		return out, e.fail(fmt.Errorf("list due accounts: %w", storeError(err)))
	}
	return out, nil
}
