package authcore

import (
	"context"
	"errors"
)

const (
	auditEventRegisterSuccess       = "register_success"
	auditEventRegisterFailure       = "register_failure"
	auditEventLoginSuccess          = "login_success"
	auditEventLoginFailure          = "login_failure"
	auditEventRefreshSuccess        = "refresh_success"
	auditEventRefreshInvalid        = "refresh_invalid"
	auditEventRefreshReuseDetected  = "refresh_reuse_detected"
	auditEventLogoutSession         = "logout_session"
	auditEventLogoutAll             = "logout_all"
	auditEventPasswordChangeSuccess = "password_change_success"
	auditEventPasswordChangeFailure = "password_change_failure"
	auditEventAPIKeyCreated         = "api_key_created"
	auditEventAPIKeyRotated         = "api_key_rotated"
	auditEventAPIKeyRevoked         = "api_key_revoked"
	auditEventAPIKeyStatusChange    = "api_key_status_change"
	auditEventAPIKeyAuthFailure     = "api_key_auth_failure"
	auditEventDeletionRequested     = "account_deletion_requested"
	auditEventDeletionConfirmed     = "account_deletion_confirmed"
	auditEventDeletionCancelled     = "account_deletion_cancelled"
	auditEventAccountDeleted        = "account_deleted"
	auditEventDeletionFailed        = "account_deletion_failed"
	auditEventRateLimitTriggered    = "rate_limit_triggered"
)

// AuditErrorCode is the stable, non-sensitive error label carried by failed
// audit events.
type AuditErrorCode string

const (
	auditErrUnauthorized       AuditErrorCode = "unauthorized"
	auditErrInvalidCredentials AuditErrorCode = "invalid_credentials"
	auditErrRateLimited        AuditErrorCode = "rate_limited"
	auditErrRevoked            AuditErrorCode = "revoked"
	auditErrExpired            AuditErrorCode = "expired"
	auditErrInvalidToken       AuditErrorCode = "invalid_token"
	auditErrNotFound           AuditErrorCode = "not_found"
	auditErrInvalidState       AuditErrorCode = "invalid_state"
	auditErrAccountDisabled    AuditErrorCode = "account_disabled"
	auditErrInvalidInput       AuditErrorCode = "invalid_input"
	auditErrForbidden          AuditErrorCode = "forbidden"
	auditErrInactive           AuditErrorCode = "inactive"
	auditErrDuplicate          AuditErrorCode = "duplicate"
	auditErrUnavailable        AuditErrorCode = "backend_unavailable"
	auditErrInternal           AuditErrorCode = "internal_error"
)

func (e *Engine) emitAudit(
	ctx context.Context,
	eventType string,
	success bool,
	userID string,
	sessionID string,
	err error,
	metadataBuilder func() map[string]string,
) {
	if e == nil || e.audit == nil {
		return
	}

	var metadata map[string]string
	if metadataBuilder != nil {
		metadata = metadataBuilder()
	}

	event := AuditEvent{
		ID:        newAuditEventID(),
		Timestamp: e.clock.Now().UTC(),
		EventType: eventType,
		UserID:    userID,
		SessionID: sessionID,
		RequestID: RequestIDFromContext(ctx),
		IP:        ClientIPFromContext(ctx),
		Success:   success,
		Metadata:  metadata,
	}
	if code := auditErrorCode(err); code != "" {
		event.Error = string(code)
	}

	e.audit.Emit(ctx, event)
}

func (e *Engine) emitRateLimit(ctx context.Context, route, identity string) {
	e.metricInc(MetricRateLimitHit)
	subject, _ := SubjectFromContext(ctx)
	e.emitAudit(ctx, auditEventRateLimitTriggered, false, subject, "", ErrRateLimited, func() map[string]string {
		return map[string]string{
			"route":    route,
			"identity": identity,
		}
	})
}

func auditErrorCode(err error) AuditErrorCode {
	if err == nil {
		return ""
	}

	switch {
	case errors.Is(err, ErrRateLimited):
		return auditErrRateLimited
	case errors.Is(err, ErrStoreUnavailable):
		return auditErrUnavailable
	case errors.Is(err, ErrInvalidCredentials):
		return auditErrInvalidCredentials
	case errors.Is(err, ErrAccountDisabled):
		return auditErrAccountDisabled
	case errors.Is(err, ErrForbidden):
		return auditErrForbidden
	case errors.Is(err, ErrUnauthorized):
		return auditErrUnauthorized
	case errors.Is(err, ErrRevoked):
		return auditErrRevoked
	case errors.Is(err, ErrExpired),
		errors.Is(err, ErrExpiredToken):
		return auditErrExpired
	case errors.Is(err, ErrInvalidToken):
		return auditErrInvalidToken
	case errors.Is(err, ErrNotFound):
		return auditErrNotFound
	case errors.Is(err, ErrInvalidState):
		return auditErrInvalidState
	case errors.Is(err, ErrInvalidInput):
		return auditErrInvalidInput
	case errors.Is(err, ErrInactive):
		return auditErrInactive
	case errors.Is(err, ErrAccountExists):
		return auditErrDuplicate
	default:
		return auditErrInternal
	}
}
