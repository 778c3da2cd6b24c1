package goIdentity

import (
	"context"
	"errors"

	"github.com/google/uuid"
)

const (
	auditEventUsernameChangeRequested = "username_change_requested"
	auditEventUsernameChangeCompleted = "username_change_completed"
	auditEventUsernameChangeFailed    = "username_change_failed"
	auditEventUsernameClaimed         = "username_claimed"
	auditEventEmailChangeRequested    = "email_change_requested"
	auditEventEmailChangeCompleted    = "email_change_completed"
	auditEventEmailChangeFailed       = "email_change_failed"
	auditEventTokenSuperseded         = "verification_token_superseded"
	auditEventSecurityAlertSent       = "security_alert_sent"
	auditEventSecurityAlertFailed     = "security_alert_failed"
	auditEventRateLimitExceeded       = "rate_limit_exceeded"
	auditEventChangeQuotaReset        = "change_quota_reset"
)

// AuditErrorCode is the stable error label carried by failed audit events.
type AuditErrorCode string

const (
	auditErrInvalidInput    AuditErrorCode = "invalid_input"
	auditErrRateLimited     AuditErrorCode = "rate_limited"
	auditErrConflict        AuditErrorCode = "conflict"
	auditErrInvalidToken    AuditErrorCode = "invalid_token"
	auditErrExpiredToken    AuditErrorCode = "expired_token"
	auditErrWrongSubject    AuditErrorCode = "wrong_subject"
	auditErrDispatchFailure AuditErrorCode = "dispatch_failure"
	auditErrNotAllowed      AuditErrorCode = "not_allowed"
	auditErrUserNotFound    AuditErrorCode = "user_not_found"
	auditErrUnavailable     AuditErrorCode = "backend_unavailable"
	auditErrInternal        AuditErrorCode = "internal_error"
)

func (e *Engine) emitAudit(
	ctx context.Context,
	eventType string,
	success bool,
	userID string,
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
		ID:        uuid.NewString(),
		Timestamp: e.now().UTC(),
		EventType: eventType,
		UserID:    userID,
		IP:        clientIPFromContext(ctx),
		UserAgent: userAgentFromContext(ctx),
		Success:   success,
		Metadata:  metadata,
	}
	if code := auditErrorCode(err); code != "" {
		event.Error = string(code)
	}

	e.audit.Emit(ctx, event)
}

func (e *Engine) emitRateLimit(
	ctx context.Context,
	scope string,
	userID string,
	rlErr *RateLimitError,
) {
	e.metricInc(MetricRateLimitHit)
	e.emitAudit(ctx, auditEventRateLimitExceeded, false, userID, ErrRateLimited, func() map[string]string {
		m := map[string]string{
			"scope": scope,
		}
		if rlErr != nil {
			m["reset_at"] = rlErr.ResetAt.UTC().Format("2006-01-02T15:04:05Z")
			m["retry_after"] = rlErr.RetryAfter.String()
		}
		return m
	})
}

func auditErrorCode(err error) AuditErrorCode {
	if err == nil {
		return ""
	}

	switch {
	case errors.Is(err, ErrInvalidInput):
		return auditErrInvalidInput
	case errors.Is(err, ErrRateLimited):
		return auditErrRateLimited
	case errors.Is(err, ErrIdentityConflict):
		return auditErrConflict
	case errors.Is(err, ErrTokenExpired):
		return auditErrExpiredToken
	case errors.Is(err, ErrTokenInvalid):
		return auditErrInvalidToken
	case errors.Is(err, ErrWrongSubject):
		return auditErrWrongSubject
	case errors.Is(err, ErrDispatchFailed):
		return auditErrDispatchFailure
	case errors.Is(err, ErrVerificationRequired),
		errors.Is(err, ErrEmailChangeNotAllowed):
		return auditErrNotAllowed
	case errors.Is(err, ErrUserNotFound):
		return auditErrUserNotFound
	case errors.Is(err, ErrUnavailable):
		return auditErrUnavailable
	default:
		return auditErrInternal
	}
}
