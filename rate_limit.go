package goIdentity

import (
	"context"
	"errors"
	"strings"

	"github.com/MrEthical07/goIdentity/internal/limiters"
	"github.com/MrEthical07/goIdentity/internal/rate"
	"go.uber.org/zap"
)

func changeKindFor(changeType ChangeType) (limiters.ChangeKind, bool) {
	switch changeType {
	case ChangeTypeUsername:
		return limiters.ChangeUsername, true
	case ChangeTypeEmail:
		return limiters.ChangeEmail, true
	default:
		return "", false
	}
}

func quotaFromDecision(d rate.Decision) Quota {
	return Quota{
		Limit:     d.Limit,
		Remaining: d.Remaining,
		ResetAt:   d.ResetAt,
	}
}

// consumeChangeQuota spends one change from the bucket of user.
func (e *Engine) consumeChangeQuota(ctx context.Context, kind limiters.ChangeKind, user *User) (Quota, error) {
	decision, err := e.changeLimiter.Check(ctx, kind, user.ID, user.CreatedAt)
	if err != nil {
		if errors.Is(err, limiters.ErrChangeRateLimited) {
			rlErr := &RateLimitError{
				Limit:      decision.Limit,
				Remaining:  decision.Remaining,
				ResetAt:    decision.ResetAt,
				RetryAfter: decision.RetryAfter,
			}
			e.emitRateLimit(ctx, string(kind), user.ID, rlErr)
			return rlErr.Quota(), rlErr
		}
		e.metricInc(MetricBackendUnavailable)
		e.logger.Error("identity change limiter failure", zap.String("scope", string(kind)), zap.Error(err))
		return Quota{}, ErrUnavailable
	}
	return quotaFromDecision(decision), nil
}

// peekChangeQuota reports the quota without spending it. Failures are logged
// and yield an empty Quota since nothing is gated on the answer.
func (e *Engine) peekChangeQuota(ctx context.Context, kind limiters.ChangeKind, user *User) Quota {
	decision, err := e.changeLimiter.Quota(ctx, kind, user.ID, user.CreatedAt)
	if err != nil {
		e.logger.Warn("identity change quota lookup failed", zap.String("scope", string(kind)), zap.Error(err))
		return Quota{}
	}
	return quotaFromDecision(decision)
}

// ChangeQuota reports how many changes of changeType the session user has left
// in the current window. Only USERNAME_CHANGE and EMAIL_CHANGE are rate limited.
func (e *Engine) ChangeQuota(ctx context.Context, sessionUserID string, changeType ChangeType) (Quota, error) {
	if err := e.ready(); err != nil {
		return Quota{}, err
	}
	kind, ok := changeKindFor(changeType)
	if !ok {
		return Quota{}, &ValidationError{Field: "changeType", Reason: "not rate limited"}
	}

	user, err := e.loadSessionUser(ctx, sessionUserID)
	if err != nil {
		return Quota{}, err
	}

	decision, err := e.changeLimiter.Quota(ctx, kind, user.ID, user.CreatedAt)
	if err != nil {
		e.metricInc(MetricBackendUnavailable)
		e.logger.Error("identity change quota lookup failed", zap.String("scope", string(kind)), zap.Error(err))
		return Quota{}, ErrUnavailable
	}
	return quotaFromDecision(decision), nil
}

// HasPendingChange reports whether the session user holds a live verification
// token of changeType.
func (e *Engine) HasPendingChange(ctx context.Context, sessionUserID string, changeType ChangeType) (bool, error) {
	if err := e.ready(); err != nil {
		return false, err
	}
	if _, ok := changeKindFor(changeType); !ok {
		return false, &ValidationError{Field: "changeType", Reason: "unsupported"}
	}

	user, err := e.loadSessionUser(ctx, sessionUserID)
	if err != nil {
		return false, err
	}

	token, err := e.tokens.Active(ctx, user.ID, string(changeType))
	if err != nil {
		e.metricInc(MetricBackendUnavailable)
		e.logger.Error("pending change lookup failed", zap.String("type", string(changeType)), zap.Error(err))
		return false, ErrUnavailable
	}
	return token != "", nil
}

// ResetChangeQuota clears the changeType quota of userID, for operators
// lifting a limit by hand. The account is not looked up.
func (e *Engine) ResetChangeQuota(ctx context.Context, userID string, changeType ChangeType) error {
	if err := e.ready(); err != nil {
		return err
	}
	kind, ok := changeKindFor(changeType)
	if !ok {
		return &ValidationError{Field: "changeType", Reason: "not rate limited"}
	}
	if strings.TrimSpace(userID) == "" {
		return &ValidationError{Field: "userId", Reason: "required"}
	}

	if err := e.changeLimiter.Reset(ctx, kind, userID); err != nil {
		e.metricInc(MetricBackendUnavailable)
		e.logger.Error("identity change quota reset failed", zap.String("scope", string(kind)), zap.Error(err))
		return ErrUnavailable
	}
	e.emitAudit(ctx, auditEventChangeQuotaReset, true, userID, nil, func() map[string]string {
		return map[string]string{"scope": string(kind)}
	})
	return nil
}

// CheckAPIRequest spends one request from the per-IP general API quota. When the
// API limiter is disabled it always allows. Limiter failures fail closed with
// [ErrUnavailable].
func (e *Engine) CheckAPIRequest(ctx context.Context, ip string) (Quota, error) {
	if e == nil || e.apiLimiter == nil {
		return Quota{}, nil
	}

	decision, err := e.apiLimiter.Check(ctx, ip)
	if err != nil {
		if errors.Is(err, limiters.ErrAPIRateLimited) {
			e.metricInc(MetricAPIRateLimited)
			return quotaFromDecision(decision), &RateLimitError{
				Limit:      decision.Limit,
				Remaining:  decision.Remaining,
				ResetAt:    decision.ResetAt,
				RetryAfter: decision.RetryAfter,
			}
		}
		e.metricInc(MetricBackendUnavailable)
		e.logger.Error("api limiter failure", zap.Error(err))
		return Quota{}, ErrUnavailable
	}
	return quotaFromDecision(decision), nil
}

// CheckSignupAttempt spends one unauthenticated signup attempt from the per-IP
// quota. When the signup limiter is disabled it always allows. Limiter failures
// fail closed with [ErrUnavailable].
func (e *Engine) CheckSignupAttempt(ctx context.Context, ip string) (Quota, error) {
	if e == nil || e.signupLimiter == nil {
		return Quota{}, nil
	}

	decision, err := e.signupLimiter.Check(ctx, ip)
	if err != nil {
		if errors.Is(err, limiters.ErrSignupRateLimited) {
			rlErr := &RateLimitError{
				Limit:      decision.Limit,
				Remaining:  decision.Remaining,
				ResetAt:    decision.ResetAt,
				RetryAfter: decision.RetryAfter,
			}
			e.emitRateLimit(WithClientIP(ctx, ip), "signup", "", rlErr)
			return rlErr.Quota(), rlErr
		}
		e.metricInc(MetricBackendUnavailable)
		e.logger.Error("signup limiter failure", zap.Error(err))
		return Quota{}, ErrUnavailable
	}
	return quotaFromDecision(decision), nil
}
