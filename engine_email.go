package goIdentity

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/MrEthical07/goIdentity/internal"
	"github.com/MrEthical07/goIdentity/internal/limiters"
	"github.com/MrEthical07/goIdentity/internal/stores"
	"go.uber.org/zap"
)

const securityAlertEmailChange = "Email change requested"

// RequestEmailChange describes the requestemailchange operation and its observable behavior.
//
// It mirrors [Engine.RequestUsernameChange] with a 30 minute token sent to the new
// address. Once that email has been accepted a security alert is sent to the old
// address in the background; the alert never blocks or fails the request and is
// never sent when the primary email failed. Accounts whose provider is not
// "credentials" get [ErrEmailChangeNotAllowed].
func (e *Engine) RequestEmailChange(ctx context.Context, sessionUserID, desired string) (EmailChangeRequest, error) {
	if err := e.ready(); err != nil {
		return EmailChangeRequest{}, err
	}

	email, err := normalizeEmail(desired)
	if err != nil {
		e.emitAudit(ctx, auditEventEmailChangeFailed, false, sessionUserID, err, func() map[string]string {
			return map[string]string{
				"stage": "validation",
			}
		})
		return EmailChangeRequest{}, err
	}

	user, err := e.loadSessionUser(ctx, sessionUserID)
	if err != nil {
		return EmailChangeRequest{}, err
	}

	if user.Provider != "" && user.Provider != ProviderCredentials {
		e.emitAudit(ctx, auditEventEmailChangeFailed, false, user.ID, ErrEmailChangeNotAllowed, func() map[string]string {
			return map[string]string{
				"stage":    "provider",
				"provider": user.Provider,
			}
		})
		return EmailChangeRequest{}, ErrEmailChangeNotAllowed
	}

	if strings.EqualFold(user.Email, email) {
		e.metricInc(MetricEmailChangeNoOp)
		return EmailChangeRequest{
			Email: email,
			NoOp:  true,
			Quota: e.peekChangeQuota(ctx, limiters.ChangeEmail, user),
		}, nil
	}

	quota, err := e.consumeChangeQuota(ctx, limiters.ChangeEmail, user)
	if err != nil {
		e.emitAudit(ctx, auditEventEmailChangeFailed, false, user.ID, err, func() map[string]string {
			return map[string]string{
				"stage": "rate_limit",
			}
		})
		return EmailChangeRequest{Quota: quota}, err
	}

	if err := e.ensureEmailAvailable(ctx, user.ID, email); err != nil {
		e.emitAudit(ctx, auditEventEmailChangeFailed, false, user.ID, err, func() map[string]string {
			return map[string]string{
				"stage":     "availability",
				"new_email": maskEmail(email),
			}
		})
		return EmailChangeRequest{Quota: quota}, err
	}

	payload, err := encodePayload(EmailChangePayload{NewEmail: email, OldEmail: user.Email})
	if err != nil {
		return EmailChangeRequest{Quota: quota}, err
	}

	record, err := e.tokens.Create(ctx, stores.TokenRecord{
		Subject:     user.ID,
		ChangeType:  string(ChangeTypeEmail),
		Destination: email,
		Payload:     payload,
	}, e.config.Email.TokenTTL)
	if err != nil {
		mapped := e.mapTokenStoreError(err)
		e.emitAudit(ctx, auditEventEmailChangeFailed, false, user.ID, mapped, func() map[string]string {
			return map[string]string{
				"stage": "issue",
			}
		})
		return EmailChangeRequest{Quota: quota}, mapped
	}
	e.noteSupersession(ctx, user.ID, ChangeTypeEmail, record.Superseded)

	messageID, err := e.dispatchVerification(ctx, email, func() (Message, error) {
		return e.emailVerificationMessage(email, record.Token)
	})
	if err != nil {
		e.discardToken(ctx, record.Token)
		e.emitAudit(ctx, auditEventEmailChangeFailed, false, user.ID, ErrDispatchFailed, func() map[string]string {
			return map[string]string{
				"stage":     "dispatch",
				"new_email": maskEmail(email),
			}
		})
		return EmailChangeRequest{Quota: quota}, ErrDispatchFailed
	}

	e.metricInc(MetricEmailChangeRequested)
	e.emitAudit(ctx, auditEventEmailChangeRequested, true, user.ID, nil, func() map[string]string {
		return map[string]string{
			"old_email":  maskEmail(user.Email),
			"new_email":  maskEmail(email),
			"expires_at": record.ExpiresAt.UTC().Format("2006-01-02T15:04:05Z"),
			"message_id": messageID,
		}
	})

	e.queueSecurityAlert(ctx, user.ID, user.Email, securityAlertEmailChange)

	return EmailChangeRequest{
		Email:            email,
		ExpiresAt:        record.ExpiresAt,
		ExpiresInMinutes: ttlMinutes(e.config.Email.TokenTTL),
		Quota:            quota,
	}, nil
}

// RedeemEmailChange describes the redeememailchange operation and its observable behavior.
//
// Redemption rules match [Engine.RedeemUsernameChange]. A token whose recorded old
// address no longer matches the account (another change completed in between) is
// rejected as [ErrTokenInvalid].
func (e *Engine) RedeemEmailChange(ctx context.Context, sessionUserID, token string) (EmailChangeResult, error) {
	if err := e.ready(); err != nil {
		return EmailChangeResult{}, err
	}
	start := e.now()
	defer e.metricObserve(MetricRedeemLatency, start)

	if _, err := internal.ParseVerificationToken(token); err != nil {
		e.metricInc(MetricTokenInvalid)
		e.emitAudit(ctx, auditEventEmailChangeFailed, false, sessionUserID, ErrTokenInvalid, func() map[string]string {
			return map[string]string{
				"stage":  "redeem",
				"reason": "malformed_token",
			}
		})
		return EmailChangeResult{}, ErrTokenInvalid
	}

	user, err := e.loadSessionUser(ctx, sessionUserID)
	if err != nil {
		return EmailChangeResult{}, err
	}

	record, err := e.tokens.Redeem(ctx, token, user.ID, string(ChangeTypeEmail))
	if err != nil {
		mapped := e.mapTokenStoreError(err)
		e.emitAudit(ctx, auditEventEmailChangeFailed, false, user.ID, mapped, func() map[string]string {
			return map[string]string{
				"stage": "redeem",
			}
		})
		return EmailChangeResult{}, mapped
	}

	var payload EmailChangePayload
	if err := decodePayload(record.Payload, &payload); err != nil || payload.NewEmail == "" {
		e.metricInc(MetricTokenInvalid)
		e.logger.Error("verification token carries malformed payload", zap.String("user_id", user.ID), zap.Error(err))
		e.emitAudit(ctx, auditEventEmailChangeFailed, false, user.ID, ErrTokenInvalid, func() map[string]string {
			return map[string]string{
				"stage":  "redeem",
				"reason": "payload",
			}
		})
		return EmailChangeResult{}, ErrTokenInvalid
	}

	if !strings.EqualFold(payload.OldEmail, user.Email) || !strings.EqualFold(payload.NewEmail, record.Destination) {
		e.metricInc(MetricTokenInvalid)
		e.emitAudit(ctx, auditEventEmailChangeFailed, false, user.ID, ErrTokenInvalid, func() map[string]string {
			return map[string]string{
				"stage":  "redeem",
				"reason": "stale_token",
			}
		})
		return EmailChangeResult{}, ErrTokenInvalid
	}

	applied, err := e.users.ApplyEmailChange(ctx, user.ID, payload.NewEmail)
	if err != nil {
		mapped := e.mapUserStoreError(err)
		if errors.Is(mapped, ErrIdentityConflict) {
			e.metricInc(MetricIdentityConflict)
			mapped = fmt.Errorf("%w: the verification link was used, request a new change", ErrIdentityConflict)
		}
		e.emitAudit(ctx, auditEventEmailChangeFailed, false, user.ID, mapped, func() map[string]string {
			return map[string]string{
				"stage":     "apply",
				"new_email": maskEmail(payload.NewEmail),
			}
		})
		return EmailChangeResult{}, mapped
	}

	e.metricInc(MetricEmailChangeCompleted)
	e.emitAudit(ctx, auditEventEmailChangeCompleted, true, user.ID, nil, func() map[string]string {
		return map[string]string{
			"old_email": maskEmail(payload.OldEmail),
			"new_email": maskEmail(applied),
		}
	})

	return EmailChangeResult{Email: applied}, nil
}

func (e *Engine) ensureEmailAvailable(ctx context.Context, userID, email string) error {
	holder, err := e.users.FindByEmail(ctx, email)
	if err != nil {
		return e.mapUserStoreError(err)
	}
	if holder != nil && holder.ID != userID {
		e.metricInc(MetricIdentityConflict)
		return ErrIdentityConflict
	}
	return nil
}

// queueSecurityAlert notifies to in the background. The send is tracked so
// Close waits for it; after Close no alert is started.
func (e *Engine) queueSecurityAlert(ctx context.Context, userID, to, action string) {
	if !e.config.Email.SecurityAlert || to == "" {
		return
	}

	e.alertMu.Lock()
	if e.alertsClosed {
		e.alertMu.Unlock()
		e.logger.Warn("engine closed, security alert skipped", zap.String("user_id", userID))
		return
	}
	e.alerts.Add(1)
	e.alertMu.Unlock()

	ip := clientIPFromContext(ctx)
	at := e.now()
	alertCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), e.config.Email.AlertTimeout)

	go func() {
		defer e.alerts.Done()
		defer cancel()

		msg, err := e.securityAlertMessage(action, ip, at)
		if err == nil {
			_, err = e.sender.Send(alertCtx, to, msg)
		}
		if err != nil {
			e.metricInc(MetricSecurityAlertFailed)
			e.logger.Warn("security alert dispatch failed",
				zap.String("user_id", userID),
				zap.String("to", maskEmail(to)),
				zap.Error(err),
			)
			e.emitAudit(alertCtx, auditEventSecurityAlertFailed, false, userID, ErrDispatchFailed, func() map[string]string {
				return map[string]string{
					"action": action,
				}
			})
			return
		}

		e.metricInc(MetricSecurityAlertSent)
		e.emitAudit(alertCtx, auditEventSecurityAlertSent, true, userID, nil, func() map[string]string {
			return map[string]string{
				"action": action,
			}
		})
	}()
}
