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

// RequestUsernameChange describes the requestusernamechange operation and its observable behavior.
//
// The desired username is normalized and validated, checked against the account's
// current username (an unchanged value returns NoOp without spending quota), charged
// against the username-change quota and checked for availability. A 15 minute token
// is then issued, superseding any earlier one, and the verification link is mailed to
// the account's current email. If the mail cannot be sent the token is deleted and
// [ErrDispatchFailed] is returned; the spent quota is not refunded.
func (e *Engine) RequestUsernameChange(ctx context.Context, sessionUserID, desired string) (UsernameChangeRequest, error) {
	if err := e.ready(); err != nil {
		return UsernameChangeRequest{}, err
	}

	username, err := normalizeUsername(desired, e.config.Validation)
	if err != nil {
		e.emitAudit(ctx, auditEventUsernameChangeFailed, false, sessionUserID, err, func() map[string]string {
			return map[string]string{
				"stage": "validation",
			}
		})
		return UsernameChangeRequest{}, err
	}

	user, err := e.loadSessionUser(ctx, sessionUserID)
	if err != nil {
		return UsernameChangeRequest{}, err
	}

	if user.Username == username {
		e.metricInc(MetricUsernameChangeNoOp)
		return UsernameChangeRequest{
			Username: username,
			NoOp:     true,
			Quota:    e.peekChangeQuota(ctx, limiters.ChangeUsername, user),
		}, nil
	}

	if user.Email == "" {
		err := &ValidationError{Field: "email", Reason: "account has no email to verify with"}
		e.emitAudit(ctx, auditEventUsernameChangeFailed, false, user.ID, err, nil)
		return UsernameChangeRequest{}, err
	}

	quota, err := e.consumeChangeQuota(ctx, limiters.ChangeUsername, user)
	if err != nil {
		e.emitAudit(ctx, auditEventUsernameChangeFailed, false, user.ID, err, func() map[string]string {
			return map[string]string{
				"stage":        "rate_limit",
				"new_username": username,
			}
		})
		return UsernameChangeRequest{Quota: quota}, err
	}

	if err := e.ensureUsernameAvailable(ctx, user.ID, username); err != nil {
		e.emitAudit(ctx, auditEventUsernameChangeFailed, false, user.ID, err, func() map[string]string {
			return map[string]string{
				"stage":        "availability",
				"new_username": username,
			}
		})
		return UsernameChangeRequest{Quota: quota}, err
	}

	payload, err := encodePayload(UsernameChangePayload{NewUsername: username})
	if err != nil {
		return UsernameChangeRequest{Quota: quota}, err
	}

	record, err := e.tokens.Create(ctx, stores.TokenRecord{
		Subject:     user.ID,
		ChangeType:  string(ChangeTypeUsername),
		Destination: user.Email,
		Payload:     payload,
	}, e.config.Username.TokenTTL)
	if err != nil {
		mapped := e.mapTokenStoreError(err)
		e.emitAudit(ctx, auditEventUsernameChangeFailed, false, user.ID, mapped, func() map[string]string {
			return map[string]string{
				"stage": "issue",
			}
		})
		return UsernameChangeRequest{Quota: quota}, mapped
	}
	e.noteSupersession(ctx, user.ID, ChangeTypeUsername, record.Superseded)

	messageID, err := e.dispatchVerification(ctx, user.Email, func() (Message, error) {
		return e.usernameVerificationMessage(username, record.Token)
	})
	if err != nil {
		e.discardToken(ctx, record.Token)
		e.emitAudit(ctx, auditEventUsernameChangeFailed, false, user.ID, ErrDispatchFailed, func() map[string]string {
			return map[string]string{
				"stage":        "dispatch",
				"new_username": username,
			}
		})
		return UsernameChangeRequest{Quota: quota}, ErrDispatchFailed
	}

	e.metricInc(MetricUsernameChangeRequested)
	e.emitAudit(ctx, auditEventUsernameChangeRequested, true, user.ID, nil, func() map[string]string {
		return map[string]string{
			"old_username": user.Username,
			"new_username": username,
			"expires_at":   record.ExpiresAt.UTC().Format("2006-01-02T15:04:05Z"),
			"message_id":   messageID,
		}
	})

	return UsernameChangeRequest{
		Username:         username,
		ExpiresAt:        record.ExpiresAt,
		ExpiresInMinutes: ttlMinutes(e.config.Username.TokenTTL),
		Quota:            quota,
	}, nil
}

// RedeemUsernameChange describes the redeemusernamechange operation and its observable behavior.
//
// The token must belong to the session user ([ErrWrongSubject] otherwise, the token
// survives), be live ([ErrTokenInvalid] / [ErrTokenExpired]) and be a username-change
// token sent to the account's current email. Redemption consumes the token before the
// change is applied, so a username claimed by someone else in the meantime yields
// [ErrIdentityConflict] and a fresh request is required.
func (e *Engine) RedeemUsernameChange(ctx context.Context, sessionUserID, token string) (UsernameChangeResult, error) {
	if err := e.ready(); err != nil {
		return UsernameChangeResult{}, err
	}
	start := e.now()
	defer e.metricObserve(MetricRedeemLatency, start)

	if _, err := internal.ParseVerificationToken(token); err != nil {
		e.metricInc(MetricTokenInvalid)
		e.emitAudit(ctx, auditEventUsernameChangeFailed, false, sessionUserID, ErrTokenInvalid, func() map[string]string {
			return map[string]string{
				"stage":  "redeem",
				"reason": "malformed_token",
			}
		})
		return UsernameChangeResult{}, ErrTokenInvalid
	}

	user, err := e.loadSessionUser(ctx, sessionUserID)
	if err != nil {
		return UsernameChangeResult{}, err
	}

	record, err := e.tokens.Redeem(ctx, token, user.ID, string(ChangeTypeUsername))
	if err != nil {
		mapped := e.mapTokenStoreError(err)
		e.emitAudit(ctx, auditEventUsernameChangeFailed, false, user.ID, mapped, func() map[string]string {
			return map[string]string{
				"stage": "redeem",
			}
		})
		return UsernameChangeResult{}, mapped
	}

	var payload UsernameChangePayload
	if err := decodePayload(record.Payload, &payload); err != nil || payload.NewUsername == "" {
		e.metricInc(MetricTokenInvalid)
		e.logger.Error("verification token carries malformed payload", zap.String("user_id", user.ID), zap.Error(err))
		e.emitAudit(ctx, auditEventUsernameChangeFailed, false, user.ID, ErrTokenInvalid, func() map[string]string {
			return map[string]string{
				"stage":  "redeem",
				"reason": "payload",
			}
		})
		return UsernameChangeResult{}, ErrTokenInvalid
	}

	if !strings.EqualFold(record.Destination, user.Email) {
		e.metricInc(MetricTokenInvalid)
		e.emitAudit(ctx, auditEventUsernameChangeFailed, false, user.ID, ErrTokenInvalid, func() map[string]string {
			return map[string]string{
				"stage":  "redeem",
				"reason": "destination_changed",
			}
		})
		return UsernameChangeResult{}, ErrTokenInvalid
	}

	applied, err := e.users.ApplyUsernameChange(ctx, user.ID, payload.NewUsername)
	if err != nil {
		mapped := e.mapUserStoreError(err)
		if errors.Is(mapped, ErrIdentityConflict) {
			e.metricInc(MetricIdentityConflict)
			mapped = fmt.Errorf("%w: the verification link was used, request a new change", ErrIdentityConflict)
		}
		e.emitAudit(ctx, auditEventUsernameChangeFailed, false, user.ID, mapped, func() map[string]string {
			return map[string]string{
				"stage":        "apply",
				"new_username": payload.NewUsername,
			}
		})
		return UsernameChangeResult{}, mapped
	}

	e.metricInc(MetricUsernameChangeCompleted)
	e.emitAudit(ctx, auditEventUsernameChangeCompleted, true, user.ID, nil, func() map[string]string {
		return map[string]string{
			"old_username": user.Username,
			"new_username": applied,
		}
	})

	return UsernameChangeResult{Username: applied}, nil
}

// ClaimUsername describes the claimusername operation and its observable behavior.
//
// ClaimUsername is the onboarding path for accounts that have never held a username:
// the value is applied immediately without a token or quota. Accounts that already
// hold a different username get [ErrVerificationRequired] and must use
// [Engine.RequestUsernameChange].
func (e *Engine) ClaimUsername(ctx context.Context, sessionUserID, desired string) (UsernameChangeResult, error) {
	if err := e.ready(); err != nil {
		return UsernameChangeResult{}, err
	}

	username, err := normalizeUsername(desired, e.config.Validation)
	if err != nil {
		return UsernameChangeResult{}, err
	}

	user, err := e.loadSessionUser(ctx, sessionUserID)
	if err != nil {
		return UsernameChangeResult{}, err
	}

	if user.Username != "" {
		if user.Username == username {
			return UsernameChangeResult{Username: username}, nil
		}
		e.emitAudit(ctx, auditEventUsernameChangeFailed, false, user.ID, ErrVerificationRequired, func() map[string]string {
			return map[string]string{
				"stage": "claim",
			}
		})
		return UsernameChangeResult{}, ErrVerificationRequired
	}

	if err := e.ensureUsernameAvailable(ctx, user.ID, username); err != nil {
		return UsernameChangeResult{}, err
	}

	applied, err := e.users.ApplyUsernameChange(ctx, user.ID, username)
	if err != nil {
		mapped := e.mapUserStoreError(err)
		if errors.Is(mapped, ErrIdentityConflict) {
			e.metricInc(MetricIdentityConflict)
		}
		e.emitAudit(ctx, auditEventUsernameChangeFailed, false, user.ID, mapped, func() map[string]string {
			return map[string]string{
				"stage":        "claim",
				"new_username": username,
			}
		})
		return UsernameChangeResult{}, mapped
	}

	e.metricInc(MetricUsernameClaimed)
	e.emitAudit(ctx, auditEventUsernameClaimed, true, user.ID, nil, func() map[string]string {
		return map[string]string{
			"new_username": applied,
		}
	})

	return UsernameChangeResult{Username: applied}, nil
}

func (e *Engine) ensureUsernameAvailable(ctx context.Context, userID, username string) error {
	holder, err := e.users.FindByUsername(ctx, username)
	if err != nil {
		return e.mapUserStoreError(err)
	}
	if holder != nil && holder.ID != userID {
		e.metricInc(MetricIdentityConflict)
		return ErrIdentityConflict
	}
	return nil
}

func (e *Engine) noteSupersession(ctx context.Context, userID string, changeType ChangeType, superseded string) {
	if superseded == "" {
		return
	}
	e.metricInc(MetricTokenSuperseded)
	e.emitAudit(ctx, auditEventTokenSuperseded, true, userID, nil, func() map[string]string {
		return map[string]string{
			"change_type": string(changeType),
		}
	})
}

// dispatchVerification renders and sends the primary verification email.
func (e *Engine) dispatchVerification(ctx context.Context, to string, render func() (Message, error)) (string, error) {
	msg, err := render()
	if err != nil {
		e.metricInc(MetricDispatchFailure)
		e.logger.Error("verification email render failed", zap.Error(err))
		return "", err
	}

	messageID, err := e.sender.Send(ctx, to, msg)
	if err != nil {
		e.metricInc(MetricDispatchFailure)
		e.logger.Warn("verification email dispatch failed", zap.String("to", maskEmail(to)), zap.Error(err))
		return "", err
	}
	return messageID, nil
}
