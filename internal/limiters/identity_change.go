package limiters

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/MrEthical07/goIdentity/internal/rate"
)

var (
	ErrChangeRateLimited        = errors.New("identity change rate limited")
	ErrChangeLimiterUnavailable = errors.New("identity change limiter unavailable")
)

// ChangeKind selects the per-field quota namespace.
type ChangeKind string

const (
	ChangeUsername ChangeKind = "username"
	ChangeEmail    ChangeKind = "email"
)

type IdentityChangeConfig struct {
	Window               time.Duration
	MaxChanges           int
	NewAccountMaxChanges int
	NewAccountAge        time.Duration
	Now                  func() time.Time
}

type IdentityChangeLimiter struct {
	limiter *rate.Limiter
	config  IdentityChangeConfig
}

func NewIdentityChangeLimiter(limiter *rate.Limiter, cfg IdentityChangeConfig) *IdentityChangeLimiter {
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &IdentityChangeLimiter{
		limiter: limiter,
		config:  cfg,
	}
}

// Check consumes one change for userID. Accounts created less than
// NewAccountAge ago use the "new-" bucket when NewAccountMaxChanges > 0.
func (l *IdentityChangeLimiter) Check(ctx context.Context, kind ChangeKind, userID string, accountCreatedAt time.Time) (rate.Decision, error) {
	if l == nil {
		return rate.Decision{Allowed: true}, nil
	}

	key, policy := l.bucket(kind, userID, accountCreatedAt)
	decision, err := l.limiter.Allow(ctx, key, policy)
	return decision, mapRateError(err, ErrChangeRateLimited, ErrChangeLimiterUnavailable)
}

// Quota reports the bucket state for userID without consuming a change.
func (l *IdentityChangeLimiter) Quota(ctx context.Context, kind ChangeKind, userID string, accountCreatedAt time.Time) (rate.Decision, error) {
	if l == nil {
		return rate.Decision{Allowed: true}, nil
	}

	key, policy := l.bucket(kind, userID, accountCreatedAt)
	decision, err := l.limiter.Peek(ctx, key, policy)
	return decision, mapRateError(err, ErrChangeRateLimited, ErrChangeLimiterUnavailable)
}

// Reset clears both the standard and the new-account bucket of userID.
func (l *IdentityChangeLimiter) Reset(ctx context.Context, kind ChangeKind, userID string) error {
	if l == nil {
		return nil
	}

	for _, bucket := range []string{userID, "new-" + userID} {
		if err := l.limiter.Reset(ctx, identityChangeKey(kind, bucket)); err != nil {
			return fmt.Errorf("%w: %v", ErrChangeLimiterUnavailable, err)
		}
	}
	return nil
}

func (l *IdentityChangeLimiter) bucket(kind ChangeKind, userID string, accountCreatedAt time.Time) (string, rate.Policy) {
	policy := rate.Policy{Limit: l.config.MaxChanges, Window: l.config.Window}
	if l.isNewAccount(accountCreatedAt) {
		policy.Limit = l.config.NewAccountMaxChanges
		return identityChangeKey(kind, "new-"+userID), policy
	}
	return identityChangeKey(kind, userID), policy
}

func (l *IdentityChangeLimiter) isNewAccount(createdAt time.Time) bool {
	if l.config.NewAccountMaxChanges <= 0 || l.config.NewAccountAge <= 0 || createdAt.IsZero() {
		return false
	}
	return l.config.Now().Sub(createdAt) < l.config.NewAccountAge
}

func identityChangeKey(kind ChangeKind, bucket string) string {
	return "ic:" + string(kind) + ":" + bucket
}

func mapRateError(err, limited, unavailable error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, rate.ErrRateLimited):
		return limited
	default:
		return fmt.Errorf("%w: %v", unavailable, err)
	}
}
