package limiters

import (
	"context"
	"errors"
	"time"

	"github.com/MrEthical07/goIdentity/internal/rate"
)

var (
	ErrAPIRateLimited        = errors.New("api rate limited")
	ErrAPILimiterUnavailable = errors.New("api limiter unavailable")
)

type APIConfig struct {
	MaxRequests int
	Window      time.Duration
}

// APILimiter throttles general API traffic per client IP.
type APILimiter struct {
	limiter *rate.Limiter
	config  APIConfig
}

func NewAPILimiter(limiter *rate.Limiter, cfg APIConfig) *APILimiter {
	return &APILimiter{
		limiter: limiter,
		config:  cfg,
	}
}

// Check consumes one request for ip. An empty ip shares the "unknown" bucket.
func (l *APILimiter) Check(ctx context.Context, ip string) (rate.Decision, error) {
	if l == nil {
		return rate.Decision{Allowed: true}, nil
	}
	if ip == "" {
		ip = "unknown"
	}

	decision, err := l.limiter.Allow(ctx, apiIPKey(ip), rate.Policy{
		Limit:  l.config.MaxRequests,
		Window: l.config.Window,
	})
	return decision, mapRateError(err, ErrAPIRateLimited, ErrAPILimiterUnavailable)
}

func apiIPKey(ip string) string {
	return "api:" + ip
}

var (
	ErrSignupRateLimited        = errors.New("signup rate limited")
	ErrSignupLimiterUnavailable = errors.New("signup limiter unavailable")
)

type SignupConfig struct {
	MaxAttempts int
	Window      time.Duration
}

// SignupLimiter throttles unauthenticated account-creation attempts per client IP.
type SignupLimiter struct {
	limiter *rate.Limiter
	config  SignupConfig
}

func NewSignupLimiter(limiter *rate.Limiter, cfg SignupConfig) *SignupLimiter {
	return &SignupLimiter{
		limiter: limiter,
		config:  cfg,
	}
}

// Check consumes one signup attempt for ip.
func (l *SignupLimiter) Check(ctx context.Context, ip string) (rate.Decision, error) {
	if l == nil {
		return rate.Decision{Allowed: true}, nil
	}
	if ip == "" {
		ip = "unknown"
	}

	decision, err := l.limiter.Allow(ctx, signupIPKey(ip), rate.Policy{
		Limit:  l.config.MaxAttempts,
		Window: l.config.Window,
	})
	return decision, mapRateError(err, ErrSignupRateLimited, ErrSignupLimiterUnavailable)
}

func signupIPKey(ip string) string {
	return "signup:" + ip
}
