package goIdentity

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrInvalidInput is returned when a requested value fails validation. No quota is consumed.
	ErrInvalidInput = errors.New("invalid input")
	// ErrRateLimited is wrapped by every [RateLimitError].
	ErrRateLimited = errors.New("rate limited")
	// ErrIdentityConflict is returned when the requested username or email belongs to another account.
	ErrIdentityConflict = errors.New("identity already in use")
	// ErrTokenInvalid is returned for unknown, superseded, consumed or mistyped tokens.
	ErrTokenInvalid = errors.New("verification token invalid")
	// ErrTokenExpired is returned when a token is presented after its expiry.
	ErrTokenExpired = errors.New("verification token expired")
	// ErrWrongSubject is returned when a token is redeemed by a session that does not own it.
	ErrWrongSubject = errors.New("verification token belongs to another account")
	// ErrDispatchFailed is returned when the verification email could not be sent.
	ErrDispatchFailed = errors.New("verification email could not be sent")
	// ErrUnavailable is returned when Redis or the user store cannot be reached.
	ErrUnavailable = errors.New("identity backend unavailable")
	// ErrUserNotFound is returned when the session user no longer exists.
	ErrUserNotFound = errors.New("user not found")
	// ErrVerificationRequired is returned by ClaimUsername for accounts that already hold a username.
	ErrVerificationRequired = errors.New("username already set, change requires verification")
	// ErrEmailChangeNotAllowed is returned for accounts managed by an external sign-in provider.
	ErrEmailChangeNotAllowed = errors.New("email change not allowed for this account")
	// ErrEngineNotReady is returned when an Engine was not built through [Builder.Build].
	ErrEngineNotReady = errors.New("engine not initialized")
	// ErrShardedRedis is returned by [Builder.Build] for Redis Cluster and Ring clients.
	ErrShardedRedis = errors.New("sharded redis clients are not supported")
)

// ValidationError describes which field was rejected and why.
// It unwraps to [ErrInvalidInput].
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

func (e *ValidationError) Unwrap() error {
	return ErrInvalidInput
}

// RateLimitError carries the quota state of a denied identity change.
// It unwraps to [ErrRateLimited].
type RateLimitError struct {
	Limit      int
	Remaining  int
	ResetAt    time.Time
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("rate limited: %d of %d changes used, try again in %s",
		e.Limit-e.Remaining, e.Limit, humanizeDuration(e.RetryAfter))
}

func (e *RateLimitError) Unwrap() error {
	return ErrRateLimited
}

// Quota returns the quota metadata of the error.
func (e *RateLimitError) Quota() Quota {
	return Quota{Limit: e.Limit, Remaining: e.Remaining, ResetAt: e.ResetAt}
}

func humanizeDuration(d time.Duration) string {
	switch {
	case d <= 0:
		return "a moment"
	case d >= 48*time.Hour:
		return fmt.Sprintf("%d days", int(d.Hours()/24))
	case d >= 2*time.Hour:
		return fmt.Sprintf("%d hours", int(d.Hours()))
	case d >= 2*time.Minute:
		return fmt.Sprintf("%d minutes", int(d.Minutes()))
	default:
		secs := int(d.Round(time.Second).Seconds())
		if secs <= 1 {
			return "1 second"
		}
		return fmt.Sprintf("%d seconds", secs)
	}
}

// Status is the transport-agnostic outcome of an engine operation.
type Status string

const (
	StatusOK              Status = "OK"
	StatusInvalidInput    Status = "INVALID_INPUT"
	StatusRateLimited     Status = "RATE_LIMITED"
	StatusConflict        Status = "CONFLICT"
	StatusInvalid         Status = "INVALID"
	StatusExpired         Status = "EXPIRED"
	StatusWrongSubject    Status = "WRONG_SUBJECT"
	StatusDispatchFailure Status = "DISPATCH_FAILURE"
	StatusForbidden       Status = "FORBIDDEN"
	StatusUnauthenticated Status = "UNAUTHENTICATED"
	StatusUnavailable     Status = "UNAVAILABLE"
)

// StatusOf classifies err. Unknown errors, including context cancellation,
// are reported as [StatusUnavailable].
func StatusOf(err error) Status {
	switch {
	case err == nil:
		return StatusOK
	case errors.Is(err, ErrInvalidInput):
		return StatusInvalidInput
	case errors.Is(err, ErrRateLimited):
		return StatusRateLimited
	case errors.Is(err, ErrIdentityConflict):
		return StatusConflict
	case errors.Is(err, ErrTokenExpired):
		return StatusExpired
	case errors.Is(err, ErrTokenInvalid):
		return StatusInvalid
	case errors.Is(err, ErrWrongSubject):
		return StatusWrongSubject
	case errors.Is(err, ErrDispatchFailed):
		return StatusDispatchFailure
	case errors.Is(err, ErrVerificationRequired),
		errors.Is(err, ErrEmailChangeNotAllowed):
		return StatusForbidden
	case errors.Is(err, ErrUserNotFound):
		return StatusUnauthenticated
	default:
		return StatusUnavailable
	}
}
