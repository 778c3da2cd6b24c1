package goIdentity

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	internalaudit "github.com/MrEthical07/goIdentity/internal/audit"
	"github.com/MrEthical07/goIdentity/internal/limiters"
	"github.com/MrEthical07/goIdentity/internal/stores"
	"go.uber.org/zap"
)

const tokenCleanupTimeout = 5 * time.Second

// Engine orchestrates verified identity changes.
//
// Engine instances are created by [Builder.Build] and are safe for concurrent use.
type Engine struct {
	config Config

	users  UserStore
	sender EmailSender

	tokens        *stores.TokenStore
	changeLimiter *limiters.IdentityChangeLimiter
	apiLimiter    *limiters.APILimiter
	signupLimiter *limiters.SignupLimiter

	audit   *internalaudit.Dispatcher
	metrics *Metrics
	logger  *zap.Logger
	now     func() time.Time

	alertMu      sync.Mutex
	alertsClosed bool
	alerts       sync.WaitGroup
	closed       atomic.Bool
}

// Close waits for in-flight security alerts, then drains the audit dispatcher.
// It is safe to call more than once.
func (e *Engine) Close() {
	if e == nil {
		return
	}
	if !e.closed.CompareAndSwap(false, true) {
		return
	}

	e.alertMu.Lock()
	e.alertsClosed = true
	e.alertMu.Unlock()
	e.alerts.Wait()

	if e.audit != nil {
		e.audit.Close()
	}
	if e.logger != nil {
		_ = e.logger.Sync()
	}
}

// AuditDropped returns the number of audit events dropped because the buffer was full.
func (e *Engine) AuditDropped() uint64 {
	if e == nil || e.audit == nil {
		return 0
	}
	return e.audit.Dropped()
}

// AuditFailed returns the number of audit events whose sink panicked.
func (e *Engine) AuditFailed() uint64 {
	if e == nil || e.audit == nil {
		return 0
	}
	return e.audit.Failed()
}

// MetricsSnapshot returns a copy of the engine counters.
func (e *Engine) MetricsSnapshot() MetricsSnapshot {
	if e == nil || e.metrics == nil {
		return MetricsSnapshot{
			Counters:   map[MetricID]uint64{},
			Histograms: map[MetricID][]uint64{},
		}
	}
	return e.metrics.Snapshot()
}

func (e *Engine) metricInc(id MetricID) {
	if e == nil || e.metrics == nil {
		return
	}
	e.metrics.Inc(id)
}

func (e *Engine) metricObserve(id MetricID, start time.Time) {
	if e == nil || e.metrics == nil || !e.metrics.LatencyEnabled() {
		return
	}
	e.metrics.Observe(id, e.now().Sub(start))
}

// discardToken is the best-effort cleanup after a failed dispatch. It runs even
// when the request context is already cancelled.
func (e *Engine) discardToken(ctx context.Context, token string) {
	cleanupCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), tokenCleanupTimeout)
	defer cancel()

	if err := e.tokens.Delete(cleanupCtx, token); err != nil {
		e.metricInc(MetricTokenCleanupFailure)
		e.logger.Error("verification token cleanup failed", zap.Error(err))
	}
}

func (e *Engine) ready() error {
	if e == nil || e.users == nil || e.sender == nil || e.tokens == nil || e.changeLimiter == nil {
		return ErrEngineNotReady
	}
	return nil
}

// loadSessionUser resolves the authenticated user. A session whose user no
// longer exists is treated as unauthenticated.
func (e *Engine) loadSessionUser(ctx context.Context, sessionUserID string) (*User, error) {
	if sessionUserID == "" {
		return nil, ErrUserNotFound
	}
	user, err := e.users.FindByID(ctx, sessionUserID)
	if err != nil {
		return nil, e.mapUserStoreError(err)
	}
	if user == nil {
		return nil, ErrUserNotFound
	}
	return user, nil
}

func (e *Engine) mapUserStoreError(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, ErrIdentityConflict),
		errors.Is(err, ErrUserNotFound),
		errors.Is(err, context.Canceled),
		errors.Is(err, context.DeadlineExceeded):
		return err
	default:
		e.metricInc(MetricBackendUnavailable)
		e.logger.Error("user store failure", zap.Error(err))
		return ErrUnavailable
	}
}

func (e *Engine) mapTokenStoreError(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, stores.ErrTokenNotFound),
		errors.Is(err, stores.ErrTokenTypeMismatch):
		e.metricInc(MetricTokenInvalid)
		return ErrTokenInvalid
	case errors.Is(err, stores.ErrTokenExpired):
		e.metricInc(MetricTokenExpired)
		return ErrTokenExpired
	case errors.Is(err, stores.ErrTokenSubjectMismatch):
		e.metricInc(MetricTokenWrongSubject)
		return ErrWrongSubject
	default:
		e.metricInc(MetricBackendUnavailable)
		e.logger.Error("token store failure", zap.Error(err))
		return ErrUnavailable
	}
}
