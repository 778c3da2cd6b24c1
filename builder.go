package goIdentity

import (
	"errors"
	"time"

	internalaudit "github.com/MrEthical07/goIdentity/internal/audit"
	"github.com/MrEthical07/goIdentity/internal/limiters"
	"github.com/MrEthical07/goIdentity/internal/rate"
	"github.com/MrEthical07/goIdentity/internal/stores"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Builder assembles an [Engine]. A Builder can be used once.
type Builder struct {
	config Config
	redis  redis.UniversalClient

	userStore UserStore
	sender    EmailSender
	auditSink AuditSink
	logger    *zap.Logger
	clock     func() time.Time

	built bool
}

// New describes the new operation and its observable behavior.
//
// New returns a Builder seeded with the default configuration.
func New() *Builder {
	return &Builder{
		config: defaultConfig(),
	}
}

// WithConfig replaces the whole configuration.
func (b *Builder) WithConfig(cfg Config) *Builder {
	b.config = cloneConfig(cfg)
	return b
}

// WithRedis sets the client used for tokens and rate windows. The token
// scripts touch keys derived from stored values, so the client must address a
// single node or a primary/replica setup; Build rejects cluster and ring clients.
func (b *Builder) WithRedis(client redis.UniversalClient) *Builder {
	b.redis = client
	return b
}

// WithUserStore sets the relational store that applies identity changes.
func (b *Builder) WithUserStore(store UserStore) *Builder {
	b.userStore = store
	return b
}

// WithEmailSender sets the synchronous outbound mail transport.
func (b *Builder) WithEmailSender(sender EmailSender) *Builder {
	b.sender = sender
	return b
}

// WithAuditSink sets the audit sink and enables the audit dispatcher.
func (b *Builder) WithAuditSink(sink AuditSink) *Builder {
	b.auditSink = sink
	if sink != nil {
		b.config.Audit.Enabled = true
	}
	return b
}

// WithLogger sets the structured logger. Defaults to zap.NewNop().
func (b *Builder) WithLogger(logger *zap.Logger) *Builder {
	b.logger = logger
	return b
}

// WithClock overrides the time source used for token expiry and rate windows.
func (b *Builder) WithClock(now func() time.Time) *Builder {
	b.clock = now
	return b
}

// WithMetricsEnabled toggles in-process counters.
func (b *Builder) WithMetricsEnabled(enabled bool) *Builder {
	b.config.Metrics.Enabled = enabled
	return b
}

// WithLatencyHistograms toggles the redemption latency histogram.
func (b *Builder) WithLatencyHistograms(enabled bool) *Builder {
	b.config.Metrics.EnableLatencyHistograms = enabled
	return b
}

// Build describes the build operation and its observable behavior.
//
// Build validates the configuration and dependencies and wires the token store,
// limiters and audit dispatcher. It performs no Redis round-trips.
func (b *Builder) Build() (*Engine, error) {
	if b.built {
		return nil, errors.New("builder already used")
	}

	cfg := cloneConfig(b.config)

	if b.redis == nil {
		return nil, errors.New("redis client required")
	}
	switch b.redis.(type) {
	case *redis.ClusterClient, *redis.Ring:
		return nil, ErrShardedRedis
	}
	if b.userStore == nil {
		return nil, errors.New("user store required")
	}
	if b.sender == nil {
		return nil, errors.New("email sender required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	logger := b.logger
	if logger == nil {
		logger = zap.NewNop()
	}
	now := b.clock
	if now == nil {
		now = time.Now
	}

	limiter := rate.New(b.redis, rate.Config{
		Prefix: cfg.RateLimit.RedisPrefix,
		Now:    now,
	})

	engine := &Engine{
		config: cfg,
		users:  b.userStore,
		sender: b.sender,
		logger: logger.Named("identity"),
		now:    now,
	}

	engine.tokens = stores.NewTokenStore(b.redis, stores.TokenStoreConfig{
		Prefix:               cfg.Tokens.RedisPrefix,
		RetentionAfterExpiry: cfg.Tokens.RetentionAfterExpiry,
		Now:                  now,
	})
	engine.changeLimiter = limiters.NewIdentityChangeLimiter(limiter, limiters.IdentityChangeConfig{
		Window:               cfg.RateLimit.Window,
		MaxChanges:           cfg.RateLimit.MaxChanges,
		NewAccountMaxChanges: cfg.RateLimit.NewAccountMaxChanges,
		NewAccountAge:        cfg.RateLimit.NewAccountAge,
		Now:                  now,
	})
	if cfg.API.Enabled {
		engine.apiLimiter = limiters.NewAPILimiter(limiter, limiters.APIConfig{
			MaxRequests: cfg.API.MaxRequests,
			Window:      cfg.API.Window,
		})
	}
	if cfg.Signup.Enabled {
		engine.signupLimiter = limiters.NewSignupLimiter(limiter, limiters.SignupConfig{
			MaxAttempts: cfg.Signup.MaxAttempts,
			Window:      cfg.Signup.Window,
		})
	}
	engine.audit = internalaudit.NewDispatcher(internalaudit.Config{
		Enabled:    cfg.Audit.Enabled,
		BufferSize: cfg.Audit.BufferSize,
		DropIfFull: cfg.Audit.DropIfFull,
	}, b.auditSink, logger.Named("audit"))
	engine.metrics = NewMetrics(cfg.Metrics)

	b.built = true
	return engine, nil
}
