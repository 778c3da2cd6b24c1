package httpapi

import (
	"context"
	"net/http"
	"time"

	goIdentity "github.com/MrEthical07/goIdentity"
	"github.com/MrEthical07/goIdentity/middleware"
	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"
)

// Service is the subset of *goIdentity.Engine served over HTTP.
type Service interface {
	ClaimUsername(ctx context.Context, sessionUserID, desired string) (goIdentity.UsernameChangeResult, error)
	RequestUsernameChange(ctx context.Context, sessionUserID, desired string) (goIdentity.UsernameChangeRequest, error)
	RedeemUsernameChange(ctx context.Context, sessionUserID, token string) (goIdentity.UsernameChangeResult, error)
	RequestEmailChange(ctx context.Context, sessionUserID, desired string) (goIdentity.EmailChangeRequest, error)
	RedeemEmailChange(ctx context.Context, sessionUserID, token string) (goIdentity.EmailChangeResult, error)
	ChangeQuota(ctx context.Context, sessionUserID string, changeType goIdentity.ChangeType) (goIdentity.Quota, error)
	HasPendingChange(ctx context.Context, sessionUserID string, changeType goIdentity.ChangeType) (bool, error)
	CheckAPIRequest(ctx context.Context, ip string) (goIdentity.Quota, error)
}

// Options configures [NewRouter].
type Options struct {
	Logger *zap.Logger
	// TrustProxyHeaders enables chi's RealIP so X-Forwarded-For decides the
	// client IP. Only set it behind a proxy that overwrites the header.
	TrustProxyHeaders bool
	// RequestTimeout bounds each request. Zero means 30 seconds.
	RequestTimeout time.Duration
}

// NewRouter mounts the identity routes. Every /api route is limited per client
// IP and requires a valid session.
func NewRouter(svc Service, sessions middleware.SessionVerifier, opts Options) chi.Router {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	timeout := opts.RequestTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	h := &Handler{svc: svc, logger: logger.Named("http")}

	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	if opts.TrustProxyHeaders {
		r.Use(chimw.RealIP)
	}
	r.Use(requestLogger(h.logger), chimw.Recoverer, chimw.Timeout(timeout))

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("ok"))
	})

	r.Route("/api", func(r chi.Router) {
		r.Use(middleware.ClientContext, h.limitAPI, middleware.RequireSession(sessions))

		r.Get("/profile/quota", h.ChangeStatus)
		r.Post("/profile/username/claim", h.ClaimUsername)
		r.Post("/profile/username/change", h.RequestUsernameChange)
		r.Post("/verify/username", h.RedeemUsernameChange)
		r.Post("/profile/email/change", h.RequestEmailChange)
		r.Post("/verify/email", h.RedeemEmailChange)
	})

	return r
}

func requestLogger(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			defer func() {
				status := ww.Status()
				if status == 0 {
					status = http.StatusOK
				}
				fields := []zap.Field{
					zap.String("method", r.Method),
					zap.String("path", r.URL.Path),
					zap.Int("status", status),
					zap.Duration("duration", time.Since(start)),
					zap.String("request_id", chimw.GetReqID(r.Context())),
				}
				if status >= http.StatusInternalServerError {
					logger.Warn("request failed", fields...)
					return
				}
				logger.Debug("request", fields...)
			}()
			next.ServeHTTP(ww, r)
		})
	}
}
