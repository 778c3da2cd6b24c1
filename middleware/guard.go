package middleware

import (
	"context"
	"net"
	"net/http"
	"strings"

	goIdentity "github.com/MrEthical07/goIdentity"
	"github.com/MrEthical07/goIdentity/jwt"
)

type sessionUserContextKey struct{}

// SessionVerifier is satisfied by *jwt.Manager.
type SessionVerifier interface {
	Verify(token string) (*jwt.SessionClaims, error)
}

// SessionUserID returns the id placed on ctx by [RequireSession].
func SessionUserID(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(sessionUserContextKey{}).(string)
	return id, ok && id != ""
}

// WithSessionUserID is used by tests and alternative session layers.
func WithSessionUserID(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, sessionUserContextKey{}, userID)
}

// RequireSession rejects requests without a valid bearer token with 401.
func RequireSession(verifier SessionVerifier) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if verifier == nil {
				unauthorized(w)
				return
			}

			token, ok := bearerToken(r.Header.Get("Authorization"))
			if !ok {
				unauthorized(w)
				return
			}

			claims, err := verifier.Verify(token)
			if err != nil {
				unauthorized(w)
				return
			}

			next.ServeHTTP(w, r.WithContext(WithSessionUserID(r.Context(), claims.UID)))
		})
	}
}

// ClientContext copies the remote IP and User-Agent onto the request context.
// Run it after chi's RealIP when behind a trusted proxy.
func ClientContext(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := goIdentity.WithClientIP(r.Context(), ClientIP(r))
		ctx = goIdentity.WithUserAgent(ctx, r.UserAgent())
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// ClientIP returns the host part of r.RemoteAddr.
func ClientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func unauthorized(w http.ResponseWriter) {
	w.Header().Set("WWW-Authenticate", `Bearer realm="goidentity"`)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	_, _ = w.Write([]byte(`{"status":"UNAUTHENTICATED","error":"authentication required"}`))
}

func bearerToken(value string) (string, bool) {
	const bearer = "bearer "
	if len(value) < len(bearer) || !strings.EqualFold(value[:len(bearer)], bearer) {
		return "", false
	}

	token := strings.TrimSpace(value[len(bearer):])
	if token == "" {
		return "", false
	}

	return token, true
}
