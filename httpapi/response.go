package httpapi

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	goIdentity "github.com/MrEthical07/goIdentity"
)

func httpStatus(s goIdentity.Status) int {
	switch s {
	case goIdentity.StatusOK:
		return http.StatusOK
	case goIdentity.StatusInvalidInput, goIdentity.StatusInvalid:
		return http.StatusBadRequest
	case goIdentity.StatusExpired:
		return http.StatusGone
	case goIdentity.StatusWrongSubject, goIdentity.StatusForbidden:
		return http.StatusForbidden
	case goIdentity.StatusConflict:
		return http.StatusConflict
	case goIdentity.StatusRateLimited:
		return http.StatusTooManyRequests
	case goIdentity.StatusDispatchFailure:
		return http.StatusBadGateway
	case goIdentity.StatusUnauthenticated:
		return http.StatusUnauthorized
	default:
		return http.StatusServiceUnavailable
	}
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload != nil {
		_ = json.NewEncoder(w).Encode(payload)
	}
}

func setQuotaHeaders(w http.ResponseWriter, q goIdentity.Quota) {
	if q.Limit <= 0 {
		return
	}
	w.Header().Set("X-RateLimit-Limit", itoa(q.Limit))
	w.Header().Set("X-RateLimit-Remaining", itoa(q.Remaining))
	if !q.ResetAt.IsZero() {
		w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(q.ResetAt.Unix(), 10))
	}
}

func toQuotaResponse(q goIdentity.Quota) quotaResponse {
	return quotaResponse{Limit: q.Limit, Remaining: q.Remaining, ResetAt: q.ResetAt}
}

// retryAfterSeconds rounds up so clients never retry early.
func retryAfterSeconds(d time.Duration) int {
	if d <= 0 {
		return 1
	}
	secs := int((d + time.Second - 1) / time.Second)
	if secs < 1 {
		secs = 1
	}
	return secs
}

func itoa(n int) string {
	return strconv.Itoa(n)
}
