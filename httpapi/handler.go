package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	goIdentity "github.com/MrEthical07/goIdentity"
	"github.com/MrEthical07/goIdentity/middleware"
	"go.uber.org/zap"
)

const maxBodyBytes = 4 << 10

// Handler serves the identity routes. Build it through [NewRouter].
type Handler struct {
	svc    Service
	logger *zap.Logger
}

type usernameBody struct {
	Username string `json:"username"`
}

type emailBody struct {
	NewEmail string `json:"newEmail"`
}

type tokenBody struct {
	Token string `json:"token"`
}

type quotaResponse struct {
	Limit     int       `json:"limit"`
	Remaining int       `json:"remaining"`
	ResetAt   time.Time `json:"resetAt,omitzero"`
}

type changeRequestResponse struct {
	Status           goIdentity.Status `json:"status"`
	Message          string            `json:"message"`
	Username         string            `json:"username,omitempty"`
	Email            string            `json:"email,omitempty"`
	NoOp             bool              `json:"noOp,omitempty"`
	ExpiresAt        time.Time         `json:"expiresAt,omitzero"`
	ExpiresInMinutes int               `json:"expiresInMinutes,omitempty"`
	Quota            quotaResponse     `json:"quota"`
}

type changeResultResponse struct {
	Status   goIdentity.Status `json:"status"`
	Username string            `json:"username,omitempty"`
	Email    string            `json:"email,omitempty"`
}

type changeStatusResponse struct {
	Status  goIdentity.Status     `json:"status"`
	Type    goIdentity.ChangeType `json:"type"`
	Pending bool                  `json:"pending"`
	Quota   quotaResponse         `json:"quota"`
}

type errorResponse struct {
	Status            goIdentity.Status `json:"status"`
	Error             string            `json:"error"`
	Field             string            `json:"field,omitempty"`
	RetryAfterSeconds int               `json:"retryAfterSeconds,omitempty"`
	Quota             *quotaResponse    `json:"quota,omitempty"`
}

// ChangeStatus handles GET /api/profile/quota?type=USERNAME_CHANGE|EMAIL_CHANGE.
func (h *Handler) ChangeStatus(w http.ResponseWriter, r *http.Request) {
	uid, ok := h.sessionUser(w, r)
	if !ok {
		return
	}
	changeType := goIdentity.ChangeType(r.URL.Query().Get("type"))

	quota, err := h.svc.ChangeQuota(r.Context(), uid, changeType)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	pending, err := h.svc.HasPendingChange(r.Context(), uid, changeType)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, changeStatusResponse{
		Status:  goIdentity.StatusOK,
		Type:    changeType,
		Pending: pending,
		Quota:   toQuotaResponse(quota),
	})
}

// ClaimUsername handles POST /api/profile/username/claim.
func (h *Handler) ClaimUsername(w http.ResponseWriter, r *http.Request) {
	uid, ok := h.sessionUser(w, r)
	if !ok {
		return
	}
	var body usernameBody
	if !h.decode(w, r, &body) {
		return
	}

	res, err := h.svc.ClaimUsername(r.Context(), uid, body.Username)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, changeResultResponse{Status: goIdentity.StatusOK, Username: res.Username})
}

// RequestUsernameChange handles POST /api/profile/username/change.
func (h *Handler) RequestUsernameChange(w http.ResponseWriter, r *http.Request) {
	uid, ok := h.sessionUser(w, r)
	if !ok {
		return
	}
	var body usernameBody
	if !h.decode(w, r, &body) {
		return
	}

	res, err := h.svc.RequestUsernameChange(r.Context(), uid, body.Username)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	msg := "Verification email sent to your current address"
	if res.NoOp {
		msg = "Username unchanged"
	}
	setQuotaHeaders(w, res.Quota)
	writeJSON(w, http.StatusOK, changeRequestResponse{
		Status:           goIdentity.StatusOK,
		Message:          msg,
		Username:         res.Username,
		NoOp:             res.NoOp,
		ExpiresAt:        res.ExpiresAt,
		ExpiresInMinutes: res.ExpiresInMinutes,
		Quota:            toQuotaResponse(res.Quota),
	})
}

// RedeemUsernameChange handles POST /api/verify/username.
func (h *Handler) RedeemUsernameChange(w http.ResponseWriter, r *http.Request) {
	uid, ok := h.sessionUser(w, r)
	if !ok {
		return
	}
	var body tokenBody
	if !h.decode(w, r, &body) {
		return
	}

	res, err := h.svc.RedeemUsernameChange(r.Context(), uid, body.Token)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, changeResultResponse{Status: goIdentity.StatusOK, Username: res.Username})
}

// RequestEmailChange handles POST /api/profile/email/change.
func (h *Handler) RequestEmailChange(w http.ResponseWriter, r *http.Request) {
	uid, ok := h.sessionUser(w, r)
	if !ok {
		return
	}
	var body emailBody
	if !h.decode(w, r, &body) {
		return
	}

	res, err := h.svc.RequestEmailChange(r.Context(), uid, body.NewEmail)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	msg := "Verification email sent to the new address"
	if res.NoOp {
		msg = "Email unchanged"
	}
	setQuotaHeaders(w, res.Quota)
	writeJSON(w, http.StatusOK, changeRequestResponse{
		Status:           goIdentity.StatusOK,
		Message:          msg,
		Email:            res.Email,
		NoOp:             res.NoOp,
		ExpiresAt:        res.ExpiresAt,
		ExpiresInMinutes: res.ExpiresInMinutes,
		Quota:            toQuotaResponse(res.Quota),
	})
}

// RedeemEmailChange handles POST /api/verify/email.
func (h *Handler) RedeemEmailChange(w http.ResponseWriter, r *http.Request) {
	uid, ok := h.sessionUser(w, r)
	if !ok {
		return
	}
	var body tokenBody
	if !h.decode(w, r, &body) {
		return
	}

	res, err := h.svc.RedeemEmailChange(r.Context(), uid, body.Token)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, changeResultResponse{Status: goIdentity.StatusOK, Email: res.Email})
}

func (h *Handler) limitAPI(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, err := h.svc.CheckAPIRequest(r.Context(), middleware.ClientIP(r)); err != nil {
			h.writeError(w, r, err)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (h *Handler) sessionUser(w http.ResponseWriter, r *http.Request) (string, bool) {
	uid, ok := middleware.SessionUserID(r.Context())
	if !ok {
		writeJSON(w, http.StatusUnauthorized, errorResponse{
			Status: goIdentity.StatusUnauthenticated,
			Error:  "authentication required",
		})
	}
	return uid, ok
}

func (h *Handler) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{
			Status: goIdentity.StatusInvalidInput,
			Error:  "invalid request payload",
		})
		return false
	}
	return true
}

func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := goIdentity.StatusOf(err)
	resp := errorResponse{Status: status, Error: err.Error()}

	var verr *goIdentity.ValidationError
	if errors.As(err, &verr) {
		resp.Field = verr.Field
	}

	var rerr *goIdentity.RateLimitError
	if errors.As(err, &rerr) {
		q := rerr.Quota()
		setQuotaHeaders(w, q)
		secs := retryAfterSeconds(rerr.RetryAfter)
		w.Header().Set("Retry-After", itoa(secs))
		resp.RetryAfterSeconds = secs
		qr := toQuotaResponse(q)
		resp.Quota = &qr
	}

	if status == goIdentity.StatusUnavailable {
		h.logger.Error("identity request failed",
			zap.String("path", r.URL.Path),
			zap.Error(err),
		)
		resp.Error = goIdentity.ErrUnavailable.Error()
	}

	writeJSON(w, httpStatus(status), resp)
}
