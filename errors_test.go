package goIdentity

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"
)

func TestStatusOf(t *testing.T) {
	tests := []struct {
		err  error
		want Status
	}{
		{nil, StatusOK},
		{&ValidationError{Field: "username", Reason: "too short"}, StatusInvalidInput},
		{&RateLimitError{Limit: 2}, StatusRateLimited},
		{fmt.Errorf("%w: retry", ErrIdentityConflict), StatusConflict},
		{ErrTokenInvalid, StatusInvalid},
		{ErrTokenExpired, StatusExpired},
		{ErrWrongSubject, StatusWrongSubject},
		{ErrDispatchFailed, StatusDispatchFailure},
		{ErrVerificationRequired, StatusForbidden},
		{ErrEmailChangeNotAllowed, StatusForbidden},
		{ErrUserNotFound, StatusUnauthenticated},
		{ErrUnavailable, StatusUnavailable},
		{context.DeadlineExceeded, StatusUnavailable},
		{errors.New("boom"), StatusUnavailable},
	}

	for _, tt := range tests {
		if got := StatusOf(tt.err); got != tt.want {
			t.Fatalf("StatusOf(%v) = %s, want %s", tt.err, got, tt.want)
		}
	}
}

func TestRateLimitErrorMessage(t *testing.T) {
	err := &RateLimitError{
		Limit:      2,
		Remaining:  0,
		ResetAt:    testEpoch.Add(72 * time.Hour),
		RetryAfter: 72 * time.Hour,
	}
	if !strings.Contains(err.Error(), "2 of 2 changes used") || !strings.Contains(err.Error(), "3 days") {
		t.Fatalf("unexpected message %q", err.Error())
	}
	if q := err.Quota(); q.Limit != 2 || q.Remaining != 0 || !q.ResetAt.Equal(err.ResetAt) {
		t.Fatalf("unexpected quota %+v", q)
	}
}

func TestHumanizeDuration(t *testing.T) {
	cases := map[time.Duration]string{
		0:                      "a moment",
		500 * time.Millisecond: "1 second",
		42 * time.Second:       "42 seconds",
		5 * time.Minute:        "5 minutes",
		3 * time.Hour:          "3 hours",
		29 * 24 * time.Hour:    "29 days",
	}
	for d, want := range cases {
		if got := humanizeDuration(d); got != want {
			t.Fatalf("humanizeDuration(%v) = %q, want %q", d, got, want)
		}
	}
}

func TestAuditErrorCode(t *testing.T) {
	if auditErrorCode(nil) != "" {
		t.Fatal("nil error must have no code")
	}
	if auditErrorCode(&RateLimitError{}) != auditErrRateLimited {
		t.Fatal("expected rate_limited")
	}
	if auditErrorCode(errors.New("other")) != auditErrInternal {
		t.Fatal("expected internal_error")
	}
}
