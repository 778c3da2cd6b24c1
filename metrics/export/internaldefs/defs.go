package internaldefs

import (
	goIdentity "github.com/MrEthical07/goIdentity"
)

// CounterDef maps a goIdentity counter to its exported name.
type CounterDef struct {
	ID   goIdentity.MetricID
	Name string
	Help string
}

// HistogramDef maps a goIdentity histogram to its exported name.
type HistogramDef struct {
	ID   goIdentity.MetricID
	Name string
	Help string
}

// CounterDefs lists every exported counter in a stable order.
var CounterDefs = []CounterDef{
	{ID: goIdentity.MetricUsernameChangeRequested, Name: "goidentity_username_change_requested_total", Help: "Username change verifications issued."},
	{ID: goIdentity.MetricUsernameChangeNoOp, Name: "goidentity_username_change_noop_total", Help: "Username change requests for the current username."},
	{ID: goIdentity.MetricUsernameChangeCompleted, Name: "goidentity_username_change_completed_total", Help: "Username changes applied after verification."},
	{ID: goIdentity.MetricUsernameClaimed, Name: "goidentity_username_claimed_total", Help: "First usernames claimed without verification."},
	{ID: goIdentity.MetricEmailChangeRequested, Name: "goidentity_email_change_requested_total", Help: "Email change verifications issued."},
	{ID: goIdentity.MetricEmailChangeNoOp, Name: "goidentity_email_change_noop_total", Help: "Email change requests for the current address."},
	{ID: goIdentity.MetricEmailChangeCompleted, Name: "goidentity_email_change_completed_total", Help: "Email changes applied after verification."},
	{ID: goIdentity.MetricRateLimitHit, Name: "goidentity_change_rate_limited_total", Help: "Identity change requests denied by the change quota."},
	{ID: goIdentity.MetricAPIRateLimited, Name: "goidentity_api_rate_limited_total", Help: "API requests denied by the per-IP limiter."},
	{ID: goIdentity.MetricIdentityConflict, Name: "goidentity_identity_conflict_total", Help: "Requests or redemptions rejected because the value is taken."},
	{ID: goIdentity.MetricTokenInvalid, Name: "goidentity_token_invalid_total", Help: "Redemptions with unknown, consumed or mistyped tokens."},
	{ID: goIdentity.MetricTokenExpired, Name: "goidentity_token_expired_total", Help: "Redemptions with expired tokens."},
	{ID: goIdentity.MetricTokenWrongSubject, Name: "goidentity_token_wrong_subject_total", Help: "Redemptions attempted by a session that does not own the token."},
	{ID: goIdentity.MetricTokenSuperseded, Name: "goidentity_token_superseded_total", Help: "Live tokens replaced by a newer request."},
	{ID: goIdentity.MetricDispatchFailure, Name: "goidentity_dispatch_failure_total", Help: "Verification emails that could not be sent."},
	{ID: goIdentity.MetricTokenCleanupFailure, Name: "goidentity_token_cleanup_failure_total", Help: "Tokens that could not be deleted after a failed dispatch."},
	{ID: goIdentity.MetricSecurityAlertSent, Name: "goidentity_security_alert_sent_total", Help: "Security alerts delivered to the previous address."},
	{ID: goIdentity.MetricSecurityAlertFailed, Name: "goidentity_security_alert_failed_total", Help: "Security alerts that could not be delivered."},
	{ID: goIdentity.MetricBackendUnavailable, Name: "goidentity_backend_unavailable_total", Help: "Operations failed because Redis or the user store was unreachable."},
}

// HistogramDefs lists every exported histogram.
var HistogramDefs = []HistogramDef{
	{ID: goIdentity.MetricRedeemLatency, Name: "goidentity_redeem_latency_seconds", Help: "Token redemption latency."},
}

// Audit counters are read from the engine rather than the snapshot.
const (
	AuditDroppedName = "goidentity_audit_dropped_total"
	AuditDroppedHelp = "Audit events dropped because the dispatcher buffer was full."
	AuditFailedName  = "goidentity_audit_failed_total"
	AuditFailedHelp  = "Audit events whose sink panicked."
)

// HistogramBounds are the upper bounds, in seconds, of the first seven
// buckets. The eighth bucket is +Inf.
var HistogramBounds = [7]float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5}

// HistogramBoundSuffix names each bucket for exporters without native
// histogram labels.
var HistogramBoundSuffix = [8]string{
	"0_005",
	"0_01",
	"0_025",
	"0_05",
	"0_1",
	"0_25",
	"0_5",
	"inf",
}

// NormalizeBuckets copies raw into a fixed eight-bucket array. Missing
// buckets are zero and extra ones are ignored.
func NormalizeBuckets(raw []uint64) [8]uint64 {
	var out [8]uint64
	copy(out[:], raw)
	return out
}

// CumulativeBuckets converts per-bucket counts into running totals.
func CumulativeBuckets(raw [8]uint64) [8]uint64 {
	var out [8]uint64
	var running uint64
	for i, v := range raw {
		running += v
		out[i] = running
	}
	return out
}
