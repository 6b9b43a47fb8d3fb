package internaldefs

import (
	"github.com/MrEthical07/authcore"
)

// CounterDef names one Engine counter for export.
type CounterDef struct {
	ID   authcore.MetricID
	Name string
	Help string
}

// HistogramDef names one Engine histogram for export.
type HistogramDef struct {
	ID   authcore.MetricID
	Name string
	Help string
}

// AuditDroppedName is the counter of audit events lost to backpressure.
const AuditDroppedName = "authcore_audit_dropped_total"

// CounterDefs lists every exported counter in MetricID order.
var CounterDefs = []CounterDef{
	{ID: authcore.MetricRegisterSuccess, Name: "authcore_register_success_total", Help: "Successful registrations."},
	{ID: authcore.MetricRegisterDuplicate, Name: "authcore_register_duplicate_total", Help: "Registrations rejected as duplicate."},
	{ID: authcore.MetricRegisterInvalid, Name: "authcore_register_invalid_total", Help: "Registrations rejected by input validation."},
	{ID: authcore.MetricLoginSuccess, Name: "authcore_login_success_total", Help: "Successful logins."},
	{ID: authcore.MetricLoginFailure, Name: "authcore_login_failure_total", Help: "Logins rejected for bad credentials."},
	{ID: authcore.MetricLoginDisabled, Name: "authcore_login_disabled_total", Help: "Logins rejected for disabled accounts."},
	{ID: authcore.MetricRefreshSuccess, Name: "authcore_refresh_success_total", Help: "Successful refresh rotations."},
	{ID: authcore.MetricRefreshFailure, Name: "authcore_refresh_failure_total", Help: "Failed refresh rotations."},
	{ID: authcore.MetricRefreshReuseDetected, Name: "authcore_refresh_reuse_detected_total", Help: "Revoked refresh tokens presented again."},
	{ID: authcore.MetricLogout, Name: "authcore_logout_total", Help: "Single-session logouts."},
	{ID: authcore.MetricLogoutAll, Name: "authcore_logout_all_total", Help: "Logout-all operations."},
	{ID: authcore.MetricPasswordChangeSuccess, Name: "authcore_password_change_success_total", Help: "Successful password changes."},
	{ID: authcore.MetricPasswordChangeInvalidOld, Name: "authcore_password_change_invalid_old_total", Help: "Password changes with a wrong current password."},
	{ID: authcore.MetricPasswordHashUpgraded, Name: "authcore_password_hash_upgraded_total", Help: "Password hashes rehashed with current parameters."},
	{ID: authcore.MetricAccessValidated, Name: "authcore_access_validated_total", Help: "Accepted access tokens."},
	{ID: authcore.MetricAccessRejected, Name: "authcore_access_rejected_total", Help: "Rejected access tokens."},
	{ID: authcore.MetricUserCacheHit, Name: "authcore_user_cache_hit_total", Help: "User status cache hits."},
	{ID: authcore.MetricUserCacheMiss, Name: "authcore_user_cache_miss_total", Help: "User status cache misses."},
	{ID: authcore.MetricAPIKeyCreated, Name: "authcore_api_key_created_total", Help: "Issued API keys."},
	{ID: authcore.MetricAPIKeyRotated, Name: "authcore_api_key_rotated_total", Help: "Rotated API keys."},
	{ID: authcore.MetricAPIKeyRevoked, Name: "authcore_api_key_revoked_total", Help: "Revoked API keys."},
	{ID: authcore.MetricAPIKeyAuthSuccess, Name: "authcore_api_key_auth_success_total", Help: "Accepted API keys."},
	{ID: authcore.MetricAPIKeyAuthFailure, Name: "authcore_api_key_auth_failure_total", Help: "Rejected API keys."},
	{ID: authcore.MetricDeletionRequested, Name: "authcore_deletion_requested_total", Help: "Account deletion requests."},
	{ID: authcore.MetricDeletionConfirmed, Name: "authcore_deletion_confirmed_total", Help: "Confirmed account deletions."},
	{ID: authcore.MetricDeletionCancelled, Name: "authcore_deletion_cancelled_total", Help: "Cancelled account deletions."},
	{ID: authcore.MetricAccountDeleted, Name: "authcore_account_deleted_total", Help: "Accounts deleted by the sweep."},
	{ID: authcore.MetricDeletionSweepFailure, Name: "authcore_deletion_sweep_failure_total", Help: "Accounts the sweep failed to delete."},
	{ID: authcore.MetricRateLimitHit, Name: "authcore_rate_limit_hit_total", Help: "Requests denied by a rate limit."},
	{ID: authcore.MetricRateLimitDegraded, Name: "authcore_rate_limit_degraded_total", Help: "Requests admitted while the limiter backend failed."},
	{ID: authcore.MetricStoreUnavailable, Name: "authcore_store_unavailable_total", Help: "Operations failed by an unavailable backend."},
}

// HistogramDefs lists every exported histogram.
var HistogramDefs = []HistogramDef{
	{ID: authcore.MetricValidateLatency, Name: "authcore_validate_latency_seconds", Help: "Access token validation latency."},
}

// HistogramBounds are the upper bounds of the Engine histogram buckets, in
// seconds.
var HistogramBounds = []string{
	"0.005",
	"0.01",
	"0.025",
	"0.05",
	"0.1",
	"0.25",
	"0.5",
	"+Inf",
}

// HistogramBoundSuffix renders HistogramBounds for instrument names.
var HistogramBoundSuffix = []string{
	"0_005",
	"0_01",
	"0_025",
	"0_05",
	"0_1",
	"0_25",
	"0_5",
	"inf",
}

// NormalizeBuckets copies raw into a fixed array, zero-filling missing buckets.
func NormalizeBuckets(raw []uint64) [8]uint64 {
	var out [8]uint64
	for i := 0; i < len(out) && i < len(raw); i++ {
		out[i] = raw[i]
	}
	return out
}

// CumulativeBuckets turns per-bucket counts into running totals.
func CumulativeBuckets(raw [8]uint64) [8]uint64 {
	var out [8]uint64
	var running uint64
	for i := 0; i < len(raw); i++ {
		running += raw[i]
		out[i] = running
	}
	return out
}
