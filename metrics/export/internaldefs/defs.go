package internaldefs

import (
	riskgate "github.com/openclave/riskgate"
)

// CounterDef names one engine counter for exposition.
type CounterDef struct {
	ID   riskgate.MetricID
	Name string
	Help string
}

// HistogramDef names one engine histogram for exposition.
type HistogramDef struct {
	ID   riskgate.MetricID
	Name string
	Help string
}

var CounterDefs = []CounterDef{
	{ID: riskgate.MetricLoginSuccess, Name: "riskgate_login_success_total", Help: "Successful login attempts."},
	{ID: riskgate.MetricLoginFailure, Name: "riskgate_login_failure_total", Help: "Failed login attempts."},
	{ID: riskgate.MetricLoginThrottled, Name: "riskgate_login_throttled_total", Help: "Login attempts denied by the throttle."},
	{ID: riskgate.MetricLoginThrottleDegraded, Name: "riskgate_login_throttle_degraded_total", Help: "Logins admitted while the identifier throttle store was unreachable."},
	{ID: riskgate.MetricHighRiskLogin, Name: "riskgate_high_risk_login_total", Help: "Logins scored at or above the MFA threshold."},
	{ID: riskgate.MetricMFARequired, Name: "riskgate_mfa_required_total", Help: "Login flows gated behind an MFA challenge."},
	{ID: riskgate.MetricMFASuccess, Name: "riskgate_mfa_success_total", Help: "Successful MFA verifications."},
	{ID: riskgate.MetricMFAFailure, Name: "riskgate_mfa_failure_total", Help: "Failed MFA verifications."},
	{ID: riskgate.MetricMFALockout, Name: "riskgate_mfa_lockout_total", Help: "Challenges invalidated after the attempt budget."},
	{ID: riskgate.MetricMFAChallengeExpired, Name: "riskgate_mfa_challenge_expired_total", Help: "Verification attempts against expired or unknown challenges."},
	{ID: riskgate.MetricMFAReplayAttempt, Name: "riskgate_mfa_replay_attempt_total", Help: "TOTP codes replayed from an already-used time step."},
	{ID: riskgate.MetricBackupCodeUsed, Name: "riskgate_backup_code_used_total", Help: "Successful backup-code verifications."},
	{ID: riskgate.MetricBackupCodeFailed, Name: "riskgate_backup_code_failed_total", Help: "Failed backup-code verifications."},
	{ID: riskgate.MetricBackupCodeRegenerated, Name: "riskgate_backup_code_regenerated_total", Help: "Backup-code regeneration operations."},
	{ID: riskgate.MetricRefreshSuccess, Name: "riskgate_refresh_success_total", Help: "Successful refresh rotations."},
	{ID: riskgate.MetricRefreshFailure, Name: "riskgate_refresh_failure_total", Help: "Failed refresh rotations."},
	{ID: riskgate.MetricReplayDetected, Name: "riskgate_replay_detected_total", Help: "Superseded refresh tokens presented; the session was revoked."},
	{ID: riskgate.MetricFingerprintMismatch, Name: "riskgate_fingerprint_mismatch_total", Help: "Refresh attempts from a device other than the session's."},
	{ID: riskgate.MetricSessionCreated, Name: "riskgate_session_created_total", Help: "Created sessions."},
	{ID: riskgate.MetricSessionRevoked, Name: "riskgate_session_revoked_total", Help: "Revoked sessions."},
	{ID: riskgate.MetricSessionExpired, Name: "riskgate_session_expired_total", Help: "Operations rejected against expired sessions."},
	{ID: riskgate.MetricLogout, Name: "riskgate_logout_total", Help: "Single-session logout operations."},
	{ID: riskgate.MetricRevokeAll, Name: "riskgate_revoke_all_total", Help: "Account-wide revocation operations."},
}

var HistogramDefs = []HistogramDef{
	{ID: riskgate.MetricValidateLatency, Name: "riskgate_validate_latency_seconds", Help: "Access-token validation latency histogram."},
}

// HistogramBounds are the upper bucket bounds shared by every exporter.
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

// HistogramBoundSuffix mirrors HistogramBounds with characters legal in
// OTel instrument names.
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

// NormalizeBuckets pads or truncates a raw snapshot slice to the fixed
// bucket count.
func NormalizeBuckets(raw []uint64) [8]uint64 {
	var out [8]uint64
	for i := 0; i < len(out) && i < len(raw); i++ {
		out[i] = raw[i]
	}
	return out
}

// CumulativeBuckets converts per-bucket counts to the cumulative form
// Prometheus histograms expect.
func CumulativeBuckets(raw [8]uint64) [8]uint64 {
	var out [8]uint64
	var running uint64
	for i := 0; i < len(raw); i++ {
		running += raw[i]
		out[i] = running
	}
	return out
}
