package riskgate

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	internalaudit "github.com/openclave/riskgate/internal/audit"
)

const (
	auditEventLoginSuccess        = "login.success"
	auditEventLoginFailure        = "login.failure"
	auditEventLoginThrottled      = "login.throttled"
	auditEventThrottleDegraded    = "login.throttle_degraded"
	auditEventHighRiskLogin       = "login.high_risk"
	auditEventMFAChallengeIssued  = "mfa.challenge_issued"
	auditEventMFASuccess          = "mfa.success"
	auditEventMFAFailure          = "mfa.failure"
	auditEventMFALockout          = "mfa.lockout"
	auditEventMFAChallengeExpired = "mfa.challenge_expired"
	auditEventBackupCodeUsed      = "mfa.backup_code_used"
	auditEventBackupCodesRotated  = "mfa.backup_codes_rotated"
	auditEventTOTPEnrollStarted   = "mfa.totp_enroll_started"
	auditEventTOTPEnrollConfirmed = "mfa.totp_enroll_confirmed"
	auditEventRefreshSuccess      = "refresh.success"
	auditEventRefreshFailure      = "refresh.failure"
	auditEventReplayDetected      = "refresh.replay_detected"
	auditEventFingerprintMismatch = "refresh.fingerprint_mismatch"
	auditEventSessionRevoked      = "session.revoked"
	auditEventSessionRevokedAll   = "session.revoked_all"
	auditEventLogout              = "session.logout"
)

// auditErrorCode maps an internal failure to the stable code recorded in
// audit events. The external error stays generic; the audit trail keeps
// the precise cause.
func auditErrorCode(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrInvalidCredentials):
		return "invalid_credentials"
	case errors.Is(err, ErrAccountNotFound):
		return "account_not_found"
	case errors.Is(err, ErrAccountLocked):
		return "account_locked"
	case errors.Is(err, ErrAccountDisabled):
		return "account_disabled"
	case errors.Is(err, ErrThrottled):
		return "throttled"
	case errors.Is(err, ErrMFAInvalid):
		return "mfa_invalid"
	case errors.Is(err, ErrMFALockedOut):
		return "mfa_locked_out"
	case errors.Is(err, ErrMFAChallengeExpired):
		return "mfa_challenge_expired"
	case errors.Is(err, ErrMFANotEnrolled):
		return "mfa_not_enrolled"
	case errors.Is(err, ErrBackupCodeInvalid):
		return "backup_code_invalid"
	case errors.Is(err, ErrTokenReplay):
		return "token_replay"
	case errors.Is(err, ErrFingerprintMismatch):
		return "fingerprint_mismatch"
	case errors.Is(err, ErrSessionRevoked):
		return "session_revoked"
	case errors.Is(err, ErrSessionExpired):
		return "session_expired"
	case errors.Is(err, ErrTokenInvalid):
		return "token_invalid"
	case errors.Is(err, ErrStoreUnavailable):
		return "store_unavailable"
	default:
		return "internal"
	}
}

// auditEntry accumulates the fields of one event before emission.
type auditEntry struct {
	eventType      string
	accountID      string
	sessionID      string
	fingerprintRef string
	riskScore      int
	success        bool
	err            error
	metadata       map[string]string
}

// emitAudit hands the event to the dispatcher and never blocks the auth
// path. Origin and correlation id come from the request context; a
// missing correlation id gets a fresh UUID so downstream joins always
// have a key.
func (e *Engine) emitAudit(ctx context.Context, entry auditEntry) {
	if e.auditDispatcher == nil {
		return
	}

	correlationID := correlationIDFromContext(ctx)
	if correlationID == "" {
		correlationID = uuid.NewString()
	}

	event := internalaudit.Event{
		Timestamp:      time.Now().UTC(),
		EventType:      entry.eventType,
		AccountID:      entry.accountID,
		SessionID:      entry.sessionID,
		Origin:         originFromContext(ctx),
		FingerprintRef: entry.fingerprintRef,
		RiskScore:      entry.riskScore,
		CorrelationID:  correlationID,
		Success:        entry.success,
		Error:          auditErrorCode(entry.err),
		Metadata:       entry.metadata,
	}

	e.auditDispatcher.Emit(ctx, event)
}

// AuditDropped reports how many audit events were discarded because the
// dispatcher buffer was full.
func (e *Engine) AuditDropped() uint64 {
	return e.auditDispatcher.Dropped()
}
