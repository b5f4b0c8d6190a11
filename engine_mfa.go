package riskgate

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/openclave/riskgate/internal/risk"
)

// VerifyMFA answers a pending challenge with a TOTP code. On success the
// session and token pair are issued, bound to the fingerprint and risk
// score captured when the challenge was created. The challenge is single
// use: it dies on success, expiry, or budget exhaustion.
func (e *Engine) VerifyMFA(ctx context.Context, challengeID, code string) (*LoginResult, error) {
	if err := e.checkReady(); err != nil {
		return nil, err
	}

	record, err := e.loadChallenge(ctx, challengeID)
	if err != nil {
		return nil, err
	}

	totpRecord, err := e.accounts.TOTPRecord(ctx, record.AccountID)
	if err != nil || totpRecord == nil || !totpRecord.Confirmed {
		return nil, e.failChallenge(ctx, challengeID, record, ErrMFANotEnrolled)
	}

	ok, counter, err := e.totp.VerifyCode(totpRecord.Secret, code, time.Now())
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMFAUnavailable, err)
	}
	if ok && counter <= totpRecord.LastCounter {
		// Correct code, already spent this step. Burn an attempt like any
		// wrong code so replays cannot probe for free.
		e.metricInc(MetricMFAReplayAttempt)
		ok = false
	}
	if !ok {
		return nil, e.failChallenge(ctx, challengeID, record, ErrMFAInvalid)
	}

	totpRecord.LastCounter = counter
	if err := e.accounts.SaveTOTPRecord(ctx, record.AccountID, totpRecord); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	return e.completeChallenge(ctx, challengeID, record, "totp")
}

// VerifyMFABackupCode answers a pending challenge with a single-use
// backup code. The code is consumed atomically; a code that matched but
// was concurrently consumed counts as invalid.
func (e *Engine) VerifyMFABackupCode(ctx context.Context, challengeID, code string) (*LoginResult, error) {
	if err := e.checkReady(); err != nil {
		return nil, err
	}

	record, err := e.loadChallenge(ctx, challengeID)
	if err != nil {
		return nil, err
	}

	hashes, err := e.accounts.BackupCodeHashes(ctx, record.AccountID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	consumed := false
	for _, encoded := range hashes {
		match, verifyErr := e.passwordHasher.Verify(code, encoded)
		if verifyErr != nil || !match {
			continue
		}
		used, consumeErr := e.accounts.ConsumeBackupCode(ctx, record.AccountID, encoded)
		if consumeErr != nil {
			return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, consumeErr)
		}
		if used {
			consumed = true
		}
		break
	}

	if !consumed {
		e.metricInc(MetricBackupCodeFailed)
		return nil, e.failChallenge(ctx, challengeID, record, ErrBackupCodeInvalid)
	}

	e.metricInc(MetricBackupCodeUsed)
	return e.completeChallenge(ctx, challengeID, record, "backup_code")
}

// loadChallenge maps store outcomes onto the public taxonomy. A missing
// and an expired challenge are indistinguishable to the caller.
func (e *Engine) loadChallenge(ctx context.Context, challengeID string) (*mfaChallenge, error) {
	record, err := e.challengeStore.Get(ctx, challengeID)
	if err != nil {
		switch {
		case errors.Is(err, errMFAChallengeNotFound), errors.Is(err, errMFAChallengeExpired):
			e.metricInc(MetricMFAChallengeExpired)
			e.emitAudit(ctx, auditEntry{
				eventType: auditEventMFAChallengeExpired,
				err:       ErrMFAChallengeExpired,
			})
			return nil, ErrMFAChallengeExpired
		default:
			return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
		}
	}
	return record, nil
}

// failChallenge burns one attempt and reports what the caller gets:
// MFAAttemptError with the remaining budget, or ErrMFALockedOut once the
// budget is spent and the challenge is gone.
func (e *Engine) failChallenge(ctx context.Context, challengeID string, record *mfaChallenge, cause error) error {
	remaining, exceeded, err := e.challengeStore.RecordFailure(ctx, challengeID, e.config.MFA.ChallengeMaxAttempts)
	if err != nil {
		switch {
		case errors.Is(err, errMFAChallengeNotFound), errors.Is(err, errMFAChallengeExpired):
			return ErrMFAChallengeExpired
		default:
			return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
		}
	}

	if exceeded {
		e.metricInc(MetricMFALockout)
		e.emitAudit(ctx, auditEntry{
			eventType:      auditEventMFALockout,
			accountID:      record.AccountID,
			fingerprintRef: risk.Ref(record.Fingerprint),
			riskScore:      int(record.RiskScore),
			err:            ErrMFALockedOut,
		})
		return ErrMFALockedOut
	}

	e.metricInc(MetricMFAFailure)
	e.emitAudit(ctx, auditEntry{
		eventType:      auditEventMFAFailure,
		accountID:      record.AccountID,
		fingerprintRef: risk.Ref(record.Fingerprint),
		riskScore:      int(record.RiskScore),
		err:            cause,
		metadata:       map[string]string{"attempts_remaining": fmt.Sprintf("%d", remaining)},
	})
	return &MFAAttemptError{AttemptsRemaining: remaining, Cause: cause}
}

func (e *Engine) completeChallenge(
	ctx context.Context,
	challengeID string,
	record *mfaChallenge,
	method string,
) (*LoginResult, error) {
	// Single use: whoever deletes the record wins; a concurrent
	// verification that lost sees the challenge as expired.
	existed, err := e.challengeStore.Delete(ctx, challengeID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	if !existed {
		return nil, ErrMFAChallengeExpired
	}

	account, err := e.accounts.AccountByID(ctx, record.AccountID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	if account.Status != AccountActive {
		if account.Status == AccountLocked {
			return nil, ErrAccountLocked
		}
		return nil, ErrAccountDisabled
	}

	result, err := e.issueSession(ctx, account, record.Fingerprint, int(record.RiskScore), true)
	if err != nil {
		return nil, err
	}

	_ = e.history.RecordDevice(ctx, account.AccountID, record.Fingerprint, time.Now())

	eventType := auditEventMFASuccess
	if method == "backup_code" {
		eventType = auditEventBackupCodeUsed
	}

	e.metricInc(MetricMFASuccess)
	e.metricInc(MetricLoginSuccess)
	e.emitAudit(ctx, auditEntry{
		eventType:      eventType,
		accountID:      account.AccountID,
		sessionID:      result.SessionID,
		fingerprintRef: risk.Ref(record.Fingerprint),
		riskScore:      int(record.RiskScore),
		success:        true,
		metadata:       map[string]string{"method": method},
	})

	return result, nil
}
