package riskgate

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/openclave/riskgate/internal"
	"github.com/openclave/riskgate/internal/rate"
	"github.com/openclave/riskgate/internal/risk"
)

// LoginWithResult runs the full adaptive flow: throttle check,
// constant-time credential verification, risk assessment, and either
// token issuance or an MFA challenge. MFA interposition is reported
// through LoginResult.MFARequired, not as an error.
//
// Origin and device signals are read from the context (see WithOrigin,
// WithDeviceSignals).
func (e *Engine) LoginWithResult(ctx context.Context, identifier, passwd string) (*LoginResult, error) {
	if err := e.checkReady(); err != nil {
		return nil, err
	}

	origin := originFromContext(ctx)
	fingerprint := e.fingerprinter.Derive(signalsFromContext(ctx), origin)
	fpRef := risk.Ref(fingerprint)

	if err := e.checkThrottle(ctx, identifier, origin, fpRef); err != nil {
		return nil, err
	}

	account, lookupErr := e.accounts.AccountByIdentifier(ctx, identifier)
	if lookupErr != nil && !errors.Is(lookupErr, ErrAccountNotFound) {
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, lookupErr)
	}

	// Unknown identifiers still burn a full argon2 verification against
	// the dummy hash, so response timing does not reveal existence.
	target := e.dummyHash
	if account != nil {
		target = account.PasswordHash
	}
	ok, err := e.verifyPassword(ctx, passwd, target)
	if err != nil {
		return nil, err
	}
	if account == nil || !ok {
		e.recordLoginFailure(ctx, identifier, origin, fpRef, lookupErr)
		return nil, ErrInvalidCredentials
	}

	switch account.Status {
	case AccountLocked:
		e.metricInc(MetricLoginFailure)
		e.emitAudit(ctx, auditEntry{
			eventType:      auditEventLoginFailure,
			accountID:      account.AccountID,
			fingerprintRef: fpRef,
			err:            ErrAccountLocked,
		})
		return nil, ErrAccountLocked
	case AccountDisabled:
		e.metricInc(MetricLoginFailure)
		e.emitAudit(ctx, auditEntry{
			eventType:      auditEventLoginFailure,
			accountID:      account.AccountID,
			fingerprintRef: fpRef,
			err:            ErrAccountDisabled,
		})
		return nil, ErrAccountDisabled
	}

	// Credential verified: the identifier counter resets, the origin
	// counter decays on its own.
	if err := e.limiter.ResetIdentifier(ctx, identifier); err != nil {
		e.emitAudit(ctx, auditEntry{
			eventType: auditEventThrottleDegraded,
			accountID: account.AccountID,
			err:       err,
			metadata:  map[string]string{"phase": "reset"},
		})
	}

	assessment, err := e.scorer.Assess(ctx, risk.Input{
		AccountID:   account.AccountID,
		Fingerprint: fingerprint,
		Origin:      origin,
		Now:         time.Now(),
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	if e.mfaRequired(ctx, account, assessment.Score) {
		return e.beginMFAChallenge(ctx, account, fingerprint, assessment)
	}

	result, err := e.issueSession(ctx, account, fingerprint, assessment.Score, true)
	if err != nil {
		return nil, err
	}
	e.finishLogin(ctx, account, fingerprint, assessment, result.SessionID)
	return result, nil
}

// Login is the convenience wrapper. When the gate interposes it returns
// the partial result (carrying ChallengeID) together with
// ErrMFARequired.
func (e *Engine) Login(ctx context.Context, identifier, passwd string) (*LoginResult, error) {
	result, err := e.LoginWithResult(ctx, identifier, passwd)
	if err != nil {
		return nil, err
	}
	if result.MFARequired {
		return result, ErrMFARequired
	}
	return result, nil
}

// checkThrottle applies both counter scopes. The origin counter fails
// closed: if its store cannot be read the attempt is treated as
// throttled. The identifier counter fails open with an audit record.
func (e *Engine) checkThrottle(ctx context.Context, identifier, origin, fpRef string) error {
	err := e.limiter.Check(ctx, identifier, origin)
	if err == nil {
		return nil
	}

	var blocked *rate.BlockedError
	switch {
	case errors.As(err, &blocked):
		e.metricInc(MetricLoginThrottled)
		e.emitAudit(ctx, auditEntry{
			eventType:      auditEventLoginThrottled,
			fingerprintRef: fpRef,
			err:            ErrThrottled,
			metadata: map[string]string{
				"scope":       blocked.Scope,
				"retry_after": blocked.RetryAfter.String(),
			},
		})
		return &ThrottleError{RetryAfter: blocked.RetryAfter}
	case errors.Is(err, rate.ErrStoreUnavailable):
		e.metricInc(MetricLoginThrottled)
		e.emitAudit(ctx, auditEntry{
			eventType:      auditEventLoginThrottled,
			fingerprintRef: fpRef,
			err:            ErrStoreUnavailable,
			metadata:       map[string]string{"scope": "origin", "cause": "store_unavailable"},
		})
		return &ThrottleError{RetryAfter: e.config.Throttle.Origin.Block}
	case errors.Is(err, rate.ErrDegraded):
		e.metricInc(MetricLoginThrottleDegraded)
		e.emitAudit(ctx, auditEntry{
			eventType:      auditEventThrottleDegraded,
			fingerprintRef: fpRef,
			err:            ErrStoreUnavailable,
			metadata:       map[string]string{"scope": "identifier"},
		})
		return nil
	default:
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
}

// verifyPassword runs argon2 under the concurrency semaphore. Waiting
// respects context cancellation.
func (e *Engine) verifyPassword(ctx context.Context, passwd, encodedHash string) (bool, error) {
	select {
	case e.verifySem <- struct{}{}:
	case <-ctx.Done():
		return false, ctx.Err()
	}
	defer func() { <-e.verifySem }()

	ok, err := e.passwordHasher.Verify(passwd, encodedHash)
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrInvalidCredentials, err)
	}
	return ok, nil
}

// recordLoginFailure bumps both throttle counters and origin reputation.
// Counter outages follow the package failure domains but never change
// the caller-visible ErrInvalidCredentials.
func (e *Engine) recordLoginFailure(ctx context.Context, identifier, origin, fpRef string, cause error) {
	e.metricInc(MetricLoginFailure)

	if err := e.limiter.RecordFailure(ctx, identifier, origin); err != nil {
		e.emitAudit(ctx, auditEntry{
			eventType: auditEventThrottleDegraded,
			err:       err,
			metadata:  map[string]string{"phase": "record"},
		})
	}
	_ = e.history.RecordOriginFailure(ctx, origin)

	if cause == nil {
		cause = ErrInvalidCredentials
	}
	e.emitAudit(ctx, auditEntry{
		eventType:      auditEventLoginFailure,
		fingerprintRef: fpRef,
		err:            cause,
	})
}

// mfaRequired decides whether the gate interposes: always for
// account-mandated MFA, otherwise when the risk score reaches the
// configured threshold. An account that cannot complete any second
// factor is never gated on risk alone; the elevated score is audited
// instead.
func (e *Engine) mfaRequired(ctx context.Context, account *AccountRecord, score int) bool {
	enrolled := e.mfaEnrolled(ctx, account.AccountID)
	if account.MFAMandatory && enrolled {
		return true
	}
	if score < e.config.Risk.MFAThreshold {
		return false
	}
	if !enrolled {
		e.metricInc(MetricHighRiskLogin)
		e.emitAudit(ctx, auditEntry{
			eventType: auditEventHighRiskLogin,
			accountID: account.AccountID,
			riskScore: score,
			success:   true,
			metadata:  map[string]string{"gated": "false", "cause": "not_enrolled"},
		})
		return false
	}
	return true
}

func (e *Engine) mfaEnrolled(ctx context.Context, accountID string) bool {
	record, err := e.accounts.TOTPRecord(ctx, accountID)
	if err == nil && record != nil && record.Confirmed {
		return true
	}
	hashes, err := e.accounts.BackupCodeHashes(ctx, accountID)
	return err == nil && len(hashes) > 0
}

// beginMFAChallenge parks the verified login behind a short-lived
// challenge. No tokens exist until the challenge is answered.
func (e *Engine) beginMFAChallenge(
	ctx context.Context,
	account *AccountRecord,
	fingerprint [32]byte,
	assessment risk.Assessment,
) (*LoginResult, error) {
	challengeID, err := internal.NewChallengeID()
	if err != nil {
		return nil, err
	}

	record := &mfaChallenge{
		AccountID:   account.AccountID,
		Fingerprint: fingerprint,
		RiskScore:   clampRiskScore(assessment.Score),
		ExpiresAt:   time.Now().Add(e.config.MFA.ChallengeTTL).Unix(),
	}
	if err := e.challengeStore.Save(ctx, challengeID, record, e.config.MFA.ChallengeTTL); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	e.metricInc(MetricMFARequired)
	e.emitAudit(ctx, auditEntry{
		eventType:      auditEventMFAChallengeIssued,
		accountID:      account.AccountID,
		fingerprintRef: risk.Ref(fingerprint),
		riskScore:      assessment.Score,
		success:        true,
		metadata:       mfaGateMetadata(account, assessment),
	})

	return &LoginResult{
		AccountID:   account.AccountID,
		Role:        account.Role,
		RiskScore:   assessment.Score,
		MFARequired: true,
		ChallengeID: challengeID,
	}, nil
}

// finishLogin records the success side effects shared by the direct and
// post-MFA paths.
func (e *Engine) finishLogin(
	ctx context.Context,
	account *AccountRecord,
	fingerprint [32]byte,
	assessment risk.Assessment,
	sessionID string,
) {
	_ = e.history.RecordDevice(ctx, account.AccountID, fingerprint, time.Now())

	e.metricInc(MetricLoginSuccess)
	e.emitAudit(ctx, auditEntry{
		eventType:      auditEventLoginSuccess,
		accountID:      account.AccountID,
		sessionID:      sessionID,
		fingerprintRef: risk.Ref(fingerprint),
		riskScore:      assessment.Score,
		success:        true,
		metadata: map[string]string{
			"novelty":      strconv.Itoa(assessment.Novelty),
			"origin_score": strconv.Itoa(assessment.OriginScore),
			"velocity":     strconv.Itoa(assessment.Velocity),
			"known_device": strconv.FormatBool(assessment.KnownDevice),
		},
	})
}

func mfaGateMetadata(account *AccountRecord, assessment risk.Assessment) map[string]string {
	cause := "risk_threshold"
	if account.MFAMandatory {
		cause = "account_mandated"
	}
	return map[string]string{
		"cause":        cause,
		"novelty":      strconv.Itoa(assessment.Novelty),
		"origin_score": strconv.Itoa(assessment.OriginScore),
		"velocity":     strconv.Itoa(assessment.Velocity),
	}
}
