package riskgate

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/openclave/riskgate/internal"
	"github.com/openclave/riskgate/internal/risk"
	"github.com/openclave/riskgate/jwt"
	"github.com/openclave/riskgate/session"
)

// Refresh rotates a refresh token and returns the next token pair in
// the session lineage. The rotation is one atomic compare-and-swap:
// under N concurrent calls with the same token exactly one wins and the
// rest see the post-rotation state.
//
// Presenting a superseded token is treated as theft evidence: the whole
// session is revoked and ErrTokenReplay returned. Presenting a current
// token from a device whose fingerprint does not match the session's is
// treated the same way, with ErrFingerprintMismatch.
func (e *Engine) Refresh(ctx context.Context, refreshToken string) (*TokenPair, error) {
	if err := e.checkReady(); err != nil {
		return nil, err
	}

	sessionID, generation, secret, err := internal.DecodeRefreshToken(refreshToken)
	if err != nil {
		e.metricInc(MetricRefreshFailure)
		return nil, fmt.Errorf("%w: %v", ErrTokenInvalid, err)
	}

	origin := originFromContext(ctx)
	fingerprint := e.fingerprinter.Derive(signalsFromContext(ctx), origin)

	nextSecret, err := internal.NewRefreshSecret()
	if err != nil {
		return nil, err
	}

	sess, err := e.sessionStore.Rotate(
		ctx,
		sessionID,
		generation,
		internal.HashRefreshSecret(secret),
		internal.HashRefreshSecret(nextSecret),
		fingerprint,
		time.Now(),
		e.config.Session.InactivityWindow,
	)
	if err != nil {
		return nil, e.mapRotateError(ctx, sessionID, generation, fingerprint, err)
	}

	accessToken, err := e.jwtManager.CreateAccess(jwt.AccessInput{
		AccountID:      sess.AccountID,
		SessionID:      sess.SessionID,
		Role:           sess.Role,
		FingerprintRef: risk.Ref(sess.Fingerprint),
		RiskScore:      int(sess.RiskScore),
		MFAVerified:    sess.MFAVerified,
	})
	if err != nil {
		return nil, err
	}

	newRefreshToken, err := internal.EncodeRefreshToken(sess.SessionID, sess.Generation, nextSecret)
	if err != nil {
		return nil, err
	}

	e.metricInc(MetricRefreshSuccess)
	e.emitAudit(ctx, auditEntry{
		eventType:      auditEventRefreshSuccess,
		accountID:      sess.AccountID,
		sessionID:      sess.SessionID,
		fingerprintRef: risk.Ref(sess.Fingerprint),
		riskScore:      int(sess.RiskScore),
		success:        true,
		metadata:       map[string]string{"generation": strconv.FormatUint(uint64(sess.Generation), 10)},
	})

	return &TokenPair{
		AccessToken:  accessToken,
		RefreshToken: newRefreshToken,
	}, nil
}

func (e *Engine) mapRotateError(
	ctx context.Context,
	sessionID string,
	generation uint32,
	fingerprint [32]byte,
	err error,
) error {
	switch {
	case errors.Is(err, session.ErrReplay):
		e.metricInc(MetricReplayDetected)
		e.emitAudit(ctx, auditEntry{
			eventType:      auditEventReplayDetected,
			sessionID:      sessionID,
			fingerprintRef: risk.Ref(fingerprint),
			err:            ErrTokenReplay,
			metadata:       map[string]string{"presented_generation": strconv.FormatUint(uint64(generation), 10)},
		})
		return ErrTokenReplay

	case errors.Is(err, session.ErrFingerprintMismatch):
		e.metricInc(MetricFingerprintMismatch)
		e.emitAudit(ctx, auditEntry{
			eventType:      auditEventFingerprintMismatch,
			sessionID:      sessionID,
			fingerprintRef: risk.Ref(fingerprint),
			err:            ErrFingerprintMismatch,
		})
		return ErrFingerprintMismatch

	case errors.Is(err, session.ErrRevoked):
		e.metricInc(MetricRefreshFailure)
		e.emitAudit(ctx, auditEntry{
			eventType: auditEventRefreshFailure,
			sessionID: sessionID,
			err:       ErrSessionRevoked,
		})
		return ErrSessionRevoked

	case errors.Is(err, session.ErrExpired):
		e.metricInc(MetricSessionExpired)
		e.emitAudit(ctx, auditEntry{
			eventType: auditEventRefreshFailure,
			sessionID: sessionID,
			err:       ErrSessionExpired,
		})
		return ErrSessionExpired

	case errors.Is(err, session.ErrNotFound):
		// Unknown and expired are indistinguishable to the caller.
		e.metricInc(MetricRefreshFailure)
		e.emitAudit(ctx, auditEntry{
			eventType: auditEventRefreshFailure,
			sessionID: sessionID,
			err:       ErrSessionExpired,
		})
		return ErrSessionExpired

	default:
		e.metricInc(MetricRefreshFailure)
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
}
