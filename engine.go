package riskgate

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/openclave/riskgate/internal"
	internalaudit "github.com/openclave/riskgate/internal/audit"
	"github.com/openclave/riskgate/internal/rate"
	"github.com/openclave/riskgate/internal/risk"
	"github.com/openclave/riskgate/jwt"
	"github.com/openclave/riskgate/password"
	"github.com/openclave/riskgate/session"
)

// Engine is the adaptive authentication engine. Build one with [New] and
// share it; all methods are safe for concurrent use.
type Engine struct {
	config Config

	accounts AccountStore

	sessionStore    *session.Store
	limiter         *rate.Limiter
	history         *risk.History
	scorer          risk.Scorer
	fingerprinter   *risk.Fingerprinter
	challengeStore  *mfaChallengeStore
	totp            *totpManager
	jwtManager      *jwt.Manager
	passwordHasher  *password.Argon2
	auditDispatcher *internalaudit.Dispatcher
	metrics         *Metrics

	// dummyHash is verified against for unknown identifiers so lookup
	// misses cost the same as a wrong password.
	dummyHash string

	// verifySem bounds concurrent argon2 runs.
	verifySem chan struct{}

	closed atomic.Bool
}

// Close flushes the audit dispatcher. The engine must not be used after
// Close returns.
func (e *Engine) Close() {
	if e.closed.Swap(true) {
		return
	}
	e.auditDispatcher.Close()
}

func (e *Engine) checkReady() error {
	if e == nil {
		return ErrEngineNotReady
	}
	if e.closed.Load() {
		return ErrEngineClosed
	}
	return nil
}

// MetricsSnapshot returns a point-in-time copy of the engine counters.
func (e *Engine) MetricsSnapshot() MetricsSnapshot {
	return e.metrics.Snapshot()
}

// LatencySnapshot returns the validate-path latency buckets, or nil
// when latency histograms are disabled.
func (e *Engine) LatencySnapshot() []uint64 {
	return e.metrics.Snapshot().Histograms[MetricValidateLatency]
}

func (e *Engine) metricInc(id MetricID) {
	e.metrics.Inc(id)
}

// sessionTTL is the Redis TTL for a session record: the inactivity
// window when configured, capped by remaining absolute lifetime.
func (e *Engine) sessionTTL(createdAt, now time.Time) time.Duration {
	remaining := createdAt.Add(e.config.Session.AbsoluteLifetime).Sub(now)
	if e.config.Session.InactivityWindow > 0 && e.config.Session.InactivityWindow < remaining {
		return e.config.Session.InactivityWindow
	}
	return remaining
}

// issueSession creates the session record and signs the first token
// pair. The fingerprint and risk score pin what was observed when the
// credential (and, when gated, the MFA challenge) was verified.
func (e *Engine) issueSession(
	ctx context.Context,
	account *AccountRecord,
	fingerprint [32]byte,
	riskScore int,
	mfaVerified bool,
) (*LoginResult, error) {
	sid, err := internal.NewSessionID()
	if err != nil {
		return nil, err
	}
	secret, err := internal.NewRefreshSecret()
	if err != nil {
		return nil, err
	}

	now := time.Now()
	sess := &session.Session{
		SessionID:      sid.String(),
		AccountID:      account.AccountID,
		Role:           account.Role,
		RiskScore:      clampRiskScore(riskScore),
		MFAVerified:    mfaVerified,
		Generation:     0,
		Fingerprint:    fingerprint,
		RefreshHash:    internal.HashRefreshSecret(secret),
		CreatedAt:      now.Unix(),
		LastActivityAt: now.Unix(),
		ExpiresAt:      now.Add(e.config.Session.AbsoluteLifetime).Unix(),
	}

	if err := e.sessionStore.Save(ctx, sess, e.sessionTTL(now, now)); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	accessToken, err := e.jwtManager.CreateAccess(jwt.AccessInput{
		AccountID:      account.AccountID,
		SessionID:      sess.SessionID,
		Role:           account.Role,
		FingerprintRef: risk.Ref(fingerprint),
		RiskScore:      riskScore,
		MFAVerified:    mfaVerified,
	})
	if err != nil {
		return nil, err
	}

	refreshToken, err := internal.EncodeRefreshToken(sess.SessionID, 0, secret)
	if err != nil {
		return nil, err
	}

	e.metricInc(MetricSessionCreated)

	return &LoginResult{
		AccountID: account.AccountID,
		SessionID: sess.SessionID,
		Role:      account.Role,
		RiskScore: riskScore,
		Tokens: TokenPair{
			AccessToken:  accessToken,
			RefreshToken: refreshToken,
		},
	}, nil
}

// ValidateAccess verifies an access token's signature and expiry, and
// when strict is set also requires the backing session to be live and
// unrevoked. Strict mode costs one Redis read.
func (e *Engine) ValidateAccess(ctx context.Context, accessToken string, strict bool) (*AccessClaims, error) {
	if err := e.checkReady(); err != nil {
		return nil, err
	}
	start := time.Now()
	defer func() {
		e.metrics.Observe(MetricValidateLatency, time.Since(start))
	}()

	claims, err := e.jwtManager.ParseAccess(accessToken)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTokenInvalid, err)
	}
	if !claims.MFAVerified {
		return nil, ErrAccessSessionRequired
	}

	if !strict {
		return claims, nil
	}

	sess, err := e.sessionStore.Get(ctx, claims.SID)
	if err != nil {
		switch {
		case errors.Is(err, session.ErrNotFound):
			return nil, ErrAccessSessionRequired
		case errors.Is(err, session.ErrExpired):
			return nil, ErrSessionExpired
		default:
			return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
		}
	}
	if sess.Revoked {
		return nil, ErrSessionRevoked
	}
	if sess.AccountID != claims.AID {
		return nil, ErrTokenInvalid
	}

	return claims, nil
}

// Logout revokes the session named by a valid access token. Idempotent:
// a second logout with the same token succeeds.
func (e *Engine) Logout(ctx context.Context, accessToken string) error {
	if err := e.checkReady(); err != nil {
		return err
	}

	claims, err := e.jwtManager.ParseAccess(accessToken)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrTokenInvalid, err)
	}

	if err := e.RevokeSession(ctx, claims.SID); err != nil {
		return err
	}

	e.metricInc(MetricLogout)
	e.emitAudit(ctx, auditEntry{
		eventType: auditEventLogout,
		accountID: claims.AID,
		sessionID: claims.SID,
		success:   true,
	})
	return nil
}

// RevokeSession marks the session revoked in place. The record stays
// visible as revoked until its TTL lapses, so refresh attempts against
// it report revocation rather than disappearance. Idempotent.
func (e *Engine) RevokeSession(ctx context.Context, sessionID string) error {
	if err := e.checkReady(); err != nil {
		return err
	}

	if err := e.sessionStore.Revoke(ctx, sessionID); err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	e.metricInc(MetricSessionRevoked)
	e.emitAudit(ctx, auditEntry{
		eventType: auditEventSessionRevoked,
		sessionID: sessionID,
		success:   true,
	})
	return nil
}

// RevokeAllForAccount revokes every live session of an account and
// reports how many it caught.
func (e *Engine) RevokeAllForAccount(ctx context.Context, accountID string) (int, error) {
	if err := e.checkReady(); err != nil {
		return 0, err
	}

	revoked, err := e.sessionStore.RevokeAllForAccount(ctx, accountID)
	if err != nil {
		return revoked, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	e.metricInc(MetricRevokeAll)
	e.emitAudit(ctx, auditEntry{
		eventType: auditEventSessionRevokedAll,
		accountID: accountID,
		success:   true,
		metadata:  map[string]string{"revoked": fmt.Sprintf("%d", revoked)},
	})
	return revoked, nil
}

func clampRiskScore(score int) uint8 {
	if score < 0 {
		return 0
	}
	if score > 100 {
		return 100
	}
	return uint8(score)
}
