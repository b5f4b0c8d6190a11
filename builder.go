package riskgate

import (
	"crypto/rand"
	"encoding/hex"
	"errors"

	internalaudit "github.com/openclave/riskgate/internal/audit"
	"github.com/openclave/riskgate/internal/rate"
	"github.com/openclave/riskgate/internal/risk"
	"github.com/openclave/riskgate/jwt"
	"github.com/openclave/riskgate/password"
	"github.com/openclave/riskgate/session"
	"github.com/redis/go-redis/v9"
)

// Builder assembles an [Engine]. Configure it once, call Build, and
// discard it; a builder is single-use.
type Builder struct {
	config Config
	redis  redis.UniversalClient

	accounts  AccountStore
	auditSink AuditSink
	scorer    RiskScorer

	built bool
}

// New returns a builder seeded with [DefaultConfig].
func New() *Builder {
	return &Builder{
		config: DefaultConfig(),
	}
}

// WithConfig replaces the builder's configuration wholesale.
func (b *Builder) WithConfig(cfg Config) *Builder {
	b.config = cloneConfig(cfg)
	return b
}

// WithRedis sets the Redis client backing sessions, throttle counters,
// device history, and MFA challenges.
func (b *Builder) WithRedis(client redis.UniversalClient) *Builder {
	b.redis = client
	return b
}

// WithAccountStore sets the caller-owned account and MFA enrollment
// store. Required.
func (b *Builder) WithAccountStore(store AccountStore) *Builder {
	b.accounts = store
	return b
}

// WithAuditSink sets the destination for audit events. Without one,
// enabled auditing falls back to a no-op sink.
func (b *Builder) WithAuditSink(sink AuditSink) *Builder {
	b.auditSink = sink
	return b
}

// WithScorer replaces the built-in weighted risk scorer. The scorer
// receives the same device history inputs and must return scores in
// the 0..100 range.
func (b *Builder) WithScorer(scorer RiskScorer) *Builder {
	b.scorer = scorer
	return b
}

// WithMetricsEnabled toggles the in-process counters.
func (b *Builder) WithMetricsEnabled(enabled bool) *Builder {
	b.config.Metrics.Enabled = enabled
	return b
}

// Build validates the configuration, wires the engine, and precomputes
// the decoy hash used for unknown identifiers.
func (b *Builder) Build() (*Engine, error) {
	if b.built {
		return nil, errors.New("builder already used")
	}

	cfg := cloneConfig(b.config)

	if b.redis == nil {
		return nil, errors.New("redis client required")
	}
	if b.accounts == nil {
		return nil, errors.New("account store required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	engine := &Engine{
		config:   cfg,
		accounts: b.accounts,
	}

	engine.sessionStore = session.NewStore(b.redis, cfg.Session.RedisPrefix)
	engine.limiter = rate.New(b.redis, rate.Config{
		Identifier: rate.Policy{
			MaxAttempts: cfg.Throttle.Identifier.MaxAttempts,
			Window:      cfg.Throttle.Identifier.Window,
			Block:       cfg.Throttle.Identifier.Block,
		},
		Origin: rate.Policy{
			MaxAttempts: cfg.Throttle.Origin.MaxAttempts,
			Window:      cfg.Throttle.Origin.Window,
			Block:       cfg.Throttle.Origin.Block,
		},
	})

	engine.history = risk.NewHistory(
		b.redis,
		cfg.Risk.KnownDeviceWindow,
		cfg.Risk.VelocityWindow,
		cfg.Risk.OriginFailureWindow,
	)
	engine.fingerprinter = risk.NewFingerprinter(cloneBytes(cfg.Risk.FingerprintSalt))
	if b.scorer != nil {
		engine.scorer = b.scorer
	} else {
		engine.scorer = risk.NewWeightedScorer(
			engine.history,
			risk.Weights{
				Novelty:  cfg.Risk.NoveltyWeight,
				Origin:   cfg.Risk.OriginWeight,
				Velocity: cfg.Risk.VelocityWeight,
			},
			risk.Tuning{
				OriginFailureCeiling: cfg.Risk.OriginFailureCeiling,
				VelocityCeiling:      cfg.Risk.VelocityCeiling,
			},
		)
	}

	engine.challengeStore = newMFAChallengeStore(b.redis)
	engine.totp = newTOTPManager(cfg.MFA)
	engine.metrics = NewMetrics(cfg.Metrics)
	engine.auditDispatcher = internalaudit.NewDispatcher(internalaudit.Config{
		Enabled:    cfg.Audit.Enabled,
		BufferSize: cfg.Audit.BufferSize,
		DropIfFull: cfg.Audit.DropIfFull,
	}, b.auditSink)

	ph, err := password.NewArgon2(password.Config{
		Memory:      cfg.Password.Memory,
		Time:        cfg.Password.Time,
		Parallelism: cfg.Password.Parallelism,
		SaltLength:  cfg.Password.SaltLength,
		KeyLength:   cfg.Password.KeyLength,
	})
	if err != nil {
		return nil, err
	}
	engine.passwordHasher = ph

	// The decoy hash keeps unknown-identifier logins on the same
	// argon2 code path as real ones.
	decoy := make([]byte, 32)
	if _, err := rand.Read(decoy); err != nil {
		return nil, err
	}
	engine.dummyHash, err = ph.Hash(hex.EncodeToString(decoy))
	if err != nil {
		return nil, err
	}

	maxVerifies := cfg.Password.MaxConcurrentVerifies
	if maxVerifies <= 0 {
		maxVerifies = 16
	}
	engine.verifySem = make(chan struct{}, maxVerifies)

	jm, err := jwt.NewManager(jwt.Config{
		AccessTTL:     cfg.Token.AccessTTL,
		SigningMethod: cfg.Token.SigningMethod,
		PrivateKey:    cloneBytes(cfg.Token.PrivateKey),
		PublicKey:     cloneBytes(cfg.Token.PublicKey),
		Issuer:        cfg.Token.Issuer,
		Audience:      cfg.Token.Audience,
		Leeway:        cfg.Token.Leeway,
		KeyID:         cfg.Token.KeyID,
		VerifyKeys:    cloneKeyMap(cfg.Token.VerifyKeys),
	})
	if err != nil {
		return nil, err
	}
	engine.jwtManager = jm

	b.built = true

	return engine, nil
}

func cloneConfig(cfg Config) Config {
	out := cfg
	out.Token.PrivateKey = cloneBytes(cfg.Token.PrivateKey)
	out.Token.PublicKey = cloneBytes(cfg.Token.PublicKey)
	out.Token.VerifyKeys = cloneKeyMap(cfg.Token.VerifyKeys)
	out.Risk.FingerprintSalt = cloneBytes(cfg.Risk.FingerprintSalt)
	return out
}

func cloneBytes(b []byte) []byte {
	if b == nil {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}

func cloneKeyMap(m map[string][]byte) map[string][]byte {
	if m == nil {
		return nil
	}
	out := make(map[string][]byte, len(m))
	for k, v := range m {
		out[k] = cloneBytes(v)
	}
	return out
}
