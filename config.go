package riskgate

import (
	"fmt"
	"math"
	"time"

	"github.com/openclave/riskgate/jwt"
)

// maxChallengeTTL is a hard ceiling, not a default. Validation rejects
// anything longer regardless of ProductionMode.
const maxChallengeTTL = 5 * time.Minute

// TokenConfig controls access-token issuance.
type TokenConfig struct {
	AccessTTL     time.Duration
	SigningMethod jwt.SigningMethod
	PrivateKey    []byte
	PublicKey     []byte
	Issuer        string
	Audience      string
	Leeway        time.Duration
	KeyID         string
	VerifyKeys    map[string][]byte
}

// SessionConfig controls server-side session lifetime.
type SessionConfig struct {
	RedisPrefix      string
	AbsoluteLifetime time.Duration
	InactivityWindow time.Duration
}

// ThrottlePolicy is one counter scope's budget.
type ThrottlePolicy struct {
	MaxAttempts int
	Window      time.Duration
	Block       time.Duration
}

// ThrottleConfig carries the independent identifier and origin policies.
type ThrottleConfig struct {
	Identifier ThrottlePolicy
	Origin     ThrottlePolicy
}

// RiskConfig tunes fingerprint derivation and the default scorer.
// The three weights must sum to 1.
type RiskConfig struct {
	// FingerprintSalt is a per-deployment secret. Required.
	FingerprintSalt []byte

	// MFAThreshold is the score at or above which login demands MFA.
	MFAThreshold int

	NoveltyWeight  float64
	OriginWeight   float64
	VelocityWeight float64

	// KnownDeviceWindow is how long a sighting keeps a device "known".
	KnownDeviceWindow time.Duration
	// VelocityWindow bounds the distinct-device count.
	VelocityWindow time.Duration
	// OriginFailureWindow bounds origin failure reputation.
	OriginFailureWindow time.Duration

	// OriginFailureCeiling saturates the origin component at 100.
	OriginFailureCeiling int
	// VelocityCeiling saturates the velocity component at 100.
	VelocityCeiling int
}

// MFAConfig controls the challenge gate and TOTP verification.
type MFAConfig struct {
	Issuer               string
	Digits               int
	Period               int
	Skew                 int
	Algorithm            string
	ChallengeTTL         time.Duration
	ChallengeMaxAttempts int
	BackupCodeCount      int
	BackupCodeBytes      int
}

// PasswordConfig tunes argon2id and bounds concurrent verifications.
type PasswordConfig struct {
	Memory      uint32
	Time        uint32
	Parallelism uint8
	SaltLength  uint32
	KeyLength   uint32

	// MaxConcurrentVerifies caps simultaneous memory-hard hash runs.
	MaxConcurrentVerifies int
}

// AuditConfig controls the async audit dispatcher.
type AuditConfig struct {
	Enabled    bool
	BufferSize int
	DropIfFull bool
}

// MetricsConfig controls the in-process counters and histograms.
type MetricsConfig struct {
	Enabled           bool
	LatencyHistograms bool
}

// Config is the full engine configuration. Start from DefaultConfig and
// override; Build validates the result.
type Config struct {
	ProductionMode bool

	Token    TokenConfig
	Session  SessionConfig
	Throttle ThrottleConfig
	Risk     RiskConfig
	MFA      MFAConfig
	Password PasswordConfig
	Audit    AuditConfig
	Metrics  MetricsConfig
}

// DefaultConfig returns development-friendly defaults. ProductionMode
// left false; FingerprintSalt and signing keys must be supplied.
func DefaultConfig() Config {
	return Config{
		Token: TokenConfig{
			AccessTTL:     10 * time.Minute,
			SigningMethod: jwt.MethodEd25519,
			Issuer:        "riskgate",
			Leeway:        30 * time.Second,
		},
		Session: SessionConfig{
			RedisPrefix:      "rg:s",
			AbsoluteLifetime: 12 * time.Hour,
			InactivityWindow: 30 * time.Minute,
		},
		Throttle: ThrottleConfig{
			Identifier: ThrottlePolicy{
				MaxAttempts: 5,
				Window:      15 * time.Minute,
				Block:       15 * time.Minute,
			},
			Origin: ThrottlePolicy{
				MaxAttempts: 30,
				Window:      15 * time.Minute,
				Block:       time.Hour,
			},
		},
		Risk: RiskConfig{
			MFAThreshold:         60,
			NoveltyWeight:        0.5,
			OriginWeight:         0.3,
			VelocityWeight:       0.2,
			KnownDeviceWindow:    30 * 24 * time.Hour,
			VelocityWindow:       time.Hour,
			OriginFailureWindow:  time.Hour,
			OriginFailureCeiling: 20,
			VelocityCeiling:      5,
		},
		MFA: MFAConfig{
			Issuer:               "riskgate",
			Digits:               6,
			Period:               30,
			Skew:                 1,
			Algorithm:            "SHA1",
			ChallengeTTL:         5 * time.Minute,
			ChallengeMaxAttempts: 3,
			BackupCodeCount:      8,
			BackupCodeBytes:      10,
		},
		Password: PasswordConfig{
			Memory:                64 * 1024,
			Time:                  2,
			Parallelism:           2,
			SaltLength:            16,
			KeyLength:             32,
			MaxConcurrentVerifies: 16,
		},
		Audit: AuditConfig{
			Enabled:    true,
			BufferSize: 1024,
			DropIfFull: true,
		},
		Metrics: MetricsConfig{
			Enabled:           true,
			LatencyHistograms: true,
		},
	}
}

// Validate rejects configurations that would weaken the security model.
func (c *Config) Validate() error {
	if c.Token.AccessTTL <= 0 {
		return fmt.Errorf("%w: token access TTL must be positive", ErrInvalidConfig)
	}
	if c.ProductionMode && c.Token.AccessTTL > time.Hour {
		return fmt.Errorf("%w: token access TTL above 1h in production", ErrInvalidConfig)
	}
	switch c.Token.SigningMethod {
	case jwt.MethodEd25519:
		if len(c.Token.PrivateKey) == 0 {
			return fmt.Errorf("%w: ed25519 private key required", ErrInvalidConfig)
		}
	case jwt.MethodHS256:
		if len(c.Token.PrivateKey) < 32 {
			return fmt.Errorf("%w: hs256 key must be at least 32 bytes", ErrInvalidConfig)
		}
	default:
		return fmt.Errorf("%w: unsupported signing method %q", ErrInvalidConfig, c.Token.SigningMethod)
	}

	if c.Session.RedisPrefix == "" {
		return fmt.Errorf("%w: session redis prefix required", ErrInvalidConfig)
	}
	if c.Session.AbsoluteLifetime <= 0 {
		return fmt.Errorf("%w: session absolute lifetime must be positive", ErrInvalidConfig)
	}
	if c.Session.InactivityWindow < 0 {
		return fmt.Errorf("%w: session inactivity window must not be negative", ErrInvalidConfig)
	}
	if c.Session.InactivityWindow > c.Session.AbsoluteLifetime {
		return fmt.Errorf("%w: inactivity window exceeds absolute lifetime", ErrInvalidConfig)
	}
	if c.ProductionMode && c.Session.InactivityWindow == 0 {
		return fmt.Errorf("%w: inactivity window required in production", ErrInvalidConfig)
	}

	for scope, p := range map[string]ThrottlePolicy{
		"identifier": c.Throttle.Identifier,
		"origin":     c.Throttle.Origin,
	} {
		if p.MaxAttempts <= 0 {
			return fmt.Errorf("%w: %s throttle max attempts must be positive", ErrInvalidConfig, scope)
		}
		if p.Window <= 0 || p.Block <= 0 {
			return fmt.Errorf("%w: %s throttle window and block must be positive", ErrInvalidConfig, scope)
		}
	}

	if len(c.Risk.FingerprintSalt) < 16 {
		return fmt.Errorf("%w: fingerprint salt must be at least 16 bytes", ErrInvalidConfig)
	}
	if c.Risk.MFAThreshold < 0 || c.Risk.MFAThreshold > 100 {
		return fmt.Errorf("%w: mfa threshold must be within [0,100]", ErrInvalidConfig)
	}
	weightSum := c.Risk.NoveltyWeight + c.Risk.OriginWeight + c.Risk.VelocityWeight
	if c.Risk.NoveltyWeight < 0 || c.Risk.OriginWeight < 0 || c.Risk.VelocityWeight < 0 ||
		math.Abs(weightSum-1.0) > 1e-6 {
		return fmt.Errorf("%w: risk weights must be non-negative and sum to 1", ErrInvalidConfig)
	}
	if c.Risk.KnownDeviceWindow <= 0 || c.Risk.VelocityWindow <= 0 || c.Risk.OriginFailureWindow <= 0 {
		return fmt.Errorf("%w: risk windows must be positive", ErrInvalidConfig)
	}
	if c.Risk.OriginFailureCeiling <= 0 || c.Risk.VelocityCeiling <= 0 {
		return fmt.Errorf("%w: risk ceilings must be positive", ErrInvalidConfig)
	}

	if c.MFA.Digits < 6 || c.MFA.Digits > 8 {
		return fmt.Errorf("%w: totp digits must be within [6,8]", ErrInvalidConfig)
	}
	if c.MFA.Period < 15 || c.MFA.Period > 120 {
		return fmt.Errorf("%w: totp period must be within [15,120] seconds", ErrInvalidConfig)
	}
	if c.MFA.Skew < 0 || c.MFA.Skew > 2 {
		return fmt.Errorf("%w: totp skew must be within [0,2] steps", ErrInvalidConfig)
	}
	if c.MFA.ChallengeTTL <= 0 || c.MFA.ChallengeTTL > maxChallengeTTL {
		return fmt.Errorf("%w: challenge TTL must be within (0,%s]", ErrInvalidConfig, maxChallengeTTL)
	}
	if c.MFA.ChallengeMaxAttempts <= 0 || c.MFA.ChallengeMaxAttempts > 10 {
		return fmt.Errorf("%w: challenge attempt budget must be within [1,10]", ErrInvalidConfig)
	}
	if c.MFA.BackupCodeCount < 0 || c.MFA.BackupCodeCount > 32 {
		return fmt.Errorf("%w: backup code count must be within [0,32]", ErrInvalidConfig)
	}
	if c.MFA.BackupCodeCount > 0 && c.MFA.BackupCodeBytes < 8 {
		return fmt.Errorf("%w: backup codes must be at least 8 random bytes", ErrInvalidConfig)
	}

	if c.Password.MaxConcurrentVerifies <= 0 {
		return fmt.Errorf("%w: password verify concurrency must be positive", ErrInvalidConfig)
	}

	if c.Audit.Enabled && c.Audit.BufferSize <= 0 {
		return fmt.Errorf("%w: audit buffer size must be positive", ErrInvalidConfig)
	}
	if c.ProductionMode && !c.Audit.Enabled {
		return fmt.Errorf("%w: audit required in production", ErrInvalidConfig)
	}

	return nil
}
