package riskgate

import (
	"context"
	"errors"

	internalaudit "github.com/openclave/riskgate/internal/audit"
	"github.com/openclave/riskgate/internal/risk"
	"github.com/openclave/riskgate/jwt"
)

// ErrAccountNotFound is returned by AccountStore implementations when no
// account matches. The engine never lets it escape: lookups that miss
// still run a dummy credential verification and report
// ErrInvalidCredentials.
var ErrAccountNotFound = errors.New("account not found")

// AccountStatus gates whether a verified credential may proceed.
type AccountStatus uint8

const (
	AccountActive AccountStatus = iota
	AccountLocked
	AccountDisabled
)

// AccountRecord is the embedder-owned account row the engine works
// from. PasswordHash is a PHC-encoded argon2id string.
type AccountRecord struct {
	AccountID    string
	Identifier   string
	PasswordHash string
	Role         string
	Status       AccountStatus

	// MFAMandatory forces the gate regardless of risk score.
	MFAMandatory bool
}

// TOTPRecord holds an account's TOTP enrollment. LastCounter is the
// highest accepted time step, kept so a code cannot be replayed within
// its validity window.
type TOTPRecord struct {
	Secret      []byte
	Confirmed   bool
	LastCounter int64
}

// AccountStore is the persistence interface the embedder supplies.
// Implementations must be safe for concurrent use. Lookups that miss
// return ErrAccountNotFound.
type AccountStore interface {
	AccountByIdentifier(ctx context.Context, identifier string) (*AccountRecord, error)
	AccountByID(ctx context.Context, accountID string) (*AccountRecord, error)

	TOTPRecord(ctx context.Context, accountID string) (*TOTPRecord, error)
	SaveTOTPRecord(ctx context.Context, accountID string, record *TOTPRecord) error

	// ReplaceBackupCodes swaps the full set of argon2-hashed backup codes.
	ReplaceBackupCodes(ctx context.Context, accountID string, hashes []string) error
	BackupCodeHashes(ctx context.Context, accountID string) ([]string, error)
	// ConsumeBackupCode atomically removes one stored hash. Reports
	// whether the hash was present.
	ConsumeBackupCode(ctx context.Context, accountID string, hash string) (bool, error)
}

// TokenPair is one issued access/refresh pairing. The refresh token is
// opaque and single-use; rotating it yields the next pair in the same
// session lineage.
type TokenPair struct {
	AccessToken  string
	RefreshToken string
}

// LoginResult is the outcome of a login attempt that did not error.
// When MFARequired is set no tokens are present and the caller must
// complete the challenge via VerifyMFA.
type LoginResult struct {
	AccountID string
	SessionID string
	Role      string
	RiskScore int

	MFARequired bool
	ChallengeID string

	Tokens TokenPair
}

// TOTPEnrollment is returned by BeginTOTPEnrollment for provisioning.
type TOTPEnrollment struct {
	Secret       []byte
	SecretBase32 string
	ProvisionURI string
}

// Re-exported internal types so embedders never import internal paths.
type (
	AuditEvent     = internalaudit.Event
	AuditSink      = internalaudit.Sink
	NoOpSink       = internalaudit.NoOpSink
	ChannelSink    = internalaudit.ChannelSink
	JSONWriterSink = internalaudit.JSONWriterSink

	DeviceSignals  = risk.Signals
	RiskAssessment = risk.Assessment
	RiskScorer     = risk.Scorer
	RiskInput      = risk.Input

	AccessClaims = jwt.AccessClaims
)

// NewChannelSink returns a sink that buffers events on a channel.
func NewChannelSink(buffer int) *ChannelSink {
	return internalaudit.NewChannelSink(buffer)
}

// NewJSONWriterSink returns a sink that writes one JSON event per line.
func NewJSONWriterSink(w interface{ Write([]byte) (int, error) }) *JSONWriterSink {
	return internalaudit.NewJSONWriterSink(w)
}
