package session

// Session is the server-side record behind one access/refresh token
// pair lineage. Instances are snapshots; the store is authoritative.
type Session struct {
	SessionID string
	AccountID string
	Role      string

	RiskScore   uint8
	MFAVerified bool
	Revoked     bool

	Generation  uint32
	Fingerprint [32]byte
	RefreshHash [32]byte

	CreatedAt      int64
	LastActivityAt int64
	ExpiresAt      int64
}

const (
	flagMFAVerified = 1
	flagRevoked     = 2
)

func (s *Session) flags() byte {
	var f byte
	if s.MFAVerified {
		f |= flagMFAVerified
	}
	if s.Revoked {
		f |= flagRevoked
	}
	return f
}
