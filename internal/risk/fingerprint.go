package risk

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// Signals carries the client-presented device attributes a fingerprint
// is derived from. All fields are optional; absent fields still
// contribute a stable empty slot so field order cannot shift.
type Signals struct {
	UserAgent      string
	AcceptLanguage string
	Timezone       string
	Platform       string
}

// Fingerprinter derives salted device fingerprints. The salt is fixed
// per deployment so fingerprints are stable across restarts but useless
// outside the deployment that minted them.
type Fingerprinter struct {
	salt []byte
}

func NewFingerprinter(salt []byte) *Fingerprinter {
	s := make([]byte, len(salt))
	copy(s, salt)
	return &Fingerprinter{salt: s}
}

// Derive hashes the normalized signals together with the origin class.
// Normalization lowercases and trims each field so trivial client
// variance does not mint a new device.
func (f *Fingerprinter) Derive(sig Signals, origin string) [32]byte {
	h := sha256.New()
	h.Write(f.salt)

	for _, field := range []string{
		sig.UserAgent,
		sig.AcceptLanguage,
		sig.Timezone,
		sig.Platform,
		origin,
	} {
		h.Write([]byte(strings.ToLower(strings.TrimSpace(field))))
		h.Write([]byte{0x1f})
	}

	var fp [32]byte
	h.Sum(fp[:0])
	return fp
}

// Ref returns the short hex prefix used to reference a fingerprint in
// audit events without disclosing the full hash.
func Ref(fp [32]byte) string {
	return hex.EncodeToString(fp[:6])
}

// Hex returns the full lowercase hex form used as a store member key.
func Hex(fp [32]byte) string {
	return hex.EncodeToString(fp[:])
}
