package internal

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/binary"
	"errors"
)

type SessionID [16]byte

const (
	refreshSecretSize   = 32
	refreshTokenRawSize = 16 + 4 + refreshSecretSize // session id + generation + secret
	challengeIDRawSize  = 16
)

func NewSessionID() (SessionID, error) {
	var sid SessionID
	_, err := rand.Read(sid[:])
	return sid, err
}

func (s SessionID) Bytes() []byte {
	return s[:]
}

func (s SessionID) String() string {
	// base64url, no padding, compact
	return base64.RawURLEncoding.EncodeToString(s[:])
}

func ParseSessionID(sessionID string) (SessionID, error) {
	var sid SessionID

	raw, err := base64.RawURLEncoding.DecodeString(sessionID)
	if err != nil {
		return sid, err
	}
	if len(raw) != len(sid) {
		return sid, errors.New("invalid session id size")
	}

	copy(sid[:], raw)
	return sid, nil
}

func NewRefreshSecret() ([refreshSecretSize]byte, error) {
	var secret [refreshSecretSize]byte
	_, err := rand.Read(secret[:])
	return secret, err
}

func HashRefreshSecret(secret [refreshSecretSize]byte) [32]byte {
	return sha256.Sum256(secret[:])
}

// EncodeRefreshToken packs the session id, the rotation generation the
// secret belongs to, and the secret itself into one opaque token. The
// generation travels with the token so a superseded token can be told
// apart from a malformed one without a store round trip.
func EncodeRefreshToken(sessionID string, generation uint32, secret [refreshSecretSize]byte) (string, error) {
	sid, err := ParseSessionID(sessionID)
	if err != nil {
		return "", err
	}

	var raw [refreshTokenRawSize]byte
	copy(raw[:len(sid)], sid[:])
	binary.BigEndian.PutUint32(raw[len(sid):len(sid)+4], generation)
	copy(raw[len(sid)+4:], secret[:])

	return base64.RawURLEncoding.EncodeToString(raw[:]), nil
}

func DecodeRefreshToken(token string) (string, uint32, [refreshSecretSize]byte, error) {
	var secret [refreshSecretSize]byte

	raw, err := base64.RawURLEncoding.DecodeString(token)
	if err != nil {
		return "", 0, secret, err
	}
	if len(raw) != refreshTokenRawSize {
		return "", 0, secret, errors.New("invalid refresh token size")
	}

	var sid SessionID
	copy(sid[:], raw[:len(sid)])
	generation := binary.BigEndian.Uint32(raw[len(sid) : len(sid)+4])
	copy(secret[:], raw[len(sid)+4:])

	return sid.String(), generation, secret, nil
}

func NewChallengeID() (string, error) {
	var raw [challengeIDRawSize]byte
	if _, err := rand.Read(raw[:]); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(raw[:]), nil
}
