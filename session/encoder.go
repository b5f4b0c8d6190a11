package session

import (
	"encoding/binary"
	"errors"
)

const (
	formatVersion = 1

	offFlags        = 1
	offRiskScore    = 2
	offGeneration   = 3
	offFingerprint  = 7
	offRefreshHash  = 39
	offCreatedAt    = 71
	offLastActivity = 79
	offExpiresAt    = 87
	offAccountID    = 95

	fixedHeaderSize = offAccountID
)

var errCorruptBlob = errors.New("invalid session blob")

func Encode(s *Session) ([]byte, error) {
	if len(s.AccountID) == 0 || len(s.AccountID) > 255 {
		return nil, errors.New("accountID length out of range")
	}
	if len(s.Role) > 255 {
		return nil, errors.New("role too long")
	}

	buf := make([]byte, 0, fixedHeaderSize+2+len(s.AccountID)+len(s.Role))
	buf = append(buf, formatVersion, s.flags(), s.RiskScore)
	buf = binary.BigEndian.AppendUint32(buf, s.Generation)
	buf = append(buf, s.Fingerprint[:]...)
	buf = append(buf, s.RefreshHash[:]...)
	buf = binary.BigEndian.AppendUint64(buf, uint64(s.CreatedAt))
	buf = binary.BigEndian.AppendUint64(buf, uint64(s.LastActivityAt))
	buf = binary.BigEndian.AppendUint64(buf, uint64(s.ExpiresAt))
	buf = append(buf, byte(len(s.AccountID)))
	buf = append(buf, s.AccountID...)
	buf = append(buf, byte(len(s.Role)))
	buf = append(buf, s.Role...)

	return buf, nil
}

func Decode(data []byte) (*Session, error) {
	if len(data) < fixedHeaderSize+1 {
		return nil, errCorruptBlob
	}
	if data[0] != formatVersion {
		return nil, errCorruptBlob
	}

	s := &Session{
		MFAVerified: data[offFlags]&flagMFAVerified != 0,
		Revoked:     data[offFlags]&flagRevoked != 0,
		RiskScore:   data[offRiskScore],
		Generation:  binary.BigEndian.Uint32(data[offGeneration:]),
	}
	copy(s.Fingerprint[:], data[offFingerprint:])
	copy(s.RefreshHash[:], data[offRefreshHash:])
	s.CreatedAt = int64(binary.BigEndian.Uint64(data[offCreatedAt:]))
	s.LastActivityAt = int64(binary.BigEndian.Uint64(data[offLastActivity:]))
	s.ExpiresAt = int64(binary.BigEndian.Uint64(data[offExpiresAt:]))

	idx := offAccountID
	accountLen := int(data[idx])
	idx++
	if accountLen == 0 || len(data) < idx+accountLen+1 {
		return nil, errCorruptBlob
	}
	s.AccountID = string(data[idx : idx+accountLen])
	idx += accountLen

	roleLen := int(data[idx])
	idx++
	if len(data) < idx+roleLen {
		return nil, errCorruptBlob
	}
	s.Role = string(data[idx : idx+roleLen])

	return s, nil
}
