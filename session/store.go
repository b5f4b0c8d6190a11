package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrRedisUnavailable reports a store-level failure talking to Redis.
var ErrRedisUnavailable = errors.New("redis unavailable")

// ErrNotFound is returned when the target session does not exist.
var ErrNotFound = errors.New("session not found")

// ErrExpired is returned when the session hit its absolute lifetime or
// its inactivity window.
var ErrExpired = errors.New("session expired")

// ErrRevoked is returned when the session carries the revoked flag.
var ErrRevoked = errors.New("session revoked")

// ErrReplay is returned when a rotation presented a superseded or forged
// refresh token. The script has already revoked the session.
var ErrReplay = errors.New("refresh token replay")

// ErrFingerprintMismatch is returned when a rotation presented the right
// token from the wrong device. The script has already revoked the session.
var ErrFingerprintMismatch = errors.New("fingerprint mismatch")

// ErrCorrupt is returned when the stored session blob cannot be parsed.
var ErrCorrupt = errors.New("session blob corrupt")

const (
	rotateStatusNotFound    int64 = 0
	rotateStatusExpired     int64 = 1
	rotateStatusRevoked     int64 = 2
	rotateStatusReplay      int64 = 3
	rotateStatusFingerprint int64 = 4
	rotateStatusRotated     int64 = 5
	rotateStatusInvalidBlob int64 = 6
)

// revokeScript flips the revoked flag in place, keeping the record and
// its TTL so later refresh attempts still observe "revoked" rather than
// "not found". Returns 0 missing, 1 transitioned, 2 already revoked.
const revokeScript = `
local data = redis.call("GET", KEYS[1])
if not data then
  return 0
end
local flags = string.byte(data, 2)
if not flags then
  return 0
end
if flags >= 2 then
  return 2
end
local updated = string.sub(data, 1, 1) .. string.char(flags + 2) .. string.sub(data, 3)
local ttl = redis.call("PTTL", KEYS[1])
if ttl > 0 then
  redis.call("SET", KEYS[1], updated, "PX", ttl)
else
  redis.call("SET", KEYS[1], updated)
end
return 1
`

var revokeLua = redis.NewScript(revokeScript)

// rotateScript is the refresh compare-and-swap. All fields it needs sit
// at fixed offsets (see package doc), so parsing is plain string.sub.
// Any mismatch of generation, secret hash or fingerprint revokes the
// session in place before reporting.
const rotateRefreshScript = `
local function read_be64(s, i)
  local n = 0
  for k = 0, 7 do
    local b = string.byte(s, i + k)
    if not b then
      return nil
    end
    n = n * 256 + b
  end
  return n
end

local function read_be32(s, i)
  local n = 0
  for k = 0, 3 do
    local b = string.byte(s, i + k)
    if not b then
      return nil
    end
    n = n * 256 + b
  end
  return n
end

local function write_be32(n)
  local b4 = n % 256; n = (n - b4) / 256
  local b3 = n % 256; n = (n - b3) / 256
  local b2 = n % 256; n = (n - b2) / 256
  local b1 = n % 256
  return string.char(b1, b2, b3, b4)
end

local function write_be64(n)
  local out = {}
  for k = 8, 1, -1 do
    local b = n % 256
    out[k] = string.char(b)
    n = (n - b) / 256
  end
  return table.concat(out)
end

local function revoke_in_place(key, data)
  local flags = string.byte(data, 2)
  if flags < 2 then
    flags = flags + 2
  end
  local updated = string.sub(data, 1, 1) .. string.char(flags) .. string.sub(data, 3)
  local ttl = redis.call("PTTL", key)
  if ttl > 0 then
    redis.call("SET", key, updated, "PX", ttl)
  else
    redis.call("SET", key, updated)
  end
end

local function drop_session(key, data, index_prefix, session_id)
  redis.call("DEL", key)
  local account_len = string.byte(data, 96)
  if account_len and #data >= 96 + account_len then
    local account_id = string.sub(data, 97, 96 + account_len)
    redis.call("SREM", index_prefix .. account_id, session_id)
  end
end

local session_key = KEYS[1]
local session_id = ARGV[1]
local provided_generation = tonumber(ARGV[2])
local provided_hash = ARGV[3]
local next_hash = ARGV[4]
local provided_fp = ARGV[5]
local now_unix = tonumber(ARGV[6])
local inactivity_s = tonumber(ARGV[7])
local index_prefix = ARGV[8]

local data = redis.call("GET", session_key)
if not data then
  return {0}
end

if #data < 96 or string.byte(data, 1) ~= 1 then
  return {6}
end

local flags = string.byte(data, 2)
if flags >= 2 then
  return {2}
end

local expires_at = read_be64(data, 88)
local last_activity = read_be64(data, 80)
if not expires_at or not last_activity then
  return {6}
end

if expires_at <= now_unix then
  drop_session(session_key, data, index_prefix, session_id)
  return {1, "absolute"}
end
if inactivity_s > 0 and now_unix - last_activity > inactivity_s then
  drop_session(session_key, data, index_prefix, session_id)
  return {1, "inactivity"}
end

local generation = read_be32(data, 4)
local stored_hash = string.sub(data, 40, 71)
if provided_generation ~= generation or stored_hash ~= provided_hash then
  revoke_in_place(session_key, data)
  return {3}
end

local stored_fp = string.sub(data, 8, 39)
if stored_fp ~= provided_fp then
  revoke_in_place(session_key, data)
  return {4}
end

local updated = string.sub(data, 1, 3)
  .. write_be32(generation + 1)
  .. string.sub(data, 8, 39)
  .. next_hash
  .. string.sub(data, 72, 79)
  .. write_be64(now_unix)
  .. string.sub(data, 88)

local ttl_s = expires_at - now_unix
if inactivity_s > 0 and inactivity_s < ttl_s then
  ttl_s = inactivity_s
end
if ttl_s < 1 then
  ttl_s = 1
end

redis.call("SET", session_key, updated, "EX", ttl_s)

return {5, updated}
`

var rotateRefreshLua = redis.NewScript(rotateRefreshScript)

// Store is a Redis-backed session store handling persistence, expiry,
// in-place revocation, and atomic refresh rotation.
type Store struct {
	redis  redis.UniversalClient
	prefix string
}

// NewStore creates a session [Store] backed by the given Redis client.
// prefix sets the session key namespace.
func NewStore(redisClient redis.UniversalClient, prefix string) *Store {
	return &Store{
		redis:  redisClient,
		prefix: prefix,
	}
}

func (s *Store) key(sessionID string) string {
	return s.prefix + ":" + sessionID
}

func (s *Store) accountIndexKey(accountID string) string {
	return s.prefix + ":acct:" + accountID
}

func (s *Store) accountIndexPrefix() string {
	return s.prefix + ":acct:"
}

// Save persists a [Session] with the given TTL and indexes it under its
// account for bulk revocation.
func (s *Store) Save(ctx context.Context, sess *Session, ttl time.Duration) error {
	data, err := Encode(sess)
	if err != nil {
		return err
	}

	indexKey := s.accountIndexKey(sess.AccountID)
	indexTTL := time.Unix(sess.ExpiresAt, 0).Sub(time.Unix(sess.CreatedAt, 0))
	if indexTTL < ttl {
		indexTTL = ttl
	}

	_, err = s.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, s.key(sess.SessionID), data, ttl)
		pipe.SAdd(ctx, indexKey, sess.SessionID)
		pipe.Expire(ctx, indexKey, indexTTL)
		return nil
	})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}

	return nil
}

// Get retrieves a session by ID. Revoked sessions are returned as-is;
// callers inspect the Revoked flag. An absolute-expired record is
// dropped and reported via ErrExpired.
func (s *Store) Get(ctx context.Context, sessionID string) (*Session, error) {
	data, err := s.redis.Get(ctx, s.key(sessionID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, errors.Join(redis.Nil, ErrNotFound)
		}
		return nil, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}

	sess, err := Decode(data)
	if err != nil {
		return nil, errors.Join(ErrCorrupt, err)
	}
	sess.SessionID = sessionID

	if time.Now().Unix() >= sess.ExpiresAt {
		if err := s.drop(ctx, sess.AccountID, sessionID); err != nil {
			return nil, err
		}
		return nil, ErrExpired
	}

	return sess, nil
}

// Rotate runs the atomic refresh CAS. On success it returns the updated
// session; a generation or hash mismatch returns ErrReplay, a device
// mismatch ErrFingerprintMismatch. In both mismatch cases the session
// has already been revoked by the script.
func (s *Store) Rotate(
	ctx context.Context,
	sessionID string,
	generation uint32,
	providedHash, nextHash, fingerprint [32]byte,
	now time.Time,
	inactivity time.Duration,
) (*Session, error) {
	result, err := rotateRefreshLua.Run(
		ctx,
		s.redis,
		[]string{s.key(sessionID)},
		sessionID,
		generation,
		providedHash[:],
		nextHash[:],
		fingerprint[:],
		now.Unix(),
		int64(inactivity/time.Second),
		s.accountIndexPrefix(),
	).Result()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}

	parts, ok := result.([]interface{})
	if !ok || len(parts) == 0 {
		return nil, fmt.Errorf("%w: invalid rotate script response", ErrRedisUnavailable)
	}

	code, ok := parts[0].(int64)
	if !ok {
		return nil, fmt.Errorf("%w: invalid rotate script status", ErrRedisUnavailable)
	}

	switch code {
	case rotateStatusNotFound:
		return nil, errors.Join(redis.Nil, ErrNotFound)
	case rotateStatusExpired:
		return nil, ErrExpired
	case rotateStatusRevoked:
		return nil, ErrRevoked
	case rotateStatusReplay:
		return nil, ErrReplay
	case rotateStatusFingerprint:
		return nil, ErrFingerprintMismatch
	case rotateStatusRotated:
		if len(parts) < 2 {
			return nil, fmt.Errorf("%w: missing updated session payload", ErrRedisUnavailable)
		}

		var blob []byte
		switch v := parts[1].(type) {
		case string:
			blob = []byte(v)
		case []byte:
			blob = v
		default:
			return nil, fmt.Errorf("%w: invalid updated session payload", ErrRedisUnavailable)
		}

		sess, decErr := Decode(blob)
		if decErr != nil {
			return nil, errors.Join(ErrCorrupt, decErr)
		}
		sess.SessionID = sessionID
		return sess, nil
	case rotateStatusInvalidBlob:
		return nil, ErrCorrupt
	default:
		return nil, fmt.Errorf("%w: unknown rotate script status", ErrRedisUnavailable)
	}
}

// Revoke marks a session revoked in place, preserving its TTL so the
// revoked state stays observable. Idempotent: revoking a revoked or
// already-gone session succeeds.
func (s *Store) Revoke(ctx context.Context, sessionID string) error {
	if err := revokeLua.Run(ctx, s.redis, []string{s.key(sessionID)}).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return nil
}

// RevokeAllForAccount revokes every indexed session for the account and
// reports how many were still live.
func (s *Store) RevokeAllForAccount(ctx context.Context, accountID string) (int, error) {
	sessionIDs, err := s.redis.SMembers(ctx, s.accountIndexKey(accountID)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return 0, nil
		}
		return 0, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}

	revoked := 0
	for _, sessionID := range sessionIDs {
		result, err := revokeLua.Run(ctx, s.redis, []string{s.key(sessionID)}).Int64()
		if err != nil {
			return revoked, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
		}
		if result == 1 {
			revoked++
		}
	}

	return revoked, nil
}

// ActiveSessionIDs returns the indexed session IDs for an account. The
// index may contain IDs whose records already expired.
func (s *Store) ActiveSessionIDs(ctx context.Context, accountID string) ([]string, error) {
	ids, err := s.redis.SMembers(ctx, s.accountIndexKey(accountID)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return []string{}, nil
		}
		return nil, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return ids, nil
}

// Delete removes a session record and its index entry outright. Most
// callers want Revoke; Delete exists for administrative cleanup.
func (s *Store) Delete(ctx context.Context, sessionID string) error {
	sess, err := s.Get(ctx, sessionID)
	if err != nil {
		if errors.Is(err, redis.Nil) || errors.Is(err, ErrExpired) {
			return nil
		}
		return err
	}
	return s.drop(ctx, sess.AccountID, sessionID)
}

// Ping returns a point-in-time Redis availability check and latency.
func (s *Store) Ping(ctx context.Context) (time.Duration, error) {
	start := time.Now()
	if err := s.redis.Ping(ctx).Err(); err != nil {
		return time.Since(start), fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return time.Since(start), nil
}

func (s *Store) drop(ctx context.Context, accountID, sessionID string) error {
	_, err := s.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, s.key(sessionID))
		pipe.SRem(ctx, s.accountIndexKey(accountID), sessionID)
		return nil
	})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return nil
}
