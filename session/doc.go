// Package session implements the Redis-backed session store and the
// atomic refresh-rotation protocol.
//
// # Record format
//
// Sessions are stored as a versioned binary blob with fixed offsets for
// every field the rotation script needs, so the Lua side parses with
// plain string.sub instead of walking length prefixes:
//
//	[0]      format version
//	[1]      flags (bit0 mfaVerified, bit1 revoked)
//	[2]      risk score
//	[3:7]    rotation generation, big endian uint32
//	[7:39]   device fingerprint hash
//	[39:71]  refresh secret hash
//	[71:79]  createdAt unix seconds
//	[79:87]  lastActivityAt unix seconds
//	[87:95]  expiresAt unix seconds (absolute lifetime)
//	[95:]    length-prefixed accountID, then length-prefixed role
//
// # Rotation protocol
//
// Rotate is a single Lua compare-and-swap over generation, refresh hash
// and fingerprint. Exactly one of N concurrent refreshes with the same
// token wins; a mismatch marks the whole session revoked in place so
// every token derived from it dies together, while the record stays
// visible (revoked) until its TTL runs out. Revocation is idempotent.
package session
