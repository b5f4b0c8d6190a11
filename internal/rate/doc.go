// Package rate provides the Redis-backed attempt counters behind the
// login throttle.
//
// # Window semantics
//
// Fixed-window counters: INCR + conditional EXPIRE on first hit. When a
// counter crosses its budget the key TTL is re-armed to the block
// duration, so the block always runs its full length from the attempt
// that tripped it. Key prefixes:
//   - tl:i: — failed logins per identifier
//   - tl:o: — failed logins per origin
//
// # Failure domains
//
// The two counters fail differently on a store outage. Identifier reads
// report ErrDegraded so the caller can proceed without throttle cover.
// Origin reads report ErrStoreUnavailable and the caller is expected to
// deny the attempt.
package rate
