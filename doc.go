// Package riskgate provides an adaptive authentication engine with
// dual-scope login throttling, device-risk scoring, a risk-gated MFA
// step, and Redis-backed sessions with rotating opaque refresh tokens
// paired to JWT access tokens.
//
// The package is designed for concurrent server workloads: Engine
// methods are safe to call from multiple goroutines after
// initialization through [Builder.Build].
//
// # Architecture boundaries
//
// riskgate is the public surface. It exposes [Engine], [Builder],
// [Config], and value types (LoginResult, TokenPair, MetricsSnapshot,
// etc.). Internal coordination — throttle counters, device history,
// audit dispatch — lives under internal/ and is never exported.
// Session encoding, token signing, and password hashing live in
// session, jwt, and password so callers can reuse them standalone.
//
// # What this package must NOT do
//
//   - Expose Redis clients, challenge records, or session encoding
//     details in its public API.
//   - Block the login path on audit sinks; events are handed off to a
//     buffered dispatcher and dropped when it is full.
//   - Distinguish unknown accounts from wrong passwords in either the
//     returned error or response timing.
//
// # Performance contract
//
// ValidateAccess is the hot path. In the default mode it verifies the
// signature and claims without a Redis round-trip; strict mode adds
// exactly one. Login and Refresh are allowed a small constant number
// of Redis round-trips per call.
package riskgate
