// Package risk derives device fingerprints and turns device history into
// a bounded risk score for login decisions.
//
// Raw device signals never leave process memory: only the salted SHA-256
// fingerprint is persisted or emitted. History lives in Redis under
// key prefixes:
//   - rk:d: — per-account fingerprint ZSET, scored by last-seen unix time
//   - rk:o: — per-origin failed-attempt counter with window TTL
//
// Scoring is pluggable through the [Scorer] interface; [WeightedScorer]
// is the default implementation.
package risk
