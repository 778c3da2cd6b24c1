// Package goIdentity provides the identity-change engine of the marketplace: verified
// username and email changes backed by single-use Redis tokens, sliding-window quotas
// and a transactional user store.
//
// The package is designed for concurrent server workloads: Engine methods are safe to call
// from multiple goroutines after initialization through [Builder.Build]. All cross-request
// coordination happens in Redis (tokens, rate windows) and in the [UserStore].
//
// # Architecture boundaries
//
// goIdentity is the public surface. It exposes [Engine], [Builder], [Config], the error
// taxonomy and value types (UsernameChangeRequest, Quota, MetricsSnapshot, etc.). Token
// persistence, sliding-window limiting and audit dispatch live under internal/ and are
// never exported.
//
// # What this package must NOT do
//
//   - Accept a caller-supplied user id as the target of a mutation; every operation takes
//     the authenticated session user id.
//   - Expose Redis clients, token records or raw store errors in its public API.
//   - Let audit delivery or security-alert failures fail the primary operation.
//   - Import any sub-package that re-imports goIdentity (no import cycles).
package goIdentity
