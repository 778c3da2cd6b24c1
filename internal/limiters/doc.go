// Package limiters provides the domain rate limit policies built on top of the
// internal/rate sliding-window primitive.
//
// # Limiters
//
//   - [IdentityChangeLimiter]: per-user quota for username and email changes
//     over a 30 day window, with a separate bucket for accounts younger than
//     the configured new-account age.
//   - [APILimiter]: per-IP quota for general API traffic over 60 seconds.
//   - [SignupLimiter]: per-IP quota for unauthenticated signup attempts over
//     15 minutes.
//
// All limiters are nil-safe: calling any method on a nil receiver allows the call.
//
// # Architecture boundaries
//
// Each limiter owns its key namespace and error types. Policy thresholds come
// from Config structs supplied at construction time.
//
// # What this package must NOT do
//
//   - Import goIdentity or any sibling internal package except internal/rate.
//   - Swallow store errors; callers fail closed on ...LimiterUnavailable.
package limiters
