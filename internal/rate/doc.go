// Package rate provides the Redis-backed sliding-window primitive used by every
// limiter in goIdentity.
//
// # Window semantics
//
// Sliding-window log: each permitted operation is one member of a sorted set
// scored by its timestamp in milliseconds. A single Lua script trims entries at
// or before now-window, counts the rest, adds the new member if under quota and
// reports the reset time derived from the oldest surviving member. An entry
// scored exactly now-window is outside the window.
//
// Key layout: {prefix}:{key} holds the log, {prefix}:{key}:seq a member counter.
//
// # What this package must NOT do
//
//   - Implement domain-specific policies (those live in internal/limiters).
//   - Decide fail-open behavior; store errors always surface as ErrRedisUnavailable.
//   - Be imported outside the goIdentity module.
package rate
