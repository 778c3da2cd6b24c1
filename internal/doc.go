// Package internal generates and checks verification tokens.
//
// Tokens are 32 random bytes, hex encoded. Sub-packages hold the Redis token
// store (stores), the sliding-window primitive (rate), the quota policies
// built on it (limiters) and the audit relay (audit).
package internal
