// Package stores provides the Redis-backed verification token store.
//
// # Design
//
// A token record is a Redis hash at {prefix}:tok:{token} carrying the subject,
// change type, destination contact, creation and expiry timestamps (unix ms)
// and an opaque JSON payload. A subject index {prefix}:sub:{subject}:{type}
// points at the single live token for that pair.
//
// Create, Redeem and Delete are Lua scripts, so supersession and the
// validity-check-plus-delete of redemption are each one atomic step. Records
// outlive their logical expiry by a retention period so a late redemption can
// be told apart from an unknown token; Redis key expiry reaps them afterwards.
//
// The scripts derive the index key from the stored subject and the superseded
// record key from the index value, so they only run on a single keyspace.
// Redis Cluster and client-side sharding are not supported.
//
// # Architecture boundaries
//
// This package owns persistence and concurrency control for tokens. It does
// NOT enforce rate limits, send notifications or decide user-visible status;
// the engine maps the errors below onto its public taxonomy.
//
// # What this package must NOT do
//
//   - Import goIdentity or any sibling internal package except internal.
//   - Log tokens or payloads.
package stores
