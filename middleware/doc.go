// Package middleware adapts HTTP requests to goIdentity calls.
//
// [RequireSession] verifies the bearer token and places the session user id on
// the request context. [ClientContext] records the caller's IP address and user
// agent for rate limiting and audit events. Neither makes identity decisions;
// those belong to goIdentity.Engine.
package middleware
