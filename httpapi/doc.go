// Package httpapi exposes the identity-change flows over HTTP using chi.
//
// All routes accept and return JSON. Error bodies carry the goIdentity status
// code in "status" so clients can branch without parsing messages.
package httpapi
