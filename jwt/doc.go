// Package jwt issues and verifies the short-lived session bearer tokens that
// identify the caller of goIdentity's HTTP surface. Only the user id claim is
// carried; account state is always read from the user store.
package jwt
