// Package api provides the operator REST API for the onboarding stack set.
//
// Routes under /api/v1 require an X-API-Key header whose SHA-256 digest is
// one of the configured key hashes.
package api
