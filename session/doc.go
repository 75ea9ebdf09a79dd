// Package session provides Redis-backed application session persistence
// with a per-user index used for bulk revocation.
//
// # Binary encoding
//
// Sessions are stored as a compact versioned binary record. Client IP and
// user agent are hashed before they reach the store.
//
// # Architecture boundaries
//
// This package owns the [Store] (Redis operations) and the [Session] model.
// It does NOT decide when sessions are revoked; account lifecycle policy
// belongs to the Engine.
//
// # What this package must NOT do
//
//   - Import neoauth or jwt (no upward imports).
//   - Store plaintext IP addresses or user agents.
package session
