// Package internal contains helper utilities that are private to neoauth:
// secure random identifiers, one-time code generation and binding hashes.
//
// # Sub-packages
//
//   - audit — async event dispatch (Dispatcher + Sink implementations)
//   - flows — pure-function orchestrators for step-up and account lifecycle operations
//   - rate — Redis-backed fixed-window attempt limiter
//   - stores — one-time code and step-up session stores
//
// # What this package must NOT do
//
//   - Export types that appear in the public neoauth API.
//   - Be imported by any package outside the neoauth module.
package internal
