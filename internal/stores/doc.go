// Package stores provides the short-lived record stores behind step-up
// authentication: one-time codes keyed by (subject, purpose) and step-up
// sessions with their factor requirements.
//
// # Design
//
// Redis stores persist a versioned, binary-encoded record with a TTL.
// Mutations (Consume, CompleteRequirement) use WATCH/MULTI optimistic
// transactions with automatic retry on contention, so a code is consumed at
// most once and a session completion decision always sees the latest
// requirement set. Code comparisons use constant-time compare over sha256
// digests. MemoryCodeStore offers the same contract inside one process.
//
// # Architecture boundaries
//
// This package owns persistence and concurrency control for transient
// records. It does NOT generate codes, deliver them, enforce attempt limits,
// or decide factor diversity. Those belong to the engine and internal/flows.
//
// # What this package must NOT do
//
//   - Import neoauth or any sibling internal package.
//   - Log or expose plaintext codes outside StepUpRequirement.Code.
//   - Use non-constant-time comparisons for code matching.
package stores
