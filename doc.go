// Package neoauth is the multi-factor step-up and eIDAS compliance core of
// NeoSign. It issues and verifies one-time codes, runs step-up sessions that
// require several independently verified factors, computes SES/AES/QES
// compliance for signatures and gates account deletion on the user's
// enabled factors.
//
// Engine methods are safe to call from multiple goroutines after
// initialization through [Builder.Build].
//
// # Architecture boundaries
//
// neoauth is the public surface. It exposes [Engine], [Builder], [Config]
// and value types (StepUpSession, StepUpStatus, MetricsSnapshot, etc.).
// Flow orchestration, record encoding, rate limiting and audit dispatch
// live under internal/ and are never exported. Compliance rules live in the
// compliance package and have no engine state.
//
// # What this package must NOT do
//
//   - Expose Redis clients, internal stores, or encoding details in its public API.
//   - Return or log one-time codes outside IssueCode.
//   - Import any sub-package that re-imports neoauth (no import cycles).
//
// # Consistency contract
//
// VerifyCode succeeds at most once per issued code. A step-up session is
// marked complete in the same optimistic transaction that records its
// final factor, so concurrent validations never decide on a stale
// requirement set.
package neoauth
