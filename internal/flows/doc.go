// Package flows contains pure-function orchestrators for the step-up and
// account deletion operations of the Engine.
//
// Each flow function (RunCreateStepUp, RunValidateFactor,
// RunScheduleDeletion, etc.) accepts a typed dependency struct and returns
// results without side effects beyond those dependencies. Flows can be
// tested with plain function fields and keep the Engine type thin.
//
// # Architecture boundaries
//
// Flow functions coordinate calls to the code store, step-up store, TOTP
// verifier, channel senders, rate limiter, audit dispatcher and metrics.
// They do NOT own any of these resources; ownership stays with the Engine.
//
// # What this package must NOT do
//
//   - Hold mutable state between calls.
//   - Import neoauth (to avoid import cycles).
//   - Perform I/O directly. All I/O is mediated through dependency fields.
package flows
