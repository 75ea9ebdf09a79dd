// Package rate provides Redis-backed fixed-window counters that bound
// failed code verifications and code issuance per subject.
//
// # Window semantics
//
// Fixed-window counters: INCR + conditional EXPIRE on first hit. Key prefixes:
//   - rvf: failed verifications per subject (step-up requirement or code subject)
//   - ris: code issuance per subject
//
// # What this package must NOT do
//
//   - Decide which subjects are limited (the engine passes them in).
//   - Be imported outside the neoauth module.
package rate
