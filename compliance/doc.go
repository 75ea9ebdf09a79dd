// Package compliance derives the eIDAS tier (SES, AES or QES) of a signature
// from its recorded factors, certificate and timestamp metadata.
//
// Signatures are an explicit tagged variant: [Signature.Kind] selects the
// evaluation path and [AESFields] carries the advanced-signature evidence.
// Every check runs on every call, so a [Report] always lists all unmet
// requirements rather than the first failure.
//
// # Legal value projection
//
// A compliant SES maps to Basic and a compliant AES to Advanced (Qualified
// when the key lives on a qualified device). A non-compliant SES reports
// level N/A with legal value Basic. A non-compliant AES is re-evaluated as a
// SES over its base fields: when that passes the level is SES/Basic,
// otherwise N/A/N/A.
//
// # Architecture boundaries
//
// The package is pure: it performs no I/O, holds no state and takes the
// evaluation time as a parameter where freshness matters. Certificates and
// timestamps are trusted metadata; only their validity windows are checked.
//
// # What this package must NOT do
//
//   - Parse X.509 certificates or RFC 3161 tokens.
//   - Import neoauth or any internal package.
package compliance
