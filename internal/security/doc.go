// Package security derives a configuration posture report for the engine.
//
// # What this package must NOT do
//
//   - Import neoauth. The root package maps its Config into [ReportInput].
package security
