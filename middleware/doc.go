// Package middleware exposes HTTP middleware for step-up enforcement built
// on top of neoauth.Engine.
//
// # Guards
//
//   - [Guard] accepts a completed step-up session, optionally for one purpose.
//   - [RequireStepUp] accepts any completed session.
//   - [RequireAESStepUp] accepts completed aes_signature sessions only.
//   - [RequireStepUpToken] accepts any live session, complete or not.
//   - [RequireSession] resolves the X-Session-ID application session to
//     its user; see [SessionUserFromContext].
//
// Each guard reads the X-StepUp-Token header (or a Bearer token), calls
// Engine.StepUpSessionFromToken, and injects the session into the request
// context. [ClientContext] forwards the client IP, user agent and session
// ID to the Engine.
//
// # Architecture boundaries
//
// This package translates HTTP semantics into Engine calls. It does NOT implement
// authentication logic itself; all decisions are delegated to the Engine.
//
// # What this package must NOT do
//
//   - Parse or create JWTs directly (delegates to Engine).
//   - Access Redis (Engine handles I/O).
//   - Consume step-up sessions. Gated handlers do that.
package middleware
