// Package channel defines the delivery collaborators the engine uses to send
// one-time codes, plus three adapters: a [WebhookSender] that posts each
// message to an HTTP relay, a zap-backed [LogSender] for local development
// and an in-memory [Outbox] for tests.
//
// # Architecture boundaries
//
// Senders only transport a rendered message. Code generation, expiry and
// retry policy stay in the engine.
//
// # What this package must NOT do
//
//   - Import neoauth (the root package aliases these types).
//   - Log message bodies; they contain live codes. [NewDevLogSender] is the
//     one opt-in exception.
package channel
