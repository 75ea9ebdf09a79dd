// Package jwt issues and verifies the bearer tokens that identify a step-up
// session to callers. A token carries the session ID, the owning user and
// the session purpose; it proves possession of the session, not completion.
package jwt
