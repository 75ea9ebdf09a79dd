// Package httpapi exposes a neoauth Engine over HTTP using a chi router.
//
// Step-up sessions, factor validation, two-factor enrollment, account
// deletion and compliance reports each get a JSON route under /v1. One-time
// codes are never part of a response body.
//
// Creating a step-up session and every /v1/accounts/{userID} route require
// the caller's application session in X-Session-ID, and {userID} must be its
// user. Routes on an existing step-up session require that session's token
// ([middleware.RequireStepUpToken]). Scheduling account deletion also needs
// a completed account_deletion step-up token; see [middleware.Guard].
package httpapi
