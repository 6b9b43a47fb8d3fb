// Package middleware adapts authcore.Engine calls to net/http handlers.
//
// # Middleware
//
//   - [ClientInfo] records the client address, user agent and request id in
//     the request context so audit events and rate limits can use them.
//   - [Guard] requires a Bearer access token.
//   - [RequireAPIKey] requires an API key, optionally holding a scope.
//   - [RateLimit] charges one request against a named route budget.
//
// Guard and RateLimit compose: put Guard first so the rate limit is keyed by
// the authenticated subject instead of the client address.
//
// # What this package must NOT do
//
//   - Parse tokens or keys itself (delegates to the Engine).
//   - Make authorization decisions beyond pass or reject.
package middleware
