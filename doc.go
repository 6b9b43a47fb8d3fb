// Package authcore issues and manages credentials for an HTTP API: password
// login with short-lived signed access tokens, rotating refresh tokens,
// scoped API keys, a confirm-then-execute account deletion workflow, and
// per-route rate limiting.
//
// Engine methods are safe to call from multiple goroutines after
// [Builder.Build].
//
// # Architecture boundaries
//
// authcore is the orchestration surface. It exposes [Engine], [Builder],
// [Config] and value types ([TokenPair], [Principal], [APIKey], ...). The
// credential mechanics live in the component packages (password, jwt,
// refresh, apikey, deletion, ratelimit) and persistence behind
// storage.Store. Component errors are translated into the sentinel errors
// of this package before they reach callers.
//
// # What this package must NOT do
//
//   - Return raw secrets other than once, at issue time.
//   - Log or audit passwords, tokens or key material.
//   - Speak HTTP; the middleware and httpapi packages adapt Engine calls.
//
// # Time
//
// Every expiry decision uses the clockwork.Clock given to [Builder.WithClock],
// so tests drive time with a fake clock.
package authcore
