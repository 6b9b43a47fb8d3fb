// Package httpapi serves the Engine over HTTP with echo.
//
// Every /v1 route is charged against its own rate-limit budget, named by
// the route key passed to [middleware.RateLimit] (for example "auth.login").
// Authenticated routes run the Bearer guard before the limiter so budgets
// are kept per user rather than per address.
//
// Errors returned by handlers are translated into JSON bodies of the form
// {"error": "...", "code": "..."} by [ErrorHandler].
package httpapi
