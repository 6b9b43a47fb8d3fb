// Package ratelimit implements fixed-window request budgets keyed by client
// identity and route.
//
// Each (route, identity) pair owns one counter per window, addressed as
// "prefix:route:identity:window_start_ms". The first increment in a window
// sets the counter's expiry, so state never outlives its window. A request is
// denied when the counter was already at the budget before this request.
//
// Counters live either in process ([MemoryCounter]) or in Redis
// ([RedisCounter]). What happens when the counter backend fails is an explicit
// choice: [FailOpen] admits the request and logs, [FailClosed] rejects it with
// [ErrUnavailable]. A [Limiter] cannot be built without one of the two.
package ratelimit
