package authcore

import (
	"context"

	"github.com/MrEthical07/authcore/ratelimit"
)

// CheckRateLimit counts one request on route for the caller in ctx: the
// subject set by WithSubject when present, otherwise the client IP. A
// spent budget yields a *RateLimitError. When rate limiting is disabled the
// request is always allowed.
func (e *Engine) CheckRateLimit(ctx context.Context, route string) (ratelimit.Decision, error) {
	if e == nil {
		return ratelimit.Decision{}, ErrEngineNotReady
	}
	if e.limiter == nil {
		return ratelimit.Decision{Allowed: true}, nil
	}

	subject, _ := SubjectFromContext(ctx)
	identity := ratelimit.Identity(subject, ClientIPFromContext(ctx))
	decision, err := e.limiter.Check(ctx, identity, route)
	if err != nil {
		mapped := rateLimitError(err)
		if _, ok := mapped.(*RateLimitError); ok {
			e.emitRateLimit(ctx, route, identity)
		} else {
			e.fail(mapped)
		}
		return decision, mapped
	}
	if decision.Degraded {
		e.metricInc(MetricRateLimitDegraded)
	}
	return decision, nil
}

// RateLimitEnabled reports whether CheckRateLimit enforces budgets.
func (e *Engine) RateLimitEnabled() bool {
	return e != nil && e.limiter != nil
}
