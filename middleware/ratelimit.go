package middleware

import (
	"context"
	"errors"
	"math"
	"net/http"
	"strconv"

	"github.com/MrEthical07/authcore"
	"github.com/MrEthical07/authcore/ratelimit"
)

// RateChecker is the part of authcore.Engine used by RateLimit.
type RateChecker interface {
	CheckRateLimit(ctx context.Context, route string) (ratelimit.Decision, error)
}

// SubjectResolver is implemented by checkers that can name the caller of a
// bearer token before it is fully validated. authcore.Engine implements it.
type SubjectResolver interface {
	AccessSubject(accessToken string) (string, bool)
}

// RateLimit charges each request against the budget of route. Denied
// requests get 429 with Retry-After in whole seconds; a failing backend in
// fail-closed mode yields 503.
//
// RateLimit may run ahead of Guard. When no subject is set yet and rc is a
// SubjectResolver, a verifiable bearer token charges its subject; anything
// else is charged to the client IP.
func RateLimit(rc RateChecker, route string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if rc == nil {
				next.ServeHTTP(w, r)
				return
			}

			decision, err := rc.CheckRateLimit(limitContext(rc, r), route)
			if decision.Limit > 0 {
				setRateHeaders(w.Header(), decision)
			}
			if err != nil {
				var rlErr *authcore.RateLimitError
				if errors.As(err, &rlErr) {
					w.Header().Set("Retry-After", strconv.Itoa(RetryAfterSeconds(rlErr)))
					http.Error(w, "too many requests", http.StatusTooManyRequests)
					return
				}
				http.Error(w, "service unavailable", http.StatusServiceUnavailable)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func limitContext(rc RateChecker, r *http.Request) context.Context {
	ctx := r.Context()
	if _, ok := authcore.SubjectFromContext(ctx); ok {
		return ctx
	}
	resolver, ok := rc.(SubjectResolver)
	if !ok {
		return ctx
	}
	token, ok := bearerToken(r.Header.Get("Authorization"))
	if !ok {
		return ctx
	}
	if subject, ok := resolver.AccessSubject(token); ok {
		return authcore.WithSubject(ctx, subject)
	}
	return ctx
}

// RetryAfterSeconds rounds the wait of err up to whole seconds, at least one.
func RetryAfterSeconds(err *authcore.RateLimitError) int {
	secs := int(math.Ceil(err.RetryAfter.Seconds()))
	if secs < 1 {
		secs = 1
	}
	return secs
}

func setRateHeaders(h http.Header, d ratelimit.Decision) {
	h.Set("X-RateLimit-Limit", strconv.Itoa(d.Limit))
	h.Set("X-RateLimit-Remaining", strconv.Itoa(d.Remaining))
	h.Set("X-RateLimit-Reset", strconv.FormatInt(d.ResetAt.Unix(), 10))
}
