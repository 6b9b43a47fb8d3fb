package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"
)

var (
	// ErrRateLimited is matched by every *ExceededError.
	ErrRateLimited = errors.New("ratelimit: rate limited")
	// ErrUnavailable is returned in FailClosed mode when the counter backend fails.
	ErrUnavailable = errors.New("ratelimit: counter backend unavailable")
)

// ExceededError reports a denied request and when to retry.
type ExceededError struct {
	Route      string
	Limit      int
	RetryAfter time.Duration
}

func (e *ExceededError) Error() string {
	return fmt.Sprintf("ratelimit: %s budget of %d exhausted, retry after %s", e.Route, e.Limit, e.RetryAfter)
}

// Is makes errors.Is(err, ErrRateLimited) hold.
func (e *ExceededError) Is(target error) bool {
	return target == ErrRateLimited
}

// FailureMode decides what a counter backend failure means for the request.
type FailureMode int

const (
	// FailureModeUnset is rejected by New.
	FailureModeUnset FailureMode = iota
	// FailOpen admits requests while the backend is failing.
	FailOpen
	// FailClosed rejects requests while the backend is failing.
	FailClosed
)

func (m FailureMode) String() string {
	switch m {
	case FailOpen:
		return "open"
	case FailClosed:
		return "closed"
	default:
		return "unset"
	}
}

// ParseFailureMode accepts "open" and "closed".
func ParseFailureMode(s string) (FailureMode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "open", "fail-open", "fail_open":
		return FailOpen, nil
	case "closed", "fail-closed", "fail_closed":
		return FailClosed, nil
	default:
		return FailureModeUnset, fmt.Errorf("ratelimit: failure mode %q must be open or closed", s)
	}
}

// DefaultBudget applies to routes without their own budget.
var DefaultBudget = Budget{Limit: 100, Window: time.Minute}

// Config configures a Limiter.
type Config struct {
	Default     Budget
	Routes      map[string]Budget
	FailureMode FailureMode
	Prefix      string
	Logger      *zap.Logger
}

// Decision is the outcome of one Check.
type Decision struct {
	Allowed    bool
	Limit      int
	Remaining  int
	ResetAt    time.Time
	RetryAfter time.Duration
	// Degraded is set when the backend failed and FailOpen admitted the request.
	Degraded bool
}

// Limiter applies per-route budgets.
type Limiter struct {
	counter Counter
	clock   clockwork.Clock
	cfg     Config
	logger  *zap.Logger

	failOpens atomic.Uint64
}

// New validates cfg and returns a Limiter over counter.
func New(counter Counter, clock clockwork.Clock, cfg Config) (*Limiter, error) {
	if counter == nil {
		return nil, errors.New("ratelimit: counter is required")
	}
	if cfg.FailureMode != FailOpen && cfg.FailureMode != FailClosed {
		return nil, errors.New("ratelimit: failure mode must be set to FailOpen or FailClosed")
	}
	if cfg.Default == (Budget{}) {
		cfg.Default = DefaultBudget
	}
	if err := cfg.Default.Validate(); err != nil {
		return nil, fmt.Errorf("default budget: %w", err)
	}
	for route, b := range cfg.Routes {
		if err := b.Validate(); err != nil {
			return nil, fmt.Errorf("route %s: %w", route, err)
		}
	}
	if cfg.Prefix == "" {
		cfg.Prefix = "rl"
	}
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Limiter{counter: counter, clock: clock, cfg: cfg, logger: logger}, nil
}

// BudgetFor returns the budget that applies to route.
func (l *Limiter) BudgetFor(route string) Budget {
	if b, ok := l.cfg.Routes[route]; ok {
		return b
	}
	return l.cfg.Default
}

// FailOpenCount reports how many requests were admitted because the backend failed.
func (l *Limiter) FailOpenCount() uint64 {
	return l.failOpens.Load()
}

// Check counts one request by identity on route. A denied request returns
// an *ExceededError alongside the decision.
func (l *Limiter) Check(ctx context.Context, identity, route string) (Decision, error) {
	budget := l.BudgetFor(route)
	now := l.clock.Now()
	windowMS := budget.Window.Milliseconds()
	startMS := now.UnixMilli() - now.UnixMilli()%windowMS
	resetAt := time.UnixMilli(startMS + windowMS)

	key := l.cfg.Prefix + ":" + route + ":" + identity + ":" + strconv.FormatInt(startMS, 10)
	count, err := l.counter.Increment(ctx, key, budget.Window)
	if err != nil {
		if l.cfg.FailureMode == FailClosed {
			l.logger.Error("rate limit backend failed, rejecting request",
				zap.String("route", route), zap.Error(err))
			return Decision{Limit: budget.Limit, ResetAt: resetAt}, fmt.Errorf("%w: %v", ErrUnavailable, err)
		}
		l.failOpens.Add(1)
		l.logger.Warn("rate limit backend failed, admitting request",
			zap.String("route", route), zap.Error(err))
		return Decision{Allowed: true, Limit: budget.Limit, Remaining: budget.Limit, ResetAt: resetAt, Degraded: true}, nil
	}

	d := Decision{Limit: budget.Limit, ResetAt: resetAt}
	if count > int64(budget.Limit) {
		d.RetryAfter = resetAt.Sub(now)
		if d.RetryAfter <= 0 {
			d.RetryAfter = time.Millisecond
		}
		return d, &ExceededError{Route: route, Limit: budget.Limit, RetryAfter: d.RetryAfter}
	}
	d.Allowed = true
	d.Remaining = budget.Limit - int(count)
	return d, nil
}

// Identity picks the subject when known and the client address otherwise.
func Identity(subjectID, clientIP string) string {
	if subjectID != "" {
		return "user:" + subjectID
	}
	if clientIP == "" {
		clientIP = "unknown"
	}
	return "ip:" + clientIP
}
