package ratelimit

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Budget allows Limit requests per Window.
type Budget struct {
	Limit  int
	Window time.Duration
}

// String renders b in the form accepted by ParseBudget.
func (b Budget) String() string {
	return fmt.Sprintf("%d/%s", b.Limit, b.Window)
}

// Validate rejects non-positive limits and windows shorter than a millisecond.
func (b Budget) Validate() error {
	if b.Limit <= 0 {
		return fmt.Errorf("ratelimit: limit must be > 0, got %d", b.Limit)
	}
	if b.Window < time.Millisecond {
		return fmt.Errorf("ratelimit: window must be >= 1ms, got %s", b.Window)
	}
	return nil
}

// ParseBudget parses "N/unit" strings such as "5/minute", "100/min",
// "1000/hour" and "10/30s". The unit is a word or any time.ParseDuration value.
func ParseBudget(s string) (Budget, error) {
	count, unit, ok := strings.Cut(strings.TrimSpace(s), "/")
	if !ok {
		return Budget{}, fmt.Errorf("ratelimit: budget %q must look like N/window", s)
	}
	limit, err := strconv.Atoi(strings.TrimSpace(count))
	if err != nil {
		return Budget{}, fmt.Errorf("ratelimit: budget %q: bad count: %w", s, err)
	}

	var window time.Duration
	switch strings.ToLower(strings.TrimSpace(unit)) {
	case "s", "sec", "second":
		window = time.Second
	case "m", "min", "minute":
		window = time.Minute
	case "h", "hr", "hour":
		window = time.Hour
	case "d", "day":
		window = 24 * time.Hour
	default:
		window, err = time.ParseDuration(strings.TrimSpace(unit))
		if err != nil {
			return Budget{}, fmt.Errorf("ratelimit: budget %q: bad window: %w", s, err)
		}
	}

	b := Budget{Limit: limit, Window: window}
	if err := b.Validate(); err != nil {
		return Budget{}, err
	}
	return b, nil
}

// ParseRoutes parses "route=N/unit" pairs separated by commas or semicolons.
func ParseRoutes(s string) (map[string]Budget, error) {
	routes := map[string]Budget{}
	for _, part := range strings.FieldsFunc(s, func(r rune) bool { return r == ',' || r == ';' }) {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		route, spec, ok := strings.Cut(part, "=")
		if !ok || strings.TrimSpace(route) == "" {
			return nil, fmt.Errorf("ratelimit: route budget %q must look like route=N/window", part)
		}
		b, err := ParseBudget(spec)
		if err != nil {
			return nil, err
		}
		routes[strings.TrimSpace(route)] = b
	}
	return routes, nil
}
