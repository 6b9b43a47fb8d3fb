package authcore

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrNotFound is returned when the addressed user, key or session does not exist.
	ErrNotFound = errors.New("not found")
	// ErrInvalidCredentials covers both unknown identifiers and wrong passwords.
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrRevoked is returned for a refresh token that was already revoked or rotated.
	ErrRevoked = errors.New("credential revoked")
	// ErrExpired is returned for an expired refresh token or API key.
	ErrExpired = errors.New("credential expired")
	// ErrInvalidState is returned when an account is not in a state that allows the transition.
	ErrInvalidState = errors.New("invalid account state")
	// ErrRateLimited is matched by every *RateLimitError.
	ErrRateLimited = errors.New("rate limited")
	// ErrStoreUnavailable wraps storage and counter backend failures. It is retryable.
	ErrStoreUnavailable = errors.New("store unavailable")
	// ErrInvalidInput is returned for requests that fail field validation.
	ErrInvalidInput = errors.New("invalid input")
	// ErrAccountExists is returned by Register when the email or username is taken.
	ErrAccountExists = errors.New("account already exists")
	// ErrAccountDisabled is returned for inactive or deleted accounts.
	ErrAccountDisabled = errors.New("account disabled")
	// ErrUnauthorized is returned when an access token or API key is not acceptable.
	ErrUnauthorized = errors.New("unauthorized")
	// ErrInvalidToken is returned for an unknown or malformed single-use token.
	ErrInvalidToken = errors.New("invalid token")
	// ErrExpiredToken is returned for an expired single-use token.
	ErrExpiredToken = errors.New("token expired")
	// ErrTokenExpired is joined with ErrUnauthorized for expired access tokens.
	ErrTokenExpired = errors.New("access token expired")
	// ErrTokenMalformed is joined with ErrUnauthorized for undecodable access tokens.
	ErrTokenMalformed = errors.New("access token malformed")
	// ErrTokenSignature is joined with ErrUnauthorized for access tokens that fail verification.
	ErrTokenSignature = errors.New("access token signature mismatch")
	// ErrForbidden is returned when an API key lacks the requested scope.
	ErrForbidden = errors.New("forbidden")
	// ErrInactive is returned for an API key that exists but is switched off.
	ErrInactive = errors.New("credential inactive")
	// ErrEngineNotReady is returned by methods of a nil or unbuilt Engine.
	ErrEngineNotReady = errors.New("engine not initialized")
)

// RateLimitError is returned by CheckRateLimit when the route budget for the
// caller is spent.
type RateLimitError struct {
	Route      string
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("rate limited on %s, retry after %s", e.Route, e.RetryAfter)
}

// Is makes errors.Is(err, ErrRateLimited) hold.
func (e *RateLimitError) Is(target error) bool {
	return target == ErrRateLimited
}
