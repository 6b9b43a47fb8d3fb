package authcore

import (
	"errors"
	"fmt"

	"github.com/MrEthical07/authcore/apikey"
	"github.com/MrEthical07/authcore/deletion"
	"github.com/MrEthical07/authcore/jwt"
	"github.com/MrEthical07/authcore/password"
	"github.com/MrEthical07/authcore/ratelimit"
	"github.com/MrEthical07/authcore/refresh"
	"github.com/MrEthical07/authcore/storage"
)

// storeError maps storage failures that no component translated.
func storeError(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, storage.ErrUnavailable):
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	case errors.Is(err, storage.ErrNotFound):
		return ErrNotFound
	case errors.Is(err, storage.ErrStale):
		return ErrInvalidState
	default:
		return err
	}
}

func accessTokenError(err error) error {
	switch {
	case errors.Is(err, jwt.ErrExpired):
		return fmt.Errorf("%w: %w", ErrUnauthorized, ErrTokenExpired)
	case errors.Is(err, jwt.ErrSignatureMismatch):
		return fmt.Errorf("%w: %w", ErrUnauthorized, ErrTokenSignature)
	default:
		return fmt.Errorf("%w: %w", ErrUnauthorized, ErrTokenMalformed)
	}
}

func refreshError(err error) error {
	switch {
	case errors.Is(err, refresh.ErrNotFound):
		return ErrNotFound
	case errors.Is(err, refresh.ErrRevoked):
		return ErrRevoked
	case errors.Is(err, refresh.ErrExpired):
		return ErrExpired
	case errors.Is(err, refresh.ErrMalformed):
		return ErrInvalidToken
	default:
		return storeError(err)
	}
}

func apiKeyError(err error) error {
	switch {
	case errors.Is(err, apikey.ErrInvalid):
		return ErrUnauthorized
	case errors.Is(err, apikey.ErrInactive):
		return ErrInactive
	case errors.Is(err, apikey.ErrExpired):
		return ErrExpired
	case errors.Is(err, apikey.ErrScopeDenied):
		return ErrForbidden
	case errors.Is(err, apikey.ErrNotFound):
		return ErrNotFound
	case errors.Is(err, apikey.ErrInvalidLabel),
		errors.Is(err, apikey.ErrInvalidScope),
		errors.Is(err, apikey.ErrInvalidExpiry):
		return fmt.Errorf("%w: %v", ErrInvalidInput, err)
	default:
		return storeError(err)
	}
}

func deletionError(err error) error {
	switch {
	case errors.Is(err, deletion.ErrInvalidToken):
		return ErrInvalidToken
	case errors.Is(err, deletion.ErrExpiredToken):
		return ErrExpiredToken
	case errors.Is(err, deletion.ErrInvalidState):
		return ErrInvalidState
	case errors.Is(err, deletion.ErrUserNotFound):
		return ErrNotFound
	default:
		return storeError(err)
	}
}

func passwordPolicyError(err error) error {
	if errors.Is(err, password.ErrTooShort) || errors.Is(err, password.ErrTooLong) {
		return fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	return err
}

func rateLimitError(err error) error {
	var exceeded *ratelimit.ExceededError
	switch {
	case errors.As(err, &exceeded):
		return &RateLimitError{Route: exceeded.Route, RetryAfter: exceeded.RetryAfter}
	case errors.Is(err, ratelimit.ErrUnavailable):
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	default:
		return err
	}
}
