package middleware

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/MrEthical07/authcore"
)

// APIKeyHeader carries a raw API key. "Authorization: ApiKey <key>" is
// accepted as well.
const APIKeyHeader = "X-API-Key"

// APIKeyAuthenticator is the part of authcore.Engine used by RequireAPIKey.
type APIKeyAuthenticator interface {
	AuthenticateAPIKey(ctx context.Context, raw, scope string) (*authcore.APIKey, error)
}

type apiKeyContextKey struct{}

// APIKeyFromContext returns the key stored by RequireAPIKey.
func APIKeyFromContext(ctx context.Context) (*authcore.APIKey, bool) {
	k, ok := ctx.Value(apiKeyContextKey{}).(*authcore.APIKey)
	return k, ok
}

// RequireAPIKey rejects requests without a usable API key. A non-empty scope
// must be granted by the key, otherwise the request fails with 403.
func RequireAPIKey(a APIKeyAuthenticator, scope string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			raw := presentedAPIKey(r)
			if a == nil || raw == "" {
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}

			key, err := a.AuthenticateAPIKey(r.Context(), raw, scope)
			switch {
			case err == nil:
			case errors.Is(err, authcore.ErrForbidden):
				http.Error(w, "forbidden", http.StatusForbidden)
				return
			case errors.Is(err, authcore.ErrStoreUnavailable):
				http.Error(w, "service unavailable", http.StatusServiceUnavailable)
				return
			default:
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}

			ctx := context.WithValue(r.Context(), apiKeyContextKey{}, key)
			if key.OwnerID != "" {
				ctx = authcore.WithSubject(ctx, key.OwnerID)
			} else {
				ctx = authcore.WithSubject(ctx, "key:"+key.ID)
			}
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func presentedAPIKey(r *http.Request) string {
	if v := strings.TrimSpace(r.Header.Get(APIKeyHeader)); v != "" {
		return v
	}
	const scheme = "ApiKey "
	auth := r.Header.Get("Authorization")
	if len(auth) > len(scheme) && strings.EqualFold(auth[:len(scheme)], scheme) {
		return strings.TrimSpace(auth[len(scheme):])
	}
	return ""
}
