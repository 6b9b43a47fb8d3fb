package apikey

import (
	"fmt"
	"sort"
	"strings"

	"github.com/MrEthical07/authcore/storage"
)

// WildcardScope grants every scope to the key that holds it.
const WildcardScope = "*"

// MaxScopeLength bounds a single scope string.
const MaxScopeLength = 64

// NormalizeScopes trims, de-duplicates and sorts scopes. Empty entries are
// dropped. Scopes containing whitespace or longer than MaxScopeLength are
// rejected with ErrInvalidScope.
func NormalizeScopes(scopes []string) ([]string, error) {
	seen := make(map[string]struct{}, len(scopes))
	out := make([]string, 0, len(scopes))
	for _, raw := range scopes {
		scope := strings.TrimSpace(raw)
		if scope == "" {
			continue
		}
		if len(scope) > MaxScopeLength || strings.ContainsAny(scope, " \t\r\n") {
			return nil, fmt.Errorf("%w: %q", ErrInvalidScope, raw)
		}
		if _, ok := seen[scope]; ok {
			continue
		}
		seen[scope] = struct{}{}
		out = append(out, scope)
	}
	sort.Strings(out)
	return out, nil
}

// HasScope reports whether key grants scope.
func HasScope(key *storage.APIKey, scope string) bool {
	if key == nil || scope == "" {
		return false
	}
	for _, held := range key.Scopes {
		if held == scope || held == WildcardScope {
			return true
		}
	}
	return false
}
