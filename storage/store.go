package storage

import (
	"context"
	"time"
)

// UserQueries covers the user table. Lookups by email, username and deletion
// token ignore deleted users.
type UserQueries interface {
	CreateUser(ctx context.Context, u *User) error
	GetUserByID(ctx context.Context, id string) (*User, error)
	GetUserByEmail(ctx context.Context, email string) (*User, error)
	GetUserByUsername(ctx context.Context, username string) (*User, error)
	GetUserByDeletionTokenHash(ctx context.Context, hash string) (*User, error)
	// UpdateUser writes the mutable columns of u when the stored version
	// equals u.Version, then advances u.Version. A mismatch yields ErrStale.
	UpdateUser(ctx context.Context, u *User) error
	// ListUsersDueForDeletion pages through confirmed deletions scheduled at
	// or before now, ordered by (DeletionScheduledFor, ID). A nil after
	// starts from the beginning.
	ListUsersDueForDeletion(ctx context.Context, now time.Time, after *DueCursor, limit int) ([]User, error)
}

// DueCursor is the position of the last user returned by
// ListUsersDueForDeletion.
type DueCursor struct {
	ScheduledFor time.Time
	ID           string
}

// RefreshTokenQueries covers the refresh_tokens table.
type RefreshTokenQueries interface {
	InsertRefreshToken(ctx context.Context, t *RefreshToken) error
	GetRefreshTokenByHash(ctx context.Context, hash string) (*RefreshToken, error)
	// RevokeRefreshToken flips is_revoked only when it is still false and
	// reports whether this call changed the row.
	RevokeRefreshToken(ctx context.Context, id string, now time.Time) (bool, error)
	RevokeRefreshTokenFamily(ctx context.Context, familyID string, now time.Time) (int64, error)
	// RevokeUserRefreshTokens revokes every live, unexpired token of userID.
	RevokeUserRefreshTokens(ctx context.Context, userID string, now time.Time) (int64, error)
	ListLiveRefreshTokens(ctx context.Context, userID string, now time.Time) ([]RefreshToken, error)
}

// APIKeyQueries covers the api_keys table.
type APIKeyQueries interface {
	InsertAPIKey(ctx context.Context, k *APIKey) error
	GetAPIKeyByHash(ctx context.Context, hash string) (*APIKey, error)
	GetAPIKeyByID(ctx context.Context, id string) (*APIKey, error)
	// ReplaceAPIKeySecret swaps the hash of a non-deleted key and reports
	// whether a row changed.
	ReplaceAPIKeySecret(ctx context.Context, id, hash, prefix string, now time.Time) (bool, error)
	// SoftDeleteAPIKey marks a non-deleted key deleted and reports whether
	// a row changed.
	SoftDeleteAPIKey(ctx context.Context, id, deletedBy, reason string, now time.Time) (bool, error)
	// SetAPIKeyActive toggles is_active on a non-deleted key and reports
	// whether a row matched.
	SetAPIKeyActive(ctx context.Context, id string, active bool) (bool, error)
	SoftDeleteOwnerAPIKeys(ctx context.Context, ownerID, deletedBy, reason string, now time.Time) (int64, error)
	// ListAPIKeys orders by created_at descending. An empty ownerID lists
	// system keys.
	ListAPIKeys(ctx context.Context, ownerID string, includeDeleted bool) ([]APIKey, error)
	TouchAPIKey(ctx context.Context, id string, now time.Time) error
}

// Queries is the full query surface, available both inside and outside a
// transaction.
type Queries interface {
	UserQueries
	RefreshTokenQueries
	APIKeyQueries
}

// Store is the persistence dependency of the credential components.
type Store interface {
	Queries
	// Tx runs fn inside one transaction. The transaction commits when fn
	// returns nil and rolls back otherwise. Cancellation of ctx does not
	// abort a started transaction; the store's own timeout still applies.
	Tx(ctx context.Context, fn func(q Queries) error) error
	Ping(ctx context.Context) error
	Close() error
}
