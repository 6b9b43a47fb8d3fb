package refresh

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"

	"github.com/MrEthical07/authcore/internal/secret"
	"github.com/MrEthical07/authcore/storage"
)

// TokenPrefix marks refresh tokens so they cannot be confused with API keys.
const TokenPrefix = "rt_"

// DefaultTTL is the refresh token lifetime when Config leaves it zero.
const DefaultTTL = 30 * 24 * time.Hour

var (
	// ErrNotFound is returned when no stored token matches the presented secret.
	ErrNotFound = errors.New("refresh: token not found")
	// ErrRevoked is returned when the token was already revoked or rotated.
	ErrRevoked = errors.New("refresh: token revoked")
	// ErrExpired is returned when the token outlived its TTL.
	ErrExpired = errors.New("refresh: token expired")
	// ErrMalformed is returned for input that cannot be a refresh token.
	ErrMalformed = errors.New("refresh: malformed token")
)

// Config tunes token lifetime and reuse handling.
type Config struct {
	TTL time.Duration
	// SecretBytes is the random entropy per token. Zero means 32.
	SecretBytes int
	// RevokeLineageOnReuse revokes every live token of a family when one of
	// its revoked members is presented again.
	RevokeLineageOnReuse bool
}

// DefaultConfig returns a 30 day TTL with lineage revocation enabled.
func DefaultConfig() Config {
	return Config{
		TTL:                  DefaultTTL,
		SecretBytes:          secret.DefaultSize,
		RevokeLineageOnReuse: true,
	}
}

// Metadata is recorded with each token for session listings.
type Metadata struct {
	DeviceInfo string
	IPAddress  string
}

// Store manages refresh tokens on top of a storage.Store.
type Store struct {
	store storage.Store
	clock clockwork.Clock
	cfg   Config
}

// NewStore validates cfg and returns a Store. A nil clock means the real clock.
func NewStore(st storage.Store, clock clockwork.Clock, cfg Config) (*Store, error) {
	if st == nil {
		return nil, errors.New("refresh: store is required")
	}
	if cfg.TTL < 0 {
		return nil, errors.New("refresh: TTL must not be negative")
	}
	if cfg.TTL == 0 {
		cfg.TTL = DefaultTTL
	}
	if cfg.SecretBytes == 0 {
		cfg.SecretBytes = secret.DefaultSize
	}
	if cfg.SecretBytes < 16 {
		return nil, errors.New("refresh: SecretBytes must be >= 16")
	}
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Store{store: st, clock: clock, cfg: cfg}, nil
}

// TTL returns the configured token lifetime.
func (s *Store) TTL() time.Duration {
	return s.cfg.TTL
}

// Issue creates a token that starts a new family for userID.
func (s *Store) Issue(ctx context.Context, userID string, meta Metadata) (string, *storage.RefreshToken, error) {
	if userID == "" {
		return "", nil, errors.New("refresh: user id is required")
	}
	raw, rec, err := s.newToken(userID, "", "", meta)
	if err != nil {
		return "", nil, err
	}
	if err := s.store.InsertRefreshToken(ctx, rec); err != nil {
		return "", nil, err
	}
	return raw, rec, nil
}

// Rotate exchanges presented for a successor token in the same family.
func (s *Store) Rotate(ctx context.Context, presented string) (string, *storage.RefreshToken, error) {
	if err := secret.Validate(TokenPrefix, presented); err != nil {
		return "", nil, ErrMalformed
	}
	hash := secret.Hash(presented)

	var (
		raw       string
		successor *storage.RefreshToken
		reused    string
	)
	err := s.store.Tx(ctx, func(q storage.Queries) error {
		current, err := q.GetRefreshTokenByHash(ctx, hash)
		if err != nil {
			if errors.Is(err, storage.ErrNotFound) {
				return ErrNotFound
			}
			return err
		}
		if current.IsRevoked {
			reused = current.FamilyID
			return ErrRevoked
		}
		now := s.clock.Now()
		if !now.Before(current.ExpiresAt) {
			return ErrExpired
		}

		changed, err := q.RevokeRefreshToken(ctx, current.ID, now)
		if err != nil {
			return err
		}
		if !changed {
			return ErrRevoked
		}

		raw, successor, err = s.newToken(current.UserID, current.FamilyID, current.ID, Metadata{
			DeviceInfo: current.DeviceInfo,
			IPAddress:  current.IPAddress,
		})
		if err != nil {
			return err
		}
		return q.InsertRefreshToken(ctx, successor)
	})
	if err != nil {
		if reused != "" && s.cfg.RevokeLineageOnReuse {
			if _, famErr := s.store.RevokeRefreshTokenFamily(ctx, reused, s.clock.Now()); famErr != nil {
				return "", nil, fmt.Errorf("%w (family revoke failed: %v)", ErrRevoked, famErr)
			}
		}
		return "", nil, err
	}
	return raw, successor, nil
}

// Revoke invalidates presented. Unknown and already revoked tokens are not
// errors.
func (s *Store) Revoke(ctx context.Context, presented string) error {
	if err := secret.Validate(TokenPrefix, presented); err != nil {
		return ErrMalformed
	}
	rec, err := s.store.GetRefreshTokenByHash(ctx, secret.Hash(presented))
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil
		}
		return err
	}
	if rec.IsRevoked {
		return nil
	}
	_, err = s.store.RevokeRefreshToken(ctx, rec.ID, s.clock.Now())
	return err
}

// RevokeAll revokes every live token of userID and returns how many changed.
func (s *Store) RevokeAll(ctx context.Context, userID string) (int64, error) {
	return s.store.RevokeUserRefreshTokens(ctx, userID, s.clock.Now())
}

// RevokeFamily revokes every live token descending from the same login.
func (s *Store) RevokeFamily(ctx context.Context, familyID string) (int64, error) {
	return s.store.RevokeRefreshTokenFamily(ctx, familyID, s.clock.Now())
}

// Lookup returns the stored record for presented without changing it.
func (s *Store) Lookup(ctx context.Context, presented string) (*storage.RefreshToken, error) {
	if err := secret.Validate(TokenPrefix, presented); err != nil {
		return nil, ErrMalformed
	}
	rec, err := s.store.GetRefreshTokenByHash(ctx, secret.Hash(presented))
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return rec, nil
}

// ListActive returns the live sessions of userID, newest first.
func (s *Store) ListActive(ctx context.Context, userID string) ([]storage.RefreshToken, error) {
	return s.store.ListLiveRefreshTokens(ctx, userID, s.clock.Now())
}

func (s *Store) newToken(userID, familyID, parentID string, meta Metadata) (string, *storage.RefreshToken, error) {
	raw, err := secret.New(TokenPrefix, s.cfg.SecretBytes)
	if err != nil {
		return "", nil, fmt.Errorf("refresh: generate secret: %w", err)
	}
	id := uuid.NewString()
	if familyID == "" {
		familyID = id
	}
	now := s.clock.Now()
	return raw, &storage.RefreshToken{
		ID:         id,
		UserID:     userID,
		TokenHash:  secret.Hash(raw),
		FamilyID:   familyID,
		ParentID:   parentID,
		ExpiresAt:  now.Add(s.cfg.TTL),
		CreatedAt:  now,
		DeviceInfo: meta.DeviceInfo,
		IPAddress:  meta.IPAddress,
	}, nil
}
