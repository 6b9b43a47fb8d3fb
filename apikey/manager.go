package apikey

import (
	"context"
	"errors"
	"fmt"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"github.com/MrEthical07/authcore/internal/secret"
	"github.com/MrEthical07/authcore/storage"
)

const (
	// KeyPrefix starts every raw API key.
	KeyPrefix = "ak_"
	// DefaultMaxAttempts bounds hash-collision retries on create and rotate.
	DefaultMaxAttempts = 3
	// DisplayPrefixLength is how much of the raw key is kept for listings.
	DisplayPrefixLength = 11
	// MaxLabelLength bounds key labels, in runes.
	MaxLabelLength = 128
)

var (
	// ErrInvalid is returned when a presented key is unknown, malformed or deleted.
	ErrInvalid = errors.New("apikey: invalid key")
	// ErrInactive is returned when the key exists but is deactivated.
	ErrInactive = errors.New("apikey: key inactive")
	// ErrExpired is returned when the key is past its expiry.
	ErrExpired = errors.New("apikey: key expired")
	// ErrScopeDenied is returned by Authorize when the key lacks the scope.
	ErrScopeDenied = errors.New("apikey: scope denied")
	// ErrNotFound is returned for key ids that do not exist or were deleted.
	ErrNotFound = errors.New("apikey: key not found")
	// ErrInvalidLabel is returned for empty or oversized labels.
	ErrInvalidLabel = errors.New("apikey: invalid label")
	// ErrInvalidScope is returned for malformed scope strings.
	ErrInvalidScope = errors.New("apikey: invalid scope")
	// ErrInvalidExpiry is returned when a new key would already be expired.
	ErrInvalidExpiry = errors.New("apikey: expiry must be in the future")
	// ErrCollision is returned when every generated secret collided.
	ErrCollision = errors.New("apikey: could not generate a unique key")
)

// Config tunes key generation.
type Config struct {
	SecretBytes int
	MaxAttempts int
	Logger      *zap.Logger
}

// CreateParams describes a new key. An empty OwnerID creates a system key.
type CreateParams struct {
	OwnerID   string
	Label     string
	Scopes    []string
	ExpiresAt *time.Time
}

// Manager issues and checks API keys.
type Manager struct {
	store  storage.Store
	clock  clockwork.Clock
	cfg    Config
	logger *zap.Logger
}

// NewManager returns a Manager over st. A nil clock means the real clock.
func NewManager(st storage.Store, clock clockwork.Clock, cfg Config) (*Manager, error) {
	if st == nil {
		return nil, errors.New("apikey: store is required")
	}
	if cfg.SecretBytes == 0 {
		cfg.SecretBytes = secret.DefaultSize
	}
	if cfg.SecretBytes < 16 {
		return nil, errors.New("apikey: SecretBytes must be >= 16")
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = DefaultMaxAttempts
	}
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{store: st, clock: clock, cfg: cfg, logger: logger}, nil
}

// Create generates a key and returns the raw secret with its record. The raw
// secret is not recoverable afterwards.
func (m *Manager) Create(ctx context.Context, p CreateParams) (string, *storage.APIKey, error) {
	if err := validateLabel(p.Label); err != nil {
		return "", nil, err
	}
	scopes, err := NormalizeScopes(p.Scopes)
	if err != nil {
		return "", nil, err
	}
	now := m.clock.Now()
	if p.ExpiresAt != nil && !p.ExpiresAt.After(now) {
		return "", nil, ErrInvalidExpiry
	}

	key := &storage.APIKey{
		ID:        uuid.NewString(),
		OwnerID:   p.OwnerID,
		Label:     p.Label,
		Scopes:    scopes,
		IsActive:  true,
		ExpiresAt: p.ExpiresAt,
		CreatedAt: now,
	}

	for attempt := 1; attempt <= m.cfg.MaxAttempts; attempt++ {
		raw, err := secret.New(KeyPrefix, m.cfg.SecretBytes)
		if err != nil {
			return "", nil, fmt.Errorf("apikey: generate secret: %w", err)
		}
		key.KeyHash = secret.Hash(raw)
		key.KeyPrefix = secret.DisplayPrefix(raw, DisplayPrefixLength)

		err = m.store.InsertAPIKey(ctx, key)
		if err == nil {
			return raw, key, nil
		}
		if !errors.Is(err, storage.ErrConflict) {
			return "", nil, err
		}
		m.logger.Warn("api key hash collision, regenerating", zap.Int("attempt", attempt))
	}
	return "", nil, ErrCollision
}

// Authenticate resolves a presented raw key to its record.
func (m *Manager) Authenticate(ctx context.Context, raw string) (*storage.APIKey, error) {
	if err := secret.Validate(KeyPrefix, raw); err != nil {
		return nil, ErrInvalid
	}
	key, err := m.store.GetAPIKeyByHash(ctx, secret.Hash(raw))
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, ErrInvalid
		}
		return nil, err
	}
	if key.IsDeleted {
		return nil, ErrInvalid
	}
	if !key.IsActive {
		return nil, ErrInactive
	}
	now := m.clock.Now()
	if key.ExpiresAt != nil && !now.Before(*key.ExpiresAt) {
		return nil, ErrExpired
	}

	if err := m.store.TouchAPIKey(ctx, key.ID, now); err != nil {
		m.logger.Warn("api key last_used_at update failed", zap.String("key_id", key.ID), zap.Error(err))
	} else {
		key.LastUsedAt = &now
	}
	return key, nil
}

// Authorize authenticates raw and checks that it grants scope.
func (m *Manager) Authorize(ctx context.Context, raw, scope string) (*storage.APIKey, error) {
	key, err := m.Authenticate(ctx, raw)
	if err != nil {
		return nil, err
	}
	if !HasScope(key, scope) {
		return key, ErrScopeDenied
	}
	return key, nil
}

// Rotate replaces the secret of keyID. Id, owner, label and scopes carry
// over; the previous secret stops working immediately.
func (m *Manager) Rotate(ctx context.Context, keyID string) (string, *storage.APIKey, error) {
	for attempt := 1; attempt <= m.cfg.MaxAttempts; attempt++ {
		raw, err := secret.New(KeyPrefix, m.cfg.SecretBytes)
		if err != nil {
			return "", nil, fmt.Errorf("apikey: generate secret: %w", err)
		}

		var rotated *storage.APIKey
		err = m.store.Tx(ctx, func(q storage.Queries) error {
			current, err := q.GetAPIKeyByID(ctx, keyID)
			if err != nil {
				return err
			}
			if current.IsDeleted {
				return ErrNotFound
			}
			now := m.clock.Now()
			changed, err := q.ReplaceAPIKeySecret(ctx, keyID, secret.Hash(raw), secret.DisplayPrefix(raw, DisplayPrefixLength), now)
			if err != nil {
				return err
			}
			if !changed {
				return ErrNotFound
			}
			current.KeyHash = secret.Hash(raw)
			current.KeyPrefix = secret.DisplayPrefix(raw, DisplayPrefixLength)
			current.RotatedAt = &now
			rotated = current
			return nil
		})
		switch {
		case err == nil:
			return raw, rotated, nil
		case errors.Is(err, storage.ErrNotFound):
			return "", nil, ErrNotFound
		case errors.Is(err, storage.ErrConflict):
			m.logger.Warn("api key hash collision on rotate, regenerating", zap.Int("attempt", attempt))
			continue
		default:
			return "", nil, err
		}
	}
	return "", nil, ErrCollision
}

// Revoke soft-deletes keyID. Revoking an already deleted key is a no-op that
// keeps the original deletion record.
func (m *Manager) Revoke(ctx context.Context, keyID, deletedBy, reason string) error {
	changed, err := m.store.SoftDeleteAPIKey(ctx, keyID, deletedBy, reason, m.clock.Now())
	if err != nil {
		return err
	}
	if changed {
		return nil
	}
	if _, err := m.store.GetAPIKeyByID(ctx, keyID); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return ErrNotFound
		}
		return err
	}
	return nil
}

// RevokeAllForOwner soft-deletes every live key of ownerID.
func (m *Manager) RevokeAllForOwner(ctx context.Context, ownerID, deletedBy, reason string) (int64, error) {
	if ownerID == "" {
		return 0, errors.New("apikey: owner id is required")
	}
	return m.store.SoftDeleteOwnerAPIKeys(ctx, ownerID, deletedBy, reason, m.clock.Now())
}

// SetActive enables or disables a non-deleted key without deleting it.
func (m *Manager) SetActive(ctx context.Context, keyID string, active bool) error {
	matched, err := m.store.SetAPIKeyActive(ctx, keyID, active)
	if err != nil {
		return err
	}
	if !matched {
		return ErrNotFound
	}
	return nil
}

// List returns the keys of ownerID, newest first. An empty ownerID lists
// system keys.
func (m *Manager) List(ctx context.Context, ownerID string, includeDeleted bool) ([]storage.APIKey, error) {
	return m.store.ListAPIKeys(ctx, ownerID, includeDeleted)
}

// Get returns the record for keyID, deleted or not.
func (m *Manager) Get(ctx context.Context, keyID string) (*storage.APIKey, error) {
	key, err := m.store.GetAPIKeyByID(ctx, keyID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return key, nil
}

func validateLabel(label string) error {
	n := utf8.RuneCountInString(label)
	if n == 0 || n > MaxLabelLength || !utf8.ValidString(label) {
		return ErrInvalidLabel
	}
	return nil
}
