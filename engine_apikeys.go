package authcore

import (
	"context"
	"errors"

	"github.com/MrEthical07/authcore/apikey"
	"github.com/MrEthical07/authcore/storage"
)

// Key management methods take the caller's user id as ownerID and only
// touch keys owned by it. An empty ownerID manages system keys. Keys owned
// by someone else are reported as ErrNotFound.

// CreateAPIKey issues a key for ownerID. The raw key is returned once.
func (e *Engine) CreateAPIKey(ctx context.Context, ownerID string, req CreateAPIKeyRequest) (*IssuedAPIKey, error) {
	if e == nil {
		return nil, ErrEngineNotReady
	}
	if ownerID != "" {
		if err := e.requireLiveUser(ctx, ownerID); err != nil {
			return nil, err
		}
	}
	raw, rec, err := e.apiKeys.Create(ctx, apikey.CreateParams{
		OwnerID:   ownerID,
		Label:     req.Label,
		Scopes:    req.Scopes,
		ExpiresAt: req.ExpiresAt,
	})
	if err != nil {
		return nil, e.fail(apiKeyError(err))
	}
	e.metricInc(MetricAPIKeyCreated)
	e.emitAudit(ctx, auditEventAPIKeyCreated, true, ownerID, "", nil, func() map[string]string {
		return map[string]string{"key_id": rec.ID, "prefix": rec.KeyPrefix}
	})
	return &IssuedAPIKey{Key: raw, APIKey: apiKeyFromRecord(rec)}, nil
}

// RotateAPIKey replaces the secret of keyID, keeping its id, label and scopes.
func (e *Engine) RotateAPIKey(ctx context.Context, ownerID, keyID string) (*IssuedAPIKey, error) {
	if e == nil {
		return nil, ErrEngineNotReady
	}
	if _, err := e.ownedKey(ctx, ownerID, keyID); err != nil {
		return nil, err
	}
	raw, rec, err := e.apiKeys.Rotate(ctx, keyID)
	if err != nil {
		return nil, e.fail(apiKeyError(err))
	}
	e.metricInc(MetricAPIKeyRotated)
	e.emitAudit(ctx, auditEventAPIKeyRotated, true, ownerID, "", nil, func() map[string]string {
		return map[string]string{"key_id": rec.ID, "prefix": rec.KeyPrefix}
	})
	return &IssuedAPIKey{Key: raw, APIKey: apiKeyFromRecord(rec)}, nil
}

// RevokeAPIKey soft-deletes keyID. Revoking an already revoked key succeeds
// and keeps the original deletion details.
func (e *Engine) RevokeAPIKey(ctx context.Context, ownerID, keyID, reason string) error {
	if e == nil {
		return ErrEngineNotReady
	}
	if _, err := e.ownedKey(ctx, ownerID, keyID); err != nil {
		return err
	}
	if err := e.apiKeys.Revoke(ctx, keyID, actorFor(ownerID), reason); err != nil {
		return e.fail(apiKeyError(err))
	}
	e.metricInc(MetricAPIKeyRevoked)
	e.emitAudit(ctx, auditEventAPIKeyRevoked, true, ownerID, "", nil, func() map[string]string {
		return map[string]string{"key_id": keyID}
	})
	return nil
}

// SetAPIKeyActive switches keyID on or off without deleting it.
func (e *Engine) SetAPIKeyActive(ctx context.Context, ownerID, keyID string, active bool) error {
	if e == nil {
		return ErrEngineNotReady
	}
	if _, err := e.ownedKey(ctx, ownerID, keyID); err != nil {
		return err
	}
	if err := e.apiKeys.SetActive(ctx, keyID, active); err != nil {
		return e.fail(apiKeyError(err))
	}
	e.emitAudit(ctx, auditEventAPIKeyStatusChange, true, ownerID, "", nil, func() map[string]string {
		if active {
			return map[string]string{"key_id": keyID, "active": "true"}
		}
		return map[string]string{"key_id": keyID, "active": "false"}
	})
	return nil
}

// ListAPIKeys returns the keys of ownerID, newest first.
func (e *Engine) ListAPIKeys(ctx context.Context, ownerID string, includeDeleted bool) ([]APIKey, error) {
	if e == nil {
		return nil, ErrEngineNotReady
	}
	keys, err := e.apiKeys.List(ctx, ownerID, includeDeleted)
	if err != nil {
		return nil, e.fail(apiKeyError(err))
	}
	out := make([]APIKey, 0, len(keys))
	for i := range keys {
		out = append(out, apiKeyFromRecord(&keys[i]))
	}
	return out, nil
}

// AuthenticateAPIKey resolves a raw key and, when scope is not empty,
// requires the key to grant it. Unknown and revoked keys yield
// ErrUnauthorized, a missing scope yields ErrForbidden.
func (e *Engine) AuthenticateAPIKey(ctx context.Context, raw, scope string) (*APIKey, error) {
	if e == nil {
		return nil, ErrEngineNotReady
	}
	var (
		rec *storage.APIKey
		err error
	)
	if scope == "" {
		rec, err = e.apiKeys.Authenticate(ctx, raw)
	} else {
		rec, err = e.apiKeys.Authorize(ctx, raw, scope)
	}
	if err != nil {
		err = e.fail(apiKeyError(err))
		e.metricInc(MetricAPIKeyAuthFailure)
		var ownerID string
		if rec != nil {
			ownerID = rec.OwnerID
		}
		e.emitAudit(ctx, auditEventAPIKeyAuthFailure, false, ownerID, "", err, func() map[string]string {
			if scope == "" {
				return nil
			}
			return map[string]string{"scope": scope}
		})
		return nil, err
	}
	e.metricInc(MetricAPIKeyAuthSuccess)
	key := apiKeyFromRecord(rec)
	return &key, nil
}

func (e *Engine) ownedKey(ctx context.Context, ownerID, keyID string) (*storage.APIKey, error) {
	rec, err := e.apiKeys.Get(ctx, keyID)
	if err != nil {
		if errors.Is(err, apikey.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, e.fail(apiKeyError(err))
	}
	if rec.OwnerID != ownerID {
		return nil, ErrNotFound
	}
	return rec, nil
}

func actorFor(ownerID string) string {
	if ownerID == "" {
		return "system"
	}
	return "user:" + ownerID
}
