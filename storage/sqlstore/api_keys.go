package sqlstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/MrEthical07/authcore/storage"
)

const apiKeyColumns = `id, owner_id, key_hash, key_prefix, label, scopes, is_active, expires_at,
created_at, rotated_at, last_used_at, is_deleted, deleted_at, deleted_by, deletion_reason`

type apiKeyRow struct {
	ID             string         `db:"id"`
	OwnerID        sql.NullString `db:"owner_id"`
	KeyHash        string         `db:"key_hash"`
	KeyPrefix      string         `db:"key_prefix"`
	Label          string         `db:"label"`
	Scopes         string         `db:"scopes"`
	IsActive       bool           `db:"is_active"`
	ExpiresAt      sql.NullInt64  `db:"expires_at"`
	CreatedAt      int64          `db:"created_at"`
	RotatedAt      sql.NullInt64  `db:"rotated_at"`
	LastUsedAt     sql.NullInt64  `db:"last_used_at"`
	IsDeleted      bool           `db:"is_deleted"`
	DeletedAt      sql.NullInt64  `db:"deleted_at"`
	DeletedBy      sql.NullString `db:"deleted_by"`
	DeletionReason sql.NullString `db:"deletion_reason"`
}

func (r apiKeyRow) toAPIKey() (*storage.APIKey, error) {
	var scopes []string
	if err := json.Unmarshal([]byte(r.Scopes), &scopes); err != nil {
		return nil, fmt.Errorf("decode scopes for key %s: %w", r.ID, err)
	}
	return &storage.APIKey{
		ID:             r.ID,
		OwnerID:        r.OwnerID.String,
		KeyHash:        r.KeyHash,
		KeyPrefix:      r.KeyPrefix,
		Label:          r.Label,
		Scopes:         scopes,
		IsActive:       r.IsActive,
		ExpiresAt:      fromNullMillis(r.ExpiresAt),
		CreatedAt:      fromMillis(r.CreatedAt),
		RotatedAt:      fromNullMillis(r.RotatedAt),
		LastUsedAt:     fromNullMillis(r.LastUsedAt),
		IsDeleted:      r.IsDeleted,
		DeletedAt:      fromNullMillis(r.DeletedAt),
		DeletedBy:      r.DeletedBy.String,
		DeletionReason: r.DeletionReason.String,
	}, nil
}

func (q *queries) InsertAPIKey(ctx context.Context, k *storage.APIKey) (err error) {
	ctx, done, cancel := q.begin(ctx, "api_keys.insert", true)
	defer cancel()
	defer func() { done(err) }()

	scopes := k.Scopes
	if scopes == nil {
		scopes = []string{}
	}
	encoded, err := json.Marshal(scopes)
	if err != nil {
		return err
	}

	_, err = q.exec(ctx, `
INSERT INTO api_keys (`+apiKeyColumns+`)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		k.ID, nullString(k.OwnerID), k.KeyHash, k.KeyPrefix, k.Label, string(encoded),
		k.IsActive, nullMillis(k.ExpiresAt), toMillis(k.CreatedAt),
		nullMillis(k.RotatedAt), nullMillis(k.LastUsedAt),
		k.IsDeleted, nullMillis(k.DeletedAt), nullString(k.DeletedBy), nullString(k.DeletionReason),
	)
	return classify(err)
}

func (q *queries) getAPIKey(ctx context.Context, op, where string, args ...any) (k *storage.APIKey, err error) {
	ctx, done, cancel := q.begin(ctx, op, false)
	defer cancel()
	defer func() { done(err) }()

	var row apiKeyRow
	if err = q.get(ctx, &row, "SELECT "+apiKeyColumns+" FROM api_keys WHERE "+where, args...); err != nil {
		return nil, classify(err)
	}
	return row.toAPIKey()
}

func (q *queries) GetAPIKeyByHash(ctx context.Context, hash string) (*storage.APIKey, error) {
	return q.getAPIKey(ctx, "api_keys.get_by_hash", "key_hash = ?", hash)
}

func (q *queries) GetAPIKeyByID(ctx context.Context, id string) (*storage.APIKey, error) {
	return q.getAPIKey(ctx, "api_keys.get_by_id", "id = ?", id)
}

func (q *queries) ReplaceAPIKeySecret(ctx context.Context, id, hash, prefix string, now time.Time) (changed bool, err error) {
	ctx, done, cancel := q.begin(ctx, "api_keys.replace_secret", true)
	defer cancel()
	defer func() { done(err) }()

	n, err := q.exec(ctx,
		"UPDATE api_keys SET key_hash = ?, key_prefix = ?, rotated_at = ? WHERE id = ? AND is_deleted = ?",
		hash, prefix, toMillis(now), id, false,
	)
	if err != nil {
		return false, classify(err)
	}
	return n == 1, nil
}

func (q *queries) SoftDeleteAPIKey(ctx context.Context, id, deletedBy, reason string, now time.Time) (changed bool, err error) {
	ctx, done, cancel := q.begin(ctx, "api_keys.soft_delete", true)
	defer cancel()
	defer func() { done(err) }()

	n, err := q.exec(ctx, `
UPDATE api_keys SET is_deleted = ?, is_active = ?, deleted_at = ?, deleted_by = ?, deletion_reason = ?
WHERE id = ? AND is_deleted = ?`,
		true, false, toMillis(now), nullString(deletedBy), nullString(reason), id, false,
	)
	if err != nil {
		return false, classify(err)
	}
	return n == 1, nil
}

func (q *queries) SetAPIKeyActive(ctx context.Context, id string, active bool) (matched bool, err error) {
	ctx, done, cancel := q.begin(ctx, "api_keys.set_active", true)
	defer cancel()
	defer func() { done(err) }()

	n, err := q.exec(ctx, "UPDATE api_keys SET is_active = ? WHERE id = ? AND is_deleted = ?", active, id, false)
	if err != nil {
		return false, classify(err)
	}
	return n == 1, nil
}

func (q *queries) SoftDeleteOwnerAPIKeys(ctx context.Context, ownerID, deletedBy, reason string, now time.Time) (n int64, err error) {
	ctx, done, cancel := q.begin(ctx, "api_keys.soft_delete_owner", true)
	defer cancel()
	defer func() { done(err) }()

	n, err = q.exec(ctx, `
UPDATE api_keys SET is_deleted = ?, is_active = ?, deleted_at = ?, deleted_by = ?, deletion_reason = ?
WHERE owner_id = ? AND is_deleted = ?`,
		true, false, toMillis(now), nullString(deletedBy), nullString(reason), ownerID, false,
	)
	return n, classify(err)
}

func (q *queries) ListAPIKeys(ctx context.Context, ownerID string, includeDeleted bool) (keys []storage.APIKey, err error) {
	ctx, done, cancel := q.begin(ctx, "api_keys.list", false)
	defer cancel()
	defer func() { done(err) }()

	query := "SELECT " + apiKeyColumns + " FROM api_keys WHERE "
	var args []any
	if ownerID == "" {
		query += "owner_id IS NULL"
	} else {
		query += "owner_id = ?"
		args = append(args, ownerID)
	}
	if !includeDeleted {
		query += " AND is_deleted = ?"
		args = append(args, false)
	}
	query += " ORDER BY created_at DESC, id DESC"

	var rows []apiKeyRow
	if err = q.selectRows(ctx, &rows, query, args...); err != nil {
		return nil, classify(err)
	}

	keys = make([]storage.APIKey, 0, len(rows))
	for _, row := range rows {
		k, convErr := row.toAPIKey()
		if convErr != nil {
			return nil, convErr
		}
		keys = append(keys, *k)
	}
	return keys, nil
}

func (q *queries) TouchAPIKey(ctx context.Context, id string, now time.Time) (err error) {
	ctx, done, cancel := q.begin(ctx, "api_keys.touch", true)
	defer cancel()
	defer func() { done(err) }()

	_, err = q.exec(ctx, "UPDATE api_keys SET last_used_at = ? WHERE id = ?", toMillis(now), id)
	return classify(err)
}
