package sqlstore

import (
	"context"
	"database/sql"
	"time"

	"github.com/MrEthical07/authcore/storage"
)

const userColumns = `id, email, username, password_hash, is_active, is_verified, is_deleted,
deletion_requested_at, deletion_confirmed_at, deletion_scheduled_for,
deletion_token_hash, deletion_token_expires, version, created_at, updated_at`

type userRow struct {
	ID                   string         `db:"id"`
	Email                string         `db:"email"`
	Username             string         `db:"username"`
	PasswordHash         string         `db:"password_hash"`
	IsActive             bool           `db:"is_active"`
	IsVerified           bool           `db:"is_verified"`
	IsDeleted            bool           `db:"is_deleted"`
	DeletionRequestedAt  sql.NullInt64  `db:"deletion_requested_at"`
	DeletionConfirmedAt  sql.NullInt64  `db:"deletion_confirmed_at"`
	DeletionScheduledFor sql.NullInt64  `db:"deletion_scheduled_for"`
	DeletionTokenHash    sql.NullString `db:"deletion_token_hash"`
	DeletionTokenExpires sql.NullInt64  `db:"deletion_token_expires"`
	Version              int64          `db:"version"`
	CreatedAt            int64          `db:"created_at"`
	UpdatedAt            int64          `db:"updated_at"`
}

func (r userRow) toUser() *storage.User {
	return &storage.User{
		ID:                   r.ID,
		Email:                r.Email,
		Username:             r.Username,
		PasswordHash:         r.PasswordHash,
		IsActive:             r.IsActive,
		IsVerified:           r.IsVerified,
		IsDeleted:            r.IsDeleted,
		DeletionRequestedAt:  fromNullMillis(r.DeletionRequestedAt),
		DeletionConfirmedAt:  fromNullMillis(r.DeletionConfirmedAt),
		DeletionScheduledFor: fromNullMillis(r.DeletionScheduledFor),
		DeletionTokenHash:    r.DeletionTokenHash.String,
		DeletionTokenExpires: fromNullMillis(r.DeletionTokenExpires),
		Version:              r.Version,
		CreatedAt:            fromMillis(r.CreatedAt),
		UpdatedAt:            fromMillis(r.UpdatedAt),
	}
}

func (q *queries) CreateUser(ctx context.Context, u *storage.User) (err error) {
	ctx, done, cancel := q.begin(ctx, "users.create", true)
	defer cancel()
	defer func() { done(err) }()

	if u.Version == 0 {
		u.Version = 1
	}
	_, err = q.exec(ctx, `
INSERT INTO users (`+userColumns+`)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		u.ID, u.Email, u.Username, u.PasswordHash,
		u.IsActive, u.IsVerified, u.IsDeleted,
		nullMillis(u.DeletionRequestedAt), nullMillis(u.DeletionConfirmedAt), nullMillis(u.DeletionScheduledFor),
		nullString(u.DeletionTokenHash), nullMillis(u.DeletionTokenExpires),
		u.Version, toMillis(u.CreatedAt), toMillis(u.UpdatedAt),
	)
	return classify(err)
}

func (q *queries) getUser(ctx context.Context, op, where string, args ...any) (u *storage.User, err error) {
	ctx, done, cancel := q.begin(ctx, op, false)
	defer cancel()
	defer func() { done(err) }()

	var row userRow
	if err = q.get(ctx, &row, "SELECT "+userColumns+" FROM users WHERE "+where, args...); err != nil {
		return nil, classify(err)
	}
	return row.toUser(), nil
}

func (q *queries) GetUserByID(ctx context.Context, id string) (*storage.User, error) {
	return q.getUser(ctx, "users.get_by_id", "id = ?", id)
}

func (q *queries) GetUserByEmail(ctx context.Context, email string) (*storage.User, error) {
	return q.getUser(ctx, "users.get_by_email", "email = ? AND is_deleted = ?", email, false)
}

func (q *queries) GetUserByUsername(ctx context.Context, username string) (*storage.User, error) {
	return q.getUser(ctx, "users.get_by_username", "username = ? AND is_deleted = ?", username, false)
}

func (q *queries) GetUserByDeletionTokenHash(ctx context.Context, hash string) (*storage.User, error) {
	return q.getUser(ctx, "users.get_by_deletion_token", "deletion_token_hash = ? AND is_deleted = ?", hash, false)
}

func (q *queries) UpdateUser(ctx context.Context, u *storage.User) (err error) {
	ctx, done, cancel := q.begin(ctx, "users.update", true)
	defer cancel()
	defer func() { done(err) }()

	n, err := q.exec(ctx, `
UPDATE users SET
    email = ?, username = ?, password_hash = ?,
    is_active = ?, is_verified = ?, is_deleted = ?,
    deletion_requested_at = ?, deletion_confirmed_at = ?, deletion_scheduled_for = ?,
    deletion_token_hash = ?, deletion_token_expires = ?,
    version = version + 1, updated_at = ?
WHERE id = ? AND version = ?`,
		u.Email, u.Username, u.PasswordHash,
		u.IsActive, u.IsVerified, u.IsDeleted,
		nullMillis(u.DeletionRequestedAt), nullMillis(u.DeletionConfirmedAt), nullMillis(u.DeletionScheduledFor),
		nullString(u.DeletionTokenHash), nullMillis(u.DeletionTokenExpires),
		toMillis(u.UpdatedAt),
		u.ID, u.Version,
	)
	if err != nil {
		return classify(err)
	}
	if n == 0 {
		return storage.ErrStale
	}
	u.Version++
	return nil
}

func (q *queries) ListUsersDueForDeletion(ctx context.Context, now time.Time, after *storage.DueCursor, limit int) (users []storage.User, err error) {
	ctx, done, cancel := q.begin(ctx, "users.list_due_for_deletion", false)
	defer cancel()
	defer func() { done(err) }()

	if limit <= 0 {
		limit = 100
	}
	query := `
SELECT ` + userColumns + ` FROM users
WHERE is_deleted = ? AND deletion_confirmed_at IS NOT NULL AND deletion_scheduled_for <= ?`
	args := []any{false, toMillis(now)}
	if after != nil {
		at := toMillis(after.ScheduledFor)
		query += `
  AND (deletion_scheduled_for > ? OR (deletion_scheduled_for = ? AND id > ?))`
		args = append(args, at, at, after.ID)
	}
	query += `
ORDER BY deletion_scheduled_for ASC, id ASC
LIMIT ?`
	args = append(args, limit)

	var rows []userRow
	err = q.selectRows(ctx, &rows, query, args...)
	if err != nil {
		return nil, classify(err)
	}

	users = make([]storage.User, 0, len(rows))
	for _, row := range rows {
		users = append(users, *row.toUser())
	}
	return users, nil
}
