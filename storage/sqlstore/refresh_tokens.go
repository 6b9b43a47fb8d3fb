package sqlstore

import (
	"context"
	"database/sql"
	"time"

	"github.com/MrEthical07/authcore/storage"
)

const refreshColumns = `id, user_id, token_hash, family_id, parent_id, expires_at,
is_revoked, revoked_at, created_at, device_info, ip_address`

type refreshRow struct {
	ID         string         `db:"id"`
	UserID     string         `db:"user_id"`
	TokenHash  string         `db:"token_hash"`
	FamilyID   string         `db:"family_id"`
	ParentID   sql.NullString `db:"parent_id"`
	ExpiresAt  int64          `db:"expires_at"`
	IsRevoked  bool           `db:"is_revoked"`
	RevokedAt  sql.NullInt64  `db:"revoked_at"`
	CreatedAt  int64          `db:"created_at"`
	DeviceInfo string         `db:"device_info"`
	IPAddress  string         `db:"ip_address"`
}

func (r refreshRow) toRefreshToken() *storage.RefreshToken {
	return &storage.RefreshToken{
		ID:         r.ID,
		UserID:     r.UserID,
		TokenHash:  r.TokenHash,
		FamilyID:   r.FamilyID,
		ParentID:   r.ParentID.String,
		ExpiresAt:  fromMillis(r.ExpiresAt),
		IsRevoked:  r.IsRevoked,
		RevokedAt:  fromNullMillis(r.RevokedAt),
		CreatedAt:  fromMillis(r.CreatedAt),
		DeviceInfo: r.DeviceInfo,
		IPAddress:  r.IPAddress,
	}
}

func (q *queries) InsertRefreshToken(ctx context.Context, t *storage.RefreshToken) (err error) {
	ctx, done, cancel := q.begin(ctx, "refresh_tokens.insert", true)
	defer cancel()
	defer func() { done(err) }()

	_, err = q.exec(ctx, `
INSERT INTO refresh_tokens (`+refreshColumns+`)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		t.ID, t.UserID, t.TokenHash, t.FamilyID, nullString(t.ParentID),
		toMillis(t.ExpiresAt), t.IsRevoked, nullMillis(t.RevokedAt), toMillis(t.CreatedAt),
		t.DeviceInfo, t.IPAddress,
	)
	return classify(err)
}

func (q *queries) GetRefreshTokenByHash(ctx context.Context, hash string) (t *storage.RefreshToken, err error) {
	ctx, done, cancel := q.begin(ctx, "refresh_tokens.get_by_hash", false)
	defer cancel()
	defer func() { done(err) }()

	var row refreshRow
	if err = q.get(ctx, &row, "SELECT "+refreshColumns+" FROM refresh_tokens WHERE token_hash = ?", hash); err != nil {
		return nil, classify(err)
	}
	return row.toRefreshToken(), nil
}

func (q *queries) RevokeRefreshToken(ctx context.Context, id string, now time.Time) (changed bool, err error) {
	ctx, done, cancel := q.begin(ctx, "refresh_tokens.revoke", true)
	defer cancel()
	defer func() { done(err) }()

	n, err := q.exec(ctx,
		"UPDATE refresh_tokens SET is_revoked = ?, revoked_at = ? WHERE id = ? AND is_revoked = ?",
		true, toMillis(now), id, false,
	)
	if err != nil {
		return false, classify(err)
	}
	return n == 1, nil
}

func (q *queries) RevokeRefreshTokenFamily(ctx context.Context, familyID string, now time.Time) (n int64, err error) {
	ctx, done, cancel := q.begin(ctx, "refresh_tokens.revoke_family", true)
	defer cancel()
	defer func() { done(err) }()

	n, err = q.exec(ctx,
		"UPDATE refresh_tokens SET is_revoked = ?, revoked_at = ? WHERE family_id = ? AND is_revoked = ?",
		true, toMillis(now), familyID, false,
	)
	return n, classify(err)
}

func (q *queries) RevokeUserRefreshTokens(ctx context.Context, userID string, now time.Time) (n int64, err error) {
	ctx, done, cancel := q.begin(ctx, "refresh_tokens.revoke_user", true)
	defer cancel()
	defer func() { done(err) }()

	n, err = q.exec(ctx, `
UPDATE refresh_tokens SET is_revoked = ?, revoked_at = ?
WHERE user_id = ? AND is_revoked = ? AND expires_at > ?`,
		true, toMillis(now), userID, false, toMillis(now),
	)
	return n, classify(err)
}

func (q *queries) ListLiveRefreshTokens(ctx context.Context, userID string, now time.Time) (tokens []storage.RefreshToken, err error) {
	ctx, done, cancel := q.begin(ctx, "refresh_tokens.list_live", false)
	defer cancel()
	defer func() { done(err) }()

	var rows []refreshRow
	err = q.selectRows(ctx, &rows, `
SELECT `+refreshColumns+` FROM refresh_tokens
WHERE user_id = ? AND is_revoked = ? AND expires_at > ?
ORDER BY created_at DESC`, userID, false, toMillis(now))
	if err != nil {
		return nil, classify(err)
	}

	tokens = make([]storage.RefreshToken, 0, len(rows))
	for _, row := range rows {
		tokens = append(tokens, *row.toRefreshToken())
	}
	return tokens, nil
}
