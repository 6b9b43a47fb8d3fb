// Package refresh issues, rotates and revokes opaque refresh tokens.
//
// # Token format
//
// A refresh token is "rt_" followed by 32 random bytes in unpadded base64url.
// Only the SHA-256 of the token is persisted, so a leaked database cannot be
// replayed against the API.
//
// # Rotation
//
// Every successful [Store.Rotate] revokes the presented token and inserts a
// successor in the same family inside one transaction. The revoke is a
// compare-and-swap on is_revoked, so of any number of concurrent rotations of
// one token at most one succeeds. Presenting an already revoked token returns
// [ErrRevoked] and, with RevokeLineageOnReuse, revokes the whole family.
//
// # What this package must NOT do
//
//   - Issue access tokens or look at user state.
//   - Log or return token hashes.
package refresh
