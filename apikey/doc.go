// Package apikey manages long-lived credentials for machine clients.
//
// A key is "ak_" followed by 32 random bytes in unpadded base64url. The raw
// key is returned once, on [Manager.Create] or [Manager.Rotate]; storage only
// ever sees its SHA-256 and a short display prefix.
//
// Scopes are plain strings compared by set membership. The single wildcard
// [WildcardScope] grants every scope. There is no hierarchy.
//
// Revocation is a soft delete that records who removed the key and why.
package apikey
