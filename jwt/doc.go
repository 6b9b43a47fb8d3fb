// Package jwt is the access-token codec: it signs short-lived, stateless
// tokens and verifies them with strict validation (algorithm pinning, issuer,
// audience, leeway and required expiry).
//
// Verification failures are classified into [ErrMalformed],
// [ErrSignatureMismatch] and [ErrExpired] so callers can decide whether a
// refresh flow is worth attempting. Whether the subject still maps to a live
// account is the caller's job.
package jwt
