// Package password implements the credential hasher: salted, memory-hard
// Argon2id digests with constant-time verification.
//
// # Output format
//
// Hashes are encoded in PHC string format:
//
//	$argon2id$v=19$m=<memory>,t=<time>,p=<threads>$<salt>$<hash>
//
// The version and cost parameters travel with every digest, so [Argon2.NeedsUpgrade]
// can tell the caller to re-hash after the next successful login.
//
// # Architecture boundaries
//
// This package owns hashing and verification only. Account lookup and the
// decision to upgrade a stored digest belong to the Engine.
//
// # What this package must NOT do
//
//   - Store or retrieve passwords. Callers supply plaintext and receive hashes.
//   - Return distinguishable errors from Verify for malformed versus mismatched digests.
//   - Import any other authcore package.
package password
