// Package storage defines the persisted records of the credential subsystem
// and the query surface the components consume.
//
// # Architecture boundaries
//
// Components (refresh, apikey, deletion) depend on [Store] only. Transactional
// atomicity is expressed through [Store.Tx]; every read-check-mutate sequence
// on a single record runs inside one transaction and uses compare-and-swap
// updates so concurrent callers cannot both succeed.
//
// # What this package must NOT do
//
//   - Encode domain policy (expiry, revocation rules, state transitions).
//   - Hold raw secrets. Only lookup hashes are persisted.
//   - Import any component package.
package storage
