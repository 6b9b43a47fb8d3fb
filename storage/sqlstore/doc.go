// Package sqlstore implements storage.Store on database/sql through sqlx,
// for sqlite (modernc.org/sqlite) and postgres (lib/pq).
//
// Statements are written once with ? placeholders and rebound per driver.
// Timestamps are stored as unix milliseconds and booleans are always passed
// as parameters, so the same statements run on both engines. Bundled
// migrations are applied by [Open].
package sqlstore
