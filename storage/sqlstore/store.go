package sqlstore

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"net"
	"path/filepath"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	_ "modernc.org/sqlite"

	"github.com/MrEthical07/authcore/storage"
)

const (
	// DriverSQLite selects the pure-Go sqlite driver.
	DriverSQLite = "sqlite"
	// DriverPostgres selects lib/pq.
	DriverPostgres = "postgres"

	// DefaultQueryTimeout bounds every store operation when Config leaves it zero.
	DefaultQueryTimeout = 3 * time.Second
)

func init() {
	sqlx.BindDriver(DriverSQLite, sqlx.QUESTION)
}

// Config selects the driver and tunes the connection pool.
type Config struct {
	Driver       string
	DSN          string
	MaxOpenConns int
	QueryTimeout time.Duration
	Observer     storage.Observer
}

// SQLiteDSN builds a modernc.org/sqlite DSN for a database file with WAL
// journaling, foreign keys and immediate write transactions.
func SQLiteDSN(path string) string {
	return "file:" + filepath.Clean(path) +
		"?_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)&_pragma=synchronous(NORMAL)&_txlock=immediate"
}

// Store implements storage.Store over database/sql through sqlx.
type Store struct {
	db      *sqlx.DB
	timeout time.Duration
	obs     storage.Observer
	q       *queries
}

var _ storage.Store = (*Store)(nil)

// Open connects, pings and applies the bundled migrations for cfg.Driver.
func Open(ctx context.Context, cfg Config) (*Store, error) {
	if strings.TrimSpace(cfg.DSN) == "" {
		return nil, errors.New("sqlstore: dsn is required")
	}
	switch cfg.Driver {
	case DriverSQLite, DriverPostgres:
	default:
		return nil, fmt.Errorf("sqlstore: unsupported driver %q", cfg.Driver)
	}
	if cfg.QueryTimeout <= 0 {
		cfg.QueryTimeout = DefaultQueryTimeout
	}
	if cfg.Observer == nil {
		cfg.Observer = storage.NopObserver{}
	}

	db, err := sqlx.Open(cfg.Driver, cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("open %s db: %w", cfg.Driver, err)
	}

	if cfg.Driver == DriverSQLite {
		// One writer at a time; sqlite would otherwise answer concurrent
		// write transactions with SQLITE_BUSY.
		db.SetMaxOpenConns(1)
	} else {
		if cfg.MaxOpenConns <= 0 {
			cfg.MaxOpenConns = 10
		}
		db.SetMaxOpenConns(cfg.MaxOpenConns)
		db.SetMaxIdleConns(cfg.MaxOpenConns)
		db.SetConnMaxLifetime(30 * time.Minute)
	}

	pingCtx, cancel := context.WithTimeout(ctx, cfg.QueryTimeout)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping %s db: %w", cfg.Driver, err)
	}

	if err := applyMigrations(ctx, db, migrationFS, "migrations/"+cfg.Driver); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("apply migrations: %w", err)
	}

	s := &Store{db: db, timeout: cfg.QueryTimeout, obs: cfg.Observer}
	s.q = &queries{ext: db, timeout: cfg.QueryTimeout, obs: cfg.Observer}
	return s, nil
}

// OpenSQLite opens a sqlite database file at path.
func OpenSQLite(ctx context.Context, path string, obs storage.Observer) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("sqlstore: storage path is required")
	}
	return Open(ctx, Config{Driver: DriverSQLite, DSN: SQLiteDSN(path), Observer: obs})
}

// DB exposes the underlying handle for health checks and tooling.
func (s *Store) DB() *sqlx.DB {
	if s == nil {
		return nil
	}
	return s.db
}

// Tx implements storage.Store. The transaction is detached from ctx
// cancellation and bounded by the store timeout.
func (s *Store) Tx(ctx context.Context, fn func(q storage.Queries) error) (err error) {
	ctx, done := s.obs.Start(ctx, "tx")
	defer func() { done(err) }()

	txCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.timeout)
	defer cancel()

	tx, err := s.db.BeginTxx(txCtx, nil)
	if err != nil {
		return classify(err)
	}

	if err = fn(&queries{ext: tx, timeout: s.timeout, obs: s.obs, inTx: true}); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err = tx.Commit(); err != nil {
		return classify(err)
	}
	return nil
}

// Ping implements storage.Store.
func (s *Store) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	return classify(s.db.PingContext(ctx))
}

// Close implements storage.Store.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// The Queries methods on Store delegate to the non-transactional executor.

func (s *Store) CreateUser(ctx context.Context, u *storage.User) error {
	return s.q.CreateUser(ctx, u)
}

func (s *Store) GetUserByID(ctx context.Context, id string) (*storage.User, error) {
	return s.q.GetUserByID(ctx, id)
}

func (s *Store) GetUserByEmail(ctx context.Context, email string) (*storage.User, error) {
	return s.q.GetUserByEmail(ctx, email)
}

func (s *Store) GetUserByUsername(ctx context.Context, username string) (*storage.User, error) {
	return s.q.GetUserByUsername(ctx, username)
}

func (s *Store) GetUserByDeletionTokenHash(ctx context.Context, hash string) (*storage.User, error) {
	return s.q.GetUserByDeletionTokenHash(ctx, hash)
}

func (s *Store) UpdateUser(ctx context.Context, u *storage.User) error {
	return s.q.UpdateUser(ctx, u)
}

func (s *Store) ListUsersDueForDeletion(ctx context.Context, now time.Time, after *storage.DueCursor, limit int) ([]storage.User, error) {
	return s.q.ListUsersDueForDeletion(ctx, now, after, limit)
}

func (s *Store) InsertRefreshToken(ctx context.Context, t *storage.RefreshToken) error {
	return s.q.InsertRefreshToken(ctx, t)
}

func (s *Store) GetRefreshTokenByHash(ctx context.Context, hash string) (*storage.RefreshToken, error) {
	return s.q.GetRefreshTokenByHash(ctx, hash)
}

func (s *Store) RevokeRefreshToken(ctx context.Context, id string, now time.Time) (bool, error) {
	return s.q.RevokeRefreshToken(ctx, id, now)
}

func (s *Store) RevokeRefreshTokenFamily(ctx context.Context, familyID string, now time.Time) (int64, error) {
	return s.q.RevokeRefreshTokenFamily(ctx, familyID, now)
}

func (s *Store) RevokeUserRefreshTokens(ctx context.Context, userID string, now time.Time) (int64, error) {
	return s.q.RevokeUserRefreshTokens(ctx, userID, now)
}

func (s *Store) ListLiveRefreshTokens(ctx context.Context, userID string, now time.Time) ([]storage.RefreshToken, error) {
	return s.q.ListLiveRefreshTokens(ctx, userID, now)
}

func (s *Store) InsertAPIKey(ctx context.Context, k *storage.APIKey) error {
	return s.q.InsertAPIKey(ctx, k)
}

func (s *Store) GetAPIKeyByHash(ctx context.Context, hash string) (*storage.APIKey, error) {
	return s.q.GetAPIKeyByHash(ctx, hash)
}

func (s *Store) GetAPIKeyByID(ctx context.Context, id string) (*storage.APIKey, error) {
	return s.q.GetAPIKeyByID(ctx, id)
}

func (s *Store) ReplaceAPIKeySecret(ctx context.Context, id, hash, prefix string, now time.Time) (bool, error) {
	return s.q.ReplaceAPIKeySecret(ctx, id, hash, prefix, now)
}

func (s *Store) SoftDeleteAPIKey(ctx context.Context, id, deletedBy, reason string, now time.Time) (bool, error) {
	return s.q.SoftDeleteAPIKey(ctx, id, deletedBy, reason, now)
}

func (s *Store) SetAPIKeyActive(ctx context.Context, id string, active bool) (bool, error) {
	return s.q.SetAPIKeyActive(ctx, id, active)
}

func (s *Store) SoftDeleteOwnerAPIKeys(ctx context.Context, ownerID, deletedBy, reason string, now time.Time) (int64, error) {
	return s.q.SoftDeleteOwnerAPIKeys(ctx, ownerID, deletedBy, reason, now)
}

func (s *Store) ListAPIKeys(ctx context.Context, ownerID string, includeDeleted bool) ([]storage.APIKey, error) {
	return s.q.ListAPIKeys(ctx, ownerID, includeDeleted)
}

func (s *Store) TouchAPIKey(ctx context.Context, id string, now time.Time) error {
	return s.q.TouchAPIKey(ctx, id, now)
}

// queries runs statements against either the pool or an open transaction.
// Every statement gets its own timeout. Writes and statements inside a
// transaction are detached from caller cancellation.
type queries struct {
	ext     sqlx.ExtContext
	timeout time.Duration
	obs     storage.Observer
	inTx    bool
}

func (q *queries) begin(ctx context.Context, op string, write bool) (context.Context, func(error), context.CancelFunc) {
	ctx, done := q.obs.Start(ctx, op)
	if write || q.inTx {
		ctx = context.WithoutCancel(ctx)
	}
	ctx, cancel := context.WithTimeout(ctx, q.timeout)
	return ctx, done, cancel
}

func (q *queries) get(ctx context.Context, dest any, query string, args ...any) error {
	return sqlx.GetContext(ctx, q.ext, dest, q.ext.Rebind(query), args...)
}

func (q *queries) selectRows(ctx context.Context, dest any, query string, args ...any) error {
	return sqlx.SelectContext(ctx, q.ext, dest, q.ext.Rebind(query), args...)
}

func (q *queries) exec(ctx context.Context, query string, args ...any) (int64, error) {
	res, err := q.ext.ExecContext(ctx, q.ext.Rebind(query), args...)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// classify maps driver errors onto the storage error kinds.
func classify(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return storage.ErrNotFound
	}

	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch pqErr.Code {
		case "23505":
			return fmt.Errorf("%w: %s", storage.ErrConflict, pqErr.Constraint)
		case "57014", "57P01", "08000", "08003", "08006":
			return fmt.Errorf("%w: %v", storage.ErrUnavailable, err)
		}
		return err
	}

	msg := err.Error()
	if strings.Contains(msg, "UNIQUE constraint failed") {
		return fmt.Errorf("%w: %s", storage.ErrConflict, msg)
	}
	if strings.Contains(msg, "database is locked") || strings.Contains(msg, "SQLITE_BUSY") {
		return fmt.Errorf("%w: %v", storage.ErrUnavailable, err)
	}

	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) ||
		errors.Is(err, context.Canceled) ||
		errors.Is(err, driver.ErrBadConn) ||
		errors.Is(err, sql.ErrConnDone) ||
		errors.As(err, &netErr) {
		return fmt.Errorf("%w: %v", storage.ErrUnavailable, err)
	}

	return err
}

func toMillis(value time.Time) int64 {
	return value.UTC().UnixMilli()
}

func fromMillis(value int64) time.Time {
	return time.UnixMilli(value).UTC()
}

func nullMillis(value *time.Time) sql.NullInt64 {
	if value == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: toMillis(*value), Valid: true}
}

func fromNullMillis(value sql.NullInt64) *time.Time {
	if !value.Valid {
		return nil
	}
	t := fromMillis(value.Int64)
	return &t
}

func nullString(value string) sql.NullString {
	if value == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: value, Valid: true}
}
