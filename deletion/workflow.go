package deletion

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"github.com/MrEthical07/authcore/internal/secret"
	"github.com/MrEthical07/authcore/storage"
)

const (
	// TokenPrefix starts every deletion confirmation token.
	TokenPrefix = "del_"
	// SystemActor is recorded as deleted_by on API keys removed by a sweep.
	SystemActor = "system:account-deletion"
	// DefaultTokenTTL is how long a confirmation token stays valid.
	DefaultTokenTTL = 24 * time.Hour
	// DefaultGracePeriod separates confirmation from execution.
	DefaultGracePeriod = 7 * 24 * time.Hour
	// DefaultBatchSize is the number of due users loaded per sweep query.
	DefaultBatchSize = 100
)

var (
	// ErrInvalidToken is returned when no pending request matches the token.
	ErrInvalidToken = errors.New("deletion: invalid token")
	// ErrExpiredToken is returned when the matching request's token expired.
	ErrExpiredToken = errors.New("deletion: token expired")
	// ErrInvalidState is returned when the account is not in a state that
	// allows the transition.
	ErrInvalidState = errors.New("deletion: invalid state")
	// ErrUserNotFound is returned for unknown user ids.
	ErrUserNotFound = errors.New("deletion: user not found")
)

// State is the deletion state of an account.
type State string

const (
	StateActive    State = "active"
	StateRequested State = "deletion_requested"
	StateConfirmed State = "deletion_confirmed"
	StateDeleted   State = "deleted"
)

// StateOf derives the state of u from its deletion columns.
func StateOf(u *storage.User) State {
	switch {
	case u.IsDeleted:
		return StateDeleted
	case u.DeletionConfirmedAt != nil:
		return StateConfirmed
	case u.DeletionRequestedAt != nil:
		return StateRequested
	default:
		return StateActive
	}
}

// Config tunes the workflow.
type Config struct {
	TokenTTL    time.Duration
	GracePeriod time.Duration
	BatchSize   int
	Logger      *zap.Logger
}

// Ticket is handed to the user after a request. Token is shown once.
type Ticket struct {
	Token     string
	ExpiresAt time.Time
}

// Status describes where an account is in the workflow.
type Status struct {
	State        State
	RequestedAt  *time.Time
	ConfirmedAt  *time.Time
	ScheduledFor *time.Time
}

// SweepResult summarises one ExecuteScheduled run.
type SweepResult struct {
	Deleted []string
	Failed  map[string]error
}

// Workflow drives deletion state transitions over a storage.Store.
type Workflow struct {
	store  storage.Store
	clock  clockwork.Clock
	cfg    Config
	logger *zap.Logger
}

// NewWorkflow fills defaults and returns a Workflow.
func NewWorkflow(st storage.Store, clock clockwork.Clock, cfg Config) (*Workflow, error) {
	if st == nil {
		return nil, errors.New("deletion: store is required")
	}
	if cfg.TokenTTL < 0 || cfg.GracePeriod < 0 {
		return nil, errors.New("deletion: durations must not be negative")
	}
	if cfg.TokenTTL == 0 {
		cfg.TokenTTL = DefaultTokenTTL
	}
	if cfg.GracePeriod == 0 {
		cfg.GracePeriod = DefaultGracePeriod
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultBatchSize
	}
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Workflow{store: st, clock: clock, cfg: cfg, logger: logger}, nil
}

// Request starts (or restarts) deletion of userID. Re-requesting while a
// request is pending replaces the previous token.
func (w *Workflow) Request(ctx context.Context, userID string) (Ticket, error) {
	token, err := secret.New(TokenPrefix, secret.DefaultSize)
	if err != nil {
		return Ticket{}, fmt.Errorf("deletion: generate token: %w", err)
	}

	var ticket Ticket
	err = w.store.Tx(ctx, func(q storage.Queries) error {
		u, err := w.loadUser(ctx, q, userID)
		if err != nil {
			return err
		}
		switch StateOf(u) {
		case StateActive, StateRequested:
		default:
			return ErrInvalidState
		}

		now := w.clock.Now()
		expires := now.Add(w.cfg.TokenTTL)
		u.DeletionRequestedAt = &now
		u.DeletionTokenHash = secret.Hash(token)
		u.DeletionTokenExpires = &expires
		u.UpdatedAt = now
		if err := update(ctx, q, u); err != nil {
			return err
		}
		ticket = Ticket{Token: token, ExpiresAt: expires}
		return nil
	})
	if err != nil {
		return Ticket{}, err
	}
	return ticket, nil
}

// Confirm consumes token and schedules the deletion after the grace period.
// An expired token leaves the request untouched.
func (w *Workflow) Confirm(ctx context.Context, token string) (*storage.User, error) {
	if err := secret.Validate(TokenPrefix, token); err != nil {
		return nil, ErrInvalidToken
	}

	var confirmed *storage.User
	err := w.store.Tx(ctx, func(q storage.Queries) error {
		u, err := q.GetUserByDeletionTokenHash(ctx, secret.Hash(token))
		if err != nil {
			if errors.Is(err, storage.ErrNotFound) {
				return ErrInvalidToken
			}
			return err
		}
		if StateOf(u) != StateRequested {
			return ErrInvalidState
		}
		now := w.clock.Now()
		if u.DeletionTokenExpires == nil || !now.Before(*u.DeletionTokenExpires) {
			return ErrExpiredToken
		}

		scheduled := now.Add(w.cfg.GracePeriod)
		u.DeletionConfirmedAt = &now
		u.DeletionScheduledFor = &scheduled
		u.DeletionTokenHash = ""
		u.DeletionTokenExpires = nil
		u.UpdatedAt = now
		if err := update(ctx, q, u); err != nil {
			return err
		}
		confirmed = u
		return nil
	})
	if err != nil {
		return nil, err
	}
	return confirmed, nil
}

// Cancel returns userID to active. It is allowed while a request is pending
// and, after confirmation, until the scheduled time.
func (w *Workflow) Cancel(ctx context.Context, userID string) error {
	return w.store.Tx(ctx, func(q storage.Queries) error {
		u, err := w.loadUser(ctx, q, userID)
		if err != nil {
			return err
		}
		now := w.clock.Now()
		switch StateOf(u) {
		case StateRequested:
		case StateConfirmed:
			if u.DeletionScheduledFor == nil || !now.Before(*u.DeletionScheduledFor) {
				return ErrInvalidState
			}
		default:
			return ErrInvalidState
		}
		u.ClearDeletion()
		u.UpdatedAt = now
		return update(ctx, q, u)
	})
}

// Status reports the workflow state of userID.
func (w *Workflow) Status(ctx context.Context, userID string) (Status, error) {
	u, err := w.loadUser(ctx, w.store, userID)
	if err != nil {
		return Status{}, err
	}
	return Status{
		State:        StateOf(u),
		RequestedAt:  u.DeletionRequestedAt,
		ConfirmedAt:  u.DeletionConfirmedAt,
		ScheduledFor: u.DeletionScheduledFor,
	}, nil
}

// Execute deletes userID if its scheduled time has passed.
func (w *Workflow) Execute(ctx context.Context, userID string) error {
	return w.store.Tx(ctx, func(q storage.Queries) error {
		u, err := w.loadUser(ctx, q, userID)
		if err != nil {
			return err
		}
		now := w.clock.Now()
		if StateOf(u) != StateConfirmed || u.DeletionScheduledFor == nil || now.Before(*u.DeletionScheduledFor) {
			return ErrInvalidState
		}

		u.IsDeleted = true
		u.IsActive = false
		u.DeletionTokenHash = ""
		u.DeletionTokenExpires = nil
		u.UpdatedAt = now
		if err := update(ctx, q, u); err != nil {
			return err
		}
		if _, err := q.RevokeUserRefreshTokens(ctx, u.ID, now); err != nil {
			return fmt.Errorf("revoke refresh tokens: %w", err)
		}
		if _, err := q.SoftDeleteOwnerAPIKeys(ctx, u.ID, SystemActor, "account deleted", now); err != nil {
			return fmt.Errorf("delete api keys: %w", err)
		}
		return nil
	})
}

// ExecuteScheduled deletes every account whose grace period has ended. A
// failure for one account is recorded in the result and does not stop the
// sweep. The returned error is non-nil only when due accounts could not be
// listed.
func (w *Workflow) ExecuteScheduled(ctx context.Context) (SweepResult, error) {
	result := SweepResult{Failed: map[string]error{}}
	now := w.clock.Now()

	// Paging by cursor keeps failed accounts from filling every page.
	var after *storage.DueCursor
	for {
		due, err := w.store.ListUsersDueForDeletion(ctx, now, after, w.cfg.BatchSize)
		if err != nil {
			return result, err
		}

		for _, u := range due {
			if err := w.Execute(ctx, u.ID); err != nil {
				w.logger.Warn("scheduled account deletion failed", zap.String("user_id", u.ID), zap.Error(err))
				result.Failed[u.ID] = err
				continue
			}
			result.Deleted = append(result.Deleted, u.ID)
		}
		if len(due) < w.cfg.BatchSize {
			break
		}
		last := due[len(due)-1]
		if last.DeletionScheduledFor == nil {
			break
		}
		after = &storage.DueCursor{ScheduledFor: *last.DeletionScheduledFor, ID: last.ID}
	}

	if len(result.Deleted) > 0 || len(result.Failed) > 0 {
		w.logger.Info("account deletion sweep finished",
			zap.Int("deleted", len(result.Deleted)),
			zap.Int("failed", len(result.Failed)),
		)
	}
	return result, nil
}

func (w *Workflow) loadUser(ctx context.Context, q storage.UserQueries, userID string) (*storage.User, error) {
	u, err := q.GetUserByID(ctx, userID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, err
	}
	return u, nil
}

func update(ctx context.Context, q storage.UserQueries, u *storage.User) error {
	if err := q.UpdateUser(ctx, u); err != nil {
		if errors.Is(err, storage.ErrStale) {
			return ErrInvalidState
		}
		return err
	}
	return nil
}
