package authcore

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"github.com/MrEthical07/authcore/apikey"
	"github.com/MrEthical07/authcore/cache"
	"github.com/MrEthical07/authcore/deletion"
	"github.com/MrEthical07/authcore/jwt"
	"github.com/MrEthical07/authcore/password"
	"github.com/MrEthical07/authcore/ratelimit"
	"github.com/MrEthical07/authcore/refresh"
	"github.com/MrEthical07/authcore/storage"
)

const (
	maxEmailLength  = 254
	tokenTypeBearer = "Bearer"
)

var usernamePattern = regexp.MustCompile(`^[a-zA-Z0-9_.-]{3,32}$`)

// Engine orchestrates the credential components behind the HTTP layer. It
// is safe for concurrent use; build it with New().
type Engine struct {
	config       Config
	store        storage.Store
	clock        clockwork.Clock
	logger       *zap.Logger
	cache        cache.Cache
	passwordHash *password.Argon2
	jwtManager   *jwt.Manager
	refreshStore *refresh.Store
	apiKeys      *apikey.Manager
	deletion     *deletion.Workflow
	limiter      *ratelimit.Limiter
	audit        *auditDispatcher
	metrics      *Metrics
}

// Close flushes pending audit events. The store is owned by the caller and
// stays open.
func (e *Engine) Close() {
	if e == nil {
		return
	}
	if e.audit != nil {
		e.audit.Close()
	}
}

// AuditDropped reports audit events lost to a full buffer.
func (e *Engine) AuditDropped() uint64 {
	if e == nil || e.audit == nil {
		return 0
	}
	return e.audit.Dropped()
}

// MetricsSnapshot returns the current counters.
func (e *Engine) MetricsSnapshot() MetricsSnapshot {
	if e == nil || e.metrics == nil {
		return MetricsSnapshot{
			Counters:   map[MetricID]uint64{},
			Histograms: map[MetricID][]uint64{},
		}
	}
	return e.metrics.Snapshot()
}

// Ping checks the store.
func (e *Engine) Ping(ctx context.Context) error {
	if e == nil || e.store == nil {
		return ErrEngineNotReady
	}
	return storeError(e.store.Ping(ctx))
}

func (e *Engine) metricInc(id MetricID) {
	if e == nil || e.metrics == nil {
		return
	}
	e.metrics.Inc(id)
}

// fail records store outages before returning err unchanged.
func (e *Engine) fail(err error) error {
	if errors.Is(err, ErrStoreUnavailable) {
		e.metricInc(MetricStoreUnavailable)
	}
	return err
}

// Register creates an active, unverified account. Email is lower-cased;
// username keeps its case and must match exactly on login.
func (e *Engine) Register(ctx context.Context, req RegisterRequest) (*Account, error) {
	if e == nil {
		return nil, ErrEngineNotReady
	}
	email, err := normalizeEmail(req.Email)
	if err == nil {
		err = validateUsername(req.Username)
	}
	if err != nil {
		e.metricInc(MetricRegisterInvalid)
		e.emitAudit(ctx, auditEventRegisterFailure, false, "", "", err, nil)
		return nil, err
	}

	hash, err := e.passwordHash.Hash(req.Password)
	if err != nil {
		err = passwordPolicyError(err)
		e.metricInc(MetricRegisterInvalid)
		e.emitAudit(ctx, auditEventRegisterFailure, false, "", "", err, nil)
		return nil, err
	}

	now := e.clock.Now()
	u := &storage.User{
		ID:           uuid.NewString(),
		Email:        email,
		Username:     req.Username,
		PasswordHash: hash,
		IsActive:     true,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := e.store.CreateUser(ctx, u); err != nil {
		if errors.Is(err, storage.ErrConflict) {
			e.metricInc(MetricRegisterDuplicate)
			e.emitAudit(ctx, auditEventRegisterFailure, false, "", "", ErrAccountExists, nil)
			return nil, ErrAccountExists
		}
		err = e.fail(storeError(err))
		e.emitAudit(ctx, auditEventRegisterFailure, false, "", "", err, nil)
		return nil, err
	}

	e.metricInc(MetricRegisterSuccess)
	e.emitAudit(ctx, auditEventRegisterSuccess, true, u.ID, "", nil, nil)
	return accountFromUser(u), nil
}

// Login authenticates identifier (email or username) and password and
// starts a new session. Unknown identifiers and wrong passwords are
// indistinguishable; an inactive account is only reported after the
// password matched.
func (e *Engine) Login(ctx context.Context, identifier, pw string) (*TokenPair, error) {
	if e == nil {
		return nil, ErrEngineNotReady
	}

	u, err := e.findUser(ctx, identifier)
	if err != nil {
		if !errors.Is(err, ErrNotFound) {
			err = e.fail(err)
			e.emitAudit(ctx, auditEventLoginFailure, false, "", "", err, nil)
			return nil, err
		}
		e.passwordHash.Burn(pw)
		e.metricInc(MetricLoginFailure)
		e.emitAudit(ctx, auditEventLoginFailure, false, "", "", ErrInvalidCredentials, nil)
		return nil, ErrInvalidCredentials
	}

	if !e.passwordHash.Verify(pw, u.PasswordHash) {
		e.metricInc(MetricLoginFailure)
		e.emitAudit(ctx, auditEventLoginFailure, false, u.ID, "", ErrInvalidCredentials, nil)
		return nil, ErrInvalidCredentials
	}
	if !u.IsActive || u.IsDeleted {
		e.metricInc(MetricLoginDisabled)
		e.emitAudit(ctx, auditEventLoginFailure, false, u.ID, "", ErrAccountDisabled, nil)
		return nil, ErrAccountDisabled
	}

	if e.config.Password.UpgradeOnLogin {
		e.upgradePasswordHash(ctx, u, pw)
	}

	pair, err := e.issuePair(ctx, u.ID)
	if err != nil {
		err = e.fail(err)
		e.emitAudit(ctx, auditEventLoginFailure, false, u.ID, "", err, nil)
		return nil, err
	}

	e.metricInc(MetricLoginSuccess)
	e.emitAudit(ctx, auditEventLoginSuccess, true, u.ID, pair.SessionID, nil, nil)
	return pair, nil
}

// Refresh exchanges a refresh token for a new pair. The presented token is
// consumed; presenting it again yields ErrRevoked.
func (e *Engine) Refresh(ctx context.Context, refreshToken string) (*TokenPair, error) {
	if e == nil {
		return nil, ErrEngineNotReady
	}

	current, err := e.refreshStore.Lookup(ctx, refreshToken)
	if err != nil {
		err = e.fail(refreshError(err))
		e.metricInc(MetricRefreshFailure)
		e.emitAudit(ctx, auditEventRefreshInvalid, false, "", "", err, nil)
		return nil, err
	}
	if current.Live(e.clock.Now()) {
		if err := e.requireLiveUser(ctx, current.UserID); err != nil {
			e.metricInc(MetricRefreshFailure)
			e.emitAudit(ctx, auditEventRefreshInvalid, false, current.UserID, current.FamilyID, err, nil)
			return nil, err
		}
	}

	raw, successor, err := e.refreshStore.Rotate(ctx, refreshToken)
	if err != nil {
		err = e.fail(refreshError(err))
		e.metricInc(MetricRefreshFailure)
		if errors.Is(err, ErrRevoked) {
			e.metricInc(MetricRefreshReuseDetected)
			e.logger.Warn("revoked refresh token presented",
				zap.String("user_id", current.UserID), zap.String("family_id", current.FamilyID))
			e.emitAudit(ctx, auditEventRefreshReuseDetected, false, current.UserID, current.FamilyID, err, nil)
			return nil, err
		}
		e.emitAudit(ctx, auditEventRefreshInvalid, false, current.UserID, current.FamilyID, err, nil)
		return nil, err
	}

	pair, err := e.accessFor(successor.UserID)
	if err != nil {
		return nil, err
	}
	pair.RefreshToken = raw
	pair.RefreshExpiresAt = successor.ExpiresAt
	pair.SessionID = successor.FamilyID

	e.metricInc(MetricRefreshSuccess)
	e.emitAudit(ctx, auditEventRefreshSuccess, true, successor.UserID, successor.FamilyID, nil, nil)
	return pair, nil
}

// Logout ends the session the refresh token belongs to: every live token of
// its lineage is revoked. Unknown tokens are not an error.
func (e *Engine) Logout(ctx context.Context, refreshToken string) error {
	if e == nil {
		return ErrEngineNotReady
	}
	current, err := e.refreshStore.Lookup(ctx, refreshToken)
	if err != nil {
		if errors.Is(err, refresh.ErrNotFound) {
			return nil
		}
		err = e.fail(refreshError(err))
		e.emitAudit(ctx, auditEventLogoutSession, false, "", "", err, nil)
		return err
	}
	if _, err := e.refreshStore.RevokeFamily(ctx, current.FamilyID); err != nil {
		err = e.fail(storeError(err))
		e.emitAudit(ctx, auditEventLogoutSession, false, current.UserID, current.FamilyID, err, nil)
		return err
	}
	e.metricInc(MetricLogout)
	e.emitAudit(ctx, auditEventLogoutSession, true, current.UserID, current.FamilyID, nil, nil)
	return nil
}

// LogoutAll revokes every session of userID and reports how many refresh
// tokens were revoked.
func (e *Engine) LogoutAll(ctx context.Context, userID string) (int64, error) {
	if e == nil {
		return 0, ErrEngineNotReady
	}
	n, err := e.refreshStore.RevokeAll(ctx, userID)
	if err != nil {
		err = e.fail(storeError(err))
		e.emitAudit(ctx, auditEventLogoutAll, false, userID, "", err, nil)
		return 0, err
	}
	e.metricInc(MetricLogoutAll)
	e.emitAudit(ctx, auditEventLogoutAll, true, userID, "", nil, func() map[string]string {
		return map[string]string{"revoked": fmt.Sprint(n)}
	})
	return n, nil
}

// ChangePassword replaces the password of userID after checking the current
// one, then revokes every session.
func (e *Engine) ChangePassword(ctx context.Context, userID, oldPassword, newPassword string) error {
	if e == nil {
		return ErrEngineNotReady
	}
	u, err := e.store.GetUserByID(ctx, userID)
	if err != nil {
		e.passwordHash.Burn(oldPassword)
		err = e.fail(storeError(err))
		e.emitAudit(ctx, auditEventPasswordChangeFailure, false, userID, "", err, nil)
		return err
	}
	if u.IsDeleted || !u.IsActive {
		e.emitAudit(ctx, auditEventPasswordChangeFailure, false, userID, "", ErrAccountDisabled, nil)
		return ErrAccountDisabled
	}
	if !e.passwordHash.Verify(oldPassword, u.PasswordHash) {
		e.metricInc(MetricPasswordChangeInvalidOld)
		e.emitAudit(ctx, auditEventPasswordChangeFailure, false, userID, "", ErrInvalidCredentials, nil)
		return ErrInvalidCredentials
	}
	if oldPassword == newPassword {
		err := fmt.Errorf("%w: new password must differ from the current one", ErrInvalidInput)
		e.emitAudit(ctx, auditEventPasswordChangeFailure, false, userID, "", err, nil)
		return err
	}

	hash, err := e.passwordHash.Hash(newPassword)
	if err != nil {
		err = passwordPolicyError(err)
		e.emitAudit(ctx, auditEventPasswordChangeFailure, false, userID, "", err, nil)
		return err
	}
	u.PasswordHash = hash
	u.UpdatedAt = e.clock.Now()
	if err := e.store.UpdateUser(ctx, u); err != nil {
		err = e.fail(storeError(err))
		e.emitAudit(ctx, auditEventPasswordChangeFailure, false, userID, "", err, nil)
		return err
	}
	e.invalidateUser(ctx, userID)

	if _, err := e.refreshStore.RevokeAll(ctx, userID); err != nil {
		// The password already changed; report the revocation failure so the
		// caller can retry LogoutAll.
		err = e.fail(storeError(err))
		e.logger.Error("revoking sessions after password change failed", zap.String("user_id", userID), zap.Error(err))
		return err
	}

	e.metricInc(MetricPasswordChangeSuccess)
	e.emitAudit(ctx, auditEventPasswordChangeSuccess, true, userID, "", nil, nil)
	return nil
}

// ListSessions returns the live sessions of userID, newest first.
func (e *Engine) ListSessions(ctx context.Context, userID string) ([]Session, error) {
	if e == nil {
		return nil, ErrEngineNotReady
	}
	tokens, err := e.refreshStore.ListActive(ctx, userID)
	if err != nil {
		return nil, e.fail(storeError(err))
	}
	out := make([]Session, 0, len(tokens))
	for _, t := range tokens {
		out = append(out, Session{
			ID:         t.ID,
			FamilyID:   t.FamilyID,
			DeviceInfo: t.DeviceInfo,
			IPAddress:  t.IPAddress,
			CreatedAt:  t.CreatedAt,
			ExpiresAt:  t.ExpiresAt,
		})
	}
	return out, nil
}

// GetAccount returns the public view of userID. Deleted accounts are not found.
func (e *Engine) GetAccount(ctx context.Context, userID string) (*Account, error) {
	if e == nil {
		return nil, ErrEngineNotReady
	}
	u, err := e.store.GetUserByID(ctx, userID)
	if err != nil {
		return nil, e.fail(storeError(err))
	}
	if u.IsDeleted {
		return nil, ErrNotFound
	}
	return accountFromUser(u), nil
}

func (e *Engine) findUser(ctx context.Context, identifier string) (*storage.User, error) {
	identifier = strings.TrimSpace(identifier)
	if identifier == "" {
		return nil, ErrNotFound
	}
	var (
		u   *storage.User
		err error
	)
	if strings.Contains(identifier, "@") {
		u, err = e.store.GetUserByEmail(ctx, strings.ToLower(identifier))
	} else {
		u, err = e.store.GetUserByUsername(ctx, identifier)
	}
	if err != nil {
		return nil, storeError(err)
	}
	return u, nil
}

func (e *Engine) requireLiveUser(ctx context.Context, userID string) error {
	u, err := e.store.GetUserByID(ctx, userID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return ErrAccountDisabled
		}
		return e.fail(storeError(err))
	}
	if u.IsDeleted || !u.IsActive {
		return ErrAccountDisabled
	}
	return nil
}

func (e *Engine) upgradePasswordHash(ctx context.Context, u *storage.User, pw string) {
	stale, err := e.passwordHash.NeedsUpgrade(u.PasswordHash)
	if err != nil || !stale {
		return
	}
	hash, err := e.passwordHash.Hash(pw)
	if err != nil {
		return
	}
	u.PasswordHash = hash
	u.UpdatedAt = e.clock.Now()
	if err := e.store.UpdateUser(ctx, u); err != nil {
		e.logger.Warn("password hash upgrade failed", zap.String("user_id", u.ID), zap.Error(err))
		return
	}
	e.metricInc(MetricPasswordHashUpgraded)
}

func (e *Engine) issuePair(ctx context.Context, userID string) (*TokenPair, error) {
	pair, err := e.accessFor(userID)
	if err != nil {
		return nil, err
	}
	raw, rec, err := e.refreshStore.Issue(ctx, userID, refresh.Metadata{
		DeviceInfo: userAgentFromContext(ctx),
		IPAddress:  ClientIPFromContext(ctx),
	})
	if err != nil {
		return nil, storeError(err)
	}
	pair.RefreshToken = raw
	pair.RefreshExpiresAt = rec.ExpiresAt
	pair.SessionID = rec.FamilyID
	return pair, nil
}

func (e *Engine) accessFor(userID string) (*TokenPair, error) {
	expires := e.clock.Now().Add(e.config.JWT.AccessTTL)
	access, err := e.jwtManager.Issue(userID, expires)
	if err != nil {
		return nil, fmt.Errorf("issue access token: %w", err)
	}
	return &TokenPair{
		AccessToken:     access,
		AccessExpiresAt: expires.Truncate(time.Second),
		TokenType:       tokenTypeBearer,
	}, nil
}

func normalizeEmail(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" || len(raw) > maxEmailLength {
		return "", fmt.Errorf("%w: email is required and must be at most %d bytes", ErrInvalidInput, maxEmailLength)
	}
	addr, err := mail.ParseAddress(raw)
	if err != nil || addr.Address != raw || addr.Name != "" {
		return "", fmt.Errorf("%w: email address is not valid", ErrInvalidInput)
	}
	return strings.ToLower(addr.Address), nil
}

func validateUsername(username string) error {
	if !usernamePattern.MatchString(username) {
		return fmt.Errorf("%w: username must be 3-32 characters of letters, digits, '_', '.' or '-'", ErrInvalidInput)
	}
	return nil
}
