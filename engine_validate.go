package authcore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/MrEthical07/authcore/cache"
	"github.com/MrEthical07/authcore/storage"
)

// userStatus is the cached subset of a user record that access validation
// needs.
type userStatus struct {
	ID       string `json:"id"`
	Email    string `json:"email"`
	Username string `json:"username"`
	Active   bool   `json:"active"`
	Deleted  bool   `json:"deleted"`
}

// ValidateAccess verifies an access token and confirms that its subject is
// still an active account.
func (e *Engine) ValidateAccess(ctx context.Context, accessToken string) (*Principal, error) {
	if e == nil {
		return nil, ErrEngineNotReady
	}
	start := e.clock.Now()
	defer func() {
		if e.metrics.LatencyEnabled() {
			e.metrics.Observe(MetricValidateLatency, e.clock.Since(start))
		}
	}()

	claims, err := e.jwtManager.Parse(accessToken)
	if err != nil {
		e.metricInc(MetricAccessRejected)
		return nil, accessTokenError(err)
	}

	status, err := e.userStatus(ctx, claims.SubjectID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			e.metricInc(MetricAccessRejected)
			return nil, fmt.Errorf("%w: %w", ErrUnauthorized, ErrAccountDisabled)
		}
		return nil, e.fail(err)
	}
	if status.Deleted || !status.Active {
		e.metricInc(MetricAccessRejected)
		return nil, fmt.Errorf("%w: %w", ErrUnauthorized, ErrAccountDisabled)
	}

	e.metricInc(MetricAccessValidated)
	return &Principal{
		UserID:    status.ID,
		Email:     status.Email,
		Username:  status.Username,
		TokenID:   claims.TokenID,
		ExpiresAt: claims.ExpiresAt,
	}, nil
}

// AccessSubject returns the subject of a correctly signed, unexpired access
// token without consulting the store. It lets rate limiting charge a caller
// before ValidateAccess runs; it is not an authentication decision.
func (e *Engine) AccessSubject(accessToken string) (string, bool) {
	if e == nil || accessToken == "" {
		return "", false
	}
	claims, err := e.jwtManager.Parse(accessToken)
	if err != nil || claims.SubjectID == "" {
		return "", false
	}
	return claims.SubjectID, true
}

func (e *Engine) userStatus(ctx context.Context, userID string) (*userStatus, error) {
	key := e.config.Cache.Prefix + userID
	if raw, err := e.cache.Get(ctx, key); err == nil {
		var status userStatus
		if jsonErr := json.Unmarshal(raw, &status); jsonErr == nil && status.ID == userID {
			e.metricInc(MetricUserCacheHit)
			return &status, nil
		}
		_ = e.cache.Delete(ctx, key)
	} else if !errors.Is(err, cache.ErrMiss) {
		e.logger.Debug("user cache read failed", zap.String("user_id", userID), zap.Error(err))
	}
	e.metricInc(MetricUserCacheMiss)

	u, err := e.store.GetUserByID(ctx, userID)
	if err != nil {
		return nil, storeError(err)
	}
	status := statusFromUser(u)
	if raw, err := json.Marshal(status); err == nil {
		if err := e.cache.Set(ctx, key, raw, e.config.Cache.UserTTL); err != nil {
			e.logger.Debug("user cache write failed", zap.String("user_id", userID), zap.Error(err))
		}
	}
	return status, nil
}

// invalidateUser drops the cached status of userID after a change that
// affects access.
func (e *Engine) invalidateUser(ctx context.Context, userID string) {
	if err := e.cache.Delete(ctx, e.config.Cache.Prefix+userID); err != nil {
		e.logger.Warn("user cache invalidation failed", zap.String("user_id", userID), zap.Error(err))
	}
}

func statusFromUser(u *storage.User) *userStatus {
	return &userStatus{
		ID:       u.ID,
		Email:    u.Email,
		Username: u.Username,
		Active:   u.IsActive,
		Deleted:  u.IsDeleted,
	}
}
