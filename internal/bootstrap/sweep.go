package bootstrap

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/MrEthical07/authcore"
)

// Sweep runs one deletion sweep bounded by timeout and logs its outcome.
func Sweep(ctx context.Context, engine *authcore.Engine, logger *zap.Logger, timeout time.Duration) error {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	res, err := engine.ExecuteScheduledDeletions(ctx)
	if res != nil {
		logger.Info("deletion sweep finished",
			zap.Int("deleted", len(res.Deleted)),
			zap.Int("failed", len(res.Failed)),
		)
		for userID, reason := range res.Failed {
			logger.Warn("account deletion failed", zap.String("user_id", userID), zap.String("reason", reason))
		}
	}
	return err
}

// RunSweeper sweeps immediately and then every interval until ctx is done.
// Sweep errors are logged and do not stop the loop.
func RunSweeper(ctx context.Context, engine *authcore.Engine, logger *zap.Logger, interval, timeout time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		if err := Sweep(ctx, engine, logger, timeout); err != nil && ctx.Err() == nil {
			logger.Error("sweep failed", zap.Error(err))
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
