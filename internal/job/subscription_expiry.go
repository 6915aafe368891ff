package job

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// Expirer is the slice of the subscription service the sweep needs.
type Expirer interface {
	ExpireDueSubscriptions(ctx context.Context) (int64, error)
}

// SubscriptionExpiryJob runs the expiry sweep on a fixed interval. Running it
// on several instances at once is safe; each row expires exactly once.
type SubscriptionExpiryJob struct {
	expirer  Expirer
	stopCh   chan struct{}
	interval time.Duration
}

func NewSubscriptionExpiryJob(expirer Expirer, interval time.Duration) *SubscriptionExpiryJob {
	if interval <= 0 {
		interval = time.Minute
	}
	return &SubscriptionExpiryJob{
		expirer:  expirer,
		stopCh:   make(chan struct{}),
		interval: interval,
	}
}

func (j *SubscriptionExpiryJob) Start(ctx context.Context) {
	zap.L().Info("[SubscriptionExpiryJob] started", zap.Duration("interval", j.interval))

	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			zap.L().Info("[SubscriptionExpiryJob] context done, exiting")
			return
		case <-j.stopCh:
			zap.L().Info("[SubscriptionExpiryJob] stopped")
			return
		case <-ticker.C:
			j.RunOnce(ctx)
		}
	}
}

func (j *SubscriptionExpiryJob) Stop() {
	close(j.stopCh)
}

// RunOnce performs a single sweep and returns the number of expired rows.
func (j *SubscriptionExpiryJob) RunOnce(ctx context.Context) int64 {
	n, err := j.expirer.ExpireDueSubscriptions(ctx)
	if err != nil {
		zap.L().Error("[SubscriptionExpiryJob] sweep failed", zap.Int64("expired", n), zap.Error(err))
		return n
	}
	if n > 0 {
		zap.L().Info("[SubscriptionExpiryJob] sweep done", zap.Int64("expired", n))
	}
	return n
}
