package job

import (
	"context"
	"time"

	"sharetips/internal/model"
	"sharetips/internal/repository"
	"sharetips/pkg/clock"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Reprocessor interface {
	Reprocess(ctx context.Context, evt *model.PaymentEvent) error
}

// PaymentRecoveryJob finds payment confirmations stuck in RECEIVED, because
// the process died or every retry failed, and drives them again. Each step is
// idempotent by reference id, so a second run never moves money twice.
type PaymentRecoveryJob struct {
	eventRepo   *repository.PaymentEventRepository
	reprocessor Reprocessor
	clock       clock.Clock
	stopCh      chan struct{}
	interval    time.Duration
	staleAfter  time.Duration
	batchSize   int
}

func NewPaymentRecoveryJob(db *gorm.DB, reprocessor Reprocessor, clk clock.Clock) *PaymentRecoveryJob {
	return &PaymentRecoveryJob{
		eventRepo:   repository.NewPaymentEventRepository(db),
		reprocessor: reprocessor,
		clock:       clk,
		stopCh:      make(chan struct{}),
		interval:    30 * time.Second,
		staleAfter:  5 * time.Minute,
		batchSize:   50,
	}
}

func (j *PaymentRecoveryJob) Start(ctx context.Context) {
	zap.L().Info("[PaymentRecoveryJob] started")

	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			zap.L().Info("[PaymentRecoveryJob] context done, exiting")
			return
		case <-j.stopCh:
			zap.L().Info("[PaymentRecoveryJob] stopped")
			return
		case <-ticker.C:
			j.RunOnce(ctx)
		}
	}
}

func (j *PaymentRecoveryJob) Stop() {
	close(j.stopCh)
}

// RunOnce returns how many stale events were driven to a terminal state.
func (j *PaymentRecoveryJob) RunOnce(ctx context.Context) int {
	events, err := j.eventRepo.ListStale(ctx, j.clock.Now().Add(-j.staleAfter), j.batchSize)
	if err != nil {
		zap.L().Error("[PaymentRecoveryJob] query stale events failed", zap.Error(err))
		return 0
	}

	recovered := 0
	for _, evt := range events {
		if err := j.reprocessor.Reprocess(ctx, evt); err != nil {
			zap.L().Warn("[PaymentRecoveryJob] reprocess failed",
				zap.String("reference_id", evt.ReferenceID),
				zap.Error(err),
			)
			continue
		}
		recovered++
	}
	if recovered > 0 {
		zap.L().Info("[PaymentRecoveryJob] recovered events", zap.Int("count", recovered))
	}
	return recovered
}
