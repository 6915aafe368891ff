package job

import (
	"context"
	"time"

	"sharetips/internal/infrastructure/mq"
	"sharetips/internal/metrics"
	"sharetips/internal/model"
	"sharetips/internal/repository"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

// OutboxSender publishes notifications committed to the outbox. Delivery is
// at least once: a crash between publish and MarkAsSent sends the message
// again, so consumers dedupe on the message key.
type OutboxSender struct {
	outboxRepo *repository.OutboxRepository
	producer   mq.Producer
	stopCh     chan struct{}
	interval   time.Duration
	batchSize  int
	maxRetry   int
}

func NewOutboxSender(db *gorm.DB, producer mq.Producer, maxRetry int) *OutboxSender {
	if maxRetry <= 0 {
		maxRetry = 5
	}
	return &OutboxSender{
		outboxRepo: repository.NewOutboxRepository(db),
		producer:   producer,
		stopCh:     make(chan struct{}),
		interval:   100 * time.Millisecond,
		batchSize:  100,
		maxRetry:   maxRetry,
	}
}

func (s *OutboxSender) Start(ctx context.Context) {
	zap.L().Info("[OutboxSender] started")

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			zap.L().Info("[OutboxSender] context done, exiting")
			return
		case <-s.stopCh:
			zap.L().Info("[OutboxSender] stopped")
			return
		case <-ticker.C:
			s.ProcessPendingMessages(ctx)
		}
	}
}

func (s *OutboxSender) Stop() {
	close(s.stopCh)
}

// ProcessPendingMessages sends one batch and returns how many were sent.
func (s *OutboxSender) ProcessPendingMessages(ctx context.Context) int {
	messages, err := s.outboxRepo.GetPendingMessages(ctx, s.batchSize)
	if err != nil {
		zap.L().Error("[OutboxSender] query pending messages failed", zap.Error(err))
		return 0
	}

	sent := 0
	for _, msg := range messages {
		if s.sendMessage(ctx, msg) {
			sent++
		}
	}
	return sent
}

func (s *OutboxSender) sendMessage(ctx context.Context, msg *model.OutboxMessage) bool {
	err := s.producer.SendMessage(msg.Topic, msg.MessageKey, msg.Payload)
	if err == nil {
		metrics.RecordOutbox(model.OutboxStatusSent)
		if updateErr := s.outboxRepo.MarkAsSent(ctx, msg.ID, time.Now().UTC()); updateErr != nil {
			zap.L().Error("[OutboxSender] mark sent failed", zap.Int64("id", msg.ID), zap.Error(updateErr))
		}
		return true
	}

	metrics.RecordOutbox("error")
	zap.L().Warn("[OutboxSender] send failed",
		zap.Int64("id", msg.ID),
		zap.String("event_type", msg.EventType),
		zap.Int("retry_count", msg.RetryCount),
		zap.Error(err),
	)

	if recErr := s.outboxRepo.RecordFailure(ctx, msg.ID, msg.RetryCount, s.maxRetry, err); recErr != nil {
		zap.L().Error("[OutboxSender] record failure failed", zap.Int64("id", msg.ID), zap.Error(recErr))
	}
	if msg.RetryCount+1 >= s.maxRetry {
		metrics.RecordOutbox(model.OutboxStatusFailed)
		zap.L().Error("[OutboxSender] message exceeded retries, parked as FAILED", zap.Int64("id", msg.ID))
	}
	return false
}
