package service

import (
	"context"
	"time"

	"github.com/carepayhq/carepay/internal/notify"
	"github.com/carepayhq/carepay/internal/webhook/domain"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	retryBaseDelay   = time.Minute
	retryMaxDelay    = time.Hour
	retryMaxAttempts = 10
	retryBatchSize   = 50
)

// RetryOnce drains the due portion of the retry queue. Each entry is
// re-parsed and re-handled; a success resolves the entry and marks the
// original event processed, a failure reschedules with doubled backoff.
// After the attempt cap the entry is abandoned and operators are alerted.
func (s *Service) RetryOnce(ctx context.Context) error {
	now := s.clock.Now()

	var entries []domain.RetryEntry
	err := s.db.Transaction(func(tx *gorm.DB) error {
		var err error
		entries, err = s.repo.DueRetries(ctx, tx, now, retryBatchSize)
		return err
	})
	if err != nil {
		return err
	}

	for _, entry := range entries {
		s.retryEntry(ctx, entry)
	}
	return nil
}

func (s *Service) retryEntry(ctx context.Context, entry domain.RetryEntry) {
	log := s.log.With(
		zap.String("event_id", entry.ProviderEventID),
		zap.String("event_type", entry.EventType),
		zap.Int("attempt", entry.AttemptCount+1),
	)

	event, err := ParseEvent(entry.Payload)
	if err != nil {
		// The payload passed verification at receipt; a parse failure now is
		// permanent, not transient.
		log.Error("retry entry has unparseable payload, abandoning", zap.Error(err))
		s.notifier.NotifyOperators(ctx, notify.SeverityUrgent, "webhook retry abandoned", map[string]any{
			"event_id":   entry.ProviderEventID,
			"event_type": entry.EventType,
			"reason":     err.Error(),
		})
		_ = s.repo.ResolveRetry(ctx, s.db, entry.ID, s.clock.Now())
		return
	}

	if err := s.handle(ctx, event); err != nil {
		now := s.clock.Now()
		if entry.AttemptCount+1 >= retryMaxAttempts {
			log.Error("retry attempts exhausted", zap.Error(err))
			s.notifier.NotifyOperators(ctx, notify.SeverityUrgent, "webhook retry exhausted", map[string]any{
				"event_id":   entry.ProviderEventID,
				"event_type": entry.EventType,
				"reason":     err.Error(),
			})
			_ = s.repo.ResolveRetry(ctx, s.db, entry.ID, now)
			return
		}
		log.Warn("retry failed, rescheduling", zap.Error(err))
		_ = s.repo.BumpRetry(ctx, s.db, entry.ID, err.Error(), now.Add(backoff(entry.AttemptCount+1)), now)
		return
	}

	now := s.clock.Now()
	if err := s.repo.ResolveRetry(ctx, s.db, entry.ID, now); err != nil {
		log.Error("failed to resolve retry entry", zap.Error(err))
		return
	}
	if stored, err := s.repo.LoadEvent(ctx, s.db, entry.ProviderEventID); err == nil && stored != nil {
		_ = s.repo.MarkProcessed(ctx, s.db, stored.ID, now)
	}
	s.count(entry.EventType, "retried")
}

// RetryForever polls the retry queue until ctx is cancelled.
func (s *Service) RetryForever(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		if err := s.RetryOnce(ctx); err != nil {
			s.log.Warn("webhook retry sweep failed", zap.Error(err))
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func backoff(attempts int) time.Duration {
	delay := retryBaseDelay << attempts
	if delay > retryMaxDelay || delay <= 0 {
		return retryMaxDelay
	}
	return delay
}
