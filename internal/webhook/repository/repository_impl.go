package repository

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/carepayhq/carepay/internal/webhook/domain"
	"github.com/carepayhq/carepay/pkg/db"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) InsertEvent(ctx context.Context, conn *gorm.DB, record *domain.EventRecord) (bool, error) {
	res := conn.WithContext(ctx).Exec(
		`INSERT INTO webhook_events (id, provider_event_id, event_type, payload, received_at)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT (provider_event_id) DO NOTHING`,
		record.ID,
		record.ProviderEventID,
		record.EventType,
		record.Payload,
		record.ReceivedAt,
	)
	if res.Error != nil {
		if db.IsDuplicateKeyErr(res.Error) {
			return false, nil
		}
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *repo) LoadEvent(ctx context.Context, conn *gorm.DB, providerEventID string) (*domain.EventRecord, error) {
	var record domain.EventRecord
	err := conn.WithContext(ctx).Raw(
		`SELECT id, provider_event_id, event_type, payload, received_at, processed_at
		 FROM webhook_events
		 WHERE provider_event_id = ?
		 LIMIT 1`,
		providerEventID,
	).Scan(&record).Error
	if err != nil {
		return nil, err
	}
	if record.ID == 0 {
		return nil, nil
	}
	return &record, nil
}

func (r *repo) MarkProcessed(ctx context.Context, conn *gorm.DB, id snowflake.ID, at time.Time) error {
	return conn.WithContext(ctx).Exec(
		`UPDATE webhook_events SET processed_at = ? WHERE id = ? AND processed_at IS NULL`,
		at,
		id,
	).Error
}

func (r *repo) EnqueueRetry(ctx context.Context, conn *gorm.DB, entry *domain.RetryEntry) error {
	return conn.WithContext(ctx).Exec(
		`INSERT INTO webhook_retry_entries
			(id, provider_event_id, event_type, payload, failure_reason,
			 attempt_count, next_attempt_at, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		entry.ID,
		entry.ProviderEventID,
		entry.EventType,
		entry.Payload,
		entry.FailureReason,
		entry.AttemptCount,
		entry.NextAttemptAt,
		entry.CreatedAt,
		entry.UpdatedAt,
	).Error
}

func (r *repo) HasUnresolvedRetry(ctx context.Context, conn *gorm.DB, providerEventID string) (bool, error) {
	var count int64
	err := conn.WithContext(ctx).Raw(
		`SELECT COUNT(*) FROM webhook_retry_entries
		 WHERE provider_event_id = ? AND resolved_at IS NULL`,
		providerEventID,
	).Scan(&count).Error
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

func (r *repo) DueRetries(ctx context.Context, tx *gorm.DB, now time.Time, limit int) ([]domain.RetryEntry, error) {
	var entries []domain.RetryEntry
	err := tx.WithContext(ctx).Raw(
		`SELECT id, provider_event_id, event_type, payload, failure_reason,
			attempt_count, next_attempt_at, resolved_at, created_at, updated_at
		 FROM webhook_retry_entries
		 WHERE resolved_at IS NULL AND next_attempt_at <= ?
		 ORDER BY next_attempt_at
		 LIMIT ?`+db.ForUpdateSkipLocked(tx),
		now,
		limit,
	).Scan(&entries).Error
	if err != nil {
		return nil, err
	}
	return entries, nil
}

func (r *repo) BumpRetry(ctx context.Context, conn *gorm.DB, id snowflake.ID, reason string, nextAttempt time.Time, now time.Time) error {
	return conn.WithContext(ctx).Exec(
		`UPDATE webhook_retry_entries
		 SET attempt_count = attempt_count + 1, failure_reason = ?, next_attempt_at = ?, updated_at = ?
		 WHERE id = ?`,
		reason,
		nextAttempt,
		now,
		id,
	).Error
}

func (r *repo) ResolveRetry(ctx context.Context, conn *gorm.DB, id snowflake.ID, now time.Time) error {
	return conn.WithContext(ctx).Exec(
		`UPDATE webhook_retry_entries
		 SET resolved_at = ?, updated_at = ?
		 WHERE id = ? AND resolved_at IS NULL`,
		now,
		now,
		id,
	).Error
}
