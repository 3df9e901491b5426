package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

type Repository interface {
	// InsertEvent records the event once; returns false when the processor
	// event id was already seen.
	InsertEvent(ctx context.Context, conn *gorm.DB, record *EventRecord) (bool, error)
	LoadEvent(ctx context.Context, conn *gorm.DB, providerEventID string) (*EventRecord, error)
	MarkProcessed(ctx context.Context, conn *gorm.DB, id snowflake.ID, at time.Time) error

	EnqueueRetry(ctx context.Context, conn *gorm.DB, entry *RetryEntry) error
	// HasUnresolvedRetry reports whether the event already sits on the queue.
	HasUnresolvedRetry(ctx context.Context, conn *gorm.DB, providerEventID string) (bool, error)
	// DueRetries claims unresolved entries whose next attempt is due.
	DueRetries(ctx context.Context, tx *gorm.DB, now time.Time, limit int) ([]RetryEntry, error)
	BumpRetry(ctx context.Context, conn *gorm.DB, id snowflake.ID, reason string, nextAttempt time.Time, now time.Time) error
	ResolveRetry(ctx context.Context, conn *gorm.DB, id snowflake.ID, now time.Time) error
}
