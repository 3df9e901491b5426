// Package domain defines the processor event ledger: every inbound webhook
// is recorded exactly once, processed idempotently, and parked on a durable
// retry queue when its handler faults.
package domain

import (
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

var (
	// ErrInvalidSignature rejects an event whose HMAC does not match; the
	// payload is never processed.
	ErrInvalidSignature = errors.New("invalid_signature")
	// ErrInvalidPayload rejects malformed event bodies.
	ErrInvalidPayload = errors.New("invalid_payload")
	// ErrEventAlreadyProcessed is the idempotency short-circuit for
	// re-delivered events.
	ErrEventAlreadyProcessed = errors.New("event_already_processed")
	// ErrEventIgnored marks event types this engine does not consume.
	ErrEventIgnored = errors.New("event_ignored")
	// ErrUnresolvedBooking means the event references no known booking.
	ErrUnresolvedBooking = errors.New("event_booking_unresolved")
)

const (
	EventChargeSucceeded       = "charge.succeeded"
	EventChargeFailed          = "charge.failed"
	EventInvoiceFailed         = "invoice.payment_failed"
	EventSubscriptionUpdated   = "subscription.updated"
	EventSubscriptionCancelled = "subscription.cancelled"
	EventDisputeCreated        = "dispute.created"
	EventDisputeClosed         = "dispute.closed"
	EventChargeRefunded        = "charge.refunded"
)

const (
	DisputeWon  = "won"
	DisputeLost = "lost"
)

// Event is the parsed, validated form of one processor notification.
type Event struct {
	ProviderEventID     string
	Type                string
	TransactionID       string
	SubscriptionID      string
	BookingID           snowflake.ID
	AmountCents         int64
	AmountRefundedCents int64
	SubscriptionStatus  string
	DisputeOutcome      string
	OccurredAt          time.Time
	RawPayload          []byte
}

// EventRecord is the durable dedup row, keyed by the processor's event id.
type EventRecord struct {
	ID              snowflake.ID   `gorm:"primaryKey"`
	ProviderEventID string         `gorm:"type:text;not null;uniqueIndex"`
	EventType       string         `gorm:"type:text;not null"`
	Payload         datatypes.JSON `gorm:"not null"`
	ReceivedAt      time.Time      `gorm:"not null"`
	ProcessedAt     *time.Time     `gorm:""`
}

func (EventRecord) TableName() string { return "webhook_events" }

// RetryEntry queues an event whose handler faulted. The receipt was already
// acknowledged upstream; redelivery is entirely our responsibility.
type RetryEntry struct {
	ID              snowflake.ID   `gorm:"primaryKey"`
	ProviderEventID string         `gorm:"type:text;not null;index"`
	EventType       string         `gorm:"type:text;not null"`
	Payload         datatypes.JSON `gorm:"not null"`
	FailureReason   string         `gorm:"type:text;not null"`
	AttemptCount    int            `gorm:"not null;default:0"`
	NextAttemptAt   time.Time      `gorm:"not null;index"`
	ResolvedAt      *time.Time     `gorm:""`
	CreatedAt       time.Time      `gorm:"not null"`
	UpdatedAt       time.Time      `gorm:"not null"`
}

func (RetryEntry) TableName() string { return "webhook_retry_entries" }
