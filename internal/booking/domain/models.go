// Package domain contains persistence models for bookings and their payments.
package domain

import (
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
)

// PaymentStatus tracks where a booking's current charge cycle stands.
type PaymentStatus string

const (
	PaymentStatusUnpaid            PaymentStatus = "unpaid"
	PaymentStatusPaid              PaymentStatus = "paid"
	PaymentStatusFailed            PaymentStatus = "failed"
	PaymentStatusDisputed          PaymentStatus = "disputed"
	PaymentStatusRefunded          PaymentStatus = "refunded"
	PaymentStatusPartiallyRefunded PaymentStatus = "partially_refunded"
)

// RecurringStatus is the auto-renewal lifecycle state.
type RecurringStatus string

const (
	RecurringStatusInactive  RecurringStatus = "inactive"
	RecurringStatusActive    RecurringStatus = "active"
	RecurringStatusPaused    RecurringStatus = "paused"
	RecurringStatusCancelled RecurringStatus = "cancelled"
	RecurringStatusFailed    RecurringStatus = "failed"
)

// Booking captures the payment-relevant surface of a client engagement.
// Scheduling and CRUD live elsewhere; this engine only reads the service
// window and owns the payment and recurring fields.
type Booking struct {
	ID              snowflake.ID  `gorm:"primaryKey"`
	ClientID        snowflake.ID  `gorm:"not null;index"`
	ProviderID      *snowflake.ID `gorm:"index"`
	ServiceStart    time.Time     `gorm:"not null"`
	DurationDays    int           `gorm:"not null"`
	HourlyRateCents int64         `gorm:"not null"`
	HoursPerDay     float64       `gorm:"not null"`

	PaymentStatus PaymentStatus `gorm:"type:text;not null;default:unpaid"`
	// ChargeCycle numbers the billing periods; exactly one settled Payment
	// may exist per (booking, cycle).
	ChargeCycle int `gorm:"not null;default:1"`

	RecurringService        bool            `gorm:"not null;default:false"`
	AutoPayEnabled          bool            `gorm:"not null;default:false"`
	RecurringStatus         RecurringStatus `gorm:"type:text;not null;default:inactive"`
	RecurringFailedAttempts int             `gorm:"not null;default:0"`
	NextPaymentDate         *time.Time      `gorm:""`

	ReferralCodeID         *snowflake.ID `gorm:"index"`
	ExternalSubscriptionID *string       `gorm:"type:text;index"`
	ExternalTransactionID  *string       `gorm:"type:text"`
	SavedInstrumentID      *string       `gorm:"type:text"`

	CreatedAt time.Time `gorm:"not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt time.Time `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

func (Booking) TableName() string { return "bookings" }

// PaymentRecordStatus tracks post-capture corrections on a Payment.
type PaymentRecordStatus string

const (
	PaymentRecordStatusSettled           PaymentRecordStatus = "settled"
	PaymentRecordStatusDisputed          PaymentRecordStatus = "disputed"
	PaymentRecordStatusRefunded          PaymentRecordStatus = "refunded"
	PaymentRecordStatusPartiallyRefunded PaymentRecordStatus = "partially_refunded"
)

// Payment is the immutable record of a successful client charge. Only an
// explicit refund or dispute resolution may touch Status afterwards.
type Payment struct {
	ID                    snowflake.ID        `gorm:"primaryKey"`
	BookingID             snowflake.ID        `gorm:"not null;uniqueIndex:ux_payments_booking_cycle,priority:1"`
	ChargeCycle           int                 `gorm:"not null;uniqueIndex:ux_payments_booking_cycle,priority:2"`
	AmountCents           int64               `gorm:"not null"`
	ProcessingFeeCents    int64               `gorm:"not null"`
	TargetCents           int64               `gorm:"not null"`
	ExternalTransactionID string              `gorm:"type:text;not null"`
	Status                PaymentRecordStatus `gorm:"type:text;not null;default:settled"`
	RefundedCents         int64               `gorm:"not null;default:0"`
	CreatedAt             time.Time           `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

func (Payment) TableName() string { return "payments" }

var (
	ErrNotFound      = errors.New("booking_not_found")
	ErrUnauthorized  = errors.New("booking_unauthorized")
	ErrAlreadyPaid   = errors.New("booking_already_paid")
	ErrInvalidAmount = errors.New("invalid_amount")
	ErrDisputed      = errors.New("booking_disputed")
)
