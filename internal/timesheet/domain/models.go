// Package domain contains the time-tracking record, the billing unit for
// settlement. One record is one clock-in/clock-out session.
package domain

import (
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
)

type SessionStatus string

const (
	SessionActive    SessionStatus = "active"
	SessionCompleted SessionStatus = "completed"
)

type SettlementStatus string

const (
	SettlementPending SettlementStatus = "pending"
	SettlementPaid    SettlementStatus = "paid"
)

// TimeTrackingRecord is weakly linked to a booking: a provider's session may
// predate assignment resolution, so BookingID is lookup-only, not ownership.
type TimeTrackingRecord struct {
	ID         snowflake.ID  `gorm:"primaryKey"`
	ProviderID snowflake.ID  `gorm:"not null;index"`
	BookingID  *snowflake.ID `gorm:"index"`

	ClockInAt  time.Time  `gorm:"not null"`
	ClockOutAt *time.Time `gorm:""`
	// HoursWorked is derived at clock-out and never negative.
	HoursWorked float64       `gorm:"not null;default:0"`
	Status      SessionStatus `gorm:"type:text;not null;default:active"`

	PaymentStatus SettlementStatus `gorm:"type:text;not null;default:pending"`

	// Split amounts, written once by the earnings engine.
	SplitComputedAt          *time.Time `gorm:""`
	TotalChargeCents         int64      `gorm:"not null;default:0"`
	ProviderEarningsCents    int64      `gorm:"not null;default:0"`
	MarketingCommissionCents int64      `gorm:"not null;default:0"`
	TrainingCommissionCents  int64      `gorm:"not null;default:0"`
	AgencyCommissionCents    int64      `gorm:"not null;default:0"`

	PayoutTransactionID *snowflake.ID `gorm:"index"`
	PaidAt              *time.Time    `gorm:""`

	CreatedAt time.Time `gorm:"not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt time.Time `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

func (TimeTrackingRecord) TableName() string { return "time_tracking_records" }

// Settled reports whether the split has been computed for this record.
func (r *TimeTrackingRecord) Settled() bool {
	return r.SplitComputedAt != nil
}

var (
	ErrNotFound       = errors.New("time_record_not_found")
	ErrSessionOpen    = errors.New("time_record_session_open")
	ErrAlreadySettled = errors.New("time_record_already_settled")
	ErrAlreadyPaid    = errors.New("time_record_already_paid")
	ErrActiveSession  = errors.New("time_record_active_session_exists")
)
