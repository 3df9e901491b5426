// Package domain defines payout batches: one transaction aggregates a
// provider's settled, unpaid earnings into a single processor transfer.
package domain

import (
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
)

type PayoutStatus string

const (
	PayoutPending   PayoutStatus = "pending"
	PayoutCompleted PayoutStatus = "completed"
	PayoutFailed    PayoutStatus = "failed"
)

// PayoutTransaction is one batch transfer to one provider. The settled
// records point back at it through payout_transaction_id; a failed payout
// releases them for the next run.
type PayoutTransaction struct {
	ID                 snowflake.ID `gorm:"primaryKey"`
	ProviderID         snowflake.ID `gorm:"not null;index"`
	AmountCents        int64        `gorm:"not null"`
	RecordCount        int          `gorm:"not null"`
	Status             PayoutStatus `gorm:"type:text;not null;default:pending"`
	ExternalTransferID *string      `gorm:"type:text"`
	FailureReason      *string      `gorm:"type:text"`
	CreatedAt          time.Time    `gorm:"not null"`
	CompletedAt        *time.Time   `gorm:""`
}

func (PayoutTransaction) TableName() string { return "payout_transactions" }

// Summary reports one payout run.
type Summary struct {
	PaidCount        int   `json:"paid_count"`
	FailedCount      int   `json:"failed_count"`
	TotalAmountCents int64 `json:"total_amount"`
}

var ErrInvalidFrequency = errors.New("invalid_payout_frequency")
