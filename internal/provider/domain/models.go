// Package domain contains the provider (caregiver/housekeeper) billing profile.
package domain

import (
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
)

type ProviderClass string

const (
	ClassCaregiver   ProviderClass = "caregiver"
	ClassHousekeeper ProviderClass = "housekeeper"
)

// PayoutFrequency is how often a provider receives settled earnings.
type PayoutFrequency string

const (
	PayoutWeekly   PayoutFrequency = "weekly"
	PayoutBiweekly PayoutFrequency = "biweekly"
	PayoutMonthly  PayoutFrequency = "monthly"
)

// Provider holds the billing-relevant slice of a provider: the contracted
// hourly rate, an optional training-center affiliation (caregivers only) and
// payout preferences. Identity and onboarding live outside this engine.
type Provider struct {
	ID                snowflake.ID  `gorm:"primaryKey"`
	Class             ProviderClass `gorm:"type:text;not null"`
	ContractRateCents int64         `gorm:"not null"`

	TrainingCenterID  *snowflake.ID `gorm:"index"`
	TrainingRateCents int64         `gorm:"not null;default:0"`

	PayoutFrequency PayoutFrequency `gorm:"type:text;not null;default:weekly"`
	// PayoutDay: weekday (0=Sunday) for weekly/biweekly, day of month for monthly.
	PayoutDay          int     `gorm:"not null;default:5"`
	InstrumentVerified bool    `gorm:"not null;default:false"`
	ProcessorAccountID *string `gorm:"type:text"`
	CannotPayout       bool    `gorm:"not null;default:false"`
	LastPayoutAt       *time.Time

	CreatedAt time.Time `gorm:"not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt time.Time `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

func (Provider) TableName() string { return "providers" }

var ErrNotFound = errors.New("provider_not_found")
