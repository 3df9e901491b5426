// Package domain contains the referral code model. A code grants the client a
// per-hour discount and credits its marketing owner a per-hour commission.
package domain

import (
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
)

type ReferralCode struct {
	ID                        snowflake.ID `gorm:"primaryKey"`
	OwnerID                   snowflake.ID `gorm:"not null;index"`
	Code                      string       `gorm:"type:text;not null;uniqueIndex"`
	DiscountCentsPerHour      int64        `gorm:"not null;default:0"`
	MarketingRateCentsPerHour int64        `gorm:"not null;default:0"`
	Active                    bool         `gorm:"not null;default:true"`
	// UsageCount increments when a booking attaches the code, not on payment.
	UsageCount int64     `gorm:"not null;default:0"`
	CreatedAt  time.Time `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

func (ReferralCode) TableName() string { return "referral_codes" }

var ErrNotFound = errors.New("referral_code_not_found")
