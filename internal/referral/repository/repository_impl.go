package repository

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"github.com/carepayhq/carepay/internal/referral/domain"
	"gorm.io/gorm"
)

type Repository interface {
	Find(ctx context.Context, conn *gorm.DB, id snowflake.ID) (*domain.ReferralCode, error)
	FindByCode(ctx context.Context, conn *gorm.DB, code string) (*domain.ReferralCode, error)
	IncrementUsage(ctx context.Context, conn *gorm.DB, id snowflake.ID) error
}

type repo struct{}

func Provide() Repository {
	return &repo{}
}

func (r *repo) Find(ctx context.Context, conn *gorm.DB, id snowflake.ID) (*domain.ReferralCode, error) {
	var item domain.ReferralCode
	err := conn.WithContext(ctx).Raw(
		`SELECT id, owner_id, code, discount_cents_per_hour, marketing_rate_cents_per_hour,
			active, usage_count, created_at
		 FROM referral_codes
		 WHERE id = ?
		 LIMIT 1`,
		id,
	).Scan(&item).Error
	if err != nil {
		return nil, err
	}
	if item.ID == 0 {
		return nil, domain.ErrNotFound
	}
	return &item, nil
}

func (r *repo) FindByCode(ctx context.Context, conn *gorm.DB, code string) (*domain.ReferralCode, error) {
	var item domain.ReferralCode
	err := conn.WithContext(ctx).Raw(
		`SELECT id, owner_id, code, discount_cents_per_hour, marketing_rate_cents_per_hour,
			active, usage_count, created_at
		 FROM referral_codes
		 WHERE code = ?
		 LIMIT 1`,
		code,
	).Scan(&item).Error
	if err != nil {
		return nil, err
	}
	if item.ID == 0 {
		return nil, domain.ErrNotFound
	}
	return &item, nil
}

func (r *repo) IncrementUsage(ctx context.Context, conn *gorm.DB, id snowflake.ID) error {
	return conn.WithContext(ctx).Exec(
		`UPDATE referral_codes
		 SET usage_count = usage_count + 1
		 WHERE id = ?`,
		id,
	).Error
}
