package repository

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/carepayhq/carepay/internal/provider/domain"
	"gorm.io/gorm"
)

type Repository interface {
	Find(ctx context.Context, conn *gorm.DB, id snowflake.ID) (*domain.Provider, error)
	FlagCannotPayout(ctx context.Context, conn *gorm.DB, id snowflake.ID, flag bool, now time.Time) error
	SetLastPayout(ctx context.Context, tx *gorm.DB, id snowflake.ID, at time.Time) error
}

type repo struct{}

func Provide() Repository {
	return &repo{}
}

func (r *repo) Find(ctx context.Context, conn *gorm.DB, id snowflake.ID) (*domain.Provider, error) {
	var item domain.Provider
	err := conn.WithContext(ctx).Raw(
		`SELECT id, class, contract_rate_cents, training_center_id, training_rate_cents,
			payout_frequency, payout_day, instrument_verified, processor_account_id,
			cannot_payout, last_payout_at, created_at, updated_at
		 FROM providers
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

func (r *repo) FlagCannotPayout(ctx context.Context, conn *gorm.DB, id snowflake.ID, flag bool, now time.Time) error {
	return conn.WithContext(ctx).Exec(
		`UPDATE providers
		 SET cannot_payout = ?, updated_at = ?
		 WHERE id = ?`,
		flag,
		now,
		id,
	).Error
}

func (r *repo) SetLastPayout(ctx context.Context, tx *gorm.DB, id snowflake.ID, at time.Time) error {
	return tx.WithContext(ctx).Exec(
		`UPDATE providers
		 SET last_payout_at = ?, updated_at = ?
		 WHERE id = ?`,
		at,
		at,
		id,
	).Error
}
