package repository

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/carepayhq/carepay/internal/payout/domain"
	"gorm.io/gorm"
)

type Repository interface {
	Insert(ctx context.Context, tx *gorm.DB, payout *domain.PayoutTransaction) error
	MarkCompleted(ctx context.Context, tx *gorm.DB, id snowflake.ID, transferID string, at time.Time) error
	MarkFailed(ctx context.Context, tx *gorm.DB, id snowflake.ID, reason string, now time.Time) error
	ListForProvider(ctx context.Context, conn *gorm.DB, providerID snowflake.ID, limit int) ([]domain.PayoutTransaction, error)
}

type repo struct{}

func Provide() Repository {
	return &repo{}
}

func (r *repo) Insert(ctx context.Context, tx *gorm.DB, payout *domain.PayoutTransaction) error {
	return tx.WithContext(ctx).Exec(
		`INSERT INTO payout_transactions
			(id, provider_id, amount_cents, record_count, status, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		payout.ID,
		payout.ProviderID,
		payout.AmountCents,
		payout.RecordCount,
		payout.Status,
		payout.CreatedAt,
	).Error
}

func (r *repo) MarkCompleted(ctx context.Context, tx *gorm.DB, id snowflake.ID, transferID string, at time.Time) error {
	return tx.WithContext(ctx).Exec(
		`UPDATE payout_transactions
		 SET status = ?, external_transfer_id = ?, completed_at = ?
		 WHERE id = ? AND status = ?`,
		domain.PayoutCompleted,
		transferID,
		at,
		id,
		domain.PayoutPending,
	).Error
}

func (r *repo) MarkFailed(ctx context.Context, tx *gorm.DB, id snowflake.ID, reason string, now time.Time) error {
	return tx.WithContext(ctx).Exec(
		`UPDATE payout_transactions
		 SET status = ?, failure_reason = ?
		 WHERE id = ? AND status = ?`,
		domain.PayoutFailed,
		reason,
		id,
		domain.PayoutPending,
	).Error
}

func (r *repo) ListForProvider(ctx context.Context, conn *gorm.DB, providerID snowflake.ID, limit int) ([]domain.PayoutTransaction, error) {
	var payouts []domain.PayoutTransaction
	err := conn.WithContext(ctx).Raw(
		`SELECT id, provider_id, amount_cents, record_count, status,
			external_transfer_id, failure_reason, created_at, completed_at
		 FROM payout_transactions
		 WHERE provider_id = ?
		 ORDER BY created_at DESC
		 LIMIT ?`,
		providerID,
		limit,
	).Scan(&payouts).Error
	if err != nil {
		return nil, err
	}
	return payouts, nil
}
