package repository

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/carepayhq/carepay/internal/timesheet/domain"
	"github.com/carepayhq/carepay/pkg/db"
	"gorm.io/gorm"
)

type Repository interface {
	Insert(ctx context.Context, conn *gorm.DB, record *domain.TimeTrackingRecord) error
	Find(ctx context.Context, conn *gorm.DB, id snowflake.ID) (*domain.TimeTrackingRecord, error)
	FindActiveForProvider(ctx context.Context, conn *gorm.DB, providerID snowflake.ID) (*domain.TimeTrackingRecord, error)
	Finalize(ctx context.Context, conn *gorm.DB, id snowflake.ID, clockOutAt time.Time, hours float64, now time.Time) error
	// WriteSplit persists the four split amounts; it only succeeds when the
	// split has not been computed yet.
	WriteSplit(ctx context.Context, tx *gorm.DB, record *domain.TimeTrackingRecord, now time.Time) (bool, error)
	// ClaimPayable locks pending settled records for a payout run.
	ClaimPayable(ctx context.Context, tx *gorm.DB, limit int) ([]domain.TimeTrackingRecord, error)
	AttachPayout(ctx context.Context, tx *gorm.DB, recordIDs []snowflake.ID, payoutID snowflake.ID, now time.Time) error
	MarkPaid(ctx context.Context, tx *gorm.DB, payoutID snowflake.ID, paidAt time.Time) error
	ReleasePayout(ctx context.Context, tx *gorm.DB, payoutID snowflake.ID, now time.Time) error
}

type repo struct{}

func Provide() Repository {
	return &repo{}
}

const recordColumns = `id, provider_id, booking_id, clock_in_at, clock_out_at, hours_worked,
	status, payment_status, split_computed_at, total_charge_cents, provider_earnings_cents,
	marketing_commission_cents, training_commission_cents, agency_commission_cents,
	payout_transaction_id, paid_at, created_at, updated_at`

func (r *repo) Insert(ctx context.Context, conn *gorm.DB, record *domain.TimeTrackingRecord) error {
	return conn.WithContext(ctx).Exec(
		`INSERT INTO time_tracking_records (
			id, provider_id, booking_id, clock_in_at, status, payment_status, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		record.ID,
		record.ProviderID,
		record.BookingID,
		record.ClockInAt,
		record.Status,
		record.PaymentStatus,
		record.CreatedAt,
		record.UpdatedAt,
	).Error
}

func (r *repo) Find(ctx context.Context, conn *gorm.DB, id snowflake.ID) (*domain.TimeTrackingRecord, error) {
	var item domain.TimeTrackingRecord
	err := conn.WithContext(ctx).Raw(
		`SELECT `+recordColumns+`
		 FROM time_tracking_records
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

func (r *repo) FindActiveForProvider(ctx context.Context, conn *gorm.DB, providerID snowflake.ID) (*domain.TimeTrackingRecord, error) {
	var item domain.TimeTrackingRecord
	err := conn.WithContext(ctx).Raw(
		`SELECT `+recordColumns+`
		 FROM time_tracking_records
		 WHERE provider_id = ? AND status = ?
		 LIMIT 1`,
		providerID,
		domain.SessionActive,
	).Scan(&item).Error
	if err != nil {
		return nil, err
	}
	if item.ID == 0 {
		return nil, nil
	}
	return &item, nil
}

func (r *repo) Finalize(ctx context.Context, conn *gorm.DB, id snowflake.ID, clockOutAt time.Time, hours float64, now time.Time) error {
	return conn.WithContext(ctx).Exec(
		`UPDATE time_tracking_records
		 SET clock_out_at = ?, hours_worked = ?, status = ?, updated_at = ?
		 WHERE id = ? AND status = ?`,
		clockOutAt,
		hours,
		domain.SessionCompleted,
		now,
		id,
		domain.SessionActive,
	).Error
}

func (r *repo) WriteSplit(ctx context.Context, tx *gorm.DB, record *domain.TimeTrackingRecord, now time.Time) (bool, error) {
	res := tx.WithContext(ctx).Exec(
		`UPDATE time_tracking_records
		 SET split_computed_at = ?, total_charge_cents = ?, provider_earnings_cents = ?,
			marketing_commission_cents = ?, training_commission_cents = ?,
			agency_commission_cents = ?, updated_at = ?
		 WHERE id = ? AND split_computed_at IS NULL AND payment_status = ?`,
		now,
		record.TotalChargeCents,
		record.ProviderEarningsCents,
		record.MarketingCommissionCents,
		record.TrainingCommissionCents,
		record.AgencyCommissionCents,
		now,
		record.ID,
		domain.SettlementPending,
	)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *repo) ClaimPayable(ctx context.Context, tx *gorm.DB, limit int) ([]domain.TimeTrackingRecord, error) {
	var records []domain.TimeTrackingRecord
	err := tx.WithContext(ctx).Raw(
		`SELECT `+recordColumns+`
		 FROM time_tracking_records
		 WHERE payment_status = ?
		   AND split_computed_at IS NOT NULL
		   AND payout_transaction_id IS NULL
		 ORDER BY id
		 LIMIT ?`+db.ForUpdateSkipLocked(tx),
		domain.SettlementPending,
		limit,
	).Scan(&records).Error
	if err != nil {
		return nil, err
	}
	return records, nil
}

func (r *repo) AttachPayout(ctx context.Context, tx *gorm.DB, recordIDs []snowflake.ID, payoutID snowflake.ID, now time.Time) error {
	if len(recordIDs) == 0 {
		return nil
	}
	return tx.WithContext(ctx).Exec(
		`UPDATE time_tracking_records
		 SET payout_transaction_id = ?, updated_at = ?
		 WHERE id IN ? AND payout_transaction_id IS NULL`,
		payoutID,
		now,
		recordIDs,
	).Error
}

func (r *repo) MarkPaid(ctx context.Context, tx *gorm.DB, payoutID snowflake.ID, paidAt time.Time) error {
	return tx.WithContext(ctx).Exec(
		`UPDATE time_tracking_records
		 SET payment_status = ?, paid_at = ?, updated_at = ?
		 WHERE payout_transaction_id = ?`,
		domain.SettlementPaid,
		paidAt,
		paidAt,
		payoutID,
	).Error
}

func (r *repo) ReleasePayout(ctx context.Context, tx *gorm.DB, payoutID snowflake.ID, now time.Time) error {
	return tx.WithContext(ctx).Exec(
		`UPDATE time_tracking_records
		 SET payout_transaction_id = NULL, updated_at = ?
		 WHERE payout_transaction_id = ? AND payment_status = ?`,
		now,
		payoutID,
		domain.SettlementPending,
	).Error
}
