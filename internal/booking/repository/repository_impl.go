package repository

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/carepayhq/carepay/internal/booking/domain"
	"github.com/carepayhq/carepay/pkg/db"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

const bookingColumns = `id, client_id, provider_id, service_start, duration_days,
	hourly_rate_cents, hours_per_day, payment_status, charge_cycle,
	recurring_service, auto_pay_enabled, recurring_status, recurring_failed_attempts,
	next_payment_date, referral_code_id, external_subscription_id,
	external_transaction_id, saved_instrument_id, created_at, updated_at`

func (r *repo) FindForUpdate(ctx context.Context, tx *gorm.DB, id snowflake.ID) (*domain.Booking, error) {
	var item domain.Booking
	err := tx.WithContext(ctx).Raw(
		`SELECT `+bookingColumns+`
		 FROM bookings
		 WHERE id = ?`+db.ForUpdate(tx),
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

func (r *repo) Find(ctx context.Context, conn *gorm.DB, id snowflake.ID) (*domain.Booking, error) {
	var item domain.Booking
	err := conn.WithContext(ctx).Raw(
		`SELECT `+bookingColumns+`
		 FROM bookings
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

func (r *repo) FindBySubscription(ctx context.Context, conn *gorm.DB, subscriptionID string) (*domain.Booking, error) {
	var item domain.Booking
	err := conn.WithContext(ctx).Raw(
		`SELECT `+bookingColumns+`
		 FROM bookings
		 WHERE external_subscription_id = ?
		 LIMIT 1`,
		subscriptionID,
	).Scan(&item).Error
	if err != nil {
		return nil, err
	}
	if item.ID == 0 {
		return nil, domain.ErrNotFound
	}
	return &item, nil
}

func (r *repo) MarkPaid(ctx context.Context, tx *gorm.DB, id snowflake.ID, externalTxnID string, autoPay bool, now time.Time) error {
	return tx.WithContext(ctx).Exec(
		`UPDATE bookings
		 SET payment_status = ?, external_transaction_id = ?, auto_pay_enabled = ?, updated_at = ?
		 WHERE id = ?`,
		domain.PaymentStatusPaid,
		externalTxnID,
		autoPay,
		now,
		id,
	).Error
}

func (r *repo) SetReferralCode(ctx context.Context, tx *gorm.DB, id snowflake.ID, codeID snowflake.ID, now time.Time) error {
	return tx.WithContext(ctx).Exec(
		`UPDATE bookings
		 SET referral_code_id = ?, updated_at = ?
		 WHERE id = ?`,
		codeID,
		now,
		id,
	).Error
}

func (r *repo) SaveInstrument(ctx context.Context, tx *gorm.DB, id snowflake.ID, instrumentID string, now time.Time) error {
	return tx.WithContext(ctx).Exec(
		`UPDATE bookings
		 SET saved_instrument_id = ?, updated_at = ?
		 WHERE id = ?`,
		instrumentID,
		now,
		id,
	).Error
}

func (r *repo) UpdatePaymentStatus(ctx context.Context, tx *gorm.DB, id snowflake.ID, status domain.PaymentStatus, now time.Time) error {
	return tx.WithContext(ctx).Exec(
		`UPDATE bookings
		 SET payment_status = ?, updated_at = ?
		 WHERE id = ?`,
		status,
		now,
		id,
	).Error
}

func (r *repo) IncrementFailedAttempts(ctx context.Context, tx *gorm.DB, id snowflake.ID, now time.Time) (int, error) {
	if err := tx.WithContext(ctx).Exec(
		`UPDATE bookings
		 SET recurring_failed_attempts = recurring_failed_attempts + 1, updated_at = ?
		 WHERE id = ?`,
		now,
		id,
	).Error; err != nil {
		return 0, err
	}
	var attempts int
	if err := tx.WithContext(ctx).Raw(
		`SELECT recurring_failed_attempts FROM bookings WHERE id = ?`,
		id,
	).Scan(&attempts).Error; err != nil {
		return 0, err
	}
	return attempts, nil
}

func (r *repo) UpdateRecurring(ctx context.Context, tx *gorm.DB, id snowflake.ID, status domain.RecurringStatus, autoPay bool, nextPayment *time.Time, now time.Time) error {
	return tx.WithContext(ctx).Exec(
		`UPDATE bookings
		 SET recurring_status = ?, auto_pay_enabled = ?, next_payment_date = ?, updated_at = ?
		 WHERE id = ?`,
		status,
		autoPay,
		nextPayment,
		now,
		id,
	).Error
}

func (r *repo) AdvanceChargeCycle(ctx context.Context, tx *gorm.DB, id snowflake.ID, now time.Time) (int, error) {
	if err := tx.WithContext(ctx).Exec(
		`UPDATE bookings
		 SET charge_cycle = charge_cycle + 1, updated_at = ?
		 WHERE id = ?`,
		now,
		id,
	).Error; err != nil {
		return 0, err
	}
	var cycle int
	if err := tx.WithContext(ctx).Raw(
		`SELECT charge_cycle FROM bookings WHERE id = ?`,
		id,
	).Scan(&cycle).Error; err != nil {
		return 0, err
	}
	return cycle, nil
}

func (r *repo) InsertPayment(ctx context.Context, tx *gorm.DB, payment *domain.Payment) (bool, error) {
	res := tx.WithContext(ctx).Exec(
		`INSERT INTO payments (
			id, booking_id, charge_cycle, amount_cents, processing_fee_cents,
			target_cents, external_transaction_id, status, refunded_cents, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (booking_id, charge_cycle) DO NOTHING`,
		payment.ID,
		payment.BookingID,
		payment.ChargeCycle,
		payment.AmountCents,
		payment.ProcessingFeeCents,
		payment.TargetCents,
		payment.ExternalTransactionID,
		payment.Status,
		payment.RefundedCents,
		payment.CreatedAt,
	)
	if res.Error != nil {
		if db.IsDuplicateKeyErr(res.Error) {
			return false, nil
		}
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *repo) FindPayment(ctx context.Context, conn *gorm.DB, bookingID snowflake.ID, chargeCycle int) (*domain.Payment, error) {
	var item domain.Payment
	err := conn.WithContext(ctx).Raw(
		`SELECT id, booking_id, charge_cycle, amount_cents, processing_fee_cents,
			target_cents, external_transaction_id, status, refunded_cents, created_at
		 FROM payments
		 WHERE booking_id = ? AND charge_cycle = ?
		 LIMIT 1`,
		bookingID,
		chargeCycle,
	).Scan(&item).Error
	if err != nil {
		return nil, err
	}
	if item.ID == 0 {
		return nil, nil
	}
	return &item, nil
}

func (r *repo) UpdatePaymentRecordStatus(ctx context.Context, tx *gorm.DB, paymentID snowflake.ID, status domain.PaymentRecordStatus, refundedCents int64) error {
	return tx.WithContext(ctx).Exec(
		`UPDATE payments
		 SET status = ?, refunded_cents = ?
		 WHERE id = ?`,
		status,
		refundedCents,
		paymentID,
	).Error
}
