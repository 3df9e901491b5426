package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

// Repository reads and mutates bookings and payments inside a caller-supplied
// transaction handle, so money-affecting writes share one atomic boundary.
type Repository interface {
	// FindForUpdate loads the booking holding an exclusive row lock for the
	// span of tx. Callers must run inside tx.Transaction.
	FindForUpdate(ctx context.Context, tx *gorm.DB, id snowflake.ID) (*Booking, error)
	Find(ctx context.Context, db *gorm.DB, id snowflake.ID) (*Booking, error)
	FindBySubscription(ctx context.Context, db *gorm.DB, subscriptionID string) (*Booking, error)

	MarkPaid(ctx context.Context, tx *gorm.DB, id snowflake.ID, externalTxnID string, autoPay bool, now time.Time) error
	SetReferralCode(ctx context.Context, tx *gorm.DB, id snowflake.ID, codeID snowflake.ID, now time.Time) error
	SaveInstrument(ctx context.Context, tx *gorm.DB, id snowflake.ID, instrumentID string, now time.Time) error
	UpdatePaymentStatus(ctx context.Context, tx *gorm.DB, id snowflake.ID, status PaymentStatus, now time.Time) error
	IncrementFailedAttempts(ctx context.Context, tx *gorm.DB, id snowflake.ID, now time.Time) (int, error)
	UpdateRecurring(ctx context.Context, tx *gorm.DB, id snowflake.ID, status RecurringStatus, autoPay bool, nextPayment *time.Time, now time.Time) error
	// AdvanceChargeCycle opens the next billing period for a renewed booking.
	AdvanceChargeCycle(ctx context.Context, tx *gorm.DB, id snowflake.ID, now time.Time) (int, error)

	// InsertPayment inserts the immutable Payment row; returns false when one
	// already exists for the booking's charge cycle.
	InsertPayment(ctx context.Context, tx *gorm.DB, payment *Payment) (bool, error)
	FindPayment(ctx context.Context, db *gorm.DB, bookingID snowflake.ID, chargeCycle int) (*Payment, error)
	UpdatePaymentRecordStatus(ctx context.Context, tx *gorm.DB, paymentID snowflake.ID, status PaymentRecordStatus, refundedCents int64) error
}
