package service

import (
	"context"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/carepayhq/carepay/internal/actor"
	bookingdomain "github.com/carepayhq/carepay/internal/booking/domain"
	bookingrepo "github.com/carepayhq/carepay/internal/booking/repository"
	"github.com/carepayhq/carepay/internal/clock"
	"github.com/carepayhq/carepay/internal/notify"
	"github.com/carepayhq/carepay/internal/recurring/domain"
	"github.com/carepayhq/carepay/internal/settings"
	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
	"gorm.io/gorm"
)

func setupDB(t *testing.T) *gorm.DB {
	db, err := gorm.Open(sqlite.Open("file::memory:"), &gorm.Config{})
	require.NoError(t, err)
	db.Exec(`CREATE TABLE bookings (
		id BIGINT PRIMARY KEY,
		client_id BIGINT NOT NULL,
		provider_id BIGINT,
		service_start TIMESTAMP NOT NULL,
		duration_days INTEGER NOT NULL,
		hourly_rate_cents BIGINT NOT NULL,
		hours_per_day REAL NOT NULL,
		payment_status TEXT NOT NULL DEFAULT 'unpaid',
		charge_cycle INTEGER NOT NULL DEFAULT 1,
		recurring_service BOOLEAN NOT NULL DEFAULT FALSE,
		auto_pay_enabled BOOLEAN NOT NULL DEFAULT FALSE,
		recurring_status TEXT NOT NULL DEFAULT 'inactive',
		recurring_failed_attempts INTEGER NOT NULL DEFAULT 0,
		next_payment_date TIMESTAMP,
		referral_code_id BIGINT,
		external_subscription_id TEXT,
		external_transaction_id TEXT,
		saved_instrument_id TEXT,
		created_at TIMESTAMP NOT NULL,
		updated_at TIMESTAMP NOT NULL
	)`)
	return db
}

func newService(t *testing.T, db *gorm.DB, clk clock.Clock) *Service {
	log := zaptest.NewLogger(t)
	return &Service{
		db:          db,
		log:         log,
		clock:       clk,
		settings:    settings.NewStatic(settings.Billing{RecurringMaxAttempts: 3}),
		notifier:    notify.NewLogNotifier(log),
		bookingRepo: bookingrepo.Provide(),
	}
}

func seedBooking(t *testing.T, db *gorm.DB, node *snowflake.Node, clientID snowflake.ID, status bookingdomain.RecurringStatus, instrument *string) snowflake.ID {
	id := node.Generate()
	now := time.Now().UTC()
	err := db.Exec(`INSERT INTO bookings
		(id, client_id, service_start, duration_days, hourly_rate_cents, hours_per_day,
		 payment_status, charge_cycle, recurring_service, auto_pay_enabled, recurring_status,
		 recurring_failed_attempts, saved_instrument_id, created_at, updated_at)
		VALUES (?, ?, ?, 30, 2500, 4, 'paid', 1, TRUE, ?, ?, 0, ?, ?, ?)`,
		id, clientID, now, status == bookingdomain.RecurringStatusActive, status, instrument, now, now,
	).Error
	require.NoError(t, err)
	return id
}

func strPtr(s string) *string { return &s }

func TestApplyTransitions(t *testing.T) {
	ctx := context.Background()
	clk := clock.NewFakeClock(time.Date(2024, 4, 1, 8, 0, 0, 0, time.UTC))
	node, _ := snowflake.NewNode(5)

	t.Run("EnableRequiresInstrument", func(t *testing.T) {
		db := setupDB(t)
		svc := newService(t, db, clk)
		clientID := node.Generate()
		bookingID := seedBooking(t, db, node, clientID, bookingdomain.RecurringStatusInactive, nil)

		err := svc.Apply(ctx, bookingID, domain.ActionEnable, actor.Actor{ID: clientID, Role: actor.RoleClient})
		assert.ErrorIs(t, err, domain.ErrNoInstrumentOnFile)
	})

	t.Run("EnableActivatesAndSchedulesNextCharge", func(t *testing.T) {
		db := setupDB(t)
		svc := newService(t, db, clk)
		clientID := node.Generate()
		bookingID := seedBooking(t, db, node, clientID, bookingdomain.RecurringStatusInactive, strPtr("pm_test"))

		err := svc.Apply(ctx, bookingID, domain.ActionEnable, actor.Actor{ID: clientID, Role: actor.RoleClient})
		require.NoError(t, err)

		booking, err := svc.bookingRepo.Find(ctx, db, bookingID)
		require.NoError(t, err)
		assert.Equal(t, bookingdomain.RecurringStatusActive, booking.RecurringStatus)
		assert.True(t, booking.AutoPayEnabled)
		require.NotNil(t, booking.NextPaymentDate)
	})

	t.Run("PauseThenResume", func(t *testing.T) {
		db := setupDB(t)
		svc := newService(t, db, clk)
		clientID := node.Generate()
		bookingID := seedBooking(t, db, node, clientID, bookingdomain.RecurringStatusActive, strPtr("pm_test"))
		who := actor.Actor{ID: clientID, Role: actor.RoleClient}

		require.NoError(t, svc.Apply(ctx, bookingID, domain.ActionPause, who))
		booking, _ := svc.bookingRepo.Find(ctx, db, bookingID)
		assert.Equal(t, bookingdomain.RecurringStatusPaused, booking.RecurringStatus)
		assert.False(t, booking.AutoPayEnabled)

		require.NoError(t, svc.Apply(ctx, bookingID, domain.ActionResume, who))
		booking, _ = svc.bookingRepo.Find(ctx, db, bookingID)
		assert.Equal(t, bookingdomain.RecurringStatusActive, booking.RecurringStatus)
	})

	t.Run("PauseRequiresActive", func(t *testing.T) {
		db := setupDB(t)
		svc := newService(t, db, clk)
		clientID := node.Generate()
		bookingID := seedBooking(t, db, node, clientID, bookingdomain.RecurringStatusInactive, strPtr("pm_test"))

		err := svc.Apply(ctx, bookingID, domain.ActionPause, actor.Actor{ID: clientID, Role: actor.RoleClient})
		assert.ErrorIs(t, err, domain.ErrInvalidTransition)
	})

	t.Run("CancelIsTerminalAndKeepsPaidPeriod", func(t *testing.T) {
		db := setupDB(t)
		svc := newService(t, db, clk)
		clientID := node.Generate()
		bookingID := seedBooking(t, db, node, clientID, bookingdomain.RecurringStatusActive, strPtr("pm_test"))
		who := actor.Actor{ID: clientID, Role: actor.RoleClient}

		require.NoError(t, svc.Apply(ctx, bookingID, domain.ActionCancel, who))
		booking, _ := svc.bookingRepo.Find(ctx, db, bookingID)
		assert.Equal(t, bookingdomain.RecurringStatusCancelled, booking.RecurringStatus)
		assert.False(t, booking.AutoPayEnabled)
		assert.Nil(t, booking.NextPaymentDate)
		// Cancelling must not disturb the paid period.
		assert.Equal(t, bookingdomain.PaymentStatusPaid, booking.PaymentStatus)

		// Cancel twice is a no-op, not an error.
		assert.NoError(t, svc.Apply(ctx, bookingID, domain.ActionCancel, who))
	})

	t.Run("FailedRemediatesToActive", func(t *testing.T) {
		db := setupDB(t)
		svc := newService(t, db, clk)
		clientID := node.Generate()
		bookingID := seedBooking(t, db, node, clientID, bookingdomain.RecurringStatusFailed, strPtr("pm_test"))

		err := svc.Apply(ctx, bookingID, domain.ActionEnable, actor.Actor{ID: clientID, Role: actor.RoleClient})
		require.NoError(t, err)
		booking, _ := svc.bookingRepo.Find(ctx, db, bookingID)
		assert.Equal(t, bookingdomain.RecurringStatusActive, booking.RecurringStatus)
	})

	t.Run("DisputedBookingIsFrozen", func(t *testing.T) {
		db := setupDB(t)
		svc := newService(t, db, clk)
		clientID := node.Generate()
		bookingID := seedBooking(t, db, node, clientID, bookingdomain.RecurringStatusPaused, strPtr("pm_test"))
		db.Exec(`UPDATE bookings SET payment_status = 'disputed' WHERE id = ?`, bookingID)

		err := svc.Apply(ctx, bookingID, domain.ActionResume, actor.Actor{ID: clientID, Role: actor.RoleClient})
		assert.ErrorIs(t, err, domain.ErrFrozen)
	})

	t.Run("ForeignActorRejected", func(t *testing.T) {
		db := setupDB(t)
		svc := newService(t, db, clk)
		bookingID := seedBooking(t, db, node, node.Generate(), bookingdomain.RecurringStatusActive, strPtr("pm_test"))

		err := svc.Apply(ctx, bookingID, domain.ActionPause, actor.Actor{ID: node.Generate(), Role: actor.RoleClient})
		assert.ErrorIs(t, err, bookingdomain.ErrUnauthorized)
	})
}

func TestProcessorDrivenTransitions(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2024, 4, 1, 8, 0, 0, 0, time.UTC)
	clk := clock.NewFakeClock(now)
	node, _ := snowflake.NewNode(5)

	t.Run("ChargeSucceededAdvancesPeriod", func(t *testing.T) {
		db := setupDB(t)
		svc := newService(t, db, clk)
		bookingID := seedBooking(t, db, node, node.Generate(), bookingdomain.RecurringStatusActive, strPtr("pm_test"))

		booking, _ := svc.bookingRepo.Find(ctx, db, bookingID)
		require.NoError(t, svc.RecordChargeSucceeded(ctx, db, booking, now))

		booking, _ = svc.bookingRepo.Find(ctx, db, bookingID)
		require.NotNil(t, booking.NextPaymentDate)
		assert.WithinDuration(t, now.AddDate(0, 0, 30), *booking.NextPaymentDate, time.Second)
	})

	t.Run("FailuresCountUpToMaxThenFail", func(t *testing.T) {
		db := setupDB(t)
		svc := newService(t, db, clk)
		bookingID := seedBooking(t, db, node, node.Generate(), bookingdomain.RecurringStatusActive, strPtr("pm_test"))

		for i := 0; i < 2; i++ {
			booking, _ := svc.bookingRepo.Find(ctx, db, bookingID)
			require.NoError(t, svc.RecordChargeFailed(ctx, db, booking, now))
			booking, _ = svc.bookingRepo.Find(ctx, db, bookingID)
			assert.Equal(t, bookingdomain.RecurringStatusActive, booking.RecurringStatus)
		}

		booking, _ := svc.bookingRepo.Find(ctx, db, bookingID)
		require.NoError(t, svc.RecordChargeFailed(ctx, db, booking, now))
		booking, _ = svc.bookingRepo.Find(ctx, db, bookingID)
		assert.Equal(t, bookingdomain.RecurringStatusFailed, booking.RecurringStatus)
		assert.Equal(t, 3, booking.RecurringFailedAttempts)
		// Failure never disables auto-pay on its own.
		assert.True(t, booking.AutoPayEnabled)
	})

	t.Run("FreezeStopsActiveAutoCharges", func(t *testing.T) {
		db := setupDB(t)
		svc := newService(t, db, clk)
		bookingID := seedBooking(t, db, node, node.Generate(), bookingdomain.RecurringStatusActive, strPtr("pm_test"))

		booking, _ := svc.bookingRepo.Find(ctx, db, bookingID)
		require.NoError(t, svc.Freeze(ctx, db, booking, now))

		booking, _ = svc.bookingRepo.Find(ctx, db, bookingID)
		assert.Equal(t, bookingdomain.RecurringStatusPaused, booking.RecurringStatus)
		assert.False(t, booking.AutoPayEnabled)
	})
}
