package service

import (
	"context"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/carepayhq/carepay/internal/clock"
	"github.com/carepayhq/carepay/internal/notify"
	"github.com/carepayhq/carepay/internal/payout/domain"
	payoutrepo "github.com/carepayhq/carepay/internal/payout/repository"
	processordomain "github.com/carepayhq/carepay/internal/processor/domain"
	providerdomain "github.com/carepayhq/carepay/internal/provider/domain"
	providerrepo "github.com/carepayhq/carepay/internal/provider/repository"
	"github.com/carepayhq/carepay/internal/settings"
	timesheetrepo "github.com/carepayhq/carepay/internal/timesheet/repository"
	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
	"gorm.io/gorm"
)

type fakeTransferClient struct {
	calls    int
	failWith error
	reject   bool
}

func (f *fakeTransferClient) CreateIntent(ctx context.Context, params processordomain.CreateIntentParams) (*processordomain.Intent, error) {
	return nil, processordomain.ErrNotFound
}

func (f *fakeTransferClient) GetInstrument(ctx context.Context, instrumentID string) (*processordomain.Instrument, error) {
	return nil, processordomain.ErrNotFound
}

func (f *fakeTransferClient) ChargeInstrument(ctx context.Context, params processordomain.ChargeParams) (*processordomain.Charge, error) {
	return nil, processordomain.ErrNotFound
}

func (f *fakeTransferClient) FindChargeByKey(ctx context.Context, idempotencyKey string) (*processordomain.Charge, error) {
	return nil, processordomain.ErrNotFound
}

func (f *fakeTransferClient) CreateTransfer(ctx context.Context, params processordomain.TransferParams) (*processordomain.Transfer, error) {
	f.calls++
	if f.failWith != nil {
		return nil, f.failWith
	}
	if f.reject {
		return &processordomain.Transfer{ID: "tr_rej", Status: processordomain.TransferFailed, Reason: "account_closed"}, nil
	}
	return &processordomain.Transfer{ID: "tr_ok", Status: processordomain.TransferCompleted}, nil
}

func setupDB(t *testing.T) *gorm.DB {
	db, err := gorm.Open(sqlite.Open("file::memory:"), &gorm.Config{})
	require.NoError(t, err)

	db.Exec(`CREATE TABLE time_tracking_records (
		id BIGINT PRIMARY KEY,
		provider_id BIGINT NOT NULL,
		booking_id BIGINT,
		clock_in_at TIMESTAMP NOT NULL,
		clock_out_at TIMESTAMP,
		hours_worked REAL NOT NULL DEFAULT 0,
		status TEXT NOT NULL DEFAULT 'active',
		payment_status TEXT NOT NULL DEFAULT 'pending',
		split_computed_at TIMESTAMP,
		total_charge_cents BIGINT NOT NULL DEFAULT 0,
		provider_earnings_cents BIGINT NOT NULL DEFAULT 0,
		marketing_commission_cents BIGINT NOT NULL DEFAULT 0,
		training_commission_cents BIGINT NOT NULL DEFAULT 0,
		agency_commission_cents BIGINT NOT NULL DEFAULT 0,
		payout_transaction_id BIGINT,
		paid_at TIMESTAMP,
		created_at TIMESTAMP NOT NULL,
		updated_at TIMESTAMP NOT NULL
	)`)
	db.Exec(`CREATE TABLE providers (
		id BIGINT PRIMARY KEY,
		class TEXT NOT NULL,
		contract_rate_cents BIGINT NOT NULL,
		training_center_id BIGINT,
		training_rate_cents BIGINT NOT NULL DEFAULT 0,
		payout_frequency TEXT NOT NULL DEFAULT 'weekly',
		payout_day INTEGER NOT NULL DEFAULT 5,
		instrument_verified BOOLEAN NOT NULL DEFAULT FALSE,
		processor_account_id TEXT,
		cannot_payout BOOLEAN NOT NULL DEFAULT FALSE,
		last_payout_at TIMESTAMP,
		created_at TIMESTAMP NOT NULL,
		updated_at TIMESTAMP NOT NULL
	)`)
	db.Exec(`CREATE TABLE payout_transactions (
		id BIGINT PRIMARY KEY,
		provider_id BIGINT NOT NULL,
		amount_cents BIGINT NOT NULL,
		record_count INTEGER NOT NULL,
		status TEXT NOT NULL DEFAULT 'pending',
		external_transfer_id TEXT,
		failure_reason TEXT,
		created_at TIMESTAMP NOT NULL,
		completed_at TIMESTAMP
	)`)
	return db
}

func newService(t *testing.T, db *gorm.DB, processor processordomain.Client, clk clock.Clock) *Service {
	node, err := snowflake.NewNode(8)
	require.NoError(t, err)
	log := zaptest.NewLogger(t)
	return &Service{
		db:            db,
		log:           log,
		genID:         node,
		clock:         clk,
		settings:      settings.NewStatic(settings.Billing{MinPayoutCents: 2500}),
		notifier:      notify.NewLogNotifier(log),
		processor:     processor,
		timesheetRepo: timesheetrepo.Provide(),
		providerRepo:  providerrepo.Provide(),
		payoutRepo:    payoutrepo.Provide(),
	}
}

func seedProvider(t *testing.T, db *gorm.DB, node *snowflake.Node, frequency providerdomain.PayoutFrequency, verified bool) snowflake.ID {
	id := node.Generate()
	now := time.Now().UTC()
	var account *string
	if verified {
		acct := "acct_" + id.String()
		account = &acct
	}
	err := db.Exec(`INSERT INTO providers
		(id, class, contract_rate_cents, payout_frequency, payout_day,
		 instrument_verified, processor_account_id, cannot_payout, created_at, updated_at)
		VALUES (?, 'caregiver', 2800, ?, 5, ?, ?, FALSE, ?, ?)`,
		id, frequency, verified, account, now, now,
	).Error
	require.NoError(t, err)
	return id
}

func seedSettledRecord(t *testing.T, db *gorm.DB, node *snowflake.Node, providerID snowflake.ID, earningsCents int64) snowflake.ID {
	id := node.Generate()
	now := time.Now().UTC()
	err := db.Exec(`INSERT INTO time_tracking_records
		(id, provider_id, clock_in_at, clock_out_at, hours_worked, status, payment_status,
		 split_computed_at, total_charge_cents, provider_earnings_cents,
		 marketing_commission_cents, training_commission_cents, agency_commission_cents,
		 created_at, updated_at)
		VALUES (?, ?, ?, ?, 10, 'completed', 'pending', ?, ?, ?, 0, 0, ?, ?, ?)`,
		id, providerID, now.Add(-10*time.Hour), now, now,
		earningsCents+12000, earningsCents, int64(12000), now, now,
	).Error
	require.NoError(t, err)
	return id
}

func TestRunOnce(t *testing.T) {
	ctx := context.Background()
	// A Friday; payout_day 5 matches.
	friday := time.Date(2024, 5, 3, 9, 0, 0, 0, time.UTC)
	node, _ := snowflake.NewNode(9)

	t.Run("PaysProviderAndSettlesRecords", func(t *testing.T) {
		db := setupDB(t)
		processor := &fakeTransferClient{}
		svc := newService(t, db, processor, clock.NewFakeClock(friday))

		providerID := seedProvider(t, db, node, providerdomain.PayoutWeekly, true)
		seedSettledRecord(t, db, node, providerID, 28000)
		seedSettledRecord(t, db, node, providerID, 14000)

		summary, err := svc.RunOnce(ctx, providerdomain.PayoutWeekly, false)
		require.NoError(t, err)
		assert.Equal(t, 1, summary.PaidCount)
		assert.Zero(t, summary.FailedCount)
		assert.Equal(t, int64(42000), summary.TotalAmountCents)

		var paid int64
		db.Raw(`SELECT COUNT(*) FROM time_tracking_records WHERE payment_status = 'paid' AND paid_at IS NOT NULL`).Scan(&paid)
		assert.Equal(t, int64(2), paid)

		var status string
		db.Raw(`SELECT status FROM payout_transactions WHERE provider_id = ?`, providerID).Scan(&status)
		assert.Equal(t, "completed", status)

		provider, err := svc.providerRepo.Find(ctx, db, providerID)
		require.NoError(t, err)
		assert.NotNil(t, provider.LastPayoutAt)
	})

	t.Run("PaidRecordsNeverReenterAPayout", func(t *testing.T) {
		db := setupDB(t)
		processor := &fakeTransferClient{}
		svc := newService(t, db, processor, clock.NewFakeClock(friday))

		providerID := seedProvider(t, db, node, providerdomain.PayoutWeekly, true)
		seedSettledRecord(t, db, node, providerID, 28000)

		_, err := svc.RunOnce(ctx, providerdomain.PayoutWeekly, false)
		require.NoError(t, err)

		summary, err := svc.RunOnce(ctx, providerdomain.PayoutWeekly, true)
		require.NoError(t, err)
		assert.Zero(t, summary.PaidCount)
		assert.Equal(t, 1, processor.calls)
	})

	t.Run("TransferFailureReleasesRecords", func(t *testing.T) {
		db := setupDB(t)
		processor := &fakeTransferClient{reject: true}
		svc := newService(t, db, processor, clock.NewFakeClock(friday))

		providerID := seedProvider(t, db, node, providerdomain.PayoutWeekly, true)
		seedSettledRecord(t, db, node, providerID, 28000)

		summary, err := svc.RunOnce(ctx, providerdomain.PayoutWeekly, false)
		require.NoError(t, err)
		assert.Equal(t, 1, summary.FailedCount)
		assert.Zero(t, summary.PaidCount)

		var pending int64
		db.Raw(`SELECT COUNT(*) FROM time_tracking_records
			WHERE payment_status = 'pending' AND payout_transaction_id IS NULL`).Scan(&pending)
		assert.Equal(t, int64(1), pending)

		var status string
		db.Raw(`SELECT status FROM payout_transactions WHERE provider_id = ?`, providerID).Scan(&status)
		assert.Equal(t, "failed", status)

		// Released records are picked up by the next run.
		processor.reject = false
		summary, err = svc.RunOnce(ctx, providerdomain.PayoutWeekly, false)
		require.NoError(t, err)
		assert.Equal(t, 1, summary.PaidCount)
	})

	t.Run("BelowThresholdDefers", func(t *testing.T) {
		db := setupDB(t)
		processor := &fakeTransferClient{}
		svc := newService(t, db, processor, clock.NewFakeClock(friday))

		providerID := seedProvider(t, db, node, providerdomain.PayoutWeekly, true)
		seedSettledRecord(t, db, node, providerID, 2000)

		summary, err := svc.RunOnce(ctx, providerdomain.PayoutWeekly, false)
		require.NoError(t, err)
		assert.Zero(t, summary.PaidCount)
		assert.Zero(t, processor.calls)
	})

	t.Run("UnverifiedInstrumentFlagsProvider", func(t *testing.T) {
		db := setupDB(t)
		processor := &fakeTransferClient{}
		svc := newService(t, db, processor, clock.NewFakeClock(friday))

		providerID := seedProvider(t, db, node, providerdomain.PayoutWeekly, false)
		seedSettledRecord(t, db, node, providerID, 28000)

		summary, err := svc.RunOnce(ctx, providerdomain.PayoutWeekly, false)
		require.NoError(t, err)
		assert.Zero(t, summary.PaidCount)
		assert.Zero(t, processor.calls)

		provider, err := svc.providerRepo.Find(ctx, db, providerID)
		require.NoError(t, err)
		assert.True(t, provider.CannotPayout)
	})

	t.Run("WrongFrequencySkips", func(t *testing.T) {
		db := setupDB(t)
		processor := &fakeTransferClient{}
		svc := newService(t, db, processor, clock.NewFakeClock(friday))

		providerID := seedProvider(t, db, node, providerdomain.PayoutMonthly, true)
		seedSettledRecord(t, db, node, providerID, 28000)

		summary, err := svc.RunOnce(ctx, providerdomain.PayoutWeekly, false)
		require.NoError(t, err)
		assert.Zero(t, summary.PaidCount)
		assert.Zero(t, processor.calls)
	})

	t.Run("OffScheduleDayDefersUnlessForced", func(t *testing.T) {
		// A Monday; payout_day 5 (Friday) not due.
		monday := time.Date(2024, 5, 6, 9, 0, 0, 0, time.UTC)
		db := setupDB(t)
		processor := &fakeTransferClient{}
		svc := newService(t, db, processor, clock.NewFakeClock(monday))

		providerID := seedProvider(t, db, node, providerdomain.PayoutWeekly, true)
		seedSettledRecord(t, db, node, providerID, 28000)

		summary, err := svc.RunOnce(ctx, providerdomain.PayoutWeekly, false)
		require.NoError(t, err)
		assert.Zero(t, summary.PaidCount)

		summary, err = svc.RunOnce(ctx, providerdomain.PayoutWeekly, true)
		require.NoError(t, err)
		assert.Equal(t, 1, summary.PaidCount)
		_ = providerID
	})

	t.Run("RejectsUnknownFrequency", func(t *testing.T) {
		db := setupDB(t)
		svc := newService(t, db, &fakeTransferClient{}, clock.NewFakeClock(friday))
		_, err := svc.RunOnce(ctx, providerdomain.PayoutFrequency("daily"), false)
		assert.ErrorIs(t, err, domain.ErrInvalidFrequency)
	})
}
