package capture

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"sync"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/carepayhq/carepay/internal/actor"
	bookingdomain "github.com/carepayhq/carepay/internal/booking/domain"
	bookingrepo "github.com/carepayhq/carepay/internal/booking/repository"
	"github.com/carepayhq/carepay/internal/clock"
	"github.com/carepayhq/carepay/internal/notify"
	processordomain "github.com/carepayhq/carepay/internal/processor/domain"
	referralrepo "github.com/carepayhq/carepay/internal/referral/repository"
	"github.com/carepayhq/carepay/internal/settings"
	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
	"gorm.io/gorm"
)

type fakeProcessor struct {
	mu            sync.Mutex
	charges       map[string]*processordomain.Charge
	chargeCalls   int
	failWith      error
	timeoutOnce   bool
	declineCharge bool
	instrument    *processordomain.Instrument
}

func newFakeProcessor() *fakeProcessor {
	return &fakeProcessor{
		charges:    make(map[string]*processordomain.Charge),
		instrument: &processordomain.Instrument{ID: "pm_test", CardCountry: "US"},
	}
}

func (f *fakeProcessor) CreateIntent(ctx context.Context, params processordomain.CreateIntentParams) (*processordomain.Intent, error) {
	if f.failWith != nil {
		return nil, f.failWith
	}
	return &processordomain.Intent{ID: "pi_test", ClientSecret: "pi_test_secret"}, nil
}

func (f *fakeProcessor) GetInstrument(ctx context.Context, instrumentID string) (*processordomain.Instrument, error) {
	return f.instrument, nil
}

func (f *fakeProcessor) ChargeInstrument(ctx context.Context, params processordomain.ChargeParams) (*processordomain.Charge, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.chargeCalls++

	if existing, ok := f.charges[params.IdempotencyKey]; ok {
		return existing, nil
	}
	if f.failWith != nil {
		return nil, f.failWith
	}
	if f.declineCharge {
		return &processordomain.Charge{ID: "ch_declined", Status: processordomain.ChargeDeclined}, nil
	}

	charge := &processordomain.Charge{
		ID:          "ch_" + params.IdempotencyKey[:8],
		Status:      processordomain.ChargeSucceeded,
		AmountCents: params.AmountCents,
	}
	f.charges[params.IdempotencyKey] = charge
	if f.timeoutOnce {
		f.timeoutOnce = false
		return nil, processordomain.ErrTimeout
	}
	return charge, nil
}

func (f *fakeProcessor) FindChargeByKey(ctx context.Context, idempotencyKey string) (*processordomain.Charge, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if charge, ok := f.charges[idempotencyKey]; ok {
		return charge, nil
	}
	return nil, processordomain.ErrNotFound
}

func (f *fakeProcessor) CreateTransfer(ctx context.Context, params processordomain.TransferParams) (*processordomain.Transfer, error) {
	return &processordomain.Transfer{ID: "tr_test", Status: processordomain.TransferCompleted}, nil
}

func setupCaptureDB(t *testing.T) *gorm.DB {
	// A named shared-cache DSN keeps every pooled connection on the same
	// in-memory database; a plain ":memory:" DSN gives each new connection
	// its own empty one.
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", url.PathEscape(t.Name()))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
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
	db.Exec(`CREATE TABLE payments (
		id BIGINT PRIMARY KEY,
		booking_id BIGINT NOT NULL,
		charge_cycle INTEGER NOT NULL,
		amount_cents BIGINT NOT NULL,
		processing_fee_cents BIGINT NOT NULL,
		target_cents BIGINT NOT NULL,
		external_transaction_id TEXT NOT NULL,
		status TEXT NOT NULL DEFAULT 'settled',
		refunded_cents BIGINT NOT NULL DEFAULT 0,
		created_at TIMESTAMP NOT NULL,
		UNIQUE (booking_id, charge_cycle)
	)`)
	db.Exec(`CREATE TABLE referral_codes (
		id BIGINT PRIMARY KEY,
		owner_id BIGINT NOT NULL,
		code TEXT NOT NULL UNIQUE,
		discount_cents_per_hour BIGINT NOT NULL DEFAULT 0,
		marketing_rate_cents_per_hour BIGINT NOT NULL DEFAULT 0,
		active BOOLEAN NOT NULL DEFAULT TRUE,
		usage_count INTEGER NOT NULL DEFAULT 0,
		created_at TIMESTAMP NOT NULL
	)`)
	return db
}

func newCaptureService(t *testing.T, db *gorm.DB, processor processordomain.Client, clk clock.Clock) *Service {
	node, err := snowflake.NewNode(2)
	require.NoError(t, err)
	log := zaptest.NewLogger(t)
	return &Service{
		db:           db,
		log:          log,
		genID:        node,
		clock:        clk,
		locker:       NewKeyedMutex(),
		notifier:     notify.NewLogNotifier(log),
		settings:     settings.NewStatic(settings.Billing{DomesticFeeBps: 290, InternationalFeeBps: 490, FixedFeeCents: 30, DomesticCountry: "US"}),
		processor:    processor,
		bookingRepo:  bookingrepo.Provide(),
		referralRepo: referralrepo.Provide(),
	}
}

func seedBooking(t *testing.T, db *gorm.DB, node *snowflake.Node, clientID snowflake.ID, rateCents int64, hoursPerDay float64, days int) snowflake.ID {
	id := node.Generate()
	now := time.Now().UTC()
	err := db.Exec(`INSERT INTO bookings
		(id, client_id, service_start, duration_days, hourly_rate_cents, hours_per_day,
		 payment_status, charge_cycle, recurring_service, auto_pay_enabled, recurring_status,
		 recurring_failed_attempts, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, 'unpaid', 1, FALSE, FALSE, 'inactive', 0, ?, ?)`,
		id, clientID, now, days, rateCents, hoursPerDay, now, now,
	).Error
	require.NoError(t, err)
	return id
}

func TestCreateChargeIntent(t *testing.T) {
	db := setupCaptureDB(t)
	processor := newFakeProcessor()
	clk := clock.NewFakeClock(time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC))
	svc := newCaptureService(t, db, processor, clk)

	node, _ := snowflake.NewNode(3)
	clientID := node.Generate()
	// 4 h/day x 5 days x $25/h = $500.00 target
	bookingID := seedBooking(t, db, node, clientID, 2500, 4, 5)

	ctx := context.Background()
	client := actor.Actor{ID: clientID, Role: actor.RoleClient}

	t.Run("ComputesAdjustedTotalServerSide", func(t *testing.T) {
		res, err := svc.CreateChargeIntent(ctx, bookingID, client)
		require.NoError(t, err)
		assert.Equal(t, "pi_test", res.PaymentIntentID)
		// (50000 + 30) * 10000 / 9710 = 51524
		assert.Equal(t, int64(51524), res.AmountCents)
		assert.Equal(t, int64(1524), res.FeeCents)
	})

	t.Run("RejectsForeignActor", func(t *testing.T) {
		stranger := actor.Actor{ID: node.Generate(), Role: actor.RoleClient}
		_, err := svc.CreateChargeIntent(ctx, bookingID, stranger)
		assert.ErrorIs(t, err, bookingdomain.ErrUnauthorized)
	})

	t.Run("AdminMayActForClient", func(t *testing.T) {
		admin := actor.Actor{ID: node.Generate(), Role: actor.RoleAdmin}
		_, err := svc.CreateChargeIntent(ctx, bookingID, admin)
		assert.NoError(t, err)
	})

	t.Run("RejectsMissingBooking", func(t *testing.T) {
		_, err := svc.CreateChargeIntent(ctx, node.Generate(), client)
		assert.ErrorIs(t, err, bookingdomain.ErrNotFound)
	})
}

func TestCreateChargeIntentReferralDiscount(t *testing.T) {
	db := setupCaptureDB(t)
	processor := newFakeProcessor()
	clk := clock.NewFakeClock(time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC))
	svc := newCaptureService(t, db, processor, clk)

	node, _ := snowflake.NewNode(3)
	clientID := node.Generate()
	bookingID := seedBooking(t, db, node, clientID, 2500, 4, 5)

	codeID := node.Generate()
	now := time.Now().UTC()
	db.Exec(`INSERT INTO referral_codes
		(id, owner_id, code, discount_cents_per_hour, marketing_rate_cents_per_hour, active, usage_count, created_at)
		VALUES (?, ?, 'SAVE1', 100, 200, TRUE, 0, ?)`,
		codeID, node.Generate(), now)
	db.Exec(`UPDATE bookings SET referral_code_id = ? WHERE id = ?`, codeID, bookingID)

	res, err := svc.CreateChargeIntent(context.Background(), bookingID, actor.Actor{ID: clientID, Role: actor.RoleClient})
	require.NoError(t, err)
	// Discounted rate $24/h: 20 h x 2400 = 48000; (48000 + 30) * 10000 / 9710 = 49464
	assert.Equal(t, int64(49464), res.AmountCents)
}

func TestChargeSavedInstrument(t *testing.T) {
	ctx := context.Background()

	t.Run("SuccessMarksPaidAndRecordsPayment", func(t *testing.T) {
		db := setupCaptureDB(t)
		processor := newFakeProcessor()
		clk := clock.NewFakeClock(time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC))
		svc := newCaptureService(t, db, processor, clk)

		node, _ := snowflake.NewNode(3)
		clientID := node.Generate()
		bookingID := seedBooking(t, db, node, clientID, 2500, 4, 5)

		res, err := svc.ChargeSavedInstrument(ctx, bookingID, "pm_test", actor.Actor{ID: clientID, Role: actor.RoleClient})
		require.NoError(t, err)
		assert.Equal(t, int64(51524), res.AmountCents)

		booking, err := svc.bookingRepo.Find(ctx, db, bookingID)
		require.NoError(t, err)
		assert.Equal(t, bookingdomain.PaymentStatusPaid, booking.PaymentStatus)
		require.NotNil(t, booking.SavedInstrumentID)
		assert.Equal(t, "pm_test", *booking.SavedInstrumentID)

		payment, err := svc.bookingRepo.FindPayment(ctx, db, bookingID, 1)
		require.NoError(t, err)
		require.NotNil(t, payment)
		assert.Equal(t, int64(51524), payment.AmountCents)
		assert.Equal(t, int64(50000), payment.TargetCents)
	})

	t.Run("SecondChargeReturnsAlreadyPaid", func(t *testing.T) {
		db := setupCaptureDB(t)
		processor := newFakeProcessor()
		clk := clock.NewFakeClock(time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC))
		svc := newCaptureService(t, db, processor, clk)

		node, _ := snowflake.NewNode(3)
		clientID := node.Generate()
		bookingID := seedBooking(t, db, node, clientID, 2500, 4, 5)
		who := actor.Actor{ID: clientID, Role: actor.RoleClient}

		_, err := svc.ChargeSavedInstrument(ctx, bookingID, "pm_test", who)
		require.NoError(t, err)

		_, err = svc.ChargeSavedInstrument(ctx, bookingID, "pm_test", who)
		assert.ErrorIs(t, err, bookingdomain.ErrAlreadyPaid)
		assert.Equal(t, 1, processor.chargeCalls)
	})

	t.Run("DeclineLeavesBookingUnpaid", func(t *testing.T) {
		db := setupCaptureDB(t)
		processor := newFakeProcessor()
		processor.declineCharge = true
		clk := clock.NewFakeClock(time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC))
		svc := newCaptureService(t, db, processor, clk)

		node, _ := snowflake.NewNode(3)
		clientID := node.Generate()
		bookingID := seedBooking(t, db, node, clientID, 2500, 4, 5)

		_, err := svc.ChargeSavedInstrument(ctx, bookingID, "pm_test", actor.Actor{ID: clientID, Role: actor.RoleClient})
		assert.ErrorIs(t, err, processordomain.ErrCardDeclined)

		booking, err := svc.bookingRepo.Find(ctx, db, bookingID)
		require.NoError(t, err)
		assert.Equal(t, bookingdomain.PaymentStatusUnpaid, booking.PaymentStatus)
	})

	t.Run("TimeoutResolvedByKeyLookup", func(t *testing.T) {
		db := setupCaptureDB(t)
		processor := newFakeProcessor()
		processor.timeoutOnce = true
		clk := clock.NewFakeClock(time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC))
		svc := newCaptureService(t, db, processor, clk)

		node, _ := snowflake.NewNode(3)
		clientID := node.Generate()
		bookingID := seedBooking(t, db, node, clientID, 2500, 4, 5)

		// The submission times out but the processor actually settled the
		// charge; the key lookup must recover it instead of failing.
		res, err := svc.ChargeSavedInstrument(ctx, bookingID, "pm_test", actor.Actor{ID: clientID, Role: actor.RoleClient})
		require.NoError(t, err)
		assert.NotEmpty(t, res.TransactionID)

		booking, err := svc.bookingRepo.Find(ctx, db, bookingID)
		require.NoError(t, err)
		assert.Equal(t, bookingdomain.PaymentStatusPaid, booking.PaymentStatus)
	})

	t.Run("OutageReturnsUnavailable", func(t *testing.T) {
		db := setupCaptureDB(t)
		processor := newFakeProcessor()
		processor.failWith = processordomain.ErrUnavailable
		clk := clock.NewFakeClock(time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC))
		svc := newCaptureService(t, db, processor, clk)

		node, _ := snowflake.NewNode(3)
		clientID := node.Generate()
		bookingID := seedBooking(t, db, node, clientID, 2500, 4, 5)

		_, err := svc.ChargeSavedInstrument(ctx, bookingID, "pm_test", actor.Actor{ID: clientID, Role: actor.RoleClient})
		assert.ErrorIs(t, err, processordomain.ErrUnavailable)
	})

	t.Run("InternationalCardUsesHigherRate", func(t *testing.T) {
		db := setupCaptureDB(t)
		processor := newFakeProcessor()
		processor.instrument = &processordomain.Instrument{ID: "pm_fr", CardCountry: "FR"}
		clk := clock.NewFakeClock(time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC))
		svc := newCaptureService(t, db, processor, clk)

		node, _ := snowflake.NewNode(3)
		clientID := node.Generate()
		// 1 h x 1 day x $100/h = $100.00 target
		bookingID := seedBooking(t, db, node, clientID, 10000, 1, 1)

		res, err := svc.ChargeSavedInstrument(ctx, bookingID, "pm_fr", actor.Actor{ID: clientID, Role: actor.RoleClient})
		require.NoError(t, err)
		assert.Equal(t, int64(10546), res.AmountCents)
		assert.Equal(t, int64(546), res.FeeCents)
	})
}

func TestConcurrentChargeSavedInstrument(t *testing.T) {
	db := setupCaptureDB(t)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	// One connection keeps both goroutines on the same in-memory database.
	sqlDB.SetMaxOpenConns(1)

	processor := newFakeProcessor()
	clk := clock.NewFakeClock(time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC))
	svc := newCaptureService(t, db, processor, clk)

	node, _ := snowflake.NewNode(3)
	clientID := node.Generate()
	bookingID := seedBooking(t, db, node, clientID, 2500, 4, 5)
	who := actor.Actor{ID: clientID, Role: actor.RoleClient}

	errs := make(chan error, 2)
	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, chargeErr := svc.ChargeSavedInstrument(context.Background(), bookingID, "pm_test", who)
			errs <- chargeErr
		}()
	}
	wg.Wait()
	close(errs)

	var succeeded, alreadyPaid int
	for chargeErr := range errs {
		switch {
		case chargeErr == nil:
			succeeded++
		case errors.Is(chargeErr, bookingdomain.ErrAlreadyPaid):
			alreadyPaid++
		default:
			t.Fatalf("unexpected charge error: %v", chargeErr)
		}
	}
	assert.Equal(t, 1, succeeded)
	assert.Equal(t, 1, alreadyPaid)
	assert.Equal(t, 1, processor.chargeCalls)

	var payments int64
	require.NoError(t, db.Raw(`SELECT COUNT(*) FROM payments WHERE booking_id = ?`, bookingID).Scan(&payments).Error)
	assert.Equal(t, int64(1), payments)
}

func TestDailyChargeKeyDeterministic(t *testing.T) {
	node, _ := snowflake.NewNode(4)
	bookingID := node.Generate()
	actorID := node.Generate()
	day := time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)

	assert.Equal(t,
		DailyChargeKey(bookingID, actorID, day),
		DailyChargeKey(bookingID, actorID, day.Add(5*time.Hour)),
	)
	assert.NotEqual(t,
		DailyChargeKey(bookingID, actorID, day),
		DailyChargeKey(bookingID, actorID, day.Add(24*time.Hour)),
	)
}
