package capture

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/carepayhq/carepay/internal/actor"
	bookingdomain "github.com/carepayhq/carepay/internal/booking/domain"
	"github.com/carepayhq/carepay/internal/clock"
	"github.com/carepayhq/carepay/internal/notify"
	obsmetrics "github.com/carepayhq/carepay/internal/observability/metrics"
	processordomain "github.com/carepayhq/carepay/internal/processor/domain"
	"github.com/carepayhq/carepay/internal/rates"
	referralrepo "github.com/carepayhq/carepay/internal/referral/repository"
	"github.com/carepayhq/carepay/internal/settings"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB           *gorm.DB
	Log          *zap.Logger
	GenID        *snowflake.Node
	Clock        clock.Clock
	Locker       Locker
	Notifier     notify.Notifier
	Settings     *settings.Service
	Processor    processordomain.Client
	BookingRepo  bookingdomain.Repository
	ReferralRepo referralrepo.Repository
	Metrics      *obsmetrics.Metrics `optional:"true"`
}

// Service owns the synchronous "charge now" flows. Every capture holds the
// booking exclusively from verification through ledger write.
type Service struct {
	db           *gorm.DB
	log          *zap.Logger
	genID        *snowflake.Node
	clock        clock.Clock
	locker       Locker
	notifier     notify.Notifier
	settings     *settings.Service
	processor    processordomain.Client
	bookingRepo  bookingdomain.Repository
	referralRepo referralrepo.Repository
	metrics      *obsmetrics.Metrics
}

func NewService(p Params) *Service {
	return &Service{
		db:           p.DB,
		log:          p.Log.Named("capture.service"),
		genID:        p.GenID,
		clock:        p.Clock,
		locker:       p.Locker,
		notifier:     p.Notifier,
		settings:     p.Settings,
		processor:    p.Processor,
		bookingRepo:  p.BookingRepo,
		referralRepo: p.ReferralRepo,
		metrics:      p.Metrics,
	}
}

// IntentResult is the client-continuation token for a new-card charge. No
// money has moved when it is returned.
type IntentResult struct {
	PaymentIntentID string
	ClientSecret    string
	AmountCents     int64
	FeeCents        int64
}

// ChargeResult reports a settled saved-instrument charge.
type ChargeResult struct {
	TransactionID string
	AmountCents   int64
	FeeCents      int64
}

// CreateChargeIntent computes the charge server-side and opens a processor
// intent carrying booking metadata. The card is unknown at this point, so
// the fee is quoted at the domestic rate; the processor finalizes it.
func (s *Service) CreateChargeIntent(ctx context.Context, bookingID snowflake.ID, who actor.Actor) (*IntentResult, error) {
	release, err := s.locker.Acquire(ctx, bookingID)
	if err != nil {
		return nil, err
	}
	defer release()

	var result *IntentResult
	err = s.db.Transaction(func(tx *gorm.DB) error {
		booking, err := s.verifyChargeable(ctx, tx, bookingID, who)
		if err != nil {
			return err
		}

		target, err := s.targetAmount(ctx, booking)
		if err != nil {
			return err
		}

		billing := s.settings.Current()
		quote := rates.AdjustedTotal(target, billing.DomesticCountry, billing)

		intent, err := s.processor.CreateIntent(ctx, processordomain.CreateIntentParams{
			AmountCents: quote.AdjustedCents,
			Currency:    "usd",
			Metadata:    chargeMetadata(booking, who),
		})
		if err != nil {
			return mapProcessorErr(err)
		}

		result = &IntentResult{
			PaymentIntentID: intent.ID,
			ClientSecret:    intent.ClientSecret,
			AmountCents:     quote.AdjustedCents,
			FeeCents:        quote.FeeCents,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// ChargeSavedInstrument submits an immediate confirmed charge with a
// deterministic daily idempotency key, then marks the booking paid, records
// the Payment and enables auto-pay inside the same locked transaction.
func (s *Service) ChargeSavedInstrument(ctx context.Context, bookingID snowflake.ID, instrumentID string, who actor.Actor) (*ChargeResult, error) {
	release, err := s.locker.Acquire(ctx, bookingID)
	if err != nil {
		return nil, err
	}
	defer release()

	var result *ChargeResult
	err = s.db.Transaction(func(tx *gorm.DB) error {
		booking, err := s.verifyChargeable(ctx, tx, bookingID, who)
		if err != nil {
			return err
		}

		target, err := s.targetAmount(ctx, booking)
		if err != nil {
			return err
		}

		country := ""
		if instrument, err := s.processor.GetInstrument(ctx, instrumentID); err == nil {
			country = instrument.CardCountry
		}
		billing := s.settings.Current()
		quote := rates.AdjustedTotal(target, country, billing)

		now := s.clock.Now()
		key := DailyChargeKey(booking.ID, who.ID, now)

		charge, err := s.submitCharge(ctx, processordomain.ChargeParams{
			InstrumentID:   instrumentID,
			AmountCents:    quote.AdjustedCents,
			Currency:       "usd",
			IdempotencyKey: key,
			Metadata:       chargeMetadata(booking, who),
		})
		if err != nil {
			return err
		}

		if err := s.settle(ctx, tx, booking, charge, quote, instrumentID, now); err != nil {
			return err
		}

		result = &ChargeResult{
			TransactionID: charge.ID,
			AmountCents:   quote.AdjustedCents,
			FeeCents:      quote.FeeCents,
		}
		return nil
	})
	if err != nil {
		s.count("failure")
		return nil, err
	}
	s.count("success")
	return result, nil
}

// submitCharge sends the charge and resolves timeouts by asking the
// processor what actually happened. A timeout is never assumed to be a
// failure.
func (s *Service) submitCharge(ctx context.Context, params processordomain.ChargeParams) (*processordomain.Charge, error) {
	charge, err := s.processor.ChargeInstrument(ctx, params)
	if err == nil {
		if charge.Status == processordomain.ChargeDeclined {
			return nil, processordomain.ErrCardDeclined
		}
		if charge.Status != processordomain.ChargeSucceeded {
			return nil, processordomain.ErrUnavailable
		}
		return charge, nil
	}

	if errors.Is(err, processordomain.ErrTimeout) {
		found, lookupErr := s.processor.FindChargeByKey(ctx, params.IdempotencyKey)
		if lookupErr == nil && found.Status == processordomain.ChargeSucceeded {
			s.log.Warn("charge submission timed out but processor confirmed success",
				zap.String("charge_id", found.ID),
			)
			return found, nil
		}
		return nil, processordomain.ErrUnavailable
	}

	return nil, mapProcessorErr(err)
}

func (s *Service) settle(
	ctx context.Context,
	tx *gorm.DB,
	booking *bookingdomain.Booking,
	charge *processordomain.Charge,
	quote rates.FeeQuote,
	instrumentID string,
	now time.Time,
) error {

	autoPay := booking.RecurringService
	if err := s.bookingRepo.MarkPaid(ctx, tx, booking.ID, charge.ID, autoPay, now); err != nil {
		return err
	}
	if autoPay {
		next := now.AddDate(0, 0, booking.DurationDays)
		if err := s.bookingRepo.UpdateRecurring(ctx, tx, booking.ID, bookingdomain.RecurringStatusActive, true, &next, now); err != nil {
			return err
		}
	}
	if err := s.bookingRepo.SaveInstrument(ctx, tx, booking.ID, instrumentID, now); err != nil {
		return err
	}

	inserted, err := s.bookingRepo.InsertPayment(ctx, tx, &bookingdomain.Payment{
		ID:                    s.genID.Generate(),
		BookingID:             booking.ID,
		ChargeCycle:           booking.ChargeCycle,
		AmountCents:           quote.AdjustedCents,
		ProcessingFeeCents:    quote.FeeCents,
		TargetCents:           quote.TargetCents,
		ExternalTransactionID: charge.ID,
		Status:                bookingdomain.PaymentRecordStatusSettled,
		CreatedAt:             now,
	})
	if err != nil {
		return err
	}
	if !inserted {
		s.log.Info("payment row already exists for charge cycle",
			zap.String("booking_id", booking.ID.String()),
			zap.Int("charge_cycle", booking.ChargeCycle),
		)
	}
	return nil
}

// verifyChargeable loads the booking under the row lock and applies
// ownership and status gates. Concurrent captures serialize here; the loser
// observes paid state and short-circuits.
func (s *Service) verifyChargeable(ctx context.Context, tx *gorm.DB, bookingID snowflake.ID, who actor.Actor) (*bookingdomain.Booking, error) {
	booking, err := s.bookingRepo.FindForUpdate(ctx, tx, bookingID)
	if err != nil {
		return nil, err
	}
	if !who.IsAdmin() && booking.ClientID != who.ID {
		return nil, bookingdomain.ErrUnauthorized
	}
	switch booking.PaymentStatus {
	case bookingdomain.PaymentStatusPaid:
		return nil, bookingdomain.ErrAlreadyPaid
	case bookingdomain.PaymentStatusDisputed:
		return nil, bookingdomain.ErrDisputed
	}
	return booking, nil
}

func (s *Service) targetAmount(ctx context.Context, booking *bookingdomain.Booking) (int64, error) {
	var discount int64
	if booking.ReferralCodeID != nil {
		code, err := s.referralRepo.Find(ctx, s.db, *booking.ReferralCodeID)
		if err == nil && code.Active {
			discount = code.DiscountCentsPerHour
		}
	}

	target := rates.BookingTotal(booking.HoursPerDay, booking.DurationDays, booking.HourlyRateCents, discount)
	if target <= 0 {
		// A non-positive charge means pricing is misconfigured; alert rather
		// than charging zero.
		s.log.Error("computed charge amount is not positive",
			zap.String("booking_id", booking.ID.String()),
			zap.Int64("target_cents", target),
		)
		s.notifier.NotifyOperators(ctx, notify.SeverityUrgent, "invalid charge amount", map[string]any{
			"booking_id":   booking.ID.String(),
			"target_cents": target,
		})
		return 0, bookingdomain.ErrInvalidAmount
	}
	return target, nil
}

func (s *Service) count(result string) {
	if s.metrics != nil {
		s.metrics.PaymentsCaptured.WithLabelValues(result).Inc()
	}
}

func chargeMetadata(booking *bookingdomain.Booking, who actor.Actor) map[string]string {
	return map[string]string{
		"booking_id":   booking.ID.String(),
		"client_id":    booking.ClientID.String(),
		"actor_id":     who.ID.String(),
		"charge_cycle": strconv.Itoa(booking.ChargeCycle),
	}
}

func mapProcessorErr(err error) error {
	switch {
	case errors.Is(err, processordomain.ErrCardDeclined):
		return processordomain.ErrCardDeclined
	case errors.Is(err, processordomain.ErrTimeout),
		errors.Is(err, processordomain.ErrUnavailable):
		return processordomain.ErrUnavailable
	default:
		return err
	}
}
