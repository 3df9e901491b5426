package service

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/carepayhq/carepay/internal/actor"
	bookingdomain "github.com/carepayhq/carepay/internal/booking/domain"
	"github.com/carepayhq/carepay/internal/clock"
	"github.com/carepayhq/carepay/internal/notify"
	"github.com/carepayhq/carepay/internal/recurring/domain"
	"github.com/carepayhq/carepay/internal/settings"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB          *gorm.DB
	Log         *zap.Logger
	Clock       clock.Clock
	Settings    *settings.Service
	Notifier    notify.Notifier
	BookingRepo bookingdomain.Repository
}

// Service is the auto-pay lifecycle state machine. Client/admin commands
// arrive through Apply; processor truth arrives through the Record* methods
// called by webhook reconciliation inside its transaction.
type Service struct {
	db          *gorm.DB
	log         *zap.Logger
	clock       clock.Clock
	settings    *settings.Service
	notifier    notify.Notifier
	bookingRepo bookingdomain.Repository
}

func New(p Params) *Service {
	return &Service{
		db:          p.DB,
		log:         p.Log.Named("recurring.service"),
		clock:       p.Clock,
		settings:    p.Settings,
		notifier:    p.Notifier,
		bookingRepo: p.BookingRepo,
	}
}

// Apply executes one lifecycle command on behalf of the booking's client or
// an admin.
func (s *Service) Apply(ctx context.Context, bookingID snowflake.ID, action domain.Action, who actor.Actor) error {
	return s.db.Transaction(func(tx *gorm.DB) error {
		booking, err := s.bookingRepo.FindForUpdate(ctx, tx, bookingID)
		if err != nil {
			return err
		}
		if !who.IsAdmin() && booking.ClientID != who.ID {
			return bookingdomain.ErrUnauthorized
		}

		switch action {
		case domain.ActionEnable, domain.ActionResume:
			return s.activate(ctx, tx, booking)
		case domain.ActionPause:
			return s.pause(ctx, tx, booking)
		case domain.ActionCancel:
			return s.cancel(ctx, tx, booking)
		default:
			return domain.ErrInvalidTransition
		}
	})
}

// activate covers enable, resume and manual remediation after failure. A
// stored instrument is mandatory; a disputed booking stays frozen until the
// dispute resolves.
func (s *Service) activate(ctx context.Context, tx *gorm.DB, booking *bookingdomain.Booking) error {
	if booking.PaymentStatus == bookingdomain.PaymentStatusDisputed {
		return domain.ErrFrozen
	}
	if booking.SavedInstrumentID == nil || *booking.SavedInstrumentID == "" {
		return domain.ErrNoInstrumentOnFile
	}
	switch booking.RecurringStatus {
	case bookingdomain.RecurringStatusInactive,
		bookingdomain.RecurringStatusPaused,
		bookingdomain.RecurringStatusFailed:
	case bookingdomain.RecurringStatusActive:
		return nil // already active
	default:
		return domain.ErrInvalidTransition
	}

	now := s.clock.Now()
	next := booking.NextPaymentDate
	if next == nil {
		due := booking.ServiceStart.AddDate(0, 0, booking.DurationDays)
		next = &due
	}
	if err := s.bookingRepo.UpdateRecurring(ctx, tx, booking.ID, bookingdomain.RecurringStatusActive, true, next, now); err != nil {
		return err
	}
	if booking.RecurringStatus == bookingdomain.RecurringStatusFailed {
		s.log.Info("auto-pay manually remediated",
			zap.String("booking_id", booking.ID.String()),
			zap.Int("failed_attempts", booking.RecurringFailedAttempts),
		)
	}
	return nil
}

func (s *Service) pause(ctx context.Context, tx *gorm.DB, booking *bookingdomain.Booking) error {
	if booking.RecurringStatus != bookingdomain.RecurringStatusActive {
		return domain.ErrInvalidTransition
	}
	return s.bookingRepo.UpdateRecurring(ctx, tx, booking.ID,
		bookingdomain.RecurringStatusPaused, false, booking.NextPaymentDate, s.clock.Now())
}

// cancel is terminal and always leaves the current paid period intact: only
// recurring fields change, never payment_status.
func (s *Service) cancel(ctx context.Context, tx *gorm.DB, booking *bookingdomain.Booking) error {
	if booking.RecurringStatus == bookingdomain.RecurringStatusCancelled {
		return nil
	}
	return s.bookingRepo.UpdateRecurring(ctx, tx, booking.ID,
		bookingdomain.RecurringStatusCancelled, false, nil, s.clock.Now())
}

// RecordChargeSucceeded advances the paid period after the processor confirms
// a recurring charge. Runs inside the caller's transaction.
func (s *Service) RecordChargeSucceeded(ctx context.Context, tx *gorm.DB, booking *bookingdomain.Booking, now time.Time) error {
	if booking.RecurringStatus == bookingdomain.RecurringStatusCancelled {
		return nil
	}
	next := now.AddDate(0, 0, booking.DurationDays)
	return s.bookingRepo.UpdateRecurring(ctx, tx, booking.ID,
		bookingdomain.RecurringStatusActive, true, &next, now)
}

// RecordChargeFailed counts the failure and moves the lifecycle to failed
// once attempts reach the configured maximum. Auto-pay is never disabled
// here; only an explicit cancel does that.
func (s *Service) RecordChargeFailed(ctx context.Context, tx *gorm.DB, booking *bookingdomain.Booking, now time.Time) error {
	attempts, err := s.bookingRepo.IncrementFailedAttempts(ctx, tx, booking.ID, now)
	if err != nil {
		return err
	}

	max := s.settings.Current().RecurringMaxAttempts
	if attempts < max {
		s.log.Warn("recurring charge failed, processor will retry",
			zap.String("booking_id", booking.ID.String()),
			zap.Int("attempts", attempts),
		)
		return nil
	}

	if err := s.bookingRepo.UpdateRecurring(ctx, tx, booking.ID,
		bookingdomain.RecurringStatusFailed, booking.AutoPayEnabled, booking.NextPaymentDate, now); err != nil {
		return err
	}
	s.notifier.NotifyActor(ctx, booking.ClientID,
		"auto-pay charge failed",
		"We could not renew your booking. Please update your payment method.")
	return nil
}

// Freeze blocks further auto-charges while a dispute is open. The prior
// status is recoverable through activate once the dispute resolves.
func (s *Service) Freeze(ctx context.Context, tx *gorm.DB, booking *bookingdomain.Booking, now time.Time) error {
	if booking.RecurringStatus != bookingdomain.RecurringStatusActive {
		return nil
	}
	return s.bookingRepo.UpdateRecurring(ctx, tx, booking.ID,
		bookingdomain.RecurringStatusPaused, false, booking.NextPaymentDate, now)
}

// RecordCancelled absorbs a subscription-cancelled event from the processor.
func (s *Service) RecordCancelled(ctx context.Context, tx *gorm.DB, booking *bookingdomain.Booking, now time.Time) error {
	return s.cancel(ctx, tx, booking)
}
