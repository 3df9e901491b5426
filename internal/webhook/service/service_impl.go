package service

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	bookingdomain "github.com/carepayhq/carepay/internal/booking/domain"
	"github.com/carepayhq/carepay/internal/clock"
	"github.com/carepayhq/carepay/internal/config"
	"github.com/carepayhq/carepay/internal/notify"
	obsmetrics "github.com/carepayhq/carepay/internal/observability/metrics"
	"github.com/carepayhq/carepay/internal/rates"
	recurringservice "github.com/carepayhq/carepay/internal/recurring/service"
	referralrepo "github.com/carepayhq/carepay/internal/referral/repository"
	"github.com/carepayhq/carepay/internal/webhook/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB           *gorm.DB
	Log          *zap.Logger
	GenID        *snowflake.Node
	Clock        clock.Clock
	Cfg          config.Config
	Notifier     notify.Notifier
	Repo         domain.Repository
	BookingRepo  bookingdomain.Repository
	ReferralRepo referralrepo.Repository
	Recurring    *recurringservice.Service
	Metrics      *obsmetrics.Metrics `optional:"true"`
}

// Service reconciles processor truth into the booking ledger. Every handler
// tolerates redelivery: re-running an event against already-converged state
// is a no-op.
type Service struct {
	db           *gorm.DB
	log          *zap.Logger
	genID        *snowflake.Node
	clock        clock.Clock
	secret       string
	notifier     notify.Notifier
	repo         domain.Repository
	bookingRepo  bookingdomain.Repository
	referralRepo referralrepo.Repository
	recurring    *recurringservice.Service
	metrics      *obsmetrics.Metrics
}

func New(p Params) *Service {
	return &Service{
		db:           p.DB,
		log:          p.Log.Named("webhook.service"),
		genID:        p.GenID,
		clock:        p.Clock,
		secret:       p.Cfg.WebhookSigningSecret,
		notifier:     p.Notifier,
		repo:         p.Repo,
		bookingRepo:  p.BookingRepo,
		referralRepo: p.ReferralRepo,
		recurring:    p.Recurring,
		metrics:      p.Metrics,
	}
}

// Process ingests one raw webhook delivery. Signature and payload faults are
// returned to the caller; anything after the event is durably recorded gets
// absorbed into the retry queue so the sender can be acknowledged.
func (s *Service) Process(ctx context.Context, payload []byte, signatureHeader string) error {
	if err := VerifySignature(s.secret, payload, signatureHeader); err != nil {
		s.count("unknown", "bad_signature")
		return err
	}

	event, err := ParseEvent(payload)
	if err != nil {
		if err == domain.ErrEventIgnored {
			return nil
		}
		s.count("unknown", "bad_payload")
		return err
	}

	now := s.clock.Now()
	record := &domain.EventRecord{
		ID:              s.genID.Generate(),
		ProviderEventID: event.ProviderEventID,
		EventType:       event.Type,
		Payload:         datatypes.JSON(payload),
		ReceivedAt:      now,
	}
	inserted, err := s.repo.InsertEvent(ctx, s.db, record)
	if err != nil {
		return err
	}
	if !inserted {
		stored, err := s.repo.LoadEvent(ctx, s.db, event.ProviderEventID)
		if err != nil {
			return err
		}
		if stored == nil || stored.ProcessedAt != nil {
			s.count(event.Type, "duplicate")
			return nil
		}
		record = stored
	}

	if err := s.handle(ctx, event); err != nil {
		s.log.Error("webhook handler failed, queuing retry",
			zap.String("event_id", event.ProviderEventID),
			zap.String("event_type", event.Type),
			zap.Error(err),
		)
		if enqueueErr := s.enqueueRetry(ctx, event, err, now); enqueueErr != nil {
			return enqueueErr
		}
		s.count(event.Type, "retry_queued")
		return nil
	}

	if err := s.repo.MarkProcessed(ctx, s.db, record.ID, s.clock.Now()); err != nil {
		return err
	}
	s.count(event.Type, "processed")
	return nil
}

func (s *Service) enqueueRetry(ctx context.Context, event *domain.Event, cause error, now time.Time) error {
	// A redelivery of an event already parked on the queue must not add a
	// second entry; the pending one will re-handle the same payload.
	pending, err := s.repo.HasUnresolvedRetry(ctx, s.db, event.ProviderEventID)
	if err != nil {
		return err
	}
	if pending {
		return nil
	}

	if s.metrics != nil {
		s.metrics.WebhookRetries.Inc()
	}
	return s.repo.EnqueueRetry(ctx, s.db, &domain.RetryEntry{
		ID:              s.genID.Generate(),
		ProviderEventID: event.ProviderEventID,
		EventType:       event.Type,
		Payload:         datatypes.JSON(event.RawPayload),
		FailureReason:   cause.Error(),
		AttemptCount:    0,
		NextAttemptAt:   now.Add(retryBaseDelay),
		CreatedAt:       now,
		UpdatedAt:       now,
	})
}

// handle applies one event inside a single transaction.
func (s *Service) handle(ctx context.Context, event *domain.Event) error {
	return s.db.Transaction(func(tx *gorm.DB) error {
		booking, err := s.resolveBooking(ctx, tx, event)
		if err != nil {
			return err
		}

		now := s.clock.Now()
		switch event.Type {
		case domain.EventChargeSucceeded:
			return s.applyChargeSucceeded(ctx, tx, booking, event, now)
		case domain.EventChargeFailed, domain.EventInvoiceFailed:
			return s.applyChargeFailed(ctx, tx, booking, now)
		case domain.EventSubscriptionCancelled:
			return s.recurring.RecordCancelled(ctx, tx, booking, now)
		case domain.EventSubscriptionUpdated:
			return s.applySubscriptionUpdated(ctx, tx, booking, event, now)
		case domain.EventDisputeCreated:
			return s.applyDisputeCreated(ctx, tx, booking, now)
		case domain.EventDisputeClosed:
			return s.applyDisputeClosed(ctx, tx, booking, event, now)
		case domain.EventChargeRefunded:
			return s.applyRefund(ctx, tx, booking, event, now)
		default:
			return domain.ErrEventIgnored
		}
	})
}

func (s *Service) resolveBooking(ctx context.Context, tx *gorm.DB, event *domain.Event) (*bookingdomain.Booking, error) {
	if event.BookingID != 0 {
		booking, err := s.bookingRepo.FindForUpdate(ctx, tx, event.BookingID)
		if err == nil {
			return booking, nil
		}
		if err != bookingdomain.ErrNotFound {
			return nil, err
		}
	}
	if event.SubscriptionID != "" {
		booking, err := s.bookingRepo.FindBySubscription(ctx, tx, event.SubscriptionID)
		if err == nil {
			return s.bookingRepo.FindForUpdate(ctx, tx, booking.ID)
		}
		if err != bookingdomain.ErrNotFound {
			return nil, err
		}
	}
	return nil, domain.ErrUnresolvedBooking
}

// applyChargeSucceeded converges the booking onto the processor's settled
// charge. A first-time confirmation marks the current cycle paid; a renewal
// (booking already paid under a different transaction) opens the next cycle.
func (s *Service) applyChargeSucceeded(ctx context.Context, tx *gorm.DB, booking *bookingdomain.Booking, event *domain.Event, now time.Time) error {
	existing, err := s.bookingRepo.FindPayment(ctx, tx, booking.ID, booking.ChargeCycle)
	if err != nil {
		return err
	}
	if existing != nil && existing.ExternalTransactionID == event.TransactionID {
		return nil // already settled
	}

	cycle := booking.ChargeCycle
	if booking.PaymentStatus == bookingdomain.PaymentStatusPaid && existing != nil {
		// Renewal: the prior cycle is already settled under another charge.
		cycle, err = s.bookingRepo.AdvanceChargeCycle(ctx, tx, booking.ID, now)
		if err != nil {
			return err
		}
	}

	if err := s.bookingRepo.MarkPaid(ctx, tx, booking.ID, event.TransactionID, booking.RecurringService, now); err != nil {
		return err
	}

	target := s.targetAmount(ctx, booking)
	_, err = s.bookingRepo.InsertPayment(ctx, tx, &bookingdomain.Payment{
		ID:                    s.genID.Generate(),
		BookingID:             booking.ID,
		ChargeCycle:           cycle,
		AmountCents:           event.AmountCents,
		ProcessingFeeCents:    event.AmountCents - target,
		TargetCents:           target,
		ExternalTransactionID: event.TransactionID,
		Status:                bookingdomain.PaymentRecordStatusSettled,
		CreatedAt:             now,
	})
	if err != nil {
		return err
	}

	if booking.RecurringService {
		return s.recurring.RecordChargeSucceeded(ctx, tx, booking, now)
	}
	return nil
}

func (s *Service) applyChargeFailed(ctx context.Context, tx *gorm.DB, booking *bookingdomain.Booking, now time.Time) error {
	if booking.PaymentStatus == bookingdomain.PaymentStatusFailed {
		return nil
	}
	if err := s.bookingRepo.UpdatePaymentStatus(ctx, tx, booking.ID, bookingdomain.PaymentStatusFailed, now); err != nil {
		return err
	}
	if booking.RecurringService {
		if err := s.recurring.RecordChargeFailed(ctx, tx, booking, now); err != nil {
			return err
		}
	}
	s.notifier.NotifyActor(ctx, booking.ClientID,
		"payment failed",
		"Your payment could not be processed. Please check your payment method.")
	return nil
}

func (s *Service) applySubscriptionUpdated(ctx context.Context, tx *gorm.DB, booking *bookingdomain.Booking, event *domain.Event, now time.Time) error {
	switch event.SubscriptionStatus {
	case "canceled", "cancelled":
		return s.recurring.RecordCancelled(ctx, tx, booking, now)
	case "paused":
		return s.recurring.Freeze(ctx, tx, booking, now)
	default:
		return nil
	}
}

func (s *Service) applyDisputeCreated(ctx context.Context, tx *gorm.DB, booking *bookingdomain.Booking, now time.Time) error {
	if booking.PaymentStatus == bookingdomain.PaymentStatusDisputed {
		return nil
	}
	if err := s.bookingRepo.UpdatePaymentStatus(ctx, tx, booking.ID, bookingdomain.PaymentStatusDisputed, now); err != nil {
		return err
	}
	if payment, err := s.bookingRepo.FindPayment(ctx, tx, booking.ID, booking.ChargeCycle); err != nil {
		return err
	} else if payment != nil {
		if err := s.bookingRepo.UpdatePaymentRecordStatus(ctx, tx, payment.ID, bookingdomain.PaymentRecordStatusDisputed, payment.RefundedCents); err != nil {
			return err
		}
	}
	if err := s.recurring.Freeze(ctx, tx, booking, now); err != nil {
		return err
	}
	s.notifier.NotifyOperators(ctx, notify.SeverityUrgent, "payment disputed", map[string]any{
		"booking_id": booking.ID.String(),
		"client_id":  booking.ClientID.String(),
	})
	s.notifier.NotifyActor(ctx, booking.ClientID,
		"payment disputed",
		"A dispute was opened on your payment. Auto-pay is suspended while it is reviewed.")
	return nil
}

func (s *Service) applyDisputeClosed(ctx context.Context, tx *gorm.DB, booking *bookingdomain.Booking, event *domain.Event, now time.Time) error {
	payment, err := s.bookingRepo.FindPayment(ctx, tx, booking.ID, booking.ChargeCycle)
	if err != nil {
		return err
	}

	switch event.DisputeOutcome {
	case domain.DisputeWon:
		if err := s.bookingRepo.UpdatePaymentStatus(ctx, tx, booking.ID, bookingdomain.PaymentStatusPaid, now); err != nil {
			return err
		}
		if payment != nil {
			return s.bookingRepo.UpdatePaymentRecordStatus(ctx, tx, payment.ID, bookingdomain.PaymentRecordStatusSettled, payment.RefundedCents)
		}
		return nil
	case domain.DisputeLost:
		if err := s.bookingRepo.UpdatePaymentStatus(ctx, tx, booking.ID, bookingdomain.PaymentStatusRefunded, now); err != nil {
			return err
		}
		if payment != nil {
			return s.bookingRepo.UpdatePaymentRecordStatus(ctx, tx, payment.ID, bookingdomain.PaymentRecordStatusRefunded, payment.AmountCents)
		}
		return nil
	default:
		return domain.ErrInvalidPayload
	}
}

func (s *Service) applyRefund(ctx context.Context, tx *gorm.DB, booking *bookingdomain.Booking, event *domain.Event, now time.Time) error {
	payment, err := s.bookingRepo.FindPayment(ctx, tx, booking.ID, booking.ChargeCycle)
	if err != nil {
		return err
	}

	full := payment == nil || event.AmountRefundedCents >= payment.AmountCents
	status := bookingdomain.PaymentStatusPartiallyRefunded
	recordStatus := bookingdomain.PaymentRecordStatusPartiallyRefunded
	if full {
		status = bookingdomain.PaymentStatusRefunded
		recordStatus = bookingdomain.PaymentRecordStatusRefunded
	}

	if err := s.bookingRepo.UpdatePaymentStatus(ctx, tx, booking.ID, status, now); err != nil {
		return err
	}
	if payment != nil {
		return s.bookingRepo.UpdatePaymentRecordStatus(ctx, tx, payment.ID, recordStatus, event.AmountRefundedCents)
	}
	return nil
}

func (s *Service) targetAmount(ctx context.Context, booking *bookingdomain.Booking) int64 {
	var discount int64
	if booking.ReferralCodeID != nil {
		code, err := s.referralRepo.Find(ctx, s.db, *booking.ReferralCodeID)
		if err == nil && code.Active {
			discount = code.DiscountCentsPerHour
		}
	}
	return rates.BookingTotal(booking.HoursPerDay, booking.DurationDays, booking.HourlyRateCents, discount)
}

func (s *Service) count(eventType, result string) {
	if s.metrics != nil {
		s.metrics.WebhookEvents.WithLabelValues(eventType, result).Inc()
	}
}
