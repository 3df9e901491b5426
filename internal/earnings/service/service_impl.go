package service

import (
	"context"

	"github.com/bwmarrin/snowflake"
	bookingdomain "github.com/carepayhq/carepay/internal/booking/domain"
	"github.com/carepayhq/carepay/internal/clock"
	earningsdomain "github.com/carepayhq/carepay/internal/earnings/domain"
	"github.com/carepayhq/carepay/internal/notify"
	providerdomain "github.com/carepayhq/carepay/internal/provider/domain"
	providerrepo "github.com/carepayhq/carepay/internal/provider/repository"
	"github.com/carepayhq/carepay/internal/rates"
	referralrepo "github.com/carepayhq/carepay/internal/referral/repository"
	timesheetdomain "github.com/carepayhq/carepay/internal/timesheet/domain"
	timesheetrepo "github.com/carepayhq/carepay/internal/timesheet/repository"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB           *gorm.DB
	Log          *zap.Logger
	Clock        clock.Clock
	Notifier     notify.Notifier
	BookingRepo  bookingdomain.Repository
	ProviderRepo providerrepo.Repository
	ReferralRepo referralrepo.Repository
	RecordRepo   timesheetrepo.Repository
}

// Service computes the four-way earnings split for completed work sessions.
type Service struct {
	db           *gorm.DB
	log          *zap.Logger
	clock        clock.Clock
	notifier     notify.Notifier
	bookingRepo  bookingdomain.Repository
	providerRepo providerrepo.Repository
	referralRepo referralrepo.Repository
	recordRepo   timesheetrepo.Repository
}

func NewService(p Params) *Service {
	return &Service{
		db:           p.DB,
		log:          p.Log.Named("earnings.service"),
		clock:        p.Clock,
		notifier:     p.Notifier,
		bookingRepo:  p.BookingRepo,
		providerRepo: p.ProviderRepo,
		referralRepo: p.ReferralRepo,
		recordRepo:   p.RecordRepo,
	}
}

// Split holds the four amounts settling one time-tracking record. The four
// always sum to TotalChargeCents: agency commission is the exact remainder.
type Split struct {
	TotalChargeCents         int64
	ProviderEarningsCents    int64
	MarketingCommissionCents int64
	TrainingCommissionCents  int64
	AgencyCommissionCents    int64
}

// SettleRecord computes and persists the split for a completed record. The
// split is written at most once; a second call returns ErrAlreadySettled.
func (s *Service) SettleRecord(ctx context.Context, recordID snowflake.ID) (*Split, error) {
	record, err := s.recordRepo.Find(ctx, s.db, recordID)
	if err != nil {
		return nil, err
	}
	if record.PaymentStatus == timesheetdomain.SettlementPaid || record.Settled() {
		return nil, earningsdomain.ErrAlreadySettled
	}
	if record.Status != timesheetdomain.SessionCompleted || record.HoursWorked <= 0 {
		return nil, earningsdomain.ErrNoHours
	}
	if record.BookingID == nil {
		return nil, earningsdomain.ErrUnresolvedBooking
	}

	booking, err := s.bookingRepo.Find(ctx, s.db, *record.BookingID)
	if err != nil {
		return nil, earningsdomain.ErrUnresolvedBooking
	}
	prov, err := s.providerRepo.Find(ctx, s.db, record.ProviderID)
	if err != nil {
		return nil, err
	}

	split, err := s.compute(ctx, record, booking, prov)
	if err != nil {
		return nil, err
	}

	now := s.clock.Now()
	record.TotalChargeCents = split.TotalChargeCents
	record.ProviderEarningsCents = split.ProviderEarningsCents
	record.MarketingCommissionCents = split.MarketingCommissionCents
	record.TrainingCommissionCents = split.TrainingCommissionCents
	record.AgencyCommissionCents = split.AgencyCommissionCents

	written, err := s.recordRepo.WriteSplit(ctx, s.db, record, now)
	if err != nil {
		return nil, err
	}
	if !written {
		return nil, earningsdomain.ErrAlreadySettled
	}

	s.log.Info("earnings split settled",
		zap.String("record_id", record.ID.String()),
		zap.Float64("hours", record.HoursWorked),
		zap.Int64("total_cents", split.TotalChargeCents),
		zap.Int64("provider_cents", split.ProviderEarningsCents),
		zap.Int64("marketing_cents", split.MarketingCommissionCents),
		zap.Int64("training_cents", split.TrainingCommissionCents),
		zap.Int64("agency_cents", split.AgencyCommissionCents),
	)
	return split, nil
}

func (s *Service) compute(
	ctx context.Context,
	record *timesheetdomain.TimeTrackingRecord,
	booking *bookingdomain.Booking,
	prov *providerdomain.Provider,
) (*Split, error) {

	clientRate := booking.HourlyRateCents
	var marketingRate int64
	if booking.ReferralCodeID != nil {
		code, err := s.referralRepo.Find(ctx, s.db, *booking.ReferralCodeID)
		if err == nil && code.Active {
			clientRate -= code.DiscountCentsPerHour
			if clientRate < 0 {
				clientRate = 0
			}
			marketingRate = code.MarketingRateCentsPerHour
		}
	}

	var trainingRate int64
	// Training affiliation applies to caregivers only.
	if prov.Class == providerdomain.ClassCaregiver && prov.TrainingCenterID != nil {
		trainingRate = prov.TrainingRateCents
	}

	hours := record.HoursWorked
	split := &Split{
		TotalChargeCents:         rates.HourlyAmount(hours, clientRate),
		ProviderEarningsCents:    rates.HourlyAmount(hours, prov.ContractRateCents),
		MarketingCommissionCents: rates.HourlyAmount(hours, marketingRate),
		TrainingCommissionCents:  rates.HourlyAmount(hours, trainingRate),
	}
	split.AgencyCommissionCents = split.TotalChargeCents -
		split.ProviderEarningsCents -
		split.MarketingCommissionCents -
		split.TrainingCommissionCents

	if split.AgencyCommissionCents < 0 {
		// Rates are misconfigured relative to the client charge. Alert
		// instead of persisting a split that drains the platform.
		s.log.Error("earnings split exceeds client charge",
			zap.String("record_id", record.ID.String()),
			zap.String("booking_id", booking.ID.String()),
			zap.String("provider_id", prov.ID.String()),
			zap.Int64("total_cents", split.TotalChargeCents),
			zap.Int64("agency_cents", split.AgencyCommissionCents),
		)
		s.notifier.NotifyOperators(ctx, notify.SeverityUrgent, "earnings split invariant violation", map[string]any{
			"record_id":    record.ID.String(),
			"booking_id":   booking.ID.String(),
			"provider_id":  prov.ID.String(),
			"total_cents":  split.TotalChargeCents,
			"agency_cents": split.AgencyCommissionCents,
		})
		return nil, earningsdomain.ErrSplitInvariant
	}

	return split, nil
}
