package service

import (
	"context"
	"errors"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/carepayhq/carepay/internal/actor"
	bookingdomain "github.com/carepayhq/carepay/internal/booking/domain"
	"github.com/carepayhq/carepay/internal/clock"
	"github.com/carepayhq/carepay/internal/referral/domain"
	referralrepo "github.com/carepayhq/carepay/internal/referral/repository"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// ErrInactiveCode rejects attaching a deactivated referral code.
var ErrInactiveCode = errors.New("referral_code_inactive")

type Params struct {
	fx.In

	DB          *gorm.DB
	Log         *zap.Logger
	Clock       clock.Clock
	Repo        referralrepo.Repository
	BookingRepo bookingdomain.Repository
}

type Service struct {
	db          *gorm.DB
	log         *zap.Logger
	clock       clock.Clock
	repo        referralrepo.Repository
	bookingRepo bookingdomain.Repository
}

func New(p Params) *Service {
	return &Service{
		db:          p.DB,
		log:         p.Log.Named("referral.service"),
		clock:       p.Clock,
		repo:        p.Repo,
		bookingRepo: p.BookingRepo,
	}
}

// ApplyToBooking attaches a referral code to an unpaid booking. The usage
// counter increments here, at attach time; payment outcome does not touch it.
func (s *Service) ApplyToBooking(ctx context.Context, bookingID snowflake.ID, code string, who actor.Actor) (*domain.ReferralCode, error) {
	code = strings.TrimSpace(code)
	if code == "" {
		return nil, domain.ErrNotFound
	}

	var applied *domain.ReferralCode
	err := s.db.Transaction(func(tx *gorm.DB) error {
		booking, err := s.bookingRepo.FindForUpdate(ctx, tx, bookingID)
		if err != nil {
			return err
		}
		if !who.IsAdmin() && booking.ClientID != who.ID {
			return bookingdomain.ErrUnauthorized
		}
		if booking.PaymentStatus == bookingdomain.PaymentStatusPaid {
			return bookingdomain.ErrAlreadyPaid
		}

		referral, err := s.repo.FindByCode(ctx, tx, code)
		if err != nil {
			return err
		}
		if !referral.Active {
			return ErrInactiveCode
		}
		if booking.ReferralCodeID != nil && *booking.ReferralCodeID == referral.ID {
			applied = referral
			return nil // already attached
		}

		now := s.clock.Now()
		if err := s.bookingRepo.SetReferralCode(ctx, tx, booking.ID, referral.ID, now); err != nil {
			return err
		}
		if err := s.repo.IncrementUsage(ctx, tx, referral.ID); err != nil {
			return err
		}
		applied = referral
		return nil
	})
	if err != nil {
		return nil, err
	}
	return applied, nil
}
