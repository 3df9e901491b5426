package service

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"github.com/carepayhq/carepay/internal/clock"
	"github.com/carepayhq/carepay/internal/timesheet/domain"
	"github.com/carepayhq/carepay/internal/timesheet/repository"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB    *gorm.DB
	Log   *zap.Logger
	GenID *snowflake.Node
	Clock clock.Clock
	Repo  repository.Repository
}

type Service struct {
	db    *gorm.DB
	log   *zap.Logger
	genID *snowflake.Node
	clock clock.Clock
	repo  repository.Repository
}

func NewService(p Params) *Service {
	return &Service{
		db:    p.DB,
		log:   p.Log.Named("timesheet.service"),
		genID: p.GenID,
		clock: p.Clock,
		repo:  p.Repo,
	}
}

// ClockIn opens a work session for the provider. A provider may hold at most
// one active session.
func (s *Service) ClockIn(ctx context.Context, providerID snowflake.ID, bookingID *snowflake.ID) (*domain.TimeTrackingRecord, error) {
	active, err := s.repo.FindActiveForProvider(ctx, s.db, providerID)
	if err != nil {
		return nil, err
	}
	if active != nil {
		return nil, domain.ErrActiveSession
	}

	now := s.clock.Now()
	record := &domain.TimeTrackingRecord{
		ID:            s.genID.Generate(),
		ProviderID:    providerID,
		BookingID:     bookingID,
		ClockInAt:     now,
		Status:        domain.SessionActive,
		PaymentStatus: domain.SettlementPending,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := s.repo.Insert(ctx, s.db, record); err != nil {
		return nil, err
	}
	return record, nil
}

// ClockOut finalizes the session, deriving hours worked. Hours never go
// negative even if clocks skew.
func (s *Service) ClockOut(ctx context.Context, recordID snowflake.ID, providerID snowflake.ID) (*domain.TimeTrackingRecord, error) {
	record, err := s.repo.Find(ctx, s.db, recordID)
	if err != nil {
		return nil, err
	}
	if record.ProviderID != providerID {
		return nil, domain.ErrNotFound
	}
	if record.Status != domain.SessionActive {
		return record, nil
	}

	now := s.clock.Now()
	hours := now.Sub(record.ClockInAt).Hours()
	if hours < 0 {
		s.log.Warn("clock skew produced negative session duration",
			zap.String("record_id", record.ID.String()),
		)
		hours = 0
	}

	if err := s.repo.Finalize(ctx, s.db, record.ID, now, hours, now); err != nil {
		return nil, err
	}
	record.ClockOutAt = &now
	record.HoursWorked = hours
	record.Status = domain.SessionCompleted
	return record, nil
}
