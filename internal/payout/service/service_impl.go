package service

import (
	"context"
	"fmt"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/carepayhq/carepay/internal/clock"
	"github.com/carepayhq/carepay/internal/notify"
	obsmetrics "github.com/carepayhq/carepay/internal/observability/metrics"
	"github.com/carepayhq/carepay/internal/payout/domain"
	payoutrepo "github.com/carepayhq/carepay/internal/payout/repository"
	processordomain "github.com/carepayhq/carepay/internal/processor/domain"
	providerdomain "github.com/carepayhq/carepay/internal/provider/domain"
	providerrepo "github.com/carepayhq/carepay/internal/provider/repository"
	"github.com/carepayhq/carepay/internal/settings"
	timesheetdomain "github.com/carepayhq/carepay/internal/timesheet/domain"
	timesheetrepo "github.com/carepayhq/carepay/internal/timesheet/repository"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const claimBatchSize = 500

type Params struct {
	fx.In

	DB            *gorm.DB
	Log           *zap.Logger
	GenID         *snowflake.Node
	Clock         clock.Clock
	Settings      *settings.Service
	Notifier      notify.Notifier
	Processor     processordomain.Client
	TimesheetRepo timesheetrepo.Repository
	ProviderRepo  providerrepo.Repository
	PayoutRepo    payoutrepo.Repository
	Metrics       *obsmetrics.Metrics `optional:"true"`
}

// Service batches settled, unpaid earnings into per-provider transfers. A
// record enters at most one non-failed payout; a failed transfer releases
// its records for the next run.
type Service struct {
	db            *gorm.DB
	log           *zap.Logger
	genID         *snowflake.Node
	clock         clock.Clock
	settings      *settings.Service
	notifier      notify.Notifier
	processor     processordomain.Client
	timesheetRepo timesheetrepo.Repository
	providerRepo  providerrepo.Repository
	payoutRepo    payoutrepo.Repository
	metrics       *obsmetrics.Metrics
}

func New(p Params) *Service {
	return &Service{
		db:            p.DB,
		log:           p.Log.Named("payout.service"),
		genID:         p.GenID,
		clock:         p.Clock,
		settings:      p.Settings,
		notifier:      p.Notifier,
		processor:     p.Processor,
		timesheetRepo: p.TimesheetRepo,
		providerRepo:  p.ProviderRepo,
		payoutRepo:    p.PayoutRepo,
		metrics:       p.Metrics,
	}
}

// RunOnce executes one payout batch for the given frequency. force skips the
// payout-day schedule check; the admin trigger uses it, the background loop
// does not.
func (s *Service) RunOnce(ctx context.Context, frequency providerdomain.PayoutFrequency, force bool) (*domain.Summary, error) {
	switch frequency {
	case providerdomain.PayoutWeekly, providerdomain.PayoutBiweekly, providerdomain.PayoutMonthly:
	default:
		return nil, domain.ErrInvalidFrequency
	}

	summary := &domain.Summary{}
	err := s.db.Transaction(func(tx *gorm.DB) error {
		records, err := s.timesheetRepo.ClaimPayable(ctx, tx, claimBatchSize)
		if err != nil {
			return err
		}

		byProvider := make(map[snowflake.ID][]timesheetdomain.TimeTrackingRecord)
		order := []snowflake.ID{}
		for _, record := range records {
			if _, seen := byProvider[record.ProviderID]; !seen {
				order = append(order, record.ProviderID)
			}
			byProvider[record.ProviderID] = append(byProvider[record.ProviderID], record)
		}

		for _, providerID := range order {
			if err := s.payProvider(ctx, tx, providerID, byProvider[providerID], frequency, force, summary); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		s.countRun("failure")
		return nil, err
	}
	s.countRun("success")
	return summary, nil
}

// payProvider settles one provider's batch. Skips leave the records pending
// and are not failures; only a rejected transfer counts as one.
func (s *Service) payProvider(
	ctx context.Context,
	tx *gorm.DB,
	providerID snowflake.ID,
	records []timesheetdomain.TimeTrackingRecord,
	frequency providerdomain.PayoutFrequency,
	force bool,
	summary *domain.Summary,
) error {

	log := s.log.With(zap.String("provider_id", providerID.String()))

	provider, err := s.providerRepo.Find(ctx, tx, providerID)
	if err != nil {
		log.Warn("skipping payout, provider lookup failed", zap.Error(err))
		return nil
	}
	if provider.PayoutFrequency != frequency {
		return nil
	}

	now := s.clock.Now()
	if !force && !payoutDue(provider, now) {
		return nil
	}

	var total int64
	recordIDs := make([]snowflake.ID, 0, len(records))
	for _, record := range records {
		total += record.ProviderEarningsCents
		recordIDs = append(recordIDs, record.ID)
	}

	if total < s.settings.Current().MinPayoutCents {
		log.Info("payout below minimum threshold, deferring",
			zap.Int64("amount_cents", total),
		)
		return nil
	}

	if !provider.InstrumentVerified || provider.ProcessorAccountID == nil {
		if !provider.CannotPayout {
			if err := s.providerRepo.FlagCannotPayout(ctx, tx, providerID, true, now); err != nil {
				return err
			}
			s.notifier.NotifyActor(ctx, providerID,
				"payout on hold",
				"Your earnings are ready but no verified payout method is on file.")
		}
		log.Warn("provider excluded from payout, no verified instrument")
		return nil
	}

	payout := &domain.PayoutTransaction{
		ID:          s.genID.Generate(),
		ProviderID:  providerID,
		AmountCents: total,
		RecordCount: len(recordIDs),
		Status:      domain.PayoutPending,
		CreatedAt:   now,
	}
	if err := s.payoutRepo.Insert(ctx, tx, payout); err != nil {
		return err
	}
	if err := s.timesheetRepo.AttachPayout(ctx, tx, recordIDs, payout.ID, now); err != nil {
		return err
	}

	transfer, err := s.processor.CreateTransfer(ctx, processordomain.TransferParams{
		AccountID:      *provider.ProcessorAccountID,
		AmountCents:    total,
		Currency:       "usd",
		IdempotencyKey: transferKey(providerID, now),
		Metadata: map[string]string{
			"payout_id":   payout.ID.String(),
			"provider_id": providerID.String(),
		},
	})
	if err != nil || transfer.Status != processordomain.TransferCompleted {
		reason := "transfer_rejected"
		if err != nil {
			reason = err.Error()
		} else if transfer.Reason != "" {
			reason = transfer.Reason
		}
		log.Error("payout transfer failed",
			zap.String("payout_id", payout.ID.String()),
			zap.String("reason", reason),
		)
		if err := s.payoutRepo.MarkFailed(ctx, tx, payout.ID, reason, now); err != nil {
			return err
		}
		if err := s.timesheetRepo.ReleasePayout(ctx, tx, payout.ID, now); err != nil {
			return err
		}
		summary.FailedCount++
		return nil
	}

	if err := s.payoutRepo.MarkCompleted(ctx, tx, payout.ID, transfer.ID, now); err != nil {
		return err
	}
	if err := s.timesheetRepo.MarkPaid(ctx, tx, payout.ID, now); err != nil {
		return err
	}
	if err := s.providerRepo.SetLastPayout(ctx, tx, providerID, now); err != nil {
		return err
	}

	summary.PaidCount++
	summary.TotalAmountCents += total
	if s.metrics != nil {
		s.metrics.PayoutRecordsSettled.Add(float64(len(recordIDs)))
	}
	log.Info("payout completed",
		zap.String("payout_id", payout.ID.String()),
		zap.Int64("amount_cents", total),
		zap.Int("records", len(recordIDs)),
	)
	return nil
}

// payoutDue checks the provider's configured payout day against now.
// PayoutDay is a weekday (0=Sunday) for weekly/biweekly, a day of month for
// monthly. Biweekly additionally requires 13+ days since the last payout.
func payoutDue(provider *providerdomain.Provider, now time.Time) bool {
	switch provider.PayoutFrequency {
	case providerdomain.PayoutWeekly:
		return int(now.Weekday()) == provider.PayoutDay
	case providerdomain.PayoutBiweekly:
		if int(now.Weekday()) != provider.PayoutDay {
			return false
		}
		if provider.LastPayoutAt == nil {
			return true
		}
		return now.Sub(*provider.LastPayoutAt) >= 13*24*time.Hour
	case providerdomain.PayoutMonthly:
		day := provider.PayoutDay
		lastDay := time.Date(now.Year(), now.Month()+1, 0, 0, 0, 0, 0, now.Location()).Day()
		if day > lastDay {
			day = lastDay
		}
		return now.Day() == day
	default:
		return false
	}
}

func transferKey(providerID snowflake.ID, now time.Time) string {
	return fmt.Sprintf("payout:%d:%s", providerID, now.UTC().Format("2006-01-02"))
}

// RunForever sweeps all frequencies on a fixed interval until ctx cancels.
func (s *Service) RunForever(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Hour
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	frequencies := []providerdomain.PayoutFrequency{
		providerdomain.PayoutWeekly,
		providerdomain.PayoutBiweekly,
		providerdomain.PayoutMonthly,
	}

	for {
		for _, frequency := range frequencies {
			if _, err := s.RunOnce(ctx, frequency, false); err != nil {
				s.log.Warn("payout run failed",
					zap.String("frequency", string(frequency)),
					zap.Error(err),
				)
			}
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (s *Service) countRun(result string) {
	if s.metrics != nil {
		s.metrics.PayoutRuns.WithLabelValues(result).Inc()
	}
}
