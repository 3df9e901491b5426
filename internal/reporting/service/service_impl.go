// Package service aggregates ledger state for reconciliation dashboards and
// provider earnings reads. Everything here is read-only.
package service

import (
	"context"

	"github.com/bwmarrin/snowflake"
	payoutdomain "github.com/carepayhq/carepay/internal/payout/domain"
	payoutrepo "github.com/carepayhq/carepay/internal/payout/repository"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB         *gorm.DB
	Log        *zap.Logger
	PayoutRepo payoutrepo.Repository
}

type Service struct {
	db         *gorm.DB
	log        *zap.Logger
	payoutRepo payoutrepo.Repository
}

func New(p Params) *Service {
	return &Service{
		db:         p.DB,
		log:        p.Log.Named("reporting.service"),
		payoutRepo: p.PayoutRepo,
	}
}

// StatusAmount is one revenue bucket.
type StatusAmount struct {
	Status      string `json:"status"`
	Count       int64  `json:"count"`
	AmountCents int64  `json:"amount_cents"`
}

// ProviderBalance is a provider's settled-but-unpaid earnings.
type ProviderBalance struct {
	ProviderID    snowflake.ID `json:"provider_id"`
	RecordCount   int64        `json:"record_count"`
	EarningsCents int64        `json:"earnings_cents"`
}

// Overview is the reconciliation dashboard payload.
type Overview struct {
	RevenueByStatus      []StatusAmount    `json:"revenue_by_status"`
	UnpaidEarnings       []ProviderBalance `json:"unpaid_earnings"`
	UnpaidEarningsCents  int64             `json:"unpaid_earnings_cents"`
	DisputedBookings     int64             `json:"disputed_bookings"`
	PendingRetryEntries  int64             `json:"pending_retry_entries"`
	CompletedPayoutCents int64             `json:"completed_payout_cents"`
	FailedPayouts        int64             `json:"failed_payouts"`
}

func (s *Service) Overview(ctx context.Context) (*Overview, error) {
	overview := &Overview{}

	err := s.db.WithContext(ctx).Raw(
		`SELECT status, COUNT(*) AS count, COALESCE(SUM(amount_cents), 0) AS amount_cents
		 FROM payments
		 GROUP BY status
		 ORDER BY status`,
	).Scan(&overview.RevenueByStatus).Error
	if err != nil {
		return nil, err
	}

	err = s.db.WithContext(ctx).Raw(
		`SELECT provider_id, COUNT(*) AS record_count,
			COALESCE(SUM(provider_earnings_cents), 0) AS earnings_cents
		 FROM time_tracking_records
		 WHERE payment_status = 'pending' AND split_computed_at IS NOT NULL
		 GROUP BY provider_id
		 ORDER BY earnings_cents DESC`,
	).Scan(&overview.UnpaidEarnings).Error
	if err != nil {
		return nil, err
	}
	for _, balance := range overview.UnpaidEarnings {
		overview.UnpaidEarningsCents += balance.EarningsCents
	}

	if err := s.db.WithContext(ctx).Raw(
		`SELECT COUNT(*) FROM bookings WHERE payment_status = 'disputed'`,
	).Scan(&overview.DisputedBookings).Error; err != nil {
		return nil, err
	}

	if err := s.db.WithContext(ctx).Raw(
		`SELECT COUNT(*) FROM webhook_retry_entries WHERE resolved_at IS NULL`,
	).Scan(&overview.PendingRetryEntries).Error; err != nil {
		return nil, err
	}

	if err := s.db.WithContext(ctx).Raw(
		`SELECT COALESCE(SUM(amount_cents), 0) FROM payout_transactions WHERE status = 'completed'`,
	).Scan(&overview.CompletedPayoutCents).Error; err != nil {
		return nil, err
	}

	if err := s.db.WithContext(ctx).Raw(
		`SELECT COUNT(*) FROM payout_transactions WHERE status = 'failed'`,
	).Scan(&overview.FailedPayouts).Error; err != nil {
		return nil, err
	}

	return overview, nil
}

// EarningsSummary is a provider's settled earnings breakdown, the read used
// for statements and year-end tax forms.
type EarningsSummary struct {
	ProviderID         snowflake.ID                     `json:"provider_id"`
	PaidCents          int64                            `json:"paid_cents"`
	PendingCents       int64                            `json:"pending_cents"`
	PaidRecords        int64                            `json:"paid_records"`
	PendingRecords     int64                            `json:"pending_records"`
	TotalHours         float64                          `json:"total_hours"`
	RecentPayouts      []payoutdomain.PayoutTransaction `json:"recent_payouts"`
}

func (s *Service) ProviderEarnings(ctx context.Context, providerID snowflake.ID) (*EarningsSummary, error) {
	summary := &EarningsSummary{ProviderID: providerID}

	rows := []struct {
		PaymentStatus string
		Count         int64
		EarningsCents int64
		Hours         float64
	}{}
	err := s.db.WithContext(ctx).Raw(
		`SELECT payment_status, COUNT(*) AS count,
			COALESCE(SUM(provider_earnings_cents), 0) AS earnings_cents,
			COALESCE(SUM(hours_worked), 0) AS hours
		 FROM time_tracking_records
		 WHERE provider_id = ? AND split_computed_at IS NOT NULL
		 GROUP BY payment_status`,
		providerID,
	).Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	for _, row := range rows {
		summary.TotalHours += row.Hours
		switch row.PaymentStatus {
		case "paid":
			summary.PaidCents = row.EarningsCents
			summary.PaidRecords = row.Count
		case "pending":
			summary.PendingCents = row.EarningsCents
			summary.PendingRecords = row.Count
		}
	}

	payouts, err := s.payoutRepo.ListForProvider(ctx, s.db, providerID, 20)
	if err != nil {
		return nil, err
	}
	summary.RecentPayouts = payouts

	return summary, nil
}
