package server

import (
	"net/http"
	"strings"

	providerdomain "github.com/carepayhq/carepay/internal/provider/domain"
	"github.com/gin-gonic/gin"
)

type runPayoutsRequest struct {
	Frequency string `json:"frequency"`
	Force     *bool  `json:"force"`
}

// RunPayouts triggers a payout batch for one frequency. Admin-initiated runs
// bypass the payout-day schedule unless force is explicitly false.
func (s *Server) RunPayouts(c *gin.Context) {
	var body runPayoutsRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	force := true
	if body.Force != nil {
		force = *body.Force
	}

	frequency := providerdomain.PayoutFrequency(strings.TrimSpace(body.Frequency))
	summary, err := s.payoutSvc.RunOnce(c.Request.Context(), frequency, force)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, summary)
}

type splitResponse struct {
	RecordID                 string `json:"record_id"`
	TotalChargeCents         int64  `json:"total_charge_cents"`
	ProviderEarningsCents    int64  `json:"provider_earnings_cents"`
	MarketingCommissionCents int64  `json:"marketing_commission_cents"`
	TrainingCommissionCents  int64  `json:"training_commission_cents"`
	AgencyCommissionCents    int64  `json:"agency_commission_cents"`
}

// SettleTimesheetRecord computes the earnings split for a completed session.
func (s *Server) SettleTimesheetRecord(c *gin.Context) {
	recordID, err := parseID(c.Param("record_id"))
	if err != nil {
		AbortWithError(c, newValidationError("record_id", "invalid_id", "record_id must be a valid id"))
		return
	}

	split, err := s.earningsSvc.SettleRecord(c.Request.Context(), recordID)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, splitResponse{
		RecordID:                 recordID.String(),
		TotalChargeCents:         split.TotalChargeCents,
		ProviderEarningsCents:    split.ProviderEarningsCents,
		MarketingCommissionCents: split.MarketingCommissionCents,
		TrainingCommissionCents:  split.TrainingCommissionCents,
		AgencyCommissionCents:    split.AgencyCommissionCents,
	})
}

// ReconciliationOverview returns the ledger-wide reconciliation dashboard.
func (s *Server) ReconciliationOverview(c *gin.Context) {
	overview, err := s.reportingSvc.Overview(c.Request.Context())
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, overview)
}

// ProviderEarnings returns one provider's earnings summary and payout history.
func (s *Server) ProviderEarnings(c *gin.Context) {
	providerID, err := parseID(c.Param("provider_id"))
	if err != nil {
		AbortWithError(c, newValidationError("provider_id", "invalid_id", "provider_id must be a valid id"))
		return
	}

	summary, err := s.reportingSvc.ProviderEarnings(c.Request.Context(), providerID)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, summary)
}
