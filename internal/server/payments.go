package server

import (
	"net/http"
	"strings"

	"github.com/bwmarrin/snowflake"
	recurringdomain "github.com/carepayhq/carepay/internal/recurring/domain"
	"github.com/gin-gonic/gin"
)

type intentResponse struct {
	PaymentIntentID string `json:"payment_intent_id"`
	ClientSecret    string `json:"client_secret"`
	AmountCents     int64  `json:"amount_cents"`
	FeeCents        int64  `json:"fee_cents"`
}

// CreateChargeIntent opens a processor intent for a new-card payment. The
// returned client secret lets the caller confirm the card browser-side.
func (s *Server) CreateChargeIntent(c *gin.Context) {
	who, ok := actorFrom(c)
	if !ok {
		AbortWithError(c, ErrUnauthorized)
		return
	}
	bookingID, err := parseID(c.Param("booking_id"))
	if err != nil {
		AbortWithError(c, newValidationError("booking_id", "invalid_id", "booking_id must be a valid id"))
		return
	}

	result, err := s.captureSvc.CreateChargeIntent(c.Request.Context(), bookingID, who)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, intentResponse{
		PaymentIntentID: result.PaymentIntentID,
		ClientSecret:    result.ClientSecret,
		AmountCents:     result.AmountCents,
		FeeCents:        result.FeeCents,
	})
}

type chargeRequest struct {
	InstrumentID string `json:"instrument_id"`
}

type chargeResponse struct {
	TransactionID string `json:"transaction_id"`
	AmountCents   int64  `json:"amount_cents"`
	FeeCents      int64  `json:"fee_cents"`
}

// ChargeBooking charges a stored payment method synchronously.
func (s *Server) ChargeBooking(c *gin.Context) {
	who, ok := actorFrom(c)
	if !ok {
		AbortWithError(c, ErrUnauthorized)
		return
	}
	bookingID, err := parseID(c.Param("booking_id"))
	if err != nil {
		AbortWithError(c, newValidationError("booking_id", "invalid_id", "booking_id must be a valid id"))
		return
	}

	var body chargeRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}
	if strings.TrimSpace(body.InstrumentID) == "" {
		AbortWithError(c, newValidationError("instrument_id", "required", "instrument_id is required"))
		return
	}

	result, err := s.captureSvc.ChargeSavedInstrument(c.Request.Context(), bookingID, body.InstrumentID, who)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, chargeResponse{
		TransactionID: result.TransactionID,
		AmountCents:   result.AmountCents,
		FeeCents:      result.FeeCents,
	})
}

type autoPayRequest struct {
	Action string `json:"action"`
}

// UpdateAutoPay applies an auto-pay lifecycle command to the booking.
func (s *Server) UpdateAutoPay(c *gin.Context) {
	who, ok := actorFrom(c)
	if !ok {
		AbortWithError(c, ErrUnauthorized)
		return
	}
	bookingID, err := parseID(c.Param("booking_id"))
	if err != nil {
		AbortWithError(c, newValidationError("booking_id", "invalid_id", "booking_id must be a valid id"))
		return
	}

	var body autoPayRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	action := recurringdomain.Action(strings.TrimSpace(body.Action))
	switch action {
	case recurringdomain.ActionEnable, recurringdomain.ActionPause,
		recurringdomain.ActionResume, recurringdomain.ActionCancel:
	default:
		AbortWithError(c, newValidationError("action", "invalid_action", "action must be enable, pause, resume or cancel"))
		return
	}

	if err := s.recurringSvc.Apply(c.Request.Context(), bookingID, action, who); err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"booking_id": bookingID.String(),
		"action":     string(action),
	})
}

type referralRequest struct {
	Code string `json:"code"`
}

// ApplyReferralCode attaches a referral code to an unpaid booking.
func (s *Server) ApplyReferralCode(c *gin.Context) {
	who, ok := actorFrom(c)
	if !ok {
		AbortWithError(c, ErrUnauthorized)
		return
	}
	bookingID, err := parseID(c.Param("booking_id"))
	if err != nil {
		AbortWithError(c, newValidationError("booking_id", "invalid_id", "booking_id must be a valid id"))
		return
	}

	var body referralRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}
	code := strings.TrimSpace(body.Code)
	if code == "" {
		AbortWithError(c, newValidationError("code", "required", "code is required"))
		return
	}

	applied, err := s.referralSvc.ApplyToBooking(c.Request.Context(), bookingID, code, who)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"booking_id":              bookingID.String(),
		"code":                    applied.Code,
		"discount_cents_per_hour": applied.DiscountCentsPerHour,
	})
}

func parseID(raw string) (snowflake.ID, error) {
	return snowflake.ParseString(strings.TrimSpace(raw))
}
