package server

import (
	"errors"
	"net/http"

	bookingdomain "github.com/carepayhq/carepay/internal/booking/domain"
	"github.com/carepayhq/carepay/internal/capture"
	earningsdomain "github.com/carepayhq/carepay/internal/earnings/domain"
	payoutdomain "github.com/carepayhq/carepay/internal/payout/domain"
	processordomain "github.com/carepayhq/carepay/internal/processor/domain"
	providerdomain "github.com/carepayhq/carepay/internal/provider/domain"
	recurringdomain "github.com/carepayhq/carepay/internal/recurring/domain"
	referraldomain "github.com/carepayhq/carepay/internal/referral/domain"
	referralservice "github.com/carepayhq/carepay/internal/referral/service"
	timesheetdomain "github.com/carepayhq/carepay/internal/timesheet/domain"
	webhookdomain "github.com/carepayhq/carepay/internal/webhook/domain"
	"github.com/gin-gonic/gin"
)

type ValidationError struct {
	Field   string `json:"field"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

type ValidationErrors struct {
	Errors []ValidationError `json:"errors"`
}

func (v ValidationErrors) Error() string {
	return "validation error"
}

type errorPayload struct {
	Type    string            `json:"type"`
	Message string            `json:"message"`
	Errors  []ValidationError `json:"errors,omitempty"`
}

type errorResponse struct {
	Error errorPayload `json:"error"`
}

var (
	ErrUnauthorized = errors.New("unauthorized")
	ErrForbidden    = errors.New("forbidden")
)

func ErrorHandlingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if c.Writer.Written() {
			return
		}

		lastErr := c.Errors.Last()
		if lastErr == nil {
			return
		}

		status, payload := mapError(lastErr.Err)
		c.Header("Content-Type", "application/json")
		c.AbortWithStatusJSON(status, errorResponse{Error: payload})
	}
}

func AbortWithError(c *gin.Context, err error) {
	if err == nil {
		return
	}
	_ = c.Error(err)
	c.Abort()
}

func invalidRequestError() error {
	return newValidationError("request", "invalid_request", "invalid request")
}

func newValidationError(field, code, message string) error {
	return &ValidationErrors{
		Errors: []ValidationError{
			{
				Field:   field,
				Code:    code,
				Message: message,
			},
		},
	}
}

func mapError(err error) (int, errorPayload) {
	var vErrs *ValidationErrors
	if errors.As(err, &vErrs) {
		return http.StatusBadRequest, errorPayload{
			Type:    "validation_error",
			Message: "validation error",
			Errors:  vErrs.Errors,
		}
	}

	switch {
	case errors.Is(err, ErrUnauthorized):
		return http.StatusUnauthorized, simple("unauthorized", "authentication required")
	case errors.Is(err, ErrForbidden),
		errors.Is(err, bookingdomain.ErrUnauthorized):
		return http.StatusForbidden, simple("forbidden", "you do not have access to this resource")

	case errors.Is(err, bookingdomain.ErrNotFound),
		errors.Is(err, referraldomain.ErrNotFound),
		errors.Is(err, providerdomain.ErrNotFound),
		errors.Is(err, timesheetdomain.ErrNotFound):
		return http.StatusNotFound, simple("not_found", "resource not found")

	case errors.Is(err, bookingdomain.ErrAlreadyPaid):
		return http.StatusConflict, simple("already_paid", "this booking has already been paid")
	case errors.Is(err, timesheetdomain.ErrAlreadySettled),
		errors.Is(err, timesheetdomain.ErrAlreadyPaid),
		errors.Is(err, earningsdomain.ErrAlreadySettled):
		return http.StatusConflict, simple("already_settled", "this record has already been settled")
	case errors.Is(err, timesheetdomain.ErrActiveSession):
		return http.StatusConflict, simple("active_session", "an active session is already open for this provider")
	case errors.Is(err, earningsdomain.ErrNoHours):
		return http.StatusUnprocessableEntity, simple("no_hours", "the record has no completed hours to settle")
	case errors.Is(err, earningsdomain.ErrUnresolvedBooking):
		return http.StatusUnprocessableEntity, simple("unresolved_booking", "the record is not linked to a booking yet")
	case errors.Is(err, earningsdomain.ErrSplitInvariant):
		return http.StatusUnprocessableEntity, simple("split_invariant", "the configured rates exceed the client charge")
	case errors.Is(err, bookingdomain.ErrDisputed):
		return http.StatusConflict, simple("disputed", "this booking is under dispute")
	case errors.Is(err, capture.ErrLockBusy):
		return http.StatusConflict, simple("charge_in_progress", "a charge for this booking is already in progress")

	case errors.Is(err, bookingdomain.ErrInvalidAmount):
		return http.StatusBadRequest, simple("invalid_amount", "the computed charge amount is invalid")
	case errors.Is(err, payoutdomain.ErrInvalidFrequency):
		return http.StatusBadRequest, simple("invalid_frequency", "payout frequency must be weekly, biweekly or monthly")
	case errors.Is(err, recurringdomain.ErrInvalidTransition):
		return http.StatusBadRequest, simple("invalid_transition", "this auto-pay change is not allowed from the current state")
	case errors.Is(err, recurringdomain.ErrNoInstrumentOnFile):
		return http.StatusBadRequest, simple("no_instrument_on_file", "auto-pay requires a stored payment method")
	case errors.Is(err, recurringdomain.ErrFrozen):
		return http.StatusConflict, simple("frozen", "auto-pay is frozen while a dispute is open")
	case errors.Is(err, referralservice.ErrInactiveCode):
		return http.StatusBadRequest, simple("inactive_code", "this referral code is no longer active")

	case errors.Is(err, webhookdomain.ErrInvalidSignature):
		return http.StatusBadRequest, simple("invalid_signature", "webhook signature verification failed")
	case errors.Is(err, webhookdomain.ErrInvalidPayload):
		return http.StatusBadRequest, simple("invalid_payload", "webhook payload could not be parsed")

	case errors.Is(err, processordomain.ErrCardDeclined):
		return http.StatusPaymentRequired, simple("card_declined", "the card was declined")
	case errors.Is(err, processordomain.ErrUnavailable),
		errors.Is(err, processordomain.ErrTimeout):
		return http.StatusServiceUnavailable, simple("processing_unavailable", "payment processing is temporarily unavailable")
	}

	return http.StatusInternalServerError, simple("internal_error", "internal server error")
}

func simple(errType, message string) errorPayload {
	return errorPayload{Type: errType, Message: message}
}
