package server

import (
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/carepayhq/carepay/internal/actor"
	timesheetdomain "github.com/carepayhq/carepay/internal/timesheet/domain"
	"github.com/gin-gonic/gin"
)

type timesheetResponse struct {
	ID            string     `json:"id"`
	ProviderID    string     `json:"provider_id"`
	BookingID     *string    `json:"booking_id,omitempty"`
	ClockInAt     time.Time  `json:"clock_in_at"`
	ClockOutAt    *time.Time `json:"clock_out_at,omitempty"`
	HoursWorked   float64    `json:"hours_worked"`
	Status        string     `json:"status"`
	PaymentStatus string     `json:"payment_status"`
}

type clockInRequest struct {
	BookingID *string `json:"booking_id"`
}

// ClockIn opens a work session for the calling provider.
func (s *Server) ClockIn(c *gin.Context) {
	who, ok := actorFrom(c)
	if !ok {
		AbortWithError(c, ErrUnauthorized)
		return
	}
	if who.Role != actor.RoleProvider {
		AbortWithError(c, ErrForbidden)
		return
	}

	// The body is optional: providers may clock in before an assignment
	// resolves to a booking.
	var body clockInRequest
	if err := c.ShouldBindJSON(&body); err != nil && !errors.Is(err, io.EOF) {
		AbortWithError(c, invalidRequestError())
		return
	}

	var bookingID *snowflake.ID
	if body.BookingID != nil && strings.TrimSpace(*body.BookingID) != "" {
		id, err := parseID(*body.BookingID)
		if err != nil {
			AbortWithError(c, newValidationError("booking_id", "invalid_id", "booking_id must be a valid id"))
			return
		}
		bookingID = &id
	}

	record, err := s.timesheetSvc.ClockIn(c.Request.Context(), who.ID, bookingID)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusCreated, renderTimesheet(record))
}

// ClockOut finalizes the caller's work session.
func (s *Server) ClockOut(c *gin.Context) {
	who, ok := actorFrom(c)
	if !ok {
		AbortWithError(c, ErrUnauthorized)
		return
	}
	if who.Role != actor.RoleProvider {
		AbortWithError(c, ErrForbidden)
		return
	}
	recordID, err := parseID(c.Param("record_id"))
	if err != nil {
		AbortWithError(c, newValidationError("record_id", "invalid_id", "record_id must be a valid id"))
		return
	}

	record, err := s.timesheetSvc.ClockOut(c.Request.Context(), recordID, who.ID)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, renderTimesheet(record))
}

func renderTimesheet(record *timesheetdomain.TimeTrackingRecord) timesheetResponse {
	resp := timesheetResponse{
		ID:            record.ID.String(),
		ProviderID:    record.ProviderID.String(),
		ClockInAt:     record.ClockInAt,
		ClockOutAt:    record.ClockOutAt,
		HoursWorked:   record.HoursWorked,
		Status:        string(record.Status),
		PaymentStatus: string(record.PaymentStatus),
	}
	if record.BookingID != nil {
		id := record.BookingID.String()
		resp.BookingID = &id
	}
	return resp
}
