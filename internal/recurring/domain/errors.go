// Package domain holds the auto-pay lifecycle contract.
package domain

import "errors"

var (
	// ErrNoInstrumentOnFile blocks enabling auto-pay without a stored payment
	// method.
	ErrNoInstrumentOnFile = errors.New("no_instrument_on_file")
	// ErrInvalidTransition rejects a lifecycle move the state machine does not
	// allow.
	ErrInvalidTransition = errors.New("invalid_recurring_transition")
	// ErrFrozen blocks auto-pay changes while a dispute is open on the booking.
	ErrFrozen = errors.New("booking_frozen_by_dispute")
)

// Action is a client/admin-initiated lifecycle command.
type Action string

const (
	ActionEnable Action = "enable"
	ActionPause  Action = "pause"
	ActionResume Action = "resume"
	ActionCancel Action = "cancel"
)
