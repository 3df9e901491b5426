package domain

import "errors"

var (
	// ErrNoHours marks a record with zero hours worked; it stays unsettled.
	ErrNoHours = errors.New("earnings_no_hours_worked")
	// ErrUnresolvedBooking marks a record whose booking context is not yet
	// resolved; settlement retries on a later pass.
	ErrUnresolvedBooking = errors.New("earnings_unresolved_booking")
	// ErrSplitInvariant marks a split that does not sum to the client charge.
	// It is never persisted.
	ErrSplitInvariant = errors.New("earnings_split_invariant_violation")
	// ErrAlreadySettled is the idempotency short-circuit for a second
	// settlement attempt. Not a failure.
	ErrAlreadySettled = errors.New("earnings_already_settled")
)
