// Package domain defines the payment processor port. The engine never trusts
// a timeout as failure: after ErrTimeout callers must re-query charge state
// before deciding anything about money.
package domain

import (
	"context"
	"errors"
)

var (
	// ErrCardDeclined is a recoverable, user-facing card failure.
	ErrCardDeclined = errors.New("processor_card_declined")
	// ErrUnavailable covers processor outages and unknown errors; the charge
	// must not be treated as settled.
	ErrUnavailable = errors.New("processor_unavailable")
	// ErrTimeout means the call exceeded its deadline with unknown outcome.
	ErrTimeout = errors.New("processor_timeout")
	// ErrNotFound means the processor has no record for the lookup key.
	ErrNotFound = errors.New("processor_not_found")
)

type ChargeStatus string

const (
	ChargeSucceeded ChargeStatus = "succeeded"
	ChargeDeclined  ChargeStatus = "declined"
	ChargePending   ChargeStatus = "pending"
)

type Intent struct {
	ID           string
	ClientSecret string
}

type CreateIntentParams struct {
	AmountCents int64
	Currency    string
	Metadata    map[string]string
}

type Instrument struct {
	ID          string
	CardCountry string
}

type ChargeParams struct {
	InstrumentID   string
	AmountCents    int64
	Currency       string
	IdempotencyKey string
	Metadata       map[string]string
}

type Charge struct {
	ID          string
	Status      ChargeStatus
	AmountCents int64
}

type TransferParams struct {
	AccountID      string
	AmountCents    int64
	Currency       string
	IdempotencyKey string
	Metadata       map[string]string
}

type TransferStatus string

const (
	TransferCompleted TransferStatus = "completed"
	TransferFailed    TransferStatus = "failed"
)

type Transfer struct {
	ID     string
	Status TransferStatus
	Reason string
}

// Client is the outbound processor surface used by capture and payouts.
type Client interface {
	CreateIntent(ctx context.Context, params CreateIntentParams) (*Intent, error)
	GetInstrument(ctx context.Context, instrumentID string) (*Instrument, error)
	// ChargeInstrument submits a confirmed charge. The idempotency key makes
	// request retries safe on the processor side.
	ChargeInstrument(ctx context.Context, params ChargeParams) (*Charge, error)
	// FindChargeByKey resolves the outcome of a charge whose submission timed
	// out.
	FindChargeByKey(ctx context.Context, idempotencyKey string) (*Charge, error)
	CreateTransfer(ctx context.Context, params TransferParams) (*Transfer, error)
}
