package httpclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/carepayhq/carepay/internal/config"
	"github.com/carepayhq/carepay/internal/processor/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

type Params struct {
	fx.In

	Cfg config.Config
	Log *zap.Logger
}

// Client talks to the payment processor's REST API with bounded timeouts.
type Client struct {
	baseURL string
	apiKey  string
	http    *http.Client
	log     *zap.Logger
}

func New(p Params) domain.Client {
	timeout := time.Duration(p.Cfg.ProcessorTimeoutMS) * time.Millisecond
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		baseURL: p.Cfg.ProcessorBaseURL,
		apiKey:  p.Cfg.ProcessorAPIKey,
		http:    &http.Client{Timeout: timeout},
		log:     p.Log.Named("processor.client"),
	}
}

func (c *Client) CreateIntent(ctx context.Context, params domain.CreateIntentParams) (*domain.Intent, error) {
	body := map[string]any{
		"amount":   params.AmountCents,
		"currency": params.Currency,
		"metadata": params.Metadata,
	}
	var out struct {
		ID           string `json:"id"`
		ClientSecret string `json:"client_secret"`
	}
	if err := c.do(ctx, http.MethodPost, "/v1/payment_intents", "", body, &out); err != nil {
		return nil, err
	}
	return &domain.Intent{ID: out.ID, ClientSecret: out.ClientSecret}, nil
}

func (c *Client) GetInstrument(ctx context.Context, instrumentID string) (*domain.Instrument, error) {
	var out struct {
		ID   string `json:"id"`
		Card struct {
			Country string `json:"country"`
		} `json:"card"`
	}
	path := "/v1/payment_methods/" + url.PathEscape(instrumentID)
	if err := c.do(ctx, http.MethodGet, path, "", nil, &out); err != nil {
		return nil, err
	}
	return &domain.Instrument{ID: out.ID, CardCountry: out.Card.Country}, nil
}

func (c *Client) ChargeInstrument(ctx context.Context, params domain.ChargeParams) (*domain.Charge, error) {
	body := map[string]any{
		"amount":         params.AmountCents,
		"currency":       params.Currency,
		"payment_method": params.InstrumentID,
		"confirm":        true,
		"metadata":       params.Metadata,
	}
	var out chargePayload
	if err := c.do(ctx, http.MethodPost, "/v1/charges", params.IdempotencyKey, body, &out); err != nil {
		return nil, err
	}
	return out.toCharge(), nil
}

func (c *Client) FindChargeByKey(ctx context.Context, idempotencyKey string) (*domain.Charge, error) {
	var out struct {
		Data []chargePayload `json:"data"`
	}
	path := "/v1/charges?idempotency_key=" + url.QueryEscape(idempotencyKey)
	if err := c.do(ctx, http.MethodGet, path, "", nil, &out); err != nil {
		return nil, err
	}
	if len(out.Data) == 0 {
		return nil, domain.ErrNotFound
	}
	return out.Data[0].toCharge(), nil
}

func (c *Client) CreateTransfer(ctx context.Context, params domain.TransferParams) (*domain.Transfer, error) {
	body := map[string]any{
		"destination": params.AccountID,
		"amount":      params.AmountCents,
		"currency":    params.Currency,
		"metadata":    params.Metadata,
	}
	var out struct {
		ID            string `json:"id"`
		Status        string `json:"status"`
		FailureReason string `json:"failure_reason"`
	}
	if err := c.do(ctx, http.MethodPost, "/v1/transfers", params.IdempotencyKey, body, &out); err != nil {
		return nil, err
	}
	status := domain.TransferCompleted
	if out.Status == "failed" {
		status = domain.TransferFailed
	}
	return &domain.Transfer{ID: out.ID, Status: status, Reason: out.FailureReason}, nil
}

type chargePayload struct {
	ID     string `json:"id"`
	Status string `json:"status"`
	Amount int64  `json:"amount"`
}

func (p chargePayload) toCharge() *domain.Charge {
	status := domain.ChargePending
	switch p.Status {
	case "succeeded":
		status = domain.ChargeSucceeded
	case "failed", "declined":
		status = domain.ChargeDeclined
	}
	return &domain.Charge{ID: p.ID, Status: status, AmountCents: p.Amount}
}

func (c *Client) do(ctx context.Context, method, path, idempotencyKey string, body any, out any) error {
	var reader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if idempotencyKey != "" {
		req.Header.Set("Idempotency-Key", idempotencyKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || isTimeout(err) {
			c.log.Warn("processor call timed out", zap.String("path", path))
			return domain.ErrTimeout
		}
		c.log.Warn("processor unreachable", zap.String("path", path), zap.Error(err))
		return domain.ErrUnavailable
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return domain.ErrUnavailable
	}

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		if out == nil {
			return nil
		}
		return json.Unmarshal(payload, out)
	case resp.StatusCode == http.StatusPaymentRequired:
		return domain.ErrCardDeclined
	case resp.StatusCode == http.StatusNotFound:
		return domain.ErrNotFound
	case resp.StatusCode >= 400 && resp.StatusCode < 500:
		// Card errors arrive as 400s with a decline code.
		if isDecline(payload) {
			return domain.ErrCardDeclined
		}
		return fmt.Errorf("processor rejected request: status %d", resp.StatusCode)
	default:
		return domain.ErrUnavailable
	}
}

func isDecline(payload []byte) bool {
	var parsed struct {
		Error struct {
			Type string `json:"type"`
			Code string `json:"code"`
		} `json:"error"`
	}
	if err := json.Unmarshal(payload, &parsed); err != nil {
		return false
	}
	return parsed.Error.Type == "card_error" || parsed.Error.Code == "card_declined"
}

func isTimeout(err error) bool {
	var timeoutErr interface{ Timeout() bool }
	return errors.As(err, &timeoutErr) && timeoutErr.Timeout()
}
