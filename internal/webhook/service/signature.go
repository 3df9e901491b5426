package service

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/carepayhq/carepay/internal/webhook/domain"
)

// VerifySignature validates the Carepay-Signature header against the shared
// secret. The header carries a timestamp and one or more HMAC-SHA256
// signatures over "<timestamp>.<payload>":
//
//	t=1712000000,v1=5257a869e7...
func VerifySignature(secret string, payload []byte, header string) error {
	header = strings.TrimSpace(header)
	if header == "" {
		return domain.ErrInvalidSignature
	}

	timestamp, signatures, ok := parseSignatureHeader(header)
	if !ok {
		return domain.ErrInvalidSignature
	}

	signed := fmt.Sprintf("%s.%s", timestamp, string(payload))
	mac := hmac.New(sha256.New, []byte(secret))
	_, _ = mac.Write([]byte(signed))
	expected := hex.EncodeToString(mac.Sum(nil))

	for _, signature := range signatures {
		if hmac.Equal([]byte(signature), []byte(expected)) {
			return nil
		}
	}
	return domain.ErrInvalidSignature
}

// SignPayload produces the header value VerifySignature accepts. Used by
// tests and by the processor simulator.
func SignPayload(secret string, payload []byte, at time.Time) string {
	timestamp := fmt.Sprintf("%d", at.Unix())
	signed := fmt.Sprintf("%s.%s", timestamp, string(payload))
	mac := hmac.New(sha256.New, []byte(secret))
	_, _ = mac.Write([]byte(signed))
	return fmt.Sprintf("t=%s,v1=%s", timestamp, hex.EncodeToString(mac.Sum(nil)))
}

func parseSignatureHeader(header string) (string, []string, bool) {
	var timestamp string
	signatures := []string{}
	for _, part := range strings.Split(header, ",") {
		piece := strings.TrimSpace(part)
		if piece == "" {
			continue
		}
		keyValue := strings.SplitN(piece, "=", 2)
		if len(keyValue) != 2 {
			continue
		}
		key := strings.TrimSpace(keyValue[0])
		value := strings.TrimSpace(keyValue[1])
		if key == "t" {
			timestamp = value
		}
		if key == "v1" {
			signatures = append(signatures, value)
		}
	}
	if timestamp == "" || len(signatures) == 0 {
		return "", nil, false
	}
	return timestamp, signatures, true
}

type wireEvent struct {
	ID      string        `json:"id"`
	Type    string        `json:"type"`
	Created int64         `json:"created"`
	Data    wireEventData `json:"data"`
}

type wireEventData struct {
	Object json.RawMessage `json:"object"`
}

type wireObject struct {
	ID             string            `json:"id"`
	Amount         int64             `json:"amount"`
	AmountRefunded int64             `json:"amount_refunded"`
	Subscription   string            `json:"subscription"`
	Status         string            `json:"status"`
	Metadata       map[string]string `json:"metadata"`
}

// ParseEvent decodes and validates one processor notification body.
func ParseEvent(payload []byte) (*domain.Event, error) {
	var raw wireEvent
	if err := json.Unmarshal(payload, &raw); err != nil {
		return nil, domain.ErrInvalidPayload
	}
	if strings.TrimSpace(raw.ID) == "" {
		return nil, domain.ErrInvalidPayload
	}

	eventType := strings.TrimSpace(raw.Type)
	switch eventType {
	case domain.EventChargeSucceeded,
		domain.EventChargeFailed,
		domain.EventInvoiceFailed,
		domain.EventSubscriptionUpdated,
		domain.EventSubscriptionCancelled,
		domain.EventDisputeCreated,
		domain.EventDisputeClosed,
		domain.EventChargeRefunded:
	default:
		return nil, domain.ErrEventIgnored
	}

	var object wireObject
	if len(raw.Data.Object) > 0 {
		if err := json.Unmarshal(raw.Data.Object, &object); err != nil {
			return nil, domain.ErrInvalidPayload
		}
	}

	event := &domain.Event{
		ProviderEventID:     raw.ID,
		Type:                eventType,
		TransactionID:       strings.TrimSpace(object.ID),
		SubscriptionID:      strings.TrimSpace(object.Subscription),
		AmountCents:         object.Amount,
		AmountRefundedCents: object.AmountRefunded,
		OccurredAt:          eventTime(raw.Created),
		RawPayload:          payload,
	}

	if eventType == domain.EventSubscriptionUpdated {
		event.SubscriptionStatus = strings.ToLower(strings.TrimSpace(object.Status))
	}

	if raw := strings.TrimSpace(object.Metadata["booking_id"]); raw != "" {
		id, err := snowflake.ParseString(raw)
		if err != nil {
			return nil, domain.ErrInvalidPayload
		}
		event.BookingID = id
	}

	if eventType == domain.EventDisputeClosed {
		outcome := strings.ToLower(strings.TrimSpace(object.Status))
		if outcome != domain.DisputeWon && outcome != domain.DisputeLost {
			return nil, domain.ErrInvalidPayload
		}
		event.DisputeOutcome = outcome
	}

	return event, nil
}

func eventTime(created int64) time.Time {
	if created == 0 {
		return time.Now().UTC()
	}
	return time.Unix(created, 0).UTC()
}
