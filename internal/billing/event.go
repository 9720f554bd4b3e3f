package billing

import (
	"encoding/json"
	"time"

	"billingsync/internal/external"
	"billingsync/internal/types"
)

// Event is a verified, decoded delivery ready for reconciliation.
type Event struct {
	Provider   types.Provider
	ExternalID string
	Type       string
	Payload    json.RawMessage
	ReceivedAt time.Time
}

// ParseStripeEvent decodes the Stripe envelope. The payload is kept verbatim
// for the ledger.
func ParseStripeEvent(raw []byte, receivedAt time.Time) (Event, error) {
	var env external.StripeEvent
	if err := json.Unmarshal(raw, &env); err != nil {
		return Event{}, types.NewAppError(types.ErrCodeValidationInvalidJSON, "Invalid JSON payload", err)
	}
	if env.ID == "" {
		return Event{}, types.NewAppError(types.ErrCodeValidationMissingField, "Missing event id", nil)
	}
	if env.Type == "" {
		return Event{}, types.NewAppError(types.ErrCodeValidationMissingField, "Missing event type", nil)
	}
	return Event{
		Provider:   types.ProviderStripe,
		ExternalID: env.ID,
		Type:       env.Type,
		Payload:    json.RawMessage(raw),
		ReceivedAt: receivedAt.UTC(),
	}, nil
}

// ParseWhopEvent decodes the Whop envelope. Deliveries without a top-level
// id get a content-derived id so retries of the same body still collide.
func ParseWhopEvent(raw []byte, receivedAt time.Time) (Event, error) {
	var env external.WhopEvent
	if err := json.Unmarshal(raw, &env); err != nil {
		return Event{}, types.NewAppError(types.ErrCodeValidationInvalidJSON, "Invalid JSON payload", err)
	}
	eventType := env.EventType()
	if eventType == "" {
		return Event{}, types.NewAppError(types.ErrCodeValidationMissingField, "Missing event type", nil)
	}
	return Event{
		Provider:   types.ProviderWhop,
		ExternalID: env.ExternalID(raw),
		Type:       eventType,
		Payload:    json.RawMessage(raw),
		ReceivedAt: receivedAt.UTC(),
	}, nil
}
