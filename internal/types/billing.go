package types

import (
	"encoding/json"
	"time"
)

// Provider identifies the payment provider that emitted a webhook.
type Provider string

const (
	ProviderStripe Provider = "stripe"
	ProviderWhop   Provider = "whop"
)

// Valid reports whether p is a known provider.
func (p Provider) Valid() bool {
	return p == ProviderStripe || p == ProviderWhop
}

// LedgerStatus is the lifecycle state of a WebhookEvent row.
// A row starts as received and moves exactly once to a terminal state.
type LedgerStatus string

const (
	LedgerStatusReceived  LedgerStatus = "received"
	LedgerStatusProcessed LedgerStatus = "processed"
	LedgerStatusIgnored   LedgerStatus = "ignored"
	LedgerStatusError     LedgerStatus = "error"
)

// IsTerminal reports whether the status is one of processed, ignored or error.
func (s LedgerStatus) IsTerminal() bool {
	switch s {
	case LedgerStatusProcessed, LedgerStatusIgnored, LedgerStatusError:
		return true
	default:
		return false
	}
}

// Retryable reports whether a row in this status may be claimed again by a
// redelivery. Only error rows qualify; their cause may have been transient.
func (s LedgerStatus) Retryable() bool {
	return s == LedgerStatusError
}

// ReasonWorkspaceNotResolved is recorded on ignored rows when no workspace
// could be mapped from the event.
const ReasonWorkspaceNotResolved = "workspace_not_resolved"

// WebhookEvent is one row of the event ledger, unique per
// (provider, external_event_id).
type WebhookEvent struct {
	ID              string          `json:"id" db:"id"`
	Provider        Provider        `json:"provider" db:"provider"`
	ExternalEventID string          `json:"external_event_id" db:"external_event_id"`
	EventType       string          `json:"event_type" db:"event_type"`
	Payload         json.RawMessage `json:"payload" db:"payload"`
	Status          LedgerStatus    `json:"status" db:"status"`
	WorkspaceID     *string         `json:"workspace_id,omitempty" db:"workspace_id"`
	ErrorMessage    *string         `json:"error_message,omitempty" db:"error_message"`
	ProcessedAt     *time.Time      `json:"processed_at,omitempty" db:"processed_at"`
	CreatedAt       time.Time       `json:"created_at" db:"created_at"`
}

// WorkspaceBillingIntegration is the reconciled billing state of one
// workspace. Provider fields are independently nullable.
type WorkspaceBillingIntegration struct {
	WorkspaceID string `json:"workspace_id" db:"workspace_id"`

	StripeCustomerID       *string    `json:"stripe_customer_id,omitempty" db:"stripe_customer_id"`
	StripeSubscriptionID   *string    `json:"stripe_subscription_id,omitempty" db:"stripe_subscription_id"`
	StripeStatus           *string    `json:"stripe_status,omitempty" db:"stripe_status"`
	StripePriceID          *string    `json:"stripe_price_id,omitempty" db:"stripe_price_id"`
	StripeCurrentPeriodEnd *time.Time `json:"stripe_current_period_end,omitempty" db:"stripe_current_period_end"`

	WhopMembershipID *string    `json:"whop_membership_id,omitempty" db:"whop_membership_id"`
	WhopStatus       *string    `json:"whop_status,omitempty" db:"whop_status"`
	WhopExpiresAt    *time.Time `json:"whop_expires_at,omitempty" db:"whop_expires_at"`
	WhopProductID    *string    `json:"whop_product_id,omitempty" db:"whop_product_id"`
	WhopPlanID       *string    `json:"whop_plan_id,omitempty" db:"whop_plan_id"`

	Metadata  Metadata  `json:"metadata" db:"metadata"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// BillingPatch is a partial update to a WorkspaceBillingIntegration.
// Nil fields are left untouched by the upsert; Metadata is merged key by key.
type BillingPatch struct {
	StripeCustomerID       *string
	StripeSubscriptionID   *string
	StripeStatus           *string
	StripePriceID          *string
	StripeCurrentPeriodEnd *time.Time

	WhopMembershipID *string
	WhopStatus       *string
	WhopExpiresAt    *time.Time
	WhopProductID    *string
	WhopPlanID       *string

	Metadata Metadata
}

// SetMeta records a metadata key on the patch, allocating the map on first use.
func (p *BillingPatch) SetMeta(key string, value any) {
	if p.Metadata == nil {
		p.Metadata = Metadata{}
	}
	p.Metadata[key] = value
}

// HasStripeFields reports whether any Stripe column is set.
func (p BillingPatch) HasStripeFields() bool {
	return p.StripeCustomerID != nil || p.StripeSubscriptionID != nil || p.StripeStatus != nil ||
		p.StripePriceID != nil || p.StripeCurrentPeriodEnd != nil
}

// HasWhopFields reports whether any Whop column is set.
func (p BillingPatch) HasWhopFields() bool {
	return p.WhopMembershipID != nil || p.WhopStatus != nil || p.WhopExpiresAt != nil ||
		p.WhopProductID != nil || p.WhopPlanID != nil
}

// StringPtr returns a pointer to s, or nil when s is empty.
func StringPtr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// TimePtr converts a unix timestamp to a UTC time pointer. Zero yields nil.
func TimePtr(unix int64) *time.Time {
	if unix == 0 {
		return nil
	}
	t := time.Unix(unix, 0).UTC()
	return &t
}
