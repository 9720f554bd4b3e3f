// Package external holds everything that talks to the payment providers:
// webhook signature verification and the read-only REST clients used to
// enrich partial webhook payloads. Outbound calls go through BaseClient.
package external

import (
	"context"
	"net/http"
)

// ---------------------------------------------------------------------------
// Webhook Verification
// ---------------------------------------------------------------------------

// WebhookVerifier checks that a raw webhook body was signed by the provider.
type WebhookVerifier interface {
	// Configured reports whether a signing secret is set. With no secret the
	// caller decides whether to skip verification or reject.
	Configured() bool

	// Verify reports whether payload carries a valid signature in headers.
	Verify(payload []byte, headers http.Header) bool
}

// ---------------------------------------------------------------------------
// Enrichment
// ---------------------------------------------------------------------------

// SubscriptionFetcher reads a Stripe subscription by id.
type SubscriptionFetcher interface {
	GetSubscription(ctx context.Context, subscriptionID string) (*StripeSubscription, error)
}

// MembershipFetcher reads a Whop membership by id.
type MembershipFetcher interface {
	GetMembership(ctx context.Context, membershipID string) (*WhopMembership, error)
}

// ---------------------------------------------------------------------------
// Event Types
// ---------------------------------------------------------------------------

// Stripe event types the reconciler builds patches for.
const (
	EventStripeCheckoutCompleted = "checkout.session.completed"
	EventStripeInvoicePaid       = "invoice.paid"
	EventStripePaymentFailed     = "invoice.payment_failed"
	EventStripeSubCreated        = "customer.subscription.created"
	EventStripeSubUpdated        = "customer.subscription.updated"
	EventStripeSubDeleted        = "customer.subscription.deleted"

	// StripeSubscriptionEventPrefix covers every customer.subscription.* type.
	StripeSubscriptionEventPrefix = "customer.subscription."
)

// Whop event types. Whop has used both the went_valid/went_invalid and the
// activated/deactivated spellings.
const (
	EventWhopMembershipWentValid   = "membership.went_valid"
	EventWhopMembershipWentInvalid = "membership.went_invalid"
	EventWhopMembershipActivated   = "membership.activated"
	EventWhopMembershipDeactivated = "membership.deactivated"
	EventWhopMembershipCancelled   = "membership.cancelled"
	EventWhopPaymentSucceeded      = "payment.succeeded"
	EventWhopPaymentFailed         = "payment.failed"
)
