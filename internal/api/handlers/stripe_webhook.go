package handlers

import (
	"log/slog"

	"billingsync/internal/billing"
	"billingsync/internal/external"
	"billingsync/internal/types"
)

// StripeWebhookPath is where Stripe delivers events.
const StripeWebhookPath = "/webhooks/stripe"

// NewStripeWebhookHandler creates the Stripe endpoint. Security is provided
// by verifying the Stripe-Signature header (HMAC-SHA256 over
// "<timestamp>.<body>", 300 second tolerance).
func NewStripeWebhookHandler(
	verifier external.WebhookVerifier,
	reconciler Reconciler,
	opts WebhookOptions,
	logger *slog.Logger,
) *WebhookHandler {
	return newWebhookHandler(
		types.ProviderStripe,
		StripeWebhookPath,
		"Invalid Stripe signature",
		verifier,
		billing.ParseStripeEvent,
		reconciler,
		opts,
		logger,
	)
}
