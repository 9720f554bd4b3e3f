package handlers

import (
	"log/slog"

	"billingsync/internal/billing"
	"billingsync/internal/external"
	"billingsync/internal/types"
)

// WhopWebhookPath is where Whop delivers events.
const WhopWebhookPath = "/webhooks/whop"

// NewWhopWebhookHandler creates the Whop endpoint. Whop has shipped several
// signature header layouts; WhopVerifier accepts all of them.
func NewWhopWebhookHandler(
	verifier external.WebhookVerifier,
	reconciler Reconciler,
	opts WebhookOptions,
	logger *slog.Logger,
) *WebhookHandler {
	return newWebhookHandler(
		types.ProviderWhop,
		WhopWebhookPath,
		"Invalid Whop signature",
		verifier,
		billing.ParseWhopEvent,
		reconciler,
		opts,
		logger,
	)
}
