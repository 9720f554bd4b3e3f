// Package handlers contains the HTTP handlers of the billing webhook service.
//
// The webhook endpoints are NOT behind auth middleware; they are called
// directly by the providers and authenticate by signature. The admin
// endpoints are mounted by core under /v1/admin behind the operator token.
package handlers

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"billingsync/internal/billing"
	"billingsync/internal/core"
	"billingsync/internal/external"
	"billingsync/internal/types"
)

// defaultMaxBodyBytes caps a webhook body when no limit is configured.
const defaultMaxBodyBytes = 64 * 1024

// Rejection reasons recorded on the WebhookRejected metric.
const (
	rejectBodyTooLarge     = "body_too_large"
	rejectBodyUnreadable   = "body_unreadable"
	rejectSecretMissing    = "secret_not_configured"
	rejectSignatureInvalid = "signature_invalid"
	rejectInvalidPayload   = "invalid_payload"
)

// Reconciler applies one verified event to the ledger and billing state.
// *billing.Reconciler satisfies it.
type Reconciler interface {
	Reconcile(ctx context.Context, ev billing.Event) (billing.Outcome, error)
}

// eventParser decodes a provider envelope.
type eventParser func(raw []byte, receivedAt time.Time) (billing.Event, error)

// WebhookOptions holds the settings shared by both provider endpoints.
type WebhookOptions struct {
	// RequireSignature rejects every delivery when the provider has no
	// signing secret configured. Otherwise such deliveries are accepted
	// unverified.
	RequireSignature bool

	// MaxBodyBytes caps the request body. Zero means 64 KB.
	MaxBodyBytes int64

	// Metrics receives rejection counts. Nil means no-op.
	Metrics billing.Recorder
}

// webhookAck is the 200 body.
type webhookAck struct {
	OK        bool   `json:"ok"`
	Duplicate bool   `json:"duplicate,omitempty"`
	Ignored   bool   `json:"ignored,omitempty"`
	Reason    string `json:"reason,omitempty"`
}

// WebhookHandler runs the shared delivery pipeline: read, verify, parse,
// reconcile. StripeWebhookHandler and WhopWebhookHandler configure it per
// provider.
type WebhookHandler struct {
	provider         types.Provider
	path             string
	invalidSigMsg    string
	verifier         external.WebhookVerifier
	parse            eventParser
	reconciler       Reconciler
	metrics          billing.Recorder
	requireSignature bool
	maxBodyBytes     int64
	logger           *slog.Logger
	now              func() time.Time
}

func newWebhookHandler(
	provider types.Provider,
	path string,
	invalidSigMsg string,
	verifier external.WebhookVerifier,
	parse eventParser,
	reconciler Reconciler,
	opts WebhookOptions,
	logger *slog.Logger,
) *WebhookHandler {
	if logger == nil {
		logger = slog.Default()
	}
	metrics := opts.Metrics
	if metrics == nil {
		metrics = billing.NopRecorder{}
	}
	maxBody := opts.MaxBodyBytes
	if maxBody <= 0 {
		maxBody = defaultMaxBodyBytes
	}
	return &WebhookHandler{
		provider:         provider,
		path:             path,
		invalidSigMsg:    invalidSigMsg,
		verifier:         verifier,
		parse:            parse,
		reconciler:       reconciler,
		metrics:          metrics,
		requireSignature: opts.RequireSignature,
		maxBodyBytes:     maxBody,
		logger:           logger,
		now:              time.Now,
	}
}

// Path returns the route the handler is mounted on.
func (h *WebhookHandler) Path() string {
	return h.path
}

// RegisterRoutes mounts the endpoint for every method so that non-POST
// requests get the JSON 405 body. OPTIONS is answered by the CORS
// middleware before Handle runs.
func (h *WebhookHandler) RegisterRoutes(r chi.Router, allowedOrigins []string) {
	r.With(core.NewCORSMiddleware(allowedOrigins)).HandleFunc(h.path, h.Handle)
}

// Routes adapts RegisterRoutes to core.RouteRegistrar.
func (h *WebhookHandler) Routes(allowedOrigins []string) core.RouteRegistrar {
	return func(r chi.Router) {
		h.RegisterRoutes(r, allowedOrigins)
	}
}

// Handle processes one delivery.
//
//  1. Reads the raw body with a size limit.
//  2. Verifies the signature on the exact bytes received.
//  3. Parses the envelope.
//  4. Reconciles and maps the outcome to the response.
//
// Steps 1 to 3 never touch the ledger.
func (h *WebhookHandler) Handle(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := types.LoggerFromContext(ctx, h.logger).With("provider", h.provider)

	if r.Method != http.MethodPost {
		core.WebhookError(w, r, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, h.maxBodyBytes)
	payload, err := io.ReadAll(r.Body)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			logger.WarnContext(ctx, "webhook body exceeds limit", "limit_bytes", h.maxBodyBytes)
			h.metrics.RecordRejected(ctx, h.provider, rejectBodyTooLarge)
			core.WebhookError(w, r, http.StatusRequestEntityTooLarge, "Request body too large")
			return
		}
		logger.WarnContext(ctx, "failed to read webhook body", "error", err)
		h.metrics.RecordRejected(ctx, h.provider, rejectBodyUnreadable)
		core.WebhookError(w, r, http.StatusBadRequest, "Failed to read request body")
		return
	}

	if !h.verify(ctx, logger, payload, r.Header) {
		core.WebhookError(w, r, http.StatusUnauthorized, h.invalidSigMsg)
		return
	}

	ev, err := h.parse(payload, h.now())
	if err != nil {
		logger.WarnContext(ctx, "failed to parse webhook payload", "error", err)
		h.metrics.RecordRejected(ctx, h.provider, rejectInvalidPayload)
		status := http.StatusBadRequest
		var appErr *types.AppError
		if errors.As(err, &appErr) {
			status = appErr.HTTPStatus()
		}
		core.WebhookError(w, r, status, types.PublicMessage(err))
		return
	}

	out, err := h.reconciler.Reconcile(ctx, ev)
	if err != nil {
		core.WebhookError(w, r, http.StatusInternalServerError, types.PublicMessage(err))
		return
	}

	core.JSON(w, r, http.StatusOK, webhookAck{
		OK:        true,
		Duplicate: out.Duplicate,
		Ignored:   out.Ignored,
		Reason:    out.Reason,
	})
}

// verify reports whether the delivery may proceed. With no secret
// configured it proceeds unverified unless signatures are required.
func (h *WebhookHandler) verify(ctx context.Context, logger *slog.Logger, payload []byte, headers http.Header) bool {
	if !h.verifier.Configured() {
		if h.requireSignature {
			logger.ErrorContext(ctx, "webhook rejected: signing secret not configured")
			h.metrics.RecordRejected(ctx, h.provider, rejectSecretMissing)
			return false
		}
		logger.DebugContext(ctx, "signing secret not configured, skipping verification")
		return true
	}
	if !h.verifier.Verify(payload, headers) {
		logger.WarnContext(ctx, "webhook signature verification failed")
		h.metrics.RecordRejected(ctx, h.provider, rejectSignatureInvalid)
		return false
	}
	return true
}
