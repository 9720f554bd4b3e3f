package handlers

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"billingsync/internal/core"
	"billingsync/internal/db"
	"billingsync/internal/types"
)

// stuckAfter is how long a row may sit in received status before the
// admin listing counts it as stuck.
const stuckAfter = 5 * time.Minute

// WebhookEventReader is the subset of WebhookEventRepo used by the admin
// endpoints.
type WebhookEventReader interface {
	ListRecent(ctx context.Context, f db.EventFilter) ([]types.WebhookEvent, error)
	CountStuck(ctx context.Context, olderThan time.Duration) (int, error)
}

// BillingStateReader loads the reconciled state of one workspace.
type BillingStateReader interface {
	Get(ctx context.Context, workspaceID string) (*types.WorkspaceBillingIntegration, error)
}

// AdminHandler serves read-only operator endpoints for following up on
// failed or stuck deliveries.
type AdminHandler struct {
	events  WebhookEventReader
	billing BillingStateReader
	logger  *slog.Logger
}

func NewAdminHandler(events WebhookEventReader, billing BillingStateReader, logger *slog.Logger) *AdminHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &AdminHandler{events: events, billing: billing, logger: logger}
}

// RegisterRoutes mounts the admin endpoints. The caller supplies the
// /v1/admin prefix and the token middleware.
func (h *AdminHandler) RegisterRoutes(r chi.Router) {
	r.Get("/webhook-events", h.ListWebhookEvents)
	r.Get("/billing/{workspaceID}", h.GetBillingState)
}

type webhookEventList struct {
	Events     []types.WebhookEvent `json:"events"`
	StuckCount int                  `json:"stuck_count"`
}

// ListWebhookEvents handles GET /v1/admin/webhook-events.
//
// Query parameters: provider (stripe|whop), status
// (received|processed|ignored|error), limit (1..500, default 50).
func (h *AdminHandler) ListWebhookEvents(w http.ResponseWriter, r *http.Request) {
	filter, err := parseEventFilter(r)
	if err != nil {
		core.Error(w, r, err)
		return
	}

	events, err := h.events.ListRecent(r.Context(), filter)
	if err != nil {
		types.LoggerFromContext(r.Context(), h.logger).ErrorContext(r.Context(), "failed to list webhook events", "error", err)
		core.Error(w, r, err)
		return
	}
	stuck, err := h.events.CountStuck(r.Context(), stuckAfter)
	if err != nil {
		types.LoggerFromContext(r.Context(), h.logger).ErrorContext(r.Context(), "failed to count stuck webhook events", "error", err)
		core.Error(w, r, err)
		return
	}

	if events == nil {
		events = []types.WebhookEvent{}
	}
	core.JSON(w, r, http.StatusOK, core.APIResponse{
		Data: webhookEventList{Events: events, StuckCount: stuck},
	})
}

func parseEventFilter(r *http.Request) (db.EventFilter, error) {
	q := r.URL.Query()
	var f db.EventFilter

	if v := q.Get("provider"); v != "" {
		p := types.Provider(v)
		if !p.Valid() {
			return f, types.NewAppErrorWithDetails(types.ErrCodeValidationInvalidParam,
				"provider must be stripe or whop", nil, map[string]any{"provider": v})
		}
		f.Provider = p
	}

	if v := q.Get("status"); v != "" {
		s := types.LedgerStatus(v)
		if s != types.LedgerStatusReceived && !s.IsTerminal() {
			return f, types.NewAppErrorWithDetails(types.ErrCodeValidationInvalidParam,
				"status must be received, processed, ignored or error", nil, map[string]any{"status": v})
		}
		f.Status = s
	}

	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 || n > 500 {
			return f, types.NewAppErrorWithDetails(types.ErrCodeValidationInvalidParam,
				"limit must be an integer between 1 and 500", err, map[string]any{"limit": v})
		}
		f.Limit = n
	}
	return f, nil
}

// GetBillingState handles GET /v1/admin/billing/{workspaceID}.
func (h *AdminHandler) GetBillingState(w http.ResponseWriter, r *http.Request) {
	workspaceID := chi.URLParam(r, "workspaceID")
	state, err := h.billing.Get(r.Context(), workspaceID)
	if err != nil {
		core.Error(w, r, err)
		return
	}
	core.JSON(w, r, http.StatusOK, core.APIResponse{Data: state})
}
