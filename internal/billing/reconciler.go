package billing

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"billingsync/internal/types"
)

// Outcome describes how a delivery was handled when no error occurred.
type Outcome struct {
	Duplicate   bool
	Ignored     bool
	Reason      string
	WorkspaceID string
	RecordID    string
}

// Reconciler runs one delivery through claim, resolve, patch, enrich, merge
// and finish. It holds no per-delivery state; concurrent calls coordinate
// only through the ledger's unique index.
type Reconciler struct {
	ledger   *Ledger
	resolver *Resolver
	state    BillingStateStore
	builders map[types.Provider]PatchBuilder
	enricher *Enricher
	metrics  Recorder
	logger   *slog.Logger
	now      func() time.Time
}

// ReconcilerOption configures a Reconciler.
type ReconcilerOption func(*Reconciler)

// WithEnricher enables provider API enrichment.
func WithEnricher(e *Enricher) ReconcilerOption {
	return func(r *Reconciler) {
		r.enricher = e
	}
}

// WithMetrics sets the outcome recorder.
func WithMetrics(m Recorder) ReconcilerOption {
	return func(r *Reconciler) {
		if m != nil {
			r.metrics = m
		}
	}
}

// WithClock overrides the latency clock. Tests only.
func WithClock(now func() time.Time) ReconcilerOption {
	return func(r *Reconciler) {
		r.now = now
	}
}

func NewReconciler(ledger EventLedgerStore, state BillingStateStore, logger *slog.Logger, opts ...ReconcilerOption) *Reconciler {
	if logger == nil {
		logger = slog.Default()
	}
	r := &Reconciler{
		ledger:   NewLedger(ledger, logger),
		resolver: NewResolver(state),
		state:    state,
		builders: map[types.Provider]PatchBuilder{
			types.ProviderStripe: StripePatchBuilder{},
			types.ProviderWhop:   WhopPatchBuilder{},
		},
		metrics: NopRecorder{},
		logger:  logger,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Reconcile processes ev. A nil error with Duplicate or Ignored set is a
// successful no-op. Any error leaves the ledger row in error status so a
// redelivery can retry it.
func (r *Reconciler) Reconcile(ctx context.Context, ev Event) (out Outcome, err error) {
	start := r.now()
	logger := types.LoggerFromContext(ctx, r.logger).With(
		"provider", ev.Provider,
		"event_id", ev.ExternalID,
		"event_type", ev.Type,
	)

	builder, err := builderFor(r.builders, ev.Provider)
	if err != nil {
		return Outcome{}, err
	}

	begin, err := r.ledger.TryBegin(ctx, ev.Provider, ev.ExternalID, ev.Type, ev.Payload)
	if err != nil {
		logger.ErrorContext(ctx, "failed to claim webhook event", "error", err)
		r.metrics.RecordOutcome(ctx, ev.Provider, ev.Type, OutcomeError)
		return Outcome{}, err
	}
	if begin.AlreadyProcessed {
		logger.InfoContext(ctx, "duplicate webhook delivery", "ledger_id", begin.RecordID)
		r.metrics.RecordOutcome(ctx, ev.Provider, ev.Type, OutcomeDuplicate)
		return Outcome{Duplicate: true, RecordID: begin.RecordID}, nil
	}
	logger = logger.With("ledger_id", begin.RecordID)

	defer func() {
		if rec := recover(); rec != nil {
			logger.ErrorContext(ctx, "panic while reconciling webhook event", "panic", rec)
			err = types.NewAppError(types.ErrCodeInternalPanic, "Internal server error", fmt.Errorf("panic: %v", rec))
			out = Outcome{}
		}

		status, errMsg := types.LedgerStatusProcessed, ""
		switch {
		case err != nil:
			status, errMsg = types.LedgerStatusError, errorDetail(err)
		case out.Ignored:
			status, errMsg = types.LedgerStatusIgnored, out.Reason
		}

		// The terminal write must land even if the caller went away.
		if ferr := r.ledger.Finish(context.WithoutCancel(ctx), begin.RecordID, status, out.WorkspaceID, errMsg); ferr != nil {
			logger.ErrorContext(ctx, "failed to finalize webhook event",
				"status", status,
				"error", ferr,
			)
		}

		r.metrics.RecordOutcome(ctx, ev.Provider, ev.Type, string(status))
		r.metrics.RecordLatency(ctx, ev.Provider, r.now().Sub(start))
	}()

	out.RecordID = begin.RecordID

	in, patch, err := builder.Build(ev)
	if err != nil {
		logger.WarnContext(ctx, "failed to build billing patch", "error", err)
		return out, err
	}

	workspaceID, err := r.resolver.Resolve(ctx, in)
	if err != nil {
		logger.ErrorContext(ctx, "workspace lookup failed", "error", err)
		return out, err
	}
	if workspaceID == "" {
		logger.InfoContext(ctx, "webhook event ignored", "reason", types.ReasonWorkspaceNotResolved)
		out.Ignored = true
		out.Reason = types.ReasonWorkspaceNotResolved
		return out, nil
	}
	out.WorkspaceID = workspaceID
	logger = logger.With("workspace_id", workspaceID)

	if r.enricher != nil {
		r.enricher.Enrich(ctx, ev.Provider, &patch)
	}

	if err := r.state.Upsert(ctx, workspaceID, patch); err != nil {
		logger.ErrorContext(ctx, "failed to merge billing state", "error", err)
		return out, err
	}

	logger.InfoContext(ctx, "webhook event processed")
	return out, nil
}

// errorDetail is the message stored on error rows. It includes the wrapped
// cause, which the HTTP response never does.
func errorDetail(err error) string {
	var appErr *types.AppError
	if errors.As(err, &appErr) && appErr.Err != nil {
		if appErr.Code == types.ErrCodeInternalPanic {
			return appErr.Err.Error()
		}
		return fmt.Sprintf("%s: %v", appErr.Message, appErr.Err)
	}
	if errors.As(err, &appErr) {
		return appErr.Message
	}
	return err.Error()
}
