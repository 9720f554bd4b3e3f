// Package billing reconciles verified provider webhooks into per-workspace
// billing state. Each delivery is claimed in the event ledger, mapped to a
// workspace, turned into a partial patch and merged into the stored record.
package billing

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"

	"github.com/google/uuid"

	"billingsync/internal/db"
	"billingsync/internal/types"
)

// EventLedgerStore persists WebhookEvent rows. Implemented by
// db.WebhookEventRepo.
type EventLedgerStore interface {
	// FindByExternalID returns nil, nil when no row exists.
	FindByExternalID(ctx context.Context, provider types.Provider, externalID string) (*types.WebhookEvent, error)

	// Insert creates a received row. It returns db.ErrDuplicateEvent when the
	// (provider, external_event_id) unique index rejects the row.
	Insert(ctx context.Context, e *types.WebhookEvent) error

	// ResetForRetry moves an error row back to received. It reports false
	// when another invocation already reclaimed it.
	ResetForRetry(ctx context.Context, id string) (bool, error)

	// Finish is the single terminal write for a row.
	Finish(ctx context.Context, id string, status types.LedgerStatus, workspaceID, errMsg string) error
}

// BeginResult tells the caller whether to proceed with a delivery.
type BeginResult struct {
	AlreadyProcessed bool
	RecordID         string
}

// Ledger guards processing so each (provider, external id) pair has side
// effects at most once.
type Ledger struct {
	store  EventLedgerStore
	logger *slog.Logger
	newID  func() string
}

func NewLedger(store EventLedgerStore, logger *slog.Logger) *Ledger {
	if logger == nil {
		logger = slog.Default()
	}
	return &Ledger{
		store:  store,
		logger: logger,
		newID:  func() string { return uuid.New().String() },
	}
}

// TryBegin claims the delivery. Rows that are processed, ignored or still
// received are duplicates. An error row is reclaimed for another attempt;
// when a concurrent delivery wins that reclaim, this one is a duplicate.
func (l *Ledger) TryBegin(ctx context.Context, provider types.Provider, externalID, eventType string, payload json.RawMessage) (BeginResult, error) {
	existing, err := l.store.FindByExternalID(ctx, provider, externalID)
	if err != nil {
		return BeginResult{}, err
	}

	if existing != nil {
		if !existing.Status.Retryable() {
			return BeginResult{AlreadyProcessed: true, RecordID: existing.ID}, nil
		}
		claimed, err := l.store.ResetForRetry(ctx, existing.ID)
		if err != nil {
			return BeginResult{}, err
		}
		if !claimed {
			return BeginResult{AlreadyProcessed: true, RecordID: existing.ID}, nil
		}
		l.logger.InfoContext(ctx, "reclaimed failed webhook event for retry",
			"ledger_id", existing.ID,
			"provider", provider,
			"event_id", externalID,
		)
		return BeginResult{RecordID: existing.ID}, nil
	}

	rec := &types.WebhookEvent{
		ID:              l.newID(),
		Provider:        provider,
		ExternalEventID: externalID,
		EventType:       eventType,
		Payload:         payload,
		Status:          types.LedgerStatusReceived,
	}
	if err := l.store.Insert(ctx, rec); err != nil {
		if errors.Is(err, db.ErrDuplicateEvent) {
			return BeginResult{AlreadyProcessed: true}, nil
		}
		return BeginResult{}, err
	}
	return BeginResult{RecordID: rec.ID}, nil
}

// Finish records the terminal status of a claimed delivery.
func (l *Ledger) Finish(ctx context.Context, id string, status types.LedgerStatus, workspaceID, errMsg string) error {
	return l.store.Finish(ctx, id, status, workspaceID, errMsg)
}
