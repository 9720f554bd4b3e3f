package db

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"

	"billingsync/internal/types"
)

// WebhookEventRepo is the Postgres event ledger. The unique index on
// (provider, external_event_id) is the only coordination between concurrent
// deliveries of the same event.
type WebhookEventRepo struct {
	db     DBTX
	logger *slog.Logger
}

func NewWebhookEventRepo(db DBTX, logger *slog.Logger) *WebhookEventRepo {
	if logger == nil {
		logger = slog.Default()
	}
	return &WebhookEventRepo{db: db, logger: logger}
}

const webhookEventColumns = `id, provider, external_event_id, event_type, status,
	workspace_id, error_message, processed_at, created_at`

func scanWebhookEvent(row pgx.Row, e *types.WebhookEvent) error {
	return row.Scan(
		&e.ID,
		&e.Provider,
		&e.ExternalEventID,
		&e.EventType,
		&e.Status,
		&e.WorkspaceID,
		&e.ErrorMessage,
		&e.ProcessedAt,
		&e.CreatedAt,
	)
}

// FindByExternalID returns the ledger row for the key, or nil when the event
// has never been seen. The payload is not loaded.
func (r *WebhookEventRepo) FindByExternalID(ctx context.Context, provider types.Provider, externalID string) (*types.WebhookEvent, error) {
	var e types.WebhookEvent
	err := scanWebhookEvent(r.db.QueryRow(ctx,
		`SELECT `+webhookEventColumns+`
		 FROM webhook_events
		 WHERE provider = $1 AND external_event_id = $2`,
		provider, externalID,
	), &e)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to look up webhook event", err)
	}
	return &e, nil
}

// Insert records a new event in received status. A collision on the unique
// index returns ErrDuplicateEvent so the caller can treat the delivery as
// already handled.
func (r *WebhookEventRepo) Insert(ctx context.Context, e *types.WebhookEvent) error {
	payload := e.Payload
	if len(payload) == 0 {
		payload = []byte("{}")
	}
	_, err := r.db.Exec(ctx,
		`INSERT INTO webhook_events (id, provider, external_event_id, event_type, payload, status, created_at)
		 VALUES ($1, $2, $3, $4, $5::jsonb, $6, NOW())`,
		e.ID,
		e.Provider,
		e.ExternalEventID,
		e.EventType,
		string(payload),
		types.LedgerStatusReceived,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicateEvent
		}
		return types.NewAppError(types.ErrCodeInternalDB, "failed to insert webhook event", err)
	}
	e.Status = types.LedgerStatusReceived
	return nil
}

// ResetForRetry moves an error row back to received so a redelivery can
// process it again. It reports false when the row is not in error status,
// which is how a concurrent retry that lost the race finds out.
func (r *WebhookEventRepo) ResetForRetry(ctx context.Context, id string) (bool, error) {
	tag, err := r.db.Exec(ctx,
		`UPDATE webhook_events
		 SET status = $2,
		     workspace_id = NULL,
		     error_message = NULL,
		     processed_at = NULL
		 WHERE id = $1 AND status = $3`,
		id,
		types.LedgerStatusReceived,
		types.LedgerStatusError,
	)
	if err != nil {
		return false, types.NewAppError(types.ErrCodeInternalDB, "failed to reset webhook event for retry", err)
	}
	return tag.RowsAffected() == 1, nil
}

// Finish performs the single terminal write for a ledger row.
func (r *WebhookEventRepo) Finish(ctx context.Context, id string, status types.LedgerStatus, workspaceID, errMsg string) error {
	if !status.IsTerminal() {
		return types.NewAppError(types.ErrCodeInternalUnexpected, fmt.Sprintf("status %q is not terminal", status), nil)
	}
	tag, err := r.db.Exec(ctx,
		`UPDATE webhook_events
		 SET status = $2,
		     workspace_id = $3,
		     error_message = $4,
		     processed_at = NOW()
		 WHERE id = $1 AND status = $5`,
		id,
		status,
		nilIfEmpty(workspaceID),
		nilIfEmpty(errMsg),
		types.LedgerStatusReceived,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to finish webhook event", err)
	}
	if tag.RowsAffected() == 0 {
		r.logger.WarnContext(ctx, "webhook event already finalized",
			"ledger_id", id,
			"status", status,
		)
		return types.NewAppError(types.ErrCodeNotFoundWebhookEvent, "webhook event not found or already finalized", nil)
	}
	return nil
}

// EventFilter narrows ListRecent. Zero values match everything.
type EventFilter struct {
	Provider types.Provider
	Status   types.LedgerStatus
	Limit    int
}

const (
	defaultEventLimit = 50
	maxEventLimit     = 500
)

// ListRecent returns the newest ledger rows for operator follow-up, without
// payloads.
func (r *WebhookEventRepo) ListRecent(ctx context.Context, f EventFilter) ([]types.WebhookEvent, error) {
	limit := f.Limit
	if limit <= 0 {
		limit = defaultEventLimit
	}
	if limit > maxEventLimit {
		limit = maxEventLimit
	}

	rows, err := r.db.Query(ctx,
		`SELECT `+webhookEventColumns+`
		 FROM webhook_events
		 WHERE ($1 = '' OR provider = $1)
		   AND ($2 = '' OR status = $2)
		 ORDER BY created_at DESC
		 LIMIT $3`,
		string(f.Provider),
		string(f.Status),
		limit,
	)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to list webhook events", err)
	}
	defer rows.Close()

	var events []types.WebhookEvent
	for rows.Next() {
		var e types.WebhookEvent
		if err := scanWebhookEvent(rows, &e); err != nil {
			return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to scan webhook event", err)
		}
		events = append(events, e)
	}
	if err := rows.Err(); err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to iterate webhook events", err)
	}
	return events, nil
}

// CountStuck returns how many rows have sat in received status for longer
// than olderThan. A crashed invocation leaves such rows behind.
func (r *WebhookEventRepo) CountStuck(ctx context.Context, olderThan time.Duration) (int, error) {
	var n int
	err := r.db.QueryRow(ctx,
		`SELECT COUNT(*) FROM webhook_events
		 WHERE status = $1 AND created_at < NOW() - make_interval(secs => $2)`,
		types.LedgerStatusReceived,
		olderThan.Seconds(),
	).Scan(&n)
	if err != nil {
		return 0, types.NewAppError(types.ErrCodeInternalDB, "failed to count stuck webhook events", err)
	}
	return n, nil
}
