package billing

import (
	"context"
	"sync"
	"time"

	"billingsync/internal/db"
	"billingsync/internal/types"
)

// memStore is an in-memory EventLedgerStore and BillingStateStore with the
// same merge and uniqueness rules as the Postgres repositories.
type memStore struct {
	mu sync.Mutex

	events map[string]*types.WebhookEvent
	keys   map[string]string

	billing map[string]*types.WorkspaceBillingIntegration
	upserts []types.BillingPatch
	lookups []string

	findErr     error
	upsertErr   error
	upsertPanic any
	lostReclaim bool
}

func newMemStore() *memStore {
	return &memStore{
		events:  map[string]*types.WebhookEvent{},
		keys:    map[string]string{},
		billing: map[string]*types.WorkspaceBillingIntegration{},
	}
}

func eventKey(p types.Provider, id string) string { return string(p) + "/" + id }

func (s *memStore) FindByExternalID(_ context.Context, provider types.Provider, externalID string) (*types.WebhookEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.findErr != nil {
		return nil, s.findErr
	}
	id, ok := s.keys[eventKey(provider, externalID)]
	if !ok {
		return nil, nil
	}
	cp := *s.events[id]
	return &cp, nil
}

func (s *memStore) Insert(_ context.Context, e *types.WebhookEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := eventKey(e.Provider, e.ExternalEventID)
	if _, ok := s.keys[k]; ok {
		return db.ErrDuplicateEvent
	}
	cp := *e
	cp.Status = types.LedgerStatusReceived
	cp.CreatedAt = time.Now()
	s.events[e.ID] = &cp
	s.keys[k] = e.ID
	return nil
}

func (s *memStore) ResetForRetry(_ context.Context, id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.events[id]
	if !ok || e.Status != types.LedgerStatusError || s.lostReclaim {
		return false, nil
	}
	e.Status = types.LedgerStatusReceived
	e.ErrorMessage = nil
	e.WorkspaceID = nil
	e.ProcessedAt = nil
	return true, nil
}

func (s *memStore) Finish(_ context.Context, id string, status types.LedgerStatus, workspaceID, errMsg string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.events[id]
	if !ok || e.Status != types.LedgerStatusReceived {
		return types.NewAppError(types.ErrCodeNotFoundWebhookEvent, "webhook event not found or already finalized", nil)
	}
	now := time.Now()
	e.Status = status
	e.WorkspaceID = types.StringPtr(workspaceID)
	e.ErrorMessage = types.StringPtr(errMsg)
	e.ProcessedAt = &now
	return nil
}

func (s *memStore) eventsWithStatus(status types.LedgerStatus) []types.WebhookEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []types.WebhookEvent
	for _, e := range s.events {
		if e.Status == status {
			out = append(out, *e)
		}
	}
	return out
}

func (s *memStore) link(ws string, mutate func(*types.WorkspaceBillingIntegration)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	row := &types.WorkspaceBillingIntegration{WorkspaceID: ws, Metadata: types.Metadata{}}
	mutate(row)
	s.billing[ws] = row
}

func (s *memStore) findBy(kind, value string, match func(*types.WorkspaceBillingIntegration) *string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lookups = append(s.lookups, kind)
	for ws, row := range s.billing {
		if v := match(row); v != nil && *v == value {
			return ws
		}
	}
	return ""
}

func (s *memStore) FindWorkspaceByStripeCustomer(_ context.Context, id string) (string, error) {
	return s.findBy("customer", id, func(r *types.WorkspaceBillingIntegration) *string { return r.StripeCustomerID }), nil
}

func (s *memStore) FindWorkspaceByStripeSubscription(_ context.Context, id string) (string, error) {
	return s.findBy("subscription", id, func(r *types.WorkspaceBillingIntegration) *string { return r.StripeSubscriptionID }), nil
}

func (s *memStore) FindWorkspaceByWhopMembership(_ context.Context, id string) (string, error) {
	return s.findBy("membership", id, func(r *types.WorkspaceBillingIntegration) *string { return r.WhopMembershipID }), nil
}

func (s *memStore) Get(_ context.Context, ws string) (*types.WorkspaceBillingIntegration, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	row, ok := s.billing[ws]
	if !ok {
		return nil, types.NewAppError(types.ErrCodeNotFoundWorkspace, "workspace billing state not found", nil)
	}
	cp := *row
	return &cp, nil
}

func coalesce[T any](patch, existing *T) *T {
	if patch != nil {
		return patch
	}
	return existing
}

func (s *memStore) Upsert(_ context.Context, ws string, p types.BillingPatch) error {
	if s.upsertPanic != nil {
		panic(s.upsertPanic)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.upsertErr != nil {
		return s.upsertErr
	}
	s.upserts = append(s.upserts, p)

	row, ok := s.billing[ws]
	if !ok {
		row = &types.WorkspaceBillingIntegration{WorkspaceID: ws, Metadata: types.Metadata{}}
		s.billing[ws] = row
	}
	row.StripeCustomerID = coalesce(p.StripeCustomerID, row.StripeCustomerID)
	row.StripeSubscriptionID = coalesce(p.StripeSubscriptionID, row.StripeSubscriptionID)
	row.StripeStatus = coalesce(p.StripeStatus, row.StripeStatus)
	row.StripePriceID = coalesce(p.StripePriceID, row.StripePriceID)
	row.StripeCurrentPeriodEnd = coalesce(p.StripeCurrentPeriodEnd, row.StripeCurrentPeriodEnd)
	row.WhopMembershipID = coalesce(p.WhopMembershipID, row.WhopMembershipID)
	row.WhopStatus = coalesce(p.WhopStatus, row.WhopStatus)
	row.WhopExpiresAt = coalesce(p.WhopExpiresAt, row.WhopExpiresAt)
	row.WhopProductID = coalesce(p.WhopProductID, row.WhopProductID)
	row.WhopPlanID = coalesce(p.WhopPlanID, row.WhopPlanID)
	row.Metadata = row.Metadata.Merge(p.Metadata)
	return nil
}

type outcomeCall struct {
	provider  types.Provider
	eventType string
	status    string
}

// recordingMetrics captures Recorder calls.
type recordingMetrics struct {
	mu          sync.Mutex
	outcomes    []outcomeCall
	rejected    []string
	enrichFails int
	latencies   int
}

func (m *recordingMetrics) RecordOutcome(_ context.Context, p types.Provider, eventType, status string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.outcomes = append(m.outcomes, outcomeCall{p, eventType, status})
}

func (m *recordingMetrics) RecordRejected(_ context.Context, _ types.Provider, reason string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rejected = append(m.rejected, reason)
}

func (m *recordingMetrics) RecordEnrichmentFailure(context.Context, types.Provider) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.enrichFails++
}

func (m *recordingMetrics) RecordLatency(context.Context, types.Provider, time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.latencies++
}

func (m *recordingMetrics) statuses() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, 0, len(m.outcomes))
	for _, o := range m.outcomes {
		out = append(out, o.status)
	}
	return out
}
