package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"billingsync/internal/db"
	"billingsync/internal/types"
)

type mockEventReader struct {
	mock.Mock
}

func (m *mockEventReader) ListRecent(ctx context.Context, f db.EventFilter) ([]types.WebhookEvent, error) {
	args := m.Called(ctx, f)
	events, _ := args.Get(0).([]types.WebhookEvent)
	return events, args.Error(1)
}

func (m *mockEventReader) CountStuck(ctx context.Context, olderThan time.Duration) (int, error) {
	args := m.Called(ctx, olderThan)
	return args.Int(0), args.Error(1)
}

type mockStateReader struct {
	mock.Mock
}

func (m *mockStateReader) Get(ctx context.Context, workspaceID string) (*types.WorkspaceBillingIntegration, error) {
	args := m.Called(ctx, workspaceID)
	state, _ := args.Get(0).(*types.WorkspaceBillingIntegration)
	return state, args.Error(1)
}

func newAdminRouter(events WebhookEventReader, state BillingStateReader) http.Handler {
	r := chi.NewRouter()
	NewAdminHandler(events, state, discardLogger()).RegisterRoutes(r)
	return r
}

func TestAdmin_ListWebhookEvents(t *testing.T) {
	events := &mockEventReader{}
	errMsg := "failed to upsert billing state: connection reset"
	events.On("ListRecent", mock.Anything, db.EventFilter{
		Provider: types.ProviderStripe,
		Status:   types.LedgerStatusError,
		Limit:    10,
	}).Return([]types.WebhookEvent{{
		ID:              "4f9c2a4e-0000-4000-8000-000000000001",
		Provider:        types.ProviderStripe,
		ExternalEventID: "evt_1",
		EventType:       "invoice.paid",
		Status:          types.LedgerStatusError,
		ErrorMessage:    &errMsg,
	}}, nil)
	events.On("CountStuck", mock.Anything, stuckAfter).Return(2, nil)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/webhook-events?provider=stripe&status=error&limit=10", nil)
	newAdminRouter(events, &mockStateReader{}).ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var resp struct {
		Data struct {
			Events     []types.WebhookEvent `json:"events"`
			StuckCount int                  `json:"stuck_count"`
		} `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Data.Events, 1)
	assert.Equal(t, "evt_1", resp.Data.Events[0].ExternalEventID)
	assert.Equal(t, errMsg, *resp.Data.Events[0].ErrorMessage)
	assert.Equal(t, 2, resp.Data.StuckCount)
	events.AssertExpectations(t)
}

func TestAdmin_ListWebhookEvents_EmptyIsArray(t *testing.T) {
	events := &mockEventReader{}
	events.On("ListRecent", mock.Anything, db.EventFilter{}).Return(nil, nil)
	events.On("CountStuck", mock.Anything, stuckAfter).Return(0, nil)

	rec := httptest.NewRecorder()
	newAdminRouter(events, &mockStateReader{}).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/webhook-events", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"data":{"events":[],"stuck_count":0}}`, rec.Body.String())
}

func TestAdmin_ListWebhookEvents_InvalidParams(t *testing.T) {
	tests := []string{
		"/webhook-events?provider=paypal",
		"/webhook-events?status=pending",
		"/webhook-events?limit=0",
		"/webhook-events?limit=501",
		"/webhook-events?limit=ten",
	}
	for _, target := range tests {
		t.Run(target, func(t *testing.T) {
			events := &mockEventReader{}
			rec := httptest.NewRecorder()
			newAdminRouter(events, &mockStateReader{}).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, target, nil))

			assert.Equal(t, http.StatusBadRequest, rec.Code)
			assert.Contains(t, rec.Body.String(), string(types.ErrCodeValidationInvalidParam))
			events.AssertNotCalled(t, "ListRecent", mock.Anything, mock.Anything)
		})
	}
}

func TestAdmin_ListWebhookEvents_StoreError(t *testing.T) {
	events := &mockEventReader{}
	events.On("ListRecent", mock.Anything, db.EventFilter{}).
		Return(nil, types.NewAppError(types.ErrCodeInternalDB, "failed to list webhook events", errors.New("timeout")))

	rec := httptest.NewRecorder()
	newAdminRouter(events, &mockStateReader{}).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/webhook-events", nil))

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.NotContains(t, rec.Body.String(), "timeout")
}

func TestAdmin_GetBillingState(t *testing.T) {
	status := "active"
	state := &mockStateReader{}
	state.On("Get", mock.Anything, "ws_1").Return(&types.WorkspaceBillingIntegration{
		WorkspaceID:  "ws_1",
		StripeStatus: &status,
		Metadata:     types.Metadata{"last_stripe_event_type": "invoice.paid"},
	}, nil)
	state.On("Get", mock.Anything, "ws_missing").
		Return(nil, types.NewAppError(types.ErrCodeNotFoundWorkspace, "workspace billing state not found", nil))

	router := newAdminRouter(&mockEventReader{}, state)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/billing/ws_1", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var resp struct {
		Data types.WorkspaceBillingIntegration `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "ws_1", resp.Data.WorkspaceID)
	require.NotNil(t, resp.Data.StripeStatus)
	assert.Equal(t, "active", *resp.Data.StripeStatus)
	assert.Equal(t, "invoice.paid", resp.Data.Metadata["last_stripe_event_type"])

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/billing/ws_missing", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Contains(t, rec.Body.String(), string(types.ErrCodeNotFoundWorkspace))
}
