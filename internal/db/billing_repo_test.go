package db

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"billingsync/internal/types"
)

func TestBillingIntegrationRepo_FindWorkspace(t *testing.T) {
	tests := []struct {
		name  string
		sql   string
		call  func(r *BillingIntegrationRepo) (string, error)
		value string
	}{
		{"stripe customer", findByStripeCustomerSQL, func(r *BillingIntegrationRepo) (string, error) {
			return r.FindWorkspaceByStripeCustomer(context.Background(), "cus_123")
		}, "cus_123"},
		{"stripe subscription", findByStripeSubscriptionSQL, func(r *BillingIntegrationRepo) (string, error) {
			return r.FindWorkspaceByStripeSubscription(context.Background(), "sub_456")
		}, "sub_456"},
		{"whop membership", findByWhopMembershipSQL, func(r *BillingIntegrationRepo) (string, error) {
			return r.FindWorkspaceByWhopMembership(context.Background(), "mem_789")
		}, "mem_789"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			db := new(mockDBTX)
			repo := NewBillingIntegrationRepo(db, nil)
			db.On("QueryRow", mock.Anything, tt.sql, []any{tt.value}).
				Return(&mockRow{scanFn: func(dest ...any) error {
					*dest[0].(*string) = "ws_1"
					return nil
				}})

			ws, err := tt.call(repo)
			require.NoError(t, err)
			assert.Equal(t, "ws_1", ws)
			db.AssertExpectations(t)
		})
	}
}

func TestBillingIntegrationRepo_FindWorkspace_NoRow(t *testing.T) {
	db := new(mockDBTX)
	repo := NewBillingIntegrationRepo(db, nil)
	db.On("QueryRow", mock.Anything, mock.AnythingOfType("string"), mock.Anything).
		Return(&mockRow{scanErr: pgx.ErrNoRows})

	ws, err := repo.FindWorkspaceByStripeCustomer(context.Background(), "cus_unknown")
	require.NoError(t, err)
	assert.Empty(t, ws)
}

func TestBillingIntegrationRepo_FindWorkspace_EmptyIDSkipsQuery(t *testing.T) {
	db := new(mockDBTX)
	repo := NewBillingIntegrationRepo(db, nil)

	ws, err := repo.FindWorkspaceByWhopMembership(context.Background(), "")
	require.NoError(t, err)
	assert.Empty(t, ws)
	db.AssertNotCalled(t, "QueryRow", mock.Anything, mock.Anything, mock.Anything)
}

func TestBillingIntegrationRepo_FindWorkspace_DBError(t *testing.T) {
	db := new(mockDBTX)
	repo := NewBillingIntegrationRepo(db, nil)
	db.On("QueryRow", mock.Anything, mock.AnythingOfType("string"), mock.Anything).
		Return(&mockRow{scanErr: errors.New("timeout")})

	_, err := repo.FindWorkspaceByStripeSubscription(context.Background(), "sub_1")
	var appErr *types.AppError
	require.True(t, errors.As(err, &appErr))
	assert.Equal(t, types.ErrCodeInternalDB, appErr.Code)
}

// A Stripe-only patch sends NULL for every Whop column; the COALESCE in the
// upsert then keeps whatever the row already holds.
func TestBillingIntegrationRepo_Upsert_StripePatchLeavesWhopNull(t *testing.T) {
	db := new(mockDBTX)
	repo := NewBillingIntegrationRepo(db, nil)

	patch := types.BillingPatch{
		StripeSubscriptionID: types.StringPtr("sub_456"),
		StripeStatus:         types.StringPtr("active"),
		Metadata:             types.Metadata{"last_stripe_event_id": "evt_1"},
	}

	var captured []any
	db.On("Exec", mock.Anything, upsertBillingSQL, mock.Anything).
		Run(func(args mock.Arguments) { captured = args.Get(2).([]any) }).
		Return(pgconn.NewCommandTag("INSERT 0 1"), nil)

	require.NoError(t, repo.Upsert(context.Background(), "ws_1", patch))
	require.Len(t, captured, 12)

	assert.Equal(t, "ws_1", captured[0])
	assert.Equal(t, "sub_456", *captured[2].(*string))
	assert.Equal(t, "active", *captured[3].(*string))
	for i := 6; i <= 10; i++ {
		assert.Nil(t, captured[i], "whop column parameter %d must be NULL", i)
	}
	assert.JSONEq(t, `{"last_stripe_event_id":"evt_1"}`, captured[11].(string))
}

func TestBillingIntegrationRepo_Upsert_SQLMergesInsteadOfReplacing(t *testing.T) {
	for _, col := range []string{
		"stripe_customer_id", "stripe_subscription_id", "stripe_status", "stripe_price_id", "stripe_current_period_end",
		"whop_membership_id", "whop_status", "whop_expires_at", "whop_product_id", "whop_plan_id",
	} {
		assert.Contains(t, upsertBillingSQL,
			col+strings.Repeat(" ", 26-len(col))+"= COALESCE(EXCLUDED."+col+", workspace_billing_integrations."+col+")")
	}
	assert.Contains(t, upsertBillingSQL, "|| EXCLUDED.metadata")
}

func TestBillingIntegrationRepo_Upsert_NilMetadataIsEmptyObject(t *testing.T) {
	db := new(mockDBTX)
	repo := NewBillingIntegrationRepo(db, nil)

	db.On("Exec", mock.Anything, upsertBillingSQL, mock.MatchedBy(func(args []any) bool {
		return len(args) == 12 && args[11] == "{}"
	})).Return(pgconn.NewCommandTag("INSERT 0 1"), nil)

	require.NoError(t, repo.Upsert(context.Background(), "ws_1", types.BillingPatch{}))
	db.AssertExpectations(t)
}

func TestBillingIntegrationRepo_Upsert_Errors(t *testing.T) {
	db := new(mockDBTX)
	repo := NewBillingIntegrationRepo(db, nil)

	err := repo.Upsert(context.Background(), "", types.BillingPatch{})
	require.Error(t, err)

	db.On("Exec", mock.Anything, upsertBillingSQL, mock.Anything).
		Return(pgconn.CommandTag{}, errors.New("deadlock detected"))
	err = repo.Upsert(context.Background(), "ws_1", types.BillingPatch{})
	var appErr *types.AppError
	require.True(t, errors.As(err, &appErr))
	assert.Equal(t, types.ErrCodeInternalDB, appErr.Code)
}

func TestBillingIntegrationRepo_Get(t *testing.T) {
	db := new(mockDBTX)
	repo := NewBillingIntegrationRepo(db, nil)

	end := time.Date(2026, 12, 1, 0, 0, 0, 0, time.UTC)
	db.On("QueryRow", mock.Anything, mock.AnythingOfType("string"), []any{"ws_1"}).
		Return(&mockRow{scanFn: func(dest ...any) error {
			*dest[0].(*string) = "ws_1"
			*dest[3].(**string) = types.StringPtr("active")
			*dest[5].(**time.Time) = &end
			*dest[7].(**string) = types.StringPtr("valid")
			return dest[11].(*types.Metadata).Scan([]byte(`{"last_whop_event_id":"w_1"}`))
		}})

	b, err := repo.Get(context.Background(), "ws_1")
	require.NoError(t, err)
	assert.Equal(t, "active", *b.StripeStatus)
	assert.Equal(t, end, *b.StripeCurrentPeriodEnd)
	assert.Equal(t, "valid", *b.WhopStatus)
	assert.Equal(t, "w_1", b.Metadata["last_whop_event_id"])
}

func TestBillingIntegrationRepo_Get_NotFound(t *testing.T) {
	db := new(mockDBTX)
	repo := NewBillingIntegrationRepo(db, nil)
	db.On("QueryRow", mock.Anything, mock.AnythingOfType("string"), mock.Anything).
		Return(&mockRow{scanErr: pgx.ErrNoRows})

	_, err := repo.Get(context.Background(), "ws_missing")
	var appErr *types.AppError
	require.True(t, errors.As(err, &appErr))
	assert.Equal(t, types.ErrCodeNotFoundWorkspace, appErr.Code)
}

func TestMigrationURL(t *testing.T) {
	assert.Equal(t, "pgx5://u:p@localhost:5432/billing", migrationURL("postgres://u:p@localhost:5432/billing"))
	assert.Equal(t, "pgx5://u@db/billing?sslmode=disable", migrationURL("postgresql://u@db/billing?sslmode=disable"))
	assert.Equal(t, "pgx5://already", migrationURL("pgx5://already"))
}

func TestEmbeddedMigrationsPresent(t *testing.T) {
	up, err := embeddedMigrations.ReadFile("migrations/000001_webhook_reconciliation.up.sql")
	require.NoError(t, err)
	assert.Contains(t, string(up), "UNIQUE INDEX IF NOT EXISTS webhook_events_provider_external_event_id_key")
}
