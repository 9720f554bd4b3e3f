package db

import (
	"context"
	"errors"
	"log/slog"

	"github.com/jackc/pgx/v5"

	"billingsync/internal/types"
)

// BillingIntegrationRepo stores the reconciled billing state per workspace.
//
// Writes are merge-only: a NULL parameter keeps the stored column, so a
// patch from one provider never clears the other provider's fields, and
// metadata is combined with the jsonb || operator.
type BillingIntegrationRepo struct {
	db     DBTX
	logger *slog.Logger
}

func NewBillingIntegrationRepo(db DBTX, logger *slog.Logger) *BillingIntegrationRepo {
	if logger == nil {
		logger = slog.Default()
	}
	return &BillingIntegrationRepo{db: db, logger: logger}
}

// Lookups pick the most recently updated row if an external id was ever
// linked to more than one workspace.
const (
	findByStripeCustomerSQL = `SELECT workspace_id FROM workspace_billing_integrations
		 WHERE stripe_customer_id = $1
		 ORDER BY updated_at DESC
		 LIMIT 1`
	findByStripeSubscriptionSQL = `SELECT workspace_id FROM workspace_billing_integrations
		 WHERE stripe_subscription_id = $1
		 ORDER BY updated_at DESC
		 LIMIT 1`
	findByWhopMembershipSQL = `SELECT workspace_id FROM workspace_billing_integrations
		 WHERE whop_membership_id = $1
		 ORDER BY updated_at DESC
		 LIMIT 1`
)

func (r *BillingIntegrationRepo) findWorkspace(ctx context.Context, query, value, what string) (string, error) {
	if value == "" {
		return "", nil
	}
	var workspaceID string
	err := r.db.QueryRow(ctx, query, value).Scan(&workspaceID)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", types.NewAppError(types.ErrCodeInternalDB, "failed to look up workspace by "+what, err)
	}
	return workspaceID, nil
}

// FindWorkspaceByStripeCustomer returns "" when no workspace is linked.
func (r *BillingIntegrationRepo) FindWorkspaceByStripeCustomer(ctx context.Context, customerID string) (string, error) {
	return r.findWorkspace(ctx, findByStripeCustomerSQL, customerID, "stripe customer")
}

// FindWorkspaceByStripeSubscription returns "" when no workspace is linked.
func (r *BillingIntegrationRepo) FindWorkspaceByStripeSubscription(ctx context.Context, subscriptionID string) (string, error) {
	return r.findWorkspace(ctx, findByStripeSubscriptionSQL, subscriptionID, "stripe subscription")
}

// FindWorkspaceByWhopMembership returns "" when no workspace is linked.
func (r *BillingIntegrationRepo) FindWorkspaceByWhopMembership(ctx context.Context, membershipID string) (string, error) {
	return r.findWorkspace(ctx, findByWhopMembershipSQL, membershipID, "whop membership")
}

// Get returns the billing state of one workspace.
func (r *BillingIntegrationRepo) Get(ctx context.Context, workspaceID string) (*types.WorkspaceBillingIntegration, error) {
	var b types.WorkspaceBillingIntegration
	err := r.db.QueryRow(ctx,
		`SELECT workspace_id,
		        stripe_customer_id, stripe_subscription_id, stripe_status, stripe_price_id, stripe_current_period_end,
		        whop_membership_id, whop_status, whop_expires_at, whop_product_id, whop_plan_id,
		        metadata, created_at, updated_at
		 FROM workspace_billing_integrations
		 WHERE workspace_id = $1`,
		workspaceID,
	).Scan(
		&b.WorkspaceID,
		&b.StripeCustomerID, &b.StripeSubscriptionID, &b.StripeStatus, &b.StripePriceID, &b.StripeCurrentPeriodEnd,
		&b.WhopMembershipID, &b.WhopStatus, &b.WhopExpiresAt, &b.WhopProductID, &b.WhopPlanID,
		&b.Metadata, &b.CreatedAt, &b.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, types.NewAppError(types.ErrCodeNotFoundWorkspace, "workspace billing state not found", nil)
	}
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to load workspace billing state", err)
	}
	return &b, nil
}

const upsertBillingSQL = `INSERT INTO workspace_billing_integrations (
		workspace_id,
		stripe_customer_id, stripe_subscription_id, stripe_status, stripe_price_id, stripe_current_period_end,
		whop_membership_id, whop_status, whop_expires_at, whop_product_id, whop_plan_id,
		metadata, created_at, updated_at
	) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12::jsonb, NOW(), NOW())
	ON CONFLICT (workspace_id) DO UPDATE SET
		stripe_customer_id        = COALESCE(EXCLUDED.stripe_customer_id, workspace_billing_integrations.stripe_customer_id),
		stripe_subscription_id    = COALESCE(EXCLUDED.stripe_subscription_id, workspace_billing_integrations.stripe_subscription_id),
		stripe_status             = COALESCE(EXCLUDED.stripe_status, workspace_billing_integrations.stripe_status),
		stripe_price_id           = COALESCE(EXCLUDED.stripe_price_id, workspace_billing_integrations.stripe_price_id),
		stripe_current_period_end = COALESCE(EXCLUDED.stripe_current_period_end, workspace_billing_integrations.stripe_current_period_end),
		whop_membership_id        = COALESCE(EXCLUDED.whop_membership_id, workspace_billing_integrations.whop_membership_id),
		whop_status               = COALESCE(EXCLUDED.whop_status, workspace_billing_integrations.whop_status),
		whop_expires_at           = COALESCE(EXCLUDED.whop_expires_at, workspace_billing_integrations.whop_expires_at),
		whop_product_id           = COALESCE(EXCLUDED.whop_product_id, workspace_billing_integrations.whop_product_id),
		whop_plan_id              = COALESCE(EXCLUDED.whop_plan_id, workspace_billing_integrations.whop_plan_id),
		metadata                  = COALESCE(workspace_billing_integrations.metadata, '{}'::jsonb) || EXCLUDED.metadata,
		updated_at                = NOW()`

// Upsert creates the row on first sight of a workspace and merges the patch
// into it afterwards.
func (r *BillingIntegrationRepo) Upsert(ctx context.Context, workspaceID string, p types.BillingPatch) error {
	if workspaceID == "" {
		return types.NewAppError(types.ErrCodeValidationMissingField, "workspace id is required", nil)
	}
	metadata, err := p.Metadata.Value()
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalUnexpected, "failed to encode billing metadata", err)
	}

	tag, err := r.db.Exec(ctx, upsertBillingSQL,
		workspaceID,
		p.StripeCustomerID,
		p.StripeSubscriptionID,
		p.StripeStatus,
		p.StripePriceID,
		p.StripeCurrentPeriodEnd,
		p.WhopMembershipID,
		p.WhopStatus,
		p.WhopExpiresAt,
		p.WhopProductID,
		p.WhopPlanID,
		string(metadata.([]byte)),
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to upsert workspace billing state", err)
	}
	r.logger.DebugContext(ctx, "billing state upserted",
		"workspace_id", workspaceID,
		"rows", tag.RowsAffected(),
	)
	return nil
}
