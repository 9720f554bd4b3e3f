package billing

import (
	"context"
	"strings"

	"billingsync/internal/external"
	"billingsync/internal/types"
)

// BillingStateStore reads and merges WorkspaceBillingIntegration rows.
// Implemented by db.BillingIntegrationRepo.
type BillingStateStore interface {
	// The FindWorkspaceBy* lookups return "" when no row matches.
	FindWorkspaceByStripeCustomer(ctx context.Context, customerID string) (string, error)
	FindWorkspaceByStripeSubscription(ctx context.Context, subscriptionID string) (string, error)
	FindWorkspaceByWhopMembership(ctx context.Context, membershipID string) (string, error)

	Get(ctx context.Context, workspaceID string) (*types.WorkspaceBillingIntegration, error)

	// Upsert merges patch into the row, creating it if needed. Nil patch
	// fields never overwrite stored values.
	Upsert(ctx context.Context, workspaceID string, patch types.BillingPatch) error
}

// ResolveInput carries the identifiers extracted from a provider object.
type ResolveInput struct {
	Provider            types.Provider
	EventType           string
	MetadataWorkspaceID string
	ClientReferenceID   string
	CustomerID          string
	SubscriptionID      string
	MembershipID        string
}

// Resolver maps an event to the workspace it belongs to.
type Resolver struct {
	store BillingStateStore
}

func NewResolver(store BillingStateStore) *Resolver {
	return &Resolver{store: store}
}

// Resolve applies the lookup precedence and stops at the first hit:
// explicit workspace metadata, client_reference_id, stored Stripe customer,
// stored Stripe subscription (subscription lifecycle events only), stored
// Whop membership. It returns "" when nothing matches.
func (r *Resolver) Resolve(ctx context.Context, in ResolveInput) (string, error) {
	if ws := strings.TrimSpace(in.MetadataWorkspaceID); ws != "" {
		return ws, nil
	}
	if ws := strings.TrimSpace(in.ClientReferenceID); ws != "" {
		return ws, nil
	}

	if in.CustomerID != "" {
		ws, err := r.store.FindWorkspaceByStripeCustomer(ctx, in.CustomerID)
		if err != nil || ws != "" {
			return ws, err
		}
	}

	if in.SubscriptionID != "" && strings.HasPrefix(in.EventType, external.StripeSubscriptionEventPrefix) {
		ws, err := r.store.FindWorkspaceByStripeSubscription(ctx, in.SubscriptionID)
		if err != nil || ws != "" {
			return ws, err
		}
	}

	if in.MembershipID != "" {
		return r.store.FindWorkspaceByWhopMembership(ctx, in.MembershipID)
	}
	return "", nil
}
