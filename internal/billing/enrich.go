package billing

import (
	"context"
	"log/slog"

	"billingsync/internal/external"
	"billingsync/internal/types"
)

// Enricher fills fields a webhook payload left out by reading the current
// object from the provider API. It only sets fields that are still nil and
// never fails the delivery.
type Enricher struct {
	subscriptions external.SubscriptionFetcher
	memberships   external.MembershipFetcher
	metrics       Recorder
	logger        *slog.Logger
}

// NewEnricher accepts nil fetchers; a nil fetcher disables enrichment for
// that provider.
func NewEnricher(subs external.SubscriptionFetcher, members external.MembershipFetcher, metrics Recorder, logger *slog.Logger) *Enricher {
	if metrics == nil {
		metrics = NopRecorder{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Enricher{
		subscriptions: subs,
		memberships:   members,
		metrics:       metrics,
		logger:        logger,
	}
}

// Enrich mutates patch in place.
func (e *Enricher) Enrich(ctx context.Context, provider types.Provider, patch *types.BillingPatch) {
	switch provider {
	case types.ProviderStripe:
		e.enrichStripe(ctx, patch)
	case types.ProviderWhop:
		e.enrichWhop(ctx, patch)
	}
}

func (e *Enricher) enrichStripe(ctx context.Context, patch *types.BillingPatch) {
	if e.subscriptions == nil || patch.StripeSubscriptionID == nil {
		return
	}
	if patch.StripeStatus != nil && patch.StripePriceID != nil && patch.StripeCurrentPeriodEnd != nil {
		return
	}

	sub, err := e.subscriptions.GetSubscription(ctx, *patch.StripeSubscriptionID)
	if err != nil {
		e.logger.WarnContext(ctx, "stripe enrichment failed",
			"subscription_id", *patch.StripeSubscriptionID,
			"error", err,
		)
		e.metrics.RecordEnrichmentFailure(ctx, types.ProviderStripe)
		return
	}

	if patch.StripeStatus == nil {
		patch.StripeStatus = types.StringPtr(sub.Status)
	}
	if patch.StripePriceID == nil {
		patch.StripePriceID = types.StringPtr(sub.PriceID())
	}
	if patch.StripeCurrentPeriodEnd == nil {
		patch.StripeCurrentPeriodEnd = types.TimePtr(sub.PeriodEnd())
	}
	if patch.StripeCustomerID == nil {
		patch.StripeCustomerID = types.StringPtr(string(sub.Customer))
	}
}

func (e *Enricher) enrichWhop(ctx context.Context, patch *types.BillingPatch) {
	if e.memberships == nil || patch.WhopMembershipID == nil {
		return
	}
	if patch.WhopStatus != nil && patch.WhopPlanID != nil {
		return
	}

	m, err := e.memberships.GetMembership(ctx, *patch.WhopMembershipID)
	if err != nil {
		e.logger.WarnContext(ctx, "whop enrichment failed",
			"membership_id", *patch.WhopMembershipID,
			"error", err,
		)
		e.metrics.RecordEnrichmentFailure(ctx, types.ProviderWhop)
		return
	}

	if patch.WhopStatus == nil {
		patch.WhopStatus = types.StringPtr(m.Status)
	}
	if patch.WhopPlanID == nil {
		patch.WhopPlanID = types.StringPtr(m.PlanRef())
	}
	if patch.WhopProductID == nil {
		patch.WhopProductID = types.StringPtr(m.ProductRef())
	}
	if patch.WhopExpiresAt == nil {
		patch.WhopExpiresAt = m.Expiry()
	}
}
