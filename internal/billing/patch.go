package billing

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"billingsync/internal/external"
	"billingsync/internal/types"
)

const (
	stripeStatusActive  = "active"
	stripeStatusPastDue = "past_due"
	whopStatusActive    = "active"
	whopStatusInactive  = "inactive"
)

// PatchBuilder turns a provider event into the identifiers used for workspace
// resolution and the partial billing patch to merge.
type PatchBuilder interface {
	Build(ev Event) (ResolveInput, types.BillingPatch, error)
}

var (
	_ PatchBuilder = StripePatchBuilder{}
	_ PatchBuilder = WhopPatchBuilder{}
)

// stampEvent records last_<provider>_event_{type,id,at} on the patch.
func stampEvent(p *types.BillingPatch, ev Event) {
	prefix := "last_" + string(ev.Provider) + "_event_"
	p.SetMeta(prefix+"type", ev.Type)
	p.SetMeta(prefix+"id", ev.ExternalID)
	p.SetMeta(prefix+"at", ev.ReceivedAt.Format(time.RFC3339))
}

func decodeObject(raw json.RawMessage, dest any) error {
	if len(raw) == 0 || string(raw) == "null" {
		return nil
	}
	if err := json.Unmarshal(raw, dest); err != nil {
		return types.NewAppError(types.ErrCodeValidationInvalidJSON, "unexpected event object shape", err)
	}
	return nil
}

// StripePatchBuilder handles checkout, subscription lifecycle and invoice
// events. Other types produce a metadata-only patch.
type StripePatchBuilder struct{}

func (StripePatchBuilder) Build(ev Event) (ResolveInput, types.BillingPatch, error) {
	var env external.StripeEvent
	if err := json.Unmarshal(ev.Payload, &env); err != nil {
		return ResolveInput{}, types.BillingPatch{}, types.NewAppError(types.ErrCodeValidationInvalidJSON, "Invalid JSON payload", err)
	}
	raw := env.Data.Object

	var obj external.StripeObject
	if err := decodeObject(raw, &obj); err != nil {
		return ResolveInput{}, types.BillingPatch{}, err
	}
	in := ResolveInput{
		Provider:            types.ProviderStripe,
		EventType:           ev.Type,
		MetadataWorkspaceID: obj.Metadata.WorkspaceID(),
		ClientReferenceID:   obj.ClientReferenceID,
		CustomerID:          string(obj.Customer),
		SubscriptionID:      string(obj.Subscription),
	}

	var patch types.BillingPatch
	switch {
	case ev.Type == external.EventStripeCheckoutCompleted:
		var s external.StripeCheckoutSession
		if err := decodeObject(raw, &s); err != nil {
			return in, patch, err
		}
		patch.StripeCustomerID = types.StringPtr(string(s.Customer))
		patch.StripeSubscriptionID = types.StringPtr(string(s.Subscription))
		patch.StripeStatus = types.StringPtr(stripeStatusActive)

	case strings.HasPrefix(ev.Type, external.StripeSubscriptionEventPrefix):
		var sub external.StripeSubscription
		if err := decodeObject(raw, &sub); err != nil {
			return in, patch, err
		}
		in.SubscriptionID = sub.ID
		patch.StripeCustomerID = types.StringPtr(string(sub.Customer))
		patch.StripeSubscriptionID = types.StringPtr(sub.ID)
		patch.StripeStatus = types.StringPtr(sub.Status)
		patch.StripePriceID = types.StringPtr(sub.PriceID())
		patch.StripeCurrentPeriodEnd = types.TimePtr(sub.PeriodEnd())

	case ev.Type == external.EventStripeInvoicePaid, ev.Type == external.EventStripePaymentFailed:
		var inv external.StripeInvoice
		if err := decodeObject(raw, &inv); err != nil {
			return in, patch, err
		}
		in.SubscriptionID = inv.SubscriptionID()
		if ws := inv.WorkspaceID(); ws != "" {
			in.MetadataWorkspaceID = ws
		}
		patch.StripeCustomerID = types.StringPtr(string(inv.Customer))
		patch.StripeSubscriptionID = types.StringPtr(inv.SubscriptionID())
		if ev.Type == external.EventStripePaymentFailed {
			patch.StripeStatus = types.StringPtr(stripeStatusPastDue)
		}
	}

	stampEvent(&patch, ev)
	return in, patch, nil
}

// WhopPatchBuilder handles membership and payment events.
type WhopPatchBuilder struct{}

func (WhopPatchBuilder) Build(ev Event) (ResolveInput, types.BillingPatch, error) {
	var env external.WhopEvent
	if err := json.Unmarshal(ev.Payload, &env); err != nil {
		return ResolveInput{}, types.BillingPatch{}, types.NewAppError(types.ErrCodeValidationInvalidJSON, "Invalid JSON payload", err)
	}

	var m external.WhopMembership
	if err := decodeObject(env.Data, &m); err != nil {
		return ResolveInput{}, types.BillingPatch{}, err
	}
	membershipID := m.MembershipRef(ev.Type)

	in := ResolveInput{
		Provider:            types.ProviderWhop,
		EventType:           ev.Type,
		MetadataWorkspaceID: m.WorkspaceID(),
		MembershipID:        membershipID,
	}

	patch := types.BillingPatch{
		WhopMembershipID: types.StringPtr(membershipID),
		WhopProductID:    types.StringPtr(m.ProductRef()),
		WhopPlanID:       types.StringPtr(m.PlanRef()),
		WhopExpiresAt:    m.Expiry(),
	}
	// A payment's own status is not a membership status.
	if strings.HasPrefix(ev.Type, "membership.") {
		patch.WhopStatus = types.StringPtr(m.Status)
	}

	switch ev.Type {
	case external.EventWhopMembershipWentValid, external.EventWhopMembershipActivated, external.EventWhopPaymentSucceeded:
		patch.WhopStatus = types.StringPtr(whopStatusActive)
	case external.EventWhopMembershipWentInvalid, external.EventWhopMembershipDeactivated, external.EventWhopMembershipCancelled:
		if patch.WhopStatus == nil {
			patch.WhopStatus = types.StringPtr(whopStatusInactive)
		}
	}

	stampEvent(&patch, ev)
	return in, patch, nil
}

// builderFor returns the builder registered for provider.
func builderFor(builders map[types.Provider]PatchBuilder, provider types.Provider) (PatchBuilder, error) {
	b, ok := builders[provider]
	if !ok {
		return nil, types.NewAppError(types.ErrCodeInternalUnexpected, fmt.Sprintf("no patch builder for provider %q", provider), nil)
	}
	return b, nil
}
