package external

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	stripe "github.com/stripe/stripe-go/v82"

	"billingsync/internal/types"
)

const stripeAPIBase = "https://api.stripe.com"

// ---------------------------------------------------------------------------
// Stripe object shapes
// ---------------------------------------------------------------------------

// ExpandableID decodes a Stripe (or Whop) reference that is either a bare id
// string or an expanded object carrying an "id" field.
type ExpandableID string

func (e *ExpandableID) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*e = ""
		return nil
	}
	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*e = ExpandableID(s)
		return nil
	}
	var obj struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(data, &obj); err != nil {
		return err
	}
	*e = ExpandableID(obj.ID)
	return nil
}

// StripeMetadata is Stripe's string-to-string metadata map.
type StripeMetadata map[string]string

// WorkspaceID returns metadata.workspace_id.
func (m StripeMetadata) WorkspaceID() string {
	return strings.TrimSpace(m["workspace_id"])
}

// StripeEvent is the webhook envelope.
type StripeEvent struct {
	ID       string `json:"id"`
	Type     string `json:"type"`
	Created  int64  `json:"created"`
	Livemode bool   `json:"livemode"`
	Data     struct {
		Object json.RawMessage `json:"object"`
	} `json:"data"`
}

// StripeCheckoutSession is the subset of a Checkout Session used for
// reconciliation.
type StripeCheckoutSession struct {
	ID                string         `json:"id"`
	ClientReferenceID string         `json:"client_reference_id"`
	Customer          ExpandableID   `json:"customer"`
	Subscription      ExpandableID   `json:"subscription"`
	Metadata          StripeMetadata `json:"metadata"`
	Status            string         `json:"status"`
	PaymentStatus     string         `json:"payment_status"`
}

// StripeSubscription is returned both inside customer.subscription.* events
// and by GET /v1/subscriptions/{id}.
type StripeSubscription struct {
	ID               string         `json:"id"`
	Customer         ExpandableID   `json:"customer"`
	Status           string         `json:"status"`
	CurrentPeriodEnd int64          `json:"current_period_end"`
	Metadata         StripeMetadata `json:"metadata"`
	Items            struct {
		Data []StripeSubscriptionItem `json:"data"`
	} `json:"items"`
}

type StripeSubscriptionItem struct {
	ID               string `json:"id"`
	CurrentPeriodEnd int64  `json:"current_period_end"`
	Price            struct {
		ID string `json:"id"`
	} `json:"price"`
}

// PriceID returns the price of the first subscription item.
func (s *StripeSubscription) PriceID() string {
	if len(s.Items.Data) == 0 {
		return ""
	}
	return s.Items.Data[0].Price.ID
}

// PeriodEnd returns current_period_end from the subscription or, on API
// versions that moved it, from the first item.
func (s *StripeSubscription) PeriodEnd() int64 {
	if s.CurrentPeriodEnd != 0 {
		return s.CurrentPeriodEnd
	}
	for _, item := range s.Items.Data {
		if item.CurrentPeriodEnd != 0 {
			return item.CurrentPeriodEnd
		}
	}
	return 0
}

// StripeInvoice is the subset of an Invoice used for reconciliation.
type StripeInvoice struct {
	ID           string         `json:"id"`
	Customer     ExpandableID   `json:"customer"`
	Subscription ExpandableID   `json:"subscription"`
	Metadata     StripeMetadata `json:"metadata"`
	Parent       *struct {
		SubscriptionDetails *struct {
			Subscription ExpandableID   `json:"subscription"`
			Metadata     StripeMetadata `json:"metadata"`
		} `json:"subscription_details"`
	} `json:"parent"`
}

// SubscriptionID handles both the legacy top-level field and the newer
// parent.subscription_details location.
func (inv *StripeInvoice) SubscriptionID() string {
	if inv.Subscription != "" {
		return string(inv.Subscription)
	}
	if inv.Parent != nil && inv.Parent.SubscriptionDetails != nil {
		return string(inv.Parent.SubscriptionDetails.Subscription)
	}
	return ""
}

// WorkspaceID reads metadata.workspace_id from the invoice or from the
// subscription metadata snapshot on the invoice parent.
func (inv *StripeInvoice) WorkspaceID() string {
	if ws := inv.Metadata.WorkspaceID(); ws != "" {
		return ws
	}
	if inv.Parent != nil && inv.Parent.SubscriptionDetails != nil {
		return inv.Parent.SubscriptionDetails.Metadata.WorkspaceID()
	}
	return ""
}

// StripeObject is the union of fields the resolver looks at, decoded from
// any data.object regardless of type.
type StripeObject struct {
	ID                string         `json:"id"`
	Object            string         `json:"object"`
	ClientReferenceID string         `json:"client_reference_id"`
	Customer          ExpandableID   `json:"customer"`
	Subscription      ExpandableID   `json:"subscription"`
	Metadata          StripeMetadata `json:"metadata"`
}

// ---------------------------------------------------------------------------
// REST client
// ---------------------------------------------------------------------------

var _ SubscriptionFetcher = (*StripeClient)(nil)

// StripeClientConfig holds the configuration for creating a StripeClient.
type StripeClientConfig struct {
	SecretKey types.SecretString
	BaseURL   string
	Logger    *slog.Logger
}

// StripeClient performs read-only Stripe REST calls through BaseClient.
type StripeClient struct {
	base      *BaseClient
	secretKey types.SecretString
	baseURL   string
	logger    *slog.Logger
}

func NewStripeClient(httpClient *http.Client, cfg StripeClientConfig, opts ...BaseClientOption) *StripeClient {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = stripeAPIBase
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &StripeClient{
		base:      NewBaseClient(httpClient, "stripe", EnrichmentRetryPolicy(), "billing-webhooks/1.0", opts...),
		secretKey: cfg.SecretKey,
		baseURL:   strings.TrimSuffix(baseURL, "/"),
		logger:    logger,
	}
}

// GetSubscription fetches the full subscription object.
func (s *StripeClient) GetSubscription(ctx context.Context, subscriptionID string) (*StripeSubscription, error) {
	if subscriptionID == "" {
		return nil, types.NewAppError(types.ErrCodeValidationMissingField, "subscription id is required", nil)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.baseURL+"/v1/subscriptions/"+url.PathEscape(subscriptionID), nil)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalUnexpected, "failed to build Stripe request", err)
	}
	req.Header.Set("Authorization", "Bearer "+s.secretKey.Unmask())
	req.Header.Set("Stripe-Version", stripe.APIVersion)

	resp, err := s.base.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, s.handleErrorResponse(resp, "GetSubscription")
	}

	var sub StripeSubscription
	if err := json.NewDecoder(resp.Body).Decode(&sub); err != nil {
		return nil, types.NewAppError(types.ErrCodeUpstreamStripe, "failed to decode Stripe subscription", err)
	}
	return &sub, nil
}

type stripeErrorResponse struct {
	Error struct {
		Type    string `json:"type"`
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

func (s *StripeClient) handleErrorResponse(resp *http.Response, operation string) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))

	var parsed stripeErrorResponse
	message := fmt.Sprintf("Stripe returned status %d", resp.StatusCode)
	if json.Unmarshal(body, &parsed) == nil && parsed.Error.Message != "" {
		message = parsed.Error.Message
	}

	return types.NewAppErrorWithDetails(types.ErrCodeUpstreamStripe, fmt.Sprintf("%s: %s", operation, message), nil, map[string]any{
		"status":      resp.StatusCode,
		"stripe_type": parsed.Error.Type,
		"stripe_code": parsed.Error.Code,
	})
}
