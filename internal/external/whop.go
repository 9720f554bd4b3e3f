package external

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"billingsync/internal/types"
)

const whopAPIBase = "https://api.whop.com"

// ---------------------------------------------------------------------------
// Whop payload shapes
// ---------------------------------------------------------------------------

// FlexTime decodes a timestamp sent as unix seconds (number or numeric
// string) or as an RFC 3339 string.
type FlexTime struct {
	time.Time
}

func (f *FlexTime) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		f.Time = time.Time{}
		return nil
	}
	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		if s == "" {
			f.Time = time.Time{}
			return nil
		}
		if secs, err := strconv.ParseInt(s, 10, 64); err == nil {
			f.Time = time.Unix(secs, 0).UTC()
			return nil
		}
		t, err := time.Parse(time.RFC3339, s)
		if err != nil {
			return fmt.Errorf("whop timestamp %q: %w", s, err)
		}
		f.Time = t.UTC()
		return nil
	}
	var secs float64
	if err := json.Unmarshal(data, &secs); err != nil {
		return err
	}
	f.Time = time.Unix(int64(secs), 0).UTC()
	return nil
}

// Ptr returns nil for the zero time.
func (f FlexTime) Ptr() *time.Time {
	if f.IsZero() {
		return nil
	}
	t := f.Time
	return &t
}

// WhopEvent is the webhook envelope. Older deliveries name the type
// "action", newer ones "type" or "event".
type WhopEvent struct {
	ID     string          `json:"id"`
	Action string          `json:"action"`
	Type   string          `json:"type"`
	Event  string          `json:"event"`
	Data   json.RawMessage `json:"data"`
}

// EventType returns the first non-empty of type, action and event.
func (e *WhopEvent) EventType() string {
	for _, v := range []string{e.Type, e.Action, e.Event} {
		if v != "" {
			return v
		}
	}
	return ""
}

// ExternalID returns the delivery's event id. Whop payloads without a
// top-level id are keyed by event type plus a digest of the raw body, which
// is stable across retries of the same delivery.
func (e *WhopEvent) ExternalID(raw []byte) string {
	if e.ID != "" {
		return e.ID
	}
	sum := sha256.Sum256(raw)
	return e.EventType() + ":" + hex.EncodeToString(sum[:16])
}

// WhopMembership is the membership object carried by membership.* events
// and returned by GET /api/v2/memberships/{id}. Payment events carry a
// payment whose membership reference sits in Membership or MembershipID.
type WhopMembership struct {
	ID               string         `json:"id"`
	Status           string         `json:"status"`
	Valid            *bool          `json:"valid"`
	Product          ExpandableID   `json:"product"`
	ProductID        string         `json:"product_id"`
	Plan             ExpandableID   `json:"plan"`
	PlanID           string         `json:"plan_id"`
	ExpiresAt        FlexTime       `json:"expires_at"`
	RenewalPeriodEnd FlexTime       `json:"renewal_period_end"`
	Membership       ExpandableID   `json:"membership"`
	MembershipID     string         `json:"membership_id"`
	Metadata         map[string]any `json:"metadata"`
}

// MembershipRef returns the membership id the payload refers to.
func (m *WhopMembership) MembershipRef(eventType string) string {
	if m.MembershipID != "" {
		return m.MembershipID
	}
	if m.Membership != "" {
		return string(m.Membership)
	}
	if strings.HasPrefix(eventType, "membership.") {
		return m.ID
	}
	return ""
}

func (m *WhopMembership) ProductRef() string {
	if m.ProductID != "" {
		return m.ProductID
	}
	return string(m.Product)
}

func (m *WhopMembership) PlanRef() string {
	if m.PlanID != "" {
		return m.PlanID
	}
	return string(m.Plan)
}

// Expiry prefers expires_at and falls back to renewal_period_end.
func (m *WhopMembership) Expiry() *time.Time {
	if p := m.ExpiresAt.Ptr(); p != nil {
		return p
	}
	return m.RenewalPeriodEnd.Ptr()
}

// WorkspaceID reads metadata.workspace_id when it is a string.
func (m *WhopMembership) WorkspaceID() string {
	if v, ok := m.Metadata["workspace_id"].(string); ok {
		return strings.TrimSpace(v)
	}
	return ""
}

// ---------------------------------------------------------------------------
// REST client
// ---------------------------------------------------------------------------

var _ MembershipFetcher = (*WhopClient)(nil)

type WhopClientConfig struct {
	APIKey  types.SecretString
	BaseURL string
	Logger  *slog.Logger
}

// WhopClient performs read-only Whop REST calls through BaseClient.
type WhopClient struct {
	base    *BaseClient
	apiKey  types.SecretString
	baseURL string
	logger  *slog.Logger
}

func NewWhopClient(httpClient *http.Client, cfg WhopClientConfig, opts ...BaseClientOption) *WhopClient {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = whopAPIBase
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &WhopClient{
		base:    NewBaseClient(httpClient, "whop", EnrichmentRetryPolicy(), "billing-webhooks/1.0", opts...),
		apiKey:  cfg.APIKey,
		baseURL: strings.TrimSuffix(baseURL, "/"),
		logger:  logger,
	}
}

// GetMembership fetches a membership by id.
func (c *WhopClient) GetMembership(ctx context.Context, membershipID string) (*WhopMembership, error) {
	if membershipID == "" {
		return nil, types.NewAppError(types.ErrCodeValidationMissingField, "membership id is required", nil)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/v2/memberships/"+url.PathEscape(membershipID), nil)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalUnexpected, "failed to build Whop request", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey.Unmask())
	req.Header.Set("Accept", "application/json")

	resp, err := c.base.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4<<10))
		return nil, types.NewAppErrorWithDetails(types.ErrCodeUpstreamWhop,
			fmt.Sprintf("GetMembership: Whop returned status %d", resp.StatusCode), nil,
			map[string]any{"status": resp.StatusCode, "body": string(body)})
	}

	var m WhopMembership
	if err := json.NewDecoder(resp.Body).Decode(&m); err != nil {
		return nil, types.NewAppError(types.ErrCodeUpstreamWhop, "failed to decode Whop membership", err)
	}
	return &m, nil
}
