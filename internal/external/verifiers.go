package external

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"strconv"
	"strings"
	"time"

	"billingsync/internal/types"
)

// StripeSignatureTolerance is the replay window for Stripe-Signature
// timestamps, in seconds.
const StripeSignatureTolerance = 300

// Header names consulted by the verifiers.
const (
	HeaderStripeSignature = "Stripe-Signature"

	HeaderWhopSignatureV2 = "X-Whop-Signature-V2"
	HeaderWhopSignature   = "X-Whop-Signature"
	HeaderWhopSignatureV0 = "Whop-Signature"
	HeaderWhopTimestamp   = "X-Whop-Timestamp"
	HeaderWhopTimestampV0 = "Whop-Timestamp"
)

// whopSignatureHeaders is the lookup order for the Whop signature.
var whopSignatureHeaders = []string{HeaderWhopSignatureV2, HeaderWhopSignature, HeaderWhopSignatureV0}

var whopTimestampHeaders = []string{HeaderWhopTimestamp, HeaderWhopTimestampV0}

// ConstantTimeEqual compares two digests without an early exit on the first
// differing byte. Length mismatches return false immediately.
func ConstantTimeEqual(a, b string) bool {
	if len(a) != len(b) {
		return false
	}
	var diff byte
	for i := 0; i < len(a); i++ {
		diff |= a[i] ^ b[i]
	}
	return diff == 0
}

func computeHMAC(secret string, parts ...[]byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	for _, p := range parts {
		mac.Write(p)
	}
	return hex.EncodeToString(mac.Sum(nil))
}

// parseStripeSignatureHeader extracts the timestamp and every v1 digest from
// "t=<unix>,v1=<hex>[,v1=<hex>...]". Unknown schemes are skipped.
func parseStripeSignatureHeader(header string) (ts int64, sigs []string, ok bool) {
	var haveTS bool
	for _, part := range strings.Split(header, ",") {
		key, value, found := strings.Cut(strings.TrimSpace(part), "=")
		if !found {
			return 0, nil, false
		}
		switch key {
		case "t":
			parsed, err := strconv.ParseInt(value, 10, 64)
			if err != nil {
				return 0, nil, false
			}
			ts, haveTS = parsed, true
		case "v1":
			if value != "" {
				sigs = append(sigs, value)
			}
		}
	}
	return ts, sigs, haveTS && len(sigs) > 0
}

// VerifyStripeSignature checks a Stripe-Signature header against the raw
// body. It accepts when any v1 digest equals HMAC-SHA256(secret, "t.body")
// and the timestamp is within StripeSignatureTolerance of nowSeconds.
func VerifyStripeSignature(raw []byte, header, secret string, nowSeconds int64) bool {
	if header == "" || secret == "" {
		return false
	}
	ts, sigs, ok := parseStripeSignatureHeader(header)
	if !ok {
		return false
	}
	if delta := nowSeconds - ts; delta > StripeSignatureTolerance || delta < -StripeSignatureTolerance {
		return false
	}

	expected := computeHMAC(secret, []byte(strconv.FormatInt(ts, 10)), []byte("."), raw)
	matched := false
	for _, sig := range sigs {
		if ConstantTimeEqual(strings.ToLower(sig), expected) {
			matched = true
		}
	}
	return matched
}

// WhopSignatureFromHeaders returns the first non-empty Whop signature header
// in precedence order.
func WhopSignatureFromHeaders(h http.Header) string {
	for _, name := range whopSignatureHeaders {
		if v := strings.TrimSpace(h.Get(name)); v != "" {
			return v
		}
	}
	return ""
}

// WhopTimestampFromHeaders returns the timestamp header Whop sends alongside
// timestamped signatures, or "".
func WhopTimestampFromHeaders(h http.Header) string {
	for _, name := range whopTimestampHeaders {
		if v := strings.TrimSpace(h.Get(name)); v != "" {
			return v
		}
	}
	return ""
}

// VerifyWhopSignature accepts when signature matches HMAC-SHA256 over the
// raw body or, when timestamp is non-empty, over "timestamp.body".
func VerifyWhopSignature(raw []byte, signature, timestamp, secret string) bool {
	if signature == "" || secret == "" {
		return false
	}
	sig := strings.ToLower(strings.TrimSpace(signature))
	for _, prefix := range []string{"sha256=", "v1="} {
		if strings.HasPrefix(sig, prefix) {
			sig = strings.TrimPrefix(sig, prefix)
			break
		}
	}

	candidates := []string{computeHMAC(secret, raw)}
	if timestamp != "" {
		candidates = append(candidates, computeHMAC(secret, []byte(timestamp), []byte("."), raw))
	}

	matched := false
	for _, c := range candidates {
		if ConstantTimeEqual(sig, c) {
			matched = true
		}
	}
	return matched
}

// ---------------------------------------------------------------------------
// WebhookVerifier implementations
// ---------------------------------------------------------------------------

var (
	_ WebhookVerifier = (*StripeVerifier)(nil)
	_ WebhookVerifier = (*WhopVerifier)(nil)
)

// StripeVerifier verifies Stripe deliveries with a fixed signing secret.
type StripeVerifier struct {
	secret types.SecretString
	now    func() time.Time
}

func NewStripeVerifier(secret types.SecretString) *StripeVerifier {
	return &StripeVerifier{secret: secret, now: time.Now}
}

// WithClock replaces the time source. Tests only.
func (v *StripeVerifier) WithClock(now func() time.Time) *StripeVerifier {
	v.now = now
	return v
}

func (v *StripeVerifier) Configured() bool { return v.secret.IsSet() }

func (v *StripeVerifier) Verify(payload []byte, headers http.Header) bool {
	return VerifyStripeSignature(payload, headers.Get(HeaderStripeSignature), v.secret.Unmask(), v.now().Unix())
}

// WhopVerifier verifies Whop deliveries with a fixed signing secret.
type WhopVerifier struct {
	secret types.SecretString
}

func NewWhopVerifier(secret types.SecretString) *WhopVerifier {
	return &WhopVerifier{secret: secret}
}

func (v *WhopVerifier) Configured() bool { return v.secret.IsSet() }

func (v *WhopVerifier) Verify(payload []byte, headers http.Header) bool {
	return VerifyWhopSignature(payload, WhopSignatureFromHeaders(headers), WhopTimestampFromHeaders(headers), v.secret.Unmask())
}
