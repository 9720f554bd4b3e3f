package types

const redactedPlaceholder = "***REDACTED***"

var redactedJSON = []byte(`"***REDACTED***"`)

// SecretString holds webhook signing secrets and API keys. String() and
// MarshalJSON() return a redacted placeholder so the value never reaches
// logs or config dumps. Use Unmask() where the raw value is required.
type SecretString string

// String returns a redacted placeholder instead of the raw value.
func (s SecretString) String() string {
	if s == "" {
		return ""
	}
	return redactedPlaceholder
}

// MarshalJSON returns the redacted placeholder as a JSON string.
func (s SecretString) MarshalJSON() ([]byte, error) {
	if s == "" {
		return []byte(`""`), nil
	}
	return redactedJSON, nil
}

// Unmask returns the raw plaintext value of the secret.
// Callers are limited to signature verification and Authorization headers.
func (s SecretString) Unmask() string {
	return string(s)
}

// IsSet reports whether a non-empty secret has been configured.
func (s SecretString) IsSet() bool {
	return s != ""
}
