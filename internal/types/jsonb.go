package types

import (
	"database/sql"
	"database/sql/driver"
	"encoding/json"
	"fmt"
)

var (
	_ sql.Scanner   = (*Metadata)(nil)
	_ driver.Valuer = Metadata(nil)
)

// Metadata is an open JSONB map. The billing-state upsert merges it with the
// stored value using the Postgres || operator.
type Metadata map[string]any

// scanJSONB scans a JSONB database value into a Go pointer. It accepts []byte
// and string representations from different drivers.
func scanJSONB(dest interface{}, value interface{}) error {
	if value == nil {
		return nil
	}
	var data []byte
	switch v := value.(type) {
	case []byte:
		data = v
	case string:
		data = []byte(v)
	default:
		return fmt.Errorf("jsonb: unsupported scan type %T", value)
	}
	return json.Unmarshal(data, dest)
}

// Scan implements the sql.Scanner interface for reading JSONB from the database.
func (m *Metadata) Scan(value interface{}) error {
	if value == nil {
		*m = Metadata{}
		return nil
	}
	// pgx may already have decoded jsonb into a map.
	if decoded, ok := value.(map[string]any); ok {
		*m = Metadata(decoded)
		return nil
	}
	return scanJSONB(m, value)
}

// Value implements the driver.Valuer interface. A nil map is written as an
// empty object so that `metadata || $n` never produces NULL.
func (m Metadata) Value() (driver.Value, error) {
	if m == nil {
		return []byte("{}"), nil
	}
	return json.Marshal(map[string]any(m))
}

// Merge returns a new map holding m overlaid with other. Keys in other win.
func (m Metadata) Merge(other Metadata) Metadata {
	out := make(Metadata, len(m)+len(other))
	for k, v := range m {
		out[k] = v
	}
	for k, v := range other {
		out[k] = v
	}
	return out
}
