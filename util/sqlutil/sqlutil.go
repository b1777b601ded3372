package sqlutil

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
)

// JSONMap is an open-ended key-value document stored in a JSON/JSONB column.
type JSONMap map[string]interface{}

// Value encodes the map for storage. A nil map is stored as SQL NULL.
func (m JSONMap) Value() (driver.Value, error) {
	if m == nil {
		return nil, nil
	}
	b, err := json.Marshal(map[string]interface{}(m))
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

// Scan decodes a JSON column into the map.
func (m *JSONMap) Scan(src interface{}) error {
	var b []byte
	switch v := src.(type) {
	case nil:
		*m = nil
		return nil
	case []byte:
		b = v
	case string:
		b = []byte(v)
	default:
		return fmt.Errorf("sqlutil: cannot scan %T into JSONMap", src)
	}
	if len(b) == 0 {
		*m = nil
		return nil
	}
	var decoded map[string]interface{}
	if err := json.Unmarshal(b, &decoded); err != nil {
		return err
	}
	*m = decoded
	return nil
}
