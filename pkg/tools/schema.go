package tools

import (
	"encoding/json"
	"fmt"
	"maps"
)

// SchemaToMap normalizes a tool input schema into a plain map.
//
// Servers may send the schema as a map, a typed struct or raw JSON. A nil
// schema becomes an empty object schema.
func SchemaToMap(schema any) (map[string]any, error) {
	var m map[string]any

	switch s := schema.(type) {
	case nil:
	case map[string]any:
		m = maps.Clone(s)
	case json.RawMessage:
		if err := json.Unmarshal(s, &m); err != nil {
			return nil, fmt.Errorf("decoding schema: %w", err)
		}
	case []byte:
		if err := json.Unmarshal(s, &m); err != nil {
			return nil, fmt.Errorf("decoding schema: %w", err)
		}
	default:
		buf, err := json.Marshal(s)
		if err != nil {
			return nil, fmt.Errorf("encoding schema: %w", err)
		}
		if err := json.Unmarshal(buf, &m); err != nil {
			return nil, fmt.Errorf("decoding schema: %w", err)
		}
	}

	if m == nil {
		m = map[string]any{}
	}
	if _, ok := m["type"]; !ok {
		m["type"] = "object"
	}
	if m["type"] == "object" {
		if _, ok := m["properties"]; !ok {
			m["properties"] = map[string]any{}
		}
	}
	return m, nil
}
