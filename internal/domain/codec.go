package domain

import (
	"encoding/json"
	"fmt"
)

// wireMap decodes into a loosely typed map so callers can probe for either
// wire shape without committing to one set of struct tags. Both shapes
// round-trip through JSON numbers as float64, which is fine since every
// caller immediately converts to decimal.Decimal or an int.
type wireMap map[string]interface{}

func decodeWireMap(raw []byte) (wireMap, error) {
	var m wireMap
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, fmt.Errorf("decode json: %w", err)
	}
	return m, nil
}

// pick returns the first present, non-null value among keys, trying the
// exchange-native camelCase key before the internal snake_case key (or
// vice versa — callers list keys in the order they want them tried).
func pick(m wireMap, keys ...string) (interface{}, bool) {
	for _, k := range keys {
		if v, ok := m[k]; ok && v != nil {
			return v, true
		}
	}
	return nil, false
}

func pickString(m wireMap, keys ...string) string {
	v, ok := pick(m, keys...)
	if !ok {
		return ""
	}
	s, _ := v.(string)
	return s
}

func pickFloat(m wireMap, keys ...string) (float64, bool) {
	v, ok := pick(m, keys...)
	if !ok {
		return 0, false
	}
	switch n := v.(type) {
	case float64:
		return n, true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	}
	return 0, false
}

func pickBool(m wireMap, keys ...string) bool {
	v, ok := pick(m, keys...)
	if !ok {
		return false
	}
	b, _ := v.(bool)
	return b
}

func pickInt(m wireMap, keys ...string) (int64, bool) {
	f, ok := pickFloat(m, keys...)
	if !ok {
		return 0, false
	}
	return int64(f), true
}
