package exchange

import (
	"encoding/json"

	"github.com/bitmex-bridge/node/internal/domain"
)

func domainTransient(msg string) error {
	return domain.TransientExchange{Message: msg}
}

func hasField(body []byte, keys ...string) bool {
	var m map[string]interface{}
	if err := json.Unmarshal(body, &m); err != nil {
		return false
	}
	for _, k := range keys {
		if v, ok := m[k]; ok && v != nil {
			return true
		}
	}
	return false
}

func hasNonEmptyField(body []byte, keys ...string) bool {
	var m map[string]interface{}
	if err := json.Unmarshal(body, &m); err != nil {
		return false
	}
	for _, k := range keys {
		if v, ok := m[k]; ok {
			if s, ok := v.(string); ok && s != "" {
				return true
			}
		}
	}
	return false
}
