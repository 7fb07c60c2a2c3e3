// Package exchange implements the Exchange Client Adapter and Stream
// Fan-out components (spec.md §4.3, §4.4). REST calls go through a resty
// client and the streaming feeds dial gorilla/websocket connections
// directly; request signing is not implemented here.
package exchange

import (
	"encoding/json"
	"errors"
	"strings"

	"github.com/bitmex-bridge/node/internal/domain"
)

// fatalSubstrings classifies an exchange error message as one of the
// non-retryable classes from spec.md §4.3: authentication, permission,
// invalid-arguments, insufficient-funds, invalid-order, order-not-found.
var fatalSubstrings = []string{
	"authentication",
	"invalid api key",
	"permission",
	"forbidden",
	"invalid argument",
	"insufficient",
	"invalid order",
	"order not found",
	"unknown order",
}

// ParseError strips the exchange library's "bitmex " prefix and decodes the
// remainder as {"error":{"message":"..."}}. A prefixed body of any other
// shape becomes "Unknown Error", matching spec.md §4.5's classification
// rule; input without the prefix is used as the message unchanged. The
// returned error is Fatal if the message matches one of the non-retryable
// classes, Transient otherwise.
func ParseError(raw string) error {
	message := raw
	if trimmed := strings.TrimPrefix(raw, "bitmex "); trimmed != raw {
		var body struct {
			Error struct {
				Message string `json:"message"`
			} `json:"error"`
		}
		if err := json.Unmarshal([]byte(trimmed), &body); err == nil && body.Error.Message != "" {
			message = body.Error.Message
		} else {
			message = "Unknown Error"
		}
	}

	lower := strings.ToLower(message)
	for _, substr := range fatalSubstrings {
		if strings.Contains(lower, substr) {
			return domain.FatalExchange{Message: message}
		}
	}
	return domain.TransientExchange{Message: message}
}

// IsFatal adapts ParseError's classification to the retry package's Fatal
// predicate shape.
func IsFatal(err error) bool {
	var fatal domain.FatalExchange
	return errors.As(err, &fatal)
}
