package orchestrator

import (
	"strings"

	"github.com/google/uuid"
)

// mangleClOrdID implements spec.md §4.5's nonce scheme: the caller-supplied
// client order id is suffixed with the first 4 characters of a fresh uuid4
// so retried submissions of the same logical order never collide on the
// exchange's clOrdID uniqueness constraint.
func mangleClOrdID(clientOrderID string) string {
	return clientOrderID + "_" + uuid.New().String()[:4]
}

// demangleClOrdID implements the reply-side half of the scheme: the
// exchange echoes the nonce-augmented id back, and only the first two
// underscore segments of the echoed value are kept (spec.md §4.5). A
// caller id with at most one underscore comes back unchanged; an id with
// more underscores comes back cut to its first two segments.
func demangleClOrdID(echoed string) string {
	parts := strings.Split(echoed, "_")
	if len(parts) <= 2 {
		return echoed
	}
	return strings.Join(parts[:2], "_")
}
