package domain

import "time"

// AccountBinding is the single exchange credential set this node serves.
// At most one exists per process. A CreateAccount while one is bound is
// rejected with WrongAccount rather than replacing it; the binding changes
// only through UpdateAccount or after DeleteAccount.
type AccountBinding struct {
	AccountID string
	APIKey    string
	APISecret string
	StartTime time.Time
}

// Kind enumerates the entity categories the State Store addresses by
// (account_id, kind, natural-key).
type Kind string

const (
	KindMargin   Kind = "margin"
	KindPosition Kind = "position"
	KindTicker   Kind = "ticker"
	KindOrder    Kind = "order"
	KindTrade    Kind = "trade"
)
