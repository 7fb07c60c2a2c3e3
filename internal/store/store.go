// Package store implements the materialized state store (spec.md §4.2): a
// merge-on-write cache keyed by (account, kind, key), with Redis-backed and
// in-memory implementations behind one Store contract.
package store

import (
	"context"

	"github.com/bitmex-bridge/node/internal/domain"
)

// Store is the State Store contract. Both MemoryStore and RedisStore
// satisfy it, and both must round-trip identical JSON-representable
// records.
type Store interface {
	SaveMargin(ctx context.Context, account string, m domain.Margin) error
	GetMargin(ctx context.Context, account, currency string) (domain.Margin, bool, error)
	GetMargins(ctx context.Context, account string) ([]domain.Margin, error)

	SaveTicker(ctx context.Context, account string, s domain.Symbol) error
	GetTicker(ctx context.Context, account, symbol string) (domain.Symbol, bool, error)
	GetTickers(ctx context.Context, account string) ([]domain.Symbol, error)

	SavePosition(ctx context.Context, account string, p domain.Position) error
	GetPosition(ctx context.Context, account, symbol string) (domain.Position, bool, error)
	GetPositions(ctx context.Context, account string) ([]domain.Position, error)

	SaveTrade(ctx context.Context, account string, t domain.OrderState) error
	GetTrade(ctx context.Context, account, orderID string) (domain.OrderState, bool, error)

	SaveOrder(ctx context.Context, account string, t domain.OrderState) error
	GetOrder(ctx context.Context, account, orderID string) (domain.OrderState, bool, error)
	GetOrders(ctx context.Context, account string) ([]domain.OrderState, error)
}
