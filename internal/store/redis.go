package store

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/bitmex-bridge/node/internal/canonical"
	"github.com/bitmex-bridge/node/internal/domain"
)

// RedisStore is the Redis-backed Store implementation: one hash per
// (account, kind), field = natural key, value = canonical JSON.
type RedisStore struct {
	client *redis.Client
}

// NewRedis constructs a RedisStore over an existing client. The caller owns
// the client's lifecycle (opened in bootstrap, closed in teardown, per
// spec.md §5).
func NewRedis(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

func hashKey(account string, kind domain.Kind) string {
	return fmt.Sprintf("bitmex:%s:%s", account, kind)
}

func (s *RedisStore) readMerge(ctx context.Context, account string, kind domain.Kind, field string, next interface{}, merge func(existingRaw []byte) (interface{}, error)) error {
	key := hashKey(account, kind)
	existingRaw, err := s.client.HGet(ctx, key, field).Bytes()
	if err != nil && err != redis.Nil {
		return err
	}

	merged := next
	if err == nil {
		merged, err = merge(existingRaw)
		if err != nil {
			return err
		}
	}

	raw, err := canonical.Marshal(merged)
	if err != nil {
		return err
	}
	return s.client.HSet(ctx, key, field, raw).Err()
}

func (s *RedisStore) SaveMargin(ctx context.Context, account string, m domain.Margin) error {
	return s.readMerge(ctx, account, domain.KindMargin, m.Currency, m, func(existingRaw []byte) (interface{}, error) {
		var existing domain.Margin
		if err := json.Unmarshal(existingRaw, &existing); err != nil {
			return nil, err
		}
		return existing.Merge(m), nil
	})
}

func (s *RedisStore) GetMargin(ctx context.Context, account, currency string) (domain.Margin, bool, error) {
	var m domain.Margin
	raw, err := s.client.HGet(ctx, hashKey(account, domain.KindMargin), currency).Bytes()
	if err == redis.Nil {
		return m, false, nil
	}
	if err != nil {
		return m, false, err
	}
	if err := json.Unmarshal(raw, &m); err != nil {
		return m, false, err
	}
	return m, true, nil
}

func (s *RedisStore) GetMargins(ctx context.Context, account string) ([]domain.Margin, error) {
	all, err := s.client.HGetAll(ctx, hashKey(account, domain.KindMargin)).Result()
	if err != nil {
		return nil, err
	}
	out := make([]domain.Margin, 0, len(all))
	for _, raw := range all {
		var m domain.Margin
		if err := json.Unmarshal([]byte(raw), &m); err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, nil
}

func (s *RedisStore) SaveTicker(ctx context.Context, account string, sym domain.Symbol) error {
	key := hashKey(account, domain.KindTicker)
	if !sym.IsOpen() {
		return s.client.HDel(ctx, key, sym.Symbol).Err()
	}
	raw, err := canonical.Marshal(sym)
	if err != nil {
		return err
	}
	return s.client.HSet(ctx, key, sym.Symbol, raw).Err()
}

func (s *RedisStore) GetTicker(ctx context.Context, account, symbol string) (domain.Symbol, bool, error) {
	var sym domain.Symbol
	raw, err := s.client.HGet(ctx, hashKey(account, domain.KindTicker), symbol).Bytes()
	if err == redis.Nil {
		return sym, false, nil
	}
	if err != nil {
		return sym, false, err
	}
	if err := json.Unmarshal(raw, &sym); err != nil {
		return sym, false, err
	}
	return sym, true, nil
}

func (s *RedisStore) GetTickers(ctx context.Context, account string) ([]domain.Symbol, error) {
	all, err := s.client.HGetAll(ctx, hashKey(account, domain.KindTicker)).Result()
	if err != nil {
		return nil, err
	}
	out := make([]domain.Symbol, 0, len(all))
	for _, raw := range all {
		var sym domain.Symbol
		if err := json.Unmarshal([]byte(raw), &sym); err != nil {
			return nil, err
		}
		out = append(out, sym)
	}
	return out, nil
}

func (s *RedisStore) SavePosition(ctx context.Context, account string, p domain.Position) error {
	return s.readMerge(ctx, account, domain.KindPosition, p.Symbol, p, func(existingRaw []byte) (interface{}, error) {
		var existing domain.Position
		if err := json.Unmarshal(existingRaw, &existing); err != nil {
			return nil, err
		}
		return existing.Merge(p), nil
	})
}

func (s *RedisStore) GetPosition(ctx context.Context, account, symbol string) (domain.Position, bool, error) {
	var p domain.Position
	raw, err := s.client.HGet(ctx, hashKey(account, domain.KindPosition), symbol).Bytes()
	if err == redis.Nil {
		return p, false, nil
	}
	if err != nil {
		return p, false, err
	}
	if err := json.Unmarshal(raw, &p); err != nil {
		return p, false, err
	}
	return p, true, nil
}

func (s *RedisStore) GetPositions(ctx context.Context, account string) ([]domain.Position, error) {
	all, err := s.client.HGetAll(ctx, hashKey(account, domain.KindPosition)).Result()
	if err != nil {
		return nil, err
	}
	out := make([]domain.Position, 0, len(all))
	for _, raw := range all {
		var p domain.Position
		if err := json.Unmarshal([]byte(raw), &p); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, nil
}

func (s *RedisStore) SaveTrade(ctx context.Context, account string, t domain.OrderState) error {
	return s.readMerge(ctx, account, domain.KindTrade, t.OrderID, t, func(existingRaw []byte) (interface{}, error) {
		var existing domain.OrderState
		if err := json.Unmarshal(existingRaw, &existing); err != nil {
			return nil, err
		}
		return existing.Merge(t), nil
	})
}

func (s *RedisStore) GetTrade(ctx context.Context, account, orderID string) (domain.OrderState, bool, error) {
	var t domain.OrderState
	raw, err := s.client.HGet(ctx, hashKey(account, domain.KindTrade), orderID).Bytes()
	if err == redis.Nil {
		return t, false, nil
	}
	if err != nil {
		return t, false, err
	}
	if err := json.Unmarshal(raw, &t); err != nil {
		return t, false, err
	}
	return t, true, nil
}

func (s *RedisStore) SaveOrder(ctx context.Context, account string, t domain.OrderState) error {
	return s.readMerge(ctx, account, domain.KindOrder, t.OrderID, t, func(existingRaw []byte) (interface{}, error) {
		var existing domain.OrderState
		if err := json.Unmarshal(existingRaw, &existing); err != nil {
			return nil, err
		}
		return existing.Merge(t), nil
	})
}

func (s *RedisStore) GetOrder(ctx context.Context, account, orderID string) (domain.OrderState, bool, error) {
	var t domain.OrderState
	raw, err := s.client.HGet(ctx, hashKey(account, domain.KindOrder), orderID).Bytes()
	if err == redis.Nil {
		return t, false, nil
	}
	if err != nil {
		return t, false, err
	}
	if err := json.Unmarshal(raw, &t); err != nil {
		return t, false, err
	}
	return t, true, nil
}

func (s *RedisStore) GetOrders(ctx context.Context, account string) ([]domain.OrderState, error) {
	all, err := s.client.HGetAll(ctx, hashKey(account, domain.KindOrder)).Result()
	if err != nil {
		return nil, err
	}
	out := make([]domain.OrderState, 0, len(all))
	for _, raw := range all {
		var t domain.OrderState
		if err := json.Unmarshal([]byte(raw), &t); err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, nil
}

var _ Store = (*RedisStore)(nil)
var _ Store = (*MemoryStore)(nil)
