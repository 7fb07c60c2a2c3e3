// Package account implements the single-account connection lifecycle
// (spec.md §4.6): a DISCONNECTED/CONNECTED state machine owning one
// exchange client, the State Store snapshot warm-up, and the five
// long-lived stream tasks plus the heartbeat.
package account

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/bitmex-bridge/node/internal/bus"
	"github.com/bitmex-bridge/node/internal/domain"
	"github.com/bitmex-bridge/node/internal/exchange"
	"github.com/bitmex-bridge/node/internal/metrics"
)

// Client is the exchange surface the lifecycle drives. exchange.Client
// satisfies it; tests substitute a fake that never dials a network.
type Client interface {
	Connect(ctx context.Context, apiKey, apiSecret string, sandbox bool) error
	FetchBalance(ctx context.Context) ([]byte, error)
	FetchPositions(ctx context.Context) ([]byte, error)
	FetchOrders(ctx context.Context, limit int, reverse bool) ([]byte, error)
	WatchAll(ctx context.Context, wsBaseURL string) *exchange.Streams
}

// ClientFactory builds a fresh Client for each CreateAccount/UpdateAccount
// transition, mirroring the teacher's per-request client construction.
type ClientFactory func() Client

const (
	historicalOrdersLimit = 500
	heartbeatInterval     = 5 * time.Second
)

// Lifecycle owns the single AccountBinding this process serves and the
// tasks that are alive while CONNECTED. Only Lifecycle mutates its
// account/watching state, per spec.md §5's shared-mutable-state note.
type Lifecycle struct {
	newClient ClientFactory
	bus       *bus.Bus
	logger    *slog.Logger
	wsBaseURL string
	metric    *metrics.Metrics

	mu       sync.Mutex
	account  *domain.AccountBinding
	client   Client
	watching bool
	cancel   context.CancelFunc
	wg       sync.WaitGroup
}

// New constructs a Lifecycle in the DISCONNECTED state. metric may be nil,
// in which case the stream fan-out it hands to Fanout skips per-channel
// counters.
func New(newClient ClientFactory, b *bus.Bus, logger *slog.Logger, wsBaseURL string, metric *metrics.Metrics) *Lifecycle {
	return &Lifecycle{newClient: newClient, bus: b, logger: logger, wsBaseURL: wsBaseURL, metric: metric}
}

// Connected reports whether an account is currently bound and watching.
func (l *Lifecycle) Connected() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.watching
}

// CreateAccount implements the DISCONNECTED->CONNECTED transition:
// connect, snapshot, start the five stream loops and the heartbeat.
// Authentication failure leaves the lifecycle DISCONNECTED and publishes
// account_created_event with success:false, per spec.md §4.6/§7.
func (l *Lifecycle) CreateAccount(ctx context.Context, binding domain.AccountBinding, sandbox bool) error {
	l.mu.Lock()
	if l.watching {
		l.mu.Unlock()
		return domain.WrongAccount{AccountID: binding.AccountID}
	}
	l.mu.Unlock()

	client := l.newClient()
	if err := client.Connect(ctx, binding.APIKey, binding.APISecret, sandbox); err != nil {
		invalid := domain.InvalidApiKeys{AccountID: binding.AccountID}
		l.bus.Publish(bus.AccountCreatedEvent, binding.AccountID, false, invalid.Error())
		return invalid
	}

	if err := l.warmUp(ctx, binding.AccountID, client); err != nil {
		l.bus.Publish(bus.AccountCreatedEvent, binding.AccountID, false, err.Error())
		return err
	}

	streamCtx, cancel := context.WithCancel(context.Background())

	l.mu.Lock()
	binding.StartTime = time.Now()
	l.account = &binding
	l.client = client
	l.cancel = cancel
	l.watching = true
	l.mu.Unlock()

	l.startTasks(streamCtx, binding.AccountID, client)
	l.bus.Publish(bus.AccountCreatedEvent, binding.AccountID, true, nil)
	return nil
}

// UpdateAccount re-connects the bound account with new credentials. A
// mismatching account id is rejected with WrongAccount, per spec.md §4.6.
func (l *Lifecycle) UpdateAccount(ctx context.Context, binding domain.AccountBinding, sandbox bool) error {
	l.mu.Lock()
	current := l.account
	l.mu.Unlock()
	if current == nil || current.AccountID != binding.AccountID {
		return domain.WrongAccount{AccountID: binding.AccountID}
	}

	if err := l.disconnect(); err != nil {
		return err
	}
	if err := l.CreateAccount(ctx, binding, sandbox); err != nil {
		return err
	}
	l.bus.Publish(bus.AccountUpdatedEvent, binding.AccountID, true, nil)
	return nil
}

// DeleteAccount implements the CONNECTED->DISCONNECTED transition. A
// delete older than the account's start_time is a stale no-op, per
// spec.md §4.6.
func (l *Lifecycle) DeleteAccount(ctx context.Context, accountID string, messageTimestamp time.Time) error {
	l.mu.Lock()
	current := l.account
	l.mu.Unlock()

	if current == nil || current.AccountID != accountID {
		return domain.WrongAccount{AccountID: accountID}
	}
	if messageTimestamp.Before(current.StartTime) {
		return nil
	}

	if err := l.disconnect(); err != nil {
		return err
	}
	l.bus.Publish(bus.AccountDeletedEvent, accountID, true, nil)
	return nil
}

func (l *Lifecycle) disconnect() error {
	l.mu.Lock()
	cancel := l.cancel
	l.watching = false
	l.account = nil
	l.client = nil
	l.cancel = nil
	l.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	l.wg.Wait()
	return nil
}

// warmUp performs the three REST snapshots and emits the corresponding
// stream events plus one order_updated_event per historical order, per
// spec.md §4.6.
func (l *Lifecycle) warmUp(ctx context.Context, accountID string, client Client) error {
	balanceBody, err := client.FetchBalance(ctx)
	if err != nil {
		return fmt.Errorf("fetch balance: %w", err)
	}
	margin, err := domain.DecodeMargin(balanceBody)
	if err != nil {
		return fmt.Errorf("decode balance: %w", err)
	}
	l.bus.Publish(bus.MarginsUpdatedEvent, accountID, *margin)

	positionsBody, err := client.FetchPositions(ctx)
	if err != nil {
		return fmt.Errorf("fetch positions: %w", err)
	}
	for _, raw := range jsonItems(positionsBody) {
		pos, err := domain.DecodePosition(raw)
		if err != nil {
			l.logger.Warn("decode position snapshot failed", slog.Any("error", err))
			continue
		}
		l.bus.Publish(bus.PositionsUpdatedEvent, accountID, *pos)
	}

	ordersBody, err := client.FetchOrders(ctx, historicalOrdersLimit, true)
	if err != nil {
		return fmt.Errorf("fetch orders: %w", err)
	}
	for _, raw := range jsonItems(ordersBody) {
		ord, err := domain.DecodeOrderState(raw)
		if err != nil {
			l.logger.Warn("decode historical order failed", slog.Any("error", err))
			continue
		}
		l.bus.Publish(bus.OrderUpdatedEvent, accountID, *ord)
	}

	return nil
}

// startTasks spawns the six long-lived tasks spec.md §5 names: the five
// stream loops (bundled as one Fanout.Run) and the heartbeat. All six
// observe streamCtx and exit together on cancellation.
func (l *Lifecycle) startTasks(streamCtx context.Context, accountID string, client Client) {
	streams := client.WatchAll(streamCtx, l.wsBaseURL)
	fanout := exchange.NewFanout(accountID, l.bus, l.logger, l.metric)

	l.wg.Add(2)
	go func() {
		defer l.wg.Done()
		fanout.Run(streamCtx, streams)
	}()
	go func() {
		defer l.wg.Done()
		l.heartbeat(streamCtx, accountID)
	}()
}

// heartbeat publishes bus.AccountHeartbeat every 5s while streamCtx is
// alive; the AMQP Queue Manager forwards each tick to
// bitmex.event.account.heartbeat with a 20s message TTL.
func (l *Lifecycle) heartbeat(streamCtx context.Context, accountID string) {
	ticker := time.NewTicker(heartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-streamCtx.Done():
			return
		case <-ticker.C:
			l.bus.Publish(bus.AccountHeartbeat, accountID)
		}
	}
}

// jsonItems splits a REST snapshot body into its constituent JSON objects,
// accepting either a bare object or an array — mirroring the fan-out
// package's tolerance for both wire shapes.
func jsonItems(body []byte) []json.RawMessage {
	var arr []json.RawMessage
	if err := json.Unmarshal(body, &arr); err == nil {
		return arr
	}
	return []json.RawMessage{body}
}
