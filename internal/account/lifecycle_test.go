package account

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/bitmex-bridge/node/internal/bus"
	"github.com/bitmex-bridge/node/internal/domain"
	"github.com/bitmex-bridge/node/internal/exchange"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeClient struct {
	connectErr error
}

func (f *fakeClient) Connect(ctx context.Context, apiKey, apiSecret string, sandbox bool) error {
	return f.connectErr
}

func (f *fakeClient) FetchBalance(ctx context.Context) ([]byte, error) {
	return []byte(`{"currency":"XBt","availableMargin":100000000}`), nil
}

func (f *fakeClient) FetchPositions(ctx context.Context) ([]byte, error) {
	return []byte(`[]`), nil
}

func (f *fakeClient) FetchOrders(ctx context.Context, limit int, reverse bool) ([]byte, error) {
	body, _ := json.Marshal([]map[string]interface{}{
		{"orderID": "o1", "symbol": "XBTUSD", "ordStatus": "Filled", "orderQty": 100},
	})
	return body, nil
}

func (f *fakeClient) WatchAll(ctx context.Context, wsBaseURL string) *exchange.Streams {
	return &exchange.Streams{}
}

func newHarness(connectErr error) (*Lifecycle, *bus.Bus) {
	b := bus.New(testLogger())
	lc := New(func() Client { return &fakeClient{connectErr: connectErr} }, b, testLogger(), "wss://example.invalid/realtime", nil)
	return lc, b
}

func TestCreateAccountTransitionsToConnected(t *testing.T) {
	lc, b := newHarness(nil)

	var createdEvents []bool
	b.Register(bus.AccountCreatedEvent, func(payload ...interface{}) {
		if len(payload) >= 2 {
			if ok, isBool := payload[1].(bool); isBool {
				createdEvents = append(createdEvents, ok)
			}
		}
	}, 0)

	err := lc.CreateAccount(context.Background(), domain.AccountBinding{AccountID: "acct1", APIKey: "k", APISecret: "s"}, true)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !lc.Connected() {
		t.Fatalf("expected lifecycle to be CONNECTED")
	}

	time.Sleep(20 * time.Millisecond)
	if len(createdEvents) != 1 || !createdEvents[0] {
		t.Fatalf("expected one successful account_created_event, got %v", createdEvents)
	}

	if err := lc.DeleteAccount(context.Background(), "acct1", time.Now().Add(time.Hour)); err != nil {
		t.Fatalf("unexpected delete error: %v", err)
	}
}

func TestCreateAccountInvalidApiKeysStaysDisconnected(t *testing.T) {
	lc, b := newHarness(fmt.Errorf("401 unauthorized"))

	var gotFailure bool
	b.Register(bus.AccountCreatedEvent, func(payload ...interface{}) {
		if len(payload) >= 2 {
			if ok, isBool := payload[1].(bool); isBool && !ok {
				gotFailure = true
			}
		}
	}, 0)

	err := lc.CreateAccount(context.Background(), domain.AccountBinding{AccountID: "acct1", APIKey: "k", APISecret: "s"}, true)
	if err == nil {
		t.Fatalf("expected an error")
	}
	if _, ok := err.(domain.InvalidApiKeys); !ok {
		t.Fatalf("expected InvalidApiKeys, got %T", err)
	}
	if lc.Connected() {
		t.Fatalf("expected lifecycle to remain DISCONNECTED")
	}

	time.Sleep(20 * time.Millisecond)
	if !gotFailure {
		t.Fatalf("expected a failed account_created_event")
	}
}

func TestDeleteAccountRejectsWrongAccount(t *testing.T) {
	lc, _ := newHarness(nil)
	if err := lc.CreateAccount(context.Background(), domain.AccountBinding{AccountID: "acct1"}, true); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	err := lc.DeleteAccount(context.Background(), "other", time.Now())
	if _, ok := err.(domain.WrongAccount); !ok {
		t.Fatalf("expected WrongAccount, got %v", err)
	}
	if !lc.Connected() {
		t.Fatalf("expected lifecycle to remain CONNECTED after a mismatched delete")
	}
}

func TestDeleteAccountIgnoresStaleTimestamp(t *testing.T) {
	lc, _ := newHarness(nil)
	if err := lc.CreateAccount(context.Background(), domain.AccountBinding{AccountID: "acct1"}, true); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	err := lc.DeleteAccount(context.Background(), "acct1", time.Now().Add(-time.Hour))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !lc.Connected() {
		t.Fatalf("expected lifecycle to remain CONNECTED after a stale delete")
	}
}

func TestUpdateAccountRejectsWrongAccount(t *testing.T) {
	lc, _ := newHarness(nil)
	if err := lc.CreateAccount(context.Background(), domain.AccountBinding{AccountID: "acct1"}, true); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	err := lc.UpdateAccount(context.Background(), domain.AccountBinding{AccountID: "other"}, true)
	if _, ok := err.(domain.WrongAccount); !ok {
		t.Fatalf("expected WrongAccount, got %v", err)
	}
}
