package exchange

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
)

// Streaming tuning constants, grounded on polymarket-mm's WSFeed
// (internal/exchange/ws.go in the retrieval pack): exponential reconnect
// backoff capped at 30s, and a read deadline so a silently dead connection
// is detected rather than hanging forever.
const (
	minReconnectWait = time.Second
	maxReconnectWait = 30 * time.Second
	readDeadline     = 90 * time.Second
	bufferSize       = 256
)

// feed is one subscribed channel (balance, positions, tickers, orders,
// my-trades). It owns a single WebSocket connection, auto-reconnecting
// with backoff, and a buffered channel of raw frames for the fan-out loop
// to consume.
type feed struct {
	name    string
	url     string
	logger  *slog.Logger
	frames  chan []byte
	running int32
}

func newFeed(name, url string, logger *slog.Logger) *feed {
	return &feed{
		name:   name,
		url:    url,
		logger: logger.With(slog.String("stream", name)),
		frames: make(chan []byte, bufferSize),
	}
}

// Frames returns the channel the fan-out loop reads from.
func (f *feed) Frames() <-chan []byte {
	return f.frames
}

// Run connects and reconnects with exponential backoff until ctx is
// cancelled. Each successful frame is pushed to Frames(); a dropped
// connection re-dials rather than terminating the loop — matching
// spec.md §4.4's "network-class error inside the loop is caught and the
// loop re-enters the wait".
func (f *feed) Run(ctx context.Context) {
	atomic.StoreInt32(&f.running, 1)
	defer atomic.StoreInt32(&f.running, 0)

	backoff := minReconnectWait
	for {
		if ctx.Err() != nil {
			return
		}

		conn, _, err := websocket.DefaultDialer.DialContext(ctx, f.url, nil)
		if err != nil {
			f.logger.Warn("websocket dial failed, backing off", slog.Any("error", err), slog.Duration("backoff", backoff))
			if !sleepOrDone(ctx, backoff) {
				return
			}
			backoff = nextBackoff(backoff)
			continue
		}
		backoff = minReconnectWait

		f.readLoop(ctx, conn)
		conn.Close()
	}
}

func (f *feed) readLoop(ctx context.Context, conn *websocket.Conn) {
	for {
		if ctx.Err() != nil {
			return
		}
		conn.SetReadDeadline(time.Now().Add(readDeadline))
		_, data, err := conn.ReadMessage()
		if err != nil {
			f.logger.Warn("websocket read failed, reconnecting", slog.Any("error", err))
			return
		}

		select {
		case f.frames <- data:
		case <-ctx.Done():
			return
		default:
			f.logger.Warn("frame buffer full, dropping oldest")
			select {
			case <-f.frames:
			default:
			}
			f.frames <- data
		}
	}
}

// Watching reports whether the feed's read loop is currently active, the
// "watching" flag referenced throughout spec.md §4.4/§4.6/§5.
func (f *feed) Watching() bool {
	return atomic.LoadInt32(&f.running) == 1
}

func sleepOrDone(ctx context.Context, d time.Duration) bool {
	select {
	case <-time.After(d):
		return true
	case <-ctx.Done():
		return false
	}
}

func nextBackoff(current time.Duration) time.Duration {
	next := current * 2
	if next > maxReconnectWait {
		return maxReconnectWait
	}
	return next
}

// Streams bundles the five long-lived subscriptions spec.md §4.4 names.
type Streams struct {
	Balance   *feed
	Positions *feed
	Tickers   *feed
	Orders    *feed
	MyTrades  *feed
}

// WatchAll dials the five streaming channels and starts their reconnect
// loops under ctx. Cancelling ctx stops every loop — the mechanism the
// Account Lifecycle uses to clear "watching" on disconnect (spec.md §4.6).
func (c *Client) WatchAll(ctx context.Context, wsBaseURL string) *Streams {
	s := &Streams{
		Balance:   newFeed("balance", wsBaseURL+"?subscribe=margin", c.logger),
		Positions: newFeed("positions", wsBaseURL+"?subscribe=position", c.logger),
		Tickers:   newFeed("tickers", wsBaseURL+"?subscribe=instrument", c.logger),
		Orders:    newFeed("orders", wsBaseURL+"?subscribe=order", c.logger),
		MyTrades:  newFeed("my_trades", wsBaseURL+"?subscribe=execution", c.logger),
	}
	go s.Balance.Run(ctx)
	go s.Positions.Run(ctx)
	go s.Tickers.Run(ctx)
	go s.Orders.Run(ctx)
	go s.MyTrades.Run(ctx)
	return s
}
