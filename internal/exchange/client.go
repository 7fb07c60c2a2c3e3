package exchange

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/bitmex-bridge/node/internal/metrics"
	"github.com/bitmex-bridge/node/internal/retry"
)

// Client is the node's façade over the exchange library (the actual
// REST/WebSocket framing and request signing are out of scope, per
// spec.md §1; this package wraps whatever BitMEX-class client satisfies
// the shape below). It wraps a resty HTTP client with the REST snapshot
// and action calls spec.md §4.3 names.
type Client struct {
	http    *resty.Client
	baseURL string
	logger  *slog.Logger
	metric  *metrics.Metrics

	apiKey    string
	apiSecret string
	sandbox   bool
}

// NewClient builds a REST client with a 30s timeout (spec.md §5) and
// transport-level retry on 5xx, following polymarket-mm's resty
// configuration (internal/exchange/client.go in the retrieval pack). metric
// may be nil, in which case per-call counters are skipped (used by tests
// that build a Client directly).
func NewClient(baseURL string, logger *slog.Logger, metric *metrics.Metrics) *Client {
	httpClient := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(30 * time.Second).
		SetRetryCount(2).
		SetRetryWaitTime(200 * time.Millisecond).
		AddRetryCondition(func(r *resty.Response, err error) bool {
			if err != nil {
				return true
			}
			return r.StatusCode() >= 500
		})

	return &Client{http: httpClient, baseURL: baseURL, logger: logger, metric: metric}
}

// track records the outcome of one exchange call against ExchangeCallTotal.
func (c *Client) track(method string, body []byte, err error) ([]byte, error) {
	if c.metric != nil {
		outcome := "ok"
		if err != nil {
			outcome = "error"
		}
		c.metric.ExchangeCallTotal.WithLabelValues(method, outcome).Inc()
	}
	return body, err
}

// Connect authenticates the client for account-scoped calls. sandbox
// selects the exchange's test network per spec.md §4.6.
func (c *Client) Connect(ctx context.Context, apiKey, apiSecret string, sandbox bool) error {
	c.apiKey = apiKey
	c.apiSecret = apiSecret
	c.sandbox = sandbox
	c.http.SetHeader("api-key", apiKey)

	_, err := c.FetchBalance(ctx)
	return err
}

func (c *Client) authed(ctx context.Context) *resty.Request {
	return c.http.R().SetContext(ctx)
}

// FetchBalance fetches the account's wallet/margin snapshot.
func (c *Client) FetchBalance(ctx context.Context) ([]byte, error) {
	resp, err := c.authed(ctx).Get("/user/margin")
	body, err := bodyOrError(resp, err)
	return c.track("FetchBalance", body, err)
}

// FetchPositions fetches the account's open positions.
func (c *Client) FetchPositions(ctx context.Context) ([]byte, error) {
	resp, err := c.authed(ctx).Get("/position")
	body, err := bodyOrError(resp, err)
	return c.track("FetchPositions", body, err)
}

// FetchOrders fetches historical orders, newest first when reverse is set.
func (c *Client) FetchOrders(ctx context.Context, limit int, reverse bool) ([]byte, error) {
	resp, err := c.authed(ctx).
		SetQueryParam("count", fmt.Sprintf("%d", limit)).
		SetQueryParam("reverse", fmt.Sprintf("%t", reverse)).
		Get("/order")
	body, err := bodyOrError(resp, err)
	return c.track("FetchOrders", body, err)
}

// FetchTickers fetches the active instrument set.
func (c *Client) FetchTickers(ctx context.Context) ([]byte, error) {
	resp, err := c.authed(ctx).Get("/instrument/active")
	body, err := bodyOrError(resp, err)
	return c.track("FetchTickers", body, err)
}

// CreateOrderParams is the wire payload for a raw order placement call.
type CreateOrderParams struct {
	Symbol         string
	Side           string
	OrderType      string
	Quantity       string
	Price          string
	ClOrdID        string
	StopPx         string
	ExecInst       string
	PegPriceType   string
	PegOffsetValue string
}

// CreateOrder places an order of any type, retried per the BitMEX policy
// (spec.md §4.3): up to 3 attempts, jittered 5-20s backoff, aborted
// immediately on a fatal error class. Success is "a non-empty status
// field"; anything else is treated as a retryable anomaly even on HTTP 200.
func (c *Client) CreateOrder(ctx context.Context, p CreateOrderParams) ([]byte, error) {
	policy := retry.Default(IsFatal)
	body, err := retry.Do(ctx, policy, func(ctx context.Context) ([]byte, error) {
		req := c.authed(ctx).
			SetFormData(map[string]string{
				"symbol":  p.Symbol,
				"side":    p.Side,
				"ordType": p.OrderType,
				"orderQty": p.Quantity,
			})
		if p.Price != "" {
			req.SetFormData(map[string]string{"price": p.Price})
		}
		if p.ClOrdID != "" {
			req.SetFormData(map[string]string{"clOrdID": p.ClOrdID})
		}
		if p.StopPx != "" {
			req.SetFormData(map[string]string{"stopPx": p.StopPx})
		}
		if p.ExecInst != "" {
			req.SetFormData(map[string]string{"execInst": p.ExecInst})
		}
		if p.PegPriceType != "" {
			req.SetFormData(map[string]string{"pegPriceType": p.PegPriceType})
		}
		if p.PegOffsetValue != "" {
			req.SetFormData(map[string]string{"pegOffsetValue": p.PegOffsetValue})
		}

		resp, err := req.Post("/order")
		body, err := bodyOrError(resp, err)
		if err != nil {
			return nil, err
		}
		if !hasNonEmptyField(body, "ordStatus", "status") {
			return nil, domainTransient("order response missing status")
		}
		return body, nil
	})
	return c.track("CreateOrder", body, err)
}

// CreateLimitOrder places a LIMIT (or STOP, which also carries a limit
// price) order.
func (c *Client) CreateLimitOrder(ctx context.Context, p CreateOrderParams) ([]byte, error) {
	if p.OrderType == "" {
		p.OrderType = "Limit"
	}
	return c.CreateOrder(ctx, p)
}

// CreateMarketOrder places a MARKET order.
func (c *Client) CreateMarketOrder(ctx context.Context, p CreateOrderParams) ([]byte, error) {
	p.OrderType = "Market"
	p.Price = ""
	return c.CreateOrder(ctx, p)
}

// CancelOrder cancels a single order by id.
func (c *Client) CancelOrder(ctx context.Context, orderID string) ([]byte, error) {
	policy := retry.Default(IsFatal)
	body, err := retry.Do(ctx, policy, func(ctx context.Context) ([]byte, error) {
		resp, err := c.authed(ctx).
			SetQueryParam("orderID", orderID).
			Delete("/order")
		return bodyOrError(resp, err)
	})
	return c.track("CancelOrder", body, err)
}

// SetPositionLeverage sets leverage for a symbol. Success is "a non-null
// leverage field"; per spec.md §9's open question, 0 is accepted as valid
// for cross-margin accounts — the predicate only checks presence, not
// non-zero-ness.
func (c *Client) SetPositionLeverage(ctx context.Context, symbol string, leverage int64) ([]byte, error) {
	policy := retry.Default(IsFatal)
	body, err := retry.Do(ctx, policy, func(ctx context.Context) ([]byte, error) {
		resp, err := c.authed(ctx).
			SetFormData(map[string]string{
				"symbol":   symbol,
				"leverage": fmt.Sprintf("%d", leverage),
			}).
			Post("/position/leverage")
		body, err := bodyOrError(resp, err)
		if err != nil {
			return nil, err
		}
		if !hasField(body, "leverage") {
			return nil, domainTransient("leverage response missing leverage field")
		}
		return body, nil
	})
	return c.track("SetPositionLeverage", body, err)
}

// SafeSymbol normalizes a raw symbol string the way the exchange library's
// safe_symbol helper does: trims whitespace and upper-cases it.
func (c *Client) SafeSymbol(raw string) string {
	return strings.ToUpper(strings.TrimSpace(raw))
}

func bodyOrError(resp *resty.Response, err error) ([]byte, error) {
	if err != nil {
		return nil, domainTransient(err.Error())
	}
	if resp.StatusCode() >= 400 {
		return nil, ParseError(resp.String())
	}
	if resp.StatusCode() != http.StatusOK && resp.StatusCode() != http.StatusCreated {
		return nil, domainTransient(fmt.Sprintf("unexpected status %d", resp.StatusCode()))
	}
	return resp.Body(), nil
}
