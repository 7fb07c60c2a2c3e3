package domain

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

func TestDecodeOrder_SnakeCaseWire(t *testing.T) {
	raw := []byte(`{
		"symbol": "XBTUSD",
		"side": "BUY",
		"order_type": "LIMIT",
		"price": 50000.5,
		"percent": 10,
		"leverage": 3
	}`)

	o, err := DecodeOrder(raw)
	require.NoError(t, err)
	require.Equal(t, "XBTUSD", o.Symbol)
	require.Equal(t, SideBuy, o.Side)
	require.Equal(t, OrderTypeLimit, o.Type)
	require.Equal(t, int64(10), o.Percent)
	require.Equal(t, int64(3), o.Leverage)
	require.True(t, o.Price.Equal(decimal.NewFromFloat(50000.5)))
}

func TestDecodeOrder_CamelCaseWire(t *testing.T) {
	raw := []byte(`{
		"symbol": "ETHUSD",
		"side": "SELL",
		"orderType": "MARKET",
		"clOrderId": "abc123",
		"closeOrder": true
	}`)

	o, err := DecodeOrder(raw)
	require.NoError(t, err)
	require.Equal(t, "ETHUSD", o.Symbol)
	require.Equal(t, SideSell, o.Side)
	require.Equal(t, OrderTypeMarket, o.Type)
	require.Equal(t, "abc123", o.ClientOrderID)
	require.True(t, o.CloseOrder)
}

func TestDecodeOrder_MissingSymbol(t *testing.T) {
	_, err := DecodeOrder([]byte(`{"side":"BUY"}`))
	require.Error(t, err)
}

func TestDecodeOrder_StopFields(t *testing.T) {
	raw := []byte(`{
		"symbol": "XBTUSD",
		"side": "SELL",
		"order_type": "STOP",
		"stop_price": 48000,
		"stop_trigger_type": "MARK_PRICE"
	}`)

	o, err := DecodeOrder(raw)
	require.NoError(t, err)
	require.NotNil(t, o.StopPrice)
	require.True(t, o.StopPrice.Equal(decimal.NewFromInt(48000)))
	require.Equal(t, TriggerMarkPrice, o.StopTriggerType)
}

func TestOrderValidate(t *testing.T) {
	cases := []struct {
		name    string
		order   Order
		wantErr bool
	}{
		{
			name:  "limit order needs nothing extra",
			order: Order{Type: OrderTypeLimit},
		},
		{
			name:    "stop order without stop price is invalid",
			order:   Order{Type: OrderTypeStop},
			wantErr: true,
		},
		{
			name: "stop order with stop price is valid",
			order: Order{
				Type:      OrderTypeStop,
				StopPrice: decimalPtr(t, "100"),
			},
		},
		{
			name: "trailing percent without trigger type is invalid",
			order: Order{
				Type:                OrderTypeLimit,
				TrailingStopPercent: decimalPtr(t, "1.5"),
			},
			wantErr: true,
		},
		{
			name: "trailing percent with NONE trigger is invalid",
			order: Order{
				Type:                OrderTypeLimit,
				TrailingStopPercent: decimalPtr(t, "1.5"),
				StopTriggerType:     TriggerNone,
			},
			wantErr: true,
		},
		{
			name: "trailing percent with a real trigger is valid",
			order: Order{
				Type:                OrderTypeLimit,
				TrailingStopPercent: decimalPtr(t, "1.5"),
				StopTriggerType:     TriggerLastPrice,
			},
		},
	}

	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			err := c.order.Validate()
			if c.wantErr {
				require.Error(t, err)
			} else {
				require.NoError(t, err)
			}
		})
	}
}

func decimalPtr(t *testing.T, s string) *decimal.Decimal {
	t.Helper()
	d, err := decimal.NewFromString(s)
	require.NoError(t, err)
	return &d
}

func TestSentinelErrors(t *testing.T) {
	require.Equal(t, "invalid api keys for account acct-1", InvalidApiKeys{AccountID: "acct-1"}.Error())
	require.Equal(t, "wrong account: acct-1", WrongAccount{AccountID: "acct-1"}.Error())
	require.Equal(t, "wrong order: missing order id", WrongOrder{}.Error())
	require.Equal(t, "wrong order: ord-1", WrongOrder{OrderID: "ord-1"}.Error())
	require.Equal(t, "invalid message: bad body", InvalidMessage{Reason: "bad body"}.Error())
}
