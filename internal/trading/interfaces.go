package trading

import (
	"context"
	"errors"
	"strings"
)

// ErrClosed is returned by a transport after Close.
var ErrClosed = errors.New("transport closed")

// Order types accepted by NewOrder.
const (
	OrderTypeLimit  = "limit"
	OrderTypeMarket = "market"
)

// Transport is the exchange push-stream connection the account is built from.
type Transport interface {
	// Connect opens the connection. It may be called again after Done is closed.
	Connect(ctx context.Context) error

	// Authenticate subscribes the connection to the private account channel
	Authenticate(ctx context.Context) error

	// Orders, Wallets and Tickers deliver raw account and ticker messages.
	// The channels stay open across reconnects.
	Orders() <-chan Message
	Wallets() <-chan Message
	Tickers() <-chan Message

	// SubscribeTicker starts ticker updates for a symbol like "BTCUSD"
	SubscribeTicker(ctx context.Context, symbol string) error

	// UnsubscribeTicker stops ticker updates for a symbol
	UnsubscribeTicker(ctx context.Context, symbol string) error

	// NewOrder submits an order; confirmation arrives on Orders
	NewOrder(ctx context.Context, req *NewOrderRequest) error

	// CancelOrder requests cancellation; the close arrives on Orders
	CancelOrder(ctx context.Context, id int64) error

	// Done is closed when the current connection drops. Err reports why.
	Done() <-chan struct{}
	Err() error

	Close() error
}

// Message is a raw stream event: a command tag such as "on" or "tBTCUSD" and its JSON payload.
type Message struct {
	Command string
	Payload []byte
}

// NewOrderRequest 下单请求
type NewOrderRequest struct {
	ClientID  int64   // 客户端订单ID
	Symbol    string  // 交易对, e.g. BTCUSD
	Amount    float64 // 数量, 正数买入 负数卖出
	Price     float64 // 价格
	OrderType string  // market 或 limit
}

// ExchangeOrderType returns the exchange wallet order type, e.g. "EXCHANGE LIMIT".
func (r *NewOrderRequest) ExchangeOrderType() string {
	t := r.OrderType
	if t == "" {
		t = OrderTypeLimit
	}
	return "EXCHANGE " + strings.ToUpper(t)
}
