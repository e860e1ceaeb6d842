package rest

import (
	"context"
	"errors"
)

var (
	// ErrRateLimited is returned when the exchange answers 429.
	ErrRateLimited = errors.New("rate limited")
	// ErrNotFound is returned when the exchange does not know the order or symbol.
	ErrNotFound = errors.New("not found")
)

// Client is the synchronous REST side of an exchange account.
type Client interface {
	// Balances returns exchange wallet balances available for trading, keyed by
	// lower-case currency ("usd" for the quote currency).
	Balances(ctx context.Context) (map[string]float64, error)

	// OrderStatus returns the current state of an order
	OrderStatus(ctx context.Context, symbol string, id int64) (*OrderStatus, error)

	// Ticker returns the last traded price of a symbol like "BTCUSD"
	Ticker(ctx context.Context, symbol string) (float64, error)

	// Symbols returns the tradable USD quoted symbols, upper-case
	Symbols(ctx context.Context) ([]string, error)
}

// OrderStatus 订单状态查询结果
type OrderStatus struct {
	ID            int64   `json:"id"`
	Symbol        string  `json:"symbol"`
	Price         float64 `json:"price"`
	ExecutedPrice float64 `json:"executed_price"`
	// Amount and Executed are signed, positive buys.
	Amount    float64 `json:"amount"`
	Executed  float64 `json:"executed"`
	Remaining float64 `json:"remaining"`
	Live      bool    `json:"live"`
	Cancelled bool    `json:"cancelled"`
}

// FilledRatio returns the executed fraction of the order.
func (s *OrderStatus) FilledRatio() float64 {
	if s.Amount == 0 {
		return 0
	}
	return s.Executed / s.Amount
}
