package models

import (
	"strings"
	"time"
)

// OrderStatus 订单状态
type OrderStatus string

const (
	StatusActive            OrderStatus = "ACTIVE"
	StatusPartiallyExecuted OrderStatus = "PARTIALLY_EXECUTED"
	StatusExecuted          OrderStatus = "EXECUTED"
	StatusCancelled         OrderStatus = "CANCELLED"
)

// Order is an exchange order as seen through the account stream.
// Amount, Executed and Remaining are signed: positive buys, negative sells.
type Order struct {
	ID            int64       `json:"id"`
	Symbol        string      `json:"symbol"`
	Price         float64     `json:"price"`
	ExecutedPrice float64     `json:"executed_price"`
	Amount        float64     `json:"amount"`
	Executed      float64     `json:"executed"`
	Remaining     float64     `json:"remaining"`
	Status        OrderStatus `json:"status"`
	Timestamp     time.Time   `json:"timestamp"`
}

// IsBuy reports whether the order buys the base currency.
func (o Order) IsBuy() bool {
	return o.Amount > 0
}

// ExecutedOrder is an entry of the executed-orders history.
// Seq grows monotonically with every append and is never reused.
type ExecutedOrder struct {
	Seq   uint64 `json:"seq"`
	Order Order  `json:"order"`
}

// IsCancelStatus reports whether a raw exchange status word denotes a cancellation.
func IsCancelStatus(word string) bool {
	return strings.HasPrefix(strings.ToUpper(word), "CANCEL")
}

// ParseStatus maps the leading word of an exchange status string to an OrderStatus.
// Only the first word is inspected, e.g. "EXECUTED @ 15000.0(0.01)" -> EXECUTED.
// Unknown words on a closing event count as an execution, otherwise as active.
func ParseStatus(raw string, closing bool) OrderStatus {
	word := strings.ToUpper(LeadingWord(raw))
	switch {
	case IsCancelStatus(word):
		return StatusCancelled
	case word == "EXECUTED":
		return StatusExecuted
	case word == "PARTIALLY":
		if closing {
			return StatusExecuted
		}
		return StatusPartiallyExecuted
	case word == "ACTIVE":
		if closing {
			return StatusExecuted
		}
		return StatusActive
	}
	if closing {
		return StatusExecuted
	}
	return StatusActive
}

// LeadingWord returns the first whitespace separated word of s.
func LeadingWord(s string) string {
	fields := strings.Fields(s)
	if len(fields) == 0 {
		return ""
	}
	return fields[0]
}

// BaseCurrency returns the lower-case wallet currency traded by a USD symbol,
// e.g. "BTCUSD" -> "btc".
func BaseCurrency(symbol string) string {
	return strings.TrimSuffix(strings.ToLower(symbol), "usd")
}

// SymbolFor returns the USD symbol whose base is currency, e.g. "btc" -> "BTCUSD".
func SymbolFor(currency string) string {
	return strings.ToUpper(currency) + "USD"
}

// NormalizeSymbol upper-cases a symbol and makes sure it is quoted in USD,
// e.g. "btc" or "btcusd" -> "BTCUSD". Bases containing USD are kept, "USDTUSD" stays "USDTUSD".
func NormalizeSymbol(symbol string) string {
	s := strings.ToUpper(strings.TrimSpace(symbol))
	return strings.TrimSuffix(s, "USD") + "USD"
}
