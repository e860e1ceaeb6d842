package events

import (
	"github.com/songzhibin97/tradeflux/internal/models"
)

// Event is a decoded account stream event: one of OrderEvent, WalletEvent or PriceEvent.
type Event interface {
	isEvent()
}

// OrderKind 订单事件类型
type OrderKind int

const (
	// OrderBatch seeds the open orders after authentication.
	OrderBatch OrderKind = iota + 1
	OrderNew
	OrderUpdate
	OrderClose
	// OrderResolved closes orders a batch dropped without a close event,
	// with their final state looked up out of band.
	OrderResolved
)

func (k OrderKind) String() string {
	switch k {
	case OrderBatch:
		return "batch"
	case OrderNew:
		return "new"
	case OrderUpdate:
		return "update"
	case OrderClose:
		return "close"
	case OrderResolved:
		return "resolved"
	}
	return "unknown"
}

// OrderEvent carries one order (new, update, close) or zero or more orders (batch).
// StatusText keeps the raw leading status word of every order, index aligned with Orders.
type OrderEvent struct {
	Kind       OrderKind
	Orders     []models.Order
	StatusText []string
}

// WalletKind 钱包事件类型
type WalletKind int

const (
	WalletSnapshot WalletKind = iota + 1
	WalletDelta
)

func (k WalletKind) String() string {
	switch k {
	case WalletSnapshot:
		return "snapshot"
	case WalletDelta:
		return "delta"
	}
	return "unknown"
}

// WalletBalance is a single wallet line. Type is the lower-case wallet type tag
// ("exchange", "margin", "funding"), Currency is lower-case.
type WalletBalance struct {
	Type     string
	Currency string
	Balance  float64
}

// WalletEvent carries a full snapshot or a single delta line.
type WalletEvent struct {
	Kind     WalletKind
	Balances []WalletBalance
}

// PriceEvent is a ticker update for Symbol.
type PriceEvent struct {
	Symbol  string
	Bid     float64
	BidSize float64
	Ask     float64
	AskSize float64
}

// WeightedMid returns the size weighted mid price, or the plain mid when both sizes are zero.
func (e PriceEvent) WeightedMid() float64 {
	total := e.BidSize + e.AskSize
	if total == 0 {
		return (e.Bid + e.Ask) / 2
	}
	return (e.Bid*e.BidSize + e.Ask*e.AskSize) / total
}

func (OrderEvent) isEvent()  {}
func (WalletEvent) isEvent() {}
func (PriceEvent) isEvent()  {}
