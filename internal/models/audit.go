package models

import (
	"time"

	"github.com/google/uuid"
)

// AuditAction 订单审计动作
type AuditAction string

const (
	AuditSubmitted AuditAction = "SUBMIT"
	AuditExecuted  AuditAction = "EXECUTE"
	AuditCancelled AuditAction = "CANCEL"
)

// AuditEntry records an order lifecycle transition observed on the stream.
type AuditEntry struct {
	ID      uuid.UUID   `json:"id"`
	Action  AuditAction `json:"action"`
	OrderID int64       `json:"order_id"`
	Symbol  string      `json:"symbol"`
	Amount  float64     `json:"amount"`
	Price   float64     `json:"price"`
	Time    time.Time   `json:"time"`
}

// Side returns "BUY" or "SELL" from the sign of the amount.
func (e AuditEntry) Side() string {
	if e.Amount > 0 {
		return "BUY"
	}
	return "SELL"
}

// NewAuditEntry builds an entry for order. Executions report the executed
// amount at the executed price, everything else the requested amount and price.
func NewAuditEntry(action AuditAction, order Order, at time.Time) AuditEntry {
	amount, price := order.Amount, order.Price
	if action == AuditExecuted {
		amount, price = order.Executed, order.ExecutedPrice
	}
	return AuditEntry{
		ID:      uuid.New(),
		Action:  action,
		OrderID: order.ID,
		Symbol:  order.Symbol,
		Amount:  amount,
		Price:   price,
		Time:    at,
	}
}
