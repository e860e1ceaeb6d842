package account

import (
	"testing"
	"time"

	"pgregory.net/rapid"

	"github.com/songzhibin97/tradeflux/internal/events"
	"github.com/songzhibin97/tradeflux/internal/models"
)

// genOrderEvent draws an order event over a small id space so that updates
// and closes hit existing orders often.
func genOrderEvent(t *rapid.T) events.OrderEvent {
	kind := rapid.SampledFrom([]events.OrderKind{
		events.OrderNew, events.OrderUpdate, events.OrderClose, events.OrderBatch,
	}).Draw(t, "kind")

	gen := func(label string) models.Order {
		amount := rapid.Float64Range(-10, 10).Draw(t, label+"_amount")
		frac := rapid.Float64Range(0, 1).Draw(t, label+"_frac")
		executed := amount * frac
		return models.Order{
			ID:        rapid.Int64Range(1, 8).Draw(t, label+"_id"),
			Symbol:    rapid.SampledFrom([]string{"BTCUSD", "ETHUSD"}).Draw(t, label+"_symbol"),
			Price:     rapid.Float64Range(0.01, 1000).Draw(t, label+"_price"),
			Amount:    amount,
			Executed:  executed,
			Remaining: amount - executed,
			Status:    models.StatusActive,
			Timestamp: time.Unix(int64(rapid.IntRange(0, 100).Draw(t, label+"_ts")), 0),
		}
	}

	if kind == events.OrderBatch {
		n := rapid.IntRange(0, 4).Draw(t, "batch_len")
		orders := make([]models.Order, 0, n)
		seen := make(map[int64]bool)
		for j := 0; j < n; j++ {
			o := gen("batch")
			if seen[o.ID] {
				continue
			}
			seen[o.ID] = true
			orders = append(orders, o)
		}
		return events.OrderEvent{Kind: kind, Orders: orders}
	}

	o := gen("single")
	word := "ACTIVE"
	if kind == events.OrderClose {
		word = rapid.SampledFrom([]string{"EXECUTED", "CANCELED"}).Draw(t, "close_word")
	}
	return events.OrderEvent{Kind: kind, Orders: []models.Order{o}, StatusText: []string{word}}
}

func TestProperty_RemainingInvariant(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		s := NewStore(WithHistorySize(5))
		steps := rapid.IntRange(1, 60).Draw(t, "steps")

		var lastSeq uint64
		for i := 0; i < steps; i++ {
			s.ApplyOrderEvent(genOrderEvent(t))

			snap := s.Snapshot()
			ids := make(map[int64]bool)
			for _, o := range snap.OpenOrders {
				if o.Remaining != o.Amount-o.Executed {
					t.Fatalf("order %d: remaining %v != amount %v - executed %v", o.ID, o.Remaining, o.Amount, o.Executed)
				}
				if ids[o.ID] {
					t.Fatalf("order %d listed twice", o.ID)
				}
				ids[o.ID] = true
			}
			if len(snap.Executed) > 5 {
				t.Fatalf("history exceeds capacity: %d", len(snap.Executed))
			}
			for j := 1; j < len(snap.Executed); j++ {
				if snap.Executed[j].Seq <= snap.Executed[j-1].Seq {
					t.Fatalf("history sequence not increasing")
				}
			}
			if snap.LastSeq() < lastSeq {
				t.Fatalf("last sequence went backwards")
			}
			lastSeq = snap.LastSeq()
		}
	})
}

func TestProperty_CloseIdempotent(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		s := NewStore()
		n := rapid.IntRange(1, 10).Draw(t, "orders")
		for i := 1; i <= n; i++ {
			s.ApplyOrderEvent(newOrder(order(int64(i), "BTCUSD", 10, 1, 0, time.Unix(int64(i), 0))))
		}

		id := rapid.Int64Range(1, int64(n)).Draw(t, "close_id")
		o, _ := s.OpenOrder(id)
		closeEvent := executeOrder(o, 10)
		if rapid.Bool().Draw(t, "cancel") {
			closeEvent = cancelOrder(o)
		}

		s.ApplyOrderEvent(closeEvent)
		first := s.Snapshot()
		s.ApplyOrderEvent(closeEvent)
		second := s.Snapshot()

		if len(first.OpenOrders) != n-1 || len(second.OpenOrders) != n-1 {
			t.Fatalf("open orders: %d then %d, want %d", len(first.OpenOrders), len(second.OpenOrders), n-1)
		}
		if len(first.Executed) != len(second.Executed) {
			t.Fatalf("second close changed history: %d -> %d", len(first.Executed), len(second.Executed))
		}
	})
}
