package account

import (
	"fmt"
	"math"
	"sort"

	"github.com/songzhibin97/tradeflux/internal/events"
	"github.com/songzhibin97/tradeflux/internal/models"
)

// applyOrders mutates the open orders and history. Caller holds the write lock.
// A batch also returns the open orders it dropped.
func (s *Store) applyOrders(e events.OrderEvent) ([]models.AuditEntry, []models.Order, bool) {
	switch e.Kind {
	case events.OrderBatch:
		return nil, s.resetOpen(e.Orders), true
	case events.OrderNew, events.OrderUpdate:
		var entries []models.AuditEntry
		for _, o := range e.Orders {
			if s.upsert(o) {
				entries = append(entries, models.NewAuditEntry(models.AuditSubmitted, o, s.now()))
			}
		}
		return entries, nil, len(e.Orders) > 0
	case events.OrderClose, events.OrderResolved:
		var (
			entries []models.AuditEntry
			changed bool
		)
		for i, o := range e.Orders {
			word := ""
			if i < len(e.StatusText) {
				word = e.StatusText[i]
			}
			var (
				entry models.AuditEntry
				ok    bool
			)
			if e.Kind == events.OrderResolved {
				entry, ok = s.settle(o, word)
			} else {
				entry, ok = s.close(o, word)
			}
			if !ok {
				continue
			}
			changed = true
			entries = append(entries, entry)
		}
		return entries, nil, changed
	}
	s.logger.Warn("Ignoring order event of unknown kind", "kind", e.Kind.String())
	return nil, nil, false
}

// resetOpen replaces the open set with orders, applied by ascending timestamp,
// and returns the previously open orders missing from it in arrival order.
func (s *Store) resetOpen(orders []models.Order) []models.Order {
	sorted := make([]models.Order, len(orders))
	copy(sorted, orders)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Timestamp.Before(sorted[j].Timestamp)
	})

	keep := make(map[int64]struct{}, len(sorted))
	for _, o := range sorted {
		keep[o.ID] = struct{}{}
	}
	var dropped []models.Order
	s.index.Ascend(func(e openEntry) bool {
		if _, ok := keep[e.order.ID]; !ok {
			dropped = append(dropped, e.order)
		}
		return true
	})

	s.open = make(map[int64]openEntry, len(sorted))
	s.index.Clear(false)
	for _, o := range sorted {
		s.upsert(o)
	}
	return dropped
}

// upsert creates or overwrites an open order and reports whether the id was new.
// Overwrites keep the original arrival position.
func (s *Store) upsert(o models.Order) bool {
	o.Remaining = o.Amount - o.Executed

	if prev, ok := s.open[o.ID]; ok {
		e := openEntry{arrival: prev.arrival, order: o}
		s.open[o.ID] = e
		s.index.ReplaceOrInsert(e)
		return false
	}

	s.arrival++
	e := openEntry{arrival: s.arrival, order: o}
	s.open[o.ID] = e
	s.index.ReplaceOrInsert(e)
	return true
}

// close removes an open order. Executions go to the history; cancellations don't.
func (s *Store) close(o models.Order, word string) (models.AuditEntry, bool) {
	prev, ok := s.open[o.ID]
	if !ok {
		s.logger.Debug("Close for unknown order ignored", "order_id", o.ID)
		return models.AuditEntry{}, false
	}
	delete(s.open, o.ID)
	s.index.Delete(prev)
	return s.record(o, word), true
}

// settle closes an order that may have already left the open set. An order
// already in the history is not recorded twice.
func (s *Store) settle(o models.Order, word string) (models.AuditEntry, bool) {
	if prev, ok := s.open[o.ID]; ok {
		delete(s.open, o.ID)
		s.index.Delete(prev)
	} else if _, done := s.history.find(o.ID); done {
		s.logger.Debug("Resolved order already executed", "order_id", o.ID)
		return models.AuditEntry{}, false
	}
	return s.record(o, word), true
}

func (s *Store) record(o models.Order, word string) models.AuditEntry {
	if o.Status == models.StatusCancelled || models.IsCancelStatus(word) {
		o.Status = models.StatusCancelled
		return models.NewAuditEntry(models.AuditCancelled, o, s.now())
	}

	o.Status = models.StatusExecuted
	o.Remaining = o.Amount - o.Executed
	s.history.append(o)
	return models.NewAuditEntry(models.AuditExecuted, o, s.now())
}

func (s *Store) logAudit(e models.AuditEntry) {
	s.logger.Info(fmt.Sprintf("%d (%6s) %-7s %-4s, %.8f for $%.2f at $%.2f",
		e.OrderID, e.Symbol, e.Action, e.Side(),
		math.Abs(e.Amount), math.Abs(e.Amount*e.Price), e.Price),
		"order_id", e.OrderID,
		"action", string(e.Action),
		"symbol", e.Symbol,
	)
}
