package account

import (
	"github.com/songzhibin97/tradeflux/internal/models"
)

// DefaultHistorySize is the number of executed orders kept by default.
const DefaultHistorySize = 100

// history is a fixed capacity FIFO ring of executed orders.
type history struct {
	buf     []models.ExecutedOrder
	start   int
	size    int
	lastSeq uint64
}

func newHistory(capacity int) *history {
	if capacity <= 0 {
		capacity = DefaultHistorySize
	}
	return &history{buf: make([]models.ExecutedOrder, capacity)}
}

// append stores order, evicting the oldest entry when full.
func (h *history) append(order models.Order) models.ExecutedOrder {
	h.lastSeq++
	entry := models.ExecutedOrder{Seq: h.lastSeq, Order: order}

	if h.size < len(h.buf) {
		h.buf[(h.start+h.size)%len(h.buf)] = entry
		h.size++
		return entry
	}
	h.buf[h.start] = entry
	h.start = (h.start + 1) % len(h.buf)
	return entry
}

// list returns a copy, oldest first.
func (h *history) list() []models.ExecutedOrder {
	out := make([]models.ExecutedOrder, h.size)
	for i := 0; i < h.size; i++ {
		out[i] = h.buf[(h.start+i)%len(h.buf)]
	}
	return out
}

// find returns the most recent entry for id.
func (h *history) find(id int64) (models.ExecutedOrder, bool) {
	for i := h.size - 1; i >= 0; i-- {
		e := h.buf[(h.start+i)%len(h.buf)]
		if e.Order.ID == id {
			return e, true
		}
	}
	return models.ExecutedOrder{}, false
}
