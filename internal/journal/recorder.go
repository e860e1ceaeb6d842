package journal

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/songzhibin97/tradeflux/internal/logger"
	"github.com/songzhibin97/tradeflux/internal/models"
)

const (
	DefaultBuffer = 256
	flushTimeout  = 5 * time.Second
)

// Recorder moves audit entries from the account writer to a Sink without
// ever blocking the writer.
type Recorder struct {
	sink    Sink
	entries chan models.AuditEntry
	logger  logger.Logger
	dropped atomic.Int64
}

func NewRecorder(sink Sink, buffer int, l logger.Logger) *Recorder {
	if buffer <= 0 {
		buffer = DefaultBuffer
	}
	if l == nil {
		l = logger.Nop()
	}
	return &Recorder{
		sink:    sink,
		entries: make(chan models.AuditEntry, buffer),
		logger:  l,
	}
}

// Hook queues an entry, dropping it when the buffer is full.
func (r *Recorder) Hook(e models.AuditEntry) {
	select {
	case r.entries <- e:
	default:
		r.dropped.Add(1)
		r.logger.Warn("audit buffer full, dropping entry", "action", e.Action, "order_id", e.OrderID)
	}
}

// Dropped returns how many entries did not fit the buffer.
func (r *Recorder) Dropped() int64 {
	return r.dropped.Load()
}

// Run writes queued entries until ctx is done, then flushes what is left.
func (r *Recorder) Run(ctx context.Context) error {
	for {
		select {
		case e := <-r.entries:
			r.write(ctx, e)
		case <-ctx.Done():
			r.flush()
			return nil
		}
	}
}

func (r *Recorder) flush() {
	ctx, cancel := context.WithTimeout(context.Background(), flushTimeout)
	defer cancel()
	for {
		select {
		case e := <-r.entries:
			r.write(ctx, e)
		default:
			return
		}
	}
}

func (r *Recorder) write(ctx context.Context, e models.AuditEntry) {
	if err := r.sink.Record(ctx, e); err != nil {
		r.logger.Error("failed to record audit entry", "order_id", e.OrderID, "error", err)
	}
}
