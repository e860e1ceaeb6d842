package discovery

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/songzhibin97/tradeflux/internal/logger"
	"github.com/songzhibin97/tradeflux/internal/models"
)

// DefaultInterval between symbol listings.
const DefaultInterval = 12 * time.Hour

// SymbolSource lists tradable symbols, e.g. a rest.Client.
type SymbolSource interface {
	Symbols(ctx context.Context) ([]string, error)
}

// Watcher reports USD quoted symbols as they get listed.
type Watcher struct {
	source   SymbolSource
	interval time.Duration
	logger   logger.Logger

	mu    sync.Mutex
	known map[string]struct{}
}

func NewWatcher(source SymbolSource, interval time.Duration, l logger.Logger) *Watcher {
	if interval <= 0 {
		interval = DefaultInterval
	}
	if l == nil {
		l = logger.Nop()
	}
	return &Watcher{
		source:   source,
		interval: interval,
		logger:   l,
		known:    make(map[string]struct{}),
	}
}

// Poll lists the symbols once and returns those not seen before, sorted.
func (w *Watcher) Poll(ctx context.Context) ([]string, error) {
	symbols, err := w.source.Symbols(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list symbols: %w", err)
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	var fresh []string
	for _, s := range symbols {
		s = strings.ToUpper(strings.TrimSpace(s))
		if len(s) <= len("USD") || !strings.HasSuffix(s, "USD") {
			continue
		}
		s = models.NormalizeSymbol(s)
		if _, ok := w.known[s]; ok {
			continue
		}
		w.known[s] = struct{}{}
		fresh = append(fresh, s)
	}
	sort.Strings(fresh)
	return fresh, nil
}

// Known returns every symbol reported so far, sorted.
func (w *Watcher) Known() []string {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := make([]string, 0, len(w.known))
	for s := range w.known {
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}

// Watch polls right away and then every interval, sending each non-empty
// batch of new symbols. The channel is closed when ctx is done.
func (w *Watcher) Watch(ctx context.Context) <-chan []string {
	out := make(chan []string, 1)

	go func() {
		defer close(out)

		ticker := time.NewTicker(w.interval)
		defer ticker.Stop()

		for {
			fresh, err := w.Poll(ctx)
			if err != nil {
				w.logger.Error("symbol discovery failed", "error", err)
			} else if len(fresh) > 0 {
				w.logger.Info("discovered symbols", "count", len(fresh), "symbols", fresh)
				select {
				case out <- fresh:
				case <-ctx.Done():
					return
				}
			}

			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}
		}
	}()

	return out
}
