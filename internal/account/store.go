package account

import (
	"sync"
	"time"

	"github.com/google/btree"

	"github.com/songzhibin97/tradeflux/internal/events"
	"github.com/songzhibin97/tradeflux/internal/logger"
	"github.com/songzhibin97/tradeflux/internal/models"
)

const btreeDegree = 16

// AuditHook receives order lifecycle entries after the mutation is visible.
// It runs on the writer goroutine and must not block.
type AuditHook func(models.AuditEntry)

// Snapshot is a consistent copy of the account state.
type Snapshot struct {
	// OpenOrders in arrival order, earliest first.
	OpenOrders []models.Order
	// Executed history, oldest first.
	Executed []models.ExecutedOrder
	Wallets  map[string]float64
	Prices   map[string]float64
}

// LastSeq returns the sequence number of the newest executed order, 0 when empty.
func (s Snapshot) LastSeq() uint64 {
	if len(s.Executed) == 0 {
		return 0
	}
	return s.Executed[len(s.Executed)-1].Seq
}

// OpenIDs returns the set of open order ids.
func (s Snapshot) OpenIDs() map[int64]struct{} {
	ids := make(map[int64]struct{}, len(s.OpenOrders))
	for _, o := range s.OpenOrders {
		ids[o.ID] = struct{}{}
	}
	return ids
}

// openEntry is an open order together with its arrival sequence.
type openEntry struct {
	arrival uint64
	order   models.Order
}

func arrivalLess(a, b openEntry) bool {
	return a.arrival < b.arrival
}

// Store owns the account state. Apply* methods are meant for a single writer,
// every reader gets a copy.
type Store struct {
	mu      sync.RWMutex
	open    map[int64]openEntry
	index   *btree.BTreeG[openEntry]
	arrival uint64
	history *history
	wallets map[string]float64
	prices  map[string]float64
	changed chan struct{}

	hooks  []AuditHook
	logger logger.Logger
	now    func() time.Time
}

// Option configures a Store.
type Option func(*Store)

// WithHistorySize sets the executed history capacity.
func WithHistorySize(n int) Option {
	return func(s *Store) {
		s.history = newHistory(n)
	}
}

// WithAuditHook registers a hook called for every audit entry.
func WithAuditHook(h AuditHook) Option {
	return func(s *Store) {
		if h != nil {
			s.hooks = append(s.hooks, h)
		}
	}
}

func WithLogger(l logger.Logger) Option {
	return func(s *Store) {
		if l != nil {
			s.logger = l
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		if now != nil {
			s.now = now
		}
	}
}

func NewStore(opts ...Option) *Store {
	s := &Store{
		open:    make(map[int64]openEntry),
		index:   btree.NewG[openEntry](btreeDegree, arrivalLess),
		history: newHistory(DefaultHistorySize),
		wallets: make(map[string]float64),
		prices:  make(map[string]float64),
		changed: make(chan struct{}),
		logger:  logger.Nop(),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Apply dispatches a decoded event to its reducer.
func (s *Store) Apply(ev events.Event) {
	switch e := ev.(type) {
	case events.OrderEvent:
		s.ApplyOrderEvent(e)
	case events.WalletEvent:
		s.ApplyWalletEvent(e)
	case events.PriceEvent:
		s.ApplyPriceEvent(e)
	default:
		s.logger.Warn("Ignoring unsupported event", "type", ev)
	}
}

// ApplyOrderEvent runs the order lifecycle for e. For a batch it returns the
// open orders the batch dropped without a close event.
func (s *Store) ApplyOrderEvent(e events.OrderEvent) []models.Order {
	s.mu.Lock()
	entries, dropped, changed := s.applyOrders(e)
	if changed {
		s.notifyLocked()
	}
	s.mu.Unlock()

	s.emit(entries)
	return dropped
}

// ApplyWalletEvent updates exchange wallet balances.
func (s *Store) ApplyWalletEvent(e events.WalletEvent) {
	s.mu.Lock()
	if s.applyWallets(e) {
		s.notifyLocked()
	}
	s.mu.Unlock()
}

// ApplyPriceEvent records the weighted mid price for the ticker symbol.
func (s *Store) ApplyPriceEvent(e events.PriceEvent) {
	s.mu.Lock()
	if s.applyPrice(e) {
		s.notifyLocked()
	}
	s.mu.Unlock()
}

// Changed returns a channel that is closed on the next state mutation.
// Callers should fetch it before inspecting the state they wait on.
func (s *Store) Changed() <-chan struct{} {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.changed
}

// OpenOrders returns open orders in arrival order, earliest first.
func (s *Store) OpenOrders() []models.Order {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.openOrdersLocked()
}

// OpenOrder looks up a single open order.
func (s *Store) OpenOrder(id int64) (models.Order, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.open[id]
	return e.order, ok
}

// ExecutedOrders returns the executed history, oldest first.
func (s *Store) ExecutedOrders() []models.ExecutedOrder {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.history.list()
}

// FindExecuted returns the latest executed entry for id.
func (s *Store) FindExecuted(id int64) (models.ExecutedOrder, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.history.find(id)
}

func (s *Store) Wallets() map[string]float64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return copyMap(s.wallets)
}

func (s *Store) Prices() map[string]float64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return copyMap(s.prices)
}

// Price returns the last weighted mid for symbol.
func (s *Store) Price(symbol string) (float64, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.prices[symbol]
	return p, ok
}

// Snapshot copies the whole state under one read lock.
func (s *Store) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return Snapshot{
		OpenOrders: s.openOrdersLocked(),
		Executed:   s.history.list(),
		Wallets:    copyMap(s.wallets),
		Prices:     copyMap(s.prices),
	}
}

func (s *Store) openOrdersLocked() []models.Order {
	out := make([]models.Order, 0, s.index.Len())
	s.index.Ascend(func(e openEntry) bool {
		out = append(out, e.order)
		return true
	})
	return out
}

func (s *Store) notifyLocked() {
	close(s.changed)
	s.changed = make(chan struct{})
}

func (s *Store) emit(entries []models.AuditEntry) {
	for _, entry := range entries {
		s.logAudit(entry)
		for _, h := range s.hooks {
			h(entry)
		}
	}
}

func copyMap(m map[string]float64) map[string]float64 {
	out := make(map[string]float64, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
