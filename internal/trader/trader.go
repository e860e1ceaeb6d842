package trader

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/jpillora/backoff"

	"github.com/songzhibin97/tradeflux/internal/account"
	"github.com/songzhibin97/tradeflux/internal/events"
	"github.com/songzhibin97/tradeflux/internal/models"
	"github.com/songzhibin97/tradeflux/internal/rest"
	"github.com/songzhibin97/tradeflux/internal/trading"
)

// resolveTimeout bounds the REST lookup of an order a resync dropped.
const resolveTimeout = 2 * time.Minute

// Trader keeps the account state in sync with the exchange stream and submits orders.
type Trader struct {
	transport trading.Transport
	store     *account.Store
	opts      options

	mu       sync.Mutex
	symbols  []string
	claimed  map[int64]struct{}
	running  bool
	closed   bool
	ctx      context.Context
	cancel   context.CancelFunc
	stop     chan struct{}
	finished chan struct{}
	fatal    chan struct{}
	fatalErr error

	// resolved carries closes looked up over REST back to the event loop.
	resolved chan events.OrderEvent
}

func New(transport trading.Transport, opts ...Option) *Trader {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}

	storeOpts := []account.Option{
		account.WithHistorySize(o.historySize),
		account.WithLogger(o.logger),
		account.WithClock(o.now),
	}
	for _, h := range o.auditHooks {
		storeOpts = append(storeOpts, account.WithAuditHook(h))
	}

	return &Trader{
		transport: transport,
		store:     account.NewStore(storeOpts...),
		opts:      o,
		claimed:   make(map[int64]struct{}),
		stop:      make(chan struct{}),
		finished:  make(chan struct{}),
		fatal:     make(chan struct{}),
		resolved:  make(chan events.OrderEvent),
	}
}

// Connect opens and authenticates the transport, subscribes the known symbols
// and starts the event loop.
func (t *Trader) Connect(ctx context.Context) error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return ErrClosed
	}
	if t.running {
		t.mu.Unlock()
		return nil
	}
	t.ctx, t.cancel = context.WithCancel(context.Background())
	t.mu.Unlock()

	if err := t.open(ctx); err != nil {
		t.mu.Lock()
		t.cancel()
		t.ctx, t.cancel = nil, nil
		t.mu.Unlock()
		return err
	}

	t.mu.Lock()
	t.running = true
	t.mu.Unlock()

	go t.run()
	t.opts.logger.Info("Trader connected", "symbols", t.Symbols())
	return nil
}

// Close stops the event loop, unsubscribes every ticker and releases the transport.
func (t *Trader) Close() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	running := t.running
	symbols := append([]string(nil), t.symbols...)
	close(t.stop)
	if t.cancel != nil {
		t.cancel()
	}
	t.mu.Unlock()

	if running {
		ctx, cancel := context.WithTimeout(context.Background(), defaultRequestTimeout)
		for _, s := range symbols {
			if err := t.transport.UnsubscribeTicker(ctx, s); err != nil {
				t.opts.logger.Warn("Failed to unsubscribe ticker", "symbol", s, "error", err)
			}
		}
		cancel()
		<-t.finished
	}

	if err := t.transport.Close(); err != nil {
		return fmt.Errorf("failed to close transport: %w", err)
	}
	t.opts.logger.Info("Trader closed")
	return nil
}

// Subscribe adds a symbol to the watched tickers. Symbols added before Connect
// are subscribed on connect.
func (t *Trader) Subscribe(ctx context.Context, symbol string) error {
	symbol = models.NormalizeSymbol(symbol)

	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return ErrClosed
	}
	for _, s := range t.symbols {
		if s == symbol {
			t.mu.Unlock()
			return nil
		}
	}
	t.symbols = append(t.symbols, symbol)
	running := t.running
	t.mu.Unlock()

	if !running {
		return nil
	}
	if err := t.transport.SubscribeTicker(ctx, symbol); err != nil {
		return fmt.Errorf("%w: failed to subscribe %s: %v", ErrTransport, symbol, err)
	}
	return nil
}

// Symbols returns the subscribed symbols in subscription order.
func (t *Trader) Symbols() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]string(nil), t.symbols...)
}

// Err returns the fatal transport error once the event loop has died.
func (t *Trader) Err() error {
	select {
	case <-t.fatal:
		return t.fatalErr
	default:
		return nil
	}
}

func (t *Trader) open(ctx context.Context) error {
	if err := t.transport.Connect(ctx); err != nil {
		return fmt.Errorf("%w: failed to connect: %v", ErrTransport, err)
	}
	if err := t.transport.Authenticate(ctx); err != nil {
		return fmt.Errorf("%w: failed to authenticate: %v", ErrTransport, err)
	}
	for _, s := range t.Symbols() {
		if err := t.transport.SubscribeTicker(ctx, s); err != nil {
			return fmt.Errorf("%w: failed to subscribe %s: %v", ErrTransport, s, err)
		}
	}
	return nil
}

// run is the single writer of the account store.
func (t *Trader) run() {
	defer close(t.finished)

	orders, wallets, tickers := t.transport.Orders(), t.transport.Wallets(), t.transport.Tickers()
	done := t.transport.Done()
	for {
		select {
		case <-t.stop:
			return
		case m := <-orders:
			t.apply(m)
		case m := <-wallets:
			t.apply(m)
		case m := <-tickers:
			t.apply(m)
		case ev := <-t.resolved:
			t.store.Apply(ev)
		case <-done:
			cause := t.transport.Err()
			select {
			case <-t.stop:
				return
			default:
			}
			if !t.reconnect(cause) {
				t.die(cause)
				return
			}
			done = t.transport.Done()
		}
	}
}

func (t *Trader) apply(m trading.Message) {
	ev, err := events.Decode(m.Command, m.Payload)
	if err != nil {
		t.opts.logger.Warn("Dropping malformed event", "command", m.Command, "error", err)
		return
	}
	oe, ok := ev.(events.OrderEvent)
	if !ok || oe.Kind != events.OrderBatch {
		t.store.Apply(ev)
		return
	}
	for _, o := range t.store.ApplyOrderEvent(oe) {
		t.resolve(o)
	}
}

// resolve looks up the final state of an order that left the open set without
// a close event, usually one that closed while the stream was down.
func (t *Trader) resolve(o models.Order) {
	if t.opts.rest == nil {
		t.opts.logger.Warn("Open order missing from resync, no REST client to resolve it",
			"order_id", o.ID, "symbol", o.Symbol)
		return
	}

	ctx, cancel := context.WithTimeout(t.ctx, resolveTimeout)
	go func() {
		defer cancel()
		status, err := rest.WaitOrder(ctx, t.opts.rest, o.Symbol, o.ID, rest.WaitOptions{Logger: t.opts.logger})
		if err != nil {
			if !errors.Is(err, context.Canceled) {
				t.opts.logger.Warn("Failed to resolve order missing from resync", "order_id", o.ID, "error", err)
			}
			return
		}
		select {
		case t.resolved <- resolvedClose(o, status):
		case <-t.stop:
		}
	}()
}

// resolvedClose builds the close of o from its REST status.
func resolvedClose(o models.Order, s *rest.OrderStatus) events.OrderEvent {
	if s.Amount != 0 {
		o.Amount = s.Amount
	}
	o.Executed = s.Executed
	o.Remaining = o.Amount - o.Executed
	if s.ExecutedPrice != 0 {
		o.ExecutedPrice = s.ExecutedPrice
	}

	word := string(models.StatusExecuted)
	o.Status = models.StatusExecuted
	if s.Cancelled {
		word = "CANCELED"
		o.Status = models.StatusCancelled
	}
	return events.OrderEvent{Kind: events.OrderResolved, Orders: []models.Order{o}, StatusText: []string{word}}
}

func (t *Trader) reconnect(cause error) bool {
	p := t.opts.reconnect
	if p.Attempts <= 0 {
		return false
	}
	b := &backoff.Backoff{Min: p.Min, Max: p.Max, Factor: 2, Jitter: true}

	for attempt := 1; attempt <= p.Attempts; attempt++ {
		wait := b.Duration()
		t.opts.logger.Warn("Transport dropped, reconnecting",
			"attempt", attempt, "max_attempts", p.Attempts, "wait", wait, "error", cause)

		timer := time.NewTimer(wait)
		select {
		case <-t.stop:
			timer.Stop()
			return false
		case <-timer.C:
		}

		ctx, cancel := context.WithTimeout(t.ctx, defaultRequestTimeout)
		err := t.open(ctx)
		cancel()
		if err == nil {
			t.opts.logger.Info("Transport reconnected", "attempt", attempt)
			return true
		}
		cause = err
	}
	return false
}

func (t *Trader) die(cause error) {
	if cause == nil {
		cause = errors.New("connection lost")
	}
	t.mu.Lock()
	t.fatalErr = fmt.Errorf("%w: %v", ErrTransport, cause)
	close(t.fatal)
	t.mu.Unlock()
	t.opts.logger.Error("Event loop stopped", "error", cause)
}

// wait blocks until the store changes, returning the reason when it should give up.
func (t *Trader) wait(ctx context.Context, changed <-chan struct{}, deadline <-chan time.Time) error {
	select {
	case <-changed:
		return nil
	case <-deadline:
		return ErrTimeout
	case <-ctx.Done():
		return ctx.Err()
	case <-t.stop:
		return ErrClosed
	case <-t.fatal:
		return t.fatalErr
	}
}

func (t *Trader) Orders() []models.Order {
	return t.store.OpenOrders()
}

func (t *Trader) ExecutedOrders() []models.ExecutedOrder {
	return t.store.ExecutedOrders()
}

func (t *Trader) Wallets() map[string]float64 {
	return t.store.Wallets()
}

func (t *Trader) Prices() map[string]float64 {
	return t.store.Prices()
}

func (t *Trader) AvailableBalances() map[string]float64 {
	return account.AvailableBalances(t.store.Snapshot())
}

func (t *Trader) Positions() map[string]float64 {
	return account.Positions(t.store.Snapshot())
}

// Value is the total account value in USD.
func (t *Trader) Value() float64 {
	return account.TotalValue(t.store.Snapshot())
}

func (t *Trader) Snapshot() account.Snapshot {
	return t.store.Snapshot()
}
