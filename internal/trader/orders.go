package trader

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/songzhibin97/tradeflux/internal/account"
	"github.com/songzhibin97/tradeflux/internal/models"
	"github.com/songzhibin97/tradeflux/internal/risk"
	"github.com/songzhibin97/tradeflux/internal/trading"
)

const (
	minPrice    = 0.01
	amountMatch = 5e-9
)

// OrderRequest describes an order. Exactly one of DollarAmount, Ratio and
// ValueRatio must be set; its sign picks the side, positive buys.
type OrderRequest struct {
	Symbol string
	Price  float64
	// Market ignores Price and uses the last tick price.
	Market bool

	// DollarAmount is the order notional in USD.
	DollarAmount float64
	// Ratio of the available balance: usd when buying, the coin when selling.
	Ratio float64
	// ValueRatio of the total account value, capped by the available balance.
	ValueRatio float64

	// TradeType is "limit" (default) or "market".
	TradeType string
	// PadPrice moves the price by this fraction against us, at least one cent.
	PadPrice float64
	// SkipCorrelation returns right after submission without an order id.
	SkipCorrelation bool
}

func (r *OrderRequest) sizing() (float64, error) {
	set := 0
	var v float64
	for _, s := range []float64{r.DollarAmount, r.Ratio, r.ValueRatio} {
		if math.IsNaN(s) || math.IsInf(s, 0) {
			return 0, fmt.Errorf("%w: sizing must be finite", ErrInvalidArgument)
		}
		if s != 0 {
			set++
			v = s
		}
	}
	if set != 1 {
		return 0, fmt.Errorf("%w: must provide exactly one of dollar amount, ratio or value ratio", ErrInvalidArgument)
	}
	return v, nil
}

func tradeType(t string) (string, error) {
	switch strings.ToLower(t) {
	case "", trading.OrderTypeLimit:
		return trading.OrderTypeLimit, nil
	case trading.OrderTypeMarket:
		return trading.OrderTypeMarket, nil
	}
	return "", fmt.Errorf("%w: unknown trade type %q, try one of market, limit", ErrInvalidArgument, t)
}

// SubmitOrder sizes the order against the available balance, sends it and
// waits until the exchange reports it, returning the exchange order id.
func (t *Trader) SubmitOrder(ctx context.Context, req OrderRequest) (int64, error) {
	sizing, err := req.sizing()
	if err != nil {
		return 0, err
	}
	orderType, err := tradeType(req.TradeType)
	if err != nil {
		return 0, err
	}
	if strings.TrimSpace(req.Symbol) == "" {
		return 0, fmt.Errorf("%w: symbol is required", ErrInvalidArgument)
	}
	if req.PadPrice < 0 || math.IsNaN(req.PadPrice) {
		return 0, fmt.Errorf("%w: pad price must not be negative", ErrInvalidArgument)
	}
	if err := t.usable(); err != nil {
		return 0, err
	}

	symbol := models.NormalizeSymbol(req.Symbol)
	buying := sizing > 0

	price := req.Price
	if req.Market || orderType == trading.OrderTypeMarket {
		orderType = trading.OrderTypeMarket
		if price, err = t.marketPrice(ctx, symbol); err != nil {
			return 0, err
		}
	}

	if req.PadPrice > 0 {
		delta := price * req.PadPrice
		if buying {
			price += math.Max(delta, minPrice)
		} else {
			price += math.Min(-delta, -minPrice)
		}
	}
	if !(price >= minPrice) {
		return 0, fmt.Errorf("%w: price cannot be less than $%.2f", ErrInvalidArgument, minPrice)
	}

	snap := t.store.Snapshot()
	amount, maxAmount := size(snap, symbol, price, req, buying)

	assessment, err := t.opts.risk.CheckOrder(ctx, &risk.OrderCheck{
		Symbol:    symbol,
		Amount:    amount,
		Price:     price,
		MaxAmount: maxAmount,
		Market:    orderType == trading.OrderTypeMarket,
	})
	if err != nil {
		return 0, err
	}
	if len(assessment.RiskFactors) > 0 {
		t.opts.logger.Debug("Order risk factors", "symbol", symbol, "factors", assessment.RiskFactors)
	}

	openIDs, tail := snap.OpenIDs(), snap.LastSeq()

	err = t.transport.NewOrder(ctx, &trading.NewOrderRequest{
		ClientID:  t.opts.now().UnixMilli(),
		Symbol:    symbol,
		Amount:    amount,
		Price:     price,
		OrderType: orderType,
	})
	if err != nil {
		return 0, fmt.Errorf("%w: failed to submit order: %v", ErrTransport, err)
	}
	if req.SkipCorrelation {
		return 0, nil
	}
	return t.correlate(ctx, symbol, amount, openIDs, tail)
}

// size returns the signed order amount and the largest absolute amount the
// available balance allows, both rounded to 8 decimals.
func size(snap account.Snapshot, symbol string, price float64, req OrderRequest, buying bool) (float64, float64) {
	avail := account.AvailableBalances(snap)

	var maxAmount float64
	if buying {
		maxAmount = avail[account.USD] / price
	} else {
		maxAmount = avail[models.BaseCurrency(symbol)]
	}

	var amount float64
	switch {
	case req.DollarAmount != 0:
		amount = req.DollarAmount / price
	case req.Ratio != 0:
		amount = maxAmount * req.Ratio
	default:
		amount = account.TotalValue(snap) * req.ValueRatio / price
		amount = math.Min(math.Max(-maxAmount, amount), maxAmount)
	}
	return account.Round(amount, 8), account.Round(maxAmount, 8)
}

func (t *Trader) marketPrice(ctx context.Context, symbol string) (float64, error) {
	if p, ok := t.store.Price(symbol); ok && p > 0 {
		return p, nil
	}
	if t.opts.rest == nil {
		return 0, fmt.Errorf("%w: no market price for %s", ErrInvalidArgument, symbol)
	}
	p, err := t.opts.rest.Ticker(ctx, symbol)
	if err != nil {
		return 0, fmt.Errorf("failed to look up market price for %s: %w", symbol, err)
	}
	return p, nil
}

// correlate waits for an order that was not open before submission, or an
// execution newer than tail, with the submitted symbol and amount.
func (t *Trader) correlate(ctx context.Context, symbol string, amount float64, openIDs map[int64]struct{}, tail uint64) (int64, error) {
	timer := time.NewTimer(t.opts.correlationTimeout)
	defer timer.Stop()

	for {
		changed := t.store.Changed()
		if id, ok := t.claim(t.store.Snapshot(), symbol, amount, openIDs, tail); ok {
			return id, nil
		}
		if err := t.wait(ctx, changed, timer.C); err != nil {
			if errors.Is(err, ErrTimeout) {
				return 0, fmt.Errorf("%w: no confirmation for %s order of %.8f after %s",
					ErrTimeout, symbol, amount, t.opts.correlationTimeout)
			}
			return 0, err
		}
	}
}

func (t *Trader) claim(snap account.Snapshot, symbol string, amount float64, openIDs map[int64]struct{}, tail uint64) (int64, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	matches := func(o models.Order) bool {
		if _, seen := openIDs[o.ID]; seen {
			return false
		}
		if _, taken := t.claimed[o.ID]; taken {
			return false
		}
		return o.Symbol == symbol && math.Abs(o.Amount-amount) < amountMatch
	}

	for _, o := range snap.OpenOrders {
		if matches(o) {
			t.claimed[o.ID] = struct{}{}
			return o.ID, true
		}
	}
	for _, e := range snap.Executed {
		if e.Seq > tail && matches(e.Order) {
			t.claimed[e.Order.ID] = struct{}{}
			return e.Order.ID, true
		}
	}

	t.pruneClaimedLocked(snap)
	return 0, false
}

// pruneClaimedLocked forgets ids that are neither open nor in the history.
func (t *Trader) pruneClaimedLocked(snap account.Snapshot) {
	if len(t.claimed) == 0 {
		return
	}
	live := snap.OpenIDs()
	for _, e := range snap.Executed {
		live[e.Order.ID] = struct{}{}
	}
	for id := range t.claimed {
		if _, ok := live[id]; !ok {
			delete(t.claimed, id)
		}
	}
}

// WaitExecution blocks until order id shows up in the executed history.
// A non-positive timeout waits until ctx is done.
func (t *Trader) WaitExecution(ctx context.Context, id int64, timeout time.Duration) (models.Order, error) {
	var deadline <-chan time.Time
	if timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		deadline = timer.C
	}

	for {
		changed := t.store.Changed()
		if e, ok := t.store.FindExecuted(id); ok {
			return e.Order, nil
		}
		if err := t.wait(ctx, changed, deadline); err != nil {
			if errors.Is(err, ErrTimeout) {
				return models.Order{}, fmt.Errorf("%w: waiting for execution of order %d timed out after %s",
					ErrTimeout, id, timeout)
			}
			return models.Order{}, err
		}
	}
}

// Cancel requests cancellation of an order. The outcome arrives on the stream.
func (t *Trader) Cancel(ctx context.Context, id int64) error {
	if err := t.usable(); err != nil {
		return err
	}
	if err := t.transport.CancelOrder(ctx, id); err != nil {
		return fmt.Errorf("%w: failed to cancel order %d: %v", ErrTransport, id, err)
	}
	return nil
}

// CancelOlderThan cancels every open order older than age; age <= 0 cancels all.
// It returns the number of cancel requests sent.
func (t *Trader) CancelOlderThan(ctx context.Context, age time.Duration) (int, error) {
	now := t.opts.now()
	var (
		sent int
		errs []error
	)
	for _, o := range t.store.OpenOrders() {
		if age > 0 && now.Sub(o.Timestamp) <= age {
			continue
		}
		if err := t.Cancel(ctx, o.ID); err != nil {
			errs = append(errs, err)
			continue
		}
		sent++
	}
	return sent, errors.Join(errs...)
}

func (t *Trader) usable() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	switch {
	case t.closed:
		return ErrClosed
	case !t.running:
		return ErrNotConnected
	}
	select {
	case <-t.fatal:
		return t.fatalErr
	default:
		return nil
	}
}
