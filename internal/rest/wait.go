package rest

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jpillora/backoff"

	"github.com/songzhibin97/tradeflux/internal/logger"
)

// ErrMaxFailures is returned by WaitOrder when too many consecutive lookups failed.
var ErrMaxFailures = errors.New("max consecutive failures reached")

// WaitOptions tunes WaitOrder. Zero values take the defaults.
type WaitOptions struct {
	// PollInterval between lookups while the order is live.
	PollInterval time.Duration
	// RateLimitWait after a rate limited lookup.
	RateLimitWait time.Duration
	// NotFoundWait after a lookup for an order the exchange does not know yet.
	NotFoundWait time.Duration
	// MaxFailures bounds consecutive failed lookups; live results reset the count.
	MaxFailures int
	// MinBackoff and MaxBackoff bound the exponential wait after other errors.
	MinBackoff time.Duration
	MaxBackoff time.Duration
	Logger     logger.Logger
}

func (o *WaitOptions) withDefaults() WaitOptions {
	out := *o
	if out.PollInterval <= 0 {
		out.PollInterval = time.Second
	}
	if out.RateLimitWait <= 0 {
		out.RateLimitWait = 15 * time.Second
	}
	if out.NotFoundWait <= 0 {
		out.NotFoundWait = 2500 * time.Millisecond
	}
	if out.MaxFailures <= 0 {
		out.MaxFailures = 5
	}
	if out.MinBackoff <= 0 {
		out.MinBackoff = 300 * time.Millisecond
	}
	if out.MaxBackoff <= 0 {
		out.MaxBackoff = 30 * time.Second
	}
	if out.Logger == nil {
		out.Logger = logger.Nop()
	}
	return out
}

// WaitOrder polls the order status until the order is no longer live.
func WaitOrder(ctx context.Context, c Client, symbol string, id int64, opts WaitOptions) (*OrderStatus, error) {
	o := opts.withDefaults()
	b := &backoff.Backoff{
		Min:    o.MinBackoff,
		Max:    o.MaxBackoff,
		Factor: 2,
		Jitter: true,
	}

	failures := 0
	for {
		status, err := c.OrderStatus(ctx, symbol, id)

		var wait time.Duration
		switch {
		case err == nil && !status.Live:
			return status, nil
		case err == nil:
			failures = 0
			b.Reset()
			o.Logger.Debug("Order found and still live", "order_id", id, "filled", status.FilledRatio())
			wait = o.PollInterval
		case errors.Is(err, ErrRateLimited):
			failures++
			o.Logger.Debug("Order status request rate limited", "order_id", id)
			wait = o.RateLimitWait
		case errors.Is(err, ErrNotFound):
			failures++
			o.Logger.Debug("Order not found", "order_id", id)
			wait = o.NotFoundWait
		default:
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			failures++
			wait = b.Duration()
			o.Logger.Warn("Order status request failed", "order_id", id, "error", err, "retry_in", wait)
		}

		if failures >= o.MaxFailures {
			return nil, fmt.Errorf("failed to wait for order %d: %w: %v", id, ErrMaxFailures, err)
		}

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
		}
	}
}
