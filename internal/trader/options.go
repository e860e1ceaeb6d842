package trader

import (
	"time"

	"github.com/songzhibin97/tradeflux/internal/account"
	"github.com/songzhibin97/tradeflux/internal/logger"
	"github.com/songzhibin97/tradeflux/internal/rest"
	"github.com/songzhibin97/tradeflux/internal/risk"
)

const (
	DefaultCorrelationTimeout = 30 * time.Second
	defaultRequestTimeout     = 10 * time.Second
)

// ReconnectPolicy controls how a dropped transport is re-established.
// Zero Attempts disables reconnecting.
type ReconnectPolicy struct {
	Attempts int
	Min      time.Duration
	Max      time.Duration
}

type options struct {
	logger             logger.Logger
	risk               risk.RiskManager
	historySize        int
	rest               rest.Client
	reconnect          ReconnectPolicy
	correlationTimeout time.Duration
	now                func() time.Time
	auditHooks         []account.AuditHook
}

// Option configures a Trader.
type Option func(*options)

func WithLogger(l logger.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithRiskManager replaces the default order checks.
func WithRiskManager(rm risk.RiskManager) Option {
	return func(o *options) {
		if rm != nil {
			o.risk = rm
		}
	}
}

// WithMinOrderValue sets the minimum order notional of the default risk manager.
func WithMinOrderValue(v float64) Option {
	return func(o *options) {
		o.risk = risk.NewBasicRiskManager(risk.RiskParameters{MinOrderValue: v})
	}
}

// WithHistorySize sets how many executed orders are kept.
func WithHistorySize(n int) Option {
	return func(o *options) {
		o.historySize = n
	}
}

// WithRESTClient enables REST price lookups for market orders without a tick price.
func WithRESTClient(c rest.Client) Option {
	return func(o *options) {
		o.rest = c
	}
}

// WithReconnect retries a dropped connection up to attempts times with
// jittered exponential backoff between min and max.
func WithReconnect(attempts int, min, max time.Duration) Option {
	return func(o *options) {
		o.reconnect = ReconnectPolicy{Attempts: attempts, Min: min, Max: max}
	}
}

// WithCorrelationTimeout bounds how long SubmitOrder waits for the exchange
// to confirm a new order.
func WithCorrelationTimeout(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.correlationTimeout = d
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(o *options) {
		if now != nil {
			o.now = now
		}
	}
}

// WithAuditHook receives every order audit entry.
func WithAuditHook(h account.AuditHook) Option {
	return func(o *options) {
		if h != nil {
			o.auditHooks = append(o.auditHooks, h)
		}
	}
}

func defaultOptions() options {
	return options{
		logger:             logger.Nop(),
		risk:               risk.NewBasicRiskManager(risk.RiskParameters{MinOrderValue: risk.DefaultMinOrderValue}),
		historySize:        account.DefaultHistorySize,
		correlationTimeout: DefaultCorrelationTimeout,
		now:                time.Now,
	}
}
