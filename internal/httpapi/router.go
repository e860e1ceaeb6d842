package httpapi

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/songzhibin97/tradeflux/internal/logger"
	"github.com/songzhibin97/tradeflux/internal/models"
)

// Account is the read side of a trader.
type Account interface {
	Orders() []models.Order
	ExecutedOrders() []models.ExecutedOrder
	Wallets() map[string]float64
	Prices() map[string]float64
	AvailableBalances() map[string]float64
	Positions() map[string]float64
	Value() float64
	Err() error
}

// AuditSource lists recorded order lifecycle transitions, newest first.
type AuditSource interface {
	Recent(ctx context.Context, limit int) ([]models.AuditEntry, error)
}

// BalanceSource reports the available balances as the exchange sees them.
type BalanceSource interface {
	Balances(ctx context.Context) (map[string]float64, error)
}

const (
	defaultAuditLimit = 50
	maxAuditLimit     = 1000
)

type routerOptions struct {
	audit    AuditSource
	balances BalanceSource
}

type RouterOption func(*routerOptions)

// WithAudit serves /audit from src.
func WithAudit(src AuditSource) RouterOption {
	return func(o *routerOptions) { o.audit = src }
}

// WithExchangeBalances serves /exchange/balances from src.
func WithExchangeBalances(src BalanceSource) RouterOption {
	return func(o *routerOptions) { o.balances = src }
}

// NewRouter serves read-only JSON views of the account.
func NewRouter(acct Account, l logger.Logger, opts ...RouterOption) chi.Router {
	if l == nil {
		l = logger.Nop()
	}
	var o routerOptions
	for _, opt := range opts {
		opt(&o)
	}
	r := chi.NewRouter()
	r.Use(requestLogging(l))

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		if err := acct.Err(); err != nil {
			WriteJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "down", "error": err.Error()})
			return
		}
		WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Route("/orders", func(r chi.Router) {
		r.Get("/", func(w http.ResponseWriter, r *http.Request) {
			WriteJSON(w, http.StatusOK, nonNil(acct.Orders()))
		})
		r.Get("/executed", func(w http.ResponseWriter, r *http.Request) {
			WriteJSON(w, http.StatusOK, nonNil(acct.ExecutedOrders()))
		})
	})

	r.Get("/wallets", func(w http.ResponseWriter, r *http.Request) {
		WriteJSON(w, http.StatusOK, acct.Wallets())
	})
	r.Get("/prices", func(w http.ResponseWriter, r *http.Request) {
		WriteJSON(w, http.StatusOK, acct.Prices())
	})
	r.Get("/balances", func(w http.ResponseWriter, r *http.Request) {
		WriteJSON(w, http.StatusOK, acct.AvailableBalances())
	})
	r.Get("/positions", func(w http.ResponseWriter, r *http.Request) {
		WriteJSON(w, http.StatusOK, acct.Positions())
	})
	r.Get("/value", func(w http.ResponseWriter, r *http.Request) {
		WriteJSON(w, http.StatusOK, map[string]float64{"usd": acct.Value()})
	})

	if o.audit != nil {
		r.Get("/audit", auditHandler(o.audit, l))
	}
	if o.balances != nil {
		r.Get("/exchange/balances", func(w http.ResponseWriter, r *http.Request) {
			balances, err := o.balances.Balances(r.Context())
			if err != nil {
				l.Warn("failed to get exchange balances", "err", err)
				WriteJSON(w, http.StatusBadGateway, map[string]string{"error": err.Error()})
				return
			}
			WriteJSON(w, http.StatusOK, balances)
		})
	}

	return r
}

func auditHandler(src AuditSource, l logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit := defaultAuditLimit
		if v := r.URL.Query().Get("limit"); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil || n <= 0 {
				WriteJSON(w, http.StatusBadRequest, map[string]string{"error": "limit must be a positive integer"})
				return
			}
			limit = min(n, maxAuditLimit)
		}

		entries, err := src.Recent(r.Context(), limit)
		if err != nil {
			l.Error("failed to list audit entries", "err", err)
			WriteJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
			return
		}
		WriteJSON(w, http.StatusOK, nonNil(entries))
	}
}

func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}

func requestLogging(l logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := &statusWriter{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(ww, r)
			l.Debug("request",
				"method", r.Method,
				"path", r.URL.Path,
				"status", ww.status,
				"duration", time.Since(start),
			)
		})
	}
}

// statusWriter captures the status code.
type statusWriter struct {
	http.ResponseWriter
	status      int
	wroteHeader bool
}

func (w *statusWriter) WriteHeader(code int) {
	if !w.wroteHeader {
		w.status = code
		w.wroteHeader = true
	}
	w.ResponseWriter.WriteHeader(code)
}
