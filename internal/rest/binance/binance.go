package binance

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"github.com/adshao/go-binance/v2"
	"github.com/adshao/go-binance/v2/common"

	"github.com/songzhibin97/tradeflux/internal/models"
	"github.com/songzhibin97/tradeflux/internal/rest"
)

const (
	DefaultQuoteAsset = "USDT"

	codeTooManyRequests = -1003
	codeNoSuchOrder     = -2013
	codeBadSymbol       = -1121
)

// Client implements rest.Client for Binance. USD symbols such as "BTCUSD" are
// traded against the configured quote asset, e.g. "BTCUSDT".
type Client struct {
	client     *binance.Client
	quoteAsset string
	mu         sync.RWMutex
}

// NewClient creates a new Client instance
func NewClient(apiKey, secretKey, quoteAsset string, debug ...bool) *Client {
	debug = append(debug, false)
	if debug[0] {
		binance.UseTestnet = true
	}
	if quoteAsset == "" {
		quoteAsset = DefaultQuoteAsset
	}

	return &Client{
		client:     binance.NewClient(apiKey, secretKey),
		quoteAsset: strings.ToUpper(quoteAsset),
	}
}

func (b *Client) Name() string {
	return "binance"
}

// SetBaseURL points the client at another endpoint.
func (b *Client) SetBaseURL(url string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.client.BaseURL = url
}

// Balances returns free balances; the quote asset is reported as "usd".
func (b *Client) Balances(ctx context.Context) (map[string]float64, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	account, err := b.client.NewGetAccountService().Do(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get account info: %w", mapError(err))
	}

	balances := make(map[string]float64, len(account.Balances))
	for _, balance := range account.Balances {
		free, err := strconv.ParseFloat(balance.Free, 64)
		if err != nil {
			return nil, fmt.Errorf("failed to parse balance: %w", err)
		}
		if free == 0 {
			continue
		}
		currency := strings.ToLower(balance.Asset)
		if balance.Asset == b.quoteAsset {
			currency = "usd"
		}
		balances[currency] = free
	}
	return balances, nil
}

func (b *Client) OrderStatus(ctx context.Context, symbol string, id int64) (*rest.OrderStatus, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	result, err := b.client.NewGetOrderService().
		Symbol(b.pair(symbol)).
		OrderID(id).
		Do(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get order status: %w", mapError(err))
	}

	price, _ := strconv.ParseFloat(result.Price, 64)
	amount, _ := strconv.ParseFloat(result.OrigQuantity, 64)
	executed, _ := strconv.ParseFloat(result.ExecutedQuantity, 64)
	quote, _ := strconv.ParseFloat(result.CummulativeQuoteQuantity, 64)

	var executedPrice float64
	if executed > 0 {
		executedPrice = quote / executed
	}
	sign := 1.0
	if result.Side == binance.SideTypeSell {
		sign = -1
	}

	return &rest.OrderStatus{
		ID:            result.OrderID,
		Symbol:        models.NormalizeSymbol(strings.TrimSuffix(result.Symbol, b.quoteAsset)),
		Price:         price,
		ExecutedPrice: executedPrice,
		Amount:        sign * amount,
		Executed:      sign * executed,
		Remaining:     sign * (amount - executed),
		Live: result.Status == binance.OrderStatusTypeNew ||
			result.Status == binance.OrderStatusTypePartiallyFilled,
		Cancelled: result.Status == binance.OrderStatusTypeCanceled ||
			result.Status == binance.OrderStatusTypeExpired ||
			result.Status == binance.OrderStatusTypeRejected,
	}, nil
}

func (b *Client) Ticker(ctx context.Context, symbol string) (float64, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	pair := b.pair(symbol)
	prices, err := b.client.NewListPricesService().Symbol(pair).Do(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to get price: %w", mapError(err))
	}
	for _, p := range prices {
		if p.Symbol == pair {
			price, err := strconv.ParseFloat(p.Price, 64)
			if err != nil {
				return 0, fmt.Errorf("failed to parse price: %w", err)
			}
			return price, nil
		}
	}
	return 0, fmt.Errorf("price for %s: %w", pair, rest.ErrNotFound)
}

// Symbols returns trading pairs quoted in the quote asset as USD symbols.
func (b *Client) Symbols(ctx context.Context) ([]string, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	info, err := b.client.NewExchangeInfoService().Do(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get exchange info: %w", mapError(err))
	}

	symbols := make([]string, 0, len(info.Symbols))
	for _, s := range info.Symbols {
		if s.QuoteAsset != b.quoteAsset || s.Status != string(binance.SymbolStatusTypeTrading) {
			continue
		}
		symbols = append(symbols, models.SymbolFor(s.BaseAsset))
	}
	return symbols, nil
}

// pair maps "BTCUSD" to "BTC" + quote asset.
func (b *Client) pair(symbol string) string {
	return strings.ToUpper(models.BaseCurrency(models.NormalizeSymbol(symbol))) + b.quoteAsset
}

func mapError(err error) error {
	var apiErr *common.APIError
	if !errors.As(err, &apiErr) {
		return err
	}
	switch apiErr.Code {
	case codeTooManyRequests:
		return fmt.Errorf("%w: %s", rest.ErrRateLimited, apiErr.Message)
	case codeNoSuchOrder, codeBadSymbol:
		return fmt.Errorf("%w: %s", rest.ErrNotFound, apiErr.Message)
	}
	return err
}
