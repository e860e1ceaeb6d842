package bitfinex

import (
	"context"
	"crypto/hmac"
	"crypto/sha512"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/songzhibin97/tradeflux/internal/models"
	"github.com/songzhibin97/tradeflux/internal/rest"
	"github.com/songzhibin97/tradeflux/internal/utils/request"
)

const DefaultBaseURL = "https://api.bitfinex.com"

// Client implements rest.Client against the Bitfinex v1 REST API
type Client struct {
	baseURL    string
	apiKey     string
	apiSecret  string
	httpClient *resty.Client

	nonceMu   sync.Mutex
	lastNonce int64
}

// NewClient creates a client. An empty baseURL uses the public endpoint,
// a nil httpClient the shared retrying client.
func NewClient(baseURL, apiKey, apiSecret string, httpClient *resty.Client) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if httpClient == nil {
		httpClient = request.Request
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     apiKey,
		apiSecret:  apiSecret,
		httpClient: httpClient,
	}
}

func (c *Client) Name() string {
	return "bitfinex"
}

func (c *Client) Balances(ctx context.Context) (map[string]float64, error) {
	var wallets []struct {
		Type      string `json:"type"`
		Currency  string `json:"currency"`
		Amount    string `json:"amount"`
		Available string `json:"available"`
	}
	if err := c.private(ctx, "/v1/balances", nil, &wallets); err != nil {
		return nil, fmt.Errorf("failed to get balances: %w", err)
	}

	balances := make(map[string]float64)
	for _, w := range wallets {
		if w.Type != "exchange" {
			continue
		}
		available, err := strconv.ParseFloat(w.Available, 64)
		if err != nil {
			return nil, fmt.Errorf("failed to parse balance of %s: %w", w.Currency, err)
		}
		balances[strings.ToLower(w.Currency)] = available
	}
	return balances, nil
}

func (c *Client) OrderStatus(ctx context.Context, symbol string, id int64) (*rest.OrderStatus, error) {
	var result struct {
		ID                int64  `json:"id"`
		Symbol            string `json:"symbol"`
		Price             string `json:"price"`
		AvgExecutionPrice string `json:"avg_execution_price"`
		Side              string `json:"side"`
		IsLive            bool   `json:"is_live"`
		IsCancelled       bool   `json:"is_cancelled"`
		ExecutedAmount    string `json:"executed_amount"`
		RemainingAmount   string `json:"remaining_amount"`
		OriginalAmount    string `json:"original_amount"`
	}
	if err := c.private(ctx, "/v1/order/status", map[string]interface{}{"order_id": id}, &result); err != nil {
		return nil, fmt.Errorf("failed to get order %d status: %w", id, err)
	}

	nums, err := parseFloats(result.Price, result.AvgExecutionPrice, result.OriginalAmount, result.ExecutedAmount, result.RemainingAmount)
	if err != nil {
		return nil, fmt.Errorf("failed to parse order %d: %w", id, err)
	}
	sign := 1.0
	if result.Side == "sell" {
		sign = -1
	}

	return &rest.OrderStatus{
		ID:            result.ID,
		Symbol:        strings.ToUpper(result.Symbol),
		Price:         nums[0],
		ExecutedPrice: nums[1],
		Amount:        sign * nums[2],
		Executed:      sign * nums[3],
		Remaining:     sign * nums[4],
		Live:          result.IsLive,
		Cancelled:     result.IsCancelled,
	}, nil
}

func (c *Client) Ticker(ctx context.Context, symbol string) (float64, error) {
	var ticker struct {
		LastPrice string `json:"last_price"`
	}
	path := "/v1/pubticker/" + strings.ToLower(models.NormalizeSymbol(symbol))
	if err := c.public(ctx, path, &ticker); err != nil {
		return 0, fmt.Errorf("failed to get ticker %s: %w", symbol, err)
	}
	price, err := strconv.ParseFloat(ticker.LastPrice, 64)
	if err != nil {
		return 0, fmt.Errorf("failed to parse price: %w", err)
	}
	return price, nil
}

// Symbols returns every listed pair quoted in USD.
func (c *Client) Symbols(ctx context.Context) ([]string, error) {
	var pairs []string
	if err := c.public(ctx, "/v1/symbols", &pairs); err != nil {
		return nil, fmt.Errorf("failed to get symbols: %w", err)
	}
	symbols := make([]string, 0, len(pairs))
	for _, p := range pairs {
		if strings.Contains(strings.ToLower(p), "usd") {
			symbols = append(symbols, strings.ToUpper(p))
		}
	}
	return symbols, nil
}

func (c *Client) public(ctx context.Context, path string, out interface{}) error {
	resp, err := c.httpClient.R().SetContext(ctx).Get(c.baseURL + path)
	if err != nil {
		return fmt.Errorf("failed to execute request: %w", err)
	}
	return decode(resp, out)
}

// private sends a signed v1 request: the JSON body is base64 encoded into the
// payload header and signed with HMAC-SHA384.
func (c *Client) private(ctx context.Context, path string, params map[string]interface{}, out interface{}) error {
	body := map[string]interface{}{
		"request": path,
		"nonce":   strconv.FormatInt(c.nonce(), 10),
	}
	for k, v := range params {
		body[k] = v
	}
	raw, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("failed to encode request: %w", err)
	}
	payload := base64.StdEncoding.EncodeToString(raw)

	resp, err := c.httpClient.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetHeader("X-BFX-APIKEY", c.apiKey).
		SetHeader("X-BFX-PAYLOAD", payload).
		SetHeader("X-BFX-SIGNATURE", sign(c.apiSecret, payload)).
		SetBody(raw).
		Post(c.baseURL + path)
	if err != nil {
		return fmt.Errorf("failed to execute request: %w", err)
	}
	return decode(resp, out)
}

func (c *Client) nonce() int64 {
	c.nonceMu.Lock()
	defer c.nonceMu.Unlock()
	n := time.Now().UnixMicro()
	if n <= c.lastNonce {
		n = c.lastNonce + 1
	}
	c.lastNonce = n
	return n
}

func decode(resp *resty.Response, out interface{}) error {
	switch code := resp.StatusCode(); {
	case code == http.StatusTooManyRequests:
		return rest.ErrRateLimited
	case code == http.StatusNotFound:
		return rest.ErrNotFound
	case code == http.StatusBadRequest && strings.Contains(strings.ToLower(string(resp.Body())), "no such order"):
		return rest.ErrNotFound
	case code != http.StatusOK:
		return fmt.Errorf("unexpected status code: %d", code)
	}

	if err := json.Unmarshal(resp.Body(), out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

func sign(secret, payload string) string {
	mac := hmac.New(sha512.New384, []byte(secret))
	mac.Write([]byte(payload))
	return hex.EncodeToString(mac.Sum(nil))
}

func parseFloats(values ...string) ([]float64, error) {
	out := make([]float64, len(values))
	for i, v := range values {
		if v == "" {
			continue
		}
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return nil, err
		}
		out[i] = f
	}
	return out, nil
}
