package events

import (
	"fmt"
	"math"
	"strings"
	"time"

	simplejson "github.com/bitly/go-simplejson"

	"github.com/songzhibin97/tradeflux/internal/models"
)

// Stream commands.
const (
	CmdOrderSnapshot  = "os"
	CmdOrderNew       = "on"
	CmdOrderUpdate    = "ou"
	CmdOrderClose     = "oc"
	CmdWalletSnapshot = "ws"
	CmdWalletUpdate   = "wu"
	// CmdTickerPrefix is followed by the symbol, e.g. "tBTCUSD".
	CmdTickerPrefix = "t"
)

// order array layout
const (
	orderID        = 0
	orderSymbol    = 3
	orderUpdatedAt = 5
	orderRemaining = 6
	orderAmount    = 7
	orderStatus    = 13
	orderPrice     = 16
	orderPriceAvg  = 17
	orderArity     = 18
)

const (
	walletArity = 3
	tickerArity = 4
)

// DecodeError reports a malformed stream event.
type DecodeError struct {
	Command string
	Reason  string
	Err     error
}

func (e *DecodeError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("decode %q: %s: %v", e.Command, e.Reason, e.Err)
	}
	return fmt.Sprintf("decode %q: %s", e.Command, e.Reason)
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}

// Decode turns a raw (command, payload) stream event into a typed Event.
// It has no side effects; malformed payloads yield a *DecodeError.
func Decode(command string, payload []byte) (Event, error) {
	js, err := simplejson.NewJson(payload)
	if err != nil {
		return nil, &DecodeError{Command: command, Reason: "invalid json", Err: err}
	}

	switch command {
	case CmdOrderSnapshot:
		return decodeOrderBatch(command, js)
	case CmdOrderNew:
		return decodeSingleOrder(command, OrderNew, js)
	case CmdOrderUpdate:
		return decodeSingleOrder(command, OrderUpdate, js)
	case CmdOrderClose:
		return decodeSingleOrder(command, OrderClose, js)
	case CmdWalletSnapshot:
		return decodeWalletSnapshot(command, js)
	case CmdWalletUpdate:
		b, err := decodeWallet(command, js)
		if err != nil {
			return nil, err
		}
		return WalletEvent{Kind: WalletDelta, Balances: []WalletBalance{b}}, nil
	}

	if strings.HasPrefix(command, CmdTickerPrefix) && len(command) > len(CmdTickerPrefix) {
		return decodeTicker(command, js)
	}
	return nil, &DecodeError{Command: command, Reason: "unknown command"}
}

func decodeOrderBatch(cmd string, js *simplejson.Json) (Event, error) {
	items, err := js.Array()
	if err != nil {
		return nil, &DecodeError{Command: cmd, Reason: "expected array of orders", Err: err}
	}
	ev := OrderEvent{
		Kind:       OrderBatch,
		Orders:     make([]models.Order, 0, len(items)),
		StatusText: make([]string, 0, len(items)),
	}
	for i := range items {
		order, status, err := decodeOrder(cmd, js.GetIndex(i), false)
		if err != nil {
			return nil, err
		}
		ev.Orders = append(ev.Orders, order)
		ev.StatusText = append(ev.StatusText, status)
	}
	return ev, nil
}

func decodeSingleOrder(cmd string, kind OrderKind, js *simplejson.Json) (Event, error) {
	order, status, err := decodeOrder(cmd, js, kind == OrderClose)
	if err != nil {
		return nil, err
	}
	return OrderEvent{Kind: kind, Orders: []models.Order{order}, StatusText: []string{status}}, nil
}

func decodeOrder(cmd string, js *simplejson.Json, closing bool) (models.Order, string, error) {
	fields, err := js.Array()
	if err != nil {
		return models.Order{}, "", &DecodeError{Command: cmd, Reason: "expected order array", Err: err}
	}
	if len(fields) < orderArity {
		return models.Order{}, "", &DecodeError{
			Command: cmd,
			Reason:  fmt.Sprintf("order has %d fields, want at least %d", len(fields), orderArity),
		}
	}

	id, err := js.GetIndex(orderID).Int64()
	if err != nil {
		return models.Order{}, "", &DecodeError{Command: cmd, Reason: "order id", Err: err}
	}
	rawSymbol, err := js.GetIndex(orderSymbol).String()
	if err != nil {
		return models.Order{}, "", &DecodeError{Command: cmd, Reason: "order symbol", Err: err}
	}
	rawStatus, err := js.GetIndex(orderStatus).String()
	if err != nil {
		return models.Order{}, "", &DecodeError{Command: cmd, Reason: "order status", Err: err}
	}

	var nums [4]float64
	for i, idx := range []int{orderUpdatedAt, orderRemaining, orderAmount, orderPrice} {
		v, err := number(js.GetIndex(idx))
		if err != nil {
			return models.Order{}, "", &DecodeError{Command: cmd, Reason: fmt.Sprintf("order field %d", idx), Err: err}
		}
		nums[i] = v
	}
	ts, remaining, amount, price := nums[0], nums[1], nums[2], nums[3]

	// PRICE_AVG is null until the first fill
	var executedPrice float64
	if avg := js.GetIndex(orderPriceAvg); avg.Interface() != nil {
		if executedPrice, err = number(avg); err != nil {
			return models.Order{}, "", &DecodeError{Command: cmd, Reason: "order average price", Err: err}
		}
	}

	symbol := strings.ToUpper(strings.TrimPrefix(rawSymbol, "t"))
	executed := amount - remaining
	word := models.LeadingWord(rawStatus)

	status := models.ParseStatus(word, closing)

	return models.Order{
		ID:            id,
		Symbol:        symbol,
		Price:         price,
		ExecutedPrice: executedPrice,
		Amount:        amount,
		Executed:      executed,
		Remaining:     remaining,
		Status:        status,
		Timestamp:     time.UnixMilli(int64(math.Round(ts))),
	}, word, nil
}

func decodeWalletSnapshot(cmd string, js *simplejson.Json) (Event, error) {
	items, err := js.Array()
	if err != nil {
		return nil, &DecodeError{Command: cmd, Reason: "expected array of wallets", Err: err}
	}
	ev := WalletEvent{Kind: WalletSnapshot, Balances: make([]WalletBalance, 0, len(items))}
	for i := range items {
		b, err := decodeWallet(cmd, js.GetIndex(i))
		if err != nil {
			return nil, err
		}
		ev.Balances = append(ev.Balances, b)
	}
	return ev, nil
}

func decodeWallet(cmd string, js *simplejson.Json) (WalletBalance, error) {
	fields, err := js.Array()
	if err != nil {
		return WalletBalance{}, &DecodeError{Command: cmd, Reason: "expected wallet array", Err: err}
	}
	if len(fields) < walletArity {
		return WalletBalance{}, &DecodeError{
			Command: cmd,
			Reason:  fmt.Sprintf("wallet has %d fields, want at least %d", len(fields), walletArity),
		}
	}
	walletType, err := js.GetIndex(0).String()
	if err != nil {
		return WalletBalance{}, &DecodeError{Command: cmd, Reason: "wallet type", Err: err}
	}
	currency, err := js.GetIndex(1).String()
	if err != nil {
		return WalletBalance{}, &DecodeError{Command: cmd, Reason: "wallet currency", Err: err}
	}
	balance, err := number(js.GetIndex(2))
	if err != nil {
		return WalletBalance{}, &DecodeError{Command: cmd, Reason: "wallet balance", Err: err}
	}
	return WalletBalance{
		Type:     strings.ToLower(walletType),
		Currency: strings.ToLower(currency),
		Balance:  balance,
	}, nil
}

func decodeTicker(cmd string, js *simplejson.Json) (Event, error) {
	fields, err := js.Array()
	if err != nil {
		return nil, &DecodeError{Command: cmd, Reason: "expected ticker array", Err: err}
	}
	if len(fields) < tickerArity {
		return nil, &DecodeError{
			Command: cmd,
			Reason:  fmt.Sprintf("ticker has %d fields, want at least %d", len(fields), tickerArity),
		}
	}
	var nums [tickerArity]float64
	for i := range nums {
		v, err := number(js.GetIndex(i))
		if err != nil {
			return nil, &DecodeError{Command: cmd, Reason: fmt.Sprintf("ticker field %d", i), Err: err}
		}
		nums[i] = v
	}
	return PriceEvent{
		Symbol:  strings.ToUpper(strings.TrimPrefix(cmd, CmdTickerPrefix)),
		Bid:     nums[0],
		BidSize: math.Abs(nums[1]),
		Ask:     nums[2],
		AskSize: math.Abs(nums[3]),
	}, nil
}

// number reads a JSON number, rejecting null, strings and non-finite values.
func number(js *simplejson.Json) (float64, error) {
	if js.Interface() == nil {
		return 0, fmt.Errorf("missing number")
	}
	v, err := js.Float64()
	if err != nil {
		return 0, err
	}
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, fmt.Errorf("non-finite number")
	}
	return v, nil
}
