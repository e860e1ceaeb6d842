package events

import (
	"errors"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/songzhibin97/tradeflux/internal/models"
)

func TestDecode_Orders(t *testing.T) {
	ts := time.Now().Truncate(time.Millisecond)
	ms := ts.UnixMilli()

	t.Run("batch", func(t *testing.T) {
		payload := []byte(`[
			[123, null, null, "tBTCUSD", 0, ` + strconv.FormatInt(ms, 10) + `, 5.0, 10.0, "", "", "", "", 0, "PARTIALLY FILLED @ 45.0(5.0)", "", "", 50.0, 45.0, ""],
			[124, null, null, "tETHUSD", 0, ` + strconv.FormatInt(ms, 10) + `, -1.0, -1.0, "", "", "", "", 0, "ACTIVE", "", "", 700.0, null, ""]
		]`)
		ev, err := Decode(CmdOrderSnapshot, payload)
		require.NoError(t, err)

		oe, ok := ev.(OrderEvent)
		require.True(t, ok)
		assert.Equal(t, OrderBatch, oe.Kind)
		require.Len(t, oe.Orders, 2)

		assert.Equal(t, models.Order{
			ID:            123,
			Symbol:        "BTCUSD",
			Price:         50,
			ExecutedPrice: 45,
			Amount:        10,
			Executed:      5,
			Remaining:     5,
			Status:        models.StatusPartiallyExecuted,
			Timestamp:     time.UnixMilli(ms),
		}, oe.Orders[0])
		assert.Equal(t, "PARTIALLY", oe.StatusText[0])

		assert.Equal(t, int64(124), oe.Orders[1].ID)
		assert.Equal(t, -1.0, oe.Orders[1].Amount)
		assert.Equal(t, 0.0, oe.Orders[1].Executed)
		assert.Equal(t, 0.0, oe.Orders[1].ExecutedPrice)
		assert.Equal(t, models.StatusActive, oe.Orders[1].Status)
	})

	t.Run("empty batch", func(t *testing.T) {
		ev, err := Decode(CmdOrderSnapshot, []byte(`[]`))
		require.NoError(t, err)
		assert.Empty(t, ev.(OrderEvent).Orders)
	})

	tests := []struct {
		name    string
		command string
		kind    OrderKind
		status  string
		want    models.OrderStatus
	}{
		{name: "new", command: CmdOrderNew, kind: OrderNew, status: "ACTIVE", want: models.StatusActive},
		{name: "update", command: CmdOrderUpdate, kind: OrderUpdate, status: "PARTIALLY FILLED", want: models.StatusPartiallyExecuted},
		{name: "update partly filled but active", command: CmdOrderUpdate, kind: OrderUpdate, status: "ACTIVE", want: models.StatusActive},
		{name: "close executed", command: CmdOrderClose, kind: OrderClose, status: "EXECUTED @ 15000.0(0.01)", want: models.StatusExecuted},
		{name: "close cancelled", command: CmdOrderClose, kind: OrderClose, status: "CANCELED", want: models.StatusCancelled},
		{name: "close unknown", command: CmdOrderClose, kind: OrderClose, status: "RSN_DUST", want: models.StatusExecuted},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			payload := []byte(`[7, null, null, "tBTCUSD", 0, ` + strconv.FormatInt(ms, 10) + `, 0.5, 1.0, "", "", "", "", 0, "` +
				tt.status + `", "", "", 15000.0, 14990.0, ""]`)
			ev, err := Decode(tt.command, payload)
			require.NoError(t, err)

			oe := ev.(OrderEvent)
			assert.Equal(t, tt.kind, oe.Kind)
			require.Len(t, oe.Orders, 1)
			assert.Equal(t, tt.want, oe.Orders[0].Status)
			assert.Equal(t, 0.5, oe.Orders[0].Executed)
			assert.Equal(t, oe.Orders[0].Amount-oe.Orders[0].Executed, oe.Orders[0].Remaining)
		})
	}
}

func TestDecode_Wallets(t *testing.T) {
	ev, err := Decode(CmdWalletSnapshot, []byte(`[
		["EXCHANGE", "USD", 100.0, 0, null],
		["exchange", "btc", 10, 0, null],
		["margin", "eth", 5.0, 0, null]
	]`))
	require.NoError(t, err)

	we := ev.(WalletEvent)
	assert.Equal(t, WalletSnapshot, we.Kind)
	assert.Equal(t, []WalletBalance{
		{Type: "exchange", Currency: "usd", Balance: 100},
		{Type: "exchange", Currency: "btc", Balance: 10},
		{Type: "margin", Currency: "eth", Balance: 5},
	}, we.Balances)

	ev, err = Decode(CmdWalletUpdate, []byte(`["exchange", "usd", 50.0, 0, null]`))
	require.NoError(t, err)
	we = ev.(WalletEvent)
	assert.Equal(t, WalletDelta, we.Kind)
	assert.Equal(t, []WalletBalance{{Type: "exchange", Currency: "usd", Balance: 50}}, we.Balances)
}

func TestDecode_Ticker(t *testing.T) {
	ev, err := Decode("tBTCUSD", []byte(`[7500.0, 1.0, 7501.0, 3.0, -1.0, -0.01, 7429.8, 26839.8, 7654.1, 7318.2]`))
	require.NoError(t, err)

	pe := ev.(PriceEvent)
	assert.Equal(t, "BTCUSD", pe.Symbol)
	assert.InDelta(t, (7500.0*1+7501.0*3)/4, pe.WeightedMid(), 1e-9)

	assert.Equal(t, 7500.5, PriceEvent{Bid: 7500, Ask: 7501}.WeightedMid())
}

func TestDecode_Errors(t *testing.T) {
	tests := []struct {
		name    string
		command string
		payload string
	}{
		{name: "invalid json", command: CmdOrderNew, payload: `[1, 2`},
		{name: "unknown command", command: "xx", payload: `[]`},
		{name: "order arity", command: CmdOrderNew, payload: `[1, null, null, "tBTCUSD"]`},
		{name: "order non numeric amount", command: CmdOrderUpdate, payload: `[1, null, null, "tBTCUSD", 0, 0, "a", 1.0, "", "", "", "", 0, "ACTIVE", "", "", 1.0, 0, ""]`},
		{name: "order not an array", command: CmdOrderClose, payload: `{"id": 1}`},
		{name: "batch with bad order", command: CmdOrderSnapshot, payload: `[[1, 2]]`},
		{name: "wallet arity", command: CmdWalletUpdate, payload: `["exchange", "usd"]`},
		{name: "wallet null balance", command: CmdWalletUpdate, payload: `["exchange", "usd", null]`},
		{name: "snapshot not array", command: CmdWalletSnapshot, payload: `"oops"`},
		{name: "ticker arity", command: "tBTCUSD", payload: `[1.0, 2.0]`},
		{name: "ticker non numeric", command: "tBTCUSD", payload: `[1.0, "x", 2.0, 1.0]`},
		{name: "bare ticker prefix", command: "t", payload: `[1.0, 1.0, 2.0, 1.0]`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ev, err := Decode(tt.command, []byte(tt.payload))
			require.Error(t, err)
			assert.Nil(t, ev)

			var de *DecodeError
			require.True(t, errors.As(err, &de))
			assert.Equal(t, tt.command, de.Command)
			assert.Contains(t, err.Error(), tt.command)
		})
	}
}
