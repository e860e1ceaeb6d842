package trader

import (
	"context"
	"encoding/json"
	"errors"
	"sort"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/songzhibin97/tradeflux/internal/models"
	"github.com/songzhibin97/tradeflux/internal/rest"
	"github.com/songzhibin97/tradeflux/internal/trading"
)

var base = time.UnixMilli(1_700_000_000_000)

type fakeTransport struct {
	mock.Mock

	orders  chan trading.Message
	wallets chan trading.Message
	tickers chan trading.Message

	connects atomic.Int32

	mu   sync.Mutex
	done chan struct{}
	err  error
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{
		orders:  make(chan trading.Message, 64),
		wallets: make(chan trading.Message, 64),
		tickers: make(chan trading.Message, 64),
		done:    make(chan struct{}),
	}
}

func (f *fakeTransport) Connect(ctx context.Context) error {
	args := f.Called(ctx)
	f.connects.Add(1)
	f.mu.Lock()
	select {
	case <-f.done:
		f.done = make(chan struct{})
		f.err = nil
	default:
	}
	f.mu.Unlock()
	return args.Error(0)
}

func (f *fakeTransport) Authenticate(ctx context.Context) error {
	return f.Called(ctx).Error(0)
}

func (f *fakeTransport) Orders() <-chan trading.Message  { return f.orders }
func (f *fakeTransport) Wallets() <-chan trading.Message { return f.wallets }
func (f *fakeTransport) Tickers() <-chan trading.Message { return f.tickers }

func (f *fakeTransport) SubscribeTicker(ctx context.Context, symbol string) error {
	return f.Called(ctx, symbol).Error(0)
}

func (f *fakeTransport) UnsubscribeTicker(ctx context.Context, symbol string) error {
	return f.Called(ctx, symbol).Error(0)
}

func (f *fakeTransport) NewOrder(ctx context.Context, req *trading.NewOrderRequest) error {
	return f.Called(ctx, req).Error(0)
}

func (f *fakeTransport) CancelOrder(ctx context.Context, id int64) error {
	return f.Called(ctx, id).Error(0)
}

func (f *fakeTransport) Done() <-chan struct{} {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.done
}

func (f *fakeTransport) Err() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.err
}

func (f *fakeTransport) Close() error {
	return f.Called().Error(0)
}

func (f *fakeTransport) drop(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.err = err
	close(f.done)
}

func (f *fakeTransport) feed(msgs ...trading.Message) {
	for _, m := range msgs {
		switch {
		case m.Command == "ws" || m.Command == "wu":
			f.wallets <- m
		case m.Command[0] == 't':
			f.tickers <- m
		default:
			f.orders <- m
		}
	}
}

type restStub struct {
	mock.Mock
}

func (r *restStub) Balances(ctx context.Context) (map[string]float64, error) {
	args := r.Called(ctx)
	b, _ := args.Get(0).(map[string]float64)
	return b, args.Error(1)
}

func (r *restStub) OrderStatus(ctx context.Context, symbol string, id int64) (*rest.OrderStatus, error) {
	args := r.Called(ctx, symbol, id)
	s, _ := args.Get(0).(*rest.OrderStatus)
	return s, args.Error(1)
}

func (r *restStub) Ticker(ctx context.Context, symbol string) (float64, error) {
	args := r.Called(ctx, symbol)
	return args.Get(0).(float64), args.Error(1)
}

func (r *restStub) Symbols(ctx context.Context) ([]string, error) {
	args := r.Called(ctx)
	s, _ := args.Get(0).([]string)
	return s, args.Error(1)
}

func orderFields(id int64, symbol string, amount, remaining, price float64, status string, ts time.Time) []interface{} {
	f := make([]interface{}, 18)
	f[0] = id
	f[3] = "t" + symbol
	f[5] = ts.UnixMilli()
	f[6] = remaining
	f[7] = amount
	f[13] = status
	f[16] = price
	if remaining != amount {
		f[17] = price
	}
	return f
}

func orderMsg(cmd string, id int64, symbol string, amount, remaining, price float64, status string, ts time.Time) trading.Message {
	b, _ := json.Marshal(orderFields(id, symbol, amount, remaining, price, status, ts))
	return trading.Message{Command: cmd, Payload: b}
}

func walletMsg(balances map[string]float64) trading.Message {
	var rows [][]interface{}
	for cur, v := range balances {
		rows = append(rows, []interface{}{"exchange", cur, v, 0, nil})
	}
	b, _ := json.Marshal(rows)
	return trading.Message{Command: "ws", Payload: b}
}

func tickerMsg(symbol string, price float64) trading.Message {
	b, _ := json.Marshal([]float64{price, 1, price, 1})
	return trading.Message{Command: "t" + symbol, Payload: b}
}

func newConnected(t *testing.T, opts ...Option) (*Trader, *fakeTransport) {
	t.Helper()
	ft := newFakeTransport()
	ft.On("Connect", mock.Anything).Return(nil)
	ft.On("Authenticate", mock.Anything).Return(nil)
	ft.On("SubscribeTicker", mock.Anything, mock.Anything).Return(nil).Maybe()
	ft.On("UnsubscribeTicker", mock.Anything, mock.Anything).Return(nil).Maybe()
	ft.On("Close").Return(nil).Maybe()

	tr := New(ft, opts...)
	require.NoError(t, tr.Connect(context.Background()))
	t.Cleanup(func() { _ = tr.Close() })
	return tr, ft
}

// fund seeds wallets and prices and waits until they are applied.
func fund(t *testing.T, tr *Trader, ft *fakeTransport, balances map[string]float64, prices map[string]float64) {
	t.Helper()
	ft.feed(walletMsg(balances))
	for sym, p := range prices {
		ft.feed(tickerMsg(sym, p))
	}
	require.Eventually(t, func() bool {
		return len(tr.Wallets()) == len(balances) && len(tr.Prices()) == len(prices)
	}, time.Second, time.Millisecond)
}

// confirmNew makes the fake exchange acknowledge every new order with the given ids in turn.
func confirmNew(ft *fakeTransport, ids ...int64) *[]*trading.NewOrderRequest {
	var (
		mu   sync.Mutex
		next int
		seen []*trading.NewOrderRequest
	)
	ft.On("NewOrder", mock.Anything, mock.Anything).Run(func(args mock.Arguments) {
		r := args.Get(1).(*trading.NewOrderRequest)
		mu.Lock()
		id := ids[next]
		next++
		seen = append(seen, r)
		mu.Unlock()
		ft.feed(orderMsg("on", id, r.Symbol, r.Amount, r.Amount, r.Price, "ACTIVE", base))
	}).Return(nil)
	return &seen
}

func TestSubmitOrder_DollarAmount(t *testing.T) {
	tr, ft := newConnected(t)
	fund(t, tr, ft, map[string]float64{"usd": 10000}, map[string]float64{"BTCUSD": 15000})
	seen := confirmNew(ft, 555)

	id, err := tr.SubmitOrder(context.Background(), OrderRequest{Symbol: "btc", Price: 15000, DollarAmount: 1000})
	require.NoError(t, err)
	assert.Equal(t, int64(555), id)

	require.Len(t, *seen, 1)
	req := (*seen)[0]
	assert.Equal(t, "BTCUSD", req.Symbol)
	assert.Equal(t, 0.06666667, req.Amount)
	assert.Equal(t, 15000.0, req.Price)
	assert.Equal(t, trading.OrderTypeLimit, req.OrderType)

	require.Eventually(t, func() bool { return len(tr.Orders()) == 1 }, time.Second, time.Millisecond)
	assert.InDelta(t, 9000.0, tr.AvailableBalances()["usd"], 0.001)
}

func TestSubmitOrder_InvalidArguments(t *testing.T) {
	tr, ft := newConnected(t)
	fund(t, tr, ft, map[string]float64{"usd": 10000}, map[string]float64{"BTCUSD": 15000})

	cases := []struct {
		name string
		req  OrderRequest
	}{
		{"two sizing modes", OrderRequest{Symbol: "BTCUSD", Price: 15000, DollarAmount: 100, Ratio: 0.5}},
		{"no sizing", OrderRequest{Symbol: "BTCUSD", Price: 15000}},
		{"unknown trade type", OrderRequest{Symbol: "BTCUSD", Price: 15000, DollarAmount: 100, TradeType: "stop"}},
		{"no symbol", OrderRequest{Price: 15000, DollarAmount: 100}},
		{"price below a cent", OrderRequest{Symbol: "BTCUSD", Price: 0.001, DollarAmount: 100}},
		{"market without price", OrderRequest{Symbol: "ETHUSD", Market: true, DollarAmount: 100}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := tr.SubmitOrder(context.Background(), tc.req)
			assert.ErrorIs(t, err, ErrInvalidArgument)
		})
	}
	ft.AssertNotCalled(t, "NewOrder", mock.Anything, mock.Anything)
}

func TestSubmitOrder_RiskRejections(t *testing.T) {
	tr, ft := newConnected(t)
	fund(t, tr, ft, map[string]float64{"usd": 10000}, map[string]float64{"BTCUSD": 15000})

	_, err := tr.SubmitOrder(context.Background(), OrderRequest{Symbol: "BTCUSD", Price: 15000, DollarAmount: 10})
	assert.ErrorIs(t, err, ErrBelowMinimum)

	_, err = tr.SubmitOrder(context.Background(), OrderRequest{Symbol: "BTCUSD", Price: 15000, DollarAmount: 20000})
	assert.ErrorIs(t, err, ErrInsufficientFunds)

	_, err = tr.SubmitOrder(context.Background(), OrderRequest{Symbol: "BTCUSD", Price: 15000, Ratio: -0.5})
	assert.ErrorIs(t, err, ErrBelowMinimum, "no btc to sell")

	ft.AssertNotCalled(t, "NewOrder", mock.Anything, mock.Anything)
}

func TestSubmitOrder_Sizing(t *testing.T) {
	cases := []struct {
		name   string
		req    OrderRequest
		amount float64
		price  float64
	}{
		{"ratio sell", OrderRequest{Symbol: "BTCUSD", Price: 15000, Ratio: -0.5}, -0.5, 15000},
		{"ratio buy", OrderRequest{Symbol: "BTCUSD", Price: 10000, Ratio: 0.25}, 0.25, 10000},
		{"value ratio capped", OrderRequest{Symbol: "BTCUSD", Price: 10000, ValueRatio: 2}, 1, 10000},
		{"value ratio sell", OrderRequest{Symbol: "BTCUSD", Price: 10000, ValueRatio: -0.1}, -0.25, 10000},
		{"pad buy", OrderRequest{Symbol: "BTCUSD", Price: 1000, DollarAmount: 1100, PadPrice: 0.1}, 1, 1100},
		{"pad sell", OrderRequest{Symbol: "BTCUSD", Price: 1000, DollarAmount: -90, PadPrice: 0.1}, -0.1, 900},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			tr, ft := newConnected(t)
			// usd 10000 + 1 btc at 15000 = 25000 total value
			fund(t, tr, ft, map[string]float64{"usd": 10000, "btc": 1}, map[string]float64{"BTCUSD": 15000})
			seen := confirmNew(ft, 1)

			_, err := tr.SubmitOrder(context.Background(), tc.req)
			require.NoError(t, err)
			require.Len(t, *seen, 1)
			assert.InDelta(t, tc.amount, (*seen)[0].Amount, 1e-9)
			assert.InDelta(t, tc.price, (*seen)[0].Price, 1e-9)
		})
	}
}

func TestSubmitOrder_MarketPrice(t *testing.T) {
	t.Run("tick price", func(t *testing.T) {
		tr, ft := newConnected(t)
		fund(t, tr, ft, map[string]float64{"usd": 10000}, map[string]float64{"BTCUSD": 20000})
		seen := confirmNew(ft, 1)

		_, err := tr.SubmitOrder(context.Background(), OrderRequest{Symbol: "BTCUSD", Price: 1, Market: true, DollarAmount: 1000})
		require.NoError(t, err)
		assert.Equal(t, 20000.0, (*seen)[0].Price)
		assert.Equal(t, trading.OrderTypeMarket, (*seen)[0].OrderType)
	})

	t.Run("rest fallback", func(t *testing.T) {
		rs := new(restStub)
		rs.On("Ticker", mock.Anything, "ETHUSD").Return(2000.0, nil).Once()
		tr, ft := newConnected(t, WithRESTClient(rs))
		fund(t, tr, ft, map[string]float64{"usd": 10000}, map[string]float64{"BTCUSD": 20000})
		seen := confirmNew(ft, 1)

		_, err := tr.SubmitOrder(context.Background(), OrderRequest{Symbol: "eth", TradeType: "MARKET", DollarAmount: 1000})
		require.NoError(t, err)
		assert.Equal(t, 0.5, (*seen)[0].Amount)
		rs.AssertExpectations(t)
	})
}

func TestSubmitOrder_ImmediateFill(t *testing.T) {
	tr, ft := newConnected(t)
	fund(t, tr, ft, map[string]float64{"usd": 10000}, map[string]float64{"BTCUSD": 15000})

	// an earlier execution with the same symbol and amount must not be picked up
	ft.feed(
		orderMsg("on", 100, "BTCUSD", 0.01, 0.01, 15000, "ACTIVE", base),
		orderMsg("oc", 100, "BTCUSD", 0.01, 0, 15000, "EXECUTED @ 15000.0(0.01)", base),
	)
	require.Eventually(t, func() bool { return len(tr.ExecutedOrders()) == 1 }, time.Second, time.Millisecond)

	ft.On("NewOrder", mock.Anything, mock.Anything).Run(func(args mock.Arguments) {
		r := args.Get(1).(*trading.NewOrderRequest)
		ft.feed(
			orderMsg("on", 200, r.Symbol, r.Amount, r.Amount, r.Price, "ACTIVE", base),
			orderMsg("oc", 200, r.Symbol, r.Amount, 0, r.Price, "EXECUTED @ 15000.0(0.01)", base),
		)
	}).Return(nil)

	id, err := tr.SubmitOrder(context.Background(), OrderRequest{Symbol: "BTCUSD", Price: 15000, DollarAmount: 150})
	require.NoError(t, err)
	assert.Equal(t, int64(200), id)

	o, err := tr.WaitExecution(context.Background(), id, time.Second)
	require.NoError(t, err)
	assert.Equal(t, models.StatusExecuted, o.Status)
	assert.Empty(t, tr.Orders())
}

func TestSubmitOrder_ConcurrentSubmittersGetDistinctIDs(t *testing.T) {
	tr, ft := newConnected(t)
	fund(t, tr, ft, map[string]float64{"usd": 10000}, map[string]float64{"BTCUSD": 15000})
	confirmNew(ft, 1001, 1002, 1003)

	var wg sync.WaitGroup
	ids := make([]int64, 3)
	errs := make([]error, 3)
	for i := range ids {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			ids[i], errs[i] = tr.SubmitOrder(context.Background(), OrderRequest{Symbol: "BTCUSD", Price: 15000, DollarAmount: 150})
		}(i)
	}
	wg.Wait()

	for _, err := range errs {
		require.NoError(t, err)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	assert.Equal(t, []int64{1001, 1002, 1003}, ids)
}

func TestSubmitOrder_CorrelationTimeout(t *testing.T) {
	tr, ft := newConnected(t, WithCorrelationTimeout(20*time.Millisecond))
	fund(t, tr, ft, map[string]float64{"usd": 10000}, map[string]float64{"BTCUSD": 15000})
	ft.On("NewOrder", mock.Anything, mock.Anything).Return(nil)

	_, err := tr.SubmitOrder(context.Background(), OrderRequest{Symbol: "BTCUSD", Price: 15000, DollarAmount: 150})
	assert.ErrorIs(t, err, ErrTimeout)
}

func TestSubmitOrder_SkipCorrelation(t *testing.T) {
	tr, ft := newConnected(t)
	fund(t, tr, ft, map[string]float64{"usd": 10000}, map[string]float64{"BTCUSD": 15000})
	ft.On("NewOrder", mock.Anything, mock.Anything).Return(nil)

	id, err := tr.SubmitOrder(context.Background(), OrderRequest{Symbol: "BTCUSD", Price: 15000, DollarAmount: 150, SkipCorrelation: true})
	require.NoError(t, err)
	assert.Zero(t, id)
}

func TestSubmitOrder_TransportError(t *testing.T) {
	tr, ft := newConnected(t)
	fund(t, tr, ft, map[string]float64{"usd": 10000}, map[string]float64{"BTCUSD": 15000})
	ft.On("NewOrder", mock.Anything, mock.Anything).Return(errors.New("broken pipe"))

	_, err := tr.SubmitOrder(context.Background(), OrderRequest{Symbol: "BTCUSD", Price: 15000, DollarAmount: 150})
	assert.ErrorIs(t, err, ErrTransport)
}

func TestWaitExecution(t *testing.T) {
	tr, ft := newConnected(t)
	ft.feed(orderMsg("on", 7, "BTCUSD", 1, 1, 100, "ACTIVE", base))

	go func() {
		time.Sleep(10 * time.Millisecond)
		ft.feed(orderMsg("oc", 7, "BTCUSD", 1, 0, 100, "EXECUTED @ 100.0(1.0)", base))
	}()

	o, err := tr.WaitExecution(context.Background(), 7, time.Second)
	require.NoError(t, err)
	assert.Equal(t, int64(7), o.ID)
	assert.Equal(t, 1.0, o.Executed)

	_, err = tr.WaitExecution(context.Background(), 8, 20*time.Millisecond)
	assert.ErrorIs(t, err, ErrTimeout)
}

func TestCancelOlderThan(t *testing.T) {
	tr, ft := newConnected(t, WithClock(func() time.Time { return base.Add(time.Second) }))

	rows := make([][]interface{}, 0, 10)
	for i := 0; i < 10; i++ {
		rows = append(rows, orderFields(int64(i+1), "BTCUSD", 1, 1, 100, "ACTIVE", base.Add(-time.Duration(i)*10*time.Second)))
	}
	b, _ := json.Marshal(rows)
	ft.feed(trading.Message{Command: "os", Payload: b})
	require.Eventually(t, func() bool { return len(tr.Orders()) == 10 }, time.Second, time.Millisecond)

	ft.On("CancelOrder", mock.Anything, mock.Anything).Run(func(args mock.Arguments) {
		id := args.Get(1).(int64)
		ft.feed(orderMsg("oc", id, "BTCUSD", 1, 1, 100, "CANCELED", base))
	}).Return(nil)

	n, err := tr.CancelOlderThan(context.Background(), 50*time.Second)
	require.NoError(t, err)
	assert.Equal(t, 5, n)
	require.Eventually(t, func() bool { return len(tr.Orders()) == 5 }, time.Second, time.Millisecond)
	for _, o := range tr.Orders() {
		assert.LessOrEqual(t, o.ID, int64(5))
	}

	n, err = tr.CancelOlderThan(context.Background(), 0)
	require.NoError(t, err)
	assert.Equal(t, 5, n)
	require.Eventually(t, func() bool { return len(tr.Orders()) == 0 }, time.Second, time.Millisecond)
	assert.Empty(t, tr.ExecutedOrders())
}

func TestTransportDropWakesWaiters(t *testing.T) {
	tr, ft := newConnected(t)

	errc := make(chan error, 1)
	go func() {
		_, err := tr.WaitExecution(context.Background(), 42, 0)
		errc <- err
	}()

	ft.drop(errors.New("connection reset by peer"))

	select {
	case err := <-errc:
		assert.ErrorIs(t, err, ErrTransport)
	case <-time.After(time.Second):
		t.Fatal("waiter was not woken")
	}
	assert.ErrorIs(t, tr.Err(), ErrTransport)

	_, err := tr.SubmitOrder(context.Background(), OrderRequest{Symbol: "BTCUSD", Price: 100, DollarAmount: 100})
	assert.ErrorIs(t, err, ErrTransport)
}

func TestReconnect(t *testing.T) {
	tr, ft := newConnected(t, WithReconnect(3, time.Millisecond, 2*time.Millisecond))
	require.NoError(t, tr.Subscribe(context.Background(), "btc"))

	ft.drop(errors.New("eof"))
	require.Eventually(t, func() bool { return ft.connects.Load() == 2 }, time.Second, time.Millisecond)

	ft.feed(walletMsg(map[string]float64{"usd": 5}))
	require.Eventually(t, func() bool { return tr.Wallets()["usd"] == 5 }, time.Second, time.Millisecond)
	assert.NoError(t, tr.Err())
	ft.AssertNumberOfCalls(t, "SubscribeTicker", 2)
}

func TestReconnect_ResolvesOrdersMissingFromResync(t *testing.T) {
	rs := new(restStub)
	rs.On("OrderStatus", mock.Anything, "BTCUSD", int64(5)).Return(&rest.OrderStatus{
		ID: 5, Symbol: "BTCUSD", Price: 100, ExecutedPrice: 101, Amount: 1, Executed: 1,
	}, nil).Once()
	rs.On("OrderStatus", mock.Anything, "ETHUSD", int64(6)).Return(&rest.OrderStatus{
		ID: 6, Symbol: "ETHUSD", Price: 700, Amount: -2, Cancelled: true,
	}, nil).Once()

	var (
		mu      sync.Mutex
		actions []models.AuditAction
	)
	tr, ft := newConnected(t,
		WithRESTClient(rs),
		WithReconnect(3, time.Millisecond, 2*time.Millisecond),
		WithAuditHook(func(e models.AuditEntry) {
			mu.Lock()
			actions = append(actions, e.Action)
			mu.Unlock()
		}),
	)
	ft.feed(
		orderMsg("on", 5, "BTCUSD", 1, 1, 100, "ACTIVE", base),
		orderMsg("on", 6, "ETHUSD", -2, -2, 700, "ACTIVE", base),
		orderMsg("on", 7, "BTCUSD", 0.5, 0.5, 90, "ACTIVE", base),
	)
	require.Eventually(t, func() bool { return len(tr.Orders()) == 3 }, time.Second, time.Millisecond)

	ft.drop(errors.New("eof"))
	require.Eventually(t, func() bool { return ft.connects.Load() == 2 }, time.Second, time.Millisecond)

	// both 5 and 6 closed while the stream was down
	snapshot, _ := json.Marshal([][]interface{}{orderFields(7, "BTCUSD", 0.5, 0.5, 90, "ACTIVE", base)})
	ft.feed(trading.Message{Command: "os", Payload: snapshot})

	o, err := tr.WaitExecution(context.Background(), 5, time.Second)
	require.NoError(t, err)
	assert.Equal(t, models.StatusExecuted, o.Status)
	assert.Equal(t, 1.0, o.Executed)
	assert.Equal(t, 0.0, o.Remaining)
	assert.Equal(t, 101.0, o.ExecutedPrice)

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(actions) == 5
	}, time.Second, time.Millisecond)
	mu.Lock()
	assert.ElementsMatch(t, []models.AuditAction{
		models.AuditSubmitted, models.AuditSubmitted, models.AuditSubmitted,
		models.AuditExecuted, models.AuditCancelled,
	}, actions)
	mu.Unlock()

	require.Len(t, tr.ExecutedOrders(), 1)
	open := tr.Orders()
	require.Len(t, open, 1)
	assert.Equal(t, int64(7), open[0].ID)
	rs.AssertExpectations(t)
}

func TestResyncWithoutRESTClient(t *testing.T) {
	tr, ft := newConnected(t)
	ft.feed(orderMsg("on", 5, "BTCUSD", 1, 1, 100, "ACTIVE", base))
	require.Eventually(t, func() bool { return len(tr.Orders()) == 1 }, time.Second, time.Millisecond)

	ft.feed(trading.Message{Command: "os", Payload: []byte(`[]`)})
	require.Eventually(t, func() bool { return len(tr.Orders()) == 0 }, time.Second, time.Millisecond)
	assert.Empty(t, tr.ExecutedOrders())
	assert.NoError(t, tr.Err())
}

func TestConnect_FailureReleasesContext(t *testing.T) {
	ft := newFakeTransport()
	ft.On("Connect", mock.Anything).Return(errors.New("dial tcp: connection refused")).Once()
	ft.On("Connect", mock.Anything).Return(nil)
	ft.On("Authenticate", mock.Anything).Return(nil)
	ft.On("Close").Return(nil).Maybe()

	tr := New(ft)
	err := tr.Connect(context.Background())
	require.ErrorIs(t, err, ErrTransport)

	tr.mu.Lock()
	assert.Nil(t, tr.ctx)
	assert.Nil(t, tr.cancel)
	assert.False(t, tr.running)
	tr.mu.Unlock()

	require.NoError(t, tr.Connect(context.Background()))
	t.Cleanup(func() { _ = tr.Close() })

	tr.mu.Lock()
	ctx := tr.ctx
	tr.mu.Unlock()
	require.NotNil(t, ctx)
	assert.NoError(t, ctx.Err())
	assert.Equal(t, int32(2), ft.connects.Load())
}

func TestMalformedEventsAreDropped(t *testing.T) {
	tr, ft := newConnected(t)
	ft.feed(
		trading.Message{Command: "on", Payload: []byte(`{"not":"an order"}`)},
		trading.Message{Command: "tBTCUSD", Payload: []byte(`[1,2]`)},
		walletMsg(map[string]float64{"usd": 10}),
	)
	require.Eventually(t, func() bool { return tr.Wallets()["usd"] == 10 }, time.Second, time.Millisecond)
	assert.Empty(t, tr.Orders())
	assert.Empty(t, tr.Prices())
}

func TestAuditHook(t *testing.T) {
	var (
		mu      sync.Mutex
		entries []models.AuditEntry
	)
	_, ft := newConnected(t, WithAuditHook(func(e models.AuditEntry) {
		mu.Lock()
		entries = append(entries, e)
		mu.Unlock()
	}))

	ft.feed(
		orderMsg("on", 1, "BTCUSD", 1, 1, 100, "ACTIVE", base),
		orderMsg("oc", 1, "BTCUSD", 1, 0, 100, "EXECUTED @ 100.0(1.0)", base),
	)
	// hooks run after the store unlocks
	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(entries) == 2
	}, time.Second, time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, models.AuditSubmitted, entries[0].Action)
	assert.Equal(t, models.AuditExecuted, entries[1].Action)
}

func TestClose(t *testing.T) {
	tr, ft := newConnected(t)
	require.NoError(t, tr.Subscribe(context.Background(), "BTCUSD"))
	require.NoError(t, tr.Subscribe(context.Background(), "btcusd"))

	errc := make(chan error, 1)
	go func() {
		_, err := tr.WaitExecution(context.Background(), 1, 0)
		errc <- err
	}()

	require.NoError(t, tr.Close())
	require.NoError(t, tr.Close())

	assert.ErrorIs(t, <-errc, ErrClosed)
	ft.AssertCalled(t, "UnsubscribeTicker", mock.Anything, "BTCUSD")
	ft.AssertNumberOfCalls(t, "SubscribeTicker", 1)
	ft.AssertNumberOfCalls(t, "Close", 1)

	_, err := tr.SubmitOrder(context.Background(), OrderRequest{Symbol: "BTCUSD", Price: 100, DollarAmount: 100})
	assert.ErrorIs(t, err, ErrClosed)
	assert.ErrorIs(t, tr.Connect(context.Background()), ErrClosed)
}

func TestNotConnected(t *testing.T) {
	tr := New(newFakeTransport())
	_, err := tr.SubmitOrder(context.Background(), OrderRequest{Symbol: "BTCUSD", Price: 100, DollarAmount: 100})
	assert.ErrorIs(t, err, ErrNotConnected)
	assert.ErrorIs(t, tr.Cancel(context.Background(), 1), ErrNotConnected)
}
