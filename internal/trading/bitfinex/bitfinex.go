package bitfinex

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha512"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"

	"github.com/songzhibin97/tradeflux/internal/logger"
	"github.com/songzhibin97/tradeflux/internal/trading"
)

const (
	DefaultURL = "wss://api.bitfinex.com/ws/2"

	defaultBufferSize   = 256
	defaultWriteTimeout = 5 * time.Second
)

// ErrAuthFailed is returned when the exchange rejects the api key.
var ErrAuthFailed = errors.New("authentication failed")

// Config 连接配置
type Config struct {
	URL          string
	APIKey       string
	APISecret    string
	WriteTimeout time.Duration
	BufferSize   int
	Dialer       *websocket.Dialer
	Logger       logger.Logger
	// Nonce returns a strictly increasing authentication nonce.
	Nonce func() int64
}

// session is a single websocket connection.
type session struct {
	conn *websocket.Conn
	done chan struct{}
	once sync.Once
	err  error
}

func (s *session) fail(err error) {
	s.once.Do(func() {
		s.err = err
		close(s.done)
	})
}

// Transport implements trading.Transport over the Bitfinex v2 websocket API
type Transport struct {
	cfg Config
	log logger.Logger

	orders  chan trading.Message
	wallets chan trading.Message
	tickers chan trading.Message

	mu       sync.Mutex
	sess     *session
	closed   bool
	chans    map[int64]string // chanId -> symbol
	subs     map[string]int64 // symbol -> chanId
	authResp chan error

	writeMu sync.Mutex
}

// NewTransport creates a Transport. It does not connect.
func NewTransport(cfg Config) *Transport {
	if cfg.URL == "" {
		cfg.URL = DefaultURL
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = defaultWriteTimeout
	}
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = defaultBufferSize
	}
	if cfg.Dialer == nil {
		cfg.Dialer = websocket.DefaultDialer
	}
	if cfg.Nonce == nil {
		cfg.Nonce = func() int64 { return time.Now().UnixMicro() }
	}
	log := cfg.Logger
	if log == nil {
		log = logger.Nop()
	}

	return &Transport{
		cfg:     cfg,
		log:     log,
		orders:  make(chan trading.Message, cfg.BufferSize),
		wallets: make(chan trading.Message, cfg.BufferSize),
		tickers: make(chan trading.Message, cfg.BufferSize),
		chans:   make(map[int64]string),
		subs:    make(map[string]int64),
	}
}

func (t *Transport) Connect(ctx context.Context) error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return trading.ErrClosed
	}
	t.mu.Unlock()

	conn, _, err := t.cfg.Dialer.DialContext(ctx, t.cfg.URL, nil)
	if err != nil {
		return fmt.Errorf("failed to dial %s: %w", t.cfg.URL, err)
	}

	sess := &session{conn: conn, done: make(chan struct{})}

	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		conn.Close()
		return trading.ErrClosed
	}
	if t.sess != nil {
		t.sess.fail(errors.New("replaced by new connection"))
		t.sess.conn.Close()
	}
	t.sess = sess
	t.chans = make(map[int64]string)
	t.subs = make(map[string]int64)
	t.mu.Unlock()

	go t.readLoop(sess)

	t.log.Info("Connected to exchange stream", "url", t.cfg.URL)
	return nil
}

func (t *Transport) Authenticate(ctx context.Context) error {
	if t.cfg.APIKey == "" || t.cfg.APISecret == "" {
		return fmt.Errorf("%w: api key and secret are required", ErrAuthFailed)
	}

	nonce := strconv.FormatInt(t.cfg.Nonce(), 10)
	payload := "AUTH" + nonce

	resp := make(chan error, 1)
	t.mu.Lock()
	t.authResp = resp
	sess := t.sess
	t.mu.Unlock()
	if sess == nil {
		return fmt.Errorf("failed to authenticate: not connected")
	}

	msg := map[string]interface{}{
		"event":       "auth",
		"apiKey":      t.cfg.APIKey,
		"authSig":     Sign(t.cfg.APISecret, payload),
		"authPayload": payload,
		"authNonce":   nonce,
	}
	if err := t.write(sess, msg); err != nil {
		return fmt.Errorf("failed to send auth: %w", err)
	}

	select {
	case err := <-resp:
		return err
	case <-sess.done:
		return fmt.Errorf("failed to authenticate: %w", sess.err)
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (t *Transport) Orders() <-chan trading.Message  { return t.orders }
func (t *Transport) Wallets() <-chan trading.Message { return t.wallets }
func (t *Transport) Tickers() <-chan trading.Message { return t.tickers }

func (t *Transport) SubscribeTicker(ctx context.Context, symbol string) error {
	sess, err := t.current()
	if err != nil {
		return err
	}
	return t.write(sess, map[string]interface{}{
		"event":   "subscribe",
		"channel": "ticker",
		"symbol":  "t" + strings.ToUpper(symbol),
	})
}

func (t *Transport) UnsubscribeTicker(ctx context.Context, symbol string) error {
	sess, err := t.current()
	if err != nil {
		return err
	}

	t.mu.Lock()
	chanID, ok := t.subs[strings.ToUpper(symbol)]
	t.mu.Unlock()
	if !ok {
		return nil
	}
	return t.write(sess, map[string]interface{}{
		"event":  "unsubscribe",
		"chanId": chanID,
	})
}

func (t *Transport) NewOrder(ctx context.Context, req *trading.NewOrderRequest) error {
	sess, err := t.current()
	if err != nil {
		return err
	}
	cid := req.ClientID
	if cid == 0 {
		cid = time.Now().UnixMilli()
	}
	return t.write(sess, []interface{}{0, "on", nil, map[string]interface{}{
		"cid":    cid,
		"type":   req.ExchangeOrderType(),
		"symbol": "t" + strings.ToUpper(req.Symbol),
		"amount": decimal.NewFromFloat(req.Amount).StringFixed(8),
		"price":  decimal.NewFromFloat(req.Price).StringFixed(2),
	}})
}

func (t *Transport) CancelOrder(ctx context.Context, id int64) error {
	sess, err := t.current()
	if err != nil {
		return err
	}
	return t.write(sess, []interface{}{0, "oc", nil, map[string]interface{}{"id": id}})
}

// Done returns the current connection's done channel, nil before Connect.
func (t *Transport) Done() <-chan struct{} {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.sess == nil {
		return nil
	}
	return t.sess.done
}

func (t *Transport) Err() error {
	t.mu.Lock()
	sess := t.sess
	t.mu.Unlock()
	if sess == nil {
		return nil
	}
	select {
	case <-sess.done:
		return sess.err
	default:
		return nil
	}
}

func (t *Transport) Close() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	sess := t.sess
	t.mu.Unlock()

	if sess == nil {
		return nil
	}

	sess.fail(trading.ErrClosed)

	t.writeMu.Lock()
	_ = sess.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(t.cfg.WriteTimeout))
	t.writeMu.Unlock()

	// the read loop may have closed it already
	_ = sess.conn.Close()
	return nil
}

func (t *Transport) current() (*session, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return nil, trading.ErrClosed
	}
	if t.sess == nil {
		return nil, errors.New("not connected")
	}
	select {
	case <-t.sess.done:
		return nil, fmt.Errorf("connection lost: %w", t.sess.err)
	default:
	}
	return t.sess, nil
}

func (t *Transport) write(sess *session, v interface{}) error {
	t.writeMu.Lock()
	defer t.writeMu.Unlock()

	if err := sess.conn.SetWriteDeadline(time.Now().Add(t.cfg.WriteTimeout)); err != nil {
		return err
	}
	if err := sess.conn.WriteJSON(v); err != nil {
		sess.fail(err)
		return fmt.Errorf("failed to write message: %w", err)
	}
	return nil
}

func (t *Transport) readLoop(sess *session) {
	defer sess.conn.Close()
	for {
		_, data, err := sess.conn.ReadMessage()
		if err != nil {
			sess.fail(err)
			t.log.Warn("Exchange stream closed", "error", err)
			return
		}
		t.handle(sess, data)
	}
}

func (t *Transport) handle(sess *session, data []byte) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return
	}
	switch data[0] {
	case '{':
		t.handleEvent(data)
	case '[':
		t.handleChannel(sess, data)
	default:
		t.log.Debug("Ignoring unexpected frame", "frame", string(data))
	}
}

type eventMessage struct {
	Event   string `json:"event"`
	Status  string `json:"status"`
	Channel string `json:"channel"`
	ChanID  int64  `json:"chanId"`
	Symbol  string `json:"symbol"`
	Msg     string `json:"msg"`
	Code    int    `json:"code"`
}

func (t *Transport) handleEvent(data []byte) {
	var ev eventMessage
	if err := json.Unmarshal(data, &ev); err != nil {
		t.log.Warn("Failed to decode event", "error", err)
		return
	}

	switch ev.Event {
	case "auth":
		var result error
		if ev.Status != "OK" {
			result = fmt.Errorf("%w: %s", ErrAuthFailed, ev.Msg)
		}
		t.mu.Lock()
		resp := t.authResp
		t.authResp = nil
		t.mu.Unlock()
		if resp != nil {
			resp <- result
		}
	case "subscribed":
		if ev.Channel != "ticker" {
			return
		}
		symbol := strings.ToUpper(strings.TrimPrefix(ev.Symbol, "t"))
		t.mu.Lock()
		t.chans[ev.ChanID] = symbol
		t.subs[symbol] = ev.ChanID
		t.mu.Unlock()
		t.log.Debug("Subscribed to ticker", "symbol", symbol, "chan_id", ev.ChanID)
	case "unsubscribed":
		t.mu.Lock()
		if symbol, ok := t.chans[ev.ChanID]; ok {
			delete(t.subs, symbol)
			delete(t.chans, ev.ChanID)
		}
		t.mu.Unlock()
	case "error":
		t.log.Error("Exchange reported an error", "code", ev.Code, "msg", ev.Msg)
	default:
		t.log.Debug("Exchange event", "event", ev.Event)
	}
}

func (t *Transport) handleChannel(sess *session, data []byte) {
	var frame []json.RawMessage
	if err := json.Unmarshal(data, &frame); err != nil || len(frame) < 2 {
		t.log.Warn("Dropping malformed channel frame", "frame", string(data))
		return
	}
	var chanID int64
	if err := json.Unmarshal(frame[0], &chanID); err != nil {
		t.log.Warn("Dropping frame without channel id", "frame", string(data))
		return
	}

	// account channel: [0, "tag", payload]
	if chanID == 0 {
		var tag string
		if err := json.Unmarshal(frame[1], &tag); err != nil || len(frame) < 3 {
			return
		}
		switch tag {
		case "os", "on", "ou", "oc":
			t.deliver(sess, t.orders, trading.Message{Command: tag, Payload: frame[2]})
		case "ws", "wu":
			t.deliver(sess, t.wallets, trading.Message{Command: tag, Payload: frame[2]})
		}
		return
	}

	// ticker channel: [chanId, [bid, ...]] or [chanId, "hb"]
	if frame[1][0] != '[' {
		return
	}
	t.mu.Lock()
	symbol, ok := t.chans[chanID]
	t.mu.Unlock()
	if !ok {
		return
	}
	t.deliver(sess, t.tickers, trading.Message{Command: "t" + symbol, Payload: frame[1]})
}

func (t *Transport) deliver(sess *session, ch chan trading.Message, msg trading.Message) {
	select {
	case ch <- msg:
	case <-sess.done:
	}
}

// Sign returns the hex HMAC-SHA384 of payload.
func Sign(secret, payload string) string {
	mac := hmac.New(sha512.New384, []byte(secret))
	mac.Write([]byte(payload))
	return hex.EncodeToString(mac.Sum(nil))
}
