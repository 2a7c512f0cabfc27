package exchange

import (
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/vitos/position_monitor/internal/domain"
	"go.uber.org/zap"
)

const (
	BinanceWSURL = "wss://stream.binance.com:9443"

	handshakeTimeout = 15 * time.Second

	// backoffBase and backoffCap bound the reconnect delay:
	// min(base * 2^attempt, cap).
	backoffBase = 1 * time.Second
	backoffCap  = 30 * time.Second
)

// connState enumerates the connection state machine:
// disconnected -> connecting -> connected -> (ticks | error) -> disconnected.
type connState int

const (
	stateDisconnected connState = iota
	stateConnecting
	stateConnected
)

// BinanceFeed maintains a persistent subscription to Binance 24h ticker
// streams for a dynamic set of pairs. Connection errors are never surfaced
// to callers; the feed reconnects with exponential backoff and callers read
// the evolving tick map.
type BinanceFeed struct {
	wsURL  string
	logger *zap.Logger

	mu        sync.Mutex
	conn      *websocket.Conn
	state     connState
	gen       int // connection generation, invalidates stale read loops
	attempt   int
	reconnect *time.Timer
	symbols   []string // app pair format, sorted
	ticks     map[string]domain.PriceTick
	callbacks []func(domain.PriceTick)
	closed    bool
}

func NewBinanceFeed(wsURL string, logger *zap.Logger) *BinanceFeed {
	if wsURL == "" {
		wsURL = BinanceWSURL
	}
	return &BinanceFeed{
		wsURL:  wsURL,
		logger: logger,
		ticks:  make(map[string]domain.PriceTick),
	}
}

// OnTick registers a callback invoked for every normalized tick.
func (b *BinanceFeed) OnTick(cb func(domain.PriceTick)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.callbacks = append(b.callbacks, cb)
}

// SetSymbols replaces the subscribed pair set. Binance combined streams are
// fixed at dial time, so a change closes the socket and reopens it with the
// new stream list; last ticks for retained pairs survive the swap.
func (b *BinanceFeed) SetSymbols(pairs []string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return fmt.Errorf("exchange: feed closed")
	}

	next := normalizePairs(pairs)
	if equalSymbols(b.symbols, next) {
		return nil
	}
	b.symbols = next

	// Prune ticks for pairs we no longer track.
	keep := make(map[string]bool, len(next))
	for _, p := range next {
		keep[p] = true
	}
	for p := range b.ticks {
		if !keep[p] {
			delete(b.ticks, p)
		}
	}

	b.dropConnLocked()
	if len(b.symbols) == 0 {
		return nil
	}
	b.connectLocked()
	return nil
}

// LastTick returns the latest tick for a pair, if one has arrived.
func (b *BinanceFeed) LastTick(pair string) (domain.PriceTick, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	t, ok := b.ticks[pair]
	return t, ok
}

// Snapshot returns a copy of the full symbol -> tick map.
func (b *BinanceFeed) Snapshot() map[string]domain.PriceTick {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make(map[string]domain.PriceTick, len(b.ticks))
	for k, v := range b.ticks {
		out[k] = v
	}
	return out
}

// Close shuts the feed down and cancels any pending reconnect.
func (b *BinanceFeed) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	b.closed = true
	if b.reconnect != nil {
		b.reconnect.Stop()
		b.reconnect = nil
	}
	b.dropConnLocked()
	return nil
}

// dropConnLocked closes the current socket and invalidates its read loop.
func (b *BinanceFeed) dropConnLocked() {
	b.gen++
	if b.conn != nil {
		_ = b.conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		_ = b.conn.Close()
		b.conn = nil
	}
	b.state = stateDisconnected
}

func (b *BinanceFeed) connectLocked() {
	b.state = stateConnecting

	streams := make([]string, 0, len(b.symbols))
	for _, pair := range b.symbols {
		streams = append(streams, strings.ToLower(PairToWire(pair))+"@ticker")
	}
	url := b.wsURL + "/stream?streams=" + strings.Join(streams, "/")

	dialer := websocket.Dialer{HandshakeTimeout: handshakeTimeout}
	conn, _, err := dialer.Dial(url, nil)
	if err != nil {
		b.logger.Warn("stream dial failed", zap.Error(err))
		b.state = stateDisconnected
		b.scheduleReconnectLocked()
		return
	}

	b.conn = conn
	b.state = stateConnected
	b.attempt = 0
	b.gen++
	gen := b.gen

	b.logger.Info("stream connected", zap.Strings("pairs", b.symbols))
	go b.readLoop(conn, gen)
}

// scheduleReconnectLocked arms the backoff timer. Any disconnect, including a
// server-initiated close, lands here; the policy is min(1s * 2^attempt, 30s).
func (b *BinanceFeed) scheduleReconnectLocked() {
	if b.closed {
		return
	}
	b.attempt++
	delay := BackoffDelay(b.attempt)
	b.logger.Info("stream reconnect scheduled",
		zap.Int("attempt", b.attempt), zap.Duration("delay", delay))

	if b.reconnect != nil {
		b.reconnect.Stop()
	}
	b.reconnect = time.AfterFunc(delay, func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if b.closed || b.state != stateDisconnected || len(b.symbols) == 0 {
			return
		}
		b.connectLocked()
	})
}

// BackoffDelay returns the reconnect delay for the given attempt number
// (first retry is attempt 1): 2s, 4s, 8s, 16s, 30s, 30s, ...
func BackoffDelay(attempt int) time.Duration {
	if attempt > 10 {
		attempt = 10
	}
	d := backoffBase * time.Duration(1<<uint(attempt))
	if d > backoffCap {
		d = backoffCap
	}
	return d
}

func (b *BinanceFeed) readLoop(conn *websocket.Conn, gen int) {
	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			b.mu.Lock()
			if b.closed || gen != b.gen {
				// Superseded by a resubscription or shutdown.
				b.mu.Unlock()
				return
			}
			b.logger.Warn("stream read error", zap.Error(err))
			b.conn = nil
			b.state = stateDisconnected
			b.scheduleReconnectLocked()
			b.mu.Unlock()
			return
		}

		tick, err := parseCombinedTicker(message)
		if err != nil {
			// Malformed frames are diagnostics, not failures.
			b.logger.Debug("discarding malformed tick", zap.Error(err))
			continue
		}
		if tick.Symbol == "" {
			// Control frame or unsupported symbol: dropped silently.
			continue
		}

		b.mu.Lock()
		if gen != b.gen {
			b.mu.Unlock()
			return
		}
		b.ticks[tick.Symbol] = tick
		callbacks := make([]func(domain.PriceTick), len(b.callbacks))
		copy(callbacks, b.callbacks)
		b.mu.Unlock()

		for _, cb := range callbacks {
			cb(tick)
		}
	}
}

// combinedMessage is the envelope of the /stream multiplexed endpoint.
type combinedMessage struct {
	Stream string          `json:"stream"`
	Data   json.RawMessage `json:"data"`
}

// tickerEvent is the Binance 24hr ticker payload (numeric fields as strings).
type tickerEvent struct {
	EventType string `json:"e"`
	Symbol    string `json:"s"`
	LastPrice string `json:"c"`
	High24h   string `json:"h"`
	Low24h    string `json:"l"`
	ChangePct string `json:"P"`
	ChangeAbs string `json:"p"`
}

// parseCombinedTicker normalizes one stream frame into a PriceTick. A frame
// without ticker data (subscription acks and the like) yields a zero tick
// and no error; an unsupported wire symbol is dropped the same way.
func parseCombinedTicker(message []byte) (domain.PriceTick, error) {
	var env combinedMessage
	if err := json.Unmarshal(message, &env); err != nil {
		return domain.PriceTick{}, fmt.Errorf("decode envelope: %w", err)
	}
	if len(env.Data) == 0 {
		return domain.PriceTick{}, nil
	}

	var ev tickerEvent
	if err := json.Unmarshal(env.Data, &ev); err != nil {
		return domain.PriceTick{}, fmt.Errorf("decode ticker: %w", err)
	}
	if ev.EventType != "24hrTicker" || ev.Symbol == "" {
		return domain.PriceTick{}, nil
	}

	pair, ok := WireToPair(ev.Symbol)
	if !ok {
		return domain.PriceTick{}, nil
	}

	price, err := strconv.ParseFloat(ev.LastPrice, 64)
	if err != nil {
		return domain.PriceTick{}, fmt.Errorf("parse price %q: %w", ev.LastPrice, err)
	}

	// Secondary fields are best effort; a bad high/low does not void the tick.
	high, _ := strconv.ParseFloat(ev.High24h, 64)
	low, _ := strconv.ParseFloat(ev.Low24h, 64)
	pct, _ := strconv.ParseFloat(ev.ChangePct, 64)
	abs, _ := strconv.ParseFloat(ev.ChangeAbs, 64)

	return domain.PriceTick{
		Symbol:       pair,
		Price:        price,
		High24h:      high,
		Low24h:       low,
		ChangePct24h: pct,
		Change24h:    abs,
	}, nil
}

func normalizePairs(pairs []string) []string {
	seen := make(map[string]bool, len(pairs))
	out := make([]string, 0, len(pairs))
	for _, p := range pairs {
		p = strings.ToUpper(strings.TrimSpace(p))
		if p == "" || seen[p] {
			continue
		}
		seen[p] = true
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}

func equalSymbols(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
