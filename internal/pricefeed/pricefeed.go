// Package pricefeed maintains a single WebSocket connection to the upstream
// price feed and publishes the most recent mid price for the configured coin.
package pricefeed

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"github.com/predictarena/predictarena/internal/config"
	"github.com/predictarena/predictarena/internal/metrics"
)

// Connection states.
const (
	StateClosed     = "closed"
	StateConnecting = "connecting"
	StateConnected  = "connected"
	StateError      = "error"
)

const (
	connectTimeout = 5 * time.Second
	reconnectDelay = 5 * time.Second
)

// ErrNoSample is returned by Price before the first update arrives.
var ErrNoSample = errors.New("no price sample yet")

// Sample is a published price reading.
type Sample struct {
	Price     float64   `json:"price"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Diagnostics is the feed's observable state.
type Diagnostics struct {
	State       string     `json:"state"`
	Feed        string     `json:"feed"`
	Coin        string     `json:"coin"`
	URL         string     `json:"url"`
	LastError   string     `json:"last_error,omitempty"`
	LastEventAt *time.Time `json:"last_event_at,omitempty"`
	LastUpdate  *time.Time `json:"last_update_at,omitempty"`
	Reconnects  int64      `json:"reconnects"`
}

// Feed owns the WebSocket. All reads and writes of feed state go through the
// mutex; the read loop runs on its own goroutine per connection.
type Feed struct {
	cfg    config.PriceFeedConfig
	logger zerolog.Logger

	connectGroup singleflight.Group

	mu          sync.Mutex
	conn        *websocket.Conn
	state       string
	lastError   string
	lastEventAt time.Time
	lastUpdate  time.Time
	price       float64
	hasSample   bool
	reconnects  int64
	reconnectT  *time.Timer
	stopped     bool
	gen         int // connection generation, guards stale read loops
}

// New creates a feed actor. Call Start (or the first Price) to connect.
func New(cfg config.PriceFeedConfig, logger zerolog.Logger) *Feed {
	return &Feed{cfg: cfg, state: StateClosed, logger: logger}
}

// Start forces the initial connect.
func (f *Feed) Start() {
	go f.ensureConnected()
}

// Stop closes the socket and cancels any pending reconnect.
func (f *Feed) Stop() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stopped = true
	if f.reconnectT != nil {
		f.reconnectT.Stop()
		f.reconnectT = nil
	}
	if f.conn != nil {
		f.conn.Close()
		f.conn = nil
	}
	f.state = StateClosed
}

// Price returns the most recent sample, or ErrNoSample before the first
// update. Staleness is judged by the caller against its own threshold.
func (f *Feed) Price() (Sample, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.hasSample {
		if f.state == StateClosed && !f.stopped {
			go f.ensureConnected()
		}
		return Sample{}, ErrNoSample
	}
	return Sample{Price: f.price, UpdatedAt: f.lastUpdate}, nil
}

// Diag returns a snapshot of connection state for the diagnostics endpoint.
func (f *Feed) Diag() Diagnostics {
	f.mu.Lock()
	defer f.mu.Unlock()

	d := Diagnostics{
		State:      f.state,
		Feed:       f.cfg.Feed,
		Coin:       f.cfg.Coin,
		URL:        f.cfg.WSURL,
		LastError:  f.lastError,
		Reconnects: f.reconnects,
	}
	if !f.lastEventAt.IsZero() {
		t := f.lastEventAt
		d.LastEventAt = &t
	}
	if !f.lastUpdate.IsZero() {
		t := f.lastUpdate
		d.LastUpdate = &t
	}
	return d
}

// ensureConnected dials the upstream unless a connection (or attempt) already
// exists. Concurrent callers share one in-flight dial.
func (f *Feed) ensureConnected() {
	f.connectGroup.Do("connect", func() (interface{}, error) {
		f.mu.Lock()
		if f.stopped || f.state == StateConnected || f.state == StateConnecting {
			f.mu.Unlock()
			return nil, nil
		}
		f.state = StateConnecting
		f.gen++
		gen := f.gen
		f.mu.Unlock()

		ctx, cancel := context.WithTimeout(context.Background(), connectTimeout)
		defer cancel()

		conn, _, err := websocket.DefaultDialer.DialContext(ctx, f.cfg.WSURL, nil)
		if err != nil {
			f.failAndScheduleReconnect(gen, fmt.Errorf("failed to connect: %w", err))
			return nil, nil
		}

		if err := conn.WriteJSON(f.subscribeMessage()); err != nil {
			conn.Close()
			f.failAndScheduleReconnect(gen, fmt.Errorf("failed to subscribe: %w", err))
			return nil, nil
		}

		f.mu.Lock()
		if f.stopped {
			f.mu.Unlock()
			conn.Close()
			return nil, nil
		}
		f.conn = conn
		f.state = StateConnected
		f.lastError = ""
		f.mu.Unlock()

		f.logger.Info().Str("url", f.cfg.WSURL).Str("feed", f.cfg.Feed).Msg("Price feed connected")
		go f.readLoop(conn, gen)
		return nil, nil
	})
}

// subscribeMessage builds the subscription request for the configured feed
// mode. allMids carries no coin; every other mode names one.
func (f *Feed) subscribeMessage() map[string]interface{} {
	sub := map[string]interface{}{"type": f.cfg.Feed}
	if f.cfg.Feed != "allMids" {
		sub["coin"] = f.cfg.Coin
	}
	return map[string]interface{}{"method": "subscribe", "subscription": sub}
}

func (f *Feed) readLoop(conn *websocket.Conn, gen int) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			f.failAndScheduleReconnect(gen, fmt.Errorf("read failed: %w", err))
			return
		}
		f.handleMessage(gen, data)
	}
}

type wsMessage struct {
	Channel string          `json:"channel"`
	Data    json.RawMessage `json:"data"`
}

func (f *Feed) handleMessage(gen int, data []byte) {
	f.mu.Lock()
	if gen != f.gen {
		f.mu.Unlock()
		return
	}
	f.lastEventAt = time.Now().UTC()
	f.mu.Unlock()

	var msg wsMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return
	}

	price, ok := f.extractPrice(msg)
	if !ok || !isFinite(price) {
		return
	}

	f.mu.Lock()
	if gen == f.gen {
		f.price = price
		f.hasSample = true
		f.lastUpdate = time.Now().UTC()
	}
	f.mu.Unlock()
}

func (f *Feed) extractPrice(msg wsMessage) (float64, bool) {
	switch msg.Channel {
	case "allMids":
		var payload struct {
			Mids map[string]string `json:"mids"`
		}
		if err := json.Unmarshal(msg.Data, &payload); err != nil {
			return 0, false
		}
		raw, ok := payload.Mids[f.cfg.Coin]
		if !ok {
			return 0, false
		}
		return parsePrice(raw)
	case "trades":
		var trades []struct {
			Px    json.Number `json:"px"`
			Price json.Number `json:"price"`
		}
		if err := json.Unmarshal(msg.Data, &trades); err != nil || len(trades) == 0 {
			return 0, false
		}
		last := trades[len(trades)-1]
		if last.Px != "" {
			return parsePrice(string(last.Px))
		}
		return parsePrice(string(last.Price))
	default:
		return 0, false
	}
}

func (f *Feed) failAndScheduleReconnect(gen int, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if gen != f.gen || f.stopped {
		return
	}
	if f.conn != nil {
		f.conn.Close()
		f.conn = nil
	}
	f.state = StateError
	f.lastError = err.Error()
	f.reconnects++
	metrics.PriceFeedReconnects.Inc()
	f.logger.Warn().Err(err).Msg("Price feed disconnected, scheduling reconnect")

	if f.reconnectT != nil {
		f.reconnectT.Stop()
	}
	f.reconnectT = time.AfterFunc(reconnectDelay, func() {
		f.mu.Lock()
		stopped := f.stopped
		f.state = StateClosed
		f.mu.Unlock()
		if !stopped {
			f.ensureConnected()
		}
	})
}

func parsePrice(raw string) (float64, bool) {
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, false
	}
	return v, true
}

func isFinite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
