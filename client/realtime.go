package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"nhooyr.io/websocket"
)

// Event types pushed by the server.
const (
	EventAuthenticated   = "authenticated"
	EventReceiveMessage  = "receiveMessage"
	EventMessageEdited   = "messageEdited"
	EventMessageDeleted  = "messageDeleted"
	EventNewNotification = "newNotification"
	EventPong            = "pong"
)

// Envelope is the wire format of every live event.
type Envelope struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// ErrGaveUp is returned by Run when reconnect attempts are exhausted.
var ErrGaveUp = errors.New("realtime: reconnect attempts exhausted")

// RealtimeConfig configures reconnect behaviour.
type RealtimeConfig struct {
	// MaxReconnectAttempts of 0 retries forever.
	MaxReconnectAttempts int
	ReconnectBaseDelay   time.Duration
	ReconnectMaxDelay    time.Duration
	HeartbeatInterval    time.Duration
	HTTPClient           *http.Client
}

func (c *RealtimeConfig) defaults() {
	if c.ReconnectBaseDelay == 0 {
		c.ReconnectBaseDelay = time.Second
	}
	if c.ReconnectMaxDelay == 0 {
		c.ReconnectMaxDelay = 30 * time.Second
	}
	if c.HeartbeatInterval == 0 {
		c.HeartbeatInterval = 25 * time.Second
	}
}

// Realtime holds a WebSocket connection to the server and re-establishes it
// with exponential back-off.
type Realtime struct {
	url    string
	config RealtimeConfig

	onEvent   func(Envelope)
	onConnect func(reconnected bool)

	mu   sync.Mutex
	conn *websocket.Conn
}

// NewRealtime creates a client for the live endpoint of baseURL. onEvent is
// called from a single goroutine in arrival order.
func NewRealtime(baseURL, token string, config RealtimeConfig, onEvent func(Envelope)) *Realtime {
	config.defaults()
	wsURL := strings.Replace(strings.TrimRight(baseURL, "/"), "https://", "wss://", 1)
	wsURL = strings.Replace(wsURL, "http://", "ws://", 1)
	return &Realtime{
		url:     wsURL + "/ws?token=" + url.QueryEscape(token),
		config:  config,
		onEvent: onEvent,
	}
}

// OnConnect registers a callback run after each successful handshake.
// reconnected is false for the first connection.
func (r *Realtime) OnConnect(fn func(reconnected bool)) {
	r.onConnect = fn
}

// Run connects and delivers events until ctx is cancelled or reconnect
// attempts are exhausted.
func (r *Realtime) Run(ctx context.Context) error {
	connected := false
	attempt := 0
	for {
		err := r.session(ctx, func() {
			if r.onConnect != nil {
				r.onConnect(connected)
			}
			connected = true
			attempt = 0
		})
		if ctx.Err() != nil {
			return ctx.Err()
		}

		if r.config.MaxReconnectAttempts > 0 && attempt >= r.config.MaxReconnectAttempts {
			return fmt.Errorf("%w: %v", ErrGaveUp, err)
		}
		delay := backoff(r.config.ReconnectBaseDelay, r.config.ReconnectMaxDelay, attempt)
		attempt++

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}
}

// session runs one connection until it fails.
func (r *Realtime) session(ctx context.Context, connected func()) error {
	var opts *websocket.DialOptions
	if r.config.HTTPClient != nil {
		opts = &websocket.DialOptions{HTTPClient: r.config.HTTPClient}
	}
	conn, _, err := websocket.Dial(ctx, r.url, opts)
	if err != nil {
		return fmt.Errorf("websocket dial: %w", err)
	}
	defer conn.Close(websocket.StatusNormalClosure, "")

	_, data, err := conn.Read(ctx)
	if err != nil {
		return fmt.Errorf("read auth message: %w", err)
	}
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil || env.Type != EventAuthenticated {
		return fmt.Errorf("expected %q, got %q", EventAuthenticated, env.Type)
	}

	r.mu.Lock()
	r.conn = conn
	r.mu.Unlock()
	defer func() {
		r.mu.Lock()
		r.conn = nil
		r.mu.Unlock()
	}()

	connected()
	r.deliver(env)

	hbCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go r.heartbeat(hbCtx)

	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			return err
		}
		var env Envelope
		if json.Unmarshal(data, &env) != nil {
			continue
		}
		r.deliver(env)
	}
}

func (r *Realtime) deliver(env Envelope) {
	if r.onEvent != nil {
		r.onEvent(env)
	}
}

func (r *Realtime) heartbeat(ctx context.Context) {
	ticker := time.NewTicker(r.config.HeartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := r.Ping(ctx); err != nil {
				return
			}
		}
	}
}

// Ping sends an application-level ping; the server answers with a pong
// event.
func (r *Realtime) Ping(ctx context.Context) error {
	r.mu.Lock()
	conn := r.conn
	r.mu.Unlock()
	if conn == nil {
		return errors.New("realtime: not connected")
	}
	return conn.Write(ctx, websocket.MessageText, []byte(`{"type":"ping"}`))
}

func backoff(base, max time.Duration, attempt int) time.Duration {
	jitter := time.Duration(rand.Float64() * float64(base) * 0.5)
	return time.Duration(math.Min(
		float64(base)*math.Pow(2, float64(attempt))+float64(jitter),
		float64(max),
	))
}
