package client

import (
	"context"
	"errors"
	"net/url"
	"strings"
	"sync"

	"github.com/coder/websocket"
	"go.uber.org/zap"
)

var ErrNotInitialized = errors.New("transport not initialized")

type ConnState string

const (
	StateDisconnected ConnState = "disconnected"
	StateConnected    ConnState = "connected"
	StateFailed       ConnState = "failed"
)

// Conn is the minimal wire a channel needs; tests substitute an in-memory
// implementation.
type Conn interface {
	Read(ctx context.Context) ([]byte, error)
	Write(ctx context.Context, data []byte) error
	Close() error
}

// Transport authenticates a player session against the realtime layer and
// dials room channels with the minted token. Construct it explicitly and pass
// it to consumers; it is not created on page load, only when the player
// actually starts or joins a room.
type Transport struct {
	api      *API
	playerID string
	log      *zap.Logger

	mu          sync.Mutex
	initialized bool
	token       string
	state       ConnState
	listeners   []func(ConnState)
}

func NewTransport(api *API, playerID string, log *zap.Logger) *Transport {
	return &Transport{
		api:      api,
		playerID: playerID,
		log:      log,
		state:    StateDisconnected,
	}
}

// Initialize mints the realtime token. Idempotent: a second call while
// already initialized is a no-op.
func (t *Transport) Initialize(ctx context.Context) error {
	t.mu.Lock()
	if t.initialized {
		t.mu.Unlock()
		return nil
	}
	t.initialized = true
	t.mu.Unlock()

	tok, err := t.api.MintToken(ctx, t.playerID)
	if err != nil {
		t.setState(StateFailed)
		t.mu.Lock()
		t.initialized = false // allow a retry after an auth failure
		t.mu.Unlock()
		t.log.Warn("realtime auth failed", zap.Error(err))
		return err
	}

	t.mu.Lock()
	t.token = tok
	t.mu.Unlock()
	t.setState(StateConnected)
	return nil
}

func (t *Transport) Connected() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state == StateConnected
}

// OnStateChange registers a connection-state listener.
func (t *Transport) OnStateChange(fn func(ConnState)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.listeners = append(t.listeners, fn)
}

// Close tears the transport down; listeners are dropped so nothing fires
// after the owning scope is gone.
func (t *Transport) Close() {
	t.mu.Lock()
	t.initialized = false
	t.token = ""
	t.listeners = nil
	t.state = StateDisconnected
	t.mu.Unlock()
}

// Dial opens the websocket for one room channel.
func (t *Transport) Dial(ctx context.Context, code string) (Conn, error) {
	t.mu.Lock()
	tok := t.token
	initialized := t.initialized
	t.mu.Unlock()
	if !initialized {
		return nil, ErrNotInitialized
	}

	wsURL := strings.Replace(t.api.baseURL, "http", "ws", 1) +
		"/ws?code=" + url.QueryEscape(code) + "&token=" + url.QueryEscape(tok)

	c, _, err := websocket.Dial(ctx, wsURL, nil)
	if err != nil {
		t.setState(StateFailed)
		return nil, err
	}
	return &wsConn{c: c}, nil
}

func (t *Transport) setState(s ConnState) {
	t.mu.Lock()
	t.state = s
	listeners := make([]func(ConnState), len(t.listeners))
	copy(listeners, t.listeners)
	t.mu.Unlock()

	for _, fn := range listeners {
		fn(s)
	}
}

type wsConn struct {
	c *websocket.Conn
}

func (w *wsConn) Read(ctx context.Context) ([]byte, error) {
	_, data, err := w.c.Read(ctx)
	return data, err
}

func (w *wsConn) Write(ctx context.Context, data []byte) error {
	return w.c.Write(ctx, websocket.MessageText, data)
}

func (w *wsConn) Close() error {
	return w.c.Close(websocket.StatusNormalClosure, "bye")
}
