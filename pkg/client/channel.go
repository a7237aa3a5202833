package client

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/memerumble/meme-rumble-backend/pkg/types"
)

var ErrNotAttached = errors.New("channel not attached")

type AttachState string

const (
	AttachInitialized AttachState = "initialized"
	AttachAttaching   AttachState = "attaching"
	AttachAttached    AttachState = "attached"
	AttachDetached    AttachState = "detached"
	AttachFailed      AttachState = "failed"
)

// Dialer abstracts how a channel reaches its room; the Transport provides the
// real one.
type Dialer func(ctx context.Context, code string) (Conn, error)

// Channel is one room's publish/subscribe surface plus its presence set.
type Channel struct {
	code string
	dial Dialer
	log  *zap.Logger

	mu         sync.Mutex
	state      AttachState
	conn       Conn
	subs       map[types.EventKind]map[int]func(types.Envelope)
	nextSubID  int
	members    map[string]types.PresenceRecord
	onSnapshot []func(types.RoomSnapshot)
	onError    func(string)
	cancelRead context.CancelFunc
}

func NewChannel(code string, dial Dialer, log *zap.Logger) *Channel {
	return &Channel{
		code:    code,
		dial:    dial,
		log:     log.With(zap.String("channel", "room:"+code)),
		state:   AttachInitialized,
		subs:    make(map[types.EventKind]map[int]func(types.Envelope)),
		members: make(map[string]types.PresenceRecord),
	}
}

func (c *Channel) State() AttachState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Attach dials the room and starts delivering events. Safe to call once per
// channel; a failed attach leaves the channel in AttachFailed.
func (c *Channel) Attach(ctx context.Context) error {
	c.mu.Lock()
	if c.state == AttachAttached || c.state == AttachAttaching {
		c.mu.Unlock()
		return nil
	}
	c.state = AttachAttaching
	c.mu.Unlock()

	conn, err := c.dial(ctx, c.code)
	if err != nil {
		c.mu.Lock()
		c.state = AttachFailed
		c.mu.Unlock()
		return err
	}

	readCtx, cancel := context.WithCancel(context.Background())
	c.mu.Lock()
	c.conn = conn
	c.state = AttachAttached
	c.cancelRead = cancel
	c.mu.Unlock()

	go c.readLoop(readCtx, conn)
	return nil
}

// Publish broadcasts an event to every subscriber of the room, the sender
// included; receivers self-filter on the envelope's sender id. Rejects when
// the channel is not attached.
func (c *Channel) Publish(ctx context.Context, payload types.EventPayload) error {
	return c.send(ctx, types.ClientMessage{
		Type:  types.MsgPublish,
		Event: &types.Envelope{Kind: payload.Kind(), Payload: payload},
	})
}

// Subscribe registers a callback for one event kind and returns its
// unsubscribe function. Independent subscriptions to the same kind all fire.
func (c *Channel) Subscribe(kind types.EventKind, fn func(types.Envelope)) func() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.subs[kind] == nil {
		c.subs[kind] = make(map[int]func(types.Envelope))
	}
	id := c.nextSubID
	c.nextSubID++
	c.subs[kind][id] = fn

	return func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		delete(c.subs[kind], id)
	}
}

// UpdatePresence replaces the caller's whole presence record. Callers resend
// the full record after every state change they want others to observe.
func (c *Channel) UpdatePresence(ctx context.Context, record types.PresenceRecord) error {
	return c.send(ctx, types.ClientMessage{Type: types.MsgUpdatePresence, Presence: &record})
}

// Members returns the current presence snapshot.
func (c *Channel) Members() map[string]types.PresenceRecord {
	c.mu.Lock()
	defer c.mu.Unlock()

	members := make(map[string]types.PresenceRecord, len(c.members))
	for id, rec := range c.members {
		members[id] = rec
	}
	return members
}

// OnSnapshot registers a handler for authoritative room snapshots; every
// registered handler fires.
func (c *Channel) OnSnapshot(fn func(types.RoomSnapshot)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onSnapshot = append(c.onSnapshot, fn)
}

// OnError registers the handler for server error envelopes (the toast path).
func (c *Channel) OnError(fn func(string)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onError = fn
}

// Detach leaves the room best-effort and releases the connection. Errors are
// logged, never thrown: teardown must not block navigation.
func (c *Channel) Detach() {
	c.mu.Lock()
	conn := c.conn
	cancel := c.cancelRead
	c.conn = nil
	c.state = AttachDetached
	c.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if conn != nil {
		if err := conn.Close(); err != nil {
			c.log.Debug("channel close failed", zap.Error(err))
		}
	}
}

func (c *Channel) send(ctx context.Context, cm types.ClientMessage) error {
	c.mu.Lock()
	conn := c.conn
	attached := c.state == AttachAttached
	c.mu.Unlock()
	if !attached || conn == nil {
		return ErrNotAttached
	}

	data, err := json.Marshal(cm)
	if err != nil {
		return err
	}
	writeCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return conn.Write(writeCtx, data)
}

func (c *Channel) readLoop(ctx context.Context, conn Conn) {
	for {
		data, err := conn.Read(ctx)
		if err != nil {
			c.mu.Lock()
			if c.state == AttachAttached {
				c.state = AttachFailed
			}
			c.mu.Unlock()
			return
		}

		var msg types.ServerMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			// Malformed traffic is dropped, never fatal.
			c.log.Warn("dropping malformed server message", zap.Error(err))
			continue
		}
		c.dispatch(msg)
	}
}

func (c *Channel) dispatch(msg types.ServerMessage) {
	switch msg.Type {
	case types.MsgEvent:
		if msg.Event == nil {
			return
		}
		c.mu.Lock()
		handlers := make([]func(types.Envelope), 0, len(c.subs[msg.Event.Kind]))
		for _, fn := range c.subs[msg.Event.Kind] {
			handlers = append(handlers, fn)
		}
		c.mu.Unlock()
		for _, fn := range handlers {
			fn(*msg.Event)
		}

	case types.MsgPresenceSync:
		c.mu.Lock()
		c.members = msg.Members
		if c.members == nil {
			c.members = make(map[string]types.PresenceRecord)
		}
		c.mu.Unlock()

	case types.MsgSnapshot:
		if msg.Snapshot == nil {
			return
		}
		c.mu.Lock()
		handlers := make([]func(types.RoomSnapshot), len(c.onSnapshot))
		copy(handlers, c.onSnapshot)
		c.mu.Unlock()
		for _, fn := range handlers {
			fn(*msg.Snapshot)
		}

	case types.MsgError:
		c.mu.Lock()
		fn := c.onError
		c.mu.Unlock()
		if fn != nil {
			fn(msg.Error)
		} else {
			c.log.Warn("server error", zap.String("error", msg.Error))
		}
	}
}
