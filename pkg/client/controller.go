package client

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/memerumble/meme-rumble-backend/pkg/types"
)

var ErrNotParticipant = errors.New("player is not a participant of this room")

// Controller reconciles the three sources of truth for one room page: local
// optimistic state, channel events, and the persistence gateway. The gateway
// wins: channel events are treated as low-latency nudges, and a poll ticker
// re-derives the phase whenever an event goes missing.
type Controller struct {
	api       *API
	transport *Transport
	channel   *Channel
	code      string
	playerID  string
	log       *zap.Logger

	pollInterval time.Duration

	mu         sync.Mutex
	entered    bool // one-shot: initial presence goes out once per mount
	closed     bool
	phase      string
	round      int
	ready      bool
	avatarSrc  string
	name       string
	tallyGuard map[int]bool
	onPhase    func(phase string, round int)
	unsub      func()
	cancelPoll context.CancelFunc
}

func NewController(api *API, transport *Transport, code, playerID string, pollInterval time.Duration, log *zap.Logger) *Controller {
	c := &Controller{
		api:          api,
		transport:    transport,
		channel:      NewChannel(code, transport.Dial, log),
		code:         code,
		playerID:     playerID,
		log:          log.With(zap.String("room", code)),
		pollInterval: pollInterval,
		tallyGuard:   make(map[int]bool),
	}
	c.channel.OnSnapshot(c.adoptSelf)
	return c
}

// OnPhaseChange registers the navigation callback. It fires once per distinct
// phase, whether the change arrived by event or by poll.
func (c *Controller) OnPhaseChange(fn func(phase string, round int)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onPhase = fn
}

// Channel exposes the underlying room channel for extra subscriptions.
func (c *Controller) Channel() *Channel { return c.channel }

// Enter performs room-page entry: fetch the authoritative room, verify this
// session is a participant, attach the channel, and send the one-shot initial
// presence. A reconnect or re-render of the same controller never repeats the
// initial presence.
func (c *Controller) Enter(ctx context.Context) (*types.RoomSnapshot, error) {
	snap, err := c.api.Snapshot(ctx, c.code)
	if err != nil {
		return nil, err
	}

	var me *types.PlayerInfo
	for i := range snap.Players {
		if snap.Players[i].PlayerID == c.playerID {
			me = &snap.Players[i]
			break
		}
	}
	if me == nil {
		return nil, ErrNotParticipant
	}

	if err := c.transport.Initialize(ctx); err != nil {
		return nil, err
	}
	if err := c.channel.Attach(ctx); err != nil {
		return nil, err
	}

	c.mu.Lock()
	c.phase = snap.Phase
	c.round = snap.Round
	c.ready = me.IsReady
	c.avatarSrc = me.AvatarSrc
	c.name = me.Name
	firstEntry := !c.entered
	c.entered = true
	c.mu.Unlock()

	c.unsubscribePhase()
	unsub := c.channel.Subscribe(types.EvtGamePhaseChanged, func(env types.Envelope) {
		if p, ok := env.Payload.(*types.GamePhaseChanged); ok {
			c.adoptPhase(p.Phase, p.Round)
		}
	})
	c.mu.Lock()
	c.unsub = unsub
	c.mu.Unlock()

	if firstEntry {
		if err := c.channel.UpdatePresence(ctx, c.presenceRecord()); err != nil {
			// The gateway already knows we are here; presence catches up on
			// the next update.
			c.log.Warn("initial presence failed", zap.Error(err))
		}
	}

	c.startPolling()
	return snap, nil
}

// ToggleReady sends the ready command. Local state and presence do not move
// on send: the server rejects the command if its gateway write fails, and
// only the confirming snapshot broadcast folds the change back in via
// adoptSelf. A rejected write therefore leaves the advertised state exactly
// where it was.
func (c *Controller) ToggleReady(ctx context.Context, ready bool) error {
	return c.channel.send(ctx, types.ClientMessage{Type: types.MsgToggleReady, IsReady: ready})
}

func (c *Controller) SetAvatar(ctx context.Context, avatarSrc string) error {
	return c.channel.send(ctx, types.ClientMessage{Type: types.MsgSetAvatar, AvatarSrc: avatarSrc})
}

// SetName updates other members only through presence; there is no explicit
// name-changed event kind.
func (c *Controller) SetName(ctx context.Context, name string) error {
	return c.channel.send(ctx, types.ClientMessage{Type: types.MsgSetName, Name: name})
}

// adoptSelf folds the server's confirmed view of this player back into local
// state. The snapshot only follows a successful gateway write, so this is
// where ready/avatar/name changes land, and where the presence record gets
// resent to advertise them.
func (c *Controller) adoptSelf(snap types.RoomSnapshot) {
	var me *types.PlayerInfo
	for i := range snap.Players {
		if snap.Players[i].PlayerID == c.playerID {
			me = &snap.Players[i]
			break
		}
	}
	if me == nil {
		return
	}

	c.mu.Lock()
	if c.closed || !c.entered {
		c.mu.Unlock()
		return
	}
	changed := me.IsReady != c.ready || me.AvatarSrc != c.avatarSrc || me.Name != c.name
	c.ready = me.IsReady
	c.avatarSrc = me.AvatarSrc
	c.name = me.Name
	c.mu.Unlock()

	if !changed {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := c.channel.UpdatePresence(ctx, c.presenceRecord()); err != nil {
		// The store already holds the change; presence catches up on the
		// next confirmed mutation.
		c.log.Warn("presence update failed", zap.Error(err))
	}
}

func (c *Controller) ProposeMeme(ctx context.Context, candidateID, mediaURL string) error {
	return c.channel.send(ctx, types.ClientMessage{
		Type: types.MsgProposeMeme, CandidateID: candidateID, MediaURL: mediaURL,
	})
}

func (c *Controller) CastMemeVote(ctx context.Context, candidateID string) error {
	return c.channel.send(ctx, types.ClientMessage{Type: types.MsgCastMemeVote, CandidateID: candidateID})
}

func (c *Controller) SubmitCaption(ctx context.Context, text string) error {
	return c.channel.send(ctx, types.ClientMessage{Type: types.MsgSubmitCaption, Text: text})
}

func (c *Controller) CastCaptionVote(ctx context.Context, candidateID string) error {
	return c.channel.send(ctx, types.ClientMessage{Type: types.MsgCastCaptionVote, CandidateID: candidateID})
}

// TallyRound requests the round aggregation. The local guard is advisory; the
// server's store rejects a duplicate with a conflict it swallows, so a double
// call is harmless either way.
func (c *Controller) TallyRound(ctx context.Context) error {
	c.mu.Lock()
	round := c.round
	if c.tallyGuard[round] {
		c.mu.Unlock()
		return nil
	}
	c.tallyGuard[round] = true
	c.mu.Unlock()

	return c.channel.send(ctx, types.ClientMessage{Type: types.MsgTallyRound})
}

func (c *Controller) PlayAgain(ctx context.Context) error {
	return c.channel.send(ctx, types.ClientMessage{Type: types.MsgPlayAgain})
}

// Phase returns the current reconciled phase and round.
func (c *Controller) Phase() (string, int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.phase, c.round
}

// Close cancels the poll ticker and detaches the channel. No phase callbacks
// fire after Close.
func (c *Controller) Close() {
	c.mu.Lock()
	c.closed = true
	cancel := c.cancelPoll
	c.cancelPoll = nil
	c.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	c.unsubscribePhase()
	c.channel.Detach()
}

func (c *Controller) unsubscribePhase() {
	c.mu.Lock()
	unsub := c.unsub
	c.unsub = nil
	c.mu.Unlock()
	if unsub != nil {
		unsub()
	}
}

// adoptPhase is the single funnel for both phase paths. Whichever of the
// event or the poll observes a transition first wins; the second is a no-op.
func (c *Controller) adoptPhase(phase string, round int) {
	c.mu.Lock()
	if c.closed || (phase == c.phase && round == c.round) {
		c.mu.Unlock()
		return
	}
	c.phase = phase
	c.round = round
	fn := c.onPhase
	c.mu.Unlock()

	if fn != nil {
		fn(phase, round)
	}
}

func (c *Controller) startPolling() {
	c.mu.Lock()
	if c.cancelPoll != nil || c.pollInterval <= 0 {
		c.mu.Unlock()
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	c.cancelPoll = cancel
	c.mu.Unlock()

	go func() {
		ticker := time.NewTicker(c.pollInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				pollCtx, cancelPoll := context.WithTimeout(ctx, c.pollInterval)
				snap, err := c.api.Snapshot(pollCtx, c.code)
				cancelPoll()
				if err != nil {
					// Background sync failures self-heal on the next tick.
					c.log.Debug("phase poll failed", zap.Error(err))
					continue
				}
				c.adoptPhase(snap.Phase, snap.Round)
			}
		}
	}()
}

func (c *Controller) presenceRecord() types.PresenceRecord {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now()
	ready := c.ready
	return types.PresenceRecord{
		Status:       types.PresenceOnline,
		IsReady:      &ready,
		LastActivity: &now,
		AvatarSrc:    c.avatarSrc,
		PlayerID:     c.playerID,
		PlayerName:   c.name,
	}
}
