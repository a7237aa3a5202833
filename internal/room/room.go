package room

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/memerumble/meme-rumble-backend/internal/game"
	"github.com/memerumble/meme-rumble-backend/internal/store"
	"github.com/memerumble/meme-rumble-backend/pkg/types"
)

// Room is the per-room channel actor. Everything it owns (game state,
// presence set, subscriber outboxes, timers) is touched only from loop, so
// there is no locking. The persistence gateway stays authoritative: events
// broadcast from here are low-latency nudges, and the poll fallback adopts
// whatever the store says when an event went missing.
type Room struct {
	code         string
	inbox        chan Msg
	state        game.State
	version      int
	clients      map[string]chan types.ServerMessage
	presence     map[string]types.PresenceRecord
	tallyGuard   map[int]bool
	timer        *time.Timer
	timerGen     int
	gw           Gateway
	pollInterval time.Duration
	onEmpty      func()
	log          *zap.Logger
	ctx          context.Context
	cancel       context.CancelFunc
}

// Option configures a Room at construction.
type Option func(*Room)

// OnEmpty registers a callback invoked from the room loop when the last
// subscriber leaves.
func OnEmpty(fn func()) Option {
	return func(r *Room) { r.onEmpty = fn }
}

func New(parent context.Context, code string, initial game.State, gw Gateway, pollInterval time.Duration, log *zap.Logger, opts ...Option) *Room {
	ctx, cancel := context.WithCancel(parent)

	r := &Room{
		code:         code,
		inbox:        make(chan Msg, 64),
		state:        initial,
		clients:      make(map[string]chan types.ServerMessage),
		presence:     make(map[string]types.PresenceRecord),
		tallyGuard:   make(map[int]bool),
		gw:           gw,
		pollInterval: pollInterval,
		log:          log.With(zap.String("room", code)),
		ctx:          ctx,
		cancel:       cancel,
	}
	for _, opt := range opts {
		opt(r)
	}

	go r.loop()
	return r
}

func (r *Room) Inbox() chan<- Msg { return r.inbox }

func (r *Room) loop() {
	var pollC <-chan time.Time
	if r.gw != nil && r.pollInterval > 0 {
		ticker := time.NewTicker(r.pollInterval)
		defer ticker.Stop()
		pollC = ticker.C
	}

	for {
		select {
		case <-r.ctx.Done():
			r.shutdown()
			return

		case <-pollC:
			go r.poll()

		case m := <-r.inbox:
			switch msg := m.(type) {
			case Join:
				r.handleJoin(msg)

			case Leave:
				r.handleLeave(msg.ClientID)

			case UpdatePresence:
				r.handlePresence(msg)

			case Publish:
				r.broadcastEvent(msg.Sender, msg.Payload)

			case FromClient:
				r.handleCommand(msg)

			case Tally:
				r.handleTally(msg)

			case tallyDone:
				r.handleTallyDone(msg)

			case PrimeTimer:
				r.armTimer()

			case timerFired:
				if msg.gen != r.timerGen {
					break // stale fire from a superseded countdown
				}
				r.handleCommand(FromClient{Cmd: game.Command{Type: game.CmdTimeoutAdvance}})

			case phasePolled:
				r.handlePolled(msg)

			case GetView:
				presence := make(map[string]types.PresenceRecord, len(r.presence))
				for id, rec := range r.presence {
					presence[id] = rec
				}
				msg.Reply <- View{
					Version:    r.version,
					NumClients: len(r.clients),
					State:      r.state,
					Presence:   presence,
				}

			case Shutdown:
				r.shutdown()
				return
			}
		}
	}
}

func (r *Room) handleJoin(msg Join) {
	r.clients[msg.ClientID] = msg.Outbox
	r.state = game.AddPlayer(r.state, msg.Player.PlayerID, msg.Player.Name, msg.Player.AvatarSrc)
	if p, ok := r.state.Players[msg.Player.PlayerID]; ok {
		p.Score = msg.Player.Score
		p.Ready = msg.Player.IsReady
		r.state.Players[msg.Player.PlayerID] = p
	}

	// New member gets the authoritative snapshot plus the current member set
	// immediately; everyone else just sees the presence set change.
	if !r.send(msg.ClientID, types.ServerMessage{Type: types.MsgSnapshot, Snapshot: snapshotOf(r.code, r.version, r.state)}) {
		return
	}
	r.send(msg.ClientID, types.ServerMessage{Type: types.MsgPresenceSync, Members: r.members()})
}

func (r *Room) handleLeave(clientID string) {
	rec, hadPresence := r.presence[clientID]
	delete(r.presence, clientID)

	if ch, ok := r.clients[clientID]; ok {
		delete(r.clients, clientID)
		close(ch)
	}

	if hadPresence && rec.Identified() {
		r.state = game.RemovePlayer(r.state, rec.PlayerID)
		r.broadcastEvent(rec.PlayerID, &types.PlayerLeft{PlayerID: rec.PlayerID})
	}
	r.broadcast(types.ServerMessage{Type: types.MsgPresenceSync, Members: r.members()})

	if len(r.clients) == 0 && r.onEmpty != nil {
		r.onEmpty()
	}
}

func (r *Room) handlePresence(msg UpdatePresence) {
	if msg.Record.Status == "" {
		r.log.Warn("dropping malformed presence record", zap.String("client", msg.ClientID))
		return
	}

	_, existed := r.presence[msg.ClientID]
	// Whole-record replace: omitted optional fields disappear.
	r.presence[msg.ClientID] = msg.Record
	r.broadcast(types.ServerMessage{Type: types.MsgPresenceSync, Members: r.members()})

	if !existed {
		// Bridge a silent presence enter into the explicit event vocabulary,
		// but only when the record identifies the player.
		if msg.Record.Identified() {
			r.broadcastEvent(msg.Record.PlayerID, &types.PlayerJoined{
				PlayerID:   msg.Record.PlayerID,
				PlayerName: msg.Record.PlayerName,
				AvatarSrc:  msg.Record.AvatarSrc,
			})
		} else {
			r.log.Warn("presence enter without identity, not bridging",
				zap.String("client", msg.ClientID))
		}
	}
}

func (r *Room) handleCommand(msg FromClient) {
	prevPhase := r.state.Phase

	events, newState, err := game.Apply(r.state, msg.Cmd)
	if err != nil {
		r.replyError(msg.ClientID, err)
		return
	}
	if len(events) == 0 {
		return
	}

	r.state = newState
	r.version++

	for _, ev := range events {
		if payload, ok := toWirePayload(ev); ok {
			r.broadcastEvent(msg.Sender, payload)
		}
	}
	r.broadcast(types.ServerMessage{Type: types.MsgSnapshot, Snapshot: snapshotOf(r.code, r.version, r.state)})

	switch {
	case game.ContainsEvent(events, game.EvtGameReset):
		// The reset already moved the store row unconditionally; a
		// conditional advance would only lose a race against it.
		r.onGameReset()
	case game.ContainsEvent(events, game.EvtPhaseAdvanced):
		r.onPhaseAdvanced(prevPhase)
	}
}

// onGameReset clears the countdown and rewrites the cached phase so pollers
// do not drag a freshly reset room back to final-results off a stale
// snapshot.
func (r *Room) onGameReset() {
	r.armTimer()

	if r.gw == nil {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(r.ctx, 5*time.Second)
		defer cancel()
		if err := r.gw.ResetPhase(ctx); err != nil {
			r.log.Warn("phase reset sync failed, poll may lag", zap.Error(err))
		}
	}()
}

// onPhaseAdvanced re-arms the countdown for the new phase and pushes the
// transition to the store. A conflict there means another node already wrote
// the same transition, which is fine.
func (r *Room) onPhaseAdvanced(from game.Phase) {
	r.armTimer()

	if r.gw == nil {
		return
	}
	to, round := r.state.Phase, r.state.Round
	go func() {
		ctx, cancel := context.WithTimeout(r.ctx, 5*time.Second)
		defer cancel()
		err := r.gw.AdvancePhase(ctx, from, to, round)
		switch {
		case err == nil:
		case errors.Is(err, store.ErrConflict):
			r.log.Debug("phase already advanced elsewhere", zap.String("to", string(to)))
		default:
			r.log.Warn("phase advance write failed, poll will reconcile", zap.Error(err))
		}
	}()
}

func (r *Room) handleTally(msg Tally) {
	if r.tallyGuard[msg.Round] {
		return // advisory guard; the store's unique index is the real one
	}
	r.tallyGuard[msg.Round] = true

	if r.gw == nil {
		return
	}
	points := r.state.Rules.WinnerPoints
	go func() {
		ctx, cancel := context.WithTimeout(r.ctx, 5*time.Second)
		defer cancel()
		winnerID, pts, err := r.gw.TallyRound(ctx, msg.Round, points)
		select {
		case r.inbox <- tallyDone{round: msg.Round, winnerID: winnerID, points: pts, err: err}:
		case <-r.ctx.Done():
		}
	}()
}

func (r *Room) handleTallyDone(msg tallyDone) {
	switch {
	case msg.err == nil:
		r.state = game.AwardPoints(r.state, msg.winnerID, msg.points)
		r.version++
		r.broadcast(types.ServerMessage{Type: types.MsgSnapshot, Snapshot: snapshotOf(r.code, r.version, r.state)})
	case errors.Is(msg.err, store.ErrConflict):
		r.log.Debug("round already tallied", zap.Int("round", msg.round))
	default:
		// A real failure releases the guard so a later attempt can retry.
		delete(r.tallyGuard, msg.round)
		r.log.Warn("tally failed", zap.Int("round", msg.round), zap.Error(msg.err))
	}
}

func (r *Room) handlePolled(msg phasePolled) {
	if msg.err != nil {
		r.log.Debug("phase poll failed", zap.Error(msg.err))
		return
	}
	if msg.phase == r.state.Phase && msg.round == r.state.Round {
		return
	}

	// The store moved without us seeing the event. Adopt and rebroadcast so
	// clients that also missed it still navigate.
	r.state = game.Adopt(r.state, msg.phase, msg.round)
	r.version++
	r.broadcastEvent("", &types.GamePhaseChanged{Phase: string(msg.phase), Round: msg.round})
	r.broadcast(types.ServerMessage{Type: types.MsgSnapshot, Snapshot: snapshotOf(r.code, r.version, r.state)})
	r.armTimer()
}

func (r *Room) poll() {
	ctx, cancel := context.WithTimeout(r.ctx, r.pollInterval)
	defer cancel()

	phase, round, err := r.gw.CurrentPhase(ctx)
	select {
	case r.inbox <- phasePolled{phase: phase, round: round, err: err}:
	case <-r.ctx.Done():
	}
}

func (r *Room) armTimer() {
	if r.timer != nil {
		r.timer.Stop()
	}
	r.timerGen++

	sec := game.CountdownSec(r.state.Phase, r.state.Rules)
	if sec <= 0 {
		return
	}

	gen := r.timerGen
	r.timer = time.AfterFunc(time.Duration(sec)*time.Second, func() {
		select {
		case r.inbox <- timerFired{gen: gen}:
		case <-r.ctx.Done():
		}
	})
}

func (r *Room) broadcastEvent(sender string, payload types.EventPayload) {
	r.broadcast(types.ServerMessage{
		Type:  types.MsgEvent,
		Event: &types.Envelope{Kind: payload.Kind(), Sender: sender, Payload: payload},
	})
}

func (r *Room) broadcast(msg types.ServerMessage) {
	for id := range r.clients {
		r.send(id, msg)
	}
}

// send delivers to one subscriber, dropping them if their outbox is full.
func (r *Room) send(clientID string, msg types.ServerMessage) bool {
	ch, ok := r.clients[clientID]
	if !ok {
		return false
	}
	select {
	case ch <- msg:
		return true
	default:
		close(ch)
		delete(r.clients, clientID)
		delete(r.presence, clientID)
		r.log.Debug("dropping slow subscriber", zap.String("client", clientID))
		return false
	}
}

func (r *Room) replyError(clientID string, err error) {
	ch, ok := r.clients[clientID]
	if !ok {
		return
	}
	select {
	case ch <- types.ServerMessage{Type: types.MsgError, Error: err.Error()}:
	default:
	}
}

func (r *Room) members() map[string]types.PresenceRecord {
	members := make(map[string]types.PresenceRecord, len(r.presence))
	for clientID, rec := range r.presence {
		key := rec.PlayerID
		if key == "" {
			key = clientID
		}
		members[key] = rec
	}
	return members
}

func (r *Room) shutdown() {
	if r.timer != nil {
		r.timer.Stop()
	}
	for id, ch := range r.clients {
		close(ch) // tell subscribers no more messages
		delete(r.clients, id)
	}
	r.cancel()
}
