package room

import (
	"context"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/memerumble/meme-rumble-backend/internal/game"
	"github.com/memerumble/meme-rumble-backend/internal/store"
	"github.com/memerumble/meme-rumble-backend/pkg/types"
)

// helper: receive one server message with a timeout so tests never hang
func recvMsg(t *testing.T, ch <-chan types.ServerMessage, within time.Duration) types.ServerMessage {
	t.Helper()
	select {
	case msg, ok := <-ch:
		if !ok {
			t.Fatalf("client outbox closed unexpectedly")
		}
		return msg
	case <-time.After(within):
		t.Fatalf("timed out waiting for server message")
		return types.ServerMessage{} // unreachable
	}
}

// helper: drain messages until one matches, with an overall deadline
func recvUntil(t *testing.T, ch <-chan types.ServerMessage, within time.Duration, match func(types.ServerMessage) bool) types.ServerMessage {
	t.Helper()
	deadline := time.After(within)
	for {
		select {
		case msg, ok := <-ch:
			if !ok {
				t.Fatalf("client outbox closed while waiting")
			}
			if match(msg) {
				return msg
			}
		case <-deadline:
			t.Fatalf("timed out waiting for matching server message")
			return types.ServerMessage{} // unreachable
		}
	}
}

func recvNoMsg(t *testing.T, ch <-chan types.ServerMessage, within time.Duration, match func(types.ServerMessage) bool) {
	t.Helper()
	deadline := time.After(within)
	for {
		select {
		case msg, ok := <-ch:
			if !ok {
				return
			}
			if match(msg) {
				t.Fatalf("expected no matching message within %v, got %+v", within, msg)
			}
		case <-deadline:
			return
		}
	}
}

func recvView(t *testing.T, r *Room, within time.Duration) View {
	t.Helper()
	reply := make(chan View, 1)
	r.Inbox() <- GetView{Reply: reply}
	select {
	case v := <-reply:
		return v
	case <-time.After(within):
		t.Fatalf("timed out waiting for view")
		return View{} // unreachable
	}
}

type fakeGateway struct {
	mu         sync.Mutex
	phase      game.Phase
	round      int
	advances   int
	resets     int
	tallyCalls int
	tallyErr   error
	winnerID   string
	points     int
}

func (g *fakeGateway) CurrentPhase(ctx context.Context) (game.Phase, int, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.phase, g.round, nil
}

func (g *fakeGateway) AdvancePhase(ctx context.Context, from, to game.Phase, round int) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.advances++
	g.phase = to
	g.round = round
	return nil
}

func (g *fakeGateway) ResetPhase(ctx context.Context) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.resets++
	g.phase = game.PhaseLobby
	g.round = 0
	return nil
}

func (g *fakeGateway) TallyRound(ctx context.Context, round, points int) (string, int, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.tallyCalls++
	if g.tallyErr != nil {
		return "", 0, g.tallyErr
	}
	return g.winnerID, g.points, nil
}

func testRules() game.Rules {
	r := game.DefaultRules()
	r.MinPlayers = 2
	return r
}

func isEvent(kind types.EventKind) func(types.ServerMessage) bool {
	return func(msg types.ServerMessage) bool {
		return msg.Type == types.MsgEvent && msg.Event != nil && msg.Event.Kind == kind
	}
}

func join(t *testing.T, r *Room, clientID, playerID, name string) chan types.ServerMessage {
	t.Helper()
	out := make(chan types.ServerMessage, 32)
	r.Inbox() <- Join{
		ClientID: clientID,
		Player:   types.PlayerInfo{PlayerID: playerID, Name: name},
		Outbox:   out,
	}

	first := recvMsg(t, out, 100*time.Millisecond)
	if first.Type != types.MsgSnapshot {
		t.Fatalf("on join: want snapshot first, got %q", first.Type)
	}
	second := recvMsg(t, out, 100*time.Millisecond)
	if second.Type != types.MsgPresenceSync {
		t.Fatalf("on join: want presence sync second, got %q", second.Type)
	}
	return out
}

func TestRoom_Join_SendsSnapshotImmediately(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	r := New(ctx, "AB12CD", game.NewState(testRules()), nil, 0, zap.NewNop())
	out := make(chan types.ServerMessage, 8)
	r.Inbox() <- Join{ClientID: "c1", Player: types.PlayerInfo{PlayerID: "p1", Name: "Ana"}, Outbox: out}

	first := recvMsg(t, out, 100*time.Millisecond)
	if first.Type != types.MsgSnapshot || first.Snapshot == nil {
		t.Fatalf("want snapshot, got %+v", first)
	}
	if first.Snapshot.Code != "AB12CD" || first.Snapshot.Phase != string(game.PhaseLobby) {
		t.Fatalf("unexpected snapshot: %+v", first.Snapshot)
	}

	r.Inbox() <- Shutdown{}
}

func TestRoom_PublishReachesEverySubscriber(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	r := New(ctx, "AB12CD", game.NewState(testRules()), nil, 0, zap.NewNop())
	out1 := join(t, r, "c1", "p1", "Ana")
	out2 := join(t, r, "c2", "p2", "Ben")

	r.Inbox() <- Publish{Sender: "p1", Payload: &types.MemeVoteCast{
		VoterPlayerID: "p1", VotedForCandidateID: "gif-7",
	}}

	for _, out := range []chan types.ServerMessage{out1, out2} {
		msg := recvUntil(t, out, 200*time.Millisecond, isEvent(types.EvtMemeVoteCast))
		if msg.Event.Sender != "p1" {
			t.Fatalf("want sender p1, got %q", msg.Event.Sender)
		}
		payload, ok := msg.Event.Payload.(*types.MemeVoteCast)
		if !ok || payload.VotedForCandidateID != "gif-7" {
			t.Fatalf("payload mismatch: %+v", msg.Event.Payload)
		}
	}
}

func TestRoom_PresenceEnterBridgesPlayerJoined(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	r := New(ctx, "AB12CD", game.NewState(testRules()), nil, 0, zap.NewNop())
	out := join(t, r, "c1", "p1", "Ana")

	r.Inbox() <- UpdatePresence{ClientID: "c2", Record: types.PresenceRecord{
		Status: types.PresenceOnline, PlayerID: "p2", PlayerName: "Ben", AvatarSrc: "a2.png",
	}}

	msg := recvUntil(t, out, 200*time.Millisecond, isEvent(types.EvtPlayerJoined))
	payload := msg.Event.Payload.(*types.PlayerJoined)
	if payload.PlayerID != "p2" || payload.PlayerName != "Ben" {
		t.Fatalf("bridge payload mismatch: %+v", payload)
	}
}

func TestRoom_AnonymousPresenceEnterIsNotBridged(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	r := New(ctx, "AB12CD", game.NewState(testRules()), nil, 0, zap.NewNop())
	out := join(t, r, "c1", "p1", "Ana")

	// Status present but no identity: tracked, not bridged.
	r.Inbox() <- UpdatePresence{ClientID: "c2", Record: types.PresenceRecord{Status: types.PresenceOnline}}
	recvNoMsg(t, out, 150*time.Millisecond, isEvent(types.EvtPlayerJoined))

	// No status at all: dropped entirely.
	r.Inbox() <- UpdatePresence{ClientID: "c3", Record: types.PresenceRecord{PlayerID: "p3"}}
	view := recvView(t, r, 100*time.Millisecond)
	if _, ok := view.Presence["c3"]; ok {
		t.Fatalf("malformed record should have been dropped")
	}
}

func TestRoom_PresenceUpdateReplacesWholeRecord(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	r := New(ctx, "AB12CD", game.NewState(testRules()), nil, 0, zap.NewNop())
	_ = join(t, r, "c1", "p1", "Ana")

	ready := true
	r.Inbox() <- UpdatePresence{ClientID: "c1", Record: types.PresenceRecord{
		Status: types.PresenceOnline, PlayerID: "p1", PlayerName: "Ana",
		IsReady: &ready, AvatarSrc: "a1.png",
	}}

	// Resend without the optional fields: they must disappear, not merge.
	r.Inbox() <- UpdatePresence{ClientID: "c1", Record: types.PresenceRecord{
		Status: types.PresenceIdle, PlayerID: "p1", PlayerName: "Ana",
	}}

	view := recvView(t, r, 100*time.Millisecond)
	rec, ok := view.Presence["c1"]
	if !ok {
		t.Fatalf("presence record missing")
	}
	if rec.Status != types.PresenceIdle {
		t.Fatalf("want replaced status, got %q", rec.Status)
	}
	if rec.IsReady != nil || rec.AvatarSrc != "" {
		t.Fatalf("omitted optional fields should disappear, got %+v", rec)
	}
}

func TestRoom_DropSlowClient(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	r := New(ctx, "AB12CD", game.NewState(testRules()), nil, 0, zap.NewNop())

	out := make(chan types.ServerMessage, 1)
	r.Inbox() <- Join{ClientID: "c1", Player: types.PlayerInfo{PlayerID: "p1", Name: "Ana"}, Outbox: out}
	// Outbox holds one message (the join snapshot); the presence sync
	// overflows it and the client gets dropped.

	view := recvView(t, r, 200*time.Millisecond)
	if view.NumClients != 0 {
		t.Fatalf("expected slow client to be dropped; NumClients=%d", view.NumClients)
	}
}

func TestRoom_ReadyQuorumAdvancesAndWritesGateway(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	gw := &fakeGateway{phase: game.PhaseLobby}
	r := New(ctx, "AB12CD", game.NewState(testRules()), gw, 0, zap.NewNop())
	out1 := join(t, r, "c1", "p1", "Ana")
	_ = join(t, r, "c2", "p2", "Ben")

	r.Inbox() <- FromClient{Sender: "p1", Cmd: game.Command{Type: game.CmdToggleReady, PlayerID: "p1", IsReady: true}}
	r.Inbox() <- FromClient{Sender: "p2", Cmd: game.Command{Type: game.CmdToggleReady, PlayerID: "p2", IsReady: true}}

	msg := recvUntil(t, out1, 300*time.Millisecond, isEvent(types.EvtGamePhaseChanged))
	payload := msg.Event.Payload.(*types.GamePhaseChanged)
	if payload.Phase != string(game.PhaseMemeSelection) || payload.Round != 1 {
		t.Fatalf("unexpected phase event: %+v", payload)
	}

	// The conditional store write follows asynchronously.
	deadline := time.After(time.Second)
	for {
		gw.mu.Lock()
		advances := gw.advances
		gw.mu.Unlock()
		if advances == 1 {
			break
		}
		select {
		case <-deadline:
			t.Fatalf("gateway advance never happened")
		case <-time.After(10 * time.Millisecond):
		}
	}
}

func TestRoom_PollAdoptsStorePhaseAfterMissedEvent(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// The store already moved to caption-entry; this node still thinks it is
	// in the lobby (it missed the event).
	gw := &fakeGateway{phase: game.PhaseCaptionEntry, round: 1}
	r := New(ctx, "AB12CD", game.NewState(testRules()), gw, 50*time.Millisecond, zap.NewNop())
	out := join(t, r, "c1", "p1", "Ana")

	msg := recvUntil(t, out, 2*time.Second, isEvent(types.EvtGamePhaseChanged))
	payload := msg.Event.Payload.(*types.GamePhaseChanged)
	if payload.Phase != string(game.PhaseCaptionEntry) || payload.Round != 1 {
		t.Fatalf("poll should adopt store phase, got %+v", payload)
	}

	view := recvView(t, r, 100*time.Millisecond)
	if view.State.Phase != game.PhaseCaptionEntry {
		t.Fatalf("state not adopted: %v", view.State.Phase)
	}
}

func TestRoom_PlayAgainResetsGatewayPhase(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	state := game.NewState(testRules())
	state.Phase = game.PhaseFinalResults
	state.Round = 3

	// The gateway still reports the finished game; a fast poll would readopt
	// it if the reset never reached the derived phase state.
	gw := &fakeGateway{phase: game.PhaseFinalResults, round: 3}
	r := New(ctx, "AB12CD", state, gw, 50*time.Millisecond, zap.NewNop())
	out := join(t, r, "c1", "p1", "Ana")

	r.Inbox() <- FromClient{ClientID: "c1", Sender: "p1", Cmd: game.Command{Type: game.CmdPlayAgain, PlayerID: "p1"}}

	msg := recvUntil(t, out, 300*time.Millisecond, isEvent(types.EvtGamePhaseChanged))
	payload := msg.Event.Payload.(*types.GamePhaseChanged)
	if payload.Phase != string(game.PhaseLobby) || payload.Round != 0 {
		t.Fatalf("play-again should land in the lobby, got %+v", payload)
	}

	// Several poll cycles must pass without the room being pulled back to
	// final-results.
	recvNoMsg(t, out, 400*time.Millisecond, func(msg types.ServerMessage) bool {
		if !isEvent(types.EvtGamePhaseChanged)(msg) {
			return false
		}
		p := msg.Event.Payload.(*types.GamePhaseChanged)
		return p.Phase != string(game.PhaseLobby)
	})

	gw.mu.Lock()
	resets, advances := gw.resets, gw.advances
	gw.mu.Unlock()
	if resets != 1 {
		t.Fatalf("want one reset sync, got %d", resets)
	}
	if advances != 0 {
		t.Fatalf("reset must not go through the conditional advance, got %d", advances)
	}
}

func TestRoom_RejectedCommandReachesClientWithoutPresence(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	r := New(ctx, "AB12CD", game.NewState(testRules()), nil, 0, zap.NewNop())
	// Joined but never published presence.
	out := join(t, r, "c1", "p1", "Ana")

	r.Inbox() <- FromClient{ClientID: "c1", Sender: "p1", Cmd: game.Command{
		Type: game.CmdSubmitCaption, PlayerID: "p1", Text: "too early",
	}}

	msg := recvUntil(t, out, 200*time.Millisecond, func(msg types.ServerMessage) bool {
		return msg.Type == types.MsgError
	})
	if msg.Error == "" {
		t.Fatalf("error envelope missing its message")
	}
}

func TestRoom_LastLeaveFiresOnEmpty(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	emptied := make(chan struct{}, 2)
	r := New(ctx, "AB12CD", game.NewState(testRules()), nil, 0, zap.NewNop(),
		OnEmpty(func() { emptied <- struct{}{} }))
	_ = join(t, r, "c1", "p1", "Ana")
	_ = join(t, r, "c2", "p2", "Ben")

	r.Inbox() <- Leave{ClientID: "c1"}
	select {
	case <-emptied:
		t.Fatalf("room still has a subscriber, onEmpty fired early")
	case <-time.After(100 * time.Millisecond):
	}

	r.Inbox() <- Leave{ClientID: "c2"}
	select {
	case <-emptied:
	case <-time.After(200 * time.Millisecond):
		t.Fatalf("onEmpty never fired after last leave")
	}
}

func TestRoom_TallyGuardAllowsSingleCall(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	gw := &fakeGateway{phase: game.PhaseRoundResults, winnerID: "p1", points: 100}
	r := New(ctx, "AB12CD", game.NewState(testRules()), gw, 0, zap.NewNop())
	out := join(t, r, "c1", "p1", "Ana")

	r.Inbox() <- Tally{Sender: "p1", Round: 1}
	r.Inbox() <- Tally{Sender: "p2", Round: 1}

	// Winner's score lands exactly once.
	recvUntil(t, out, time.Second, func(msg types.ServerMessage) bool {
		if msg.Type != types.MsgSnapshot || msg.Snapshot == nil {
			return false
		}
		for _, p := range msg.Snapshot.Players {
			if p.PlayerID == "p1" && p.Score == 100 {
				return true
			}
		}
		return false
	})

	gw.mu.Lock()
	calls := gw.tallyCalls
	gw.mu.Unlock()
	if calls != 1 {
		t.Fatalf("guard should allow one tally call, got %d", calls)
	}
}

func TestRoom_TallyConflictIsSwallowed(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Another node already tallied: the store rejects with a conflict and the
	// loser treats it as a no-op.
	gw := &fakeGateway{phase: game.PhaseRoundResults, tallyErr: store.ErrConflict}
	r := New(ctx, "AB12CD", game.NewState(testRules()), gw, 0, zap.NewNop())
	out := join(t, r, "c1", "p1", "Ana")

	r.Inbox() <- Tally{Sender: "p1", Round: 1}

	recvNoMsg(t, out, 300*time.Millisecond, func(msg types.ServerMessage) bool {
		return msg.Type == types.MsgSnapshot
	})
	view := recvView(t, r, 100*time.Millisecond)
	if view.State.Players["p1"].Score != 0 {
		t.Fatalf("conflict path must leave scores unchanged")
	}
}

func TestRoom_TimerFires_TimeoutAdvanceBroadcasts(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	rules := testRules()
	rules.RoundResultsSec = 1
	state := game.NewState(rules)
	state.Phase = game.PhaseRoundResults
	state.Round = 1

	gw := &fakeGateway{phase: game.PhaseRoundResults, round: 1}
	r := New(ctx, "AB12CD", state, gw, 0, zap.NewNop())
	out := join(t, r, "c1", "p1", "Ana")

	r.Inbox() <- PrimeTimer{}
	msg := recvUntil(t, out, 1500*time.Millisecond, isEvent(types.EvtGamePhaseChanged))
	payload := msg.Event.Payload.(*types.GamePhaseChanged)
	if payload.Phase != string(game.PhaseMemeSelection) || payload.Round != 2 {
		t.Fatalf("timer should advance round-results, got %+v", payload)
	}
}

func TestRoom_StaleTimerFireIsDropped(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	rules := testRules()
	rules.RoundResultsSec = 1
	state := game.NewState(rules)
	state.Phase = game.PhaseRoundResults
	state.Round = 1

	r := New(ctx, "AB12CD", state, nil, 0, zap.NewNop())
	out := join(t, r, "c1", "p1", "Ana")

	// Arm, then immediately re-arm; the first countdown's fire is stale.
	r.Inbox() <- PrimeTimer{}
	r.Inbox() <- PrimeTimer{}

	_ = recvUntil(t, out, 1500*time.Millisecond, isEvent(types.EvtGamePhaseChanged))
	// Only one advance: a second phase event within the window would mean
	// the stale fire also ran.
	recvNoMsg(t, out, 1200*time.Millisecond, isEvent(types.EvtGamePhaseChanged))
}

func TestRoom_Shutdown_ClosesOutboxesAndStopsTimer(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	rules := testRules()
	rules.RoundResultsSec = 1
	state := game.NewState(rules)
	state.Phase = game.PhaseRoundResults

	r := New(ctx, "AB12CD", state, nil, 0, zap.NewNop())
	out := join(t, r, "c1", "p1", "Ana")

	r.Inbox() <- PrimeTimer{}
	r.Inbox() <- Shutdown{}

	deadline := time.After(700 * time.Millisecond) // < RoundResultsSec
	for {
		select {
		case msg, ok := <-out:
			if !ok {
				return // closed outbox: clean shutdown
			}
			if isEvent(types.EvtGamePhaseChanged)(msg) {
				t.Fatalf("timer fired after shutdown")
			}
		case <-deadline:
			t.Fatalf("outbox never closed after shutdown")
		}
	}
}
