package room

import (
	"context"
	"sync"
	"testing"

	"github.com/google/uuid"

	"github.com/memerumble/meme-rumble-backend/internal/cache"
	"github.com/memerumble/meme-rumble-backend/internal/game"
	"github.com/memerumble/meme-rumble-backend/internal/store"
)

type fakePhaseStore struct {
	mu     sync.Mutex
	room   store.Room
	advErr error
}

func (f *fakePhaseStore) RoomByCode(ctx context.Context, code string) (*store.Room, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	room := f.room
	return &room, nil
}

func (f *fakePhaseStore) AdvancePhase(ctx context.Context, roomID uuid.UUID, from, to game.Phase, round int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.advErr != nil {
		return f.advErr
	}
	f.room.Phase = string(to)
	f.room.Round = round
	return nil
}

func (f *fakePhaseStore) TallyRound(ctx context.Context, roomID uuid.UUID, round, points int) (*store.RoundTally, error) {
	return &store.RoundTally{RoomID: roomID, Round: round, WinnerPlayerID: uuid.New(), Points: points}, nil
}

type memCache struct {
	mu sync.Mutex
	m  map[string]cache.PhaseSnapshot
}

func newMemCache() *memCache {
	return &memCache{m: make(map[string]cache.PhaseSnapshot)}
}

func (c *memCache) Set(ctx context.Context, code string, snap cache.PhaseSnapshot) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.m[code] = snap
	return nil
}

func (c *memCache) Get(ctx context.Context, code string) (*cache.PhaseSnapshot, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	snap, ok := c.m[code]
	if !ok {
		return nil, nil
	}
	return &snap, nil
}

func (c *memCache) Delete(ctx context.Context, code string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.m, code)
	return nil
}

func TestStoreGateway_CurrentPhase_CacheFirstThenStore(t *testing.T) {
	ctx := context.Background()
	st := &fakePhaseStore{room: store.Room{Phase: string(game.PhaseMemeVoting), Round: 2}}
	phases := newMemCache()
	gw := NewStoreGateway(st, phases, uuid.New(), "AB12CD")

	// Miss: falls through to the store.
	phase, round, err := gw.CurrentPhase(ctx)
	if err != nil || phase != game.PhaseMemeVoting || round != 2 {
		t.Fatalf("store fallback: got %v/%d, %v", phase, round, err)
	}

	phases.Set(ctx, "AB12CD", cache.PhaseSnapshot{Phase: string(game.PhaseCaptionEntry), Round: 2})
	phase, round, err = gw.CurrentPhase(ctx)
	if err != nil || phase != game.PhaseCaptionEntry || round != 2 {
		t.Fatalf("cache hit: got %v/%d, %v", phase, round, err)
	}
}

func TestStoreGateway_AdvanceWritesThroughCache(t *testing.T) {
	ctx := context.Background()
	st := &fakePhaseStore{room: store.Room{Phase: string(game.PhaseMemeSelection), Round: 1}}
	phases := newMemCache()
	gw := NewStoreGateway(st, phases, uuid.New(), "AB12CD")

	if err := gw.AdvancePhase(ctx, game.PhaseMemeSelection, game.PhaseMemeVoting, 1); err != nil {
		t.Fatalf("advance: %v", err)
	}
	snap, _ := phases.Get(ctx, "AB12CD")
	if snap == nil || snap.Phase != string(game.PhaseMemeVoting) || snap.Round != 1 {
		t.Fatalf("cache not written through: %+v", snap)
	}
}

func TestStoreGateway_LostAdvanceDropsStaleSnapshot(t *testing.T) {
	ctx := context.Background()
	// The row was already reset to the lobby by another writer; the cached
	// snapshot still holds the pre-reset phase.
	st := &fakePhaseStore{
		room:   store.Room{Phase: string(game.PhaseLobby), Round: 0},
		advErr: store.ErrConflict,
	}
	phases := newMemCache()
	phases.Set(ctx, "AB12CD", cache.PhaseSnapshot{Phase: string(game.PhaseFinalResults), Round: 3})
	gw := NewStoreGateway(st, phases, uuid.New(), "AB12CD")

	err := gw.AdvancePhase(ctx, game.PhaseFinalResults, game.PhaseLobby, 0)
	if err != store.ErrConflict {
		t.Fatalf("want conflict, got %v", err)
	}

	// The stale snapshot must not survive the lost race: pollers now read
	// the store's truth, not the old final-results blob.
	if snap, _ := phases.Get(ctx, "AB12CD"); snap != nil {
		t.Fatalf("stale snapshot still cached: %+v", snap)
	}
	phase, round, err := gw.CurrentPhase(ctx)
	if err != nil || phase != game.PhaseLobby || round != 0 {
		t.Fatalf("poll after lost race: got %v/%d, %v", phase, round, err)
	}
}

func TestStoreGateway_ResetPhaseRewritesCachedLobby(t *testing.T) {
	ctx := context.Background()
	st := &fakePhaseStore{room: store.Room{Phase: string(game.PhaseLobby), Round: 0}}
	phases := newMemCache()
	phases.Set(ctx, "AB12CD", cache.PhaseSnapshot{Phase: string(game.PhaseFinalResults), Round: 3})
	gw := NewStoreGateway(st, phases, uuid.New(), "AB12CD")

	if err := gw.ResetPhase(ctx); err != nil {
		t.Fatalf("reset phase: %v", err)
	}
	phase, round, err := gw.CurrentPhase(ctx)
	if err != nil || phase != game.PhaseLobby || round != 0 {
		t.Fatalf("cache after reset: got %v/%d, %v", phase, round, err)
	}
}

func TestStoreGateway_NilCacheIsFine(t *testing.T) {
	ctx := context.Background()
	st := &fakePhaseStore{room: store.Room{Phase: string(game.PhaseLobby), Round: 0}}
	gw := NewStoreGateway(st, nil, uuid.New(), "AB12CD")

	if err := gw.ResetPhase(ctx); err != nil {
		t.Fatalf("reset without cache: %v", err)
	}
	if err := gw.AdvancePhase(ctx, game.PhaseLobby, game.PhaseMemeSelection, 1); err != nil {
		t.Fatalf("advance without cache: %v", err)
	}
}
