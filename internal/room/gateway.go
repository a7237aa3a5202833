package room

import (
	"context"
	"errors"

	"github.com/google/uuid"

	"github.com/memerumble/meme-rumble-backend/internal/cache"
	"github.com/memerumble/meme-rumble-backend/internal/game"
	"github.com/memerumble/meme-rumble-backend/internal/store"
)

// Gateway is the slice of the persistence layer a room actor needs. The
// store stays authoritative; the actor only nudges it and polls it.
type Gateway interface {
	// CurrentPhase returns the authoritative phase and round.
	CurrentPhase(ctx context.Context) (game.Phase, int, error)
	// AdvancePhase performs the conditional phase update; ErrConflict means
	// another writer already advanced it.
	AdvancePhase(ctx context.Context, from, to game.Phase, round int) error
	// ResetPhase refreshes derived phase state after a play-again reset. The
	// room row itself was already reset by the gateway write that carried
	// the command, so this is unconditional.
	ResetPhase(ctx context.Context) error
	// TallyRound aggregates the round and returns the winner and awarded
	// points; ErrConflict means someone else already tallied.
	TallyRound(ctx context.Context, round, points int) (string, int, error)
}

// PhaseStore is the slice of the store the gateway reads and writes.
type PhaseStore interface {
	RoomByCode(ctx context.Context, code string) (*store.Room, error)
	AdvancePhase(ctx context.Context, roomID uuid.UUID, from, to game.Phase, round int) error
	TallyRound(ctx context.Context, roomID uuid.UUID, round, points int) (*store.RoundTally, error)
}

// storeGateway binds a store and the phase cache to one room row.
type storeGateway struct {
	st     PhaseStore
	phases cache.PhaseCache
	roomID uuid.UUID
	code   string
}

func NewStoreGateway(st PhaseStore, phases cache.PhaseCache, roomID uuid.UUID, code string) Gateway {
	return &storeGateway{st: st, phases: phases, roomID: roomID, code: code}
}

func (g *storeGateway) CurrentPhase(ctx context.Context) (game.Phase, int, error) {
	if g.phases != nil {
		if snap, err := g.phases.Get(ctx, g.code); err == nil && snap != nil {
			return game.Phase(snap.Phase), snap.Round, nil
		}
	}
	room, err := g.st.RoomByCode(ctx, g.code)
	if err != nil {
		return "", 0, err
	}
	return game.Phase(room.Phase), room.Round, nil
}

func (g *storeGateway) AdvancePhase(ctx context.Context, from, to game.Phase, round int) error {
	if err := g.st.AdvancePhase(ctx, g.roomID, from, to, round); err != nil {
		if errors.Is(err, store.ErrConflict) && g.phases != nil {
			// Lost the race: another writer moved the row, so whatever the
			// cache holds may now be stale. Drop it and let pollers read
			// the store until the winner's write-through lands.
			_ = g.phases.Delete(ctx, g.code)
		}
		return err
	}
	if g.phases != nil {
		// Write-through; a cache failure only delays pollers by one miss.
		_ = g.phases.Set(ctx, g.code, cache.PhaseSnapshot{Phase: string(to), Round: round})
	}
	return nil
}

func (g *storeGateway) ResetPhase(ctx context.Context) error {
	if g.phases == nil {
		return nil
	}
	return g.phases.Set(ctx, g.code, cache.PhaseSnapshot{Phase: string(game.PhaseLobby), Round: 0})
}

func (g *storeGateway) TallyRound(ctx context.Context, round, points int) (string, int, error) {
	tally, err := g.st.TallyRound(ctx, g.roomID, round, points)
	if err != nil {
		return "", 0, err
	}
	return tally.WinnerPlayerID.String(), tally.Points, nil
}
