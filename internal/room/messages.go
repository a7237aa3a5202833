package room

import (
	"github.com/memerumble/meme-rumble-backend/internal/game"
	"github.com/memerumble/meme-rumble-backend/pkg/types"
)

type Msg interface{ isRoomMsg() }

// Join attaches a connection to the channel. The player info comes from the
// caller's authoritative store fetch, not from the wire.
type Join struct {
	ClientID string
	Player   types.PlayerInfo
	Outbox   chan types.ServerMessage
}

type Leave struct{ ClientID string }

// UpdatePresence replaces the member's whole presence record.
type UpdatePresence struct {
	ClientID string
	Record   types.PresenceRecord
}

// Publish broadcasts an application event to every subscriber, sender
// included; receivers self-filter on the stamped sender id.
type Publish struct {
	Sender  string
	Payload types.EventPayload
}

// FromClient runs a game command whose gateway write has already succeeded.
// ClientID is the origin connection; a rejected command is reported straight
// to its outbox, whether or not it has published presence yet.
type FromClient struct {
	ClientID string
	Sender   string
	Cmd      game.Command
}

// Tally asks for the round's aggregation. Guarded by a per-round one-shot
// flag; the store's conflict error is the real arbiter.
type Tally struct {
	Sender string
	Round  int
}

// PrimeTimer arms the countdown for the current phase.
type PrimeTimer struct{}

type GetView struct{ Reply chan View }

type Shutdown struct{}

// Internal loop messages.
type timerFired struct{ gen int }

type phasePolled struct {
	phase game.Phase
	round int
	err   error
}

type tallyDone struct {
	round    int
	winnerID string
	points   int
	err      error
}

func (Join) isRoomMsg()           {}
func (Leave) isRoomMsg()          {}
func (UpdatePresence) isRoomMsg() {}
func (Publish) isRoomMsg()        {}
func (FromClient) isRoomMsg()     {}
func (Tally) isRoomMsg()          {}
func (PrimeTimer) isRoomMsg()     {}
func (GetView) isRoomMsg()        {}
func (Shutdown) isRoomMsg()       {}
func (timerFired) isRoomMsg()     {}
func (phasePolled) isRoomMsg()    {}
func (tallyDone) isRoomMsg()      {}

// View reflects internal state for tests without data races.
type View struct {
	Version    int
	NumClients int
	State      game.State
	Presence   map[string]types.PresenceRecord
}
