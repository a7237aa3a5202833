package types

// Client -> Server websocket messages. Flat envelope with a type tag; only the
// fields for that type are set.
type ClientMessage struct {
	Type        string          `json:"type"`
	IsReady     bool            `json:"is_ready,omitempty"`
	AvatarSrc   string          `json:"avatar_src,omitempty"`
	Name        string          `json:"name,omitempty"`
	CandidateID string          `json:"candidate_id,omitempty"`
	MediaURL    string          `json:"media_url,omitempty"`
	Text        string          `json:"text,omitempty"`
	Event       *Envelope       `json:"event,omitempty"`
	Presence    *PresenceRecord `json:"presence,omitempty"`
}

const (
	MsgToggleReady     = "ToggleReady"
	MsgSetAvatar       = "SetAvatar"
	MsgSetName         = "SetName"
	MsgProposeMeme     = "ProposeMeme"
	MsgCastMemeVote    = "CastMemeVote"
	MsgSubmitCaption   = "SubmitCaption"
	MsgCastCaptionVote = "CastCaptionVote"
	MsgTallyRound      = "TallyRound"
	MsgPlayAgain       = "PlayAgain"
	MsgPublish         = "Publish"
	MsgUpdatePresence  = "UpdatePresence"
)

// Server -> Client websocket messages.
type ServerMessage struct {
	Type     string                    `json:"type"` // "Event" | "PresenceSync" | "Snapshot" | "Error"
	Event    *Envelope                 `json:"event,omitempty"`
	Members  map[string]PresenceRecord `json:"members,omitempty"`
	Snapshot *RoomSnapshot             `json:"snapshot,omitempty"`
	Error    string                    `json:"error,omitempty"`
}

const (
	MsgEvent        = "Event"
	MsgPresenceSync = "PresenceSync"
	MsgSnapshot     = "Snapshot"
	MsgError        = "Error"
)

type PlayerInfo struct {
	PlayerID  string `json:"player_id"`
	Name      string `json:"name"`
	AvatarSrc string `json:"avatar_src,omitempty"`
	IsReady   bool   `json:"is_ready"`
	Score     int    `json:"score"`
}

// RoomSnapshot is the authoritative view handed to a client on join and on
// every poll of GET /rooms/{code}.
type RoomSnapshot struct {
	Version int          `json:"version"`
	Code    string       `json:"code"`
	Phase   string       `json:"phase"`
	Round   int          `json:"round"`
	Players []PlayerInfo `json:"players,omitempty"`
}
