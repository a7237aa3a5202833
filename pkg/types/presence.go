package types

import "time"

// PresenceRecord is the per-member status blob attached to a room channel.
// Updates replace the whole record; there is no field-level merge, so callers
// resend every field they want to keep.
type PresenceRecord struct {
	Status       string     `json:"status"`
	IsReady      *bool      `json:"isReady,omitempty"`
	LastActivity *time.Time `json:"lastActivity,omitempty"`
	AvatarSrc    string     `json:"avatarSrc,omitempty"`
	PlayerID     string     `json:"playerId,omitempty"`
	PlayerName   string     `json:"playerName,omitempty"`
}

const (
	PresenceOnline = "online"
	PresenceIdle   = "idle"
)

// Identified reports whether the record carries enough identity to bridge a
// presence enter into a player-joined event.
func (r PresenceRecord) Identified() bool {
	return r.PlayerID != "" && r.PlayerName != ""
}
