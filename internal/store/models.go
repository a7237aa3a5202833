package store

import (
	"time"

	"github.com/google/uuid"
)

type Room struct {
	ID        uuid.UUID `gorm:"type:uuid;primaryKey"`
	Code      string    `gorm:"size:6;uniqueIndex;not null"`
	Phase     string    `gorm:"not null"`
	Round     int       `gorm:"not null;default:0"`
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Player rows are keyed by the opaque session id, not the display name.
type Player struct {
	ID        uuid.UUID `gorm:"type:uuid;primaryKey"`
	RoomID    uuid.UUID `gorm:"type:uuid;index;not null"`
	Name      string    `gorm:"size:32;not null"`
	AvatarSrc string    `gorm:"size:256"`
	Ready     bool      `gorm:"not null;default:false"`
	Score     int       `gorm:"not null;default:0"`
	CreatedAt time.Time
	UpdatedAt time.Time
}

type MemeProposal struct {
	ID          uint      `gorm:"primaryKey"`
	RoomID      uuid.UUID `gorm:"type:uuid;uniqueIndex:idx_proposal_once,priority:1;not null"`
	Round       int       `gorm:"uniqueIndex:idx_proposal_once,priority:2;not null"`
	PlayerID    uuid.UUID `gorm:"type:uuid;uniqueIndex:idx_proposal_once,priority:3;not null"`
	CandidateID string    `gorm:"size:64;not null"`
	MediaURL    string    `gorm:"size:512"`
	CreatedAt   time.Time
}

type Caption struct {
	ID        uint      `gorm:"primaryKey"`
	RoomID    uuid.UUID `gorm:"type:uuid;uniqueIndex:idx_caption_once,priority:1;not null"`
	Round     int       `gorm:"uniqueIndex:idx_caption_once,priority:2;not null"`
	PlayerID  uuid.UUID `gorm:"type:uuid;uniqueIndex:idx_caption_once,priority:3;not null"`
	Text      string    `gorm:"size:280;not null"`
	CreatedAt time.Time
}

const (
	VoteKindMeme    = "meme"
	VoteKindCaption = "caption"
)

// One vote per voter per kind per round; the unique index is what arbitrates
// double submissions, not any client-side guard.
type Vote struct {
	ID          uint      `gorm:"primaryKey"`
	RoomID      uuid.UUID `gorm:"type:uuid;uniqueIndex:idx_vote_once,priority:1;not null"`
	Round       int       `gorm:"uniqueIndex:idx_vote_once,priority:2;not null"`
	Kind        string    `gorm:"size:8;uniqueIndex:idx_vote_once,priority:3;not null"`
	VoterID     uuid.UUID `gorm:"type:uuid;uniqueIndex:idx_vote_once,priority:4;not null"`
	CandidateID string    `gorm:"size:64;not null"`
	CreatedAt   time.Time
}

// RoundTally is the idempotence anchor for aggregation: the unique index on
// room+round means exactly one concurrent tally attempt can succeed.
type RoundTally struct {
	ID             uint      `gorm:"primaryKey"`
	RoomID         uuid.UUID `gorm:"type:uuid;uniqueIndex:idx_tally_once,priority:1;not null"`
	Round          int       `gorm:"uniqueIndex:idx_tally_once,priority:2;not null"`
	WinnerPlayerID uuid.UUID `gorm:"type:uuid;not null"`
	Points         int       `gorm:"not null"`
	CreatedAt      time.Time
}
