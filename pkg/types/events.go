package types

import (
	"encoding/json"
	"fmt"
)

type EventKind string

const (
	EvtPlayerJoined        EventKind = "player-joined"
	EvtPlayerLeft          EventKind = "player-left"
	EvtPlayerReadyUpdate   EventKind = "player-ready-update"
	EvtPlayerAvatarChanged EventKind = "player-avatar-changed"
	EvtGamePhaseChanged    EventKind = "game-phase-changed"
	EvtMemeProposed        EventKind = "meme-proposed"
	EvtMemeVoteCast        EventKind = "meme-vote-cast"
	EvtCaptionSubmitted    EventKind = "caption-submitted"
	EvtCaptionVoteCast     EventKind = "caption-vote-cast"
)

// EventPayload is the closed set of payloads that can ride a room channel.
// Decoding goes through DecodePayload so an unknown kind never produces an
// untyped payload.
type EventPayload interface {
	Kind() EventKind
}

type PlayerJoined struct {
	PlayerID   string `json:"playerId"`
	PlayerName string `json:"playerName"`
	AvatarSrc  string `json:"avatarSrc,omitempty"`
}

type PlayerLeft struct {
	PlayerID string `json:"playerId"`
}

type PlayerReadyUpdate struct {
	PlayerID string `json:"playerId"`
	IsReady  bool   `json:"isReady"`
}

type PlayerAvatarChanged struct {
	PlayerID  string `json:"playerId"`
	AvatarSrc string `json:"avatarSrc"`
}

type GamePhaseChanged struct {
	Phase string          `json:"phase"`
	Round int             `json:"round"`
	Data  json.RawMessage `json:"data,omitempty"`
}

type MemeProposed struct {
	PlayerID    string `json:"playerId"`
	CandidateID string `json:"candidateId"`
	MediaURL    string `json:"mediaUrl,omitempty"`
}

type MemeVoteCast struct {
	VoterPlayerID       string `json:"voterPlayerId"`
	VotedForCandidateID string `json:"votedForCandidateId"`
}

type CaptionSubmitted struct {
	PlayerID string `json:"playerId"`
}

type CaptionVoteCast struct {
	VoterPlayerID       string `json:"voterPlayerId"`
	VotedForCandidateID string `json:"votedForCandidateId"`
}

func (PlayerJoined) Kind() EventKind        { return EvtPlayerJoined }
func (PlayerLeft) Kind() EventKind          { return EvtPlayerLeft }
func (PlayerReadyUpdate) Kind() EventKind   { return EvtPlayerReadyUpdate }
func (PlayerAvatarChanged) Kind() EventKind { return EvtPlayerAvatarChanged }
func (GamePhaseChanged) Kind() EventKind    { return EvtGamePhaseChanged }
func (MemeProposed) Kind() EventKind        { return EvtMemeProposed }
func (MemeVoteCast) Kind() EventKind        { return EvtMemeVoteCast }
func (CaptionSubmitted) Kind() EventKind    { return EvtCaptionSubmitted }
func (CaptionVoteCast) Kind() EventKind     { return EvtCaptionVoteCast }

// Envelope is one broadcast message on a room channel. Sender is stamped by
// the server from the connection identity, never trusted from the client.
type Envelope struct {
	Kind    EventKind    `json:"kind"`
	Sender  string       `json:"sender,omitempty"`
	Payload EventPayload `json:"payload"`
}

type rawEnvelope struct {
	Kind    EventKind       `json:"kind"`
	Sender  string          `json:"sender,omitempty"`
	Payload json.RawMessage `json:"payload"`
}

func (e *Envelope) UnmarshalJSON(data []byte) error {
	var raw rawEnvelope
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	payload, err := DecodePayload(raw.Kind, raw.Payload)
	if err != nil {
		return err
	}
	e.Kind = raw.Kind
	e.Sender = raw.Sender
	e.Payload = payload
	return nil
}

// DecodePayload maps an event kind to its payload type. Unknown kinds are an
// error so malformed traffic gets dropped at the edge instead of flowing
// through handlers as interface{}.
func DecodePayload(kind EventKind, raw json.RawMessage) (EventPayload, error) {
	var (
		payload EventPayload
		err     error
	)

	decode := func(v EventPayload) (EventPayload, error) {
		if len(raw) == 0 {
			return nil, fmt.Errorf("event %q: missing payload", kind)
		}
		return v, json.Unmarshal(raw, v)
	}

	switch kind {
	case EvtPlayerJoined:
		payload, err = decode(&PlayerJoined{})
	case EvtPlayerLeft:
		payload, err = decode(&PlayerLeft{})
	case EvtPlayerReadyUpdate:
		payload, err = decode(&PlayerReadyUpdate{})
	case EvtPlayerAvatarChanged:
		payload, err = decode(&PlayerAvatarChanged{})
	case EvtGamePhaseChanged:
		payload, err = decode(&GamePhaseChanged{})
	case EvtMemeProposed:
		payload, err = decode(&MemeProposed{})
	case EvtMemeVoteCast:
		payload, err = decode(&MemeVoteCast{})
	case EvtCaptionSubmitted:
		payload, err = decode(&CaptionSubmitted{})
	case EvtCaptionVoteCast:
		payload, err = decode(&CaptionVoteCast{})
	default:
		return nil, fmt.Errorf("unknown event kind %q", kind)
	}
	if err != nil {
		return nil, fmt.Errorf("event %q: %w", kind, err)
	}
	return payload, nil
}
