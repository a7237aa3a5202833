package room

import (
	"github.com/memerumble/meme-rumble-backend/internal/game"
	"github.com/memerumble/meme-rumble-backend/pkg/types"
)

// toWirePayload maps a game event onto the channel's event vocabulary. Name
// changes deliberately ride presence only, so they map to nothing here.
func toWirePayload(e game.Event) (types.EventPayload, bool) {
	switch e.Type {
	case game.EvtReadyChanged:
		return &types.PlayerReadyUpdate{PlayerID: e.PlayerID, IsReady: e.IsReady}, true
	case game.EvtAvatarChanged:
		return &types.PlayerAvatarChanged{PlayerID: e.PlayerID, AvatarSrc: e.AvatarSrc}, true
	case game.EvtMemeProposed:
		return &types.MemeProposed{PlayerID: e.PlayerID, CandidateID: e.CandidateID, MediaURL: e.MediaURL}, true
	case game.EvtMemeVoteCast:
		return &types.MemeVoteCast{VoterPlayerID: e.PlayerID, VotedForCandidateID: e.CandidateID}, true
	case game.EvtCaptionSubmitted:
		return &types.CaptionSubmitted{PlayerID: e.PlayerID}, true
	case game.EvtCaptionVoteCast:
		return &types.CaptionVoteCast{VoterPlayerID: e.PlayerID, VotedForCandidateID: e.CandidateID}, true
	case game.EvtPhaseAdvanced:
		return &types.GamePhaseChanged{Phase: string(e.Phase), Round: e.Round}, true
	default:
		return nil, false
	}
}

func snapshotOf(code string, version int, s game.State) *types.RoomSnapshot {
	snap := &types.RoomSnapshot{
		Version: version,
		Code:    code,
		Phase:   string(s.Phase),
		Round:   s.Round,
	}
	for id, p := range s.Players {
		snap.Players = append(snap.Players, types.PlayerInfo{
			PlayerID:  id,
			Name:      p.Name,
			AvatarSrc: p.AvatarSrc,
			IsReady:   p.Ready,
			Score:     p.Score,
		})
	}
	return snap
}
