package store

import (
	"context"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/memerumble/meme-rumble-backend/internal/game"
)

// NormalizeCode makes room codes case-insensitive at the edge.
func NormalizeCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

func (s *Store) CreateRoom(ctx context.Context, code string) (*Room, error) {
	room := &Room{
		ID:    uuid.New(),
		Code:  NormalizeCode(code),
		Phase: string(game.PhaseLobby),
	}
	if err := s.db.WithContext(ctx).Create(room).Error; err != nil {
		return nil, translate(err)
	}
	return room, nil
}

func (s *Store) RoomByCode(ctx context.Context, code string) (*Room, error) {
	var room Room
	err := s.db.WithContext(ctx).Where("code = ?", NormalizeCode(code)).First(&room).Error
	if err != nil {
		return nil, translate(err)
	}
	return &room, nil
}

func (s *Store) PlayersByRoom(ctx context.Context, roomID uuid.UUID) ([]Player, error) {
	var players []Player
	err := s.db.WithContext(ctx).
		Where("room_id = ?", roomID).
		Order("created_at asc").
		Find(&players).Error
	return players, translate(err)
}

func (s *Store) PlayerByID(ctx context.Context, playerID uuid.UUID) (*Player, error) {
	var player Player
	err := s.db.WithContext(ctx).Where("id = ?", playerID).First(&player).Error
	if err != nil {
		return nil, translate(err)
	}
	return &player, nil
}

func (s *Store) JoinRoom(ctx context.Context, roomID, playerID uuid.UUID, name, avatarSrc string) (*Player, error) {
	player := &Player{ID: playerID, RoomID: roomID, Name: name, AvatarSrc: avatarSrc}
	if err := s.db.WithContext(ctx).Create(player).Error; err != nil {
		return nil, translate(err)
	}
	return player, nil
}

func (s *Store) LeaveRoom(ctx context.Context, roomID, playerID uuid.UUID) error {
	res := s.db.WithContext(ctx).
		Where("room_id = ? AND id = ?", roomID, playerID).
		Delete(&Player{})
	if res.Error != nil {
		return translate(res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *Store) SetReady(ctx context.Context, playerID uuid.UUID, ready bool) error {
	return s.updatePlayer(ctx, playerID, map[string]any{"ready": ready})
}

func (s *Store) SetAvatar(ctx context.Context, playerID uuid.UUID, avatarSrc string) error {
	return s.updatePlayer(ctx, playerID, map[string]any{"avatar_src": avatarSrc})
}

func (s *Store) SetName(ctx context.Context, playerID uuid.UUID, name string) error {
	return s.updatePlayer(ctx, playerID, map[string]any{"name": name})
}

func (s *Store) updatePlayer(ctx context.Context, playerID uuid.UUID, fields map[string]any) error {
	res := s.db.WithContext(ctx).Model(&Player{}).Where("id = ?", playerID).Updates(fields)
	if res.Error != nil {
		return translate(res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *Store) ProposeMeme(ctx context.Context, roomID uuid.UUID, round int, playerID uuid.UUID, candidateID, mediaURL string) error {
	proposal := &MemeProposal{
		RoomID:      roomID,
		Round:       round,
		PlayerID:    playerID,
		CandidateID: candidateID,
		MediaURL:    mediaURL,
	}
	return translate(s.db.WithContext(ctx).Create(proposal).Error)
}

func (s *Store) SubmitCaption(ctx context.Context, roomID uuid.UUID, round int, playerID uuid.UUID, text string) error {
	caption := &Caption{RoomID: roomID, Round: round, PlayerID: playerID, Text: text}
	return translate(s.db.WithContext(ctx).Create(caption).Error)
}

func (s *Store) CastVote(ctx context.Context, roomID uuid.UUID, round int, kind string, voterID uuid.UUID, candidateID string) error {
	vote := &Vote{RoomID: roomID, Round: round, Kind: kind, VoterID: voterID, CandidateID: candidateID}
	return translate(s.db.WithContext(ctx).Create(vote).Error)
}

// AdvancePhase moves a room from one phase to the next with a conditional
// update, so two nodes racing the same transition resolve to one winner and
// one ErrConflict.
func (s *Store) AdvancePhase(ctx context.Context, roomID uuid.UUID, from, to game.Phase, round int) error {
	res := s.db.WithContext(ctx).Model(&Room{}).
		Where("id = ? AND phase = ?", roomID, string(from)).
		Updates(map[string]any{"phase": string(to), "round": round})
	if res.Error != nil {
		return translate(res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrConflict
	}
	return nil
}

// TallyRound computes the caption winner for a round and awards points. The
// tally row's unique index makes this idempotent: the second concurrent
// caller gets ErrConflict and must treat it as a no-op.
func (s *Store) TallyRound(ctx context.Context, roomID uuid.UUID, round, points int) (*RoundTally, error) {
	var tally *RoundTally

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var top struct {
			CandidateID string
			N           int
		}
		err := tx.Model(&Vote{}).
			Select("candidate_id, count(*) as n").
			Where("room_id = ? AND round = ? AND kind = ?", roomID, round, VoteKindCaption).
			Group("candidate_id").
			Order("n DESC, candidate_id ASC").
			Limit(1).
			Scan(&top).Error
		if err != nil {
			return err
		}
		if top.CandidateID == "" {
			return ErrNotFound
		}

		winnerID, err := uuid.Parse(top.CandidateID)
		if err != nil {
			return err
		}

		tally = &RoundTally{RoomID: roomID, Round: round, WinnerPlayerID: winnerID, Points: points}
		if err := tx.Create(tally).Error; err != nil {
			return err
		}

		return tx.Model(&Player{}).
			Where("id = ?", winnerID).
			Update("score", gorm.Expr("score + ?", points)).Error
	})
	if err != nil {
		return nil, translate(err)
	}

	s.log.Info("round tallied",
		zap.String("room_id", roomID.String()),
		zap.Int("round", round),
		zap.String("winner", tally.WinnerPlayerID.String()))
	return tally, nil
}

// ResetGame puts a room back in the lobby for a replay.
func (s *Store) ResetGame(ctx context.Context, roomID uuid.UUID) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		err := tx.Model(&Room{}).
			Where("id = ?", roomID).
			Updates(map[string]any{"phase": string(game.PhaseLobby), "round": 0}).Error
		if err != nil {
			return err
		}
		err = tx.Model(&Player{}).
			Where("room_id = ?", roomID).
			Updates(map[string]any{"score": 0, "ready": false}).Error
		if err != nil {
			return err
		}
		for _, model := range []any{&MemeProposal{}, &Caption{}, &Vote{}, &RoundTally{}} {
			if err := tx.Where("room_id = ?", roomID).Delete(model).Error; err != nil {
				return err
			}
		}
		return nil
	})
}
