package ws

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/memerumble/meme-rumble-backend/internal/game"
	"github.com/memerumble/meme-rumble-backend/internal/hub"
	"github.com/memerumble/meme-rumble-backend/internal/room"
	"github.com/memerumble/meme-rumble-backend/internal/store"
	"github.com/memerumble/meme-rumble-backend/internal/token"
	"github.com/memerumble/meme-rumble-backend/pkg/types"
)

const (
	readTimeout  = 2 * time.Minute
	writeTimeout = 3 * time.Second
)

// Handler upgrades an authenticated session onto its room channel.
//
// Every game mutation coming off the wire follows the same three steps: the
// gateway write happens first, the actor's in-memory update second, the event
// broadcast third. A failed gateway write short-circuits with an error to the
// sender; a failed broadcast is never rolled back.
func Handler(h *hub.Hub, st *store.Store, minter *token.Minter, log *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		code := store.NormalizeCode(r.URL.Query().Get("code"))
		if code == "" {
			http.Error(w, "missing code", http.StatusBadRequest)
			return
		}

		claims, err := minter.Verify(r.URL.Query().Get("token"))
		if err != nil {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		if !claims.AllowsChannel("room:" + code) {
			http.Error(w, "forbidden", http.StatusForbidden)
			return
		}

		playerID, err := uuid.Parse(claims.PlayerID)
		if err != nil {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}

		// The store, not the channel, decides whether this session belongs
		// in the room.
		dbRoom, err := st.RoomByCode(r.Context(), code)
		if err != nil {
			http.Error(w, "room not found", http.StatusNotFound)
			return
		}
		player, err := st.PlayerByID(r.Context(), playerID)
		if err != nil || player.RoomID != dbRoom.ID {
			http.Error(w, "not a participant", http.StatusForbidden)
			return
		}

		reply := make(chan *room.Room, 1)
		h.Inbox() <- hub.EnsureRoom{Code: code, Reply: reply}
		rm := <-reply
		if rm == nil {
			http.Error(w, "failed to open channel", http.StatusInternalServerError)
			return
		}

		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close(websocket.StatusNormalClosure, "bye")

		out := make(chan types.ServerMessage, 16)
		clientID := uuid.NewString()

		rm.Inbox() <- room.Join{
			ClientID: clientID,
			Player: types.PlayerInfo{
				PlayerID:  player.ID.String(),
				Name:      player.Name,
				AvatarSrc: player.AvatarSrc,
				IsReady:   player.Ready,
				Score:     player.Score,
			},
			Outbox: out,
		}
		defer func() { rm.Inbox() <- room.Leave{ClientID: clientID} }()

		// Writer goroutine
		writeCtx, writeCancel := context.WithCancel(r.Context())
		defer writeCancel()
		go func() {
			for msg := range out {
				payload, err := json.Marshal(msg)
				if err != nil {
					continue
				}
				ctx, cancel := context.WithTimeout(writeCtx, writeTimeout)
				_ = conn.Write(ctx, websocket.MessageText, payload)
				cancel()
			}
		}()

		sess := &session{
			room:     rm,
			store:    st,
			roomID:   dbRoom.ID,
			code:     code,
			playerID: playerID,
			clientID: clientID,
			log:      log.With(zap.String("room", code), zap.String("player", playerID.String())),
		}

		// Reader loop
		for {
			ctx, cancel := context.WithTimeout(r.Context(), readTimeout)
			_, data, err := conn.Read(ctx)
			cancel()
			if err != nil {
				switch websocket.CloseStatus(err) {
				case websocket.StatusNormalClosure, websocket.StatusGoingAway:
					return
				}
				return
			}

			var cm types.ClientMessage
			if err := json.Unmarshal(data, &cm); err != nil {
				sess.sendError(r.Context(), conn, "bad json")
				continue
			}
			sess.dispatch(r.Context(), conn, cm)
		}
	}
}

type session struct {
	room     *room.Room
	store    *store.Store
	roomID   uuid.UUID
	code     string
	playerID uuid.UUID
	clientID string
	log      *zap.Logger
}

func (s *session) dispatch(ctx context.Context, conn *websocket.Conn, cm types.ClientMessage) {
	switch cm.Type {
	case types.MsgUpdatePresence:
		if cm.Presence == nil {
			s.sendError(ctx, conn, "missing presence record")
			return
		}
		s.room.Inbox() <- room.UpdatePresence{ClientID: s.clientID, Record: *cm.Presence}

	case types.MsgPublish:
		if cm.Event == nil || cm.Event.Payload == nil {
			s.sendError(ctx, conn, "missing event")
			return
		}
		// Sender identity always comes from the session, never the wire.
		s.room.Inbox() <- room.Publish{Sender: s.playerID.String(), Payload: cm.Event.Payload}

	case types.MsgTallyRound:
		dbRoom, err := s.store.RoomByCode(ctx, s.code)
		if err != nil {
			s.sendError(ctx, conn, "room lookup failed")
			return
		}
		s.room.Inbox() <- room.Tally{Sender: s.playerID.String(), Round: dbRoom.Round}

	default:
		cmd, ok := toGameCommand(cm, s.playerID.String())
		if !ok {
			s.sendError(ctx, conn, "unknown type")
			return
		}
		if err := s.persist(ctx, cm); err != nil {
			if errors.Is(err, store.ErrConflict) {
				// Someone (or some retry) already wrote this; not a failure.
				s.log.Debug("duplicate write ignored", zap.String("type", cm.Type))
				return
			}
			s.log.Warn("gateway write failed", zap.String("type", cm.Type), zap.Error(err))
			s.sendError(ctx, conn, "write failed")
			return
		}
		s.room.Inbox() <- room.FromClient{ClientID: s.clientID, Sender: s.playerID.String(), Cmd: cmd}
	}
}

// persist performs step one of the protocol: the authoritative write.
func (s *session) persist(ctx context.Context, cm types.ClientMessage) error {
	switch cm.Type {
	case types.MsgToggleReady:
		return s.store.SetReady(ctx, s.playerID, cm.IsReady)
	case types.MsgSetAvatar:
		return s.store.SetAvatar(ctx, s.playerID, cm.AvatarSrc)
	case types.MsgSetName:
		return s.store.SetName(ctx, s.playerID, cm.Name)
	case types.MsgPlayAgain:
		return s.store.ResetGame(ctx, s.roomID)
	}

	// Round-scoped writes read the authoritative round first.
	dbRoom, err := s.store.RoomByCode(ctx, s.code)
	if err != nil {
		return err
	}

	switch cm.Type {
	case types.MsgProposeMeme:
		return s.store.ProposeMeme(ctx, s.roomID, dbRoom.Round, s.playerID, cm.CandidateID, cm.MediaURL)
	case types.MsgCastMemeVote:
		return s.store.CastVote(ctx, s.roomID, dbRoom.Round, store.VoteKindMeme, s.playerID, cm.CandidateID)
	case types.MsgSubmitCaption:
		return s.store.SubmitCaption(ctx, s.roomID, dbRoom.Round, s.playerID, cm.Text)
	case types.MsgCastCaptionVote:
		return s.store.CastVote(ctx, s.roomID, dbRoom.Round, store.VoteKindCaption, s.playerID, cm.CandidateID)
	}
	return nil
}

func (s *session) sendError(ctx context.Context, conn *websocket.Conn, msg string) {
	payload, _ := json.Marshal(types.ServerMessage{Type: types.MsgError, Error: msg})
	writeCtx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	_ = conn.Write(writeCtx, websocket.MessageText, payload)
}

func toGameCommand(cm types.ClientMessage, playerID string) (game.Command, bool) {
	switch cm.Type {
	case types.MsgToggleReady:
		return game.Command{Type: game.CmdToggleReady, PlayerID: playerID, IsReady: cm.IsReady}, true
	case types.MsgSetAvatar:
		return game.Command{Type: game.CmdSetAvatar, PlayerID: playerID, AvatarSrc: cm.AvatarSrc}, true
	case types.MsgSetName:
		return game.Command{Type: game.CmdSetName, PlayerID: playerID, Name: cm.Name}, true
	case types.MsgProposeMeme:
		return game.Command{Type: game.CmdProposeMeme, PlayerID: playerID, CandidateID: cm.CandidateID, MediaURL: cm.MediaURL}, true
	case types.MsgCastMemeVote:
		return game.Command{Type: game.CmdCastMemeVote, PlayerID: playerID, CandidateID: cm.CandidateID}, true
	case types.MsgSubmitCaption:
		return game.Command{Type: game.CmdSubmitCaption, PlayerID: playerID, Text: cm.Text}, true
	case types.MsgCastCaptionVote:
		return game.Command{Type: game.CmdCastCaptionVote, PlayerID: playerID, CandidateID: cm.CandidateID}, true
	case types.MsgPlayAgain:
		return game.Command{Type: game.CmdPlayAgain, PlayerID: playerID}, true
	default:
		return game.Command{}, false
	}
}
