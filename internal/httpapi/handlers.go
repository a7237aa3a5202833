package httpapi

import (
	"crypto/rand"
	"encoding/json"
	"errors"
	"math/big"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/memerumble/meme-rumble-backend/internal/cache"
	"github.com/memerumble/meme-rumble-backend/internal/gifproxy"
	"github.com/memerumble/meme-rumble-backend/internal/store"
	"github.com/memerumble/meme-rumble-backend/internal/token"
	"github.com/memerumble/meme-rumble-backend/pkg/types"
)

type API struct {
	Store  *store.Store
	Phases cache.PhaseCache
	Minter *token.Minter
	Gifs   *gifproxy.Client
	Log    *zap.Logger
}

func GenerateCode() (string, error) {
	const charset = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

	code := make([]byte, 6)
	for i := 0; i < 6; i++ {
		num, err := rand.Int(rand.Reader, big.NewInt(int64(len(charset))))
		if err != nil {
			return "", err
		}
		code[i] = charset[num.Int64()]
	}
	return string(code), nil
}

type createRoomRequest struct {
	HostName  string `json:"host_name"`
	AvatarSrc string `json:"avatar_src,omitempty"`
}

type createRoomResponse struct {
	Code     string `json:"code"`
	RoomID   string `json:"room_id"`
	PlayerID string `json:"player_id"`
}

func (a *API) CreateRoom(w http.ResponseWriter, r *http.Request) {
	var req createRoomRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.HostName == "" {
		http.Error(w, "invalid request", http.StatusBadRequest)
		return
	}

	// Regenerate on the (rare) code collision; the unique index is the check.
	var dbRoom *store.Room
	for {
		code, err := GenerateCode()
		if err != nil {
			http.Error(w, "failed to generate code", http.StatusInternalServerError)
			return
		}
		dbRoom, err = a.Store.CreateRoom(r.Context(), code)
		if err == nil {
			break
		}
		if !errors.Is(err, store.ErrConflict) {
			a.Log.Error("create room failed", zap.Error(err))
			http.Error(w, "failed to create room", http.StatusInternalServerError)
			return
		}
		a.Log.Debug("room code collision, regenerating")
	}

	hostID := uuid.New()
	if _, err := a.Store.JoinRoom(r.Context(), dbRoom.ID, hostID, req.HostName, req.AvatarSrc); err != nil {
		a.Log.Error("host join failed", zap.Error(err))
		http.Error(w, "failed to create room", http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusCreated, createRoomResponse{
		Code:     dbRoom.Code,
		RoomID:   dbRoom.ID.String(),
		PlayerID: hostID.String(),
	})
}

type joinRoomRequest struct {
	Name      string `json:"name"`
	AvatarSrc string `json:"avatar_src,omitempty"`
}

type joinRoomResponse struct {
	Code     string `json:"code"`
	RoomID   string `json:"room_id"`
	PlayerID string `json:"player_id"`
}

func (a *API) JoinRoom(w http.ResponseWriter, r *http.Request) {
	var req joinRoomRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Name == "" {
		http.Error(w, "invalid request", http.StatusBadRequest)
		return
	}

	dbRoom, err := a.Store.RoomByCode(r.Context(), chi.URLParam(r, "code"))
	if err != nil {
		http.Error(w, "room not found", http.StatusNotFound)
		return
	}

	playerID := uuid.New()
	if _, err := a.Store.JoinRoom(r.Context(), dbRoom.ID, playerID, req.Name, req.AvatarSrc); err != nil {
		a.Log.Error("join failed", zap.String("room", dbRoom.Code), zap.Error(err))
		http.Error(w, "failed to join room", http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, joinRoomResponse{
		Code:     dbRoom.Code,
		RoomID:   dbRoom.ID.String(),
		PlayerID: playerID.String(),
	})
}

type leaveRoomRequest struct {
	PlayerID string `json:"player_id"`
}

func (a *API) LeaveRoom(w http.ResponseWriter, r *http.Request) {
	var req leaveRoomRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request", http.StatusBadRequest)
		return
	}
	playerID, err := uuid.Parse(req.PlayerID)
	if err != nil {
		http.Error(w, "invalid player id", http.StatusBadRequest)
		return
	}

	dbRoom, err := a.Store.RoomByCode(r.Context(), chi.URLParam(r, "code"))
	if err != nil {
		http.Error(w, "room not found", http.StatusNotFound)
		return
	}
	if err := a.Store.LeaveRoom(r.Context(), dbRoom.ID, playerID); err != nil {
		http.Error(w, "not a participant", http.StatusNotFound)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// RoomSnapshot is the polling fallback: clients that missed a phase-changed
// event re-derive the phase here. Cache first, store on a miss.
func (a *API) RoomSnapshot(w http.ResponseWriter, r *http.Request) {
	code := store.NormalizeCode(chi.URLParam(r, "code"))

	snap := types.RoomSnapshot{Code: code}

	if a.Phases != nil {
		if cached, err := a.Phases.Get(r.Context(), code); err == nil && cached != nil {
			snap.Phase = cached.Phase
			snap.Round = cached.Round
		}
	}

	dbRoom, err := a.Store.RoomByCode(r.Context(), code)
	if err != nil {
		http.Error(w, "room not found", http.StatusNotFound)
		return
	}
	if snap.Phase == "" {
		snap.Phase = dbRoom.Phase
		snap.Round = dbRoom.Round
	}

	players, err := a.Store.PlayersByRoom(r.Context(), dbRoom.ID)
	if err != nil {
		a.Log.Error("players lookup failed", zap.String("room", code), zap.Error(err))
		http.Error(w, "lookup failed", http.StatusInternalServerError)
		return
	}
	for _, p := range players {
		snap.Players = append(snap.Players, types.PlayerInfo{
			PlayerID:  p.ID.String(),
			Name:      p.Name,
			AvatarSrc: p.AvatarSrc,
			IsReady:   p.Ready,
			Score:     p.Score,
		})
	}

	writeJSON(w, http.StatusOK, snap)
}

type tokenRequest struct {
	PlayerID string `json:"player_id"`
}

type tokenResponse struct {
	Token string `json:"token"`
}

// MintToken issues a realtime connection token bound to an existing player
// session. Unknown sessions get a 401.
func (a *API) MintToken(w http.ResponseWriter, r *http.Request) {
	var req tokenRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request", http.StatusBadRequest)
		return
	}
	playerID, err := uuid.Parse(req.PlayerID)
	if err != nil {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	if _, err := a.Store.PlayerByID(r.Context(), playerID); err != nil {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	tok, err := a.Minter.Mint(playerID.String())
	if err != nil {
		a.Log.Error("token mint failed", zap.Error(err))
		http.Error(w, "failed to mint token", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, tokenResponse{Token: tok})
}

func (a *API) SearchGifs(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query().Get("q")
	if query == "" {
		http.Error(w, "missing q", http.StatusBadRequest)
		return
	}
	page, err := a.Gifs.Search(r.Context(), query, r.URL.Query().Get("cursor"), 20)
	a.writeGifPage(w, page, err)
}

func (a *API) TrendingGifs(w http.ResponseWriter, r *http.Request) {
	page, err := a.Gifs.Trending(r.Context(), r.URL.Query().Get("cursor"), 20)
	a.writeGifPage(w, page, err)
}

func (a *API) writeGifPage(w http.ResponseWriter, page *gifproxy.Page, err error) {
	if err != nil {
		var provErr *gifproxy.ProviderError
		if errors.As(err, &provErr) {
			http.Error(w, "gif provider unavailable", http.StatusBadGateway)
			return
		}
		a.Log.Error("gif fetch failed", zap.Error(err))
		http.Error(w, "gif fetch failed", http.StatusBadGateway)
		return
	}
	writeJSON(w, http.StatusOK, page)
}

func Healthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
