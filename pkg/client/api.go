package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/memerumble/meme-rumble-backend/pkg/types"
)

var ErrRoomNotFound = errors.New("room not found")
var ErrUnauthorized = errors.New("unauthorized")

// API is the thin HTTP client for the persistence-facing endpoints: room
// lifecycle, the polling snapshot, and realtime token minting.
type API struct {
	baseURL string
	httpc   *http.Client
}

func NewAPI(baseURL string) *API {
	return &API{
		baseURL: baseURL,
		httpc:   &http.Client{Timeout: 10 * time.Second},
	}
}

type RoomHandle struct {
	Code     string `json:"code"`
	RoomID   string `json:"room_id"`
	PlayerID string `json:"player_id"`
}

func (a *API) CreateRoom(ctx context.Context, hostName, avatarSrc string) (*RoomHandle, error) {
	var handle RoomHandle
	err := a.do(ctx, http.MethodPost, "/rooms",
		map[string]string{"host_name": hostName, "avatar_src": avatarSrc}, &handle)
	if err != nil {
		return nil, err
	}
	return &handle, nil
}

func (a *API) JoinRoom(ctx context.Context, code, name, avatarSrc string) (*RoomHandle, error) {
	var handle RoomHandle
	err := a.do(ctx, http.MethodPost, "/rooms/"+code+"/join",
		map[string]string{"name": name, "avatar_src": avatarSrc}, &handle)
	if err != nil {
		return nil, err
	}
	return &handle, nil
}

func (a *API) LeaveRoom(ctx context.Context, code, playerID string) error {
	return a.do(ctx, http.MethodPost, "/rooms/"+code+"/leave",
		map[string]string{"player_id": playerID}, nil)
}

// Snapshot is the poll path: the authoritative room view by code.
func (a *API) Snapshot(ctx context.Context, code string) (*types.RoomSnapshot, error) {
	var snap types.RoomSnapshot
	if err := a.do(ctx, http.MethodGet, "/rooms/"+code, nil, &snap); err != nil {
		return nil, err
	}
	return &snap, nil
}

func (a *API) MintToken(ctx context.Context, playerID string) (string, error) {
	var resp struct {
		Token string `json:"token"`
	}
	err := a.do(ctx, http.MethodPost, "/realtime/token",
		map[string]string{"player_id": playerID}, &resp)
	if err != nil {
		return "", err
	}
	return resp.Token, nil
}

func (a *API) do(ctx context.Context, method, path string, body, out any) error {
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}

	req, err := http.NewRequestWithContext(ctx, method, a.baseURL+path, &buf)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := a.httpc.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return ErrRoomNotFound
	case resp.StatusCode == http.StatusUnauthorized:
		return ErrUnauthorized
	case resp.StatusCode >= 400:
		return fmt.Errorf("%s %s: status %d", method, path, resp.StatusCode)
	}

	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
