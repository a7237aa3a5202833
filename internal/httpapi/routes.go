package httpapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

func SetupRoutes(a *API, wsHandler http.HandlerFunc) http.Handler {
	r := chi.NewRouter()

	r.Post("/rooms", a.CreateRoom)
	r.Get("/rooms/{code}", a.RoomSnapshot)
	r.Post("/rooms/{code}/join", a.JoinRoom)
	r.Post("/rooms/{code}/leave", a.LeaveRoom)

	r.Post("/realtime/token", a.MintToken)
	r.Get("/ws", wsHandler)

	r.Get("/gifs/search", a.SearchGifs)
	r.Get("/gifs/trending", a.TrendingGifs)

	r.Get("/healthz", Healthz)
	return r
}
