package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/memerumble/meme-rumble-backend/internal/cache"
	"github.com/memerumble/meme-rumble-backend/internal/config"
	"github.com/memerumble/meme-rumble-backend/internal/game"
	"github.com/memerumble/meme-rumble-backend/internal/gifproxy"
	"github.com/memerumble/meme-rumble-backend/internal/httpapi"
	"github.com/memerumble/meme-rumble-backend/internal/hub"
	"github.com/memerumble/meme-rumble-backend/internal/room"
	"github.com/memerumble/meme-rumble-backend/internal/store"
	"github.com/memerumble/meme-rumble-backend/internal/token"
	"github.com/memerumble/meme-rumble-backend/internal/ws"
)

func main() {
	log, err := zap.NewProduction()
	if err != nil {
		panic(err)
	}
	defer log.Sync()

	cfg := config.Load()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	st, err := store.Open(cfg.DatabaseURL, log)
	if err != nil {
		log.Fatal("opening store", zap.Error(err))
	}

	var phases cache.PhaseCache
	rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	if err := rdb.Ping(ctx).Err(); err != nil {
		// The cache is an optimization; the store alone still serves polls.
		log.Warn("redis unavailable, polling will hit postgres", zap.Error(err))
	} else {
		phases = cache.NewPhaseCache(rdb)
	}

	rules := game.DefaultRules()
	rules.MinPlayers = cfg.MinPlayers
	rules.MaxRounds = cfg.MaxRounds
	rules.MemeSelectSec = cfg.MemeSelectSec
	rules.MemeVoteSec = cfg.MemeVoteSec
	rules.CaptionEntrySec = cfg.CaptionEntrySec
	rules.CaptionVoteSec = cfg.CaptionVoteSec
	rules.RoundResultsSec = cfg.RoundResultsSec

	var h *hub.Hub
	factory := func(roomCtx context.Context, code string) *room.Room {
		var gw room.Gateway
		if dbRoom, err := st.RoomByCode(roomCtx, code); err == nil {
			gw = room.NewStoreGateway(st, phases, dbRoom.ID, code)
		} else {
			log.Error("room missing from store, channel runs without gateway",
				zap.String("room", code), zap.Error(err))
		}
		// Close the channel when its last subscriber leaves; the next join
		// simply opens a fresh one.
		onEmpty := room.OnEmpty(func() { h.Inbox() <- hub.RemoveRoom{Code: code} })
		return room.New(roomCtx, code, game.NewState(rules), gw, cfg.PollInterval, log, onEmpty)
	}
	h = hub.NewHub(ctx, factory, log)

	minter := token.NewMinter(cfg.TokenSecret, cfg.TokenTTL)
	gifs := gifproxy.NewClient(cfg.GifAPIBase, cfg.GifAPIKey)

	api := &httpapi.API{Store: st, Phases: phases, Minter: minter, Gifs: gifs, Log: log}
	handler := httpapi.SetupRoutes(api, ws.Handler(h, st, minter, log))

	srv := &http.Server{Addr: cfg.Addr, Handler: handler}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("listening", zap.String("addr", cfg.Addr))
		if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		h.Inbox() <- hub.ShutdownHub{}
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		log.Fatal("server exited", zap.Error(err))
	}
}
