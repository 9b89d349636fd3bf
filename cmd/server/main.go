package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/gachastage/gacha-backend/internal/bus"
	"github.com/gachastage/gacha-backend/internal/config"
	"github.com/gachastage/gacha-backend/internal/httpapi"
	"github.com/gachastage/gacha-backend/internal/session"
	"github.com/gachastage/gacha-backend/internal/store"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	var log *zap.Logger
	if cfg.Dev {
		log, err = zap.NewDevelopment()
	} else {
		log, err = zap.NewProduction()
	}
	if err != nil {
		panic(err)
	}
	defer func() { _ = log.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	st, err := store.Open(cfg.DBPath, log)
	if err != nil {
		log.Fatal("open store", zap.Error(err))
	}

	b := bus.New(ctx, log)
	coord := session.New(ctx, st, b, session.Config{
		RevealDelay: cfg.RevealDelay,
		Log:         log,
	})

	api := &httpapi.API{Store: st, Coord: coord, Bus: b, Log: log}
	srv := &http.Server{
		Addr:    cfg.Addr,
		Handler: httpapi.SetupRoutes(api),
	}

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
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		coord.Inbox() <- session.Shutdown{}
		return srv.Shutdown(shutCtx)
	})

	if err := g.Wait(); err != nil {
		log.Fatal("server exited", zap.Error(err))
	}
}
