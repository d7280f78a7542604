package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/paddleduel/pong-backend/internal/broker"
	"github.com/paddleduel/pong-backend/internal/config"
	"github.com/paddleduel/pong-backend/internal/game"
	"github.com/paddleduel/pong-backend/internal/httpapi"
	"github.com/paddleduel/pong-backend/internal/reconcile"
	"github.com/paddleduel/pong-backend/internal/session"
	"github.com/paddleduel/pong-backend/internal/ws"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal(err)
	}

	logger, err := zap.NewProduction()
	if err != nil {
		log.Fatal(err)
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	transport, err := broker.NewRedis(broker.RedisConfig{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	}, logger)
	if err != nil {
		logger.Fatal("broker init failed", zap.Error(err))
	}
	defer transport.Close()

	g, ctx := errgroup.WithContext(ctx)

	// Each session owns a ledger, a coordinator and a reconciler; the
	// reconciler's loops run until the process context ends.
	registry := session.NewRegistry(func(id string) *session.Coordinator {
		ledger := game.NewLedger(game.Config{
			WinThreshold: cfg.WinThreshold,
			DedupWindow:  cfg.GoalDedupWindow,
			MoveBound:    cfg.MoveBound,
		})
		coord := session.NewCoordinator(id, ledger, transport, logger)
		rec := reconcile.New(reconcile.Config{
			Grace:        cfg.GraceWindow,
			PollInterval: cfg.PollInterval,
		}, transport, transport, coord.Seated, coord.HandleDisconnect, logger)
		coord.BindCanceler(rec)
		g.Go(func() error { return rec.Run(ctx) })
		return coord
	})

	coord := registry.Ensure(cfg.SessionID)
	gateway := ws.NewGateway(ctx, transport, registry, cfg.SessionID, logger)

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           httpapi.SetupRoutes(coord, gateway.Handler(), transport.Ping),
		ReadHeaderTimeout: 5 * time.Second,
	}

	g.Go(func() error {
		logger.Info("listening", zap.String("addr", cfg.Addr), zap.String("session", cfg.SessionID))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		logger.Fatal("server exited", zap.Error(err))
	}
	logger.Info("server stopped")
}
