package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"client_go/internal/engine"
	"client_go/internal/httpserver"
	"client_go/internal/logging"
	"client_go/internal/metrics"
)

const shutdownTimeout = 10 * time.Second

func newServeCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the sync daemon and the local control API",
		Long: `serve opens the local store, keeps the websocket session to the chat
server alive, flushes queued messages on every reconnect and on the
configured schedule, and exposes the local control API.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd.Context(), a)
		},
	}
}

func runServe(parent context.Context, a *app) error {
	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg := a.cfg
	log := logging.L()
	m := metrics.New()

	st, closeStore, err := openStore(cfg)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer closeStore()

	creds := login(cfg, log)
	manager := newManager(cfg, creds, log, m)

	opts, err := engineOptions(ctx, cfg, creds, log, m)
	if err != nil {
		return err
	}
	opts = append(opts, engine.WithDeliverer(manager.Deliver))
	hub := engine.NewHub(st, creds.UserID, log, opts...)
	manager.Subscribe(hub.OnSessionState)

	events := httpserver.NewEvents(log)
	manager.Subscribe(events.OnSessionState)

	// Rooms with messages queued by an earlier run get flushed too.
	rooms, err := knownRooms(ctx, st)
	if err != nil {
		log.Warn().Err(err).Msg("listing stored rooms failed")
	}
	for _, room := range rooms {
		if _, err := hub.Open(ctx, room); err != nil {
			log.Warn().Err(err).Str(logging.FieldRoomID, room).Msg("open stored room failed")
		}
	}

	srv := &http.Server{
		Addr: cfg.APIAddr(),
		Handler: httpserver.NewRouter(httpserver.Deps{
			Hub:         hub,
			Session:     manager,
			Events:      events,
			Metrics:     m,
			Log:         log,
			Token:       cfg.API.Token,
			CORSOrigins: cfg.API.CORSOrigins,
		}),
		ReadHeaderTimeout: 15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	var sch *engine.Scheduler
	if cfg.Sync.FlushCron != "" {
		if sch, err = engine.NewScheduler(cfg.Sync.FlushCron, hub, log); err != nil {
			return err
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return manager.Run(gctx)
	})
	if sch != nil {
		g.Go(func() error { return sch.Run(gctx) })
	}
	g.Go(func() error {
		log.Info().Str("addr", srv.Addr).Int("rooms", len(rooms)).Msg("local API listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("local API: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info().Msg("shutting down")
		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		events.Close()
		if err := srv.Shutdown(sctx); err != nil {
			log.Warn().Err(err).Msg("graceful shutdown failed")
		}
		return nil
	})

	err = g.Wait()

	sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	hub.Shutdown(sctx)
	return err
}
