package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"client_go/internal/domain"
	"client_go/internal/engine"
	"client_go/internal/logging"
	"client_go/internal/metrics"
	"client_go/internal/session"
)

func newFlushCmd(a *app) *cobra.Command {
	var (
		room    string
		timeout time.Duration
	)
	cmd := &cobra.Command{
		Use:   "flush",
		Short: "Connect once and deliver queued messages",
		Long: `flush connects to the chat server, delivers every pending or failed
message of the given room (or of all stored rooms) and exits.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}
			res, err := runFlush(ctx, a, room, timeout)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), res)
		},
	}
	cmd.Flags().StringVar(&room, "room", "", "Room ID (default: every stored room)")
	cmd.Flags().DurationVar(&timeout, "timeout", 15*time.Second, "How long to wait for the connection")
	return cmd
}

func runFlush(ctx context.Context, a *app, room string, timeout time.Duration) (map[string]engine.FlushResult, error) {
	cfg := a.cfg
	log := logging.L()
	m := metrics.New()

	st, closeStore, err := openStore(cfg)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	defer closeStore()

	creds := login(cfg, log)
	if !creds.Authenticated() {
		return nil, fmt.Errorf("flush needs a session token: %w", domain.ErrUnauthorized)
	}
	manager := newManager(cfg, creds, log, m)
	defer manager.Close()

	connected := make(chan struct{})
	unsubscribe := manager.Subscribe(func(ch session.StateChange) {
		if ch.To == session.StateConnected {
			select {
			case <-connected:
			default:
				close(connected)
			}
		}
	})
	defer unsubscribe()
	manager.Connect()

	wait := time.NewTimer(timeout)
	defer wait.Stop()
	select {
	case <-connected:
	case <-wait.C:
		return nil, fmt.Errorf("no connection after %s: %w", timeout, domain.ErrNotConnected)
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	opts, err := engineOptions(ctx, cfg, creds, log, m)
	if err != nil {
		return nil, err
	}
	hub := engine.NewHub(st, creds.UserID, log, append(opts, engine.WithDeliverer(manager.Deliver))...)
	defer hub.Shutdown(context.Background())

	rooms := []string{room}
	if room == "" {
		if rooms, err = knownRooms(ctx, st); err != nil {
			return nil, fmt.Errorf("list rooms: %w", err)
		}
	}
	for _, r := range rooms {
		if _, err := hub.Open(ctx, r); err != nil {
			return nil, fmt.Errorf("open room %s: %w", r, err)
		}
	}
	return hub.FlushAll(ctx), nil
}
