package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"client_go/internal/composer"
	"client_go/internal/domain"
	"client_go/internal/engine"
	"client_go/internal/logging"
	"client_go/internal/metrics"
)

// The offline tools work on the store directly. Run them while no daemon
// holds the same store, or go through the daemon's API instead.

func newSendCmd(a *app) *cobra.Command {
	var (
		room    string
		text    string
		replyTo string
		files   []string
	)
	cmd := &cobra.Command{
		Use:   "send",
		Short: "Queue a message in a room's local log",
		Long: `send appends a pending message to the room's local log. It is
delivered by the next flush or by a running daemon after restart.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withEngine(cmd.Context(), a, room, func(ctx context.Context, e *engine.Engine) error {
				var (
					msg domain.Message
					ok  bool
				)
				if len(files) > 0 && replyTo == "" {
					local := make([]domain.LocalFile, len(files))
					for i, f := range files {
						local[i] = domain.LocalFile{Path: f}
					}
					msg, ok = e.SendWithAttachments(ctx, text, local, domain.Payload{})
				} else {
					c := composer.New(logging.L(), nil)
					c.Bind(e, false)
					if replyTo != "" {
						parent, found := e.Message(replyTo)
						if !found {
							return fmt.Errorf("reply target %q: %w", replyTo, domain.ErrNotFound)
						}
						c.StartReply(parent)
					}
					c.SetDraft(text)
					msg, ok = c.SubmitMessage(ctx)
				}
				if !ok {
					return fmt.Errorf("message rejected: %w", domain.ErrEmptyContent)
				}
				if err := e.Persist(ctx); err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), msg)
			})
		},
	}
	cmd.Flags().StringVar(&room, "room", "", "Room ID")
	cmd.Flags().StringVar(&text, "text", "", "Message text")
	cmd.Flags().StringVar(&replyTo, "reply-to", "", "ID of the message to reply to")
	cmd.Flags().StringSliceVar(&files, "file", nil, "File to attach (repeatable)")
	_ = cmd.MarkFlagRequired("room")
	return cmd
}

// withEngine opens the configured store and the room's engine for one
// offline operation.
func withEngine(ctx context.Context, a *app, room string, fn func(context.Context, *engine.Engine) error, extra ...engine.Option) error {
	if ctx == nil {
		ctx = context.Background()
	}
	cfg := a.cfg
	log := logging.L()

	st, closeStore, err := openStore(cfg)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer closeStore()

	creds := login(cfg, log)
	opts, err := engineOptions(ctx, cfg, creds, log, metrics.New())
	if err != nil {
		return err
	}
	e, err := engine.New(ctx, st, room, creds.UserID(), append(opts, extra...)...)
	if err != nil {
		return err
	}
	defer e.Close()
	return fn(ctx, e)
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
