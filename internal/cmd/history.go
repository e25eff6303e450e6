package cmd

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"client_go/internal/domain"
	"client_go/internal/engine"
)

func newHistoryCmd(a *app) *cobra.Command {
	var (
		room   string
		asJSON bool
	)
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Print a room's local log",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withEngine(cmd.Context(), a, room, func(_ context.Context, e *engine.Engine) error {
				msgs := e.Messages()
				if asJSON {
					return printJSON(cmd.OutOrStdout(), msgs)
				}
				for _, m := range msgs {
					writeLine(cmd.OutOrStdout(), e, m)
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&room, "room", "", "Room ID")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print messages as JSON")
	_ = cmd.MarkFlagRequired("room")
	return cmd
}

func writeLine(w io.Writer, e *engine.Engine, m domain.Message) {
	var b strings.Builder
	fmt.Fprintf(&b, "%s [%s] %s", m.CreatedAt.Local().Format(time.DateTime), m.Status, m.SenderID)
	if m.IsDeleted {
		b.WriteString(": (deleted)")
		fmt.Fprintln(w, b.String())
		return
	}
	if parent, ok := e.ResolveReply(m); ok {
		fmt.Fprintf(&b, " ↪ %q", preview(parent))
	}
	fmt.Fprintf(&b, ": %s", preview(m))
	if m.IsEdited {
		b.WriteString(" (edited)")
	}
	fmt.Fprintln(w, b.String())
}

// preview renders the primary content of m on one line.
func preview(m domain.Message) string {
	c := m.Content
	switch {
	case strings.TrimSpace(c.Text) != "":
		return strings.ReplaceAll(c.Text, "\n", " ")
	case c.Voice != nil:
		return fmt.Sprintf("[voice %s]", time.Duration(c.Voice.DurationMs)*time.Millisecond)
	case c.Sticker != nil:
		return "[sticker]"
	case c.Poll != nil:
		return "[poll] " + c.Poll.Question
	case c.Event != nil:
		return "[event] " + c.Event.Title
	case len(c.Contacts) > 0:
		return "[contact] " + c.Contacts[0].Name
	case len(m.Attachments) > 0:
		return fmt.Sprintf("[%d attachment(s)]", len(m.Attachments))
	}
	return ""
}
