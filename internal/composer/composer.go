// Package composer holds the input-side state machines of a conversation
// screen: the draft composer with its edit and reply modes, and the
// hold-to-lock voice recorder.
package composer

import (
	"context"
	"strings"
	"sync"

	"github.com/rs/zerolog"

	"client_go/internal/domain"
	"client_go/internal/logging"
)

type Mode int

const (
	ModeComposing Mode = iota
	ModeEditing
	ModeReplying
)

func (m Mode) String() string {
	switch m {
	case ModeEditing:
		return "editing"
	case ModeReplying:
		return "replying"
	}
	return "composing"
}

// Room is the part of an engine the composer drives. *engine.Engine
// implements it.
type Room interface {
	RoomID() string
	SendText(ctx context.Context, text string, extra domain.Payload) (domain.Message, bool)
	EditMessage(ctx context.Context, id string, patch domain.Patch) bool
	ReplyToMessage(ctx context.Context, parent domain.Message, text string, extra domain.Payload) (domain.Message, bool)
}

// AcceptFunc accepts a pending message request for the room.
type AcceptFunc func(ctx context.Context, roomID string) error

type Composer struct {
	log    zerolog.Logger
	accept AcceptFunc

	mu      sync.Mutex
	room    Room
	request bool
	draft   string
	mode    Mode
	target  domain.Message
}

// New returns an unbound composer. accept may be nil.
func New(log zerolog.Logger, accept AcceptFunc) *Composer {
	return &Composer{
		log:    log.With().Str(logging.FieldComponent, "composer").Logger(),
		accept: accept,
	}
}

// Bind attaches the composer to a conversation and resets it. request marks
// a conversation that is still an unaccepted message request.
func (c *Composer) Bind(room Room, request bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.room = room
	c.request = request
	c.draft = ""
	c.resetLocked()
}

func (c *Composer) SetDraft(text string) {
	c.mu.Lock()
	c.draft = text
	c.mu.Unlock()
}

func (c *Composer) Draft() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.draft
}

// Mode returns the current mode and, outside composing, its target message.
func (c *Composer) Mode() (Mode, domain.Message) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.mode, c.target
}

// StartEdit switches to editing m and loads its text into the draft.
func (c *Composer) StartEdit(m domain.Message) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.mode = ModeEditing
	c.target = m
	c.draft = m.Content.Text
}

// StartReply switches to replying to m. The draft is kept.
func (c *Composer) StartReply(m domain.Message) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.mode = ModeReplying
	c.target = m
}

// Cancel leaves editing or replying. Leaving an edit also drops the draft
// that was loaded from the edited message.
func (c *Composer) Cancel() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.mode == ModeEditing {
		c.draft = ""
	}
	c.resetLocked()
}

// Submit hands the draft to the bound room according to the mode. It is a
// no-op returning false when nothing is bound or the trimmed draft is empty.
// After an accepted submission the draft is cleared and the composer is back
// in composing mode; a rejected one leaves everything as it was.
func (c *Composer) Submit(ctx context.Context) bool {
	_, ok := c.SubmitMessage(ctx)
	return ok
}

// SubmitMessage is Submit returning the message it produced. For an edit
// that is the target with the new text applied.
func (c *Composer) SubmitMessage(ctx context.Context) (domain.Message, bool) {
	c.mu.Lock()
	room, mode, target := c.room, c.mode, c.target
	text := strings.TrimSpace(c.draft)
	request := c.request
	c.mu.Unlock()

	if room == nil || text == "" {
		return domain.Message{}, false
	}

	var (
		msg domain.Message
		ok  bool
	)
	switch mode {
	case ModeEditing:
		if ok = room.EditMessage(ctx, target.ID, domain.Patch{Text: &text}); ok {
			msg = *target.Clone()
			msg.Content.Text = text
			msg.IsEdited = true
		}
	case ModeReplying:
		msg, ok = room.ReplyToMessage(ctx, target, text, domain.Payload{})
	default:
		msg, ok = room.SendText(ctx, text, domain.Payload{})
	}
	if !ok {
		return domain.Message{}, false
	}

	c.mu.Lock()
	if c.room == room {
		c.draft = ""
		c.resetLocked()
		if mode != ModeEditing {
			c.request = false
		}
	}
	c.mu.Unlock()

	if request && mode != ModeEditing && c.accept != nil {
		if err := c.accept(ctx, room.RoomID()); err != nil {
			c.log.Warn().Err(err).Str(logging.FieldRoomID, room.RoomID()).Msg("accept message request failed")
		}
	}
	return msg, true
}

func (c *Composer) resetLocked() {
	c.mode = ModeComposing
	c.target = domain.Message{}
}
