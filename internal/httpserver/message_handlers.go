package httpserver

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"client_go/internal/composer"
	"client_go/internal/domain"
	"client_go/internal/engine"
)

type messageCreateRequest struct {
	Text        string              `json:"text"`
	Kind        domain.Kind         `json:"kind"`
	Content     *domain.Content     `json:"content"`
	Attachments []domain.Attachment `json:"attachments"`
	ReplyToID   string              `json:"reply_to_id"`
}

func (req messageCreateRequest) payload() domain.Payload {
	var c domain.Content
	if req.Content != nil {
		c = *req.Content
	}
	if req.Text != "" {
		c.Text = req.Text
	}
	if req.Kind != "" {
		c.Kind = req.Kind
	}
	return domain.Payload{Content: c, Attachments: req.Attachments}
}

// plainText reports whether the request is a bare text message, which goes
// through the same composer a chat screen uses.
func (req messageCreateRequest) plainText() bool {
	return req.Content == nil && len(req.Attachments) == 0 &&
		(req.Kind == "" || req.Kind == domain.KindText)
}

type messageEditRequest struct {
	Text        *string              `json:"text"`
	Content     *domain.Content      `json:"content"`
	Attachments *[]domain.Attachment `json:"attachments"`
}

func (req messageEditRequest) plainText() bool {
	return req.Text != nil && req.Content == nil && req.Attachments == nil
}

type flagRequest struct {
	Value bool `json:"value"`
}

// openRoom resolves the {roomID} URL parameter to an engine and writes the
// error response itself when that fails.
func openRoom(hub *engine.Hub, w http.ResponseWriter, r *http.Request) (*engine.Engine, bool) {
	e, err := hub.Open(r.Context(), chi.URLParam(r, "roomID"))
	switch {
	case errors.Is(err, domain.ErrInvalidInput):
		writeError(w, http.StatusBadRequest, "invalid room id")
		return nil, false
	case err != nil:
		writeError(w, http.StatusInternalServerError, "failed to open room")
		return nil, false
	}
	return e, true
}

func handleListRooms(hub *engine.Hub) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"rooms": hub.Rooms()})
	}
}

func handleListMessages(hub *engine.Hub) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		e, ok := openRoom(hub, w, r)
		if !ok {
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"messages": e.Messages(),
			"pending":  e.PendingCount(),
		})
	}
}

func handleCreateMessage(hub *engine.Hub, log zerolog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req messageCreateRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid JSON body")
			return
		}
		e, ok := openRoom(hub, w, r)
		if !ok {
			return
		}

		var parent domain.Message
		if req.ReplyToID != "" {
			var found bool
			if parent, found = e.Message(req.ReplyToID); !found {
				writeError(w, http.StatusNotFound, "reply target not found")
				return
			}
		}

		var msg domain.Message
		switch {
		case req.plainText():
			c := composer.New(log, nil)
			c.Bind(e, false)
			if req.ReplyToID != "" {
				c.StartReply(parent)
			}
			c.SetDraft(req.Text)
			msg, ok = c.SubmitMessage(r.Context())
		case req.ReplyToID != "":
			p := req.payload()
			text := p.Content.Text
			p.Content.Text = ""
			msg, ok = e.ReplyToMessage(r.Context(), parent, text, p)
		default:
			msg, ok = e.SendRich(r.Context(), req.payload())
		}
		if !ok {
			writeError(w, http.StatusUnprocessableEntity, "message rejected")
			return
		}
		writeJSON(w, http.StatusCreated, msg)
	}
}

func handleEditMessage(hub *engine.Hub, log zerolog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req messageEditRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid JSON body")
			return
		}
		e, ok := openRoom(hub, w, r)
		if !ok {
			return
		}
		id := chi.URLParam(r, "messageID")
		current, found := e.Message(id)
		if !found {
			writeError(w, http.StatusNotFound, "message not found")
			return
		}
		if req.plainText() {
			c := composer.New(log, nil)
			c.Bind(e, false)
			c.StartEdit(current)
			c.SetDraft(*req.Text)
			_, ok = c.SubmitMessage(r.Context())
		} else {
			patch := domain.Patch{Text: req.Text, Content: req.Content, Attachments: req.Attachments}
			ok = e.EditMessage(r.Context(), id, patch)
		}
		if !ok {
			writeError(w, http.StatusUnprocessableEntity, "edit rejected")
			return
		}
		msg, _ := e.Message(id)
		writeJSON(w, http.StatusOK, msg)
	}
}

func handleDeleteMessage(hub *engine.Hub) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		e, ok := openRoom(hub, w, r)
		if !ok {
			return
		}
		id := chi.URLParam(r, "messageID")
		if !e.SoftDeleteMessage(r.Context(), id) {
			writeError(w, http.StatusNotFound, "message not found")
			return
		}
		msg, _ := e.Message(id)
		writeJSON(w, http.StatusOK, msg)
	}
}

func handleSetFlag(hub *engine.Hub, set func(*engine.Engine, context.Context, string, bool) bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req flagRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid JSON body")
			return
		}
		e, ok := openRoom(hub, w, r)
		if !ok {
			return
		}
		id := chi.URLParam(r, "messageID")
		if !set(e, r.Context(), id, req.Value) {
			writeError(w, http.StatusNotFound, "message not found")
			return
		}
		msg, _ := e.Message(id)
		writeJSON(w, http.StatusOK, msg)
	}
}

func handleFlushRoom(hub *engine.Hub) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		e, ok := openRoom(hub, w, r)
		if !ok {
			return
		}
		writeJSON(w, http.StatusOK, e.AttemptFlushQueue(r.Context()))
	}
}

func handleFlushAll(hub *engine.Hub) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"rooms": hub.FlushAll(r.Context())})
	}
}
