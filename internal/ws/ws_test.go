package ws

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"client_go/internal/domain"
)

// echoAckServer acks every frame it receives and records the request headers.
func echoAckServer(t *testing.T, seen chan<- http.Header) *httptest.Server {
	t.Helper()
	upgrader := websocket.Upgrader{Subprotocols: []string{"bearer"}}
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer good" {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		if seen != nil {
			seen <- r.Header.Clone()
		}
		c, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer c.Close()
		for {
			var f Frame
			if err := c.ReadJSON(&f); err != nil {
				return
			}
			if err := c.WriteJSON(Frame{Type: TypeAck, ClientID: f.ClientID, OK: true}); err != nil {
				return
			}
		}
	}))
}

func wsURL(s *httptest.Server) string {
	return "ws" + strings.TrimPrefix(s.URL, "http")
}

func TestDialSendsCredentials(t *testing.T) {
	seen := make(chan http.Header, 1)
	srv := echoAckServer(t, seen)
	defer srv.Close()

	d := NewDialer(wsURL(srv), Config{}, zerolog.Nop())
	conn, err := d.Dial(context.Background(), domain.Credentials{Token: "good", Phone: "+1555"})
	require.NoError(t, err)
	defer conn.Close()

	h := <-seen
	assert.Equal(t, "+1555", h.Get("X-Client-Phone"))
	assert.Equal(t, "bearer, good", h.Get("Sec-WebSocket-Protocol"))
}

func TestDialUnauthorized(t *testing.T) {
	srv := echoAckServer(t, nil)
	defer srv.Close()

	d := NewDialer(wsURL(srv), Config{}, zerolog.Nop())
	_, err := d.Dial(context.Background(), domain.Credentials{Token: "bad"})
	assert.ErrorIs(t, err, domain.ErrUnauthorized)

	_, err = d.Dial(context.Background(), domain.Credentials{})
	assert.ErrorIs(t, err, domain.ErrUnauthorized)
}

func TestSendReceivesAck(t *testing.T) {
	srv := echoAckServer(t, nil)
	defer srv.Close()

	conn, err := NewDialer(wsURL(srv), Config{}, zerolog.Nop()).Dial(context.Background(), domain.Credentials{Token: "good"})
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, conn.Send(context.Background(), Frame{Type: TypeMessage, ClientID: "m1", Content: "hi"}))
	select {
	case f := <-conn.Incoming():
		assert.Equal(t, TypeAck, f.Type)
		assert.Equal(t, "m1", f.ClientID)
		assert.True(t, f.IsReply())
	case <-time.After(5 * time.Second):
		t.Fatal("no ack")
	}
}

func TestCloseEndsConnection(t *testing.T) {
	srv := echoAckServer(t, nil)
	defer srv.Close()

	conn, err := NewDialer(wsURL(srv), Config{}, zerolog.Nop()).Dial(context.Background(), domain.Credentials{Token: "good"})
	require.NoError(t, err)
	require.NoError(t, conn.Close())

	select {
	case <-conn.Done():
	case <-time.After(time.Second):
		t.Fatal("done not closed")
	}
	assert.True(t, IsClosedByUs(conn.Err()))
	assert.ErrorIs(t, conn.Send(context.Background(), Frame{Type: TypeTyping}), domain.ErrNotConnected)
}

func TestServerDropIsReported(t *testing.T) {
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		c.Close()
	}))
	defer srv.Close()

	conn, err := NewDialer(wsURL(srv), Config{}, zerolog.Nop()).Dial(context.Background(), domain.Credentials{Token: "t"})
	require.NoError(t, err)

	select {
	case <-conn.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("drop not detected")
	}
	assert.Error(t, conn.Err())
	assert.False(t, IsClosedByUs(conn.Err()))
}

func TestFrameFor(t *testing.T) {
	created := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	base := domain.Message{ID: "m1", RoomID: "R1", CreatedAt: created, Content: domain.Content{Kind: domain.KindText, Text: "hi"}}

	f := FrameFor(base)
	assert.Equal(t, TypeMessage, f.Type)
	assert.Equal(t, "m1", f.ClientID)
	assert.Equal(t, "R1", f.ConversationID)
	assert.Equal(t, "hi", f.Content)
	assert.Nil(t, f.Payload)

	edited := base
	edited.IsEdited = true
	assert.Equal(t, TypeEditMessage, FrameFor(edited).Type)

	deleted := base
	deleted.IsEdited = true
	deleted.IsDeleted = true
	f = FrameFor(deleted)
	assert.Equal(t, TypeDeleteMessage, f.Type)
	assert.Equal(t, "for_everyone", f.DeleteType)
	assert.Empty(t, f.Content)

	voice := base
	voice.Content = domain.Content{Kind: domain.KindVoice, Voice: &domain.Voice{URI: "file://a", DurationMs: 1200}}
	voice.Attachments = []domain.Attachment{{URL: "/uploads/a.m4a", Kind: "audio"}}
	f = FrameFor(voice)
	require.NotNil(t, f.Payload)
	assert.Equal(t, "/uploads/a.m4a", f.FilePath)
	assert.Equal(t, "audio", f.FileType)

	data, err := json.Marshal(f)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"type":"message"`)
}

func TestFrameForUndeliveredMessage(t *testing.T) {
	created := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	m := domain.Message{
		ID:          "m1",
		RoomID:      "R1",
		CreatedAt:   created,
		ReplyToID:   "m0",
		IsLocalOnly: true,
		IsEdited:    true,
		Content:     domain.Content{Kind: domain.KindText, Text: "hi again"},
	}

	f := FrameFor(m)
	assert.Equal(t, TypeMessage, f.Type)
	assert.Equal(t, "hi again", f.Content)
	assert.Equal(t, "m0", f.ReplyToID)
	require.NotNil(t, f.Timestamp)
	assert.Equal(t, created, *f.Timestamp)

	m.IsLocalOnly = false
	assert.Equal(t, TypeEditMessage, FrameFor(m).Type)
}
