package httpserver

import (
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"client_go/internal/logging"
	"client_go/internal/session"
)

const (
	eventWriteWait = 5 * time.Second
	// eventBuffer is how many events a listener may lag behind before it
	// is dropped.
	eventBuffer = 16
)

// Event is pushed to every UI connected to /api/events.
type Event struct {
	Type      string    `json:"type"`
	State     string    `json:"state,omitempty"`
	From      string    `json:"from,omitempty"`
	Connected bool      `json:"connected"`
	Error     string    `json:"error,omitempty"`
	Time      time.Time `json:"time"`
}

const EventSessionState = "session_state"

// Events fans session state changes out to websocket listeners. Each
// listener has its own queue and writer goroutine, so Broadcast never waits
// on the network.
type Events struct {
	log zerolog.Logger

	mu        sync.Mutex
	listeners map[*listener]struct{}
	last      *Event
	closed    bool
}

type listener struct {
	conn *websocket.Conn
	send chan Event
	done chan struct{}
	once sync.Once
}

func newListener(conn *websocket.Conn) *listener {
	return &listener{
		conn: conn,
		send: make(chan Event, eventBuffer),
		done: make(chan struct{}),
	}
}

func (l *listener) stop() {
	l.once.Do(func() { close(l.done) })
}

// writePump is the only writer on the listener's connection.
func (l *listener) writePump() {
	defer l.conn.Close()
	for {
		select {
		case ev := <-l.send:
			if err := writeEvent(l.conn, ev); err != nil {
				return
			}
		case <-l.done:
			_ = l.conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, "closing"),
				time.Now().Add(eventWriteWait))
			return
		}
	}
}

func NewEvents(log zerolog.Logger) *Events {
	return &Events{
		log:       log.With().Str(logging.FieldComponent, "events").Logger(),
		listeners: make(map[*listener]struct{}),
	}
}

// OnSessionState is a session.Manager subscriber.
func (e *Events) OnSessionState(ch session.StateChange) {
	ev := Event{
		Type:      EventSessionState,
		State:     ch.To.String(),
		From:      ch.From.String(),
		Connected: ch.To == session.StateConnected,
		Time:      time.Now().UTC(),
	}
	if ch.Err != nil {
		ev.Error = ch.Err.Error()
	}
	e.Broadcast(ev)
}

// Broadcast queues ev for all listeners and remembers it for new ones. A
// listener whose queue is full is dropped.
func (e *Events) Broadcast(ev Event) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.last = &ev
	for l := range e.listeners {
		select {
		case l.send <- ev:
		default:
			delete(e.listeners, l)
			l.stop()
			e.log.Warn().Msg("slow event listener dropped")
		}
	}
}

// Close disconnects every listener and refuses new ones.
func (e *Events) Close() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.closed = true
	for l := range e.listeners {
		delete(e.listeners, l)
		l.stop()
	}
}

func (e *Events) Listeners() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.listeners)
}

// register adds a listener primed with the last event. It returns nil once
// Events is closed.
func (e *Events) register(conn *websocket.Conn) *listener {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return nil
	}
	l := newListener(conn)
	if e.last != nil {
		l.send <- *e.last
	}
	e.listeners[l] = struct{}{}
	return l
}

func (e *Events) unregister(l *listener) {
	e.mu.Lock()
	delete(e.listeners, l)
	e.mu.Unlock()
	l.stop()
}

func writeEvent(conn *websocket.Conn, ev Event) error {
	_ = conn.SetWriteDeadline(time.Now().Add(eventWriteWait))
	return conn.WriteJSON(ev)
}

// Handler upgrades /api/events. The bearer token, if any, was already
// checked by TokenMiddleware; browsers pass it as the "bearer" subprotocol.
func (e *Events) Handler(allowedOrigins []string) http.HandlerFunc {
	checkOrigin := makeCheckOrigin(allowedOrigins)
	upgrader := websocket.Upgrader{
		CheckOrigin:  checkOrigin,
		Subprotocols: []string{"bearer"},
	}

	return func(w http.ResponseWriter, r *http.Request) {
		if !checkOrigin(r) {
			writeError(w, http.StatusForbidden, "origin not allowed")
			return
		}
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		l := e.register(conn)
		if l == nil {
			return
		}
		go l.writePump()
		defer e.unregister(l)
		e.log.Debug().Str("remote", r.RemoteAddr).Msg("event listener connected")

		// Listeners never send anything we act on; reading detects the close.
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}
}

func normalizeAllowedOrigins(origins []string) map[string]struct{} {
	res := make(map[string]struct{}, len(origins))
	for _, origin := range origins {
		o := strings.TrimSpace(strings.ToLower(origin))
		if o != "" {
			res[o] = struct{}{}
		}
	}
	return res
}

// makeCheckOrigin admits listed browser origins. Requests without an Origin
// header come from local tools, not browsers, and are allowed.
func makeCheckOrigin(allowedOrigins []string) func(r *http.Request) bool {
	allowed := normalizeAllowedOrigins(allowedOrigins)
	_, wildcard := allowed["*"]

	return func(r *http.Request) bool {
		origin := strings.TrimSpace(strings.ToLower(r.Header.Get("Origin")))
		if origin == "" || wildcard {
			return true
		}
		if _, ok := allowed[origin]; ok {
			return true
		}

		u, err := url.Parse(origin)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return false
		}
		_, ok := allowed[fmt.Sprintf("%s://%s", u.Scheme, u.Host)]
		return ok
	}
}
