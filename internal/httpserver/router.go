// Package httpserver exposes the local control API a UI shell uses to drive
// the sync engines: room logs, sends and edits, flushes, session state and
// a websocket of live events.
package httpserver

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rs/zerolog"

	"client_go/internal/engine"
	"client_go/internal/metrics"
	"client_go/internal/session"
)

// SessionControl is the part of the session manager the API exposes.
// *session.Manager implements it.
type SessionControl interface {
	State() session.State
	Connect()
	Disconnect()
}

type Deps struct {
	Hub     *engine.Hub
	Session SessionControl
	Events  *Events
	Metrics *metrics.Metrics
	Log     zerolog.Logger
	// Token guards every /api route when set.
	Token       string
	CORSOrigins []string
	// UploadDir holds files received by the attachments endpoint until they
	// are uploaded. Empty means the OS temp dir.
	UploadDir string
}

// NewRouter constructs the local API router and wires routes and middleware.
func NewRouter(d Deps) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(RequestLogger(d.Log, d.Metrics))
	r.Use(middleware.Recoverer)

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   d.CORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-Id"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
	})
	if d.Metrics != nil {
		r.Handle("/metrics", d.Metrics.Handler())
	}

	r.Route("/api", func(r chi.Router) {
		r.Use(TokenMiddleware(d.Token))

		// The events socket lives for the whole UI session, outside the timeout.
		if d.Events != nil {
			r.Get("/events", d.Events.Handler(d.CORSOrigins))
		}

		r.Group(func(r chi.Router) {
			r.Use(middleware.Timeout(60 * time.Second))

			if d.Session != nil {
				r.Get("/session", handleSessionState(d.Session))
				r.Post("/session/connect", handleSessionConnect(d.Session))
				r.Post("/session/disconnect", handleSessionDisconnect(d.Session))
			}

			r.Get("/rooms", handleListRooms(d.Hub))
			r.Post("/flush", handleFlushAll(d.Hub))
			r.Route("/rooms/{roomID}", func(r chi.Router) {
				r.Get("/messages", handleListMessages(d.Hub))
				r.Post("/messages", handleCreateMessage(d.Hub, d.Log))
				r.Patch("/messages/{messageID}", handleEditMessage(d.Hub, d.Log))
				r.Delete("/messages/{messageID}", handleDeleteMessage(d.Hub))
				r.Put("/messages/{messageID}/pin", handleSetFlag(d.Hub, (*engine.Engine).SetPinned))
				r.Put("/messages/{messageID}/star", handleSetFlag(d.Hub, (*engine.Engine).SetStarred))
				r.Post("/attachments", handleSendAttachments(d.Hub, d.UploadDir, d.Log))
				r.Post("/flush", handleFlushRoom(d.Hub))
			})
		})
	})

	return r
}

// writeJSON is a small helper to send JSON responses.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v != nil {
		_ = json.NewEncoder(w).Encode(v)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
