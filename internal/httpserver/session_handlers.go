package httpserver

import (
	"net/http"

	"client_go/internal/session"
)

type sessionResponse struct {
	State     string `json:"state"`
	Connected bool   `json:"connected"`
}

func sessionView(s SessionControl) sessionResponse {
	st := s.State()
	return sessionResponse{State: st.String(), Connected: st == session.StateConnected}
}

func handleSessionState(s SessionControl) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, sessionView(s))
	}
}

// handleSessionConnect asks the manager to connect. The answer carries the
// state right after the request; progress arrives over /api/events.
func handleSessionConnect(s SessionControl) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s.Connect()
		writeJSON(w, http.StatusAccepted, sessionView(s))
	}
}

func handleSessionDisconnect(s SessionControl) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s.Disconnect()
		writeJSON(w, http.StatusOK, sessionView(s))
	}
}
