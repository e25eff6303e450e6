// Package auth holds the credentials of the signed-in user. A Session is
// created once and passed by reference to whatever needs the bearer token.
package auth

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"client_go/internal/domain"
	"client_go/internal/security"
)

// Session is the explicit credential object consumed by the transport.
// It implements domain.CredentialSource.
type Session struct {
	mu     sync.RWMutex
	creds  domain.Credentials
	claims security.Claims
	active bool

	subs   map[int]func(authenticated bool)
	nextID int

	now func() time.Time
}

var _ domain.CredentialSource = (*Session)(nil)

func NewSession() *Session {
	return &Session{
		subs: make(map[int]func(bool)),
		now:  time.Now,
	}
}

// Login stores the bearer token and phone. JWT claims are read when the token
// is a JWT; an opaque token is accepted as-is. An expired JWT is rejected.
func (s *Session) Login(token, phone string) error {
	token = strings.TrimSpace(token)
	if token == "" {
		return fmt.Errorf("%w: empty token", domain.ErrUnauthorized)
	}

	creds := domain.Credentials{Token: token, Phone: phone}
	claims, err := security.ParseClaims(token)
	if err == nil {
		if claims.Expired(s.now()) {
			return fmt.Errorf("%w: token expired at %s", domain.ErrUnauthorized, claims.ExpiresAt.Format(time.RFC3339))
		}
		creds.UserID = claims.Subject
	} else {
		claims = security.Claims{}
	}

	s.mu.Lock()
	changed := !s.active || s.creds != creds
	s.creds = creds
	s.claims = claims
	s.active = true
	s.mu.Unlock()

	if changed {
		s.notify(true)
	}
	return nil
}

// Logout drops the credentials. Subscribers are told only on an actual change.
func (s *Session) Logout() {
	s.mu.Lock()
	was := s.active
	s.creds = domain.Credentials{}
	s.claims = security.Claims{}
	s.active = false
	s.mu.Unlock()

	if was {
		s.notify(false)
	}
}

// Authenticated reports whether usable credentials are present.
func (s *Session) Authenticated() bool {
	_, ok := s.Credentials()
	return ok
}

// Credentials returns a copy of the current credentials. A token whose exp
// claim has passed is reported as unavailable.
func (s *Session) Credentials() (domain.Credentials, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.active || s.claims.Expired(s.now()) {
		return domain.Credentials{}, false
	}
	return s.creds, true
}

// UserID is the subject of the current token, empty for opaque tokens.
func (s *Session) UserID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.creds.UserID
}

// Subscribe registers fn for authentication changes and returns a function
// that removes it. fn runs on the goroutine that called Login or Logout.
func (s *Session) Subscribe(fn func(authenticated bool)) (unsubscribe func()) {
	s.mu.Lock()
	id := s.nextID
	s.nextID++
	s.subs[id] = fn
	s.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			delete(s.subs, id)
			s.mu.Unlock()
		})
	}
}

func (s *Session) notify(authenticated bool) {
	s.mu.RLock()
	fns := make([]func(bool), 0, len(s.subs))
	for _, fn := range s.subs {
		fns = append(fns, fn)
	}
	s.mu.RUnlock()

	for _, fn := range fns {
		fn(authenticated)
	}
}
