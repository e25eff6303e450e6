// Package session owns the single live transport connection of the signed-in
// user. It reconnects with bounded exponential backoff and publishes every
// state change to its subscribers.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"

	"client_go/internal/domain"
	"client_go/internal/logging"
	"client_go/internal/metrics"
	"client_go/internal/ws"
)

type State int

const (
	StateIdle State = iota
	StateConnecting
	StateConnected
	StateReconnecting
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateReconnecting:
		return "reconnecting"
	case StateClosed:
		return "closed"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// StateChange is published to subscribers on every transition.
type StateChange struct {
	From State
	To   State
	Err  error // cause of a reconnect, if any
}

// Conn is the live connection the manager drives. *ws.Conn implements it.
type Conn interface {
	Send(ctx context.Context, f ws.Frame) error
	Incoming() <-chan ws.Frame
	Done() <-chan struct{}
	Err() error
	Close() error
}

type DialFunc func(ctx context.Context, creds domain.Credentials) (Conn, error)

// AuthSource supplies credentials and reports authentication changes.
// *auth.Session implements it.
type AuthSource interface {
	domain.CredentialSource
	Subscribe(fn func(authenticated bool)) (unsubscribe func())
}

type Config struct {
	MinBackoff time.Duration
	MaxBackoff time.Duration
	// AckTimeout bounds the wait for the server's ack of a delivered frame.
	// Zero means a frame counts as delivered once written.
	AckTimeout time.Duration
}

type Manager struct {
	dial    DialFunc
	auth    AuthSource
	cfg     Config
	log     zerolog.Logger
	metrics *metrics.Metrics
	// jitter is the randomization factor applied to every retry interval.
	jitter  float64

	mu         sync.Mutex
	state      State
	conn       Conn
	loopCancel context.CancelFunc
	loopDone   chan struct{}
	closed     bool
	subs       map[int]func(StateChange)
	nextSub    int
	acks       map[string]chan ws.Frame
}

func NewManager(dial DialFunc, auth AuthSource, cfg Config, log zerolog.Logger, m *metrics.Metrics) *Manager {
	if cfg.MinBackoff <= 0 {
		cfg.MinBackoff = time.Second
	}
	if cfg.MaxBackoff < cfg.MinBackoff {
		cfg.MaxBackoff = cfg.MinBackoff
	}
	return &Manager{
		dial:    dial,
		auth:    auth,
		cfg:     cfg,
		log:     log.With().Str(logging.FieldComponent, "session").Logger(),
		metrics: m,
		jitter:  0.5,
		subs:    make(map[int]func(StateChange)),
		acks:    make(map[string]chan ws.Frame),
	}
}

func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

func (m *Manager) IsConnected() bool {
	return m.State() == StateConnected
}

// Subscribe registers fn for state changes. Callbacks run synchronously on
// the goroutine making the transition and must not block.
func (m *Manager) Subscribe(fn func(StateChange)) (unsubscribe func()) {
	m.mu.Lock()
	id := m.nextSub
	m.nextSub++
	m.subs[id] = fn
	m.mu.Unlock()

	return func() {
		m.mu.Lock()
		delete(m.subs, id)
		m.mu.Unlock()
	}
}

// Run connects while the auth source is authenticated and disconnects when
// it is not, until ctx is done. The manager is closed when Run returns.
func (m *Manager) Run(ctx context.Context) error {
	changes := make(chan bool, 1)
	unsubscribe := m.auth.Subscribe(func(v bool) {
		for {
			select {
			case changes <- v:
				return
			default:
				// keep only the latest value
				select {
				case <-changes:
				default:
				}
			}
		}
	})
	defer unsubscribe()
	defer m.Close()

	m.Connect()
	for {
		select {
		case <-ctx.Done():
			return nil
		case authenticated := <-changes:
			if authenticated {
				m.Connect()
			} else {
				m.Disconnect()
			}
		}
	}
}

// Connect starts the connection loop. It does nothing when a loop already
// runs, the manager is closed or no credentials are available.
func (m *Manager) Connect() {
	m.mu.Lock()
	if m.closed || m.loopCancel != nil {
		m.mu.Unlock()
		return
	}
	if _, ok := m.auth.Credentials(); !ok {
		m.mu.Unlock()
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	m.loopCancel = cancel
	m.loopDone = done
	m.mu.Unlock()

	go m.loop(ctx, done)
}

// Disconnect stops the loop and tears down the connection. The loop stops
// listening before the connection is closed, so no event of the old
// connection reaches subscribers.
func (m *Manager) Disconnect() {
	m.mu.Lock()
	cancel, done := m.loopCancel, m.loopDone
	m.loopCancel, m.loopDone = nil, nil
	m.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done

	m.setState(StateClosed, nil)
	m.setState(StateIdle, nil)
}

// Close disconnects and drops every subscriber. A closed manager never
// connects again.
func (m *Manager) Close() {
	m.Disconnect()

	m.mu.Lock()
	m.closed = true
	m.subs = make(map[int]func(StateChange))
	m.mu.Unlock()
}

func (m *Manager) loop(ctx context.Context, done chan struct{}) {
	defer close(done)

	bo := m.retryPolicy()
	attempt := 0
	for {
		next := StateConnecting
		if attempt > 0 {
			next = StateReconnecting
		}
		m.setState(next, nil)

		conn, err := m.dialOnce(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			attempt++
			if !m.waitRetry(ctx, bo, attempt, err) {
				return
			}
			continue
		}

		attempt = 0
		bo.Reset()
		m.mu.Lock()
		m.conn = conn
		m.mu.Unlock()
		m.setState(StateConnected, nil)

		m.listen(ctx, conn)

		// Detach first so nothing reacts to the close below.
		m.detach(conn)
		conn.Close()
		if ctx.Err() != nil {
			return
		}

		attempt = 1
		m.setState(StateReconnecting, conn.Err())
		if !m.waitRetry(ctx, bo, attempt, conn.Err()) {
			return
		}
	}
}

// dialOnce reads the credentials afresh for every attempt.
func (m *Manager) dialOnce(ctx context.Context) (Conn, error) {
	creds, ok := m.auth.Credentials()
	if !ok {
		return nil, domain.ErrUnauthorized
	}
	return m.dial(ctx, creds)
}

func (m *Manager) waitRetry(ctx context.Context, bo backoff.BackOff, attempt int, cause error) bool {
	wait := m.nextWait(bo)
	m.metrics.Reconnect()
	msg := "connection lost, retrying"
	if IsAuthError(cause) {
		msg = "credentials rejected, retrying"
	}
	m.log.Warn().
		Err(cause).
		Int(logging.FieldAttempt, attempt).
		Dur(logging.FieldBackoff, wait).
		Msg(msg)

	timer := time.NewTimer(wait)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

func (m *Manager) listen(ctx context.Context, conn Conn) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-conn.Done():
			return
		case f := <-conn.Incoming():
			m.dispatch(f)
		}
	}
}

func (m *Manager) dispatch(f ws.Frame) {
	if !f.IsReply() {
		m.log.Debug().Str("type", f.Type).Msg("server event")
		return
	}
	m.mu.Lock()
	ch, ok := m.acks[f.ClientID]
	m.mu.Unlock()
	if !ok {
		return
	}
	select {
	case ch <- f:
	default:
	}
}

func (m *Manager) detach(conn Conn) {
	m.mu.Lock()
	if m.conn == conn {
		m.conn = nil
	}
	m.mu.Unlock()
}

func (m *Manager) setState(to State, cause error) {
	m.mu.Lock()
	from := m.state
	if from == to {
		m.mu.Unlock()
		return
	}
	m.state = to
	subs := make([]func(StateChange), 0, len(m.subs))
	for _, fn := range m.subs {
		subs = append(subs, fn)
	}
	m.mu.Unlock()

	m.metrics.SessionState(int(to))
	m.log.Info().
		Str(logging.FieldState, to.String()).
		Str("from", from.String()).
		Msg("session state changed")

	ch := StateChange{From: from, To: to, Err: cause}
	for _, fn := range subs {
		fn(ch)
	}
}

// retryPolicy returns the reconnect schedule: exponential from MinBackoff,
// capped at MaxBackoff and randomized by the jitter factor. It never gives up.
func (m *Manager) retryPolicy() *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = m.cfg.MinBackoff
	b.MaxInterval = m.cfg.MaxBackoff
	b.Multiplier = 2
	b.RandomizationFactor = m.jitter
	b.MaxElapsedTime = 0
	b.Reset()
	return b
}

// nextWait takes the next interval from b, kept within
// [MinBackoff, MaxBackoff].
func (m *Manager) nextWait(b backoff.BackOff) time.Duration {
	d := b.NextBackOff()
	if d == backoff.Stop || d > m.cfg.MaxBackoff {
		d = m.cfg.MaxBackoff
	}
	if d < m.cfg.MinBackoff {
		d = m.cfg.MinBackoff
	}
	return d
}

// Deliver is the engine's delivery function. It fails fast with
// domain.ErrNotConnected while offline, otherwise writes the frame for msg
// and, with an AckTimeout, waits for the server's answer.
func (m *Manager) Deliver(ctx context.Context, msg domain.Message) (bool, error) {
	m.mu.Lock()
	conn := m.conn
	connected := m.state == StateConnected
	m.mu.Unlock()
	if conn == nil || !connected {
		return false, domain.ErrNotConnected
	}

	f := ws.FrameFor(msg)
	var ack chan ws.Frame
	if m.cfg.AckTimeout > 0 {
		ack = make(chan ws.Frame, 1)
		m.mu.Lock()
		m.acks[f.ClientID] = ack
		m.mu.Unlock()
		defer func() {
			m.mu.Lock()
			delete(m.acks, f.ClientID)
			m.mu.Unlock()
		}()
	}

	if err := conn.Send(ctx, f); err != nil {
		return false, fmt.Errorf("send %s: %w", f.Type, err)
	}
	if ack == nil {
		return true, nil
	}

	timer := time.NewTimer(m.cfg.AckTimeout)
	defer timer.Stop()
	select {
	case reply := <-ack:
		if reply.Type == ws.TypeError || !reply.OK {
			return false, fmt.Errorf("%w: %s", domain.ErrDeliveryRejected, reply.Message)
		}
		return true, nil
	case <-timer.C:
		return false, domain.ErrAckTimeout
	case <-conn.Done():
		return false, domain.ErrNotConnected
	case <-ctx.Done():
		return false, ctx.Err()
	}
}

// IsAuthError reports whether a dial failed because the server refused the
// credentials.
func IsAuthError(err error) bool {
	return errors.Is(err, domain.ErrUnauthorized)
}
