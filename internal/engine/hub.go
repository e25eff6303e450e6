package engine

import (
	"context"
	"sort"
	"sync"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"client_go/internal/domain"
	"client_go/internal/logging"
	"client_go/internal/session"
)

// flushParallelism bounds how many rooms flush at once. Each room still has
// at most one delivery in flight.
const flushParallelism = 4

// Hub keeps one Engine per open room and fans session events out to them.
type Hub struct {
	mu      sync.RWMutex
	engines map[string]*Engine

	store  domain.LogStore
	userID func() string
	opts   []Option
	log    zerolog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewHub creates a hub whose engines share store and opts. userID is read
// when a room is opened.
func NewHub(store domain.LogStore, userID func() string, log zerolog.Logger, opts ...Option) *Hub {
	ctx, cancel := context.WithCancel(context.Background())
	return &Hub{
		engines: make(map[string]*Engine),
		store:   store,
		userID:  userID,
		opts:    opts,
		log:     log.With().Str(logging.FieldComponent, "hub").Logger(),
		ctx:     ctx,
		cancel:  cancel,
	}
}

// Open returns the engine for roomID, loading it on first use.
func (h *Hub) Open(ctx context.Context, roomID string) (*Engine, error) {
	h.mu.RLock()
	e, ok := h.engines[roomID]
	h.mu.RUnlock()
	if ok {
		return e, nil
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if e, ok := h.engines[roomID]; ok {
		return e, nil
	}
	e, err := New(ctx, h.store, roomID, h.userID(), h.opts...)
	if err != nil {
		return nil, err
	}
	h.engines[roomID] = e
	return e, nil
}

// Get returns an already open engine.
func (h *Hub) Get(roomID string) (*Engine, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	e, ok := h.engines[roomID]
	return e, ok
}

// Close stops the room's engine and removes it from the hub.
func (h *Hub) Close(roomID string) {
	h.mu.Lock()
	e, ok := h.engines[roomID]
	delete(h.engines, roomID)
	h.mu.Unlock()

	if ok {
		e.Close()
	}
}

// Rooms lists the open rooms in sorted order.
func (h *Hub) Rooms() []string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]string, 0, len(h.engines))
	for id := range h.engines {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

func (h *Hub) snapshot() []*Engine {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]*Engine, 0, len(h.engines))
	for _, e := range h.engines {
		out = append(out, e)
	}
	return out
}

// FlushAll runs AttemptFlushQueue on every open engine.
func (h *Hub) FlushAll(ctx context.Context) map[string]FlushResult {
	engines := h.snapshot()
	results := make(map[string]FlushResult, len(engines))
	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(flushParallelism)
	for _, e := range engines {
		e := e
		g.Go(func() error {
			res := e.AttemptFlushQueue(gctx)
			mu.Lock()
			results[e.RoomID()] = res
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()
	return results
}

// OnSessionState is a session subscriber. Every transition into connected
// flushes all open rooms in the background.
func (h *Hub) OnSessionState(ch session.StateChange) {
	if ch.To != session.StateConnected {
		return
	}
	if h.ctx.Err() != nil {
		return
	}
	h.wg.Add(1)
	go func() {
		defer h.wg.Done()
		res := h.FlushAll(h.ctx)
		h.log.Debug().Int("rooms", len(res)).Msg("flushed after connect")
	}()
}

// Shutdown waits for background flushes, then closes every engine and
// writes any log that is still dirty.
func (h *Hub) Shutdown(ctx context.Context) {
	h.cancel()
	h.wg.Wait()

	for _, e := range h.snapshot() {
		h.Close(e.RoomID())
		if err := e.Persist(ctx); err != nil {
			h.log.Error().Err(err).Str(logging.FieldRoomID, e.RoomID()).Msg("final persist failed")
		}
	}
}
