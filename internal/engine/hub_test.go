package engine

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"client_go/internal/domain"
	"client_go/internal/session"
)

func newHub(t *testing.T, s domain.LogStore, opts ...Option) *Hub {
	t.Helper()
	h := NewHub(s, func() string { return "U1" }, zerolog.Nop(), append([]Option{WithLogger(zerolog.Nop())}, opts...)...)
	t.Cleanup(func() { h.Shutdown(context.Background()) })
	return h
}

func TestHubOpenReturnsSameEngine(t *testing.T) {
	ctx := context.Background()
	h := newHub(t, newMemStore())

	a, err := h.Open(ctx, "R1")
	require.NoError(t, err)
	b, err := h.Open(ctx, "R1")
	require.NoError(t, err)
	assert.Same(t, a, b)

	_, err = h.Open(ctx, "R2")
	require.NoError(t, err)
	assert.Equal(t, []string{"R1", "R2"}, h.Rooms())

	got, ok := h.Get("R2")
	require.True(t, ok)
	assert.Equal(t, "R2", got.RoomID())
}

func TestHubCloseStopsEngine(t *testing.T) {
	ctx := context.Background()
	h := newHub(t, newMemStore())
	e, err := h.Open(ctx, "R1")
	require.NoError(t, err)

	h.Close("R1")
	_, ok := h.Get("R1")
	assert.False(t, ok)
	_, sent := e.SendText(ctx, "late", domain.Payload{})
	assert.False(t, sent)
}

func TestHubFlushAll(t *testing.T) {
	ctx := context.Background()
	s := newMemStore()
	var online atomic.Bool
	deliver := func(context.Context, domain.Message) (bool, error) {
		if !online.Load() {
			return false, domain.ErrNotConnected
		}
		return true, nil
	}
	h := newHub(t, s, WithDeliverer(deliver))

	for _, room := range []string{"R1", "R2", "R3"} {
		e, err := h.Open(ctx, room)
		require.NoError(t, err)
		_, ok := e.SendText(ctx, "hi "+room, domain.Payload{})
		require.True(t, ok)
		assert.Equal(t, 1, e.PendingCount())
	}

	online.Store(true)
	res := h.FlushAll(ctx)
	require.Len(t, res, 3)
	for room, r := range res {
		assert.Equal(t, 1, r.Sent, room)
		e, _ := h.Get(room)
		assert.Zero(t, e.PendingCount())
	}
}

func TestHubFlushesOnConnect(t *testing.T) {
	ctx := context.Background()
	var calls atomic.Int32
	h := newHub(t, newMemStore(), WithDeliverer(func(context.Context, domain.Message) (bool, error) {
		return calls.Add(1) > 1, nil
	}))
	e, err := h.Open(ctx, "R1")
	require.NoError(t, err)
	_, ok := e.SendText(ctx, "queued while offline", domain.Payload{})
	require.True(t, ok)
	require.Equal(t, 1, e.PendingCount())

	h.OnSessionState(session.StateChange{From: session.StateConnected, To: session.StateReconnecting})
	time.Sleep(10 * time.Millisecond)
	assert.EqualValues(t, 1, calls.Load(), "only a transition to connected flushes")

	h.OnSessionState(session.StateChange{From: session.StateReconnecting, To: session.StateConnected})
	require.Eventually(t, func() bool { return e.PendingCount() == 0 }, 2*time.Second, 5*time.Millisecond)
}

func TestHubShutdownPersists(t *testing.T) {
	ctx := context.Background()
	s := newMemStore()
	h := NewHub(s, func() string { return "U1" }, zerolog.Nop(), WithLogger(zerolog.Nop()))
	e, err := h.Open(ctx, "R1")
	require.NoError(t, err)
	e.SendText(ctx, "bye", domain.Payload{})

	h.Shutdown(ctx)
	assert.Empty(t, h.Rooms())
	assert.Len(t, s.persisted(t, "R1"), 1)

	h.OnSessionState(session.StateChange{To: session.StateConnected})
}

func TestSchedulerNextTick(t *testing.T) {
	_, err := NewScheduler("not a cron", nil, zerolog.Nop())
	assert.Error(t, err)

	sch, err := NewScheduler("*/5 * * * *", nil, zerolog.Nop())
	require.NoError(t, err)
	next, err := sch.Next(time.Date(2024, 6, 1, 12, 3, 10, 0, time.UTC))
	require.NoError(t, err)
	assert.True(t, next.Equal(time.Date(2024, 6, 1, 12, 5, 0, 0, time.UTC)), next.String())
}

func TestSchedulerRunStopsOnCancel(t *testing.T) {
	h := newHub(t, newMemStore())
	sch, err := NewScheduler("* * * * *", h, zerolog.Nop())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error)
	go func() { done <- sch.Run(ctx) }()
	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("scheduler did not stop")
	}
}
