package redis_test

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"client_go/internal/domain"
	"client_go/internal/store"
	"client_go/internal/store/redis"
)

// Runs against a live server only when ZCHAT_TEST_REDIS_ADDR is set.
func TestStoreRoundTrip(t *testing.T) {
	addr := os.Getenv("ZCHAT_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("ZCHAT_TEST_REDIS_ADDR not set")
	}
	ctx := context.Background()
	prefix := "test:" + uuid.NewString() + ":"
	s, err := redis.New(redis.Config{Address: addr, Prefix: prefix}, store.NewCodec(nil))
	require.NoError(t, err)
	defer s.Close()

	msgs, err := s.Load(ctx, "R1")
	require.NoError(t, err)
	assert.Empty(t, msgs)

	now := time.Now().UTC()
	require.NoError(t, s.Save(ctx, "R1", []*domain.Message{
		{ID: "b", CreatedAt: now.Add(time.Second), Content: domain.Content{Kind: domain.KindText, Text: "b"}},
		{ID: "a", CreatedAt: now, Content: domain.Content{Kind: domain.KindText, Text: "a"}},
	}))

	msgs, err = s.Load(ctx, "R1")
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, "a", msgs[0].ID)

	rooms, err := s.Rooms(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"R1"}, rooms)
}
