package pebble_test

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"client_go/internal/domain"
	"client_go/internal/security"
	"client_go/internal/store"
	"client_go/internal/store/pebble"
)

func open(t *testing.T, dir string, codec *store.Codec) *pebble.Store {
	t.Helper()
	s, err := pebble.Open(filepath.Join(dir, "logs"), codec)
	require.NoError(t, err)
	return s
}

func TestStoreLoadSave(t *testing.T) {
	ctx := context.Background()
	s := open(t, t.TempDir(), store.NewCodec(nil))
	defer s.Close()

	msgs, err := s.Load(ctx, "R1")
	require.NoError(t, err)
	assert.Empty(t, msgs)

	base := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	require.NoError(t, s.Save(ctx, "R1", []*domain.Message{
		{ID: "2", CreatedAt: base.Add(time.Minute), Content: domain.Content{Kind: domain.KindText, Text: "two"}},
		{ID: "1", CreatedAt: base, Content: domain.Content{Kind: domain.KindText, Text: "one"}},
	}))
	require.NoError(t, s.Save(ctx, "R2", []*domain.Message{
		{ID: "x", CreatedAt: base, Content: domain.Content{Kind: domain.KindText, Text: "x"}},
	}))

	msgs, err = s.Load(ctx, "R1")
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, "1", msgs[0].ID)

	rooms, err := s.Rooms(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"R1", "R2"}, rooms)
}

func TestStoreSurvivesReopenEncrypted(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	enc, err := security.NewEncryptor([]byte("device secret"), nil)
	require.NoError(t, err)
	codec := store.NewCodec(enc)

	s := open(t, dir, codec)
	require.NoError(t, s.Save(ctx, "R1", []*domain.Message{
		{ID: "1", Content: domain.Content{Kind: domain.KindText, Text: "secret"}, Status: domain.StatusPending},
	}))
	require.NoError(t, s.Close())

	s = open(t, dir, codec)
	defer s.Close()
	msgs, err := s.Load(ctx, "R1")
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, "secret", msgs[0].Content.Text)
	assert.Equal(t, domain.StatusPending, msgs[0].Status)
}
