package sqlite_test

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"client_go/internal/domain"
	"client_go/internal/store"
	"client_go/internal/store/sqlite"
)

func newRepo(t *testing.T) *sqlite.LogRepo {
	t.Helper()
	db, err := sqlite.Open(filepath.Join(t.TempDir(), "client.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	require.NoError(t, sqlite.Migrate(db))
	require.NoError(t, sqlite.Migrate(db), "migrations must be idempotent")
	return sqlite.NewLogRepo(db, store.NewCodec(nil))
}

func msg(id string, sec int) *domain.Message {
	return &domain.Message{
		ID:        id,
		RoomID:    "R1",
		CreatedAt: time.Date(2024, 3, 1, 9, 0, sec, 0, time.UTC),
		Content:   domain.Content{Kind: domain.KindText, Text: "m" + id},
		Status:    domain.StatusPending,
	}
}

func TestLoadMissingRoom(t *testing.T) {
	repo := newRepo(t)
	msgs, err := repo.Load(context.Background(), "nope")
	require.NoError(t, err)
	assert.Empty(t, msgs)
}

func TestSaveReplacesWholeLog(t *testing.T) {
	ctx := context.Background()
	repo := newRepo(t)

	require.NoError(t, repo.Save(ctx, "R1", []*domain.Message{msg("1", 1), msg("2", 2)}))
	require.NoError(t, repo.Save(ctx, "R1", []*domain.Message{msg("3", 3)}))

	msgs, err := repo.Load(ctx, "R1")
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, "3", msgs[0].ID)
}

func TestLoadOrdersByCreatedAt(t *testing.T) {
	ctx := context.Background()
	repo := newRepo(t)

	require.NoError(t, repo.Save(ctx, "R1", []*domain.Message{msg("late", 9), msg("early", 1), msg("mid", 5)}))

	msgs, err := repo.Load(ctx, "R1")
	require.NoError(t, err)
	require.Len(t, msgs, 3)
	assert.Equal(t, "early", msgs[0].ID)
	assert.Equal(t, "mid", msgs[1].ID)
	assert.Equal(t, "late", msgs[2].ID)
}

func TestLoadSaveRoundTrip(t *testing.T) {
	ctx := context.Background()
	repo := newRepo(t)
	require.NoError(t, repo.Save(ctx, "R1", []*domain.Message{msg("1", 1), msg("2", 2)}))

	first, err := repo.Load(ctx, "R1")
	require.NoError(t, err)
	require.NoError(t, repo.Save(ctx, "R1", first))
	second, err := repo.Load(ctx, "R1")
	require.NoError(t, err)

	assert.Equal(t, first, second)
}

func TestRoomsAreIndependent(t *testing.T) {
	ctx := context.Background()
	repo := newRepo(t)
	require.NoError(t, repo.Save(ctx, "R1", []*domain.Message{msg("1", 1)}))
	require.NoError(t, repo.Save(ctx, "R2", []*domain.Message{msg("2", 2), msg("3", 3)}))

	r1, err := repo.Load(ctx, "R1")
	require.NoError(t, err)
	assert.Len(t, r1, 1)

	rooms, err := repo.Rooms(ctx)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"R1", "R2"}, rooms)
}
