package cmd

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"client_go/internal/config"
	"client_go/internal/domain"
)

// writeConfig writes a config.yaml using the given store section and
// returns its directory.
func writeConfig(t *testing.T, store string) string {
	t.Helper()
	dir := t.TempDir()
	body := fmt.Sprintf(`app:
  env: test
log:
  level: error
store:
%s
upload:
  driver: none
sync:
  flush_cron: ""
`, store)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(body), 0o600))
	return dir
}

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := newRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

func TestSendThenHistory(t *testing.T) {
	dsn := filepath.Join(t.TempDir(), "client.db")
	dir := writeConfig(t, "  driver: sqlite\n  dsn: "+dsn)

	out, err := run(t, "--config", dir, "send", "--room", "R1", "--text", "Hello")
	require.NoError(t, err)
	var sent domain.Message
	require.NoError(t, json.Unmarshal([]byte(out), &sent))
	assert.Equal(t, "Hello", sent.Content.Text)
	assert.Equal(t, domain.StatusPending, sent.Status)

	_, err = run(t, "--config", dir, "send", "--room", "R1", "--text", "Thanks", "--reply-to", sent.ID)
	require.NoError(t, err)

	out, err = run(t, "--config", dir, "history", "--room", "R1", "--json")
	require.NoError(t, err)
	var msgs []domain.Message
	require.NoError(t, json.Unmarshal([]byte(out), &msgs))
	require.Len(t, msgs, 2)
	assert.Equal(t, sent.ID, msgs[1].ReplyToID)

	out, err = run(t, "--config", dir, "history", "--room", "R1")
	require.NoError(t, err)
	assert.Contains(t, out, "[pending]")
	assert.Contains(t, out, `↪ "Hello": Thanks`)
}

func TestSendRejectsEmptyText(t *testing.T) {
	dir := writeConfig(t, "  driver: sqlite\n  dsn: "+filepath.Join(t.TempDir(), "client.db"))

	_, err := run(t, "--config", dir, "send", "--room", "R1", "--text", "   ")
	assert.ErrorIs(t, err, domain.ErrEmptyContent)

	_, err = run(t, "--config", dir, "send", "--room", "R1", "--text", "x", "--reply-to", "missing")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestFlushNeedsToken(t *testing.T) {
	dir := writeConfig(t, "  driver: sqlite\n  dsn: "+filepath.Join(t.TempDir(), "client.db"))
	_, err := run(t, "--config", dir, "flush", "--room", "R1")
	assert.ErrorIs(t, err, domain.ErrUnauthorized)
}

func TestOpenStoreDrivers(t *testing.T) {
	ctx := context.Background()
	for _, tc := range []struct {
		name string
		cfg  config.StoreConfig
	}{
		{"sqlite", config.StoreConfig{Driver: "sqlite", DSN: filepath.Join(t.TempDir(), "c.db")}},
		{"pebble", config.StoreConfig{Driver: "pebble", Path: filepath.Join(t.TempDir(), "pebble")}},
	} {
		t.Run(tc.name, func(t *testing.T) {
			cfg := &config.Config{Store: tc.cfg, Security: config.SecurityConfig{EncryptKey: "local-secret"}}
			st, closeStore, err := openStore(cfg)
			require.NoError(t, err)
			defer closeStore()

			msgs := []*domain.Message{{ID: "1", RoomID: "R1", Content: domain.Content{Kind: domain.KindText, Text: "hi"}}}
			require.NoError(t, st.Save(ctx, "R1", msgs))
			got, err := st.Load(ctx, "R1")
			require.NoError(t, err)
			require.Len(t, got, 1)
			assert.Equal(t, "hi", got[0].Content.Text)

			rooms, err := knownRooms(ctx, st)
			require.NoError(t, err)
			assert.Equal(t, []string{"R1"}, rooms)
		})
	}

	_, closeStore, err := openStore(&config.Config{Store: config.StoreConfig{Driver: "tape"}})
	assert.Error(t, err)
	closeStore()
}

func TestNewUploaderByDriver(t *testing.T) {
	ctx := context.Background()
	cfg := &config.Config{Upload: config.UploadConfig{Driver: "none"}}
	up, err := newUploader(ctx, cfg)
	require.NoError(t, err)
	assert.Nil(t, up)

	cfg.Upload.Driver = "http"
	cfg.Session.APIURL = "http://localhost:8000"
	up, err = newUploader(ctx, cfg)
	require.NoError(t, err)
	assert.NotNil(t, up)

	cfg.Upload.Driver = "s3"
	up, err = newUploader(ctx, cfg)
	assert.Error(t, err, "bucket is required")
	assert.Nil(t, up)
}
