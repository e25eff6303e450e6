package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(t.TempDir())
	require.NoError(t, err)

	assert.Equal(t, "sqlite", cfg.Store.Driver)
	assert.Equal(t, time.Second, cfg.Session.MinBackoff)
	assert.Equal(t, 30*time.Second, cfg.Session.MaxBackoff)
	assert.Equal(t, "*/5 * * * *", cfg.Sync.FlushCron)
	assert.Equal(t, "127.0.0.1:8790", cfg.APIAddr())
	assert.True(t, cfg.IsDevelopment())
}

func TestLoadFileAndEnvOverride(t *testing.T) {
	dir := t.TempDir()
	yaml := []byte(`
store:
  driver: pebble
  path: /tmp/zchat-pebble
session:
  min_backoff: 500ms
  max_backoff: 5s
api:
  port: 9000
`)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), yaml, 0o600))
	t.Setenv("ZCHAT_API_PORT", "9100")

	cfg, err := Load(dir)
	require.NoError(t, err)

	assert.Equal(t, "pebble", cfg.Store.Driver)
	assert.Equal(t, "/tmp/zchat-pebble", cfg.Store.Path)
	assert.Equal(t, 500*time.Millisecond, cfg.Session.MinBackoff)
	assert.Equal(t, 5*time.Second, cfg.Session.MaxBackoff)
	assert.Equal(t, 9100, cfg.API.Port)
}

func TestValidate(t *testing.T) {
	base := func() *Config {
		return &Config{
			Store:   StoreConfig{Driver: "sqlite"},
			Upload:  UploadConfig{Driver: "http"},
			Session: SessionConfig{MinBackoff: time.Second, MaxBackoff: time.Minute},
			Sync:    SyncConfig{FlushCron: "* * * * *"},
			API:     APIConfig{Port: 8790},
		}
	}

	t.Run("Valid", func(t *testing.T) {
		assert.NoError(t, base().Validate())
	})

	t.Run("UnknownDriver", func(t *testing.T) {
		c := base()
		c.Store.Driver = "mongo"
		assert.Error(t, c.Validate())
	})

	t.Run("BackoffInverted", func(t *testing.T) {
		c := base()
		c.Session.MaxBackoff = time.Millisecond
		assert.Error(t, c.Validate())
	})

	t.Run("BadCron", func(t *testing.T) {
		c := base()
		c.Sync.FlushCron = "every minute"
		assert.Error(t, c.Validate())
	})

	t.Run("S3NeedsBucket", func(t *testing.T) {
		c := base()
		c.Upload.Driver = "s3"
		assert.Error(t, c.Validate())
		c.Upload.S3.Bucket = "attachments"
		assert.NoError(t, c.Validate())
	})
}
