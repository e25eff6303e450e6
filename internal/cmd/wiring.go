package cmd

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"client_go/internal/auth"
	"client_go/internal/config"
	"client_go/internal/domain"
	"client_go/internal/engine"
	"client_go/internal/metrics"
	"client_go/internal/security"
	"client_go/internal/session"
	"client_go/internal/store"
	"client_go/internal/store/pebble"
	"client_go/internal/store/postgres"
	"client_go/internal/store/redis"
	"client_go/internal/store/sqlite"
	"client_go/internal/upload"
	"client_go/internal/ws"
)

// openStore opens the configured log store. The returned close func is
// always safe to call.
func openStore(cfg *config.Config) (domain.LogStore, func(), error) {
	noop := func() {}

	var enc *security.Encryptor
	if cfg.Security.EncryptKey != "" {
		var err error
		enc, err = security.NewEncryptor([]byte(cfg.Security.EncryptKey), cfg.Security.LegacyKeys)
		if err != nil {
			return nil, noop, fmt.Errorf("init encryptor: %w", err)
		}
	}
	codec := store.NewCodec(enc)

	switch cfg.Store.Driver {
	case "sqlite":
		db, err := sqlite.Open(cfg.Store.DSN)
		if err != nil {
			return nil, noop, err
		}
		if err := sqlite.Migrate(db); err != nil {
			db.Close()
			return nil, noop, fmt.Errorf("migrate sqlite: %w", err)
		}
		return sqlite.NewLogRepo(db, codec), func() { db.Close() }, nil
	case "postgres":
		db, err := postgres.Open(cfg.Store.DSN)
		if err != nil {
			return nil, noop, err
		}
		if err := postgres.Migrate(db); err != nil {
			db.Close()
			return nil, noop, fmt.Errorf("migrate postgres: %w", err)
		}
		return postgres.NewLogRepo(db, codec), func() { db.Close() }, nil
	case "pebble":
		s, err := pebble.Open(cfg.Store.Path, codec)
		if err != nil {
			return nil, noop, err
		}
		return s, func() { s.Close() }, nil
	case "redis":
		s, err := redis.New(redis.Config{
			Address:  cfg.Store.RedisAddress,
			Password: cfg.Store.RedisPassword,
			DB:       cfg.Store.RedisDB,
			Prefix:   cfg.Store.RedisPrefix,
		}, codec)
		if err != nil {
			return nil, noop, err
		}
		return s, func() { s.Close() }, nil
	}
	return nil, noop, fmt.Errorf("unknown store driver %q", cfg.Store.Driver)
}

func newUploader(ctx context.Context, cfg *config.Config) (domain.Uploader, error) {
	switch cfg.Upload.Driver {
	case "http":
		return upload.NewHTTPUploader(cfg.Session.APIURL, nil), nil
	case "s3":
		s3cfg := cfg.Upload.S3
		u, err := upload.NewS3Uploader(ctx, upload.S3Config{
			Endpoint:        s3cfg.Endpoint,
			Region:          s3cfg.Region,
			Bucket:          s3cfg.Bucket,
			AccessKeyID:     s3cfg.AccessKeyID,
			SecretAccessKey: s3cfg.SecretAccessKey,
			UsePathStyle:    s3cfg.UsePathStyle,
			URLExpiry:       s3cfg.URLExpiry,
		})
		if err != nil {
			return nil, err
		}
		return u, nil
	}
	return nil, nil
}

// login signs the configured account in. A rejected token leaves the
// session signed out; the client still works offline.
func login(cfg *config.Config, log zerolog.Logger) *auth.Session {
	creds := auth.NewSession()
	if cfg.Session.Token == "" {
		log.Info().Msg("no session token configured, running offline")
		return creds
	}
	if err := creds.Login(cfg.Session.Token, cfg.Session.Phone); err != nil {
		log.Warn().Err(err).Msg("configured session token rejected, running offline")
	}
	return creds
}

func newManager(cfg *config.Config, creds *auth.Session, log zerolog.Logger, m *metrics.Metrics) *session.Manager {
	dialer := ws.NewDialer(cfg.Session.ServerURL, ws.Config{
		PingInterval:   cfg.Session.PingInterval,
		PongWait:       cfg.Session.PongWait,
		WriteWait:      cfg.Session.WriteWait,
		MaxMessageSize: cfg.Session.MaxMessageSize,
	}, log)
	dial := func(ctx context.Context, c domain.Credentials) (session.Conn, error) {
		conn, err := dialer.Dial(ctx, c)
		if err != nil {
			// A nil *ws.Conn must not become a non-nil session.Conn.
			return nil, err
		}
		return conn, nil
	}
	return session.NewManager(dial, creds, session.Config{
		MinBackoff: cfg.Session.MinBackoff,
		MaxBackoff: cfg.Session.MaxBackoff,
		AckTimeout: cfg.Session.AckTimeout,
	}, log, m)
}

// engineOptions collects the options shared by every engine of the hub.
func engineOptions(ctx context.Context, cfg *config.Config, creds *auth.Session, log zerolog.Logger, m *metrics.Metrics) ([]engine.Option, error) {
	opts := []engine.Option{engine.WithLogger(log), engine.WithMetrics(m)}

	up, err := newUploader(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("init uploader: %w", err)
	}
	if up != nil {
		opts = append(opts, engine.WithUploader(up, creds))
	}
	if cfg.Sync.DeliveryRate > 0 {
		burst := cfg.Sync.DeliveryBurst
		if burst < 1 {
			burst = 1
		}
		opts = append(opts, engine.WithLimiter(rate.NewLimiter(rate.Limit(cfg.Sync.DeliveryRate), burst)))
	}
	return opts, nil
}

// knownRooms lists the rooms the store holds, when it can tell.
func knownRooms(ctx context.Context, st domain.LogStore) ([]string, error) {
	lister, ok := st.(domain.RoomLister)
	if !ok {
		return nil, nil
	}
	return lister.Rooms(ctx)
}
