package ws

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"client_go/internal/domain"
	"client_go/internal/logging"
)

// Dialer opens authenticated connections to the chat server.
type Dialer struct {
	url    string
	cfg    Config
	dialer *websocket.Dialer
	log    zerolog.Logger
}

func NewDialer(url string, cfg Config, log zerolog.Logger) *Dialer {
	return &Dialer{
		url: url,
		cfg: cfg.withDefaults(),
		dialer: &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: 15 * time.Second,
		},
		log: log.With().Str(logging.FieldComponent, "ws").Logger(),
	}
}

// Dial connects with creds. The token goes both in the Authorization header
// and as the "bearer, <token>" subprotocol pair for servers that only see
// the latter.
func (d *Dialer) Dial(ctx context.Context, creds domain.Credentials) (*Conn, error) {
	if creds.Token == "" {
		return nil, fmt.Errorf("dial: %w", domain.ErrUnauthorized)
	}
	header := http.Header{}
	header.Set("Authorization", "Bearer "+creds.Token)
	if creds.Phone != "" {
		header.Set("X-Client-Phone", creds.Phone)
	}

	dialer := *d.dialer
	dialer.Subprotocols = []string{"bearer", creds.Token}

	c, resp, err := dialer.DialContext(ctx, d.url, header)
	if err != nil {
		if resp != nil && (resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden) {
			return nil, fmt.Errorf("dial %s: %w (%s)", d.url, domain.ErrUnauthorized, resp.Status)
		}
		return nil, fmt.Errorf("dial %s: %w", d.url, err)
	}

	d.log.Debug().Str("url", d.url).Str("subprotocol", c.Subprotocol()).Msg("socket connected")
	return newConn(c, d.cfg, d.log), nil
}
