// Package ws is the client side of the chat WebSocket: dialing with the
// bearer token and a connection with read and write pumps.
package ws

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"client_go/internal/domain"
)

type Config struct {
	PingInterval   time.Duration
	PongWait       time.Duration
	WriteWait      time.Duration
	MaxMessageSize int64
}

func (c Config) withDefaults() Config {
	if c.PongWait <= 0 {
		c.PongWait = 60 * time.Second
	}
	if c.PingInterval <= 0 || c.PingInterval >= c.PongWait {
		c.PingInterval = (c.PongWait * 9) / 10
	}
	if c.WriteWait <= 0 {
		c.WriteWait = 10 * time.Second
	}
	if c.MaxMessageSize <= 0 {
		c.MaxMessageSize = 64 * 1024
	}
	return c
}

// Conn is a live socket. Frames read from the server arrive on Incoming;
// Done is closed once the connection is gone, after which Err tells why.
type Conn struct {
	ws  *websocket.Conn
	cfg Config
	log zerolog.Logger

	send     chan []byte
	incoming chan Frame
	done     chan struct{}

	once sync.Once
	mu   sync.Mutex
	err  error
}

func newConn(c *websocket.Conn, cfg Config, log zerolog.Logger) *Conn {
	conn := &Conn{
		ws:       c,
		cfg:      cfg,
		log:      log,
		send:     make(chan []byte, 256),
		incoming: make(chan Frame, 64),
		done:     make(chan struct{}),
	}
	go conn.readPump()
	go conn.writePump()
	return conn
}

func (c *Conn) Incoming() <-chan Frame { return c.incoming }

func (c *Conn) Done() <-chan struct{} { return c.done }

func (c *Conn) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

// Send queues f for the write pump.
func (c *Conn) Send(ctx context.Context, f Frame) error {
	data, err := json.Marshal(f)
	if err != nil {
		return fmt.Errorf("marshal frame: %w", err)
	}
	select {
	case c.send <- data:
		return nil
	case <-c.done:
		return domain.ErrNotConnected
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close sends a close frame and tears the connection down.
func (c *Conn) Close() error {
	select {
	case <-c.done:
		return nil
	default:
	}
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	_ = c.ws.WriteControl(websocket.CloseMessage, msg, time.Now().Add(c.cfg.WriteWait))
	c.fail(domain.ErrClosed)
	return nil
}

func (c *Conn) fail(err error) {
	c.once.Do(func() {
		c.mu.Lock()
		c.err = err
		c.mu.Unlock()
		close(c.done)
		c.ws.Close()
	})
}

func (c *Conn) readPump() {
	c.ws.SetReadLimit(c.cfg.MaxMessageSize)
	c.ws.SetReadDeadline(time.Now().Add(c.cfg.PongWait))
	c.ws.SetPongHandler(func(string) error {
		c.ws.SetReadDeadline(time.Now().Add(c.cfg.PongWait))
		return nil
	})

	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.log.Warn().Err(err).Msg("socket read failed")
			}
			c.fail(fmt.Errorf("read: %w", err))
			return
		}

		var f Frame
		if err := json.Unmarshal(data, &f); err != nil {
			c.log.Debug().Err(err).Msg("dropping malformed frame")
			continue
		}
		select {
		case c.incoming <- f:
		case <-c.done:
			return
		}
	}
}

func (c *Conn) writePump() {
	ticker := time.NewTicker(c.cfg.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case message := <-c.send:
			c.ws.SetWriteDeadline(time.Now().Add(c.cfg.WriteWait))
			w, err := c.ws.NextWriter(websocket.TextMessage)
			if err != nil {
				c.fail(fmt.Errorf("write: %w", err))
				return
			}
			w.Write(message)
			if err := w.Close(); err != nil {
				c.fail(fmt.Errorf("write: %w", err))
				return
			}

		case <-ticker.C:
			c.ws.SetWriteDeadline(time.Now().Add(c.cfg.WriteWait))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.fail(fmt.Errorf("ping: %w", err))
				return
			}

		case <-c.done:
			return
		}
	}
}

// IsClosedByUs reports whether err comes from a local Close.
func IsClosedByUs(err error) bool {
	return errors.Is(err, domain.ErrClosed)
}
