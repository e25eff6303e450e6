package engine

import (
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"client_go/internal/domain"
	"client_go/internal/metrics"
)

type Option func(*Engine)

// WithDeliverer sets the transport delivery function. Without one, messages
// stay pending and flushes are no-ops.
func WithDeliverer(fn domain.DeliverFunc) Option {
	return func(e *Engine) { e.deliver = fn }
}

// WithUploader enables SendWithAttachments. The bearer token is read from
// creds once per send.
func WithUploader(u domain.Uploader, creds domain.CredentialSource) Option {
	return func(e *Engine) {
		e.uploader = u
		e.creds = creds
	}
}

func WithLogger(l zerolog.Logger) Option {
	return func(e *Engine) { e.log = l }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(e *Engine) { e.metrics = m }
}

// WithLimiter paces delivery attempts made by flushes.
func WithLimiter(l *rate.Limiter) Option {
	return func(e *Engine) { e.limiter = l }
}

func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

func WithIDGenerator(fn func() string) Option {
	return func(e *Engine) { e.newID = fn }
}

func defaultID() string {
	return uuid.NewString()
}
