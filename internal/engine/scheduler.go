package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/adhocore/gronx"
	"github.com/rs/zerolog"

	"client_go/internal/logging"
)

// Scheduler flushes every open room on a cron schedule. It catches messages
// left pending when no session state change happened, e.g. after a
// transient storage or server error.
type Scheduler struct {
	expr string
	hub  *Hub
	log  zerolog.Logger
	now  func() time.Time
}

func NewScheduler(expr string, hub *Hub, log zerolog.Logger) (*Scheduler, error) {
	if !gronx.IsValid(expr) {
		return nil, fmt.Errorf("invalid flush cron expression: %q", expr)
	}
	return &Scheduler{
		expr: expr,
		hub:  hub,
		log:  log.With().Str(logging.FieldComponent, "scheduler").Logger(),
		now:  time.Now,
	}, nil
}

// Next returns the first tick strictly after t.
func (s *Scheduler) Next(t time.Time) (time.Time, error) {
	return gronx.NextTickAfter(s.expr, t.UTC(), false)
}

// Run blocks until ctx is done, flushing on every tick.
func (s *Scheduler) Run(ctx context.Context) error {
	s.log.Info().Str("cron", s.expr).Msg("flush scheduler started")
	for {
		next, err := s.Next(s.now())
		if err != nil {
			s.log.Error().Err(err).Msg("next tick failed")
			next = s.now().Add(30 * time.Second)
		}

		timer := time.NewTimer(time.Until(next))
		select {
		case <-ctx.Done():
			timer.Stop()
			s.log.Info().Msg("flush scheduler stopped")
			return nil
		case <-timer.C:
		}

		res := s.hub.FlushAll(ctx)
		pending := 0
		for _, r := range res {
			pending += r.Failed
		}
		s.log.Debug().Int("rooms", len(res)).Int("failed", pending).Msg("scheduled flush")
	}
}
