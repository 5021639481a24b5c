package scheduler

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/Nitzan94/WhatsApp-Group-Summary-Bot-sub001/internal/tasks"
)

// Service periodically runs active tasks whose next scheduled time has
// passed. Execution failures are logged and never stop the loop.
type Service struct {
	registry *tasks.Registry
	interval time.Duration
	log      zerolog.Logger
}

func New(registry *tasks.Registry, interval time.Duration, log zerolog.Logger) *Service {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	return &Service{
		registry: registry,
		interval: interval,
		log:      log.With().Str("component", "scheduler").Logger(),
	}
}

// Run ticks until ctx ends.
func (s *Service) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.log.Info().Dur("interval", s.interval).Msg("scheduler started")
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			if err := s.registry.ExecuteDue(ctx, now.UTC()); err != nil {
				s.log.Error().Err(err).Msg("due task sweep failed")
			}
		}
	}
}
