package session

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

const DefaultIdleAge = 2 * time.Hour

// Reaper releases sessions that have seen no activity for longer than the
// configured age. Disabled deployments simply never start it.
type Reaper struct {
	manager  *Manager
	idleAge  time.Duration
	schedule string
	logger   zerolog.Logger
	cron     *cron.Cron
	entryID  cron.EntryID
	running  bool
}

// NewReaper creates an idle session reaper
func NewReaper(manager *Manager, idleAge time.Duration, schedule string, logger zerolog.Logger) *Reaper {
	if idleAge <= 0 {
		idleAge = DefaultIdleAge
	}

	return &Reaper{
		manager:  manager,
		idleAge:  idleAge,
		schedule: schedule,
		logger:   logger.With().Str("component", "session-reaper").Logger(),
	}
}

// Start schedules the reaper
func (r *Reaper) Start() error {
	if r.running {
		return fmt.Errorf("reaper is already running")
	}

	r.cron = cron.New()
	entryID, err := r.cron.AddFunc(r.schedule, r.reap)
	if err != nil {
		return fmt.Errorf("invalid reaper schedule %q: %w", r.schedule, err)
	}
	r.entryID = entryID

	r.cron.Start()
	r.running = true

	r.logger.Info().
		Str("schedule", r.schedule).
		Dur("idleAge", r.idleAge).
		Msg("Session reaper started")
	return nil
}

// Stop stops the reaper
func (r *Reaper) Stop() error {
	if !r.running {
		return fmt.Errorf("reaper is not running")
	}

	<-r.cron.Stop().Done()
	r.running = false

	r.logger.Info().Msg("Session reaper stopped")
	return nil
}

// reap releases every idle session
func (r *Reaper) reap() {
	ids := r.manager.Registry().IdleSessions(r.idleAge)
	if len(ids) == 0 {
		return
	}

	released := 0
	for _, id := range ids {
		if err := r.manager.Release(context.Background(), id); err != nil {
			r.logger.Warn().Str("sessionId", id).Err(err).Msg("Failed to reap idle session")
			continue
		}
		released++
	}

	r.logger.Info().Int("released", released).Int("candidates", len(ids)).Msg("Idle sessions reaped")
}
