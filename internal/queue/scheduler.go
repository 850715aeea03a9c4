package queue

import (
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

// Scheduler wraps the cron runner and feeds recurring jobs into the queue
type Scheduler struct {
	cron    *cron.Cron
	manager *Manager
	log     zerolog.Logger
}

// NewScheduler creates a new scheduler
func NewScheduler(manager *Manager, logger zerolog.Logger) *Scheduler {
	return &Scheduler{
		cron:    cron.New(),
		manager: manager,
		log:     logger.With().Str("component", "scheduler").Logger(),
	}
}

// Every schedules a job at a fixed interval. The queue's own dedupe still
// applies, so a cron tick that overlaps an event-driven enqueue is dropped.
func (s *Scheduler) Every(interval time.Duration, job Job) error {
	spec := fmt.Sprintf("@every %s", interval)
	_, err := s.cron.AddFunc(spec, func() {
		s.manager.EnqueueIfShouldRun(job, interval/2)
	})
	if err != nil {
		return fmt.Errorf("failed to schedule %s: %w", job.Type, err)
	}
	s.log.Info().
		Str("type", string(job.Type)).
		Dur("interval", interval).
		Msg("Job scheduled")
	return nil
}

// Start begins the cron runner
func (s *Scheduler) Start() {
	s.cron.Start()
}

// Stop halts the cron runner and waits for running entries
func (s *Scheduler) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
}
