/*
scheduler.go - Automated accrual scheduler

PURPOSE:
  Runs the batch accrual engine on a cron schedule so period accruals
  happen without manual triggers. A second annual schedule applies the
  year-boundary carryover limit.

DESIGN:
  - robfig/cron drives the schedules; expressions come from configuration
  - An ErrRunInProgress result is normal when another instance holds the
    run lock, and is logged at info, not error
  - Stop() waits for a running job to finish before returning

USAGE:
  sched := NewAccrualScheduler(engine, cfg, log)
  if err := sched.Start(); err != nil { ... }
  defer sched.Stop()

SEE ALSO:
  - pto/accrual.go: The engine these jobs invoke
  - config/config.go: Schedule expressions
*/
package api

import (
	"context"
	"errors"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"github.com/fieldserve/pto-engine/pto"
)

// SchedulerConfig carries the cron expressions for scheduled work.
type SchedulerConfig struct {
	// AccrualSchedule triggers batch accrual, e.g. "0 2 * * 1" for 02:00
	// every Monday.
	AccrualSchedule string

	// CarryoverSchedule triggers year-boundary carryover, e.g. "0 3 1 1 *"
	// for 03:00 on January 1st. Empty disables it.
	CarryoverSchedule string

	// JobTimeout bounds a single scheduled run.
	JobTimeout time.Duration
}

// AccrualScheduler runs the accrual engine on cron schedules.
type AccrualScheduler struct {
	engine *pto.AccrualEngine
	cfg    SchedulerConfig
	cron   *cron.Cron
	log    zerolog.Logger
}

// NewAccrualScheduler creates a scheduler. Call Start to begin.
func NewAccrualScheduler(engine *pto.AccrualEngine, cfg SchedulerConfig, log zerolog.Logger) *AccrualScheduler {
	if cfg.JobTimeout <= 0 {
		cfg.JobTimeout = 10 * time.Minute
	}
	return &AccrualScheduler{
		engine: engine,
		cfg:    cfg,
		cron:   cron.New(),
		log:    log.With().Str("component", "scheduler").Logger(),
	}
}

// Start registers the jobs and starts the cron loop.
func (s *AccrualScheduler) Start() error {
	if s.cfg.AccrualSchedule != "" {
		if _, err := s.cron.AddFunc(s.cfg.AccrualSchedule, s.runAccrual); err != nil {
			return err
		}
	}
	if s.cfg.CarryoverSchedule != "" {
		if _, err := s.cron.AddFunc(s.cfg.CarryoverSchedule, s.runCarryover); err != nil {
			return err
		}
	}

	s.cron.Start()
	s.log.Info().
		Str("accrual_schedule", s.cfg.AccrualSchedule).
		Str("carryover_schedule", s.cfg.CarryoverSchedule).
		Msg("scheduler started")
	return nil
}

// Stop halts the cron loop and waits for running jobs to finish.
func (s *AccrualScheduler) Stop() {
	<-s.cron.Stop().Done()
	s.log.Info().Msg("scheduler stopped")
}

func (s *AccrualScheduler) runAccrual() {
	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.JobTimeout)
	defer cancel()

	run, err := s.engine.ProcessAllAccruals(ctx, "")
	if err != nil {
		if errors.Is(err, pto.ErrRunInProgress) {
			s.log.Info().Msg("accrual run skipped, another run in progress")
			return
		}
		s.log.Error().Err(err).Msg("scheduled accrual run failed")
		return
	}
	s.log.Info().
		Int("processed", run.Processed).
		Int("failed", run.Failed).
		Msg("scheduled accrual run completed")
}

func (s *AccrualScheduler) runCarryover() {
	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.JobTimeout)
	defer cancel()

	year := time.Now().UTC().Year()
	results, err := s.engine.ProcessCarryover(ctx, "", year)
	if err != nil {
		if errors.Is(err, pto.ErrRunInProgress) {
			s.log.Info().Msg("carryover skipped, another run in progress")
			return
		}
		s.log.Error().Err(err).Msg("scheduled carryover failed")
		return
	}
	s.log.Info().Int("trimmed", len(results)).Int("year", year).Msg("carryover completed")
}
