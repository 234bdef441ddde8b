// Package scheduling triggers jobs on fixed intervals or after a delay.
package scheduling

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Job is triggered by the scheduler in its own goroutine.
type Job func(ctx context.Context)

// Scheduler runs interval and one-shot jobs until their context is cancelled.
// A slow job never delays the next tick.
type Scheduler struct {
	wg     sync.WaitGroup
	logger zerolog.Logger
}

func New(logger zerolog.Logger) *Scheduler {
	return &Scheduler{logger: logger.With().Str("component", "scheduler").Logger()}
}

// Every triggers job each interval until ctx is done.
func (s *Scheduler) Every(ctx context.Context, name string, interval time.Duration, job Job) {
	if interval <= 0 {
		s.logger.Warn().Str("job", name).Dur("interval", interval).Msg("non-positive interval, job not scheduled")
		return
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		s.logger.Info().Str("job", name).Dur("interval", interval).Msg("recurring job scheduled")
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.fire(ctx, name, job)
			}
		}
	}()
}

// After triggers job once after delay unless ctx is done first.
func (s *Scheduler) After(ctx context.Context, name string, delay time.Duration, job Job) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		timer := time.NewTimer(delay)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			s.logger.Debug().Str("job", name).Msg("one-shot job cancelled")
		case <-timer.C:
			s.fire(ctx, name, job)
		}
	}()
}

func (s *Scheduler) fire(ctx context.Context, name string, job Job) {
	s.logger.Debug().Str("job", name).Msg("job triggered")
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer func() {
			if r := recover(); r != nil {
				s.logger.Error().Str("job", name).Interface("panic", r).Msg("job panicked")
			}
		}()
		job(ctx)
	}()
}

// Wait blocks until every timer loop and triggered job has returned.
func (s *Scheduler) Wait() {
	s.wg.Wait()
}
