// Package supervisor runs named background tasks and records their outcome
// so readiness can be derived from them.
package supervisor

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
)

// Task is the recorded state of one supervised task.
type Task struct {
	Name      string        `json:"name"`
	Status    Status        `json:"status"`
	StartedAt *time.Time    `json:"startedAt,omitempty"`
	Duration  time.Duration `json:"durationNs,omitempty"`
	Error     string        `json:"error,omitempty"`
}

// Supervisor owns the goroutines it starts. Wait returns once all of them
// have finished.
type Supervisor struct {
	mu     sync.RWMutex
	tasks  map[string]*Task
	wg     sync.WaitGroup
	logger zerolog.Logger
}

func New(logger zerolog.Logger) *Supervisor {
	return &Supervisor{
		tasks:  make(map[string]*Task),
		logger: logger.With().Str("component", "supervisor").Logger(),
	}
}

// Register records a task as pending before it is started.
func (s *Supervisor) Register(names ...string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, name := range names {
		if _, ok := s.tasks[name]; !ok {
			s.tasks[name] = &Task{Name: name, Status: StatusPending}
		}
	}
}

// Go runs fn in a goroutine under name. A panic is recorded as a failure.
func (s *Supervisor) Go(ctx context.Context, name string, fn func(ctx context.Context) error) {
	start := time.Now()
	s.mu.Lock()
	s.tasks[name] = &Task{Name: name, Status: StatusRunning, StartedAt: &start}
	s.mu.Unlock()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		err := run(ctx, fn)
		s.finish(name, start, err)
	}()
}

func run(ctx context.Context, fn func(ctx context.Context) error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return fn(ctx)
}

func (s *Supervisor) finish(name string, start time.Time, err error) {
	d := time.Since(start)
	s.mu.Lock()
	t := s.tasks[name]
	t.Duration = d
	if err != nil {
		t.Status = StatusFailed
		t.Error = err.Error()
	} else {
		t.Status = StatusSucceeded
	}
	s.mu.Unlock()

	if err != nil {
		s.logger.Error().Err(err).Str("task", name).Dur("duration", d).Msg("startup task failed")
		return
	}
	s.logger.Info().Str("task", name).Dur("duration", d).Msg("startup task succeeded")
}

// Ready reports whether every named task has succeeded. A task that was
// never registered is not ready.
func (s *Supervisor) Ready(names ...string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, name := range names {
		t, ok := s.tasks[name]
		if !ok || t.Status != StatusSucceeded {
			return false
		}
	}
	return true
}

// Tasks returns a copy of all task records sorted by name.
func (s *Supervisor) Tasks() []Task {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Task, 0, len(s.tasks))
	for _, t := range s.tasks {
		out = append(out, *t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Wait blocks until every task started with Go has returned.
func (s *Supervisor) Wait() {
	s.wg.Wait()
}
