package supervisor

import (
	"context"
	"errors"
	"testing"

	"github.com/rs/zerolog"
)

func TestSupervisor_Success(t *testing.T) {
	s := New(zerolog.Nop())
	s.Go(context.Background(), "bulk-load", func(context.Context) error { return nil })
	s.Wait()

	if !s.Ready("bulk-load") {
		t.Error("expected ready after success")
	}
	tasks := s.Tasks()
	if len(tasks) != 1 || tasks[0].Status != StatusSucceeded || tasks[0].StartedAt == nil {
		t.Errorf("unexpected tasks: %+v", tasks)
	}
}

func TestSupervisor_Failure(t *testing.T) {
	s := New(zerolog.Nop())
	s.Go(context.Background(), "bulk-load", func(context.Context) error { return errors.New("file missing") })
	s.Wait()

	if s.Ready("bulk-load") {
		t.Error("failed task must not be ready")
	}
	if got := s.Tasks()[0]; got.Status != StatusFailed || got.Error != "file missing" {
		t.Errorf("unexpected task: %+v", got)
	}
}

func TestSupervisor_PanicRecorded(t *testing.T) {
	s := New(zerolog.Nop())
	s.Go(context.Background(), "boom", func(context.Context) error { panic("bad row") })
	s.Wait()
	if got := s.Tasks()[0]; got.Status != StatusFailed || got.Error != "panic: bad row" {
		t.Errorf("unexpected task: %+v", got)
	}
}

func TestSupervisor_ReadyWhileRunning(t *testing.T) {
	s := New(zerolog.Nop())
	release := make(chan struct{})
	s.Go(context.Background(), "bulk-load", func(context.Context) error {
		<-release
		return nil
	})
	if s.Ready("bulk-load") {
		t.Error("running task must not be ready")
	}
	close(release)
	s.Wait()
	if !s.Ready("bulk-load") {
		t.Error("expected ready")
	}
}

func TestSupervisor_RegisterAndUnknown(t *testing.T) {
	s := New(zerolog.Nop())
	s.Register("initial-sync", "bulk-load")
	if s.Ready("bulk-load") || s.Ready("never-registered") {
		t.Error("pending and unknown tasks must not be ready")
	}
	tasks := s.Tasks()
	if len(tasks) != 2 || tasks[0].Name != "bulk-load" || tasks[0].Status != StatusPending {
		t.Errorf("unexpected tasks: %+v", tasks)
	}
	if !s.Ready() {
		t.Error("no names means ready")
	}
}
