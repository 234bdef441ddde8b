package health

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/vimalrajaj/MediSyncv/internal/platform/supervisor"
)

type pingFunc func(ctx context.Context) error

func (f pingFunc) Ping(ctx context.Context) error { return f(ctx) }

func getReady(t *testing.T, h *Handler) (int, ReadyResponse) {
	t.Helper()
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/ready", nil)
	rec := httptest.NewRecorder()
	if err := h.Ready(e.NewContext(req, rec)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var body ReadyResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	return rec.Code, body
}

func TestLive(t *testing.T) {
	h := NewHandler("1.2.3", supervisor.New(zerolog.Nop()))
	e := echo.New()
	rec := httptest.NewRecorder()
	if err := h.Live(e.NewContext(httptest.NewRequest(http.MethodGet, "/health", nil), rec)); err != nil {
		t.Fatal(err)
	}
	if rec.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", rec.Code)
	}
}

func TestReady_WaitsForRequiredTasks(t *testing.T) {
	sup := supervisor.New(zerolog.Nop())
	sup.Register("bulk-load")
	h := NewHandler("dev", sup, "bulk-load")

	if code, body := getReady(t, h); code != http.StatusServiceUnavailable || body.Status != "not_ready" {
		t.Errorf("expected 503 not_ready, got %d %s", code, body.Status)
	}

	sup.Go(context.Background(), "bulk-load", func(context.Context) error { return nil })
	sup.Wait()
	code, body := getReady(t, h)
	if code != http.StatusOK || body.Status != "ready" {
		t.Errorf("expected 200 ready, got %d %s", code, body.Status)
	}
	if len(body.Tasks) != 1 || body.Tasks[0].Name != "bulk-load" {
		t.Errorf("unexpected tasks: %+v", body.Tasks)
	}
}

func TestReady_FailedTask(t *testing.T) {
	sup := supervisor.New(zerolog.Nop())
	sup.Go(context.Background(), "bulk-load", func(context.Context) error { return errors.New("missing file") })
	sup.Wait()
	if code, _ := getReady(t, NewHandler("dev", sup, "bulk-load")); code != http.StatusServiceUnavailable {
		t.Errorf("expected 503, got %d", code)
	}
}

func TestReady_Dependencies(t *testing.T) {
	sup := supervisor.New(zerolog.Nop())
	down := pingFunc(func(context.Context) error { return errors.New("connection refused") })
	up := pingFunc(func(context.Context) error { return nil })

	h := NewHandler("dev", sup)
	h.AddDependency("redis", down, false)
	h.AddDependency("postgres", up, true)
	code, body := getReady(t, h)
	if code != http.StatusOK {
		t.Errorf("optional dependency must not block readiness, got %d", code)
	}
	if body.Dependencies["redis"] != "connection refused" || body.Dependencies["postgres"] != "ok" {
		t.Errorf("unexpected dependencies: %v", body.Dependencies)
	}

	h.AddDependency("postgres", down, true)
	if code, _ := getReady(t, h); code != http.StatusServiceUnavailable {
		t.Errorf("required dependency down should give 503, got %d", code)
	}
}
