package termsync

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

// =========== Sync Handler Tests ===========

func TestHandler_TriggerSync(t *testing.T) {
	repo := newSyncRepo(t)
	auth := feverAuthority()
	auth.block = make(chan struct{})
	s := newTestSynchronizer(repo, auth, nil)
	h := NewHandler(s, repo, nil)
	e := echo.New()

	req := httptest.NewRequest(http.MethodPost, "/api/v1/terminology/sync", nil)
	rec := httptest.NewRecorder()
	if err := h.TriggerSync(e.NewContext(req, rec)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusAccepted {
		t.Errorf("expected 202, got %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	if err := h.TriggerSync(e.NewContext(req, rec)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusConflict {
		t.Errorf("expected 409 while running, got %d", rec.Code)
	}
	var body map[string]interface{}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body["result"] != string(Skipped) {
		t.Errorf("unexpected body: %v", body)
	}

	close(auth.block)
	s.Wait()
}

func TestHandler_TriggerSync_Disabled(t *testing.T) {
	repo := newSyncRepo(t)
	h := NewHandler(New(repo, nil, nil, Config{}, zerolog.Nop()), repo, nil)
	e := echo.New()

	req := httptest.NewRequest(http.MethodPost, "/api/v1/terminology/sync", nil)
	err := h.TriggerSync(e.NewContext(req, httptest.NewRecorder()))
	var he *echo.HTTPError
	if !errors.As(err, &he) || he.Code != http.StatusServiceUnavailable {
		t.Errorf("expected 503, got %v", err)
	}
}

func TestHandler_Status(t *testing.T) {
	repo := newSyncRepo(t)
	s := newTestSynchronizer(repo, feverAuthority(), nil)
	if _, err := s.RunOnce(context.Background()); err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	sup := supervisor.New(zerolog.Nop())
	sup.Go(context.Background(), "bulk-load", func(context.Context) error { return nil })
	sup.Wait()

	h := NewHandler(s, repo, sup)
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/api/v1/terminology/status", nil)
	rec := httptest.NewRecorder()
	if err := h.Status(e.NewContext(req, rec)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var body StatusResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !body.SyncEnabled || body.Sync.Status != StatusIdle || body.Sync.SourceVersion != "2024-01" {
		t.Errorf("unexpected sync section: %+v", body.Sync)
	}
	if body.Repository.Entries["ICD11_TM2"] != 1 || body.Repository.Entries["NAMASTE"] != 2 {
		t.Errorf("unexpected repository stats: %+v", body.Repository)
	}
	if len(body.Tasks) != 1 || body.Tasks[0].Status != supervisor.StatusSucceeded {
		t.Errorf("unexpected tasks: %+v", body.Tasks)
	}
}

func TestHandler_RegisterRoutes(t *testing.T) {
	repo := newSyncRepo(t)
	h := NewHandler(newTestSynchronizer(repo, nil, nil), repo, nil)
	e := echo.New()
	h.RegisterRoutes(e.Group("/api/v1"))

	want := map[string]bool{
		"POST /api/v1/terminology/sync":  false,
		"GET /api/v1/terminology/status": false,
	}
	for _, r := range e.Routes() {
		key := r.Method + " " + r.Path
		if _, ok := want[key]; ok {
			want[key] = true
		}
	}
	for k, found := range want {
		if !found {
			t.Errorf("route %s not registered", k)
		}
	}
}
