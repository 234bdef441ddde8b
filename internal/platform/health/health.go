// Package health serves liveness and readiness endpoints.
package health

import (
	"context"
	"net/http"
	"sort"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/vimalrajaj/MediSyncv/internal/platform/supervisor"
)

// Pinger is a dependency that can be probed.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Tasks reports supervised task outcomes.
type Tasks interface {
	Ready(names ...string) bool
	Tasks() []supervisor.Task
}

type dependency struct {
	pinger   Pinger
	required bool
}

// Handler answers /health and /ready.
type Handler struct {
	version  string
	tasks    Tasks
	required []string
	deps     map[string]dependency
	timeout  time.Duration
}

// NewHandler creates a handler. The service is ready once every task in
// required has succeeded and every required dependency answers.
func NewHandler(version string, tasks Tasks, required ...string) *Handler {
	return &Handler{
		version:  version,
		tasks:    tasks,
		required: required,
		deps:     make(map[string]dependency),
		timeout:  2 * time.Second,
	}
}

// AddDependency registers a probe. Optional dependencies are reported but do
// not affect readiness.
func (h *Handler) AddDependency(name string, p Pinger, required bool) {
	h.deps[name] = dependency{pinger: p, required: required}
}

func (h *Handler) RegisterRoutes(e *echo.Echo) {
	e.GET("/health", h.Live)
	e.GET("/ready", h.Ready)
}

func (h *Handler) Live(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{
		"status":  "ok",
		"version": h.version,
	})
}

// ReadyResponse is the body of GET /ready.
type ReadyResponse struct {
	Status       string            `json:"status"`
	Tasks        []supervisor.Task `json:"tasks"`
	Dependencies map[string]string `json:"dependencies,omitempty"`
}

func (h *Handler) Ready(c echo.Context) error {
	ready := h.tasks.Ready(h.required...)
	resp := ReadyResponse{Tasks: h.tasks.Tasks()}

	if len(h.deps) > 0 {
		ctx, cancel := context.WithTimeout(c.Request().Context(), h.timeout)
		defer cancel()
		resp.Dependencies = make(map[string]string, len(h.deps))
		names := make([]string, 0, len(h.deps))
		for name := range h.deps {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			d := h.deps[name]
			if err := d.pinger.Ping(ctx); err != nil {
				resp.Dependencies[name] = err.Error()
				if d.required {
					ready = false
				}
				continue
			}
			resp.Dependencies[name] = "ok"
		}
	}

	if !ready {
		resp.Status = "not_ready"
		return c.JSON(http.StatusServiceUnavailable, resp)
	}
	resp.Status = "ready"
	return c.JSON(http.StatusOK, resp)
}
