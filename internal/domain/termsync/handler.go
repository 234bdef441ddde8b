package termsync

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/vimalrajaj/MediSyncv/internal/domain/terminology"
	"github.com/vimalrajaj/MediSyncv/internal/platform/supervisor"
)

// TaskLister exposes startup task outcomes.
type TaskLister interface {
	Tasks() []supervisor.Task
}

// Handler provides the sync trigger and status endpoints.
type Handler struct {
	sync  *Synchronizer
	repo  *terminology.Repository
	tasks TaskLister
}

func NewHandler(s *Synchronizer, repo *terminology.Repository, tasks TaskLister) *Handler {
	return &Handler{sync: s, repo: repo, tasks: tasks}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	g := api.Group("/terminology")
	g.POST("/sync", h.TriggerSync)
	g.GET("/status", h.Status)
}

// TriggerSync handles POST /api/v1/terminology/sync.
func (h *Handler) TriggerSync(c echo.Context) error {
	res, err := h.sync.TriggerSync(c.Request().Context())
	if err != nil {
		if errors.Is(err, ErrDisabled) {
			return echo.NewHTTPError(http.StatusServiceUnavailable, err.Error())
		}
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	status := http.StatusAccepted
	if res == Skipped {
		status = http.StatusConflict
	}
	return c.JSON(status, map[string]interface{}{
		"result": res,
		"state":  h.sync.State(),
	})
}

// StatusResponse is the body of GET /terminology/status.
type StatusResponse struct {
	Repository  terminology.Stats `json:"repository"`
	Sync        State             `json:"sync"`
	SyncEnabled bool              `json:"syncEnabled"`
	Tasks       []supervisor.Task `json:"tasks,omitempty"`
}

// Status handles GET /api/v1/terminology/status.
func (h *Handler) Status(c echo.Context) error {
	resp := StatusResponse{
		Repository:  h.repo.Stats(),
		Sync:        h.sync.State(),
		SyncEnabled: h.sync.Enabled(),
	}
	if h.tasks != nil {
		resp.Tasks = h.tasks.Tasks()
	}
	return c.JSON(http.StatusOK, resp)
}
