package diagnosis

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/vimalrajaj/MediSyncv/internal/platform/fhir"
	"github.com/vimalrajaj/MediSyncv/pkg/pagination"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	g := api.Group("/diagnosis-sessions")
	g.POST("", h.CreateSession)
	g.GET("", h.ListSessions)
	g.GET("/:id", h.GetSession)
}

// CreateSessionRequest is the body of POST /diagnosis-sessions.
type CreateSessionRequest struct {
	SessionMeta
	Entries []Entry `json:"entries"`
}

func (h *Handler) CreateSession(c echo.Context) error {
	var req CreateSessionRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, fhir.NewOperationOutcome(fhir.IssueSeverityError, fhir.IssueTypeStructure, "invalid request body"))
	}
	sess, err := h.svc.CreateSession(c.Request().Context(), req.SessionMeta, req.Entries)
	if err != nil {
		return errorOutcome(c, err)
	}
	return c.JSON(http.StatusCreated, sess)
}

func (h *Handler) GetSession(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return c.JSON(http.StatusBadRequest, fhir.NewOperationOutcome(fhir.IssueSeverityError, fhir.IssueTypeInvalid, "invalid session id"))
	}
	sess, err := h.svc.GetSession(c.Request().Context(), id)
	if err != nil {
		return errorOutcome(c, err)
	}
	return c.JSON(http.StatusOK, sess)
}

func (h *Handler) ListSessions(c echo.Context) error {
	p := pagination.FromContext(c)
	items, total, err := h.svc.ListSessions(c.Request().Context(), c.QueryParam("patient"), p.Limit, p.Offset)
	if err != nil {
		return errorOutcome(c, err)
	}
	if items == nil {
		items = []*Session{}
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, p))
}

func errorOutcome(c echo.Context, err error) error {
	var unresolved *UnresolvedCodeError
	switch {
	case errors.As(err, &unresolved):
		oo := fhir.NewOperationOutcome(fhir.IssueSeverityError, fhir.IssueTypeCodeInvalid, err.Error())
		oo.Issue[0].Details = &fhir.CodeableConcept{
			Coding: []fhir.Coding{{Code: unresolved.Code, Display: unresolved.System}},
			Text:   fmt.Sprintf("entry %d", unresolved.EntryIndex),
		}
		oo.Issue[0].Expression = []string{fmt.Sprintf("entries[%d]", unresolved.EntryIndex-1)}
		return c.JSON(http.StatusUnprocessableEntity, oo)
	case errors.Is(err, ErrInvalid):
		return c.JSON(http.StatusBadRequest, fhir.NewOperationOutcome(fhir.IssueSeverityError, fhir.IssueTypeInvalid, err.Error()))
	case errors.Is(err, ErrSessionNotFound):
		return c.JSON(http.StatusNotFound, fhir.NewOperationOutcome(fhir.IssueSeverityError, fhir.IssueTypeNotFound, err.Error()))
	}
	return c.JSON(http.StatusInternalServerError, fhir.ErrorOutcome(err.Error()))
}
