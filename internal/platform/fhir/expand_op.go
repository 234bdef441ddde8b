package fhir

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
)

// ValueSetExpander expands an implicit value set.
type ValueSetExpander interface {
	ExpandValueSet(ctx context.Context, req ExpandRequest) (*ExpandedValueSet, error)
}

// ExpandRequest selects the value set and narrows its expansion. An empty URL
// means every served code system.
type ExpandRequest struct {
	URL    string
	Filter string
	Count  int
}

// ExpandedValueSet represents the result of a $expand operation.
type ExpandedValueSet struct {
	URL        string
	Name       string
	Title      string
	Status     string
	Identifier string
	Timestamp  time.Time
	Total      int
	Contains   []ValueSetContains
}

// ValueSetContains represents a concept within an expanded ValueSet.
type ValueSetContains struct {
	System  string `json:"system,omitempty"`
	Code    string `json:"code,omitempty"`
	Display string `json:"display,omitempty"`
}

// ExpandHandler handles ValueSet $expand requests.
type ExpandHandler struct {
	expander ValueSetExpander
}

func NewExpandHandler(expander ValueSetExpander) *ExpandHandler {
	return &ExpandHandler{expander: expander}
}

// RegisterRoutes registers the $expand endpoints.
func (h *ExpandHandler) RegisterRoutes(fhirGroup *echo.Group, capabilities *CapabilityBuilder) {
	fhirGroup.GET("/ValueSet/$expand", h.Expand)
	fhirGroup.POST("/ValueSet/$expand", h.Expand)
	fhirGroup.GET("/ValueSet/:id/$expand", h.ExpandByID)
	fhirGroup.POST("/ValueSet/:id/$expand", h.ExpandByID)
	if capabilities != nil {
		capabilities.AddResource("ValueSet", nil, OperationCapability{
			Name:       "expand",
			Definition: ExpandOperationDefinition,
		})
	}
}

// Expand handles GET/POST /fhir/ValueSet/$expand.
func (h *ExpandHandler) Expand(c echo.Context) error {
	req, err := expandParams(c)
	if err != nil {
		status, outcome := OutcomeForError(err)
		return c.JSON(status, outcome)
	}
	return h.doExpand(c, req)
}

// ExpandByID handles GET/POST /fhir/ValueSet/:id/$expand.
func (h *ExpandHandler) ExpandByID(c echo.Context) error {
	req, err := expandParams(c)
	if err != nil {
		status, outcome := OutcomeForError(err)
		return c.JSON(status, outcome)
	}
	req.URL = c.Param("id")
	return h.doExpand(c, req)
}

func expandParams(c echo.Context) (ExpandRequest, error) {
	req := ExpandRequest{
		URL:    c.QueryParam("url"),
		Filter: c.QueryParam("filter"),
		Count:  intParam(c.QueryParam("count"), 0),
	}
	if c.Request().Method == http.MethodPost {
		params, err := ReadParameters(c.Request().Body)
		if err != nil {
			return req, err
		}
		if v := params.Value("url"); v != "" {
			req.URL = v
		}
		if v := params.Value("filter"); v != "" {
			req.Filter = v
		}
		if v := params.Value("count"); v != "" {
			req.Count = intParam(v, req.Count)
		}
	}
	return req, nil
}

func (h *ExpandHandler) doExpand(c echo.Context, req ExpandRequest) error {
	expanded, err := h.expander.ExpandValueSet(c.Request().Context(), req)
	if err != nil {
		status, outcome := OutcomeForError(err)
		return c.JSON(status, outcome)
	}
	return c.JSON(http.StatusOK, valueSetResource(expanded))
}

func valueSetResource(vs *ExpandedValueSet) map[string]interface{} {
	result := map[string]interface{}{
		"resourceType": "ValueSet",
		"status":       vs.Status,
	}
	if vs.URL != "" {
		result["url"] = vs.URL
	}
	if vs.Name != "" {
		result["name"] = vs.Name
	}
	if vs.Title != "" {
		result["title"] = vs.Title
	}

	expansion := map[string]interface{}{
		"identifier": vs.Identifier,
		"timestamp":  vs.Timestamp.UTC().Format(time.RFC3339),
		"total":      vs.Total,
		"offset":     0,
	}
	if len(vs.Contains) > 0 {
		expansion["contains"] = vs.Contains
	}
	result["expansion"] = expansion
	return result
}

func intParam(v string, defaultValue int) int {
	if v == "" {
		return defaultValue
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return defaultValue
	}
	return n
}
