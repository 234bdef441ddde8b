package fhir

import (
	"context"
	"net/http"

	"github.com/labstack/echo/v4"
)

// CodeSystemProvider looks up codes and describes the code systems it serves.
type CodeSystemProvider interface {
	LookupCode(ctx context.Context, system, code string) (*LookupResult, error)
	CodeSystems(ctx context.Context) []CodeSystemSummary
}

// LookupResult represents the result of a CodeSystem $lookup operation.
type LookupResult struct {
	Name        string
	System      string
	Version     string
	Display     string
	Definition  string
	Designation []LookupDesignation
	Property    []LookupProperty
}

// LookupDesignation represents an alternative display for a code.
type LookupDesignation struct {
	Language string
	Use      *Coding
	Value    string
}

// LookupProperty represents a property of a code.
type LookupProperty struct {
	Code  string
	Value string
}

// CodeSystemSummary describes one served code system.
type CodeSystemSummary struct {
	ID      string
	URL     string
	Name    string
	Title   string
	Version string
	Count   int
}

// CodeSystemResource is the summary form of a FHIR CodeSystem.
type CodeSystemResource struct {
	ResourceType string `json:"resourceType"`
	ID           string `json:"id"`
	URL          string `json:"url"`
	Version      string `json:"version,omitempty"`
	Name         string `json:"name"`
	Title        string `json:"title,omitempty"`
	Status       string `json:"status"`
	Content      string `json:"content"`
	Count        int    `json:"count"`
}

func (r *CodeSystemResource) FHIRType() string { return "CodeSystem" }
func (r *CodeSystemResource) FHIRID() string   { return r.ID }

// LookupHandler handles CodeSystem search and $lookup requests.
type LookupHandler struct {
	provider CodeSystemProvider
}

func NewLookupHandler(provider CodeSystemProvider) *LookupHandler {
	return &LookupHandler{provider: provider}
}

// RegisterRoutes registers the CodeSystem endpoints and advertises them.
func (h *LookupHandler) RegisterRoutes(fhirGroup *echo.Group, capabilities *CapabilityBuilder) {
	fhirGroup.GET("/CodeSystem", h.List)
	fhirGroup.GET("/CodeSystem/$lookup", h.Lookup)
	fhirGroup.POST("/CodeSystem/$lookup", h.Lookup)
	fhirGroup.GET("/CodeSystem/:id/$lookup", h.LookupByID)
	fhirGroup.POST("/CodeSystem/:id/$lookup", h.LookupByID)
	if capabilities != nil {
		capabilities.AddResource("CodeSystem", []string{"search-type"}, OperationCapability{
			Name:       "lookup",
			Definition: LookupOperationDefinition,
		})
	}
}

// List handles GET /fhir/CodeSystem.
func (h *LookupHandler) List(c echo.Context) error {
	summaries := h.provider.CodeSystems(c.Request().Context())
	resources := make([]interface{}, 0, len(summaries))
	for _, s := range summaries {
		resources = append(resources, &CodeSystemResource{
			ResourceType: "CodeSystem",
			ID:           s.ID,
			URL:          s.URL,
			Version:      s.Version,
			Name:         s.Name,
			Title:        s.Title,
			Status:       "active",
			Content:      "not-present",
			Count:        s.Count,
		})
	}
	bundle, err := NewSearchBundle(resources, c.Request().URL.String())
	if err != nil {
		return c.JSON(http.StatusInternalServerError, ErrorOutcome(err.Error()))
	}
	return c.JSON(http.StatusOK, bundle)
}

// Lookup handles GET/POST /fhir/CodeSystem/$lookup.
func (h *LookupHandler) Lookup(c echo.Context) error {
	system, code, err := lookupParams(c)
	if err != nil {
		status, outcome := OutcomeForError(err)
		return c.JSON(status, outcome)
	}
	if system == "" {
		return c.JSON(http.StatusBadRequest, RequiredFieldOutcome("system"))
	}
	return h.doLookup(c, system, code)
}

// LookupByID handles GET/POST /fhir/CodeSystem/:id/$lookup.
func (h *LookupHandler) LookupByID(c echo.Context) error {
	_, code, err := lookupParams(c)
	if err != nil {
		status, outcome := OutcomeForError(err)
		return c.JSON(status, outcome)
	}
	return h.doLookup(c, c.Param("id"), code)
}

func lookupParams(c echo.Context) (system, code string, err error) {
	system = c.QueryParam("system")
	code = c.QueryParam("code")
	if c.Request().Method == http.MethodPost {
		params, err := ReadParameters(c.Request().Body)
		if err != nil {
			return "", "", err
		}
		if v := params.Value("system"); v != "" {
			system = v
		}
		if v := params.Value("code"); v != "" {
			code = v
		}
		if coding := params.Coding("coding"); coding != nil {
			system, code = coding.System, coding.Code
		}
	}
	return system, code, nil
}

func (h *LookupHandler) doLookup(c echo.Context, system, code string) error {
	if code == "" {
		return c.JSON(http.StatusBadRequest, RequiredFieldOutcome("code"))
	}
	result, err := h.provider.LookupCode(c.Request().Context(), system, code)
	if err != nil {
		status, outcome := OutcomeForError(err)
		return c.JSON(status, outcome)
	}
	return c.JSON(http.StatusOK, lookupParameters(result))
}

func lookupParameters(r *LookupResult) *Parameters {
	p := NewParameters()
	if r.Name != "" {
		p.Add(StringParam("name", r.Name))
	}
	if r.System != "" {
		p.Add(Parameter{Name: "system", ValueURI: r.System})
	}
	if r.Version != "" {
		p.Add(StringParam("version", r.Version))
	}
	p.Add(StringParam("display", r.Display))
	if r.Definition != "" {
		p.Add(StringParam("definition", r.Definition))
	}
	for _, d := range r.Designation {
		var parts []Parameter
		if d.Language != "" {
			parts = append(parts, CodeParam("language", d.Language))
		}
		if d.Use != nil {
			parts = append(parts, CodingParam("use", *d.Use))
		}
		parts = append(parts, StringParam("value", d.Value))
		p.Add(Parameter{Name: "designation", Part: parts})
	}
	for _, prop := range r.Property {
		p.Add(Parameter{Name: "property", Part: []Parameter{
			CodeParam("code", prop.Code),
			StringParam("value", prop.Value),
		}})
	}
	return p
}
