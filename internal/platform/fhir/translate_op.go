package fhir

import (
	"context"
	"net/http"

	"github.com/labstack/echo/v4"
)

// ConceptMapProvider translates codes between code systems and describes the
// concept maps it serves.
type ConceptMapProvider interface {
	Translate(ctx context.Context, req *TranslateRequest) (*TranslateResponse, error)
	ConceptMaps(ctx context.Context) []ConceptMapSummary
}

// TranslateRequest holds the parameters for a $translate call.
type TranslateRequest struct {
	Code         string
	System       string
	TargetSystem string
	ConceptMap   string // optional id or canonical url selecting a map
}

// TranslateResponse holds the result of a $translate call.
type TranslateResponse struct {
	Result  bool
	Message string
	Matches []TranslateMatch
}

// TranslateMatch represents one translation result.
type TranslateMatch struct {
	Equivalence string
	Code        string
	Display     string
	System      string
	Confidence  float64
	Source      string // canonical url of the ConceptMap that produced the match
}

// ConceptMapSummary describes one served concept map.
type ConceptMapSummary struct {
	ID        string
	URL       string
	Name      string
	Title     string
	SourceURI string
	TargetURI string
	Count     int
}

// ConceptMapResource is the summary form of a FHIR ConceptMap.
type ConceptMapResource struct {
	ResourceType string      `json:"resourceType"`
	ID           string      `json:"id"`
	URL          string      `json:"url"`
	Name         string      `json:"name"`
	Title        string      `json:"title,omitempty"`
	Status       string      `json:"status"`
	SourceURI    string      `json:"sourceUri"`
	TargetURI    string      `json:"targetUri"`
	Extension    []Extension `json:"extension,omitempty"`
}

func (r *ConceptMapResource) FHIRType() string { return "ConceptMap" }
func (r *ConceptMapResource) FHIRID() string   { return r.ID }

// ElementCountExtension carries the number of mapped source codes.
const ElementCountExtension = "http://namaste.ayush.gov.in/fhir/StructureDefinition/element-count"

// TranslateHandler provides the ConceptMap endpoints.
type TranslateHandler struct {
	provider ConceptMapProvider
}

func NewTranslateHandler(provider ConceptMapProvider) *TranslateHandler {
	return &TranslateHandler{provider: provider}
}

// RegisterRoutes adds ConceptMap routes to the given FHIR group.
func (h *TranslateHandler) RegisterRoutes(g *echo.Group, capabilities *CapabilityBuilder) {
	g.GET("/ConceptMap", h.ListConceptMaps)
	g.GET("/ConceptMap/$translate", h.Translate)
	g.POST("/ConceptMap/$translate", h.Translate)
	g.GET("/ConceptMap/:id/$translate", h.TranslateByMap)
	g.POST("/ConceptMap/:id/$translate", h.TranslateByMap)
	if capabilities != nil {
		capabilities.AddResource("ConceptMap", []string{"search-type"}, OperationCapability{
			Name:       "translate",
			Definition: TranslateOperationDefinition,
		})
	}
}

// ListConceptMaps handles GET /fhir/ConceptMap.
func (h *TranslateHandler) ListConceptMaps(c echo.Context) error {
	maps := h.provider.ConceptMaps(c.Request().Context())
	resources := make([]interface{}, 0, len(maps))
	for _, m := range maps {
		count := m.Count
		resources = append(resources, &ConceptMapResource{
			ResourceType: "ConceptMap",
			ID:           m.ID,
			URL:          m.URL,
			Name:         m.Name,
			Title:        m.Title,
			Status:       "active",
			SourceURI:    m.SourceURI,
			TargetURI:    m.TargetURI,
			Extension:    []Extension{{URL: ElementCountExtension, ValueInteger: &count}},
		})
	}
	bundle, err := NewSearchBundle(resources, c.Request().URL.String())
	if err != nil {
		return c.JSON(http.StatusInternalServerError, ErrorOutcome(err.Error()))
	}
	return c.JSON(http.StatusOK, bundle)
}

// Translate handles GET/POST /fhir/ConceptMap/$translate.
func (h *TranslateHandler) Translate(c echo.Context) error {
	req, err := translateParams(c)
	if err != nil {
		status, outcome := OutcomeForError(err)
		return c.JSON(status, outcome)
	}
	if req.TargetSystem == "" && req.ConceptMap == "" {
		return c.JSON(http.StatusBadRequest, RequiredFieldOutcome("targetsystem"))
	}
	return h.doTranslate(c, req)
}

// TranslateByMap handles GET/POST /fhir/ConceptMap/:id/$translate.
func (h *TranslateHandler) TranslateByMap(c echo.Context) error {
	req, err := translateParams(c)
	if err != nil {
		status, outcome := OutcomeForError(err)
		return c.JSON(status, outcome)
	}
	req.ConceptMap = c.Param("id")
	return h.doTranslate(c, req)
}

func translateParams(c echo.Context) (*TranslateRequest, error) {
	req := &TranslateRequest{
		Code:         c.QueryParam("code"),
		System:       c.QueryParam("system"),
		TargetSystem: c.QueryParam("targetsystem"),
		ConceptMap:   c.QueryParam("url"),
	}
	if c.Request().Method == http.MethodPost {
		params, err := ReadParameters(c.Request().Body)
		if err != nil {
			return nil, err
		}
		if v := params.Value("code"); v != "" {
			req.Code = v
		}
		if v := params.Value("system"); v != "" {
			req.System = v
		}
		if v := params.Value("targetsystem"); v != "" {
			req.TargetSystem = v
		}
		if v := params.Value("url"); v != "" {
			req.ConceptMap = v
		}
		if coding := params.Coding("coding"); coding != nil {
			req.System, req.Code = coding.System, coding.Code
		}
	}
	return req, nil
}

func (h *TranslateHandler) doTranslate(c echo.Context, req *TranslateRequest) error {
	if req.Code == "" {
		return c.JSON(http.StatusBadRequest, RequiredFieldOutcome("code"))
	}
	if req.System == "" {
		return c.JSON(http.StatusBadRequest, RequiredFieldOutcome("system"))
	}
	resp, err := h.provider.Translate(c.Request().Context(), req)
	if err != nil {
		status, outcome := OutcomeForError(err)
		return c.JSON(status, outcome)
	}
	return c.JSON(http.StatusOK, translateParameters(resp))
}

// translateParameters converts a TranslateResponse to a FHIR Parameters resource.
func translateParameters(resp *TranslateResponse) *Parameters {
	p := NewParameters()
	p.Add(BoolParam("result", resp.Result))
	if resp.Message != "" {
		p.Add(StringParam("message", resp.Message))
	}
	for _, m := range resp.Matches {
		parts := []Parameter{
			CodeParam("equivalence", m.Equivalence),
			CodingParam("concept", Coding{System: m.System, Code: m.Code, Display: m.Display}),
			DecimalParam("confidence", m.Confidence),
		}
		if m.Source != "" {
			parts = append(parts, Parameter{Name: "source", ValueURI: m.Source})
		}
		p.Add(Parameter{Name: "match", Part: parts})
	}
	return p
}
