package terminology

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/vimalrajaj/MediSyncv/pkg/pagination"
)

// Handler provides REST endpoints for terminology search and mappings.
type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

// RegisterRoutes registers terminology routes on the API group.
func (h *Handler) RegisterRoutes(api *echo.Group) {
	g := api.Group("/terminology")
	g.GET("/search", h.Search)
	g.GET("/mappings", h.Mappings)
	g.POST("/reload", h.Reload)
	g.POST("/validate", h.Validate)
	g.POST("/upload", h.Upload)
	api.GET("/translation", h.Translate)
}

// SearchResponse is the body of GET /terminology/search.
type SearchResponse struct {
	Results []RankedResult `json:"results"`
}

// Search handles GET /api/v1/terminology/search?query=&system=&limit=
func (h *Handler) Search(c echo.Context) error {
	query := c.QueryParam("query")
	if query == "" {
		query = c.QueryParam("q")
	}
	results, err := h.svc.Search(c.Request().Context(), Query{
		Text:   query,
		System: c.QueryParam("system"),
		Limit:  pagination.Limit(c, DefaultLimit, MaxLimit),
	})
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, SearchResponse{Results: results})
}

// Mappings handles GET /api/v1/terminology/mappings?system=&code=
func (h *Handler) Mappings(c echo.Context) error {
	system := c.QueryParam("system")
	if system == "" {
		system = string(SystemNamaste)
	}
	code := c.QueryParam("code")
	if code == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "query parameter 'code' is required")
	}
	view, err := h.svc.Mappings(system, code)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, view)
}

// Reload handles POST /api/v1/terminology/reload.
func (h *Handler) Reload(c echo.Context) error {
	n, err := h.svc.Reload(c.Request().Context())
	if err != nil {
		if errors.Is(err, ErrNoSource) {
			return echo.NewHTTPError(http.StatusConflict, err.Error())
		}
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"indexed": n,
		"stats":   h.svc.Repository().Stats(),
	})
}

// ValidateRequest is the body of POST /terminology/validate.
type ValidateRequest struct {
	Codes []CodeRef `json:"codes"`
}

// Validate handles POST /api/v1/terminology/validate.
func (h *Handler) Validate(c echo.Context) error {
	var req ValidateRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	report, err := h.svc.Validate(req.Codes)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, report)
}

// MaxUploadBytes caps the size of an uploaded mapping file.
const MaxUploadBytes = 32 << 20

// Upload handles POST /api/v1/terminology/upload with a multipart "file"
// field holding a .csv or .xlsx mapping file.
func (h *Handler) Upload(c echo.Context) error {
	fh, err := c.FormFile("file")
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "multipart field 'file' is required")
	}
	if fh.Size > MaxUploadBytes {
		return echo.NewHTTPError(http.StatusRequestEntityTooLarge, "upload exceeds 32MB")
	}
	f, err := fh.Open()
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "cannot read upload")
	}
	defer f.Close()

	n, err := h.svc.Import(c.Request().Context(), fh.Filename, f)
	if err != nil {
		if errors.Is(err, ErrInvalid) {
			return echo.NewHTTPError(http.StatusBadRequest, err.Error())
		}
		return echo.NewHTTPError(http.StatusUnprocessableEntity, err.Error())
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"indexed": n,
		"stats":   h.svc.Repository().Stats(),
	})
}

// TranslationResponse is the body of GET /translation.
type TranslationResponse struct {
	System       System            `json:"system"`
	Code         string            `json:"code"`
	Translations []TranslationView `json:"translations"`
}

// Translate handles GET /api/v1/translation?system=&code=&target=
func (h *Handler) Translate(c echo.Context) error {
	system := c.QueryParam("system")
	if system == "" {
		system = string(SystemNamaste)
	}
	code := c.QueryParam("code")
	if code == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "query parameter 'code' is required")
	}
	out, err := h.svc.Translate(system, code, c.QueryParam("target"))
	if err != nil {
		return httpError(err)
	}
	sys, _ := ParseSystem(system)
	return c.JSON(http.StatusOK, TranslationResponse{System: sys, Code: code, Translations: out})
}

func httpError(err error) error {
	switch {
	case errors.Is(err, ErrEmptyQuery), errors.Is(err, ErrUnsupportedSystem), errors.Is(err, ErrInvalid):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	case errors.Is(err, ErrNotFound):
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	}
	return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
}
