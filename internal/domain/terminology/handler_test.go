package terminology

import (
	"bytes"
	"encoding/json"
	"errors"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"
)

func newTestHandler(t *testing.T) (*Handler, *echo.Echo) {
	t.Helper()
	h := NewHandler(newTestService(t))
	e := echo.New()
	return h, e
}

func httpStatus(t *testing.T, err error) int {
	t.Helper()
	var he *echo.HTTPError
	if !errors.As(err, &he) {
		t.Fatalf("expected *echo.HTTPError, got %v", err)
	}
	return he.Code
}

// =========== Search Handler Tests ===========

func TestHandler_Search_Success(t *testing.T) {
	h, e := newTestHandler(t)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/terminology/search?query=vata&system=ALL&limit=10", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	if err := h.Search(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", rec.Code)
	}

	var body struct {
		Results []map[string]interface{} `json:"results"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(body.Results) == 0 {
		t.Fatal("expected results")
	}
	r := body.Results[0]
	if r["code"] != "NAM001" || r["confidence"] != float64(92) {
		t.Errorf("unexpected first result: %v", r)
	}
	icd, ok := r["icd11Mapping"].(map[string]interface{})
	if !ok || icd["code"] != "TM26.0" {
		t.Errorf("unexpected icd11Mapping: %v", r["icd11Mapping"])
	}
	bio, ok := r["biomedicalMapping"].(map[string]interface{})
	if !ok || bio["code"] != "XM123" {
		t.Errorf("unexpected biomedicalMapping: %v", r["biomedicalMapping"])
	}
}

func TestHandler_Search_OmitsAbsentEnrichment(t *testing.T) {
	h, e := newTestHandler(t)
	req := httptest.NewRequest(http.MethodGet, "/api/v1/terminology/search?q=kapha", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	if err := h.Search(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var body struct {
		Results []map[string]interface{} `json:"results"`
	}
	json.Unmarshal(rec.Body.Bytes(), &body)
	if len(body.Results) != 1 {
		t.Fatalf("expected 1 result, got %d", len(body.Results))
	}
	if _, present := body.Results[0]["icd11Mapping"]; present {
		t.Error("icd11Mapping should be omitted when absent")
	}
}

func TestHandler_Search_ShortQuery(t *testing.T) {
	h, e := newTestHandler(t)
	req := httptest.NewRequest(http.MethodGet, "/api/v1/terminology/search?query=v", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	if code := httpStatus(t, h.Search(c)); code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", code)
	}
}

func TestHandler_Search_UnsupportedSystem(t *testing.T) {
	h, e := newTestHandler(t)
	req := httptest.NewRequest(http.MethodGet, "/api/v1/terminology/search?query=vata&system=SNOMED", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	if code := httpStatus(t, h.Search(c)); code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", code)
	}
}

// =========== Mappings Handler Tests ===========

func TestHandler_Mappings_Success(t *testing.T) {
	h, e := newTestHandler(t)
	req := httptest.NewRequest(http.MethodGet, "/api/v1/terminology/mappings?code=NAM001", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	if err := h.Mappings(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var view MappingView
	if err := json.Unmarshal(rec.Body.Bytes(), &view); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if view.Entry.Code != "NAM001" || len(view.Mappings) != 2 {
		t.Fatalf("unexpected view: %+v", view)
	}
	if view.Mappings[0].Confidence != 92 || view.Mappings[0].Display == "" {
		t.Errorf("unexpected mapping view: %+v", view.Mappings[0])
	}
}

func TestHandler_Mappings_MissingCode(t *testing.T) {
	h, e := newTestHandler(t)
	req := httptest.NewRequest(http.MethodGet, "/api/v1/terminology/mappings", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	if code := httpStatus(t, h.Mappings(c)); code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", code)
	}
}

func TestHandler_Mappings_NotFound(t *testing.T) {
	h, e := newTestHandler(t)
	req := httptest.NewRequest(http.MethodGet, "/api/v1/terminology/mappings?system=NAMASTE&code=ZZZ", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	if code := httpStatus(t, h.Mappings(c)); code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", code)
	}
}

// =========== Reload Handler Tests ===========

func TestHandler_Reload_Success(t *testing.T) {
	h, e := newTestHandler(t)
	req := httptest.NewRequest(http.MethodPost, "/api/v1/terminology/reload", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	if err := h.Reload(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var body map[string]interface{}
	json.Unmarshal(rec.Body.Bytes(), &body)
	if body["indexed"] != float64(4) {
		t.Errorf("indexed = %v, want 4", body["indexed"])
	}
}

func TestHandler_Reload_NoSource(t *testing.T) {
	repo := newTestRepo(t)
	h := NewHandler(NewService(repo, NewEngine(repo, DefaultWeighting()), nil, zerolog.Nop()))
	e := echo.New()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/terminology/reload", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	if code := httpStatus(t, h.Reload(c)); code != http.StatusConflict {
		t.Errorf("expected 409, got %d", code)
	}
}

func TestHandler_RegisterRoutes(t *testing.T) {
	h, e := newTestHandler(t)
	h.RegisterRoutes(e.Group("/api/v1"))

	want := map[string]bool{
		"GET /api/v1/terminology/search":    false,
		"GET /api/v1/terminology/mappings":  false,
		"POST /api/v1/terminology/reload":   false,
		"POST /api/v1/terminology/validate": false,
		"POST /api/v1/terminology/upload":   false,
		"GET /api/v1/translation":           false,
	}
	for _, r := range e.Routes() {
		key := r.Method + " " + r.Path
		if _, ok := want[key]; ok {
			want[key] = true
		}
	}
	for route, found := range want {
		if !found {
			t.Errorf("route %s not registered", route)
		}
	}
}

// =========== Validate Handler Tests ===========

func TestHandler_Validate(t *testing.T) {
	h, e := newTestHandler(t)
	body := `{"codes":[
		{"system":"NAMASTE","code":"NAM001"},
		{"system":"http://id.who.int/icd/release/11/tm2","code":"TM26.0"},
		{"system":"NAMASTE","code":"ZZZ"},
		{"system":"SNOMED","code":"123"}
	]}`
	req := httptest.NewRequest(http.MethodPost, "/api/v1/terminology/validate", strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	if err := h.Validate(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var report ValidationReport
	if err := json.Unmarshal(rec.Body.Bytes(), &report); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if report.Valid || len(report.Results) != 4 {
		t.Fatalf("unexpected report: %+v", report)
	}
	wantValid := []bool{true, true, false, false}
	for i, want := range wantValid {
		if report.Results[i].Valid != want {
			t.Errorf("result %d valid = %v, want %v (%+v)", i, report.Results[i].Valid, want, report.Results[i])
		}
	}
	if report.Results[0].Display != "Vata Dosha Imbalance" {
		t.Errorf("unexpected display: %q", report.Results[0].Display)
	}
	if report.Results[1].System != string(SystemTM2) {
		t.Errorf("expected canonical system name, got %q", report.Results[1].System)
	}
}

func TestHandler_Validate_Empty(t *testing.T) {
	h, e := newTestHandler(t)
	req := httptest.NewRequest(http.MethodPost, "/api/v1/terminology/validate", strings.NewReader(`{"codes":[]}`))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	c := e.NewContext(req, httptest.NewRecorder())

	if code := httpStatus(t, h.Validate(c)); code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", code)
	}
}

// =========== Upload Handler Tests ===========

func uploadRequest(t *testing.T, filename, content string) *http.Request {
	t.Helper()
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	part, err := w.CreateFormFile("file", filename)
	if err != nil {
		t.Fatalf("CreateFormFile: %v", err)
	}
	if _, err := part.Write([]byte(content)); err != nil {
		t.Fatalf("write part: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("close writer: %v", err)
	}
	req := httptest.NewRequest(http.MethodPost, "/api/v1/terminology/upload", &buf)
	req.Header.Set(echo.HeaderContentType, w.FormDataContentType())
	return req
}

func TestHandler_Upload_CSV(t *testing.T) {
	h, e := newTestHandler(t)
	rec := httptest.NewRecorder()
	c := e.NewContext(uploadRequest(t, "mappings.csv", sampleCSV), rec)

	if err := h.Upload(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var body struct {
		Indexed int `json:"indexed"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Indexed != 2 {
		t.Errorf("indexed = %d, want 2", body.Indexed)
	}
	repo := h.svc.Repository()
	if _, err := repo.LookupByCode(SystemNamaste, "NAM004"); !errors.Is(err, ErrNotFound) {
		t.Error("upload must replace the previous content")
	}
	e1, err := repo.LookupByCode(SystemNamaste, "NAM001")
	if err != nil || len(e1.Synonyms) != 2 {
		t.Errorf("expected uploaded NAM001 with 2 synonyms, got %+v (%v)", e1, err)
	}
}

func TestHandler_Upload_Rejected(t *testing.T) {
	tests := []struct {
		name string
		req  func(t *testing.T) *http.Request
		want int
	}{
		{"unsupported extension", func(t *testing.T) *http.Request { return uploadRequest(t, "mappings.txt", sampleCSV) }, http.StatusBadRequest},
		{"bad header", func(t *testing.T) *http.Request { return uploadRequest(t, "mappings.csv", "code,display\nA,B\n") }, http.StatusUnprocessableEntity},
		{"missing file", func(t *testing.T) *http.Request {
			return httptest.NewRequest(http.MethodPost, "/api/v1/terminology/upload", nil)
		}, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h, e := newTestHandler(t)
			before := h.svc.Repository().Snapshot()
			c := e.NewContext(tt.req(t), httptest.NewRecorder())
			if code := httpStatus(t, h.Upload(c)); code != tt.want {
				t.Errorf("expected %d, got %d", tt.want, code)
			}
			if h.svc.Repository().Snapshot() != before {
				t.Error("rejected upload must not publish")
			}
		})
	}
}

// =========== Translation Handler Tests ===========

func TestHandler_Translate(t *testing.T) {
	h, e := newTestHandler(t)
	req := httptest.NewRequest(http.MethodGet, "/api/v1/translation?code=NAM001&target=ICD11_TM2", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	if err := h.Translate(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var body TranslationResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.System != SystemNamaste || len(body.Translations) != 1 {
		t.Fatalf("unexpected body: %+v", body)
	}
	tr := body.Translations[0]
	if tr.Code != "TM26.0" || tr.Equivalence != "equivalent" || tr.Confidence != 92 {
		t.Errorf("unexpected translation: %+v", tr)
	}
}

func TestHandler_Translate_Errors(t *testing.T) {
	tests := []struct {
		name  string
		query string
		want  int
	}{
		{"missing code", "", http.StatusBadRequest},
		{"unknown code", "code=ZZZ", http.StatusNotFound},
		{"unsupported target", "code=NAM001&target=LOINC", http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h, e := newTestHandler(t)
			req := httptest.NewRequest(http.MethodGet, "/api/v1/translation?"+tt.query, nil)
			c := e.NewContext(req, httptest.NewRecorder())
			if code := httpStatus(t, h.Translate(c)); code != tt.want {
				t.Errorf("expected %d, got %d", tt.want, code)
			}
		})
	}
}
