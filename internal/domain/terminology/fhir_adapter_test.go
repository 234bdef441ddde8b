package terminology

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/vimalrajaj/MediSyncv/internal/platform/fhir"
)

func newTestAdapter(t *testing.T) *FHIRAdapter {
	t.Helper()
	ops, _ := newTestOperations(t)
	return NewFHIRAdapter(ops, "2024-01")
}

func TestFHIRAdapter_LookupCode(t *testing.T) {
	a := newTestAdapter(t)
	r, err := a.LookupCode(context.Background(), NamasteURI, "NAM001")
	if err != nil {
		t.Fatalf("LookupCode: %v", err)
	}
	if r.Display != "Vata Dosha Imbalance" || r.System != NamasteURI || r.Version != "" {
		t.Errorf("unexpected lookup: %+v", r)
	}
	if len(r.Designation) != 1 || r.Designation[0].Value != "Vata vikara" || r.Designation[0].Use == nil {
		t.Errorf("unexpected designations: %+v", r.Designation)
	}

	r, err = a.LookupCode(context.Background(), "ICD11_TM2", "TM26.0")
	if err != nil {
		t.Fatalf("LookupCode: %v", err)
	}
	if r.Version != "2024-01" {
		t.Errorf("expected ICD release version, got %q", r.Version)
	}
}

func TestFHIRAdapter_LookupErrorsClassified(t *testing.T) {
	a := newTestAdapter(t)
	_, err := a.LookupCode(context.Background(), "NAMASTE", "ZZZ")
	if !errors.Is(err, fhir.ErrNotFound) || !errors.Is(err, ErrNotFound) {
		t.Errorf("expected fhir.ErrNotFound wrapping ErrNotFound, got %v", err)
	}
	_, err = a.LookupCode(context.Background(), "http://loinc.org", "1234-5")
	if !errors.Is(err, fhir.ErrNotSupported) {
		t.Errorf("expected fhir.ErrNotSupported, got %v", err)
	}
}

func TestFHIRAdapter_CodeSystems(t *testing.T) {
	a := newTestAdapter(t)
	systems := a.CodeSystems(context.Background())
	if len(systems) != 3 {
		t.Fatalf("expected 3 code systems, got %d", len(systems))
	}
	want := map[string]int{"namaste": 4, "icd11-tm2": 3, "icd11-biomedical": 2}
	for _, s := range systems {
		if want[s.ID] != s.Count {
			t.Errorf("%s count = %d, want %d", s.ID, s.Count, want[s.ID])
		}
	}
}

func TestFHIRAdapter_Translate(t *testing.T) {
	a := newTestAdapter(t)
	resp, err := a.Translate(context.Background(), &fhir.TranslateRequest{
		Code: "NAM001", System: NamasteURI, TargetSystem: TM2URI,
	})
	if err != nil {
		t.Fatalf("Translate: %v", err)
	}
	if !resp.Result || len(resp.Matches) != 1 {
		t.Fatalf("unexpected response: %+v", resp)
	}
	m := resp.Matches[0]
	if m.Code != "TM26.0" || m.System != TM2URI || m.Equivalence != "equivalent" || m.Confidence != 0.92 {
		t.Errorf("unexpected match: %+v", m)
	}
	if m.Source != conceptMapBase+"namaste-to-icd11-tm2" {
		t.Errorf("unexpected source: %s", m.Source)
	}
}

func TestFHIRAdapter_TranslateByConceptMap(t *testing.T) {
	a := newTestAdapter(t)
	resp, err := a.Translate(context.Background(), &fhir.TranslateRequest{
		Code: "NAM001", System: "NAMASTE", ConceptMap: conceptMapBase + "namaste-to-icd11-biomedical",
	})
	if err != nil {
		t.Fatalf("Translate: %v", err)
	}
	if len(resp.Matches) != 1 || resp.Matches[0].Code != "XM123" {
		t.Errorf("unexpected matches: %+v", resp.Matches)
	}

	_, err = a.Translate(context.Background(), &fhir.TranslateRequest{Code: "NAM001", System: "NAMASTE", ConceptMap: "unknown-map"})
	if !errors.Is(err, fhir.ErrNotFound) {
		t.Errorf("expected fhir.ErrNotFound for unknown map, got %v", err)
	}
}

func TestFHIRAdapter_TranslateNoMapping(t *testing.T) {
	a := newTestAdapter(t)
	resp, err := a.Translate(context.Background(), &fhir.TranslateRequest{
		Code: "NAM003", System: "NAMASTE", TargetSystem: "ICD11_TM2",
	})
	if err != nil {
		t.Fatalf("Translate: %v", err)
	}
	if resp.Result || len(resp.Matches) != 0 {
		t.Errorf("expected no matches, got %+v", resp)
	}
	if !strings.Contains(resp.Message, "NAM003") {
		t.Errorf("unexpected message: %q", resp.Message)
	}
}

func TestFHIRAdapter_ConceptMaps(t *testing.T) {
	a := newTestAdapter(t)
	maps := a.ConceptMaps(context.Background())
	if len(maps) != 2 {
		t.Fatalf("expected 2 concept maps, got %d", len(maps))
	}
	if maps[0].ID != "namaste-to-icd11-tm2" || maps[0].Count != 3 || maps[0].TargetURI != TM2URI {
		t.Errorf("unexpected TM2 map: %+v", maps[0])
	}
	if maps[1].Count != 2 {
		t.Errorf("biomedical map count = %d, want 2", maps[1].Count)
	}
}

func TestFHIRAdapter_ExpandValueSet(t *testing.T) {
	a := newTestAdapter(t)
	vs, err := a.ExpandValueSet(context.Background(), fhir.ExpandRequest{URL: TM2URI + "?fhir_vs"})
	if err != nil {
		t.Fatalf("ExpandValueSet: %v", err)
	}
	if vs.Name != "ICD11_TM2" || vs.Total != 3 || len(vs.Contains) != 3 {
		t.Errorf("unexpected expansion: %+v", vs)
	}
	if vs.URL != TM2URI+"?fhir_vs" {
		t.Errorf("url = %s", vs.URL)
	}
	if !strings.HasPrefix(vs.Identifier, "urn:uuid:") {
		t.Errorf("identifier = %s", vs.Identifier)
	}

	vs, err = a.ExpandValueSet(context.Background(), fhir.ExpandRequest{Filter: "vata", Count: 5})
	if err != nil {
		t.Fatalf("ExpandValueSet: %v", err)
	}
	if vs.Name != SystemAll || len(vs.Contains) == 0 || vs.Contains[0].Code != "NAM001" {
		t.Errorf("unexpected filtered expansion: %+v", vs)
	}
}

func TestFHIRAdapter_ExpandInvalidFilter(t *testing.T) {
	a := newTestAdapter(t)
	_, err := a.ExpandValueSet(context.Background(), fhir.ExpandRequest{Filter: "v"})
	if !errors.Is(err, fhir.ErrInvalid) {
		t.Errorf("expected fhir.ErrInvalid, got %v", err)
	}
}
