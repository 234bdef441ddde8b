package terminology

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/vimalrajaj/MediSyncv/internal/platform/fhir"
)

// ConceptMap canonical URL prefix.
const conceptMapBase = "http://namaste.ayush.gov.in/fhir/ConceptMap/"

type conceptMapDef struct {
	id     string
	name   string
	title  string
	source System
	target System
}

var conceptMaps = []conceptMapDef{
	{id: "namaste-to-icd11-tm2", name: "NAMASTEToICD11TM2", title: "NAMASTE to ICD-11 TM2", source: SystemNamaste, target: SystemTM2},
	{id: "namaste-to-icd11-biomedical", name: "NAMASTEToICD11Biomedical", title: "NAMASTE to ICD-11 Biomedical", source: SystemNamaste, target: SystemBiomedical},
}

func findConceptMap(ref string) (conceptMapDef, bool) {
	ref = strings.TrimPrefix(strings.TrimSpace(ref), conceptMapBase)
	for _, cm := range conceptMaps {
		if cm.id == ref {
			return cm, true
		}
	}
	return conceptMapDef{}, false
}

// FHIRAdapter exposes Operations through the FHIR boundary interfaces.
type FHIRAdapter struct {
	ops        *Operations
	icdRelease string
}

func NewFHIRAdapter(ops *Operations, icdRelease string) *FHIRAdapter {
	return &FHIRAdapter{ops: ops, icdRelease: icdRelease}
}

var (
	_ fhir.CodeSystemProvider = (*FHIRAdapter)(nil)
	_ fhir.ConceptMapProvider = (*FHIRAdapter)(nil)
	_ fhir.ValueSetExpander   = (*FHIRAdapter)(nil)
)

func (a *FHIRAdapter) version(s System) string {
	if s == SystemNamaste {
		return ""
	}
	return a.icdRelease
}

// LookupCode implements fhir.CodeSystemProvider.
func (a *FHIRAdapter) LookupCode(_ context.Context, system, code string) (*fhir.LookupResult, error) {
	r, err := a.ops.CodeSystemLookup(system, code)
	if err != nil {
		return nil, fhirError(err)
	}
	out := &fhir.LookupResult{
		Name:       r.System.Title(),
		System:     r.System.URI(),
		Version:    a.version(r.System),
		Display:    r.Display,
		Definition: r.Definition,
	}
	for _, syn := range r.Designations {
		out.Designation = append(out.Designation, fhir.LookupDesignation{
			Language: "en",
			Use:      &fhir.Coding{System: "http://snomed.info/sct", Code: "900000000000013009", Display: "Synonym"},
			Value:    syn,
		})
	}
	return out, nil
}

// CodeSystems implements fhir.CodeSystemProvider.
func (a *FHIRAdapter) CodeSystems(_ context.Context) []fhir.CodeSystemSummary {
	stats := a.ops.Snapshot().Stats()
	out := make([]fhir.CodeSystemSummary, 0, len(Systems))
	for _, s := range Systems {
		out = append(out, fhir.CodeSystemSummary{
			ID:      systemID(s),
			URL:     s.URI(),
			Name:    string(s),
			Title:   s.Title(),
			Version: a.version(s),
			Count:   stats.Entries[s],
		})
	}
	return out
}

func systemID(s System) string {
	return strings.ReplaceAll(strings.ToLower(string(s)), "_", "-")
}

// Translate implements fhir.ConceptMapProvider.
func (a *FHIRAdapter) Translate(_ context.Context, req *fhir.TranslateRequest) (*fhir.TranslateResponse, error) {
	target := req.TargetSystem
	if req.ConceptMap != "" {
		cm, ok := findConceptMap(req.ConceptMap)
		if !ok {
			return nil, fmt.Errorf("%w: ConceptMap %q", fhir.ErrNotFound, req.ConceptMap)
		}
		target = string(cm.target)
	}

	translations, err := a.ops.ConceptMapTranslate(req.System, req.Code, target)
	if err != nil {
		return nil, fhirError(err)
	}

	resp := &fhir.TranslateResponse{Result: len(translations) > 0}
	if !resp.Result {
		resp.Message = fmt.Sprintf("No mapping found for code '%s' in system '%s'", req.Code, req.System)
		return resp, nil
	}
	resp.Message = "Mapping found"
	src, _ := ParseSystem(req.System)
	for _, t := range translations {
		match := fhir.TranslateMatch{
			Equivalence: t.Equivalence,
			Code:        t.TargetCode,
			Display:     t.TargetDisplay,
			System:      t.TargetSystem.URI(),
			Confidence:  t.Confidence,
		}
		for _, cm := range conceptMaps {
			if cm.source == src && cm.target == t.TargetSystem {
				match.Source = conceptMapBase + cm.id
			}
		}
		resp.Matches = append(resp.Matches, match)
	}
	return resp, nil
}

// ConceptMaps implements fhir.ConceptMapProvider.
func (a *FHIRAdapter) ConceptMaps(_ context.Context) []fhir.ConceptMapSummary {
	out := make([]fhir.ConceptMapSummary, 0, len(conceptMaps))
	for _, cm := range conceptMaps {
		out = append(out, fhir.ConceptMapSummary{
			ID:        cm.id,
			URL:       conceptMapBase + cm.id,
			Name:      cm.name,
			Title:     cm.title,
			SourceURI: cm.source.URI(),
			TargetURI: cm.target.URI(),
			Count:     a.ops.MappedCount(cm.source, cm.target),
		})
	}
	return out
}

// ExpandValueSet implements fhir.ValueSetExpander. The value set is identified
// by a code system URI (optionally suffixed with ?fhir_vs), a system name, or
// empty/"all" for every system.
func (a *FHIRAdapter) ExpandValueSet(ctx context.Context, req fhir.ExpandRequest) (*fhir.ExpandedValueSet, error) {
	ref := strings.TrimSuffix(strings.TrimSpace(req.URL), "?fhir_vs")
	items, total, err := a.ops.ValueSetExpand(ctx, ref, req.Filter, req.Count)
	if err != nil {
		return nil, fhirError(err)
	}

	vs := &fhir.ExpandedValueSet{
		Status:     "active",
		Identifier: "urn:uuid:" + uuid.NewString(),
		Timestamp:  time.Now().UTC(),
		Total:      total,
		Contains:   make([]fhir.ValueSetContains, 0, len(items)),
	}
	if sys, err := ParseSystem(ref); err == nil {
		vs.URL = sys.URI() + "?fhir_vs"
		vs.Name = string(sys)
		vs.Title = sys.Title()
	} else {
		vs.Name = SystemAll
		vs.Title = "All AYUSH terminology systems"
	}
	for _, it := range items {
		vs.Contains = append(vs.Contains, fhir.ValueSetContains{
			System:  it.System.URI(),
			Code:    it.Code,
			Display: it.Display,
		})
	}
	return vs, nil
}

// fhirError classifies domain errors for the FHIR boundary.
func fhirError(err error) error {
	switch {
	case errors.Is(err, ErrNotFound):
		return fmt.Errorf("%w: %w", fhir.ErrNotFound, err)
	case errors.Is(err, ErrUnsupportedSystem):
		return fmt.Errorf("%w: %w", fhir.ErrNotSupported, err)
	case errors.Is(err, ErrEmptyQuery), errors.Is(err, ErrInvalid):
		return fmt.Errorf("%w: %w", fhir.ErrInvalid, err)
	}
	return err
}
