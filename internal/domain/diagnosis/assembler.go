// Package diagnosis assembles dual-coded FHIR diagnosis bundles and stores
// them as sessions.
package diagnosis

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/vimalrajaj/MediSyncv/internal/domain/terminology"
	"github.com/vimalrajaj/MediSyncv/internal/platform/fhir"
)

// SnapshotSource is satisfied by *terminology.Repository.
type SnapshotSource interface {
	Snapshot() *terminology.Snapshot
}

// BundleSnapshot is an assembled collection Bundle, serialized once.
type BundleSnapshot struct {
	ID         string          `json:"id"`
	Timestamp  time.Time       `json:"timestamp"`
	TotalCodes int             `json:"totalCodes"`
	JSON       json.RawMessage `json:"bundle"`
}

// Assembler resolves diagnosis entries against the terminology repository.
type Assembler struct {
	repo SnapshotSource
	now  func() time.Time
}

func NewAssembler(repo SnapshotSource) *Assembler {
	return &Assembler{repo: repo, now: time.Now}
}

type resolved struct {
	entry   Entry
	namaste terminology.CodeEntry
	icd     *terminology.CodeEntry
}

// Assemble resolves every entry against one snapshot and builds the bundle.
// The first unresolved code fails the whole assembly with an
// *UnresolvedCodeError; no partial bundle is ever returned.
func (a *Assembler) Assemble(entries []Entry, meta SessionMeta) (*BundleSnapshot, error) {
	if strings.TrimSpace(meta.PatientRef) == "" {
		return nil, fmt.Errorf("%w: patient reference is required", ErrInvalid)
	}
	if len(entries) == 0 {
		return nil, fmt.Errorf("%w: at least one diagnosis entry is required", ErrInvalid)
	}

	snap := a.repo.Snapshot()
	items := make([]resolved, 0, len(entries))
	total := 0
	for i, e := range entries {
		r, err := resolve(snap, i+1, e)
		if err != nil {
			return nil, err
		}
		items = append(items, r)
		total++
		if r.icd != nil {
			total++
		}
	}

	id := uuid.New().String()
	now := a.now().UTC()
	resources := make([]interface{}, 0, len(items))
	for _, r := range items {
		resources = append(resources, condition(r, meta, now))
	}
	bundle, err := fhir.NewCollectionBundle(id, now, resources)
	if err != nil {
		return nil, err
	}
	bundle.Identifier = &fhir.Identifier{System: "urn:ietf:rfc:3986", Value: "urn:uuid:" + id}
	raw, err := json.Marshal(bundle)
	if err != nil {
		return nil, fmt.Errorf("marshal bundle: %w", err)
	}
	return &BundleSnapshot{ID: id, Timestamp: now, TotalCodes: total, JSON: raw}, nil
}

func resolve(snap *terminology.Snapshot, index int, e Entry) (resolved, error) {
	code := strings.TrimSpace(e.NamasteCode)
	if code == "" {
		return resolved{}, fmt.Errorf("%w: entry %d has no NAMASTE code", ErrInvalid, index)
	}
	nam, ok := snap.Lookup(terminology.SystemNamaste, code)
	if !ok {
		return resolved{}, &UnresolvedCodeError{EntryIndex: index, Code: code, System: string(terminology.SystemNamaste)}
	}
	r := resolved{entry: e, namaste: nam}

	if icd := strings.TrimSpace(e.ICD11Code); icd != "" {
		found := false
		for _, sys := range []terminology.System{terminology.SystemTM2, terminology.SystemBiomedical} {
			if ce, ok := snap.Lookup(sys, icd); ok {
				r.icd = &ce
				found = true
				break
			}
		}
		if !found {
			return resolved{}, &UnresolvedCodeError{EntryIndex: index, Code: icd, System: ICD11}
		}
	}
	return r, nil
}

func condition(r resolved, meta SessionMeta, recorded time.Time) *fhir.Condition {
	c := &fhir.Condition{
		ResourceType:       "Condition",
		ID:                 uuid.New().String(),
		ClinicalStatus:     fhir.ClinicalStatus("active"),
		VerificationStatus: fhir.VerificationStatus("confirmed"),
		Category: []fhir.CodeableConcept{{Coding: []fhir.Coding{{
			System: fhir.ConditionCategorySystem, Code: "encounter-diagnosis", Display: "Encounter Diagnosis",
		}}}},
		Code: fhir.CodeableConcept{
			Coding: []fhir.Coding{coding(r.namaste)},
			Text:   r.namaste.Display,
		},
		Subject:      fhir.Reference{Reference: subjectRef(meta.PatientRef), Display: meta.PatientName},
		RecordedDate: &recorded,
	}
	if r.icd != nil {
		c.Code.Coding = append(c.Code.Coding, coding(*r.icd))
	}
	if meta.ClinicianName != "" {
		c.Recorder = &fhir.Reference{Display: meta.ClinicianName}
	}
	if notes := strings.TrimSpace(r.entry.ClinicalNotes); notes != "" {
		c.Note = []fhir.Annotation{{AuthorString: meta.ClinicianName, Text: notes}}
	}
	return c
}

func coding(e terminology.CodeEntry) fhir.Coding {
	return fhir.Coding{System: e.System.URI(), Code: e.Code, Display: e.Display}
}

// subjectRef accepts either a bare id or a "Patient/<id>" reference.
func subjectRef(ref string) string {
	ref = strings.TrimSpace(ref)
	if strings.Contains(ref, "/") {
		return ref
	}
	return fhir.FormatReference("Patient", ref)
}
