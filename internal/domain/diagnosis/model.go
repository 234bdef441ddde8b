package diagnosis

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/vimalrajaj/MediSyncv/internal/domain/terminology"
)

// Entry is one diagnosis line: a NAMASTE code with an optional ICD-11 code.
type Entry struct {
	NamasteCode   string `json:"namasteCode"`
	ICD11Code     string `json:"icd11Code,omitempty"`
	ClinicalNotes string `json:"clinicalNotes,omitempty"`
}

// SessionMeta carries who the diagnoses are about and who recorded them.
type SessionMeta struct {
	PatientRef    string `json:"patientRef"`
	PatientName   string `json:"patientName,omitempty"`
	ClinicianName string `json:"clinicianName,omitempty"`
}

// Session is a stored diagnosis session. FHIRBundle is written once at
// creation and never modified.
type Session struct {
	ID            uuid.UUID       `json:"id"`
	PatientRef    string          `json:"patientRef"`
	ClinicianName string          `json:"clinicianName,omitempty"`
	Entries       []Entry         `json:"entries"`
	FHIRBundle    json.RawMessage `json:"fhirBundle"`
	TotalCodes    int             `json:"totalCodes"`
	CreatedAt     time.Time       `json:"createdAt"`
}

// ICD11 labels an unresolved ICD-11 code, which may belong to either TM2 or
// the biomedical linearization.
const ICD11 = "ICD11"

var (
	ErrInvalid         = errors.New("invalid diagnosis session")
	ErrSessionNotFound = errors.New("diagnosis session not found")
)

// UnresolvedCodeError reports the first entry whose code is unknown.
// EntryIndex is 1-based.
type UnresolvedCodeError struct {
	EntryIndex int
	Code       string
	System     string
}

func (e *UnresolvedCodeError) Error() string {
	return fmt.Sprintf("entry %d: %s code %q could not be resolved", e.EntryIndex, e.System, e.Code)
}

func (e *UnresolvedCodeError) Unwrap() error { return terminology.ErrNotFound }
