package fhir

import (
	"time"
)

type Meta struct {
	VersionID   string     `json:"versionId,omitempty"`
	LastUpdated *time.Time `json:"lastUpdated,omitempty"`
	Profile     []string   `json:"profile,omitempty"`
}

type Coding struct {
	System  string `json:"system,omitempty"`
	Version string `json:"version,omitempty"`
	Code    string `json:"code,omitempty"`
	Display string `json:"display,omitempty"`
}

type CodeableConcept struct {
	Coding []Coding `json:"coding,omitempty"`
	Text   string   `json:"text,omitempty"`
}

type Reference struct {
	Reference string `json:"reference,omitempty"`
	Type      string `json:"type,omitempty"`
	Display   string `json:"display,omitempty"`
}

type Identifier struct {
	System string `json:"system,omitempty"`
	Value  string `json:"value,omitempty"`
}

type Annotation struct {
	AuthorString string     `json:"authorString,omitempty"`
	Time         *time.Time `json:"time,omitempty"`
	Text         string     `json:"text"`
}

type Extension struct {
	URL          string   `json:"url"`
	ValueString  string   `json:"valueString,omitempty"`
	ValueCode    string   `json:"valueCode,omitempty"`
	ValueDecimal *float64 `json:"valueDecimal,omitempty"`
	ValueInteger *int     `json:"valueInteger,omitempty"`
}

// Condition is the subset of the FHIR R4 Condition resource used for
// diagnosis bundles.
type Condition struct {
	ResourceType       string            `json:"resourceType"`
	ID                 string            `json:"id,omitempty"`
	Meta               *Meta             `json:"meta,omitempty"`
	ClinicalStatus     *CodeableConcept  `json:"clinicalStatus,omitempty"`
	VerificationStatus *CodeableConcept  `json:"verificationStatus,omitempty"`
	Category           []CodeableConcept `json:"category,omitempty"`
	Code               CodeableConcept   `json:"code"`
	Subject            Reference         `json:"subject"`
	Recorder           *Reference        `json:"recorder,omitempty"`
	RecordedDate       *time.Time        `json:"recordedDate,omitempty"`
	Note               []Annotation      `json:"note,omitempty"`
}

// Well-known FHIR code systems.
const (
	ConditionClinicalSystem     = "http://terminology.hl7.org/CodeSystem/condition-clinical"
	ConditionVerificationSystem = "http://terminology.hl7.org/CodeSystem/condition-ver-status"
	ConditionCategorySystem     = "http://terminology.hl7.org/CodeSystem/condition-category"
)

// ClinicalStatus builds a condition-clinical CodeableConcept.
func ClinicalStatus(code string) *CodeableConcept {
	return &CodeableConcept{Coding: []Coding{{System: ConditionClinicalSystem, Code: code}}}
}

// VerificationStatus builds a condition-ver-status CodeableConcept.
func VerificationStatus(code string) *CodeableConcept {
	return &CodeableConcept{Coding: []Coding{{System: ConditionVerificationSystem, Code: code}}}
}
