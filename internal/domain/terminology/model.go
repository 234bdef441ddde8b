package terminology

import (
	"fmt"
	"strings"
)

// System identifies one of the code systems held by the repository.
type System string

const (
	SystemNamaste    System = "NAMASTE"
	SystemTM2        System = "ICD11_TM2"
	SystemBiomedical System = "ICD11_BIOMEDICAL"
)

// Canonical FHIR code system URIs.
const (
	NamasteURI    = "http://namaste.ayush.gov.in/fhir/CodeSystem/namaste"
	TM2URI        = "http://id.who.int/icd/release/11/tm2"
	BiomedicalURI = "http://id.who.int/icd/release/11/mms"
)

// SystemAll is the search filter value that matches every system.
const SystemAll = "ALL"

// DefaultConfidence is used for entries and mappings that carry no confidence.
const DefaultConfidence = 0.8

// Systems lists the supported systems in display order.
var Systems = []System{SystemNamaste, SystemTM2, SystemBiomedical}

// URI returns the canonical code system URI.
func (s System) URI() string {
	switch s {
	case SystemNamaste:
		return NamasteURI
	case SystemTM2:
		return TM2URI
	case SystemBiomedical:
		return BiomedicalURI
	}
	return ""
}

// Title returns a human readable name.
func (s System) Title() string {
	switch s {
	case SystemNamaste:
		return "NAMASTE"
	case SystemTM2:
		return "ICD-11 Traditional Medicine Module 2"
	case SystemBiomedical:
		return "ICD-11 Biomedical (MMS)"
	}
	return string(s)
}

func (s System) Valid() bool {
	return s.URI() != ""
}

// ParseSystem resolves a system name, alias or canonical URI.
func ParseSystem(v string) (System, error) {
	trimmed := strings.TrimSpace(v)
	switch strings.ToUpper(trimmed) {
	case "NAMASTE":
		return SystemNamaste, nil
	case "ICD11_TM2", "ICD11-TM2", "TM2":
		return SystemTM2, nil
	case "ICD11_BIOMEDICAL", "ICD11-BIOMEDICAL", "BIOMEDICAL", "ICD11", "MMS":
		return SystemBiomedical, nil
	}
	switch strings.TrimRight(trimmed, "/") {
	case NamasteURI:
		return SystemNamaste, nil
	case TM2URI:
		return SystemTM2, nil
	case BiomedicalURI:
		return SystemBiomedical, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnsupportedSystem, v)
}

// Relation describes how a mapping target relates to its source.
type Relation string

const (
	RelationEquivalent Relation = "equivalent"
	RelationBroader    Relation = "broader"
	RelationNarrower   Relation = "narrower"
	RelationRelated    Relation = "related"
)

// Equivalence returns the FHIR ConceptMap equivalence code for the relation.
func (r Relation) Equivalence() string {
	switch r {
	case RelationEquivalent:
		return "equivalent"
	case RelationBroader:
		return "wider"
	case RelationNarrower:
		return "narrower"
	default:
		return "relatedto"
	}
}

// ParseRelation accepts a relation name. An empty value means related.
func ParseRelation(v string) (Relation, error) {
	switch Relation(strings.ToLower(strings.TrimSpace(v))) {
	case RelationEquivalent:
		return RelationEquivalent, nil
	case RelationBroader:
		return RelationBroader, nil
	case RelationNarrower:
		return RelationNarrower, nil
	case RelationRelated, "":
		return RelationRelated, nil
	}
	return "", fmt.Errorf("unknown relation %q", v)
}

// Origin records where an entry or mapping came from.
type Origin string

const (
	OriginBulk      Origin = "bulk"
	OriginAuthority Origin = "authority"
	OriginOverride  Origin = "override"
	OriginReference Origin = "reference"
)

// EntryKey uniquely identifies a CodeEntry.
type EntryKey struct {
	System System
	Code   string
}

// CodeEntry is a single coded term.
type CodeEntry struct {
	System     System   `json:"system"`
	Code       string   `json:"code"`
	Display    string   `json:"display"`
	Definition string   `json:"definition,omitempty"`
	Synonyms   []string `json:"synonyms,omitempty"`
	Confidence *float64 `json:"confidence,omitempty"`
	Origin     Origin   `json:"origin,omitempty"`
}

func (e CodeEntry) Key() EntryKey {
	return EntryKey{System: e.System, Code: e.Code}
}

// BaseConfidence returns the entry confidence, or DefaultConfidence when unset.
func (e CodeEntry) BaseConfidence() float64 {
	if e.Confidence == nil {
		return DefaultConfidence
	}
	return *e.Confidence
}

// MappingKey uniquely identifies a Mapping.
type MappingKey struct {
	SourceSystem System
	SourceCode   string
	TargetSystem System
	TargetCode   string
}

// Mapping links a source entry to a target entry in another system.
type Mapping struct {
	SourceSystem System   `json:"sourceSystem"`
	SourceCode   string   `json:"sourceCode"`
	TargetSystem System   `json:"targetSystem"`
	TargetCode   string   `json:"targetCode"`
	Confidence   float64  `json:"confidence"`
	Relation     Relation `json:"relation"`
	Origin       Origin   `json:"origin,omitempty"`
}

func (m Mapping) Key() MappingKey {
	return MappingKey{
		SourceSystem: m.SourceSystem,
		SourceCode:   m.SourceCode,
		TargetSystem: m.TargetSystem,
		TargetCode:   m.TargetCode,
	}
}

func (m Mapping) sourceKey() EntryKey {
	return EntryKey{System: m.SourceSystem, Code: m.SourceCode}
}

func (m Mapping) targetKey() EntryKey {
	return EntryKey{System: m.TargetSystem, Code: m.TargetCode}
}

// Percent renders a 0..1 confidence as a rounded 0..100 integer.
func Percent(confidence float64) int {
	if confidence <= 0 {
		return 0
	}
	if confidence >= 1 {
		return 100
	}
	return int(confidence*100 + 0.5)
}

func validConfidence(c float64) bool {
	return c >= 0 && c <= 1
}
