package terminology

import (
	"errors"
	"testing"
)

func TestParseSystem(t *testing.T) {
	tests := []struct {
		in   string
		want System
	}{
		{"NAMASTE", SystemNamaste},
		{"namaste", SystemNamaste},
		{"ICD11_TM2", SystemTM2},
		{"tm2", SystemTM2},
		{"ICD11-TM2", SystemTM2},
		{"ICD11_BIOMEDICAL", SystemBiomedical},
		{"biomedical", SystemBiomedical},
		{"mms", SystemBiomedical},
		{NamasteURI, SystemNamaste},
		{TM2URI, SystemTM2},
		{BiomedicalURI, SystemBiomedical},
		{"  NAMASTE  ", SystemNamaste},
	}
	for _, tt := range tests {
		got, err := ParseSystem(tt.in)
		if err != nil {
			t.Errorf("ParseSystem(%q) error: %v", tt.in, err)
			continue
		}
		if got != tt.want {
			t.Errorf("ParseSystem(%q) = %s, want %s", tt.in, got, tt.want)
		}
	}
}

func TestParseSystem_Unsupported(t *testing.T) {
	for _, in := range []string{"", "SNOMED", "http://loinc.org"} {
		if _, err := ParseSystem(in); !errors.Is(err, ErrUnsupportedSystem) {
			t.Errorf("ParseSystem(%q) = %v, want ErrUnsupportedSystem", in, err)
		}
	}
}

func TestSystem_URIRoundTrip(t *testing.T) {
	for _, s := range Systems {
		got, err := ParseSystem(s.URI())
		if err != nil || got != s {
			t.Errorf("ParseSystem(%s.URI()) = %s, %v", s, got, err)
		}
	}
}

func TestRelation_Equivalence(t *testing.T) {
	tests := map[Relation]string{
		RelationEquivalent: "equivalent",
		RelationBroader:    "wider",
		RelationNarrower:   "narrower",
		RelationRelated:    "relatedto",
		Relation("other"):  "relatedto",
	}
	for rel, want := range tests {
		if got := rel.Equivalence(); got != want {
			t.Errorf("%s.Equivalence() = %s, want %s", rel, got, want)
		}
	}
}

func TestParseRelation(t *testing.T) {
	if r, err := ParseRelation(""); err != nil || r != RelationRelated {
		t.Errorf("empty relation = %s, %v", r, err)
	}
	if r, err := ParseRelation("Broader"); err != nil || r != RelationBroader {
		t.Errorf("Broader = %s, %v", r, err)
	}
	if _, err := ParseRelation("sibling"); err == nil {
		t.Error("expected error for unknown relation")
	}
}

func TestPercent(t *testing.T) {
	tests := []struct {
		in   float64
		want int
	}{
		{0.92, 92},
		{0.8, 80},
		{0, 0},
		{1, 100},
		{1.5, 100},
		{-0.2, 0},
	}
	for _, tt := range tests {
		if got := Percent(tt.in); got != tt.want {
			t.Errorf("Percent(%v) = %d, want %d", tt.in, got, tt.want)
		}
	}
}

func TestCodeEntry_BaseConfidence(t *testing.T) {
	e := CodeEntry{System: SystemNamaste, Code: "X", Display: "x"}
	if e.BaseConfidence() != DefaultConfidence {
		t.Errorf("expected default confidence %v, got %v", DefaultConfidence, e.BaseConfidence())
	}
	e.Confidence = floatPtr(0.5)
	if e.BaseConfidence() != 0.5 {
		t.Errorf("expected 0.5, got %v", e.BaseConfidence())
	}
}
