package fhir

import (
	"errors"
	"strings"
	"testing"
)

func TestReadParameters(t *testing.T) {
	p, err := ReadParameters(strings.NewReader(`{
		"resourceType": "Parameters",
		"parameter": [
			{"name": "system", "valueUri": "http://namaste.ayush.gov.in/fhir/CodeSystem/namaste"},
			{"name": "code", "valueCode": "NAM001"},
			{"name": "count", "valueInteger": 5},
			{"name": "coding", "valueCoding": {"system": "ICD11_TM2", "code": "TM26.0"}}
		]
	}`))
	if err != nil {
		t.Fatalf("ReadParameters: %v", err)
	}
	if p.Value("code") != "NAM001" || p.Value("count") != "5" {
		t.Errorf("unexpected values: code=%q count=%q", p.Value("code"), p.Value("count"))
	}
	if !strings.HasSuffix(p.Value("system"), "/namaste") {
		t.Errorf("system = %q", p.Value("system"))
	}
	if c := p.Coding("coding"); c == nil || c.Code != "TM26.0" {
		t.Errorf("unexpected coding: %+v", c)
	}
	if p.Value("missing") != "" || p.Coding("code") != nil {
		t.Error("absent parameters must be empty")
	}
}

func TestReadParameters_Empty(t *testing.T) {
	p, err := ReadParameters(strings.NewReader("  "))
	if err != nil || p.ResourceType != "Parameters" || len(p.Parameter) != 0 {
		t.Errorf("expected empty Parameters, got %+v err=%v", p, err)
	}
}

func TestReadParameters_Invalid(t *testing.T) {
	for _, body := range []string{`{`, `{"resourceType":"Patient"}`} {
		if _, err := ReadParameters(strings.NewReader(body)); !errors.Is(err, ErrInvalid) {
			t.Errorf("body %s: expected ErrInvalid, got %v", body, err)
		}
	}
}
