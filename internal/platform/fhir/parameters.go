package fhir

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
)

// Parameters is a FHIR Parameters resource.
type Parameters struct {
	ResourceType string      `json:"resourceType"`
	Parameter    []Parameter `json:"parameter"`
}

// Parameter is one named value. Only the value types used by the terminology
// operations are modeled.
type Parameter struct {
	Name         string      `json:"name"`
	ValueString  string      `json:"valueString,omitempty"`
	ValueCode    string      `json:"valueCode,omitempty"`
	ValueURI     string      `json:"valueUri,omitempty"`
	ValueBoolean *bool       `json:"valueBoolean,omitempty"`
	ValueInteger *int        `json:"valueInteger,omitempty"`
	ValueDecimal *float64    `json:"valueDecimal,omitempty"`
	ValueCoding  *Coding     `json:"valueCoding,omitempty"`
	Part         []Parameter `json:"part,omitempty"`
}

func NewParameters() *Parameters {
	return &Parameters{ResourceType: "Parameters", Parameter: []Parameter{}}
}

func (p *Parameters) Add(param Parameter) *Parameters {
	p.Parameter = append(p.Parameter, param)
	return p
}

// Value returns the first primitive value of the named parameter as a string.
func (p *Parameters) Value(name string) string {
	for _, param := range p.Parameter {
		if param.Name != name {
			continue
		}
		switch {
		case param.ValueString != "":
			return param.ValueString
		case param.ValueCode != "":
			return param.ValueCode
		case param.ValueURI != "":
			return param.ValueURI
		case param.ValueInteger != nil:
			return fmt.Sprint(*param.ValueInteger)
		}
	}
	return ""
}

// Coding returns the valueCoding of the named parameter.
func (p *Parameters) Coding(name string) *Coding {
	for _, param := range p.Parameter {
		if param.Name == name && param.ValueCoding != nil {
			return param.ValueCoding
		}
	}
	return nil
}

// ReadParameters decodes a Parameters resource from a request body. An empty
// body yields an empty resource.
func ReadParameters(r io.Reader) (*Parameters, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("%w: read body: %v", ErrInvalid, err)
	}
	if len(strings.TrimSpace(string(data))) == 0 {
		return NewParameters(), nil
	}
	var p Parameters
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("%w: invalid JSON: %v", ErrInvalid, err)
	}
	if p.ResourceType != "" && p.ResourceType != "Parameters" {
		return nil, fmt.Errorf("%w: expected Parameters, got %s", ErrInvalid, p.ResourceType)
	}
	return &p, nil
}

func StringParam(name, v string) Parameter {
	return Parameter{Name: name, ValueString: v}
}

func BoolParam(name string, v bool) Parameter {
	return Parameter{Name: name, ValueBoolean: &v}
}

func CodeParam(name, v string) Parameter {
	return Parameter{Name: name, ValueCode: v}
}

func DecimalParam(name string, v float64) Parameter {
	return Parameter{Name: name, ValueDecimal: &v}
}

func CodingParam(name string, c Coding) Parameter {
	return Parameter{Name: name, ValueCoding: &c}
}
