package terminology

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Overrides are locally curated entries and mappings kept in a YAML file.
// They are re-applied on top of every full reload and are never replaced by
// an authority sync.
type Overrides struct {
	Entries  []CodeEntry
	Mappings []Mapping
}

type overridesFile struct {
	Entries []struct {
		System     string   `yaml:"system"`
		Code       string   `yaml:"code"`
		Display    string   `yaml:"display"`
		Definition string   `yaml:"definition"`
		Synonyms   []string `yaml:"synonyms"`
		Confidence *float64 `yaml:"confidence"`
	} `yaml:"entries"`
	Mappings []struct {
		SourceSystem string   `yaml:"source_system"`
		SourceCode   string   `yaml:"source_code"`
		TargetSystem string   `yaml:"target_system"`
		TargetCode   string   `yaml:"target_code"`
		Relation     string   `yaml:"relation"`
		Confidence   *float64 `yaml:"confidence"`
	} `yaml:"mappings"`
}

// LoadOverrides reads an overrides file.
func LoadOverrides(path string) (*Overrides, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read overrides: %w", err)
	}
	return ParseOverrides(data)
}

// ParseOverrides decodes and validates overrides YAML.
func ParseOverrides(data []byte) (*Overrides, error) {
	var f overridesFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("decode overrides: %w", err)
	}

	o := &Overrides{}
	for i, e := range f.Entries {
		sys, err := ParseSystem(e.System)
		if err != nil {
			return nil, fmt.Errorf("overrides entry %d: %w", i+1, err)
		}
		code := strings.TrimSpace(e.Code)
		if code == "" || strings.TrimSpace(e.Display) == "" {
			return nil, fmt.Errorf("overrides entry %d: code and display are required", i+1)
		}
		if e.Confidence != nil && !validConfidence(*e.Confidence) {
			return nil, fmt.Errorf("overrides entry %d: confidence %v outside [0,1]", i+1, *e.Confidence)
		}
		o.Entries = append(o.Entries, CodeEntry{
			System:     sys,
			Code:       code,
			Display:    strings.TrimSpace(e.Display),
			Definition: strings.TrimSpace(e.Definition),
			Synonyms:   e.Synonyms,
			Confidence: e.Confidence,
			Origin:     OriginOverride,
		})
	}

	for i, m := range f.Mappings {
		src, err := ParseSystem(m.SourceSystem)
		if err != nil {
			return nil, fmt.Errorf("overrides mapping %d: %w", i+1, err)
		}
		tgt, err := ParseSystem(m.TargetSystem)
		if err != nil {
			return nil, fmt.Errorf("overrides mapping %d: %w", i+1, err)
		}
		rel, err := ParseRelation(m.Relation)
		if err != nil {
			return nil, fmt.Errorf("overrides mapping %d: %w", i+1, err)
		}
		conf := DefaultConfidence
		if m.Confidence != nil {
			conf = *m.Confidence
		}
		if !validConfidence(conf) {
			return nil, fmt.Errorf("overrides mapping %d: confidence %v outside [0,1]", i+1, conf)
		}
		if strings.TrimSpace(m.SourceCode) == "" || strings.TrimSpace(m.TargetCode) == "" {
			return nil, fmt.Errorf("overrides mapping %d: source_code and target_code are required", i+1)
		}
		o.Mappings = append(o.Mappings, Mapping{
			SourceSystem: src,
			SourceCode:   strings.TrimSpace(m.SourceCode),
			TargetSystem: tgt,
			TargetCode:   strings.TrimSpace(m.TargetCode),
			Confidence:   conf,
			Relation:     rel,
			Origin:       OriginOverride,
		})
	}
	return o, nil
}

func (o *Overrides) applyTo(b *builder) {
	if o == nil {
		return
	}
	for _, e := range o.Entries {
		b.putEntry(e)
	}
	for _, m := range o.Mappings {
		b.putMapping(m)
	}
}
