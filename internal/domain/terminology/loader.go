package terminology

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/xuri/excelize/v2"
)

// Source yields bulk mapping rows to the repository.
type Source interface {
	Name() string
	ReadRows(ctx context.Context, fn func(Row) error) error
}

// Row is one raw bulk source record.
type Row struct {
	Line                  int
	NamasteCode           string
	NamasteDisplay        string
	NamasteDefinition     string
	Synonyms              []string
	TM2Code               string
	TM2Display            string
	BiomedicalCode        string
	BiomedicalDisplay     string
	BiomedicalDescription string
	Confidence            string
	Origin                Origin
	// Malformed is set when the record itself could not be decoded.
	Malformed string
}

// Normalize validates the row and expands it into entries and mappings.
// Failures are always *ParseError.
func (r Row) Normalize() ([]CodeEntry, []Mapping, error) {
	if r.Malformed != "" {
		return nil, nil, &ParseError{Row: r.Line, Reason: r.Malformed}
	}
	code := strings.TrimSpace(r.NamasteCode)
	display := strings.TrimSpace(r.NamasteDisplay)
	if code == "" {
		return nil, nil, &ParseError{Row: r.Line, Reason: "missing namaste_code"}
	}
	if display == "" {
		return nil, nil, &ParseError{Row: r.Line, Reason: "missing namaste_display"}
	}

	var confidence *float64
	if raw := strings.TrimSpace(r.Confidence); raw != "" {
		c, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return nil, nil, &ParseError{Row: r.Line, Reason: fmt.Sprintf("invalid confidence %q", raw)}
		}
		if !validConfidence(c) {
			return nil, nil, &ParseError{Row: r.Line, Reason: fmt.Sprintf("confidence %v outside [0,1]", c)}
		}
		confidence = &c
	}
	mappingConfidence := DefaultConfidence
	if confidence != nil {
		mappingConfidence = *confidence
	}

	origin := r.Origin
	if origin == "" {
		origin = OriginBulk
	}

	var synonyms []string
	for _, s := range r.Synonyms {
		if s = strings.TrimSpace(s); s != "" {
			synonyms = append(synonyms, s)
		}
	}

	entries := []CodeEntry{{
		System:     SystemNamaste,
		Code:       code,
		Display:    display,
		Definition: strings.TrimSpace(r.NamasteDefinition),
		Synonyms:   synonyms,
		Confidence: confidence,
		Origin:     origin,
	}}
	var mappings []Mapping

	if tm2 := strings.TrimSpace(r.TM2Code); tm2 != "" {
		entries = append(entries, CodeEntry{
			System:  SystemTM2,
			Code:    tm2,
			Display: orDefault(strings.TrimSpace(r.TM2Display), tm2),
			Origin:  origin,
		})
		mappings = append(mappings, Mapping{
			SourceSystem: SystemNamaste,
			SourceCode:   code,
			TargetSystem: SystemTM2,
			TargetCode:   tm2,
			Confidence:   mappingConfidence,
			Relation:     RelationEquivalent,
			Origin:       origin,
		})
	}

	if bio := strings.TrimSpace(r.BiomedicalCode); bio != "" {
		entries = append(entries, CodeEntry{
			System:     SystemBiomedical,
			Code:       bio,
			Display:    orDefault(strings.TrimSpace(r.BiomedicalDisplay), bio),
			Definition: strings.TrimSpace(r.BiomedicalDescription),
			Origin:     origin,
		})
		mappings = append(mappings, Mapping{
			SourceSystem: SystemNamaste,
			SourceCode:   code,
			TargetSystem: SystemBiomedical,
			TargetCode:   bio,
			Confidence:   mappingConfidence,
			Relation:     RelationRelated,
			Origin:       origin,
		})
	}
	return entries, mappings, nil
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}

// Bulk source column names.
const (
	ColNamasteCode           = "namaste_code"
	ColNamasteDisplay        = "namaste_display"
	ColNamasteDefinition     = "namaste_definition"
	ColSynonyms              = "synonyms"
	ColTM2Code               = "icd11_tm2_code"
	ColTM2Display            = "icd11_tm2_display"
	ColBiomedicalCode        = "biomedical_code"
	ColBiomedicalDisplay     = "biomedical_display"
	ColBiomedicalDescription = "biomedical_description"
	ColConfidence            = "confidence"
)

// columnIndex maps header names to record positions.
type columnIndex map[string]int

func newColumnIndex(header []string) (columnIndex, error) {
	idx := make(columnIndex, len(header))
	for i, h := range header {
		h = strings.ToLower(strings.TrimSpace(strings.TrimPrefix(h, "\ufeff")))
		if h != "" {
			idx[h] = i
		}
	}
	for _, required := range []string{ColNamasteCode, ColNamasteDisplay} {
		if _, ok := idx[required]; !ok {
			return nil, fmt.Errorf("missing required column %q", required)
		}
	}
	return idx, nil
}

func (idx columnIndex) get(rec []string, col string) string {
	i, ok := idx[col]
	if !ok || i >= len(rec) {
		return ""
	}
	return rec[i]
}

func (idx columnIndex) row(line int, rec []string) Row {
	var synonyms []string
	if raw := idx.get(rec, ColSynonyms); strings.TrimSpace(raw) != "" {
		synonyms = strings.Split(raw, "|")
	}
	return Row{
		Line:                  line,
		NamasteCode:           idx.get(rec, ColNamasteCode),
		NamasteDisplay:        idx.get(rec, ColNamasteDisplay),
		NamasteDefinition:     idx.get(rec, ColNamasteDefinition),
		Synonyms:              synonyms,
		TM2Code:               idx.get(rec, ColTM2Code),
		TM2Display:            idx.get(rec, ColTM2Display),
		BiomedicalCode:        idx.get(rec, ColBiomedicalCode),
		BiomedicalDisplay:     idx.get(rec, ColBiomedicalDisplay),
		BiomedicalDescription: idx.get(rec, ColBiomedicalDescription),
		Confidence:            idx.get(rec, ColConfidence),
	}
}

func blank(rec []string) bool {
	for _, v := range rec {
		if strings.TrimSpace(v) != "" {
			return false
		}
	}
	return true
}

// OpenSource picks a file source by extension.
func OpenSource(path string) (Source, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".csv":
		return &CSVSource{Path: path}, nil
	case ".xlsx":
		return &XLSXSource{Path: path}, nil
	}
	return nil, fmt.Errorf("unsupported mapping source %q: expected .csv or .xlsx", path)
}

// CSVSource reads a header-indexed CSV file.
type CSVSource struct {
	Path string
}

func (s *CSVSource) Name() string { return s.Path }

func (s *CSVSource) ReadRows(ctx context.Context, fn func(Row) error) error {
	f, err := os.Open(s.Path)
	if err != nil {
		return fmt.Errorf("open csv: %w", err)
	}
	defer f.Close()
	return readCSV(ctx, f, fn)
}

func readCSV(ctx context.Context, r io.Reader, fn func(Row) error) error {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true
	reader.LazyQuotes = true

	header, err := reader.Read()
	if err != nil {
		return fmt.Errorf("read csv header: %w", err)
	}
	idx, err := newColumnIndex(header)
	if err != nil {
		return err
	}

	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		rec, err := reader.Read()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			var perr *csv.ParseError
			if errors.As(err, &perr) {
				if err := fn(Row{Line: perr.Line, Malformed: perr.Err.Error()}); err != nil {
					return err
				}
				continue
			}
			return fmt.Errorf("read csv: %w", err)
		}
		if blank(rec) {
			continue
		}
		line, _ := reader.FieldPos(0)
		if err := fn(idx.row(line, rec)); err != nil {
			return err
		}
	}
}

// XLSXSource reads the first (or named) sheet of a workbook with the same
// header layout as the CSV source.
type XLSXSource struct {
	Path  string
	Sheet string
}

func (s *XLSXSource) Name() string { return s.Path }

func (s *XLSXSource) ReadRows(ctx context.Context, fn func(Row) error) error {
	f, err := excelize.OpenFile(s.Path)
	if err != nil {
		return fmt.Errorf("open xlsx: %w", err)
	}
	defer f.Close()

	sheet := s.Sheet
	if sheet == "" {
		sheets := f.GetSheetList()
		if len(sheets) == 0 {
			return fmt.Errorf("xlsx %s has no sheets", s.Path)
		}
		sheet = sheets[0]
	}

	rows, err := f.Rows(sheet)
	if err != nil {
		return fmt.Errorf("read sheet %s: %w", sheet, err)
	}
	defer rows.Close()

	var idx columnIndex
	line := 0
	for rows.Next() {
		if err := ctx.Err(); err != nil {
			return err
		}
		line++
		rec, err := rows.Columns()
		if err != nil {
			return fmt.Errorf("read sheet %s row %d: %w", sheet, line, err)
		}
		if idx == nil {
			if idx, err = newColumnIndex(rec); err != nil {
				return err
			}
			continue
		}
		if blank(rec) {
			continue
		}
		if err := fn(idx.row(line, rec)); err != nil {
			return err
		}
	}
	if idx == nil {
		return fmt.Errorf("xlsx %s: sheet %s is empty", s.Path, sheet)
	}
	return rows.Error()
}
