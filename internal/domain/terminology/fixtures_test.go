package terminology

import (
	"context"
	"testing"

	"github.com/rs/zerolog"
)

// =========== Test Sources ===========

type rowsSource struct {
	name string
	rows []Row
	err  error
}

func (s *rowsSource) Name() string {
	if s.name == "" {
		return "test-rows"
	}
	return s.name
}

func (s *rowsSource) ReadRows(ctx context.Context, fn func(Row) error) error {
	for i, r := range s.rows {
		if r.Line == 0 {
			r.Line = i + 2
		}
		if err := fn(r); err != nil {
			return err
		}
	}
	return s.err
}

// panicSnapshots fails the test if anything reads a snapshot.
type panicSnapshots struct{ t *testing.T }

func (p panicSnapshots) Snapshot() *Snapshot {
	p.t.Fatal("snapshot accessed")
	return nil
}

// =========== Helper ===========

func vataRow() Row {
	return Row{
		NamasteCode:       "NAM001",
		NamasteDisplay:    "Vata Dosha Imbalance",
		NamasteDefinition: "Disturbance of vata dosha",
		Synonyms:          []string{"Vata vikara"},
		TM2Code:           "TM26.0",
		TM2Display:        "Traditional medicine pattern",
		BiomedicalCode:    "XM123",
		BiomedicalDisplay: "Functional disorder",
		Confidence:        "0.92",
	}
}

func sampleRows() []Row {
	return []Row{
		vataRow(),
		{NamasteCode: "NAM002", NamasteDisplay: "Pitta Dosha Imbalance", TM2Code: "TM26.1", TM2Display: "Heat pattern", Confidence: "0.85"},
		{NamasteCode: "NAM003", NamasteDisplay: "Kapha Dosha Imbalance", BiomedicalCode: "XM456", BiomedicalDisplay: "Respiratory congestion", Confidence: "0.75"},
		{NamasteCode: "NAM004", NamasteDisplay: "Jwara", Synonyms: []string{"fever", "pyrexia"}, TM2Code: "TM27.3", TM2Display: "Fever pattern"},
	}
}

func newTestRepo(t *testing.T, rows ...Row) *Repository {
	t.Helper()
	repo := NewRepository(zerolog.Nop())
	if len(rows) == 0 {
		rows = sampleRows()
	}
	if _, err := repo.Load(context.Background(), &rowsSource{rows: rows}); err != nil {
		t.Fatalf("Load: %v", err)
	}
	return repo
}

func newTestService(t *testing.T) *Service {
	t.Helper()
	repo := newTestRepo(t)
	return NewService(repo, NewEngine(repo, DefaultWeighting()), &rowsSource{rows: sampleRows()}, zerolog.Nop())
}

func floatPtr(v float64) *float64 { return &v }
