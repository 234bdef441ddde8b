package terminology

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/rs/zerolog"
)

func newTestEngine(t *testing.T) (*Engine, *Repository) {
	t.Helper()
	repo := newTestRepo(t)
	return NewEngine(repo, DefaultWeighting()), repo
}

func resultCodes(results []RankedResult) []string {
	out := make([]string, 0, len(results))
	for _, r := range results {
		out = append(out, r.Code)
	}
	return out
}

// =========== Query Validation Tests ===========

func TestSearch_ShortQueryRejectedWithoutRepositoryAccess(t *testing.T) {
	engine := NewEngine(panicSnapshots{t: t}, DefaultWeighting())
	for _, q := range []string{"", "a", "  b  ", "   "} {
		_, err := engine.Search(context.Background(), Query{Text: q})
		if !errors.Is(err, ErrEmptyQuery) {
			t.Errorf("Search(%q) = %v, want ErrEmptyQuery", q, err)
		}
	}
}

func TestSearch_UnsupportedSystem(t *testing.T) {
	engine := NewEngine(panicSnapshots{t: t}, DefaultWeighting())
	_, err := engine.Search(context.Background(), Query{Text: "vata", System: "SNOMED"})
	if !errors.Is(err, ErrUnsupportedSystem) {
		t.Errorf("expected ErrUnsupportedSystem, got %v", err)
	}
}

// =========== Ranking Tests ===========

func TestSearch_VataScenario(t *testing.T) {
	engine, _ := newTestEngine(t)

	results, err := engine.Search(context.Background(), Query{Text: "vata", System: "ALL", Limit: 10})
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(results) == 0 {
		t.Fatal("expected results")
	}
	r := results[0]
	if r.Code != "NAM001" || r.System != SystemNamaste {
		t.Fatalf("expected NAM001 first, got %s/%s", r.System, r.Code)
	}
	if r.Confidence != 92 {
		t.Errorf("confidence = %d, want 92", r.Confidence)
	}
	if r.ICD11Mapping == nil || r.ICD11Mapping.Code != "TM26.0" || r.ICD11Mapping.Confidence != 92 {
		t.Errorf("unexpected icd11Mapping: %+v", r.ICD11Mapping)
	}
	if r.BiomedicalMapping == nil || r.BiomedicalMapping.Code != "XM123" || r.BiomedicalMapping.Display != "Functional disorder" {
		t.Errorf("unexpected biomedicalMapping: %+v", r.BiomedicalMapping)
	}
	if r.Match != MatchPrefix {
		t.Errorf("match = %s, want prefix", r.Match)
	}
}

func TestSearch_EnrichmentAbsentWhenUnmapped(t *testing.T) {
	engine, _ := newTestEngine(t)
	results, err := engine.Search(context.Background(), Query{Text: "Pitta", System: "NAMASTE"})
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(results) != 1 {
		t.Fatalf("expected 1 result, got %d", len(results))
	}
	if results[0].ICD11Mapping == nil {
		t.Error("expected TM2 enrichment for NAM002")
	}
	if results[0].BiomedicalMapping != nil {
		t.Errorf("expected no biomedical enrichment, got %+v", results[0].BiomedicalMapping)
	}
}

func TestSearch_TierOrdering(t *testing.T) {
	repo := NewRepository(zerolog.Nop())
	conf := floatPtr(0.5)
	err := repo.Upsert(context.Background(),
		CodeEntry{System: SystemNamaste, Code: "S", Display: "Sandhigata jwara", Confidence: conf},
		CodeEntry{System: SystemNamaste, Code: "X", Display: "Jwara", Confidence: conf},
		CodeEntry{System: SystemNamaste, Code: "P", Display: "Jwaratisara", Confidence: conf},
		CodeEntry{System: SystemNamaste, Code: "L", Display: "Vishamajwara", Confidence: conf},
	)
	if err != nil {
		t.Fatalf("Upsert: %v", err)
	}
	engine := NewEngine(repo, DefaultWeighting())

	results, err := engine.Search(context.Background(), Query{Text: "jwara"})
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	got := fmt.Sprint(resultCodes(results))
	if got != "[X P S L]" {
		t.Errorf("order = %s, want [X P S L]", got)
	}
	wantKinds := []MatchKind{MatchExact, MatchPrefix, MatchToken, MatchSubstring}
	for i, k := range wantKinds {
		if results[i].Match != k {
			t.Errorf("result %d match = %s, want %s", i, results[i].Match, k)
		}
	}
}

func TestSearch_SynonymAndMultiToken(t *testing.T) {
	engine, _ := newTestEngine(t)

	results, err := engine.Search(context.Background(), Query{Text: "fever"})
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(results) == 0 || results[0].Code != "NAM004" || results[0].Match != MatchExact {
		t.Errorf("expected NAM004 exact via synonym, got %+v", results)
	}

	results, err = engine.Search(context.Background(), Query{Text: "dosha vata", System: "NAMASTE"})
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(results) != 1 || results[0].Code != "NAM001" || results[0].Match != MatchToken {
		t.Errorf("expected NAM001 token match, got %+v", results)
	}
}

func TestSearch_MatchesCode(t *testing.T) {
	engine, _ := newTestEngine(t)
	results, err := engine.Search(context.Background(), Query{Text: "TM26.0"})
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(results) == 0 || results[0].Code != "TM26.0" || results[0].Match != MatchExact {
		t.Errorf("expected TM26.0 exact, got %v", resultCodes(results))
	}
}

func TestSearch_SystemFilter(t *testing.T) {
	engine, _ := newTestEngine(t)
	results, err := engine.Search(context.Background(), Query{Text: "pattern", System: TM2URI})
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(results) != 3 {
		t.Fatalf("expected 3 TM2 results, got %v", resultCodes(results))
	}
	for _, r := range results {
		if r.System != SystemTM2 {
			t.Errorf("unexpected system %s", r.System)
		}
	}
}

func TestSearch_DeterministicTieBreak(t *testing.T) {
	repo := NewRepository(zerolog.Nop())
	err := repo.Upsert(context.Background(),
		CodeEntry{System: SystemTM2, Code: "B", Display: "Shotha"},
		CodeEntry{System: SystemNamaste, Code: "C", Display: "Shotha"},
		CodeEntry{System: SystemNamaste, Code: "A", Display: "Shotha"},
	)
	if err != nil {
		t.Fatalf("Upsert: %v", err)
	}
	engine := NewEngine(repo, DefaultWeighting())
	for i := 0; i < 5; i++ {
		results, err := engine.Search(context.Background(), Query{Text: "shotha"})
		if err != nil {
			t.Fatalf("Search: %v", err)
		}
		if got := fmt.Sprint(resultCodes(results)); got != "[B A C]" {
			t.Fatalf("order = %s, want [B A C]", got)
		}
	}
}

func TestSearch_Limit(t *testing.T) {
	repo := NewRepository(zerolog.Nop())
	var entries []CodeEntry
	for i := 0; i < 150; i++ {
		entries = append(entries, CodeEntry{System: SystemNamaste, Code: fmt.Sprintf("R%03d", i), Display: "Roga variant"})
	}
	if err := repo.Upsert(context.Background(), entries...); err != nil {
		t.Fatalf("Upsert: %v", err)
	}
	engine := NewEngine(repo, DefaultWeighting())

	tests := []struct {
		limit int
		want  int
	}{
		{0, DefaultLimit},
		{5, 5},
		{500, MaxLimit},
	}
	for _, tt := range tests {
		results, err := engine.Search(context.Background(), Query{Text: "roga", Limit: tt.limit})
		if err != nil {
			t.Fatalf("Search: %v", err)
		}
		if len(results) != tt.want {
			t.Errorf("limit %d: got %d results, want %d", tt.limit, len(results), tt.want)
		}
	}
}

func TestSearch_Cancelled(t *testing.T) {
	engine, _ := newTestEngine(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := engine.Search(ctx, Query{Text: "vata"}); !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
}

func TestSearch_NoMatches(t *testing.T) {
	engine, _ := newTestEngine(t)
	results, err := engine.Search(context.Background(), Query{Text: "qwerty"})
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if results == nil || len(results) != 0 {
		t.Errorf("expected empty non-nil results, got %#v", results)
	}
}

// =========== Weighting Tests ===========

func TestWeightingPolicy_MonotoneInLexical(t *testing.T) {
	kinds := []MatchKind{MatchSubstring, MatchToken, MatchPrefix, MatchExact}
	for _, w := range []float64{0, 0.3, 0.7, 1, -1, 2} {
		p := WeightingPolicy{LexicalWeight: w}
		for _, conf := range []float64{0, 0.5, 0.92, 1} {
			prev := -1.0
			for _, k := range kinds {
				s := p.Composite(k.Score(), conf)
				if s < prev {
					t.Errorf("w=%v conf=%v: %s scored %v below previous %v", w, conf, k, s, prev)
				}
				prev = s
			}
		}
	}
}

func TestMatchKind_ScoresStrictlyOrdered(t *testing.T) {
	if !(MatchExact.Score() > MatchPrefix.Score() &&
		MatchPrefix.Score() > MatchToken.Score() &&
		MatchToken.Score() > MatchSubstring.Score() &&
		MatchSubstring.Score() > 0) {
		t.Error("tier scores are not strictly ordered")
	}
}

func TestSearch_HigherConfidenceWinsWithinTier(t *testing.T) {
	repo := NewRepository(zerolog.Nop())
	err := repo.Upsert(context.Background(),
		CodeEntry{System: SystemNamaste, Code: "LOW", Display: "Kasa", Confidence: floatPtr(0.2)},
		CodeEntry{System: SystemNamaste, Code: "HIGH", Display: "Kasa", Confidence: floatPtr(0.9)},
	)
	if err != nil {
		t.Fatalf("Upsert: %v", err)
	}
	results, err := NewEngine(repo, DefaultWeighting()).Search(context.Background(), Query{Text: "kasa"})
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if got := fmt.Sprint(resultCodes(results)); got != "[HIGH LOW]" {
		t.Errorf("order = %s, want [HIGH LOW]", got)
	}
}

func TestSearchIn_UsesGivenSnapshot(t *testing.T) {
	engine, repo := newTestEngine(t)
	old := repo.Snapshot()
	if _, err := repo.Load(context.Background(), &rowsSource{rows: []Row{{NamasteCode: "NEW1", NamasteDisplay: "Prameha"}}}); err != nil {
		t.Fatalf("Load: %v", err)
	}
	results, err := engine.SearchIn(context.Background(), old, Query{Text: "vata"})
	if err != nil {
		t.Fatalf("SearchIn: %v", err)
	}
	if len(results) == 0 || results[0].Code != "NAM001" {
		t.Errorf("expected old snapshot results, got %v", resultCodes(results))
	}
}
