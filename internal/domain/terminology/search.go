package terminology

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"unicode"
	"unicode/utf8"
)

const (
	MinQueryLength = 2
	DefaultLimit   = 10
	MaxLimit       = 100
)

// MatchKind is the lexical tier a candidate matched at.
type MatchKind string

const (
	MatchExact     MatchKind = "exact"
	MatchPrefix    MatchKind = "prefix"
	MatchToken     MatchKind = "token"
	MatchSubstring MatchKind = "substring"
)

// Score returns the lexical score of the tier. Tiers are strictly ordered.
func (k MatchKind) Score() float64 {
	switch k {
	case MatchExact:
		return 1.0
	case MatchPrefix:
		return 0.85
	case MatchToken:
		return 0.65
	case MatchSubstring:
		return 0.45
	}
	return 0
}

// WeightingPolicy combines lexical quality with an entry's base confidence.
type WeightingPolicy struct {
	LexicalWeight float64
}

func DefaultWeighting() WeightingPolicy {
	return WeightingPolicy{LexicalWeight: 0.7}
}

// Composite is non-decreasing in lexical for a fixed confidence as long as
// LexicalWeight lies in [0,1].
func (p WeightingPolicy) Composite(lexical, confidence float64) float64 {
	w := p.LexicalWeight
	if w < 0 {
		w = 0
	}
	if w > 1 {
		w = 1
	}
	return w*lexical + (1-w)*confidence
}

// Query is a free-text search request.
type Query struct {
	Text   string
	System string
	Limit  int
}

type preparedQuery struct {
	norm   string
	tokens []string
	system System // empty means all systems
	limit  int
}

func (q Query) prepare() (preparedQuery, error) {
	text := strings.TrimSpace(q.Text)
	if utf8.RuneCountInString(text) < MinQueryLength {
		return preparedQuery{}, ErrEmptyQuery
	}
	p := preparedQuery{limit: q.Limit}
	if f := strings.TrimSpace(q.System); f != "" && !strings.EqualFold(f, SystemAll) {
		sys, err := ParseSystem(f)
		if err != nil {
			return preparedQuery{}, err
		}
		p.system = sys
	}
	if p.limit <= 0 {
		p.limit = DefaultLimit
	}
	if p.limit > MaxLimit {
		p.limit = MaxLimit
	}
	p.tokens = tokenize(text)
	p.norm = strings.Join(p.tokens, " ")
	if p.norm == "" {
		return preparedQuery{}, ErrEmptyQuery
	}
	return p, nil
}

// MappingRef is an enrichment pointing at the best mapping into another system.
type MappingRef struct {
	Code        string `json:"code"`
	Display     string `json:"display"`
	Description string `json:"description,omitempty"`
	Confidence  int    `json:"confidence"`
}

// RankedResult is one search hit. Confidence values are 0..100 percentages.
type RankedResult struct {
	Code              string      `json:"code"`
	Display           string      `json:"display"`
	System            System      `json:"system"`
	Confidence        int         `json:"confidence"`
	Definition        string      `json:"definition"`
	ICD11Mapping      *MappingRef `json:"icd11Mapping,omitempty"`
	BiomedicalMapping *MappingRef `json:"biomedicalMapping,omitempty"`
	Score             float64     `json:"score"`
	Match             MatchKind   `json:"match"`
}

// SnapshotSource provides the snapshot a read operation works against.
type SnapshotSource interface {
	Snapshot() *Snapshot
}

// Engine ranks free-text queries against repository snapshots. It holds no
// per-request state and is safe for concurrent use.
type Engine struct {
	repo   SnapshotSource
	policy WeightingPolicy
}

func NewEngine(repo SnapshotSource, policy WeightingPolicy) *Engine {
	return &Engine{repo: repo, policy: policy}
}

// Search ranks the current snapshot against q.
func (e *Engine) Search(ctx context.Context, q Query) ([]RankedResult, error) {
	p, err := q.prepare()
	if err != nil {
		return nil, err
	}
	results, _, err := e.search(ctx, e.repo.Snapshot(), p)
	return results, err
}

// SearchIn ranks a specific snapshot against q.
func (e *Engine) SearchIn(ctx context.Context, snap *Snapshot, q Query) ([]RankedResult, error) {
	results, _, err := e.RankIn(ctx, snap, q)
	return results, err
}

// RankIn is SearchIn that also reports the number of matches before the
// limit was applied.
func (e *Engine) RankIn(ctx context.Context, snap *Snapshot, q Query) ([]RankedResult, int, error) {
	p, err := q.prepare()
	if err != nil {
		return nil, 0, err
	}
	return e.search(ctx, snap, p)
}

type candidate struct {
	entry CodeEntry
	kind  MatchKind
	score float64
}

const cancelCheckEvery = 256

func (e *Engine) search(ctx context.Context, snap *Snapshot, p preparedQuery) ([]RankedResult, int, error) {
	var hits []candidate
	for i, entry := range snap.ordered {
		if i%cancelCheckEvery == 0 {
			if err := ctx.Err(); err != nil {
				return nil, 0, fmt.Errorf("search: %w", err)
			}
		}
		if p.system != "" && entry.System != p.system {
			continue
		}
		kind, ok := matchEntry(p, entry)
		if !ok {
			continue
		}
		hits = append(hits, candidate{
			entry: entry,
			kind:  kind,
			score: e.policy.Composite(kind.Score(), entry.BaseConfidence()),
		})
	}

	sort.Slice(hits, func(i, j int) bool {
		if hits[i].score != hits[j].score {
			return hits[i].score > hits[j].score
		}
		if hits[i].entry.System != hits[j].entry.System {
			return hits[i].entry.System < hits[j].entry.System
		}
		return hits[i].entry.Code < hits[j].entry.Code
	})
	matched := len(hits)
	if len(hits) > p.limit {
		hits = hits[:p.limit]
	}

	results := make([]RankedResult, 0, len(hits))
	for _, h := range hits {
		results = append(results, enrich(snap, h))
	}
	return results, matched, nil
}

func enrich(snap *Snapshot, h candidate) RankedResult {
	r := RankedResult{
		Code:       h.entry.Code,
		Display:    h.entry.Display,
		System:     h.entry.System,
		Confidence: Percent(h.entry.BaseConfidence()),
		Definition: h.entry.Definition,
		Score:      h.score,
		Match:      h.kind,
	}
	if m, target, ok := snap.TopMapping(h.entry.System, h.entry.Code, SystemTM2); ok {
		r.ICD11Mapping = &MappingRef{
			Code:       target.Code,
			Display:    target.Display,
			Confidence: Percent(m.Confidence),
		}
	}
	if m, target, ok := snap.TopMapping(h.entry.System, h.entry.Code, SystemBiomedical); ok {
		r.BiomedicalMapping = &MappingRef{
			Code:        target.Code,
			Display:     target.Display,
			Description: target.Definition,
			Confidence:  Percent(m.Confidence),
		}
	}
	return r
}

// matchEntry returns the best tier across code, display and synonyms.
func matchEntry(p preparedQuery, e CodeEntry) (MatchKind, bool) {
	best, found := MatchKind(""), false
	consider := func(field string) {
		kind, ok := matchField(p, field)
		if ok && (!found || kind.Score() > best.Score()) {
			best, found = kind, true
		}
	}
	consider(e.Code)
	consider(e.Display)
	for _, s := range e.Synonyms {
		if found && best == MatchExact {
			break
		}
		consider(s)
	}
	return best, found
}

func matchField(p preparedQuery, field string) (MatchKind, bool) {
	tokens := tokenize(field)
	if len(tokens) == 0 {
		return "", false
	}
	norm := strings.Join(tokens, " ")
	switch {
	case norm == p.norm:
		return MatchExact, true
	case strings.HasPrefix(norm, p.norm):
		return MatchPrefix, true
	case strings.Contains(" "+norm, " "+p.norm):
		return MatchToken, true
	case len(p.tokens) > 1 && everyTokenMatches(p.tokens, tokens):
		return MatchToken, true
	case strings.Contains(norm, p.norm):
		return MatchSubstring, true
	}
	return "", false
}

// everyTokenMatches reports whether each query token starts some field token.
func everyTokenMatches(query, field []string) bool {
	for _, q := range query {
		hit := false
		for _, f := range field {
			if strings.HasPrefix(f, q) {
				hit = true
				break
			}
		}
		if !hit {
			return false
		}
	}
	return true
}

func tokenize(s string) []string {
	return strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}

// Normalize lower-cases s and reduces it to space separated word tokens.
func Normalize(s string) string {
	return strings.Join(tokenize(s), " ")
}
