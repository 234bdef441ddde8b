package terminology

import (
	"context"
	"fmt"
	"strings"
)

const (
	DefaultExpandCount = 100
	MaxExpandCount     = 1000
)

// Operations implements the terminology operations ($lookup, $translate,
// $expand) as pure functions of a repository snapshot.
type Operations struct {
	repo   SnapshotSource
	engine *Engine
}

func NewOperations(repo SnapshotSource, engine *Engine) *Operations {
	return &Operations{repo: repo, engine: engine}
}

// LookupResult is the outcome of CodeSystemLookup.
type LookupResult struct {
	System       System
	Code         string
	Display      string
	Definition   string
	Designations []string
}

// CodeSystemLookup returns the details of (system, code).
func (o *Operations) CodeSystemLookup(system, code string) (LookupResult, error) {
	return lookupIn(o.repo.Snapshot(), system, code)
}

func lookupIn(snap *Snapshot, system, code string) (LookupResult, error) {
	sys, err := ParseSystem(system)
	if err != nil {
		return LookupResult{}, err
	}
	e, ok := snap.Lookup(sys, strings.TrimSpace(code))
	if !ok {
		return LookupResult{}, fmt.Errorf("%s|%s: %w", sys, code, ErrNotFound)
	}
	return LookupResult{
		System:       e.System,
		Code:         e.Code,
		Display:      e.Display,
		Definition:   e.Definition,
		Designations: append([]string(nil), e.Synonyms...),
	}, nil
}

// Translation is one $translate match.
type Translation struct {
	TargetSystem  System
	TargetCode    string
	TargetDisplay string
	Equivalence   string
	Confidence    float64
}

// ConceptMapTranslate returns the mappings of (sourceSystem, code) into
// targetSystem, ordered by confidence descending then target code. An empty
// targetSystem returns mappings into every system. A known code without
// mappings yields an empty result.
func (o *Operations) ConceptMapTranslate(sourceSystem, code, targetSystem string) ([]Translation, error) {
	return translateIn(o.repo.Snapshot(), sourceSystem, code, targetSystem)
}

func translateIn(snap *Snapshot, sourceSystem, code, targetSystem string) ([]Translation, error) {
	src, err := ParseSystem(sourceSystem)
	if err != nil {
		return nil, err
	}
	var tgt System
	if strings.TrimSpace(targetSystem) != "" {
		if tgt, err = ParseSystem(targetSystem); err != nil {
			return nil, err
		}
	}
	code = strings.TrimSpace(code)
	if _, ok := snap.Lookup(src, code); !ok {
		return nil, fmt.Errorf("%s|%s: %w", src, code, ErrNotFound)
	}

	out := []Translation{}
	for _, m := range snap.outgoing[EntryKey{System: src, Code: code}] {
		if tgt != "" && m.TargetSystem != tgt {
			continue
		}
		target, _ := snap.Lookup(m.TargetSystem, m.TargetCode)
		out = append(out, Translation{
			TargetSystem:  m.TargetSystem,
			TargetCode:    m.TargetCode,
			TargetDisplay: target.Display,
			Equivalence:   m.Relation.Equivalence(),
			Confidence:    m.Confidence,
		})
	}
	return out, nil
}

// ExpansionItem is one member of an expanded value set.
type ExpansionItem struct {
	System  System `json:"system"`
	Code    string `json:"code"`
	Display string `json:"display"`
}

// ValueSetExpand enumerates entries of systemFilter (empty or ALL for every
// system). With a text filter the search engine ranks the members; otherwise
// entries are listed in (system, code) order. The second return value is the
// number of members before truncation.
func (o *Operations) ValueSetExpand(ctx context.Context, systemFilter, textFilter string, limit int) ([]ExpansionItem, int, error) {
	return o.expandIn(ctx, o.repo.Snapshot(), systemFilter, textFilter, limit)
}

func (o *Operations) expandIn(ctx context.Context, snap *Snapshot, systemFilter, textFilter string, limit int) ([]ExpansionItem, int, error) {
	var sys System
	if f := strings.TrimSpace(systemFilter); f != "" && !strings.EqualFold(f, SystemAll) {
		s, err := ParseSystem(f)
		if err != nil {
			return nil, 0, err
		}
		sys = s
	}

	if strings.TrimSpace(textFilter) != "" {
		if limit <= 0 || limit > MaxLimit {
			limit = MaxLimit
		}
		results, matched, err := o.engine.RankIn(ctx, snap, Query{Text: textFilter, System: string(sys), Limit: limit})
		if err != nil {
			return nil, 0, err
		}
		items := make([]ExpansionItem, 0, len(results))
		for _, r := range results {
			items = append(items, ExpansionItem{System: r.System, Code: r.Code, Display: r.Display})
		}
		return items, matched, nil
	}

	if limit <= 0 {
		limit = DefaultExpandCount
	}
	if limit > MaxExpandCount {
		limit = MaxExpandCount
	}
	entries := snap.Entries(sys)
	total := len(entries)
	if len(entries) > limit {
		entries = entries[:limit]
	}
	items := make([]ExpansionItem, 0, len(entries))
	for _, e := range entries {
		items = append(items, ExpansionItem{System: e.System, Code: e.Code, Display: e.Display})
	}
	return items, total, nil
}

// MappedCount returns how many entries of source have a live mapping into target.
func (o *Operations) MappedCount(source, target System) int {
	snap := o.repo.Snapshot()
	n := 0
	for k, ms := range snap.outgoing {
		if k.System != source {
			continue
		}
		for _, m := range ms {
			if m.TargetSystem == target {
				n++
				break
			}
		}
	}
	return n
}

// Snapshot exposes the snapshot the operations read from.
func (o *Operations) Snapshot() *Snapshot {
	return o.repo.Snapshot()
}
