package terminology

import (
	"slices"
	"sort"
	"strings"
	"time"
)

// Snapshot is an immutable view of the repository. Readers hold one snapshot
// for the duration of an operation; writers publish a new one.
type Snapshot struct {
	generation  uint64
	publishedAt time.Time
	entries     map[EntryKey]CodeEntry
	mappings    map[MappingKey]Mapping
	outgoing    map[EntryKey][]Mapping // live mappings, sorted by confidence desc then target code
	ordered     []CodeEntry            // sorted by system then code
}

func emptySnapshot() *Snapshot {
	return newBuilder(nil).build(0, time.Time{})
}

func (s *Snapshot) Generation() uint64 {
	return s.generation
}

func (s *Snapshot) PublishedAt() time.Time {
	return s.publishedAt
}

// Len returns the number of entries across all systems.
func (s *Snapshot) Len() int {
	return len(s.ordered)
}

// Lookup returns the entry for (system, code).
func (s *Snapshot) Lookup(system System, code string) (CodeEntry, bool) {
	e, ok := s.entries[EntryKey{System: system, Code: code}]
	return e, ok
}

// Mappings returns the live mappings out of (system, code), sorted by confidence
// descending with ties broken by target code ascending.
func (s *Snapshot) Mappings(system System, code string) []Mapping {
	return slices.Clone(s.outgoing[EntryKey{System: system, Code: code}])
}

// TopMapping returns the highest ranked live mapping from (system, code) into target.
func (s *Snapshot) TopMapping(system System, code string, target System) (Mapping, CodeEntry, bool) {
	for _, m := range s.outgoing[EntryKey{System: system, Code: code}] {
		if m.TargetSystem != target {
			continue
		}
		te, ok := s.entries[m.targetKey()]
		if !ok {
			continue
		}
		return m, te, true
	}
	return Mapping{}, CodeEntry{}, false
}

// Entries returns all entries of system sorted by code. An empty system returns
// every entry ordered by system then code.
func (s *Snapshot) Entries(system System) []CodeEntry {
	if system == "" {
		return slices.Clone(s.ordered)
	}
	lo := sort.Search(len(s.ordered), func(i int) bool { return s.ordered[i].System >= system })
	hi := sort.Search(len(s.ordered), func(i int) bool { return s.ordered[i].System > system })
	return slices.Clone(s.ordered[lo:hi])
}

// AllMappings returns every stored mapping, including inert ones, in key order.
func (s *Snapshot) AllMappings() []Mapping {
	out := make([]Mapping, 0, len(s.mappings))
	for _, m := range s.mappings {
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool { return mappingKeyLess(out[i].Key(), out[j].Key()) })
	return out
}

// Live reports whether both endpoints of m exist in the snapshot.
func (s *Snapshot) Live(m Mapping) bool {
	_, src := s.entries[m.sourceKey()]
	_, tgt := s.entries[m.targetKey()]
	return src && tgt
}

// Stats summarizes a snapshot.
type Stats struct {
	Generation   uint64         `json:"generation"`
	PublishedAt  *time.Time     `json:"publishedAt,omitempty"`
	Entries      map[System]int `json:"entries"`
	Mappings     int            `json:"mappings"`
	LiveMappings int            `json:"liveMappings"`
}

func (s *Snapshot) Stats() Stats {
	st := Stats{
		Generation: s.generation,
		Entries:    make(map[System]int, len(Systems)),
		Mappings:   len(s.mappings),
	}
	if !s.publishedAt.IsZero() {
		t := s.publishedAt
		st.PublishedAt = &t
	}
	for _, sys := range Systems {
		st.Entries[sys] = 0
	}
	for _, e := range s.ordered {
		st.Entries[e.System]++
	}
	for _, ms := range s.outgoing {
		st.LiveMappings += len(ms)
	}
	return st
}

// builder accumulates a private copy of the index before publication.
type builder struct {
	entries  map[EntryKey]CodeEntry
	mappings map[MappingKey]Mapping
}

func newBuilder(base *Snapshot) *builder {
	b := &builder{
		entries:  make(map[EntryKey]CodeEntry),
		mappings: make(map[MappingKey]Mapping),
	}
	if base != nil {
		for k, v := range base.entries {
			b.entries[k] = v
		}
		for k, v := range base.mappings {
			b.mappings[k] = v
		}
	}
	return b
}

func (b *builder) putEntry(e CodeEntry) {
	e.Synonyms = slices.Clone(e.Synonyms)
	if e.Confidence != nil {
		c := *e.Confidence
		e.Confidence = &c
	}
	b.entries[e.Key()] = e
}

func (b *builder) putMapping(m Mapping) {
	b.mappings[m.Key()] = m
}

// dropOutgoing removes every mapping whose source is k.
func (b *builder) dropOutgoing(k EntryKey) {
	for mk, m := range b.mappings {
		if m.sourceKey() == k {
			delete(b.mappings, mk)
		}
	}
}

func (b *builder) build(generation uint64, at time.Time) *Snapshot {
	s := &Snapshot{
		generation:  generation,
		publishedAt: at,
		entries:     b.entries,
		mappings:    b.mappings,
		outgoing:    make(map[EntryKey][]Mapping),
		ordered:     make([]CodeEntry, 0, len(b.entries)),
	}
	for _, e := range b.entries {
		s.ordered = append(s.ordered, e)
	}
	sort.Slice(s.ordered, func(i, j int) bool {
		if s.ordered[i].System != s.ordered[j].System {
			return s.ordered[i].System < s.ordered[j].System
		}
		return s.ordered[i].Code < s.ordered[j].Code
	})
	for _, m := range b.mappings {
		if !s.Live(m) {
			continue
		}
		k := m.sourceKey()
		s.outgoing[k] = append(s.outgoing[k], m)
	}
	for _, ms := range s.outgoing {
		sortMappings(ms)
	}
	// the builder must not be reused once its maps back a snapshot
	b.entries, b.mappings = nil, nil
	return s
}

func sortMappings(ms []Mapping) {
	sort.Slice(ms, func(i, j int) bool {
		if ms[i].Confidence != ms[j].Confidence {
			return ms[i].Confidence > ms[j].Confidence
		}
		if ms[i].TargetCode != ms[j].TargetCode {
			return ms[i].TargetCode < ms[j].TargetCode
		}
		return ms[i].TargetSystem < ms[j].TargetSystem
	})
}

func mappingKeyLess(a, b MappingKey) bool {
	if c := strings.Compare(string(a.SourceSystem), string(b.SourceSystem)); c != 0 {
		return c < 0
	}
	if c := strings.Compare(a.SourceCode, b.SourceCode); c != 0 {
		return c < 0
	}
	if c := strings.Compare(string(a.TargetSystem), string(b.TargetSystem)); c != 0 {
		return c < 0
	}
	return a.TargetCode < b.TargetCode
}
