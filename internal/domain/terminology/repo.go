package terminology

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
)

// Repository is the in-memory store of code entries and mappings. Reads go
// through an atomically published Snapshot and never lock; writers are
// serialized by mu and publish a new snapshot when they finish.
type Repository struct {
	current atomic.Pointer[Snapshot]

	mu        sync.Mutex
	overrides *Overrides
	hooks     []func(*Snapshot)
	seeded    bool // a full load or restore has published content
	logger    zerolog.Logger
}

// NewRepository creates an empty repository.
func NewRepository(logger zerolog.Logger) *Repository {
	r := &Repository{logger: logger.With().Str("component", "repository").Logger()}
	r.current.Store(emptySnapshot())
	return r
}

// Snapshot returns the currently published snapshot.
func (r *Repository) Snapshot() *Snapshot {
	return r.current.Load()
}

// SetOverrides registers curated overrides and applies them immediately.
func (r *Repository) SetOverrides(o *Overrides) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.overrides = o
	b := newBuilder(r.current.Load())
	o.applyTo(b)
	r.publish(b)
}

// OnPublish registers fn to run after every publish. Hooks run while the
// writer lock is held and must not call back into repository writers.
func (r *Repository) OnPublish(fn func(*Snapshot)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.hooks = append(r.hooks, fn)
}

func (r *Repository) publish(b *builder) *Snapshot {
	prev := r.current.Load()
	s := b.build(prev.generation+1, time.Now().UTC())
	r.current.Store(s)
	for _, fn := range r.hooks {
		fn(s)
	}
	return s
}

// Load performs a full reload from src and returns the number of NAMASTE
// entries indexed. Malformed rows are skipped. Entries and mappings obtained
// from the external authority are carried into the new snapshot, and curated
// overrides are applied on top.
func (r *Repository) Load(ctx context.Context, src Source) (int, error) {
	b := newBuilder(nil)
	indexed := make(map[string]struct{})
	skipped := 0

	err := src.ReadRows(ctx, func(row Row) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		entries, mappings, err := row.Normalize()
		if err != nil {
			var pe *ParseError
			if errors.As(err, &pe) {
				skipped++
				r.logger.Warn().Int("row", pe.Row).Str("reason", pe.Reason).Str("source", src.Name()).Msg("skipping malformed row")
				return nil
			}
			return err
		}
		for _, e := range entries {
			if e.System == SystemNamaste {
				if _, seen := indexed[e.Code]; seen {
					b.dropOutgoing(e.Key())
				}
				indexed[e.Code] = struct{}{}
			}
			b.putEntry(e)
		}
		for _, m := range mappings {
			b.putMapping(m)
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("load %s: %w", src.Name(), err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return 0, fmt.Errorf("load %s: %w", src.Name(), err)
	}

	prev := r.current.Load()
	carried := 0
	for k, e := range prev.entries {
		if _, ok := b.entries[k]; !ok && e.Origin == OriginAuthority {
			b.putEntry(e)
			carried++
		}
	}
	for k, m := range prev.mappings {
		if _, ok := b.mappings[k]; !ok && m.Origin == OriginAuthority {
			b.putMapping(m)
		}
	}
	r.overrides.applyTo(b)
	s := r.publish(b)
	r.seeded = true

	r.logger.Info().
		Str("source", src.Name()).
		Int("indexed", len(indexed)).
		Int("skipped", skipped).
		Int("carried", carried).
		Uint64("generation", s.generation).
		Msg("terminology loaded")
	return len(indexed), nil
}

// Restore publishes previously saved content unless a full load has already
// completed. It reports whether the content was used.
func (r *Repository) Restore(entries []CodeEntry, mappings []Mapping) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.seeded {
		return false
	}
	b := newBuilder(nil)
	for _, e := range entries {
		b.putEntry(e)
	}
	for _, m := range mappings {
		b.putMapping(m)
	}
	r.overrides.applyTo(b)
	r.publish(b)
	r.seeded = true
	return true
}

// Upsert inserts or replaces entries keyed by (system, code).
func (r *Repository) Upsert(ctx context.Context, entries ...CodeEntry) error {
	_, err := r.Apply(ctx, Batch{Entries: entries}, ApplyOptions{})
	return err
}

// UpsertMappings inserts or replaces mappings keyed by both endpoints.
func (r *Repository) UpsertMappings(ctx context.Context, mappings ...Mapping) error {
	_, err := r.Apply(ctx, Batch{Mappings: mappings}, ApplyOptions{})
	return err
}

// Batch is a set of writes applied as one publication.
type Batch struct {
	Entries  []CodeEntry
	Mappings []Mapping
}

func (b Batch) Empty() bool {
	return len(b.Entries) == 0 && len(b.Mappings) == 0
}

// ApplyOptions controls how a batch merges with existing content.
type ApplyOptions struct {
	// PreserveCurated keeps existing records whose origin differs from the
	// incoming record's origin.
	PreserveCurated bool
}

// ApplyResult counts the effect of a batch.
type ApplyResult struct {
	Generation       uint64 `json:"generation"`
	EntriesUpserted  int    `json:"entriesUpserted"`
	MappingsUpserted int    `json:"mappingsUpserted"`
	Preserved        int    `json:"preserved"`
}

// Apply merges a batch into the repository and publishes it atomically.
// Validation happens before anything is written, so a rejected batch leaves
// the repository unchanged.
func (r *Repository) Apply(ctx context.Context, batch Batch, opts ApplyOptions) (ApplyResult, error) {
	entries := make([]CodeEntry, 0, len(batch.Entries))
	for _, e := range batch.Entries {
		ne, err := normalizeEntry(e)
		if err != nil {
			return ApplyResult{}, err
		}
		entries = append(entries, ne)
	}
	mappings := make([]Mapping, 0, len(batch.Mappings))
	for _, m := range batch.Mappings {
		nm, err := normalizeMapping(m)
		if err != nil {
			return ApplyResult{}, err
		}
		mappings = append(mappings, nm)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return ApplyResult{}, err
	}

	prev := r.current.Load()
	res := ApplyResult{Generation: prev.generation}
	if len(entries) == 0 && len(mappings) == 0 {
		return res, nil
	}

	b := newBuilder(prev)
	for _, e := range entries {
		if old, ok := b.entries[e.Key()]; ok && opts.PreserveCurated && old.Origin != e.Origin {
			res.Preserved++
			continue
		}
		b.putEntry(e)
		res.EntriesUpserted++
	}
	for _, m := range mappings {
		if old, ok := b.mappings[m.Key()]; ok && opts.PreserveCurated && old.Origin != m.Origin {
			res.Preserved++
			continue
		}
		b.putMapping(m)
		res.MappingsUpserted++
	}
	if res.EntriesUpserted == 0 && res.MappingsUpserted == 0 {
		return res, nil
	}
	res.Generation = r.publish(b).generation
	return res, nil
}

// LookupByCode returns the entry for (system, code) from the current snapshot.
func (r *Repository) LookupByCode(system System, code string) (CodeEntry, error) {
	e, ok := r.Snapshot().Lookup(system, code)
	if !ok {
		return CodeEntry{}, fmt.Errorf("%s %s: %w", system, code, ErrNotFound)
	}
	return e, nil
}

// LookupMappings returns the live mappings out of (system, code).
func (r *Repository) LookupMappings(system System, code string) []Mapping {
	return r.Snapshot().Mappings(system, code)
}

func (r *Repository) Stats() Stats {
	return r.Snapshot().Stats()
}

func normalizeEntry(e CodeEntry) (CodeEntry, error) {
	e.Code = strings.TrimSpace(e.Code)
	e.Display = strings.TrimSpace(e.Display)
	if !e.System.Valid() {
		return e, fmt.Errorf("entry %q: %w: %w", e.Code, ErrInvalid, ErrUnsupportedSystem)
	}
	if e.Code == "" || e.Display == "" {
		return e, fmt.Errorf("entry %s/%q: %w: code and display are required", e.System, e.Code, ErrInvalid)
	}
	if e.Confidence != nil && !validConfidence(*e.Confidence) {
		return e, fmt.Errorf("entry %s/%s: %w: confidence %v outside [0,1]", e.System, e.Code, ErrInvalid, *e.Confidence)
	}
	return e, nil
}

func normalizeMapping(m Mapping) (Mapping, error) {
	m.SourceCode = strings.TrimSpace(m.SourceCode)
	m.TargetCode = strings.TrimSpace(m.TargetCode)
	if !m.SourceSystem.Valid() || !m.TargetSystem.Valid() {
		return m, fmt.Errorf("mapping %s->%s: %w: %w", m.SourceCode, m.TargetCode, ErrInvalid, ErrUnsupportedSystem)
	}
	if m.SourceCode == "" || m.TargetCode == "" {
		return m, fmt.Errorf("mapping %s->%s: %w: both codes are required", m.SourceSystem, m.TargetSystem, ErrInvalid)
	}
	if !validConfidence(m.Confidence) {
		return m, fmt.Errorf("mapping %s->%s: %w: confidence %v outside [0,1]", m.SourceCode, m.TargetCode, ErrInvalid, m.Confidence)
	}
	if m.Relation == "" {
		m.Relation = RelationRelated
	}
	return m, nil
}
