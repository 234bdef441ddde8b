// Package termsync keeps the terminology repository in step with the WHO
// ICD-11 API.
package termsync

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/vimalrajaj/MediSyncv/internal/domain/terminology"
	"github.com/vimalrajaj/MediSyncv/internal/platform/events"
	"github.com/vimalrajaj/MediSyncv/internal/platform/icd11"
)

// Authority is the subset of the ICD-11 client a cycle needs.
type Authority interface {
	Search(ctx context.Context, release, linearization, term string) ([]icd11.Entity, error)
	Entity(ctx context.Context, release, linearization, id string) (*icd11.Entity, error)
}

// Config controls what a cycle fetches.
type Config struct {
	Release string
	Terms   []string
	// PerTerm caps how many results per system are kept for each term.
	PerTerm int
	// CycleTimeout bounds a whole cycle.
	CycleTimeout time.Duration
}

// Synchronizer runs sync cycles. At most one cycle is in flight at a time.
type Synchronizer struct {
	repo      *terminology.Repository
	authority Authority
	publisher events.Publisher
	cfg       Config
	logger    zerolog.Logger

	running atomic.Bool
	mu      sync.RWMutex
	state   State

	life   context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a synchronizer. authority may be nil, in which case every
// trigger returns ErrDisabled.
func New(repo *terminology.Repository, authority Authority, publisher events.Publisher, cfg Config, logger zerolog.Logger) *Synchronizer {
	if cfg.PerTerm <= 0 {
		cfg.PerTerm = 5
	}
	if cfg.CycleTimeout <= 0 {
		cfg.CycleTimeout = 10 * time.Minute
	}
	if publisher == nil {
		publisher = events.NopPublisher{}
	}
	life, cancel := context.WithCancel(context.Background())
	return &Synchronizer{
		repo:      repo,
		authority: authority,
		publisher: publisher,
		cfg:       cfg,
		logger:    logger.With().Str("component", "termsync").Logger(),
		state:     State{Status: StatusIdle},
		life:      life,
		cancel:    cancel,
	}
}

// Enabled reports whether an authority client is configured.
func (s *Synchronizer) Enabled() bool {
	return s.authority != nil
}

// State returns a copy of the current sync state.
func (s *Synchronizer) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st := s.state
	if st.LastSyncedAt != nil {
		t := *st.LastSyncedAt
		st.LastSyncedAt = &t
	}
	return st
}

// TriggerSync starts a cycle in the background and returns immediately.
// The cycle is bound to the synchronizer's lifetime, not to ctx, so a trigger
// from a short-lived request still completes.
func (s *Synchronizer) TriggerSync(ctx context.Context) (Result, error) {
	if !s.Enabled() {
		return "", ErrDisabled
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if !s.running.CompareAndSwap(false, true) {
		s.logger.Debug().Msg("sync already running, trigger skipped")
		return Skipped, nil
	}
	attempt := s.begin()
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		_ = s.cycle(s.life, attempt)
	}()
	return Started, nil
}

// RunOnce runs a cycle synchronously and returns its final state.
func (s *Synchronizer) RunOnce(ctx context.Context) (State, error) {
	if !s.Enabled() {
		return s.State(), ErrDisabled
	}
	if !s.running.CompareAndSwap(false, true) {
		return s.State(), ErrAlreadyRunning
	}
	err := s.cycle(ctx, s.begin())
	return s.State(), err
}

// Wait blocks until background cycles started by TriggerSync have returned.
func (s *Synchronizer) Wait() {
	s.wg.Wait()
}

// Shutdown cancels an in-flight cycle and waits for it to return.
func (s *Synchronizer) Shutdown(ctx context.Context) error {
	s.cancel()
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Synchronizer) begin() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state.Status = StatusRunning
	s.state.Attempts++
	return s.state.Attempts
}

// cycle must be entered with running set; it clears the flag on return.
func (s *Synchronizer) cycle(ctx context.Context, attempt int) error {
	defer s.running.Store(false)
	ctx, cancel := context.WithTimeout(ctx, s.cfg.CycleTimeout)
	defer cancel()

	start := time.Now()
	s.logger.Info().Int("attempt", attempt).Str("release", s.cfg.Release).Int("terms", len(s.cfg.Terms)).Msg("sync started")

	batch, err := s.fetch(ctx)
	var res terminology.ApplyResult
	if err == nil {
		res, err = s.repo.Apply(ctx, batch, terminology.ApplyOptions{PreserveCurated: true})
	}
	d := time.Since(start)

	if err != nil {
		serr := classify(err)
		s.mu.Lock()
		s.state.Status = StatusFailed
		s.state.LastError = serr.Error()
		s.state.LastDuration = d
		s.mu.Unlock()
		s.logger.Error().Err(serr.Err).Int("attempt", attempt).Str("status", string(StatusFailed)).
			Str("kind", string(serr.Kind)).Dur("duration", d).Msg("sync failed")
		return serr
	}

	now := time.Now().UTC()
	s.mu.Lock()
	s.state.Status = StatusIdle
	s.state.LastError = ""
	s.state.LastSyncedAt = &now
	s.state.SourceVersion = s.cfg.Release
	s.state.LastDuration = d
	s.state.EntriesUpserted = res.EntriesUpserted
	s.state.MappingsUpserted = res.MappingsUpserted
	s.state.Preserved = res.Preserved
	s.mu.Unlock()

	s.logger.Info().Int("attempt", attempt).Str("status", string(StatusIdle)).
		Int("entries", res.EntriesUpserted).Int("mappings", res.MappingsUpserted).
		Int("preserved", res.Preserved).Uint64("generation", res.Generation).
		Dur("duration", d).Msg("sync completed")

	if err := s.publisher.Publish(ctx, events.TypeSyncCompleted, map[string]interface{}{
		"sourceVersion":    s.cfg.Release,
		"generation":       res.Generation,
		"entriesUpserted":  res.EntriesUpserted,
		"mappingsUpserted": res.MappingsUpserted,
	}); err != nil {
		s.logger.Warn().Err(err).Msg("sync event not published")
	}
	return nil
}

// fetch collects one merged batch for every seed term. Any error aborts the
// whole cycle so the repository never sees a partial sync.
func (s *Synchronizer) fetch(ctx context.Context) (terminology.Batch, error) {
	var batch terminology.Batch
	snap := s.repo.Snapshot()
	namaste := snap.Entries(terminology.SystemNamaste)
	seen := make(map[terminology.EntryKey]bool)

	for _, term := range s.cfg.Terms {
		term = strings.TrimSpace(term)
		if term == "" {
			continue
		}
		found, err := s.authority.Search(ctx, s.cfg.Release, icd11.LinearizationMMS, term)
		if err != nil {
			return terminology.Batch{}, fmt.Errorf("search %q: %w", term, err)
		}

		var tm2, bio []icd11.Entity
		for _, e := range found {
			if e.Title == "" {
				continue
			}
			if e.IsTM2() {
				if len(tm2) < s.cfg.PerTerm {
					tm2 = append(tm2, e)
				}
			} else if len(bio) < s.cfg.PerTerm {
				bio = append(bio, e)
			}
		}

		for _, group := range []struct {
			system   terminology.System
			entities []icd11.Entity
		}{
			{terminology.SystemTM2, tm2},
			{terminology.SystemBiomedical, bio},
		} {
			for i, e := range group.entities {
				entry := toEntry(group.system, e)
				if i == 0 {
					// Only the best hit is worth a second request for its definition.
					full, err := s.authority.Entity(ctx, s.cfg.Release, icd11.LinearizationMMS, e.ID)
					if err != nil {
						return terminology.Batch{}, fmt.Errorf("entity %s: %w", e.Code, err)
					}
					entry.Definition = full.Definition
					entry.Synonyms = mergeSynonyms(entry.Synonyms, full.Synonyms)
				}
				if !seen[entry.Key()] {
					seen[entry.Key()] = true
					batch.Entries = append(batch.Entries, entry)
				}
			}
			if len(group.entities) == 0 {
				continue
			}
			top := group.entities[0]
			for _, n := range namaste {
				if !matchesTerm(n, term) {
					continue
				}
				batch.Mappings = append(batch.Mappings, terminology.Mapping{
					SourceSystem: terminology.SystemNamaste,
					SourceCode:   n.Code,
					TargetSystem: group.system,
					TargetCode:   top.Code,
					Confidence:   clamp(top.Score),
					Relation:     terminology.RelationRelated,
					Origin:       terminology.OriginAuthority,
				})
			}
		}
	}
	return batch, nil
}

func toEntry(system terminology.System, e icd11.Entity) terminology.CodeEntry {
	return terminology.CodeEntry{
		System:   system,
		Code:     e.Code,
		Display:  e.Title,
		Synonyms: e.Synonyms,
		Origin:   terminology.OriginAuthority,
	}
}

func matchesTerm(e terminology.CodeEntry, term string) bool {
	t := terminology.Normalize(term)
	if t == "" {
		return false
	}
	contains := func(s string) bool {
		return strings.Contains(" "+terminology.Normalize(s)+" ", " "+t+" ")
	}
	if contains(e.Display) {
		return true
	}
	for _, syn := range e.Synonyms {
		if contains(syn) {
			return true
		}
	}
	return false
}

func mergeSynonyms(a, b []string) []string {
	out := append([]string(nil), a...)
	for _, s := range b {
		dup := false
		for _, x := range out {
			if strings.EqualFold(x, s) {
				dup = true
				break
			}
		}
		if !dup {
			out = append(out, s)
		}
	}
	return out
}

func clamp(score float64) float64 {
	switch {
	case score < 0:
		return 0
	case score > 1:
		return 1
	}
	return score
}

func classify(err error) *SyncError {
	var serr *SyncError
	if errors.As(err, &serr) {
		return serr
	}
	switch {
	case errors.Is(err, icd11.ErrUnauthorized):
		return &SyncError{Kind: AuthFailure, Err: err}
	case errors.Is(err, icd11.ErrRateLimited):
		return &SyncError{Kind: RateLimited, Err: err}
	}
	return &SyncError{Kind: NetworkFailure, Err: err}
}
