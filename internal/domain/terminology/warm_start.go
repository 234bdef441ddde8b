package terminology

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/vimalrajaj/MediSyncv/internal/platform/snapshotdb"
)

// SnapshotStore persists published snapshots between process runs.
type SnapshotStore interface {
	Save(ctx context.Context, snap snapshotdb.Snapshot) error
	Load(ctx context.Context) (*snapshotdb.Snapshot, bool, error)
}

// RestoreSnapshot publishes the stored snapshot unless a full load already
// ran. It reports whether stored content was used.
func RestoreSnapshot(ctx context.Context, repo *Repository, store SnapshotStore) (bool, error) {
	stored, ok, err := store.Load(ctx)
	if err != nil {
		return false, fmt.Errorf("restore snapshot: %w", err)
	}
	if !ok {
		return false, nil
	}
	entries := make([]CodeEntry, 0, len(stored.Entries))
	for _, e := range stored.Entries {
		entries = append(entries, CodeEntry{
			System:     System(e.System),
			Code:       e.Code,
			Display:    e.Display,
			Definition: e.Definition,
			Synonyms:   e.Synonyms,
			Confidence: e.Confidence,
			Origin:     Origin(e.Origin),
		})
	}
	mappings := make([]Mapping, 0, len(stored.Mappings))
	for _, m := range stored.Mappings {
		mappings = append(mappings, Mapping{
			SourceSystem: System(m.SourceSystem),
			SourceCode:   m.SourceCode,
			TargetSystem: System(m.TargetSystem),
			TargetCode:   m.TargetCode,
			Confidence:   m.Confidence,
			Relation:     Relation(m.Relation),
			Origin:       Origin(m.Origin),
		})
	}
	return repo.Restore(entries, mappings), nil
}

func toStored(s *Snapshot) snapshotdb.Snapshot {
	out := snapshotdb.Snapshot{Generation: s.Generation(), SavedAt: time.Now().UTC()}
	for _, e := range s.Entries("") {
		out.Entries = append(out.Entries, snapshotdb.Entry{
			System:     string(e.System),
			Code:       e.Code,
			Display:    e.Display,
			Definition: e.Definition,
			Synonyms:   e.Synonyms,
			Confidence: e.Confidence,
			Origin:     string(e.Origin),
		})
	}
	for _, m := range s.AllMappings() {
		out.Mappings = append(out.Mappings, snapshotdb.Mapping{
			SourceSystem: string(m.SourceSystem),
			SourceCode:   m.SourceCode,
			TargetSystem: string(m.TargetSystem),
			TargetCode:   m.TargetCode,
			Confidence:   m.Confidence,
			Relation:     string(m.Relation),
			Origin:       string(m.Origin),
		})
	}
	return out
}

// SaveSnapshot writes s to store synchronously.
func SaveSnapshot(ctx context.Context, store SnapshotStore, s *Snapshot) error {
	if err := store.Save(ctx, toStored(s)); err != nil {
		return fmt.Errorf("save snapshot %d: %w", s.Generation(), err)
	}
	return nil
}

// Persister writes the latest published snapshot to a SnapshotStore in the
// background. Publishes that arrive while a save is running coalesce into
// one follow-up save.
type Persister struct {
	store   SnapshotStore
	pending chan *Snapshot
	logger  zerolog.Logger
}

// NewPersister registers a publish hook on repo and returns the persister.
// Run must be started for anything to be written.
func NewPersister(repo *Repository, store SnapshotStore, logger zerolog.Logger) *Persister {
	p := &Persister{
		store:   store,
		pending: make(chan *Snapshot, 1),
		logger:  logger.With().Str("component", "snapshot-persister").Logger(),
	}
	repo.OnPublish(p.notify)
	return p
}

// notify never blocks: it replaces any snapshot still waiting to be saved.
func (p *Persister) notify(s *Snapshot) {
	for {
		select {
		case p.pending <- s:
			return
		default:
		}
		select {
		case <-p.pending:
		default:
		}
	}
}

// Run saves snapshots until ctx is cancelled.
func (p *Persister) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case s := <-p.pending:
			start := time.Now()
			if err := SaveSnapshot(ctx, p.store, s); err != nil {
				p.logger.Error().Err(err).Uint64("generation", s.Generation()).Msg("snapshot save failed")
				continue
			}
			p.logger.Debug().
				Uint64("generation", s.Generation()).
				Int("entries", s.Len()).
				Dur("duration", time.Since(start)).
				Msg("snapshot saved")
		}
	}
}
