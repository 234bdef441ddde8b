package diagnosis

import (
	"context"
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/vimalrajaj/MediSyncv/pkg/pagination"
)

// SessionStore persists diagnosis sessions.
type SessionStore interface {
	Create(ctx context.Context, s *Session) error
	GetByID(ctx context.Context, id uuid.UUID) (*Session, error)
	// List returns sessions newest first, optionally filtered by patient,
	// along with the unpaged total.
	List(ctx context.Context, patientRef string, limit, offset int) ([]*Session, int, error)
}

// MemoryStore keeps sessions in process memory. It is used when no database
// is configured.
type MemoryStore struct {
	mu       sync.RWMutex
	sessions map[uuid.UUID]*Session
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{sessions: make(map[uuid.UUID]*Session)}
}

func (m *MemoryStore) Create(_ context.Context, s *Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *s
	m.sessions[s.ID] = &cp
	return nil
}

func (m *MemoryStore) GetByID(_ context.Context, id uuid.UUID) (*Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[id]
	if !ok {
		return nil, ErrSessionNotFound
	}
	cp := *s
	return &cp, nil
}

func (m *MemoryStore) List(_ context.Context, patientRef string, limit, offset int) ([]*Session, int, error) {
	m.mu.RLock()
	matched := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		if patientRef == "" || s.PatientRef == patientRef {
			cp := *s
			matched = append(matched, &cp)
		}
	}
	m.mu.RUnlock()

	sort.Slice(matched, func(i, j int) bool {
		if !matched[i].CreatedAt.Equal(matched[j].CreatedAt) {
			return matched[i].CreatedAt.After(matched[j].CreatedAt)
		}
		return matched[i].ID.String() < matched[j].ID.String()
	})
	total := len(matched)
	if limit <= 0 {
		limit = total
	}
	lo, hi := pagination.Params{Limit: limit, Offset: offset}.Window(total)
	return matched[lo:hi], total, nil
}
