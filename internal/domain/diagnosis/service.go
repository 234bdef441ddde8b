package diagnosis

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/vimalrajaj/MediSyncv/internal/platform/events"
)

// NewSession builds a session from an assembled bundle.
func NewSession(meta SessionMeta, entries []Entry, b *BundleSnapshot) *Session {
	id, err := uuid.Parse(b.ID)
	if err != nil {
		id = uuid.New()
	}
	return &Session{
		ID:            id,
		PatientRef:    meta.PatientRef,
		ClinicianName: meta.ClinicianName,
		Entries:       append([]Entry(nil), entries...),
		FHIRBundle:    b.JSON,
		TotalCodes:    b.TotalCodes,
		CreatedAt:     b.Timestamp,
	}
}

type Service struct {
	assembler *Assembler
	store     SessionStore
	publisher events.Publisher
	logger    zerolog.Logger
}

func NewService(assembler *Assembler, store SessionStore, publisher events.Publisher, logger zerolog.Logger) *Service {
	if publisher == nil {
		publisher = events.NopPublisher{}
	}
	return &Service{
		assembler: assembler,
		store:     store,
		publisher: publisher,
		logger:    logger.With().Str("component", "diagnosis").Logger(),
	}
}

// CreateSession assembles and stores a session. Nothing is stored when
// assembly fails.
func (s *Service) CreateSession(ctx context.Context, meta SessionMeta, entries []Entry) (*Session, error) {
	b, err := s.assembler.Assemble(entries, meta)
	if err != nil {
		return nil, err
	}
	sess := NewSession(meta, entries, b)
	if err := s.store.Create(ctx, sess); err != nil {
		return nil, fmt.Errorf("store session: %w", err)
	}
	s.logger.Info().Str("session_id", sess.ID.String()).Int("total_codes", sess.TotalCodes).Msg("diagnosis session created")

	if err := s.publisher.Publish(ctx, events.TypeSessionCreated, map[string]interface{}{
		"sessionId":  sess.ID.String(),
		"patientRef": sess.PatientRef,
		"totalCodes": sess.TotalCodes,
	}); err != nil {
		s.logger.Warn().Err(err).Str("session_id", sess.ID.String()).Msg("session event not published")
	}
	return sess, nil
}

func (s *Service) GetSession(ctx context.Context, id uuid.UUID) (*Session, error) {
	return s.store.GetByID(ctx, id)
}

func (s *Service) ListSessions(ctx context.Context, patientRef string, limit, offset int) ([]*Session, int, error) {
	return s.store.List(ctx, patientRef, limit, offset)
}
