package diagnosis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

type queryable interface {
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
}

type sessionStorePG struct{ db queryable }

// NewSessionStorePG stores sessions in the diagnosis_sessions table.
func NewSessionStorePG(db queryable) SessionStore {
	return &sessionStorePG{db: db}
}

const sessionCols = `id, patient_ref, COALESCE(clinician_name, ''), entries, fhir_bundle, total_codes, created_at`

func scanSession(row pgx.Row) (*Session, error) {
	var (
		s       Session
		entries []byte
		bundle  []byte
	)
	if err := row.Scan(&s.ID, &s.PatientRef, &s.ClinicianName, &entries, &bundle, &s.TotalCodes, &s.CreatedAt); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(entries, &s.Entries); err != nil {
		return nil, fmt.Errorf("decode session entries: %w", err)
	}
	s.FHIRBundle = json.RawMessage(bundle)
	return &s, nil
}

func (r *sessionStorePG) Create(ctx context.Context, s *Session) error {
	entries, err := json.Marshal(s.Entries)
	if err != nil {
		return fmt.Errorf("encode session entries: %w", err)
	}
	_, err = r.db.Exec(ctx, `
		INSERT INTO diagnosis_sessions (id, patient_ref, clinician_name, entries, fhir_bundle, total_codes, created_at)
		VALUES ($1,$2,NULLIF($3,''),$4,$5,$6,$7)`,
		s.ID, s.PatientRef, s.ClinicianName, entries, []byte(s.FHIRBundle), s.TotalCodes, s.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert diagnosis session: %w", err)
	}
	return nil
}

func (r *sessionStorePG) GetByID(ctx context.Context, id uuid.UUID) (*Session, error) {
	s, err := scanSession(r.db.QueryRow(ctx, `SELECT `+sessionCols+` FROM diagnosis_sessions WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrSessionNotFound
	}
	return s, err
}

func (r *sessionStorePG) List(ctx context.Context, patientRef string, limit, offset int) ([]*Session, int, error) {
	var total int
	if err := r.db.QueryRow(ctx,
		`SELECT COUNT(*) FROM diagnosis_sessions WHERE ($1 = '' OR patient_ref = $1)`, patientRef,
	).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := r.db.Query(ctx, `SELECT `+sessionCols+` FROM diagnosis_sessions
		WHERE ($1 = '' OR patient_ref = $1)
		ORDER BY created_at DESC, id
		LIMIT $2 OFFSET $3`, patientRef, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var items []*Session
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, s)
	}
	return items, total, rows.Err()
}
