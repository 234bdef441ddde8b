package terminology

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
)

type queryable interface {
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
}

// PGSource reads bulk rows from the terminology_reference table.
type PGSource struct {
	db queryable
}

// NewPGSource creates a Postgres backed source. Pass a *pgxpool.Pool or a pgx.Tx.
func NewPGSource(db queryable) *PGSource {
	return &PGSource{db: db}
}

func (s *PGSource) Name() string { return "postgres:terminology_reference" }

func (s *PGSource) ReadRows(ctx context.Context, fn func(Row) error) error {
	rows, err := s.db.Query(ctx,
		`SELECT id, namaste_code, namaste_display, COALESCE(namaste_definition,''),
		        COALESCE(synonyms,''), COALESCE(icd11_tm2_code,''), COALESCE(icd11_tm2_display,''),
		        COALESCE(biomedical_code,''), COALESCE(biomedical_display,''),
		        COALESCE(biomedical_description,''), COALESCE(confidence::text,'')
		 FROM terminology_reference
		 ORDER BY id`)
	if err != nil {
		return fmt.Errorf("terminology reference query: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		if err := ctx.Err(); err != nil {
			return err
		}
		var (
			id       int64
			synonyms string
			r        Row
		)
		if err := rows.Scan(&id, &r.NamasteCode, &r.NamasteDisplay, &r.NamasteDefinition,
			&synonyms, &r.TM2Code, &r.TM2Display,
			&r.BiomedicalCode, &r.BiomedicalDisplay,
			&r.BiomedicalDescription, &r.Confidence); err != nil {
			return fmt.Errorf("terminology reference scan: %w", err)
		}
		r.Line = int(id)
		r.Origin = OriginReference
		if synonyms != "" {
			r.Synonyms = strings.Split(synonyms, "|")
		}
		if err := fn(r); err != nil {
			return err
		}
	}
	return rows.Err()
}
