package terminology

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog"
)

// Service is the explicit handle to the terminology core. It is constructed
// once at startup and passed to whichever component needs it.
type Service struct {
	repo     *Repository
	searcher Searcher
	ops      *Operations
	source   Source
	logger   zerolog.Logger
}

// NewService wires a repository with its search engine and operations.
func NewService(repo *Repository, engine *Engine, source Source, logger zerolog.Logger) *Service {
	return &Service{
		repo:     repo,
		searcher: engine,
		ops:      NewOperations(repo, engine),
		source:   source,
		logger:   logger.With().Str("component", "terminology").Logger(),
	}
}

// UseSearcher replaces the searcher used by Search, e.g. with a CachedSearcher.
func (s *Service) UseSearcher(searcher Searcher) {
	s.searcher = searcher
}

func (s *Service) Repository() *Repository { return s.repo }

func (s *Service) Operations() *Operations { return s.ops }

// Search runs a ranked free-text search.
func (s *Service) Search(ctx context.Context, q Query) ([]RankedResult, error) {
	return s.searcher.Search(ctx, q)
}

// ErrNoSource is returned by Reload when no bulk source is configured.
var ErrNoSource = errors.New("no mapping source configured")

// Reload performs a full reload from the configured bulk source.
func (s *Service) Reload(ctx context.Context) (int, error) {
	if s.source == nil {
		return 0, ErrNoSource
	}
	n, err := s.repo.Load(ctx, s.source)
	if err != nil {
		s.logger.Error().Err(err).Str("source", s.source.Name()).Msg("reload failed")
		return 0, err
	}
	return n, nil
}

// MappingView is an entry with its live mappings, for the REST surface.
type MappingView struct {
	Entry    CodeEntry           `json:"entry"`
	Mappings []MappingTargetView `json:"mappings"`
}

type MappingTargetView struct {
	System      System   `json:"system"`
	Code        string   `json:"code"`
	Display     string   `json:"display"`
	Relation    Relation `json:"relation"`
	Equivalence string   `json:"equivalence"`
	Confidence  int      `json:"confidence"`
	Origin      Origin   `json:"origin,omitempty"`
}

// Mappings returns an entry and its live mappings from one snapshot.
func (s *Service) Mappings(system, code string) (*MappingView, error) {
	sys, err := ParseSystem(system)
	if err != nil {
		return nil, err
	}
	snap := s.repo.Snapshot()
	entry, ok := snap.Lookup(sys, code)
	if !ok {
		return nil, fmt.Errorf("%s %s: %w", sys, code, ErrNotFound)
	}
	view := &MappingView{Entry: entry, Mappings: []MappingTargetView{}}
	for _, m := range snap.Mappings(sys, code) {
		target, _ := snap.Lookup(m.TargetSystem, m.TargetCode)
		view.Mappings = append(view.Mappings, MappingTargetView{
			System:      m.TargetSystem,
			Code:        m.TargetCode,
			Display:     target.Display,
			Relation:    m.Relation,
			Equivalence: m.Relation.Equivalence(),
			Confidence:  Percent(m.Confidence),
			Origin:      m.Origin,
		})
	}
	return view, nil
}

// MaxValidateCodes caps the number of codes checked by one Validate call.
const MaxValidateCodes = 500

// CodeRef names a code in a system.
type CodeRef struct {
	System string `json:"system"`
	Code   string `json:"code"`
}

// CodeValidation is the outcome for one CodeRef.
type CodeValidation struct {
	System  string `json:"system"`
	Code    string `json:"code"`
	Valid   bool   `json:"valid"`
	Display string `json:"display,omitempty"`
	Message string `json:"message,omitempty"`
}

// ValidationReport is the result of Validate.
type ValidationReport struct {
	Valid   bool             `json:"valid"`
	Results []CodeValidation `json:"results"`
}

// Validate checks every ref against one snapshot. Unknown systems and codes
// are reported per ref rather than failing the call.
func (s *Service) Validate(refs []CodeRef) (*ValidationReport, error) {
	if len(refs) == 0 {
		return nil, fmt.Errorf("%w: no codes to validate", ErrInvalid)
	}
	if len(refs) > MaxValidateCodes {
		return nil, fmt.Errorf("%w: at most %d codes per request", ErrInvalid, MaxValidateCodes)
	}
	snap := s.repo.Snapshot()
	report := &ValidationReport{Valid: true, Results: make([]CodeValidation, 0, len(refs))}
	for _, ref := range refs {
		v := CodeValidation{System: ref.System, Code: strings.TrimSpace(ref.Code)}
		sys, err := ParseSystem(ref.System)
		switch {
		case err != nil:
			v.Message = err.Error()
		case v.Code == "":
			v.Message = "code is required"
		default:
			v.System = string(sys)
			if e, ok := snap.Lookup(sys, v.Code); ok {
				v.Valid = true
				v.Display = e.Display
			} else {
				v.Message = ErrNotFound.Error()
			}
		}
		if !v.Valid {
			report.Valid = false
		}
		report.Results = append(report.Results, v)
	}
	return report, nil
}

// Import performs a full reload from an uploaded workbook or CSV. name picks
// the format by extension. The configured source is untouched, so the next
// Reload replaces the imported content.
func (s *Service) Import(ctx context.Context, name string, r io.Reader) (int, error) {
	ext := strings.ToLower(filepath.Ext(name))
	if ext != ".csv" && ext != ".xlsx" {
		return 0, fmt.Errorf("%w: upload must be a .csv or .xlsx file", ErrInvalid)
	}
	tmp, err := os.CreateTemp("", "terminology-upload-*"+ext)
	if err != nil {
		return 0, fmt.Errorf("stage upload: %w", err)
	}
	defer os.Remove(tmp.Name())
	if _, err := io.Copy(tmp, r); err != nil {
		tmp.Close()
		return 0, fmt.Errorf("stage upload: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return 0, fmt.Errorf("stage upload: %w", err)
	}

	src, err := OpenSource(tmp.Name())
	if err != nil {
		return 0, err
	}
	n, err := s.repo.Load(ctx, src)
	if err != nil {
		s.logger.Error().Err(err).Str("upload", name).Msg("import failed")
		return 0, err
	}
	s.logger.Info().Str("upload", name).Int("indexed", n).Msg("terminology imported")
	return n, nil
}

// TranslationView is a ConceptMapTranslate match for the REST surface.
type TranslationView struct {
	System      System `json:"system"`
	Code        string `json:"code"`
	Display     string `json:"display"`
	Equivalence string `json:"equivalence"`
	Confidence  int    `json:"confidence"`
}

// Translate maps (source, code) into target, or every system when target is
// empty.
func (s *Service) Translate(source, code, target string) ([]TranslationView, error) {
	ts, err := s.ops.ConceptMapTranslate(source, code, target)
	if err != nil {
		return nil, err
	}
	out := make([]TranslationView, 0, len(ts))
	for _, t := range ts {
		out = append(out, TranslationView{
			System:      t.TargetSystem,
			Code:        t.TargetCode,
			Display:     t.TargetDisplay,
			Equivalence: t.Equivalence,
			Confidence:  Percent(t.Confidence),
		})
	}
	return out, nil
}
