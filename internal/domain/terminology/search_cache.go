package terminology

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Searcher is implemented by Engine and CachedSearcher.
type Searcher interface {
	Search(ctx context.Context, q Query) ([]RankedResult, error)
}

// ResultCache stores serialized search results.
type ResultCache interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
}

// CachedSearcher serves repeated queries from a ResultCache. Keys include the
// snapshot generation, so a publish makes older entries unreachable. Cache
// failures fall through to the engine.
type CachedSearcher struct {
	engine *Engine
	repo   SnapshotSource
	cache  ResultCache
	ttl    time.Duration
	logger zerolog.Logger
}

func NewCachedSearcher(engine *Engine, repo SnapshotSource, cache ResultCache, ttl time.Duration, logger zerolog.Logger) *CachedSearcher {
	return &CachedSearcher{
		engine: engine,
		repo:   repo,
		cache:  cache,
		ttl:    ttl,
		logger: logger.With().Str("component", "search-cache").Logger(),
	}
}

func (c *CachedSearcher) Search(ctx context.Context, q Query) ([]RankedResult, error) {
	p, err := q.prepare()
	if err != nil {
		return nil, err
	}
	snap := c.repo.Snapshot()
	key := cacheKey(snap.Generation(), p)

	if data, ok, err := c.cache.Get(ctx, key); err != nil {
		c.logger.Warn().Err(err).Str("key", key).Msg("search cache get failed")
	} else if ok {
		var results []RankedResult
		if err := json.Unmarshal(data, &results); err == nil {
			return results, nil
		}
	}

	results, _, err := c.engine.search(ctx, snap, p)
	if err != nil {
		return nil, err
	}
	if data, err := json.Marshal(results); err == nil {
		if err := c.cache.Set(ctx, key, data, c.ttl); err != nil {
			c.logger.Warn().Err(err).Str("key", key).Msg("search cache set failed")
		}
	}
	return results, nil
}

func cacheKey(generation uint64, p preparedQuery) string {
	system := string(p.system)
	if system == "" {
		system = strings.ToLower(SystemAll)
	}
	return fmt.Sprintf("search:%d:%s:%d:%s", generation, system, p.limit, p.norm)
}
