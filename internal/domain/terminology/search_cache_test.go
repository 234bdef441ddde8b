package terminology

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

type memoryCache struct {
	mu     sync.Mutex
	data   map[string][]byte
	gets   int
	sets   int
	getErr error
	setErr error
}

func newMemoryCache() *memoryCache {
	return &memoryCache{data: make(map[string][]byte)}
}

func (c *memoryCache) Get(_ context.Context, key string) ([]byte, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.gets++
	if c.getErr != nil {
		return nil, false, c.getErr
	}
	v, ok := c.data[key]
	return v, ok, nil
}

func (c *memoryCache) Set(_ context.Context, key string, value []byte, _ time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sets++
	if c.setErr != nil {
		return c.setErr
	}
	c.data[key] = value
	return nil
}

func (c *memoryCache) keys() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []string
	for k := range c.data {
		out = append(out, k)
	}
	return out
}

func TestCachedSearcher_CachesByGeneration(t *testing.T) {
	repo := newTestRepo(t)
	cache := newMemoryCache()
	s := NewCachedSearcher(NewEngine(repo, DefaultWeighting()), repo, cache, time.Minute, zerolog.Nop())
	ctx := context.Background()

	first, err := s.Search(ctx, Query{Text: "Vata", System: "all"})
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if cache.sets != 1 {
		t.Fatalf("expected 1 cache write, got %d", cache.sets)
	}
	keys := cache.keys()
	if len(keys) != 1 || !strings.HasSuffix(keys[0], ":all:10:vata") {
		t.Errorf("unexpected cache keys: %v", keys)
	}

	second, err := s.Search(ctx, Query{Text: "  vata "})
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if cache.sets != 1 {
		t.Errorf("expected cache hit, got %d writes", cache.sets)
	}
	if len(second) != len(first) || second[0].Code != first[0].Code {
		t.Errorf("cached results differ: %+v vs %+v", second, first)
	}

	if err := repo.Upsert(ctx, CodeEntry{System: SystemNamaste, Code: "NAM050", Display: "Vatarakta"}); err != nil {
		t.Fatalf("Upsert: %v", err)
	}
	third, err := s.Search(ctx, Query{Text: "vata"})
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if cache.sets != 2 {
		t.Errorf("expected new generation to miss the cache, got %d writes", cache.sets)
	}
	if len(third) != len(first)+1 {
		t.Errorf("expected new entry in results, got %d vs %d", len(third), len(first))
	}
}

func TestCachedSearcher_FallsThroughOnCacheErrors(t *testing.T) {
	repo := newTestRepo(t)
	cache := newMemoryCache()
	cache.getErr = errors.New("connection refused")
	cache.setErr = errors.New("connection refused")
	s := NewCachedSearcher(NewEngine(repo, DefaultWeighting()), repo, cache, time.Minute, zerolog.Nop())

	results, err := s.Search(context.Background(), Query{Text: "vata"})
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(results) == 0 || results[0].Code != "NAM001" {
		t.Errorf("unexpected results: %+v", results)
	}
}

func TestCachedSearcher_ValidatesBeforeCache(t *testing.T) {
	cache := newMemoryCache()
	s := NewCachedSearcher(NewEngine(panicSnapshots{t: t}, DefaultWeighting()), panicSnapshots{t: t}, cache, time.Minute, zerolog.Nop())
	if _, err := s.Search(context.Background(), Query{Text: "x"}); !errors.Is(err, ErrEmptyQuery) {
		t.Errorf("expected ErrEmptyQuery, got %v", err)
	}
	if cache.gets != 0 {
		t.Error("cache must not be consulted for invalid queries")
	}
}
