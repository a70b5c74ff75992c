package application

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/dbpilot/dbpilot/infrastructure/llm"
	"github.com/dbpilot/dbpilot/infrastructure/storage/memory"
)

func testBuilder(t *testing.T, builds *int) BuildFunc {
	t.Helper()
	return func(_ context.Context, sessionID int64) (*Orchestrator, error) {
		if builds != nil {
			*builds++
		}
		return New(Config{
			SessionID: sessionID,
			Provider:  llm.NewScripted(),
			Registry:  memory.NewToolRegistry(),
		})
	}
}

func TestSessionCacheReturnsSameInstance(t *testing.T) {
	t.Parallel()

	builds := 0
	cache := NewSessionCache(time.Minute, testBuilder(t, &builds))

	a, err := cache.GetOrCreate(context.Background(), 1)
	if err != nil {
		t.Fatalf("GetOrCreate() error = %v", err)
	}
	b, err := cache.GetOrCreate(context.Background(), 1)
	if err != nil {
		t.Fatal(err)
	}
	if a != b {
		t.Error("fresh hit must return the cached instance")
	}
	if builds != 1 {
		t.Errorf("builds = %d", builds)
	}
	if cache.Len() != 1 {
		t.Errorf("Len() = %d", cache.Len())
	}
}

func TestSessionCacheExpiry(t *testing.T) {
	t.Parallel()

	builds := 0
	cache := NewSessionCache(10*time.Minute, testBuilder(t, &builds))
	clock := time.Date(2026, 8, 24, 12, 0, 0, 0, time.UTC)
	cache.now = func() time.Time { return clock }

	a, err := cache.GetOrCreate(context.Background(), 1)
	if err != nil {
		t.Fatal(err)
	}

	// Access within the TTL refreshes it.
	clock = clock.Add(9 * time.Minute)
	b, _ := cache.GetOrCreate(context.Background(), 1)
	if a != b {
		t.Fatal("entry expired too early")
	}

	// The refresh pushed the deadline forward.
	clock = clock.Add(9 * time.Minute)
	c, _ := cache.GetOrCreate(context.Background(), 1)
	if a != c {
		t.Fatal("refresh did not extend the TTL")
	}

	// Idle past the TTL forces a rebuild.
	clock = clock.Add(11 * time.Minute)
	d, err := cache.GetOrCreate(context.Background(), 1)
	if err != nil {
		t.Fatal(err)
	}
	if a == d {
		t.Error("expired entry should be rebuilt")
	}
	if builds != 2 {
		t.Errorf("builds = %d", builds)
	}
}

func TestSessionCacheEvict(t *testing.T) {
	t.Parallel()

	builds := 0
	cache := NewSessionCache(time.Minute, testBuilder(t, &builds))

	a, _ := cache.GetOrCreate(context.Background(), 1)
	cache.Evict(1)
	b, _ := cache.GetOrCreate(context.Background(), 1)
	if a == b {
		t.Error("evicted session should be rebuilt")
	}
	if builds != 2 {
		t.Errorf("builds = %d", builds)
	}
}

func TestSessionCacheCleanupExpired(t *testing.T) {
	t.Parallel()

	cache := NewSessionCache(10*time.Minute, testBuilder(t, nil))
	clock := time.Date(2026, 8, 24, 12, 0, 0, 0, time.UTC)
	cache.now = func() time.Time { return clock }

	for id := int64(1); id <= 3; id++ {
		if _, err := cache.GetOrCreate(context.Background(), id); err != nil {
			t.Fatal(err)
		}
	}

	clock = clock.Add(5 * time.Minute)
	if _, err := cache.GetOrCreate(context.Background(), 3); err != nil {
		t.Fatal(err)
	}

	clock = clock.Add(6 * time.Minute)
	if n := cache.CleanupExpired(); n != 2 {
		t.Errorf("cleaned = %d, want the two idle sessions", n)
	}
	if cache.Len() != 1 {
		t.Errorf("Len() = %d", cache.Len())
	}
}

func TestSessionCacheBuildFailure(t *testing.T) {
	t.Parallel()

	cache := NewSessionCache(time.Minute, func(_ context.Context, _ int64) (*Orchestrator, error) {
		return nil, ErrSessionNotFound
	})
	if _, err := cache.GetOrCreate(context.Background(), 42); !errors.Is(err, ErrSessionNotFound) {
		t.Errorf("error = %v, want ErrSessionNotFound", err)
	}
	if cache.Len() != 0 {
		t.Error("failed builds must not be cached")
	}
}
