package application

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/dbpilot/dbpilot/infrastructure/logging"
)

// Session cache errors.
var (
	// ErrSessionNotFound is returned when the session ID has no persisted
	// state to rebuild from.
	ErrSessionNotFound = errors.New("session not found")
)

// DefaultSessionTTL is how long an idle session stays cached.
const DefaultSessionTTL = 30 * time.Minute

// BuildFunc constructs an orchestrator for a session on a cache miss,
// resolving its connection and provider from persistent storage and
// replaying history.
type BuildFunc func(ctx context.Context, sessionID int64) (*Orchestrator, error)

type cachedSession struct {
	orch     *Orchestrator
	lastUsed time.Time
}

// SessionCache keeps one orchestrator per active session, rebuilding
// expired or evicted entries from storage on demand.
type SessionCache struct {
	mu      sync.Mutex
	entries map[int64]*cachedSession
	ttl     time.Duration
	build   BuildFunc
	now     func() time.Time
}

// NewSessionCache creates a cache with the given TTL (DefaultSessionTTL
// when zero) and miss builder.
func NewSessionCache(ttl time.Duration, build BuildFunc) *SessionCache {
	if ttl <= 0 {
		ttl = DefaultSessionTTL
	}
	return &SessionCache{
		entries: make(map[int64]*cachedSession),
		ttl:     ttl,
		build:   build,
		now:     time.Now,
	}
}

// GetOrCreate returns the cached orchestrator for a session, rebuilding it
// when absent or expired. Repeated calls return the same instance and
// refresh its TTL.
func (c *SessionCache) GetOrCreate(ctx context.Context, sessionID int64) (*Orchestrator, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if entry, ok := c.entries[sessionID]; ok {
		if c.now().Sub(entry.lastUsed) < c.ttl {
			entry.lastUsed = c.now()
			return entry.orch, nil
		}
		delete(c.entries, sessionID)
	}

	orch, err := c.build(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("build session %d: %w", sessionID, err)
	}
	c.entries[sessionID] = &cachedSession{orch: orch, lastUsed: c.now()}
	logging.Debug().
		Add(logging.SessionID(sessionID)).
		Msg("session rebuilt")
	return orch, nil
}

// Evict drops a session from the cache. The next GetOrCreate rebuilds it.
func (c *SessionCache) Evict(sessionID int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, sessionID)
}

// CleanupExpired removes every entry idle past the TTL and returns how many
// were dropped.
func (c *SessionCache) CleanupExpired() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.now()
	n := 0
	for id, entry := range c.entries {
		if now.Sub(entry.lastUsed) >= c.ttl {
			delete(c.entries, id)
			n++
		}
	}
	if n > 0 {
		logging.Debug().
			Add(logging.Count(n)).
			Msg("expired sessions evicted")
	}
	return n
}

// Len returns the number of cached sessions.
func (c *SessionCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}
