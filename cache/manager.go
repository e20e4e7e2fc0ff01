package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"path"
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/BaSui01/queryflow/config"
	"github.com/BaSui01/queryflow/internal/metrics"
	"github.com/BaSui01/queryflow/types"
)

// entry is one cached value with its bookkeeping.
type entry struct {
	value        any
	createdAt    time.Time
	expiresAt    time.Time
	lastAccessed time.Time
	hitCount     int64
	sizeBytes    int
}

// Manager is an in-process TTL+LRU cache. A disabled manager accepts
// every call and stores nothing.
type Manager struct {
	cfg     config.CacheConfig
	logger  *zap.Logger
	metrics *metrics.Collector

	mu      sync.Mutex
	entries map[string]*entry
	group   singleflight.Group

	hits        int64
	misses      int64
	evictions   int64
	expirations int64
}

// Option customizes a Manager.
type Option func(*Manager)

// WithLogger sets the manager's logger.
func WithLogger(logger *zap.Logger) Option {
	return func(m *Manager) {
		if logger != nil {
			m.logger = logger
		}
	}
}

// WithMetrics attaches a metrics collector.
func WithMetrics(collector *metrics.Collector) Option {
	return func(m *Manager) { m.metrics = collector }
}

// NewManager creates a cache manager from the given configuration.
func NewManager(cfg config.CacheConfig, opts ...Option) *Manager {
	m := &Manager{
		cfg:     cfg,
		logger:  zap.NewNop(),
		entries: make(map[string]*entry),
	}
	for _, opt := range opts {
		opt(m)
	}
	m.logger = m.logger.With(zap.String("component", "cache"))
	return m
}

// Get returns the cached value for key. The second return is false on a
// miss, on an expired entry, or when the cache is disabled. A hit
// refreshes the entry's recency.
func (m *Manager) Get(key string) (any, bool) {
	if !m.cfg.Enabled || key == "" {
		return nil, false
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.entries[key]
	if !ok {
		m.misses++
		m.metrics.RecordCacheMiss()
		return nil, false
	}
	if time.Now().After(e.expiresAt) {
		delete(m.entries, key)
		m.expirations++
		m.misses++
		m.metrics.RecordCacheMiss()
		return nil, false
	}

	e.hitCount++
	e.lastAccessed = time.Now()
	m.hits++
	m.metrics.RecordCacheHit()
	return e.value, true
}

// Set stores value under key for ttl. A non-positive ttl falls back to
// the configured default. Storing begins by evicting the least recently
// accessed entry when the cache is at capacity.
func (m *Manager) Set(key string, value any, ttl time.Duration) error {
	if !m.cfg.Enabled {
		return nil
	}
	if key == "" {
		return types.NewError(types.ErrInvalidArgument, "cache key must not be empty")
	}
	if value == nil {
		return types.NewError(types.ErrCache, "cache value must not be nil")
	}

	size := estimateSize(value)
	if m.cfg.MaxEntryBytes > 0 && size > m.cfg.MaxEntryBytes {
		return types.Errorf(types.ErrCapacityExceeded,
			"cache entry of %d bytes exceeds limit of %d bytes", size, m.cfg.MaxEntryBytes)
	}
	if ttl <= 0 {
		ttl = m.cfg.DefaultTTL
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.entries[key]; !exists && len(m.entries) >= m.cfg.MaxEntries {
		m.evictOldestLocked()
	}

	now := time.Now()
	m.entries[key] = &entry{
		value:        value,
		createdAt:    now,
		expiresAt:    now.Add(ttl),
		lastAccessed: now,
		sizeBytes:    size,
	}
	return nil
}

// evictOldestLocked removes the entry with the oldest lastAccessed.
// Caller holds m.mu.
func (m *Manager) evictOldestLocked() {
	var oldestKey string
	var oldest time.Time
	for key, e := range m.entries {
		if oldestKey == "" || e.lastAccessed.Before(oldest) {
			oldestKey = key
			oldest = e.lastAccessed
		}
	}
	if oldestKey != "" {
		delete(m.entries, oldestKey)
		m.evictions++
		m.metrics.RecordCacheEviction()
		m.logger.Debug("evicted cache entry", zap.String("key", oldestKey))
	}
}

// Delete removes key and reports whether it was present and live.
func (m *Manager) Delete(key string) bool {
	if !m.cfg.Enabled {
		return false
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.entries[key]
	if !ok {
		return false
	}
	delete(m.entries, key)
	return !time.Now().After(e.expiresAt)
}

// Clear drops every entry and returns the number removed.
func (m *Manager) Clear() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	n := len(m.entries)
	m.entries = make(map[string]*entry)
	return n
}

// InvalidatePattern removes all keys matching a glob pattern and
// returns the number removed. Pattern syntax follows path.Match.
func (m *Manager) InvalidatePattern(pattern string) (int, error) {
	// Validate the pattern before touching any entries.
	if _, err := path.Match(pattern, ""); err != nil {
		return 0, types.Errorf(types.ErrInvalidArgument, "invalid pattern %q", pattern).WithCause(err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	removed := 0
	for key := range m.entries {
		if ok, _ := path.Match(pattern, key); ok {
			delete(m.entries, key)
			removed++
		}
	}
	if removed > 0 {
		m.logger.Debug("invalidated cache entries",
			zap.String("pattern", pattern),
			zap.Int("removed", removed))
	}
	return removed, nil
}

// GetOrCompute returns the cached value for key, or computes, caches,
// and returns it. Concurrent callers for the same key share a single
// compute invocation.
func (m *Manager) GetOrCompute(ctx context.Context, key string, ttl time.Duration, compute func(ctx context.Context) (any, error)) (any, error) {
	if compute == nil {
		return nil, types.NewError(types.ErrInvalidArgument, "compute callback must not be nil")
	}
	if !m.cfg.Enabled {
		return compute(ctx)
	}

	if v, ok := m.Get(key); ok {
		return v, nil
	}

	v, err, _ := m.group.Do(key, func() (any, error) {
		// Re-check: another flight may have filled the slot.
		if v, ok := m.Get(key); ok {
			return v, nil
		}
		v, err := compute(ctx)
		if err != nil {
			return nil, err
		}
		if err := m.Set(key, v, ttl); err != nil {
			// Oversize or otherwise uncacheable values are still
			// returned to the caller.
			m.logger.Debug("computed value not cached", zap.String("key", key), zap.Error(err))
		}
		return v, nil
	})
	return v, err
}

// Stats is a point-in-time snapshot of cache counters.
type Stats struct {
	Enabled     bool          `json:"enabled"`
	Hits        int64         `json:"hits"`
	Misses      int64         `json:"misses"`
	Evictions   int64         `json:"evictions"`
	Expirations int64         `json:"expirations"`
	Entries     int           `json:"entries"`
	MaxEntries  int           `json:"max_entries"`
	SizeBytes   int           `json:"size_bytes"`
	HitRate     float64       `json:"hit_rate"`
	DefaultTTL  time.Duration `json:"default_ttl"`
}

// Stats returns current cache counters. SizeBytes is the estimated
// footprint of all live entries.
func (m *Manager) Stats() Stats {
	m.mu.Lock()
	defer m.mu.Unlock()

	s := Stats{
		Enabled:     m.cfg.Enabled,
		Hits:        m.hits,
		Misses:      m.misses,
		Evictions:   m.evictions,
		Expirations: m.expirations,
		Entries:     len(m.entries),
		MaxEntries:  m.cfg.MaxEntries,
		DefaultTTL:  m.cfg.DefaultTTL,
	}
	for _, e := range m.entries {
		s.SizeBytes += e.sizeBytes
	}
	if total := s.Hits + s.Misses; total > 0 {
		s.HitRate = float64(s.Hits) / float64(total)
	}
	return s
}

// GenerateCacheKey derives a stable key from heterogeneous parts: each
// part is JSON-normalized (map keys sorted), parts are joined with "|",
// and the result is SHA-256 hashed. The prefix survives in clear text
// so patterns like "query:*" can target a namespace.
func GenerateCacheKey(prefix string, parts ...any) string {
	normalized := make([]string, 0, len(parts))
	for _, part := range parts {
		normalized = append(normalized, normalizePart(part))
	}
	sum := sha256.Sum256([]byte(strings.Join(normalized, "|")))
	return prefix + ":" + hex.EncodeToString(sum[:])
}

func normalizePart(part any) string {
	switch v := part.(type) {
	case string:
		return v
	case map[string]any:
		// Deterministic order regardless of map iteration.
		keys := make([]string, 0, len(v))
		for k := range v {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		var b strings.Builder
		b.WriteByte('{')
		for i, k := range keys {
			if i > 0 {
				b.WriteByte(',')
			}
			b.WriteString(k)
			b.WriteByte('=')
			b.WriteString(normalizePart(v[k]))
		}
		b.WriteByte('}')
		return b.String()
	default:
		data, err := json.Marshal(v)
		if err != nil {
			return fmt.Sprintf("%v", v)
		}
		return string(data)
	}
}

// estimateSize approximates a value's footprint via its JSON encoding.
func estimateSize(value any) int {
	data, err := json.Marshal(value)
	if err != nil {
		return len(fmt.Sprintf("%v", value))
	}
	return len(data)
}
