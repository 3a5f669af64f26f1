package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// Store is the backing key-value store for cache entries. Keys are content
// digests, so rewrites are idempotent and writes may race harmlessly.
type Store interface {
	Get(key string) ([]byte, bool, error)
	Set(key string, value []byte) error
	Clear() error
	Count() (int, error)
	Close() error
}

// Entry is a single cached reasoner result. Entries are immutable; the only
// invalidation is an explicit bulk Clear.
type Entry struct {
	Key            string          `json:"key"`
	Result         json.RawMessage `json:"result"`
	CachedAt       time.Time       `json:"cached_at"`
	ContextSummary string          `json:"context_summary,omitempty"`
}

// Stats reports hit/miss counters for observability and cost estimation.
type Stats struct {
	Hits    int64   `json:"hits"`
	Misses  int64   `json:"misses"`
	HitRate float64 `json:"hit_rate"`
	Entries int     `json:"entries"`
}

// ResponseCache is a content-addressed cache of reasoner results keyed by
// (prompt, context). Context serialization is order-independent, so two
// semantically identical contexts always map to the same key.
type ResponseCache struct {
	store  Store
	hits   atomic.Int64
	misses atomic.Int64
}

// countersKey holds the persisted hit/miss counters. Entry keys are hex
// digests, so the name never collides.
const countersKey = "!counters"

type persistedCounters struct {
	Hits   int64 `json:"hits"`
	Misses int64 `json:"misses"`
}

// New creates a ResponseCache over the given store, restoring any counters
// a previous process flushed on Close.
func New(store Store) *ResponseCache {
	c := &ResponseCache{store: store}
	c.loadCounters()
	return c
}

func (c *ResponseCache) loadCounters() {
	raw, ok, err := c.store.Get(countersKey)
	if err != nil {
		zap.L().Warn("cache: load counters failed", zap.Error(err))
		return
	}
	if !ok {
		return
	}
	var saved persistedCounters
	if err := json.Unmarshal(raw, &saved); err != nil {
		zap.L().Warn("cache: corrupt counters entry", zap.Error(err))
		return
	}
	c.hits.Store(saved.Hits)
	c.misses.Store(saved.Misses)
}

func (c *ResponseCache) flushCounters() {
	raw, err := json.Marshal(persistedCounters{Hits: c.hits.Load(), Misses: c.misses.Load()})
	if err != nil {
		return
	}
	if err := c.store.Set(countersKey, raw); err != nil {
		zap.L().Warn("cache: flush counters failed", zap.Error(err))
	}
}

// Key derives the deterministic cache key for a prompt and context.
// The context is canonicalized (JSON with sorted object keys) before
// hashing, so field order never affects the key.
func Key(prompt string, context map[string]any) string {
	h := sha256.New()
	h.Write([]byte(prompt))
	h.Write([]byte{0})
	h.Write(canonicalContext(context))
	return hex.EncodeToString(h.Sum(nil))
}

// canonicalContext serializes the context order-independently. Go's
// encoding/json marshals map keys in sorted order at every nesting level,
// which is exactly the canonical form required.
func canonicalContext(context map[string]any) []byte {
	if len(context) == 0 {
		return []byte("{}")
	}
	b, err := json.Marshal(context)
	if err != nil {
		// Unmarshalable contexts degrade to the empty context rather than
		// failing the call; the worst case is a cache miss.
		zap.L().Warn("cache: context not serializable", zap.Error(err))
		return []byte("{}")
	}
	return b
}

// Get returns the cached result for (prompt, context), or ok=false on a
// miss. Store I/O failures are treated as forced misses.
func (c *ResponseCache) Get(prompt string, context map[string]any) (json.RawMessage, bool) {
	key := Key(prompt, context)

	raw, found, err := c.store.Get(key)
	if err != nil {
		zap.L().Warn("cache: get failed, treating as miss", zap.String("key", key), zap.Error(err))
		c.misses.Add(1)
		return nil, false
	}
	if !found {
		c.misses.Add(1)
		return nil, false
	}

	var entry Entry
	if err := json.Unmarshal(raw, &entry); err != nil {
		zap.L().Warn("cache: corrupt entry, treating as miss", zap.String("key", key), zap.Error(err))
		c.misses.Add(1)
		return nil, false
	}

	c.hits.Add(1)
	return entry.Result, true
}

// Put stores a result for (prompt, context). Persistence failures are
// logged and dropped; correctness never depends on a write landing.
func (c *ResponseCache) Put(prompt string, context map[string]any, result json.RawMessage) {
	key := Key(prompt, context)

	entry := Entry{
		Key:            key,
		Result:         result,
		CachedAt:       time.Now().UTC(),
		ContextSummary: summarizeContext(context),
	}

	raw, err := json.Marshal(entry)
	if err != nil {
		zap.L().Warn("cache: marshal entry failed", zap.String("key", key), zap.Error(err))
		return
	}
	if err := c.store.Set(key, raw); err != nil {
		zap.L().Warn("cache: put failed", zap.String("key", key), zap.Error(err))
	}
}

// Stats returns current hit/miss counters and the entry count.
func (c *ResponseCache) Stats() Stats {
	hits := c.hits.Load()
	misses := c.misses.Load()

	s := Stats{Hits: hits, Misses: misses}
	if total := hits + misses; total > 0 {
		s.HitRate = float64(hits) / float64(total)
	}

	if n, err := c.store.Count(); err == nil {
		s.Entries = n
	} else {
		zap.L().Warn("cache: count failed", zap.Error(err))
	}
	return s
}

// Clear drops all entries and resets the counters. The only supported
// invalidation.
func (c *ResponseCache) Clear() error {
	c.hits.Store(0)
	c.misses.Store(0)
	return c.store.Clear()
}

// Close flushes the counters and releases the backing store.
func (c *ResponseCache) Close() error {
	c.flushCounters()
	return c.store.Close()
}

// summarizeContext returns a short human-readable digest of the context
// keys, stored alongside the entry for debugging.
func summarizeContext(context map[string]any) string {
	if len(context) == 0 {
		return ""
	}
	b, err := json.Marshal(context)
	if err != nil {
		return ""
	}
	const maxSummary = 160
	if len(b) > maxSummary {
		return string(b[:maxSummary]) + "..."
	}
	return string(b)
}
