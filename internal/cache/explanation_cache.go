// Package cache keeps generated answer explanations between sessions.
package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"hash/fnv"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"quiz-studio/internal/app"
	"quiz-studio/internal/config"
	"quiz-studio/internal/domain"
)

const (
	DefaultMaxEntries = 500
	DefaultTTL        = 24 * time.Hour
	DefaultFlushDelay = time.Second
)

// Key hashes the canonical form prompt||tag||answer||correctness with 32-bit FNV-1a.
func Key(prompt string, tag domain.QuestionType, answer string, correct bool) string {
	h := fnv.New32a()
	_, _ = h.Write([]byte(strings.Join([]string{prompt, string(tag), answer, strconv.FormatBool(correct)}, "||")))
	return fmt.Sprintf("%08x", h.Sum32())
}

// ExplanationCache is a bounded, expiring map persisted as one blob. Once full,
// the entry inserted first is evicted.
type ExplanationCache struct {
	store      app.BlobStore
	log        zerolog.Logger
	now        func() time.Time
	maxEntries int
	ttl        time.Duration
	flushDelay time.Duration

	mu      sync.Mutex
	loaded  bool
	entries map[string]domain.ExplanationEntry
	order   []string // insertion order, oldest first
	dirty   bool
	timer   *time.Timer

	flushMu sync.Mutex
}

type Option func(*ExplanationCache)

func WithMaxEntries(n int) Option {
	return func(c *ExplanationCache) {
		if n > 0 {
			c.maxEntries = n
		}
	}
}

func WithTTL(ttl time.Duration) Option {
	return func(c *ExplanationCache) {
		if ttl > 0 {
			c.ttl = ttl
		}
	}
}

// WithFlushDelay sets the write-behind delay. Zero writes on every mutation.
func WithFlushDelay(d time.Duration) Option {
	return func(c *ExplanationCache) {
		if d >= 0 {
			c.flushDelay = d
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(c *ExplanationCache) { c.now = now }
}

func WithLogger(log zerolog.Logger) Option {
	return func(c *ExplanationCache) { c.log = log }
}

func NewExplanationCache(store app.BlobStore, opts ...Option) *ExplanationCache {
	c := &ExplanationCache{
		store:      store,
		log:        zerolog.Nop(),
		now:        time.Now,
		maxEntries: DefaultMaxEntries,
		ttl:        DefaultTTL,
		flushDelay: DefaultFlushDelay,
		entries:    make(map[string]domain.ExplanationEntry),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.log = c.log.With().Str("component", "explanation_cache").Logger()
	return c
}

// Get returns a live entry's text.
func (c *ExplanationCache) Get(ctx context.Context, key string) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.loadLocked(ctx)

	e, ok := c.entries[key]
	if !ok {
		return "", false
	}
	if c.now().UnixMilli() >= e.ExpiresEpochMillis {
		c.removeLocked(key)
		c.scheduleLocked()
		return "", false
	}
	return e.Text, true
}

// Put stores text under key. Re-putting a key counts as a fresh insertion.
func (c *ExplanationCache) Put(ctx context.Context, key, text string) {
	c.mu.Lock()
	c.loadLocked(ctx)
	c.purgeLocked()

	if _, ok := c.entries[key]; ok {
		c.removeLocked(key)
	}
	for len(c.order) >= c.maxEntries {
		c.removeLocked(c.order[0])
	}
	now := c.now()
	c.entries[key] = domain.ExplanationEntry{
		Key:                key,
		Text:               text,
		CreatedEpochMillis: now.UnixMilli(),
		ExpiresEpochMillis: now.Add(c.ttl).UnixMilli(),
	}
	c.order = append(c.order, key)
	immediate := c.flushDelay == 0
	c.scheduleLocked()
	c.mu.Unlock()

	if immediate {
		_ = c.Flush(ctx)
	}
}

// Len counts live entries.
func (c *ExplanationCache) Len(ctx context.Context) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.loadLocked(ctx)
	c.purgeLocked()
	return len(c.order)
}

// Flush writes pending changes now.
func (c *ExplanationCache) Flush(ctx context.Context) error {
	c.flushMu.Lock()
	defer c.flushMu.Unlock()

	c.mu.Lock()
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
	if !c.dirty {
		c.mu.Unlock()
		return nil
	}
	data, err := c.encodeLocked()
	c.dirty = false
	c.mu.Unlock()
	if err != nil {
		return err
	}

	if err := c.store.PutBlob(ctx, config.ExplanationCacheKey, data); err != nil {
		c.mu.Lock()
		c.dirty = true
		c.mu.Unlock()
		c.log.Error().Err(err).Msg("save explanation cache")
		return domain.E(domain.KindPersistence, "explanation cache", "", err)
	}
	return nil
}

// Close flushes pending changes and stops the write-behind timer.
func (c *ExplanationCache) Close(ctx context.Context) error {
	return c.Flush(ctx)
}

func (c *ExplanationCache) scheduleLocked() {
	c.dirty = true
	if c.flushDelay == 0 || c.timer != nil {
		return
	}
	c.timer = time.AfterFunc(c.flushDelay, func() {
		c.mu.Lock()
		c.timer = nil
		c.mu.Unlock()
		_ = c.Flush(context.Background())
	})
}

func (c *ExplanationCache) removeLocked(key string) {
	delete(c.entries, key)
	for i, k := range c.order {
		if k == key {
			c.order = append(c.order[:i], c.order[i+1:]...)
			break
		}
	}
}

func (c *ExplanationCache) purgeLocked() {
	now := c.now().UnixMilli()
	kept := c.order[:0]
	for _, key := range c.order {
		if now >= c.entries[key].ExpiresEpochMillis {
			delete(c.entries, key)
			c.dirty = true
			continue
		}
		kept = append(kept, key)
	}
	c.order = kept
}

type cacheBlob struct {
	Entries []domain.ExplanationEntry `json:"entries"`
}

func (c *ExplanationCache) encodeLocked() ([]byte, error) {
	blob := cacheBlob{Entries: make([]domain.ExplanationEntry, 0, len(c.order))}
	for _, key := range c.order {
		blob.Entries = append(blob.Entries, c.entries[key])
	}
	return json.Marshal(blob)
}

func (c *ExplanationCache) loadLocked(ctx context.Context) {
	if c.loaded {
		return
	}
	c.loaded = true
	data, ok, err := c.store.GetBlob(ctx, config.ExplanationCacheKey)
	if err != nil {
		c.log.Error().Err(err).Msg("load explanation cache")
		return
	}
	if !ok {
		return
	}
	var blob cacheBlob
	if err := json.Unmarshal(data, &blob); err != nil {
		c.log.Warn().Err(err).Msg("discarding unreadable explanation cache")
		return
	}
	for _, e := range blob.Entries {
		if e.Key == "" {
			continue
		}
		if _, dup := c.entries[e.Key]; dup {
			c.removeLocked(e.Key)
		}
		c.entries[e.Key] = e
		c.order = append(c.order, e.Key)
	}
	c.purgeLocked()
	for len(c.order) > c.maxEntries {
		c.removeLocked(c.order[0])
		c.dirty = true
	}
}
