package execution

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"strconv"
	"sync"
	"time"

	"PerpGate/internal/domain/models"
	"PerpGate/internal/domain/repository"
	applogger "PerpGate/pkg/logger"
)

// IdempotencyCache maps order keys to the time they were recorded.
// Expired entries are pruned on every access.
type IdempotencyCache struct {
	window time.Duration
	store  repository.IdempotencyStore
	l      *applogger.Logger

	mu      sync.Mutex
	entries map[string]time.Time
}

// NewIdempotencyCache seeds the cache from store. A failing or nil store leaves it empty.
func NewIdempotencyCache(ctx context.Context, window time.Duration, store repository.IdempotencyStore, l *applogger.Logger) *IdempotencyCache {
	c := &IdempotencyCache{
		window:  window,
		store:   store,
		l:       l,
		entries: make(map[string]time.Time),
	}
	if store == nil {
		return c
	}
	loaded, err := store.Load(ctx)
	if err != nil {
		if l != nil {
			l.Warn("idempotency snapshot load failed", applogger.Error(err))
		}
		return c
	}
	for k, ts := range loaded {
		c.entries[k] = ts
	}
	return c
}

// SignalKey fingerprints a signal-driven order: symbol, side and time bucket.
func (c *IdempotencyCache) SignalKey(symbol string, side models.Side, now time.Time) string {
	return orderKey("signal", symbol, string(side), c.bucket(now))
}

// ManualKey fingerprints an operator order: symbol, action, size and time bucket.
func (c *IdempotencyCache) ManualKey(symbol, action string, size float64, now time.Time) string {
	return orderKey("manual", symbol, action, strconv.FormatFloat(size, 'f', 8, 64), c.bucket(now))
}

func (c *IdempotencyCache) bucket(now time.Time) string {
	return strconv.FormatInt(now.Truncate(c.window).Unix(), 10)
}

func orderKey(parts ...string) string {
	h := sha256.New()
	for _, p := range parts {
		h.Write([]byte(p))
		h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil)[:12])
}

// Seen reports whether key was recorded within the window.
func (c *IdempotencyCache) Seen(key string, now time.Time) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pruneLocked(now)
	_, ok := c.entries[key]
	return ok
}

// Record stores key. Call only after the order it guards succeeded.
func (c *IdempotencyCache) Record(key string, now time.Time) {
	c.mu.Lock()
	c.pruneLocked(now)
	c.entries[key] = now
	c.mu.Unlock()
}

func (c *IdempotencyCache) Len(now time.Time) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pruneLocked(now)
	return len(c.entries)
}

func (c *IdempotencyCache) pruneLocked(now time.Time) {
	for k, ts := range c.entries {
		if now.Sub(ts) >= c.window {
			delete(c.entries, k)
		}
	}
}

// Persist writes a pruned snapshot to the store. Failures are logged and dropped.
func (c *IdempotencyCache) Persist(ctx context.Context, now time.Time) {
	if c.store == nil {
		return
	}
	c.mu.Lock()
	c.pruneLocked(now)
	snap := make(map[string]time.Time, len(c.entries))
	for k, ts := range c.entries {
		snap[k] = ts
	}
	c.mu.Unlock()

	if err := c.store.Save(ctx, snap); err != nil && c.l != nil {
		c.l.Warn("idempotency snapshot save failed",
			applogger.Int("keys", len(snap)),
			applogger.Error(err),
		)
	}
}
