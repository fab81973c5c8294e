package chain

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/spf13/afero"
)

type tsEntry struct {
	Timestamp  uint64    `json:"timestamp"`
	InsertedAt time.Time `json:"insertedAt"`
}

type tsCacheFile struct {
	Entries map[uint64]tsEntry `json:"entries"`
}

// TimestampCache memoizes block number to block timestamp. Entries expire
// after MaxAge regardless of access; when the entry count exceeds MaxEntries
// the oldest tenth by insertion time is evicted. The cache persists to disk
// and is reloaded at construction with expired entries dropped.
type TimestampCache struct {
	fs         afero.Fs
	path       string
	maxAge     time.Duration
	maxEntries int
	flushEvery int

	mu      sync.Mutex
	entries map[uint64]tsEntry
	inserts int
}

// NetworkCachePath derives a per-network cache file from a base path by
// inserting the network name before the extension. Entries are keyed by bare
// block number, so each chain needs its own file: block heights collide
// across chains but their timestamps do not.
func NetworkCachePath(base, network string) string {
	ext := filepath.Ext(base)
	return strings.TrimSuffix(base, ext) + "-" + network + ext
}

// NewTimestampCache loads the cache from disk; a missing or unreadable file
// starts an empty cache.
func NewTimestampCache(fs afero.Fs, path string, maxAge time.Duration, maxEntries, flushEvery int) *TimestampCache {
	if fs == nil {
		fs = afero.NewOsFs()
	}
	if flushEvery <= 0 {
		flushEvery = 50
	}
	c := &TimestampCache{
		fs:         fs,
		path:       path,
		maxAge:     maxAge,
		maxEntries: maxEntries,
		flushEvery: flushEvery,
		entries:    make(map[uint64]tsEntry),
	}
	c.load()
	return c
}

// Get returns the cached timestamp for a block, if present and unexpired.
func (c *TimestampCache) Get(block uint64) (uint64, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.entries[block]
	if !ok {
		return 0, false
	}
	if c.maxAge > 0 && time.Since(entry.InsertedAt) > c.maxAge {
		delete(c.entries, block)
		return 0, false
	}
	return entry.Timestamp, true
}

// Set stores a block timestamp, evicting and flushing as configured.
func (c *TimestampCache) Set(block, timestamp uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries[block] = tsEntry{Timestamp: timestamp, InsertedAt: time.Now()}
	if c.maxEntries > 0 && len(c.entries) > c.maxEntries {
		c.evictOldest()
	}

	c.inserts++
	if c.inserts%c.flushEvery == 0 {
		c.flush()
	}
}

// Close flushes the cache to disk.
func (c *TimestampCache) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.flush()
}

// evictOldest drops the oldest 10% of entries by insertion time.
// Caller holds the lock.
func (c *TimestampCache) evictOldest() {
	n := len(c.entries) / 10
	if n == 0 {
		n = 1
	}

	blocks := make([]uint64, 0, len(c.entries))
	for block := range c.entries {
		blocks = append(blocks, block)
	}
	sort.Slice(blocks, func(i, j int) bool {
		return c.entries[blocks[i]].InsertedAt.Before(c.entries[blocks[j]].InsertedAt)
	})
	for _, block := range blocks[:n] {
		delete(c.entries, block)
	}
}

func (c *TimestampCache) load() {
	data, err := afero.ReadFile(c.fs, c.path)
	if err != nil {
		return
	}
	var file tsCacheFile
	if err := json.Unmarshal(data, &file); err != nil {
		return
	}
	for block, entry := range file.Entries {
		if c.maxAge > 0 && time.Since(entry.InsertedAt) > c.maxAge {
			continue
		}
		c.entries[block] = entry
	}
}

// flush writes the cache atomically. Caller holds the lock.
func (c *TimestampCache) flush() error {
	data, err := json.Marshal(tsCacheFile{Entries: c.entries})
	if err != nil {
		return fmt.Errorf("marshal timestamp cache: %w", err)
	}

	dir := filepath.Dir(c.path)
	if dir != "." {
		if err := c.fs.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create cache dir: %w", err)
		}
	}

	tmpPath := c.path + ".tmp"
	if err := afero.WriteFile(c.fs, tmpPath, data, 0o644); err != nil {
		return fmt.Errorf("write cache tmp: %w", err)
	}
	if err := c.fs.Rename(tmpPath, c.path); err != nil {
		return fmt.Errorf("rename cache: %w", err)
	}
	return nil
}

// HeaderSource fetches a block header timestamp from the chain.
type HeaderSource interface {
	HeaderTime(ctx context.Context, number uint64) (uint64, error)
}

// Timestamps resolves block timestamps through the persistent cache, hitting
// the chain only on a miss.
type Timestamps struct {
	source HeaderSource
	cache  *TimestampCache
}

func NewTimestamps(source HeaderSource, cache *TimestampCache) *Timestamps {
	return &Timestamps{source: source, cache: cache}
}

// Timestamp returns the Unix timestamp of the given block.
func (t *Timestamps) Timestamp(ctx context.Context, block uint64) (uint64, error) {
	if ts, ok := t.cache.Get(block); ok {
		return ts, nil
	}
	ts, err := t.source.HeaderTime(ctx, block)
	if err != nil {
		return 0, err
	}
	t.cache.Set(block, ts)
	return ts, nil
}
