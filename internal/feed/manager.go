// Package feed maintains the deduplicating, ordered, size-bounded event
// ledger and its archival spillover.
package feed

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"govscope/internal/blob"
	"govscope/internal/lock"
	"govscope/internal/model"
)

// Options configures a Manager.
type Options struct {
	// FeedKey is the well-known blob key of the JSON feed document.
	FeedKey string
	// RSSKey is the blob key of the rendered RSS document.
	RSSKey string
	// Threshold bounds the main list; excess items spill into archives.
	Threshold int
	// ScratchDir holds the local copy written before each upload.
	ScratchDir string
	// LockTimeout bounds acquisition of the feed lock.
	LockTimeout time.Duration

	Title       string
	Link        string
	Description string
}

func (o Options) withDefaults() Options {
	if o.Threshold <= 0 {
		o.Threshold = 1000
	}
	if o.LockTimeout <= 0 {
		o.LockTimeout = 30 * time.Second
	}
	return o
}

// Manager owns the feed state for one deployment. It is constructed
// explicitly and passed by reference; there is no shared global instance.
type Manager struct {
	opts   Options
	blobs  blob.Store
	locker lock.Locker
	logger *zap.Logger

	mu          sync.Mutex
	initialized bool
	items       []model.FeedItem
	seen        map[string]struct{}
}

func NewManager(opts Options, blobs blob.Store, locker lock.Locker, logger *zap.Logger) *Manager {
	if locker == nil {
		locker = lock.NopLocker{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{
		opts:   opts.withDefaults(),
		blobs:  blobs,
		locker: locker,
		logger: logger,
		seen:   make(map[string]struct{}),
	}
}

// Init loads the published feed once, building the seen-GUID set. An absent
// feed starts empty. Init is idempotent.
func (m *Manager) Init(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.initialized {
		return nil
	}

	data, err := m.blobs.Download(ctx, m.opts.FeedKey)
	if err != nil {
		if !errors.Is(err, blob.ErrNotFound) {
			return fmt.Errorf("load feed: %w", err)
		}
	} else {
		var doc model.FeedDocument
		if err := json.Unmarshal(data, &doc); err != nil {
			return fmt.Errorf("parse feed: %w", err)
		}
		m.items = doc.Items
	}

	for _, item := range m.items {
		m.seen[item.GUID] = struct{}{}
	}
	m.initialized = true
	return nil
}

// AddEvent merges one event into the feed. Duplicates (by GUID) are silently
// dropped. An unparseable timestamp rejects the single event with a
// diagnostic error; the caller should log it and continue the batch.
func (m *Manager) AddEvent(ev model.ParsedEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.initialized {
		return fmt.Errorf("feed manager not initialized")
	}

	guid := EventGUID(ev)
	if _, ok := m.seen[guid]; ok {
		m.logger.Debug("duplicate event dropped",
			zap.String("guid", guid), zap.String("title", ev.Title))
		return nil
	}

	pubDate, err := ParseEventTime(ev.Timestamp)
	if err != nil {
		return fmt.Errorf("event %q: %w", ev.Title, err)
	}

	description, err := json.Marshal(model.ItemDescription{
		EventDetails: model.EventDetails{
			Network:   ev.Network,
			ChainID:   ev.ChainID,
			Block:     ev.BlockNumber,
			Timestamp: ev.Timestamp,
		},
		GovernanceInfo: model.GovernanceInfo{
			GovernanceBody:  ev.GovernanceBody,
			EventType:       ev.Name,
			ContractAddress: ev.Address,
			ProposalLink:    ev.ProposalLink,
		},
		EventData: ev.Args,
	})
	if err != nil {
		return fmt.Errorf("event %q: marshal description: %w", ev.Title, err)
	}

	item := model.FeedItem{
		Title:       ev.Title,
		Description: string(description),
		Link:        ev.Link,
		GUID:        guid,
		Categories:  []string{ev.Category, ev.Name},
		Author:      ev.GovernanceBody,
		PubDate:     pubDate,
		BlockNumber: ev.BlockNumber,
	}

	idx := sort.Search(len(m.items), func(i int) bool {
		return itemBefore(item, m.items[i])
	})
	m.items = append(m.items, model.FeedItem{})
	copy(m.items[idx+1:], m.items[idx:])
	m.items[idx] = item
	m.seen[guid] = struct{}{}
	return nil
}

// Items returns a copy of the ordered main list.
func (m *Manager) Items() []model.FeedItem {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]model.FeedItem, len(m.items))
	copy(out, m.items)
	return out
}

// Upload archives any excess items, serializes the feed, writes a local
// scratch copy, uploads the JSON document and the RSS rendering at their
// well-known keys under the feed lock, and clears the scratch copy. It
// returns false, not an error, on upload failure; callers must check.
func (m *Manager) Upload(ctx context.Context) bool {
	release, err := m.locker.Acquire(ctx, m.opts.LockTimeout)
	if err != nil {
		m.logger.Error("feed lock acquisition failed", zap.Error(err))
		return false
	}
	defer release()

	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.initialized {
		m.logger.Error("feed upload before init")
		return false
	}

	m.archiveExcess(ctx)

	doc := model.FeedDocument{
		Title:       m.opts.Title,
		Link:        m.opts.Link,
		Description: m.opts.Description,
		UpdatedAt:   time.Now().UTC().Format(time.RFC3339),
		Items:       m.items,
	}
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		m.logger.Error("feed marshal failed", zap.Error(err))
		return false
	}

	scratch := ""
	if m.opts.ScratchDir != "" {
		if err := os.MkdirAll(m.opts.ScratchDir, 0o755); err != nil {
			m.logger.Error("create feed scratch dir failed", zap.Error(err))
			return false
		}
		scratch = filepath.Join(m.opts.ScratchDir, filepath.Base(m.opts.FeedKey))
		if err := os.WriteFile(scratch, data, 0o644); err != nil {
			m.logger.Error("write feed scratch failed", zap.Error(err))
			return false
		}
	}

	if err := m.blobs.Upload(ctx, m.opts.FeedKey, data); err != nil {
		m.logger.Error("feed upload failed", zap.Error(err))
		return false
	}

	if m.opts.RSSKey != "" {
		rss, err := renderRSS(doc)
		if err != nil {
			m.logger.Error("rss render failed", zap.Error(err))
			return false
		}
		if err := m.blobs.Upload(ctx, m.opts.RSSKey, []byte(rss)); err != nil {
			m.logger.Error("rss upload failed", zap.Error(err))
			return false
		}
	}

	if scratch != "" {
		if err := os.Remove(scratch); err != nil {
			m.logger.Warn("remove feed scratch failed", zap.String("path", scratch), zap.Error(err))
		}
	}
	return true
}

// archiveExcess moves the oldest items beyond the threshold into a separate
// archive blob. The archive name is derived from the content hash so
// re-archiving identical content never creates a duplicate blob. Archive
// upload is best effort. Caller holds the mutex.
func (m *Manager) archiveExcess(ctx context.Context) {
	if len(m.items) <= m.opts.Threshold {
		return
	}

	excess := m.items[m.opts.Threshold:]
	archive := model.FeedDocument{
		Title:       m.opts.Title,
		Link:        m.opts.Link,
		Description: m.opts.Description,
		Items:       excess,
	}
	data, err := json.MarshalIndent(archive, "", "  ")
	if err != nil {
		m.logger.Error("archive marshal failed", zap.Error(err))
		return
	}

	sum := sha256.Sum256(data)
	key := "archive/feed-" + hex.EncodeToString(sum[:8]) + ".json"

	exists, err := m.blobs.Exists(ctx, key)
	if err != nil {
		m.logger.Warn("archive existence check failed", zap.String("key", key), zap.Error(err))
	}
	if !exists {
		if err := m.blobs.Upload(ctx, key, data); err != nil {
			m.logger.Error("archive upload failed", zap.String("key", key), zap.Error(err))
		} else {
			m.logger.Info("feed items archived",
				zap.Int("count", len(excess)), zap.String("key", key))
		}
	}

	m.items = m.items[:m.opts.Threshold:m.opts.Threshold]
}

// itemBefore orders the feed newest first: timestamp descending, ties broken
// by higher block, then GUID, so merge order is fully deterministic.
func itemBefore(a, b model.FeedItem) bool {
	if !a.PubDate.Equal(b.PubDate) {
		return a.PubDate.After(b.PubDate)
	}
	if a.BlockNumber != b.BlockNumber {
		return a.BlockNumber > b.BlockNumber
	}
	return a.GUID < b.GUID
}

// ParseEventTime parses an event timestamp given either as Unix seconds in a
// numeric string or as a textual date.
func ParseEventTime(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, fmt.Errorf("empty timestamp")
	}

	if secs, err := strconv.ParseInt(s, 10, 64); err == nil {
		return time.Unix(secs, 0).UTC(), nil
	}

	for _, layout := range []string{time.RFC3339, time.RFC1123Z, time.RFC1123, "2006-01-02 15:04:05"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unparseable timestamp %q", s)
}
