// Package history keeps the append-only audit trail of processing runs.
package history

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"govscope/internal/blob"
	"govscope/internal/lock"
	"govscope/internal/model"
)

// Options configures a Log.
type Options struct {
	// Key is the blob key of the history document.
	Key string
	// ArchiveThreshold is the record count past which archival is
	// considered.
	ArchiveThreshold int
	// KeepRecent is how many newest records stay in the main document
	// after an archive pass.
	KeepRecent int
	// MinArchiveAge is the minimum wall-clock gap between archives.
	MinArchiveAge time.Duration
	// LockTimeout bounds acquisition of the history lock.
	LockTimeout time.Duration
}

func (o Options) withDefaults() Options {
	if o.Key == "" {
		o.Key = "history/processing.json"
	}
	if o.ArchiveThreshold <= 0 {
		o.ArchiveThreshold = 500
	}
	if o.KeepRecent <= 0 {
		o.KeepRecent = 100
	}
	if o.MinArchiveAge <= 0 {
		o.MinArchiveAge = 24 * time.Hour
	}
	if o.LockTimeout <= 0 {
		o.LockTimeout = 30 * time.Second
	}
	return o
}

// Log appends run records to the durable history document under a
// mutual-exclusion lock, archiving old records periodically.
type Log struct {
	opts   Options
	blobs  blob.Store
	locker lock.Locker
	logger *zap.Logger
	now    func() time.Time
}

func NewLog(opts Options, blobs blob.Store, locker lock.Locker, logger *zap.Logger) *Log {
	if locker == nil {
		locker = lock.NopLocker{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Log{
		opts:   opts.withDefaults(),
		blobs:  blobs,
		locker: locker,
		logger: logger,
		now:    time.Now,
	}
}

// Append adds one record via a lock-guarded read-modify-write of the history
// document. The lock is released on every exit path.
func (l *Log) Append(ctx context.Context, rec model.ProcessingRecord) error {
	release, err := l.locker.Acquire(ctx, l.opts.LockTimeout)
	if err != nil {
		return err
	}
	defer release()

	h, err := l.download(ctx)
	if err != nil {
		return err
	}

	h.Records = append(h.Records, rec)
	l.maybeArchive(ctx, &h)

	data, err := json.MarshalIndent(h, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal history: %w", err)
	}
	if err := l.blobs.Upload(ctx, l.opts.Key, data); err != nil {
		return fmt.Errorf("upload history: %w", err)
	}
	return nil
}

// download loads the history document, treating an absent blob as an empty
// history.
func (l *Log) download(ctx context.Context) (model.ProcessingHistory, error) {
	var h model.ProcessingHistory
	data, err := l.blobs.Download(ctx, l.opts.Key)
	if err != nil {
		if errors.Is(err, blob.ErrNotFound) {
			return h, nil
		}
		return h, fmt.Errorf("download history: %w", err)
	}
	if err := json.Unmarshal(data, &h); err != nil {
		return model.ProcessingHistory{}, fmt.Errorf("parse history: %w", err)
	}
	return h, nil
}

// maybeArchive moves all but the newest KeepRecent records into a timestamped
// archive blob once the count crosses the threshold and enough wall-clock
// time has passed since the last archive. Archive upload failure is logged
// and skipped; the records stay in the main document for the next pass.
func (l *Log) maybeArchive(ctx context.Context, h *model.ProcessingHistory) {
	if len(h.Records) <= l.opts.ArchiveThreshold {
		return
	}

	now := l.now().UTC()
	if h.LastArchiveTimestamp != "" {
		last, err := time.Parse(time.RFC3339, h.LastArchiveTimestamp)
		if err == nil && now.Sub(last) < l.opts.MinArchiveAge {
			return
		}
	}

	cut := len(h.Records) - l.opts.KeepRecent
	if cut <= 0 {
		return
	}
	old := h.Records[:cut]

	archive := model.ProcessingHistory{Records: old}
	data, err := json.MarshalIndent(archive, "", "  ")
	if err != nil {
		l.logger.Error("history archive marshal failed", zap.Error(err))
		return
	}

	key := fmt.Sprintf("archive/history-%s.json", now.Format("20060102T150405Z"))
	if err := l.blobs.Upload(ctx, key, data); err != nil {
		l.logger.Error("history archive upload failed", zap.String("key", key), zap.Error(err))
		return
	}

	h.Records = append([]model.ProcessingRecord(nil), h.Records[cut:]...)
	h.LastArchiveTimestamp = now.Format(time.RFC3339)
	h.ArchivedRecords = append(h.ArchivedRecords, model.ArchivedShard{
		Path:      key,
		Count:     len(old),
		Timestamp: h.LastArchiveTimestamp,
	})
	l.logger.Info("history records archived",
		zap.Int("count", len(old)), zap.String("key", key))
}
