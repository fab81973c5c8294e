// Package state persists the per-network processing state between runs.
package state

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	"govscope/internal/blob"
	"govscope/internal/model"
)

// Store keeps one ProcessingState document per network in the blob store.
type Store struct {
	blobs      blob.Store
	prefix     string
	scratchDir string
	logger     *zap.Logger
}

// NewStore builds a state store. prefix is the key prefix for the per-network
// documents, e.g. "state/". scratchDir holds the local copy written before
// each upload and removed after it succeeds.
func NewStore(blobs blob.Store, prefix, scratchDir string, logger *zap.Logger) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{blobs: blobs, prefix: prefix, scratchDir: scratchDir, logger: logger}
}

func (s *Store) key(network string) string {
	return s.prefix + network + ".json"
}

// Read loads the state for each named network. A missing document means a
// fresh start for that network and is not an error.
func (s *Store) Read(ctx context.Context, networks []string) (map[string]model.ProcessingState, error) {
	out := make(map[string]model.ProcessingState, len(networks))
	for _, network := range networks {
		data, err := s.blobs.Download(ctx, s.key(network))
		if err != nil {
			if errors.Is(err, blob.ErrNotFound) {
				continue
			}
			// Treat unreadable state as absent: the watermark
			// restarts but the run can proceed.
			s.logger.Warn("state read failed, starting fresh",
				zap.String("network", network), zap.Error(err))
			continue
		}
		var st model.ProcessingState
		if err := json.Unmarshal(data, &st); err != nil {
			s.logger.Warn("state parse failed, starting fresh",
				zap.String("network", network), zap.Error(err))
			continue
		}
		out[network] = st
	}
	return out, nil
}

// Write merges the incoming state with the stored one and persists it.
//
// Failed segments are unioned with the existing set keyed by (from, to) and
// never silently dropped. The one exception is an explicitly empty incoming
// list, which signals that this run resolved all prior gaps for the network.
func (s *Store) Write(ctx context.Context, network string, st model.ProcessingState) error {
	existing, err := s.blobs.Download(ctx, s.key(network))
	if err == nil {
		var prior model.ProcessingState
		if uerr := json.Unmarshal(existing, &prior); uerr == nil {
			if len(st.FailedSegments) > 0 {
				st.FailedSegments = model.MergeFailedSegments(prior.FailedSegments, st.FailedSegments)
			}
		}
	} else if !errors.Is(err, blob.ErrNotFound) {
		s.logger.Warn("state read before write failed",
			zap.String("network", network), zap.Error(err))
	}

	return s.persist(ctx, network, st)
}

// Replace persists exactly the given state, bypassing the failed-segment
// union. The caller must already hold the fully reconciled set: replay uses
// this to drop resolved segments in a single durable write, so there is no
// window where unresolved gaps are absent from the stored document.
func (s *Store) Replace(ctx context.Context, network string, st model.ProcessingState) error {
	return s.persist(ctx, network, st)
}

func (s *Store) persist(ctx context.Context, network string, st model.ProcessingState) error {
	st.LastUpdated = time.Now().UTC().Format(time.RFC3339)

	data, err := json.MarshalIndent(st, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal state: %w", err)
	}

	scratch, err := s.writeScratch(network, data)
	if err != nil {
		return err
	}

	if err := s.blobs.Upload(ctx, s.key(network), data); err != nil {
		// The scratch copy stays behind for inspection.
		return fmt.Errorf("upload state %s: %w", network, err)
	}

	if scratch != "" {
		if err := os.Remove(scratch); err != nil {
			s.logger.Warn("remove state scratch failed", zap.String("path", scratch), zap.Error(err))
		}
	}
	return nil
}

func (s *Store) writeScratch(network string, data []byte) (string, error) {
	if s.scratchDir == "" {
		return "", nil
	}
	if err := os.MkdirAll(s.scratchDir, 0o755); err != nil {
		return "", fmt.Errorf("create scratch dir: %w", err)
	}
	path := filepath.Join(s.scratchDir, network+"-state.json")
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("write state scratch: %w", err)
	}
	return path, nil
}
