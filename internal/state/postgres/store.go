// Package postgres mirrors processing state and run history to Postgres for
// deployments that want SQL-visible operational data next to the blob store.
package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"govscope/internal/model"
)

// Store provides Postgres persistence for processing state and run records.
type Store struct {
	pool *pgxpool.Pool
}

func NewStore(ctx context.Context, dsn string) (*Store, error) {
	if dsn == "" {
		return nil, fmt.Errorf("pg dsn is required")
	}
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, err
	}
	return &Store{pool: pool}, nil
}

func (s *Store) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

// UpsertState inserts or updates the processing state row for a network.
func (s *Store) UpsertState(ctx context.Context, network string, st model.ProcessingState) error {
	if network == "" {
		return fmt.Errorf("network name required")
	}
	segments, err := json.Marshal(st.FailedSegments)
	if err != nil {
		return fmt.Errorf("marshal failed segments: %w", err)
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO processing_state (
			network, last_processed_block, has_error, last_error,
			retry_count, consecutive_failures, api_call_count, failed_segments, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, now())
		ON CONFLICT (network) DO UPDATE SET
			last_processed_block = EXCLUDED.last_processed_block,
			has_error = EXCLUDED.has_error,
			last_error = EXCLUDED.last_error,
			retry_count = EXCLUDED.retry_count,
			consecutive_failures = EXCLUDED.consecutive_failures,
			api_call_count = EXCLUDED.api_call_count,
			failed_segments = EXCLUDED.failed_segments,
			updated_at = now()
	`,
		network,
		int64(st.LastProcessedBlock),
		st.HasError,
		st.LastError,
		st.RetryCount,
		st.ConsecutiveFailures,
		st.APICallCount,
		segments,
	)
	return err
}

// InsertRunRecord appends one run record to the history table.
func (s *Store) InsertRunRecord(ctx context.Context, rec model.ProcessingRecord) error {
	errs, err := json.Marshal(rec.Errors)
	if err != nil {
		return fmt.Errorf("marshal errors: %w", err)
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO processing_history (
			network, from_block, to_block, run_at, errors, event_count, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, now())
	`,
		rec.Network,
		int64(rec.FromBlock),
		int64(rec.ToBlock),
		rec.Timestamp,
		errs,
		rec.EventCount,
	)
	return err
}
