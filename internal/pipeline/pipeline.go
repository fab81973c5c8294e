// Package pipeline orchestrates one network's collection run: range
// resolution, collection, feed merge, and state/history bookkeeping.
package pipeline

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"govscope/internal/collector"
	"govscope/internal/feed"
	"govscope/internal/history"
	"govscope/internal/model"
	"govscope/internal/state"
	"govscope/internal/state/postgres"
)

// HeadSource resolves the chain's latest block number.
type HeadSource interface {
	LatestBlockNumber(ctx context.Context) (uint64, error)
}

// Pipeline runs the range-collection and state-reconciliation flow for one
// network. Two pipelines may run concurrently; they share only the blob
// store and the feed/history locks.
type Pipeline struct {
	network   string
	head      HeadSource
	collector *collector.Collector
	feed      *feed.Manager
	state     *state.Store
	history   *history.Log
	mirror    *postgres.Store
	logger    *zap.Logger
}

// New builds a Pipeline. mirror may be nil when no Postgres DSN is
// configured.
func New(network string, head HeadSource, c *collector.Collector, f *feed.Manager, s *state.Store, h *history.Log, mirror *postgres.Store, logger *zap.Logger) *Pipeline {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Pipeline{
		network:   network,
		head:      head,
		collector: c,
		feed:      f,
		state:     s,
		history:   h,
		mirror:    mirror,
		logger:    logger.With(zap.String("network", network)),
	}
}

// Run collects [from, to] and reconciles the results. from==0 resumes from
// the persisted watermark; to==0 means the chain head. State is persisted on
// every exit path, including failures, so the next run can resume.
func (p *Pipeline) Run(ctx context.Context, from, to uint64) error {
	prior, err := p.readPrior(ctx)
	if err != nil {
		return err
	}

	if from == 0 {
		if prior.LastProcessedBlock == 0 {
			return fmt.Errorf("no watermark for %s: an explicit from block is required on the first run", p.network)
		}
		from = prior.LastProcessedBlock + 1
	}
	if to == 0 {
		latest, err := p.head.LatestBlockNumber(ctx)
		if err != nil {
			p.persistFailure(ctx, prior, fmt.Errorf("get latest block: %w", err))
			return fmt.Errorf("get latest block: %w", err)
		}
		to = latest
	}
	if from > to {
		p.logger.Info("nothing to sync", zap.Uint64("from", from), zap.Uint64("to", to))
		return nil
	}

	p.logger.Info("collection start", zap.Uint64("from", from), zap.Uint64("to", to))

	res, err := p.collector.Collect(ctx, from, to)
	if err != nil {
		p.persistPartial(ctx, prior, res, err)
		return fmt.Errorf("collect %s [%d,%d]: %w", p.network, from, to, err)
	}

	runErrors := make([]string, 0)
	for _, seg := range res.FailedSegments {
		runErrors = append(runErrors, fmt.Sprintf("segment [%d,%d]: %s", seg.From, seg.To, seg.Error))
	}

	if err := p.feed.Init(ctx); err != nil {
		p.persistPartial(ctx, prior, res, err)
		return fmt.Errorf("feed init: %w", err)
	}
	for _, ev := range res.Events {
		if err := p.feed.AddEvent(ev); err != nil {
			// A bad timestamp rejects the one event, not the batch.
			p.logger.Warn("event rejected", zap.Error(err))
			collector.EventsDropped.WithLabelValues(p.network).Inc()
			runErrors = append(runErrors, err.Error())
		}
	}
	uploaded := p.feed.Upload(ctx)
	if !uploaded {
		runErrors = append(runErrors, "feed upload failed")
	}

	// The watermark advances to the requested upper bound even when
	// segments were abandoned: failures are tracked in failedSegments for
	// out-of-band replay, not by regressing the resume point.
	st := model.ProcessingState{
		LastProcessedBlock:  to,
		HasError:            len(runErrors) > 0,
		RetryCount:          res.Retries,
		APICallCount:        prior.APICallCount + res.APICalls,
		ConsecutiveFailures: 0,
		FailedSegments:      p.carrySegments(prior, res.FailedSegments),
	}
	if len(runErrors) > 0 {
		st.LastError = runErrors[0]
	}
	if err := p.state.Write(ctx, p.network, st); err != nil {
		return fmt.Errorf("persist state: %w", err)
	}

	rec := model.ProcessingRecord{
		Network:    p.network,
		FromBlock:  from,
		ToBlock:    to,
		Timestamp:  time.Now().UTC().Format(time.RFC3339),
		Errors:     runErrors,
		EventCount: len(res.Events),
	}
	if err := p.history.Append(ctx, rec); err != nil {
		p.logger.Error("history append failed", zap.Error(err))
	}
	p.mirrorRun(ctx, st, rec)

	if len(res.FailedSegments) > 0 {
		p.logger.Error("run finished with recorded gaps",
			zap.Int("failed_segments", len(res.FailedSegments)),
			zap.Uint64("watermark", to))
	} else {
		p.logger.Info("run complete",
			zap.Int("events", len(res.Events)),
			zap.Int("api_calls", res.APICalls),
			zap.Uint64("watermark", to))
	}

	if !uploaded {
		return fmt.Errorf("feed upload failed for %s", p.network)
	}
	return nil
}

// Replay re-collects the recorded failed segments. Segments that now succeed
// are removed from the durable state; an empty surviving set clears the
// network's failure record entirely.
func (p *Pipeline) Replay(ctx context.Context) error {
	prior, err := p.readPrior(ctx)
	if err != nil {
		return err
	}
	if len(prior.FailedSegments) == 0 {
		p.logger.Info("no failed segments to replay")
		return nil
	}

	if err := p.feed.Init(ctx); err != nil {
		return fmt.Errorf("feed init: %w", err)
	}

	survivors := make([]model.FailedSegment, 0)
	events := 0
	for _, seg := range prior.FailedSegments {
		res, err := p.collector.Collect(ctx, seg.From, seg.To)
		if err != nil {
			return fmt.Errorf("replay [%d,%d]: %w", seg.From, seg.To, err)
		}
		survivors = append(survivors, res.FailedSegments...)
		for _, ev := range res.Events {
			if err := p.feed.AddEvent(ev); err != nil {
				p.logger.Warn("event rejected", zap.Error(err))
				collector.EventsDropped.WithLabelValues(p.network).Inc()
			}
		}
		events += len(res.Events)
	}

	if !p.feed.Upload(ctx) {
		return fmt.Errorf("feed upload failed for %s", p.network)
	}

	// One replace-mode write: resolved segments disappear and unresolved
	// ones stay visible, with no intermediate state where the gaps are
	// durably absent.
	next := prior
	next.FailedSegments = survivors
	next.HasError = len(survivors) > 0
	if len(survivors) == 0 {
		next.LastError = ""
	}
	if err := p.state.Replace(ctx, p.network, next); err != nil {
		return fmt.Errorf("persist state: %w", err)
	}

	p.logger.Info("replay complete",
		zap.Int("events", events),
		zap.Int("resolved", len(prior.FailedSegments)-len(survivors)),
		zap.Int("surviving", len(survivors)))
	return nil
}

func (p *Pipeline) readPrior(ctx context.Context) (model.ProcessingState, error) {
	states, err := p.state.Read(ctx, []string{p.network})
	if err != nil {
		return model.ProcessingState{}, err
	}
	return states[p.network], nil
}

// carrySegments picks the failed-segment list to hand the state store. When
// this run produced none, the prior set is passed back so the store's
// empty-clears rule does not wipe gaps the run never attempted.
func (p *Pipeline) carrySegments(prior model.ProcessingState, fresh []model.FailedSegment) []model.FailedSegment {
	if len(fresh) > 0 {
		return fresh
	}
	return prior.FailedSegments
}

// persistPartial records whatever a failed run learned before it stopped.
func (p *Pipeline) persistPartial(ctx context.Context, prior model.ProcessingState, res collector.Result, cause error) {
	st := model.ProcessingState{
		LastProcessedBlock:  prior.LastProcessedBlock,
		HasError:            true,
		LastError:           cause.Error(),
		RetryCount:          res.Retries,
		APICallCount:        prior.APICallCount + res.APICalls,
		ConsecutiveFailures: prior.ConsecutiveFailures + 1,
		FailedSegments:      p.carrySegments(prior, res.FailedSegments),
	}
	if err := p.state.Write(ctx, p.network, st); err != nil {
		p.logger.Error("state persistence after failure failed", zap.Error(err))
	}
}

func (p *Pipeline) persistFailure(ctx context.Context, prior model.ProcessingState, cause error) {
	p.persistPartial(ctx, prior, collector.Result{}, cause)
}

// mirrorRun copies state and history into Postgres, best effort.
func (p *Pipeline) mirrorRun(ctx context.Context, st model.ProcessingState, rec model.ProcessingRecord) {
	if p.mirror == nil {
		return
	}
	if err := p.mirror.UpsertState(ctx, p.network, st); err != nil {
		p.logger.Warn("postgres state mirror failed", zap.Error(err))
	}
	if err := p.mirror.InsertRunRecord(ctx, rec); err != nil {
		p.logger.Warn("postgres history mirror failed", zap.Error(err))
	}
}
