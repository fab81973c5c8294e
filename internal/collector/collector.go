package collector

import (
	"context"
	"errors"
	"sort"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"go.uber.org/zap"

	"govscope/internal/chain"
	"govscope/internal/gov"
	"govscope/internal/model"
)

// LogSource fetches raw logs for a filter over a block range.
type LogSource interface {
	GetLogs(ctx context.Context, filter chain.Filter) ([]types.Log, error)
}

// TimestampSource resolves a block number to its Unix timestamp.
type TimestampSource interface {
	Timestamp(ctx context.Context, block uint64) (uint64, error)
}

// Config holds tuning knobs for the collector.
type Config struct {
	// MinSegmentSpan is the block-number distance (to minus from) at or
	// below which a failing segment is retried in place instead of split
	// further.
	MinSegmentSpan uint64
	// MaxAttempts bounds retries of a minimal-span segment before it is
	// abandoned into the failed-segment list.
	MaxAttempts int
	// BaseBackoff is the initial retry delay; it doubles per attempt.
	BaseBackoff time.Duration
	// Pacing separates consecutive fetch attempts to respect provider
	// rate limits.
	Pacing time.Duration
}

func (c Config) withDefaults() Config {
	if c.MinSegmentSpan == 0 {
		c.MinSegmentSpan = 100
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 3
	}
	if c.BaseBackoff <= 0 {
		c.BaseBackoff = 500 * time.Millisecond
	}
	return c
}

// Result is the outcome of one collection run.
type Result struct {
	Events         []model.ParsedEvent
	FailedSegments []model.FailedSegment
	APICalls       int
	Retries        int
	Splits         int
}

// fatalError marks failures that retrying cannot fix (ABI/config mismatch).
type fatalError struct {
	err error
}

func (e *fatalError) Error() string { return e.err.Error() }
func (e *fatalError) Unwrap() error { return e.err }

// Collector fetches and decodes governance events over a block range,
// narrowing the range adaptively when the provider rejects it.
type Collector struct {
	cfg        Config
	network    string
	source     LogSource
	timestamps TimestampSource
	decoder    gov.Decoder
	meta       gov.Meta
	addresses  []common.Address
	topics     [][]common.Hash
	logger     *zap.Logger
}

// New builds a Collector. meta.Timestamp is overwritten per event.
func New(cfg Config, network string, source LogSource, timestamps TimestampSource, decoder gov.Decoder, meta gov.Meta, addresses []common.Address, topics []common.Hash, logger *zap.Logger) *Collector {
	if logger == nil {
		logger = zap.NewNop()
	}
	var topicFilter [][]common.Hash
	if len(topics) > 0 {
		topicFilter = [][]common.Hash{topics}
	}
	return &Collector{
		cfg:        cfg.withDefaults(),
		network:    network,
		source:     source,
		timestamps: timestamps,
		decoder:    decoder,
		meta:       meta,
		addresses:  addresses,
		topics:     topicFilter,
		logger:     logger,
	}
}

// Collect gathers all decodable events in [from, to]. Transient failures are
// handled by splitting and retrying; sub-ranges that exhaust their retry
// budget are recorded in the result, never raised. Only programming and
// configuration failures (decode errors) return an error.
//
// Each segment is processed to completion before the next one: the worklist
// is LIFO, so the children of a split are explored before their siblings and
// the final event order is restored by an explicit sort.
func (c *Collector) Collect(ctx context.Context, from, to uint64) (Result, error) {
	res := Result{}

	stack := []Segment{{From: from, To: to}}
	for len(stack) > 0 {
		seg := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		if seg.From > seg.To {
			continue
		}
		if err := ctx.Err(); err != nil {
			return res, err
		}

		events, err := c.attempt(ctx, seg, &res)
		if err == nil {
			res.Events = append(res.Events, events...)
			continue
		}

		var fatal *fatalError
		if errors.As(err, &fatal) || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return res, err
		}

		if seg.To-seg.From > c.cfg.MinSegmentSpan {
			// Most provider failures are payload-size related, so
			// narrowing beats retrying the same range.
			left, right := seg.Split()
			res.Splits++
			segmentSplits.WithLabelValues(c.network).Inc()
			c.logger.Debug("segment split",
				zap.Uint64("from", seg.From), zap.Uint64("to", seg.To),
				zap.Uint64("mid", left.To), zap.Error(err))
			stack = append(stack, right, left)
			continue
		}

		if seg.Attempt+1 < c.cfg.MaxAttempts {
			seg.Attempt++
			res.Retries++
			segmentRetries.WithLabelValues(c.network).Inc()
			c.logger.Warn("segment retry",
				zap.Uint64("from", seg.From), zap.Uint64("to", seg.To),
				zap.Int("attempt", seg.Attempt), zap.Error(err))
			if werr := c.wait(ctx, c.backoff(seg.Attempt)); werr != nil {
				return res, werr
			}
			stack = append(stack, seg)
			continue
		}

		res.FailedSegments = append(res.FailedSegments, model.FailedSegment{
			From:  seg.From,
			To:    seg.To,
			Error: err.Error(),
		})
		segmentsAbandoned.WithLabelValues(c.network).Inc()
		c.logger.Error("segment abandoned",
			zap.Uint64("from", seg.From), zap.Uint64("to", seg.To),
			zap.Int("attempts", seg.Attempt+1), zap.Error(err))
	}

	sortEvents(res.Events)
	return res, nil
}

// attempt runs one fetch-and-decode pass over a segment's exact range.
func (c *Collector) attempt(ctx context.Context, seg Segment, res *Result) ([]model.ParsedEvent, error) {
	res.APICalls++
	apiCalls.WithLabelValues(c.network).Inc()

	logs, err := c.source.GetLogs(ctx, chain.Filter{
		FromBlock: seg.From,
		ToBlock:   seg.To,
		Addresses: c.addresses,
		Topics:    c.topics,
	})

	if c.cfg.Pacing > 0 {
		if werr := c.wait(ctx, c.cfg.Pacing); werr != nil {
			return nil, werr
		}
	}
	if err != nil {
		return nil, err
	}

	events := make([]model.ParsedEvent, 0, len(logs))
	for _, log := range logs {
		if len(log.Topics) == 0 || !c.decoder.CanDecode(log.Topics[0]) {
			continue
		}

		ts, err := c.timestamps.Timestamp(ctx, log.BlockNumber)
		if err != nil {
			// Transient: failing the whole attempt routes the
			// segment back through split/retry.
			return nil, err
		}

		meta := c.meta
		meta.Timestamp = ts
		ev, err := c.decoder.Decode(log, meta)
		if err != nil {
			return nil, &fatalError{err: err}
		}
		events = append(events, *ev)
		eventsDecoded.WithLabelValues(c.network).Inc()
	}
	return events, nil
}

func (c *Collector) backoff(attempt int) time.Duration {
	delay := c.cfg.BaseBackoff
	for i := 1; i < attempt; i++ {
		delay *= 2
	}
	return delay
}

func (c *Collector) wait(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	select {
	case <-ctx.Done():
		timer.Stop()
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// sortEvents orders by block ascending, tie-broken by transaction hash, so
// output is deterministic regardless of split order.
func sortEvents(events []model.ParsedEvent) {
	sort.Slice(events, func(i, j int) bool {
		if events[i].BlockNumber != events[j].BlockNumber {
			return events[i].BlockNumber < events[j].BlockNumber
		}
		return events[i].TxHash < events[j].TxHash
	})
}
