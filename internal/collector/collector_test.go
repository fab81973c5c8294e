package collector

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"reflect"
	"sort"
	"strconv"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"govscope/internal/chain"
	"govscope/internal/gov"
	"govscope/internal/model"
)

var testTopic = common.HexToHash("0xaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa")

// stubSource serves one log per block and fails according to failFn.
type stubSource struct {
	failFn  func(from, to uint64) error
	fetched []Segment
}

func (s *stubSource) GetLogs(_ context.Context, filter chain.Filter) ([]types.Log, error) {
	if s.failFn != nil {
		if err := s.failFn(filter.FromBlock, filter.ToBlock); err != nil {
			return nil, err
		}
	}
	s.fetched = append(s.fetched, Segment{From: filter.FromBlock, To: filter.ToBlock})

	logs := make([]types.Log, 0, filter.ToBlock-filter.FromBlock+1)
	for n := filter.FromBlock; n <= filter.ToBlock; n++ {
		logs = append(logs, types.Log{
			BlockNumber: n,
			TxHash:      common.BigToHash(new(big.Int).SetUint64(n)),
			Topics:      []common.Hash{testTopic},
		})
	}
	return logs, nil
}

type stubTimestamps struct{}

func (stubTimestamps) Timestamp(_ context.Context, block uint64) (uint64, error) {
	return 1700000000 + block, nil
}

// stubDecoder turns any log into a minimal event.
type stubDecoder struct {
	decodeErr error
}

func (d *stubDecoder) CanDecode(topic0 common.Hash) bool { return topic0 == testTopic }

func (d *stubDecoder) Decode(log types.Log, meta gov.Meta) (*model.ParsedEvent, error) {
	if d.decodeErr != nil {
		return nil, d.decodeErr
	}
	return &model.ParsedEvent{
		Name:        "TestEvent",
		BlockNumber: log.BlockNumber,
		TxHash:      log.TxHash.Hex(),
		Title:       "TestEvent " + strconv.FormatUint(log.BlockNumber, 10),
		Timestamp:   strconv.FormatUint(meta.Timestamp, 10),
		Network:     meta.Network,
		ChainID:     meta.ChainID,
	}, nil
}

func newTestCollector(cfg Config, source *stubSource, dec gov.Decoder) *Collector {
	return New(cfg, "testnet", source, stubTimestamps{}, dec,
		gov.Meta{Network: "testnet", ChainID: 1}, nil, []common.Hash{testTopic}, nil)
}

func TestCollectSplitsUntilSpanAccepted(t *testing.T) {
	// The provider rejects any span above 20 blocks; the collector must
	// narrow [1000,1099] into accepted leaves covering every block.
	source := &stubSource{
		failFn: func(from, to uint64) error {
			if to-from+1 > 20 {
				return errors.New("query returned more than 10000 results")
			}
			return nil
		},
	}
	c := newTestCollector(Config{
		MinSegmentSpan: 1,
		MaxAttempts:    3,
		BaseBackoff:    time.Millisecond,
	}, source, &stubDecoder{})

	res, err := c.Collect(context.Background(), 1000, 1099)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(res.FailedSegments) != 0 {
		t.Fatalf("unexpected failed segments: %+v", res.FailedSegments)
	}
	if len(res.Events) != 100 {
		t.Fatalf("expected 100 events, got %d", len(res.Events))
	}
	if res.Splits == 0 {
		t.Fatalf("expected splits to occur")
	}

	// Leaves must each be accepted-size and tile the range exactly.
	leaves := append([]Segment(nil), source.fetched...)
	sort.Slice(leaves, func(i, j int) bool { return leaves[i].From < leaves[j].From })
	next := uint64(1000)
	for _, leaf := range leaves {
		if leaf.Span() > 20 {
			t.Fatalf("leaf %+v exceeds accepted span", leaf)
		}
		if leaf.From != next {
			t.Fatalf("coverage gap or overlap at %d: leaf %+v", next, leaf)
		}
		next = leaf.To + 1
	}
	if next != 1100 {
		t.Fatalf("coverage ends at %d, want 1100", next)
	}

	for i, ev := range res.Events {
		if ev.BlockNumber != 1000+uint64(i) {
			t.Fatalf("event %d out of order: block %d", i, ev.BlockNumber)
		}
	}
}

func TestCollectDeterministicOrdering(t *testing.T) {
	failOdd := func() func(from, to uint64) error {
		calls := 0
		return func(from, to uint64) error {
			calls++
			if to-from+1 > 10 && calls%2 == 1 {
				return errors.New("intermittent provider failure")
			}
			return nil
		}
	}

	var runs [][]model.ParsedEvent
	for i := 0; i < 2; i++ {
		source := &stubSource{failFn: failOdd()}
		c := newTestCollector(Config{
			MinSegmentSpan: 2,
			MaxAttempts:    5,
			BaseBackoff:    time.Millisecond,
		}, source, &stubDecoder{})

		res, err := c.Collect(context.Background(), 500, 563)
		if err != nil {
			t.Fatalf("run %d: unexpected error: %v", i, err)
		}
		runs = append(runs, res.Events)
	}

	if !reflect.DeepEqual(runs[0], runs[1]) {
		t.Fatalf("event ordering differs between runs")
	}
}

func TestCollectRecordsExhaustedSegments(t *testing.T) {
	// Ranges containing block 1050 always fail: the collector must abandon
	// a narrow segment around it and still return everything else.
	source := &stubSource{
		failFn: func(from, to uint64) error {
			if from <= 1050 && 1050 <= to {
				return fmt.Errorf("persistent failure for [%d,%d]", from, to)
			}
			return nil
		},
	}
	c := newTestCollector(Config{
		MinSegmentSpan: 4,
		MaxAttempts:    2,
		BaseBackoff:    time.Millisecond,
	}, source, &stubDecoder{})

	res, err := c.Collect(context.Background(), 1000, 1099)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(res.FailedSegments) != 1 {
		t.Fatalf("expected exactly one failed segment, got %+v", res.FailedSegments)
	}

	failed := res.FailedSegments[0]
	if failed.From > 1050 || failed.To < 1050 {
		t.Fatalf("failed segment %+v does not cover block 1050", failed)
	}
	if failed.To-failed.From+1 > 2*4 {
		t.Fatalf("failed segment %+v wider than the split floor allows", failed)
	}
	if failed.Error == "" {
		t.Fatalf("failed segment must record the error message")
	}
	if res.Retries == 0 {
		t.Fatalf("expected minimal-span retries before abandonment")
	}

	want := 100 - int(failed.To-failed.From+1)
	if len(res.Events) != want {
		t.Fatalf("expected %d events outside the gap, got %d", want, len(res.Events))
	}
	for _, ev := range res.Events {
		if ev.BlockNumber >= failed.From && ev.BlockNumber <= failed.To {
			t.Fatalf("event from abandoned range leaked: block %d", ev.BlockNumber)
		}
	}
}

func TestCollectRetriesInPlaceAtSpanFloor(t *testing.T) {
	// [100,104] has a block-number distance of exactly MinSegmentSpan: a
	// failure here must retry the same range, never split it.
	failures := 1
	source := &stubSource{
		failFn: func(from, to uint64) error {
			if failures > 0 {
				failures--
				return errors.New("transient provider failure")
			}
			return nil
		},
	}
	c := newTestCollector(Config{
		MinSegmentSpan: 4,
		MaxAttempts:    3,
		BaseBackoff:    time.Millisecond,
	}, source, &stubDecoder{})

	res, err := c.Collect(context.Background(), 100, 104)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Splits != 0 {
		t.Fatalf("boundary segment must not split, got %d splits", res.Splits)
	}
	if res.Retries != 1 {
		t.Fatalf("expected 1 in-place retry, got %d", res.Retries)
	}
	if len(res.Events) != 5 {
		t.Fatalf("expected 5 events, got %d", len(res.Events))
	}
}

func TestCollectDecodeErrorIsFatal(t *testing.T) {
	source := &stubSource{}
	c := newTestCollector(Config{
		MinSegmentSpan: 10,
		MaxAttempts:    3,
		BaseBackoff:    time.Millisecond,
	}, source, &stubDecoder{decodeErr: errors.New("unknown event signature")})

	_, err := c.Collect(context.Background(), 1, 5)
	if err == nil {
		t.Fatalf("expected fatal decode error")
	}
	if len(source.fetched) != 1 {
		t.Fatalf("decode errors must not be retried, got %d fetches", len(source.fetched))
	}
}

func TestCollectDiscardsInvertedSegment(t *testing.T) {
	source := &stubSource{}
	c := newTestCollector(Config{MinSegmentSpan: 10, MaxAttempts: 3, BaseBackoff: time.Millisecond}, source, &stubDecoder{})

	res, err := c.Collect(context.Background(), 10, 5)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(res.Events) != 0 || res.APICalls != 0 {
		t.Fatalf("inverted range must be discarded without fetching")
	}
}
