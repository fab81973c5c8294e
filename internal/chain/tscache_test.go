package chain

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/spf13/afero"
)

func TestTimestampCacheGetSet(t *testing.T) {
	c := NewTimestampCache(afero.NewMemMapFs(), "/cache/ts.json", time.Hour, 100, 10)

	if _, ok := c.Get(42); ok {
		t.Fatalf("empty cache must miss")
	}

	c.Set(42, 1700000000)
	ts, ok := c.Get(42)
	if !ok || ts != 1700000000 {
		t.Fatalf("expected hit with 1700000000, got %d %v", ts, ok)
	}
}

func TestTimestampCacheExpiry(t *testing.T) {
	c := NewTimestampCache(afero.NewMemMapFs(), "/cache/ts.json", time.Millisecond, 100, 10)

	c.Set(42, 1700000000)
	time.Sleep(5 * time.Millisecond)

	if _, ok := c.Get(42); ok {
		t.Fatalf("expired entry must miss")
	}
}

func TestTimestampCacheEvictsOldestTenth(t *testing.T) {
	c := NewTimestampCache(afero.NewMemMapFs(), "/cache/ts.json", time.Hour, 20, 1000)

	for i := uint64(0); i <= 20; i++ {
		c.Set(i, 1700000000+i)
		time.Sleep(time.Millisecond)
	}

	// 21 entries over a bound of 20: the oldest 10% (2 entries) go.
	if _, ok := c.Get(0); ok {
		t.Fatalf("oldest entry must be evicted")
	}
	if _, ok := c.Get(1); ok {
		t.Fatalf("second-oldest entry must be evicted")
	}
	if _, ok := c.Get(20); !ok {
		t.Fatalf("newest entry must survive eviction")
	}
}

func TestTimestampCachePersistsAcrossRestart(t *testing.T) {
	fs := afero.NewMemMapFs()

	c := NewTimestampCache(fs, "/cache/ts.json", time.Hour, 100, 10)
	c.Set(42, 1700000000)
	if err := c.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	reloaded := NewTimestampCache(fs, "/cache/ts.json", time.Hour, 100, 10)
	ts, ok := reloaded.Get(42)
	if !ok || ts != 1700000000 {
		t.Fatalf("reloaded cache must hit, got %d %v", ts, ok)
	}
}

func TestTimestampCacheDropsExpiredOnLoad(t *testing.T) {
	fs := afero.NewMemMapFs()

	c := NewTimestampCache(fs, "/cache/ts.json", 10*time.Millisecond, 100, 10)
	c.Set(42, 1700000000)
	if err := c.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	time.Sleep(20 * time.Millisecond)
	reloaded := NewTimestampCache(fs, "/cache/ts.json", 10*time.Millisecond, 100, 10)
	if _, ok := reloaded.Get(42); ok {
		t.Fatalf("expired entry must be dropped at load")
	}
}

type countingHeaders struct {
	calls int
	err   error
}

func (h *countingHeaders) HeaderTime(_ context.Context, number uint64) (uint64, error) {
	h.calls++
	if h.err != nil {
		return 0, h.err
	}
	return 1700000000 + number, nil
}

func TestTimestampsHitChainOnlyOnMiss(t *testing.T) {
	headers := &countingHeaders{}
	ts := NewTimestamps(headers, NewTimestampCache(afero.NewMemMapFs(), "/cache/ts.json", time.Hour, 100, 10))

	for i := 0; i < 3; i++ {
		got, err := ts.Timestamp(context.Background(), 7)
		if err != nil {
			t.Fatalf("timestamp: %v", err)
		}
		if got != 1700000007 {
			t.Fatalf("unexpected timestamp %d", got)
		}
	}
	if headers.calls != 1 {
		t.Fatalf("expected a single header fetch, got %d", headers.calls)
	}
}

type fixedHeaders struct {
	base  uint64
	calls int
}

func (h *fixedHeaders) HeaderTime(_ context.Context, _ uint64) (uint64, error) {
	h.calls++
	return h.base, nil
}

func TestNetworkCachePath(t *testing.T) {
	cases := []struct {
		base, network, want string
	}{
		{"./data/tscache.json", "mainnet", "./data/tscache-mainnet.json"},
		{"./data/tscache.json", "base", "./data/tscache-base.json"},
		{"tscache", "mainnet", "tscache-mainnet"},
	}
	for _, tc := range cases {
		if got := NetworkCachePath(tc.base, tc.network); got != tc.want {
			t.Fatalf("NetworkCachePath(%q, %q) = %q, want %q", tc.base, tc.network, got, tc.want)
		}
	}
}

func TestTimestampsIsolatedPerNetwork(t *testing.T) {
	// Block 5000 exists on both chains with different timestamps. Each
	// network resolves through its own cache file, so neither sees the
	// other's value and each chain is queried exactly once.
	fs := afero.NewMemMapFs()
	headersA := &fixedHeaders{base: 1700000000}
	headersB := &fixedHeaders{base: 1650000000}

	tsA := NewTimestamps(headersA, NewTimestampCache(fs,
		NetworkCachePath("/cache/ts.json", "chain-a"), time.Hour, 100, 10))
	tsB := NewTimestamps(headersB, NewTimestampCache(fs,
		NetworkCachePath("/cache/ts.json", "chain-b"), time.Hour, 100, 10))

	gotA, err := tsA.Timestamp(context.Background(), 5000)
	if err != nil {
		t.Fatalf("chain-a timestamp: %v", err)
	}
	gotB, err := tsB.Timestamp(context.Background(), 5000)
	if err != nil {
		t.Fatalf("chain-b timestamp: %v", err)
	}

	if gotA != 1700000000 {
		t.Fatalf("chain-a resolved %d, want 1700000000", gotA)
	}
	if gotB != 1650000000 {
		t.Fatalf("chain-b resolved %d, want 1650000000: its cache leaked another chain's entry", gotB)
	}
	if headersA.calls != 1 || headersB.calls != 1 {
		t.Fatalf("each chain must be queried once, got a=%d b=%d", headersA.calls, headersB.calls)
	}
}

func TestTimestampsPropagatesFetchError(t *testing.T) {
	headers := &countingHeaders{err: errors.New("provider down")}
	ts := NewTimestamps(headers, NewTimestampCache(afero.NewMemMapFs(), "/cache/ts.json", time.Hour, 100, 10))

	if _, err := ts.Timestamp(context.Background(), 7); err == nil {
		t.Fatalf("expected fetch error")
	}
}
