package blob

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"github.com/spf13/afero"
)

func TestFsStoreRoundTrip(t *testing.T) {
	s := NewFsStore(afero.NewMemMapFs(), "/blobs")
	ctx := context.Background()

	payload := []byte(`{"hello":"world"}`)
	if err := s.Upload(ctx, "feed/governance.json", payload); err != nil {
		t.Fatalf("upload: %v", err)
	}

	got, err := s.Download(ctx, "feed/governance.json")
	if err != nil {
		t.Fatalf("download: %v", err)
	}
	if !bytes.Equal(got, payload) {
		t.Fatalf("round-trip mismatch: %s", got)
	}

	ok, err := s.Exists(ctx, "feed/governance.json")
	if err != nil || !ok {
		t.Fatalf("exists: %v %v", ok, err)
	}
}

func TestFsStoreMissingKey(t *testing.T) {
	s := NewFsStore(afero.NewMemMapFs(), "/blobs")
	ctx := context.Background()

	if _, err := s.Download(ctx, "nope.json"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	ok, err := s.Exists(ctx, "nope.json")
	if err != nil {
		t.Fatalf("exists: %v", err)
	}
	if ok {
		t.Fatalf("missing key must not exist")
	}
}

func TestFsStoreOverwrite(t *testing.T) {
	s := NewFsStore(afero.NewMemMapFs(), "/blobs")
	ctx := context.Background()

	if err := s.Upload(ctx, "state/mainnet.json", []byte("v1")); err != nil {
		t.Fatalf("upload: %v", err)
	}
	if err := s.Upload(ctx, "state/mainnet.json", []byte("v2")); err != nil {
		t.Fatalf("overwrite: %v", err)
	}

	got, err := s.Download(ctx, "state/mainnet.json")
	if err != nil {
		t.Fatalf("download: %v", err)
	}
	if string(got) != "v2" {
		t.Fatalf("expected v2, got %s", got)
	}
}
