// Package blob provides named byte-blob storage used for the state file,
// history file, published feed, and archives.
package blob

import (
	"context"
	"errors"
)

// ErrNotFound reports that a key does not exist in the store.
var ErrNotFound = errors.New("blob not found")

// Store is a named byte-blob store.
type Store interface {
	Upload(ctx context.Context, key string, data []byte) error
	// Download returns ErrNotFound when the key is absent.
	Download(ctx context.Context, key string) ([]byte, error)
	Exists(ctx context.Context, key string) (bool, error)
}
