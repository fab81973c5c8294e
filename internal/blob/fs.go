package blob

import (
	"context"
	"os"
	"path/filepath"

	"github.com/spf13/afero"
)

// FsStore keeps blobs under a root directory of an afero filesystem.
type FsStore struct {
	fs   afero.Fs
	root string
}

func NewFsStore(fs afero.Fs, root string) *FsStore {
	if fs == nil {
		fs = afero.NewOsFs()
	}
	return &FsStore{fs: fs, root: root}
}

func (s *FsStore) path(key string) string {
	return filepath.Join(s.root, filepath.FromSlash(key))
}

// Upload writes the blob, creating parent directories as needed.
func (s *FsStore) Upload(_ context.Context, key string, data []byte) error {
	path := s.path(key)
	if err := s.fs.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return afero.WriteFile(s.fs, path, data, 0o644)
}

// Download reads the blob, returning ErrNotFound for a missing key.
func (s *FsStore) Download(_ context.Context, key string) ([]byte, error) {
	data, err := afero.ReadFile(s.fs, s.path(key))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return data, nil
}

// Exists reports whether the key is present.
func (s *FsStore) Exists(_ context.Context, key string) (bool, error) {
	return afero.Exists(s.fs, s.path(key))
}
