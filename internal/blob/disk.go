package blob

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/google/uuid"
)

// DiskStore writes blobs under a single directory, one file per reference.
// References are generated UUIDs, which also keeps path traversal out.
type DiskStore struct {
	dir string
}

func NewDiskStore(dir string) (*DiskStore, error) {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, err
	}
	return &DiskStore{dir: dir}, nil
}

func (s *DiskStore) Put(_ context.Context, data []byte) (string, error) {
	ref := uuid.NewString()
	if err := os.WriteFile(filepath.Join(s.dir, ref), data, 0o600); err != nil {
		return "", err
	}
	return ref, nil
}

func (s *DiskStore) Get(_ context.Context, ref string) ([]byte, error) {
	if _, err := uuid.Parse(ref); err != nil {
		return nil, ErrNotFound
	}
	data, err := os.ReadFile(filepath.Join(s.dir, ref))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return data, nil
}
