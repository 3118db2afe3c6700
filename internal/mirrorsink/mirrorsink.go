// Package mirrorsink is the optional write-through mirror of the local
// archive. Sink failures are reported to the caller for logging only; they
// never fail local synchronization.
package mirrorsink

import (
	"fmt"
	"io"
	"path/filepath"

	"github.com/spf13/afero"
)

// ObjectStore is the write-through sink contract. Implementations are
// invoked only after a successful local write.
type ObjectStore interface {
	Exists(key string) (bool, error)
	CopyFile(localPath, key string) error
	DeleteObject(key string) error
}

// fsStore mirrors objects onto a mounted filesystem root, typically a
// network share or an object-store gateway mount.
type fsStore struct {
	local afero.Fs
	sink  afero.Fs
	root  string
}

func NewFSStore(root string) ObjectStore {
	return NewFSStoreWithFS(afero.NewOsFs(), afero.NewOsFs(), root)
}

func NewFSStoreWithFS(local, sink afero.Fs, root string) ObjectStore {
	return &fsStore{local: local, sink: sink, root: root}
}

func (s *fsStore) keyPath(key string) string {
	return filepath.Join(s.root, filepath.FromSlash(key))
}

func (s *fsStore) Exists(key string) (bool, error) {
	return afero.Exists(s.sink, s.keyPath(key))
}

func (s *fsStore) CopyFile(localPath, key string) error {
	src, err := s.local.Open(localPath)
	if err != nil {
		return fmt.Errorf("cannot open local file: %w", err)
	}
	defer src.Close()

	target := s.keyPath(key)
	if err := s.sink.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return fmt.Errorf("cannot create sink directory: %w", err)
	}

	dst, err := s.sink.Create(target)
	if err != nil {
		return fmt.Errorf("cannot create sink object: %w", err)
	}

	_, err = io.Copy(dst, src)
	if cerr := dst.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		_ = s.sink.RemoveAll(target)

		return fmt.Errorf("cannot copy object %s: %w", key, err)
	}

	return nil
}

func (s *fsStore) DeleteObject(key string) error {
	if err := s.sink.RemoveAll(s.keyPath(key)); err != nil {
		return fmt.Errorf("cannot delete object %s: %w", key, err)
	}

	return nil
}
