package store

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/rotisserie/eris"
)

// FSStore implements ObjectStore on a directory tree. Keys are
// slash-separated relative paths; create-if-absent maps to O_EXCL.
type FSStore struct {
	root string
}

// NewFS creates an FSStore rooted at dir, creating it if needed.
func NewFS(dir string) (*FSStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, eris.Wrap(err, "fs store: mkdir root")
	}
	return &FSStore{root: dir}, nil
}

// resolve maps a key to an absolute path, rejecting escapes from root.
func (s *FSStore) resolve(key string) (string, error) {
	clean := filepath.Clean(filepath.FromSlash(key))
	if clean == "." || strings.HasPrefix(clean, "..") || filepath.IsAbs(clean) {
		return "", eris.Errorf("fs store: invalid key %q", key)
	}
	return filepath.Join(s.root, clean), nil
}

func (s *FSStore) Get(_ context.Context, key string) ([]byte, error) {
	path, err := s.resolve(key)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, eris.Wrapf(err, "fs store: read %s", key)
	}
	return data, nil
}

func (s *FSStore) Put(_ context.Context, key string, data []byte) error {
	path, err := s.resolve(key)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return eris.Wrapf(err, "fs store: mkdir for %s", key)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return eris.Wrapf(err, "fs store: write %s", key)
	}
	return nil
}

func (s *FSStore) CreateIfAbsent(_ context.Context, key string, data []byte) (bool, error) {
	path, err := s.resolve(key)
	if err != nil {
		return false, err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return false, eris.Wrapf(err, "fs store: mkdir for %s", key)
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if os.IsExist(err) {
		return false, nil
	}
	if err != nil {
		return false, eris.Wrapf(err, "fs store: create %s", key)
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		return false, eris.Wrapf(err, "fs store: write %s", key)
	}
	if err := f.Close(); err != nil {
		return false, eris.Wrapf(err, "fs store: close %s", key)
	}
	return true, nil
}

func (s *FSStore) List(_ context.Context, prefix string) ([]string, error) {
	var keys []string
	err := filepath.WalkDir(s.root, func(path string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return err
		}
		rel, err := filepath.Rel(s.root, path)
		if err != nil {
			return err
		}
		key := filepath.ToSlash(rel)
		if strings.HasPrefix(key, prefix) {
			keys = append(keys, key)
		}
		return nil
	})
	if err != nil {
		return nil, eris.Wrapf(err, "fs store: list %s", prefix)
	}
	sort.Strings(keys)
	return keys, nil
}

func (s *FSStore) Close() error { return nil }
