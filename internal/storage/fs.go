package storage

import (
	"context"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"
)

type FSStore struct{ base string }

func NewFSStore(base string) (*FSStore, error) {
	if base == "" {
		base = "./data"
	}
	if err := os.MkdirAll(base, 0o755); err != nil {
		return nil, errors.Wrap(err, "blob: create base dir")
	}
	return &FSStore{base: base}, nil
}

// CleanKey normalizes a slash-separated key and rejects ones that would
// leave the store.
func CleanKey(key string) (string, error) {
	key = strings.TrimPrefix(path.Clean("/"+strings.ReplaceAll(key, `\`, "/")), "/")
	if key == "" || key == "." {
		return "", ErrInvalidKey
	}
	return key, nil
}

func (s *FSStore) path(key string) (string, string, error) {
	k, err := CleanKey(key)
	if err != nil {
		return "", "", err
	}
	return k, filepath.Join(s.base, filepath.FromSlash(k)), nil
}

// Put writes through a temp file so readers never see a partial blob.
func (s *FSStore) Put(ctx context.Context, key string, r io.Reader) (string, error) {
	k, dst, err := s.path(key)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return "", errors.Wrap(err, "blob: mkdir")
	}
	f, err := os.CreateTemp(filepath.Dir(dst), ".upload-*")
	if err != nil {
		return "", errors.Wrap(err, "blob: create")
	}
	defer os.Remove(f.Name())
	if _, err := io.Copy(f, r); err != nil {
		f.Close()
		return "", errors.Wrap(err, "blob: write")
	}
	if err := f.Close(); err != nil {
		return "", errors.Wrap(err, "blob: close")
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if err := os.Rename(f.Name(), dst); err != nil {
		return "", errors.Wrap(err, "blob: rename")
	}
	return k, nil
}

func (s *FSStore) Get(_ context.Context, key string) (io.ReadCloser, error) {
	_, p, err := s.path(key)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(p)
	if errors.Is(err, os.ErrNotExist) {
		return nil, errors.Wrap(ErrNotFound, key)
	}
	return f, err
}

func (s *FSStore) Delete(_ context.Context, key string) error {
	_, p, err := s.path(key)
	if err != nil {
		return err
	}
	err = os.Remove(p)
	if errors.Is(err, os.ErrNotExist) {
		return errors.Wrap(ErrNotFound, key)
	}
	return err
}
