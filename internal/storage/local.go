package storage

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	evalhub_errors "evalhub/pkg/errors"
)

// LocalBackend stores objects as files under a root directory. Keys are
// slash-separated paths; any key whose resolution would escape the root is
// rejected, never normalized into place.
type LocalBackend struct {
	root string
}

func NewLocalBackend(root string) (*LocalBackend, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolve storage root: %w", err)
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("create storage root: %w", err)
	}
	return &LocalBackend{root: abs}, nil
}

// resolve maps a key to an absolute path inside the root.
func (b *LocalBackend) resolve(key string) (string, error) {
	clean := filepath.Clean(filepath.FromSlash(key))
	if clean == "." || filepath.IsAbs(clean) || clean == ".." ||
		strings.HasPrefix(clean, ".."+string(os.PathSeparator)) {
		return "", fmt.Errorf("%w: key %q escapes storage root", evalhub_errors.ErrPathTraversal, key)
	}
	full := filepath.Join(b.root, clean)
	if full == b.root || !strings.HasPrefix(full, b.root+string(os.PathSeparator)) {
		return "", fmt.Errorf("%w: key %q escapes storage root", evalhub_errors.ErrPathTraversal, key)
	}
	return full, nil
}

func (b *LocalBackend) Store(ctx context.Context, key string, data []byte) error {
	full, err := b.resolve(key)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return fmt.Errorf("%w: mkdir for %s: %v", evalhub_errors.ErrStorage, key, err)
	}
	f, err := os.OpenFile(full, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return fmt.Errorf("%w: open %s: %v", evalhub_errors.ErrStorage, key, err)
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		os.Remove(full) // never leave a partial object behind
		return fmt.Errorf("%w: write %s: %v", evalhub_errors.ErrStorage, key, err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return fmt.Errorf("%w: sync %s: %v", evalhub_errors.ErrStorage, key, err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("%w: close %s: %v", evalhub_errors.ErrStorage, key, err)
	}
	return nil
}

func (b *LocalBackend) Retrieve(ctx context.Context, key string) ([]byte, error) {
	full, err := b.resolve(key)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(full)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: object %s", evalhub_errors.ErrNotFound, key)
		}
		return nil, fmt.Errorf("%w: read %s: %v", evalhub_errors.ErrStorage, key, err)
	}
	return data, nil
}

func (b *LocalBackend) Stream(ctx context.Context, key string, chunkSize int) (io.ReadCloser, error) {
	full, err := b.resolve(key)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(full)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: object %s", evalhub_errors.ErrNotFound, key)
		}
		return nil, fmt.Errorf("%w: open %s: %v", evalhub_errors.ErrStorage, key, err)
	}
	if chunkSize <= 0 {
		chunkSize = DefaultStreamChunk
	}
	return &fileStream{Reader: bufio.NewReaderSize(f, chunkSize), f: f}, nil
}

type fileStream struct {
	*bufio.Reader
	f *os.File
}

func (s *fileStream) Close() error {
	return s.f.Close()
}

func (b *LocalBackend) Delete(ctx context.Context, key string) error {
	full, err := b.resolve(key)
	if err != nil {
		return err
	}
	if err := os.Remove(full); err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("%w: delete %s: %v", evalhub_errors.ErrStorage, key, err)
	}
	b.pruneEmptyParents(full)
	return nil
}

// pruneEmptyParents removes now-empty shard directories. Removal of a
// non-empty directory fails and ends the walk.
func (b *LocalBackend) pruneEmptyParents(full string) {
	dir := filepath.Dir(full)
	for dir != b.root && strings.HasPrefix(dir, b.root) {
		if err := os.Remove(dir); err != nil {
			return
		}
		dir = filepath.Dir(dir)
	}
}

func (b *LocalBackend) Exists(ctx context.Context, key string) (bool, error) {
	full, err := b.resolve(key)
	if err != nil {
		return false, err
	}
	if _, err := os.Stat(full); err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, fmt.Errorf("%w: stat %s: %v", evalhub_errors.ErrStorage, key, err)
	}
	return true, nil
}

func (b *LocalBackend) AppendChunk(ctx context.Context, key string, data []byte) error {
	full, err := b.resolve(key)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return fmt.Errorf("%w: mkdir for %s: %v", evalhub_errors.ErrStorage, key, err)
	}
	f, err := os.OpenFile(full, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("%w: open %s: %v", evalhub_errors.ErrStorage, key, err)
	}
	defer f.Close()
	if _, err := f.Write(data); err != nil {
		return fmt.Errorf("%w: append %s: %v", evalhub_errors.ErrStorage, key, err)
	}
	return nil
}
