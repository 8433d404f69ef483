// Package disk provides the directory-backed entry store.
//
// Entries live as flat files named by the key's hex digest. Writes go
// through a temp-then-atomic-rename discipline so a crash or a racing
// writer can never leave a torn entry visible to Load. Invalid entries
// are moved into a "failed" subdirectory by Quarantine rather than
// deleted, so operators can inspect them after the fact.
package disk

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/buildstash/stash/store"
)

const (
	defaultDirPerm = 0o700

	// QuarantineDirName is the non-addressable namespace that holds
	// quarantined entries.
	QuarantineDirName = "failed"
)

// Store is a write-once directory of cache entries.
type Store struct {
	dir     string
	dirPerm os.FileMode
}

// Option configures a Store.
type Option func(*Store)

// WithDirPerm sets the permissions used for created directories.
func WithDirPerm(mode os.FileMode) Option {
	return func(s *Store) {
		s.dirPerm = mode
	}
}

// New creates a disk store rooted at dir, creating it if necessary.
func New(dir string, opts ...Option) (*Store, error) {
	if dir == "" {
		return nil, errors.New("store dir is empty")
	}
	s := &Store{dir: dir, dirPerm: defaultDirPerm}
	for _, opt := range opts {
		opt(s)
	}
	if err := os.MkdirAll(dir, s.dirPerm); err != nil {
		return nil, err
	}
	return s, nil
}

// Dir returns the store's root directory.
func (s *Store) Dir() string { return s.dir }

// Load returns the raw bytes for key, or store.ErrNotExist.
//
// No validation happens here: whatever bytes are present are returned,
// deferring corruption detection to the caller's decode step.
func (s *Store) Load(ctx context.Context, key string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	name, err := store.CleanKey(key)
	if err != nil {
		return nil, err
	}

	root, err := os.OpenRoot(s.dir)
	if err != nil {
		return nil, fmt.Errorf("open store root: %w", err)
	}
	defer root.Close()

	data, err := root.ReadFile(name)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, store.ErrNotExist
	}
	if err != nil {
		return nil, fmt.Errorf("read entry: %w", err)
	}
	return data, nil
}

// Store persists data under key via temp-then-rename. Storing an
// already-present key is a no-op: entries are write-once and any
// complete entry for a key is as good as any other.
func (s *Store) Store(ctx context.Context, key string, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	name, err := store.CleanKey(key)
	if err != nil {
		return err
	}

	root, err := os.OpenRoot(s.dir)
	if err != nil {
		return fmt.Errorf("open store root: %w", err)
	}
	defer root.Close()

	if _, err := root.Stat(name); err == nil {
		return nil
	} else if !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("stat entry: %w", err)
	}

	return writeAtomic(root, ".", name, data)
}

// Delete removes the addressable entry for key. Deleting a missing
// entry is a no-op.
func (s *Store) Delete(key string) error {
	name, err := store.CleanKey(key)
	if err != nil {
		return err
	}
	if err := os.Remove(filepath.Join(s.dir, name)); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return nil
}

// Quarantine moves an invalid entry out of the addressable key space,
// retaining the raw bytes under the failed namespace for post-mortem
// inspection. Quarantining an already-quarantined key is a no-op, so
// the quarantine count grows by exactly one per distinct bad entry.
func (s *Store) Quarantine(key string, raw []byte) error {
	name, err := store.CleanKey(key)
	if err != nil {
		return err
	}

	root, err := os.OpenRoot(s.dir)
	if err != nil {
		return fmt.Errorf("open store root: %w", err)
	}
	defer root.Close()

	target := filepath.Join(QuarantineDirName, name)
	if _, err := root.Stat(target); err == nil {
		return s.Delete(key)
	} else if !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("stat quarantined entry: %w", err)
	}

	if err := root.MkdirAll(QuarantineDirName, s.dirPerm); err != nil {
		return fmt.Errorf("create quarantine dir: %w", err)
	}
	if err := writeAtomic(root, QuarantineDirName, target, raw); err != nil {
		return err
	}
	return s.Delete(key)
}

// QuarantineCount returns the number of quarantined entries.
func (s *Store) QuarantineCount() (int, error) {
	entries, err := os.ReadDir(filepath.Join(s.dir, QuarantineDirName))
	if errors.Is(err, fs.ErrNotExist) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	count := 0
	for _, e := range entries {
		if !e.IsDir() && !strings.HasPrefix(e.Name(), ".") {
			count++
		}
	}
	return count, nil
}

// Keys returns the hex names of all addressable entries.
func (s *Store) Keys() ([]string, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, err
	}
	var keys []string
	for _, e := range entries {
		if e.IsDir() || strings.HasPrefix(e.Name(), ".") {
			continue
		}
		keys = append(keys, e.Name())
	}
	return keys, nil
}

// writeAtomic writes data to path via a temp file in dir followed by an
// atomic rename. Losing the rename race to an existing entry is treated
// as success.
func writeAtomic(root *os.Root, dir, path string, data []byte) error {
	tmp, tmpPath, err := createTemp(root, dir, ".entry-*")
	if err != nil {
		return fmt.Errorf("create temp entry: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = root.Remove(tmpPath)
		return fmt.Errorf("write entry: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = root.Remove(tmpPath)
		return fmt.Errorf("close entry: %w", err)
	}
	if err := root.Rename(tmpPath, path); err != nil {
		if _, statErr := root.Stat(path); statErr == nil {
			_ = root.Remove(tmpPath)
			return nil
		}
		_ = root.Remove(tmpPath)
		return fmt.Errorf("rename entry: %w", err)
	}
	return nil
}

// createTemp creates a uniquely named temp file in dir under root.
func createTemp(root *os.Root, dir, pattern string) (*os.File, string, error) {
	if dir == "" {
		dir = "."
	}
	for tries := 0; tries < 10000; tries++ {
		var randBytes [8]byte
		if _, err := rand.Read(randBytes[:]); err != nil {
			return nil, "", err
		}
		name := strings.Replace(pattern, "*", hex.EncodeToString(randBytes[:]), 1)
		path := filepath.Join(dir, name)
		f, err := root.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_EXCL, 0o600)
		if errors.Is(err, fs.ErrExist) {
			continue
		}
		if err != nil {
			return nil, "", err
		}
		return f, path, nil
	}
	return nil, "", errors.New("failed to create temp file")
}
