// Package store defines the entry store capability shared by the local
// and remote cache backends.
//
// A store is a pure byte key-value backend: it never interprets archive
// contents, entries are written once and never updated, and corruption
// detection belongs to the caller's decode step so that validation
// logic lives in one place regardless of backend.
package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// ErrNotExist is returned by Load when no entry exists for a key.
var ErrNotExist = errors.New("store: entry does not exist")

// Store is the capability shared by cache backends.
type Store interface {
	// Load returns the raw bytes stored for key, or ErrNotExist.
	Load(ctx context.Context, key string) ([]byte, error)

	// Store persists data under key. Entries are write-once: storing
	// an existing key is a no-op, and a load racing a store observes
	// either a miss or a complete entry, never a torn one.
	Store(ctx context.Context, key string, data []byte) error
}

// CleanKey reduces a cache key to its hex digest, stripping any
// algorithm prefix (e.g. "sha256:"), for use as a backend entry name.
func CleanKey(key string) (string, error) {
	hex := key
	if idx := strings.IndexByte(key, ':'); idx >= 0 {
		hex = key[idx+1:]
	}
	if hex == "" {
		return "", fmt.Errorf("invalid key %q", key)
	}
	for i := 0; i < len(hex); i++ {
		ch := hex[i]
		switch {
		case ch >= '0' && ch <= '9':
		case ch >= 'a' && ch <= 'f':
		case ch >= 'A' && ch <= 'F':
		default:
			return "", fmt.Errorf("invalid key %q", key)
		}
	}
	return hex, nil
}
