package stash

import (
	"fmt"

	digest "github.com/opencontainers/go-digest"
)

// Key is the opaque content-hash identifier addressing one cache
// entry: the hash of a unit of work's declared inputs plus identity,
// in "algorithm:hex" form. Keys are supplied by the surrounding build
// orchestration and compared only by equality.
type Key string

// Validate reports whether the key is a well-formed digest.
func (k Key) Validate() error {
	if _, err := digest.Parse(string(k)); err != nil {
		return fmt.Errorf("invalid cache key %q: %w", string(k), err)
	}
	return nil
}

// String returns the full "algorithm:hex" form.
func (k Key) String() string { return string(k) }

// Hex returns the hex portion of the key, which names the entry file
// in directory-backed stores.
func (k Key) Hex() string {
	return digest.Digest(k).Encoded()
}

// KeyFromBytes derives a key by hashing data with the canonical
// algorithm. Intended for collaborators and tests; production keys
// normally arrive precomputed from the build orchestrator.
func KeyFromBytes(data []byte) Key {
	return Key(digest.FromBytes(data))
}
