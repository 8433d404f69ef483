package disk

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/buildstash/stash/store"
)

const testKey = "sha256:9f86d081884c7d659a2feaa0c55ad015a3bf4f1b2b0b822cd15d6c15b0f00a08"

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(t.TempDir())
	require.NoError(t, err)
	return s
}

func TestStoreAndLoad(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.Store(ctx, testKey, []byte("archive bytes")))

	data, err := s.Load(ctx, testKey)
	require.NoError(t, err)
	assert.Equal(t, []byte("archive bytes"), data)
}

func TestLoadMiss(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)

	_, err := s.Load(context.Background(), testKey)
	require.ErrorIs(t, err, store.ErrNotExist)
}

func TestStoreWriteOnce(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.Store(ctx, testKey, []byte("first")))
	require.NoError(t, s.Store(ctx, testKey, []byte("second")))

	data, err := s.Load(ctx, testKey)
	require.NoError(t, err)
	assert.Equal(t, []byte("first"), data, "entries are write-once")
}

func TestStoreRejectsMalformedKey(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)

	err := s.Store(context.Background(), "sha256:../escape", []byte("x"))
	require.Error(t, err)
}

func TestStoreLeavesNoTempFiles(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	require.NoError(t, s.Store(context.Background(), testKey, []byte("data")))

	entries, err := os.ReadDir(s.Dir())
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "9f86d081884c7d659a2feaa0c55ad015a3bf4f1b2b0b822cd15d6c15b0f00a08", entries[0].Name())
}

func TestConcurrentStoresConverge(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	ctx := context.Background()

	payload := func(i int) []byte {
		return []byte(fmt.Sprintf("complete payload from writer %d", i))
	}

	var wg sync.WaitGroup
	for i := range 16 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, s.Store(ctx, testKey, payload(i)))
		}()
	}
	wg.Wait()

	data, err := s.Load(ctx, testKey)
	require.NoError(t, err)

	matched := false
	for i := range 16 {
		if string(data) == string(payload(i)) {
			matched = true
			break
		}
	}
	assert.True(t, matched, "load must observe one complete payload, got %q", data)
}

func TestDeleteIdempotent(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.Store(ctx, testKey, []byte("data")))
	require.NoError(t, s.Delete(testKey))
	require.NoError(t, s.Delete(testKey))

	_, err := s.Load(ctx, testKey)
	require.ErrorIs(t, err, store.ErrNotExist)
}

func TestQuarantine(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.Store(ctx, testKey, []byte("garbage")))
	require.NoError(t, s.Quarantine(testKey, []byte("garbage")))

	_, err := s.Load(ctx, testKey)
	require.ErrorIs(t, err, store.ErrNotExist, "quarantined entry must leave the addressable key space")

	count, err := s.QuarantineCount()
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	// Raw bytes retained for post-mortem inspection.
	raw, err := os.ReadFile(filepath.Join(s.Dir(), QuarantineDirName,
		"9f86d081884c7d659a2feaa0c55ad015a3bf4f1b2b0b822cd15d6c15b0f00a08"))
	require.NoError(t, err)
	assert.Equal(t, []byte("garbage"), raw)
}

func TestQuarantineIdempotent(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)

	require.NoError(t, s.Quarantine(testKey, []byte("bad")))
	count, err := s.QuarantineCount()
	require.NoError(t, err)
	require.Equal(t, 1, count)

	require.NoError(t, s.Quarantine(testKey, []byte("bad again")))
	count, err = s.QuarantineCount()
	require.NoError(t, err)
	assert.Equal(t, 1, count, "re-quarantining a key must not grow the count")
}

func TestQuarantineCountEmpty(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)

	count, err := s.QuarantineCount()
	require.NoError(t, err)
	assert.Equal(t, 0, count)
}

func TestKeys(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	ctx := context.Background()

	keys, err := s.Keys()
	require.NoError(t, err)
	assert.Empty(t, keys)

	require.NoError(t, s.Store(ctx, testKey, []byte("data")))
	require.NoError(t, s.Quarantine("sha256:aaaa", []byte("bad")))

	keys, err = s.Keys()
	require.NoError(t, err)
	assert.Equal(t, []string{"9f86d081884c7d659a2feaa0c55ad015a3bf4f1b2b0b822cd15d6c15b0f00a08"}, keys,
		"quarantine namespace must not appear in addressable keys")
}
