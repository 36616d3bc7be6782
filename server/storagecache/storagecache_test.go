package storagecache

import (
	"errors"
	"path/filepath"
	"testing"

	"github.com/cyclopcam/glyphs/pkg/errs"
	"github.com/cyclopcam/glyphs/server/storage"
	"github.com/cyclopcam/logs"
	"github.com/stretchr/testify/require"
)

func setup(t *testing.T, maxBytes int64) (storage.Storage, *StorageCache) {
	log := logs.NewTestingLog(t)
	up, err := storage.NewStorageFS(log, filepath.Join(t.TempDir(), "blobs"))
	require.NoError(t, err)
	cache, err := NewStorageCache(log, up, filepath.Join(t.TempDir(), "cache"), maxBytes)
	require.NoError(t, err)
	return up, cache
}

func TestCacheHitAndInvalidate(t *testing.T) {
	up, cache := setup(t, 1024)
	require.NoError(t, storage.Put(up, "char-recognition", "template_indices/all_labels.bin", []byte("v1")))
	name := storage.Key("char-recognition", "template_indices/all_labels.bin")

	b, err := cache.ReadFile(name)
	require.NoError(t, err)
	require.Equal(t, "v1", string(b))

	// Upstream changes are not seen until invalidation
	require.NoError(t, storage.Put(up, "char-recognition", "template_indices/all_labels.bin", []byte("v2")))
	b, err = cache.ReadFile(name)
	require.NoError(t, err)
	require.Equal(t, "v1", string(b))
	require.Equal(t, Stats{Items: 1, BytesUsed: 2, Hits: 1, Misses: 1}, cache.Stats())

	cache.Invalidate(name)
	b, err = cache.ReadFile(name)
	require.NoError(t, err)
	require.Equal(t, "v2", string(b))

	_, err = cache.ReadFile("char-recognition/missing.bin")
	require.True(t, errors.Is(err, errs.ErrNotFound))
}

func TestEviction(t *testing.T) {
	up, cache := setup(t, 10)
	for _, name := range []string{"a", "b", "c"} {
		require.NoError(t, storage.Put(up, "x", name, make([]byte, 6)))
	}
	_, err := cache.ReadFile("x/a")
	require.NoError(t, err)
	_, err = cache.ReadFile("x/b") // 6 bytes used, no eviction yet
	require.NoError(t, err)
	_, err = cache.ReadFile("x/c") // 12 bytes used, so "a" goes
	require.NoError(t, err)
	st := cache.Stats()
	require.Equal(t, 2, st.Items)
	require.EqualValues(t, 12, st.BytesUsed)
}
