package server

import (
	"fmt"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/cyclopcam/glyphs/pkg/bitimage"
	"github.com/cyclopcam/glyphs/pkg/template"
	"github.com/cyclopcam/glyphs/pkg/tindex"
	"github.com/cyclopcam/glyphs/server/storage"
	"github.com/cyclopcam/glyphs/server/storagecache"
	"github.com/cyclopcam/glyphs/server/training"
	"github.com/cyclopcam/logs"
	"github.com/stretchr/testify/require"
)

// publishDots publishes a model of n 8x8 templates, each a single dot
func publishDots(t *testing.T, store storage.Storage, label string, n int) {
	templates := []*template.Template{}
	for i := 0; i < n; i++ {
		g := bitimage.NewGrid(8, 8)
		g.Set(i/8, i%8, 255)
		templates = append(templates, template.FromGrid(g))
	}
	c := template.NewCollection(8, 8)
	require.NoError(t, c.Add(templates, label))
	ix, err := tindex.Build(8, 8, c.All(), 0)
	require.NoError(t, err)
	require.NoError(t, training.Publish(store, c, ix))
}

func distinctIDs(ix *tindex.Index) int {
	ids := map[int]bool{}
	for _, e := range ix.Entries() {
		for _, id := range e.IDs {
			ids[id] = true
		}
	}
	return len(ids)
}

// Loads that race with reloads always see an index and a collection from the same publish
func TestModelReloadIsAtomic(t *testing.T) {
	log := logs.NewTestingLog(t)
	root := t.TempDir()
	store, err := storage.NewStorageFS(log, filepath.Join(root, "blobs"))
	require.NoError(t, err)
	cache, err := storagecache.NewStorageCache(log, store, filepath.Join(root, "cache"), 1024*1024)
	require.NoError(t, err)

	publishDots(t, store, "A", 1)
	host := NewModelHost(log, cache)
	require.NoError(t, host.Reload())
	require.Equal(t, 1, host.Model().Collection().Len())

	var stop atomic.Bool
	var failures atomic.Int64
	var firstErr atomic.Value
	wg := sync.WaitGroup{}
	for w := 0; w < 4; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for !stop.Load() {
				m, err := host.Load()
				if err == nil && m.Collection().Len() != distinctIDs(m.Index()) {
					err = fmt.Errorf("collection has %v templates, index refers to %v", m.Collection().Len(), distinctIDs(m.Index()))
				}
				if err != nil {
					failures.Add(1)
					firstErr.CompareAndSwap(nil, err.Error())
				}
			}
		}()
	}

	for i := 0; i < 30; i++ {
		if i%2 == 0 {
			publishDots(t, store, "B", 5)
		} else {
			publishDots(t, store, "A", 1)
		}
		require.NoError(t, host.Reload())
	}
	stop.Store(true)
	wg.Wait()
	require.EqualValues(t, 0, failures.Load(), "%v", firstErr.Load())
	require.Equal(t, 1, host.Model().Collection().Len())
}
