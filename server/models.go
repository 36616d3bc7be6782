package server

import (
	"errors"
	"sync"

	"github.com/cyclopcam/glyphs/pkg/errs"
	"github.com/cyclopcam/glyphs/pkg/perfstats"
	"github.com/cyclopcam/glyphs/pkg/recog"
	"github.com/cyclopcam/glyphs/server/storage"
	"github.com/cyclopcam/glyphs/server/storagecache"
	"github.com/cyclopcam/glyphs/server/training"
	"github.com/cyclopcam/logs"
)

var (
	modelIndexBlob      = storage.Key(storage.ContainerRecognition, training.KeyModelIndex)
	modelCollectionBlob = storage.Key(storage.ContainerRecognition, training.KeyModelCollection)
)

// ModelHost holds the published model that the recognition APIs use
type ModelHost struct {
	Log   logs.Log
	Stats *perfstats.Stats
	cache *storagecache.StorageCache

	// Held for writing while the cached blobs are replaced, so that a Load
	// never pairs an index with a collection from a different publish.
	blobLock sync.RWMutex

	lock  sync.RWMutex
	model *recog.Model
}

func NewModelHost(log logs.Log, cache *storagecache.StorageCache) *ModelHost {
	h := &ModelHost{
		Log:   log,
		Stats: perfstats.NewStats(),
		cache: cache,
		model: recog.NewModel(nil, nil),
	}
	return h
}

// Load reads the published model through the cache, without making it current
func (h *ModelHost) Load() (*recog.Model, error) {
	h.blobLock.RLock()
	defer h.blobLock.RUnlock()
	return h.load()
}

func (h *ModelHost) load() (*recog.Model, error) {
	ix, err := h.cache.ReadFile(modelIndexBlob)
	if err != nil {
		return nil, err
	}
	coll, err := h.cache.ReadFile(modelCollectionBlob)
	if err != nil {
		return nil, err
	}
	return recog.LoadModel(ix, coll)
}

// Reload drops the cached model blobs, and makes the published model current.
// If nothing has been published yet, the current model recognizes nothing.
func (h *ModelHost) Reload() error {
	h.blobLock.Lock()
	h.cache.Invalidate(modelIndexBlob)
	h.cache.Invalidate(modelCollectionBlob)
	m, err := h.load()
	h.blobLock.Unlock()
	if errors.Is(err, errs.ErrNotFound) {
		h.Log.Infof("No model has been published yet")
		m = recog.NewModel(nil, nil)
	} else if err != nil {
		return err
	} else {
		h.Log.Infof("Loaded model with %v templates of %v labels", m.Collection().Len(), len(m.Collection().UniqueLabels()))
	}
	m.SetStats(h.Stats)
	h.lock.Lock()
	h.model = m
	h.lock.Unlock()
	return nil
}

// Model returns the current model. It is never nil.
func (h *ModelHost) Model() *recog.Model {
	h.lock.RLock()
	defer h.lock.RUnlock()
	return h.model
}
