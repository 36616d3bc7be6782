// Package storagecache keeps copies of blob store files on the local disk.
// The glyph server uses it for the published model, which is read on every
// test unit and every model reload, but only changes after training.
package storagecache

import (
	"container/list"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/cyclopcam/glyphs/pkg/errs"
	"github.com/cyclopcam/glyphs/server/storage"
	"github.com/cyclopcam/logs"
)

// StorageCache is an LRU cache of blobs, bounded by total size.
// Blobs with open readers are pinned, and never evicted.
type StorageCache struct {
	log      logs.Log
	upstream storage.Storage
	root     string
	maxBytes int64

	mu      sync.Mutex
	used    int64
	entries map[string]*list.Element // values are *entry
	recency *list.List               // front is most recently used
	hits    int64
	misses  int64
}

type entry struct {
	name   string
	size   int64
	pinned int
}

// Reader reads a cached blob. Close it to unpin the blob.
type Reader struct {
	*os.File
	cache *StorageCache
	e     *entry
	once  sync.Once
}

func (r *Reader) Close() error {
	r.once.Do(func() {
		r.cache.mu.Lock()
		r.e.pinned--
		r.cache.mu.Unlock()
	})
	return r.File.Close()
}

// Stats of the cache
type Stats struct {
	Items     int   `json:"items"`
	BytesUsed int64 `json:"bytesUsed"`
	Hits      int64 `json:"hits"`
	Misses    int64 `json:"misses"`
}

// NewStorageCache wipes root, and starts with an empty cache
func NewStorageCache(log logs.Log, upstream storage.Storage, root string, maxBytes int64) (*StorageCache, error) {
	if err := os.RemoveAll(root); err != nil {
		return nil, err
	}
	if err := os.MkdirAll(root, 0755); err != nil {
		return nil, err
	}
	return &StorageCache{
		log:      log,
		upstream: upstream,
		root:     root,
		maxBytes: maxBytes,
		entries:  map[string]*list.Element{},
		recency:  list.New(),
	}, nil
}

// Open returns a reader of the cached copy of name, fetching it from upstream on a miss
func (c *StorageCache) Open(name string) (*Reader, error) {
	if strings.Contains(name, "..") {
		return nil, errs.Validationf("invalid file name '%v'", name)
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	el, ok := c.entries[name]
	if ok {
		c.hits++
		c.recency.MoveToFront(el)
	} else {
		c.misses++
		c.evict()
		e, err := c.fetch(name)
		if err != nil {
			return nil, err
		}
		el = c.recency.PushFront(e)
		c.entries[name] = el
		c.used += e.size
	}

	f, err := os.Open(c.path(name))
	if err != nil {
		return nil, err
	}
	e := el.Value.(*entry)
	e.pinned++
	return &Reader{File: f, cache: c, e: e}, nil
}

// ReadFile returns the whole content of name
func (c *StorageCache) ReadFile(name string) ([]byte, error) {
	r, err := c.Open(name)
	if err != nil {
		return nil, err
	}
	defer r.Close()
	return io.ReadAll(r)
}

// Invalidate drops the cached copy of name, so that the next Open fetches it again.
// Call this after writing a new version of name upstream.
// Open readers keep reading their unlinked copy.
func (c *StorageCache) Invalidate(name string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if el, ok := c.entries[name]; ok {
		c.log.Debugf("Invalidating cached %v", name)
		c.drop(el)
	}
}

func (c *StorageCache) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Stats{
		Items:     len(c.entries),
		BytesUsed: c.used,
		Hits:      c.hits,
		Misses:    c.misses,
	}
}

func (c *StorageCache) path(name string) string {
	return filepath.Join(c.root, filepath.FromSlash(name))
}

// fetch copies name from upstream onto local disk
func (c *StorageCache) fetch(name string) (*entry, error) {
	src, err := c.upstream.ReadFile(name)
	if err != nil {
		return nil, err
	}
	defer src.Reader.Close()

	dst := c.path(name)
	if err := os.MkdirAll(filepath.Dir(dst), 0755); err != nil {
		return nil, err
	}
	tmp, err := os.CreateTemp(filepath.Dir(dst), ".fetch-*")
	if err != nil {
		return nil, err
	}
	size, err := io.Copy(tmp, src.Reader)
	if errClose := tmp.Close(); err == nil {
		err = errClose
	}
	if err == nil {
		err = os.Rename(tmp.Name(), dst)
	}
	if err != nil {
		os.Remove(tmp.Name())
		return nil, err
	}
	return &entry{name: name, size: size}, nil
}

// evict walks from the least recently used end, dropping unpinned
// entries until the cache fits in maxBytes. Caller holds mu.
func (c *StorageCache) evict() {
	for el := c.recency.Back(); el != nil && c.used > c.maxBytes; {
		prev := el.Prev()
		if e := el.Value.(*entry); e.pinned == 0 {
			c.log.Debugf("Evicting %v from cache", e.name)
			c.drop(el)
		}
		el = prev
	}
}

func (c *StorageCache) drop(el *list.Element) {
	e := c.recency.Remove(el).(*entry)
	delete(c.entries, e.name)
	c.used -= e.size
	os.Remove(c.path(e.name))
}
