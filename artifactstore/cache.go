package artifactstore

import (
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// indexCache mirrors sidecar indices (and other small, frequently read
// objects) on the serving host, so repeat reads of the same archive don't
// round-trip to the backend for the index every time. Keyed the same way
// the backend keys objects; one mutex per key avoids duplicate concurrent
// fills racing each other.
//
// Cache invalidation rule: deleting an archive's prefix also deletes its
// cached index file.
type indexCache struct {
	dir   string
	locks sync.Map // string -> *sync.Mutex
}

func newIndexCache(dir string) (*indexCache, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	return &indexCache{dir: dir}, nil
}

func (c *indexCache) lockFor(key string) func() {
	v, _ := c.locks.LoadOrStore(key, &sync.Mutex{})
	mu := v.(*sync.Mutex)
	mu.Lock()
	return mu.Unlock
}

func (c *indexCache) cachePath(key string) string {
	return filepath.Join(c.dir, cacheFileName(key))
}

// cacheFileName flattens a slash-separated key into a single filename;
// cached entries don't need the backend's directory structure.
func cacheFileName(key string) string {
	return strings.ReplaceAll(key, "/", "_")
}

func (c *indexCache) get(key string) ([]byte, bool) {
	b, err := os.ReadFile(c.cachePath(key))
	if err != nil {
		return nil, false
	}
	return b, true
}

func (c *indexCache) put(key string, data []byte) error {
	p := c.cachePath(key)
	tmp := p + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, p)
}

func (c *indexCache) invalidate(key string) error {
	err := os.Remove(c.cachePath(key))
	if os.IsNotExist(err) {
		return nil
	}
	return err
}

// invalidatePrefix removes every cached entry whose original key began
// with prefix.
func (c *indexCache) invalidatePrefix(prefix string) error {
	flat := cacheFileName(prefix)
	entries, err := os.ReadDir(c.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	for _, e := range entries {
		if strings.HasPrefix(e.Name(), flat) {
			if err := os.Remove(filepath.Join(c.dir, e.Name())); err != nil && !os.IsNotExist(err) {
				return err
			}
		}
	}
	return nil
}
