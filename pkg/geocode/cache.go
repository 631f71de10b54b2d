package geocode

import (
	"encoding/json"
	"os"
	"path/filepath"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

// Cache is a persistent lookup cache keyed by scoped query or rounded
// coordinates. A stored nil is a negative entry: the service was asked
// and had no answer, so re-runs skip the network entirely. Entries are
// only ever added, never pruned.
//
// The cache relies on the pipeline's single-threaded execution; a
// concurrent caller would need to add its own locking.
type Cache struct {
	path    string
	entries map[string]*Result
	dirty   bool
}

// NewCache creates an empty in-memory cache. An empty path disables
// persistence.
func NewCache(path string) *Cache {
	return &Cache{
		path:    path,
		entries: make(map[string]*Result),
	}
}

// Load reads the cache file if it exists. A missing file is a cold
// cache, not an error.
func Load(path string) (*Cache, error) {
	c := NewCache(path)
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return c, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "geocode: read cache %s", path)
	}
	if err := json.Unmarshal(data, &c.entries); err != nil {
		return nil, eris.Wrapf(err, "geocode: parse cache %s", path)
	}
	zap.L().Debug("geocode cache loaded", zap.String("path", path), zap.Int("entries", len(c.entries)))
	return c, nil
}

// Get returns the cached result for key. hit distinguishes a negative
// entry (nil, true) from a cold miss (nil, false).
func (c *Cache) Get(key string) (res *Result, hit bool) {
	res, hit = c.entries[key]
	return res, hit
}

// Put stores a result (or a negative nil) for key.
func (c *Cache) Put(key string, res *Result) {
	c.entries[key] = res
	c.dirty = true
}

// Len reports the number of cached entries.
func (c *Cache) Len() int {
	return len(c.entries)
}

// Save writes the cache to disk if it changed and persistence is
// configured.
func (c *Cache) Save() error {
	if c.path == "" || !c.dirty {
		return nil
	}
	data, err := json.MarshalIndent(c.entries, "", "  ")
	if err != nil {
		return eris.Wrap(err, "geocode: marshal cache")
	}
	if dir := filepath.Dir(c.path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return eris.Wrapf(err, "geocode: create cache dir %s", dir)
		}
	}
	if err := os.WriteFile(c.path, append(data, '\n'), 0o644); err != nil {
		return eris.Wrapf(err, "geocode: write cache %s", c.path)
	}
	c.dirty = false
	zap.L().Debug("geocode cache saved", zap.String("path", c.path), zap.Int("entries", len(c.entries)))
	return nil
}
