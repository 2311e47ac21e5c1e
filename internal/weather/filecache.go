package weather

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/vmihailenco/msgpack/v5"
)

const (
	cacheEntryMaxAge = time.Hour
	cacheMatchKM     = 1.0
	cacheExt         = ".mpk"
)

// cacheEntry is one geo-bucketed weather observation on disk.
type cacheEntry struct {
	Fields map[string]any `msgpack:"fields"`
	Meta   cacheMeta      `msgpack:"meta"`
}

type cacheMeta struct {
	Lat      float64 `msgpack:"lat"`
	Lon      float64 `msgpack:"lon"`
	CachedAt string  `msgpack:"cached_at"`
}

// FileCache is the node-local weather cache, bounded in file count and total
// size. Entries are keyed by coordinates rounded to two decimals.
type FileCache struct {
	dir      string
	maxFiles int
	maxBytes int64

	// Guards eviction so concurrent saves don't double-delete.
	mu sync.Mutex
}

// NewFileCache creates the cache directory if needed.
func NewFileCache(dir string, maxFiles int, maxBytes int64) (*FileCache, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating weather cache dir: %w", err)
	}
	return &FileCache{dir: dir, maxFiles: maxFiles, maxBytes: maxBytes}, nil
}

// Find returns cached weather fields for a point, matching entries within
// 1 km that are younger than an hour. The second return is the cached_at
// timestamp of the matched entry.
func (c *FileCache) Find(lat, lon float64) (map[string]any, string, bool) {
	entries, err := os.ReadDir(c.dir)
	if err != nil {
		return nil, "", false
	}

	for _, e := range entries {
		if e.IsDir() || filepath.Ext(e.Name()) != cacheExt {
			continue
		}
		info, err := e.Info()
		if err != nil || time.Since(info.ModTime()) > cacheEntryMaxAge {
			continue
		}

		raw, err := os.ReadFile(filepath.Join(c.dir, e.Name()))
		if err != nil {
			continue
		}
		var entry cacheEntry
		if err := msgpack.Unmarshal(raw, &entry); err != nil {
			continue
		}
		if distanceKM(lat, lon, entry.Meta.Lat, entry.Meta.Lon) <= cacheMatchKM {
			return entry.Fields, entry.Meta.CachedAt, true
		}
	}
	return nil, "", false
}

// Save writes weather fields for a point and enforces the cache bounds.
// Returns the cached_at timestamp recorded in the entry.
func (c *FileCache) Save(lat, lon float64, fields map[string]any, cachedAt string) error {
	kept := make(map[string]any, len(fields))
	for k, v := range fields {
		if v != nil {
			kept[k] = v
		}
	}

	entry := cacheEntry{
		Fields: kept,
		Meta:   cacheMeta{Lat: lat, Lon: lon, CachedAt: cachedAt},
	}
	raw, err := msgpack.Marshal(entry)
	if err != nil {
		return fmt.Errorf("encoding weather cache entry: %w", err)
	}

	if err := os.WriteFile(filepath.Join(c.dir, entryName(lat, lon)), raw, 0o644); err != nil {
		return fmt.Errorf("writing weather cache entry: %w", err)
	}

	c.enforceLimits()
	return nil
}

func entryName(lat, lon float64) string {
	return fmt.Sprintf("%.2f_%.2f%s", lat, lon, cacheExt)
}

// enforceLimits evicts oldest entries until the cache fits its bounds.
func (c *FileCache) enforceLimits() {
	c.mu.Lock()
	defer c.mu.Unlock()

	entries, err := os.ReadDir(c.dir)
	if err != nil {
		return
	}

	type fileMeta struct {
		path    string
		size    int64
		modTime time.Time
	}
	var files []fileMeta
	var totalBytes int64
	for _, e := range entries {
		if e.IsDir() || filepath.Ext(e.Name()) != cacheExt {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		files = append(files, fileMeta{
			path:    filepath.Join(c.dir, e.Name()),
			size:    info.Size(),
			modTime: info.ModTime(),
		})
		totalBytes += info.Size()
	}

	if len(files) <= c.maxFiles && totalBytes <= c.maxBytes {
		return
	}

	sort.Slice(files, func(i, j int) bool { return files[i].modTime.Before(files[j].modTime) })
	for len(files) > c.maxFiles || totalBytes > c.maxBytes {
		if len(files) == 0 {
			return
		}
		oldest := files[0]
		files = files[1:]
		if err := os.Remove(oldest.path); err == nil {
			totalBytes -= oldest.size
		}
	}
}
