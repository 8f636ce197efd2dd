// Package cache is the on-disk result cache of the extraction pipeline.
//
// Entries are addressed by file content and extraction settings:
//
//	sha256(file)[:16] + "_" + md5(canonical config JSON)[:8]
//
// and live as <root>/ocr/<key>.json. Writes go to a sibling temporary file
// that is renamed into place, so readers only ever see complete entries and
// concurrent writers need no locking: the last rename wins. Every failure
// degrades to a miss and is logged, never returned.
package cache

import (
	"crypto/md5"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"ocrpipe/internal/logger"
	"ocrpipe/internal/ocrerr"
)

// Cache defaults and structural field names
const (
	DefaultTTL       = 7 * 24 * time.Hour
	Subdir           = "ocr"
	FallbackPrefix   = "fallback_"
	FieldCachedAt    = "_cached_at"
	FieldCacheKey    = "_cache_key"
	FieldCacheHit    = "_cache_hit"
	FieldCacheAge    = "_cache_age_seconds"
	hashChunk        = 8 * 1024
	contentHashChars = 16
	configHashChars  = 8
	entryExt         = ".json"
)

// Entry is a cached payload with its structural fields.
type Entry map[string]any

// Decode unmarshals the entry into v.
func (e Entry) Decode(v any) error {
	b, err := json.Marshal(e)
	if err != nil {
		return err
	}
	return json.Unmarshal(b, v)
}

// CachedAt returns when the entry was written.
func (e Entry) CachedAt() time.Time {
	secs, _ := e[FieldCachedAt].(float64)
	return time.Unix(0, int64(secs*float64(time.Second)))
}

// AgeSeconds returns the age stamped by Lookup.
func (e Entry) AgeSeconds() float64 {
	age, _ := e[FieldCacheAge].(float64)
	return age
}

// Payload converts a JSON-serializable value into a storable map.
func Payload(v any) (map[string]any, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var m map[string]any
	if err := json.Unmarshal(b, &m); err != nil {
		return nil, err
	}
	return m, nil
}

// Stats summarizes the cache directory.
type Stats struct {
	TotalFiles    int     `json:"total_files"`
	TotalSizeMB   float64 `json:"total_size_mb"`
	OldestAgeDays float64 `json:"oldest_age_days"`
	NewestAgeDays float64 `json:"newest_age_days"`
	Error         string  `json:"error,omitempty"`
}

// Cache stores extraction results under a root directory.
type Cache struct {
	dir string
	ttl time.Duration
	now func() time.Time
	log zerolog.Logger
}

// New returns a cache rooted at <root>/ocr, creating the directory.
func New(root string, ttl time.Duration) (*Cache, error) {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	dir := filepath.Join(root, Subdir)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, ocrerr.New("cache.New", ocrerr.ErrCacheIO, err.Error())
	}
	return &Cache{
		dir: dir,
		ttl: ttl,
		now: time.Now,
		log: logger.WithComponent("cache"),
	}, nil
}

// Dir returns the directory holding the entries.
func (c *Cache) Dir() string { return c.dir }

// TTL returns the freshness bound.
func (c *Cache) TTL() time.Duration { return c.ttl }

// FileHash returns the hex SHA-256 of the file, read in 8 KiB chunks. On I/O
// failure it returns a time-based sentinel starting with FallbackPrefix.
func FileHash(path string) string {
	f, err := os.Open(path)
	if err != nil {
		return fallbackHash()
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.CopyBuffer(h, f, make([]byte, hashChunk)); err != nil {
		return fallbackHash()
	}
	return hex.EncodeToString(h.Sum(nil))
}

func fallbackHash() string {
	return FallbackPrefix + strconv.FormatInt(time.Now().UnixNano(), 10)
}

// ConfigHash returns the hex MD5 of the canonical JSON of config. Map keys
// are serialized in sorted order.
func ConfigHash(config map[string]any) string {
	b, err := json.Marshal(config)
	if err != nil {
		b = []byte{}
	}
	sum := md5.Sum(b)
	return hex.EncodeToString(sum[:])
}

// Key returns the cache key for path under config.
func Key(path string, config map[string]any) string {
	return keyFor(FileHash(path), config)
}

func keyFor(fileHash string, config map[string]any) string {
	return prefix(fileHash, contentHashChars) + "_" + prefix(ConfigHash(config), configHashChars)
}

func prefix(s string, n int) string {
	if len(s) < n {
		return s
	}
	return s[:n]
}

func (c *Cache) entryPath(key string) string {
	return filepath.Join(c.dir, key+entryExt)
}

// Lookup returns the fresh entry for path under config, or nil. Stale entries
// are deleted.
func (c *Cache) Lookup(path string, config map[string]any) Entry {
	hash := FileHash(path)
	if strings.HasPrefix(hash, FallbackPrefix) {
		return nil
	}
	key := keyFor(hash, config)
	file := c.entryPath(key)

	data, err := os.ReadFile(file)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			c.log.Warn().Err(err).Str("key", key).Msg("Cache read failed")
		}
		return nil
	}

	var entry Entry
	if err := json.Unmarshal(data, &entry); err != nil {
		c.log.Warn().Err(err).Str("key", key).Msg("Ignoring corrupt cache entry")
		return nil
	}

	cachedAt, ok := entry[FieldCachedAt].(float64)
	if !ok {
		c.log.Warn().Str("key", key).Msg("Cache entry without timestamp")
		return nil
	}
	age := float64(c.now().UnixNano())/float64(time.Second) - cachedAt
	if age > c.ttl.Seconds() {
		if err := os.Remove(file); err != nil && !errors.Is(err, fs.ErrNotExist) {
			c.log.Warn().Err(err).Str("key", key).Msg("Failed to delete stale cache entry")
		}
		c.log.Debug().Str("key", key).Float64("age_seconds", age).Msg("Cache entry expired")
		return nil
	}

	entry[FieldCacheHit] = true
	entry[FieldCacheAge] = age
	c.log.Debug().Str("key", key).Float64("age_seconds", age).Msg("Cache hit")
	return entry
}

// Store writes payload for path under config. It returns false on any error.
func (c *Cache) Store(path string, config map[string]any, payload map[string]any) bool {
	hash := FileHash(path)
	if strings.HasPrefix(hash, FallbackPrefix) {
		return false
	}
	key := keyFor(hash, config)

	entry := make(map[string]any, len(payload)+2)
	for k, v := range payload {
		if k == FieldCacheHit || k == FieldCacheAge {
			continue
		}
		entry[k] = v
	}
	entry[FieldCachedAt] = float64(c.now().UnixNano()) / float64(time.Second)
	entry[FieldCacheKey] = key

	data, err := json.Marshal(entry)
	if err != nil {
		c.log.Warn().Err(err).Str("key", key).Msg("Cache payload not serializable")
		return false
	}

	tmp, err := os.CreateTemp(c.dir, key+".*.tmp")
	if err != nil {
		c.log.Warn().Err(err).Str("key", key).Msg("Cache write failed")
		return false
	}
	tmpName := tmp.Name()
	_, werr := tmp.Write(data)
	cerr := tmp.Close()
	if werr != nil || cerr != nil {
		os.Remove(tmpName)
		c.log.Warn().Err(errors.Join(werr, cerr)).Str("key", key).Msg("Cache write failed")
		return false
	}
	if err := os.Rename(tmpName, c.entryPath(key)); err != nil {
		os.Remove(tmpName)
		c.log.Warn().Err(err).Str("key", key).Msg("Cache rename failed")
		return false
	}
	c.log.Debug().Str("key", key).Int("bytes", len(data)).Msg("Cached result")
	return true
}

// Clear deletes every file in the cache directory older than maxAgeDays and
// returns the number removed and the number of failures.
func (c *Cache) Clear(maxAgeDays float64) (removed, failed int) {
	entries, err := os.ReadDir(c.dir)
	if err != nil {
		c.log.Warn().Err(err).Msg("Cache scan failed")
		return 0, 1
	}
	bound := time.Duration(maxAgeDays * float64(24*time.Hour))
	now := c.now()
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		info, err := e.Info()
		if err != nil {
			failed++
			continue
		}
		if now.Sub(info.ModTime()) < bound {
			continue
		}
		if err := os.Remove(filepath.Join(c.dir, e.Name())); err != nil {
			failed++
			continue
		}
		removed++
	}
	c.log.Info().Int("removed", removed).Int("errors", failed).Float64("max_age_days", maxAgeDays).Msg("Cache cleared")
	return removed, failed
}

// Stats reports file count, size and entry ages.
func (c *Cache) Stats() Stats {
	entries, err := os.ReadDir(c.dir)
	if err != nil {
		return Stats{Error: err.Error()}
	}
	var (
		st             Stats
		size           int64
		oldest, newest time.Time
	)
	for _, e := range entries {
		if e.IsDir() || filepath.Ext(e.Name()) != entryExt {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		st.TotalFiles++
		size += info.Size()
		mt := info.ModTime()
		if oldest.IsZero() || mt.Before(oldest) {
			oldest = mt
		}
		if newest.IsZero() || mt.After(newest) {
			newest = mt
		}
	}
	st.TotalSizeMB = float64(size) / (1024 * 1024)
	if st.TotalFiles > 0 {
		now := c.now()
		st.OldestAgeDays = now.Sub(oldest).Hours() / 24
		st.NewestAgeDays = now.Sub(newest).Hours() / 24
	}
	return st
}
