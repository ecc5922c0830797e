package cache

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// IndexFile is the name of the persisted index inside the cache directory.
const IndexFile = ".imghub-cache"

const cacheFilePrefix = "cache_"

// Cache is the artifact cache. All table mutations are serialized through
// mu; file removal happens after the affected records are detached.
type Cache struct {
	dir    string
	opts   Options
	logger *logrus.Logger
	now    func() time.Time

	mu        sync.Mutex
	records   map[string]*Record
	sizes     map[string]sizeRecord
	size      int64
	files     int
	hits      uint64
	misses    uint64
	evictions uint64
}

// Open loads the cache rooted at dir, dropping index records whose artifact
// is gone and deleting artifacts no record refers to.
func Open(dir string, opts Options, logger *logrus.Logger) (*Cache, error) {
	if dir == "" {
		return nil, errors.New("cache dir required")
	}
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("resolve cache dir: %w", err)
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("create cache dir: %w", err)
	}
	if opts.Hysteresis < 0 || opts.Hysteresis >= 1 {
		return nil, fmt.Errorf("cache hysteresis %v out of range [0,1)", opts.Hysteresis)
	}
	if logger == nil {
		logger = logrus.New()
	}

	c := &Cache{
		dir:     abs,
		opts:    opts,
		logger:  logger,
		now:     time.Now,
		records: make(map[string]*Record),
		sizes:   make(map[string]sizeRecord),
	}

	records, err := readIndex(filepath.Join(abs, IndexFile))
	if err != nil {
		return nil, err
	}
	for _, rec := range records {
		if _, dup := c.records[rec.Canonical]; dup {
			continue
		}
		info, err := os.Stat(filepath.Join(abs, rec.CachePath))
		if err != nil || info.IsDir() {
			logger.WithFields(logrus.Fields{"action": "cache_reconcile", "canonical": rec.Canonical}).
				Warn("cache_record_dropped")
			continue
		}
		c.insert(rec)
	}
	if err := c.removeStrays(); err != nil {
		return nil, err
	}

	logger.WithFields(logrus.Fields{
		"action":    "cache_open",
		"cache_dir": abs,
		"files":     c.files,
		"size":      c.size,
	}).Info("cache_ready")
	return c, nil
}

// Dir returns the absolute cache directory.
func (c *Cache) Dir() string {
	return c.dir
}

func (c *Cache) insert(rec *Record) {
	c.records[rec.Canonical] = rec
	c.size += rec.Size
	c.files++
	if cur, ok := c.sizes[rec.OrigPath]; !ok || rec.MTime.After(cur.mtime) {
		c.sizes[rec.OrigPath] = sizeRecord{info: rec.Info, mtime: rec.MTime}
	}
}

func (c *Cache) detach(rec *Record) {
	delete(c.records, rec.Canonical)
	c.size -= rec.Size
	c.files--
}

func (c *Cache) removeStrays() error {
	entries, err := os.ReadDir(c.dir)
	if err != nil {
		return fmt.Errorf("read cache dir: %w", err)
	}
	referenced := make(map[string]struct{}, len(c.records))
	for _, rec := range c.records {
		referenced[rec.CachePath] = struct{}{}
	}
	for _, entry := range entries {
		name := entry.Name()
		if strings.HasPrefix(name, ".") || entry.IsDir() {
			continue
		}
		if _, ok := referenced[name]; ok {
			continue
		}
		if err := os.Remove(filepath.Join(c.dir, name)); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("remove stray cache file: %w", err)
		}
		c.logger.WithFields(logrus.Fields{"action": "cache_reconcile", "file": name}).Info("cache_stray_removed")
	}
	return nil
}

// Check looks up key. It reports a hit only when the source at origpath has
// not been modified since the artifact was written; a hit refreshes the
// entry's access time. The returned path is absolute.
func (c *Cache) Check(origpath, key string) (string, bool, error) {
	src, err := os.Stat(origpath)
	if err != nil {
		return "", false, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	rec, ok := c.records[key]
	if !ok || src.ModTime().After(rec.MTime) {
		c.misses++
		return "", false, nil
	}
	rec.AccessTime = c.now()
	c.hits++
	return filepath.Join(c.dir, rec.CachePath), true, nil
}

// Add registers the artifact at cachepath under key. An existing entry for
// key is replaced and its file deleted. The cache is purged before the new
// entry is accounted.
func (c *Cache) Add(origpath, key, cachepath string, info ImageInfo) error {
	name, err := c.relative(cachepath)
	if err != nil {
		return err
	}
	st, err := os.Stat(filepath.Join(c.dir, name))
	if err != nil {
		return fmt.Errorf("stat cache file: %w", err)
	}

	now := c.now()
	rec := &Record{
		Canonical:  key,
		OrigPath:   origpath,
		CachePath:  name,
		Info:       info,
		MTime:      st.ModTime(),
		AccessTime: now,
		Size:       st.Size(),
	}

	c.mu.Lock()
	var victims []*Record
	if old, ok := c.records[key]; ok {
		c.detach(old)
		victims = append(victims, old)
	}
	victims = append(victims, c.purgeLocked()...)
	c.insert(rec)
	c.sizes[origpath] = sizeRecord{info: info, mtime: rec.MTime}
	c.mu.Unlock()

	c.removeFiles(victims)
	return nil
}

func (c *Cache) relative(cachepath string) (string, error) {
	if !filepath.IsAbs(cachepath) {
		return filepath.Base(cachepath), nil
	}
	rel, err := filepath.Rel(c.dir, cachepath)
	if err != nil || strings.Contains(rel, string(filepath.Separator)) || strings.HasPrefix(rel, "..") {
		return "", fmt.Errorf("cache file %s outside cache dir", cachepath)
	}
	return rel, nil
}

// Purge evicts least-recently-used entries when a limit has been reached
// and returns the number of entries removed.
func (c *Cache) Purge() int {
	c.mu.Lock()
	victims := c.purgeLocked()
	c.mu.Unlock()
	c.removeFiles(victims)
	return len(victims)
}

func (c *Cache) limitReached() bool {
	return (c.opts.MaxSize > 0 && c.size >= c.opts.MaxSize) ||
		(c.opts.MaxFiles > 0 && c.files >= c.opts.MaxFiles)
}

func (c *Cache) drained() bool {
	low := 1 - c.opts.Hysteresis
	sizeOK := c.opts.MaxSize == 0 ||
		(c.size < c.opts.MaxSize && float64(c.size) <= float64(c.opts.MaxSize)*low)
	filesOK := c.opts.MaxFiles == 0 ||
		(c.files < c.opts.MaxFiles && float64(c.files) <= float64(c.opts.MaxFiles)*low)
	return sizeOK && filesOK
}

func (c *Cache) purgeLocked() []*Record {
	if c.opts.MaxSize == 0 && c.opts.MaxFiles == 0 {
		return nil
	}
	if !c.limitReached() {
		return nil
	}

	order := c.sorted(SortAccessAsc)
	var victims []*Record
	for _, rec := range order {
		if c.drained() {
			break
		}
		c.detach(rec)
		victims = append(victims, rec)
	}
	c.evictions += uint64(len(victims))
	return victims
}

func (c *Cache) removeFiles(victims []*Record) {
	for _, rec := range victims {
		err := os.Remove(filepath.Join(c.dir, rec.CachePath))
		if err != nil && !errors.Is(err, fs.ErrNotExist) {
			c.logger.WithFields(logrus.Fields{
				"action":    "cache_remove",
				"canonical": rec.Canonical,
			}).WithError(err).Warn("cache_file_remove_failed")
		}
	}
}

// Remove deletes the entry for key and its artifact.
func (c *Cache) Remove(key string) bool {
	c.mu.Lock()
	rec, ok := c.records[key]
	if ok {
		c.detach(rec)
	}
	c.mu.Unlock()
	if ok {
		c.removeFiles([]*Record{rec})
	}
	return ok
}

// GetSize returns the remembered metadata of the source at origpath. A
// record older than the source is dropped and reported as a miss.
func (c *Cache) GetSize(origpath string) (ImageInfo, bool, error) {
	src, err := os.Stat(origpath)
	if err != nil {
		return ImageInfo{}, false, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	rec, ok := c.sizes[origpath]
	if !ok {
		return ImageInfo{}, false, nil
	}
	if src.ModTime().After(rec.mtime) {
		delete(c.sizes, origpath)
		return ImageInfo{}, false, nil
	}
	return rec.info, true, nil
}

func (c *Cache) sorted(order SortOrder) []*Record {
	recs := make([]*Record, 0, len(c.records))
	for _, rec := range c.records {
		recs = append(recs, rec)
	}
	sort.SliceStable(recs, func(i, j int) bool {
		a, b := recs[i], recs[j]
		switch order {
		case SortAccessDesc:
			if !a.AccessTime.Equal(b.AccessTime) {
				return a.AccessTime.After(b.AccessTime)
			}
		case SortSizeAsc:
			if a.Size != b.Size {
				return a.Size < b.Size
			}
		case SortSizeDesc:
			if a.Size != b.Size {
				return a.Size > b.Size
			}
		default:
			if !a.AccessTime.Equal(b.AccessTime) {
				return a.AccessTime.Before(b.AccessTime)
			}
		}
		return a.Canonical < b.Canonical
	})
	return recs
}

// List returns a snapshot of all records in the given order.
func (c *Cache) List(order SortOrder) []Record {
	c.mu.Lock()
	recs := c.sorted(order)
	out := make([]Record, len(recs))
	for i, rec := range recs {
		out[i] = *rec
	}
	c.mu.Unlock()
	return out
}

// Loop calls fn for every record in the given order and stops at the first
// error. fn runs without the cache lock held and may call back into the cache.
func (c *Cache) Loop(order SortOrder, fn func(Record) error) error {
	for _, rec := range c.List(order) {
		if err := fn(rec); err != nil {
			return err
		}
	}
	return nil
}

// NewCacheFileName creates an empty, uniquely named artifact file in the
// cache directory and returns its absolute path.
func (c *Cache) NewCacheFileName() (string, error) {
	for attempt := 0; attempt < 3; attempt++ {
		name := filepath.Join(c.dir, cacheFilePrefix+uuid.NewString())
		f, err := os.OpenFile(name, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
		if errors.Is(err, fs.ErrExist) {
			continue
		}
		if err != nil {
			return "", fmt.Errorf("create cache file: %w", err)
		}
		if err := f.Close(); err != nil {
			return "", err
		}
		return name, nil
	}
	return "", errors.New("create cache file: name collision")
}

// Stats returns the current counters and limits.
func (c *Cache) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Stats{
		Size:       c.size,
		Files:      c.files,
		MaxSize:    c.opts.MaxSize,
		MaxFiles:   c.opts.MaxFiles,
		Hysteresis: c.opts.Hysteresis,
		Hits:       c.hits,
		Misses:     c.misses,
		Evictions:  c.evictions,
	}
}

// Close persists the index.
func (c *Cache) Close() error {
	recs := c.List(SortAccessAsc)
	skipped, err := writeIndex(filepath.Join(c.dir, IndexFile), recs)
	if err != nil {
		return err
	}
	fields := logrus.Fields{"action": "cache_close", "files": len(recs) - skipped}
	if skipped > 0 {
		fields["skipped"] = skipped
	}
	c.logger.WithFields(fields).Info("cache_index_written")
	return nil
}
