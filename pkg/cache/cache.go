package cache

import (
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/linkpeek/linkpeek/pkg/models"
	"github.com/linkpeek/linkpeek/pkg/utils"
)

type entry struct {
	thumb models.Thumbnail
	path  string // Owned local file, removed on Clear
}

// ResultCache maps source URIs to thumbnails backed by downloaded files.
// The cache owns every file it stores and deletes them on Clear.
type ResultCache struct {
	mu      sync.Mutex
	dir     string
	entries map[string]entry
	gen     uint64 // Bumped by every Clear
	log     *logrus.Entry
}

// New creates a cache that keeps its files under dir. The directory is
// created on first use.
func New(dir string, log *logrus.Entry) *ResultCache {
	return &ResultCache{
		dir:     dir,
		entries: make(map[string]entry),
		log:     log,
	}
}

// Dir returns the directory downloaded files are written to
func (c *ResultCache) Dir() string { return c.dir }

// Get returns the cached thumbnail for source
func (c *ResultCache) Get(source string) (models.Thumbnail, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[source]
	return e.thumb, ok
}

// CreateFile creates an empty file named <uuid><ext> in the cache directory.
// The caller writes it and then hands it over with Put, or removes it.
func (c *ResultCache) CreateFile(ext string) (*os.File, error) {
	if err := os.MkdirAll(c.dir, 0755); err != nil {
		return nil, fmt.Errorf("%w: creating cache directory '%s': %w", utils.ErrFilesystem, c.dir, err)
	}
	name := filepath.Join(c.dir, uuid.NewString()+ext)
	f, err := os.OpenFile(name, os.O_RDWR|os.O_CREATE|os.O_EXCL, 0644)
	if err != nil {
		return nil, fmt.Errorf("%w: creating cache file '%s': %w", utils.ErrFilesystem, name, err)
	}
	return f, nil
}

// Generation identifies the cache contents between two clears. Read it before
// starting a download and pass it to PutAt.
func (c *ResultCache) Generation() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.gen
}

// Put stores the file at path as the thumbnail for source and takes ownership of it.
// If source is already cached the existing entry is kept, path is removed and the
// existing thumbnail is returned.
func (c *ResultCache) Put(source, path string) models.Thumbnail {
	thumb, _ := c.PutAt(c.Generation(), source, path)
	return thumb
}

// PutAt is Put for a file produced under generation gen. If the cache was
// cleared since then, path is removed and false is returned.
func (c *ResultCache) PutAt(gen uint64, source, path string) (models.Thumbnail, bool) {
	c.mu.Lock()
	if gen != c.gen {
		c.mu.Unlock()
		c.remove(path)
		c.log.WithFields(logrus.Fields{"source": source, "path": path}).Debug("Dropped download finished after a clear")
		return models.Thumbnail{}, false
	}
	if existing, ok := c.entries[source]; ok {
		c.mu.Unlock()
		if existing.path != path {
			c.remove(path)
		}
		return existing.thumb, true
	}
	thumb := models.Thumbnail{Source: source, Display: FileURI(path)}
	c.entries[source] = entry{thumb: thumb, path: path}
	c.mu.Unlock()

	c.log.WithFields(logrus.Fields{"source": source, "path": path}).Debug("Cached thumbnail")
	return thumb, true
}

// Clear drops every entry and deletes the owned files. Files already gone are
// ignored, so Clear may be called any number of times.
func (c *ResultCache) Clear() error {
	c.mu.Lock()
	old := c.entries
	c.entries = make(map[string]entry)
	c.gen++
	c.mu.Unlock()

	var errs []error
	for _, e := range old {
		if err := os.Remove(e.path); err != nil && !errors.Is(err, fs.ErrNotExist) {
			errs = append(errs, fmt.Errorf("%w: removing '%s': %w", utils.ErrFilesystem, e.path, err))
		}
	}
	if len(old) > 0 {
		c.log.WithField("entries", len(old)).Debug("Cleared result cache")
	}
	return errors.Join(errs...)
}

// OnClear implements host.Listener
func (c *ResultCache) OnClear() {
	if err := c.Clear(); err != nil {
		c.log.WithField("error_type", utils.CategorizeError(err)).Warnf("Result cache clear incomplete: %v", err)
	}
}

// Len returns the number of cached entries
func (c *ResultCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

func (c *ResultCache) remove(path string) {
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		c.log.Warnf("Failed to remove cache file '%s': %v", path, err)
	}
}

// FileURI returns the file:// URI for a local path
func FileURI(path string) string {
	if abs, err := filepath.Abs(path); err == nil {
		path = abs
	}
	p := filepath.ToSlash(path)
	if !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	return (&url.URL{Scheme: "file", Path: p}).String()
}
