package cache

import (
	"errors"
	"os"
)

// ErrWriterClosed is returned when a Writer is used after Commit or Abort.
var ErrWriterClosed = errors.New("cache writer closed")

// Writer streams a new artifact into the cache directory. Commit registers
// the finished file under its canonical key; Abort deletes the partial file.
type Writer struct {
	cache *Cache
	path  string
	file  *os.File
}

// Create allocates a fresh artifact file and opens it for writing.
func (c *Cache) Create() (*Writer, error) {
	name, err := c.NewCacheFileName()
	if err != nil {
		return nil, err
	}
	f, err := os.OpenFile(name, os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		os.Remove(name)
		return nil, err
	}
	return &Writer{cache: c, path: name, file: f}, nil
}

// Path returns the absolute path of the artifact being written.
func (w *Writer) Path() string {
	return w.path
}

func (w *Writer) Write(p []byte) (int, error) {
	if w.file == nil {
		return 0, ErrWriterClosed
	}
	return w.file.Write(p)
}

// Commit closes the file and adds it to the cache.
func (w *Writer) Commit(origpath, key string, info ImageInfo) error {
	if w.file == nil {
		return ErrWriterClosed
	}
	err := w.file.Close()
	w.file = nil
	if err == nil {
		err = w.cache.Add(origpath, key, w.path, info)
	}
	if err != nil {
		os.Remove(w.path)
		return err
	}
	return nil
}

// Abort closes and deletes the partial file. It is a no-op after Commit.
func (w *Writer) Abort() {
	if w.file == nil {
		return
	}
	w.file.Close()
	w.file = nil
	os.Remove(w.path)
}
