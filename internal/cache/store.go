package cache

import (
	"errors"
	"fmt"
	"time"
)

// ImageInfo is the source image metadata stored alongside each artifact so
// that info requests can skip probing the source.
type ImageInfo struct {
	Width      int `json:"width"`
	Height     int `json:"height"`
	TileWidth  int `json:"tile_width,omitempty"`
	TileHeight int `json:"tile_height,omitempty"`
	Levels     int `json:"levels,omitempty"`
	Pages      int `json:"pages,omitempty"`
}

// Record describes one cached artifact. CachePath is relative to the cache
// directory.
type Record struct {
	Canonical  string    `json:"canonical"`
	OrigPath   string    `json:"origpath"`
	CachePath  string    `json:"cachepath"`
	Info       ImageInfo `json:"info"`
	MTime      time.Time `json:"mtime"`
	AccessTime time.Time `json:"access_time"`
	Size       int64     `json:"size"`
}

// sizeRecord remembers source metadata per original path.
type sizeRecord struct {
	info  ImageInfo
	mtime time.Time
}

// Options bound the cache. A zero MaxSize or MaxFiles disables that limit;
// when both are zero the cache is never purged. Hysteresis is the fraction
// below the limit that a purge drains to.
type Options struct {
	MaxSize    int64
	MaxFiles   int
	Hysteresis float64
}

// Stats is a snapshot of the cache counters.
type Stats struct {
	Size       int64   `json:"size"`
	Files      int     `json:"files"`
	MaxSize    int64   `json:"max_size"`
	MaxFiles   int     `json:"max_files"`
	Hysteresis float64 `json:"hysteresis"`
	Hits       uint64  `json:"hits"`
	Misses     uint64  `json:"misses"`
	Evictions  uint64  `json:"evictions"`
}

// SortOrder selects the iteration order of Loop and List.
type SortOrder int

const (
	SortAccessAsc SortOrder = iota
	SortAccessDesc
	SortSizeAsc
	SortSizeDesc
)

// ParseSortOrder maps atasc, atdesc, fsasc and fsdesc to a SortOrder. An
// empty string selects SortAccessAsc.
func ParseSortOrder(s string) (SortOrder, error) {
	switch s {
	case "", "atasc":
		return SortAccessAsc, nil
	case "atdesc":
		return SortAccessDesc, nil
	case "fsasc":
		return SortSizeAsc, nil
	case "fsdesc":
		return SortSizeDesc, nil
	}
	return 0, fmt.Errorf("unknown sort order %q", s)
}

// ErrNotFound reports an unknown canonical key.
var ErrNotFound = errors.New("cache entry not found")
