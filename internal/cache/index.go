package cache

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"time"
)

const fieldLen = 256

// diskRecord is the fixed little-endian layout of one index entry.
type diskRecord struct {
	Canonical  [fieldLen]byte
	OrigPath   [fieldLen]byte
	CachePath  [fieldLen]byte
	ImgW       uint64
	ImgH       uint64
	TileW      uint64
	TileH      uint64
	Levels     int32
	Pages      int32
	MTime      int64
	AccessTime int64
	Size       int64
}

var recordSize = binary.Size(diskRecord{})

func putField(dst *[fieldLen]byte, s string) bool {
	if len(s) >= fieldLen || bytes.IndexByte([]byte(s), 0) >= 0 {
		return false
	}
	copy(dst[:], s)
	return true
}

func getField(src [fieldLen]byte) string {
	if i := bytes.IndexByte(src[:], 0); i >= 0 {
		return string(src[:i])
	}
	return string(src[:])
}

func encodeRecord(rec Record) (diskRecord, bool) {
	var d diskRecord
	if !putField(&d.Canonical, rec.Canonical) ||
		!putField(&d.OrigPath, rec.OrigPath) ||
		!putField(&d.CachePath, rec.CachePath) {
		return d, false
	}
	d.ImgW = uint64(rec.Info.Width)
	d.ImgH = uint64(rec.Info.Height)
	d.TileW = uint64(rec.Info.TileWidth)
	d.TileH = uint64(rec.Info.TileHeight)
	d.Levels = int32(rec.Info.Levels)
	d.Pages = int32(rec.Info.Pages)
	d.MTime = rec.MTime.UnixNano()
	d.AccessTime = rec.AccessTime.UnixNano()
	d.Size = rec.Size
	return d, true
}

func decodeRecord(d diskRecord) *Record {
	return &Record{
		Canonical: getField(d.Canonical),
		OrigPath:  getField(d.OrigPath),
		CachePath: getField(d.CachePath),
		Info: ImageInfo{
			Width:      int(d.ImgW),
			Height:     int(d.ImgH),
			TileWidth:  int(d.TileW),
			TileHeight: int(d.TileH),
			Levels:     int(d.Levels),
			Pages:      int(d.Pages),
		},
		MTime:      time.Unix(0, d.MTime),
		AccessTime: time.Unix(0, d.AccessTime),
		Size:       d.Size,
	}
}

// readIndex loads all records from path. A missing file yields no records;
// a truncated trailing record is ignored.
func readIndex(path string) ([]*Record, error) {
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("open cache index: %w", err)
	}
	defer f.Close()

	r := bufio.NewReader(f)
	var out []*Record
	for {
		var d diskRecord
		err := binary.Read(r, binary.LittleEndian, &d)
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return out, nil
		}
		if err != nil {
			return nil, fmt.Errorf("read cache index: %w", err)
		}
		rec := decodeRecord(d)
		if rec.Canonical == "" || rec.CachePath == "" {
			continue
		}
		out = append(out, rec)
	}
}

// writeIndex replaces the index at path through a temp file and rename.
// Records with fields that do not fit the layout are skipped and counted.
func writeIndex(path string, recs []Record) (int, error) {
	tempFile, err := os.CreateTemp(filepath.Dir(path), ".index-*")
	if err != nil {
		return 0, fmt.Errorf("create cache index: %w", err)
	}
	tempName := tempFile.Name()

	w := bufio.NewWriter(tempFile)
	skipped := 0
	for _, rec := range recs {
		d, ok := encodeRecord(rec)
		if !ok {
			skipped++
			continue
		}
		if err = binary.Write(w, binary.LittleEndian, &d); err != nil {
			break
		}
	}
	if err == nil {
		err = w.Flush()
	}
	closeErr := tempFile.Close()
	if err == nil {
		err = closeErr
	}
	if err != nil {
		os.Remove(tempName)
		return 0, fmt.Errorf("write cache index: %w", err)
	}

	if err := os.Rename(tempName, path); err != nil {
		os.Remove(tempName)
		return 0, fmt.Errorf("replace cache index: %w", err)
	}
	return skipped, nil
}
