package session

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"github.com/coocood/freecache"
)

// freecache refuses entries above 1/1024 of its size; rasters are split into
// chunks below that bound.
const (
	freecacheEntryRatio = 1024
	chunkOverhead       = 64
)

var (
	headerPrefix = []byte("h|")
	chunkPrefix  = []byte("c|")
)

// rasterCache stores encoded rasters of any size in a freecache.Cache.
// A raster is a header entry holding the chunk count and total length, plus
// one entry per chunk. A raster with an evicted chunk reads as a miss.
type rasterCache struct {
	fc       *freecache.Cache
	maxChunk int
	hits     int64
	misses   int64
}

func newRasterCache(size int) *rasterCache {
	fc := freecache.NewCache(size)
	// freecache rounds tiny sizes up to its minimum of 512 KiB.
	limit := max(size, 512*1024)/freecacheEntryRatio - chunkOverhead
	return &rasterCache{fc: fc, maxChunk: max(limit, 256)}
}

func headerKey(key []byte) []byte {
	return append(append([]byte{}, headerPrefix...), key...)
}

func chunkKey(key []byte, i int) []byte {
	k := append(append([]byte{}, chunkPrefix...), key...)
	return fmt.Appendf(k, "#%d", i)
}

// Get returns the raster stored under key.
func (c *rasterCache) Get(key []byte) ([]byte, bool) {
	header, err := c.fc.Get(headerKey(key))
	if err != nil || len(header) != 12 {
		c.misses++
		return nil, false
	}
	n := int(binary.LittleEndian.Uint32(header))
	total := int(binary.LittleEndian.Uint64(header[4:]))
	out := bytes.NewBuffer(make([]byte, 0, total))
	for i := 0; i < n; i++ {
		chunk, err := c.fc.Get(chunkKey(key, i))
		if err != nil {
			c.fc.Del(headerKey(key))
			c.misses++
			return nil, false
		}
		out.Write(chunk)
	}
	if out.Len() != total {
		c.fc.Del(headerKey(key))
		c.misses++
		return nil, false
	}
	c.hits++
	return out.Bytes(), true
}

// Set stores data under key. The chunks are written before the header so a
// partially written raster is never visible.
func (c *rasterCache) Set(key, data []byte) error {
	size := c.maxChunk - len(key)
	if size <= 0 {
		return fmt.Errorf("cache key of %d bytes is too long", len(key))
	}
	n := (len(data) + size - 1) / size
	for i := 0; i < n; i++ {
		end := min((i+1)*size, len(data))
		if err := c.fc.Set(chunkKey(key, i), data[i*size:end], 0); err != nil {
			return fmt.Errorf("chunk %d of %d: %w", i+1, n, err)
		}
	}
	header := make([]byte, 12)
	binary.LittleEndian.PutUint32(header, uint32(n))
	binary.LittleEndian.PutUint64(header[4:], uint64(len(data)))
	return c.fc.Set(headerKey(key), header, 0)
}

// Len returns the number of complete rasters held.
func (c *rasterCache) Len() int {
	var n int
	it := c.fc.NewIterator()
	for e := it.Next(); e != nil; e = it.Next() {
		if bytes.HasPrefix(e.Key, headerPrefix) {
			n++
		}
	}
	return n
}

// Clear drops every raster and resets the counters.
func (c *rasterCache) Clear() {
	c.fc.Clear()
	c.hits, c.misses = 0, 0
}
