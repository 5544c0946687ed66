package layout

import (
	lru "github.com/hashicorp/golang-lru/v2"
)

// chunkCache holds decoded chunk bytes keyed by an xxhash of their
// coordinates, so that a selection touching the same chunk more than once (a
// strided selection can, along a short axis) doesn't pay for a second read
// and defilter pass. It is a much smaller relative of a full blob cache: it
// lives as long as its Variable and holds a modest, fixed number of entries,
// evicting the least recently used chunk once full.
type chunkCache struct {
	c *lru.Cache[uint64, []byte]
}

// defaultChunkCacheSize bounds the cache to a handful of chunks. It exists
// to absorb the reuse from overlapping selections, not to hold a variable's
// entire chunk grid in memory.
const defaultChunkCacheSize = 64

func newChunkCache() *chunkCache {
	c, err := lru.New[uint64, []byte](defaultChunkCacheSize)
	if err != nil {
		// Only returns an error for a non-positive size, which
		// defaultChunkCacheSize never is.
		panic(err)
	}
	return &chunkCache{c: c}
}

func (cc *chunkCache) get(coords []int) ([]byte, bool) {
	return cc.c.Get(coordKey(coords))
}

func (cc *chunkCache) add(coords []int, data []byte) {
	cc.c.Add(coordKey(coords), data)
}
