// Package stream holds recently read sample blocks so a forward-only scanner
// can look back a bounded distance without re-reading its source.
package stream

import (
	"errors"
	"fmt"
	"sort"
)

// ErrNotResident is returned when a requested range has been retired or has
// not been read yet.
var ErrNotResident = errors.New("range is not resident in the cache")

// Block is a contiguous run of samples starting at an absolute sample index.
type Block struct {
	Offset  int
	Samples []float64
}

// End returns the index one past the block's last sample.
func (b Block) End() int {
	return b.Offset + len(b.Samples)
}

// Cache is an ordered window of blocks over a single channel.
//
// Design:
// - Blocks are appended strictly in order with no gaps
// - Range copies across block boundaries
// - Retire drops whole blocks that end before a given index, so the
// resident window only ever moves forward
//
// A Cache has a single owner and does no locking.
type Cache struct {
	blocks []Block
	start  int
	end    int
}

// NewCache creates an empty cache whose first block will start at offset.
func NewCache(offset int) *Cache {
	return &Cache{start: offset, end: offset}
}

// Append adds the next block. offset must equal End().
func (c *Cache) Append(offset int, samples []float64) error {
	if offset != c.end {
		return fmt.Errorf("block at %d does not follow cache end %d", offset, c.end)
	}
	if len(samples) == 0 {
		return nil
	}
	if len(c.blocks) == 0 {
		c.start = offset
	}
	c.blocks = append(c.blocks, Block{Offset: offset, Samples: samples})
	c.end = offset + len(samples)
	return nil
}

// Start returns the first resident sample index.
func (c *Cache) Start() int {
	return c.start
}

// End returns one past the last resident sample index.
func (c *Cache) End() int {
	return c.end
}

// Resident returns the number of samples held.
func (c *Cache) Resident() int {
	return c.end - c.start
}

// Blocks returns the number of blocks held.
func (c *Cache) Blocks() int {
	return len(c.blocks)
}

// Contains reports whether every index in [from, to) is resident.
func (c *Cache) Contains(from, to int) bool {
	return from >= c.start && to <= c.end && from <= to
}

// At returns the sample at absolute index i.
func (c *Cache) At(i int) (float64, error) {
	if !c.Contains(i, i+1) {
		return 0, fmt.Errorf("%w: sample %d outside [%d, %d)", ErrNotResident, i, c.start, c.end)
	}
	b := c.blocks[c.find(i)]
	return b.Samples[i-b.Offset], nil
}

// Range returns a copy of samples [from, to).
func (c *Cache) Range(from, to int) ([]float64, error) {
	if !c.Contains(from, to) {
		return nil, fmt.Errorf("%w: [%d, %d) outside [%d, %d)", ErrNotResident, from, to, c.start, c.end)
	}

	out := make([]float64, 0, to-from)
	for k := c.find(from); k < len(c.blocks) && len(out) < to-from; k++ {
		b := c.blocks[k]
		lo := max(from, b.Offset) - b.Offset
		hi := min(to, b.End()) - b.Offset
		out = append(out, b.Samples[lo:hi]...)
	}
	return out, nil
}

// find returns the index of the block holding sample i, which must be resident.
func (c *Cache) find(i int) int {
	return sort.Search(len(c.blocks), func(k int) bool {
		return c.blocks[k].End() > i
	})
}

// Retire drops every block that ends at or before index before and returns
// how many were dropped. Blocks straddling before are kept whole.
func (c *Cache) Retire(before int) int {
	drop := 0
	for drop < len(c.blocks) && c.blocks[drop].End() <= before {
		drop++
	}
	if drop == 0 {
		return 0
	}

	// Shift remaining blocks down so the backing array does not grow without bound.
	remaining := copy(c.blocks, c.blocks[drop:])
	for k := remaining; k < len(c.blocks); k++ {
		c.blocks[k] = Block{}
	}
	c.blocks = c.blocks[:remaining]

	if remaining == 0 {
		c.start = c.end
	} else {
		c.start = c.blocks[0].Offset
	}
	return drop
}
