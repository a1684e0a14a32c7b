package stream

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fill(c *Cache, t *testing.T, blocks, size int) {
	t.Helper()
	for b := 0; b < blocks; b++ {
		samples := make([]float64, size)
		for i := range samples {
			samples[i] = float64(c.End() + i)
		}
		require.NoError(t, c.Append(c.End(), samples))
	}
}

func TestCache_RangeAcrossBlocks(t *testing.T) {
	c := NewCache(0)
	fill(c, t, 4, 10)

	assert.Equal(t, 0, c.Start())
	assert.Equal(t, 40, c.End())
	assert.Equal(t, 40, c.Resident())
	assert.Equal(t, 4, c.Blocks())

	got, err := c.Range(7, 33)
	require.NoError(t, err)
	require.Len(t, got, 26)
	for i, v := range got {
		assert.Equal(t, float64(7+i), v)
	}

	v, err := c.At(39)
	require.NoError(t, err)
	assert.Equal(t, 39.0, v)

	empty, err := c.Range(12, 12)
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func TestCache_RangeIsCopy(t *testing.T) {
	c := NewCache(0)
	fill(c, t, 1, 5)

	got, err := c.Range(0, 5)
	require.NoError(t, err)
	got[0] = 99

	v, err := c.At(0)
	require.NoError(t, err)
	assert.Equal(t, 0.0, v)
}

func TestCache_AppendMustBeContiguous(t *testing.T) {
	c := NewCache(100)
	require.NoError(t, c.Append(100, []float64{1, 2, 3}))
	assert.Error(t, c.Append(104, []float64{4}))
	assert.Error(t, c.Append(99, []float64{4}))
	require.NoError(t, c.Append(103, nil))
	assert.Equal(t, 103, c.End())
}

func TestCache_Retire(t *testing.T) {
	c := NewCache(0)
	fill(c, t, 5, 10)

	// Block [10, 20) straddles 15 and is kept whole.
	assert.Equal(t, 1, c.Retire(15))
	assert.Equal(t, 10, c.Start())

	_, err := c.Range(5, 12)
	assert.ErrorIs(t, err, ErrNotResident)

	got, err := c.Range(10, 12)
	require.NoError(t, err)
	assert.Equal(t, []float64{10, 11}, got)

	assert.Equal(t, 0, c.Retire(5))
	assert.Equal(t, 2, c.Retire(30))
	assert.Equal(t, 30, c.Start())
	assert.Equal(t, 2, c.Blocks())

	assert.Equal(t, 2, c.Retire(1000))
	assert.Equal(t, 0, c.Blocks())
	assert.Equal(t, 50, c.Start())
	assert.Equal(t, 0, c.Resident())

	fill(c, t, 1, 10)
	assert.Equal(t, 50, c.Start())
	assert.Equal(t, 60, c.End())
}

func TestCache_NotResidentAhead(t *testing.T) {
	c := NewCache(0)
	fill(c, t, 2, 8)

	_, err := c.Range(10, 17)
	assert.ErrorIs(t, err, ErrNotResident)
	_, err = c.At(16)
	assert.ErrorIs(t, err, ErrNotResident)
}
