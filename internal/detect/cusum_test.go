package detect

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/linuxmatters/poreflow/internal/stream"
)

func TestRatio(t *testing.T) {
	assert.Equal(t, 0.0, ratio(0, 0))
	assert.True(t, math.IsInf(ratio(2, 0), 1))
	assert.Equal(t, 2.5, ratio(5, 2))
}

func runSegmenter(t *testing.T, samples []float64, variance, delta float64) []Level {
	t.Helper()
	cache := stream.NewCache(0)
	require.NoError(t, cache.Append(0, samples))

	seg := newSegmenter(0, samples[0], variance, delta)
	for i := 1; i < len(samples); i++ {
		require.NoError(t, seg.push(i, samples[i], cache))
	}
	levels, err := seg.levels(len(samples), cache)
	require.NoError(t, err)
	return levels
}

func TestSegmenterZeroDeltaNeverSplits(t *testing.T) {
	samples := []float64{5, 5, 9, 9, 1, 1}
	levels := runSegmenter(t, samples, 0, 0)
	assert.Equal(t, []Level{{Current: 5, Length: 6}}, levels)
}

func TestSegmenterZeroVarianceSplitsOnStep(t *testing.T) {
	samples := []float64{10, 10, 10, 4, 4, 4, 4, 12}
	levels := runSegmenter(t, samples, 0, 4)
	assert.Equal(t, []Level{
		{Current: 10, Length: 3},
		{Current: 4, Length: 4},
		{Current: 12, Length: 1},
	}, levels)
}

func TestSegmenterBoundaryAtRunningMinimum(t *testing.T) {
	// Alternating noise of unit variance around two plateaus.
	var samples []float64
	for i := range 40 {
		samples = append(samples, 20+float64(i%2*2-1))
	}
	for i := range 40 {
		samples = append(samples, 10+float64(i%2*2-1))
	}

	levels := runSegmenter(t, samples, 1, 5)
	require.Len(t, levels, 2)
	assert.Equal(t, 40, levels[0].Length)
	assert.Equal(t, 40, levels[1].Length)
	assert.InDelta(t, 20, levels[0].Current, 1e-9)
	assert.InDelta(t, 10, levels[1].Current, 1e-9)
}
