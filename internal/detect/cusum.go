package detect

import (
	"fmt"
	"math"

	"github.com/linuxmatters/poreflow/internal/stream"
)

// segmenter runs two-sided CUSUM over the samples of an open event and
// records the boundaries between its levels.
//
// Sp/Sn are the cumulative log-likelihood ratios for an upward/downward
// shift of delta; Gp/Gn are the same sums clamped at zero. When Gp or Gn
// exceeds h the level boundary is placed at the running minimum of the
// matching S, the accumulators are cleared and the level statistics are
// rebuilt from the samples that already belong to the new level.
type segmenter struct {
	delta    float64
	seedVar  float64
	variance float64 // running estimate seeded with the baseline variance

	boundaries []int
	levelStart int

	n    int
	mean float64

	sp, sn       float64
	gp, gn       float64
	minSp, minSn float64
	minSpAt      int
	minSnAt      int
}

func newSegmenter(start int, x, variance, delta float64) *segmenter {
	s := &segmenter{
		delta:      delta,
		seedVar:    variance,
		boundaries: []int{start},
	}
	s.restart(start)
	s.begin(x)
	return s
}

// restart clears the accumulators for a level beginning at start. The first
// boundary candidate is start+1 so no level is ever empty.
func (s *segmenter) restart(start int) {
	s.levelStart = start
	s.sp, s.sn, s.gp, s.gn = 0, 0, 0, 0
	s.minSp, s.minSn = 0, 0
	s.minSpAt, s.minSnAt = start+1, start+1
}

func (s *segmenter) begin(x float64) {
	s.n = 1
	s.mean = x
	s.variance = s.seedVar
}

// fold adds x to the running mean and variance.
func (s *segmenter) fold(x float64) {
	s.n++
	d := x - s.mean
	s.mean += d / float64(s.n)
	s.variance += (d*(x-s.mean) - s.variance) / float64(s.n)
}

// ratio divides num by den, treating a zero denominator as giving zero for a
// zero numerator and an unbounded result otherwise.
func ratio(num, den float64) float64 {
	if den == 0 {
		if num == 0 {
			return 0
		}
		return math.Inf(1)
	}
	return num / den
}

// push processes sample x at index i.
func (s *segmenter) push(i int, x float64, cache *stream.Cache) error {
	if s.variance == 0 {
		// Noise-free limit: any departure beyond delta/2 is a new level.
		if s.delta > 0 && math.Abs(x-s.mean) > s.delta/2 {
			return s.split(i, i, cache)
		}
		s.fold(x)
		return nil
	}

	// Minima are taken over positions before this sample is counted.
	if i > s.levelStart {
		if s.sp < s.minSp {
			s.minSp, s.minSpAt = s.sp, i
		}
		if s.sn < s.minSn {
			s.minSn, s.minSnAt = s.sn, i
		}
	}

	k := ratio(s.delta, s.variance)
	h := ratio(s.delta, math.Sqrt(s.variance))
	logp := k * (x - s.mean - s.delta/2)
	logn := -k * (x - s.mean + s.delta/2)

	s.sp += logp
	s.sn += logn
	s.gp = math.Max(s.gp+logp, 0)
	s.gn = math.Max(s.gn+logn, 0)

	switch {
	case s.gp > h:
		return s.split(s.minSpAt, i, cache)
	case s.gn > h:
		return s.split(s.minSnAt, i, cache)
	}

	s.fold(x)
	return nil
}

// split declares a level boundary at pos while processing sample i and
// rebuilds the new level's statistics from samples [pos, i].
func (s *segmenter) split(pos, i int, cache *stream.Cache) error {
	pos = max(pos, s.levelStart+1)
	pos = min(pos, i)

	samples, err := cache.Range(pos, i+1)
	if err != nil {
		return fmt.Errorf("failed to rebuild level at %d: %w", pos, err)
	}

	s.boundaries = append(s.boundaries, pos)
	s.restart(pos)
	s.begin(samples[0])
	for _, x := range samples[1:] {
		s.fold(x)
	}

	// Samples up to i are already counted; the next candidate is i+1.
	s.minSpAt, s.minSnAt = i+1, i+1
	return nil
}

// levels closes the segmentation at end and returns the mean current and
// length of each level, measured from the raw samples.
func (s *segmenter) levels(end int, cache *stream.Cache) ([]Level, error) {
	bounds := append(s.boundaries, end)
	levels := make([]Level, 0, len(bounds)-1)

	for k := 0; k+1 < len(bounds); k++ {
		samples, err := cache.Range(bounds[k], bounds[k+1])
		if err != nil {
			return nil, fmt.Errorf("failed to read level samples: %w", err)
		}
		var sum float64
		for _, x := range samples {
			sum += x
		}
		levels = append(levels, Level{
			Current: sum / float64(len(samples)),
			Length:  len(samples),
		})
	}
	return levels, nil
}
