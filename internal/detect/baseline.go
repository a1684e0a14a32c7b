package detect

import (
	"math"

	"github.com/linuxmatters/poreflow/internal/config"
)

// baseline tracks the local mean and variance outside events.
type baseline struct {
	adaptive bool
	a        float64
	mean     float64
	variance float64
}

func newBaseline(cfg config.Baseline) *baseline {
	return &baseline{
		adaptive: cfg.Strategy == config.BaselineAdaptive,
		a:        cfg.FilterParameter,
		mean:     cfg.Value,
	}
}

// seed initialises the estimate from the warm-up window. A fixed baseline
// keeps its configured mean and takes the spread of the window about it.
func (b *baseline) seed(samples []float64) {
	if b.adaptive {
		var sum float64
		for _, x := range samples {
			sum += x
		}
		b.mean = sum / float64(len(samples))
	}

	var ss float64
	for _, x := range samples {
		ss += (x - b.mean) * (x - b.mean)
	}
	b.variance = ss / float64(len(samples))
}

// update folds a baseline sample into the exponentially weighted estimate.
func (b *baseline) update(x float64) {
	if !b.adaptive {
		return
	}
	d := x - b.mean
	b.mean = b.a*b.mean + (1-b.a)*x
	b.variance = b.a*b.variance + (1-b.a)*d*d
}

// threshold returns the start or end threshold for the current estimate.
func threshold(t config.Threshold, start bool, mean, variance float64) float64 {
	k := t.End
	if start {
		k = t.Start
	}

	switch t.Strategy {
	case config.ThresholdAbsolute:
		return k
	case config.ThresholdPercent:
		return math.Abs(mean) * k / 100
	default:
		return k * math.Sqrt(variance)
	}
}
