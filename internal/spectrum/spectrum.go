// Package spectrum estimates the noise power spectral density of a recording.
package spectrum

import (
	"errors"
	"fmt"
	"math"

	"github.com/argusdusty/gofft"
)

// DefaultSegment is the default Welch segment length.
const DefaultSegment = 4096

// ErrSegment is returned for segment lengths gofft cannot transform.
var ErrSegment = errors.New("segment length must be a power of two of at least 2")

// ApplyHanning returns data multiplied by a Hann window.
func ApplyHanning(data []float64) []float64 {
	windowed := make([]float64, len(data))
	n := len(data)
	for i := range data {
		window := 0.5 * (1 - math.Cos(2*math.Pi*float64(i)/float64(n-1)))
		windowed[i] = data[i] * window
	}
	return windowed
}

// Density is a one-sided power spectral density.
type Density struct {
	Frequencies []float64 // Hz
	Power       []float64 // units²/Hz
	Segments    int       // segments averaged
}

// Welch estimates the density of samples by averaging Hann-windowed,
// mean-removed segments with 50% overlap.
func Welch(samples []float64, sampleRate float64, segment int) (*Density, error) {
	if segment < 2 || segment&(segment-1) != 0 {
		return nil, fmt.Errorf("%w: %d", ErrSegment, segment)
	}
	if len(samples) < segment {
		return nil, fmt.Errorf("need at least %d samples, have %d", segment, len(samples))
	}
	if err := gofft.Prepare(segment); err != nil {
		return nil, fmt.Errorf("failed to prepare FFT: %w", err)
	}

	ones := make([]float64, segment)
	for i := range ones {
		ones[i] = 1
	}
	var wss float64
	for _, w := range ApplyHanning(ones) {
		wss += w * w
	}

	bins := segment/2 + 1
	d := &Density{
		Frequencies: make([]float64, bins),
		Power:       make([]float64, bins),
	}
	for k := range d.Frequencies {
		d.Frequencies[k] = float64(k) * sampleRate / float64(segment)
	}

	step := segment / 2
	for off := 0; off+segment <= len(samples); off += step {
		seg := detrend(samples[off : off+segment])
		x := gofft.Float64ToComplex128Array(ApplyHanning(seg))
		if err := gofft.FFT(x); err != nil {
			return nil, fmt.Errorf("FFT computation failed: %w", err)
		}
		for k := range bins {
			re, im := real(x[k]), imag(x[k])
			d.Power[k] += re*re + im*im
		}
		d.Segments++
	}

	norm := 1 / (sampleRate * wss * float64(d.Segments))
	for k := range d.Power {
		d.Power[k] *= norm
		if k != 0 && k != bins-1 {
			d.Power[k] *= 2
		}
	}
	return d, nil
}

func detrend(seg []float64) []float64 {
	var mean float64
	for _, x := range seg {
		mean += x
	}
	mean /= float64(len(seg))

	out := make([]float64, len(seg))
	for i, x := range seg {
		out[i] = x - mean
	}
	return out
}

// Resolution returns the bin spacing in Hz.
func (d *Density) Resolution() float64 {
	if len(d.Frequencies) < 2 {
		return 0
	}
	return d.Frequencies[1] - d.Frequencies[0]
}

// RMS integrates the density up to maxFreq (all bins when maxFreq <= 0) and
// returns the root-mean-square noise in the sample units.
func (d *Density) RMS(maxFreq float64) float64 {
	df := d.Resolution()
	var total float64
	for k, f := range d.Frequencies {
		if maxFreq > 0 && f > maxFreq {
			break
		}
		total += d.Power[k] * df
	}
	return math.Sqrt(total)
}

// Peak returns the frequency and density of the strongest bin above DC.
func (d *Density) Peak() (freq, power float64) {
	for k := 1; k < len(d.Power); k++ {
		if d.Power[k] > power {
			freq, power = d.Frequencies[k], d.Power[k]
		}
	}
	return freq, power
}

// Bands averages the density into n equal-width bands, as used for the
// terminal spectrum display.
func (d *Density) Bands(n int) []float64 {
	if n <= 0 || len(d.Power) < 2 {
		return nil
	}
	bands := make([]float64, n)
	per := max((len(d.Power)-1)/n, 1)
	for b := range n {
		start := 1 + b*per
		end := min(start+per, len(d.Power))
		if start >= end {
			break
		}
		var sum float64
		for k := start; k < end; k++ {
			sum += d.Power[k]
		}
		bands[b] = sum / float64(end-start)
	}
	return bands
}
