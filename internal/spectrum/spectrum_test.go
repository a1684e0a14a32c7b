package spectrum

import (
	"errors"
	"math"
	"math/rand"
	"testing"
)

func TestApplyHanning_Endpoints(t *testing.T) {
	data := []float64{1, 1, 1, 1, 1}
	w := ApplyHanning(data)

	if w[0] != 0 || math.Abs(w[4]) > 1e-12 {
		t.Errorf("window endpoints = %v, %v; want 0", w[0], w[4])
	}
	if math.Abs(w[2]-1) > 1e-12 {
		t.Errorf("window centre = %v, want 1", w[2])
	}
}

// TestWelch_WhiteNoiseParseval verifies that integrating the density of unit
// variance white noise recovers a variance of about one.
func TestWelch_WhiteNoiseParseval(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	samples := make([]float64, 1<<16)
	for i := range samples {
		samples[i] = 5 + rng.NormFloat64()
	}

	d, err := Welch(samples, 100000, 1024)
	if err != nil {
		t.Fatalf("Welch() returned error: %v", err)
	}
	if d.Segments != 127 {
		t.Errorf("Segments = %d, want 127", d.Segments)
	}
	if len(d.Power) != 513 || d.Frequencies[512] != 50000 {
		t.Errorf("bins = %d ending at %v Hz, want 513 ending at 50000 Hz", len(d.Power), d.Frequencies[len(d.Frequencies)-1])
	}

	if rms := d.RMS(0); math.Abs(rms-1) > 0.1 {
		t.Errorf("RMS() = %v, want ~1", rms)
	}
	if half := d.RMS(25000); math.Abs(half-math.Sqrt(0.5)) > 0.1 {
		t.Errorf("RMS(25 kHz) = %v, want ~0.707", half)
	}
}

// TestWelch_SinePeak verifies a bin-centred sine lands in its bin.
func TestWelch_SinePeak(t *testing.T) {
	const (
		rate    = 8192.0
		segment = 512
		freq    = 1024.0 // bin 64
	)
	samples := make([]float64, 8*segment)
	for i := range samples {
		samples[i] = math.Sin(2 * math.Pi * freq * float64(i) / rate)
	}

	d, err := Welch(samples, rate, segment)
	if err != nil {
		t.Fatalf("Welch() returned error: %v", err)
	}
	if f, _ := d.Peak(); f != freq {
		t.Errorf("Peak() at %v Hz, want %v Hz", f, freq)
	}
	if rms := d.RMS(0); math.Abs(rms-1/math.Sqrt2) > 0.01 {
		t.Errorf("RMS() = %v, want %v", rms, 1/math.Sqrt2)
	}
}

func TestWelch_Errors(t *testing.T) {
	if _, err := Welch(make([]float64, 100), 1000, 48); !errors.Is(err, ErrSegment) {
		t.Errorf("Welch(segment=48) = %v, want ErrSegment", err)
	}
	if _, err := Welch(make([]float64, 100), 1000, 128); err == nil {
		t.Error("expected error for too few samples")
	}
}

func TestBands(t *testing.T) {
	d := &Density{
		Frequencies: []float64{0, 1, 2, 3, 4},
		Power:       []float64{100, 1, 3, 5, 7},
	}
	bands := d.Bands(2)
	if len(bands) != 2 || bands[0] != 2 || bands[1] != 6 {
		t.Errorf("Bands(2) = %v, want [2 6]", bands)
	}
	if d.Bands(0) != nil {
		t.Error("Bands(0) should be nil")
	}
}
