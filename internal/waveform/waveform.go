// Package waveform reads current-vs-time recordings stored in the Flat and
// Blocked binary formats behind a single sliceable Source.
package waveform

import (
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/linuxmatters/poreflow/internal/slicing"
)

var (
	// ErrFormat is returned for unrecognised or malformed file headers.
	ErrFormat = errors.New("malformed waveform file")

	// ErrMissingMetadata is returned when a Flat file has no companion metadata.
	ErrMissingMetadata = errors.New("missing companion metadata file")

	// ErrIncompleteBlock is returned when a Blocked file ends part way through a block.
	ErrIncompleteBlock = errors.New("file ends with an incomplete block")

	// ErrClosedSource is returned by reads after Close.
	ErrClosedSource = errors.New("waveform source is closed")
)

// Source is the capability set the detection engine needs from a recording.
type Source interface {
	// SampleRate returns the sample rate in Hz
	SampleRate() float64

	// Len returns the number of samples per channel
	Len() int

	// Channels returns the number of channels
	Channels() int

	// ReadRange returns the physical-unit samples selected by s from channel
	ReadRange(channel int, s slicing.Slice) ([]float64, error)

	// Close releases the underlying file handle
	Close() error
}

// backend is a concrete on-disk format. Reads are always ascending.
type backend interface {
	format() string
	sampleRate() float64
	length() int
	channels() int
	blockSize() int

	// read returns n samples of channel ch starting at first, every stride samples
	read(ch, first, n, stride int) ([]float64, error)
	close() error
}

// handle is shared by every view of one opened file.
type handle struct {
	mu     sync.Mutex
	b      backend
	path   string
	closed bool
}

func (h *handle) read(ch, first, n, stride int) ([]float64, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return nil, ErrClosedSource
	}
	return h.b.read(ch, first, n, stride)
}

// Stats holds aggregate statistics over channel 0 of a view.
type Stats struct {
	Min    float64
	Max    float64
	Mean   float64
	StdDev float64
}

// Waveform is a lazily read view over an opened file. Slicing a Waveform
// returns a new view over the same file; nothing is read until ReadRange.
type Waveform struct {
	h        *handle
	selected slicing.Slice // over the backend's sample axis
	chans    []int
	n        int
	rate     float64

	statsMu sync.Mutex
	stats   *Stats
}

// Open opens path, choosing the format from its extension (.log for Flat,
// .hkd for Blocked) or, failing that, from its leading banner.
func Open(path string) (*Waveform, error) {
	var (
		b   backend
		err error
	)

	switch strings.ToLower(filepath.Ext(path)) {
	case ".log":
		b, err = openFlat(path)
	case ".hkd":
		b, err = openBlocked(path)
	default:
		b, err = sniff(path)
	}
	if err != nil {
		return nil, err
	}

	chans := make([]int, b.channels())
	for i := range chans {
		chans[i] = i
	}

	return &Waveform{
		h:        &handle{b: b, path: path},
		selected: slicing.All(),
		chans:    chans,
		n:        b.length(),
		rate:     b.sampleRate(),
	}, nil
}

func sniff(path string) (backend, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	prefix := make([]byte, len(BlockedBanner))
	_, err = io.ReadFull(f, prefix)
	f.Close()
	if err == nil && string(prefix) == BlockedBanner {
		return openBlocked(path)
	}
	if _, statErr := os.Stat(metadataPath(path)); statErr == nil {
		return openFlat(path)
	}
	return nil, fmt.Errorf("%w: cannot determine format of %s", ErrFormat, path)
}

// Path returns the file the view was opened from.
func (w *Waveform) Path() string {
	return w.h.path
}

// Format returns the name of the on-disk format.
func (w *Waveform) Format() string {
	return w.h.b.format()
}

// SampleRate returns the sample rate of this view in Hz.
func (w *Waveform) SampleRate() float64 {
	return w.rate
}

// Len returns the number of samples per channel in this view.
func (w *Waveform) Len() int {
	return w.n
}

// Channels returns the number of channels in this view.
func (w *Waveform) Channels() int {
	return len(w.chans)
}

// BlockSize returns the natural read granularity of the underlying format.
func (w *Waveform) BlockSize() int {
	return w.h.b.blockSize()
}

// ReadRange reads the samples s selects from the given channel of the view.
// Descending selections are read in ascending physical order and reversed.
func (w *Waveform) ReadRange(channel int, s slicing.Slice) ([]float64, error) {
	if channel < 0 || channel >= len(w.chans) {
		return nil, fmt.Errorf("channel %d out of range [0, %d)", channel, len(w.chans))
	}

	total := w.h.b.length()
	composed, err := slicing.Compose(total, w.selected, s)
	if err != nil {
		return nil, err
	}

	first, n, stride, reversed, err := slicing.Ascending(total, composed)
	if err != nil {
		return nil, err
	}
	if n == 0 {
		return []float64{}, nil
	}

	samples, err := w.h.read(w.chans[channel], first, n, stride)
	if err != nil {
		return nil, err
	}
	if reversed {
		for i, j := 0, len(samples)-1; i < j; i, j = i+1, j-1 {
			samples[i], samples[j] = samples[j], samples[i]
		}
	}
	return samples, nil
}

// Slice returns a view of the samples s selects. The view's sample rate is
// divided by the absolute step.
func (w *Waveform) Slice(s slicing.Slice) (*Waveform, error) {
	_, _, step, err := slicing.Resolve(s, w.n)
	if err != nil {
		return nil, err
	}

	total := w.h.b.length()
	composed, err := slicing.Compose(total, w.selected, s)
	if err != nil {
		return nil, err
	}
	n, err := slicing.Len(total, composed)
	if err != nil {
		return nil, err
	}

	return &Waveform{
		h:        w.h,
		selected: composed,
		chans:    w.chans,
		n:        n,
		rate:     w.rate / math.Abs(float64(step)),
	}, nil
}

// SelectChannels returns a view of the channels s selects. The sample axis
// and rate are unchanged.
func (w *Waveform) SelectChannels(s slicing.Slice) (*Waveform, error) {
	idx, err := slicing.Indices(len(w.chans), s)
	if err != nil {
		return nil, err
	}
	if len(idx) == 0 {
		return nil, fmt.Errorf("channel selection %v selects no channels", s)
	}

	chans := make([]int, len(idx))
	for i, j := range idx {
		chans[i] = w.chans[j]
	}

	return &Waveform{
		h:        w.h,
		selected: w.selected,
		chans:    chans,
		n:        w.n,
		rate:     w.rate,
	}, nil
}

// Stats returns min, max, mean and standard deviation of channel 0. They are
// computed on the first call and remembered for the life of the view.
func (w *Waveform) Stats() (Stats, error) {
	w.statsMu.Lock()
	defer w.statsMu.Unlock()

	if w.stats != nil {
		return *w.stats, nil
	}

	st := Stats{Min: math.Inf(1), Max: math.Inf(-1)}
	var mean, m2 float64
	count := 0
	chunk := w.BlockSize()

	for off := 0; off < w.n; off += chunk {
		end := min(off+chunk, w.n)
		samples, err := w.ReadRange(0, slicing.Range(off, end))
		if err != nil {
			return Stats{}, fmt.Errorf("failed to read samples for statistics: %w", err)
		}
		for _, x := range samples {
			count++
			d := x - mean
			mean += d / float64(count)
			m2 += d * (x - mean)
			st.Min = math.Min(st.Min, x)
			st.Max = math.Max(st.Max, x)
		}
	}

	if count == 0 {
		st = Stats{}
	} else {
		st.Mean = mean
		st.StdDev = math.Sqrt(m2 / float64(count))
	}
	w.stats = &st
	return st, nil
}

// Close releases the file. Every view sharing the file becomes unreadable.
func (w *Waveform) Close() error {
	w.h.mu.Lock()
	defer w.h.mu.Unlock()

	if w.h.closed {
		return nil
	}
	w.h.closed = true
	return w.h.b.close()
}
