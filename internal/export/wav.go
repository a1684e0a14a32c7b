// Package export writes event snapshots as audio files for inspection in
// ordinary audio tools.
package export

import (
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"

	"github.com/linuxmatters/poreflow/internal/detect"
)

const (
	bitDepth  = 16
	pcmFormat = 1 // WAVE_FORMAT_PCM
)

// WAVSink wraps another sink and writes each event's raw snapshot to
// <dir>/<prefix>-<index>.wav before passing the event on.
//
// Samples are centred on the event's baseline and scaled so the largest
// excursion reaches full scale.
type WAVSink struct {
	next   detect.Sink
	dir    string
	prefix string
}

// NewWAVSink creates dir if needed. next may be nil.
func NewWAVSink(dir, prefix string, next detect.Sink) (*WAVSink, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create %s: %w", dir, err)
	}
	return &WAVSink{next: next, dir: dir, prefix: prefix}, nil
}

// Path returns the file an event with the given index is written to.
func (s *WAVSink) Path(index int) string {
	return filepath.Join(s.dir, fmt.Sprintf("%s-%06d.wav", s.prefix, index))
}

// Append writes ev's snapshot then forwards ev.
func (s *WAVSink) Append(ev *detect.Event) error {
	if err := WriteSnapshot(s.Path(ev.Index), ev); err != nil {
		return err
	}
	if s.next != nil {
		return s.next.Append(ev)
	}
	return nil
}

// WriteSnapshot writes ev.Raw as a mono 16-bit WAV file.
func WriteSnapshot(path string, ev *detect.Event) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", path, err)
	}

	rate := max(int(math.Round(ev.SampleRate)), 1)
	enc := wav.NewEncoder(f, rate, bitDepth, 1, pcmFormat)

	buf := &audio.IntBuffer{
		Data:           quantize(ev.Raw, ev.Baseline),
		Format:         &audio.Format{NumChannels: 1, SampleRate: rate},
		SourceBitDepth: bitDepth,
	}
	if err := enc.Write(buf); err != nil {
		f.Close()
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	if err := enc.Close(); err != nil {
		f.Close()
		return fmt.Errorf("failed to finalise %s: %w", path, err)
	}
	return f.Close()
}

// quantize maps samples around centre onto the signed 16-bit range.
func quantize(samples []float64, centre float64) []int {
	var peak float64
	for _, x := range samples {
		peak = max(peak, math.Abs(x-centre))
	}

	full := float64(audio.IntMaxSignedValue(bitDepth))
	out := make([]int, len(samples))
	if peak == 0 {
		return out
	}
	for i, x := range samples {
		out[i] = int(math.Round((x - centre) / peak * full))
	}
	return out
}

// Snapshot is a decoded snapshot file.
type Snapshot struct {
	SampleRate int
	Samples    []float64 // normalised to [-1, 1]
}

// ReadSnapshot decodes a WAV file written by WriteSnapshot.
func ReadSnapshot(path string) (*Snapshot, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	dec := wav.NewDecoder(f)
	if !dec.IsValidFile() {
		return nil, fmt.Errorf("invalid WAV file: %s", path)
	}
	if err := dec.FwdToPCM(); err != nil {
		return nil, fmt.Errorf("failed to seek to PCM data: %w", err)
	}

	chans := int(dec.NumChans)
	maxVal := float64(audio.IntMaxSignedValue(int(dec.BitDepth)))
	snap := &Snapshot{SampleRate: int(dec.SampleRate)}

	intBuf := &audio.IntBuffer{
		Data:   make([]int, 4096*chans),
		Format: &audio.Format{NumChannels: chans, SampleRate: snap.SampleRate},
	}
	for {
		n, err := dec.PCMBuffer(intBuf)
		if err != nil && err != io.EOF {
			return nil, fmt.Errorf("failed to read PCM buffer: %w", err)
		}
		if n == 0 {
			break
		}
		// Keep the first channel of interleaved data.
		for i := 0; i < n; i += chans {
			snap.Samples = append(snap.Samples, float64(intBuf.Data[i])/maxVal)
		}
	}
	return snap, nil
}
