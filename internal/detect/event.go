// Package detect finds events in a current recording: excursions away from
// an adaptively tracked baseline, each split into constant-current levels by
// CUSUM change-point detection.
package detect

import (
	"errors"
	"time"
)

var (
	// ErrTooShort is returned for recordings shorter than the warm-up window.
	ErrTooShort = errors.New("recording is shorter than the warm-up window")

	// ErrCancelled is returned when the scan's context ends before EOF.
	ErrCancelled = errors.New("scan cancelled")

	// ErrSink wraps failures reported by the event sink.
	ErrSink = errors.New("event sink failed")
)

// Level is one constant-current plateau within an event.
type Level struct {
	Current float64 `json:"current"`
	Length  int     `json:"length"` // samples
}

// Event is a confirmed excursion from baseline.
type Event struct {
	Index      int     `json:"index"` // order of emission within the scan
	Start      int     `json:"start"` // first sample of the event
	End        int     `json:"end"`   // one past the last sample
	Baseline   float64 `json:"baseline"`
	Polarity   int     `json:"polarity"` // -1 for a drop below baseline, +1 for a rise
	SampleRate float64 `json:"sample_rate"`
	Levels     []Level `json:"levels"`

	// Raw holds samples [Start-RawPointsPerSide, End+RawPointsPerSide)
	RawPointsPerSide int       `json:"raw_points_per_side"`
	Raw              []float64 `json:"raw"`
}

// Length returns the event length in samples.
func (e *Event) Length() int {
	return e.End - e.Start
}

// Duration returns the event length in time.
func (e *Event) Duration() time.Duration {
	if e.SampleRate <= 0 {
		return 0
	}
	return time.Duration(float64(e.Length()) / e.SampleRate * float64(time.Second))
}

// Blockade returns the deepest level's departure from baseline.
func (e *Event) Blockade() float64 {
	var deepest float64
	for _, l := range e.Levels {
		d := (l.Current - e.Baseline) * float64(e.Polarity)
		if d > deepest {
			deepest = d
		}
	}
	return deepest
}

// Sink receives events as they are confirmed.
type Sink interface {
	Append(ev *Event) error
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(ev *Event) error

// Append calls f.
func (f SinkFunc) Append(ev *Event) error {
	return f(ev)
}

// Progress is reported once per block read.
type Progress struct {
	Samples int // samples processed so far
	Total   int // samples in the recording
	Events  int // events emitted so far
	Elapsed time.Duration
}

// Summary describes a finished (or aborted) scan.
type Summary struct {
	Samples       int
	Events        int
	Levels        int
	RejectedShort int // candidates that closed before the minimum length
	RejectedLong  int // candidates still open at the maximum length
	Elapsed       time.Duration
}
