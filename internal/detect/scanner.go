package detect

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/linuxmatters/poreflow/internal/config"
	"github.com/linuxmatters/poreflow/internal/slicing"
	"github.com/linuxmatters/poreflow/internal/stream"
	"github.com/linuxmatters/poreflow/internal/waveform"
)

// ProgressCallback is called once per block with the scan position.
type ProgressCallback func(p Progress)

// Option configures a Scanner.
type Option func(*Scanner)

// WithLogger sets the logger for scan diagnostics.
func WithLogger(l *slog.Logger) Option {
	return func(s *Scanner) { s.logger = l }
}

// WithProgress registers a progress callback.
func WithProgress(cb ProgressCallback) Option {
	return func(s *Scanner) { s.progress = cb }
}

// WithChunkSize overrides the read size. By default a source's own block
// size is used, falling back to config.ChunkSamples.
func WithChunkSize(n int) Option {
	return func(s *Scanner) { s.chunk = n }
}

// WithChannel selects the channel to scan.
func WithChannel(ch int) Option {
	return func(s *Scanner) { s.channel = ch }
}

// Scanner runs event detection over a Source. A Scanner is immutable once
// built and may run scans concurrently on different sources.
type Scanner struct {
	cfg      config.Detector
	logger   *slog.Logger
	progress ProgressCallback
	chunk    int
	channel  int
}

// NewScanner validates cfg and returns a Scanner.
func NewScanner(cfg config.Detector, opts ...Option) (*Scanner, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	s := &Scanner{
		cfg:    cfg,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.chunk < 0 {
		return nil, fmt.Errorf("%w: chunk size must not be negative", config.ErrInvalid)
	}
	return s, nil
}

// Config returns the detector configuration.
func (s *Scanner) Config() config.Detector {
	return s.cfg
}

type blockSizer interface {
	BlockSize() int
}

func (s *Scanner) chunkSize(src waveform.Source) int {
	if s.chunk > 0 {
		return s.chunk
	}
	if bs, ok := src.(blockSizer); ok && bs.BlockSize() > 0 {
		// Small blocks are batched so the per-read overhead stays low.
		n := bs.BlockSize()
		for n < config.ChunkSamples/2 {
			n += bs.BlockSize()
		}
		return n
	}
	return config.ChunkSamples
}

// Scan reads src block by block, emitting each confirmed event to sink in
// order. The returned Summary is valid even when an error is returned and
// counts only the events the sink accepted.
func (s *Scanner) Scan(ctx context.Context, src waveform.Source, sink Sink) (*Summary, error) {
	started := time.Now()
	total := src.Len()
	sum := &Summary{}

	if total < config.WarmupSamples {
		return sum, fmt.Errorf("%w: %d samples, need %d", ErrTooShort, total, config.WarmupSamples)
	}
	if s.channel < 0 || s.channel >= src.Channels() {
		return sum, fmt.Errorf("channel %d out of range [0, %d)", s.channel, src.Channels())
	}

	r := newRun(s.cfg, src.SampleRate(), total, sink, s.logger)
	chunk := s.chunkSize(src)

	s.logger.Info("scan started",
		"samples", total,
		"sample_rate", src.SampleRate(),
		"chunk", chunk,
		"min_samples", r.minLen,
		"max_samples", r.maxLen)

	for off := 0; off < total; off += chunk {
		if err := ctx.Err(); err != nil {
			r.fill(sum, started)
			return sum, fmt.Errorf("%w: %w", ErrCancelled, err)
		}

		end := min(off+chunk, total)
		samples, err := src.ReadRange(s.channel, slicing.Range(off, end))
		if err != nil {
			r.fill(sum, started)
			return sum, fmt.Errorf("failed to read samples [%d, %d): %w", off, end, err)
		}

		if err := r.feed(off, samples); err != nil {
			r.fill(sum, started)
			return sum, err
		}

		if s.progress != nil {
			s.progress(Progress{
				Samples: end,
				Total:   total,
				Events:  r.emitted,
				Elapsed: time.Since(started),
			})
		}
	}

	if err := r.finish(); err != nil {
		r.fill(sum, started)
		return sum, err
	}
	r.fill(sum, started)

	s.logger.Info("scan finished",
		"events", sum.Events,
		"rejected_short", sum.RejectedShort,
		"rejected_long", sum.RejectedLong,
		"elapsed", sum.Elapsed)
	return sum, nil
}

type phase int

const (
	phaseBaseline phase = iota // tracking the baseline, waiting for a start crossing
	phaseEvent                 // inside a candidate event
	phaseDisarmed              // candidate ran past the maximum length
)

// run is the mutable state of one scan.
type run struct {
	cfg    config.Detector
	rate   float64
	total  int
	minLen int
	maxLen int
	rpps   int

	sink   Sink
	logger *slog.Logger
	cache  *stream.Cache

	base   *baseline
	seeded bool
	next   int // next sample index to process

	phase     phase
	polarity  int
	start     int
	onsetMean float64
	onsetVar  float64
	seg       *segmenter

	pending []*Event // closed, waiting for trailing raw samples

	emitted       int
	levels        int
	rejectedShort int
	rejectedLong  int
}

func newRun(cfg config.Detector, rate float64, total int, sink Sink, logger *slog.Logger) *run {
	return &run{
		cfg:    cfg,
		rate:   rate,
		total:  total,
		minLen: config.Samples(cfg.MinEventLength, rate),
		maxLen: max(config.Samples(cfg.MaxEventLength, rate), 1),
		rpps:   cfg.RawPointsPerSide,
		sink:   sink,
		logger: logger,
		cache:  stream.NewCache(0),
		base:   newBaseline(cfg.Baseline),
	}
}

// feed appends a block and processes every sample that is now resident.
func (r *run) feed(off int, samples []float64) error {
	if err := r.cache.Append(off, samples); err != nil {
		return err
	}

	if !r.seeded {
		if r.cache.End() < config.WarmupSamples {
			return nil
		}
		warm, err := r.cache.Range(0, config.WarmupSamples)
		if err != nil {
			return err
		}
		r.base.seed(warm)
		r.seeded = true
		r.next = config.WarmupSamples
		r.logger.Debug("baseline seeded", "mean", r.base.mean, "variance", r.base.variance)
	}

	for ; r.next < r.cache.End(); r.next++ {
		x, err := r.cache.At(r.next)
		if err != nil {
			return err
		}
		if err := r.step(r.next, x); err != nil {
			return err
		}
	}

	if err := r.flush(false); err != nil {
		return err
	}
	r.retire()
	return nil
}

// step advances the state machine by one sample.
func (r *run) step(i int, x float64) error {
	switch r.phase {
	case phaseBaseline:
		thr := threshold(r.cfg.Threshold, true, r.base.mean, r.base.variance)
		dev := x - r.base.mean
		switch {
		case r.cfg.DetectNegative && dev < -thr:
			r.open(i, x, -1)
		case r.cfg.DetectPositive && dev > thr:
			r.open(i, x, 1)
		default:
			r.base.update(x)
		}

	case phaseEvent:
		if r.returned(x) {
			return r.close(i)
		}
		if i+1-r.start > r.maxLen {
			r.rejectedLong++
			r.phase = phaseDisarmed
			r.seg = nil
			r.logger.Debug("candidate exceeded maximum length", "start", r.start, "at", i)
			return nil
		}
		return r.seg.push(i, x, r.cache)

	case phaseDisarmed:
		if r.returned(x) {
			r.phase = phaseBaseline
			r.base.update(x)
		}
	}
	return nil
}

// returned reports whether x has come back inside the end threshold.
func (r *run) returned(x float64) bool {
	thr := threshold(r.cfg.Threshold, false, r.onsetMean, r.onsetVar)
	dev := x - r.onsetMean
	if r.polarity < 0 {
		return dev >= -thr
	}
	return dev <= thr
}

func (r *run) open(i int, x float64, polarity int) {
	r.phase = phaseEvent
	r.polarity = polarity
	r.start = i
	r.onsetMean = r.base.mean
	r.onsetVar = r.base.variance

	delta := r.cfg.CUSUMDelta
	if delta == 0 {
		d := x - r.onsetMean
		if d < 0 {
			d = -d
		}
		delta = d / 2
	}
	r.seg = newSegmenter(i, x, r.onsetVar, delta)
}

// close ends the candidate at end (exclusive) and queues it when long enough.
func (r *run) close(end int) error {
	seg := r.seg
	r.seg = nil
	r.phase = phaseBaseline

	if end-r.start < r.minLen {
		r.rejectedShort++
		return nil
	}

	levels, err := seg.levels(end, r.cache)
	if err != nil {
		return err
	}
	r.pending = append(r.pending, &Event{
		Start:      r.start,
		End:        end,
		Baseline:   r.onsetMean,
		Polarity:   r.polarity,
		SampleRate: r.rate,
		Levels:     levels,
	})
	return nil
}

// padding returns the raw samples kept on each side of ev, clipped to the
// recording so both sides stay equal.
func (r *run) padding(ev *Event) int {
	return min(r.rpps, ev.Start, r.total-ev.End)
}

// flush emits pending events whose trailing raw samples are resident. At EOF
// every pending event is ready.
func (r *run) flush(eof bool) error {
	for len(r.pending) > 0 {
		ev := r.pending[0]
		p := r.padding(ev)
		if !eof && r.cache.End() < ev.End+p {
			return nil
		}

		raw, err := r.cache.Range(ev.Start-p, ev.End+p)
		if err != nil {
			return err
		}
		ev.RawPointsPerSide = p
		ev.Raw = raw
		ev.Index = r.emitted

		if err := r.sink.Append(ev); err != nil {
			return fmt.Errorf("%w: event %d: %w", ErrSink, ev.Index, err)
		}
		r.pending = r.pending[1:]
		r.emitted++
		r.levels += len(ev.Levels)

		r.logger.Debug("event emitted",
			"index", ev.Index,
			"start", ev.Start,
			"length", ev.Length(),
			"levels", len(ev.Levels))
	}
	return nil
}

// retire drops blocks no pending or open event, nor the padding of a future
// event, can still need.
func (r *run) retire() {
	keep := r.next
	if r.phase == phaseEvent {
		keep = min(keep, r.start)
	}
	if len(r.pending) > 0 {
		keep = min(keep, r.pending[0].Start)
	}
	r.cache.Retire(keep - r.rpps)
}

// finish handles EOF: an open candidate is discarded and pending events are
// flushed with whatever trailing samples exist.
func (r *run) finish() error {
	if r.phase == phaseEvent {
		r.logger.Debug("candidate open at end of recording discarded", "start", r.start)
		r.seg = nil
		r.phase = phaseBaseline
	}
	return r.flush(true)
}

func (r *run) fill(sum *Summary, started time.Time) {
	sum.Samples = r.next
	sum.Events = r.emitted
	sum.Levels = r.levels
	sum.RejectedShort = r.rejectedShort
	sum.RejectedLong = r.rejectedLong
	sum.Elapsed = time.Since(started)
}
