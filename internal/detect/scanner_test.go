package detect_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"math"
	"math/rand"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/linuxmatters/poreflow/internal/config"
	"github.com/linuxmatters/poreflow/internal/detect"
	"github.com/linuxmatters/poreflow/internal/slicing"
	"github.com/linuxmatters/poreflow/internal/waveform"
	"github.com/linuxmatters/poreflow/internal/waveform/wavetest"
)

// memSource serves samples from memory.
type memSource struct {
	samples []float64
	rate    float64
	block   int
}

func (m *memSource) SampleRate() float64 { return m.rate }
func (m *memSource) Len() int            { return len(m.samples) }
func (m *memSource) Channels() int       { return 1 }
func (m *memSource) BlockSize() int      { return m.block }
func (m *memSource) Close() error        { return nil }

func (m *memSource) ReadRange(channel int, s slicing.Slice) ([]float64, error) {
	idx, err := slicing.Indices(len(m.samples), s)
	if err != nil {
		return nil, err
	}
	out := make([]float64, len(idx))
	for k, i := range idx {
		out[k] = m.samples[i]
	}
	return out, nil
}

// signal builds a trace from (value, length) segments.
type signal struct {
	values []float64
}

func (s *signal) add(value float64, n int) *signal {
	for range n {
		s.values = append(s.values, value)
	}
	return s
}

func (s *signal) noise(rng *rand.Rand, sigma float64) *signal {
	for i := range s.values {
		s.values[i] += rng.NormFloat64() * sigma
	}
	return s
}

// noiseless detects drops below a fixed baseline of 100 with absolute
// thresholds, at 1 kHz with 100..200 sample events.
func noiseless() config.Detector {
	cfg := config.Default()
	cfg.Baseline = config.Baseline{Strategy: config.BaselineFixed, Value: 100}
	cfg.Threshold = config.Threshold{Strategy: config.ThresholdAbsolute, Start: 10, End: 5}
	cfg.MinEventLength = 0.1
	cfg.MaxEventLength = 0.2
	cfg.RawPointsPerSide = 20
	return cfg
}

// quiet keeps scan logs out of test output.
var quiet = detect.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil)))

func scan(t *testing.T, cfg config.Detector, src waveform.Source, opts ...detect.Option) ([]*detect.Event, *detect.Summary) {
	t.Helper()
	sc, err := detect.NewScanner(cfg, append([]detect.Option{quiet}, opts...)...)
	require.NoError(t, err)

	var events []*detect.Event
	sum, err := sc.Scan(context.Background(), src, detect.SinkFunc(func(ev *detect.Event) error {
		events = append(events, ev)
		return nil
	}))
	require.NoError(t, err)
	return events, sum
}

func assertLevelsCover(t *testing.T, events []*detect.Event) {
	t.Helper()
	for _, ev := range events {
		require.NotEmpty(t, ev.Levels, "event %d has no levels", ev.Index)
		total := 0
		for _, l := range ev.Levels {
			assert.Positive(t, l.Length)
			total += l.Length
		}
		assert.Equal(t, ev.End-ev.Start, total, "event %d level lengths", ev.Index)
		assert.Len(t, ev.Raw, ev.Length()+2*ev.RawPointsPerSide)
	}
}

func TestDurationBounds(t *testing.T) {
	testCases := []struct {
		length int
		want   int
	}{
		{99, 0},
		{100, 1},
		{101, 1},
		{199, 1},
		{200, 1},
		{201, 0},
	}

	for _, tc := range testCases {
		sig := (&signal{}).add(100, 400).add(50, tc.length).add(100, 400)
		src := &memSource{samples: sig.values, rate: 1000}

		events, sum := scan(t, noiseless(), src)
		require.Len(t, events, tc.want, "excursion of %d samples", tc.length)
		assertLevelsCover(t, events)

		if tc.want == 1 {
			ev := events[0]
			assert.Equal(t, 400, ev.Start)
			assert.Equal(t, 400+tc.length, ev.End)
			assert.Equal(t, -1, ev.Polarity)
			require.Len(t, ev.Levels, 1)
			assert.Equal(t, 50.0, ev.Levels[0].Current)
		}
		if tc.length < 100 {
			assert.Equal(t, 1, sum.RejectedShort)
		}
		if tc.length > 200 {
			assert.Equal(t, 1, sum.RejectedLong)
		}
	}
}

func TestTwoPlateausNoiseless(t *testing.T) {
	sig := (&signal{}).add(100, 300).add(70, 500).add(40, 500).add(100, 300)
	src := &memSource{samples: sig.values, rate: 1000}

	cfg := noiseless()
	cfg.MaxEventLength = 2

	events, sum := scan(t, cfg, src)
	require.Len(t, events, 1)
	assertLevelsCover(t, events)

	ev := events[0]
	assert.Equal(t, 300, ev.Start)
	assert.Equal(t, 1300, ev.End)
	assert.Equal(t, []detect.Level{{Current: 70, Length: 500}, {Current: 40, Length: 500}}, ev.Levels)
	assert.Equal(t, 2, sum.Levels)
	assert.InDelta(t, 60.0, ev.Blockade(), 1e-9)
}

func TestTwoPlateausNoisy(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	sig := (&signal{}).add(100, 300).add(70, 500).add(40, 500).add(100, 300).noise(rng, 1)
	src := &memSource{samples: sig.values, rate: 100000}

	cfg := config.Default()
	cfg.Baseline = config.Baseline{Strategy: config.BaselineFixed, Value: 100}
	cfg.Threshold.End = 3
	cfg.MinEventLength = 20e-5 // 20 samples
	cfg.MaxEventLength = 0.05

	events, _ := scan(t, cfg, src)
	require.Len(t, events, 1)
	assertLevelsCover(t, events)

	ev := events[0]
	assert.Equal(t, 300, ev.Start)
	require.Len(t, ev.Levels, 2)
	assert.Equal(t, 500, ev.Levels[0].Length)
	assert.InDelta(t, 500, ev.Levels[1].Length, 10)
	assert.InDelta(t, 70, ev.Levels[0].Current, 0.5)
	assert.InDelta(t, 40, ev.Levels[1].Current, 0.5)
}

func TestLevelLengthsCoverEvent(t *testing.T) {
	rng := rand.New(rand.NewSource(11))
	sig := &signal{}
	sig.add(100, 500)
	for range 30 {
		for range 1 + rng.Intn(3) {
			sig.add(20+rng.Float64()*60, 50+rng.Intn(200))
		}
		sig.add(100, 200+rng.Intn(300))
	}
	sig.noise(rng, 1)
	src := &memSource{samples: sig.values, rate: 100000}

	cfg := config.Default()
	cfg.MaxEventLength = 0.01

	events, sum := scan(t, cfg, src, detect.WithChunkSize(1000))
	require.NotEmpty(t, events)
	assertLevelsCover(t, events)
	assert.Equal(t, len(events), sum.Events)

	for k := 1; k < len(events); k++ {
		assert.GreaterOrEqual(t, events[k].Start, events[k-1].End, "events overlap")
		assert.Equal(t, k, events[k].Index)
	}
}

func TestBlockedLookbackAcrossBlocks(t *testing.T) {
	const ppb = 64
	rng := rand.New(rand.NewSource(3))

	sig := &signal{}
	sig.add(100, 650).add(60, 300).add(100, 1050).add(55, 250).add(100, 1250).add(65, 200)
	sig.add(100, ppb*80-len(sig.values))
	sig.noise(rng, 1)

	scale := func(block, _ int) float64 { return 0.01 * float64(1+block%3) }
	codes := make([]int16, len(sig.values))
	for i, v := range sig.values {
		codes[i] = int16(math.Round(v / scale(i/ppb, 0)))
	}
	b := wavetest.Blocked{
		SamplingInterval: 1e-5,
		PointsPerBlock:   ppb,
		Samples:          [][]int16{codes},
		Scale:            scale,
	}
	path := filepath.Join(t.TempDir(), "trace.hkd")
	require.NoError(t, wavetest.WriteBlocked(path, b))

	w, err := waveform.Open(path)
	require.NoError(t, err)
	defer w.Close()

	cfg := config.Default()
	cfg.MinEventLength = 1e-4 // 10 samples

	blocked, _ := scan(t, cfg, w, detect.WithChunkSize(ppb))

	physical := b.Physical(0)
	ref := &memSource{samples: physical, rate: w.SampleRate()}
	whole, _ := scan(t, cfg, ref, detect.WithChunkSize(len(physical)))

	require.GreaterOrEqual(t, len(blocked), 3)
	require.Equal(t, whole, blocked)
	assertLevelsCover(t, blocked)

	for _, ev := range blocked {
		p := ev.RawPointsPerSide
		assert.Equal(t, cfg.RawPointsPerSide, p)
		assert.Equal(t, physical[ev.Start-p:ev.End+p], ev.Raw)
	}
	assert.Equal(t, 650, blocked[0].Start)
}

func TestPaddingClippedAtEndOfFile(t *testing.T) {
	sig := (&signal{}).add(100, 400).add(50, 150).add(100, 8)
	src := &memSource{samples: sig.values, rate: 1000}

	events, _ := scan(t, noiseless(), src)
	require.Len(t, events, 1)
	assert.Equal(t, 8, events[0].RawPointsPerSide)
	assert.Equal(t, sig.values[392:558], events[0].Raw)
}

func TestOpenCandidateAtEndOfFileDiscarded(t *testing.T) {
	sig := (&signal{}).add(100, 400).add(50, 150)
	src := &memSource{samples: sig.values, rate: 1000}

	events, sum := scan(t, noiseless(), src)
	assert.Empty(t, events)
	assert.Equal(t, len(sig.values), sum.Samples)
}

func TestDisarmedAfterMaximumLength(t *testing.T) {
	sig := (&signal{}).add(100, 300).add(50, 450).add(100, 300).add(50, 150).add(100, 300)
	src := &memSource{samples: sig.values, rate: 1000}

	events, sum := scan(t, noiseless(), src)
	require.Len(t, events, 1)
	assert.Equal(t, 1050, events[0].Start)
	assert.Equal(t, 1, sum.RejectedLong)
}

func TestPositiveDirection(t *testing.T) {
	sig := (&signal{}).add(100, 300).add(50, 150).add(100, 300).add(150, 150).add(100, 300)
	src := &memSource{samples: sig.values, rate: 1000}

	cfg := noiseless()
	cfg.DetectNegative, cfg.DetectPositive = false, true

	events, _ := scan(t, cfg, src)
	require.Len(t, events, 1)
	assert.Equal(t, 750, events[0].Start)
	assert.Equal(t, 1, events[0].Polarity)
	assert.InDelta(t, 50.0, events[0].Blockade(), 1e-9)

	cfg.DetectNegative = true
	events, _ = scan(t, cfg, src)
	require.Len(t, events, 2)
	assert.Equal(t, -1, events[0].Polarity)
	assert.Equal(t, 1, events[1].Polarity)
}

func TestPercentThreshold(t *testing.T) {
	sig := (&signal{}).add(100, 300).add(92, 150).add(100, 300).add(80, 150).add(100, 300)
	src := &memSource{samples: sig.values, rate: 1000}

	cfg := noiseless()
	cfg.Threshold = config.Threshold{Strategy: config.ThresholdPercent, Start: 10, End: 5}

	events, _ := scan(t, cfg, src)
	require.Len(t, events, 1)
	assert.Equal(t, 750, events[0].Start)
}

func TestTooShort(t *testing.T) {
	src := &memSource{samples: make([]float64, config.WarmupSamples-1), rate: 1000}
	sc, err := detect.NewScanner(config.Default(), quiet)
	require.NoError(t, err)

	_, err = sc.Scan(context.Background(), src, detect.SinkFunc(func(*detect.Event) error { return nil }))
	assert.ErrorIs(t, err, detect.ErrTooShort)
}

func TestCancellation(t *testing.T) {
	sig := &signal{}
	sig.add(100, 200)
	for range 20 {
		sig.add(50, 150).add(100, 350)
	}
	src := &memSource{samples: sig.values, rate: 1000}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var events []*detect.Event
	calls := 0
	sc, err := detect.NewScanner(noiseless(),
		quiet,
		detect.WithChunkSize(1000),
		detect.WithProgress(func(p detect.Progress) {
			calls++
			if calls == 3 {
				cancel()
			}
		}))
	require.NoError(t, err)

	sum, err := sc.Scan(ctx, src, detect.SinkFunc(func(ev *detect.Event) error {
		events = append(events, ev)
		return nil
	}))
	require.ErrorIs(t, err, detect.ErrCancelled)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 3000, sum.Samples)
	assert.Equal(t, len(events), sum.Events)
	assert.NotEmpty(t, events)
	assert.Less(t, len(events), 20)
}

func TestSinkError(t *testing.T) {
	sig := (&signal{}).add(100, 300).add(50, 150).add(100, 300)
	src := &memSource{samples: sig.values, rate: 1000}

	sc, err := detect.NewScanner(noiseless(), quiet)
	require.NoError(t, err)

	full := errors.New("disk full")
	sum, err := sc.Scan(context.Background(), src, detect.SinkFunc(func(*detect.Event) error { return full }))
	require.ErrorIs(t, err, detect.ErrSink)
	assert.ErrorIs(t, err, full)
	assert.Zero(t, sum.Events)
}

func TestProgressReachesTotal(t *testing.T) {
	sig := (&signal{}).add(100, 300).add(50, 150).add(100, 3000)
	src := &memSource{samples: sig.values, rate: 1000, block: 512}

	var last detect.Progress
	calls := 0
	events, _ := scan(t, noiseless(), src, detect.WithProgress(func(p detect.Progress) {
		calls++
		last = p
	}))

	assert.Equal(t, 1, calls, "small blocks are batched into one read")
	assert.Equal(t, len(sig.values), last.Samples)
	assert.Equal(t, len(sig.values), last.Total)
	assert.Equal(t, len(events), last.Events)
}

func TestNewScannerRejectsInvalidConfig(t *testing.T) {
	cfg := config.Default()
	cfg.MaxEventLength = 0
	_, err := detect.NewScanner(cfg)
	assert.ErrorIs(t, err, config.ErrInvalid)

	_, err = detect.NewScanner(config.Default(), detect.WithChunkSize(-1))
	assert.ErrorIs(t, err, config.ErrInvalid)
}
