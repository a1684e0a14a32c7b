package sink

import (
	"bytes"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/linuxmatters/poreflow/internal/config"
	"github.com/linuxmatters/poreflow/internal/detect"
)

func event(index int) *detect.Event {
	return &detect.Event{
		Index:      index,
		Start:      1000 * (index + 1),
		End:        1000*(index+1) + 120,
		Baseline:   101.5,
		Polarity:   -1,
		SampleRate: 250000,
		Levels: []detect.Level{
			{Current: 60, Length: 70},
			{Current: 45.25, Length: 50},
		},
		RawPointsPerSide: 2,
		Raw:              []float64{101, 102, 60, 45, 100, 101},
	}
}

func TestMemoryAndMulti(t *testing.T) {
	a, b := &Memory{}, &Memory{}
	s := Multi(a, nil, b)

	for i := range 3 {
		require.NoError(t, s.Append(event(i)))
	}
	assert.Equal(t, 3, a.Len())
	assert.Equal(t, a.Events(), b.Events())
}

func TestMultiStopsAtFirstFailure(t *testing.T) {
	boom := errors.New("boom")
	after := &Memory{}
	s := Multi(detect.SinkFunc(func(*detect.Event) error { return boom }), after)

	assert.ErrorIs(t, s.Append(event(0)), boom)
	assert.Zero(t, after.Len())
}

func TestJSONLRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	j := NewJSONL(&buf)
	s := j.Sink("run-1", "trace.log")

	for i := range 2 {
		require.NoError(t, s.Append(event(i)))
	}
	require.NoError(t, j.Close())
	assert.ErrorIs(t, j.Write(Record{}), ErrClosed)
	assert.Equal(t, 2, bytes.Count(buf.Bytes(), []byte("\n")))

	recs, err := ReadJSONL(&buf)
	require.NoError(t, err)
	require.Len(t, recs, 2)
	assert.Equal(t, "run-1", recs[1].RunID)
	assert.Equal(t, "trace.log", recs[1].Source)
	assert.Equal(t, *event(1), recs[1].Event)
}

func TestCreateJSONL(t *testing.T) {
	path := filepath.Join(t.TempDir(), "events.jsonl")
	j, err := CreateJSONL(path)
	require.NoError(t, err)
	require.NoError(t, j.Sink("r", "f").Append(event(0)))
	require.NoError(t, j.Close())
	require.NoError(t, j.Close())

	_, err = CreateJSONL(filepath.Join(path, "nested"))
	assert.Error(t, err)
}

func TestStore(t *testing.T) {
	store, err := OpenStore("", nil)
	require.NoError(t, err)
	defer store.Close()

	older := Run{ID: "b", Source: "old.hkd", StartedAt: time.Unix(100, 0).UTC(), Config: config.Default()}
	newer := Run{ID: "a", Source: "new.log", StartedAt: time.Unix(200, 0).UTC(), Events: 12}
	require.NoError(t, store.PutRun(newer))
	require.NoError(t, store.PutRun(older))

	w := store.Writer("a")
	for i := range 12 {
		require.NoError(t, w.Append(event(i)))
	}
	assert.Equal(t, 12, w.Len())
	require.NoError(t, w.Flush())
	assert.ErrorIs(t, w.Append(event(12)), ErrClosed)

	runs, err := store.Runs()
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, "b", runs[0].ID)
	assert.Equal(t, config.Default(), runs[0].Config)
	assert.Equal(t, newer, runs[1])

	var got []*detect.Event
	require.NoError(t, store.Events("a", func(ev *detect.Event) error {
		got = append(got, ev)
		return nil
	}))
	require.Len(t, got, 12)
	for i, ev := range got {
		assert.Equal(t, event(i), ev, "events come back in emission order")
	}

	require.NoError(t, store.Events("b", func(*detect.Event) error {
		t.Fatal("run b has no events")
		return nil
	}))

	_, err = store.Run("missing")
	assert.ErrorIs(t, err, ErrRunNotFound)

	require.NoError(t, store.DeleteRun("a"))
	_, err = store.Run("a")
	assert.ErrorIs(t, err, ErrRunNotFound)
	require.NoError(t, store.Events("a", func(*detect.Event) error {
		t.Fatal("events of a deleted run remain")
		return nil
	}))
}

func TestStoreWriterCancel(t *testing.T) {
	store, err := OpenStore("", nil)
	require.NoError(t, err)
	defer store.Close()

	w := store.Writer("x")
	require.NoError(t, w.Append(event(0)))
	w.Cancel()
	require.NoError(t, w.Flush())

	n := 0
	require.NoError(t, store.Events("x", func(*detect.Event) error { n++; return nil }))
	assert.Zero(t, n)
}

func TestStorePersistsOnDisk(t *testing.T) {
	dir := t.TempDir()
	store, err := OpenStore(dir, nil)
	require.NoError(t, err)
	require.NoError(t, store.PutRun(Run{ID: "r1", Source: "trace.log"}))
	require.NoError(t, store.Close())

	store, err = OpenStore(dir, nil)
	require.NoError(t, err)
	defer store.Close()

	run, err := store.Run("r1")
	require.NoError(t, err)
	assert.Equal(t, "trace.log", run.Source)
}
