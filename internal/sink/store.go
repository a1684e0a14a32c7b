package sink

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/dgraph-io/badger/v4"

	"github.com/linuxmatters/poreflow/internal/config"
	"github.com/linuxmatters/poreflow/internal/detect"
)

// ErrRunNotFound is returned for unknown run ids.
var ErrRunNotFound = errors.New("run not found")

const (
	runPrefix   = "run/"
	eventPrefix = "ev/"
)

// Run describes one scan of one recording.
type Run struct {
	ID            string          `json:"id"`
	Source        string          `json:"source"`
	StartedAt     time.Time       `json:"started_at"`
	SampleRate    float64         `json:"sample_rate"`
	Samples       int             `json:"samples"`
	Events        int             `json:"events"`
	Levels        int             `json:"levels"`
	RejectedShort int             `json:"rejected_short"`
	RejectedLong  int             `json:"rejected_long"`
	Elapsed       time.Duration   `json:"elapsed"`
	Error         string          `json:"error,omitempty"`
	Config        config.Detector `json:"config"`
}

// Store persists runs and their events in a Badger database.
//
// Keys:
//
//	run/<id>             Run as JSON
//	ev/<id>/<index>      Event as JSON, index zero-padded so keys sort by emission order
type Store struct {
	db     *badger.DB
	logger *slog.Logger
}

// OpenStore opens (or creates) a store in dir. An empty dir keeps the
// database in memory.
func OpenStore(dir string, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}
	opts := badger.DefaultOptions(dir).WithLogger(badgerLogger{logger})
	if dir == "" {
		opts = opts.WithInMemory(true)
	}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open event store: %w", err)
	}
	return &Store{db: db, logger: logger}, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

func runKey(id string) []byte {
	return []byte(runPrefix + id)
}

func eventKey(runID string, index int) []byte {
	return fmt.Appendf(nil, "%s%s/%012d", eventPrefix, runID, index)
}

// PutRun writes or replaces run metadata.
func (s *Store) PutRun(run Run) error {
	data, err := json.Marshal(run)
	if err != nil {
		return fmt.Errorf("failed to encode run %s: %w", run.ID, err)
	}
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(runKey(run.ID), data)
	})
}

// Run returns the metadata for id.
func (s *Store) Run(id string) (Run, error) {
	var run Run
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(runKey(id))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return fmt.Errorf("%w: %s", ErrRunNotFound, id)
		}
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &run)
		})
	})
	return run, err
}

// Runs returns every run, oldest first.
func (s *Store) Runs() ([]Run, error) {
	var runs []Run
	err := s.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()

		prefix := []byte(runPrefix)
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			var run Run
			err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &run)
			})
			if err != nil {
				return fmt.Errorf("failed to decode %s: %w", it.Item().Key(), err)
			}
			runs = append(runs, run)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	sort.SliceStable(runs, func(i, j int) bool {
		return runs[i].StartedAt.Before(runs[j].StartedAt)
	})
	return runs, nil
}

// Events calls fn for each event of run id in emission order.
func (s *Store) Events(id string, fn func(ev *detect.Event) error) error {
	return s.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()

		prefix := []byte(eventPrefix + id + "/")
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			var ev detect.Event
			err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &ev)
			})
			if err != nil {
				return fmt.Errorf("failed to decode %s: %w", it.Item().Key(), err)
			}
			if err := fn(&ev); err != nil {
				return err
			}
		}
		return nil
	})
}

// DeleteRun removes a run and all of its events.
func (s *Store) DeleteRun(id string) error {
	if _, err := s.Run(id); err != nil {
		return err
	}

	keys := [][]byte{runKey(id)}
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()

		prefix := []byte(eventPrefix + id + "/")
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			keys = append(keys, it.Item().KeyCopy(nil))
		}
		return nil
	})
	if err != nil {
		return err
	}

	wb := s.db.NewWriteBatch()
	for _, k := range keys {
		if err := wb.Delete(k); err != nil {
			wb.Cancel()
			return fmt.Errorf("failed to delete %s: %w", k, err)
		}
	}
	if err := wb.Flush(); err != nil {
		return err
	}
	s.logger.Debug("run deleted", "run", id, "events", len(keys)-1)
	return nil
}

// Writer returns a sink that batches the events of run id into the store.
// Call Flush once the scan ends.
func (s *Store) Writer(id string) *Writer {
	return &Writer{runID: id, wb: s.db.NewWriteBatch()}
}

// Writer batches one run's events.
type Writer struct {
	runID string
	wb    *badger.WriteBatch
	n     int
	done  bool
}

// Append queues ev for writing.
func (w *Writer) Append(ev *detect.Event) error {
	if w.done {
		return ErrClosed
	}
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("failed to encode event %d: %w", ev.Index, err)
	}
	if err := w.wb.Set(eventKey(w.runID, ev.Index), data); err != nil {
		return fmt.Errorf("failed to store event %d: %w", ev.Index, err)
	}
	w.n++
	return nil
}

// Len returns the number of events queued so far.
func (w *Writer) Len() int {
	return w.n
}

// Flush commits the queued events.
func (w *Writer) Flush() error {
	if w.done {
		return nil
	}
	w.done = true
	return w.wb.Flush()
}

// Cancel discards events not yet committed.
func (w *Writer) Cancel() {
	if !w.done {
		w.done = true
		w.wb.Cancel()
	}
}

// badgerLogger routes Badger's own logging through slog at debug level,
// except for errors and warnings.
type badgerLogger struct {
	l *slog.Logger
}

func (b badgerLogger) Errorf(format string, args ...any) {
	b.l.Error(strings.TrimSpace(fmt.Sprintf(format, args...)), "component", "badger")
}

func (b badgerLogger) Warningf(format string, args ...any) {
	b.l.Warn(strings.TrimSpace(fmt.Sprintf(format, args...)), "component", "badger")
}

func (b badgerLogger) Infof(format string, args ...any) {
	b.l.Debug(strings.TrimSpace(fmt.Sprintf(format, args...)), "component", "badger")
}

func (b badgerLogger) Debugf(format string, args ...any) {
	b.l.Debug(strings.TrimSpace(fmt.Sprintf(format, args...)), "component", "badger")
}
