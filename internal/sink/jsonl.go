package sink

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/linuxmatters/poreflow/internal/detect"
)

// Record is one line of JSONL output.
type Record struct {
	RunID  string `json:"run_id"`
	Source string `json:"source"`
	detect.Event
}

// JSONL writes one Record per line. Concurrent scans may share a JSONL;
// lines are never interleaved.
type JSONL struct {
	mu     sync.Mutex
	w      *bufio.Writer
	enc    *json.Encoder
	closer io.Closer
	closed bool
}

// NewJSONL writes records to w.
func NewJSONL(w io.Writer) *JSONL {
	bw := bufio.NewWriter(w)
	return &JSONL{w: bw, enc: json.NewEncoder(bw)}
}

// CreateJSONL creates (or truncates) the file at path.
func CreateJSONL(path string) (*JSONL, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("failed to create %s: %w", path, err)
	}
	j := NewJSONL(f)
	j.closer = f
	return j, nil
}

// Sink returns a detect.Sink that tags each event with the run and source.
func (j *JSONL) Sink(runID, source string) detect.Sink {
	return detect.SinkFunc(func(ev *detect.Event) error {
		return j.Write(Record{RunID: runID, Source: source, Event: *ev})
	})
}

// Write encodes rec as a single line.
func (j *JSONL) Write(rec Record) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.closed {
		return ErrClosed
	}
	if err := j.enc.Encode(rec); err != nil {
		return fmt.Errorf("failed to encode event %d: %w", rec.Index, err)
	}
	return nil
}

// Close flushes buffered lines and closes the file, if any.
func (j *JSONL) Close() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.closed {
		return nil
	}
	j.closed = true

	err := j.w.Flush()
	if j.closer != nil {
		if cerr := j.closer.Close(); err == nil {
			err = cerr
		}
	}
	return err
}

// ReadJSONL decodes every record in r.
func ReadJSONL(r io.Reader) ([]Record, error) {
	dec := json.NewDecoder(r)
	var out []Record
	for {
		var rec Record
		err := dec.Decode(&rec)
		if err == io.EOF {
			return out, nil
		}
		if err != nil {
			return out, fmt.Errorf("failed to decode record %d: %w", len(out), err)
		}
		out = append(out, rec)
	}
}
