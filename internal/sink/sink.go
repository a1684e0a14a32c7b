// Package sink provides destinations for detected events: memory, JSON
// lines and a Badger-backed event store.
package sink

import (
	"errors"
	"sync"

	"github.com/linuxmatters/poreflow/internal/detect"
)

// Memory keeps events in order. It is safe for concurrent use.
type Memory struct {
	mu     sync.Mutex
	events []*detect.Event
}

// Append records ev.
func (m *Memory) Append(ev *detect.Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, ev)
	return nil
}

// Events returns a copy of the recorded events.
func (m *Memory) Events() []*detect.Event {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]*detect.Event(nil), m.events...)
}

// Len returns the number of recorded events.
func (m *Memory) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.events)
}

type multi []detect.Sink

// Multi fans each event out to every sink in order, stopping at the first
// failure.
func Multi(sinks ...detect.Sink) detect.Sink {
	var out multi
	for _, s := range sinks {
		if s != nil {
			out = append(out, s)
		}
	}
	return out
}

func (m multi) Append(ev *detect.Event) error {
	for _, s := range m {
		if err := s.Append(ev); err != nil {
			return err
		}
	}
	return nil
}

// Discard accepts and drops every event.
var Discard detect.Sink = detect.SinkFunc(func(*detect.Event) error { return nil })

// ErrClosed is returned by writes after Close.
var ErrClosed = errors.New("sink is closed")
