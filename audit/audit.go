// Package audit records security-relevant decisions as append-only events.
package audit

import (
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Sink receives audit events. Record must not block the caller for long and
// never reports failure: auditing is fire-and-forget for the session layer.
type Sink interface {
	Record(ts time.Time, deviceID, action string)
}

// Event is a single recorded decision.
type Event struct {
	Timestamp time.Time `json:"ts"`
	DeviceID  string    `json:"device_id"`
	Action    string    `json:"action"`
}

// FileSink appends one JSON line per event to a file.
type FileSink struct {
	file   *os.File
	logger zerolog.Logger
}

// OpenFile opens (creating if needed) the audit log at path for appending.
func OpenFile(path string) (*FileSink, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return nil, err
	}
	sink := NewWriterSink(f)
	sink.file = f
	return sink, nil
}

// NewWriterSink writes audit lines to w.
func NewWriterSink(w io.Writer) *FileSink {
	return &FileSink{logger: zerolog.New(w)}
}

func (s *FileSink) Record(ts time.Time, deviceID, action string) {
	s.logger.Log().
		Str("ts", ts.UTC().Format(time.RFC3339Nano)).
		Str("device_id", deviceID).
		Str("action", action).
		Send()
}

func (s *FileSink) Close() error {
	if s.file == nil {
		return nil
	}
	return s.file.Close()
}

// MemorySink keeps events in memory.
type MemorySink struct {
	mu     sync.Mutex
	events []Event
}

func NewMemorySink() *MemorySink {
	return &MemorySink{}
}

func (s *MemorySink) Record(ts time.Time, deviceID, action string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, Event{Timestamp: ts, DeviceID: deviceID, Action: action})
}

func (s *MemorySink) Events() []Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Event(nil), s.events...)
}

// Actions returns the recorded action labels in order.
func (s *MemorySink) Actions() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	actions := make([]string, 0, len(s.events))
	for _, e := range s.events {
		actions = append(actions, e.Action)
	}
	return actions
}

// MultiSink fans every event out to several sinks.
type MultiSink []Sink

func (m MultiSink) Record(ts time.Time, deviceID, action string) {
	for _, s := range m {
		s.Record(ts, deviceID, action)
	}
}

// Discard drops every event.
type Discard struct{}

func (Discard) Record(time.Time, string, string) {}

var (
	_ Sink = (*FileSink)(nil)
	_ Sink = (*MemorySink)(nil)
	_ Sink = MultiSink(nil)
	_ Sink = Discard{}
)
