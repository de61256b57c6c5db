package telemetry

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"
)

// maxJournalLine bounds a single journal entry.
const maxJournalLine = 10 * 1024 * 1024

// JournalWriter appends events to a stream as newline-delimited JSON, one
// event per line. It is safe for concurrent use.
type JournalWriter struct {
	mu  sync.Mutex
	w   *bufio.Writer
	err error
}

// NewJournalWriter creates a journal writing to w.
func NewJournalWriter(w io.Writer) *JournalWriter {
	return &JournalWriter{w: bufio.NewWriter(w)}
}

// Write appends one event and flushes it.
func (j *JournalWriter) Write(event Event) error {
	if event.Type == "" {
		return errors.New("event type is required")
	}

	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	j.mu.Lock()
	defer j.mu.Unlock()

	if _, err := j.w.Write(data); err != nil {
		return fmt.Errorf("failed to write event: %w", err)
	}
	if err := j.w.WriteByte('\n'); err != nil {
		return fmt.Errorf("failed to write newline: %w", err)
	}
	if err := j.w.Flush(); err != nil {
		return fmt.Errorf("failed to flush: %w", err)
	}
	return nil
}

// Handler returns an EventHandler writing to the journal. The first write
// error is kept and reported by Err; later events are dropped.
func (j *JournalWriter) Handler() EventHandler {
	return func(e Event) {
		if j.Err() != nil {
			return
		}
		if err := j.Write(e); err != nil {
			j.mu.Lock()
			j.err = err
			j.mu.Unlock()
		}
	}
}

// Err returns the first error hit by Handler.
func (j *JournalWriter) Err() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.err
}

// JournalReader reads events written by a JournalWriter.
type JournalReader struct {
	s *bufio.Scanner
}

// NewJournalReader creates a reader over r.
func NewJournalReader(r io.Reader) *JournalReader {
	s := bufio.NewScanner(r)
	s.Buffer(make([]byte, 0, 64*1024), maxJournalLine)
	return &JournalReader{s: s}
}

// Next returns the next event, or io.EOF at the end of the stream.
func (j *JournalReader) Next() (Event, error) {
	if !j.s.Scan() {
		if err := j.s.Err(); err != nil {
			return Event{}, fmt.Errorf("scan error: %w", err)
		}
		return Event{}, io.EOF
	}

	line := j.s.Bytes()
	if len(line) == 0 {
		return Event{}, errors.New("empty line")
	}

	var e Event
	if err := json.Unmarshal(line, &e); err != nil {
		return Event{}, fmt.Errorf("failed to unmarshal event: %w", err)
	}
	if e.Type == "" {
		return Event{}, errors.New("event has no type")
	}
	return e, nil
}

// ReadJournal reads every event from r.
func ReadJournal(r io.Reader) ([]Event, error) {
	reader := NewJournalReader(r)
	var events []Event
	for {
		e, err := reader.Next()
		if errors.Is(err, io.EOF) {
			return events, nil
		}
		if err != nil {
			return events, err
		}
		events = append(events, e)
	}
}
