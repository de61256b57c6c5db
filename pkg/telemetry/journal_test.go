package telemetry

import (
	"bytes"
	"strings"
	"sync"
	"testing"
)

func TestJournalRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	journal := NewJournalWriter(&buf)

	p := NewEventPublisher()
	p.Subscribe(journal.Handler(), nil)

	p.Publish(Event{Type: EventRunStarted, RunID: "run-1"})
	p.Publish(Event{Type: EventResourceCreated, RunID: "run-1", Resource: "main.Web", Data: map[string]any{"operation": "create"}})
	p.Publish(Event{Type: EventRunCompleted, RunID: "run-1"})

	if err := journal.Err(); err != nil {
		t.Fatalf("journal failed: %v", err)
	}
	if lines := strings.Count(buf.String(), "\n"); lines != 3 {
		t.Fatalf("expected 3 lines, got %d:\n%s", lines, buf.String())
	}

	events, err := ReadJournal(&buf)
	if err != nil {
		t.Fatalf("failed to read journal: %v", err)
	}
	if len(events) != 3 {
		t.Fatalf("expected 3 events, got %d", len(events))
	}
	if events[1].Type != EventResourceCreated || events[1].Resource != "main.Web" {
		t.Errorf("unexpected event: %+v", events[1])
	}
	if events[1].ID == "" || events[1].Timestamp.IsZero() {
		t.Errorf("event was not stamped: %+v", events[1])
	}
	if events[1].Data["operation"] != "create" {
		t.Errorf("expected data to survive, got %v", events[1].Data)
	}
}

func TestJournalConcurrentWrites(t *testing.T) {
	var buf bytes.Buffer
	journal := NewJournalWriter(&buf)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := journal.Write(Event{Type: EventResourceUpdated, Resource: "main.Web"}); err != nil {
				t.Errorf("write failed: %v", err)
			}
		}()
	}
	wg.Wait()

	events, err := ReadJournal(&buf)
	if err != nil {
		t.Fatalf("interleaved journal: %v", err)
	}
	if len(events) != 20 {
		t.Errorf("expected 20 events, got %d", len(events))
	}
}

func TestJournalErrors(t *testing.T) {
	journal := NewJournalWriter(&bytes.Buffer{})
	if err := journal.Write(Event{}); err == nil {
		t.Error("expected error for event without type")
	}

	tests := []struct {
		name  string
		input string
	}{
		{"invalid json", "{not json}\n"},
		{"empty line", "\n"},
		{"missing type", `{"id":"1"}` + "\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := ReadJournal(strings.NewReader(tt.input)); err == nil {
				t.Error("expected error")
			}
		})
	}
}
