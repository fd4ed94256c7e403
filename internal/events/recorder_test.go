package events

import (
	"bytes"
	"log"
	"testing"
	"time"

	"github.com/erenkahraman/statpulse/pkg/types"
)

type capturing struct {
	events []types.Event
}

func (c *capturing) Record(event types.Event) {
	c.events = append(c.events, event)
}

func TestLogRecorderFormatsStableLines(t *testing.T) {
	var buf bytes.Buffer
	rec := LogRecorder{Logger: log.New(&buf, "", 0)}

	rec.Record(types.Event{
		Type:      types.EventAnomalyDetected,
		Timestamp: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
		Endpoint:  "UNICEF SDMX API",
		Details: map[string]any{
			"severity":        "critical",
			"deviationFactor": 3.5,
			"rollingAvgMs":    int64(120),
		},
	})

	want := `event AnomalyDetected endpoint="UNICEF SDMX API" deviationFactor=3.5 rollingAvgMs=120 severity=critical` + "\n"
	if buf.String() != want {
		t.Fatalf("unexpected line:\n got %q\nwant %q", buf.String(), want)
	}
}

func TestMultiFansOutAndSkipsNil(t *testing.T) {
	first := &capturing{}
	second := &capturing{}
	multi := NewMulti(first, nil, second, NoopRecorder{})

	multi.Record(types.Event{Type: types.EventEndpointDown, Endpoint: "alpha"})

	if len(first.events) != 1 || len(second.events) != 1 {
		t.Fatalf("expected both recorders to receive the event")
	}
	if first.events[0].Endpoint != "alpha" {
		t.Fatalf("expected endpoint to carry through, got %q", first.events[0].Endpoint)
	}
}
