package events

import (
	"log"
	"sort"
	"strings"

	"github.com/erenkahraman/statpulse/pkg/types"
)

type Recorder interface {
	Record(event types.Event)
}

type NoopRecorder struct{}

func (NoopRecorder) Record(event types.Event) {}

type Multi struct {
	recorders []Recorder
}

func NewMulti(recorders ...Recorder) Multi {
	return Multi{recorders: recorders}
}

func (m Multi) Record(event types.Event) {
	for _, rec := range m.recorders {
		if rec != nil {
			rec.Record(event)
		}
	}
}

// LogRecorder writes events through the process logger, one line per event
// with stable key order.
type LogRecorder struct {
	Logger *log.Logger
}

func (r LogRecorder) Record(event types.Event) {
	if r.Logger == nil {
		return
	}
	var b strings.Builder
	b.WriteString("event ")
	b.WriteString(string(event.Type))
	if event.Endpoint != "" {
		b.WriteString(" endpoint=")
		b.WriteString(quoteIfSpaced(event.Endpoint))
	}
	keys := make([]string, 0, len(event.Details))
	for k := range event.Details {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		b.WriteString(" ")
		b.WriteString(k)
		b.WriteString("=")
		b.WriteString(formatDetail(event.Details[k]))
	}
	r.Logger.Print(b.String())
}
