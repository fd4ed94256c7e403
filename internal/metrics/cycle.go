package metrics

import "time"

// CycleStats summarizes one completed probe cycle.
type CycleStats struct {
	Probed      int
	Up          int
	Warnings    int
	Criticals   int
	LogEntries  int
	Evicted     int
	Duration    time.Duration
	CompletedAt time.Time
	PersistOK   bool
}

// AllFailed reports a total outage: every probe of a non-empty cycle failed.
func (s CycleStats) AllFailed() bool {
	return s.Probed > 0 && s.Up == 0
}

type CycleRecorder interface {
	ObserveCycle(stats CycleStats)
}

type NoopCycleRecorder struct{}

func (NoopCycleRecorder) ObserveCycle(stats CycleStats) {}
