package metrics

import (
	"fmt"
	"io"
	"net/http"
	"sort"
	"sync/atomic"
)

// Store maintains in-memory gauges and counters for probe telemetry.
type Store struct {
	cyclesTotal           atomic.Uint64
	probeFailuresTotal    atomic.Uint64
	anomalyWarningsTotal  atomic.Uint64
	anomalyCriticalsTotal atomic.Uint64
	logEvictedTotal       atomic.Uint64
	persistFailuresTotal  atomic.Uint64
	endpointsProbed       atomic.Int64
	endpointsUp           atomic.Int64
	logEntries            atomic.Int64
	lastCycleUnix         atomic.Int64
	lastCycleDurationMs   atomic.Int64
	lastCycleAllFailed    atomic.Int64
	lastPersistOK         atomic.Int64
	readinessState        atomic.Int64
	readinessReason       atomic.Value
	readinessCategories   atomic.Value
	readyTransitions      atomic.Uint64
	notReadyTransitions   atomic.Uint64
}

// ReadinessCategory captures a categorized readiness reason with severity.
type ReadinessCategory struct {
	Name     string
	Severity string
}

// NewStore constructs a Store with zeroed metrics. Persistence is assumed
// healthy until a cycle proves otherwise.
func NewStore() *Store {
	store := &Store{}
	store.readinessReason.Store("")
	store.readinessCategories.Store([]ReadinessCategory(nil))
	store.lastPersistOK.Store(1)
	return store
}

// Snapshot captures the current metric values in a plain struct.
type Snapshot struct {
	CyclesTotal           uint64
	ProbeFailuresTotal    uint64
	AnomalyWarningsTotal  uint64
	AnomalyCriticalsTotal uint64
	LogEvictedTotal       uint64
	PersistFailuresTotal  uint64
	EndpointsProbed       int64
	EndpointsUp           int64
	LogEntries            int64
	LastCycleUnix         int64
	LastCycleDurationMs   int64
	LastCycleAllFailed    bool
	LastPersistOK         bool
	Ready                 bool
	ReadyReason           string
	ReadyTransitions      uint64
	NotReadyTransitions   uint64
	ReadyCategories       []ReadinessCategory
}

// Snapshot returns a point-in-time copy of the metrics.
func (s *Store) Snapshot() Snapshot {
	readyReason, _ := s.readinessReason.Load().(string)
	rawCategories, _ := s.readinessCategories.Load().([]ReadinessCategory)
	categories := make([]ReadinessCategory, len(rawCategories))
	copy(categories, rawCategories)
	return Snapshot{
		CyclesTotal:           s.cyclesTotal.Load(),
		ProbeFailuresTotal:    s.probeFailuresTotal.Load(),
		AnomalyWarningsTotal:  s.anomalyWarningsTotal.Load(),
		AnomalyCriticalsTotal: s.anomalyCriticalsTotal.Load(),
		LogEvictedTotal:       s.logEvictedTotal.Load(),
		PersistFailuresTotal:  s.persistFailuresTotal.Load(),
		EndpointsProbed:       s.endpointsProbed.Load(),
		EndpointsUp:           s.endpointsUp.Load(),
		LogEntries:            s.logEntries.Load(),
		LastCycleUnix:         s.lastCycleUnix.Load(),
		LastCycleDurationMs:   s.lastCycleDurationMs.Load(),
		LastCycleAllFailed:    s.lastCycleAllFailed.Load() == 1,
		LastPersistOK:         s.lastPersistOK.Load() == 1,
		Ready:                 s.readinessState.Load() == 1,
		ReadyReason:           readyReason,
		ReadyTransitions:      s.readyTransitions.Load(),
		NotReadyTransitions:   s.notReadyTransitions.Load(),
		ReadyCategories:       categories,
	}
}

// ObserveCycle implements CycleRecorder backed by the store.
func (s *Store) ObserveCycle(stats CycleStats) {
	s.cyclesTotal.Add(1)
	if failed := stats.Probed - stats.Up; failed > 0 {
		s.probeFailuresTotal.Add(uint64(failed))
	}
	if stats.Warnings > 0 {
		s.anomalyWarningsTotal.Add(uint64(stats.Warnings))
	}
	if stats.Criticals > 0 {
		s.anomalyCriticalsTotal.Add(uint64(stats.Criticals))
	}
	if stats.Evicted > 0 {
		s.logEvictedTotal.Add(uint64(stats.Evicted))
	}
	s.endpointsProbed.Store(int64(stats.Probed))
	s.endpointsUp.Store(int64(stats.Up))
	s.logEntries.Store(int64(stats.LogEntries))
	if !stats.CompletedAt.IsZero() {
		s.lastCycleUnix.Store(stats.CompletedAt.Unix())
	}
	s.lastCycleDurationMs.Store(stats.Duration.Milliseconds())
	if stats.AllFailed() {
		s.lastCycleAllFailed.Store(1)
	} else {
		s.lastCycleAllFailed.Store(0)
	}
	if stats.PersistOK {
		s.lastPersistOK.Store(1)
	} else {
		s.lastPersistOK.Store(0)
		s.persistFailuresTotal.Add(1)
	}
}

// ObserveReadiness records the outcome of a readiness evaluation and tracks
// state transitions.
func (s *Store) ObserveReadiness(ready bool, reason string, categories []ReadinessCategory) {
	prev := s.readinessState.Load()
	if ready {
		if prev == 0 {
			s.readyTransitions.Add(1)
		}
		s.readinessState.Store(1)
		s.readinessReason.Store("")
		s.readinessCategories.Store([]ReadinessCategory(nil))
		return
	}
	if prev == 1 {
		s.notReadyTransitions.Add(1)
	}
	s.readinessState.Store(0)
	s.readinessReason.Store(reason)
	s.readinessCategories.Store(append([]ReadinessCategory(nil), categories...))
}

// WritePrometheus renders the current metrics using the Prometheus text format.
func (s *Store) WritePrometheus(w io.Writer) error {
	snap := s.Snapshot()
	readyValue := 0
	if snap.Ready {
		readyValue = 1
	}
	reason := snap.ReadyReason
	if !snap.Ready && reason == "" {
		reason = "unknown"
	}
	if snap.Ready && reason == "" {
		reason = "ready"
	}
	lines := []string{
		"# HELP statpulse_cycles_total Total completed probe cycles.",
		"# TYPE statpulse_cycles_total counter",
		fmt.Sprintf("statpulse_cycles_total %d", snap.CyclesTotal),
		"# HELP statpulse_probe_failures_total Total probes that did not complete with a 2xx response.",
		"# TYPE statpulse_probe_failures_total counter",
		fmt.Sprintf("statpulse_probe_failures_total %d", snap.ProbeFailuresTotal),
		"# HELP statpulse_anomalies_total Total latency anomalies by severity.",
		"# TYPE statpulse_anomalies_total counter",
		fmt.Sprintf("statpulse_anomalies_total{severity=%q} %d", "warning", snap.AnomalyWarningsTotal),
		fmt.Sprintf("statpulse_anomalies_total{severity=%q} %d", "critical", snap.AnomalyCriticalsTotal),
		"# HELP statpulse_log_evicted_total Total entries evicted from the health log by the retention cap.",
		"# TYPE statpulse_log_evicted_total counter",
		fmt.Sprintf("statpulse_log_evicted_total %d", snap.LogEvictedTotal),
		"# HELP statpulse_persist_failures_total Total health log writes that failed.",
		"# TYPE statpulse_persist_failures_total counter",
		fmt.Sprintf("statpulse_persist_failures_total %d", snap.PersistFailuresTotal),
		"# HELP statpulse_endpoints_probed Endpoints probed in the most recent cycle.",
		"# TYPE statpulse_endpoints_probed gauge",
		fmt.Sprintf("statpulse_endpoints_probed %d", snap.EndpointsProbed),
		"# HELP statpulse_endpoints_up Endpoints with a healthy response in the most recent cycle.",
		"# TYPE statpulse_endpoints_up gauge",
		fmt.Sprintf("statpulse_endpoints_up %d", snap.EndpointsUp),
		"# HELP statpulse_log_entries Entries in the health log after the most recent cycle.",
		"# TYPE statpulse_log_entries gauge",
		fmt.Sprintf("statpulse_log_entries %d", snap.LogEntries),
		"# HELP statpulse_last_cycle_timestamp_seconds Completion time of the most recent cycle.",
		"# TYPE statpulse_last_cycle_timestamp_seconds gauge",
		fmt.Sprintf("statpulse_last_cycle_timestamp_seconds %d", snap.LastCycleUnix),
		"# HELP statpulse_last_cycle_duration_ms Wall time of the most recent cycle.",
		"# TYPE statpulse_last_cycle_duration_ms gauge",
		fmt.Sprintf("statpulse_last_cycle_duration_ms %d", snap.LastCycleDurationMs),
		"# HELP statpulse_last_cycle_all_failed Whether every probe in the most recent cycle failed (1=yes).",
		"# TYPE statpulse_last_cycle_all_failed gauge",
		fmt.Sprintf("statpulse_last_cycle_all_failed %d", boolValue(snap.LastCycleAllFailed)),
		"# HELP statpulse_ready Whether the service considers itself ready (1=ready).",
		"# TYPE statpulse_ready gauge",
		fmt.Sprintf("statpulse_ready %d", readyValue),
		"# HELP statpulse_ready_info Reason associated with the most recent readiness evaluation.",
		"# TYPE statpulse_ready_info gauge",
		fmt.Sprintf("statpulse_ready_info{reason=%q} 1", reason),
		"# HELP statpulse_ready_transitions_total Count of readiness state transitions by resulting state.",
		"# TYPE statpulse_ready_transitions_total counter",
		fmt.Sprintf("statpulse_ready_transitions_total{state=%q} %d", "ready", snap.ReadyTransitions),
		fmt.Sprintf("statpulse_ready_transitions_total{state=%q} %d", "not_ready", snap.NotReadyTransitions),
		"# HELP statpulse_ready_categories_info Categories associated with the most recent readiness evaluation.",
		"# TYPE statpulse_ready_categories_info gauge",
	}
	if len(snap.ReadyCategories) == 0 {
		lines = append(lines, fmt.Sprintf("statpulse_ready_categories_info{category=%q,severity=%q} 1", "none", "none"))
	} else {
		cats := append([]ReadinessCategory(nil), snap.ReadyCategories...)
		sort.Slice(cats, func(i, j int) bool {
			if cats[i].Name == cats[j].Name {
				return cats[i].Severity < cats[j].Severity
			}
			return cats[i].Name < cats[j].Name
		})
		for _, cat := range cats {
			lines = append(lines, fmt.Sprintf("statpulse_ready_categories_info{category=%q,severity=%q} 1", cat.Name, cat.Severity))
		}
	}
	lines = append(lines, "")
	for _, line := range lines {
		if _, err := io.WriteString(w, line+"\n"); err != nil {
			return err
		}
	}
	return nil
}

func boolValue(b bool) int {
	if b {
		return 1
	}
	return 0
}

// NewHTTPHandler returns an http.Handler that serves Prometheus formatted metrics.
func NewHTTPHandler(store *Store) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet && r.Method != http.MethodHead {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		w.Header().Set("Content-Type", "text/plain; version=0.0.4")
		if r.Method == http.MethodHead {
			return
		}
		if err := store.WritePrometheus(w); err != nil {
			http.Error(w, "metrics unavailable", http.StatusInternalServerError)
		}
	})
}
