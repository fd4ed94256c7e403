package health

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/erenkahraman/statpulse/internal/metrics"
)

func TestCheckerReadyConditions(t *testing.T) {
	store := metrics.NewStore()
	checker := NewChecker(store, 30*time.Second)

	now := time.Unix(1000, 0).UTC()
	ready, reasons := checker.Ready(now)
	if ready {
		t.Fatalf("expected not ready before the first cycle")
	}
	if len(reasons) == 0 || reasons[0] != "no completed probe cycle yet" {
		t.Fatalf("unexpected reasons: %v", reasons)
	}
	snap := store.Snapshot()
	if snap.Ready {
		t.Fatalf("expected readiness gauge to be false")
	}
	if snap.ReadyTransitions != 0 || snap.NotReadyTransitions != 0 {
		t.Fatalf("expected readiness counters to remain zero initially, got %+v", snap)
	}
	if !containsCategoryWithSeverity(snap.ReadyCategories, categoryNoCycle, severityInfo) {
		t.Fatalf("expected NO_CYCLE category, got %+v", snap.ReadyCategories)
	}

	checker.ObserveCycle(now, false, nil)
	ready, _ = checker.Ready(now)
	if !ready {
		t.Fatalf("expected ready after a healthy cycle")
	}
	snap = store.Snapshot()
	if !snap.Ready || snap.ReadyTransitions != 1 {
		t.Fatalf("expected transition to ready, got %+v", snap)
	}
	if len(snap.ReadyCategories) != 0 {
		t.Fatalf("expected no categories when healthy, got %+v", snap.ReadyCategories)
	}

	// Advance past the stale window without a newer cycle.
	staleNow := now.Add(time.Minute)
	ready, reasons = checker.Ready(staleNow)
	if ready {
		t.Fatalf("expected not ready when cycles go stale")
	}
	if !strings.Contains(reasons[0], "probe cycle stale") {
		t.Fatalf("unexpected reasons: %v", reasons)
	}
	snap = store.Snapshot()
	if snap.NotReadyTransitions != 1 {
		t.Fatalf("expected degradation to count, got %+v", snap)
	}
	if !containsCategoryWithSeverity(snap.ReadyCategories, categoryCycleStale, severityWarning) {
		t.Fatalf("expected CYCLE_STALE category, got %+v", snap.ReadyCategories)
	}

	// A fresh cycle where every endpoint failed stays not ready.
	checker.ObserveCycle(staleNow, true, nil)
	ready, reasons = checker.Ready(staleNow)
	if ready {
		t.Fatalf("expected not ready during a total outage")
	}
	if reasons[0] != "every endpoint failed in the last cycle" {
		t.Fatalf("unexpected reasons: %v", reasons)
	}
	snap = store.Snapshot()
	if !containsCategoryWithSeverity(snap.ReadyCategories, categoryTotalOutage, severityCritical) {
		t.Fatalf("expected TOTAL_OUTAGE category, got %+v", snap.ReadyCategories)
	}

	// Recovery with a healthy cycle clears the outage.
	recovery := staleNow.Add(2 * time.Second)
	checker.ObserveCycle(recovery, false, nil)
	ready, _ = checker.Ready(recovery)
	if !ready {
		t.Fatalf("expected ready after recovery")
	}
	snap = store.Snapshot()
	if snap.ReadyTransitions != 2 || snap.NotReadyTransitions != 1 {
		t.Fatalf("expected counters after recovery to be (2,1), got %+v", snap)
	}
}

func TestCheckerPersistFailure(t *testing.T) {
	store := metrics.NewStore()
	checker := NewChecker(store, 0)
	ref := time.Unix(2000, 0).UTC()

	checker.ObserveCycle(ref, false, errors.New("commit health log: disk full"))
	ready, reasons := checker.Ready(ref)
	if ready {
		t.Fatalf("expected not ready while persistence fails")
	}
	if reasons[len(reasons)-1] != "health log persistence failing: commit health log: disk full" {
		t.Fatalf("unexpected reasons: %v", reasons)
	}
	snap := store.Snapshot()
	if !containsCategoryWithSeverity(snap.ReadyCategories, categoryPersistFailing, severityCritical) {
		t.Fatalf("expected PERSIST_FAILING category, got %+v", snap.ReadyCategories)
	}

	checker.ObserveCycle(ref.Add(time.Second), false, nil)
	ready, _ = checker.Ready(ref.Add(time.Second))
	if !ready {
		t.Fatalf("expected ready once persistence recovers")
	}
}

func containsCategoryWithSeverity(categories []metrics.ReadinessCategory, name, severity string) bool {
	for _, c := range categories {
		if c.Name == name && c.Severity == severity {
			return true
		}
	}
	return false
}
