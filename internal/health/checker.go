package health

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/erenkahraman/statpulse/internal/metrics"
)

const defaultCycleStale = 5 * time.Minute

const (
	categoryNoCycle        = "NO_CYCLE"
	categoryCycleStale     = "CYCLE_STALE"
	categoryTotalOutage    = "TOTAL_OUTAGE"
	categoryPersistFailing = "PERSIST_FAILING"
)

const (
	severityInfo     = "info"
	severityWarning  = "warning"
	severityCritical = "critical"
)

// Checker evaluates readiness conditions for the watch daemon.
type Checker struct {
	metrics    *metrics.Store
	staleAfter time.Duration

	mu               sync.RWMutex
	lastCycleEnd     time.Time
	lastCycleOutage  bool
	persistErr       string
	lastPersistError time.Time
}

// NewChecker constructs a readiness checker bound to the provided metrics store.
func NewChecker(store *metrics.Store, staleAfter time.Duration) *Checker {
	if staleAfter <= 0 {
		staleAfter = defaultCycleStale
	}
	return &Checker{
		metrics:    store,
		staleAfter: staleAfter,
	}
}

// ObserveCycle records the outcome of a probe cycle.
func (c *Checker) ObserveCycle(end time.Time, allFailed bool, persistErr error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lastCycleEnd = end
	c.lastCycleOutage = allFailed
	if persistErr != nil {
		c.persistErr = persistErr.Error()
		c.lastPersistError = end
		return
	}
	c.persistErr = ""
	c.lastPersistError = time.Time{}
}

// Ready evaluates all readiness conditions and returns the overall status and
// reasons for failure.
func (c *Checker) Ready(now time.Time) (bool, []string) {
	reasons := make([]string, 0, 4)
	categories := make([]metrics.ReadinessCategory, 0, 4)
	appendCategory := func(name, severity string) {
		categories = append(categories, metrics.ReadinessCategory{
			Name:     name,
			Severity: severity,
		})
	}

	c.mu.RLock()
	lastCycle := c.lastCycleEnd
	outage := c.lastCycleOutage
	persistErr := c.persistErr
	staleAfter := c.staleAfter
	c.mu.RUnlock()

	if lastCycle.IsZero() {
		reasons = append(reasons, "no completed probe cycle yet")
		appendCategory(categoryNoCycle, severityInfo)
	} else if staleAfter > 0 && now.Sub(lastCycle) > staleAfter {
		reasons = append(reasons, fmt.Sprintf("probe cycle stale (%s)", now.Sub(lastCycle).Round(time.Second)))
		appendCategory(categoryCycleStale, severityWarning)
	}

	if outage {
		reasons = append(reasons, "every endpoint failed in the last cycle")
		appendCategory(categoryTotalOutage, severityCritical)
	}

	if persistErr != "" {
		reasons = append(reasons, fmt.Sprintf("health log persistence failing: %s", persistErr))
		appendCategory(categoryPersistFailing, severityCritical)
	}

	ready := len(reasons) == 0
	if c.metrics != nil {
		if ready {
			c.metrics.ObserveReadiness(true, "", nil)
		} else {
			c.metrics.ObserveReadiness(false, strings.Join(reasons, "; "), categories)
		}
	}
	if !ready {
		return false, reasons
	}
	return true, nil
}
