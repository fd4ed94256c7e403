package runner

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/erenkahraman/statpulse/internal/anomaly"
	"github.com/erenkahraman/statpulse/internal/events"
	"github.com/erenkahraman/statpulse/internal/metrics"
	"github.com/erenkahraman/statpulse/internal/registry"
	"github.com/erenkahraman/statpulse/pkg/types"
)

// ErrPersist marks a cycle whose probes all ran but whose log write failed.
// Callers branch on it: the probe data exists, only the record of it is at
// risk.
var ErrPersist = errors.New("health log persist failed")

// EndpointSource yields the probe set for a cycle.
type EndpointSource interface {
	Endpoints(ctx context.Context) ([]registry.Endpoint, error)
}

// Prober executes one bounded endpoint check.
type Prober interface {
	Check(ctx context.Context, target registry.Endpoint) types.ProbeResult
}

// HealthLog persists the probe history.
type HealthLog interface {
	Load() ([]types.ProbeResult, error)
	Save(entries []types.ProbeResult) (int, error)
}

// Config holds the static configuration for a Runner.
type Config struct {
	// PaceProbesPerSec spaces out probe starts within a cycle. Zero disables
	// pacing; probes still run strictly one at a time either way.
	PaceProbesPerSec float64
}

// Dependencies wire a Runner to its collaborators.
type Dependencies struct {
	Source   EndpointSource
	Prober   Prober
	Detector *anomaly.Detector
	Log      HealthLog
	Metrics  metrics.CycleRecorder
	Events   events.Recorder
	Logger   *log.Logger
	Now      func() time.Time
}

// Runner drives one probe cycle: probe every endpoint in registry order,
// judge latencies against the history loaded before any of this cycle's
// entries are appended, then commit the capped log in one atomic write.
type Runner struct {
	source   EndpointSource
	prober   Prober
	detector *anomaly.Detector
	log      HealthLog
	metrics  metrics.CycleRecorder
	events   events.Recorder
	logger   *log.Logger
	now      func() time.Time
	limiter  *rate.Limiter
}

// Summary reports what one cycle did.
type Summary struct {
	CycleID   string
	StartedAt time.Time
	Duration  time.Duration
	Results   []types.ProbeResult
	Succeeded int
	Failed    int
	Warnings  int
	Criticals int
	Evicted   int
	LogSize   int
}

// ExitCode derives the process status for a completed cycle. Partial outages
// exit zero; only a cycle in which no endpoint succeeded exits nonzero.
func (s Summary) ExitCode() int {
	if s.Succeeded == 0 {
		return 1
	}
	return 0
}

// New builds a Runner from configuration and dependencies.
func New(cfg Config, deps Dependencies) (*Runner, error) {
	if deps.Source == nil {
		return nil, errors.New("endpoint source is required")
	}
	if deps.Prober == nil {
		return nil, errors.New("prober is required")
	}
	if deps.Detector == nil {
		return nil, errors.New("anomaly detector is required")
	}
	if deps.Log == nil {
		return nil, errors.New("health log is required")
	}
	metricsRec := deps.Metrics
	if metricsRec == nil {
		metricsRec = metrics.NoopCycleRecorder{}
	}
	eventsRec := deps.Events
	if eventsRec == nil {
		eventsRec = events.NoopRecorder{}
	}
	logger := deps.Logger
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	now := deps.Now
	if now == nil {
		now = time.Now
	}
	limiter := rate.NewLimiter(rate.Inf, 0)
	if cfg.PaceProbesPerSec > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.PaceProbesPerSec), 1)
	}
	return &Runner{
		source:   deps.Source,
		prober:   deps.Prober,
		detector: deps.Detector,
		log:      deps.Log,
		metrics:  metricsRec,
		events:   eventsRec,
		logger:   logger,
		now:      now,
		limiter:  limiter,
	}, nil
}

// Cycle runs one complete probe pass. Probe failures are data, not errors;
// an error return means the cycle itself could not complete, which includes
// failing to persist the log.
func (r *Runner) Cycle(ctx context.Context) (Summary, error) {
	started := r.now()
	summary := Summary{
		CycleID:   uuid.NewString(),
		StartedAt: started.UTC(),
	}

	endpoints, err := r.source.Endpoints(ctx)
	if err != nil {
		return summary, fmt.Errorf("resolve endpoint registry: %w", err)
	}
	r.logger.Printf("cycle %s: probing %d endpoints", summary.CycleID, len(endpoints))

	results := make([]types.ProbeResult, 0, len(endpoints))
	for _, endpoint := range endpoints {
		if err := r.limiter.Wait(ctx); err != nil {
			return summary, fmt.Errorf("cycle interrupted: %w", err)
		}
		result := r.prober.Check(ctx, endpoint)
		r.logProbe(result)
		results = append(results, result)
	}

	// The baseline is the log as it stood before this cycle; entries from
	// this pass never judge each other.
	prior, err := r.log.Load()
	if err != nil {
		return summary, err
	}

	evalAt := r.now().UTC()
	for i := range results {
		verdict := r.detector.Evaluate(results[i].Endpoint, results[i].ResponseTimeMs, prior)
		results[i].Anomaly = verdict
		if verdict.Detected {
			switch verdict.Severity {
			case types.SeverityCritical:
				summary.Criticals++
			default:
				summary.Warnings++
			}
			r.events.Record(types.Event{
				Type:      types.EventAnomalyDetected,
				Timestamp: evalAt,
				Endpoint:  results[i].Endpoint,
				Details: map[string]any{
					"severity":        string(verdict.Severity),
					"deviationFactor": verdict.DeviationFactor,
					"rollingAvgMs":    verdict.RollingAvgMs,
				},
			})
		}
		if results[i].OK {
			summary.Succeeded++
		} else {
			summary.Failed++
			r.events.Record(types.Event{
				Type:      types.EventEndpointDown,
				Timestamp: evalAt,
				Endpoint:  results[i].Endpoint,
				Details:   downDetails(results[i]),
			})
		}
	}
	summary.Results = results

	if len(results) > 0 && summary.Succeeded == 0 {
		r.events.Record(types.Event{
			Type:      types.EventTotalOutage,
			Timestamp: evalAt,
			Details:   map[string]any{"endpoints": len(results)},
		})
	}

	merged := append(prior, results...)
	evicted, saveErr := r.log.Save(merged)
	summary.Evicted = evicted
	summary.LogSize = len(merged) - evicted
	summary.Duration = r.now().Sub(started)

	r.metrics.ObserveCycle(metrics.CycleStats{
		Probed:      len(results),
		Up:          summary.Succeeded,
		Warnings:    summary.Warnings,
		Criticals:   summary.Criticals,
		LogEntries:  summary.LogSize,
		Evicted:     evicted,
		Duration:    summary.Duration,
		CompletedAt: r.now().UTC(),
		PersistOK:   saveErr == nil,
	})

	if saveErr != nil {
		r.events.Record(types.Event{
			Type:      types.EventPersistFailed,
			Timestamp: r.now().UTC(),
			Details:   map[string]any{"error": saveErr.Error()},
		})
		return summary, fmt.Errorf("%w: %w", ErrPersist, saveErr)
	}

	if evicted > 0 {
		r.events.Record(types.Event{
			Type:      types.EventLogEvicted,
			Timestamp: r.now().UTC(),
			Details:   map[string]any{"evicted": evicted},
		})
	}

	r.logger.Printf("cycle %s: %d/%d up, %d warnings, %d criticals, log %d entries (%d evicted) in %s",
		summary.CycleID, summary.Succeeded, len(results), summary.Warnings, summary.Criticals,
		summary.LogSize, evicted, summary.Duration.Round(time.Millisecond))
	return summary, nil
}

func (r *Runner) logProbe(result types.ProbeResult) {
	if result.Error != nil {
		r.logger.Printf("probe %s: failed: %s", result.Endpoint, *result.Error)
		return
	}
	var status int
	if result.Status != nil {
		status = *result.Status
	}
	var latency int64
	if result.ResponseTimeMs != nil {
		latency = *result.ResponseTimeMs
	}
	r.logger.Printf("probe %s: status=%d ok=%t latency=%dms", result.Endpoint, status, result.OK, latency)
}

func downDetails(result types.ProbeResult) map[string]any {
	details := make(map[string]any, 2)
	if result.Status != nil {
		details["status"] = *result.Status
	}
	if result.Error != nil {
		details["error"] = *result.Error
	}
	return details
}
