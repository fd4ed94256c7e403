package anomaly

import (
	"math"

	"github.com/erenkahraman/statpulse/pkg/types"
)

const (
	DefaultWindow         = 10
	DefaultMinSamples     = 5
	DefaultWarnFactor     = 2.0
	DefaultCriticalFactor = 3.0
)

// Config tunes the rolling latency baseline.
type Config struct {
	Window         int
	MinSamples     int
	WarnFactor     float64
	CriticalFactor float64
}

// Detector judges a latency sample against the endpoint's own recent history.
// It is pure: the caller supplies the history snapshot, so repeated calls
// within one cycle all see the same baseline.
type Detector struct {
	window         int
	minSamples     int
	warnFactor     float64
	criticalFactor float64
}

// New builds a Detector, substituting defaults for unset tuning values.
func New(cfg Config) *Detector {
	window := cfg.Window
	if window <= 0 {
		window = DefaultWindow
	}
	minSamples := cfg.MinSamples
	if minSamples <= 0 {
		minSamples = DefaultMinSamples
	}
	warnFactor := cfg.WarnFactor
	if warnFactor <= 0 {
		warnFactor = DefaultWarnFactor
	}
	criticalFactor := cfg.CriticalFactor
	if criticalFactor <= 0 {
		criticalFactor = DefaultCriticalFactor
	}
	return &Detector{
		window:         window,
		minSamples:     minSamples,
		warnFactor:     warnFactor,
		criticalFactor: criticalFactor,
	}
}

// Evaluate returns the verdict for a latency measurement. Probes that never
// measured a latency, endpoints with too little history, and a zero baseline
// all yield a clean verdict rather than a guess.
func (d *Detector) Evaluate(endpoint string, currentMs *int64, history []types.ProbeResult) types.AnomalyVerdict {
	if currentMs == nil {
		return types.AnomalyVerdict{}
	}
	avg, samples := RollingAverage(endpoint, history, d.window)
	if samples < d.minSamples || avg == 0 {
		return types.AnomalyVerdict{}
	}

	factor := math.Round(float64(*currentMs)/float64(avg)*100) / 100
	verdict := types.AnomalyVerdict{
		RollingAvgMs:    avg,
		DeviationFactor: factor,
	}
	switch {
	case factor >= d.criticalFactor:
		verdict.Detected = true
		verdict.Severity = types.SeverityCritical
	case factor >= d.warnFactor:
		verdict.Detected = true
		verdict.Severity = types.SeverityWarning
	default:
		return types.AnomalyVerdict{}
	}
	return verdict
}

// RollingAverage computes the integer-rounded mean over the endpoint's most
// recent measured latencies, at most window samples, and reports how many
// samples went into it. Entries without a measured latency are skipped, so
// timeouts and transport failures never drag the baseline.
func RollingAverage(endpoint string, history []types.ProbeResult, window int) (int64, int) {
	if window <= 0 {
		window = DefaultWindow
	}
	var sum int64
	var count int
	for i := len(history) - 1; i >= 0 && count < window; i-- {
		entry := history[i]
		if entry.Endpoint != endpoint || entry.ResponseTimeMs == nil {
			continue
		}
		sum += *entry.ResponseTimeMs
		count++
	}
	if count == 0 {
		return 0, 0
	}
	return int64(math.Round(float64(sum) / float64(count))), count
}
