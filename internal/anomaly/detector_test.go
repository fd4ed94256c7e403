package anomaly

import (
	"testing"
	"time"

	"github.com/erenkahraman/statpulse/pkg/types"
)

func entry(endpoint string, latencyMs int64) types.ProbeResult {
	return types.ProbeResult{
		Endpoint:       endpoint,
		Timestamp:      time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
		ResponseTimeMs: &latencyMs,
		OK:             true,
	}
}

func failedEntry(endpoint string) types.ProbeResult {
	msg := "request timed out after 15000ms"
	return types.ProbeResult{
		Endpoint:  endpoint,
		Timestamp: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
		Error:     &msg,
	}
}

func steadyHistory(endpoint string, n int, latencyMs int64) []types.ProbeResult {
	history := make([]types.ProbeResult, 0, n)
	for i := 0; i < n; i++ {
		history = append(history, entry(endpoint, latencyMs))
	}
	return history
}

func TestEvaluateCriticalSpike(t *testing.T) {
	detector := New(Config{})
	current := int64(350)

	verdict := detector.Evaluate("api", &current, steadyHistory("api", 10, 100))

	if !verdict.Detected {
		t.Fatalf("expected detection for 3.5x spike")
	}
	if verdict.RollingAvgMs != 100 {
		t.Fatalf("expected rolling average 100, got %d", verdict.RollingAvgMs)
	}
	if verdict.DeviationFactor != 3.5 {
		t.Fatalf("expected factor 3.5, got %v", verdict.DeviationFactor)
	}
	if verdict.Severity != types.SeverityCritical {
		t.Fatalf("expected critical severity, got %q", verdict.Severity)
	}
}

func TestEvaluateWarningSpike(t *testing.T) {
	detector := New(Config{})
	current := int64(250)

	verdict := detector.Evaluate("api", &current, steadyHistory("api", 10, 100))

	if !verdict.Detected || verdict.Severity != types.SeverityWarning {
		t.Fatalf("expected warning for 2.5x spike, got %+v", verdict)
	}
	if verdict.DeviationFactor != 2.5 {
		t.Fatalf("expected factor 2.5, got %v", verdict.DeviationFactor)
	}
}

func TestEvaluateThresholdBoundaries(t *testing.T) {
	detector := New(Config{})
	history := steadyHistory("api", 10, 100)

	cases := []struct {
		currentMs int64
		detected  bool
		severity  types.Severity
	}{
		{199, false, ""},
		{200, true, types.SeverityWarning},
		{299, true, types.SeverityWarning},
		{300, true, types.SeverityCritical},
	}
	for _, tc := range cases {
		current := tc.currentMs
		verdict := detector.Evaluate("api", &current, history)
		if verdict.Detected != tc.detected || verdict.Severity != tc.severity {
			t.Fatalf("current=%d: got %+v, want detected=%v severity=%q",
				tc.currentMs, verdict, tc.detected, tc.severity)
		}
	}
}

func TestEvaluateSkipsUnmeasuredProbe(t *testing.T) {
	detector := New(Config{})

	verdict := detector.Evaluate("api", nil, steadyHistory("api", 10, 100))

	if verdict.Detected {
		t.Fatalf("an unmeasured probe must not be judged")
	}
	if verdict.RollingAvgMs != 0 || verdict.DeviationFactor != 0 || verdict.Severity != "" {
		t.Fatalf("clean verdict must carry no measurements, got %+v", verdict)
	}
}

func TestEvaluateRequiresMinimumSamples(t *testing.T) {
	detector := New(Config{})
	current := int64(900)

	verdict := detector.Evaluate("api", &current, steadyHistory("api", 4, 100))

	if verdict.Detected {
		t.Fatalf("4 samples must not produce a verdict")
	}

	verdict = detector.Evaluate("api", &current, steadyHistory("api", 5, 100))
	if !verdict.Detected {
		t.Fatalf("5 samples should produce a verdict")
	}
}

func TestEvaluateFiltersByEndpointAndFailures(t *testing.T) {
	detector := New(Config{})
	var history []types.ProbeResult
	for i := 0; i < 6; i++ {
		history = append(history, entry("api", 100))
		history = append(history, entry("cdn", 900))
		history = append(history, failedEntry("api"))
	}

	current := int64(350)
	verdict := detector.Evaluate("api", &current, history)

	if !verdict.Detected {
		t.Fatalf("expected detection against api's own baseline")
	}
	if verdict.RollingAvgMs != 100 {
		t.Fatalf("foreign endpoints or failures leaked into the baseline: avg %d", verdict.RollingAvgMs)
	}
}

func TestEvaluateUsesOnlyMostRecentWindow(t *testing.T) {
	detector := New(Config{Window: 10, MinSamples: 5})
	history := steadyHistory("api", 10, 1000)
	history = append(history, steadyHistory("api", 10, 100)...)

	current := int64(350)
	verdict := detector.Evaluate("api", &current, history)

	if !verdict.Detected || verdict.RollingAvgMs != 100 {
		t.Fatalf("old samples beyond the window must be ignored, got %+v", verdict)
	}
}

func TestEvaluateZeroBaseline(t *testing.T) {
	detector := New(Config{})
	current := int64(50)

	verdict := detector.Evaluate("api", &current, steadyHistory("api", 10, 0))

	if verdict.Detected {
		t.Fatalf("a zero baseline must suppress judgment")
	}
}

func TestEvaluateRoundsFactorToTwoDecimals(t *testing.T) {
	detector := New(Config{})
	history := steadyHistory("api", 10, 300)
	current := int64(1000)

	verdict := detector.Evaluate("api", &current, history)

	if !verdict.Detected {
		t.Fatalf("expected detection for 3.33x spike")
	}
	if verdict.DeviationFactor != 3.33 {
		t.Fatalf("expected factor 3.33, got %v", verdict.DeviationFactor)
	}
}

func TestRollingAverageRoundsToInteger(t *testing.T) {
	history := []types.ProbeResult{
		entry("api", 100),
		entry("api", 101),
	}
	avg, samples := RollingAverage("api", history, 10)
	if samples != 2 {
		t.Fatalf("expected 2 samples, got %d", samples)
	}
	if avg != 101 {
		t.Fatalf("expected 100.5 to round to 101, got %d", avg)
	}
}
