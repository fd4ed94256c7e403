package types

import "time"

// Severity grades how far a latency sample sits above its rolling baseline.
type Severity string

const (
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

// Metric carries the single extra value extracted from a response body.
// Value is null when the probe failed or extraction was not possible.
type Metric struct {
	Label string   `json:"label"`
	Value *float64 `json:"value"`
}

// AnomalyVerdict is the latency judgment attached to every log entry. The
// measurement fields are only populated when Detected is true.
type AnomalyVerdict struct {
	Detected        bool     `json:"detected"`
	RollingAvgMs    int64    `json:"rollingAvgMs,omitempty"`
	DeviationFactor float64  `json:"deviationFactor,omitempty"`
	Severity        Severity `json:"severity,omitempty"`
}

// ProbeResult is one persisted health-log entry. Pointer fields serialize as
// JSON null when the underlying measurement never happened: a transport
// failure yields no status, latency, size, or metric value, and a successful
// exchange yields no error.
type ProbeResult struct {
	Endpoint         string         `json:"endpoint"`
	URL              string         `json:"url"`
	Timestamp        time.Time      `json:"timestamp"`
	Status           *int           `json:"status"`
	OK               bool           `json:"ok"`
	ResponseTimeMs   *int64         `json:"responseTimeMs"`
	ContentTypeValid bool           `json:"contentTypeValid"`
	ResponseSizeKB   *float64       `json:"responseSizeKB"`
	ExtraMetric      Metric         `json:"extraMetric"`
	Anomaly          AnomalyVerdict `json:"anomaly"`
	Error            *string        `json:"error"`
}
