package types

import (
	"encoding/json"
	"reflect"
	"testing"
	"time"
)

func TestProbeResultRoundTrip(t *testing.T) {
	status := 200
	latency := int64(412)
	sizeKB := 18.42
	value := 97.0
	entry := ProbeResult{
		Endpoint:         "SDMX Global Registry",
		URL:              "https://registry.sdmx.org/ws/rest/dataflow/all/all/latest",
		Timestamp:        time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
		Status:           &status,
		OK:               true,
		ResponseTimeMs:   &latency,
		ContentTypeValid: true,
		ResponseSizeKB:   &sizeKB,
		ExtraMetric:      Metric{Label: "dataflows", Value: &value},
		Anomaly: AnomalyVerdict{
			Detected:        true,
			RollingAvgMs:    120,
			DeviationFactor: 3.43,
			Severity:        SeverityCritical,
		},
	}

	data, err := json.Marshal(entry)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var decoded ProbeResult
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if !reflect.DeepEqual(entry, decoded) {
		t.Fatalf("round trip mismatch:\n got %+v\nwant %+v", decoded, entry)
	}
}

func TestFailedProbeSerializesNullMeasurements(t *testing.T) {
	msg := "request timed out after 15000ms"
	entry := ProbeResult{
		Endpoint:    "UNICEF SDMX API",
		URL:         "https://sdmx.data.unicef.org/ws/rest/dataflow",
		Timestamp:   time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
		ExtraMetric: Metric{Label: "dataflows"},
		Error:       &msg,
	}

	data, err := json.Marshal(entry)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var doc map[string]any
	if err := json.Unmarshal(data, &doc); err != nil {
		t.Fatalf("unmarshal into map: %v", err)
	}

	for _, key := range []string{"status", "responseTimeMs", "responseSizeKB"} {
		val, present := doc[key]
		if !present {
			t.Fatalf("expected %q key to be present", key)
		}
		if val != nil {
			t.Fatalf("expected %q to be null, got %v", key, val)
		}
	}
	metric, ok := doc["extraMetric"].(map[string]any)
	if !ok {
		t.Fatalf("expected extraMetric object, got %v", doc["extraMetric"])
	}
	if metric["value"] != nil {
		t.Fatalf("expected extraMetric.value to be null, got %v", metric["value"])
	}
	if doc["error"] != msg {
		t.Fatalf("expected error %q, got %v", msg, doc["error"])
	}
}

func TestAnomalyVerdictOmitsMeasurementsWhenClean(t *testing.T) {
	data, err := json.Marshal(AnomalyVerdict{})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var doc map[string]any
	if err := json.Unmarshal(data, &doc); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if len(doc) != 1 {
		t.Fatalf("expected only the detected key, got %v", doc)
	}
	if doc["detected"] != false {
		t.Fatalf("expected detected=false, got %v", doc["detected"])
	}

	data, err = json.Marshal(AnomalyVerdict{
		Detected:        true,
		RollingAvgMs:    150,
		DeviationFactor: 2.31,
		Severity:        SeverityWarning,
	})
	if err != nil {
		t.Fatalf("marshal detected verdict: %v", err)
	}
	doc = nil
	if err := json.Unmarshal(data, &doc); err != nil {
		t.Fatalf("unmarshal detected verdict: %v", err)
	}
	for _, key := range []string{"detected", "rollingAvgMs", "deviationFactor", "severity"} {
		if _, present := doc[key]; !present {
			t.Fatalf("expected %q key on detected verdict, got %v", key, doc)
		}
	}
	if doc["severity"] != "warning" {
		t.Fatalf("expected warning severity, got %v", doc["severity"])
	}
}
