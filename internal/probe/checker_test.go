package probe

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/erenkahraman/statpulse/internal/extract"
	"github.com/erenkahraman/statpulse/internal/registry"
)

const dataflowBody = `<?xml version="1.0"?>
<Structure>
  <Dataflow id="DF_A"/>
  <Dataflow id="DF_B"/>
</Structure>`

func xpathTarget(t *testing.T, name, url string) registry.Endpoint {
	t.Helper()
	fn, err := extract.Compile(extract.KindXPathCount, "//Dataflow")
	if err != nil {
		t.Fatalf("compile extractor: %v", err)
	}
	return registry.Endpoint{Name: name, URL: url, MetricLabel: "dataflows", Extract: fn}
}

func TestCheckSuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			t.Errorf("expected GET, got %s", r.Method)
		}
		w.Header().Set("Content-Type", "application/vnd.sdmx.structure+xml;version=2.1")
		w.Write([]byte(dataflowBody))
	}))
	defer srv.Close()

	checker := New(Config{}, Dependencies{HTTPClient: srv.Client()})
	result := checker.Check(context.Background(), xpathTarget(t, "Test Registry", srv.URL))

	if result.Error != nil {
		t.Fatalf("unexpected error: %s", *result.Error)
	}
	if result.Status == nil || *result.Status != http.StatusOK {
		t.Fatalf("expected status 200, got %v", result.Status)
	}
	if !result.OK {
		t.Fatalf("expected ok for 200 response")
	}
	if !result.ContentTypeValid {
		t.Fatalf("expected sdmx+xml content type to be valid")
	}
	if result.ResponseTimeMs == nil || *result.ResponseTimeMs < 0 {
		t.Fatalf("expected measured latency, got %v", result.ResponseTimeMs)
	}
	wantKB := round2(float64(len(dataflowBody)) / 1024)
	if result.ResponseSizeKB == nil || *result.ResponseSizeKB != wantKB {
		t.Fatalf("expected %v KB, got %v", wantKB, result.ResponseSizeKB)
	}
	if result.ExtraMetric.Label != "dataflows" {
		t.Fatalf("expected metric label to carry through, got %q", result.ExtraMetric.Label)
	}
	if result.ExtraMetric.Value == nil || *result.ExtraMetric.Value != 2 {
		t.Fatalf("expected 2 dataflows, got %v", result.ExtraMetric.Value)
	}
	if result.Anomaly.Detected {
		t.Fatalf("probe must not judge anomalies")
	}
	if result.Timestamp.Location() != time.UTC {
		t.Fatalf("expected UTC timestamp, got %v", result.Timestamp.Location())
	}
}

func TestCheckNon2xxIsFailedButMeasured(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		w.WriteHeader(http.StatusServiceUnavailable)
		w.Write([]byte("<html>maintenance</html>"))
	}))
	defer srv.Close()

	checker := New(Config{}, Dependencies{HTTPClient: srv.Client()})
	result := checker.Check(context.Background(), xpathTarget(t, "Down Registry", srv.URL))

	if result.Error != nil {
		t.Fatalf("http error responses are not transport failures, got %s", *result.Error)
	}
	if result.Status == nil || *result.Status != http.StatusServiceUnavailable {
		t.Fatalf("expected status 503, got %v", result.Status)
	}
	if result.OK {
		t.Fatalf("expected ok=false for 503")
	}
	if result.ContentTypeValid {
		t.Fatalf("expected text/html to be flagged invalid")
	}
	if result.ResponseTimeMs == nil || result.ResponseSizeKB == nil {
		t.Fatalf("expected measurements for a completed response")
	}
}

func TestCheckTimeout(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-release
	}))
	defer srv.Close()
	defer close(release)

	checker := New(Config{Timeout: 50 * time.Millisecond}, Dependencies{HTTPClient: srv.Client()})
	result := checker.Check(context.Background(), xpathTarget(t, "Slow Registry", srv.URL))

	if result.Error == nil {
		t.Fatalf("expected timeout error")
	}
	if *result.Error != "request timed out after 50ms" {
		t.Fatalf("unexpected timeout message: %s", *result.Error)
	}
	if result.Status != nil || result.ResponseTimeMs != nil || result.ResponseSizeKB != nil {
		t.Fatalf("timed out probes must not report measurements: %+v", result)
	}
	if result.ExtraMetric.Value != nil {
		t.Fatalf("timed out probes must not report metric values")
	}
}

func TestCheckConnectionFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := srv.URL
	srv.Close()

	checker := New(Config{Timeout: time.Second}, Dependencies{})
	result := checker.Check(context.Background(), xpathTarget(t, "Gone Registry", url))

	if result.Error == nil || *result.Error == "" {
		t.Fatalf("expected transport failure description")
	}
	if result.Status != nil || result.ResponseTimeMs != nil {
		t.Fatalf("failed probes must not report measurements")
	}
	if !result.Timestamp.After(time.Time{}) {
		t.Fatalf("expected timestamp even for failures")
	}
}

func TestCheckExtractionFailureLeavesValueNull(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/xml")
		w.Write([]byte("<not-json/>"))
	}))
	defer srv.Close()

	fn, err := extract.Compile(extract.KindJSONLength, "")
	if err != nil {
		t.Fatalf("compile extractor: %v", err)
	}
	target := registry.Endpoint{Name: "Mismatched", URL: srv.URL, MetricLabel: "rows", Extract: fn}

	checker := New(Config{}, Dependencies{HTTPClient: srv.Client()})
	result := checker.Check(context.Background(), target)

	if result.Error != nil {
		t.Fatalf("extraction failure must not fail the probe, got %s", *result.Error)
	}
	if !result.OK {
		t.Fatalf("expected ok result")
	}
	if result.ExtraMetric.Value != nil {
		t.Fatalf("expected null metric value after extraction failure, got %v", *result.ExtraMetric.Value)
	}
	if result.ExtraMetric.Label != "rows" {
		t.Fatalf("expected label to survive extraction failure")
	}
}

func TestValidContentType(t *testing.T) {
	cases := []struct {
		contentType string
		want        bool
	}{
		{"application/xml", true},
		{"text/xml; charset=utf-8", true},
		{"application/vnd.sdmx.genericdata+xml;version=2.1", true},
		{"application/vnd.sdmx-json", true},
		{"text/html", false},
		{"application/json", false},
		{"", false},
	}
	for _, tc := range cases {
		if got := validContentType(tc.contentType); got != tc.want {
			t.Fatalf("validContentType(%q) = %v, want %v", tc.contentType, got, tc.want)
		}
	}
}
