package probe

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"math"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/erenkahraman/statpulse/internal/registry"
	"github.com/erenkahraman/statpulse/internal/runner"
	"github.com/erenkahraman/statpulse/pkg/types"
)

const (
	DefaultTimeout   = 15 * time.Second
	defaultUserAgent = "statpulse/0.1.0"
)

// Config holds the static configuration for a Checker.
type Config struct {
	Timeout   time.Duration
	UserAgent string
}

// Dependencies allow test overrides for HTTP client, clock, and logging.
type Dependencies struct {
	HTTPClient *http.Client
	Now        func() time.Time
	Logger     *log.Logger
}

// Checker performs single bounded GET probes. Each probe gets its own
// deadline derived from the caller's context, so one slow endpoint never
// shortens the budget of the next.
type Checker struct {
	timeout   time.Duration
	userAgent string
	client    *http.Client
	now       func() time.Time
	logger    *log.Logger
}

// New builds a Checker from configuration and dependencies.
func New(cfg Config, deps Dependencies) *Checker {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	userAgent := cfg.UserAgent
	if userAgent == "" {
		userAgent = defaultUserAgent
	}
	client := deps.HTTPClient
	if client == nil {
		client = &http.Client{}
	}
	now := deps.Now
	if now == nil {
		now = time.Now
	}
	logger := deps.Logger
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	return &Checker{
		timeout:   timeout,
		userAgent: userAgent,
		client:    client,
		now:       now,
		logger:    logger,
	}
}

// Check probes one endpoint and always returns a result: transport failures
// are captured in the entry, never surfaced as an error. Measurement fields
// stay nil unless a complete response was read.
func (c *Checker) Check(ctx context.Context, target registry.Endpoint) types.ProbeResult {
	started := c.now()
	result := types.ProbeResult{
		Endpoint:    target.Name,
		URL:         target.URL,
		Timestamp:   started.UTC(),
		ExtraMetric: types.Metric{Label: target.MetricLabel},
	}

	reqCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, target.URL, nil)
	if err != nil {
		result.Error = strPtr(fmt.Sprintf("build request: %v", err))
		return result
	}
	req.Header.Set("Accept", "application/xml, text/xml;q=0.9, */*;q=0.8")
	req.Header.Set("User-Agent", c.userAgent)

	resp, err := c.client.Do(req)
	if err != nil {
		return c.failed(result, target, started, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return c.failed(result, target, started, err)
	}

	elapsedMs := c.now().Sub(started).Milliseconds()
	status := resp.StatusCode
	sizeKB := round2(float64(len(body)) / 1024)

	result.Status = &status
	result.OK = status >= 200 && status <= 299
	result.ResponseTimeMs = &elapsedMs
	result.ContentTypeValid = validContentType(resp.Header.Get("Content-Type"))
	result.ResponseSizeKB = &sizeKB

	if target.Extract != nil {
		value, err := target.Extract(body)
		if err != nil {
			c.logger.Printf("probe %s: metric %q extraction failed: %v", target.Name, target.MetricLabel, err)
		} else {
			result.ExtraMetric.Value = &value
		}
	}
	return result
}

// failed finalizes a result for a request that never produced a complete
// response. The elapsed time is logged for operators; the entry itself
// carries no latency, so failures never enter the rolling baseline.
func (c *Checker) failed(result types.ProbeResult, target registry.Endpoint, started time.Time, err error) types.ProbeResult {
	elapsed := c.now().Sub(started)
	result.Error = strPtr(c.describe(err))
	c.logger.Printf("probe %s failed after %s: %v", target.Name, elapsed.Round(time.Millisecond), err)
	return result
}

// describe renders a transport failure for the log entry. Deadline errors are
// normalized so the entry states the configured budget rather than Go's
// context phrasing.
func (c *Checker) describe(err error) string {
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Sprintf("request timed out after %dms", c.timeout.Milliseconds())
	}
	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		return urlErr.Err.Error()
	}
	return err.Error()
}

// validContentType accepts the media types the monitored services legitimately
// serve. The charset parameter and vendor suffixes vary by service, so this is
// a substring check rather than a full parse.
func validContentType(contentType string) bool {
	contentType = strings.ToLower(contentType)
	return strings.Contains(contentType, "xml") || strings.Contains(contentType, "sdmx")
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

func strPtr(s string) *string {
	return &s
}

var _ runner.Prober = (*Checker)(nil)
