package report

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"strconv"
	"text/tabwriter"
	"time"

	"github.com/erenkahraman/statpulse/internal/anomaly"
	"github.com/erenkahraman/statpulse/internal/config"
	"github.com/erenkahraman/statpulse/internal/logstore"
	"github.com/erenkahraman/statpulse/pkg/types"
)

// Dependencies provides optional overrides for testing.
type Dependencies struct {
	Now    func() time.Time
	Stdout io.Writer
	Logger *log.Logger
}

// Run renders a summary of the persisted probe history. It never writes the
// log; a degraded fleet is still a successfully rendered report.
func Run(ctx context.Context, args []string, deps Dependencies) error {
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if deps.Stdout == nil {
		deps.Stdout = os.Stdout
	}
	if deps.Logger == nil {
		deps.Logger = log.New(io.Discard, "", 0)
	}

	fs := flag.NewFlagSet("report", flag.ContinueOnError)
	configPath := fs.String("config", "", "Path to configuration file")
	logPath := fs.String("log", "", "Health log to read (overrides config)")
	format := fs.String("format", "text", "Output format: text or json")
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, _, err := config.Resolve(ctx, *configPath)
	if err != nil {
		return err
	}
	path := cfg.Log.Path
	if *logPath != "" {
		path = *logPath
	}

	store := logstore.New(logstore.Config{
		Path:       path,
		MaxEntries: cfg.Log.MaxEntries,
	}, logstore.Dependencies{Logger: deps.Logger})
	entries, err := store.Load()
	if err != nil {
		return err
	}

	doc := document{
		GeneratedAt: deps.Now().UTC(),
		LogPath:     path,
		Entries:     len(entries),
		Endpoints:   summarize(entries, cfg.Anomaly.Window),
	}

	switch *format {
	case "json":
		payload, err := json.MarshalIndent(doc, "", "  ")
		if err != nil {
			return fmt.Errorf("marshal report: %w", err)
		}
		_, err = fmt.Fprintln(deps.Stdout, string(payload))
		return err
	case "text":
		return renderText(deps.Stdout, doc)
	default:
		return fmt.Errorf("unknown format %q (want text or json)", *format)
	}
}

// summarize folds the time-ascending log into one row per endpoint, in
// first-seen order. The "last" fields always describe the newest entry.
func summarize(entries []types.ProbeResult, window int) []endpointSummary {
	index := make(map[string]int)
	summaries := make([]endpointSummary, 0)
	for _, entry := range entries {
		i, seen := index[entry.Endpoint]
		if !seen {
			i = len(summaries)
			index[entry.Endpoint] = i
			summaries = append(summaries, endpointSummary{Endpoint: entry.Endpoint})
		}
		s := &summaries[i]
		s.URL = entry.URL
		s.Probes++
		if !entry.OK {
			s.Failures++
		}
		if entry.Anomaly.Detected {
			s.Anomalies++
			s.LastSeverity = entry.Anomaly.Severity
		}
		if entry.Error != nil {
			s.LastError = entry.Error
		}
		s.LastOK = entry.OK
		s.LastStatus = entry.Status
		s.LastLatencyMs = entry.ResponseTimeMs
		s.LastChecked = entry.Timestamp
	}
	for i := range summaries {
		avg, samples := anomaly.RollingAverage(summaries[i].Endpoint, entries, window)
		if samples > 0 {
			rolling := avg
			summaries[i].RollingAvgMs = &rolling
			summaries[i].BaselineSamples = samples
		}
	}
	return summaries
}

func renderText(w io.Writer, doc document) error {
	if doc.Entries == 0 {
		_, err := fmt.Fprintf(w, "no probe history at %s\n", doc.LogPath)
		return err
	}

	if _, err := fmt.Fprintf(w, "health log %s: %d entries, %d endpoints\n\n", doc.LogPath, doc.Entries, len(doc.Endpoints)); err != nil {
		return err
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ENDPOINT\tLAST\tSTATUS\tLATENCY\tAVG\tFAILURES\tANOMALIES\tERROR")
	for _, s := range doc.Endpoints {
		last := "ok"
		if !s.LastOK {
			last = "DOWN"
		}
		status := "-"
		if s.LastStatus != nil {
			status = strconv.Itoa(*s.LastStatus)
		}
		latency := "-"
		if s.LastLatencyMs != nil {
			latency = fmt.Sprintf("%dms", *s.LastLatencyMs)
		}
		avg := "-"
		if s.RollingAvgMs != nil {
			avg = fmt.Sprintf("%dms", *s.RollingAvgMs)
		}
		anomalies := strconv.Itoa(s.Anomalies)
		if s.Anomalies > 0 && s.LastSeverity != "" {
			anomalies = fmt.Sprintf("%d (last %s)", s.Anomalies, s.LastSeverity)
		}
		lastError := ""
		if s.LastError != nil {
			lastError = *s.LastError
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%d/%d\t%s\t%s\n",
			s.Endpoint, last, status, latency, avg, s.Failures, s.Probes, anomalies, lastError)
	}
	return tw.Flush()
}

type document struct {
	GeneratedAt time.Time         `json:"generatedAt"`
	LogPath     string            `json:"logPath"`
	Entries     int               `json:"entries"`
	Endpoints   []endpointSummary `json:"endpoints"`
}

type endpointSummary struct {
	Endpoint        string         `json:"endpoint"`
	URL             string         `json:"url"`
	Probes          int            `json:"probes"`
	Failures        int            `json:"failures"`
	Anomalies       int            `json:"anomalies"`
	LastSeverity    types.Severity `json:"lastSeverity,omitempty"`
	LastOK          bool           `json:"lastOk"`
	LastStatus      *int           `json:"lastStatus"`
	LastLatencyMs   *int64         `json:"lastLatencyMs"`
	LastChecked     time.Time      `json:"lastChecked"`
	RollingAvgMs    *int64         `json:"rollingAvgMs,omitempty"`
	BaselineSamples int            `json:"baselineSamples"`
	LastError       *string        `json:"lastError,omitempty"`
}
