package watch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"golang.org/x/sync/errgroup"

	"github.com/erenkahraman/statpulse/internal/config"
	"github.com/erenkahraman/statpulse/internal/events"
	"github.com/erenkahraman/statpulse/internal/health"
	"github.com/erenkahraman/statpulse/internal/metrics"
	"github.com/erenkahraman/statpulse/internal/runner"
	"github.com/erenkahraman/statpulse/pkg/types"
)

const defaultInterval = 30 * time.Minute

// CycleRunner is the part of the runner the loop drives.
type CycleRunner interface {
	Cycle(ctx context.Context) (runner.Summary, error)
}

// RebuildFunc turns a freshly loaded configuration into a new runner. It is
// called on config reloads; an error keeps the previous runner active.
type RebuildFunc func(ctx context.Context, cfg config.Config) (CycleRunner, error)

// Config holds the static configuration for a Loop.
type Config struct {
	// Interval between cycle starts. Defaults to 30m.
	Interval time.Duration
	// Listen is the monitoring endpoint address. Empty disables it.
	Listen string
	// ConfigPath, when set together with Rebuild, is watched for changes.
	ConfigPath string
}

// Dependencies wire a Loop to its collaborators.
type Dependencies struct {
	Runner  CycleRunner
	Rebuild RebuildFunc
	Health  *health.Checker
	Metrics *metrics.Store
	Events  events.Recorder
	Logger  *log.Logger
	Now     func() time.Time
}

// Loop runs probe cycles on an interval, serves the monitoring endpoint, and
// hot-reloads the configuration file. Cycles are serialized on one goroutine;
// a reload only swaps the runner between cycles.
type Loop struct {
	interval   time.Duration
	listen     string
	configPath string
	rebuild    RebuildFunc
	health     *health.Checker
	metrics    *metrics.Store
	events     events.Recorder
	logger     *log.Logger
	now        func() time.Time

	mu     sync.Mutex
	active CycleRunner

	intervalCh chan time.Duration
}

// New builds a Loop from configuration and dependencies.
func New(cfg Config, deps Dependencies) (*Loop, error) {
	if deps.Runner == nil {
		return nil, errors.New("runner is required")
	}
	if cfg.Listen != "" && deps.Metrics == nil {
		return nil, errors.New("metrics store is required to serve the monitoring endpoint")
	}
	interval := cfg.Interval
	if interval <= 0 {
		interval = defaultInterval
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
	return &Loop{
		interval:   interval,
		listen:     cfg.Listen,
		configPath: cfg.ConfigPath,
		rebuild:    deps.Rebuild,
		health:     deps.Health,
		metrics:    deps.Metrics,
		events:     eventsRec,
		logger:     logger,
		now:        now,
		active:     deps.Runner,
		intervalCh: make(chan time.Duration, 1),
	}, nil
}

// Run blocks until ctx is cancelled or a goroutine fails. Cancellation is a
// clean stop, not an error.
func (l *Loop) Run(ctx context.Context) error {
	grp, groupCtx := errgroup.WithContext(ctx)

	grp.Go(func() error {
		return l.runCycles(groupCtx)
	})

	if l.listen != "" {
		grp.Go(func() error {
			return l.serveMonitoring(groupCtx)
		})
	}

	if l.configPath != "" && l.rebuild != nil {
		grp.Go(func() error {
			return l.watchConfig(groupCtx)
		})
	}

	if err := grp.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	l.logger.Printf("watch stopped")
	return nil
}

func (l *Loop) runCycles(ctx context.Context) error {
	l.cycle(ctx)

	interval := l.interval
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			l.cycle(ctx)
		case next := <-l.intervalCh:
			if next > 0 && next != interval {
				interval = next
				ticker.Reset(interval)
				l.logger.Printf("cycle interval now %s", interval)
			}
		}
	}
}

// cycle runs one pass and feeds the readiness checker. A cycle that never
// completed (interrupted, registry or log unreadable) is not observed, so a
// stretch of them surfaces as CYCLE_STALE.
func (l *Loop) cycle(ctx context.Context) {
	summary, err := l.runner().Cycle(ctx)
	end := l.now().UTC()
	allFailed := summary.Failed > 0 && summary.Succeeded == 0

	switch {
	case err == nil:
		if l.health != nil {
			l.health.ObserveCycle(end, allFailed, nil)
		}
	case errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded):
	case errors.Is(err, runner.ErrPersist):
		l.logger.Printf("cycle %s: %v", summary.CycleID, err)
		if l.health != nil {
			l.health.ObserveCycle(end, allFailed, err)
		}
	default:
		l.logger.Printf("cycle failed: %v", err)
	}
}

func (l *Loop) runner() CycleRunner {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.active
}

func (l *Loop) watchConfig(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("start config watcher: %w", err)
	}
	defer watcher.Close()

	if err := watcher.Add(l.configPath); err != nil {
		return fmt.Errorf("watch config %q: %w", l.configPath, err)
	}
	l.logger.Printf("watching %s for changes", l.configPath)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			// Editors often save via rename, which shows up as Create.
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}
			l.reload(ctx)
			// Re-add the path in case an atomic save replaced the inode.
			_ = watcher.Add(l.configPath)
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			l.logger.Printf("config watcher error: %v", err)
		}
	}
}

// reload loads and validates the config file, builds a replacement runner,
// and swaps it in. Any failure keeps the previous runner.
func (l *Loop) reload(ctx context.Context) {
	cfg, err := config.Load(ctx, l.configPath)
	if err != nil {
		l.logger.Printf("config reload failed, keeping previous: %v", err)
		return
	}
	next, err := l.rebuild(ctx, cfg)
	if err != nil {
		l.logger.Printf("config reload failed, keeping previous: %v", err)
		return
	}

	l.mu.Lock()
	l.active = next
	l.mu.Unlock()

	if cfg.Watch.Interval > 0 {
		select {
		case <-l.intervalCh:
		default:
		}
		select {
		case l.intervalCh <- cfg.Watch.Interval:
		default:
		}
	}
	if cfg.Watch.Listen != l.listen {
		l.logger.Printf("listen address change to %s requires a restart", cfg.Watch.Listen)
	}

	l.events.Record(types.Event{
		Type:      types.EventRegistryReloaded,
		Timestamp: l.now().UTC(),
		Details: map[string]any{
			"path":     l.configPath,
			"interval": cfg.Watch.Interval.String(),
		},
	})
	l.logger.Printf("configuration reloaded from %s", l.configPath)
}

// handler builds the monitoring mux: Prometheus text on /metrics, liveness
// on /healthz, readiness with reasons on /readyz.
func (l *Loop) handler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.NewHTTPHandler(l.metrics))
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("/readyz", func(w http.ResponseWriter, r *http.Request) {
		if l.health == nil {
			w.WriteHeader(http.StatusOK)
			return
		}
		ready, reasons := l.health.Ready(l.now().UTC())
		if !ready {
			http.Error(w, strings.Join(reasons, "; "), http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	})
	return mux
}

func (l *Loop) serveMonitoring(ctx context.Context) error {
	srv := &http.Server{
		Addr:         l.listen,
		Handler:      l.handler(),
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		l.logger.Printf("monitoring listening on http://%s", l.listen)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case err := <-errCh:
		if err == nil || errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}
