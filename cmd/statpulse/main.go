package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"reflect"
	"syscall"

	"github.com/erenkahraman/statpulse/internal/anomaly"
	"github.com/erenkahraman/statpulse/internal/config"
	"github.com/erenkahraman/statpulse/internal/events"
	"github.com/erenkahraman/statpulse/internal/health"
	"github.com/erenkahraman/statpulse/internal/logging"
	"github.com/erenkahraman/statpulse/internal/logstore"
	"github.com/erenkahraman/statpulse/internal/metrics"
	"github.com/erenkahraman/statpulse/internal/probe"
	"github.com/erenkahraman/statpulse/internal/registry"
	"github.com/erenkahraman/statpulse/internal/report"
	"github.com/erenkahraman/statpulse/internal/runner"
	"github.com/erenkahraman/statpulse/internal/watch"
)

func main() {
	ctx := context.Background()

	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	cmd := os.Args[1]
	var err error
	exitCode := 0

	switch cmd {
	case "run":
		exitCode, err = run(ctx, os.Args[2:])
	case "watch":
		err = runWatch(ctx, os.Args[2:])
	case "report":
		err = report.Run(ctx, os.Args[2:], report.Dependencies{})
	case "-h", "--help", "help":
		printUsage()
		return
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n", cmd)
		printUsage()
		os.Exit(1)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "command %s failed: %v\n", cmd, err)
		os.Exit(1)
	}
	if exitCode != 0 {
		os.Exit(exitCode)
	}
}

func printUsage() {
	fmt.Println("StatPulse endpoint monitor")
	fmt.Println()
	fmt.Println("Usage:")
	fmt.Println("  statpulse run [--config /etc/statpulse/statpulse.yaml]")
	fmt.Println("  statpulse watch [--config path]")
	fmt.Println("  statpulse report [--config path] [--log path] [--format text|json]")
}

// run executes one probe cycle. Exit 1 means every endpoint failed; partial
// outages are data, not process failures.
func run(ctx context.Context, args []string) (int, error) {
	fs := flag.NewFlagSet("run", flag.ContinueOnError)
	configPath := fs.String("config", "", "Path to configuration file")
	if err := fs.Parse(args); err != nil {
		return 0, err
	}

	cfg, pathUsed, err := config.Resolve(ctx, *configPath)
	if err != nil {
		return 0, fmt.Errorf("load config: %w", err)
	}

	logger := logging.New()
	if pathUsed != "" {
		logger.Printf("statpulse starting (config=%s)", pathUsed)
	} else {
		logger.Printf("statpulse starting (built-in defaults)")
	}

	provider, err := newProvider(cfg, logger)
	if err != nil {
		return 0, err
	}
	r, err := newRunner(cfg, provider, logger, nil, events.LogRecorder{Logger: logger})
	if err != nil {
		return 0, err
	}

	runCtx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	summary, err := r.Cycle(runCtx)
	if err != nil {
		return 0, err
	}
	return summary.ExitCode(), nil
}

// runWatch runs cycles on an interval with the monitoring endpoint and
// config hot-reload.
func runWatch(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("watch", flag.ContinueOnError)
	configPath := fs.String("config", "", "Path to configuration file")
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, pathUsed, err := config.Resolve(ctx, *configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger := logging.New()
	metricsStore := metrics.NewStore()
	checker := health.NewChecker(metricsStore, 2*cfg.Watch.Interval)
	recorder := events.NewMulti(events.LogRecorder{Logger: logger})

	provider, err := newProvider(cfg, logger)
	if err != nil {
		return err
	}
	first, err := newRunner(cfg, provider, logger, metricsStore, recorder)
	if err != nil {
		return err
	}

	// Reloads keep the provider, and with it the registry ETag, unless the
	// registry settings themselves changed.
	lastRegistry := cfg.Registry
	rebuild := func(ctx context.Context, next config.Config) (watch.CycleRunner, error) {
		if !reflect.DeepEqual(next.Registry, lastRegistry) {
			p, err := newProvider(next, logger)
			if err != nil {
				return nil, err
			}
			provider = p
			lastRegistry = next.Registry
		}
		return newRunner(next, provider, logger, metricsStore, recorder)
	}

	loop, err := watch.New(watch.Config{
		Interval:   cfg.Watch.Interval,
		Listen:     cfg.Watch.Listen,
		ConfigPath: pathUsed,
	}, watch.Dependencies{
		Runner:  first,
		Rebuild: rebuild,
		Health:  checker,
		Metrics: metricsStore,
		Events:  recorder,
		Logger:  logger,
	})
	if err != nil {
		return err
	}

	runCtx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger.Printf("statpulse watch starting (interval=%s, listen=%s)", cfg.Watch.Interval, cfg.Watch.Listen)
	return loop.Run(runCtx)
}

func newProvider(cfg config.Config, logger *log.Logger) (*registry.Provider, error) {
	return registry.NewProvider(registry.ProviderConfig{
		Specs:     cfg.Registry.Endpoints,
		Source:    cfg.Registry.Source,
		PublicKey: cfg.Registry.PublicKey,
	}, registry.ProviderDependencies{Logger: logger})
}

func newRunner(cfg config.Config, provider *registry.Provider, logger *log.Logger, cycleMetrics metrics.CycleRecorder, recorder events.Recorder) (*runner.Runner, error) {
	checker := probe.New(probe.Config{
		Timeout:   cfg.Probe.Timeout(),
		UserAgent: cfg.Probe.UserAgent,
	}, probe.Dependencies{Logger: logger})

	detector := anomaly.New(anomaly.Config{
		Window:         cfg.Anomaly.Window,
		MinSamples:     cfg.Anomaly.MinSamples,
		WarnFactor:     cfg.Anomaly.WarnFactor,
		CriticalFactor: cfg.Anomaly.CriticalFactor,
	})

	store := logstore.New(logstore.Config{
		Path:       cfg.Log.Path,
		MaxEntries: cfg.Log.MaxEntries,
	}, logstore.Dependencies{Logger: logger})

	return runner.New(runner.Config{
		PaceProbesPerSec: cfg.Probe.PaceProbesPerSec,
	}, runner.Dependencies{
		Source:   provider,
		Prober:   checker,
		Detector: detector,
		Log:      store,
		Metrics:  cycleMetrics,
		Events:   recorder,
		Logger:   logger,
	})
}
