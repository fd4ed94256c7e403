package config

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net"
	"net/url"
	"os"
	"path/filepath"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"gopkg.in/yaml.v3"

	"github.com/erenkahraman/statpulse/internal/anomaly"
	"github.com/erenkahraman/statpulse/internal/logstore"
	"github.com/erenkahraman/statpulse/internal/probe"
	"github.com/erenkahraman/statpulse/internal/registry"
)

const (
	envConfigPath     = "STATPULSE_CONFIG"
	DefaultConfigPath = "/etc/statpulse/statpulse.yaml"
)

type Config struct {
	Probe    ProbeConfig    `yaml:"probe"`
	Log      LogConfig      `yaml:"log"`
	Anomaly  AnomalyConfig  `yaml:"anomaly"`
	Watch    WatchConfig    `yaml:"watch"`
	Registry RegistryConfig `yaml:"registry"`
}

type ProbeConfig struct {
	TimeoutMs        int     `yaml:"timeout_ms"`
	PaceProbesPerSec float64 `yaml:"pace_probes_per_sec"`
	UserAgent        string  `yaml:"user_agent"`
}

// Timeout returns the per-probe budget as a duration.
func (c ProbeConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutMs) * time.Millisecond
}

type LogConfig struct {
	Path       string `yaml:"path"`
	MaxEntries int    `yaml:"max_entries"`
}

type AnomalyConfig struct {
	Window         int     `yaml:"window"`
	MinSamples     int     `yaml:"min_samples"`
	WarnFactor     float64 `yaml:"warn_factor"`
	CriticalFactor float64 `yaml:"critical_factor"`
}

type WatchConfig struct {
	Interval time.Duration `yaml:"interval"`
	Listen   string        `yaml:"listen"`
}

type RegistryConfig struct {
	Source    string          `yaml:"source"`
	PublicKey string          `yaml:"public_key"`
	Endpoints []registry.Spec `yaml:"endpoints"`
}

// Default returns the configuration used when no file sets a value. An empty
// endpoint list means the built-in registry.
func Default() Config {
	return Config{
		Probe: ProbeConfig{
			TimeoutMs: int(probe.DefaultTimeout / time.Millisecond),
		},
		Log: LogConfig{
			Path:       logstore.DefaultPath,
			MaxEntries: logstore.DefaultMaxEntries,
		},
		Anomaly: AnomalyConfig{
			Window:         anomaly.DefaultWindow,
			MinSamples:     anomaly.DefaultMinSamples,
			WarnFactor:     anomaly.DefaultWarnFactor,
			CriticalFactor: anomaly.DefaultCriticalFactor,
		},
		Watch: WatchConfig{
			Interval: 30 * time.Minute,
			Listen:   "127.0.0.1:9464",
		},
	}
}

// Load reads a YAML file and overlays it on the defaults, so a partial file
// only overrides the keys it names.
func Load(ctx context.Context, path string) (Config, error) {
	cfg := Default()

	f, err := os.Open(filepath.Clean(path))
	if err != nil {
		return cfg, fmt.Errorf("open config %q: %w", path, err)
	}
	defer f.Close()

	data, err := io.ReadAll(f)
	if err != nil {
		return cfg, fmt.Errorf("read config %q: %w", path, err)
	}

	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config %q: %w", path, err)
	}

	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("invalid config %q: %w", path, err)
	}

	return cfg, nil
}

// Resolve picks the configuration for a command invocation: the explicit
// path if given, else $STATPULSE_CONFIG, else the default path. Only the
// default path may be absent; then the built-in defaults apply and the
// returned path is empty.
func Resolve(ctx context.Context, explicit string) (Config, string, error) {
	path := explicit
	if path == "" {
		path = os.Getenv(envConfigPath)
	}
	if path != "" {
		cfg, err := Load(ctx, path)
		return cfg, path, err
	}

	cfg, err := Load(ctx, DefaultConfigPath)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return Default(), "", nil
		}
		return cfg, DefaultConfigPath, err
	}
	return cfg, DefaultConfigPath, nil
}

func (c Config) Validate() error {
	return validation.ValidateStruct(&c,
		validation.Field(&c.Probe),
		validation.Field(&c.Log),
		validation.Field(&c.Anomaly),
		validation.Field(&c.Watch),
		validation.Field(&c.Registry),
	)
}

func (c ProbeConfig) Validate() error {
	return validation.ValidateStruct(&c,
		validation.Field(&c.TimeoutMs, validation.Required, validation.Min(1)),
		validation.Field(&c.PaceProbesPerSec, validation.Min(0.0)),
	)
}

func (c LogConfig) Validate() error {
	return validation.ValidateStruct(&c,
		validation.Field(&c.Path, validation.Required),
		validation.Field(&c.MaxEntries, validation.Required, validation.Min(1)),
	)
}

func (c AnomalyConfig) Validate() error {
	return validation.ValidateStruct(&c,
		validation.Field(&c.Window, validation.Required, validation.Min(1)),
		validation.Field(&c.MinSamples, validation.Required, validation.Min(1), validation.By(c.checkMinSamples)),
		validation.Field(&c.WarnFactor, validation.Required, validation.Min(1.0).Exclusive()),
		validation.Field(&c.CriticalFactor, validation.Required, validation.By(c.checkFactorOrder)),
	)
}

func (c AnomalyConfig) checkMinSamples(value interface{}) error {
	if c.MinSamples > c.Window {
		return validation.NewError("validation_min_samples", "min_samples cannot exceed window")
	}
	return nil
}

func (c AnomalyConfig) checkFactorOrder(value interface{}) error {
	if c.CriticalFactor < c.WarnFactor {
		return validation.NewError("validation_factor_order", "critical_factor cannot be below warn_factor")
	}
	return nil
}

func (c WatchConfig) Validate() error {
	return validation.ValidateStruct(&c,
		validation.Field(&c.Interval, validation.Required, validation.Min(time.Second)),
		validation.Field(&c.Listen, validation.Required, validation.By(checkListenAddr)),
	)
}

func checkListenAddr(value interface{}) error {
	addr, _ := value.(string)
	if addr == "" {
		return nil
	}
	_, port, err := net.SplitHostPort(addr)
	if err != nil {
		return validation.NewError("validation_listen_addr", "must be a host:port address")
	}
	if port == "" {
		return validation.NewError("validation_listen_addr", "must name a port")
	}
	return nil
}

func (c RegistryConfig) Validate() error {
	return validation.ValidateStruct(&c,
		validation.Field(&c.Source, validation.By(checkSourceURL)),
		validation.Field(&c.PublicKey, validation.By(c.checkPublicKey)),
		validation.Field(&c.Endpoints, validation.Skip.When(len(c.Endpoints) == 0), validation.By(checkEndpointSpecs)),
	)
}

func checkSourceURL(value interface{}) error {
	source, _ := value.(string)
	if source == "" {
		return nil
	}
	u, err := url.Parse(source)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return validation.NewError("validation_registry_source", "must be an absolute http(s) URL")
	}
	return nil
}

func (c RegistryConfig) checkPublicKey(value interface{}) error {
	key, _ := value.(string)
	if key != "" && c.Source == "" {
		return validation.NewError("validation_registry_key", "public_key is only meaningful with a source")
	}
	return nil
}

func checkEndpointSpecs(value interface{}) error {
	specs, _ := value.([]registry.Spec)
	return registry.ValidateSpecs(specs)
}
