package registry

import (
	"context"
	"io"
	"log"
	"net/http"
	"sync"
)

// ProviderConfig selects where the probe set comes from. A remote source
// overrides configured specs; with neither, the built-in defaults apply.
type ProviderConfig struct {
	Specs     []Spec
	Source    string
	PublicKey string
}

// ProviderDependencies allow test overrides for HTTP client and logging.
type ProviderDependencies struct {
	HTTPClient *http.Client
	Logger     *log.Logger
}

// Provider hands out the current compiled endpoint set. With a remote source
// it refreshes on every call and keeps the last good set when a refresh
// fails or the document is unchanged.
type Provider struct {
	fetcher *Fetcher
	logger  *log.Logger

	mu      sync.Mutex
	current []Endpoint
}

// NewProvider compiles the static probe set immediately so configuration
// mistakes surface at startup rather than mid-cycle.
func NewProvider(cfg ProviderConfig, deps ProviderDependencies) (*Provider, error) {
	logger := deps.Logger
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}

	p := &Provider{logger: logger}
	if cfg.Source != "" {
		fetcher, err := NewFetcher(FetcherConfig{
			Source:    cfg.Source,
			PublicKey: cfg.PublicKey,
		}, FetcherDependencies{
			HTTPClient: deps.HTTPClient,
			Logger:     logger,
		})
		if err != nil {
			return nil, err
		}
		p.fetcher = fetcher
		return p, nil
	}

	specs := cfg.Specs
	if len(specs) == 0 {
		specs = Default()
	}
	endpoints, err := Build(specs)
	if err != nil {
		return nil, err
	}
	p.current = endpoints
	return p, nil
}

// Endpoints returns the probe set in registry order. Remote refresh failures
// after a successful fetch fall back to the previous set.
func (p *Provider) Endpoints(ctx context.Context) ([]Endpoint, error) {
	if p.fetcher == nil {
		p.mu.Lock()
		defer p.mu.Unlock()
		return p.current, nil
	}

	result, err := p.fetcher.Fetch(ctx)
	p.mu.Lock()
	defer p.mu.Unlock()
	if err != nil {
		if p.current != nil {
			p.logger.Printf("registry refresh failed, keeping %d endpoints: %v", len(p.current), err)
			return p.current, nil
		}
		return nil, err
	}
	if result.NotModified {
		return p.current, nil
	}

	endpoints, err := Build(result.Specs)
	if err != nil {
		if p.current != nil {
			p.logger.Printf("registry document rejected, keeping %d endpoints: %v", len(p.current), err)
			return p.current, nil
		}
		return nil, err
	}
	p.current = endpoints
	return endpoints, nil
}
