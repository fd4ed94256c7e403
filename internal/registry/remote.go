package registry

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	minisign "github.com/jedisct1/go-minisign"
	"gopkg.in/yaml.v3"
)

const (
	signatureSuffix     = ".minisig"
	defaultFetchTimeout = 30 * time.Second
	fetcherUserAgent    = "statpulse/0.1.0"
)

// FetcherConfig holds the static configuration for a remote registry fetcher.
type FetcherConfig struct {
	// Source is the URL of a YAML registry document. When PublicKey is set,
	// a detached minisign signature is expected at Source + ".minisig".
	Source    string
	PublicKey string
}

// FetcherDependencies allow test overrides for HTTP client and logging.
type FetcherDependencies struct {
	HTTPClient *http.Client
	Logger     *log.Logger
}

// Fetcher retrieves endpoint registry documents over HTTP, optionally
// enforcing a minisign signature, and remembers the last ETag so unchanged
// documents are cheap to poll.
type Fetcher struct {
	source    string
	publicKey *minisign.PublicKey
	client    *http.Client
	logger    *log.Logger

	mu   sync.Mutex
	etag string
}

// FetchResult captures the outcome of one registry fetch.
type FetchResult struct {
	Specs       []Spec
	ETag        string
	NotModified bool
}

// NewFetcher builds a registry fetcher from configuration and dependencies.
func NewFetcher(cfg FetcherConfig, deps FetcherDependencies) (*Fetcher, error) {
	source := strings.TrimSpace(cfg.Source)
	if source == "" {
		return nil, errors.New("registry source URL is required")
	}
	u, err := url.Parse(source)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, fmt.Errorf("registry source %q is not an http(s) URL", cfg.Source)
	}

	var publicKey *minisign.PublicKey
	if trimmed := strings.TrimSpace(cfg.PublicKey); trimmed != "" {
		key, err := minisign.DecodePublicKey(trimmed)
		if err != nil {
			return nil, fmt.Errorf("parse registry public key: %w", err)
		}
		publicKey = &key
	}

	client := deps.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: defaultFetchTimeout}
	}
	logger := deps.Logger
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}

	return &Fetcher{
		source:    source,
		publicKey: publicKey,
		client:    client,
		logger:    logger,
	}, nil
}

// Fetch retrieves the registry document, reusing the previously observed ETag
// for a conditional request. A signed source is verified before parsing.
func (f *Fetcher) Fetch(ctx context.Context) (FetchResult, error) {
	f.mu.Lock()
	etag := f.etag
	f.mu.Unlock()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.source, nil)
	if err != nil {
		return FetchResult{}, fmt.Errorf("build registry request: %w", err)
	}
	req.Header.Set("Accept", "application/yaml, text/yaml;q=0.9, */*;q=0.8")
	req.Header.Set("User-Agent", fetcherUserAgent)
	if etag != "" {
		req.Header.Set("If-None-Match", etag)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return FetchResult{}, fmt.Errorf("fetch registry: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return FetchResult{}, fmt.Errorf("read registry response: %w", err)
	}

	if resp.StatusCode == http.StatusNotModified {
		return FetchResult{ETag: etag, NotModified: true}, nil
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return FetchResult{}, fmt.Errorf("registry fetch failed: status %s", resp.Status)
	}

	if f.publicKey != nil {
		if err := f.verify(ctx, body); err != nil {
			return FetchResult{}, err
		}
	}

	var doc struct {
		Endpoints []Spec `yaml:"endpoints"`
	}
	if err := yaml.Unmarshal(body, &doc); err != nil {
		return FetchResult{}, fmt.Errorf("decode registry document: %w", err)
	}
	if err := ValidateSpecs(doc.Endpoints); err != nil {
		return FetchResult{}, fmt.Errorf("registry document invalid: %w", err)
	}

	newETag := resp.Header.Get("ETag")
	f.mu.Lock()
	f.etag = newETag
	f.mu.Unlock()

	return FetchResult{Specs: doc.Endpoints, ETag: newETag}, nil
}

// verify fetches the detached signature next to the source document and
// checks it against the trusted public key.
func (f *Fetcher) verify(ctx context.Context, document []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.source+signatureSuffix, nil)
	if err != nil {
		return fmt.Errorf("build signature request: %w", err)
	}
	req.Header.Set("User-Agent", fetcherUserAgent)

	resp, err := f.client.Do(req)
	if err != nil {
		return fmt.Errorf("fetch registry signature: %w", err)
	}
	defer resp.Body.Close()

	sigBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read registry signature: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("registry signature fetch failed: status %s", resp.Status)
	}

	signature, err := minisign.DecodeSignature(string(sigBytes))
	if err != nil {
		return fmt.Errorf("decode registry signature: %w", err)
	}
	ok, err := f.publicKey.Verify(document, signature)
	if err != nil {
		return fmt.Errorf("verify registry document: %w", err)
	}
	if !ok {
		return errors.New("registry signature verification failed")
	}
	return nil
}
