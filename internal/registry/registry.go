package registry

import (
	"errors"
	"fmt"
	"net/url"
	"strings"

	validation "github.com/go-ozzo/ozzo-validation/v4"

	"github.com/erenkahraman/statpulse/internal/extract"
)

// Spec is the plain-data description of one probe target, as it appears in
// the configuration file and in remote registry documents.
type Spec struct {
	Name   string     `json:"name" yaml:"name"`
	URL    string     `json:"url" yaml:"url"`
	Metric MetricSpec `json:"metric" yaml:"metric"`
}

// MetricSpec selects the extra metric pulled from each response body.
type MetricSpec struct {
	Kind  string `json:"kind" yaml:"kind"`
	Label string `json:"label" yaml:"label"`
	Expr  string `json:"expr,omitempty" yaml:"expr,omitempty"`
}

// Endpoint is one compiled probe target. The slice order produced by Build is
// the order probes run in.
type Endpoint struct {
	Name        string
	URL         string
	MetricLabel string
	Extract     extract.Func
}

func (s Spec) Validate() error {
	return validation.ValidateStruct(&s,
		validation.Field(&s.Name, validation.Required, validation.Length(1, 120)),
		validation.Field(&s.URL, validation.Required, validation.By(checkProbeURL)),
		validation.Field(&s.Metric, validation.Required),
	)
}

func (m MetricSpec) Validate() error {
	return validation.ValidateStruct(&m,
		validation.Field(&m.Kind, validation.Required, validation.By(checkKind)),
		validation.Field(&m.Label, validation.Required, validation.Length(1, 64)),
		validation.Field(&m.Expr, validation.By(m.checkExpr)),
	)
}

func checkKind(value any) error {
	s, _ := value.(string)
	if _, err := extract.ParseKind(s); err != nil {
		return validation.NewError("validation_extractor_kind", err.Error())
	}
	return nil
}

func (m MetricSpec) checkExpr(value any) error {
	kind, err := extract.ParseKind(m.Kind)
	if err != nil {
		return nil
	}
	expr, _ := value.(string)
	expr = strings.TrimSpace(expr)
	if kind.NeedsExpr() && expr == "" {
		return validation.NewError("validation_expr_required", fmt.Sprintf("extractor %s requires an expr", kind))
	}
	if !kind.NeedsExpr() && expr != "" {
		return validation.NewError("validation_expr_forbidden", fmt.Sprintf("extractor %s takes no expr", kind))
	}
	return nil
}

// checkProbeURL accepts fully qualified http(s) URLs without embedded
// credentials. Probes never authenticate.
func checkProbeURL(value any) error {
	raw, _ := value.(string)
	u, err := url.Parse(raw)
	if err != nil {
		return validation.NewError("validation_url", "must be a valid URL")
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return validation.NewError("validation_url_scheme", "must use http or https")
	}
	if u.Host == "" {
		return validation.NewError("validation_url_host", "must include a host")
	}
	if u.User != nil {
		return validation.NewError("validation_url_credentials", "must not embed credentials")
	}
	return nil
}

// ValidateSpecs checks every spec and rejects duplicate endpoint names.
func ValidateSpecs(specs []Spec) error {
	if len(specs) == 0 {
		return errors.New("at least one endpoint is required")
	}
	seen := make(map[string]struct{}, len(specs))
	for i, spec := range specs {
		if err := spec.Validate(); err != nil {
			return fmt.Errorf("endpoint %d (%s): %w", i, spec.Name, err)
		}
		if _, dup := seen[spec.Name]; dup {
			return fmt.Errorf("duplicate endpoint name %q", spec.Name)
		}
		seen[spec.Name] = struct{}{}
	}
	return nil
}

// Build validates specs and compiles their extractors, preserving order.
func Build(specs []Spec) ([]Endpoint, error) {
	if err := ValidateSpecs(specs); err != nil {
		return nil, err
	}
	endpoints := make([]Endpoint, 0, len(specs))
	for _, spec := range specs {
		kind, err := extract.ParseKind(spec.Metric.Kind)
		if err != nil {
			return nil, fmt.Errorf("endpoint %s: %w", spec.Name, err)
		}
		fn, err := extract.Compile(kind, spec.Metric.Expr)
		if err != nil {
			return nil, fmt.Errorf("endpoint %s: %w", spec.Name, err)
		}
		endpoints = append(endpoints, Endpoint{
			Name:        spec.Name,
			URL:         spec.URL,
			MetricLabel: spec.Metric.Label,
			Extract:     fn,
		})
	}
	return endpoints, nil
}

// Default returns the built-in probe set used when the configuration names
// neither endpoints nor a remote source.
func Default() []Spec {
	return []Spec{
		{
			Name: "SDMX Global Registry",
			URL:  "https://registry.sdmx.org/ws/public/sdmxapi/rest/dataflow/all/all/latest",
			Metric: MetricSpec{
				Kind:  "xpath_count",
				Label: "dataflows",
				Expr:  "//*[local-name()='Dataflow']",
			},
		},
		{
			Name: "UNICEF SDMX API",
			URL:  "https://sdmx.data.unicef.org/ws/public/sdmxapi/rest/dataflow/UNICEF/all/latest",
			Metric: MetricSpec{
				Kind:  "xpath_count",
				Label: "dataflows",
				Expr:  "//*[local-name()='Dataflow']",
			},
		},
		{
			Name: "ILO SDMX Gateway",
			URL:  "https://sdmx.ilo.org/rest/dataflow/ILO/all/latest",
			Metric: MetricSpec{
				Kind:  "body_kb",
				Label: "payload_kb",
			},
		},
	}
}
