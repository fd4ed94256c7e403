package extract

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"regexp"
	"strings"

	"github.com/antchfx/xmlquery"
	"github.com/antchfx/xpath"
	dto "github.com/prometheus/client_model/go"
	"github.com/prometheus/common/expfmt"
)

// Kind names a body-to-number transformation. Every kind is a pure function
// of the response bytes so probes stay side-effect free.
type Kind string

const (
	KindXPathCount  Kind = "xpath_count"
	KindPromSamples Kind = "prom_samples"
	KindJSONLength  Kind = "json_length"
	KindRegexpCount Kind = "regexp_count"
	KindBodyKB      Kind = "body_kb"
)

// Func maps a response body to a single numeric metric value.
type Func func(body []byte) (float64, error)

// ParseKind validates a configured kind string.
func ParseKind(s string) (Kind, error) {
	switch Kind(s) {
	case KindXPathCount, KindPromSamples, KindJSONLength, KindRegexpCount, KindBodyKB:
		return Kind(s), nil
	}
	return "", fmt.Errorf("unknown extractor kind %q", s)
}

// NeedsExpr reports whether the kind takes a compiled expression.
func (k Kind) NeedsExpr() bool {
	return k == KindXPathCount || k == KindRegexpCount
}

// Compile builds the extractor for kind. expr is required for xpath_count and
// regexp_count and must be empty otherwise.
func Compile(kind Kind, expr string) (Func, error) {
	expr = strings.TrimSpace(expr)
	if kind.NeedsExpr() && expr == "" {
		return nil, fmt.Errorf("extractor %s requires an expression", kind)
	}
	if !kind.NeedsExpr() && expr != "" {
		return nil, fmt.Errorf("extractor %s takes no expression", kind)
	}
	switch kind {
	case KindXPathCount:
		compiled, err := xpath.Compile(expr)
		if err != nil {
			return nil, fmt.Errorf("compile xpath %q: %w", expr, err)
		}
		return func(body []byte) (float64, error) {
			doc, err := xmlquery.Parse(bytes.NewReader(body))
			if err != nil {
				return 0, fmt.Errorf("parse xml: %w", err)
			}
			return float64(len(xmlquery.QuerySelectorAll(doc, compiled))), nil
		}, nil
	case KindRegexpCount:
		re, err := regexp.Compile(expr)
		if err != nil {
			return nil, fmt.Errorf("compile regexp %q: %w", expr, err)
		}
		return func(body []byte) (float64, error) {
			return float64(len(re.FindAllIndex(body, -1))), nil
		}, nil
	case KindPromSamples:
		return promSamples, nil
	case KindJSONLength:
		return jsonLength, nil
	case KindBodyKB:
		return bodyKB, nil
	}
	return nil, fmt.Errorf("unknown extractor kind %q", kind)
}

// promSamples counts individual samples across all metric families of a
// Prometheus text exposition.
func promSamples(body []byte) (float64, error) {
	var parser expfmt.TextParser
	families, err := parser.TextToMetricFamilies(bytes.NewReader(body))
	if err != nil {
		return 0, fmt.Errorf("parse prometheus exposition: %w", err)
	}
	var samples int
	for _, family := range families {
		samples += familySamples(family)
	}
	return float64(samples), nil
}

func familySamples(family *dto.MetricFamily) int {
	if family == nil {
		return 0
	}
	return len(family.GetMetric())
}

// jsonLength reports the element count of a top-level JSON array or the key
// count of a top-level JSON object.
func jsonLength(body []byte) (float64, error) {
	var doc any
	if err := json.Unmarshal(body, &doc); err != nil {
		return 0, fmt.Errorf("parse json: %w", err)
	}
	switch v := doc.(type) {
	case []any:
		return float64(len(v)), nil
	case map[string]any:
		return float64(len(v)), nil
	}
	return 0, fmt.Errorf("json body is neither an array nor an object")
}

func bodyKB(body []byte) (float64, error) {
	return math.Round(float64(len(body))/1024*100) / 100, nil
}
