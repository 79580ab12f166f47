package monitoring

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/common/expfmt"
)

// ExportFormat is the closed set of wire formats the admin surface can
// request a metrics snapshot in.
type ExportFormat string

const (
	FormatLabelValue ExportFormat = "label-value"
	FormatCSV        ExportFormat = "csv"
	FormatGraphite   ExportFormat = "graphite"
)

// ExportRequest names the window and format to render a snapshot in.
type ExportRequest struct {
	Window time.Duration `json:"window"`
	Format ExportFormat  `json:"format"`
}

type ExportResponse struct {
	Format  ExportFormat `json:"format"`
	Body    string       `json:"body"`
	Metrics int          `json:"metrics"`
}

// Export renders the aggregated stats for window in one of the three
// supported wire formats.
//
//encore:api public method=GET path=/monitoring/export
func Export(ctx context.Context, req *ExportRequest) (*ExportResponse, error) {
	if svc == nil {
		return nil, errors.New("service not initialized")
	}
	return svc.Export(req)
}

func (s *Service) Export(req *ExportRequest) (*ExportResponse, error) {
	window := req.Window
	if window == 0 {
		window = time.Minute
	}
	now := time.Now()
	stats := s.aggregator.GetStats(now.Add(-window), now)

	pairs := exportPairs(stats)

	var body string
	var err error
	switch req.Format {
	case FormatCSV, "":
		body = renderCSV(pairs)
	case FormatGraphite:
		body = renderGraphite(pairs, now)
	case FormatLabelValue:
		body, err = renderLabelValue(pairs)
	default:
		return nil, fmt.Errorf("unsupported export format %q", req.Format)
	}
	if err != nil {
		return nil, fmt.Errorf("render %s export: %w", req.Format, err)
	}

	return &ExportResponse{Format: req.Format, Body: body, Metrics: len(pairs)}, nil
}

type metricPair struct {
	name  string
	value float64
}

func exportPairs(stats AggregatedStats) []metricPair {
	return []metricPair{
		{"cache_requests_total", float64(stats.TotalRequests)},
		{"cache_hits_total", float64(stats.CacheHits)},
		{"cache_misses_total", float64(stats.CacheMisses)},
		{"cache_hit_rate", stats.HitRate},
		{"cache_qps", stats.QPS},
		{"cache_latency_avg_ms", stats.AvgLatency},
		{"cache_latency_p50_ms", stats.P50Latency},
		{"cache_latency_p90_ms", stats.P90Latency},
		{"cache_latency_p95_ms", stats.P95Latency},
		{"cache_latency_p99_ms", stats.P99Latency},
		{"cache_error_rate", stats.ErrorRate},
		{"cache_invalidations_total", float64(stats.Invalidations)},
		{"cache_warmings_total", float64(stats.Warmings)},
		{"cache_evictions_total", float64(stats.Evictions)},
	}
}

// renderLabelValue produces the Prometheus text-exposition format by
// registering each snapshot value as a gauge against a throwaway registry
// and running it through expfmt, rather than hand-formatting "name value"
// lines that could drift from what Prometheus actually accepts.
func renderLabelValue(pairs []metricPair) (string, error) {
	reg := prometheus.NewRegistry()
	for _, p := range pairs {
		g := prometheus.NewGauge(prometheus.GaugeOpts{
			Name: p.name,
			Help: p.name + " snapshot exported by the monitoring service",
		})
		g.Set(p.value)
		if err := reg.Register(g); err != nil {
			return "", err
		}
	}

	families, err := reg.Gather()
	if err != nil {
		return "", err
	}

	var sb strings.Builder
	encoder := expfmt.NewEncoder(&sb, expfmt.NewFormat(expfmt.TypeTextPlain))
	for _, mf := range families {
		if err := encoder.Encode(mf); err != nil {
			return "", err
		}
	}
	return sb.String(), nil
}

func renderCSV(pairs []metricPair) string {
	var sb strings.Builder
	sb.WriteString("metric,value\n")
	for _, p := range pairs {
		fmt.Fprintf(&sb, "%s,%g\n", p.name, p.value)
	}
	return sb.String()
}

func renderGraphite(pairs []metricPair, at time.Time) string {
	var sb strings.Builder
	ts := at.Unix()
	for _, p := range pairs {
		fmt.Fprintf(&sb, "%s %g %d\n", p.name, p.value, ts)
	}
	return sb.String()
}
