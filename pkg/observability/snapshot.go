package observability

import (
	"fmt"
	"sort"
	"strings"

	dto "github.com/prometheus/client_model/go"
)

// HistogramSnapshot summarizes one histogram series.
type HistogramSnapshot struct {
	Count uint64  `json:"count"`
	Sum   float64 `json:"sum"`
	Avg   float64 `json:"avg"`
}

// Snapshot is the JSON rendering of the registry served on /metrics.
// Prometheus scrapers use /prometheus instead.
type Snapshot struct {
	Counters   map[string]float64           `json:"counters"`
	Gauges     map[string]float64           `json:"gauges"`
	Histograms map[string]HistogramSnapshot `json:"histograms"`
}

// Snapshot gathers the registry into a JSON-friendly structure. Series
// keys carry their labels in exposition syntax, e.g.
// activekg_api_requests_total{endpoint="/search",method="POST",status="200"}.
func (c *Collector) Snapshot() (*Snapshot, error) {
	families, err := c.registry.Gather()
	if err != nil {
		return nil, fmt.Errorf("gather metrics: %w", err)
	}

	snap := &Snapshot{
		Counters:   make(map[string]float64),
		Gauges:     make(map[string]float64),
		Histograms: make(map[string]HistogramSnapshot),
	}

	for _, family := range families {
		for _, metric := range family.GetMetric() {
			key := seriesKey(family.GetName(), metric)
			plain := len(metric.GetLabel()) == 0
			switch family.GetType() {
			case dto.MetricType_COUNTER:
				// Vec children exist only once touched, but plain
				// counters export a zero sample from registration on.
				// Skip those so every listed series reflects activity.
				value := metric.GetCounter().GetValue()
				if plain && value == 0 {
					continue
				}
				snap.Counters[key] = value
			case dto.MetricType_GAUGE:
				snap.Gauges[key] = metric.GetGauge().GetValue()
			case dto.MetricType_HISTOGRAM:
				h := metric.GetHistogram()
				hs := HistogramSnapshot{Count: h.GetSampleCount(), Sum: h.GetSampleSum()}
				if plain && hs.Count == 0 {
					continue
				}
				if hs.Count > 0 {
					hs.Avg = hs.Sum / float64(hs.Count)
				}
				snap.Histograms[key] = hs
			}
		}
	}

	return snap, nil
}

func seriesKey(name string, metric *dto.Metric) string {
	labels := metric.GetLabel()
	if len(labels) == 0 {
		return name
	}

	pairs := make([]string, 0, len(labels))
	for _, label := range labels {
		pairs = append(pairs, fmt.Sprintf("%s=%q", label.GetName(), label.GetValue()))
	}
	sort.Strings(pairs)
	return name + "{" + strings.Join(pairs, ",") + "}"
}
