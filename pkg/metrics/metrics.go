package metrics

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
)

// MetricType selects the collector NewMetric builds. Only labelled vectors
// are used: every series in this service is partitioned.
type MetricType string

const (
	CounterVec   MetricType = "counter_vec"
	HistogramVec MetricType = "histogram_vec"
	SummaryVec   MetricType = "summary_vec"
)

// LatencyBuckets covers local pipeline steps (a few ms) up to receipt
// verification calls that wait on Apple and its retries (tens of seconds).
var LatencyBuckets = []float64{
	1, 2.5, 5, 10, 25, 50, 100, 250, 500,
	1000, 2500, 5000, 10000, 20000, 30000, 60000,
}

// Metric describes one collector. Buckets applies to histograms and defaults
// to LatencyBuckets.
type Metric struct {
	ID          string
	Name        string
	Description string
	Type        MetricType
	Args        []string
	Buckets     []float64
}

// NewMetric builds the collector for m. An unknown type is a programming
// error and panics.
func NewMetric(m *Metric, subsystem string) prometheus.Collector {
	switch m.Type {
	case CounterVec:
		return prometheus.NewCounterVec(prometheus.CounterOpts{
			Subsystem: subsystem,
			Name:      m.Name,
			Help:      m.Description,
		}, m.Args)
	case HistogramVec:
		buckets := m.Buckets
		if len(buckets) == 0 {
			buckets = LatencyBuckets
		}
		return prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Subsystem: subsystem,
			Name:      m.Name,
			Help:      m.Description,
			Buckets:   buckets,
		}, m.Args)
	case SummaryVec:
		return prometheus.NewSummaryVec(prometheus.SummaryOpts{
			Subsystem: subsystem,
			Name:      m.Name,
			Help:      m.Description,
		}, m.Args)
	}
	panic(fmt.Sprintf("metrics: %s has unknown type %q", m.ID, m.Type))
}

// RefererKey is the header the HTTP metrics take their "ref" label from.
const RefererKey = "X-Referer"
