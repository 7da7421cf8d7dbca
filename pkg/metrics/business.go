package metrics

import (
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

const businessSubsystem = "receipts"

var MetricsBusinessProcess = &Metric{
	ID:          "bpDur",
	Name:        "bp_dur",
	Description: "process latency in milliseconds",
	Type:        HistogramVec,
	Args:        []string{"type", "subtype"},
}

var submissionsTotal = &Metric{
	ID:          "submissions",
	Name:        "submissions_total",
	Description: "Receipt submissions partitioned by final status and failure reason.",
	Type:        CounterVec,
	Args:        []string{"status", "reason"},
}

var validationAttempts = &Metric{
	ID:          "validationAttempts",
	Name:        "validation_attempts_total",
	Description: "Calls to the validation authority partitioned by outcome.",
	Type:        CounterVec,
	Args:        []string{"outcome"},
}

var ledgerInserts = &Metric{
	ID:          "ledgerInserts",
	Name:        "ledger_inserts_total",
	Description: "Idempotency ledger insert attempts partitioned by result.",
	Type:        CounterVec,
	Args:        []string{"kind", "result"},
}

// Recorder records the business metrics of the receipt pipeline. A nil
// *Recorder is valid and records nothing.
type Recorder struct {
	process     *prometheus.HistogramVec
	submissions *prometheus.CounterVec
	validations *prometheus.CounterVec
	ledger      *prometheus.CounterVec
}

func NewRecorder(reg prometheus.Registerer, log *zap.SugaredLogger) *Recorder {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	collect := func(m *Metric) prometheus.Collector {
		c := NewMetric(m, businessSubsystem)
		if err := reg.Register(c); err != nil {
			var are prometheus.AlreadyRegisteredError
			if errors.As(err, &are) {
				return are.ExistingCollector
			}
			if log != nil {
				log.Warnw("metric registration failed", "metric", m.Name, "err", err)
			}
		}
		return c
	}
	return &Recorder{
		process:     collect(MetricsBusinessProcess).(*prometheus.HistogramVec),
		submissions: collect(submissionsTotal).(*prometheus.CounterVec),
		validations: collect(validationAttempts).(*prometheus.CounterVec),
		ledger:      collect(ledgerInserts).(*prometheus.CounterVec),
	}
}

func (r *Recorder) ObserveProcess(typ, subtype string, start time.Time) {
	if r == nil {
		return
	}
	r.process.WithLabelValues(typ, subtype).Observe(MillisecondsSince(start))
}

func (r *Recorder) Submission(status, reason string) {
	if r == nil {
		return
	}
	r.submissions.WithLabelValues(status, reason).Inc()
}

func (r *Recorder) ValidationAttempt(outcome string) {
	if r == nil {
		return
	}
	r.validations.WithLabelValues(outcome).Inc()
}

func (r *Recorder) LedgerInsert(kind string, inserted bool) {
	if r == nil {
		return
	}
	result := "duplicate"
	if inserted {
		result = "inserted"
	}
	r.ledger.WithLabelValues(kind, result).Inc()
}

func newDefaultRecorder(log *zap.SugaredLogger) *Recorder {
	return NewRecorder(prometheus.DefaultRegisterer, log)
}

var Module = fx.Options(
	fx.Provide(newDefaultRecorder),
)
