package health

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"bookpipeline/internal/batch"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// BatchGauges is the registry view the monitor needs.
type BatchGauges interface {
	Gauges(ctx context.Context) (batch.Gauges, error)
}

type gauges struct {
	metric *prometheus.GaugeVec
	status prometheus.Gauge
	alerts *prometheus.GaugeVec
}

func newGauges(reg prometheus.Registerer) gauges {
	f := promauto.With(reg)
	return gauges{
		metric: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "bookpipeline",
			Subsystem: "health",
			Name:      "metric",
			Help:      "Latest value of each pipeline health metric.",
		}, []string{"metric"}),
		status: f.NewGauge(prometheus.GaugeOpts{
			Namespace: "bookpipeline",
			Subsystem: "health",
			Name:      "status",
			Help:      "Pipeline health: 0 healthy, 1 degraded, 2 unhealthy.",
		}),
		alerts: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "bookpipeline",
			Subsystem: "health",
			Name:      "alerts",
			Help:      "Alerts raised by the last evaluation, by severity.",
		}, []string{"severity"}),
	}
}

// Monitor composes the aggregator, the batch registry and the rule set
// into a health report.
type Monitor struct {
	agg    *Aggregator
	stats  BatchGauges
	rules  *RuleSet
	gauges gauges
	logger *slog.Logger
	now    func() time.Time
}

// NewMonitor registers the health gauges on reg. A nil reg skips
// registration.
func NewMonitor(agg *Aggregator, stats BatchGauges, rules *RuleSet, reg prometheus.Registerer, logger *slog.Logger) *Monitor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Monitor{
		agg:    agg,
		stats:  stats,
		rules:  rules,
		gauges: newGauges(reg),
		logger: logger.With("component", "health"),
		now:    time.Now,
	}
}

// Metrics collects the current metric snapshot.
func (m *Monitor) Metrics(ctx context.Context) (Metrics, error) {
	now := m.now()
	snap := m.agg.Snapshot(now)

	st, err := m.stats.Gauges(ctx)
	if err != nil {
		return Metrics{}, fmt.Errorf("batch gauges: %w", err)
	}
	snap.ActiveBatches = st.ActiveBatches
	snap.PendingBatches = st.PendingBatches
	snap.TotalBooksToday = st.BooksToday
	snap.FailedBooksToday = st.FailedBooksToday
	snap.CurrentBatchProgress = st.CurrentProgress
	if st.ActiveBatches > 0 && snap.Processed == 0 {
		snap.StalledBatches = st.ActiveBatches
	}
	return snap, nil
}

// Health evaluates the current rules and publishes the result as gauges.
func (m *Monitor) Health(ctx context.Context) (Report, error) {
	metrics, err := m.Metrics(ctx)
	if err != nil {
		return Report{}, err
	}
	report := Evaluate(m.rules.Rules(), metrics, m.now().UTC())
	m.publish(report)
	if report.Status != StatusHealthy {
		m.logger.Debug("pipeline not healthy", "status", report.Status, "alerts", len(report.Alerts))
	}
	return report, nil
}

func (m *Monitor) publish(r Report) {
	for _, name := range MetricNames {
		v, _ := r.Metrics.Value(name)
		m.gauges.metric.WithLabelValues(name).Set(v)
	}
	switch r.Status {
	case StatusUnhealthy:
		m.gauges.status.Set(2)
	case StatusDegraded:
		m.gauges.status.Set(1)
	default:
		m.gauges.status.Set(0)
	}
	counts := map[Severity]int{}
	for _, a := range r.Alerts {
		counts[a.Severity]++
	}
	for _, s := range []Severity{SeverityInfo, SeverityWarning, SeverityCritical} {
		m.gauges.alerts.WithLabelValues(string(s)).Set(float64(counts[s]))
	}
}
