package health

import (
	"fmt"
	"os"
	"sort"
	"time"

	"gopkg.in/yaml.v3"
)

type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

func (s Severity) rank() int {
	switch s {
	case SeverityInfo:
		return 1
	case SeverityWarning:
		return 2
	case SeverityCritical:
		return 3
	}
	return 0
}

type Op string

const (
	OpGT  Op = "gt"
	OpGTE Op = "gte"
	OpLT  Op = "lt"
	OpLTE Op = "lte"
)

func (o Op) holds(v, threshold float64) bool {
	switch o {
	case OpGT:
		return v > threshold
	case OpGTE:
		return v >= threshold
	case OpLT:
		return v < threshold
	case OpLTE:
		return v <= threshold
	}
	return false
}

// Rule is a threshold predicate over one metric.
type Rule struct {
	Name      string   `yaml:"name" json:"name"`
	Metric    string   `yaml:"metric" json:"metric"`
	Op        Op       `yaml:"op" json:"op"`
	Threshold float64  `yaml:"threshold" json:"threshold"`
	Severity  Severity `yaml:"severity" json:"severity"`
	Message   string   `yaml:"message" json:"message"`
	// MinProcessed suppresses the rule until the window holds at least this
	// many processed books.
	MinProcessed int `yaml:"min_processed" json:"min_processed,omitempty"`
}

func (r Rule) Validate() error {
	if r.Name == "" {
		return fmt.Errorf("rule without name")
	}
	if !knownMetric(r.Metric) {
		return fmt.Errorf("rule %s: unknown metric %q", r.Name, r.Metric)
	}
	switch r.Op {
	case OpGT, OpGTE, OpLT, OpLTE:
	default:
		return fmt.Errorf("rule %s: unknown op %q", r.Name, r.Op)
	}
	if r.Severity.rank() == 0 {
		return fmt.Errorf("rule %s: unknown severity %q", r.Name, r.Severity)
	}
	if r.MinProcessed < 0 {
		return fmt.Errorf("rule %s: min_processed must not be negative", r.Name)
	}
	return nil
}

func DefaultRules() []Rule {
	return []Rule{
		{Name: "error_rate_critical", Metric: MetricErrorRate, Op: OpGT, Threshold: 10, Severity: SeverityCritical, Message: "Error rate is critically high"},
		{Name: "error_rate_warning", Metric: MetricErrorRate, Op: OpGT, Threshold: 5, Severity: SeverityWarning, Message: "Error rate is elevated"},
		{Name: "success_rate_critical", Metric: MetricSuccessRate, Op: OpLT, Threshold: 75, Severity: SeverityCritical, Message: "Success rate is critically low"},
		{Name: "success_rate_warning", Metric: MetricSuccessRate, Op: OpLT, Threshold: 90, Severity: SeverityWarning, Message: "Success rate is below target"},
		{Name: "duplicate_rate_warning", Metric: MetricDuplicateRate, Op: OpGT, Threshold: 20, Severity: SeverityWarning, Message: "Many duplicate books detected"},
		{Name: "pending_backlog", Metric: MetricPendingBatches, Op: OpGT, Threshold: 10, Severity: SeverityInfo, Message: "Pending batch backlog is growing"},
		{Name: "throughput_stalled", Metric: MetricStalledBatches, Op: OpGT, Threshold: 0, Severity: SeverityWarning, Message: "Active batches made no progress in the window"},
	}
}

type ruleFile struct {
	Rules []Rule `yaml:"rules"`
}

// LoadRules reads a YAML rule file of the form `rules: [...]`.
func LoadRules(path string) ([]Rule, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read rules: %w", err)
	}
	return ParseRules(data)
}

func ParseRules(data []byte) ([]Rule, error) {
	var f ruleFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse rules: %w", err)
	}
	if len(f.Rules) == 0 {
		return nil, fmt.Errorf("parse rules: no rules defined")
	}
	seen := make(map[string]bool, len(f.Rules))
	for _, r := range f.Rules {
		if err := r.Validate(); err != nil {
			return nil, err
		}
		if seen[r.Name] {
			return nil, fmt.Errorf("rule %s defined twice", r.Name)
		}
		seen[r.Name] = true
	}
	return f.Rules, nil
}

type Status string

const (
	StatusHealthy   Status = "healthy"
	StatusDegraded  Status = "degraded"
	StatusUnhealthy Status = "unhealthy"
)

// Alert is a rule that fired during one evaluation.
type Alert struct {
	Rule        string    `json:"rule"`
	Metric      string    `json:"metric"`
	Severity    Severity  `json:"severity"`
	Message     string    `json:"message"`
	Value       float64   `json:"value"`
	Threshold   float64   `json:"threshold"`
	TriggeredAt time.Time `json:"triggered_at"`
	Snapshot    Metrics   `json:"snapshot"`
}

type Report struct {
	Status      Status    `json:"status"`
	Alerts      []Alert   `json:"alerts"`
	Metrics     Metrics   `json:"metrics"`
	EvaluatedAt time.Time `json:"evaluated_at"`
}

// Evaluate grades m against rules. It keeps at most one alert per metric,
// the most severe one, and is deterministic for the same inputs.
func Evaluate(rules []Rule, m Metrics, now time.Time) Report {
	byMetric := make(map[string]Alert)
	for _, r := range rules {
		if r.MinProcessed > 0 && m.Processed < r.MinProcessed {
			continue
		}
		v, ok := m.Value(r.Metric)
		if !ok || !r.Op.holds(v, r.Threshold) {
			continue
		}
		if prev, dup := byMetric[r.Metric]; dup && prev.Severity.rank() >= r.Severity.rank() {
			continue
		}
		byMetric[r.Metric] = Alert{
			Rule:        r.Name,
			Metric:      r.Metric,
			Severity:    r.Severity,
			Message:     r.Message,
			Value:       v,
			Threshold:   r.Threshold,
			TriggeredAt: now,
			Snapshot:    m,
		}
	}

	alerts := make([]Alert, 0, len(byMetric))
	for _, a := range byMetric {
		alerts = append(alerts, a)
	}
	sort.Slice(alerts, func(i, j int) bool {
		if ri, rj := alerts[i].Severity.rank(), alerts[j].Severity.rank(); ri != rj {
			return ri > rj
		}
		return alerts[i].Metric < alerts[j].Metric
	})

	return Report{Status: statusOf(alerts), Alerts: alerts, Metrics: m, EvaluatedAt: now}
}

func statusOf(alerts []Alert) Status {
	status := StatusHealthy
	for _, a := range alerts {
		switch a.Severity {
		case SeverityCritical:
			return StatusUnhealthy
		case SeverityWarning:
			status = StatusDegraded
		}
	}
	return status
}
