package lagmon

import (
	"time"

	"github.com/google/uuid"

	"github.com/omnia-oms/go-order-ingest/internal/metrics"
)

const (
	SeverityWarning  = "warning"
	SeverityCritical = "critical"

	AlertHighLag       = "HIGH_LAG"
	AlertHighLatency   = "HIGH_LATENCY"
	AlertConsumerError = "CONSUMER_ERROR"
)

// maxAlerts bounds the in-memory alert log; oldest entries are dropped first.
const maxAlerts = 1000

type Alert struct {
	ID        string    `json:"id"`
	Timestamp time.Time `json:"timestamp"`
	Severity  string    `json:"severity"`
	Type      string    `json:"type"`
	GroupID   string    `json:"groupId"`
	Topic     string    `json:"topic"`
	TotalLag  int64     `json:"totalLag"`
	MaxLag    int64     `json:"maxLag"`
	AvgLagMs  float64   `json:"avgLagMs"`
	Message   string    `json:"message"`
}

// evaluate classifies one sample against the thresholds and returns the alerts
// it warrants. Lag and latency breaches are reported separately so the alert
// type names the actual breach.
func (t Thresholds) evaluate(s *Sample) []Alert {
	var alerts []Alert

	if s.MaxLag > t.WarningLag {
		severity := SeverityWarning
		if s.MaxLag > t.CriticalLag {
			severity = SeverityCritical
		}
		alerts = append(alerts, Alert{
			Severity: severity,
			Type:     AlertHighLag,
			Message:  "consumer lag exceeds threshold",
		})
	}
	if s.AvgLagMs > float64(t.WarningLatencyMs) {
		severity := SeverityWarning
		if s.AvgLagMs > float64(t.CriticalLatencyMs) {
			severity = SeverityCritical
		}
		alerts = append(alerts, Alert{
			Severity: severity,
			Type:     AlertHighLatency,
			Message:  "estimated catch-up latency exceeds threshold",
		})
	}

	for i := range alerts {
		a := &alerts[i]
		a.ID = uuid.NewString()
		a.Timestamp = s.Timestamp
		a.GroupID = s.GroupID
		a.Topic = s.Topic
		a.TotalLag = s.TotalLag
		a.MaxLag = s.MaxLag
		a.AvgLagMs = s.AvgLagMs
	}
	return alerts
}

// record appends alerts under the cap and emits them. Critical alerts are
// logged synchronously before record returns so operators see them even if
// the process dies right after.
func (m *Monitor) record(alerts []Alert) {
	for _, a := range alerts {
		m.alerts = append(m.alerts, a)
		if len(m.alerts) > maxAlerts {
			m.alerts = m.alerts[len(m.alerts)-maxAlerts:]
		}
		metrics.LagAlerts.WithLabelValues(a.Severity).Inc()

		attrs := []any{
			"alertId", a.ID, "type", a.Type, "groupId", a.GroupID, "topic", a.Topic,
			"totalLag", a.TotalLag, "maxLag", a.MaxLag, "avgLagMs", a.AvgLagMs,
		}
		if a.Severity == SeverityCritical {
			m.log.Error("critical consumer lag alert", attrs...)
		} else {
			m.log.Warn("consumer lag alert", attrs...)
		}
	}
}
