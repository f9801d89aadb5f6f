// Package lagmon polls consumer group offsets against partition high-water
// marks and raises alerts when lag or estimated catch-up latency breach the
// configured thresholds.
package lagmon

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	kafkax "github.com/omnia-oms/go-order-ingest/internal/kafka"
)

// historyCap bounds the sample ring buffer backing Trends.
const historyCap = 100

// OffsetSource answers the committed-offset/high-water-mark question for one
// group and topic. Satisfied by kafka.OffsetReader.
type OffsetSource interface {
	GroupTopicOffsets(ctx context.Context, groupID, topic string) ([]kafkax.PartitionOffset, error)
}

type Thresholds struct {
	WarningLag        int64
	CriticalLag       int64
	WarningLatencyMs  int64
	CriticalLatencyMs int64
}

// Target is one group/topic pair under watch.
type Target struct {
	GroupID string
	Topic   string
}

// Sample is one poll's aggregate for a single target.
type Sample struct {
	GroupID    string                  `json:"groupId"`
	Topic      string                  `json:"topic"`
	Timestamp  time.Time               `json:"timestamp"`
	Partitions []kafkax.PartitionOffset `json:"partitions"`
	TotalLag   int64                   `json:"totalLag"`
	MaxLag     int64                   `json:"maxLag"`
	AvgLagMs   float64                 `json:"avgLagMs"`
	Health     string                  `json:"health"` // healthy | warning | critical
}

// groupState carries what the latency estimate needs between polls.
type groupState struct {
	committed int64
	avgLagMs  float64
	at        time.Time
}

type Config struct {
	Interval   time.Duration
	Thresholds Thresholds
	Targets    []Target
}

func (c *Config) defaults() {
	if c.Interval <= 0 {
		c.Interval = 30 * time.Second
	}
	if c.Thresholds.WarningLag <= 0 {
		c.Thresholds.WarningLag = 50
	}
	if c.Thresholds.CriticalLag <= 0 {
		c.Thresholds.CriticalLag = 100
	}
	if c.Thresholds.WarningLatencyMs <= 0 {
		c.Thresholds.WarningLatencyMs = 5000
	}
	if c.Thresholds.CriticalLatencyMs <= 0 {
		c.Thresholds.CriticalLatencyMs = 10000
	}
}

type Monitor struct {
	cfg Config
	src OffsetSource
	log *slog.Logger

	mu      sync.Mutex
	polling bool
	started bool
	latest  map[Target]Sample
	history []Sample
	alerts  []Alert
	prev    map[Target]groupState

	stopOnce sync.Once
	stop     chan struct{}
	done     chan struct{}

	now func() time.Time
}

func NewMonitor(cfg Config, src OffsetSource, log *slog.Logger) *Monitor {
	cfg.defaults()
	return &Monitor{
		cfg:    cfg,
		src:    src,
		log:    log,
		latest: map[Target]Sample{},
		prev:   map[Target]groupState{},
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
		now:    time.Now,
	}
}

// Start polls on the configured interval until Stop is called or ctx is
// cancelled. The first poll fires immediately.
func (m *Monitor) Start(ctx context.Context) {
	m.mu.Lock()
	m.started = true
	m.mu.Unlock()
	go func() {
		defer close(m.done)
		ticker := time.NewTicker(m.cfg.Interval)
		defer ticker.Stop()

		m.Poll(ctx)
		for {
			select {
			case <-ctx.Done():
				return
			case <-m.stop:
				return
			case <-ticker.C:
				m.Poll(ctx)
			}
		}
	}()
	m.log.Info("lag monitor started",
		"interval", m.cfg.Interval, "targets", len(m.cfg.Targets))
}

// Stop is idempotent and waits for the polling loop to exit. Stopping a
// monitor that was never started returns immediately.
func (m *Monitor) Stop() {
	m.stopOnce.Do(func() { close(m.stop) })
	m.mu.Lock()
	started := m.started
	m.mu.Unlock()
	if started {
		<-m.done
	}
	m.log.Info("lag monitor stopped")
}

// Poll runs one collection pass over every target. Overlapping calls are
// dropped: a slow broker round-trip never stacks a second poll on top.
func (m *Monitor) Poll(ctx context.Context) {
	m.mu.Lock()
	if m.polling {
		m.mu.Unlock()
		m.log.Debug("poll already in flight, skipping")
		return
	}
	m.polling = true
	m.mu.Unlock()
	defer func() {
		m.mu.Lock()
		m.polling = false
		m.mu.Unlock()
	}()

	for _, t := range m.cfg.Targets {
		offsets, err := m.src.GroupTopicOffsets(ctx, t.GroupID, t.Topic)
		if err != nil {
			m.log.Warn("failed to collect consumer lag",
				"groupId", t.GroupID, "topic", t.Topic, "error", err)
			m.mu.Lock()
			m.record([]Alert{{
				ID:        uuid.NewString(),
				Timestamp: m.now(),
				Severity:  SeverityWarning,
				Type:      AlertConsumerError,
				GroupID:   t.GroupID,
				Topic:     t.Topic,
				Message:   "offset collection failed: " + err.Error(),
			}})
			m.mu.Unlock()
			continue
		}
		sample := m.aggregate(t, offsets)

		m.mu.Lock()
		m.latest[t] = sample
		m.history = append(m.history, sample)
		if len(m.history) > historyCap {
			m.history = m.history[len(m.history)-historyCap:]
		}
		alerts := m.cfg.Thresholds.evaluate(&sample)
		m.record(alerts)
		m.mu.Unlock()
	}
}

// aggregate folds partition offsets into a sample and estimates the catch-up
// latency from the committed-offset delta since the previous poll. No
// progress while lagging grows the estimate by the elapsed wall time.
func (m *Monitor) aggregate(t Target, offsets []kafkax.PartitionOffset) Sample {
	s := Sample{
		GroupID:    t.GroupID,
		Topic:      t.Topic,
		Timestamp:  m.now(),
		Partitions: offsets,
	}
	var committed int64
	for _, po := range offsets {
		s.TotalLag += po.Lag
		if po.Lag > s.MaxLag {
			s.MaxLag = po.Lag
		}
		committed += po.CurrentOffset
	}

	m.mu.Lock()
	prev, seen := m.prev[t]
	switch {
	case s.TotalLag == 0:
		s.AvgLagMs = 0
	case !seen:
		s.AvgLagMs = 0 // no rate yet
	default:
		elapsed := s.Timestamp.Sub(prev.at)
		consumed := committed - prev.committed
		if consumed > 0 && elapsed > 0 {
			rate := float64(consumed) / elapsed.Seconds()
			s.AvgLagMs = float64(s.TotalLag) / rate * 1000
		} else {
			s.AvgLagMs = prev.avgLagMs + float64(elapsed.Milliseconds())
		}
	}
	m.prev[t] = groupState{committed: committed, avgLagMs: s.AvgLagMs, at: s.Timestamp}
	m.mu.Unlock()

	s.Health = m.classify(&s)
	return s
}

func (m *Monitor) classify(s *Sample) string {
	t := m.cfg.Thresholds
	switch {
	case s.MaxLag > t.CriticalLag || s.AvgLagMs > float64(t.CriticalLatencyMs):
		return "critical"
	case s.MaxLag > t.WarningLag || s.AvgLagMs > float64(t.WarningLatencyMs):
		return "warning"
	default:
		return "healthy"
	}
}

// Report is the latest sample per target.
func (m *Monitor) Report() []Sample {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Sample, 0, len(m.latest))
	for _, t := range m.cfg.Targets {
		if s, ok := m.latest[t]; ok {
			out = append(out, s)
		}
	}
	return out
}

// Alerts returns the retained alert log, oldest first.
func (m *Monitor) Alerts() []Alert {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Alert, len(m.alerts))
	copy(out, m.alerts)
	return out
}

// Trends returns the samples recorded within the trailing window.
func (m *Monitor) Trends(window time.Duration) []Sample {
	cutoff := m.now().Add(-window)
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Sample
	for _, s := range m.history {
		if !s.Timestamp.Before(cutoff) {
			out = append(out, s)
		}
	}
	return out
}
