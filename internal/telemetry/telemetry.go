package telemetry

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// MetricType represents the type of metric
type MetricType string

const (
	Counter MetricType = "counter"
	Gauge   MetricType = "gauge"
	Timer   MetricType = "timer"
)

// Metric is one aggregated series since the last flush.
type Metric struct {
	Name   string            `json:"name"`
	Type   MetricType        `json:"type"`
	Labels map[string]string `json:"labels"`
	Count  uint64            `json:"count"`
	Value  float64           `json:"value"`
	Max    float64           `json:"max,omitempty"`
	Unit   string            `json:"unit,omitempty"`
}

// Collector aggregates request metrics in memory and writes them to the log.
type Collector struct {
	mu       sync.Mutex
	series   map[string]*Metric
	enabled  bool
	interval time.Duration
	logger   zerolog.Logger
	ctx      context.Context
	cancel   context.CancelFunc
	done     chan struct{}
}

// NewCollector creates a collector. A disabled collector drops every record.
func NewCollector(enabled bool, interval time.Duration) *Collector {
	ctx, cancel := context.WithCancel(context.Background())
	c := &Collector{
		series:   make(map[string]*Metric),
		enabled:  enabled,
		interval: interval,
		logger:   log.Logger,
		ctx:      ctx,
		cancel:   cancel,
		done:     make(chan struct{}),
	}
	if enabled && interval > 0 {
		go c.periodicFlush()
	} else {
		close(c.done)
	}
	return c
}

// SetLogger replaces the logger metrics are flushed to.
func (c *Collector) SetLogger(l zerolog.Logger) {
	c.mu.Lock()
	c.logger = l
	c.mu.Unlock()
}

// Enabled reports whether records are kept.
func (c *Collector) Enabled() bool { return c.enabled }

// Counter adds value to a counter series
func (c *Collector) Counter(name string, value float64, labels map[string]string) {
	if !c.enabled {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	m := c.get(name, Counter, labels)
	m.Count++
	m.Value += value
}

// Gauge sets a gauge series to its latest value
func (c *Collector) Gauge(name string, value float64, labels map[string]string) {
	if !c.enabled {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	m := c.get(name, Gauge, labels)
	m.Count++
	m.Value = value
}

// Timer records a duration in milliseconds
func (c *Collector) Timer(name string, d time.Duration, labels map[string]string) {
	if !c.enabled {
		return
	}
	ms := float64(d) / float64(time.Millisecond)
	c.mu.Lock()
	defer c.mu.Unlock()
	m := c.get(name, Timer, labels)
	m.Unit = "ms"
	m.Count++
	m.Value += ms
	if ms > m.Max {
		m.Max = ms
	}
}

// caller holds c.mu
func (c *Collector) get(name string, typ MetricType, labels map[string]string) *Metric {
	key := seriesKey(name, labels)
	m, ok := c.series[key]
	if !ok {
		cp := make(map[string]string, len(labels))
		for k, v := range labels {
			cp[k] = v
		}
		m = &Metric{Name: name, Type: typ, Labels: cp}
		c.series[key] = m
	}
	return m
}

func seriesKey(name string, labels map[string]string) string {
	pairs := make([]string, 0, len(labels))
	for k, v := range labels {
		pairs = append(pairs, k+"="+v)
	}
	sort.Strings(pairs)
	return name + "{" + strings.Join(pairs, ",") + "}"
}

// Snapshot returns the current series sorted by name and labels.
func (c *Collector) Snapshot() []Metric {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snapshotLocked()
}

func (c *Collector) snapshotLocked() []Metric {
	keys := make([]string, 0, len(c.series))
	for k := range c.series {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]Metric, 0, len(keys))
	for _, k := range keys {
		out = append(out, *c.series[k])
	}
	return out
}

// Flush writes every series to the log and resets the collector.
func (c *Collector) Flush() {
	c.mu.Lock()
	metrics := c.snapshotLocked()
	c.series = make(map[string]*Metric)
	logger := c.logger
	c.mu.Unlock()

	if len(metrics) == 0 {
		return
	}
	logger.Debug().Int("count", len(metrics)).Msg("Flushing telemetry metrics")
	for _, m := range metrics {
		ev := logger.Info().
			Str("name", m.Name).
			Str("type", string(m.Type)).
			Uint64("count", m.Count).
			Float64("value", m.Value).
			Interface("labels", m.Labels)
		if m.Type == Timer {
			ev = ev.Float64("max", m.Max).Str("unit", m.Unit)
		}
		ev.Msg("telemetry_metric")
	}
}

func (c *Collector) periodicFlush() {
	defer close(c.done)
	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()
	for {
		select {
		case <-c.ctx.Done():
			return
		case <-ticker.C:
			c.Flush()
		}
	}
}

// Shutdown stops the flush loop and writes what is left.
func (c *Collector) Shutdown() {
	c.cancel()
	<-c.done
	c.Flush()
}

var (
	globalMu        sync.Mutex
	globalCollector *Collector
)

// InitGlobal replaces the global collector, shutting down the previous one.
func InitGlobal(enabled bool, interval time.Duration) *Collector {
	c := NewCollector(enabled, interval)
	globalMu.Lock()
	prev := globalCollector
	globalCollector = c
	globalMu.Unlock()
	if prev != nil {
		prev.Shutdown()
	}
	return c
}

// GetGlobal returns the global collector, a disabled one if none was set.
func GetGlobal() *Collector {
	globalMu.Lock()
	defer globalMu.Unlock()
	if globalCollector == nil {
		globalCollector = NewCollector(false, 0)
	}
	return globalCollector
}

// CounterGlobal increments a counter using the global collector
func CounterGlobal(name string, value float64, labels map[string]string) {
	GetGlobal().Counter(name, value, labels)
}

// TimerGlobal records a timer using the global collector
func TimerGlobal(name string, d time.Duration, labels map[string]string) {
	GetGlobal().Timer(name, d, labels)
}

// Shutdown shuts down the global collector
func Shutdown() {
	globalMu.Lock()
	c := globalCollector
	globalMu.Unlock()
	if c != nil {
		c.Shutdown()
	}
}
