package telemetry

import (
	"context"
	"runtime"
	"time"
)

// RuntimeMonitor samples process gauges into a collector while serving.
type RuntimeMonitor struct {
	collector *Collector
	startTime time.Time
	lastGC    uint32
	cancel    context.CancelFunc
	done      chan struct{}
}

// StartRuntimeMonitor samples every interval until Stop. It does nothing
// when the collector is disabled.
func StartRuntimeMonitor(c *Collector, interval time.Duration) *RuntimeMonitor {
	ctx, cancel := context.WithCancel(context.Background())
	rm := &RuntimeMonitor{
		collector: c,
		startTime: time.Now(),
		cancel:    cancel,
		done:      make(chan struct{}),
	}
	if !c.Enabled() || interval <= 0 {
		close(rm.done)
		return rm
	}
	go func() {
		defer close(rm.done)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				rm.Sample()
			}
		}
	}()
	return rm
}

// Sample records heap, goroutine, GC and uptime gauges once.
func (rm *RuntimeMonitor) Sample() {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)

	labels := map[string]string{"component": "runtime"}
	rm.collector.Gauge("hello_memory_heap_bytes", float64(m.HeapAlloc), labels)
	rm.collector.Gauge("hello_goroutines", float64(runtime.NumGoroutine()), labels)
	rm.collector.Counter("hello_gc_total", float64(m.NumGC-rm.lastGC), labels)
	rm.collector.Gauge("hello_uptime_seconds", time.Since(rm.startTime).Seconds(), labels)
	rm.lastGC = m.NumGC
}

// Stop ends sampling.
func (rm *RuntimeMonitor) Stop() {
	rm.cancel()
	<-rm.done
}
