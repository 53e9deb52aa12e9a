package observability

import (
	"context"
	"runtime"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/dsbaars/bunker46/logging"
)

const (
	metricsNamespace = "bunker46"

	runtimeCollectInterval = 15 * time.Second
)

var (
	runtimeGoroutines = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: metricsNamespace,
		Subsystem: "runtime",
		Name:      "goroutines",
		Help:      "Number of goroutines.",
	})
	runtimeHeapAlloc = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: metricsNamespace,
		Subsystem: "runtime",
		Name:      "heap_alloc_bytes",
		Help:      "Bytes of allocated heap objects.",
	})
	runtimeHeapSys = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: metricsNamespace,
		Subsystem: "runtime",
		Name:      "heap_sys_bytes",
		Help:      "Bytes of heap memory obtained from the OS.",
	})
	runtimeNumGC = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: metricsNamespace,
		Subsystem: "runtime",
		Name:      "gc_cycles",
		Help:      "Completed GC cycles.",
	})
	runtimeGCPause = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: metricsNamespace,
		Subsystem: "runtime",
		Name:      "gc_pause_total_seconds",
		Help:      "Cumulative GC pause time.",
	})
)

// RuntimeMetricsCollector samples Go runtime statistics on a fixed
// interval and exports them as gauges.
type RuntimeMetricsCollector struct {
	logger   logging.Logger
	stopCh   chan struct{}
	stopOnce sync.Once
}

func NewRuntimeMetricsCollector(logger logging.Logger) *RuntimeMetricsCollector {
	return &RuntimeMetricsCollector{
		logger: logging.ForComponent(logger, logging.ComponentObservability),
		stopCh: make(chan struct{}),
	}
}

// Start begins the sampling loop. It stops when ctx is canceled or Stop
// is called.
func (c *RuntimeMetricsCollector) Start(ctx context.Context) {
	go logging.RecoverGoRoutine(c.logger, logging.ComponentObservability, func(ctx context.Context) {
		ticker := time.NewTicker(runtimeCollectInterval)
		defer ticker.Stop()

		c.collect()
		for {
			select {
			case <-ctx.Done():
				return
			case <-c.stopCh:
				return
			case <-ticker.C:
				c.collect()
			}
		}
	})(ctx)
}

// Stop halts the sampling loop.
func (c *RuntimeMetricsCollector) Stop() {
	c.stopOnce.Do(func() { close(c.stopCh) })
}

func (c *RuntimeMetricsCollector) collect() {
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)

	runtimeGoroutines.Set(float64(runtime.NumGoroutine()))
	runtimeHeapAlloc.Set(float64(ms.HeapAlloc))
	runtimeHeapSys.Set(float64(ms.HeapSys))
	runtimeNumGC.Set(float64(ms.NumGC))
	runtimeGCPause.Set(time.Duration(ms.PauseTotalNs).Seconds())
}
