package keys

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	metricsNamespace = "bunker46"
	metricsSubsystem = "keys"
)

var (
	// keysLoaded tracks the number of custodied keys currently loaded.
	keysLoaded = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: metricsNamespace,
		Subsystem: metricsSubsystem,
		Name:      "loaded",
		Help:      "Number of custodied keys currently loaded",
	})

	// keyReloadsTotal counts key directory reloads triggered by file changes.
	keyReloadsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: metricsNamespace,
		Subsystem: metricsSubsystem,
		Name:      "reloads_total",
		Help:      "Total number of key directory hot reloads",
	})
)
