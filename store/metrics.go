package store

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	metricsNamespace = "bunker46"
	metricsSubsystem = "store"
)

var (
	// connectionsCreated counts connection records created.
	connectionsCreated = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: metricsNamespace,
		Subsystem: metricsSubsystem,
		Name:      "connections_created_total",
		Help:      "Total number of bunker connections created",
	})

	// auditRecordsTotal counts audit records by method and result.
	auditRecordsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: metricsSubsystem,
			Name:      "audit_records_total",
			Help:      "Total number of signing audit records",
		},
		[]string{"method", "result"},
	)

	// auditFailuresTotal counts failed audit stream appends.
	auditFailuresTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: metricsNamespace,
		Subsystem: metricsSubsystem,
		Name:      "audit_failures_total",
		Help:      "Total number of failed audit record writes",
	})
)
