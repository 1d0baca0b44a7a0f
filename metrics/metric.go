package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "BucketDB"

var (
	Registry = prometheus.NewRegistry()

	Updates = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "updates_total",
		Help:      "bucket entries inserted or replaced",
	})
	Removes = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "removes_total",
		Help:      "bucket entries removed",
	})
	GuardAcquires = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "guard_acquires_total",
		Help:      "read guards acquired",
	})
	Scans = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "scans_total",
		Help:      "distributor maintenance scans started",
	})

	Entries = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "entries",
		Help:      "buckets currently in the database",
	})
	ActiveGuards = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "active_guards",
		Help:      "read guards acquired and not yet closed",
	})
)

func init() {
	Registry.MustRegister(
		Updates,
		Removes,
		GuardAcquires,
		Scans,
		Entries,
		ActiveGuards,
	)
}
