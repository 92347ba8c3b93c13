// Package metrics exposes Prometheus collectors observing the supervisor's
// reconciliation passes: population sizes, promotions, reconciliation
// failures, and stolen-lock detections. Collectors are package-level and
// registered once via Register; every recording helper no-ops until then,
// so packages can call them unconditionally before a registry exists.
package metrics

import (
	"errors"
	"net/http"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	regOK atomic.Bool

	workerStarts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "hadc",
			Subsystem: "worker",
			Name:      "starts_total",
			Help:      "Number of workers spawned, by slot kind.",
		}, []string{"kind"},
	)
	workerPromotions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "hadc",
			Subsystem: "worker",
			Name:      "promotions_total",
			Help:      "Number of standby-to-main promotions observed.",
		}, []string{"slot"},
	)
	workerStops = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "hadc",
			Subsystem: "worker",
			Name:      "stops_total",
			Help:      "Number of workers observed to have stopped, by slot kind.",
		}, []string{"kind"},
	)
	reconcileDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "hadc",
			Subsystem: "reconcile",
			Name:      "duration_seconds",
			Help:      "Time spent in forkUntil waiting for a population to reach target.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"kind"},
	)
	reconcileFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "hadc",
			Subsystem: "reconcile",
			Name:      "failures_total",
			Help:      "Number of forkUntil rounds that exhausted their attempt budget short of target.",
		}, []string{"kind"},
	)
	stolenLocks = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "hadc",
			Subsystem: "reconcile",
			Name:      "stolen_locks_total",
			Help:      "Number of slots found held by an unexpected pid (stolen-lock detection).",
		}, []string{"kind"},
	)
	populationSize = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "hadc",
			Subsystem: "population",
			Name:      "current_size",
			Help:      "Currently observed live worker count, by slot kind.",
		}, []string{"kind"},
	)
	stateTransitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "hadc",
			Subsystem: "worker",
			Name:      "state_transitions_total",
			Help:      "Number of slot-kind transitions observed for a given slot id.",
		}, []string{"slot", "from", "to"},
	)
)

// Register registers all collectors with r. Safe to call more than once;
// calls after the first successful registration are no-ops.
func Register(r prometheus.Registerer) error {
	if regOK.Load() {
		return nil
	}
	cs := []prometheus.Collector{
		workerStarts, workerPromotions, workerStops, reconcileDuration,
		reconcileFailures, stolenLocks, populationSize, stateTransitions,
	}
	for _, c := range cs {
		if err := r.Register(c); err != nil {
			var are prometheus.AlreadyRegisteredError
			if errors.As(err, &are) {
				continue
			}
			return err
		}
	}
	regOK.Store(true)
	return nil
}

// Handler serves Prometheus metrics for the default gatherer.
func Handler() http.Handler { return promhttp.Handler() }

func IncWorkerStart(kind string) {
	if regOK.Load() {
		workerStarts.WithLabelValues(kind).Inc()
	}
}

func IncPromotion(slot string) {
	if regOK.Load() {
		workerPromotions.WithLabelValues(slot).Inc()
	}
}

func IncWorkerStop(kind string) {
	if regOK.Load() {
		workerStops.WithLabelValues(kind).Inc()
	}
}

func ObserveReconcileDuration(kind string, seconds float64) {
	if regOK.Load() {
		reconcileDuration.WithLabelValues(kind).Observe(seconds)
	}
}

func IncReconcileFailure(kind string) {
	if regOK.Load() {
		reconcileFailures.WithLabelValues(kind).Inc()
	}
}

func IncStolenLock(kind string) {
	if regOK.Load() {
		stolenLocks.WithLabelValues(kind).Inc()
	}
}

func SetPopulationSize(kind string, n int) {
	if regOK.Load() {
		populationSize.WithLabelValues(kind).Set(float64(n))
	}
}

func RecordStateTransition(slot, from, to string) {
	if regOK.Load() {
		stateTransitions.WithLabelValues(slot, from, to).Inc()
	}
}
