// Package metrics provides Prometheus instrumentation for the grace
// coordinator. Every method is nil-receiver safe, so components can hold a
// *Metrics obtained with no registry and call it unconditionally.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Label values used across the vectors below.
const (
	LabelObject = "object"
	LabelNodeID = "node_id"
	LabelResult = "result"
	LabelOp     = "op"

	ResultOK      = "ok"
	ResultError   = "error"
	ResultRetried = "retried"

	OpStart      = "start"
	OpJoin       = "join"
	OpLift       = "lift"
	OpDone       = "done"
	OpEnforcing  = "enforcing"
	OpWatch      = "watch"
)

// Metrics holds the Prometheus collectors for the grace coordinator and
// recovery backend. A nil *Metrics is safe to call methods on: every method
// starts with a nil check.
type Metrics struct {
	casAttemptsTotal   *prometheus.CounterVec
	casRetriesTotal    *prometheus.CounterVec
	casDuration        *prometheus.HistogramVec
	graceActive        *prometheus.GaugeVec
	graceMembers       *prometheus.GaugeVec
	reclaimEntriesRead *prometheus.CounterVec
	watchReconnects    *prometheus.CounterVec
	watchNotifications *prometheus.CounterVec
}

// New creates the grace coordinator's metrics. If registry is non-nil, the
// collectors are registered against it; pass nil in tests to get working
// but unregistered collectors.
func New(registry prometheus.Registerer) *Metrics {
	m := &Metrics{
		casAttemptsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "gracecoord",
				Subsystem: "store",
				Name:      "cas_attempts_total",
				Help:      "Total compare-and-swap attempts against a shared object, by operation and outcome.",
			},
			[]string{LabelObject, LabelOp, LabelResult},
		),
		casRetriesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "gracecoord",
				Subsystem: "store",
				Name:      "cas_retries_total",
				Help:      "Total compare-and-swap retries caused by a version mismatch.",
			},
			[]string{LabelObject, LabelOp},
		),
		casDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "gracecoord",
				Subsystem: "store",
				Name:      "cas_duration_seconds",
				Help:      "Time to complete a compare-and-swap loop, including retries.",
				Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
			},
			[]string{LabelObject, LabelOp},
		),
		graceActive: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: "gracecoord",
				Subsystem: "grace",
				Name:      "active",
				Help:      "1 if a grace period is active for the object, 0 otherwise.",
			},
			[]string{LabelObject},
		),
		graceMembers: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: "gracecoord",
				Subsystem: "grace",
				Name:      "members",
				Help:      "Number of nodes currently awaiting reclaim for the object.",
			},
			[]string{LabelObject},
		),
		reclaimEntriesRead: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "gracecoord",
				Subsystem: "recovery",
				Name:      "entries_read_total",
				Help:      "Total recovery database entries traversed during ReadClids.",
			},
			[]string{LabelNodeID},
		),
		watchReconnects: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "gracecoord",
				Subsystem: "watch",
				Name:      "reconnects_total",
				Help:      "Total watch re-registrations after a lost subscription.",
			},
			[]string{LabelObject},
		),
		watchNotifications: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "gracecoord",
				Subsystem: "watch",
				Name:      "notifications_total",
				Help:      "Total watch notifications delivered.",
			},
			[]string{LabelObject},
		),
	}

	if registry != nil {
		registry.MustRegister(
			m.casAttemptsTotal,
			m.casRetriesTotal,
			m.casDuration,
			m.graceActive,
			m.graceMembers,
			m.reclaimEntriesRead,
			m.watchReconnects,
			m.watchNotifications,
		)
	}
	return m
}

// ObserveCAS records the outcome and duration of one compare-and-swap loop.
func (m *Metrics) ObserveCAS(object, op string, retries int, duration time.Duration, err error) {
	if m == nil {
		return
	}
	result := ResultOK
	if err != nil {
		result = ResultError
	}
	m.casAttemptsTotal.WithLabelValues(object, op, result).Inc()
	if retries > 0 {
		m.casRetriesTotal.WithLabelValues(object, op).Add(float64(retries))
	}
	m.casDuration.WithLabelValues(object, op).Observe(duration.Seconds())
}

// SetGraceActive records whether a grace period is active for object.
func (m *Metrics) SetGraceActive(object string, active bool) {
	if m == nil {
		return
	}
	val := 0.0
	if active {
		val = 1.0
	}
	m.graceActive.WithLabelValues(object).Set(val)
}

// SetGraceMembers records the size of the reclaim cohort for object.
func (m *Metrics) SetGraceMembers(object string, count int) {
	if m == nil {
		return
	}
	m.graceMembers.WithLabelValues(object).Set(float64(count))
}

// ObserveReclaimEntries records how many recovery database entries a node
// traversed during ReadClids.
func (m *Metrics) ObserveReclaimEntries(nodeID string, count int) {
	if m == nil {
		return
	}
	m.reclaimEntriesRead.WithLabelValues(nodeID).Add(float64(count))
}

// ObserveWatchReconnect records a watch re-registration for object.
func (m *Metrics) ObserveWatchReconnect(object string) {
	if m == nil {
		return
	}
	m.watchReconnects.WithLabelValues(object).Inc()
}

// ObserveWatchNotification records a delivered watch notification for object.
func (m *Metrics) ObserveWatchNotification(object string) {
	if m == nil {
		return
	}
	m.watchNotifications.WithLabelValues(object).Inc()
}
