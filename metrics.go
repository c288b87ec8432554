package snowlease

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics instruments a Service. All methods are safe on a nil receiver so
// the service body never has to branch on whether metrics are attached.
type Metrics struct {
	MintsTotal        prometheus.Counter
	MintFailuresTotal *prometheus.CounterVec // reason=not_ready|lease_lost|clock_regression
	AcquireTotal      *prometheus.CounterVec // result=success|exhausted|error
	RenewTotal        *prometheus.CounterVec // result=success|lost|unavailable
	LeaseLostTotal    prometheus.Counter
	EventsDropped     prometheus.Counter
	HeldSlot          prometheus.Gauge
}

// NewMetrics creates and registers the service metrics on the given
// registerer. Pass prometheus.DefaultRegisterer for the usual global registry.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	var factory = promauto.With(reg)

	return &Metrics{
		MintsTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "snowlease_mints_total",
			Help: "Total identifiers minted",
		}),
		MintFailuresTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "snowlease_mint_failures_total",
			Help: "Total mint calls that returned an error, by reason",
		}, []string{"reason"}),
		AcquireTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "snowlease_acquire_total",
			Help: "Total slot acquisition attempts by result",
		}, []string{"result"}),
		RenewTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "snowlease_renew_total",
			Help: "Total lease renewal attempts by result",
		}, []string{"result"}),
		LeaseLostTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "snowlease_lease_lost_total",
			Help: "Total times the worker lease was lost",
		}),
		EventsDropped: factory.NewCounter(prometheus.CounterOpts{
			Name: "snowlease_events_dropped_total",
			Help: "Total lifecycle events dropped because the emitter buffer was full",
		}),
		HeldSlot: factory.NewGauge(prometheus.GaugeOpts{
			Name: "snowlease_held_slot",
			Help: "Currently held worker slot, -1 when none",
		}),
	}
}

func (m *Metrics) mintOK() {
	if m == nil {
		return
	}
	m.MintsTotal.Inc()
}

func (m *Metrics) mintFailed(reason string) {
	if m == nil {
		return
	}
	m.MintFailuresTotal.WithLabelValues(reason).Inc()
}

func (m *Metrics) acquireResult(result string) {
	if m == nil {
		return
	}
	m.AcquireTotal.WithLabelValues(result).Inc()
}

func (m *Metrics) renewResult(result string) {
	if m == nil {
		return
	}
	m.RenewTotal.WithLabelValues(result).Inc()
}

func (m *Metrics) leaseLost() {
	if m == nil {
		return
	}
	m.LeaseLostTotal.Inc()
}

func (m *Metrics) eventDropped() {
	if m == nil {
		return
	}
	m.EventsDropped.Inc()
}

func (m *Metrics) heldSlot(slot int) {
	if m == nil {
		return
	}
	m.HeldSlot.Set(float64(slot))
}
