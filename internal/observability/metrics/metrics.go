package metrics

import "github.com/prometheus/client_golang/prometheus"

// BookingMetrics exposes counters/histograms for the booking core and the reminder sweep.
type BookingMetrics struct {
	operations    *prometheus.CounterVec
	sideEffects   *prometheus.CounterVec
	reminders     *prometheus.CounterVec
	sweepDuration prometheus.Histogram
}

func NewBookingMetrics(reg prometheus.Registerer) *BookingMetrics {
	m := &BookingMetrics{
		operations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "clinic",
			Subsystem: "booking",
			Name:      "operations_total",
			Help:      "Appointment and slot operations by outcome",
		}, []string{"operation", "outcome"}),
		sideEffects: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "clinic",
			Subsystem: "booking",
			Name:      "side_effect_failures_total",
			Help:      "Best-effort steps that failed without aborting the booking",
		}, []string{"step"}),
		reminders: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "clinic",
			Subsystem: "reminders",
			Name:      "dispatched_total",
			Help:      "Reminder sends by channel and delivery status",
		}, []string{"channel", "status"}),
		sweepDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "clinic",
			Subsystem: "reminders",
			Name:      "sweep_duration_seconds",
			Help:      "Wall time of one reminder sweep",
			Buckets:   prometheus.DefBuckets,
		}),
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(m.operations, m.sideEffects, m.reminders, m.sweepDuration)
	return m
}

func (m *BookingMetrics) ObserveOperation(operation, outcome string) {
	if m == nil {
		return
	}
	m.operations.WithLabelValues(operation, outcome).Inc()
}

func (m *BookingMetrics) ObserveSideEffectFailure(step string) {
	if m == nil {
		return
	}
	m.sideEffects.WithLabelValues(step).Inc()
}

func (m *BookingMetrics) ObserveReminder(channel, status string) {
	if m == nil {
		return
	}
	m.reminders.WithLabelValues(channel, status).Inc()
}

func (m *BookingMetrics) ObserveSweep(seconds float64) {
	if m == nil {
		return
	}
	m.sweepDuration.Observe(seconds)
}
