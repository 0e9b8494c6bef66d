package metrics

import "github.com/prometheus/client_golang/prometheus"

// Booking outcomes recorded by ObserveBooking.
const (
	OutcomeBooked      = "booked"
	OutcomeCollision   = "collision"
	OutcomePolicy      = "policy"
	OutcomeMissingData = "missing_patient_data"
	OutcomeNotFound    = "not_found"
	OutcomeError       = "error"
)

// SchedulingMetrics exposes counters/histograms for availability and booking flows.
type SchedulingMetrics struct {
	bookingsTotal       *prometheus.CounterVec
	availabilityLatency prometheus.Histogram
	slotsOffered        prometheus.Histogram
	calendarSyncTotal   *prometheus.CounterVec
	lockContention      prometheus.Counter
}

func NewSchedulingMetrics(reg prometheus.Registerer) *SchedulingMetrics {
	m := &SchedulingMetrics{
		bookingsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "clinic",
			Subsystem: "scheduling",
			Name:      "bookings_total",
			Help:      "Booking attempts by source and outcome",
		}, []string{"source", "outcome"}),
		availabilityLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "clinic",
			Subsystem: "scheduling",
			Name:      "availability_duration_seconds",
			Help:      "Latency of availability computation including calendar refresh",
			Buckets:   prometheus.DefBuckets,
		}),
		slotsOffered: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "clinic",
			Subsystem: "scheduling",
			Name:      "slots_offered",
			Help:      "Number of slots returned per availability query",
			Buckets:   []float64{0, 1, 2, 4, 8, 16, 32},
		}),
		calendarSyncTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "clinic",
			Subsystem: "scheduling",
			Name:      "calendar_sync_total",
			Help:      "External calendar calls by operation and status",
		}, []string{"operation", "status"}),
		lockContention: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "clinic",
			Subsystem: "scheduling",
			Name:      "booking_lock_contention_total",
			Help:      "Booking attempts that found the professional-day lock held",
		}),
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(m.bookingsTotal, m.availabilityLatency, m.slotsOffered, m.calendarSyncTotal, m.lockContention)
	return m
}

func (m *SchedulingMetrics) ObserveBooking(source, outcome string) {
	if m == nil {
		return
	}
	m.bookingsTotal.WithLabelValues(source, outcome).Inc()
}

func (m *SchedulingMetrics) ObserveAvailability(seconds float64, slots int) {
	if m == nil {
		return
	}
	m.availabilityLatency.Observe(seconds)
	m.slotsOffered.Observe(float64(slots))
}

func (m *SchedulingMetrics) ObserveCalendarSync(operation string, ok bool) {
	if m == nil {
		return
	}
	status := "ok"
	if !ok {
		status = "failed"
	}
	m.calendarSyncTotal.WithLabelValues(operation, status).Inc()
}

func (m *SchedulingMetrics) ObserveLockContention() {
	if m == nil {
		return
	}
	m.lockContention.Inc()
}
