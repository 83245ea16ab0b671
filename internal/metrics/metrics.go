package metrics

import "github.com/prometheus/client_golang/prometheus"

// Metrics exposes counters/histograms for the scheduling flows. A nil
// *Metrics is valid and records nothing.
type Metrics struct {
	appointmentsCreated *prometheus.CounterVec
	conflicts           *prometheus.CounterVec
	cancellations       prometheus.Counter
	noShows             prometheus.Counter
	deliveries          *prometheus.CounterVec
	httpLatency         *prometheus.HistogramVec
}

func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		appointmentsCreated: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "clinic",
			Subsystem: "appointments",
			Name:      "created_total",
			Help:      "Appointments created, by creator role",
		}, []string{"role"}),
		conflicts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "clinic",
			Subsystem: "appointments",
			Name:      "conflicts_total",
			Help:      "Rejected bookings, by where the overlap was caught",
		}, []string{"source"}),
		cancellations: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "clinic",
			Subsystem: "appointments",
			Name:      "cancelled_total",
			Help:      "Appointments cancelled",
		}),
		noShows: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "clinic",
			Subsystem: "appointments",
			Name:      "no_show_total",
			Help:      "Appointments marked no-show by the sweeper",
		}),
		deliveries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "clinic",
			Subsystem: "notifications",
			Name:      "deliveries_total",
			Help:      "Notification deliveries, by channel and outcome",
		}, []string{"channel", "status"}),
		httpLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "clinic",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Latency of HTTP requests",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route", "status"}),
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(m.appointmentsCreated, m.conflicts, m.cancellations, m.noShows, m.deliveries, m.httpLatency)
	return m
}

func (m *Metrics) ObserveCreated(role string) {
	if m == nil {
		return
	}
	m.appointmentsCreated.WithLabelValues(role).Inc()
}

// ObserveConflict counts a rejected booking; source is "detector" or "store".
func (m *Metrics) ObserveConflict(source string) {
	if m == nil {
		return
	}
	m.conflicts.WithLabelValues(source).Inc()
}

func (m *Metrics) ObserveCancelled() {
	if m == nil {
		return
	}
	m.cancellations.Inc()
}

func (m *Metrics) ObserveNoShow() {
	if m == nil {
		return
	}
	m.noShows.Inc()
}

func (m *Metrics) ObserveDelivery(channel string, err error) {
	if m == nil {
		return
	}
	status := "ok"
	if err != nil {
		status = "error"
	}
	m.deliveries.WithLabelValues(channel, status).Inc()
}

func (m *Metrics) ObserveHTTP(method, route, status string, seconds float64) {
	if m == nil {
		return
	}
	m.httpLatency.WithLabelValues(method, route, status).Observe(seconds)
}
