package session

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Result label values
const (
	resultSuccess = "success"
	resultFailure = "failure"
	resultStale   = "stale"
)

// Metrics are the session counters. A nil *Metrics records nothing.
type Metrics struct {
	Refreshes     *prometheus.CounterVec
	Logins        *prometheus.CounterVec
	Authenticated prometheus.Gauge
}

// NewMetrics creates the session metrics and registers them with reg when reg is non-nil.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Refreshes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "hms",
			Subsystem: "session",
			Name:      "refresh_total",
			Help:      "Token refresh attempts by result.",
		}, []string{"result"}),
		Logins: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "hms",
			Subsystem: "session",
			Name:      "logins_total",
			Help:      "Login attempts by result.",
		}, []string{"result"}),
		Authenticated: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "hms",
			Subsystem: "session",
			Name:      "authenticated",
			Help:      "1 while the console holds an authenticated session.",
		}),
	}
	if reg != nil {
		reg.MustRegister(m.Refreshes, m.Logins, m.Authenticated)
	}
	return m
}

func (m *Metrics) refresh(result string) {
	if m == nil {
		return
	}
	m.Refreshes.WithLabelValues(result).Inc()
}

func (m *Metrics) login(result string) {
	if m == nil {
		return
	}
	m.Logins.WithLabelValues(result).Inc()
}

func (m *Metrics) state(s State) {
	if m == nil {
		return
	}
	if s == Anonymous {
		m.Authenticated.Set(0)
		return
	}
	m.Authenticated.Set(1)
}
