package ride

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/semanticallynull/ridehail-backend/internal/apperr"
)

// Metrics counts transition attempts. A nil *Metrics records nothing.
type Metrics struct {
	transitions *prometheus.CounterVec
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		transitions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ride_transitions_total",
				Help: "Total number of ride state transitions attempted, by outcome",
			},
			[]string{"transition", "outcome"},
		),
	}
	reg.MustRegister(m.transitions)
	return m
}

func (m *Metrics) observe(t Transition, err error) {
	if m == nil {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = apperr.Code(err)
	}
	m.transitions.WithLabelValues(t.String(), outcome).Inc()
}
