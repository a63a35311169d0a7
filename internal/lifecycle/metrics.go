package lifecycle

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics counts engine operations by outcome.
type Metrics struct {
	operations  *prometheus.CounterVec
	transitions *prometheus.CounterVec
}

// NewMetrics registers the engine collectors with reg. A nil reg yields
// unregistered collectors, which is what tests use.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		operations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "doccontrol",
			Name:      "operations_total",
			Help:      "Lifecycle engine operations by action and outcome.",
		}, []string{"action", "outcome"}),
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "doccontrol",
			Name:      "status_transitions_total",
			Help:      "Document status transitions by resulting status.",
		}, []string{"status"}),
	}
	if reg != nil {
		reg.MustRegister(m.operations, m.transitions)
	}
	return m
}

func (m *Metrics) observe(action string, err error) {
	if m == nil {
		return
	}
	m.operations.WithLabelValues(action, outcomeOf(err)).Inc()
}

func (m *Metrics) transition(to Status) {
	if m == nil {
		return
	}
	m.transitions.WithLabelValues(string(to)).Inc()
}

func outcomeOf(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrValidation):
		return "validation_error"
	case errors.Is(err, ErrPrecondition):
		return "precondition_failed"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	default:
		return "error"
	}
}
