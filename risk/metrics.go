package risk

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics exports controller activity to Prometheus. A nil *Metrics is
// valid and records nothing.
type Metrics struct {
	windowState prometheus.Gauge
	transitions *prometheus.CounterVec
	stopLosses  *prometheus.CounterVec
	orders      *prometheus.CounterVec
	closures    prometheus.Counter
	failures    *prometheus.CounterVec
	tracked     prometheus.Gauge
}

// NewMetrics creates the controller metrics and registers them with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		windowState: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "spreadguard_window_state",
			Help: "0=armed, 1=suspended",
		}),
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "spreadguard_window_transitions_total",
			Help: "Window state transitions by direction",
		}, []string{"transition"}),
		stopLosses: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "spreadguard_stop_losses_total",
			Help: "Stop-losses removed, restored or skipped",
		}, []string{"action"}),
		orders: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "spreadguard_pending_orders_total",
			Help: "Pending orders cancelled or restored",
		}, []string{"action"}),
		closures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "spreadguard_drawdown_closures_total",
			Help: "Positions force-closed by the drawdown monitor",
		}),
		failures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "spreadguard_broker_failures_total",
			Help: "Failed broker calls by operation",
		}, []string{"op"}),
		tracked: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "spreadguard_drawdown_tracked_positions",
			Help: "Positions currently breaching the drawdown threshold",
		}),
	}
	if reg != nil {
		reg.MustRegister(
			m.windowState, m.transitions, m.stopLosses, m.orders,
			m.closures, m.failures, m.tracked,
		)
	}
	return m
}

func (m *Metrics) setState(s State) {
	if m == nil {
		return
	}
	m.windowState.Set(float64(s))
}

func (m *Metrics) transition(t Transition) {
	if m == nil || t == NoTransition {
		return
	}
	m.transitions.WithLabelValues(t.String()).Inc()
}

func (m *Metrics) outcome(o Outcome) {
	if m == nil {
		return
	}
	if o.Err != nil {
		m.failures.WithLabelValues(o.Action.String()).Inc()
		return
	}
	switch o.Action {
	case RemoveStopLoss:
		m.stopLosses.WithLabelValues("removed").Inc()
	case RestoreStopLoss:
		if o.Skipped {
			m.stopLosses.WithLabelValues("skipped").Inc()
		} else {
			m.stopLosses.WithLabelValues("restored").Inc()
		}
	case CancelOrder:
		m.orders.WithLabelValues("cancelled").Inc()
	case RestoreOrder:
		m.orders.WithLabelValues("restored").Inc()
	}
}

func (m *Metrics) closure(c Closure) {
	if m == nil {
		return
	}
	if c.Err != nil {
		m.failures.WithLabelValues("CLOSE_POSITION").Inc()
		return
	}
	m.closures.Inc()
}

func (m *Metrics) drawdownFailure() {
	if m == nil {
		return
	}
	m.failures.WithLabelValues("DRAWDOWN").Inc()
}

func (m *Metrics) setTracked(n int) {
	if m == nil {
		return
	}
	m.tracked.Set(float64(n))
}
