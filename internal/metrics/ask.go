package metrics

import "github.com/prometheus/client_golang/prometheus"

// Ask outcomes.
const (
	OutcomeAnswered      = "answered"
	OutcomeNoInformation = "no_information"
	OutcomeDegraded      = "degraded"
	OutcomeError         = "error"
)

// AskTotal counts questions by outcome.
var AskTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "ask_total",
		Help:      "Questions handled, by outcome",
	},
	[]string{"outcome"},
)

var askMetricsRegistered bool

// RegisterAskMetrics registers query pipeline metrics. Must be called once from main.
func RegisterAskMetrics() {
	if askMetricsRegistered {
		return
	}
	prometheus.MustRegister(AskTotal)
	askMetricsRegistered = true
}
