package observability

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	registerOnce sync.Once

	apiExchanges = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "rosctl",
			Subsystem: "api",
			Name:      "exchanges_total",
			Help:      "Total API exchanges by command and outcome.",
		},
		[]string{"router", "command", "outcome"},
	)
	apiDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "rosctl",
			Subsystem: "api",
			Name:      "exchange_duration_seconds",
			Help:      "API exchange duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"router", "command", "outcome"},
	)
	apiConnects = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "rosctl",
			Subsystem: "api",
			Name:      "connects_total",
			Help:      "Connect and login attempts by outcome.",
		},
		[]string{"router", "outcome"},
	)
)

func RegisterMetrics() {
	registerOnce.Do(func() {
		prometheus.MustRegister(apiExchanges, apiDuration, apiConnects)
	})
}

// WriteTextfile writes every registered metric to path in the text
// exposition format, as read by the node_exporter textfile collector.
func WriteTextfile(path string) error {
	RegisterMetrics()
	return prometheus.WriteToTextfile(path, prometheus.DefaultGatherer)
}

// APIMetrics records exchanges for one router. It satisfies session.Observer.
type APIMetrics struct {
	Router string
}

func (m APIMetrics) ObserveExchange(command, outcome string, elapsed time.Duration) {
	RegisterMetrics()
	apiExchanges.WithLabelValues(m.Router, command, outcome).Inc()
	apiDuration.WithLabelValues(m.Router, command, outcome).Observe(elapsed.Seconds())
}

func (m APIMetrics) ObserveConnect(outcome string) {
	RegisterMetrics()
	apiConnects.WithLabelValues(m.Router, outcome).Inc()
}
