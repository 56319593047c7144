package protocol

import "github.com/prometheus/client_golang/prometheus"

// Metrics collectors registered against prometheus.DefaultRegisterer. The
// package has no HTTP server of its own; the embedding process is expected
// to expose promhttp.Handler() on its own mux.
var (
	commandsExecuted = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "meridian",
			Subsystem: "executor",
			Name:      "commands_total",
			Help:      "Total commands processed by a CommandExecutor, by status.",
		},
		[]string{"status"},
	)

	commandDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "meridian",
			Subsystem: "executor",
			Name:      "command_duration_milliseconds",
			Help:      "Handler execution latency in milliseconds.",
			Buckets:   []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000},
		},
		[]string{"cache"},
	)

	dispatchInflight = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "meridian",
			Subsystem: "dispatcher",
			Name:      "inflight",
			Help:      "Commands currently occupying a dispatcher permit.",
		},
		[]string{"client_id"},
	)

	invocationsSent = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "meridian",
			Subsystem: "invoker",
			Name:      "invocations_total",
			Help:      "Total invocations issued by a CommandInvoker, by outcome.",
		},
		[]string{"outcome"},
	)
)

func init() {
	prometheus.DefaultRegisterer.MustRegister(commandsExecuted, commandDuration, dispatchInflight, invocationsSent)
}
