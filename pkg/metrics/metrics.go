// Package metrics registers the Prometheus collectors Razor's transport and
// sync engine update at the same call sites where they already log.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	PacketsSent = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "razor",
		Name:      "packets_sent_total",
		Help:      "Total UDP datagrams written to the wire.",
	})
	PacketsReceived = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "razor",
		Name:      "packets_received_total",
		Help:      "Total UDP datagrams read from the wire.",
	})
	DedupDrops = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "razor",
		Name:      "dedup_drops_total",
		Help:      "Datagrams discarded as duplicates within the dedup window.",
	})
	MalformedDrops = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "razor",
		Name:      "malformed_drops_total",
		Help:      "Datagrams discarded for structurally invalid framing.",
	})
	CommandsAccepted = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "razor",
		Name:      "commands_accepted_total",
		Help:      "Commands accepted and rebroadcast by the daemon.",
	})
	CommandsRejected = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "razor",
		Name:      "commands_rejected_total",
		Help:      "Commands rejected by the daemon's tick-gating policy.",
	})
	FutureTimeMs = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "razor",
		Name:      "future_time_ms",
		Help:      "The slave's current future-time buffer, in milliseconds.",
	})
)

// Serve starts a background HTTP server exposing /metrics on addr.
func Serve(addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	server := &http.Server{Addr: addr, Handler: mux}
	go func() {
		_ = server.ListenAndServe()
	}()
	return nil
}
