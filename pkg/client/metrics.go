package client

import (
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/mudpuppy/mudpuppy/pkg/session"
	"github.com/mudpuppy/mudpuppy/pkg/telnet"
)

// Metrics holds the Prometheus instruments for the engine.
type Metrics struct {
	Sessions   prometheus.Gauge
	Connected  prometheus.Gauge
	Lines      prometheus.Counter
	InputLines prometheus.Counter
	GmcpIn     prometheus.Counter
	TimerFires prometheus.Counter
	Reloads    prometheus.Counter

	registry *prometheus.Registry
}

// NewMetrics creates and registers the engine metrics on a private
// registry, so tests can create clients freely without duplicate
// registration panics.
func NewMetrics() *Metrics {
	m := &Metrics{
		Sessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "mudpuppy_sessions",
			Help: "Number of live sessions.",
		}),
		Connected: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "mudpuppy_sessions_connected",
			Help: "Number of sessions currently connected.",
		}),
		Lines: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "mudpuppy_lines_received_total",
			Help: "Lines of MUD output received.",
		}),
		InputLines: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "mudpuppy_input_lines_total",
			Help: "Lines of user input sent.",
		}),
		GmcpIn: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "mudpuppy_gmcp_messages_total",
			Help: "GMCP messages received.",
		}),
		TimerFires: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "mudpuppy_timer_fires_total",
			Help: "Timer expirations processed.",
		}),
		Reloads: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "mudpuppy_script_reloads_total",
			Help: "Script reload cycles.",
		}),
		registry: prometheus.NewRegistry(),
	}

	m.registry.MustRegister(
		m.Sessions,
		m.Connected,
		m.Lines,
		m.InputLines,
		m.GmcpIn,
		m.TimerFires,
		m.Reloads,
	)
	return m
}

// Observe updates counters from one connection event.
func (m *Metrics) Observe(ev session.ConnEvent) {
	if ev.Kind != session.ConnItem {
		return
	}
	switch item := ev.Item.(type) {
	case telnet.Line:
		m.Lines.Inc()
	case telnet.Subnegotiation:
		if item.Option == telnet.OptGMCP {
			m.GmcpIn.Inc()
		}
	}
}

// Serve exposes the metrics on localhost at the given port.
func (m *Metrics) Serve(port int) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{}))
	srv := &http.Server{
		Addr:              fmt.Sprintf("127.0.0.1:%d", port),
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := srv.ListenAndServe(); err != http.ErrServerClosed {
			log.Printf("metrics server: %v", err)
		}
	}()
}
