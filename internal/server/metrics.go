package server

import (
	"net/http"
	"strconv"

	"github.com/felixge/httpsnoop"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics are the backend's Prometheus collectors.
type Metrics struct {
	requests    *prometheus.CounterVec
	duration    *prometheus.HistogramVec
	connections prometheus.Gauge
	relayed     *prometheus.CounterVec
	writes      *prometheus.CounterVec
}

// NewMetrics creates the collectors and registers them with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "eventlist",
			Name:      "http_requests_total",
			Help:      "HTTP requests by route, method and status code.",
		}, []string{"route", "method", "code"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "eventlist",
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency by route.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"route"}),
		connections: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "eventlist",
			Name:      "realtime_connections",
			Help:      "Open realtime connections.",
		}),
		relayed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "eventlist",
			Name:      "realtime_messages_relayed_total",
			Help:      "Realtime messages delivered to peers, by type.",
		}, []string{"type"}),
		writes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "eventlist",
			Name:      "event_writes_total",
			Help:      "Event store writes by operation and result.",
		}, []string{"op", "result"}),
	}
	reg.MustRegister(m.requests, m.duration, m.connections, m.relayed, m.writes)
	return m
}

// ObserveHTTP records one request. It is a middleware.Observer.
func (m *Metrics) ObserveHTTP(r *http.Request, snoop httpsnoop.Metrics) {
	route := "unmatched"
	if cur := mux.CurrentRoute(r); cur != nil {
		if tpl, err := cur.GetPathTemplate(); err == nil {
			route = tpl
		}
	}
	m.requests.WithLabelValues(route, r.Method, strconv.Itoa(snoop.Code)).Inc()
	m.duration.WithLabelValues(route).Observe(snoop.Duration.Seconds())
}

func (m *Metrics) write(op string, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.writes.WithLabelValues(op, result).Inc()
}
