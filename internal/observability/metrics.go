// Package observability provides the Prometheus collectors and OpenTelemetry
// tracing setup shared by the controller and the device simulator.
package observability

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// NBICollector counts and times RESTCONF requests by mux route name.
type NBICollector struct {
	gatherer prometheus.Gatherer

	Requests  *prometheus.CounterVec
	Durations *prometheus.HistogramVec
}

// NewNBICollector registers the NBI metrics on reg, or on the default
// registerer when reg is nil.
func NewNBICollector(reg prometheus.Registerer) (*NBICollector, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	requests, err := register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "nbi_requests_total",
		Help: "RESTCONF requests handled, by route name, method and HTTP status.",
	}, []string{"route", "method", "code"}), "nbi_requests_total")
	if err != nil {
		return nil, err
	}
	// Service RPCs with ?await can hold a request for the full await timeout.
	durations, err := register(reg, prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "nbi_request_duration_seconds",
		Help:    "RESTCONF request latency in seconds, by route name and method.",
		Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
	}, []string{"route", "method"}), "nbi_request_duration_seconds")
	if err != nil {
		return nil, err
	}

	return &NBICollector{
		gatherer:  gathererFor(reg),
		Requests:  requests,
		Durations: durations,
	}, nil
}

// ObserveRequest records one handled request.
func (c *NBICollector) ObserveRequest(route, method string, code int, d time.Duration) {
	if c == nil {
		return
	}
	if route == "" {
		route = "unmatched"
	}
	c.Requests.WithLabelValues(route, method, strconv.Itoa(code)).Inc()
	c.Durations.WithLabelValues(route, method).Observe(d.Seconds())
}

// Handler serves the registry the collector was registered on.
func (c *NBICollector) Handler() http.Handler {
	return HandlerFor(c.gatherer)
}

// HandlerFor returns a /metrics handler for gatherer, or for the default
// gatherer when nil.
func HandlerFor(gatherer prometheus.Gatherer) http.Handler {
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

// SplitMethod splits a gRPC full method "/pkg.Service/Method" into its
// unqualified service and method names. Missing parts are "unknown".
func SplitMethod(fullMethod string) (service, method string) {
	service, method = "unknown", "unknown"
	svc, m, ok := strings.Cut(strings.TrimPrefix(fullMethod, "/"), "/")
	if !ok {
		return service, method
	}
	if i := strings.LastIndexByte(svc, '.'); i >= 0 {
		svc = svc[i+1:]
	}
	if svc != "" {
		service = svc
	}
	if m != "" {
		method = m
	}
	return service, method
}
