package observability

import (
	"context"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"google.golang.org/grpc"
	"google.golang.org/grpc/status"
)

// DeviceCollector exposes metrics for the southbound device interface, on
// both the controller (client) and simulator (server) sides.
type DeviceCollector struct {
	gatherer prometheus.Gatherer

	Operations   *prometheus.CounterVec
	Retries      *prometheus.CounterVec
	RPCRequests  *prometheus.CounterVec
	RPCDurations *prometheus.HistogramVec
}

// NewDeviceCollector registers the device metrics on reg, or on the default
// registerer when reg is nil.
func NewDeviceCollector(reg prometheus.Registerer) (*DeviceCollector, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	ops, err := register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "sbi_operations_total",
		Help: "Device configuration operations issued by the controller, labeled by operation and outcome.",
	}, []string{"op", "outcome"}), "sbi_operations_total")
	if err != nil {
		return nil, err
	}

	retries, err := register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "sbi_retries_total",
		Help: "Retried device configuration attempts, labeled by operation.",
	}, []string{"op"}), "sbi_retries_total")
	if err != nil {
		return nil, err
	}

	rpcs, err := register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "device_rpc_requests_total",
		Help: "Device RPCs served, labeled by service, method, and gRPC status code.",
	}, []string{"service", "method", "code"}), "device_rpc_requests_total")
	if err != nil {
		return nil, err
	}

	durations, err := register(reg, prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "device_rpc_duration_seconds",
		Help:    "Device RPC latency in seconds.",
		Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2, 5},
	}, []string{"service", "method"}), "device_rpc_duration_seconds")
	if err != nil {
		return nil, err
	}

	return &DeviceCollector{
		gatherer:     gathererFor(reg),
		Operations:   ops,
		Retries:      retries,
		RPCRequests:  rpcs,
		RPCDurations: durations,
	}, nil
}

// Handler exposes a /metrics handler over the collector's registry.
func (c *DeviceCollector) Handler() http.Handler {
	return HandlerFor(c.gatherer)
}

// ObserveOperation counts one finished SBI operation.
func (c *DeviceCollector) ObserveOperation(op, outcome string) {
	if c == nil {
		return
	}
	c.Operations.WithLabelValues(op, outcome).Inc()
}

// ObserveRetry counts one retried SBI attempt.
func (c *DeviceCollector) ObserveRetry(op string) {
	if c == nil {
		return
	}
	c.Retries.WithLabelValues(op).Inc()
}

// UnaryServerInterceptor counts and times the device RPCs a simulator
// serves.
func (c *DeviceCollector) UnaryServerInterceptor() grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		if c == nil || info == nil {
			return handler(ctx, req)
		}
		start := time.Now()
		resp, err := handler(ctx, req)
		service, method := SplitMethod(info.FullMethod)
		c.RPCRequests.WithLabelValues(service, method, status.Code(err).String()).Inc()
		c.RPCDurations.WithLabelValues(service, method).Observe(time.Since(start).Seconds())
		return resp, err
	}
}
