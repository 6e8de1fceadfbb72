package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// ControllerCollector exposes service, PCE, renderer and inventory metrics.
type ControllerCollector struct {
	gatherer prometheus.Gatherer

	ServiceOperations  *prometheus.CounterVec
	Services           *prometheus.GaugeVec
	PCEComputations    *prometheus.CounterVec
	PCEDuration        prometheus.Histogram
	RendererRollbacks  prometheus.Counter
	InventoryUsedSlots *prometheus.GaugeVec
}

// NewControllerCollector registers controller metrics against the provided
// registerer.
func NewControllerCollector(reg prometheus.Registerer) (*ControllerCollector, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	ops, err := register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "service_operations_total",
		Help: "Service create and delete operations, labeled by operation and outcome.",
	}, []string{"op", "outcome"}), "service_operations_total")
	if err != nil {
		return nil, err
	}

	services, err := register(reg, prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "services",
		Help: "Current number of services per lifecycle state.",
	}, []string{"state"}), "services")
	if err != nil {
		return nil, err
	}

	pce, err := register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "pce_computations_total",
		Help: "Path computations, labeled by mode and outcome.",
	}, []string{"mode", "outcome"}), "pce_computations_total")
	if err != nil {
		return nil, err
	}

	pceDuration, err := register(reg, prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "pce_computation_duration_seconds",
		Help:    "Duration of path and wavelength computations.",
		Buckets: []float64{0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
	}), "pce_computation_duration_seconds")
	if err != nil {
		return nil, err
	}

	rollbacks, err := register(reg, prometheus.NewCounter(prometheus.CounterOpts{
		Name: "renderer_rollbacks_total",
		Help: "Render operations that had to undo completed device steps.",
	}), "renderer_rollbacks_total")
	if err != nil {
		return nil, err
	}

	used, err := register(reg, prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "inventory_used_slots",
		Help: "Used wavelength entries across the termination points of a topology node.",
	}, []string{"node"}), "inventory_used_slots")
	if err != nil {
		return nil, err
	}

	return &ControllerCollector{
		gatherer:           gathererFor(reg),
		ServiceOperations:  ops,
		Services:           services,
		PCEComputations:    pce,
		PCEDuration:        pceDuration,
		RendererRollbacks:  rollbacks,
		InventoryUsedSlots: used,
	}, nil
}

// Gatherer returns the Prometheus gatherer associated with the collector.
func (c *ControllerCollector) Gatherer() prometheus.Gatherer {
	if c == nil {
		return nil
	}
	return c.gatherer
}

// ObserveServiceOperation counts one finished service operation.
func (c *ControllerCollector) ObserveServiceOperation(op, outcome string) {
	if c == nil || c.ServiceOperations == nil {
		return
	}
	c.ServiceOperations.WithLabelValues(op, outcome).Inc()
}

// SetServiceCounts replaces the per-state service gauges. States absent from
// counts are reset to zero.
func (c *ControllerCollector) SetServiceCounts(states []string, counts map[string]int) {
	if c == nil || c.Services == nil {
		return
	}
	for _, s := range states {
		c.Services.WithLabelValues(s).Set(float64(counts[s]))
	}
}

// ObservePathComputation records a path computation and its duration.
func (c *ControllerCollector) ObservePathComputation(mode, outcome string, d time.Duration) {
	if c == nil {
		return
	}
	if c.PCEComputations != nil {
		c.PCEComputations.WithLabelValues(mode, outcome).Inc()
	}
	if c.PCEDuration != nil {
		c.PCEDuration.Observe(d.Seconds())
	}
}

// IncRollbacks increments the rollback counter.
func (c *ControllerCollector) IncRollbacks() {
	if c == nil || c.RendererRollbacks == nil {
		return
	}
	c.RendererRollbacks.Inc()
}

// SetInventoryUsed sets the used-slot gauge of one topology node.
func (c *ControllerCollector) SetInventoryUsed(node string, used int) {
	if c == nil || c.InventoryUsedSlots == nil {
		return
	}
	c.InventoryUsedSlots.WithLabelValues(node).Set(float64(used))
}

// ForgetInventoryNode drops the gauge series of a removed topology node.
func (c *ControllerCollector) ForgetInventoryNode(node string) {
	if c == nil || c.InventoryUsedSlots == nil {
		return
	}
	c.InventoryUsedSlots.DeleteLabelValues(node)
}
