// Package portmapping maintains, per managed device, the table translating
// logical connection points to physical circuit packs and ports.
package portmapping

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/signalsfoundry/lightpath-controller/internal/logging"
	"github.com/signalsfoundry/lightpath-controller/model"
)

// Registry stores built port mappings. Entries are immutable once built;
// readers always receive copies.
type Registry struct {
	mu    sync.RWMutex
	nodes map[string]*model.NodeMapping

	hash HashStrategy
	log  logging.Logger
}

// Option customises a Registry.
type Option func(*Registry)

// WithHashStrategy selects the lcp-hash-val strategy for new mappings.
func WithHashStrategy(h HashStrategy) Option {
	return func(r *Registry) {
		if h != nil {
			r.hash = h
		}
	}
}

// WithLogger attaches a structured logger.
func WithLogger(l logging.Logger) Option {
	return func(r *Registry) {
		if l != nil {
			r.log = l
		}
	}
}

// NewRegistry returns an empty registry using the default hash strategy.
func NewRegistry(opts ...Option) *Registry {
	r := &Registry{
		nodes: make(map[string]*model.NodeMapping),
		hash:  fnv1Strategy{},
		log:   logging.Noop(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Build derives and stores the mapping for the device described by inv. A
// device already mapped is rejected; unmount it first.
func (r *Registry) Build(ctx context.Context, inv model.DeviceInventory) (model.NodeMapping, error) {
	doc, err := BuildNodeMapping(inv, r.hash)
	if err != nil {
		r.log.Warn(ctx, "port mapping build failed",
			logging.String("node_id", inv.Info.NodeID),
			logging.Err(err),
		)
		return model.NodeMapping{}, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.nodes[doc.NodeID]; exists {
		return model.NodeMapping{}, fmt.Errorf("%w: port mapping for %q", model.ErrAlreadyExists, doc.NodeID)
	}
	r.nodes[doc.NodeID] = doc

	r.log.Info(ctx, "port mapping built",
		logging.String("node_id", doc.NodeID),
		logging.Int("entries", len(doc.Mappings)),
		logging.Int("hash_version", r.hash.Version()),
	)
	return copyNode(doc), nil
}

// Lookup returns the entry for lcp on node.
func (r *Registry) Lookup(node, lcp string) (model.Mapping, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	doc, ok := r.nodes[node]
	if !ok {
		return model.Mapping{}, fmt.Errorf("%w: port mapping for node %q", model.ErrNotFound, node)
	}
	m, ok := doc.Lookup(lcp)
	if !ok {
		return model.Mapping{}, fmt.Errorf("%w: logical connection point %q on %q", model.ErrNotFound, lcp, node)
	}
	return copyMapping(m), nil
}

// FindByPort returns the entry backed by the given circuit pack and port.
func (r *Registry) FindByPort(node string, ref model.PortRef) (model.Mapping, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	doc, ok := r.nodes[node]
	if !ok {
		return model.Mapping{}, fmt.Errorf("%w: port mapping for node %q", model.ErrNotFound, node)
	}
	for _, m := range doc.Mappings {
		if m.SupportingCircuitPack == ref.CircuitPack && m.SupportingPort == ref.Port {
			return copyMapping(m), nil
		}
	}
	return model.Mapping{}, fmt.Errorf("%w: no mapping for %s/%s on %q", model.ErrNotFound, ref.CircuitPack, ref.Port, node)
}

// Node returns a copy of the node's full mapping document.
func (r *Registry) Node(node string) (model.NodeMapping, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	doc, ok := r.nodes[node]
	if !ok {
		return model.NodeMapping{}, fmt.Errorf("%w: port mapping for node %q", model.ErrNotFound, node)
	}
	return copyNode(doc), nil
}

// Nodes returns the ids of all mapped nodes, sorted.
func (r *Registry) Nodes() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]string, 0, len(r.nodes))
	for id := range r.nodes {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// Remove forgets a node's mapping.
func (r *Registry) Remove(node string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.nodes[node]; !ok {
		return fmt.Errorf("%w: port mapping for node %q", model.ErrNotFound, node)
	}
	delete(r.nodes, node)
	return nil
}

func copyNode(doc *model.NodeMapping) model.NodeMapping {
	out := *doc
	out.Mappings = make([]model.Mapping, len(doc.Mappings))
	for i, m := range doc.Mappings {
		out.Mappings[i] = copyMapping(m)
	}
	out.Degrees = make([]model.DegreeMapping, len(doc.Degrees))
	for i, d := range doc.Degrees {
		out.Degrees[i] = d
		out.Degrees[i].CircuitPacks = append([]model.PortRef(nil), d.CircuitPacks...)
	}
	out.SRGs = make([]model.SRGMapping, len(doc.SRGs))
	for i, s := range doc.SRGs {
		out.SRGs[i] = s
		out.SRGs[i].CircuitPacks = append([]string(nil), s.CircuitPacks...)
	}
	return out
}

func copyMapping(m model.Mapping) model.Mapping {
	m.SupportedInterfaceCapability = append([]string(nil), m.SupportedInterfaceCapability...)
	return m
}
