// Package state holds ControllerState, the aggregate that owns every mounted
// device's port mapping, topology and resource inventory.
package state

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/signalsfoundry/lightpath-controller/core"
	"github.com/signalsfoundry/lightpath-controller/internal/logging"
	"github.com/signalsfoundry/lightpath-controller/internal/portmapping"
	"github.com/signalsfoundry/lightpath-controller/internal/sbi"
	"github.com/signalsfoundry/lightpath-controller/kb"
	"github.com/signalsfoundry/lightpath-controller/model"
)

// InventoryMetricsRecorder receives per-node usage updates.
type InventoryMetricsRecorder interface {
	SetInventoryUsed(node string, used int)
	ForgetInventoryNode(node string)
}

// ControllerState coordinates the port mapping registry, the openroadm
// topology and the resource inventory, plus the device client they are
// populated from.
type ControllerState struct {
	// mu is the coarse mount lock. Mount and unmount take it exclusively so
	// snapshots never see a device half added to the topology and inventory.
	// Reservations go straight to the inventory, which has its own locks.
	mu sync.RWMutex

	grid      model.Grid
	inventory *kb.Inventory
	registry  *portmapping.Registry
	topology  *core.Topology
	device    sbi.Client

	// devices keeps the mount-time inventory of every device, for LLDP
	// resolution and circuit-pack reads.
	devices map[string]model.DeviceInventory

	hash    portmapping.HashStrategy
	log     logging.Logger
	metrics InventoryMetricsRecorder
}

// Option customises ControllerState construction.
type Option func(*ControllerState)

// WithGrid sets the wavelength grid. The default has model.DefaultChannels.
func WithGrid(g model.Grid) Option {
	return func(s *ControllerState) { s.grid = g }
}

// WithHashStrategy selects the lcp hash used for new port mappings.
func WithHashStrategy(h portmapping.HashStrategy) Option {
	return func(s *ControllerState) { s.hash = h }
}

// WithLogger attaches a structured logger.
func WithLogger(l logging.Logger) Option {
	return func(s *ControllerState) {
		if l != nil {
			s.log = l
		}
	}
}

// WithMetricsRecorder attaches an optional inventory metrics recorder.
func WithMetricsRecorder(m InventoryMetricsRecorder) Option {
	return func(s *ControllerState) { s.metrics = m }
}

// New wires an empty controller state on top of the device client.
func New(device sbi.Client, opts ...Option) *ControllerState {
	s := &ControllerState{
		grid:     model.NewGrid(model.DefaultChannels),
		topology: core.NewTopology(),
		device:   device,
		devices:  make(map[string]model.DeviceInventory),
		log:      logging.Noop(),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	regOpts := []portmapping.Option{portmapping.WithLogger(s.log)}
	if s.hash != nil {
		regOpts = append(regOpts, portmapping.WithHashStrategy(s.hash))
	}
	s.registry = portmapping.NewRegistry(regOpts...)
	s.inventory = kb.NewInventory(s.grid)
	if s.metrics != nil {
		s.inventory.Subscribe(s.recordInventoryEvent)
	}
	return s
}

func (s *ControllerState) recordInventoryEvent(ev kb.Event) {
	switch ev.Type {
	case kb.EventNodeRemoved:
		s.metrics.ForgetInventoryNode(ev.Node)
	default:
		s.metrics.SetInventoryUsed(ev.Node, ev.Used)
	}
}

// Grid returns the wavelength grid.
func (s *ControllerState) Grid() model.Grid { return s.grid }

// Inventory exposes the resource inventory.
func (s *ControllerState) Inventory() *kb.Inventory { return s.inventory }

// Registry exposes the port mapping registry.
func (s *ControllerState) Registry() *portmapping.Registry { return s.registry }

// Topology exposes the openroadm topology.
func (s *ControllerState) Topology() *core.Topology { return s.topology }

// Device returns the device-management client.
func (s *ControllerState) Device() sbi.Client { return s.device }

// Logger returns the state logger.
func (s *ControllerState) Logger() logging.Logger { return s.log }

//
// ---------- Mount / unmount ----------
//

// MountNode reads a device's inventory, builds its port mapping, adds its
// sub-nodes and internal links to the topology and inventory, then runs LLDP
// discovery for ROADMs.
func (s *ControllerState) MountNode(ctx context.Context, nodeID string) (model.NodeMapping, error) {
	if nodeID == "" {
		return model.NodeMapping{}, fmt.Errorf("%w: empty node id", model.ErrValidation)
	}
	if s.Mounted(nodeID) {
		return model.NodeMapping{}, fmt.Errorf("%w: node %q already mounted", model.ErrAlreadyExists, nodeID)
	}

	dev, err := sbi.ReadInventory(ctx, s.device, nodeID)
	if err != nil {
		return model.NodeMapping{}, fmt.Errorf("read inventory of %s: %w", nodeID, err)
	}
	if dev.Info.NodeID != nodeID {
		return model.NodeMapping{}, fmt.Errorf("%w: device %q reports node-id %q", model.ErrValidation, nodeID, dev.Info.NodeID)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	doc, err := s.registry.Build(ctx, dev)
	if err != nil {
		return model.NodeMapping{}, err
	}
	subs, err := s.topology.AddDevice(doc)
	if err != nil {
		_ = s.registry.Remove(nodeID)
		return model.NodeMapping{}, err
	}
	for i, sub := range subs {
		if err := s.inventory.AddNode(sub); err != nil {
			for _, added := range subs[:i] {
				_ = s.inventory.RemoveNode(added.ID)
			}
			_, _ = s.topology.RemoveDevice(nodeID)
			_ = s.registry.Remove(nodeID)
			return model.NodeMapping{}, err
		}
	}
	s.devices[nodeID] = dev

	links := 0
	if doc.Info.NodeType == model.NodeTypeROADM {
		links = s.discoverLocked(ctx, nodeID, dev.Protocols)
	}

	s.log.Info(ctx, "node mounted",
		logging.String("node_id", nodeID),
		logging.String("node_type", string(doc.Info.NodeType)),
		logging.Int("sub_nodes", len(subs)),
		logging.Int("mappings", len(doc.Mappings)),
		logging.Int("discovered_links", links),
	)
	return doc, nil
}

// discoverLocked creates ROADM-to-ROADM links from the LLDP neighbours of
// nodeID. Caller must hold s.mu.
func (s *ControllerState) discoverLocked(ctx context.Context, nodeID string, protocols *model.Protocols) int {
	found, skipped := core.DiscoverRoadmAdjacencies(nodeID, protocols, lockedView{s})
	for _, err := range skipped {
		s.log.Debug(ctx, "lldp neighbour skipped",
			logging.String("node_id", nodeID),
			logging.Err(err),
		)
	}
	created := 0
	for _, adj := range found {
		ok, err := s.topology.AddRoadmLinkPair(adj.A, adj.Z)
		if err != nil {
			s.log.Warn(ctx, "lldp link creation failed",
				logging.String("node_id", nodeID),
				logging.String("a_end", adj.A.Node+"/"+adj.A.TP),
				logging.String("z_end", adj.Z.Node+"/"+adj.Z.TP),
				logging.Err(err),
			)
			continue
		}
		if ok {
			created++
		}
	}
	return created
}

// UnmountNode removes a device. It is refused while any of its termination
// points holds a reservation.
func (s *ControllerState) UnmountNode(ctx context.Context, nodeID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.devices[nodeID]; !ok {
		return fmt.Errorf("%w: node %q is not mounted", model.ErrNotFound, nodeID)
	}

	var subIDs []string
	for _, sub := range s.topology.SubNodes() {
		if sub.SupportingNode == nodeID {
			subIDs = append(subIDs, sub.ID)
		}
	}
	usage := s.inventory.Snapshot()
	for _, id := range subIDs {
		for tp, used := range usage[id].Used {
			if len(used) > 0 {
				return fmt.Errorf("%w: %s/%s carries %d wavelength(s)", model.ErrResourceConflict, id, tp, len(used))
			}
		}
	}

	var errs []error
	for _, id := range subIDs {
		if err := s.inventory.RemoveNode(id); err != nil && !errors.Is(err, model.ErrNotFound) {
			errs = append(errs, err)
		}
	}
	removedLinks, err := s.topology.RemoveDevice(nodeID)
	if err != nil {
		errs = append(errs, err)
	}
	if err := s.registry.Remove(nodeID); err != nil && !errors.Is(err, model.ErrNotFound) {
		errs = append(errs, err)
	}
	delete(s.devices, nodeID)

	s.log.Info(ctx, "node unmounted",
		logging.String("node_id", nodeID),
		logging.Int("sub_nodes", len(subIDs)),
		logging.Int("removed_links", len(removedLinks)),
	)
	return errors.Join(errs...)
}

// Mounted reports whether nodeID is mounted.
func (s *ControllerState) Mounted(nodeID string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.devices[nodeID]
	return ok
}

// MountedNodes lists mounted device ids, sorted.
func (s *ControllerState) MountedNodes() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, len(s.devices))
	for id := range s.devices {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// NodeMapping implements core.DeviceView.
func (s *ControllerState) NodeMapping(node string) (model.NodeMapping, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return lockedView{s}.NodeMapping(node)
}

// InterfacePort implements core.DeviceView.
func (s *ControllerState) InterfacePort(node, ifName string) (model.PortRef, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return lockedView{s}.InterfacePort(node, ifName)
}

// lockedView answers DeviceView queries for callers already holding s.mu.
type lockedView struct {
	s *ControllerState
}

func (v lockedView) NodeMapping(node string) (model.NodeMapping, bool) {
	if _, ok := v.s.devices[node]; !ok {
		return model.NodeMapping{}, false
	}
	doc, err := v.s.registry.Node(node)
	return doc, err == nil
}

func (v lockedView) InterfacePort(node, ifName string) (model.PortRef, bool) {
	dev, ok := v.s.devices[node]
	if !ok {
		return model.PortRef{}, false
	}
	for _, intf := range dev.Interfaces {
		if intf.Name == ifName && intf.SupportingCircuitPack != "" {
			return model.PortRef{CircuitPack: intf.SupportingCircuitPack, Port: intf.SupportingPort}, true
		}
	}
	return model.PortRef{}, false
}
