package state

import (
	"fmt"
	"sort"
	"strings"

	"github.com/signalsfoundry/lightpath-controller/core"
	"github.com/signalsfoundry/lightpath-controller/kb"
	"github.com/signalsfoundry/lightpath-controller/model"
)

// Snapshot is a consistent read view of topology, port mappings and
// inventory usage. It is a copy; callers may keep it.
type Snapshot struct {
	Grid     model.Grid
	Nodes    map[string]model.SubNode
	Links    map[string]model.Link
	Usage    map[string]kb.NodeUsage
	Mappings map[string]model.NodeMapping

	out map[string][]model.Link
	in  map[string][]model.Link
}

// Snapshot captures the current state.
func (s *ControllerState) Snapshot() *Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()

	nodes, links := s.topology.Snapshot()
	snap := &Snapshot{
		Grid:     s.grid,
		Nodes:    make(map[string]model.SubNode, len(nodes)),
		Links:    make(map[string]model.Link, len(links)),
		Usage:    s.inventory.Snapshot(),
		Mappings: make(map[string]model.NodeMapping, len(s.devices)),
		out:      make(map[string][]model.Link),
		in:       make(map[string][]model.Link),
	}
	for _, n := range nodes {
		snap.Nodes[n.ID] = n
	}
	for _, l := range links {
		snap.Links[l.ID] = l
		snap.out[l.Source.Node] = append(snap.out[l.Source.Node], l)
		snap.in[l.Destination.Node] = append(snap.in[l.Destination.Node], l)
	}
	for _, adj := range []map[string][]model.Link{snap.out, snap.in} {
		for _, ls := range adj {
			sort.Slice(ls, func(i, j int) bool { return ls[i].ID < ls[j].ID })
		}
	}
	for id := range s.devices {
		if doc, err := s.registry.Node(id); err == nil {
			snap.Mappings[id] = doc
		}
	}
	return snap
}

// OutLinks returns the links leaving node, sorted by id.
func (snap *Snapshot) OutLinks(node string) []model.Link { return snap.out[node] }

// InLinks returns the links entering node, sorted by id.
func (snap *Snapshot) InLinks(node string) []model.Link { return snap.in[node] }

// DeviceType returns the type of a mounted device.
func (snap *Snapshot) DeviceType(device string) (model.NodeType, bool) {
	doc, ok := snap.Mappings[device]
	if !ok {
		return "", false
	}
	return doc.Info.NodeType, true
}

// SubNodesOf returns the ids of device's sub-nodes of type t, sorted.
func (snap *Snapshot) SubNodesOf(device string, t model.SubNodeType) []string {
	var out []string
	for id, n := range snap.Nodes {
		if n.SupportingNode == device && n.Type == t {
			out = append(out, id)
		}
	}
	sort.Strings(out)
	return out
}

// Available returns the available wavelengths of a sub-node.
func (snap *Snapshot) Available(node string) []int {
	return snap.Usage[node].Available
}

// Busy reports whether a single-slot TP carries a wavelength.
func (snap *Snapshot) Busy(node, tp string) bool {
	return snap.Usage[node].Busy(tp)
}

// HopClaims resolves a device-level hop to the inventory claims it makes: the
// hop's wavelength-carrying TPs plus, on ROADMs, the CTP or CP companion of
// each. Both TPs must exist on the mounted device.
func (snap *Snapshot) HopClaims(hop model.Hop) ([]kb.Claim, error) {
	nt, ok := snap.DeviceType(hop.NodeID)
	if !ok {
		return nil, fmt.Errorf("%w: node %q is not mounted", model.ErrNotFound, hop.NodeID)
	}
	if hop.SrcTP == "" || hop.DestTP == "" {
		return nil, fmt.Errorf("%w: hop on %s needs src-tp and dest-tp", model.ErrValidation, hop.NodeID)
	}
	var claims []kb.Claim
	for _, tp := range []string{hop.SrcTP, hop.DestTP} {
		subID := core.SubNodeForTP(hop.NodeID, nt, tp)
		sub, ok := snap.Nodes[subID]
		if !ok {
			return nil, fmt.Errorf("%w: termination point %s/%s", model.ErrNotFound, hop.NodeID, tp)
		}
		point, ok := sub.TP(tp)
		if !ok {
			return nil, fmt.Errorf("%w: termination point %s/%s", model.ErrNotFound, hop.NodeID, tp)
		}
		if !point.Role.CarriesWavelength() {
			continue
		}
		claims = append(claims, kb.Claim{Node: subID, TP: tp})
		if companion := companionTP(point); companion != "" {
			if _, ok := sub.TP(companion); ok {
				claims = append(claims, kb.Claim{Node: subID, TP: companion})
			}
		}
	}
	if len(claims) == 0 {
		return nil, fmt.Errorf("%w: hop %s %s->%s carries no wavelength", model.ErrValidation, hop.NodeID, hop.SrcTP, hop.DestTP)
	}
	return claims, nil
}

// companionTP names the logical TP that aggregates traffic of p inside its
// sub-node: DEGn-CTP-TXRX for a TTP, SRGm-CP-TXRX for a PP.
func companionTP(p model.TerminationPoint) string {
	prefix, _, ok := strings.Cut(p.ID, "-")
	if !ok {
		return ""
	}
	switch p.Role {
	case model.RoleDegreeTTP:
		return prefix + "-CTP-TXRX"
	case model.RoleSRGPP:
		return prefix + "-CP-TXRX"
	}
	return ""
}
