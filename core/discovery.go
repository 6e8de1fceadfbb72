package core

import (
	"fmt"

	"github.com/signalsfoundry/lightpath-controller/model"
)

// DeviceView is the read access discovery needs to mounted devices.
type DeviceView interface {
	NodeMapping(node string) (model.NodeMapping, bool)
	// InterfacePort resolves a device interface name to the port that
	// supports it.
	InterfacePort(node, ifName string) (model.PortRef, bool)
}

// RoadmAdjacency is a discovered degree-to-degree adjacency between two
// ROADMs, expressed as the two TTP ends.
type RoadmAdjacency struct {
	A model.LinkEnd
	Z model.LinkEnd
}

// DiscoverRoadmAdjacencies walks the LLDP neighbour list of a ROADM and
// resolves every neighbour whose remote system is mounted. Neighbours that
// cannot be resolved yet are reported as skipped rather than failing the
// whole walk.
func DiscoverRoadmAdjacencies(nodeID string, protocols *model.Protocols, view DeviceView) (found []RoadmAdjacency, skipped []error) {
	if protocols == nil || protocols.LLDP == nil {
		return nil, nil
	}
	for _, nbr := range protocols.LLDP.NbrList.IfName {
		if nbr.RemoteSysName == "" {
			skipped = append(skipped, fmt.Errorf("%w: %s/%s has an empty neighbour", model.ErrNotFound, nodeID, nbr.IfName))
			continue
		}
		a, err := degreeEnd(view, nodeID, nbr.IfName)
		if err != nil {
			skipped = append(skipped, err)
			continue
		}
		z, err := degreeEnd(view, nbr.RemoteSysName, nbr.RemotePortID)
		if err != nil {
			skipped = append(skipped, err)
			continue
		}
		found = append(found, RoadmAdjacency{A: a, Z: z})
	}
	return found, skipped
}

func degreeEnd(view DeviceView, node, ifName string) (model.LinkEnd, error) {
	m, ok := view.NodeMapping(node)
	if !ok {
		return model.LinkEnd{}, fmt.Errorf("%w: neighbour %q is not mounted", model.ErrNotFound, node)
	}
	if m.Info.NodeType != model.NodeTypeROADM {
		return model.LinkEnd{}, fmt.Errorf("%w: neighbour %q is not a ROADM", model.ErrValidation, node)
	}
	ref, ok := view.InterfacePort(node, ifName)
	if !ok {
		return model.LinkEnd{}, fmt.Errorf("%w: interface %s/%s", model.ErrNotFound, node, ifName)
	}
	for _, d := range m.Degrees {
		for _, p := range d.CircuitPacks {
			if p != ref {
				continue
			}
			tp := fmt.Sprintf("DEG%d-TTP-TXRX", d.Number)
			if _, ok := m.Lookup(tp); !ok {
				return model.LinkEnd{}, fmt.Errorf("%w: %s degree %d is not bidirectional", model.ErrValidation, node, d.Number)
			}
			return model.LinkEnd{Node: model.SubNodeID(node, fmt.Sprintf("DEG%d", d.Number)), TP: tp}, nil
		}
	}
	return model.LinkEnd{}, fmt.Errorf("%w: interface %s/%s is not on a degree port", model.ErrNotFound, node, ifName)
}
