package portmapping

import (
	"fmt"
	"sort"
	"strings"

	"github.com/signalsfoundry/lightpath-controller/model"
)

// BuildNodeMapping derives the port mapping of one device from its inventory.
// It is pure: the same inventory always yields the same document.
func BuildNodeMapping(inv model.DeviceInventory, hash HashStrategy) (*model.NodeMapping, error) {
	nodeID := inv.Info.NodeID
	if nodeID == "" {
		return nil, fmt.Errorf("%w: device info has no node-id", model.ErrMappingIncomplete)
	}
	nodeType, err := inv.Info.Type()
	if err != nil {
		return nil, err
	}
	if hash == nil {
		hash = fnv1Strategy{}
	}

	doc := &model.NodeMapping{
		NodeID: nodeID,
		Info: model.NodeInfo{
			NodeType:  nodeType,
			Vendor:    inv.Info.Vendor,
			Model:     inv.Info.Model,
			CLLI:      inv.Info.CLLI,
			IPAddress: inv.Info.IPAddress,
		},
	}

	switch nodeType {
	case model.NodeTypeROADM:
		if err := mapDegrees(doc, inv); err != nil {
			return nil, err
		}
		if err := mapSRGs(doc, inv); err != nil {
			return nil, err
		}
	case model.NodeTypeXPDR:
		if err := mapXponder(doc, inv, hash); err != nil {
			return nil, err
		}
	}
	return doc, nil
}

func mapDegrees(doc *model.NodeMapping, inv model.DeviceInventory) error {
	degrees := append([]model.Degree(nil), inv.Degrees...)
	sort.Slice(degrees, func(i, j int) bool { return degrees[i].Number < degrees[j].Number })

	for _, deg := range degrees {
		if len(deg.ConnectionPorts) == 0 {
			return fmt.Errorf("%w: %s degree %d has no connection ports", model.ErrMappingIncomplete, doc.NodeID, deg.Number)
		}
		doc.Degrees = append(doc.Degrees, model.DegreeMapping{
			Number:       deg.Number,
			CircuitPacks: append([]model.PortRef(nil), deg.ConnectionPorts...),
		})

		ports := make([]model.Port, 0, len(deg.ConnectionPorts))
		for _, ref := range deg.ConnectionPorts {
			p, ok := inv.Port(ref)
			if !ok {
				return fmt.Errorf("%w: %s degree %d references unknown port %s/%s", model.ErrMappingIncomplete, doc.NodeID, deg.Number, ref.CircuitPack, ref.Port)
			}
			if p.Direction == "" {
				return fmt.Errorf("%w: %s port %s/%s has no port-direction", model.ErrMappingIncomplete, doc.NodeID, ref.CircuitPack, ref.Port)
			}
			ports = append(ports, p)
		}

		prefix := fmt.Sprintf("DEG%d-TTP-", deg.Number)
		if len(ports) == 1 {
			if ports[0].Direction != model.DirectionBidirectional {
				return fmt.Errorf("%w: %s degree %d has a single %s port", model.ErrMappingIncomplete, doc.NodeID, deg.Number, ports[0].Direction)
			}
			doc.Mappings = append(doc.Mappings, ttpMapping(inv, prefix+"TXRX", deg.ConnectionPorts[0], ports[0]))
			continue
		}
		var tx, rx *model.Mapping
		for i, p := range ports {
			m := ttpMapping(inv, "", deg.ConnectionPorts[i], p)
			switch p.Direction {
			case model.DirectionTx:
				m.LogicalConnectionPoint = prefix + "TX"
				tx = &m
			case model.DirectionRx:
				m.LogicalConnectionPoint = prefix + "RX"
				rx = &m
			}
		}
		if tx == nil || rx == nil {
			return fmt.Errorf("%w: %s degree %d needs one tx and one rx port", model.ErrMappingIncomplete, doc.NodeID, deg.Number)
		}
		tx.PartnerLCP, rx.PartnerLCP = rx.LogicalConnectionPoint, tx.LogicalConnectionPoint
		doc.Mappings = append(doc.Mappings, *tx, *rx)
	}
	return nil
}

func ttpMapping(inv model.DeviceInventory, lcp string, ref model.PortRef, p model.Port) model.Mapping {
	m := model.Mapping{
		LogicalConnectionPoint: lcp,
		SupportingCircuitPack:  ref.CircuitPack,
		SupportingPort:         ref.Port,
		PortDirection:          p.Direction,
	}
	for _, intf := range inv.Interfaces {
		if intf.SupportingCircuitPack != ref.CircuitPack || intf.SupportingPort != ref.Port {
			continue
		}
		switch intf.Type {
		case model.InterfaceTypeOMS:
			m.SupportingOMS = intf.Name
		case model.InterfaceTypeOTS:
			m.SupportingOTS = intf.Name
		}
	}
	return m
}

func mapSRGs(doc *model.NodeMapping, inv model.DeviceInventory) error {
	srgs := append([]model.SharedRiskGroup(nil), inv.SRGs...)
	sort.Slice(srgs, func(i, j int) bool { return srgs[i].Number < srgs[j].Number })

	for _, srg := range srgs {
		packs := append([]model.SRGCircuitPack(nil), srg.CircuitPacks...)
		sort.SliceStable(packs, func(i, j int) bool { return packs[i].Index < packs[j].Index })

		sm := model.SRGMapping{Number: srg.Number}
		pp := 0
		paired := make(map[model.PortRef]string)
		for _, pack := range packs {
			cp, ok := inv.CircuitPack(pack.Name)
			if !ok {
				return fmt.Errorf("%w: %s srg %d references unknown circuit pack %q", model.ErrMappingIncomplete, doc.NodeID, srg.Number, pack.Name)
			}
			sm.CircuitPacks = append(sm.CircuitPacks, cp.Name)
			for _, p := range cp.Ports {
				ref := model.PortRef{CircuitPack: cp.Name, Port: p.Name}
				if p.Qual == "" {
					return fmt.Errorf("%w: %s port %s/%s has no port-qual", model.ErrMappingIncomplete, doc.NodeID, cp.Name, p.Name)
				}
				if p.Qual != model.PortQualRoadmExternal {
					continue
				}
				m := model.Mapping{
					SupportingCircuitPack: cp.Name,
					SupportingPort:        p.Name,
					PortDirection:         p.Direction,
				}
				switch p.Direction {
				case model.DirectionBidirectional, "":
					pp++
					m.PortDirection = model.DirectionBidirectional
					m.LogicalConnectionPoint = fmt.Sprintf("SRG%d-PP%d-TXRX", srg.Number, pp)
				case model.DirectionTx, model.DirectionRx:
					suffix := strings.ToUpper(p.Direction)
					if partnerLCP, ok := paired[ref]; ok {
						m.LogicalConnectionPoint = strings.TrimSuffix(partnerLCP, otherSuffix(suffix)) + suffix
						m.PartnerLCP = partnerLCP
						setPartner(doc, partnerLCP, m.LogicalConnectionPoint)
					} else {
						pp++
						m.LogicalConnectionPoint = fmt.Sprintf("SRG%d-PP%d-%s", srg.Number, pp, suffix)
						if p.Partner != nil {
							paired[*p.Partner] = m.LogicalConnectionPoint
						}
					}
				}
				doc.Mappings = append(doc.Mappings, m)
			}
		}
		doc.SRGs = append(doc.SRGs, sm)
	}
	return nil
}

func otherSuffix(suffix string) string {
	if suffix == "TX" {
		return "RX"
	}
	return "TX"
}

func setPartner(doc *model.NodeMapping, lcp, partner string) {
	for i := range doc.Mappings {
		if doc.Mappings[i].LogicalConnectionPoint == lcp {
			doc.Mappings[i].PartnerLCP = partner
			return
		}
	}
}

// xpdrPort is a transponder port together with its inferred qualifier.
type xpdrPort struct {
	slot    string
	mapping model.Mapping
}

func mapXponder(doc *model.NodeMapping, inv model.DeviceInventory, hash HashStrategy) error {
	packs := append([]model.CircuitPack(nil), inv.CircuitPacks...)
	sort.Slice(packs, func(i, j int) bool { return packs[i].Name < packs[j].Name })

	var networks, clients []*xpdrPort
	for _, cp := range packs {
		for _, p := range cp.Ports {
			qual, err := inferPortQual(doc.NodeID, cp.Name, p)
			if err != nil {
				return err
			}
			if qual != model.PortQualXpdrNetwork && qual != model.PortQualXpdrClient {
				continue
			}
			dir := p.Direction
			if dir == "" {
				dir = model.DirectionBidirectional
			}
			xp := &xpdrPort{
				slot: packSlot(cp),
				mapping: model.Mapping{
					SupportingCircuitPack:        cp.Name,
					SupportingPort:               p.Name,
					PortDirection:                dir,
					PortQual:                     qual,
					SupportedInterfaceCapability: append([]string(nil), p.SupportedInterfaceCapability...),
				},
			}
			if qual == model.PortQualXpdrNetwork {
				networks = append(networks, xp)
				xp.mapping.LogicalConnectionPoint = fmt.Sprintf("XPDR1-NETWORK%d", len(networks))
			} else {
				clients = append(clients, xp)
				xp.mapping.LogicalConnectionPoint = fmt.Sprintf("XPDR1-CLIENT%d", len(clients))
			}
		}
	}

	pairBySlot(networks, clients)

	for _, group := range [][]*xpdrPort{networks, clients} {
		for _, xp := range group {
			xp.mapping.LCPHashVal = hash.Sum(doc.NodeID, xp.mapping)
			xp.mapping.LCPHashVersion = hash.Version()
			doc.Mappings = append(doc.Mappings, xp.mapping)
		}
	}
	return nil
}

// pairBySlot pairs the k-th client of a slot with the k-th network port of
// the same slot.
func pairBySlot(networks, clients []*xpdrPort) {
	netBySlot := make(map[string][]*xpdrPort)
	for _, n := range networks {
		netBySlot[n.slot] = append(netBySlot[n.slot], n)
	}
	used := make(map[string]int)
	for _, c := range clients {
		candidates := netBySlot[c.slot]
		k := used[c.slot]
		if k >= len(candidates) {
			continue
		}
		used[c.slot] = k + 1
		n := candidates[k]
		c.mapping.ConnectionMapLCP = n.mapping.LogicalConnectionPoint
		n.mapping.ConnectionMapLCP = c.mapping.LogicalConnectionPoint
	}
}

func packSlot(cp model.CircuitPack) string {
	if cp.Slot != "" {
		return cp.Shelf + "/" + cp.Slot
	}
	return cp.Name
}

func inferPortQual(nodeID, cp string, p model.Port) (string, error) {
	if p.Qual != "" {
		return p.Qual, nil
	}
	for _, capability := range p.SupportedInterfaceCapability {
		switch capability {
		case model.CapabilityOCH, model.CapabilityOTUCnODUCn:
			return model.PortQualXpdrNetwork, nil
		case model.Capability100GE, model.Capability10GE, model.Capability1GE:
			return model.PortQualXpdrClient, nil
		}
	}
	return "", fmt.Errorf("%w: %s port %s/%s has neither port-qual nor a known interface capability", model.ErrMappingIncomplete, nodeID, cp, p.Name)
}
