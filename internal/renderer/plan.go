package renderer

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/signalsfoundry/lightpath-controller/internal/sbi"
	"github.com/signalsfoundry/lightpath-controller/internal/state"
	"github.com/signalsfoundry/lightpath-controller/model"
)

// DefaultModulationFormat is used when a request names none.
const DefaultModulationFormat = "dp-qpsk"

const transponderTransmitPower = -5.0

type rateProfile struct {
	och, otu, odu string
	speed         int
}

var rates = map[int]rateProfile{
	100: {
		och:   "org-openroadm-optical-channel-interfaces:R100G",
		otu:   "org-openroadm-otn-otu-interfaces:OTU4",
		odu:   "org-openroadm-otn-odu-interfaces:ODU4",
		speed: 100000,
	},
	10: {
		och:   "org-openroadm-optical-channel-interfaces:R10G",
		otu:   "org-openroadm-otn-otu-interfaces:OTU2",
		odu:   "org-openroadm-otn-odu-interfaces:ODU2",
		speed: 10000,
	},
}

// ParseRate accepts a service rate in Gbit/s, with or without a "G" suffix.
// Empty means model.DefaultServiceRate.
func ParseRate(s string) (int, error) {
	s = strings.TrimSuffix(strings.TrimSpace(strings.ToUpper(s)), "G")
	if s == "" {
		return model.DefaultServiceRate, nil
	}
	rate, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("%w: service rate %q", model.ErrValidation, s)
	}
	if _, ok := rates[rate]; !ok {
		return 0, fmt.Errorf("%w: unsupported service rate %dG", model.ErrValidation, rate)
	}
	return rate, nil
}

// stepKind orders the objects a step touches.
type stepKind int

const (
	stepInterface stepKind = iota
	stepConnection
	stepEquipment
)

// step is one device operation of a plan.
type step struct {
	kind  stepKind
	node  string
	path  sbi.Path
	value any
	// equipment is the target circuit-pack state of a stepEquipment.
	equipment string
}

func (s step) String() string {
	if s.kind == stepEquipment {
		return fmt.Sprintf("%s %s -> %s", s.node, s.path, s.equipment)
	}
	return s.node + " " + s.path.String()
}

// plan is the deterministic device program of one path.
type plan struct {
	create []step
	delete []step
}

func buildPlan(snap *state.Snapshot, req Request, power PowerPolicy) (plan, error) {
	profile, ok := rates[req.rate()]
	if !ok {
		return plan{}, fmt.Errorf("%w: unsupported service rate %dG", model.ErrValidation, req.Rate)
	}
	var p plan
	// Delete runs hops in reverse path order.
	var deletes [][]step
	for _, hop := range req.Hops {
		nt, ok := snap.DeviceType(hop.NodeID)
		if !ok {
			return plan{}, fmt.Errorf("%w: node %q is not mounted", model.ErrNotFound, hop.NodeID)
		}
		doc := snap.Mappings[hop.NodeID]
		var create, del []step
		var err error
		switch nt {
		case model.NodeTypeXPDR:
			create, del, err = xponderSteps(&doc, hop, req, profile)
		case model.NodeTypeROADM:
			create, del, err = roadmSteps(&doc, hop, req, power)
		default:
			err = fmt.Errorf("%w: node %q has unsupported type %s", model.ErrValidation, hop.NodeID, nt)
		}
		if err != nil {
			return plan{}, err
		}
		p.create = append(p.create, create...)
		deletes = append(deletes, del)
	}
	for i := len(deletes) - 1; i >= 0; i-- {
		p.delete = append(p.delete, deletes[i]...)
	}
	return p, nil
}

func lookup(doc *model.NodeMapping, node, lcp string) (model.Mapping, error) {
	m, ok := doc.Lookup(lcp)
	if !ok {
		return model.Mapping{}, fmt.Errorf("%w: no port mapping for %s/%s", model.ErrNotFound, node, lcp)
	}
	return m, nil
}

func xponderSteps(doc *model.NodeMapping, hop model.Hop, req Request, profile rateProfile) (create, del []step, err error) {
	src, err := lookup(doc, hop.NodeID, hop.SrcTP)
	if err != nil {
		return nil, nil, err
	}
	dst, err := lookup(doc, hop.NodeID, hop.DestTP)
	if err != nil {
		return nil, nil, err
	}
	network, client := src, dst
	if src.PortQual != model.PortQualXpdrNetwork {
		network, client = dst, src
	}
	if network.PortQual != model.PortQualXpdrNetwork || client.PortQual != model.PortQualXpdrClient {
		return nil, nil, fmt.Errorf("%w: transponder hop %s %s->%s must join a client and a network port",
			model.ErrValidation, hop.NodeID, hop.SrcTP, hop.DestTP)
	}

	net := network.LogicalConnectionPoint
	power := transponderTransmitPower
	och := model.Interface{
		Name:                  fmt.Sprintf("%s-%d", net, req.Wavelength),
		Type:                  model.InterfaceTypeOCH,
		AdministrativeState:   model.AdminStateInService,
		SupportingCircuitPack: network.SupportingCircuitPack,
		SupportingPort:        network.SupportingPort,
		OCH: &model.OCH{
			WavelengthNumber: req.Wavelength,
			Rate:             profile.och,
			TransmitPower:    &power,
			ModulationFormat: req.modulation(),
		},
	}
	otu := model.Interface{
		Name:                  net + "-OTU",
		Type:                  model.InterfaceTypeOTU,
		AdministrativeState:   model.AdminStateInService,
		SupportingCircuitPack: network.SupportingCircuitPack,
		SupportingPort:        network.SupportingPort,
		SupportingInterface:   och.Name,
		OTU:                   &model.OTU{Rate: profile.otu, FEC: "scfec"},
	}
	odu := model.Interface{
		Name:                  net + "-ODU",
		Type:                  model.InterfaceTypeODU,
		AdministrativeState:   model.AdminStateInService,
		SupportingCircuitPack: network.SupportingCircuitPack,
		SupportingPort:        network.SupportingPort,
		SupportingInterface:   otu.Name,
		ODU: &model.ODU{
			Rate:           profile.odu,
			MonitoringMode: "terminated",
			OPU:            &model.OPU{PayloadType: "07", ExpPayloadType: "07"},
		},
	}
	eth := model.Interface{
		Name:                  client.LogicalConnectionPoint + "-ETHERNET",
		Type:                  model.InterfaceTypeEthernet,
		AdministrativeState:   model.AdminStateInService,
		SupportingCircuitPack: client.SupportingCircuitPack,
		SupportingPort:        client.SupportingPort,
		Ethernet: &model.Ethernet{
			Speed:           profile.speed,
			MTU:             9000,
			AutoNegotiation: "enabled",
			Duplex:          "full",
			FEC:             "off",
		},
	}

	ifs := []model.Interface{och, otu, odu, eth}
	for _, i := range ifs {
		create = append(create, interfaceStep(hop.NodeID, i))
	}
	packs := []string{network.SupportingCircuitPack}
	if client.SupportingCircuitPack != network.SupportingCircuitPack {
		packs = append(packs, client.SupportingCircuitPack)
	}
	for _, cp := range packs {
		create = append(create, equipmentStep(hop.NodeID, cp, model.EquipmentNotReservedInUse))
	}

	for _, i := range []model.Interface{odu, otu, och, eth} {
		del = append(del, interfaceStep(hop.NodeID, i))
	}
	for _, cp := range packs {
		del = append(del, equipmentStep(hop.NodeID, cp, model.EquipmentNotReservedAvailable))
	}
	return create, del, nil
}

func roadmSteps(doc *model.NodeMapping, hop model.Hop, req Request, power PowerPolicy) (create, del []step, err error) {
	src, err := lookup(doc, hop.NodeID, hop.SrcTP)
	if err != nil {
		return nil, nil, err
	}
	dst, err := lookup(doc, hop.NodeID, hop.DestTP)
	if err != nil {
		return nil, nil, err
	}
	if hop.SrcTP == hop.DestTP {
		return nil, nil, fmt.Errorf("%w: hop %s enters and leaves at %s", model.ErrValidation, hop.NodeID, hop.SrcTP)
	}

	srcIf := roadmOCH(src, req.Wavelength)
	dstIf := roadmOCH(dst, req.Wavelength)
	conns := []model.RoadmConnection{connection(hop.NodeID, srcIf.Name, dstIf.Name, hop.SrcTP, hop.DestTP, req, power)}
	if req.Bidirectional {
		conns = append(conns, connection(hop.NodeID, dstIf.Name, srcIf.Name, hop.DestTP, hop.SrcTP, req, power))
	}

	create = append(create, interfaceStep(hop.NodeID, srcIf), interfaceStep(hop.NodeID, dstIf))
	for _, c := range conns {
		create = append(create, connectionStep(hop.NodeID, c))
	}
	for i := len(conns) - 1; i >= 0; i-- {
		del = append(del, connectionStep(hop.NodeID, conns[i]))
	}
	del = append(del, interfaceStep(hop.NodeID, dstIf), interfaceStep(hop.NodeID, srcIf))
	return create, del, nil
}

func roadmOCH(m model.Mapping, wavelength int) model.Interface {
	return model.Interface{
		Name:                  fmt.Sprintf("%s-%d", m.LogicalConnectionPoint, wavelength),
		Type:                  model.InterfaceTypeOCH,
		AdministrativeState:   model.AdminStateInService,
		SupportingCircuitPack: m.SupportingCircuitPack,
		SupportingPort:        m.SupportingPort,
		OCH:                   &model.OCH{WavelengthNumber: wavelength},
	}
}

func connection(node, srcIf, dstIf, srcTP, dstTP string, req Request, power PowerPolicy) model.RoadmConnection {
	c := model.RoadmConnection{
		ConnectionNumber:   fmt.Sprintf("%s-%s-%d", srcTP, dstTP, req.Wavelength),
		WavelengthNumber:   req.Wavelength,
		OpticalControlMode: model.ControlModeOff,
		Source:             model.ConnectionSource{SrcIf: srcIf},
		Destination:        model.ConnectionDestination{DstIf: dstIf},
	}
	if req.ControlMode == ControlOff {
		return c
	}
	if isAddDrop(srcTP) && isDegree(dstTP) {
		target := power.Target(node)
		c.OpticalControlMode = model.ControlModeGainLoss
		c.TargetOutputPower = &target
		return c
	}
	c.OpticalControlMode = model.ControlModePower
	return c
}

func isAddDrop(tp string) bool { return strings.HasPrefix(tp, "SRG") }

func isDegree(tp string) bool { return strings.HasPrefix(tp, "DEG") }

func interfaceStep(node string, i model.Interface) step {
	return step{
		kind:  stepInterface,
		node:  node,
		path:  sbi.Path{List: sbi.ListInterface, Key: i.Name},
		value: i,
	}
}

func connectionStep(node string, c model.RoadmConnection) step {
	return step{
		kind:  stepConnection,
		node:  node,
		path:  sbi.Path{List: sbi.ListRoadmConnections, Key: c.ConnectionNumber},
		value: c,
	}
}

func equipmentStep(node, cp, equipment string) step {
	return step{
		kind:      stepEquipment,
		node:      node,
		path:      sbi.Path{List: sbi.ListCircuitPacks, Key: cp},
		equipment: equipment,
	}
}
