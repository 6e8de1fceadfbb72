package model

import "fmt"

// Device-level node types as reported in the device info container.
const (
	DeviceTypeROADM = "rdm"
	DeviceTypeXPDR  = "xpdr"
)

// Circuit-pack equipment states driven by the renderer.
const (
	EquipmentNotReservedAvailable = "not-reserved-available"
	EquipmentNotReservedInUse     = "not-reserved-inuse"
)

// Port qualifiers.
const (
	PortQualRoadmExternal = "roadm-external"
	PortQualRoadmInternal = "roadm-internal"
	PortQualXpdrNetwork   = "xpdr-network"
	PortQualXpdrClient    = "xpdr-client"
)

// Port directions.
const (
	DirectionBidirectional = "bidirectional"
	DirectionTx            = "tx"
	DirectionRx            = "rx"
)

// Interface types.
const (
	InterfaceTypeOCH      = "org-openroadm-interfaces:opticalChannel"
	InterfaceTypeOTU      = "org-openroadm-interfaces:otnOtu"
	InterfaceTypeODU      = "org-openroadm-interfaces:otnOdu"
	InterfaceTypeEthernet = "org-openroadm-interfaces:ethernetCsmacd"
	InterfaceTypeOMS      = "org-openroadm-interfaces:openROADMOpticalMultiplex"
	InterfaceTypeOTS      = "org-openroadm-interfaces:opticalTransport"
)

// Optical control modes of a roadm-connection.
const (
	ControlModeOff      = "off"
	ControlModePower    = "power"
	ControlModeGainLoss = "gainLoss"
)

// AdminStateInService is the administrative state of rendered objects.
const AdminStateInService = "inService"

// DeviceInfo is the device's info container.
type DeviceInfo struct {
	NodeID    string `json:"node-id" yaml:"node-id"`
	NodeType  string `json:"node-type" yaml:"node-type"`
	Vendor    string `json:"vendor,omitempty" yaml:"vendor"`
	Model     string `json:"model,omitempty" yaml:"model"`
	CLLI      string `json:"clli,omitempty" yaml:"clli"`
	IPAddress string `json:"node-ip-address,omitempty" yaml:"node-ip-address"`
	MaxDegree int    `json:"max-degrees,omitempty" yaml:"max-degrees"`
	MaxSRGs   int    `json:"max-srgs,omitempty" yaml:"max-srgs"`
}

// Type maps the device node-type to a NodeType.
func (i DeviceInfo) Type() (NodeType, error) {
	switch i.NodeType {
	case DeviceTypeROADM:
		return NodeTypeROADM, nil
	case DeviceTypeXPDR:
		return NodeTypeXPDR, nil
	default:
		return "", fmt.Errorf("%w: node %q has unsupported node-type %q", ErrValidation, i.NodeID, i.NodeType)
	}
}

// CircuitPack is a device circuit pack and its ports.
type CircuitPack struct {
	Name           string `json:"circuit-pack-name" yaml:"circuit-pack-name"`
	Type           string `json:"circuit-pack-type,omitempty" yaml:"circuit-pack-type"`
	Shelf          string `json:"shelf,omitempty" yaml:"shelf"`
	Slot           string `json:"slot,omitempty" yaml:"slot"`
	EquipmentState string `json:"equipment-state,omitempty" yaml:"equipment-state"`
	Ports          []Port `json:"ports,omitempty" yaml:"ports"`
}

// Port is a physical port on a circuit pack.
type Port struct {
	Name                         string   `json:"port-name" yaml:"port-name"`
	Qual                         string   `json:"port-qual,omitempty" yaml:"port-qual"`
	Direction                    string   `json:"port-direction,omitempty" yaml:"port-direction"`
	LogicalConnectionPoint       string   `json:"logical-connection-point,omitempty" yaml:"logical-connection-point"`
	SupportedInterfaceCapability []string `json:"supported-interface-capability,omitempty" yaml:"supported-interface-capability"`
	Partner                      *PortRef `json:"partner-port,omitempty" yaml:"partner-port"`
}

// PortRef addresses a port by circuit pack and port name.
type PortRef struct {
	CircuitPack string `json:"circuit-pack-name" yaml:"circuit-pack-name"`
	Port        string `json:"port-name" yaml:"port-name"`
}

// Degree is a ROADM degree and the ports that terminate it.
type Degree struct {
	Number          int       `json:"degree-number" yaml:"degree-number"`
	MaxWavelengths  int       `json:"max-wavelengths,omitempty" yaml:"max-wavelengths"`
	ConnectionPorts []PortRef `json:"connection-ports" yaml:"connection-ports"`
}

// SharedRiskGroup is a ROADM add/drop group.
type SharedRiskGroup struct {
	Number          int              `json:"srg-number" yaml:"srg-number"`
	MaxAddDropPorts int              `json:"max-add-drop-ports,omitempty" yaml:"max-add-drop-ports"`
	CircuitPacks    []SRGCircuitPack `json:"circuit-packs" yaml:"circuit-packs"`
}

// SRGCircuitPack references a circuit pack belonging to an SRG.
type SRGCircuitPack struct {
	Index int    `json:"index" yaml:"index"`
	Name  string `json:"circuit-pack-name" yaml:"circuit-pack-name"`
}

// Interface is a device interface of any supported layer.
type Interface struct {
	Name                  string    `json:"name" yaml:"name"`
	Type                  string    `json:"type" yaml:"type"`
	Description           string    `json:"description,omitempty" yaml:"description"`
	AdministrativeState   string    `json:"administrative-state,omitempty" yaml:"administrative-state"`
	SupportingCircuitPack string    `json:"supporting-circuit-pack-name,omitempty" yaml:"supporting-circuit-pack-name"`
	SupportingPort        string    `json:"supporting-port,omitempty" yaml:"supporting-port"`
	SupportingInterface   string    `json:"supporting-interface,omitempty" yaml:"supporting-interface"`
	OCH                   *OCH      `json:"org-openroadm-optical-channel-interfaces:och,omitempty" yaml:"och"`
	OTU                   *OTU      `json:"org-openroadm-otn-otu-interfaces:otu,omitempty" yaml:"otu"`
	ODU                   *ODU      `json:"org-openroadm-otn-odu-interfaces:odu,omitempty" yaml:"odu"`
	Ethernet              *Ethernet `json:"org-openroadm-ethernet-interfaces:ethernet,omitempty" yaml:"ethernet"`
}

// OCH holds optical-channel attributes.
type OCH struct {
	WavelengthNumber int      `json:"wavelength-number"`
	Rate             string   `json:"rate,omitempty"`
	TransmitPower    *float64 `json:"transmit-power,omitempty"`
	ModulationFormat string   `json:"modulation-format,omitempty"`
}

// OTU holds optical transport unit attributes.
type OTU struct {
	Rate string `json:"rate"`
	FEC  string `json:"fec"`
}

// ODU holds optical data unit attributes.
type ODU struct {
	Rate           string `json:"rate"`
	MonitoringMode string `json:"monitoring-mode"`
	OPU            *OPU   `json:"opu,omitempty"`
}

// OPU holds the payload types carried by an ODU.
type OPU struct {
	PayloadType    string `json:"payload-type"`
	ExpPayloadType string `json:"exp-payload-type"`
}

// Ethernet holds client ethernet attributes.
type Ethernet struct {
	Speed           int    `json:"speed"`
	MTU             int    `json:"mtu"`
	AutoNegotiation string `json:"auto-negotiation"`
	Duplex          string `json:"duplex"`
	FEC             string `json:"fec"`
}

// RoadmConnection is a ROADM cross-connection at one wavelength.
type RoadmConnection struct {
	ConnectionNumber   string                `json:"connection-number"`
	WavelengthNumber   int                   `json:"wavelength-number"`
	OpticalControlMode string                `json:"opticalControlMode"`
	TargetOutputPower  *float64              `json:"target-output-power,omitempty"`
	Source             ConnectionSource      `json:"source"`
	Destination        ConnectionDestination `json:"destination"`
}

// ConnectionSource references the ingress interface of a roadm-connection.
type ConnectionSource struct {
	SrcIf string `json:"src-if"`
}

// ConnectionDestination references the egress interface of a roadm-connection.
type ConnectionDestination struct {
	DstIf string `json:"dst-if"`
}

// Protocols is the device protocols container; only LLDP is modelled.
type Protocols struct {
	LLDP *LLDP `json:"org-openroadm-lldp:lldp,omitempty" yaml:"lldp"`
}

// LLDP holds the neighbour list learned by the device.
type LLDP struct {
	NbrList NbrList `json:"nbr-list" yaml:"nbr-list"`
}

// NbrList lists LLDP neighbours per local interface.
type NbrList struct {
	IfName []LLDPNeighbour `json:"if-name" yaml:"if-name"`
}

// LLDPNeighbour is one neighbour learned on a local interface.
type LLDPNeighbour struct {
	IfName            string `json:"if-name" yaml:"if-name"`
	RemoteSysName     string `json:"remoteSysName,omitempty" yaml:"remoteSysName"`
	RemotePortID      string `json:"remotePortId,omitempty" yaml:"remotePortId"`
	RemoteMgmtAddress string `json:"remoteMgmtAddress,omitempty" yaml:"remoteMgmtAddress"`
}

// DeviceInventory is everything read from a device at mount time.
type DeviceInventory struct {
	Info         DeviceInfo        `json:"info" yaml:"info"`
	CircuitPacks []CircuitPack     `json:"circuit-packs,omitempty" yaml:"circuit-packs"`
	Degrees      []Degree          `json:"degree,omitempty" yaml:"degree"`
	SRGs         []SharedRiskGroup `json:"shared-risk-group,omitempty" yaml:"shared-risk-group"`
	Interfaces   []Interface       `json:"interface,omitempty" yaml:"interface"`
	Protocols    *Protocols        `json:"protocols,omitempty" yaml:"protocols"`
}

// CircuitPack returns the named circuit pack.
func (d *DeviceInventory) CircuitPack(name string) (CircuitPack, bool) {
	for _, cp := range d.CircuitPacks {
		if cp.Name == name {
			return cp, true
		}
	}
	return CircuitPack{}, false
}

// Port returns the named port of the named circuit pack.
func (d *DeviceInventory) Port(ref PortRef) (Port, bool) {
	cp, ok := d.CircuitPack(ref.CircuitPack)
	if !ok {
		return Port{}, false
	}
	for _, p := range cp.Ports {
		if p.Name == ref.Port {
			return p, true
		}
	}
	return Port{}, false
}
