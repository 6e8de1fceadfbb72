package model

// Supported interface capabilities reported by transponder ports.
const (
	CapabilityOCH        = "org-openroadm-port-types:if-OCH"
	CapabilityOTUCnODUCn = "org-openroadm-port-types:if-OTUCn-ODUCn"
	Capability100GE      = "org-openroadm-port-types:if-100GE"
	Capability10GE       = "org-openroadm-port-types:if-10GE"
	Capability1GE        = "org-openroadm-port-types:if-1GE"
)

// Mapping is one port mapping entry: a logical connection point resolved to
// its physical circuit pack and port.
type Mapping struct {
	LogicalConnectionPoint       string   `json:"logical-connection-point"`
	SupportingCircuitPack        string   `json:"supporting-circuit-pack-name"`
	SupportingPort               string   `json:"supporting-port"`
	PortDirection                string   `json:"port-direction"`
	PortQual                     string   `json:"port-qual,omitempty"`
	ConnectionMapLCP             string   `json:"connection-map-lcp,omitempty"`
	PartnerLCP                   string   `json:"partner-lcp,omitempty"`
	SupportedInterfaceCapability []string `json:"supported-interface-capability,omitempty"`
	SupportingOMS                string   `json:"supporting-oms,omitempty"`
	SupportingOTS                string   `json:"supporting-ots,omitempty"`
	LCPHashVal                   string   `json:"lcp-hash-val,omitempty"`
	LCPHashVersion               int      `json:"lcp-hash-version,omitempty"`
}

// NodeInfo summarises a mapped node.
type NodeInfo struct {
	NodeType  NodeType `json:"node-type"`
	Vendor    string   `json:"openroadm-version-vendor,omitempty"`
	Model     string   `json:"node-model,omitempty"`
	CLLI      string   `json:"node-clli,omitempty"`
	IPAddress string   `json:"node-ip-address,omitempty"`
}

// DegreeMapping records which circuit packs implement a degree.
type DegreeMapping struct {
	Number       int       `json:"degree-number"`
	CircuitPacks []PortRef `json:"connection-ports"`
}

// SRGMapping records which circuit packs implement an SRG.
type SRGMapping struct {
	Number       int      `json:"srg-number"`
	CircuitPacks []string `json:"circuit-packs"`
}

// NodeMapping is the full port mapping document for one device.
type NodeMapping struct {
	NodeID   string          `json:"node-id"`
	Info     NodeInfo        `json:"node-info"`
	Mappings []Mapping       `json:"mapping"`
	Degrees  []DegreeMapping `json:"degree,omitempty"`
	SRGs     []SRGMapping    `json:"srg,omitempty"`
}

// Lookup returns the entry for lcp.
func (n *NodeMapping) Lookup(lcp string) (Mapping, bool) {
	for _, m := range n.Mappings {
		if m.LogicalConnectionPoint == lcp {
			return m, true
		}
	}
	return Mapping{}, false
}
