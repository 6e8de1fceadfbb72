package model

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
)

// NodeType is the role of a managed device.
type NodeType string

const (
	NodeTypeROADM NodeType = "ROADM"
	NodeTypeXPDR  NodeType = "XPDR"
)

// SubNodeType classifies openroadm-topology nodes derived from a device.
type SubNodeType string

const (
	SubNodeDegree  SubNodeType = "DEGREE"
	SubNodeSRG     SubNodeType = "SRG"
	SubNodeXponder SubNodeType = "XPONDER"
)

// TPRole is the role of a termination point within a sub-node.
type TPRole string

const (
	RoleDegreeTTP   TPRole = "DEGREE-TXRX-TTP"
	RoleDegreeCTP   TPRole = "DEGREE-TXRX-CTP"
	RoleSRGPP       TPRole = "SRG-TXRX-PP"
	RoleSRGCP       TPRole = "SRG-TXRX-CP"
	RoleXpdrNetwork TPRole = "XPONDER-NETWORK"
	RoleXpdrClient  TPRole = "XPONDER-CLIENT"
)

// SingleSlot reports whether the TP can carry at most one wavelength at a time.
func (r TPRole) SingleSlot() bool {
	return r == RoleSRGPP || r == RoleXpdrNetwork
}

// CarriesWavelength reports whether the TP tracks used wavelengths at all.
func (r TPRole) CarriesWavelength() bool {
	return r != RoleXpdrClient && r != ""
}

// TerminationPoint is a port-level endpoint on a topology sub-node.
type TerminationPoint struct {
	ID          string `json:"tp-id"`
	Role        TPRole `json:"tp-type"`
	CircuitPack string `json:"circuit-pack,omitempty"`
	Port        string `json:"port,omitempty"`
}

// SubNode is an openroadm-topology node: one degree or SRG of a ROADM, or the
// xponder of a transponder.
type SubNode struct {
	ID                string             `json:"node-id"`
	SupportingNode    string             `json:"supporting-node"`
	Type              SubNodeType        `json:"node-type"`
	Number            int                `json:"number,omitempty"`
	TerminationPoints []TerminationPoint `json:"termination-points"`
}

// TP returns the termination point with the given id.
func (n *SubNode) TP(id string) (TerminationPoint, bool) {
	for _, tp := range n.TerminationPoints {
		if tp.ID == id {
			return tp, true
		}
	}
	return TerminationPoint{}, false
}

// SubNodeID composes a topology node id such as ROADMA01-DEG1.
func SubNodeID(device, suffix string) string {
	return device + "-" + suffix
}

// LinkType classifies openroadm-topology links.
type LinkType string

const (
	LinkExpress      LinkType = "EXPRESS-LINK"
	LinkAdd          LinkType = "ADD-LINK"
	LinkDrop         LinkType = "DROP-LINK"
	LinkRoadmToRoadm LinkType = "ROADM-TO-ROADM"
	LinkXpdrOutput   LinkType = "XPONDER-OUTPUT"
	LinkXpdrInput    LinkType = "XPONDER-INPUT"
)

// Internal reports whether the link stays inside one device.
func (t LinkType) Internal() bool {
	return t == LinkExpress || t == LinkAdd || t == LinkDrop
}

// LinkEnd identifies one end of a link.
type LinkEnd struct {
	Node string `json:"node"`
	TP   string `json:"tp"`
}

// Link is a directed topology link between two termination points.
type Link struct {
	ID          string   `json:"link-id"`
	Type        LinkType `json:"link-type"`
	Source      LinkEnd  `json:"source"`
	Destination LinkEnd  `json:"destination"`
	Opposite    string   `json:"opposite-link,omitempty"`
	OMS         *OMSSpan `json:"OMS-attributes,omitempty"`
}

// LinkID composes the canonical id of a directed link.
func LinkID(src, dst LinkEnd) string {
	return fmt.Sprintf("%s-%sto%s-%s", src.Node, src.TP, dst.Node, dst.TP)
}

// OMSSpan carries span attributes for a ROADM-to-ROADM link.
type OMSSpan struct {
	CLFI               string              `json:"clfi,omitempty"`
	AutoSpanloss       FlexBool            `json:"auto-spanloss"`
	SpanlossBase       float64             `json:"spanloss-base"`
	SpanlossCurrent    float64             `json:"spanloss-current"`
	EngineeredSpanloss float64             `json:"engineered-spanloss"`
	LinkConcatenation  []LinkConcatenation `json:"link-concatenation,omitempty"`
}

// LinkConcatenation describes one fiber section of a span.
type LinkConcatenation struct {
	SRLGID     int     `json:"SRLG-Id"`
	FiberType  string  `json:"fiber-type,omitempty"`
	SRLGLength float64 `json:"SRLG-length"`
	PMD        float64 `json:"pmd"`
}

// FlexBool decodes both JSON booleans and the quoted "true"/"false" form
// RESTCONF clients commonly send.
type FlexBool bool

// UnmarshalJSON implements json.Unmarshaler.
func (b *FlexBool) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		v, err := strconv.ParseBool(s)
		if err != nil {
			return fmt.Errorf("%w: %q is not a boolean", ErrValidation, s)
		}
		*b = FlexBool(v)
		return nil
	}
	var v bool
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	*b = FlexBool(v)
	return nil
}
