package nbi

import (
	"fmt"
	"net/http"
	"sort"

	"github.com/signalsfoundry/lightpath-controller/internal/state"
	"github.com/signalsfoundry/lightpath-controller/model"
)

// Topology network ids.
const (
	topologyNetworkID   = "openroadm-topology"
	supportingNetworkID = "openroadm-network"
)

type wavelengthIndex struct {
	Index int `json:"index"`
}

type availability struct {
	Available []wavelengthIndex `json:"available-wavelengths"`
}

type usedWavelengths struct {
	Used []model.WavelengthSlot `json:"used-wavelengths"`
}

type ppAttributes struct {
	Used []model.WavelengthSlot `json:"used-wavelength"`
}

type frequencyWidth struct {
	Frequency float64 `json:"frequency"`
	Width     int     `json:"width"`
}

type xpdrNetworkAttributes struct {
	Wavelength frequencyWidth `json:"wavelength"`
}

// tpView is a termination point of the topology read model. Attribute
// containers are present only while the TP carries a wavelength.
type tpView struct {
	ID          string                 `json:"tp-id"`
	Type        model.TPRole           `json:"org-openroadm-network-topology:tp-type"`
	XpdrNetwork *xpdrNetworkAttributes `json:"org-openroadm-network-topology:xpdr-network-attributes,omitempty"`
	PP          *ppAttributes          `json:"org-openroadm-network-topology:pp-attributes,omitempty"`
	CP          *usedWavelengths       `json:"org-openroadm-network-topology:cp-attributes,omitempty"`
	CTP         *usedWavelengths       `json:"org-openroadm-network-topology:ctp-attributes,omitempty"`
	TxTTP       *usedWavelengths       `json:"org-openroadm-network-topology:tx-ttp-attributes,omitempty"`
}

type supportingNode struct {
	NetworkRef string `json:"network-ref"`
	NodeRef    string `json:"node-ref"`
}

type nodeView struct {
	ID         string            `json:"node-id"`
	Type       model.SubNodeType `json:"org-openroadm-network-topology:node-type"`
	Supporting []supportingNode  `json:"supporting-node"`
	Degree     *availability     `json:"org-openroadm-network-topology:degree-attributes,omitempty"`
	SRG        *availability     `json:"org-openroadm-network-topology:srg-attributes,omitempty"`
	TPs        []tpView          `json:"ietf-network-topology:termination-point"`
}

type networkView struct {
	ID    string       `json:"network-id"`
	Nodes []nodeView   `json:"node"`
	Links []model.Link `json:"ietf-network-topology:link"`
}

func (s *Server) getTopology(w http.ResponseWriter, _ *http.Request) {
	snap := s.state.Snapshot()
	view := networkView{
		ID:    topologyNetworkID,
		Nodes: make([]nodeView, 0, len(snap.Nodes)),
		Links: make([]model.Link, 0, len(snap.Links)),
	}
	for _, n := range snap.Nodes {
		view.Nodes = append(view.Nodes, nodeViewOf(snap, n))
	}
	sort.Slice(view.Nodes, func(i, j int) bool { return view.Nodes[i].ID < view.Nodes[j].ID })
	for _, l := range snap.Links {
		view.Links = append(view.Links, l)
	}
	sort.Slice(view.Links, func(i, j int) bool { return view.Links[i].ID < view.Links[j].ID })
	writeJSON(w, http.StatusOK, map[string][]networkView{"network": {view}})
}

func (s *Server) getTopologyNode(w http.ResponseWriter, r *http.Request) {
	id, err := pathVar(r, "id")
	if err != nil {
		writeError(w, err)
		return
	}
	snap := s.state.Snapshot()
	n, ok := snap.Nodes[id]
	if !ok {
		writeError(w, fmt.Errorf("%w: topology node %q", model.ErrNotFound, id))
		return
	}
	writeJSON(w, http.StatusOK, map[string][]nodeView{"node": {nodeViewOf(snap, n)}})
}

func nodeViewOf(snap *state.Snapshot, n model.SubNode) nodeView {
	usage := snap.Usage[n.ID]
	v := nodeView{
		ID:         n.ID,
		Type:       n.Type,
		Supporting: []supportingNode{{NetworkRef: supportingNetworkID, NodeRef: n.SupportingNode}},
		TPs:        make([]tpView, 0, len(n.TerminationPoints)),
	}
	switch n.Type {
	case model.SubNodeDegree:
		v.Degree = availabilityOf(snap.Available(n.ID))
	case model.SubNodeSRG:
		v.SRG = availabilityOf(snap.Available(n.ID))
	}
	for _, tp := range n.TerminationPoints {
		tv := tpView{ID: tp.ID, Type: tp.Role}
		if used := usage.Used[tp.ID]; len(used) > 0 {
			switch tp.Role {
			case model.RoleXpdrNetwork:
				tv.XpdrNetwork = &xpdrNetworkAttributes{
					Wavelength: frequencyWidth{Frequency: used[0].Frequency, Width: used[0].Width},
				}
			case model.RoleSRGPP:
				tv.PP = &ppAttributes{Used: used}
			case model.RoleSRGCP:
				tv.CP = &usedWavelengths{Used: used}
			case model.RoleDegreeCTP:
				tv.CTP = &usedWavelengths{Used: used}
			case model.RoleDegreeTTP:
				tv.TxTTP = &usedWavelengths{Used: used}
			}
		}
		v.TPs = append(v.TPs, tv)
	}
	return v
}

func availabilityOf(indices []int) *availability {
	out := &availability{Available: make([]wavelengthIndex, 0, len(indices))}
	for _, i := range indices {
		out.Available = append(out.Available, wavelengthIndex{Index: i})
	}
	return out
}
