// Package core holds the openroadm topology: sub-nodes derived from the
// port mapping of every mounted device, and the links between them.
package core

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/signalsfoundry/lightpath-controller/model"
)

// Topology is a concurrency-safe store of sub-nodes and directed links.
type Topology struct {
	mu sync.RWMutex

	nodes       map[string]*model.SubNode
	byDevice    map[string][]string
	deviceTypes map[string]model.NodeType
	links       map[string]*model.Link
	linksByNode map[string]map[string]struct{}
}

// NewTopology creates an empty topology.
func NewTopology() *Topology {
	return &Topology{
		nodes:       make(map[string]*model.SubNode),
		byDevice:    make(map[string][]string),
		deviceTypes: make(map[string]model.NodeType),
		links:       make(map[string]*model.Link),
		linksByNode: make(map[string]map[string]struct{}),
	}
}

//
// ---------- Devices ----------
//

// AddDevice derives the sub-nodes and internal links of a mapped device and
// stores them. The created sub-nodes are returned so callers can register
// them with the inventory.
func (t *Topology) AddDevice(m model.NodeMapping) ([]model.SubNode, error) {
	nodes, links := BuildSubNodes(m)
	if len(nodes) == 0 {
		return nil, fmt.Errorf("%w: device %q yields no topology nodes", model.ErrMappingIncomplete, m.NodeID)
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if _, exists := t.byDevice[m.NodeID]; exists {
		return nil, fmt.Errorf("%w: device %q is already in the topology", model.ErrAlreadyExists, m.NodeID)
	}
	ids := make([]string, 0, len(nodes))
	for i := range nodes {
		n := nodes[i]
		t.nodes[n.ID] = &n
		ids = append(ids, n.ID)
	}
	t.byDevice[m.NodeID] = ids
	t.deviceTypes[m.NodeID] = m.Info.NodeType
	for i := range links {
		t.addLinkLocked(links[i])
	}
	return copySubNodes(nodes), nil
}

// RemoveDevice drops every sub-node of device and every link touching them.
// It returns the removed sub-node ids.
func (t *Topology) RemoveDevice(device string) ([]string, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	ids, ok := t.byDevice[device]
	if !ok {
		return nil, fmt.Errorf("%w: device %q is not in the topology", model.ErrNotFound, device)
	}
	for _, id := range ids {
		for linkID := range t.linksByNode[id] {
			t.deleteLinkLocked(linkID)
		}
		delete(t.linksByNode, id)
		delete(t.nodes, id)
	}
	delete(t.byDevice, device)
	delete(t.deviceTypes, device)
	return append([]string(nil), ids...), nil
}

// DeviceType returns the node type of a device in the topology.
func (t *Topology) DeviceType(device string) (model.NodeType, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	nt, ok := t.deviceTypes[device]
	return nt, ok
}

// DeviceOf returns the device supporting a sub-node.
func (t *Topology) DeviceOf(subNode string) (string, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	n, ok := t.nodes[subNode]
	if !ok {
		return "", false
	}
	return n.SupportingNode, true
}

//
// ---------- Sub-nodes ----------
//

// SubNode returns a copy of the sub-node with the given id.
func (t *Topology) SubNode(id string) (model.SubNode, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	n, ok := t.nodes[id]
	if !ok {
		return model.SubNode{}, false
	}
	return copySubNode(*n), true
}

// SubNodes returns copies of all sub-nodes sorted by id.
func (t *Topology) SubNodes() []model.SubNode {
	t.mu.RLock()
	defer t.mu.RUnlock()

	out := make([]model.SubNode, 0, len(t.nodes))
	for _, n := range t.nodes {
		out = append(out, copySubNode(*n))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// ResolveTP locates the sub-node of device that holds the termination point
// named by lcp.
func (t *Topology) ResolveTP(device, lcp string) (string, model.TerminationPoint, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	nt, ok := t.deviceTypes[device]
	if !ok {
		return "", model.TerminationPoint{}, fmt.Errorf("%w: device %q is not in the topology", model.ErrNotFound, device)
	}
	id := SubNodeForTP(device, nt, lcp)
	n, ok := t.nodes[id]
	if !ok {
		return "", model.TerminationPoint{}, fmt.Errorf("%w: topology node %q", model.ErrNotFound, id)
	}
	tp, ok := n.TP(lcp)
	if !ok {
		return "", model.TerminationPoint{}, fmt.Errorf("%w: termination point %s/%s", model.ErrNotFound, id, lcp)
	}
	return id, tp, nil
}

// SubNodeForTP derives the sub-node id that holds tp on device: the xponder
// for transponders, and the degree or SRG named by the tp prefix otherwise.
func SubNodeForTP(device string, nt model.NodeType, tp string) string {
	if nt == model.NodeTypeXPDR {
		return model.SubNodeID(device, "XPDR1")
	}
	prefix, _, _ := strings.Cut(tp, "-")
	return model.SubNodeID(device, prefix)
}

//
// ---------- Links ----------
//

// AddLink stores an external link. A link with the same id is rejected.
func (t *Topology) AddLink(l model.Link) error {
	if l.ID == "" {
		l.ID = model.LinkID(l.Source, l.Destination)
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if err := t.checkEndsLocked(l); err != nil {
		return err
	}
	if _, exists := t.links[l.ID]; exists {
		return fmt.Errorf("%w: link %q", model.ErrAlreadyExists, l.ID)
	}
	t.addLinkLocked(l)
	return nil
}

// AddRoadmLinkPair creates the two directions of a ROADM-to-ROADM link
// between degree TTPs a and z. Existing directions are kept, so repeated
// discovery of the same adjacency is harmless; created reports whether
// anything new was stored.
func (t *Topology) AddRoadmLinkPair(a, z model.LinkEnd) (created bool, err error) {
	forward := model.Link{Type: model.LinkRoadmToRoadm, Source: a, Destination: z}
	reverse := model.Link{Type: model.LinkRoadmToRoadm, Source: z, Destination: a}
	forward.ID = model.LinkID(a, z)
	reverse.ID = model.LinkID(z, a)
	forward.Opposite, reverse.Opposite = reverse.ID, forward.ID

	t.mu.Lock()
	defer t.mu.Unlock()
	for _, l := range []model.Link{forward, reverse} {
		if err := t.checkEndsLocked(l); err != nil {
			return false, err
		}
		for _, end := range []model.LinkEnd{l.Source, l.Destination} {
			tp, _ := t.nodes[end.Node].TP(end.TP)
			if tp.Role != model.RoleDegreeTTP {
				return false, fmt.Errorf("%w: %s/%s is not a degree TTP", model.ErrValidation, end.Node, end.TP)
			}
		}
	}
	for _, l := range []model.Link{forward, reverse} {
		if _, exists := t.links[l.ID]; exists {
			continue
		}
		t.addLinkLocked(l)
		created = true
	}
	return created, nil
}

// Link returns a copy of the link with the given id.
func (t *Topology) Link(id string) (model.Link, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	l, ok := t.links[id]
	if !ok {
		return model.Link{}, false
	}
	return copyLink(*l), true
}

// Links returns copies of all links sorted by id.
func (t *Topology) Links() []model.Link {
	t.mu.RLock()
	defer t.mu.RUnlock()

	out := make([]model.Link, 0, len(t.links))
	for _, l := range t.links {
		out = append(out, copyLink(*l))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// OutLinks returns the links leaving node, sorted by id.
func (t *Topology) OutLinks(node string) []model.Link {
	t.mu.RLock()
	defer t.mu.RUnlock()

	var out []model.Link
	for id := range t.linksByNode[node] {
		l := t.links[id]
		if l.Source.Node == node {
			out = append(out, copyLink(*l))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// SetOMSSpan stores span attributes on a ROADM-to-ROADM link. created is true
// when the link had no span before.
func (t *Topology) SetOMSSpan(linkID string, span model.OMSSpan) (created bool, err error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	l, ok := t.links[linkID]
	if !ok {
		return false, fmt.Errorf("%w: link %q", model.ErrNotFound, linkID)
	}
	if l.Type != model.LinkRoadmToRoadm {
		return false, fmt.Errorf("%w: link %q is %s, span attributes need %s", model.ErrValidation, linkID, l.Type, model.LinkRoadmToRoadm)
	}
	created = l.OMS == nil
	s := span
	s.LinkConcatenation = append([]model.LinkConcatenation(nil), span.LinkConcatenation...)
	l.OMS = &s
	return created, nil
}

// Snapshot returns consistent copies of all sub-nodes and links.
func (t *Topology) Snapshot() ([]model.SubNode, []model.Link) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	nodes := make([]model.SubNode, 0, len(t.nodes))
	for _, n := range t.nodes {
		nodes = append(nodes, copySubNode(*n))
	}
	sort.Slice(nodes, func(i, j int) bool { return nodes[i].ID < nodes[j].ID })
	links := make([]model.Link, 0, len(t.links))
	for _, l := range t.links {
		links = append(links, copyLink(*l))
	}
	sort.Slice(links, func(i, j int) bool { return links[i].ID < links[j].ID })
	return nodes, links
}

func (t *Topology) checkEndsLocked(l model.Link) error {
	for _, end := range []model.LinkEnd{l.Source, l.Destination} {
		n, ok := t.nodes[end.Node]
		if !ok {
			return fmt.Errorf("%w: topology node %q", model.ErrNotFound, end.Node)
		}
		if _, ok := n.TP(end.TP); !ok {
			return fmt.Errorf("%w: termination point %s/%s", model.ErrNotFound, end.Node, end.TP)
		}
	}
	return nil
}

func (t *Topology) addLinkLocked(l model.Link) {
	stored := copyLink(l)
	t.links[l.ID] = &stored
	for _, node := range []string{l.Source.Node, l.Destination.Node} {
		set := t.linksByNode[node]
		if set == nil {
			set = make(map[string]struct{})
			t.linksByNode[node] = set
		}
		set[l.ID] = struct{}{}
	}
}

func (t *Topology) deleteLinkLocked(id string) {
	l, ok := t.links[id]
	if !ok {
		return
	}
	delete(t.links, id)
	for _, node := range []string{l.Source.Node, l.Destination.Node} {
		delete(t.linksByNode[node], id)
	}
}

//
// ---------- Derivation ----------
//

// BuildSubNodes derives sub-nodes and internal links from a port mapping.
// Degrees mapped as separate TX and RX ports are not modelled.
func BuildSubNodes(m model.NodeMapping) ([]model.SubNode, []model.Link) {
	switch m.Info.NodeType {
	case model.NodeTypeXPDR:
		return buildXponder(m), nil
	case model.NodeTypeROADM:
		return buildRoadm(m)
	}
	return nil, nil
}

func buildXponder(m model.NodeMapping) []model.SubNode {
	n := model.SubNode{
		ID:             model.SubNodeID(m.NodeID, "XPDR1"),
		SupportingNode: m.NodeID,
		Type:           model.SubNodeXponder,
		Number:         1,
	}
	for _, mp := range m.Mappings {
		var role model.TPRole
		switch {
		case strings.HasPrefix(mp.LogicalConnectionPoint, "XPDR1-NETWORK"):
			role = model.RoleXpdrNetwork
		case strings.HasPrefix(mp.LogicalConnectionPoint, "XPDR1-CLIENT"):
			role = model.RoleXpdrClient
		default:
			continue
		}
		n.TerminationPoints = append(n.TerminationPoints, model.TerminationPoint{
			ID:          mp.LogicalConnectionPoint,
			Role:        role,
			CircuitPack: mp.SupportingCircuitPack,
			Port:        mp.SupportingPort,
		})
	}
	if len(n.TerminationPoints) == 0 {
		return nil
	}
	return []model.SubNode{n}
}

func buildRoadm(m model.NodeMapping) ([]model.SubNode, []model.Link) {
	var (
		nodes   []model.SubNode
		degrees []model.SubNode
		srgs    []model.SubNode
	)
	for _, d := range m.Degrees {
		ttpID := fmt.Sprintf("DEG%d-TTP-TXRX", d.Number)
		mp, ok := m.Lookup(ttpID)
		if !ok {
			continue
		}
		deg := model.SubNode{
			ID:             model.SubNodeID(m.NodeID, "DEG"+strconv.Itoa(d.Number)),
			SupportingNode: m.NodeID,
			Type:           model.SubNodeDegree,
			Number:         d.Number,
			TerminationPoints: []model.TerminationPoint{
				{ID: fmt.Sprintf("DEG%d-CTP-TXRX", d.Number), Role: model.RoleDegreeCTP},
				{ID: ttpID, Role: model.RoleDegreeTTP, CircuitPack: mp.SupportingCircuitPack, Port: mp.SupportingPort},
			},
		}
		degrees = append(degrees, deg)
	}
	for _, s := range m.SRGs {
		prefix := fmt.Sprintf("SRG%d-PP", s.Number)
		srg := model.SubNode{
			ID:             model.SubNodeID(m.NodeID, "SRG"+strconv.Itoa(s.Number)),
			SupportingNode: m.NodeID,
			Type:           model.SubNodeSRG,
			Number:         s.Number,
			TerminationPoints: []model.TerminationPoint{
				{ID: fmt.Sprintf("SRG%d-CP-TXRX", s.Number), Role: model.RoleSRGCP},
			},
		}
		for _, mp := range m.Mappings {
			lcp := mp.LogicalConnectionPoint
			if !strings.HasPrefix(lcp, prefix) || !strings.HasSuffix(lcp, "-TXRX") {
				continue
			}
			srg.TerminationPoints = append(srg.TerminationPoints, model.TerminationPoint{
				ID:          lcp,
				Role:        model.RoleSRGPP,
				CircuitPack: mp.SupportingCircuitPack,
				Port:        mp.SupportingPort,
			})
		}
		srgs = append(srgs, srg)
	}

	var links []model.Link
	for _, a := range degrees {
		for _, b := range degrees {
			if a.ID == b.ID {
				continue
			}
			links = append(links, internalLink(model.LinkExpress, a, ctpOf(a), b, ctpOf(b)))
		}
	}
	for _, s := range srgs {
		cp := fmt.Sprintf("SRG%d-CP-TXRX", s.Number)
		for _, d := range degrees {
			add := internalLink(model.LinkAdd, s, cp, d, ctpOf(d))
			drop := internalLink(model.LinkDrop, d, ctpOf(d), s, cp)
			add.Opposite, drop.Opposite = drop.ID, add.ID
			links = append(links, add, drop)
		}
	}

	nodes = append(nodes, degrees...)
	nodes = append(nodes, srgs...)
	return nodes, links
}

func ctpOf(deg model.SubNode) string {
	return fmt.Sprintf("DEG%d-CTP-TXRX", deg.Number)
}

func internalLink(lt model.LinkType, src model.SubNode, srcTP string, dst model.SubNode, dstTP string) model.Link {
	s := model.LinkEnd{Node: src.ID, TP: srcTP}
	d := model.LinkEnd{Node: dst.ID, TP: dstTP}
	l := model.Link{ID: model.LinkID(s, d), Type: lt, Source: s, Destination: d}
	if lt == model.LinkExpress {
		l.Opposite = model.LinkID(d, s)
	}
	return l
}

func copySubNode(n model.SubNode) model.SubNode {
	n.TerminationPoints = append([]model.TerminationPoint(nil), n.TerminationPoints...)
	return n
}

func copySubNodes(in []model.SubNode) []model.SubNode {
	out := make([]model.SubNode, len(in))
	for i, n := range in {
		out[i] = copySubNode(n)
	}
	return out
}

func copyLink(l model.Link) model.Link {
	if l.OMS != nil {
		span := *l.OMS
		span.LinkConcatenation = append([]model.LinkConcatenation(nil), l.OMS.LinkConcatenation...)
		l.OMS = &span
	}
	return l
}
