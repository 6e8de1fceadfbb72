package pce

import (
	"fmt"

	"github.com/signalsfoundry/lightpath-controller/internal/state"
	"github.com/signalsfoundry/lightpath-controller/kb"
	"github.com/signalsfoundry/lightpath-controller/model"
)

//
// ---------- Network mode ----------
//

func computeNetwork(snap *state.Snapshot, req Request) (Result, error) {
	if req.AEnd == "" || req.ZEnd == "" {
		return Result{}, fmt.Errorf("%w: both service ends need a node-id", model.ErrValidation)
	}
	if req.AEnd == req.ZEnd {
		return Result{}, fmt.Errorf("%w: service ends are both %q", model.ErrValidation, req.AEnd)
	}
	endType, err := endpointType(snap, req.AEnd, req.ZEnd)
	if err != nil {
		return Result{}, err
	}
	endSubNodes := model.SubNodeXponder
	if endType == model.NodeTypeROADM {
		endSubNodes = model.SubNodeSRG
	}

	sources := snap.SubNodesOf(req.AEnd, endSubNodes)
	targets := snap.SubNodesOf(req.ZEnd, endSubNodes)
	seqs := shortestSequences(snap, sources, targets, MaxCandidates)
	if len(seqs) == 0 {
		return Result{}, fmt.Errorf("%w: %s and %s are not connected", model.ErrNoPathFound, req.AEnd, req.ZEnd)
	}

	var lastInvalid error
	usable := 0
	for _, seq := range seqs {
		hops, subNodes, err := toHops(snap, seq)
		if err != nil {
			lastInvalid = err
			continue
		}
		var ends []model.LinkEnd
		if endType == model.NodeTypeROADM {
			pps, err := addDropPorts(snap, seq, hops)
			if err != nil {
				usable++
				continue
			}
			ends = append(ends, pps...)
		}
		usable++

		for _, l := range seq {
			ends = append(ends, l.Source, l.Destination)
		}
		wl, err := pick(snap.Grid, candidateSet(snap, subNodes, ends), req.Wavelength)
		if err != nil {
			continue
		}

		res := Result{Hops: hops, Wavelength: wl, SubNodes: subNodes}
		res.Slot, _ = snap.Grid.Slot(wl)
		for _, l := range seq {
			res.Links = append(res.Links, l.ID)
		}
		for _, hop := range hops {
			claims, err := snap.HopClaims(hop)
			if err != nil {
				return Result{}, err
			}
			res.Claims = append(res.Claims, claims)
		}
		return res, nil
	}
	if usable == 0 {
		return Result{}, fmt.Errorf("%w: no usable route between %s and %s: %v", model.ErrNoPathFound, req.AEnd, req.ZEnd, lastInvalid)
	}
	return Result{}, fmt.Errorf("%w: all %d shortest routes between %s and %s are exhausted", model.ErrNoWavelengthAvailable, usable, req.AEnd, req.ZEnd)
}

// shortestSequences enumerates every minimum-hop link sequence from a source
// to a target sub-node, in lexicographic link-id order, up to limit.
// Transponder sub-nodes are never transit.
func shortestSequences(snap *state.Snapshot, sources, targets []string, limit int) [][]model.Link {
	isSource := setOf(sources)
	isTarget := setOf(targets)
	transit := func(node string) bool {
		return snap.Nodes[node].Type != model.SubNodeXponder
	}

	distS := bfs(sources, func(n string) []string {
		if !isSource[n] && !transit(n) {
			return nil
		}
		var next []string
		for _, l := range snap.OutLinks(n) {
			next = append(next, l.Destination.Node)
		}
		return next
	})
	distT := bfs(targets, func(n string) []string {
		if !isTarget[n] && !transit(n) {
			return nil
		}
		var prev []string
		for _, l := range snap.InLinks(n) {
			prev = append(prev, l.Source.Node)
		}
		return prev
	})

	best := -1
	for _, t := range targets {
		if d, ok := distS[t]; ok && (best < 0 || d < best) {
			best = d
		}
	}
	if best <= 0 {
		return nil
	}

	var (
		out  [][]model.Link
		path []model.Link
		walk func(u string)
	)
	walk = func(u string) {
		if len(out) >= limit {
			return
		}
		if isTarget[u] {
			if len(path) == best {
				out = append(out, append([]model.Link(nil), path...))
			}
			return
		}
		for _, l := range snap.OutLinks(u) {
			v := l.Destination.Node
			dt, ok := distT[v]
			if !ok || distS[u]+1+dt != best {
				continue
			}
			if !isTarget[v] && !transit(v) {
				continue
			}
			path = append(path, l)
			walk(v)
			path = path[:len(path)-1]
		}
	}
	for _, s := range sources {
		if _, ok := distT[s]; ok {
			walk(s)
		}
	}
	return out
}

func bfs(starts []string, next func(string) []string) map[string]int {
	dist := make(map[string]int, len(starts))
	queue := make([]string, 0, len(starts))
	for _, s := range starts {
		if _, seen := dist[s]; !seen {
			dist[s] = 0
			queue = append(queue, s)
		}
	}
	for len(queue) > 0 {
		u := queue[0]
		queue = queue[1:]
		for _, v := range next(u) {
			if _, seen := dist[v]; seen {
				continue
			}
			dist[v] = dist[u] + 1
			queue = append(queue, v)
		}
	}
	return dist
}

func setOf(ids []string) map[string]bool {
	out := make(map[string]bool, len(ids))
	for _, id := range ids {
		out[id] = true
	}
	return out
}

// toHops folds a link sequence into device hops. Consecutive sub-nodes of one
// device form a hop entering at the TP of the incoming link and leaving at
// the TP of the outgoing one. The transponder ends use the client paired
// with the traversed network port.
func toHops(snap *state.Snapshot, seq []model.Link) ([]model.Hop, []string, error) {
	type visit struct {
		node, in, out string
	}
	visits := []visit{{node: seq[0].Source.Node, out: seq[0].Source.TP}}
	for i, l := range seq {
		v := visit{node: l.Destination.Node, in: l.Destination.TP}
		if i+1 < len(seq) {
			v.out = seq[i+1].Source.TP
		}
		visits = append(visits, v)
	}

	var (
		hops     []model.Hop
		subNodes []string
	)
	for _, v := range visits {
		subNodes = append(subNodes, v.node)
		device := snap.Nodes[v.node].SupportingNode
		if n := len(hops); n > 0 && hops[n-1].NodeID == device {
			hops[n-1].DestTP = v.out
			continue
		}
		hops = append(hops, model.Hop{NodeID: device, SrcTP: v.in, DestTP: v.out})
	}

	if snap.Nodes[seq[0].Source.Node].Type != model.SubNodeXponder {
		return hops, subNodes, nil
	}
	first, last := &hops[0], &hops[len(hops)-1]
	client, err := pairedClient(snap, first.NodeID, first.DestTP)
	if err != nil {
		return nil, nil, err
	}
	first.SrcTP = client
	if client, err = pairedClient(snap, last.NodeID, last.SrcTP); err != nil {
		return nil, nil, err
	}
	last.DestTP = client
	return hops, subNodes, nil
}

// endpointType checks that both service ends are mounted devices of the same
// type.
func endpointType(snap *state.Snapshot, aEnd, zEnd string) (model.NodeType, error) {
	var types [2]model.NodeType
	for i, end := range []string{aEnd, zEnd} {
		nt, ok := snap.DeviceType(end)
		if !ok {
			return "", fmt.Errorf("%w: node %q is not mounted", model.ErrNotFound, end)
		}
		types[i] = nt
	}
	if types[0] != types[1] {
		return "", fmt.Errorf("%w: service ends %s (%s) and %s (%s) are not of one type",
			model.ErrValidation, aEnd, types[0], zEnd, types[1])
	}
	return types[0], nil
}

// addDropPorts completes a ROADM-to-ROADM route with the first idle add/drop
// port of the SRG at each end and returns those ports.
func addDropPorts(snap *state.Snapshot, seq []model.Link, hops []model.Hop) ([]model.LinkEnd, error) {
	src, err := idlePort(snap, seq[0].Source.Node)
	if err != nil {
		return nil, err
	}
	dst, err := idlePort(snap, seq[len(seq)-1].Destination.Node)
	if err != nil {
		return nil, err
	}
	hops[0].SrcTP = src.TP
	hops[len(hops)-1].DestTP = dst.TP
	return []model.LinkEnd{src, dst}, nil
}

func idlePort(snap *state.Snapshot, srg string) (model.LinkEnd, error) {
	n := snap.Nodes[srg]
	for _, tp := range n.TerminationPoints {
		if tp.Role == model.RoleSRGPP && !snap.Busy(srg, tp.ID) {
			return model.LinkEnd{Node: srg, TP: tp.ID}, nil
		}
	}
	return model.LinkEnd{}, fmt.Errorf("%w: %s has no idle add/drop port", model.ErrNoWavelengthAvailable, srg)
}

func pairedClient(snap *state.Snapshot, device, network string) (string, error) {
	doc := snap.Mappings[device]
	m, ok := doc.Lookup(network)
	if !ok || m.ConnectionMapLCP == "" {
		return "", fmt.Errorf("%w: %s/%s has no paired client port", model.ErrValidation, device, network)
	}
	return m.ConnectionMapLCP, nil
}

// ClaimsFor resolves the inventory claims of every hop of an already known
// path.
func ClaimsFor(snap *state.Snapshot, hops []model.Hop) ([][]kb.Claim, error) {
	out := make([][]kb.Claim, 0, len(hops))
	for _, hop := range hops {
		claims, err := snap.HopClaims(hop)
		if err != nil {
			return nil, err
		}
		out = append(out, claims)
	}
	return out, nil
}
