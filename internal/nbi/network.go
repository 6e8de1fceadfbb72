package nbi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/signalsfoundry/lightpath-controller/internal/logging"
	"github.com/signalsfoundry/lightpath-controller/internal/sbi"
	"github.com/signalsfoundry/lightpath-controller/internal/state"
	"github.com/signalsfoundry/lightpath-controller/model"
)

// Connection status reported for mounted nodes.
const statusConnected = "connected"

//
// ---------- Mount ----------
//

func (s *Server) mountNode(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	node, err := pathVar(r, "node")
	if err != nil {
		writeError(w, err)
		return
	}
	doc, err := s.state.MountNode(ctx, node)
	if err != nil {
		writeError(w, err)
		return
	}
	logging.FromContext(ctx, s.log).Info(ctx, "node mounted via nbi",
		logging.String("node_id", node),
		logging.Int("mappings", len(doc.Mappings)),
	)
	w.WriteHeader(http.StatusCreated)
}

func (s *Server) unmountNode(w http.ResponseWriter, r *http.Request) {
	node, err := pathVar(r, "node")
	if err != nil {
		writeError(w, err)
		return
	}
	if err := s.state.UnmountNode(r.Context(), node); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusOK)
}

type netconfNodeView struct {
	NodeID           string `json:"node-id"`
	ConnectionStatus string `json:"netconf-node-topology:connection-status"`
}

func (s *Server) getNetconfNode(w http.ResponseWriter, r *http.Request) {
	node, err := pathVar(r, "node")
	if err != nil {
		writeError(w, err)
		return
	}
	if !s.state.Mounted(node) {
		writeError(w, fmt.Errorf("%w: node %q is not mounted", model.ErrNotFound, node))
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"node": []netconfNodeView{{NodeID: node, ConnectionStatus: statusConnected}},
	})
}

//
// ---------- Device configuration ----------
//

// deviceLists are the lists shown in a whole-device read.
var deviceLists = []string{
	sbi.ListInfo,
	sbi.ListCircuitPacks,
	sbi.ListDegree,
	sbi.ListSRG,
	sbi.ListInterface,
	sbi.ListRoadmConnections,
	sbi.ListProtocols,
}

// getDevice returns the configuration tree of a mounted device. Empty lists
// are omitted.
func (s *Server) getDevice(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	node, err := s.mountedVar(r)
	if err != nil {
		writeError(w, err)
		return
	}
	dev := s.state.Device()
	tree := make(map[string]json.RawMessage, len(deviceLists))
	for _, list := range deviceLists {
		raw, err := dev.ReadConfig(ctx, node, sbi.Path{List: list})
		switch {
		case errors.Is(err, sbi.ErrNotFound):
			continue
		case err != nil:
			writeError(w, err)
			return
		}
		if isEmptyList(raw) {
			continue
		}
		tree[list] = raw
	}
	writeJSON(w, http.StatusOK, map[string]any{"org-openroadm-device": tree})
}

func (s *Server) getDeviceObject(w http.ResponseWriter, r *http.Request) {
	node, err := s.mountedVar(r)
	if err != nil {
		writeError(w, err)
		return
	}
	list, err := pathVar(r, "list")
	if err != nil {
		writeError(w, err)
		return
	}
	key, err := pathVar(r, "key")
	if err != nil {
		writeError(w, err)
		return
	}
	raw, err := s.state.Device().ReadConfig(r.Context(), node, sbi.Path{List: list, Key: key})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string][]json.RawMessage{list: {raw}})
}

func (s *Server) mountedVar(r *http.Request) (string, error) {
	node, err := pathVar(r, "node")
	if err != nil {
		return "", err
	}
	if !s.state.Mounted(node) {
		return "", fmt.Errorf("%w: node %q is not mounted", model.ErrNotFound, node)
	}
	return node, nil
}

func isEmptyList(raw json.RawMessage) bool {
	var items []json.RawMessage
	if err := json.Unmarshal(raw, &items); err != nil {
		return false
	}
	return len(items) == 0
}

//
// ---------- Links ----------
//

func (s *Server) getLink(w http.ResponseWriter, r *http.Request) {
	id, err := pathVar(r, "link")
	if err != nil {
		writeError(w, err)
		return
	}
	l, ok := s.state.Topology().Link(id)
	if !ok {
		writeError(w, fmt.Errorf("%w: link %q", model.ErrNotFound, id))
		return
	}
	writeJSON(w, http.StatusOK, map[string][]model.Link{"ietf-network-topology:link": {l}})
}

func (s *Server) getSpan(w http.ResponseWriter, r *http.Request) {
	id, err := pathVar(r, "link")
	if err != nil {
		writeError(w, err)
		return
	}
	l, ok := s.state.Topology().Link(id)
	if !ok || l.OMS == nil {
		writeError(w, fmt.Errorf("%w: span of link %q", model.ErrNotFound, id))
		return
	}
	writeJSON(w, http.StatusOK, map[string]*model.OMSSpan{"span": l.OMS})
}

// putSpan stores OMS span attributes: 201 when the link had none, 200 when
// they are replaced.
func (s *Server) putSpan(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id, err := pathVar(r, "link")
	if err != nil {
		writeError(w, err)
		return
	}
	var in spanInput
	if err := decodeBody(r, "", &in); err != nil {
		writeError(w, err)
		return
	}
	if in.Span == nil {
		writeError(w, fmt.Errorf("%w: body has no span", model.ErrValidation))
		return
	}
	created, err := s.state.Topology().SetOMSSpan(id, *in.Span)
	if err != nil {
		writeError(w, err)
		return
	}
	logging.FromContext(ctx, s.log).Info(ctx, "oms span stored",
		logging.String("link_id", id),
		logging.Bool("created", created),
	)
	if created {
		w.WriteHeader(http.StatusCreated)
		return
	}
	w.WriteHeader(http.StatusOK)
}

//
// ---------- Link initialisation ----------
//

func (s *Server) initXpdrRdmLinks(w http.ResponseWriter, r *http.Request) {
	s.initTransponderLink(w, r, s.state.InitXpdrRdmLinks)
}

func (s *Server) initRdmXpdrLinks(w http.ResponseWriter, r *http.Request) {
	s.initTransponderLink(w, r, s.state.InitRdmXpdrLinks)
}

type linkInitFunc func(ctx context.Context, req state.XpdrRdmLinkRequest) (string, error)

func (s *Server) initTransponderLink(w http.ResponseWriter, r *http.Request, init linkInitFunc) {
	var in linksInput
	if err := decodeBody(r, "input", &in); err != nil {
		writeError(w, err)
		return
	}
	if err := ValidateLinksInput(in.Links); err != nil {
		writeError(w, err)
		return
	}
	result, err := init(r.Context(), in.Links)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rpcOutput{Output: resultOutput{Result: result}})
}

func (s *Server) initRoadmNodes(w http.ResponseWriter, r *http.Request) {
	var in state.RoadmLinkRequest
	if err := decodeBody(r, "input", &in); err != nil {
		writeError(w, err)
		return
	}
	if err := ValidateRoadmLinkInput(in); err != nil {
		writeError(w, err)
		return
	}
	result, err := s.state.InitRoadmNodes(r.Context(), in)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rpcOutput{Output: resultOutput{Result: result}})
}

//
// ---------- Port mapping ----------
//

func (s *Server) getPortMappings(w http.ResponseWriter, _ *http.Request) {
	reg := s.state.Registry()
	var docs []model.NodeMapping
	for _, id := range reg.Nodes() {
		if doc, err := reg.Node(id); err == nil {
			docs = append(docs, doc)
		}
	}
	if len(docs) == 0 {
		writeError(w, fmt.Errorf("%w: no port mappings", ErrNotFound))
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"network": map[string]any{"nodes": docs}})
}

func (s *Server) getNodeMapping(w http.ResponseWriter, r *http.Request) {
	node, err := pathVar(r, "node")
	if err != nil {
		writeError(w, err)
		return
	}
	doc, err := s.state.Registry().Node(node)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string][]model.NodeMapping{"nodes": {doc}})
}

func (s *Server) getMapping(w http.ResponseWriter, r *http.Request) {
	node, err := pathVar(r, "node")
	if err != nil {
		writeError(w, err)
		return
	}
	lcp, err := pathVar(r, "lcp")
	if err != nil {
		writeError(w, err)
		return
	}
	m, err := s.state.Registry().Lookup(node, lcp)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string][]model.Mapping{"mapping": {m}})
}
