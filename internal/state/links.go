package state

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/signalsfoundry/lightpath-controller/internal/logging"
	"github.com/signalsfoundry/lightpath-controller/model"
)

// Results reported by the link initialisation RPCs.
const (
	ResultXpdrRdmLink   = "Xponder Roadm Link created successfully"
	ResultRdmXpdrLink   = "Roadm Xponder links created successfully"
	ResultRoadmRdmLinks = "Roadm Roadm Link created successfully"
)

// XpdrRdmLinkRequest names a transponder network port and the SRG add/drop
// port it is patched to.
type XpdrRdmLinkRequest struct {
	XpdrNode            string `json:"xpdr-node"`
	XpdrNum             string `json:"xpdr-num"`
	NetworkNum          string `json:"network-num"`
	RdmNode             string `json:"rdm-node"`
	SRGNum              string `json:"srg-num"`
	TerminationPointNum string `json:"termination-point-num"`
}

// RoadmLinkRequest names the two degree TTPs of a ROADM-to-ROADM span.
type RoadmLinkRequest struct {
	RdmANode          string `json:"rdm-a-node"`
	DegANum           string `json:"deg-a-num"`
	TerminationPointA string `json:"termination-point-a"`
	RdmZNode          string `json:"rdm-z-node"`
	DegZNum           string `json:"deg-z-num"`
	TerminationPointZ string `json:"termination-point-z"`
}

// InitXpdrRdmLinks creates the XPONDER-OUTPUT link from a transponder
// network port to an SRG port.
func (s *ControllerState) InitXpdrRdmLinks(ctx context.Context, req XpdrRdmLinkRequest) (string, error) {
	xpdr, srg, err := s.xpdrSrgEnds(req)
	if err != nil {
		return "", err
	}
	if err := s.addLink(ctx, model.LinkXpdrOutput, xpdr, srg); err != nil {
		return "", err
	}
	return ResultXpdrRdmLink, nil
}

// InitRdmXpdrLinks creates the XPONDER-INPUT link from an SRG port to a
// transponder network port.
func (s *ControllerState) InitRdmXpdrLinks(ctx context.Context, req XpdrRdmLinkRequest) (string, error) {
	xpdr, srg, err := s.xpdrSrgEnds(req)
	if err != nil {
		return "", err
	}
	if err := s.addLink(ctx, model.LinkXpdrInput, srg, xpdr); err != nil {
		return "", err
	}
	return ResultRdmXpdrLink, nil
}

// InitRoadmNodes creates both directions of a ROADM-to-ROADM link.
func (s *ControllerState) InitRoadmNodes(ctx context.Context, req RoadmLinkRequest) (string, error) {
	a, err := s.endpoint(req.RdmANode, model.NodeTypeROADM, "DEG"+req.DegANum, req.TerminationPointA, model.RoleDegreeTTP)
	if err != nil {
		return "", err
	}
	z, err := s.endpoint(req.RdmZNode, model.NodeTypeROADM, "DEG"+req.DegZNum, req.TerminationPointZ, model.RoleDegreeTTP)
	if err != nil {
		return "", err
	}

	s.mu.Lock()
	created, err := s.topology.AddRoadmLinkPair(a, z)
	s.mu.Unlock()
	if err != nil {
		return "", err
	}
	s.log.Info(ctx, "roadm-to-roadm link initialised",
		logging.String("a_end", a.Node+"/"+a.TP),
		logging.String("z_end", z.Node+"/"+z.TP),
		logging.Bool("created", created),
	)
	return ResultRoadmRdmLinks, nil
}

func (s *ControllerState) xpdrSrgEnds(req XpdrRdmLinkRequest) (xpdr, srg model.LinkEnd, err error) {
	xpdrNum := req.XpdrNum
	if xpdrNum == "" {
		xpdrNum = "1"
	}
	xpdrTP := fmt.Sprintf("XPDR%s-NETWORK%s", xpdrNum, req.NetworkNum)
	xpdr, err = s.endpoint(req.XpdrNode, model.NodeTypeXPDR, "XPDR"+xpdrNum, xpdrTP, model.RoleXpdrNetwork)
	if err != nil {
		return
	}
	srgTP := req.TerminationPointNum
	if srgTP != "" && !strings.HasPrefix(srgTP, "SRG") {
		srgTP = fmt.Sprintf("SRG%s-PP%s-TXRX", req.SRGNum, srgTP)
	}
	srg, err = s.endpoint(req.RdmNode, model.NodeTypeROADM, "SRG"+req.SRGNum, srgTP, model.RoleSRGPP)
	return
}

// endpoint validates that device/suffix is a mounted sub-node of the right
// kind carrying tp with the expected role.
func (s *ControllerState) endpoint(device string, want model.NodeType, suffix, tp string, role model.TPRole) (model.LinkEnd, error) {
	if device == "" || suffix == "" || tp == "" {
		return model.LinkEnd{}, fmt.Errorf("%w: incomplete link end %q/%q/%q", model.ErrValidation, device, suffix, tp)
	}
	nt, ok := s.topology.DeviceType(device)
	if !ok {
		return model.LinkEnd{}, fmt.Errorf("%w: node %q is not mounted", model.ErrNotFound, device)
	}
	if nt != want {
		return model.LinkEnd{}, fmt.Errorf("%w: node %q is %s, want %s", model.ErrValidation, device, nt, want)
	}
	id := model.SubNodeID(device, suffix)
	sub, ok := s.topology.SubNode(id)
	if !ok {
		return model.LinkEnd{}, fmt.Errorf("%w: topology node %q", model.ErrNotFound, id)
	}
	point, ok := sub.TP(tp)
	if !ok {
		return model.LinkEnd{}, fmt.Errorf("%w: termination point %s/%s", model.ErrNotFound, id, tp)
	}
	if point.Role != role {
		return model.LinkEnd{}, fmt.Errorf("%w: %s/%s is %s, want %s", model.ErrValidation, id, tp, point.Role, role)
	}
	return model.LinkEnd{Node: id, TP: tp}, nil
}

// addLink adds a directed external link. Re-initialising an existing link
// is accepted.
func (s *ControllerState) addLink(ctx context.Context, lt model.LinkType, src, dst model.LinkEnd) error {
	l := model.Link{ID: model.LinkID(src, dst), Type: lt, Source: src, Destination: dst}

	s.mu.Lock()
	err := s.topology.AddLink(l)
	s.mu.Unlock()

	switch {
	case errors.Is(err, model.ErrAlreadyExists):
		s.log.Debug(ctx, "link already present", logging.String("link_id", l.ID))
		return nil
	case err != nil:
		return err
	}
	s.log.Info(ctx, "link initialised",
		logging.String("link_id", l.ID),
		logging.String("link_type", string(lt)),
	)
	return nil
}
