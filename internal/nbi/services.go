package nbi

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/gorilla/mux"
	"github.com/signalsfoundry/lightpath-controller/internal/logging"
	"github.com/signalsfoundry/lightpath-controller/internal/pce"
	"github.com/signalsfoundry/lightpath-controller/internal/servicehandler"
	"github.com/signalsfoundry/lightpath-controller/model"
)

// MsgPathCalculated is the response message of a successful computation.
const MsgPathCalculated = "Path is calculated"

type serviceRPCOutput struct {
	Common servicehandler.Response `json:"configuration-response-common"`
}

// serviceView is the service-list representation of a service.
type serviceView struct {
	model.Service
	State         model.ServiceState `json:"state"`
	Path          *model.Path        `json:"path,omitempty"`
	FailureReason string             `json:"failure-reason,omitempty"`
}

func viewOf(svc model.Service) serviceView {
	return serviceView{Service: svc, State: svc.State, Path: svc.Path, FailureReason: svc.FailureReason}
}

// serviceCreate accepts a service. The HTTP status is 200 whether or not the
// controller accepted it; the outcome is in configuration-response-common.
func (s *Server) serviceCreate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := logging.FromContext(ctx, s.log)

	var in serviceCreateInput
	if err := decodeBody(r, "input", &in); err != nil {
		writeError(w, err)
		return
	}
	wait, err := s.awaitParam(r)
	if err != nil {
		writeError(w, err)
		return
	}

	resp, err := s.services.Create(ctx, in.request())
	if err != nil {
		log.Info(ctx, "service create rejected",
			logging.String("service", in.Name),
			logging.Err(err),
		)
	} else if wait > 0 {
		resp = s.awaitOutcome(ctx, in.Name, wait, resp)
	}
	writeJSON(w, http.StatusOK, rpcOutput{Output: serviceRPCOutput{Common: resp}})
}

func (s *Server) serviceDelete(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := logging.FromContext(ctx, s.log)

	var in serviceDeleteInput
	if err := decodeBody(r, "input", &in); err != nil {
		writeError(w, err)
		return
	}
	if in.ReqInfo.ServiceName == "" {
		writeError(w, fmt.Errorf("%w: service-delete-req-info.service-name is required", model.ErrValidation))
		return
	}
	wait, err := s.awaitParam(r)
	if err != nil {
		writeError(w, err)
		return
	}

	resp, err := s.services.Delete(ctx, in.Header.RequestID, in.ReqInfo.ServiceName)
	if err != nil {
		log.Info(ctx, "service delete rejected",
			logging.String("service", in.ReqInfo.ServiceName),
			logging.Err(err),
		)
	} else if wait > 0 {
		resp = s.awaitOutcome(ctx, in.ReqInfo.ServiceName, wait, resp)
	}
	writeJSON(w, http.StatusOK, rpcOutput{Output: serviceRPCOutput{Common: resp}})
}

// awaitParam parses ?await. An empty value selects the default timeout.
func (s *Server) awaitParam(r *http.Request) (time.Duration, error) {
	q := r.URL.Query()
	if !q.Has("await") {
		return 0, nil
	}
	raw := q.Get("await")
	if raw == "" {
		return s.awaitTimeout, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil || d < 0 {
		return 0, fmt.Errorf("%w: await=%q is not a duration", model.ErrValidation, raw)
	}
	return d, nil
}

// awaitOutcome waits for the accepted operation to finish and reports its
// final result. When the wait ends first, the acknowledgment is returned
// unchanged.
func (s *Server) awaitOutcome(ctx context.Context, name string, wait time.Duration, accepted servicehandler.Response) servicehandler.Response {
	svc, err := s.services.Await(ctx, name, wait)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			logging.FromContext(ctx, s.log).Debug(ctx, "await timed out", logging.String("service", name))
		}
		return accepted
	}
	out := servicehandler.Response{
		RequestID:         accepted.RequestID,
		ResponseCode:      servicehandler.CodeAccepted,
		AckFinalIndicator: servicehandler.AckFinal,
	}
	switch svc.State {
	case model.StateInService:
		out.ResponseMessage = servicehandler.MsgImplemented
	case model.StateDeleted:
		out.ResponseMessage = servicehandler.MsgDeleted
	default:
		out.ResponseCode = servicehandler.CodeFailed
		out.ResponseMessage = svc.FailureReason
	}
	return out
}

func (s *Server) listServices(w http.ResponseWriter, _ *http.Request) {
	list := s.services.List()
	if len(list) == 0 {
		writeError(w, fmt.Errorf("%w: service-list is empty", ErrNotFound))
		return
	}
	views := make([]serviceView, 0, len(list))
	for _, svc := range list {
		views = append(views, viewOf(svc))
	}
	writeJSON(w, http.StatusOK, map[string]any{"services": views})
}

func (s *Server) getService(w http.ResponseWriter, r *http.Request) {
	name, err := pathVar(r, "name")
	if err != nil {
		writeError(w, err)
		return
	}
	svc, err := s.services.Get(name)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"services": []serviceView{viewOf(svc)}})
}

//
// ---------- Renderer and PCE RPCs ----------
//

func (s *Server) servicePath(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var in servicePathInput
	if err := decodeBody(r, "input", &in); err != nil {
		writeError(w, err)
		return
	}
	if err := ValidateHops(in.Nodes); err != nil {
		writeError(w, err)
		return
	}
	out := s.renderer.ServicePath(ctx, in.request())
	if !out.Success {
		logging.FromContext(ctx, s.log).Warn(ctx, "service-path failed",
			logging.String("service", in.ServiceName),
			logging.String("operation", in.Operation),
			logging.String("result", out.Result),
		)
	}
	writeJSON(w, http.StatusOK, rpcOutput{Output: out})
}

type pathDescription struct {
	WavelengthNumber int         `json:"aToZ-wavelength-number"`
	Frequency        float64     `json:"frequency"`
	Width            int         `json:"width"`
	Hops             []model.Hop `json:"nodes"`
	Links            []string    `json:"links,omitempty"`
}

type responseParameters struct {
	PathDescription struct {
		AToZ pathDescription `json:"aToZ-direction"`
	} `json:"path-description"`
}

type pathComputationOutput struct {
	Common     servicehandler.Response `json:"configuration-response-common"`
	Parameters *responseParameters     `json:"response-parameters,omitempty"`
}

// pathComputation runs the PCE without reserving anything. Computation
// failures are reported in the output with response-code 500.
func (s *Server) pathComputation(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var in pathComputationInput
	if err := decodeBody(r, "input", &in); err != nil {
		writeError(w, err)
		return
	}
	req := pce.Request{
		Owner:      in.ServiceName,
		AEnd:       in.AEnd.NodeID,
		ZEnd:       in.ZEnd.NodeID,
		Hops:       in.Nodes,
		Wavelength: int(in.WaveNumber),
	}
	if len(req.Hops) > 0 {
		if err := ValidateHops(req.Hops); err != nil {
			writeError(w, err)
			return
		}
	}

	var out pathComputationOutput
	out.Common.RequestID = in.Header.RequestID
	out.Common.AckFinalIndicator = servicehandler.AckFinal
	res, err := s.pce.Compute(ctx, req)
	if err != nil {
		out.Common.ResponseCode = servicehandler.CodeFailed
		out.Common.ResponseMessage = err.Error()
		writeJSON(w, http.StatusOK, rpcOutput{Output: out})
		return
	}
	out.Common.ResponseCode = servicehandler.CodeAccepted
	out.Common.ResponseMessage = MsgPathCalculated
	out.Parameters = &responseParameters{}
	out.Parameters.PathDescription.AToZ = pathDescription{
		WavelengthNumber: res.Wavelength,
		Frequency:        res.Slot.Frequency,
		Width:            res.Slot.Width,
		Hops:             res.Hops,
		Links:            res.Links,
	}
	writeJSON(w, http.StatusOK, rpcOutput{Output: out})
}

// pathVar returns the decoded route variable name.
func pathVar(r *http.Request, name string) (string, error) {
	raw := mux.Vars(r)[name]
	v, err := url.PathUnescape(raw)
	if err != nil {
		return "", fmt.Errorf("%w: %s %q is not a valid path segment", model.ErrValidation, name, raw)
	}
	if v == "" {
		return "", fmt.Errorf("%w: %s is required", model.ErrValidation, name)
	}
	return v, nil
}
