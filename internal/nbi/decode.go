package nbi

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/signalsfoundry/lightpath-controller/internal/renderer"
	"github.com/signalsfoundry/lightpath-controller/internal/servicehandler"
	"github.com/signalsfoundry/lightpath-controller/internal/state"
	"github.com/signalsfoundry/lightpath-controller/model"
)

// maxBodyBytes bounds request bodies.
const maxBodyBytes = 1 << 20

// decodeBody reads a JSON request body into out. Module prefixes on member
// names ("renderer:service-name") are dropped first, so clients may send
// qualified or bare names. A non-empty envelope selects the member to decode.
func decodeBody(r *http.Request, envelope string, out any) error {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		return fmt.Errorf("%w: read body: %v", ErrInvalidInput, err)
	}
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	var raw any
	if err := dec.Decode(&raw); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	raw = stripPrefixes(raw)
	if envelope != "" {
		obj, ok := raw.(map[string]any)
		if !ok {
			return fmt.Errorf("%w: body is not an object", ErrInvalidInput)
		}
		inner, ok := obj[envelope]
		if !ok {
			return fmt.Errorf("%w: body has no %q member", ErrInvalidInput, envelope)
		}
		raw = inner
	}
	buf, err := json.Marshal(raw)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	if err := json.Unmarshal(buf, out); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	return nil
}

func stripPrefixes(v any) any {
	switch t := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, val := range t {
			if i := strings.LastIndexByte(k, ':'); i >= 0 {
				k = k[i+1:]
			}
			out[k] = stripPrefixes(val)
		}
		return out
	case []any:
		for i := range t {
			t[i] = stripPrefixes(t[i])
		}
		return t
	default:
		return v
	}
}

// flexInt accepts a JSON number or a quoted decimal.
type flexInt int

func (f *flexInt) UnmarshalJSON(data []byte) error {
	s := strings.Trim(string(bytes.TrimSpace(data)), `"`)
	if s == "" || s == "null" {
		*f = 0
		return nil
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return fmt.Errorf("%w: %q is not an integer", model.ErrValidation, s)
	}
	*f = flexInt(v)
	return nil
}

// flexString accepts a JSON string or a bare number.
type flexString string

func (f *flexString) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*f = flexString(s)
		return nil
	}
	if string(data) == "null" {
		*f = ""
		return nil
	}
	*f = flexString(data)
	return nil
}

//
// ---------- Inputs ----------
//

type requestHeader struct {
	RequestID       string `json:"request-id"`
	RPCAction       string `json:"rpc-action,omitempty"`
	RequestSystemID string `json:"request-system-id,omitempty"`
	NotificationURL string `json:"notification-url,omitempty"`
}

type endpointInput struct {
	ServiceRate   flexString       `json:"service-rate"`
	NodeID        string           `json:"node-id"`
	ServiceFormat string           `json:"service-format"`
	CLLI          string           `json:"clli"`
	TxDirection   *model.Direction `json:"tx-direction"`
	RxDirection   *model.Direction `json:"rx-direction"`
	OpticType     string           `json:"optic-type"`
}

func (e endpointInput) endpoint() model.Endpoint {
	return model.Endpoint{
		ServiceRate:   string(e.ServiceRate),
		NodeID:        e.NodeID,
		ServiceFormat: e.ServiceFormat,
		CLLI:          e.CLLI,
		TxDirection:   e.TxDirection,
		RxDirection:   e.RxDirection,
		OpticType:     e.OpticType,
	}
}

type serviceCreateInput struct {
	Header          requestHeader `json:"sdnc-request-header"`
	Name            string        `json:"service-name"`
	CommonID        string        `json:"common-id"`
	ConnectionType  string        `json:"connection-type"`
	AEnd            endpointInput `json:"service-a-end"`
	ZEnd            endpointInput `json:"service-z-end"`
	DueDate         string        `json:"due-date"`
	OperatorContact string        `json:"operator-contact"`
}

func (in serviceCreateInput) request() servicehandler.CreateRequest {
	return servicehandler.CreateRequest{
		RequestID:       in.Header.RequestID,
		Name:            in.Name,
		CommonID:        in.CommonID,
		ConnectionType:  in.ConnectionType,
		AEnd:            in.AEnd.endpoint(),
		ZEnd:            in.ZEnd.endpoint(),
		DueDate:         in.DueDate,
		OperatorContact: in.OperatorContact,
	}
}

type serviceDeleteInput struct {
	Header  requestHeader `json:"sdnc-request-header"`
	ReqInfo struct {
		ServiceName   string `json:"service-name"`
		TailRetention string `json:"tail-retention"`
	} `json:"service-delete-req-info"`
}

type servicePathInput struct {
	ServiceName      string      `json:"service-name"`
	WaveNumber       flexInt     `json:"wave-number"`
	ModulationFormat string      `json:"modulation-format"`
	Operation        string      `json:"operation"`
	Nodes            []model.Hop `json:"nodes"`
}

func (in servicePathInput) request() renderer.ServicePathInput {
	return renderer.ServicePathInput{
		ServiceName:      in.ServiceName,
		WaveNumber:       int(in.WaveNumber),
		ModulationFormat: in.ModulationFormat,
		Operation:        in.Operation,
		Nodes:            in.Nodes,
	}
}

type pathComputationInput struct {
	Header      requestHeader `json:"service-handler-header"`
	ServiceName string        `json:"service-name"`
	AEnd        endpointInput `json:"service-a-end"`
	ZEnd        endpointInput `json:"service-z-end"`
	Nodes       []model.Hop   `json:"nodes"`
	WaveNumber  flexInt       `json:"wave-number"`
}

type linksInput struct {
	Links state.XpdrRdmLinkRequest `json:"links-input"`
}

type spanInput struct {
	Span *model.OMSSpan `json:"span"`
}

//
// ---------- Validation ----------
//

// ValidateHops checks that every hop names a node and both termination points.
func ValidateHops(hops []model.Hop) error {
	if len(hops) == 0 {
		return fmt.Errorf("%w: nodes are required", model.ErrValidation)
	}
	for i, hop := range hops {
		if strings.TrimSpace(hop.NodeID) == "" {
			return fmt.Errorf("%w: nodes[%d] has no node-id", model.ErrValidation, i)
		}
		if hop.SrcTP == "" || hop.DestTP == "" {
			return fmt.Errorf("%w: nodes[%d] (%s) needs src-tp and dest-tp", model.ErrValidation, i, hop.NodeID)
		}
	}
	return nil
}

// ValidateLinksInput checks the fields every transponder link request needs.
func ValidateLinksInput(in state.XpdrRdmLinkRequest) error {
	switch {
	case in.XpdrNode == "":
		return fmt.Errorf("%w: xpdr-node is required", model.ErrValidation)
	case in.RdmNode == "":
		return fmt.Errorf("%w: rdm-node is required", model.ErrValidation)
	case in.NetworkNum == "":
		return fmt.Errorf("%w: network-num is required", model.ErrValidation)
	case in.TerminationPointNum == "":
		return fmt.Errorf("%w: termination-point-num is required", model.ErrValidation)
	}
	return nil
}

// ValidateRoadmLinkInput checks both degree ends of a span request.
func ValidateRoadmLinkInput(in state.RoadmLinkRequest) error {
	if in.RdmANode == "" || in.RdmZNode == "" {
		return fmt.Errorf("%w: rdm-a-node and rdm-z-node are required", model.ErrValidation)
	}
	if in.DegANum == "" || in.DegZNum == "" {
		return fmt.Errorf("%w: deg-a-num and deg-z-num are required", model.ErrValidation)
	}
	if in.TerminationPointA == "" || in.TerminationPointZ == "" {
		return fmt.Errorf("%w: termination-point-a and termination-point-z are required", model.ErrValidation)
	}
	return nil
}
