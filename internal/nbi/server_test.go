package nbi

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/signalsfoundry/lightpath-controller/internal/observability"
	"github.com/signalsfoundry/lightpath-controller/internal/pce"
	"github.com/signalsfoundry/lightpath-controller/internal/renderer"
	"github.com/signalsfoundry/lightpath-controller/internal/servicehandler"
	"github.com/signalsfoundry/lightpath-controller/internal/state"
	"github.com/signalsfoundry/lightpath-controller/internal/state/statetest"
	"github.com/signalsfoundry/lightpath-controller/model"
)

const awaitTimeout = 5 * time.Second

type harness struct {
	srv      *httptest.Server
	lab      *statetest.Lab
	services *servicehandler.Controller
}

func newHarness(t *testing.T, lab *statetest.Lab, opts ...Option) *harness {
	t.Helper()
	p := pce.New(lab.State)
	r := renderer.New(lab.State)
	services := servicehandler.New(context.Background(), p, r)
	srv := httptest.NewServer(NewServer(lab.State, services, p, r, opts...).Handler())
	t.Cleanup(func() {
		srv.Close()
		ctx, cancel := context.WithTimeout(context.Background(), awaitTimeout)
		defer cancel()
		_ = services.Shutdown(ctx)
	})
	return &harness{srv: srv, lab: lab, services: services}
}

func (h *harness) do(t *testing.T, method, path, body string) (int, []byte) {
	t.Helper()
	var rd io.Reader
	if body != "" {
		rd = strings.NewReader(body)
	}
	req, err := http.NewRequest(method, h.srv.URL+path, rd)
	if err != nil {
		t.Fatalf("NewRequest(%s %s): %v", method, path, err)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := h.srv.Client().Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read %s %s: %v", method, path, err)
	}
	return resp.StatusCode, raw
}

func decode(t *testing.T, raw []byte, out any) {
	t.Helper()
	if err := json.Unmarshal(raw, out); err != nil {
		t.Fatalf("decode %s: %v", raw, err)
	}
}

func expectError(t *testing.T, code int, raw []byte, wantCode int, wantTag string) ErrorEntry {
	t.Helper()
	if code != wantCode {
		t.Fatalf("status = %d, want %d (body %s)", code, wantCode, raw)
	}
	var doc ErrorDocument
	decode(t, raw, &doc)
	if len(doc.Errors.Error) != 1 || doc.Errors.Error[0].Tag != wantTag {
		t.Fatalf("errors = %+v, want tag %s", doc.Errors.Error, wantTag)
	}
	return doc.Errors.Error[0]
}

const (
	serviceCreatePath = "/restconf/operations/org-openroadm-service:service-create"
	serviceDeletePath = "/restconf/operations/org-openroadm-service:service-delete"
	serviceListPath   = "/restconf/operational/org-openroadm-service:service-list"
	topologyPath      = "/restconf/config/ietf-network:networks/network/openroadm-topology"
	netconfPath       = "/restconf/config/network-topology:network-topology/topology/topology-netconf/node/"
	portMappingPath   = "/restconf/config/transportpce-portmapping:network"
	networkutilsPath  = "/restconf/operations/transportpce-networkutils:"
)

func createBody(name string) string {
	return fmt.Sprintf(`{
  "org-openroadm-service:input": {
    "sdnc-request-header": {
      "request-id": "e3028bae-a90f-4ddd-a83f-cf224eba0e58",
      "rpc-action": "service-create",
      "request-system-id": "appname"
    },
    "service-name": %q,
    "common-id": "ASATT1234567",
    "connection-type": "service",
    "service-a-end": {"service-rate": "100", "node-id": "XPDRA01", "service-format": "Ethernet", "clli": "SNJSCAMCJP8"},
    "service-z-end": {"service-rate": "100", "node-id": "XPDRC01", "service-format": "Ethernet", "clli": "SNJSCAMCJT4"},
    "due-date": "2016-11-28T00:00:01Z",
    "operator-contact": "pw1234"
  }
}`, name)
}

func deleteBody(name string) string {
	return fmt.Sprintf(`{
  "input": {
    "sdnc-request-header": {"request-id": "e3028bae-a90f-4ddd-a83f-cf224eba0e58", "rpc-action": "service-delete"},
    "service-delete-req-info": {"service-name": %q, "tail-retention": "no"}
  }
}`, name)
}

type serviceRPCResponse struct {
	Output struct {
		Common servicehandler.Response `json:"configuration-response-common"`
	} `json:"output"`
}

func serviceRPC(t *testing.T, h *harness, path, body string) servicehandler.Response {
	t.Helper()
	code, raw := h.do(t, http.MethodPost, path, body)
	if code != http.StatusOK {
		t.Fatalf("POST %s status = %d (body %s)", path, code, raw)
	}
	var out serviceRPCResponse
	decode(t, raw, &out)
	return out.Output.Common
}

type topologyTP struct {
	ID          string                 `json:"tp-id"`
	Type        model.TPRole           `json:"org-openroadm-network-topology:tp-type"`
	XpdrNetwork *xpdrNetworkAttributes `json:"org-openroadm-network-topology:xpdr-network-attributes"`
	PP          *ppAttributes          `json:"org-openroadm-network-topology:pp-attributes"`
}

type topologyNode struct {
	ID  string        `json:"node-id"`
	SRG *availability `json:"org-openroadm-network-topology:srg-attributes"`
	TPs []topologyTP  `json:"ietf-network-topology:termination-point"`
}

func fetchTopologyNode(t *testing.T, h *harness, id string) topologyNode {
	t.Helper()
	code, raw := h.do(t, http.MethodGet, topologyPath+"/node/"+id, "")
	if code != http.StatusOK {
		t.Fatalf("GET node %s status = %d (body %s)", id, code, raw)
	}
	var doc struct {
		Node []topologyNode `json:"node"`
	}
	decode(t, raw, &doc)
	if len(doc.Node) != 1 || doc.Node[0].ID != id {
		t.Fatalf("node document = %s", raw)
	}
	return doc.Node[0]
}

func findTP(t *testing.T, n topologyNode, id string) topologyTP {
	t.Helper()
	for _, tp := range n.TPs {
		if tp.ID == id {
			return tp
		}
	}
	t.Fatalf("%s has no termination point %s", n.ID, id)
	return topologyTP{}
}

func TestServiceLifecycleOverREST(t *testing.T) {
	h := newHarness(t, statetest.NewLab(t))

	resp := serviceRPC(t, h, serviceCreatePath+"?await=5s", createBody("service1"))
	if resp.ResponseCode != servicehandler.CodeAccepted || resp.ResponseMessage != servicehandler.MsgImplemented ||
		resp.AckFinalIndicator != servicehandler.AckFinal {
		t.Fatalf("create response = %+v", resp)
	}

	code, raw := h.do(t, http.MethodGet, serviceListPath, "")
	if code != http.StatusOK {
		t.Fatalf("service-list status = %d (body %s)", code, raw)
	}
	var list struct {
		Services []serviceView `json:"services"`
	}
	decode(t, raw, &list)
	if len(list.Services) != 1 || list.Services[0].Name != "service1" || list.Services[0].State != model.StateInService {
		t.Fatalf("service-list = %s", raw)
	}
	if p := list.Services[0].Path; p == nil || p.Wavelength.Index != 1 || p.Hops[0].NodeID != "XPDRA01" {
		t.Fatalf("service1 path = %+v", p)
	}

	code, raw = h.do(t, http.MethodGet, serviceListPath+"/services/service1", "")
	if code != http.StatusOK || !strings.Contains(string(raw), `"administrative-state":"inService"`) {
		t.Fatalf("GET service1 = %d %s", code, raw)
	}

	dup := serviceRPC(t, h, serviceCreatePath, createBody("service1"))
	if dup.ResponseCode != servicehandler.CodeFailed || dup.AckFinalIndicator != servicehandler.AckFinal {
		t.Fatalf("duplicate create = %+v", dup)
	}

	xpdr := fetchTopologyNode(t, h, "XPDRA01-XPDR1")
	net1 := findTP(t, xpdr, "XPDR1-NETWORK1")
	if net1.XpdrNetwork == nil || net1.XpdrNetwork.Wavelength.Frequency != model.FrequencyTHz(1) ||
		net1.XpdrNetwork.Wavelength.Width != 40 {
		t.Fatalf("XPDR1-NETWORK1 = %+v", net1)
	}
	if net2 := findTP(t, xpdr, "XPDR1-NETWORK2"); net2.XpdrNetwork != nil {
		t.Fatalf("XPDR1-NETWORK2 carries a wavelength: %+v", net2.XpdrNetwork)
	}

	srg := fetchTopologyNode(t, h, "ROADMA01-SRG1")
	pp1 := findTP(t, srg, "SRG1-PP1-TXRX")
	if pp1.PP == nil || len(pp1.PP.Used) != 1 || pp1.PP.Used[0].Index != 1 {
		t.Fatalf("SRG1-PP1-TXRX = %+v", pp1)
	}
	if pp3 := findTP(t, srg, "SRG1-PP3-TXRX"); pp3.PP != nil {
		t.Fatalf("SRG1-PP3-TXRX carries a wavelength: %+v", pp3.PP)
	}
	if srg.SRG == nil || len(srg.SRG.Available) != model.DefaultChannels-1 || srg.SRG.Available[0].Index != 2 {
		t.Fatalf("srg-attributes = %+v", srg.SRG)
	}

	del := serviceRPC(t, h, serviceDeletePath+"?await", deleteBody("service1"))
	if del.ResponseCode != servicehandler.CodeAccepted || del.ResponseMessage != servicehandler.MsgDeleted {
		t.Fatalf("delete response = %+v", del)
	}
	code, raw = h.do(t, http.MethodGet, serviceListPath, "")
	if e := expectError(t, code, raw, http.StatusNotFound, TagDataMissing); e.Message != MsgDataMissing {
		t.Fatalf("empty service-list error = %+v", e)
	}

	missing := serviceRPC(t, h, serviceDeletePath, deleteBody("service9"))
	if missing.ResponseCode != servicehandler.CodeFailed ||
		missing.ResponseMessage != "Service 'service9' does not exist in datastore" {
		t.Fatalf("delete of unknown service = %+v", missing)
	}
}

func TestServiceRPCInputErrors(t *testing.T) {
	h := newHarness(t, statetest.NewLab(t))

	code, raw := h.do(t, http.MethodPost, serviceCreatePath, `{"input": `)
	expectError(t, code, raw, http.StatusBadRequest, TagInvalidValue)

	code, raw = h.do(t, http.MethodPost, serviceDeletePath, `{"input": {"service-delete-req-info": {}}}`)
	expectError(t, code, raw, http.StatusBadRequest, TagInvalidValue)

	code, raw = h.do(t, http.MethodPost, serviceCreatePath+"?await=soon", createBody("svc"))
	expectError(t, code, raw, http.StatusBadRequest, TagInvalidValue)

	bad := serviceRPC(t, h, serviceCreatePath, strings.Replace(createBody("svc"), `"service-rate": "100"`, `"service-rate": "40"`, 1))
	if bad.ResponseCode != servicehandler.CodeFailed {
		t.Fatalf("create with unsupported rate = %+v", bad)
	}

	code, raw = h.do(t, http.MethodGet, "/restconf/operational/unknown", "")
	expectError(t, code, raw, http.StatusNotFound, TagDataMissing)
}

const servicePathBody = `{
  "renderer:input": {
    "renderer:service-name": "service_test",
    "renderer:wave-number": "7",
    "renderer:modulation-format": "qpsk",
    "renderer:operation": %q,
    "renderer:nodes": [
      {"renderer:node-id": "ROADMA01", "renderer:src-tp": "SRG1-PP7-TXRX", "renderer:dest-tp": "DEG1-TTP-TXRX"},
      {"renderer:node-id": "XPDRA01", "renderer:src-tp": "XPDR1-CLIENT1", "renderer:dest-tp": "XPDR1-NETWORK1"}
    ]
  }
}`

func TestServicePathRPC(t *testing.T) {
	h := newHarness(t, statetest.NewLab(t))
	path := "/restconf/operations/transportpce-device-renderer:service-path"

	code, raw := h.do(t, http.MethodPost, path, fmt.Sprintf(servicePathBody, "create"))
	var out struct {
		Output renderer.ServicePathOutput `json:"output"`
	}
	decode(t, raw, &out)
	if code != http.StatusOK || !out.Output.Success ||
		out.Output.Result != "Roadm-connection successfully created for nodes: ROADMA01, XPDRA01" {
		t.Fatalf("service-path create = %d %s", code, raw)
	}

	device := netconfPath + "ROADMA01/yang-ext:mount/org-openroadm-device:org-openroadm-device"
	code, raw = h.do(t, http.MethodGet, device+"/roadm-connections/SRG1-PP7-TXRX-DEG1-TTP-TXRX-7", "")
	var xc struct {
		Connections []model.RoadmConnection `json:"roadm-connections"`
	}
	decode(t, raw, &xc)
	if code != http.StatusOK || len(xc.Connections) != 1 || xc.Connections[0].WavelengthNumber != 7 ||
		xc.Connections[0].OpticalControlMode != model.ControlModeOff {
		t.Fatalf("roadm-connection = %d %s", code, raw)
	}

	xpdr := netconfPath + "XPDRA01/yang-ext:mount/org-openroadm-device:org-openroadm-device"
	code, raw = h.do(t, http.MethodGet, xpdr+"/circuit-packs/1%2F0%2F1-PLUG-NET", "")
	var packs struct {
		Packs []model.CircuitPack `json:"circuit-packs"`
	}
	decode(t, raw, &packs)
	if code != http.StatusOK || len(packs.Packs) != 1 || packs.Packs[0].EquipmentState != model.EquipmentNotReservedInUse {
		t.Fatalf("circuit-pack = %d %s", code, raw)
	}

	code, raw = h.do(t, http.MethodGet, xpdr, "")
	var tree struct {
		Device map[string]json.RawMessage `json:"org-openroadm-device"`
	}
	decode(t, raw, &tree)
	if code != http.StatusOK || tree.Device["interface"] == nil || tree.Device["info"] == nil {
		t.Fatalf("device tree = %d %s", code, raw)
	}
	if _, ok := tree.Device["roadm-connections"]; ok {
		t.Fatalf("transponder tree lists roadm-connections: %s", raw)
	}

	code, raw = h.do(t, http.MethodPost, path, fmt.Sprintf(servicePathBody, "delete"))
	decode(t, raw, &out)
	if code != http.StatusOK || out.Output != (renderer.ServicePathOutput{Result: "Request processed", Success: true}) {
		t.Fatalf("service-path delete = %d %s", code, raw)
	}
	code, raw = h.do(t, http.MethodGet, device+"/roadm-connections/SRG1-PP7-TXRX-DEG1-TTP-TXRX-7", "")
	expectError(t, code, raw, http.StatusNotFound, TagDataMissing)

	code, raw = h.do(t, http.MethodPost, path, `{"input": {"service-name": "x", "wave-number": 7, "operation": "create"}}`)
	expectError(t, code, raw, http.StatusBadRequest, TagInvalidValue)
}

func TestPathComputationReservesNothing(t *testing.T) {
	h := newHarness(t, statetest.NewLab(t))
	path := "/restconf/operations/transportpce-pce:path-computation-request"
	body := `{
  "transportpce-pce:input": {
    "service-handler-header": {"request-id": "request-1"},
    "service-name": "service-1",
    "service-a-end": {"service-rate": "100", "node-id": "XPDRA01"},
    "service-z-end": {"service-rate": "100", "node-id": %q}
  }
}`

	code, raw := h.do(t, http.MethodPost, path, fmt.Sprintf(body, "XPDRC01"))
	var out struct {
		Output pathComputationOutput `json:"output"`
	}
	decode(t, raw, &out)
	if code != http.StatusOK || out.Output.Common.ResponseCode != servicehandler.CodeAccepted ||
		out.Output.Common.ResponseMessage != MsgPathCalculated || out.Output.Common.RequestID != "request-1" {
		t.Fatalf("path-computation = %d %s", code, raw)
	}
	atoz := out.Output.Parameters.PathDescription.AToZ
	if atoz.WavelengthNumber != 1 || len(atoz.Hops) != 4 || atoz.Hops[0].NodeID != "XPDRA01" {
		t.Fatalf("aToZ-direction = %+v", atoz)
	}
	if h.lab.State.Snapshot().Busy("XPDRA01-XPDR1", "XPDR1-NETWORK1") {
		t.Fatalf("path computation reserved XPDR1-NETWORK1")
	}

	code, raw = h.do(t, http.MethodPost, path, fmt.Sprintf(body, "XPDRZ99"))
	out = struct {
		Output pathComputationOutput `json:"output"`
	}{}
	decode(t, raw, &out)
	if code != http.StatusOK || out.Output.Common.ResponseCode != servicehandler.CodeFailed || out.Output.Parameters != nil {
		t.Fatalf("path-computation to unknown node = %d %s", code, raw)
	}
}

func TestMountAndPortMapping(t *testing.T) {
	h := newHarness(t, statetest.NewUnmountedLab(t))

	code, raw := h.do(t, http.MethodGet, portMappingPath, "")
	expectError(t, code, raw, http.StatusNotFound, TagDataMissing)

	if code, raw := h.do(t, http.MethodPut, netconfPath+"ROADMA01", `{"node": [{"node-id": "ROADMA01"}]}`); code != http.StatusCreated {
		t.Fatalf("mount ROADMA01 = %d %s", code, raw)
	}
	code, raw = h.do(t, http.MethodPut, netconfPath+"ROADMA01", "")
	expectError(t, code, raw, http.StatusConflict, TagDataExists)

	code, raw = h.do(t, http.MethodGet, netconfPath+"ROADMA01", "")
	if code != http.StatusOK || !strings.Contains(string(raw), `"netconf-node-topology:connection-status":"connected"`) {
		t.Fatalf("netconf node = %d %s", code, raw)
	}

	code, raw = h.do(t, http.MethodGet, portMappingPath+"/nodes/ROADMA01/mapping/DEG1-TTP-TXRX", "")
	var doc struct {
		Mapping []model.Mapping `json:"mapping"`
	}
	decode(t, raw, &doc)
	if code != http.StatusOK || len(doc.Mapping) != 1 || doc.Mapping[0].SupportingCircuitPack != "2/0" ||
		doc.Mapping[0].SupportingPort != "L1" {
		t.Fatalf("DEG1-TTP-TXRX mapping = %d %s", code, raw)
	}
	code, raw = h.do(t, http.MethodGet, portMappingPath+"/nodes/ROADMA01/mapping/DEG9-TTP-TXRX", "")
	expectError(t, code, raw, http.StatusNotFound, TagDataMissing)

	code, raw = h.do(t, http.MethodGet, portMappingPath, "")
	if code != http.StatusOK || !strings.Contains(string(raw), `"node-id":"ROADMA01"`) {
		t.Fatalf("portmapping = %d %s", code, raw)
	}

	if code, raw := h.do(t, http.MethodDelete, netconfPath+"ROADMA01", ""); code != http.StatusOK {
		t.Fatalf("unmount ROADMA01 = %d %s", code, raw)
	}
	code, raw = h.do(t, http.MethodGet, netconfPath+"ROADMA01", "")
	expectError(t, code, raw, http.StatusNotFound, TagDataMissing)
	code, raw = h.do(t, http.MethodGet, netconfPath+"ROADMA01/yang-ext:mount/org-openroadm-device:org-openroadm-device", "")
	expectError(t, code, raw, http.StatusNotFound, TagDataMissing)
}

func TestLinkInitialisationAndSpans(t *testing.T) {
	h := newHarness(t, statetest.NewUnmountedLab(t))
	for _, id := range statetest.Devices {
		if code, raw := h.do(t, http.MethodPut, netconfPath+id, ""); code != http.StatusCreated {
			t.Fatalf("mount %s = %d %s", id, code, raw)
		}
	}

	links := `{
  "networkutils:input": {
    "networkutils:links-input": {
      "networkutils:xpdr-node": "XPDRA01",
      "networkutils:xpdr-num": "1",
      "networkutils:network-num": "1",
      "networkutils:rdm-node": "ROADMA01",
      "networkutils:srg-num": "1",
      "networkutils:termination-point-num": "SRG1-PP1-TXRX"
    }
  }
}`
	for rpc, want := range map[string]string{
		"init-xpdr-rdm-links": state.ResultXpdrRdmLink,
		"init-rdm-xpdr-links": state.ResultRdmXpdrLink,
	} {
		code, raw := h.do(t, http.MethodPost, networkutilsPath+rpc, links)
		var out struct {
			Output resultOutput `json:"output"`
		}
		decode(t, raw, &out)
		if code != http.StatusOK || out.Output.Result != want {
			t.Fatalf("%s = %d %s", rpc, code, raw)
		}
	}
	code, raw := h.do(t, http.MethodPost, networkutilsPath+"init-xpdr-rdm-links",
		strings.Replace(links, `"networkutils:xpdr-node": "XPDRA01"`, `"networkutils:xpdr-node": ""`, 1))
	expectError(t, code, raw, http.StatusBadRequest, TagInvalidValue)

	roadms := `{
  "networkutils:input": {
    "networkutils:rdm-a-node": "ROADMA01",
    "networkutils:deg-a-num": "1",
    "networkutils:termination-point-a": "DEG1-TTP-TXRX",
    "networkutils:rdm-z-node": "ROADMC01",
    "networkutils:deg-z-num": "2",
    "networkutils:termination-point-z": "DEG2-TTP-TXRX"
  }
}`
	code, raw = h.do(t, http.MethodPost, networkutilsPath+"init-roadm-nodes", roadms)
	if code != http.StatusOK || !strings.Contains(string(raw), state.ResultRoadmRdmLinks) {
		t.Fatalf("init-roadm-nodes = %d %s", code, raw)
	}

	xpdrLink := model.LinkID(
		model.LinkEnd{Node: "XPDRA01-XPDR1", TP: "XPDR1-NETWORK1"},
		model.LinkEnd{Node: "ROADMA01-SRG1", TP: "SRG1-PP1-TXRX"},
	)
	code, raw = h.do(t, http.MethodGet, topologyPath+"/ietf-network-topology:link/"+xpdrLink, "")
	if code != http.StatusOK || !strings.Contains(string(raw), string(model.LinkXpdrOutput)) {
		t.Fatalf("GET %s = %d %s", xpdrLink, code, raw)
	}

	span := topologyPath + "/ietf-network-topology:link/" + model.LinkID(
		model.LinkEnd{Node: "ROADMA01-DEG1", TP: "DEG1-TTP-TXRX"},
		model.LinkEnd{Node: "ROADMC01-DEG2", TP: "DEG2-TTP-TXRX"},
	) + "/org-openroadm-network-topology:OMS-attributes/span"
	spanBody := `{"span": {"clfi": "fiber1", "auto-spanloss": "true", "spanloss-base": 11.4, "spanloss-current": 12,
  "engineered-spanloss": 12.2, "link-concatenation": [{"SRLG-Id": 0, "fiber-type": "smf", "SRLG-length": 100000, "pmd": 0.5}]}}`
	if code, raw := h.do(t, http.MethodPut, span, spanBody); code != http.StatusCreated {
		t.Fatalf("first span PUT = %d %s", code, raw)
	}
	if code, raw := h.do(t, http.MethodPut, span, spanBody); code != http.StatusOK {
		t.Fatalf("second span PUT = %d %s", code, raw)
	}
	code, raw = h.do(t, http.MethodGet, span, "")
	var got struct {
		Span model.OMSSpan `json:"span"`
	}
	decode(t, raw, &got)
	if code != http.StatusOK || got.Span.CLFI != "fiber1" || !bool(got.Span.AutoSpanloss) || len(got.Span.LinkConcatenation) != 1 {
		t.Fatalf("span = %d %s", code, raw)
	}

	code, raw = h.do(t, http.MethodPut, topologyPath+"/ietf-network-topology:link/"+xpdrLink+
		"/org-openroadm-network-topology:OMS-attributes/span", spanBody)
	expectError(t, code, raw, http.StatusBadRequest, TagInvalidValue)

	code, raw = h.do(t, http.MethodGet, topologyPath, "")
	var network struct {
		Network []struct {
			ID    string       `json:"network-id"`
			Nodes []nodeView   `json:"node"`
			Links []model.Link `json:"ietf-network-topology:link"`
		} `json:"network"`
	}
	decode(t, raw, &network)
	if code != http.StatusOK || len(network.Network) != 1 || network.Network[0].ID != topologyNetworkID ||
		len(network.Network[0].Nodes) == 0 || len(network.Network[0].Links) == 0 {
		t.Fatalf("topology = %d %s", code, raw)
	}
}

func TestNotificationStream(t *testing.T) {
	h := newHarness(t, statetest.NewLab(t), WithPingInterval(20*time.Millisecond))

	url := "ws" + strings.TrimPrefix(h.srv.URL, "http") + "/restconf/streams/service-notifications"
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer conn.Close()
	if resp.Header.Get(RequestIDHeader) == "" {
		t.Fatalf("upgrade response has no %s", RequestIDHeader)
	}

	if resp := serviceRPC(t, h, serviceCreatePath, createBody("service1")); resp.ResponseCode != servicehandler.CodeAccepted {
		t.Fatalf("create = %+v", resp)
	}

	_ = conn.SetReadDeadline(time.Now().Add(awaitTimeout))
	var states []model.ServiceState
	for {
		var note servicehandler.Notification
		if err := conn.ReadJSON(&note); err != nil {
			t.Fatalf("ReadJSON after %v: %v", states, err)
		}
		if note.ServiceName != "service1" {
			t.Fatalf("notification for %q", note.ServiceName)
		}
		states = append(states, note.State)
		if note.State == model.StateInService {
			break
		}
	}
	if states[0] != model.StatePendingCreate {
		t.Fatalf("states = %v, want PENDING_CREATE first", states)
	}

	_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	deadline := time.Now().Add(awaitTimeout)
	for h.services.Notifier().Subscribers() != 0 {
		if time.Now().After(deadline) {
			t.Fatalf("subscription still open after close")
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestRequestMetricsAndRequestID(t *testing.T) {
	collector, err := observability.NewNBICollector(prometheus.NewRegistry())
	if err != nil {
		t.Fatalf("NewNBICollector: %v", err)
	}
	h := newHarness(t, statetest.NewLab(t), WithMetrics(collector))

	req, err := http.NewRequest(http.MethodGet, h.srv.URL+serviceListPath, nil)
	if err != nil {
		t.Fatalf("NewRequest: %v", err)
	}
	req.Header.Set(RequestIDHeader, "req-42")
	resp, err := h.srv.Client().Do(req)
	if err != nil {
		t.Fatalf("GET service-list: %v", err)
	}
	resp.Body.Close()
	if got := resp.Header.Get(RequestIDHeader); got != "req-42" {
		t.Fatalf("%s = %q, want req-42", RequestIDHeader, got)
	}

	h.do(t, http.MethodGet, topologyPath+"/node/ROADMA01-DEG1", "")

	if got := testutil.ToFloat64(collector.Requests.WithLabelValues("service-list", http.MethodGet, "404")); got != 1 {
		t.Fatalf("service-list 404 count = %v, want 1", got)
	}
	if got := testutil.ToFloat64(collector.Requests.WithLabelValues("topology-node", http.MethodGet, "200")); got != 1 {
		t.Fatalf("topology-node 200 count = %v, want 1", got)
	}
	if got := testutil.CollectAndCount(collector.Durations); got != 2 {
		t.Fatalf("duration series = %d, want 2", got)
	}
}
