// Package nbi is the RESTCONF-shaped northbound interface: service RPCs, the
// renderer and PCE entry points, link initialisation, and read models of the
// topology, port mappings and device configuration.
package nbi

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/signalsfoundry/lightpath-controller/internal/logging"
	"github.com/signalsfoundry/lightpath-controller/internal/observability"
	"github.com/signalsfoundry/lightpath-controller/internal/pce"
	"github.com/signalsfoundry/lightpath-controller/internal/renderer"
	"github.com/signalsfoundry/lightpath-controller/internal/servicehandler"
	"github.com/signalsfoundry/lightpath-controller/internal/state"
)

// DefaultAwaitTimeout applies to ?await without a duration.
const DefaultAwaitTimeout = 30 * time.Second

// DefaultPingInterval is the keepalive period of notification streams.
const DefaultPingInterval = 15 * time.Second

// PathComputer computes paths for path-computation-request.
type PathComputer interface {
	Compute(ctx context.Context, req pce.Request) (pce.Result, error)
}

// ServicePathRenderer serves the renderer-only service-path RPC.
type ServicePathRenderer interface {
	ServicePath(ctx context.Context, in renderer.ServicePathInput) renderer.ServicePathOutput
}

// Server holds the collaborators behind the northbound routes.
type Server struct {
	state    *state.ControllerState
	services *servicehandler.Controller
	pce      PathComputer
	renderer ServicePathRenderer

	log          logging.Logger
	metrics      *observability.NBICollector
	upgrader     websocket.Upgrader
	awaitTimeout time.Duration
	pingInterval time.Duration
}

// Option customises a Server.
type Option func(*Server)

// WithLogger attaches a structured logger.
func WithLogger(l logging.Logger) Option {
	return func(s *Server) {
		if l != nil {
			s.log = l
		}
	}
}

// WithMetrics records request metrics on c.
func WithMetrics(c *observability.NBICollector) Option {
	return func(s *Server) { s.metrics = c }
}

// WithAwaitTimeout sets the wait applied to ?await without a duration.
func WithAwaitTimeout(d time.Duration) Option {
	return func(s *Server) {
		if d > 0 {
			s.awaitTimeout = d
		}
	}
}

// WithPingInterval sets the keepalive period of notification streams.
func WithPingInterval(d time.Duration) Option {
	return func(s *Server) {
		if d > 0 {
			s.pingInterval = d
		}
	}
}

// NewServer wires the northbound routes to their collaborators.
func NewServer(st *state.ControllerState, services *servicehandler.Controller, p PathComputer, r ServicePathRenderer, opts ...Option) *Server {
	s := &Server{
		state:        st,
		services:     services,
		pce:          p,
		renderer:     r,
		log:          logging.Noop(),
		awaitTimeout: DefaultAwaitTimeout,
		pingInterval: DefaultPingInterval,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
		},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Route prefixes.
const (
	netconfNode  = "/config/network-topology:network-topology/topology/topology-netconf/node/{node}"
	deviceRoot   = netconfNode + "/yang-ext:mount/org-openroadm-device:org-openroadm-device"
	topologyRoot = "/config/ietf-network:networks/network/openroadm-topology"
	linkRoot     = topologyRoot + "/ietf-network-topology:link/{link}"
	portMapping  = "/config/transportpce-portmapping:network"
)

// Handler returns the router serving every route under /restconf.
func (s *Server) Handler() http.Handler {
	root := mux.NewRouter().UseEncodedPath()
	root.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, ErrNotFound)
	})
	root.Use(requestMiddleware(s.log), tracingMiddleware(), s.metricsMiddleware)

	r := root.PathPrefix("/restconf").Subrouter()

	r.HandleFunc("/operations/org-openroadm-service:service-create", s.serviceCreate).
		Methods(http.MethodPost).Name("service-create")
	r.HandleFunc("/operations/org-openroadm-service:service-delete", s.serviceDelete).
		Methods(http.MethodPost).Name("service-delete")
	r.HandleFunc("/operations/transportpce-device-renderer:service-path", s.servicePath).
		Methods(http.MethodPost).Name("service-path")
	r.HandleFunc("/operations/transportpce-pce:path-computation-request", s.pathComputation).
		Methods(http.MethodPost).Name("path-computation-request")
	r.HandleFunc("/operations/transportpce-networkutils:init-xpdr-rdm-links", s.initXpdrRdmLinks).
		Methods(http.MethodPost).Name("init-xpdr-rdm-links")
	r.HandleFunc("/operations/transportpce-networkutils:init-rdm-xpdr-links", s.initRdmXpdrLinks).
		Methods(http.MethodPost).Name("init-rdm-xpdr-links")
	r.HandleFunc("/operations/transportpce-networkutils:init-roadm-nodes", s.initRoadmNodes).
		Methods(http.MethodPost).Name("init-roadm-nodes")

	r.HandleFunc("/operational/org-openroadm-service:service-list", s.listServices).
		Methods(http.MethodGet).Name("service-list")
	r.HandleFunc("/operational/org-openroadm-service:service-list/services/{name}", s.getService).
		Methods(http.MethodGet).Name("service")

	r.HandleFunc(netconfNode, s.mountNode).Methods(http.MethodPut).Name("mount")
	r.HandleFunc(netconfNode, s.unmountNode).Methods(http.MethodDelete).Name("unmount")
	r.HandleFunc(netconfNode, s.getNetconfNode).Methods(http.MethodGet).Name("netconf-node")
	r.HandleFunc(deviceRoot, s.getDevice).Methods(http.MethodGet).Name("device")
	r.HandleFunc(deviceRoot+"/", s.getDevice).Methods(http.MethodGet).Name("device")
	r.HandleFunc(deviceRoot+"/{list:interface|roadm-connections|circuit-packs}/{key}", s.getDeviceObject).
		Methods(http.MethodGet).Name("device-object")

	r.HandleFunc(topologyRoot, s.getTopology).Methods(http.MethodGet).Name("topology")
	r.HandleFunc(topologyRoot+"/node/{id}", s.getTopologyNode).Methods(http.MethodGet).Name("topology-node")
	r.HandleFunc(linkRoot, s.getLink).Methods(http.MethodGet).Name("link")
	r.HandleFunc(linkRoot+"/org-openroadm-network-topology:OMS-attributes/span", s.getSpan).
		Methods(http.MethodGet).Name("oms-span")
	r.HandleFunc(linkRoot+"/org-openroadm-network-topology:OMS-attributes/span", s.putSpan).
		Methods(http.MethodPut).Name("oms-span")

	r.HandleFunc(portMapping, s.getPortMappings).Methods(http.MethodGet).Name("portmapping")
	r.HandleFunc(portMapping+"/nodes/{node}", s.getNodeMapping).Methods(http.MethodGet).Name("portmapping-node")
	r.HandleFunc(portMapping+"/nodes/{node}/mapping/{lcp}", s.getMapping).
		Methods(http.MethodGet).Name("portmapping-lcp")

	r.HandleFunc("/streams/service-notifications", s.streamNotifications).
		Methods(http.MethodGet).Name("service-notifications")
	return root
}

// rpcOutput wraps every RPC result.
type rpcOutput struct {
	Output any `json:"output"`
}

type resultOutput struct {
	Result string `json:"result"`
}
