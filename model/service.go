package model

import "time"

// ServiceState is the lifecycle state of a service owned by the controller.
type ServiceState string

const (
	StateNone          ServiceState = "NONE"
	StatePendingCreate ServiceState = "PENDING_CREATE"
	StateInService     ServiceState = "IN_SERVICE"
	StatePendingDelete ServiceState = "PENDING_DELETE"
	StateDeleted       ServiceState = "DELETED"
	StateFailed        ServiceState = "FAILED"
)

// Terminal reports whether no further transition happens without a new request.
func (s ServiceState) Terminal() bool {
	return s == StateInService || s == StateFailed || s == StateDeleted
}

// Pending reports whether an operation is in flight.
func (s ServiceState) Pending() bool {
	return s == StatePendingCreate || s == StatePendingDelete
}

// Connection types.
const (
	ConnectionTypeService   = "service"
	ConnectionTypeRoadmLine = "roadm-line"
)

// Administrative, operational and lifecycle state values.
const (
	AdminInService     = "inService"
	AdminOutOfService  = "outOfService"
	OperInService      = "inService"
	OperOutOfService   = "outOfService"
	LifecyclePlanned   = "planned"
	LifecycleDeployed  = "deployed"
	DefaultServiceRate = 100
)

// Hop is one traversed device with its ingress and egress termination points.
type Hop struct {
	NodeID string `json:"node-id"`
	SrcTP  string `json:"src-tp"`
	DestTP string `json:"dest-tp"`
}

// Path is an ordered hop list together with the selected wavelength.
type Path struct {
	Hops       []Hop          `json:"hops"`
	Wavelength WavelengthSlot `json:"wavelength"`
}

// PortDetail describes a client-side router or patch panel port.
type PortDetail struct {
	DeviceName string `json:"port-device-name,omitempty"`
	Type       string `json:"port-type,omitempty"`
	Name       string `json:"port-name,omitempty"`
	Rack       string `json:"port-rack,omitempty"`
	Shelf      string `json:"port-shelf,omitempty"`
}

// LGX describes a patch panel position.
type LGX struct {
	DeviceName string `json:"lgx-device-name,omitempty"`
	PortName   string `json:"lgx-port-name,omitempty"`
	PortRack   string `json:"lgx-port-rack,omitempty"`
	PortShelf  string `json:"lgx-port-shelf,omitempty"`
}

// Direction groups the port and lgx of one transmission direction.
type Direction struct {
	Port *PortDetail `json:"port,omitempty"`
	LGX  *LGX        `json:"lgx,omitempty"`
}

// Endpoint is a service A-end or Z-end descriptor.
type Endpoint struct {
	ServiceRate   string     `json:"service-rate,omitempty"`
	NodeID        string     `json:"node-id"`
	ServiceFormat string     `json:"service-format,omitempty"`
	CLLI          string     `json:"clli,omitempty"`
	TxDirection   *Direction `json:"tx-direction,omitempty"`
	RxDirection   *Direction `json:"rx-direction,omitempty"`
	OpticType     string     `json:"optic-type,omitempty"`
}

// Service is a named end-to-end circuit owned by the service controller.
type Service struct {
	Name             string       `json:"service-name"`
	CommonID         string       `json:"common-id,omitempty"`
	ConnectionType   string       `json:"connection-type"`
	AEnd             Endpoint     `json:"service-a-end"`
	ZEnd             Endpoint     `json:"service-z-end"`
	DueDate          string       `json:"due-date,omitempty"`
	OperatorContact  string       `json:"operator-contact,omitempty"`
	AdminState       string       `json:"administrative-state"`
	OperationalState string       `json:"operational-state"`
	LifecycleState   string       `json:"lifecycle-state"`
	State            ServiceState `json:"-"`
	Path             *Path        `json:"-"`
	FailureReason    string       `json:"-"`
	CreatedAt        time.Time    `json:"-"`
	UpdatedAt        time.Time    `json:"-"`
}
