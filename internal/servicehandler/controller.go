// Package servicehandler owns named services and drives them through their
// lifecycle: path computation, rendering, and teardown. Operations on one
// service name run one at a time in arrival order; different names proceed
// concurrently.
package servicehandler

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/signalsfoundry/lightpath-controller/internal/logging"
	"github.com/signalsfoundry/lightpath-controller/internal/observability"
	"github.com/signalsfoundry/lightpath-controller/internal/pce"
	"github.com/signalsfoundry/lightpath-controller/internal/renderer"
	"github.com/signalsfoundry/lightpath-controller/model"
)

const tracerName = "github.com/signalsfoundry/lightpath-controller/internal/servicehandler"

// Response codes and messages of the service RPCs.
const (
	CodeAccepted = "200"
	CodeFailed   = "500"

	MsgCreateAccepted = "PCE calculation in progress"
	MsgDeleteAccepted = "Renderer service delete in progress"
	MsgImplemented    = "Service implemented"
	MsgDeleted        = "Service deleted"
)

// Ack indicators.
const (
	AckFinal    = "Yes"
	AckNotFinal = "No"
)

// reserveAttempts bounds the compute/render cycles of one create when a
// concurrent create takes the computed wavelength first.
const reserveAttempts = 3

// Operation names used in metrics.
const (
	opCreate = "create"
	opDelete = "delete"
)

// Response is the configuration-response-common of a service RPC.
type Response struct {
	RequestID         string `json:"request-id,omitempty"`
	ResponseCode      string `json:"response-code"`
	ResponseMessage   string `json:"response-message"`
	AckFinalIndicator string `json:"ack-final-indicator"`
}

// CreateRequest asks for a new service between two transponders, or for a
// roadm-line between the add/drop ports of two ROADMs.
type CreateRequest struct {
	RequestID       string
	Name            string
	CommonID        string
	ConnectionType  string
	AEnd            model.Endpoint
	ZEnd            model.Endpoint
	DueDate         string
	OperatorContact string
}

// Metrics receives service counters.
type Metrics interface {
	ObserveServiceOperation(op, outcome string)
	SetServiceCounts(states []string, counts map[string]int)
}

// PathComputer computes service paths.
type PathComputer interface {
	Compute(ctx context.Context, req pce.Request) (pce.Result, error)
}

// PathRenderer renders and tears down service paths.
type PathRenderer interface {
	Create(ctx context.Context, req renderer.Request) error
	Delete(ctx context.Context, req renderer.Request) error
}

type record struct {
	svc  model.Service
	rate int
	// queued counts operations accepted but not yet finished.
	queued int
	// deleteQueued is set while a delete waits or runs.
	deleteQueued bool
	// changed is closed and replaced on every transition.
	changed chan struct{}
}

// Controller is the service lifecycle controller.
type Controller struct {
	pce      PathComputer
	renderer PathRenderer
	log      logging.Logger
	metrics  Metrics
	notifier *Notifier
	now      func() time.Time

	deleteFailedIsNotFound bool

	base   context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu       sync.Mutex
	services map[string]*record
	// tails holds, per name, the completion channel of the last queued
	// operation.
	tails map[string]chan struct{}
}

// Option customises a Controller.
type Option func(*Controller)

// WithLogger attaches a structured logger.
func WithLogger(l logging.Logger) Option {
	return func(c *Controller) {
		if l != nil {
			c.log = l
		}
	}
}

// WithMetrics attaches service metrics.
func WithMetrics(m Metrics) Option {
	return func(c *Controller) { c.metrics = m }
}

// WithNotifier publishes transitions to n.
func WithNotifier(n *Notifier) Option {
	return func(c *Controller) {
		if n != nil {
			c.notifier = n
		}
	}
}

// WithDeleteFailedIsNotFound controls whether deleting a FAILED service is
// answered like deleting an unknown one. The default is true.
func WithDeleteFailedIsNotFound(v bool) Option {
	return func(c *Controller) { c.deleteFailedIsNotFound = v }
}

// New returns a controller. Asynchronous work runs under a context derived
// from ctx and stops on Shutdown.
func New(ctx context.Context, p PathComputer, r PathRenderer, opts ...Option) *Controller {
	base, cancel := context.WithCancel(ctx)
	c := &Controller{
		pce:                    p,
		renderer:               r,
		log:                    logging.Noop(),
		now:                    time.Now,
		deleteFailedIsNotFound: true,
		base:                   base,
		cancel:                 cancel,
		services:               make(map[string]*record),
		tails:                  make(map[string]chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.notifier == nil {
		c.notifier = NewNotifier(c.log)
	}
	return c
}

// Notifier returns the transition publisher.
func (c *Controller) Notifier() *Notifier { return c.notifier }

// Shutdown cancels in-flight work and waits for queued operations to finish
// or ctx to expire.
func (c *Controller) Shutdown(ctx context.Context) error {
	c.cancel()
	done := make(chan struct{})
	go func() {
		c.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

//
// ---------- RPCs ----------
//

// Create accepts a service for asynchronous computation and rendering. The
// returned error is non-nil when the request is rejected; the response is
// filled either way.
func (c *Controller) Create(ctx context.Context, req CreateRequest) (Response, error) {
	rate, err := validateCreate(req)
	if err != nil {
		c.observe(opCreate, "invalid")
		return rejected(req.RequestID, err), err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if rec, ok := c.services[req.Name]; ok && (!hidden(rec.svc) || rec.queued > 0) {
		err := fmt.Errorf("%w: service %q", model.ErrAlreadyExists, req.Name)
		c.observe(opCreate, "exists")
		return Response{
			RequestID:         req.RequestID,
			ResponseCode:      CodeFailed,
			ResponseMessage:   fmt.Sprintf("Service '%s' already exists in datastore", req.Name),
			AckFinalIndicator: AckFinal,
		}, err
	}

	now := c.now()
	connType := req.ConnectionType
	if connType == "" {
		connType = model.ConnectionTypeService
	}
	rec := &record{
		svc: model.Service{
			Name:             req.Name,
			CommonID:         req.CommonID,
			ConnectionType:   connType,
			AEnd:             req.AEnd,
			ZEnd:             req.ZEnd,
			DueDate:          req.DueDate,
			OperatorContact:  req.OperatorContact,
			AdminState:       model.AdminOutOfService,
			OperationalState: model.OperOutOfService,
			LifecycleState:   model.LifecyclePlanned,
			State:            model.StatePendingCreate,
			CreatedAt:        now,
			UpdatedAt:        now,
		},
		rate:    rate,
		queued:  1,
		changed: make(chan struct{}),
	}
	c.services[req.Name] = rec
	c.publishLocked(rec, MsgCreateAccepted)
	c.updateCountsLocked()
	c.enqueueLocked(req.Name, func() { c.runCreate(rec) })

	c.log.Info(ctx, "service create accepted",
		logging.String("service", req.Name),
		logging.String("a_end", req.AEnd.NodeID),
		logging.String("z_end", req.ZEnd.NodeID),
	)
	return Response{
		RequestID:         req.RequestID,
		ResponseCode:      CodeAccepted,
		ResponseMessage:   MsgCreateAccepted,
		AckFinalIndicator: AckNotFinal,
	}, nil
}

// Delete accepts a service teardown. The teardown runs after any operation
// already queued for the name.
func (c *Controller) Delete(ctx context.Context, requestID, name string) (Response, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	rec, ok := c.services[name]
	if !ok || rec.svc.State == model.StateDeleted ||
		(hidden(rec.svc) && c.deleteFailedIsNotFound) {
		err := fmt.Errorf("%w: service %q", model.ErrNotFound, name)
		c.observe(opDelete, "not_found")
		return Response{
			RequestID:         requestID,
			ResponseCode:      CodeFailed,
			ResponseMessage:   fmt.Sprintf("Service '%s' does not exist in datastore", name),
			AckFinalIndicator: AckFinal,
		}, err
	}

	accepted := Response{
		RequestID:         requestID,
		ResponseCode:      CodeAccepted,
		ResponseMessage:   MsgDeleteAccepted,
		AckFinalIndicator: AckNotFinal,
	}
	if rec.deleteQueued {
		return accepted, nil
	}
	rec.deleteQueued = true
	rec.queued++
	c.enqueueLocked(name, func() { c.runDelete(rec) })
	c.log.Info(ctx, "service delete accepted", logging.String("service", name))
	return accepted, nil
}

// Get returns a visible service.
func (c *Controller) Get(name string) (model.Service, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	rec, ok := c.services[name]
	if !ok || hidden(rec.svc) {
		return model.Service{}, fmt.Errorf("%w: service %q", model.ErrNotFound, name)
	}
	return copyService(rec.svc), nil
}

// List returns the visible services sorted by name.
func (c *Controller) List() []model.Service {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]model.Service, 0, len(c.services))
	for _, rec := range c.services {
		if !hidden(rec.svc) {
			out = append(out, copyService(rec.svc))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// State returns the lifecycle state of name, visible or not. Unknown names
// are StateNone.
func (c *Controller) State(name string) model.ServiceState {
	c.mu.Lock()
	defer c.mu.Unlock()
	if rec, ok := c.services[name]; ok {
		return rec.svc.State
	}
	return model.StateNone
}

// Await blocks until every accepted operation on name has finished, then
// returns the service as it ended. A zero timeout waits until ctx ends.
func (c *Controller) Await(ctx context.Context, name string, timeout time.Duration) (model.Service, error) {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	for {
		c.mu.Lock()
		rec, ok := c.services[name]
		if !ok {
			c.mu.Unlock()
			return model.Service{}, fmt.Errorf("%w: service %q", model.ErrNotFound, name)
		}
		if rec.queued == 0 && rec.svc.State.Terminal() {
			svc := copyService(rec.svc)
			c.mu.Unlock()
			return svc, nil
		}
		changed := rec.changed
		c.mu.Unlock()

		select {
		case <-changed:
		case <-ctx.Done():
			return model.Service{}, ctx.Err()
		}
	}
}

func validateCreate(req CreateRequest) (int, error) {
	if req.Name == "" {
		return 0, fmt.Errorf("%w: service-name is required", model.ErrValidation)
	}
	if req.AEnd.NodeID == "" || req.ZEnd.NodeID == "" {
		return 0, fmt.Errorf("%w: service-a-end and service-z-end need a node-id", model.ErrValidation)
	}
	switch req.ConnectionType {
	case "", model.ConnectionTypeService, model.ConnectionTypeRoadmLine:
	default:
		return 0, fmt.Errorf("%w: unsupported connection-type %q", model.ErrValidation, req.ConnectionType)
	}
	rate, err := renderer.ParseRate(req.AEnd.ServiceRate)
	if err != nil {
		return 0, err
	}
	if req.ZEnd.ServiceRate != "" {
		zRate, err := renderer.ParseRate(req.ZEnd.ServiceRate)
		if err != nil {
			return 0, err
		}
		if zRate != rate {
			return 0, fmt.Errorf("%w: service ends disagree on rate (%dG vs %dG)", model.ErrValidation, rate, zRate)
		}
	}
	return rate, nil
}

func rejected(requestID string, err error) Response {
	return Response{
		RequestID:         requestID,
		ResponseCode:      CodeFailed,
		ResponseMessage:   err.Error(),
		AckFinalIndicator: AckFinal,
	}
}

// hidden reports whether svc is gone from the datastore. A FAILED service
// that still holds a path failed its teardown and stays visible until a
// delete succeeds.
func hidden(svc model.Service) bool {
	return svc.State == model.StateDeleted || (svc.State == model.StateFailed && svc.Path == nil)
}

func copyService(s model.Service) model.Service {
	if s.Path != nil {
		p := *s.Path
		p.Hops = append([]model.Hop(nil), p.Hops...)
		s.Path = &p
	}
	return s
}

//
// ---------- Serialised execution ----------
//

// enqueueLocked runs fn after the previous operation on name completes.
func (c *Controller) enqueueLocked(name string, fn func()) {
	prev := c.tails[name]
	done := make(chan struct{})
	c.tails[name] = done
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		defer close(done)
		if prev != nil {
			<-prev
		}
		fn()
		c.mu.Lock()
		if c.tails[name] == done {
			delete(c.tails, name)
		}
		c.mu.Unlock()
	}()
}

func (c *Controller) runCreate(rec *record) {
	c.mu.Lock()
	svc := copyService(rec.svc)
	rate := rec.rate
	c.mu.Unlock()

	ctx, span := observability.StartSpan(c.base, tracerName, "ServiceHandler/Create", "service", svc.Name)
	path, err := c.computeAndRender(ctx, svc, rate)
	observability.EndSpan(span, err)

	c.mu.Lock()
	defer c.mu.Unlock()
	rec.queued--
	if err != nil {
		c.observe(opCreate, "failed")
		c.failLocked(ctx, rec, err)
		return
	}
	c.observe(opCreate, "ok")
	rec.svc.Path = path
	rec.svc.AdminState = model.AdminInService
	rec.svc.OperationalState = model.OperInService
	c.transitionLocked(rec, model.StateInService, MsgImplemented)
}

func (c *Controller) computeAndRender(ctx context.Context, svc model.Service, rate int) (*model.Path, error) {
	var err error
	for attempt := 1; attempt <= reserveAttempts; attempt++ {
		var res pce.Result
		res, err = c.pce.Compute(ctx, pce.Request{Owner: svc.Name, AEnd: svc.AEnd.NodeID, ZEnd: svc.ZEnd.NodeID})
		if err != nil {
			return nil, err
		}
		err = c.renderer.Create(ctx, renderRequest(svc.Name, res.Hops, res.Wavelength, rate))
		if err == nil {
			return res.Path(), nil
		}
		if !errors.Is(err, model.ErrResourceConflict) {
			return nil, err
		}
		c.log.Debug(ctx, "wavelength taken concurrently, recomputing",
			logging.String("service", svc.Name),
			logging.Int("attempt", attempt),
		)
	}
	return nil, err
}

func (c *Controller) runDelete(rec *record) {
	c.mu.Lock()
	name := rec.svc.Name
	c.transitionLocked(rec, model.StatePendingDelete, "")
	svc := copyService(rec.svc)
	rate := rec.rate
	c.mu.Unlock()

	ctx, span := observability.StartSpan(c.base, tracerName, "ServiceHandler/Delete", "service", name)
	var err error
	if svc.Path != nil {
		err = c.renderer.Delete(ctx, renderRequest(name, svc.Path.Hops, svc.Path.Wavelength.Index, rate))
	}
	observability.EndSpan(span, err)

	c.mu.Lock()
	defer c.mu.Unlock()
	rec.queued--
	rec.deleteQueued = false
	if err != nil {
		c.observe(opDelete, "failed")
		c.failLocked(ctx, rec, err)
		return
	}
	c.observe(opDelete, "ok")
	rec.svc.AdminState = model.AdminOutOfService
	rec.svc.OperationalState = model.OperOutOfService
	rec.svc.Path = nil
	c.transitionLocked(rec, model.StateDeleted, MsgDeleted)
}

func renderRequest(owner string, hops []model.Hop, wavelength, rate int) renderer.Request {
	return renderer.Request{
		Owner:         owner,
		Hops:          hops,
		Wavelength:    wavelength,
		Rate:          rate,
		ControlMode:   renderer.ControlNetwork,
		Bidirectional: true,
	}
}

func (c *Controller) failLocked(ctx context.Context, rec *record, err error) {
	rec.svc.FailureReason = err.Error()
	rec.svc.AdminState = model.AdminOutOfService
	rec.svc.OperationalState = model.OperOutOfService
	c.log.Warn(ctx, "service failed",
		logging.String("service", rec.svc.Name),
		logging.Err(err),
	)
	c.transitionLocked(rec, model.StateFailed, err.Error())
}

// transitionLocked moves rec to state to and wakes its waiters, which also
// observe a changed queue count.
func (c *Controller) transitionLocked(rec *record, to model.ServiceState, msg string) {
	close(rec.changed)
	rec.changed = make(chan struct{})
	if rec.svc.State == to {
		return
	}
	rec.svc.State = to
	rec.svc.UpdatedAt = c.now()
	c.publishLocked(rec, msg)
	c.updateCountsLocked()
}

func (c *Controller) publishLocked(rec *record, msg string) {
	c.notifier.Publish(Notification{
		ServiceName: rec.svc.Name,
		State:       rec.svc.State,
		Message:     msg,
		Time:        rec.svc.UpdatedAt,
	})
}

var countedStates = []string{
	string(model.StatePendingCreate),
	string(model.StateInService),
	string(model.StatePendingDelete),
	string(model.StateFailed),
}

func (c *Controller) updateCountsLocked() {
	if c.metrics == nil {
		return
	}
	counts := make(map[string]int, len(countedStates))
	for _, rec := range c.services {
		counts[string(rec.svc.State)]++
	}
	c.metrics.SetServiceCounts(countedStates, counts)
}

func (c *Controller) observe(op, outcome string) {
	if c.metrics != nil {
		c.metrics.ObserveServiceOperation(op, outcome)
	}
}
