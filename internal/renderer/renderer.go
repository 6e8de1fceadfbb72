// Package renderer turns a computed path into device configuration: layered
// interfaces on transponders and cross-connections on ROADMs. A create is
// all-or-nothing; on failure every completed step is undone in reverse and
// the path's inventory reservations are released.
package renderer

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/signalsfoundry/lightpath-controller/core"
	"github.com/signalsfoundry/lightpath-controller/internal/logging"
	"github.com/signalsfoundry/lightpath-controller/internal/observability"
	"github.com/signalsfoundry/lightpath-controller/internal/sbi"
	"github.com/signalsfoundry/lightpath-controller/internal/state"
	"github.com/signalsfoundry/lightpath-controller/kb"
	"github.com/signalsfoundry/lightpath-controller/model"
	"go.opentelemetry.io/otel/attribute"
)

const tracerName = "github.com/signalsfoundry/lightpath-controller/internal/renderer"

// DefaultTargetOutputPower is the engineered add-path target in dBm.
const DefaultTargetOutputPower = -3.0

// DefaultRollbackTimeout bounds the undo of a failed create.
const DefaultRollbackTimeout = 30 * time.Second

// ControlMode selects how roadm-connection control modes are derived.
type ControlMode int

const (
	// ControlNetwork uses gainLoss on add connections and power elsewhere.
	ControlNetwork ControlMode = iota
	// ControlOff disables power control on every connection.
	ControlOff
)

// Request describes one path to render or tear down. Owner is the service
// name recorded on inventory reservations.
type Request struct {
	Owner            string
	Hops             []model.Hop
	Wavelength       int
	Rate             int
	ModulationFormat string
	ControlMode      ControlMode
	// Bidirectional adds the reverse cross-connection on every ROADM hop.
	Bidirectional bool
}

func (r Request) rate() int {
	if r.Rate == 0 {
		return model.DefaultServiceRate
	}
	return r.Rate
}

// modulation returns the transponder modulation format. Single-polarisation
// names map to the dual-polarisation formats the transponders implement.
func (r Request) modulation() string {
	switch strings.ToLower(r.ModulationFormat) {
	case "", "qpsk", DefaultModulationFormat:
		return DefaultModulationFormat
	case "16qam", "dp-16qam":
		return "dp-16qam"
	default:
		return r.ModulationFormat
	}
}

// PowerPolicy provides the target output power of add connections.
type PowerPolicy struct {
	Default float64
	Nodes   map[string]float64
}

// Target returns the node override or the default.
func (p PowerPolicy) Target(node string) float64 {
	if v, ok := p.Nodes[node]; ok {
		return v
	}
	return p.Default
}

// RollbackMetrics counts rollbacks of failed creates.
type RollbackMetrics interface {
	IncRollbacks()
}

// Renderer drives devices through the ControllerState's device client and
// keeps the inventory in step with what is rendered.
type Renderer struct {
	state           *state.ControllerState
	log             logging.Logger
	metrics         RollbackMetrics
	power           PowerPolicy
	rollbackTimeout time.Duration
}

// Option customises a Renderer.
type Option func(*Renderer)

// WithLogger attaches a structured logger.
func WithLogger(l logging.Logger) Option {
	return func(r *Renderer) {
		if l != nil {
			r.log = l
		}
	}
}

// WithMetrics attaches a rollback counter.
func WithMetrics(m RollbackMetrics) Option {
	return func(r *Renderer) { r.metrics = m }
}

// WithPowerPolicy sets the add-connection target powers.
func WithPowerPolicy(p PowerPolicy) Option {
	return func(r *Renderer) { r.power = p }
}

// WithRollbackTimeout bounds the undo of a failed create.
func WithRollbackTimeout(d time.Duration) Option {
	return func(r *Renderer) {
		if d > 0 {
			r.rollbackTimeout = d
		}
	}
}

// New returns a renderer over st.
func New(st *state.ControllerState, opts ...Option) *Renderer {
	r := &Renderer{
		state:           st,
		log:             logging.Noop(),
		power:           PowerPolicy{Default: DefaultTargetOutputPower},
		rollbackTimeout: DefaultRollbackTimeout,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func (r *Renderer) validate(req Request) error {
	if req.Owner == "" {
		return fmt.Errorf("%w: render request needs an owner", model.ErrValidation)
	}
	if len(req.Hops) == 0 {
		return fmt.Errorf("%w: render request has no hops", model.ErrValidation)
	}
	if grid := r.state.Grid(); !grid.Valid(req.Wavelength) {
		return fmt.Errorf("%w: wavelength %d outside grid [1,%d]", model.ErrValidation, req.Wavelength, grid.Channels())
	}
	return nil
}

// Create reserves the path in the inventory and then renders it hop by hop.
// Nothing stays reserved or configured when it returns an error.
func (r *Renderer) Create(ctx context.Context, req Request) (err error) {
	ctx, span := observability.StartSpan(ctx, tracerName, "Renderer/Create", "service", req.Owner,
		attribute.Int("renderer.wavelength", req.Wavelength),
		attribute.Int("renderer.hops", len(req.Hops)),
	)
	defer func() { observability.EndSpan(span, err) }()

	if err := r.validate(req); err != nil {
		return err
	}
	snap := r.state.Snapshot()
	p, err := buildPlan(snap, req, r.power)
	if err != nil {
		return err
	}
	claims, err := hopClaims(snap, req.Hops)
	if err != nil {
		return err
	}

	inv := r.state.Inventory()
	for i, c := range claims {
		if err := inv.Reserve(req.Owner, req.Wavelength, c...); err != nil {
			r.release(req.Owner, req.Wavelength, claims[:i])
			return err
		}
	}

	dev := r.state.Device()
	undo := make([]func(context.Context) error, 0, len(p.create))
	for _, st := range p.create {
		if err := ctx.Err(); err != nil {
			r.rollback(ctx, req, undo)
			r.release(req.Owner, req.Wavelength, claims)
			return fmt.Errorf("%w: render of %s interrupted: %v", model.ErrDeviceCommunication, req.Owner, err)
		}
		u, err := apply(ctx, dev, st)
		if err != nil {
			r.rollback(ctx, req, undo)
			r.release(req.Owner, req.Wavelength, claims)
			return fmt.Errorf("render %s: %w", st, err)
		}
		undo = append(undo, u)
	}

	r.log.Info(ctx, "path rendered",
		logging.String("service", req.Owner),
		logging.Int("wavelength", req.Wavelength),
		logging.Int("steps", len(p.create)),
	)
	return nil
}

// Delete tears the path down and releases the owner's reservations on it.
// Objects already absent count as deleted, so a failed delete can be run
// again. Reservations are kept until every device step has succeeded.
// Circuit packs that still carry another owner's wavelength keep their
// equipment state.
func (r *Renderer) Delete(ctx context.Context, req Request) (err error) {
	ctx, span := observability.StartSpan(ctx, tracerName, "Renderer/Delete", "service", req.Owner,
		attribute.Int("renderer.wavelength", req.Wavelength),
	)
	defer func() { observability.EndSpan(span, err) }()

	if err := r.validate(req); err != nil {
		return err
	}
	snap := r.state.Snapshot()
	p, err := buildPlan(snap, req, r.power)
	if err != nil {
		return err
	}

	dev := r.state.Device()
	var errs []error
	for _, st := range teardownSteps(snap, req.Owner, p.delete) {
		if err := remove(ctx, dev, st); err != nil {
			r.log.Warn(ctx, "delete step failed",
				logging.String("service", req.Owner),
				logging.String("step", st.String()),
				logging.Err(err),
			)
			errs = append(errs, fmt.Errorf("%s: %w", st, err))
		}
	}
	if len(errs) > 0 {
		return errors.Join(errs...)
	}

	claims, err := hopClaims(snap, req.Hops)
	if err != nil {
		return err
	}
	released := 0
	for _, c := range claims {
		released += r.state.Inventory().ReleaseOwned(req.Owner, req.Wavelength, c...)
	}
	r.log.Info(ctx, "path deleted",
		logging.String("service", req.Owner),
		logging.Int("wavelength", req.Wavelength),
		logging.Int("released", released),
	)
	return nil
}

// teardownSteps drops the equipment resets of packs shared with another
// owner.
func teardownSteps(snap *state.Snapshot, owner string, steps []step) []step {
	out := make([]step, 0, len(steps))
	for _, st := range steps {
		if st.kind == stepEquipment && sharedPack(snap, st.node, st.path.Key, owner) {
			continue
		}
		out = append(out, st)
	}
	return out
}

// sharedPack reports whether a port of circuit pack cp on node carries a
// wavelength reserved by someone other than owner.
func sharedPack(snap *state.Snapshot, node, cp, owner string) bool {
	doc, ok := snap.Mappings[node]
	if !ok {
		return false
	}
	for _, m := range doc.Mappings {
		if m.SupportingCircuitPack != cp {
			continue
		}
		usage := snap.Usage[core.SubNodeForTP(node, doc.Info.NodeType, m.LogicalConnectionPoint)]
		for _, holder := range usage.Owners[m.LogicalConnectionPoint] {
			if holder != owner {
				return true
			}
		}
	}
	return false
}

func hopClaims(snap *state.Snapshot, hops []model.Hop) ([][]kb.Claim, error) {
	out := make([][]kb.Claim, 0, len(hops))
	for _, hop := range hops {
		c, err := snap.HopClaims(hop)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, nil
}

func (r *Renderer) release(owner string, wavelength int, claims [][]kb.Claim) {
	for _, c := range claims {
		r.state.Inventory().ReleaseOwned(owner, wavelength, c...)
	}
}

// rollback runs undo in reverse with a context that survives cancellation
// of the create.
func (r *Renderer) rollback(ctx context.Context, req Request, undo []func(context.Context) error) {
	if r.metrics != nil {
		r.metrics.IncRollbacks()
	}
	rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.rollbackTimeout)
	defer cancel()
	for i := len(undo) - 1; i >= 0; i-- {
		if err := undo[i](rctx); err != nil {
			r.log.Error(ctx, "rollback step failed",
				logging.String("service", req.Owner),
				logging.Err(err),
			)
		}
	}
	r.log.Warn(ctx, "render rolled back",
		logging.String("service", req.Owner),
		logging.Int("undone", len(undo)),
	)
}

//
// ---------- Device steps ----------
//

func apply(ctx context.Context, dev sbi.Client, st step) (func(context.Context) error, error) {
	if st.kind == stepEquipment {
		prior, err := setEquipment(ctx, dev, st.node, st.path, st.equipment)
		if err != nil {
			return nil, err
		}
		return func(ctx context.Context) error {
			_, err := setEquipment(ctx, dev, st.node, st.path, prior)
			return err
		}, nil
	}
	if err := dev.WriteConfig(ctx, st.node, st.path, st.value); err != nil {
		return nil, err
	}
	return func(ctx context.Context) error {
		return ignoreNotFound(dev.DeleteConfig(ctx, st.node, st.path))
	}, nil
}

func remove(ctx context.Context, dev sbi.Client, st step) error {
	if st.kind == stepEquipment {
		_, err := setEquipment(ctx, dev, st.node, st.path, st.equipment)
		return ignoreNotFound(err)
	}
	return ignoreNotFound(dev.DeleteConfig(ctx, st.node, st.path))
}

// setEquipment rewrites the equipment-state of a circuit pack and returns the
// previous one.
func setEquipment(ctx context.Context, dev sbi.Client, node string, p sbi.Path, equipment string) (string, error) {
	cp, err := sbi.Read[model.CircuitPack](ctx, dev, node, p)
	if err != nil {
		return "", err
	}
	prior := cp.EquipmentState
	if prior == equipment {
		return prior, nil
	}
	cp.EquipmentState = equipment
	if err := dev.WriteConfig(ctx, node, p, cp); err != nil {
		return "", err
	}
	return prior, nil
}

func ignoreNotFound(err error) error {
	if errors.Is(err, model.ErrNotFound) {
		return nil
	}
	return err
}
