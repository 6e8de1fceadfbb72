// Package pce computes lightpaths: the device hops a service traverses and the
// wavelength it uses. Computation is read-only over a state snapshot.
package pce

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/signalsfoundry/lightpath-controller/internal/logging"
	"github.com/signalsfoundry/lightpath-controller/internal/observability"
	"github.com/signalsfoundry/lightpath-controller/internal/state"
	"github.com/signalsfoundry/lightpath-controller/kb"
	"github.com/signalsfoundry/lightpath-controller/model"
	"go.opentelemetry.io/otel/attribute"
)

const tracerName = "github.com/signalsfoundry/lightpath-controller/internal/pce"

// MaxCandidates caps the number of equal-length link sequences considered.
const MaxCandidates = 64

// Computation modes, used as metric labels.
const (
	ModeNetwork  = "network"
	ModeExplicit = "explicit"
)

// Request asks for a path. Network mode sets AEnd and ZEnd (transponder
// node ids); explicit mode sets Hops. Wavelength 0 means first fit.
type Request struct {
	Owner      string
	AEnd       string
	ZEnd       string
	Hops       []model.Hop
	Wavelength int
}

// Mode reports which computation the request selects.
func (r Request) Mode() string {
	if len(r.Hops) > 0 {
		return ModeExplicit
	}
	return ModeNetwork
}

// Result is a computed path.
type Result struct {
	Hops       []model.Hop
	Wavelength int
	Slot       model.WavelengthSlot
	// SubNodes and Links are the topology elements traversed, in order. Both
	// are empty for explicit requests.
	SubNodes []string
	Links    []string
	// Claims lists, per hop, the inventory claims the path occupies.
	Claims [][]kb.Claim
}

// Path returns the result as a service path.
func (r Result) Path() *model.Path {
	return &model.Path{Hops: append([]model.Hop(nil), r.Hops...), Wavelength: r.Slot}
}

// PathMetrics receives computation outcomes.
type PathMetrics interface {
	ObservePathComputation(mode, outcome string, d time.Duration)
}

// Engine computes paths against a ControllerState.
type Engine struct {
	state   *state.ControllerState
	log     logging.Logger
	metrics PathMetrics
}

// Option customises an Engine.
type Option func(*Engine)

// WithLogger attaches a structured logger.
func WithLogger(l logging.Logger) Option {
	return func(e *Engine) {
		if l != nil {
			e.log = l
		}
	}
}

// WithMetrics attaches a metrics sink.
func WithMetrics(m PathMetrics) Option {
	return func(e *Engine) { e.metrics = m }
}

// New returns an engine over st.
func New(st *state.ControllerState, opts ...Option) *Engine {
	e := &Engine{state: st, log: logging.Noop()}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Compute runs a network or explicit computation.
func (e *Engine) Compute(ctx context.Context, req Request) (res Result, err error) {
	mode := req.Mode()
	ctx, span := observability.StartSpan(ctx, tracerName, "PCE/Compute", "service", req.Owner,
		attribute.String("pce.mode", mode),
	)
	start := time.Now()
	defer func() {
		observability.EndSpan(span, err)
		if e.metrics != nil {
			e.metrics.ObservePathComputation(mode, outcome(err), time.Since(start))
		}
	}()

	snap := e.state.Snapshot()
	if mode == ModeExplicit {
		res, err = computeExplicit(snap, req)
	} else {
		res, err = computeNetwork(snap, req)
	}
	if err != nil {
		e.log.Info(ctx, "path computation failed",
			logging.String("service", req.Owner),
			logging.String("mode", mode),
			logging.Err(err),
		)
		return Result{}, err
	}
	e.log.Debug(ctx, "path computed",
		logging.String("service", req.Owner),
		logging.String("mode", mode),
		logging.Int("hops", len(res.Hops)),
		logging.Int("wavelength", res.Wavelength),
	)
	return res, nil
}

func outcome(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, model.ErrNoPathFound):
		return "no_path"
	case errors.Is(err, model.ErrNoWavelengthAvailable):
		return "no_wavelength"
	case errors.Is(err, model.ErrValidation), errors.Is(err, model.ErrNotFound):
		return "invalid"
	default:
		return "error"
	}
}

//
// ---------- Explicit mode ----------
//

func computeExplicit(snap *state.Snapshot, req Request) (Result, error) {
	perHop, err := ClaimsFor(snap, req.Hops)
	if err != nil {
		return Result{}, err
	}
	res := Result{Hops: append([]model.Hop(nil), req.Hops...), Claims: perHop}
	var all []kb.Claim
	for _, claims := range perHop {
		all = append(all, claims...)
	}

	candidates := candidateSet(snap, claimNodes(all), claimTPs(all))
	wl, err := pick(snap.Grid, candidates, req.Wavelength)
	if err != nil {
		return Result{}, err
	}
	res.Wavelength = wl
	res.Slot, _ = snap.Grid.Slot(wl)
	return res, nil
}

func claimNodes(claims []kb.Claim) []string {
	var out []string
	for _, c := range claims {
		out = append(out, c.Node)
	}
	return out
}

func claimTPs(claims []kb.Claim) []model.LinkEnd {
	out := make([]model.LinkEnd, 0, len(claims))
	for _, c := range claims {
		out = append(out, model.LinkEnd{Node: c.Node, TP: c.TP})
	}
	return out
}

// candidateSet intersects the availability of nodes. It is empty when any
// single-slot TP among tps is busy.
func candidateSet(snap *state.Snapshot, nodes []string, tps []model.LinkEnd) []int {
	for _, tp := range tps {
		if snap.Busy(tp.Node, tp.TP) {
			return nil
		}
	}
	var out []int
	for i, n := range nodes {
		avail := snap.Available(n)
		if i == 0 {
			out = append([]int(nil), avail...)
			continue
		}
		out = intersect(out, avail)
		if len(out) == 0 {
			return nil
		}
	}
	return out
}

// intersect merges two ascending sets.
func intersect(a, b []int) []int {
	var out []int
	i, j := 0, 0
	for i < len(a) && j < len(b) {
		switch {
		case a[i] == b[j]:
			out = append(out, a[i])
			i++
			j++
		case a[i] < b[j]:
			i++
		default:
			j++
		}
	}
	return out
}

// pick returns want when it is a candidate, or the lowest candidate when
// want is zero.
func pick(grid model.Grid, candidates []int, want int) (int, error) {
	if want != 0 {
		if !grid.Valid(want) {
			return 0, fmt.Errorf("%w: wavelength %d outside grid [1,%d]", model.ErrValidation, want, grid.Channels())
		}
		i := sort.SearchInts(candidates, want)
		if i < len(candidates) && candidates[i] == want {
			return want, nil
		}
		return 0, fmt.Errorf("%w: wavelength %d is not free on every hop", model.ErrNoWavelengthAvailable, want)
	}
	if len(candidates) == 0 {
		return 0, fmt.Errorf("%w: no common free wavelength on the path", model.ErrNoWavelengthAvailable)
	}
	return candidates[0], nil
}
