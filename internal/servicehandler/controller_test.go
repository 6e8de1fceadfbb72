package servicehandler

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/signalsfoundry/lightpath-controller/internal/pce"
	"github.com/signalsfoundry/lightpath-controller/internal/renderer"
	"github.com/signalsfoundry/lightpath-controller/internal/sbi"
	"github.com/signalsfoundry/lightpath-controller/internal/sbi/devsim"
	"github.com/signalsfoundry/lightpath-controller/internal/state/statetest"
	"github.com/signalsfoundry/lightpath-controller/model"
)

const awaitTimeout = 5 * time.Second

type fakeMetrics struct {
	mu     sync.Mutex
	ops    map[string]int
	counts map[string]int
}

func newFakeMetrics() *fakeMetrics {
	return &fakeMetrics{ops: make(map[string]int)}
}

func (m *fakeMetrics) ObserveServiceOperation(op, outcome string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ops[op+"/"+outcome]++
}

func (m *fakeMetrics) SetServiceCounts(states []string, counts map[string]int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.counts = make(map[string]int, len(states))
	for _, s := range states {
		m.counts[s] = counts[s]
	}
}

func (m *fakeMetrics) op(key string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.ops[key]
}

func serviceRequest(name string) CreateRequest {
	return CreateRequest{
		RequestID:       "e3028bae-a90f-4ddd-a83f-cf224eba0e58",
		Name:            name,
		CommonID:        "ASATT1234567",
		ConnectionType:  model.ConnectionTypeService,
		AEnd:            model.Endpoint{NodeID: "XPDRA01", ServiceRate: "100", ServiceFormat: "Ethernet", CLLI: "SNJSCAMCJP8"},
		ZEnd:            model.Endpoint{NodeID: "XPDRC01", ServiceRate: "100", ServiceFormat: "Ethernet", CLLI: "SNJSCAMCJT4"},
		DueDate:         "2016-11-28T00:00:01Z",
		OperatorContact: "pw1234",
	}
}

func newLabController(t *testing.T, opts ...Option) (*Controller, *statetest.Lab) {
	t.Helper()
	lab := statetest.NewLab(t)
	c := New(context.Background(), pce.New(lab.State), renderer.New(lab.State), opts...)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), awaitTimeout)
		defer cancel()
		_ = c.Shutdown(ctx)
	})
	return c, lab
}

func mustCreate(t *testing.T, c *Controller, req CreateRequest) model.Service {
	t.Helper()
	resp, err := c.Create(context.Background(), req)
	if err != nil {
		t.Fatalf("Create(%s): %v", req.Name, err)
	}
	if resp.ResponseCode != CodeAccepted || resp.ResponseMessage != MsgCreateAccepted {
		t.Fatalf("Create(%s) response = %+v", req.Name, resp)
	}
	svc, err := c.Await(context.Background(), req.Name, awaitTimeout)
	if err != nil {
		t.Fatalf("Await(%s): %v", req.Name, err)
	}
	return svc
}

func TestServiceLifecycle(t *testing.T) {
	metrics := newFakeMetrics()
	c, lab := newLabController(t, WithMetrics(metrics))
	notes, unsubscribe := c.Notifier().Subscribe(0)
	defer unsubscribe()
	ctx := context.Background()

	svc1 := mustCreate(t, c, serviceRequest("service1"))
	if svc1.State != model.StateInService || svc1.AdminState != model.AdminInService ||
		svc1.OperationalState != model.OperInService || svc1.LifecycleState != model.LifecyclePlanned {
		t.Fatalf("service1 = %+v", svc1)
	}
	if svc1.Path == nil || svc1.Path.Wavelength.Index != 1 || svc1.Path.Hops[0].DestTP != "XPDR1-NETWORK1" {
		t.Fatalf("service1 path = %+v", svc1.Path)
	}

	resp, err := c.Create(ctx, serviceRequest("service1"))
	if !errors.Is(err, model.ErrAlreadyExists) || resp.ResponseCode != CodeFailed {
		t.Fatalf("duplicate create = %+v, %v", resp, err)
	}

	svc2 := mustCreate(t, c, serviceRequest("service2"))
	if svc2.State != model.StateInService || svc2.Path.Wavelength.Index != 2 || svc2.Path.Hops[0].DestTP != "XPDR1-NETWORK2" {
		t.Fatalf("service2 = %+v path %+v", svc2, svc2.Path)
	}

	svc3 := mustCreate(t, c, serviceRequest("service3"))
	if svc3.State != model.StateFailed || !strings.Contains(svc3.FailureReason, model.ErrNoWavelengthAvailable.Error()) {
		t.Fatalf("service3 = %+v", svc3)
	}
	if _, err := c.Get("service3"); !errors.Is(err, model.ErrNotFound) {
		t.Fatalf("Get(service3) error = %v, want ErrNotFound", err)
	}
	if got := c.List(); len(got) != 2 || got[0].Name != "service1" || got[1].Name != "service2" {
		t.Fatalf("List = %+v", got)
	}

	resp, err = c.Delete(ctx, "req-3", "service3")
	if !errors.Is(err, model.ErrNotFound) || resp.ResponseCode != CodeFailed ||
		resp.ResponseMessage != "Service 'service3' does not exist in datastore" {
		t.Fatalf("Delete(service3) = %+v, %v", resp, err)
	}

	resp, err = c.Delete(ctx, "req-1", "service1")
	if err != nil || resp.ResponseCode != CodeAccepted || resp.ResponseMessage != MsgDeleteAccepted {
		t.Fatalf("Delete(service1) = %+v, %v", resp, err)
	}
	deleted, err := c.Await(ctx, "service1", awaitTimeout)
	if err != nil || deleted.State != model.StateDeleted {
		t.Fatalf("Await deleted service1 = %+v, %v", deleted, err)
	}
	if got := c.List(); len(got) != 1 || got[0].Name != "service2" {
		t.Fatalf("List after delete = %+v", got)
	}
	p := sbi.Path{List: sbi.ListInterface, Key: "XPDR1-NETWORK1-1"}
	if _, err := lab.Sim.ReadConfig(ctx, "XPDRA01", p); !errors.Is(err, sbi.ErrNotFound) {
		t.Fatalf("XPDR1-NETWORK1-1 still on XPDRA01 (err=%v)", err)
	}

	again := mustCreate(t, c, serviceRequest("service3"))
	if again.State != model.StateInService || again.Path.Wavelength.Index != 1 {
		t.Fatalf("recreated service3 = %+v", again)
	}

	if got := metrics.op("create/ok"); got != 3 {
		t.Fatalf("create/ok = %d, want 3", got)
	}
	if got := metrics.op("create/failed"); got != 1 {
		t.Fatalf("create/failed = %d, want 1", got)
	}
	if got := metrics.op("delete/not_found"); got != 1 {
		t.Fatalf("delete/not_found = %d, want 1", got)
	}

	first, second := <-notes, <-notes
	if first.ServiceName != "service1" || first.State != model.StatePendingCreate || first.ID == "" {
		t.Fatalf("first notification = %+v", first)
	}
	if second.ServiceName != "service1" || second.State != model.StateInService {
		t.Fatalf("second notification = %+v", second)
	}
}

func TestConcurrentCreatesGetDistinctWavelengths(t *testing.T) {
	c, _ := newLabController(t)
	ctx := context.Background()

	for _, name := range []string{"alpha", "beta"} {
		if _, err := c.Create(ctx, serviceRequest(name)); err != nil {
			t.Fatalf("Create(%s): %v", name, err)
		}
	}
	seen := map[int]bool{}
	for _, name := range []string{"alpha", "beta"} {
		svc, err := c.Await(ctx, name, awaitTimeout)
		if err != nil || svc.State != model.StateInService {
			t.Fatalf("Await(%s) = %+v, %v", name, svc, err)
		}
		seen[svc.Path.Wavelength.Index] = true
	}
	if !seen[1] || !seen[2] {
		t.Fatalf("wavelengths = %v, want 1 and 2", seen)
	}
}

func TestCreateValidation(t *testing.T) {
	c := New(context.Background(), &scriptedPCE{}, &scriptedRenderer{})
	tests := []struct {
		name   string
		mutate func(*CreateRequest)
	}{
		{"no name", func(r *CreateRequest) { r.Name = "" }},
		{"no z end", func(r *CreateRequest) { r.ZEnd.NodeID = "" }},
		{"bad rate", func(r *CreateRequest) { r.AEnd.ServiceRate = "40" }},
		{"rate mismatch", func(r *CreateRequest) { r.ZEnd.ServiceRate = "10" }},
		{"connection type", func(r *CreateRequest) { r.ConnectionType = "infrastructure" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := serviceRequest("svc")
			tt.mutate(&req)
			resp, err := c.Create(context.Background(), req)
			if !errors.Is(err, model.ErrValidation) {
				t.Fatalf("error = %v, want ErrValidation", err)
			}
			if resp.ResponseCode != CodeFailed || resp.AckFinalIndicator != AckFinal {
				t.Fatalf("response = %+v", resp)
			}
		})
	}
	if got := c.State("svc"); got != model.StateNone {
		t.Fatalf("rejected service has state %s", got)
	}
}

//
// ---------- Scripted collaborators ----------
//

var scriptedResult = pce.Result{
	Hops: []model.Hop{
		{NodeID: "XPDRA01", SrcTP: "XPDR1-CLIENT1", DestTP: "XPDR1-NETWORK1"},
		{NodeID: "XPDRC01", SrcTP: "XPDR1-NETWORK1", DestTP: "XPDR1-CLIENT1"},
	},
	Wavelength: 1,
	Slot:       model.WavelengthSlot{Index: 1, Frequency: 196.1, Width: 40},
}

type scriptedPCE struct {
	err error
}

func (p *scriptedPCE) Compute(ctx context.Context, req pce.Request) (pce.Result, error) {
	if p.err != nil {
		return pce.Result{}, p.err
	}
	return scriptedResult, nil
}

type scriptedRenderer struct {
	mu    sync.Mutex
	calls []string
	// gate, when set, holds creates until it is closed or ctx ends.
	gate    chan struct{}
	started chan struct{}
}

func (r *scriptedRenderer) record(call string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, call)
}

func (r *scriptedRenderer) Calls() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.calls...)
}

func (r *scriptedRenderer) Create(ctx context.Context, req renderer.Request) error {
	r.record("create " + req.Owner)
	if r.started != nil {
		close(r.started)
	}
	if r.gate != nil {
		select {
		case <-r.gate:
		case <-ctx.Done():
			return fmt.Errorf("%w: %v", model.ErrDeviceCommunication, ctx.Err())
		}
	}
	return nil
}

func (r *scriptedRenderer) Delete(ctx context.Context, req renderer.Request) error {
	r.record("delete " + req.Owner)
	return nil
}

func TestDeleteWaitsForCreate(t *testing.T) {
	r := &scriptedRenderer{gate: make(chan struct{}), started: make(chan struct{})}
	c := New(context.Background(), &scriptedPCE{}, r)
	ctx := context.Background()

	if _, err := c.Create(ctx, serviceRequest("svc")); err != nil {
		t.Fatalf("Create: %v", err)
	}
	<-r.started
	resp, err := c.Delete(ctx, "", "svc")
	if err != nil || resp.ResponseCode != CodeAccepted {
		t.Fatalf("Delete during create = %+v, %v", resp, err)
	}
	if _, err := c.Delete(ctx, "", "svc"); err != nil {
		t.Fatalf("repeated Delete: %v", err)
	}
	if got := c.State("svc"); got != model.StatePendingCreate {
		t.Fatalf("state while create blocked = %s", got)
	}
	close(r.gate)

	svc, err := c.Await(ctx, "svc", awaitTimeout)
	if err != nil || svc.State != model.StateDeleted {
		t.Fatalf("Await = %+v, %v", svc, err)
	}
	calls := r.Calls()
	if len(calls) != 2 || calls[0] != "create svc" || calls[1] != "delete svc" {
		t.Fatalf("renderer calls = %v", calls)
	}
}

func TestShutdownFailsInFlightCreate(t *testing.T) {
	r := &scriptedRenderer{gate: make(chan struct{}), started: make(chan struct{})}
	c := New(context.Background(), &scriptedPCE{}, r)

	if _, err := c.Create(context.Background(), serviceRequest("svc")); err != nil {
		t.Fatalf("Create: %v", err)
	}
	<-r.started
	ctx, cancel := context.WithTimeout(context.Background(), awaitTimeout)
	defer cancel()
	if err := c.Shutdown(ctx); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
	if got := c.State("svc"); got != model.StateFailed {
		t.Fatalf("state after shutdown = %s, want FAILED", got)
	}
}

func TestDeleteFailedService(t *testing.T) {
	noPath := fmt.Errorf("%w: XPDRA01 and XPDRC01 are not connected", model.ErrNoPathFound)
	ctx := context.Background()

	strict := New(ctx, &scriptedPCE{err: noPath}, &scriptedRenderer{})
	if svc := mustCreate(t, strict, serviceRequest("svc")); svc.State != model.StateFailed {
		t.Fatalf("state = %s, want FAILED", svc.State)
	}
	if resp, err := strict.Delete(ctx, "", "svc"); !errors.Is(err, model.ErrNotFound) || resp.ResponseCode != CodeFailed {
		t.Fatalf("Delete(FAILED) = %+v, %v", resp, err)
	}

	r := &scriptedRenderer{}
	lenient := New(ctx, &scriptedPCE{err: noPath}, r, WithDeleteFailedIsNotFound(false))
	mustCreate(t, lenient, serviceRequest("svc"))
	if resp, err := lenient.Delete(ctx, "", "svc"); err != nil || resp.ResponseCode != CodeAccepted {
		t.Fatalf("Delete(FAILED) = %+v, %v", resp, err)
	}
	svc, err := lenient.Await(ctx, "svc", awaitTimeout)
	if err != nil || svc.State != model.StateDeleted {
		t.Fatalf("Await = %+v, %v", svc, err)
	}
	if calls := r.Calls(); len(calls) != 0 {
		t.Fatalf("renderer called for a service that never rendered: %v", calls)
	}
}

func TestFailedTeardownCanBeRetried(t *testing.T) {
	c, lab := newLabController(t)
	ctx := context.Background()
	inv := lab.State.Inventory()
	holds := func(want bool) {
		t.Helper()
		avail, err := inv.AvailableWavelengths("ROADMA01-SRG1")
		if err != nil {
			t.Fatalf("AvailableWavelengths: %v", err)
		}
		if free := len(avail) > 0 && avail[0] == 1; free == want {
			t.Fatalf("wavelength 1 held = %v, want %v (available %v)", !free, want, avail)
		}
	}

	if svc := mustCreate(t, c, serviceRequest("svc")); svc.State != model.StateInService {
		t.Fatalf("svc = %+v", svc)
	}
	lab.Sim.InjectFault(devsim.Fault{
		Node:  "ROADMA01",
		Op:    "delete",
		List:  sbi.ListRoadmConnections,
		Times: 1,
	})
	if resp, err := c.Delete(ctx, "req-1", "svc"); err != nil || resp.ResponseCode != CodeAccepted {
		t.Fatalf("Delete = %+v, %v", resp, err)
	}
	failed, err := c.Await(ctx, "svc", awaitTimeout)
	if err != nil || failed.State != model.StateFailed || failed.Path == nil ||
		!strings.Contains(failed.FailureReason, model.ErrDeviceCommunication.Error()) {
		t.Fatalf("Await after failed teardown = %+v, %v", failed, err)
	}
	holds(true)
	if got, err := c.Get("svc"); err != nil || got.State != model.StateFailed {
		t.Fatalf("Get(svc) = %+v, %v", got, err)
	}
	if got := c.List(); len(got) != 1 || got[0].Name != "svc" {
		t.Fatalf("List = %+v", got)
	}
	if _, err := c.Create(ctx, serviceRequest("svc")); !errors.Is(err, model.ErrAlreadyExists) {
		t.Fatalf("Create over a failed teardown error = %v, want ErrAlreadyExists", err)
	}

	if resp, err := c.Delete(ctx, "req-2", "svc"); err != nil || resp.ResponseCode != CodeAccepted {
		t.Fatalf("retried Delete = %+v, %v", resp, err)
	}
	deleted, err := c.Await(ctx, "svc", awaitTimeout)
	if err != nil || deleted.State != model.StateDeleted || deleted.Path != nil {
		t.Fatalf("Await after retried delete = %+v, %v", deleted, err)
	}
	holds(false)
	if err := inv.Audit(); err != nil {
		t.Fatalf("Audit: %v", err)
	}
	if _, err := c.Get("svc"); !errors.Is(err, model.ErrNotFound) {
		t.Fatalf("Get(svc) error = %v, want ErrNotFound", err)
	}
}

func TestCreateRejectedWhileDeleteQueued(t *testing.T) {
	noPath := fmt.Errorf("%w: XPDRA01 and XPDRC01 are not connected", model.ErrNoPathFound)
	ctx := context.Background()
	r := &scriptedRenderer{}
	c := New(ctx, &scriptedPCE{err: noPath}, r, WithDeleteFailedIsNotFound(false))
	notes, unsubscribe := c.Notifier().Subscribe(16)
	defer unsubscribe()

	if svc := mustCreate(t, c, serviceRequest("svc")); svc.State != model.StateFailed {
		t.Fatalf("state = %s, want FAILED", svc.State)
	}
	gate := make(chan struct{})
	c.mu.Lock()
	c.enqueueLocked("svc", func() { <-gate })
	c.mu.Unlock()

	if resp, err := c.Delete(ctx, "", "svc"); err != nil || resp.ResponseCode != CodeAccepted {
		t.Fatalf("Delete(FAILED) = %+v, %v", resp, err)
	}
	if resp, err := c.Create(ctx, serviceRequest("svc")); !errors.Is(err, model.ErrAlreadyExists) || resp.ResponseCode != CodeFailed {
		t.Fatalf("Create during queued delete = %+v, %v", resp, err)
	}
	close(gate)
	if svc, err := c.Await(ctx, "svc", awaitTimeout); err != nil || svc.State != model.StateDeleted {
		t.Fatalf("Await = %+v, %v", svc, err)
	}

	var states []model.ServiceState
	for len(notes) > 0 {
		states = append(states, (<-notes).State)
	}
	want := []model.ServiceState{model.StatePendingCreate, model.StateFailed, model.StatePendingDelete, model.StateDeleted}
	if fmt.Sprint(states) != fmt.Sprint(want) {
		t.Fatalf("notifications = %v, want %v", states, want)
	}
}

func TestAwaitTimesOut(t *testing.T) {
	r := &scriptedRenderer{gate: make(chan struct{}), started: make(chan struct{})}
	c := New(context.Background(), &scriptedPCE{}, r)
	defer close(r.gate)

	if _, err := c.Create(context.Background(), serviceRequest("svc")); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if _, err := c.Await(context.Background(), "svc", 20*time.Millisecond); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Await error = %v, want deadline exceeded", err)
	}
	if _, err := c.Await(context.Background(), "missing", time.Millisecond); !errors.Is(err, model.ErrNotFound) {
		t.Fatalf("Await(missing) error = %v, want ErrNotFound", err)
	}
}
