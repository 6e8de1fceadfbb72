package kb

import (
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/signalsfoundry/lightpath-controller/model"
)

func newTestInventory(t *testing.T) *Inventory {
	t.Helper()
	inv := NewInventory(model.NewGrid(8))
	nodes := []model.SubNode{
		{
			ID:   "ROADMA01-SRG1",
			Type: model.SubNodeSRG,
			TerminationPoints: []model.TerminationPoint{
				{ID: "SRG1-PP1-TXRX", Role: model.RoleSRGPP},
				{ID: "SRG1-PP2-TXRX", Role: model.RoleSRGPP},
				{ID: "SRG1-CP-TXRX", Role: model.RoleSRGCP},
			},
		},
		{
			ID:   "ROADMA01-DEG1",
			Type: model.SubNodeDegree,
			TerminationPoints: []model.TerminationPoint{
				{ID: "DEG1-TTP-TXRX", Role: model.RoleDegreeTTP},
				{ID: "DEG1-CTP-TXRX", Role: model.RoleDegreeCTP},
			},
		},
		{
			ID:   "XPDRA01-XPDR1",
			Type: model.SubNodeXponder,
			TerminationPoints: []model.TerminationPoint{
				{ID: "XPDR1-NETWORK1", Role: model.RoleXpdrNetwork},
				{ID: "XPDR1-CLIENT1", Role: model.RoleXpdrClient},
			},
		},
	}
	for _, n := range nodes {
		if err := inv.AddNode(n); err != nil {
			t.Fatalf("AddNode(%s): %v", n.ID, err)
		}
	}
	return inv
}

func addHop() []Claim {
	return []Claim{
		{Node: "ROADMA01-SRG1", TP: "SRG1-PP1-TXRX"},
		{Node: "ROADMA01-SRG1", TP: "SRG1-CP-TXRX"},
		{Node: "ROADMA01-DEG1", TP: "DEG1-CTP-TXRX"},
		{Node: "ROADMA01-DEG1", TP: "DEG1-TTP-TXRX"},
	}
}

func TestReserveUpdatesUsedAndAvailable(t *testing.T) {
	inv := newTestInventory(t)

	if err := inv.Reserve("svc1", 1, addHop()...); err != nil {
		t.Fatalf("Reserve: %v", err)
	}

	used, err := inv.Used("ROADMA01-DEG1", "DEG1-CTP-TXRX")
	if err != nil {
		t.Fatalf("Used: %v", err)
	}
	want := model.WavelengthSlot{Index: 1, Frequency: 196.1, Width: 40}
	if len(used) != 1 || used[0] != want {
		t.Fatalf("Used = %+v, want [%+v]", used, want)
	}

	avail, err := inv.AvailableWavelengths("ROADMA01-SRG1")
	if err != nil {
		t.Fatalf("AvailableWavelengths: %v", err)
	}
	if len(avail) != 7 || avail[0] != 2 {
		t.Fatalf("AvailableWavelengths = %v, want 2..8", avail)
	}
	if err := inv.Audit(); err != nil {
		t.Fatalf("Audit: %v", err)
	}
}

func TestReserveIsAllOrNothing(t *testing.T) {
	inv := newTestInventory(t)

	if err := inv.Reserve("svc1", 3, Claim{Node: "ROADMA01-DEG1", TP: "DEG1-TTP-TXRX"}); err != nil {
		t.Fatalf("Reserve: %v", err)
	}

	err := inv.Reserve("svc2", 3, addHop()...)
	if !errors.Is(err, model.ErrResourceConflict) {
		t.Fatalf("Reserve error = %v, want ErrResourceConflict", err)
	}

	for _, c := range addHop()[:3] {
		used, _ := inv.Used(c.Node, c.TP)
		if len(used) != 0 {
			t.Fatalf("%s should be untouched after rejected reservation, got %+v", c, used)
		}
	}
}

func TestSingleSlotTPRejectsSecondWavelength(t *testing.T) {
	inv := newTestInventory(t)
	pp := Claim{Node: "ROADMA01-SRG1", TP: "SRG1-PP1-TXRX"}

	if err := inv.Reserve("svc1", 1, pp); err != nil {
		t.Fatalf("Reserve: %v", err)
	}
	if err := inv.Reserve("svc2", 2, pp); !errors.Is(err, model.ErrResourceConflict) {
		t.Fatalf("second wavelength on PP error = %v, want ErrResourceConflict", err)
	}
	busy, err := inv.Busy(pp.Node, pp.TP)
	if err != nil || !busy {
		t.Fatalf("Busy = %v, %v; want true", busy, err)
	}

	ctp := Claim{Node: "ROADMA01-DEG1", TP: "DEG1-CTP-TXRX"}
	if err := inv.Reserve("svc1", 1, ctp); err != nil {
		t.Fatalf("Reserve ctp λ1: %v", err)
	}
	if err := inv.Reserve("svc2", 2, ctp); err != nil {
		t.Fatalf("multi-slot CTP should accept a second wavelength: %v", err)
	}
}

func TestClientTPCannotBeReserved(t *testing.T) {
	inv := newTestInventory(t)
	err := inv.Reserve("svc1", 1, Claim{Node: "XPDRA01-XPDR1", TP: "XPDR1-CLIENT1"})
	if !errors.Is(err, model.ErrValidation) {
		t.Fatalf("Reserve on client error = %v, want ErrValidation", err)
	}
}

func TestReserveValidatesInputs(t *testing.T) {
	inv := newTestInventory(t)
	if err := inv.Reserve("svc", 9, addHop()...); !errors.Is(err, model.ErrValidation) {
		t.Fatalf("off-grid error = %v, want ErrValidation", err)
	}
	if err := inv.Reserve("svc", 1, Claim{Node: "nope", TP: "x"}); !errors.Is(err, model.ErrNotFound) {
		t.Fatalf("unknown node error = %v, want ErrNotFound", err)
	}
	if err := inv.Reserve("svc", 1, Claim{Node: "ROADMA01-DEG1", TP: "x"}); !errors.Is(err, model.ErrNotFound) {
		t.Fatalf("unknown tp error = %v, want ErrNotFound", err)
	}
}

func TestReleaseRequiresReservation(t *testing.T) {
	inv := newTestInventory(t)

	if err := inv.Release("svc1", 1, addHop()...); !errors.Is(err, model.ErrInvariantViolation) {
		t.Fatalf("Release unreserved error = %v, want ErrInvariantViolation", err)
	}

	if err := inv.Reserve("svc1", 1, addHop()...); err != nil {
		t.Fatalf("Reserve: %v", err)
	}
	if err := inv.Release("other", 1, addHop()...); !errors.Is(err, model.ErrInvariantViolation) {
		t.Fatalf("Release by wrong owner error = %v, want ErrInvariantViolation", err)
	}
	if err := inv.Release("svc1", 1, addHop()...); err != nil {
		t.Fatalf("Release: %v", err)
	}
	avail, _ := inv.AvailableWavelengths("ROADMA01-DEG1")
	if len(avail) != 8 {
		t.Fatalf("AvailableWavelengths after release = %v, want full grid", avail)
	}
}

func TestReleaseOwnedIgnoresForeignAndMissing(t *testing.T) {
	inv := newTestInventory(t)
	if err := inv.Reserve("svc1", 4, Claim{Node: "ROADMA01-DEG1", TP: "DEG1-TTP-TXRX"}); err != nil {
		t.Fatalf("Reserve: %v", err)
	}
	claims := append(addHop(), Claim{Node: "gone", TP: "x"})
	if n := inv.ReleaseOwned("svc2", 4, claims...); n != 0 {
		t.Fatalf("ReleaseOwned foreign = %d, want 0", n)
	}
	if n := inv.ReleaseOwned("svc1", 4, claims...); n != 1 {
		t.Fatalf("ReleaseOwned = %d, want 1", n)
	}
}

func TestRemoveNodeRefusesWhileInUse(t *testing.T) {
	inv := newTestInventory(t)
	if err := inv.Reserve("svc1", 1, Claim{Node: "XPDRA01-XPDR1", TP: "XPDR1-NETWORK1"}); err != nil {
		t.Fatalf("Reserve: %v", err)
	}
	if err := inv.RemoveNode("XPDRA01-XPDR1"); !errors.Is(err, model.ErrResourceConflict) {
		t.Fatalf("RemoveNode error = %v, want ErrResourceConflict", err)
	}
	if err := inv.Release("svc1", 1, Claim{Node: "XPDRA01-XPDR1", TP: "XPDR1-NETWORK1"}); err != nil {
		t.Fatalf("Release: %v", err)
	}
	if err := inv.RemoveNode("XPDRA01-XPDR1"); err != nil {
		t.Fatalf("RemoveNode: %v", err)
	}
	if inv.HasNode("XPDRA01-XPDR1") {
		t.Fatalf("node still registered after RemoveNode")
	}
}

func TestSubscribersSeeReservations(t *testing.T) {
	inv := newTestInventory(t)
	var got []Event
	inv.Subscribe(func(ev Event) { got = append(got, ev) })

	if err := inv.Reserve("svc1", 2, addHop()...); err != nil {
		t.Fatalf("Reserve: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("events = %+v, want one per node", got)
	}
	if got[0].Node != "ROADMA01-DEG1" || got[0].Type != EventReserved || got[0].Used != 2 {
		t.Fatalf("unexpected first event %+v", got[0])
	}
}

func TestConcurrentReservationsNeverDoubleBook(t *testing.T) {
	inv := newTestInventory(t)
	pp := Claim{Node: "ROADMA01-SRG1", TP: "SRG1-PP1-TXRX"}

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		winners int
	)
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if err := inv.Reserve(fmt.Sprintf("svc%d", i), 1+i%8, pp); err == nil {
				mu.Lock()
				winners++
				mu.Unlock()
			}
		}(i)
	}
	wg.Wait()

	if winners != 1 {
		t.Fatalf("winners = %d, want exactly 1 on a single-slot TP", winners)
	}
	if err := inv.Audit(); err != nil {
		t.Fatalf("Audit: %v", err)
	}
}
